package conversation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vini334/healthcost-copilot/internal/memory"
	"github.com/Vini334/healthcost-copilot/internal/trace"
)

// Status 表示会话的生命周期状态。
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// 会话标题由首条用户消息生成,超长时截断。
const maxTitleLength = 50

// ExecutionMeta 记录一条助手消息背后的编排信息。
type ExecutionMeta struct {
	ExecutionID string         `json:"execution_id,omitempty"`
	Intent      string         `json:"intent,omitempty"`
	Executors   []string       `json:"executors,omitempty"`
	Sources     []trace.Source `json:"sources,omitempty"`
	TokensUsed  int            `json:"tokens_used,omitempty"`
	LatencyMS   int64          `json:"latency_ms,omitempty"`
}

// Message 是会话中的一条消息。
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      *ExecutionMeta `json:"meta,omitempty"`
}

// Conversation 是一个用户与 copilot 的完整会话聚合。
// Summaries 只追加,区间单调推进。
type Conversation struct {
	ID         string           `json:"id"`
	ClientID   string           `json:"client_id"`
	ContractID string           `json:"contract_id"`
	Title      string           `json:"title"`
	Status     Status           `json:"status"`
	Messages   []Message        `json:"messages"`
	Summaries  []memory.Summary `json:"summaries,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// New 创建一个空会话。
func New(clientID, contractID string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		ContractID: contractID,
		Status:     StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Append 追加一条消息。首条用户消息同时生成标题。
func (c *Conversation) Append(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if c.Title == "" && msg.Role == "user" {
		c.Title = makeTitle(msg.Content)
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
}

// SummarizedEnd 返回已被摘要覆盖的消息数。
func (c *Conversation) SummarizedEnd() int {
	if len(c.Summaries) == 0 {
		return 0
	}
	return c.Summaries[len(c.Summaries)-1].End
}

// LatestSummary 返回最新的摘要,没有时为 nil。
func (c *Conversation) LatestSummary() *memory.Summary {
	if len(c.Summaries) == 0 {
		return nil
	}
	return &c.Summaries[len(c.Summaries)-1]
}

// AddSummary 追加一个摘要。区间倒退的摘要被忽略。
func (c *Conversation) AddSummary(summary memory.Summary) {
	if summary.End <= c.SummarizedEnd() {
		return
	}
	c.Summaries = append(c.Summaries, summary)
	c.UpdatedAt = time.Now()
}

// MemoryView 把会话消息转换为记忆层的最小视图。
func (c *Conversation) MemoryView() []memory.Message {
	view := make([]memory.Message, 0, len(c.Messages))
	for _, msg := range c.Messages {
		view = append(view, memory.Message{Role: msg.Role, Content: msg.Content})
	}
	return view
}

// Search 在会话消息中做大小写不敏感的子串检索。
func (c *Conversation) Search(term string) []Message {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}
	var matched []Message
	for _, msg := range c.Messages {
		if strings.Contains(strings.ToLower(msg.Content), term) {
			matched = append(matched, msg)
		}
	}
	return matched
}

func makeTitle(content string) string {
	title := strings.TrimSpace(content)
	runes := []rune(title)
	if len(runes) > maxTitleLength {
		title = strings.TrimSpace(string(runes[:maxTitleLength])) + "..."
	}
	return title
}
