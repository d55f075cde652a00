package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

// 摘要触发阈值的默认值。两个条件满足其一即触发。
const (
	defaultMessageThreshold = 20
	defaultTokenThreshold   = 6000
	defaultKeepRecent       = 5
)

// Summary 覆盖对话的一段区间 [Start, End),区间彼此不重叠且单调推进。
type Summary struct {
	Start      int                 `json:"start"`
	End        int                 `json:"end"`
	Text       string              `json:"text"`
	Entities   map[string][]string `json:"entities,omitempty"`
	TokenCount int                 `json:"token_count"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Summarizer 增量压缩对话历史。摘要永不覆盖最近 keepRecent 条消息。
type Summarizer struct {
	llmClient        llm.Client
	counter          *Counter
	messageThreshold int
	tokenThreshold   int
	keepRecent       int
}

// SummarizerOption 定义摘要器的可选配置。
type SummarizerOption func(*Summarizer)

// WithThresholds 覆盖触发阈值。
func WithThresholds(messages, tokens int) SummarizerOption {
	return func(s *Summarizer) {
		if messages > 0 {
			s.messageThreshold = messages
		}
		if tokens > 0 {
			s.tokenThreshold = tokens
		}
	}
}

// WithKeepRecent 覆盖摘要永不触碰的尾部消息数。
func WithKeepRecent(keep int) SummarizerOption {
	return func(s *Summarizer) {
		if keep > 0 {
			s.keepRecent = keep
		}
	}
}

// NewSummarizer 创建摘要器。
func NewSummarizer(llmClient llm.Client, counter *Counter, opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		llmClient:        llmClient,
		counter:          counter,
		messageThreshold: defaultMessageThreshold,
		tokenThreshold:   defaultTokenThreshold,
		keepRecent:       defaultKeepRecent,
	}
	if s.counter == nil {
		s.counter = NewCounter()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// KeepRecent 返回摘要不触碰的尾部消息数。
func (s *Summarizer) KeepRecent() int {
	return s.keepRecent
}

// ShouldSummarize 判断是否需要对 prevEnd 之后的消息做摘要。
func (s *Summarizer) ShouldSummarize(messages []Message, prevEnd int) bool {
	if prevEnd < 0 {
		prevEnd = 0
	}
	if prevEnd >= len(messages) {
		return false
	}
	unsummarized := messages[prevEnd:]
	if len(unsummarized) >= s.messageThreshold {
		return true
	}
	return s.counter.CountConversation(unsummarized) >= s.tokenThreshold
}

// Summarize 压缩区间 [prevEnd, len(messages)-keepRecent)。
// 区间为空时返回 nil 摘要。
func (s *Summarizer) Summarize(ctx context.Context, messages []Message, prevEnd int) (*Summary, error) {
	if prevEnd < 0 {
		prevEnd = 0
	}
	end := len(messages) - s.keepRecent
	if end <= prevEnd {
		return nil, nil
	}
	window := messages[prevEnd:end]

	text, entities, err := s.compress(ctx, renderTranscript(window))
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Start:      prevEnd,
		End:        end,
		Text:       text,
		Entities:   entities,
		TokenCount: s.counter.Count(text),
		CreatedAt:  time.Now(),
	}
	logger.Named("memory").Info("摘要生成",
		"start", summary.Start, "end", summary.End, "tokens", summary.TokenCount)
	return summary, nil
}

// Consolidate 把多个摘要合并为一个覆盖更大区间的摘要。
// 各实体列表按键拼接,合并文本由模型重新压缩。
func (s *Summarizer) Consolidate(ctx context.Context, summaries []Summary) (*Summary, error) {
	if len(summaries) == 0 {
		return nil, nil
	}
	if len(summaries) == 1 {
		copied := summaries[0]
		return &copied, nil
	}

	var builder strings.Builder
	entities := make(map[string][]string)
	for i, summary := range summaries {
		fmt.Fprintf(&builder, "Resumo %d (mensagens %d-%d):\n%s\n\n", i+1, summary.Start, summary.End, summary.Text)
		for key, values := range summary.Entities {
			entities[key] = append(entities[key], values...)
		}
	}

	text, extracted, err := s.compress(ctx, builder.String())
	if err != nil {
		return nil, err
	}
	for key, values := range extracted {
		entities[key] = append(entities[key], values...)
	}

	return &Summary{
		Start:      summaries[0].Start,
		End:        summaries[len(summaries)-1].End,
		Text:       text,
		Entities:   entities,
		TokenCount: s.counter.Count(text),
		CreatedAt:  time.Now(),
	}, nil
}

// compress 调用模型压缩文本并抽取实体。输出无法解析为 JSON 时
// 退化为纯文本摘要,不视作失败。
func (s *Summarizer) compress(ctx context.Context, transcript string) (string, map[string][]string, error) {
	response, err := s.llmClient.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summarizePrompt},
			{Role: llm.RoleUser, Content: transcript},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "摘要生成失败")
	}

	var parsed struct {
		Summary  string              `json:"summary"`
		Entities map[string][]string `json:"entities"`
	}
	content := strings.TrimSpace(response.Content)
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || parsed.Summary == "" {
		return content, nil, nil
	}
	return parsed.Summary, parsed.Entities, nil
}

func renderTranscript(messages []Message) string {
	var builder strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&builder, "[%s] %s\n", msg.Role, msg.Content)
	}
	return builder.String()
}

const summarizePrompt = "Você resume conversas entre um gestor de RH e um copiloto " +
	"de planos de saúde corporativos. Resuma a conversa abaixo preservando números, " +
	"cláusulas, prazos e decisões. Responda com um JSON compacto no formato " +
	`{"summary": string, "entities": {"contratos": [], "valores": [], "prazos": [], "topicos": []}}.`
