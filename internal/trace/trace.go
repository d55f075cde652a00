package trace

import (
	"time"

	"github.com/Vini334/healthcost-copilot/internal/tool"
)

// Action 标记一个执行步骤的类别。
type Action string

const (
	ActionThink    Action = "think"
	ActionToolCall Action = "tool_call"
	ActionRespond  Action = "respond"
)

// Status 表示一次执行的生命周期状态。离开 running 后即为终态。
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Step 是执行轨迹中的一个步骤,追加后不可变。
type Step struct {
	Number      int           `json:"number"`
	Action      Action        `json:"action"`
	Description string        `json:"description"`
	ToolCall    *tool.Call    `json:"tool_call,omitempty"`
	ToolResult  *tool.Result  `json:"tool_result,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Source 描述回答引用的一份证据来源。
type Source struct {
	DocumentID    string  `json:"document_id"`
	Page          int     `json:"page_number"`
	SectionTitle  string  `json:"section_title"`
	SectionNumber string  `json:"section_number"`
	Score         float64 `json:"score"`
}

// Result 汇总一次执行器运行的完整结果。
type Result struct {
	ExecutionID  string         `json:"execution_id"`
	Executor     string         `json:"executor"`
	Kind         string         `json:"kind"`
	Status       Status         `json:"status"`
	Response     string         `json:"response"`
	Structured   map[string]any `json:"structured,omitempty"`
	Error        string         `json:"error,omitempty"`
	Steps        []Step         `json:"steps"`
	Sources      []Source       `json:"sources,omitempty"`
	TokensUsed   int            `json:"tokens_used"`
	ToolCalls    int            `json:"tool_calls"`
	Duration     time.Duration  `json:"duration"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// Succeeded 报告执行是否成功结束。迭代预算耗尽导致的降级回复
// 仍算成功,失败仅指执行器自身抛错。
func (r *Result) Succeeded() bool {
	return r != nil && r.Status == StatusCompleted
}
