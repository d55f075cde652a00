package llm

import "context"

// 消息角色,与 Chat Completions 协议保持一致。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// FinishReason 描述模型在一次补全中停止输出的原因。
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
)

// Message 是对话中的一条消息,工具回执通过 ToolCallID 关联。
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolCall 描述模型请求执行的一次工具调用,参数为原始 JSON。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec 以 JSON Schema 的形式向模型声明一个可用工具。
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request 描述发送给大模型的一次补全请求。
type Request struct {
	Messages    []Message
	Tools       []ToolSpec
	Temperature float64
	MaxTokens   int
}

// Usage 记录一次补全消耗的 token 数。
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response 是大模型推理得到的输出。Content 与 ToolCalls 至多一个非空。
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
