package tool

import (
	"context"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/llm"
)

// Status 表示一次工具调用的终态。
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Parameter 描述工具的一个入参。
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
}

// Func 是工具的执行体。返回值必须可被 JSON 序列化。
type Func func(ctx context.Context, args map[string]any) (any, error)

// Definition 描述一个已注册的工具。Name 在注册表内唯一。
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
	Timeout     time.Duration
	Handler     Func
}

// Call 表示模型发起的一次工具调用请求。
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Result 是一次工具调用的不可变结果。Latency 总是被填充。
type Result struct {
	CallID  string
	Name    string
	Status  Status
	Payload any
	Error   string
	Latency time.Duration
}

// Succeeded 报告调用是否成功。
func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Spec 把工具定义转换为模型侧的 JSON Schema 声明。
func (d Definition) Spec() llm.ToolSpec {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0, len(d.Parameters))
	for _, param := range d.Parameters {
		prop := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return llm.ToolSpec{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  schema,
	}
}
