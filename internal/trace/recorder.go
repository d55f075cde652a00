package trace

import (
	"sync"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/tool"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

// Recorder 为单次执行累积步骤轨迹。一个 Recorder 只服务一次执行,
// 但允许并发记录(并行工具调用会同时写入)。
type Recorder struct {
	mu       sync.Mutex
	result   Result
	nextStep int
}

// StepHandle 表示一个已开始、尚未结束的步骤。
type StepHandle struct {
	recorder  *Recorder
	step      Step
	startedAt time.Time
	closed    bool
}

// NewRecorder 创建执行记录器并把状态置为 running。
func NewRecorder(executionID, executor, kind string) *Recorder {
	return &Recorder{
		result: Result{
			ExecutionID: executionID,
			Executor:    executor,
			Kind:        kind,
			Status:      StatusRunning,
			StartedAt:   time.Now(),
		},
		nextStep: 1,
	}
}

// BeginStep 开始一个步骤并返回句柄。调用方应 defer EndStep。
func (r *Recorder) BeginStep(description string, action Action) *StepHandle {
	r.mu.Lock()
	number := r.nextStep
	r.nextStep++
	r.mu.Unlock()

	logger.ForExecution("trace", r.result.ExecutionID).Debug("步骤开始",
		"step", number, "action", string(action), "description", description)

	return &StepHandle{
		recorder: r,
		step: Step{
			Number:      number,
			Action:      action,
			Description: description,
			StartedAt:   time.Now(),
		},
		startedAt: time.Now(),
	}
}

// EndStep 结束步骤并把它追加到轨迹。重复调用是空操作,
// 因此可以安全地放进 defer。
func (r *Recorder) EndStep(handle *StepHandle) {
	if handle == nil || handle.closed {
		return
	}
	handle.closed = true
	handle.step.Duration = time.Since(handle.startedAt)

	r.mu.Lock()
	r.result.Steps = append(r.result.Steps, handle.step)
	r.mu.Unlock()

	logger.ForExecution("trace", r.result.ExecutionID).Debug("步骤结束",
		"step", handle.step.Number, "duration", handle.step.Duration)
}

// AttachToolCall 把工具调用挂到进行中的步骤上。
func (h *StepHandle) AttachToolCall(call tool.Call) {
	if h == nil || h.closed {
		return
	}
	h.step.ToolCall = &call
}

// AttachToolResult 把工具结果挂到进行中的步骤上。
func (h *StepHandle) AttachToolResult(result tool.Result) {
	if h == nil || h.closed {
		return
	}
	h.step.ToolResult = &result
}

// LogToolCall 记录一次完整的工具调用及其结果。
func (r *Recorder) LogToolCall(call tool.Call, result tool.Result) {
	handle := r.BeginStep("tool "+call.Name, ActionToolCall)
	handle.AttachToolCall(call)
	handle.AttachToolResult(result)
	handle.step.Duration = result.Latency
	handle.closed = true

	r.mu.Lock()
	r.result.Steps = append(r.result.Steps, handle.step)
	r.result.ToolCalls++
	r.mu.Unlock()

	logger.ForExecution("trace", r.result.ExecutionID).Info("工具调用完成",
		"tool", call.Name, "call_id", call.ID,
		"status", string(result.Status), "latency", result.Latency)
}

// AddSource 追加一份证据来源。
func (r *Recorder) AddSource(source Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.Sources = append(r.result.Sources, source)
}

// AddTokens 累加本次执行消耗的 token 数。
func (r *Recorder) AddTokens(tokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result.TokensUsed += tokens
}

// Finalize 结束执行并返回不可再变的结果快照。
func (r *Recorder) Finalize(status Status, response string, structured map[string]any, err error) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.result.Status = status
	r.result.Response = response
	r.result.Structured = structured
	if err != nil {
		r.result.Error = err.Error()
	}
	r.result.CompletedAt = time.Now()
	r.result.Duration = r.result.CompletedAt.Sub(r.result.StartedAt)

	snapshot := r.result
	snapshot.Steps = append([]Step(nil), r.result.Steps...)
	snapshot.Sources = append([]Source(nil), r.result.Sources...)

	logger.ForExecution("trace", r.result.ExecutionID).Info("执行结束",
		"executor", r.result.Executor, "status", string(status),
		"steps", len(snapshot.Steps), "tool_calls", snapshot.ToolCalls,
		"duration", snapshot.Duration)

	return &snapshot
}
