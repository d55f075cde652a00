package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

const defaultInvokeTimeout = 30 * time.Second

// Registry 维护工具名到定义的映射,供执行器在推理循环中调用。
// 注册与调用可以并发进行。
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]Definition
	defaultTimeout time.Duration
}

// Option 定义注册表的可选配置。
type Option func(*Registry)

// WithDefaultTimeout 覆盖未单独配置超时的工具的默认超时。
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(r *Registry) {
		if timeout > 0 {
			r.defaultTimeout = timeout
		}
	}
}

// NewRegistry 创建空的工具注册表。
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:          make(map[string]Definition),
		defaultTimeout: defaultInvokeTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 注册一个工具。重名时新定义覆盖旧定义并记录告警,不返回错误。
func (r *Registry) Register(def Definition) {
	name := strings.TrimSpace(def.Name)
	if name == "" || def.Handler == nil {
		logger.Named("tool").Warn("忽略无效的工具定义", "name", def.Name)
		return
	}
	def.Name = name

	r.mu.Lock()
	_, replaced := r.tools[name]
	r.tools[name] = def
	r.mu.Unlock()

	if replaced {
		logger.Named("tool").Warn("工具被重复注册,旧定义已被覆盖", "name", name)
	}
}

// Lookup 返回指定名称的工具定义。
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names 返回全部工具名,按字典序排序。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs 返回给定工具集合的模型侧声明。未注册的名称被跳过。
func (r *Registry) Specs(names []string) []llm.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, name := range names {
		if def, ok := r.tools[name]; ok {
			specs = append(specs, def.Spec())
		}
	}
	return specs
}

// Invoke 执行一次工具调用。任何失败都折叠进 Result,不向调用方抛出
// error 或 panic;超时单独标记为 StatusTimeout。
func (r *Registry) Invoke(ctx context.Context, call Call) Result {
	started := time.Now()

	def, ok := r.Lookup(call.Name)
	if !ok {
		return Result{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  StatusError,
			Error:   fmt.Sprintf("工具 %q 未注册", call.Name),
			Latency: time.Since(started),
		}
	}

	if msg := validateArguments(def, call.Arguments); msg != "" {
		logger.Named("tool").Warn("工具参数校验失败",
			"tool", call.Name, "call_id", call.ID, "reason", msg)
		return Result{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  StatusError,
			Error:   msg,
			Latency: time.Since(started),
		}
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err, timedOut := r.run(callCtx, def, withDefaults(def, call.Arguments))
	latency := time.Since(started)

	switch {
	case timedOut:
		logger.Named("tool").Warn("工具执行超时",
			"tool", call.Name, "call_id", call.ID, "latency", latency)
		return Result{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  StatusTimeout,
			Error:   fmt.Sprintf("工具 %q 在 %s 内未完成", call.Name, timeout),
			Latency: latency,
		}
	case err != nil:
		logger.Named("tool").Warn("工具执行失败",
			"tool", call.Name, "call_id", call.ID, "error", err)
		return Result{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  StatusError,
			Error:   err.Error(),
			Latency: latency,
		}
	default:
		return Result{
			CallID:  call.ID,
			Name:    call.Name,
			Status:  StatusSuccess,
			Payload: payload,
			Latency: latency,
		}
	}
}

type runOutcome struct {
	payload any
	err     error
}

// run 在捕获 panic 的前提下执行工具体。工具即使忽略 ctx,
// 超时后调用方也会立即拿到结果,残留的 goroutine 随 cancel 退出。
func (r *Registry) run(ctx context.Context, def Definition, args map[string]any) (any, error, bool) {
	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- runOutcome{err: fmt.Errorf("工具 %q 发生 panic: %v", def.Name, rec)}
			}
		}()
		payload, err := def.Handler(ctx, args)
		done <- runOutcome{payload: payload, err: err}
	}()

	select {
	case outcome := <-done:
		if ctx.Err() == context.DeadlineExceeded && outcome.err != nil {
			return nil, outcome.err, true
		}
		return outcome.payload, outcome.err, false
	case <-ctx.Done():
		return nil, ctx.Err(), ctx.Err() == context.DeadlineExceeded
	}
}

// InvokeAll 并发执行多次调用,结果顺序与入参顺序一致。
func (r *Registry) InvokeAll(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for idx, call := range calls {
		wg.Add(1)
		go func(idx int, call Call) {
			defer wg.Done()
			results[idx] = r.Invoke(ctx, call)
		}(idx, call)
	}
	wg.Wait()
	return results
}

// validateArguments 校验必填参数与未知参数。返回空串表示通过。
func validateArguments(def Definition, args map[string]any) string {
	known := make(map[string]struct{}, len(def.Parameters))
	for _, param := range def.Parameters {
		known[param.Name] = struct{}{}
		if !param.Required {
			continue
		}
		if _, ok := args[param.Name]; !ok {
			return fmt.Sprintf("缺少必填参数 %q", param.Name)
		}
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			return fmt.Sprintf("收到未声明的参数 %q", name)
		}
	}
	return ""
}

// withDefaults 为缺省的可选参数补齐默认值,不修改原始入参。
func withDefaults(def Definition, args map[string]any) map[string]any {
	merged := make(map[string]any, len(args))
	for k, v := range args {
		merged[k] = v
	}
	for _, param := range def.Parameters {
		if param.Default == nil {
			continue
		}
		if _, ok := merged[param.Name]; !ok {
			merged[param.Name] = param.Default
		}
	}
	return merged
}
