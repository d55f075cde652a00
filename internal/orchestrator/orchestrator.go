package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/agent"
	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/internal/trace"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

// Request 描述一次待编排的用户请求。
type Request struct {
	Query          string
	ClientID       string
	ContractID     string
	ConversationID string

	// 会话记忆,由会话服务装配后注入。
	History  []llm.Message
	Summary  string
	Entities map[string][]string
}

// Answer 是编排的最终产物。
type Answer struct {
	ExecutionID string                       `json:"execution_id"`
	Response    string                       `json:"response"`
	Intent      Intent                       `json:"intent"`
	Confidence  float64                      `json:"confidence"`
	Mode        Mode                         `json:"mode"`
	Executors   []agent.Kind                 `json:"executors"`
	Results     map[agent.Kind]*trace.Result `json:"results"`
	Sources     []trace.Source               `json:"sources,omitempty"`
	TokensUsed  int                          `json:"tokens_used"`
	Duration    time.Duration                `json:"duration"`
}

// Orchestrator 负责意图识别、执行器调度与结果汇总。
type Orchestrator struct {
	llmClient  llm.Client
	executor   *agent.Executor
	classifier *IntentClassifier
	contexts   *agent.Store
	tracker    *trace.Tracker
	maxHistory int
}

// Option 定义编排器的可选配置。
type Option func(*Orchestrator)

// WithTracker 注入执行追踪器。
func WithTracker(tracker *trace.Tracker) Option {
	return func(o *Orchestrator) {
		o.tracker = tracker
	}
}

// WithContextStore 注入上下文管理器。
func WithContextStore(store *agent.Store) Option {
	return func(o *Orchestrator) {
		o.contexts = store
	}
}

// WithMaxHistory 覆盖执行上下文的消息数上限。
func WithMaxHistory(size int) Option {
	return func(o *Orchestrator) {
		if size > 0 {
			o.maxHistory = size
		}
	}
}

// WithConfidenceThreshold 覆盖意图分类的升级阈值。
func WithConfidenceThreshold(threshold float64) Option {
	return func(o *Orchestrator) {
		o.classifier = NewIntentClassifier(o.llmClient, threshold)
	}
}

// New 创建编排器。
func New(llmClient llm.Client, executor *agent.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llmClient:  llmClient,
		executor:   executor,
		classifier: NewIntentClassifier(llmClient, 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.contexts == nil {
		o.contexts = agent.NewStore(0)
	}
	if o.tracker == nil {
		o.tracker = trace.NewTracker(0)
	}
	return o
}

// Process 编排一次请求:分类、决策、执行与汇总。
// 分类与单个执行器的失败都被降级吸收,只有汇总层自身出错才返回 error。
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Answer, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "pergunta vazia")
	}
	started := time.Now()

	var ctxOpts []agent.ContextOption
	if o.maxHistory > 0 {
		ctxOpts = append(ctxOpts, agent.WithMaxHistory(o.maxHistory))
	}
	ac := agent.NewContext(req.Query, req.ClientID, req.ContractID, ctxOpts...)
	ac.ConversationID = req.ConversationID
	o.contexts.Put(ac)
	defer o.contexts.Release(ac.ExecutionID)

	o.injectMemory(ac, req)

	log := logger.ForExecution("orchestrator", ac.ExecutionID)

	classification := o.classifier.Classify(ctx, req.Query)
	decision := Decide(classification)
	log.Info("决策完成",
		"intent", string(decision.Intent),
		"confidence", decision.Confidence,
		"mode", string(decision.Mode),
		"executors", len(decision.Executors))

	results := o.execute(ctx, decision, ac)
	for _, kind := range decision.Executors {
		o.tracker.Register(results[kind])
	}

	response, err := o.consolidate(ctx, req.Query, decision, results)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		ExecutionID: ac.ExecutionID,
		Response:    response,
		Intent:      decision.Intent,
		Confidence:  decision.Confidence,
		Mode:        decision.Mode,
		Executors:   decision.Executors,
		Results:     results,
		Sources:     mergeSources(decision, results),
		Duration:    time.Since(started),
	}
	for _, result := range results {
		answer.TokensUsed += result.TokensUsed
	}

	log.Info("编排完成",
		"duration", answer.Duration,
		"tokens", answer.TokensUsed,
		"sources", len(answer.Sources))
	return answer, nil
}

// injectMemory 把会话记忆写入执行上下文:摘要与关键实体拼进
// 元数据,近期消息按原顺序回放。
func (o *Orchestrator) injectMemory(ac *agent.Context, req Request) {
	if req.Summary != "" {
		block := "Resumo da conversa até aqui:\n" + req.Summary
		if len(req.Entities) > 0 {
			if encoded, err := json.Marshal(req.Entities); err == nil {
				block += "\nEntidades mencionadas: " + string(encoded)
			}
		}
		ac.SetMemoryBlock(block)
	}
	for _, msg := range req.History {
		ac.AddMessage(msg)
	}
}

// execute 按决策的模式调度执行器,保证每个被请求的执行器
// 恰好对应一个结果。
func (o *Orchestrator) execute(ctx context.Context, decision Decision, ac *agent.Context) map[agent.Kind]*trace.Result {
	switch decision.Mode {
	case ModeDirect:
		return o.runDirect(ctx, decision, ac)
	case ModeParallel:
		return o.runParallel(ctx, decision.Executors, ac)
	case ModeMixed:
		return o.runMixed(ctx, decision, ac)
	default:
		return o.runSequential(ctx, decision.Executors, ac)
	}
}

// runDirect 单执行器直通,上下文按引用传递。
func (o *Orchestrator) runDirect(ctx context.Context, decision Decision, ac *agent.Context) map[agent.Kind]*trace.Result {
	kind := decision.Executors[0]
	result := o.executor.Execute(ctx, kind, ac)
	o.absorb(ac, kind, result)
	return map[agent.Kind]*trace.Result{kind: result}
}

// runParallel 为每个执行器克隆独立上下文并发执行。
// 单个失败只影响它自己的结果。
func (o *Orchestrator) runParallel(ctx context.Context, kinds []agent.Kind, ac *agent.Context) map[agent.Kind]*trace.Result {
	results := make(map[agent.Kind]*trace.Result, len(kinds))
	clones := make(map[agent.Kind]*agent.Context, len(kinds))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, kind := range kinds {
		clone := ac.Clone()
		clones[kind] = clone
		wg.Add(1)
		go func(kind agent.Kind, clone *agent.Context) {
			defer wg.Done()
			result := o.executor.Execute(ctx, kind, clone)
			mu.Lock()
			results[kind] = result
			mu.Unlock()
		}(kind, clone)
	}
	wg.Wait()

	// 汇聚阶段:按声明顺序把克隆中的产出合并回主上下文。
	for _, kind := range kinds {
		if result := results[kind]; result.Succeeded() {
			ac.MergeFrom(clones[kind])
			o.absorb(ac, kind, result)
		}
	}
	return results
}

// runSequential 按优先级串行执行,成功者的产出向后传递,
// 失败被记录后链条在失败前的上下文上继续。
func (o *Orchestrator) runSequential(ctx context.Context, kinds []agent.Kind, ac *agent.Context) map[agent.Kind]*trace.Result {
	results := make(map[agent.Kind]*trace.Result, len(kinds))
	for _, kind := range kinds {
		snapshot := ac.Clone()
		result := o.executor.Execute(ctx, kind, snapshot)
		results[kind] = result
		if result.Succeeded() {
			ac.MergeFrom(snapshot)
			o.absorb(ac, kind, result)
		} else {
			logger.ForExecution("orchestrator", ac.ExecutionID).Warn("执行器失败,链条继续",
				"kind", string(kind), "error", result.Error)
		}
	}
	return results
}

// runMixed 先并行运行数据收集执行器,再把其余执行器按优先级串行。
// 收集集合由决策显式声明。
func (o *Orchestrator) runMixed(ctx context.Context, decision Decision, ac *agent.Context) map[agent.Kind]*trace.Result {
	gather := make(map[agent.Kind]bool, len(decision.GatherSet))
	for _, kind := range decision.GatherSet {
		gather[kind] = true
	}

	var gatherKinds, analysisKinds []agent.Kind
	for _, kind := range decision.Priority {
		if gather[kind] {
			gatherKinds = append(gatherKinds, kind)
		} else {
			analysisKinds = append(analysisKinds, kind)
		}
	}

	results := o.runParallel(ctx, gatherKinds, ac)
	for kind, result := range o.runSequential(ctx, analysisKinds, ac) {
		results[kind] = result
	}
	return results
}

// absorb 把成功结果的文本产出沉淀到共享上下文。
func (o *Orchestrator) absorb(ac *agent.Context, kind agent.Kind, result *trace.Result) {
	if !result.Succeeded() {
		return
	}
	ac.Analysis[string(kind)] = result.Response
	if kind == agent.KindCostInsights {
		ac.CostData["analysis"] = result.Response
	}
	o.contexts.SetShared(ac.ExecutionID, fmt.Sprintf("result:%s", kind), result.Response)
}
