package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/evidence"
	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/internal/tool"
	"github.com/Vini334/healthcost-copilot/internal/trace"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

// DegradedResponse 是迭代预算耗尽时返回给用户的降级回复。
// 预算耗尽是受控降级,不作为错误上报。
const DegradedResponse = "Desculpe, não consegui completar a análise no tempo esperado. " +
	"Por favor, tente reformular sua pergunta ou dividi-la em partes menores."

// 注入系统提示词的证据与成本数据的数量上限。
const (
	maxPromptChunks  = 5
	maxChunkExcerpt  = 800
	defaultIteration = 10
)

// Executor 以 think/act 循环驱动一类执行器完成任务。
// 同一个 Executor 可以并发服务多次执行。
type Executor struct {
	llmClient  llm.Client
	registry   *tool.Registry
	iterations map[Kind]int
}

// ExecutorOption 定义执行器的可选配置。
type ExecutorOption func(*Executor)

// WithIterationOverrides 按执行器类型覆盖迭代上限。
func WithIterationOverrides(overrides map[Kind]int) ExecutorOption {
	return func(e *Executor) {
		for kind, limit := range overrides {
			if limit > 0 {
				e.iterations[kind] = limit
			}
		}
	}
}

// NewExecutor 创建执行器。
func NewExecutor(llmClient llm.Client, registry *tool.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		llmClient:  llmClient,
		registry:   registry,
		iterations: make(map[Kind]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Execute 以指定类型运行一次 think/act 循环。
// 返回的 Result 总是非空:执行器自身的失败折叠为 StatusFailed。
func (e *Executor) Execute(ctx context.Context, kind Kind, ac *Context) *trace.Result {
	runID := fmt.Sprintf("%s:%s", ac.ExecutionID, kind)
	capability, err := CapabilityOf(kind)
	recorder := trace.NewRecorder(runID, string(kind), string(kind))
	if err != nil {
		return recorder.Finalize(trace.StatusFailed, "", nil,
			xerrors.Wrap(xerrors.CodeInvalidArgument, err, "执行器类型无效"))
	}
	if e.llmClient == nil {
		return recorder.Finalize(trace.StatusFailed, "", nil,
			xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端"))
	}

	log := logger.ForExecution("executor", runID)
	log.Info("执行开始", "kind", string(kind), "query", ac.Query)

	// 检索执行器默认不经过模型,直接做一次混合检索。
	if kind == KindRetrieval && ac.DirectSearch() {
		if result, ok := e.directSearch(ctx, recorder, ac, log); ok {
			return result
		}
	}

	messages := e.buildMessages(capability, ac)
	maxIterations := e.iterations[kind]
	if maxIterations <= 0 {
		maxIterations = capability.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = defaultIteration
	}

	specs := e.registry.Specs(capability.Tools)

	for iteration := 1; iteration <= maxIterations; iteration++ {
		response, err := e.think(ctx, recorder, capability, messages, specs, iteration)
		if err != nil {
			if stdErrors.Is(err, context.DeadlineExceeded) {
				err = xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
			} else {
				err = xerrors.Wrap(xerrors.CodeLLMFailure, err, "大模型推理失败")
			}
			log.Warn("执行失败", "iteration", iteration, "error", err)
			return recorder.Finalize(trace.StatusFailed, "", nil, err)
		}
		recorder.AddTokens(response.Usage.TotalTokens)

		if len(response.ToolCalls) == 0 {
			handle := recorder.BeginStep("gerando resposta final", trace.ActionRespond)
			recorder.EndStep(handle)
			e.harvestSources(recorder, ac)
			log.Info("执行完成", "iterations", iteration)
			return recorder.Finalize(trace.StatusCompleted, response.Content, nil, nil)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		messages = append(messages, e.act(ctx, recorder, ac, response.ToolCalls)...)
	}

	// 迭代预算耗尽:返回降级回复,仍视为执行完成。
	log.Warn("迭代预算耗尽", "max_iterations", maxIterations)
	e.harvestSources(recorder, ac)
	return recorder.Finalize(trace.StatusCompleted, DegradedResponse, nil, nil)
}

// directSearch 以用户问题为入参执行一次直接混合检索。
// 工具缺失或检索失败时返回 ok=false,回退到模型引导的循环。
func (e *Executor) directSearch(ctx context.Context, recorder *trace.Recorder, ac *Context, log *slog.Logger) (*trace.Result, bool) {
	call := tool.Call{
		ID:        uuid.NewString(),
		Name:      evidence.ToolSearchHybrid,
		Arguments: map[string]any{"query": ac.Query},
	}
	result := e.registry.Invoke(ctx, call)
	recorder.LogToolCall(call, result)
	if !result.Succeeded() {
		log.Info("busca direta indisponível, usando o ciclo guiado", "error", result.Error)
		return nil, false
	}

	e.harvestChunks(ac, result)
	chunks, _ := result.Payload.([]evidence.Chunk)
	e.harvestSources(recorder, ac)

	structured := map[string]any{
		"query":       ac.Query,
		"chunk_count": len(chunks),
	}
	log.Info("执行完成", "mode", "direct_search", "chunks", len(chunks))
	return recorder.Finalize(trace.StatusCompleted, retrievalSummary(ac.Query, chunks), structured, nil), true
}

// retrievalSummary 生成直接检索结果的文字摘要,列出去重后的主要来源。
func retrievalSummary(query string, chunks []evidence.Chunk) string {
	if len(chunks) == 0 {
		return fmt.Sprintf("Nenhum resultado encontrado para: %q", query)
	}
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Encontrados %d trechos relevantes para: %q\n", len(chunks), query))
	seen := make(map[string]struct{})
	for i, chunk := range chunks {
		if i >= maxPromptChunks {
			break
		}
		key := chunk.DocumentID + "|" + chunk.SectionTitle
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		builder.WriteString(fmt.Sprintf("- Página %d", chunk.Page))
		if chunk.SectionTitle != "" {
			builder.WriteString(", seção " + chunk.SectionTitle)
		}
		builder.WriteString("\n")
	}
	return builder.String()
}

// think 执行一轮模型推理。
func (e *Executor) think(ctx context.Context, recorder *trace.Recorder, capability Capability,
	messages []llm.Message, specs []llm.ToolSpec, iteration int) (*llm.Response, error) {

	handle := recorder.BeginStep(fmt.Sprintf("iteração %d de raciocínio", iteration), trace.ActionThink)
	defer recorder.EndStep(handle)

	return e.llmClient.Complete(ctx, llm.Request{
		Messages:    messages,
		Tools:       specs,
		Temperature: capability.Temperature,
		MaxTokens:   capability.MaxTokens,
	})
}

// act 执行模型请求的全部工具调用,并把回执转换为 tool 消息。
func (e *Executor) act(ctx context.Context, recorder *trace.Recorder, ac *Context, requested []llm.ToolCall) []llm.Message {
	calls := make([]tool.Call, 0, len(requested))
	for _, request := range requested {
		args := make(map[string]any)
		if trimmed := strings.TrimSpace(request.Arguments); trimmed != "" {
			// 参数解析失败交给注册表的校验环节报告。
			_ = json.Unmarshal([]byte(trimmed), &args)
		}
		id := request.ID
		if id == "" {
			id = uuid.NewString()
		}
		calls = append(calls, tool.Call{ID: id, Name: request.Name, Arguments: args})
	}

	results := e.registry.InvokeAll(ctx, calls)

	replies := make([]llm.Message, 0, len(results))
	for i, result := range results {
		recorder.LogToolCall(calls[i], result)
		e.harvestChunks(ac, result)

		var content string
		if result.Succeeded() {
			encoded, err := json.Marshal(result.Payload)
			if err != nil {
				content = fmt.Sprintf("erro ao serializar resultado: %v", err)
			} else {
				content = string(encoded)
			}
		} else {
			content = fmt.Sprintf("erro: %s", result.Error)
		}
		replies = append(replies, llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: result.CallID,
			Name:       result.Name,
		})
	}
	return replies
}

// harvestChunks 把检索类工具返回的切片沉淀到上下文。
func (e *Executor) harvestChunks(ac *Context, result tool.Result) {
	if !result.Succeeded() {
		return
	}
	if chunks, ok := result.Payload.([]evidence.Chunk); ok {
		ac.AddChunks(chunks)
	}
}

// harvestSources 把上下文中的证据登记为回答来源。
func (e *Executor) harvestSources(recorder *trace.Recorder, ac *Context) {
	for _, chunk := range ac.Chunks {
		recorder.AddSource(trace.Source{
			DocumentID:    chunk.DocumentID,
			Page:          chunk.Page,
			SectionTitle:  chunk.SectionTitle,
			SectionNumber: chunk.SectionNumber,
			Score:         chunk.Score(),
		})
	}
}

// buildMessages 装配一轮执行的初始消息:系统提示词、会话历史与当前问题。
// 无工具的执行器依赖上下文注入的证据与成本数据。
func (e *Executor) buildMessages(capability Capability, ac *Context) []llm.Message {
	prompt := capability.SystemPrompt
	if block := ac.MemoryBlock(); block != "" {
		prompt += "\n\n" + block
	}
	if len(capability.Tools) == 0 {
		if block := evidenceBlock(ac.Chunks); block != "" {
			prompt += "\n\n" + block
		}
	}
	if capability.Kind == KindNegotiationAdvisor && len(ac.CostData) > 0 {
		if encoded, err := json.Marshal(ac.CostData); err == nil {
			prompt += "\n\nDados de custo do contrato:\n" + string(encoded)
		}
	}
	if len(ac.Analysis) > 0 && capability.Kind == KindNegotiationAdvisor {
		var builder strings.Builder
		builder.WriteString("\n\nAnálises anteriores:\n")
		for source, analysis := range ac.Analysis {
			builder.WriteString(fmt.Sprintf("[%s] %s\n", source, analysis))
		}
		prompt += builder.String()
	}

	messages := make([]llm.Message, 0, len(ac.Messages)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt})
	for _, msg := range ac.Messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		messages = append(messages, msg)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: ac.Query})
	return messages
}

// evidenceBlock 把检索到的证据裁剪后渲染为提示词片段。
func evidenceBlock(chunks []evidence.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("Trechos dos documentos do contrato:\n")
	for i, chunk := range chunks {
		if i >= maxPromptChunks {
			break
		}
		excerpt := chunk.Content
		if len([]rune(excerpt)) > maxChunkExcerpt {
			excerpt = string([]rune(excerpt)[:maxChunkExcerpt]) + "..."
		}
		builder.WriteString(fmt.Sprintf("[%d] (doc %s, seção %s, p. %d) %s\n",
			i+1, chunk.DocumentID, chunk.SectionTitle, chunk.Page, excerpt))
	}
	return builder.String()
}
