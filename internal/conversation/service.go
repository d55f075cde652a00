package conversation

import (
	"context"
	"log/slog"
	"strings"

	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/internal/memory"
	"github.com/Vini334/healthcost-copilot/pkg/logger"
)

const (
	// 默认的会话上下文 token 预算。
	defaultTokenBudget = 8000
	// 摘要在预算中的最大占比(百分之多少)。
	summaryBudgetPercent = 30
)

// MemoryContext 是为一次编排调用装配好的会话记忆:
// 最新摘要(裁剪到预算的 30% 以内)、摘要中的实体,
// 以及未被摘要覆盖、且在剩余预算内的最近消息。
type MemoryContext struct {
	Summary  string
	Entities map[string][]string
	Recent   []llm.Message
}

// Service 管理会话的读写边界:每次追加都落盘,
// 追加后检查是否需要滚动摘要。
type Service struct {
	store       Store
	counter     *memory.Counter
	summarizer  *memory.Summarizer
	tokenBudget int
	log         *slog.Logger
}

// ServiceOption 调整会话服务的行为。
type ServiceOption func(*Service)

// WithTokenBudget 覆盖默认的上下文 token 预算。
func WithTokenBudget(budget int) ServiceOption {
	return func(s *Service) {
		if budget > 0 {
			s.tokenBudget = budget
		}
	}
}

// NewService 创建会话服务。summarizer 可以为 nil,此时不做滚动摘要。
func NewService(store Store, counter *memory.Counter, summarizer *memory.Summarizer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话存储不能为空")
	}
	if counter == nil {
		counter = memory.NewCounter()
	}
	service := &Service{
		store:       store,
		counter:     counter,
		summarizer:  summarizer,
		tokenBudget: defaultTokenBudget,
		log:         logger.Named("conversation"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// GetOrCreate 返回指定会话;id 为空或不存在时创建一个新会话并立即落盘。
func (s *Service) GetOrCreate(ctx context.Context, id, clientID, contractID string) (*Conversation, error) {
	if strings.TrimSpace(id) != "" {
		conv, err := s.store.Load(ctx, id)
		if err == nil {
			return conv, nil
		}
		if xerrors.CodeOf(err) != xerrors.CodeNotFound {
			return nil, err
		}
	}

	if strings.TrimSpace(clientID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "客户 id 不能为空")
	}
	conv := New(clientID, contractID)
	if strings.TrimSpace(id) != "" {
		conv.ID = id
	}
	if err := s.store.Save(ctx, conv); err != nil {
		return nil, err
	}
	s.log.Info("会话已创建", slog.String("conversation_id", conv.ID), slog.String("client_id", clientID))
	return conv, nil
}

// Get 返回指定会话。
func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	return s.store.Load(ctx, id)
}

// ListByClient 返回某客户最近的会话。
func (s *Service) ListByClient(ctx context.Context, clientID string, limit int) ([]*Conversation, error) {
	return s.store.ListByClient(ctx, clientID, limit)
}

// Delete 删除一个会话。
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// AppendUserMessage 追加一条用户消息并落盘。
func (s *Service) AppendUserMessage(ctx context.Context, conv *Conversation, content string) error {
	if conv == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话为空")
	}
	conv.Append(Message{Role: "user", Content: content})
	return s.store.Save(ctx, conv)
}

// AppendAssistantMessage 追加一条助手消息并落盘,
// 随后检查是否需要滚动摘要。摘要失败只记日志,不影响消息写入。
func (s *Service) AppendAssistantMessage(ctx context.Context, conv *Conversation, content string, meta *ExecutionMeta) error {
	if conv == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话为空")
	}
	conv.Append(Message{Role: "assistant", Content: content, Meta: meta})
	if err := s.store.Save(ctx, conv); err != nil {
		return err
	}
	s.maybeSummarize(ctx, conv)
	return nil
}

// AssembleContext 为一次编排调用装配会话记忆。
func (s *Service) AssembleContext(conv *Conversation) MemoryContext {
	assembled := MemoryContext{}
	if conv == nil {
		return assembled
	}

	summaryTokens := 0
	if latest := conv.LatestSummary(); latest != nil {
		maxSummary := s.tokenBudget * summaryBudgetPercent / 100
		assembled.Summary = s.trimToTokens(latest.Text, maxSummary)
		assembled.Entities = latest.Entities
		summaryTokens = s.counter.Count(assembled.Summary)
	}

	unsummarized := conv.Messages[conv.SummarizedEnd():]
	if len(unsummarized) == 0 {
		return assembled
	}

	keepRecent := 5
	if s.summarizer != nil {
		keepRecent = s.summarizer.KeepRecent()
	}
	view := make([]memory.Message, 0, len(unsummarized))
	for _, msg := range unsummarized {
		view = append(view, memory.Message{Role: msg.Role, Content: msg.Content})
	}
	fitted := s.counter.TruncateToFit(view, s.tokenBudget, summaryTokens, keepRecent)

	assembled.Recent = make([]llm.Message, 0, len(fitted))
	for _, msg := range fitted {
		assembled.Recent = append(assembled.Recent, llm.Message{Role: msg.Role, Content: msg.Content})
	}
	return assembled
}

// maybeSummarize 在消息量或 token 量越过阈值时生成增量摘要并落盘。
func (s *Service) maybeSummarize(ctx context.Context, conv *Conversation) {
	if s.summarizer == nil {
		return
	}
	view := conv.MemoryView()
	prevEnd := conv.SummarizedEnd()
	if !s.summarizer.ShouldSummarize(view, prevEnd) {
		return
	}

	summary, err := s.summarizer.Summarize(ctx, view, prevEnd)
	if err != nil {
		s.log.Warn("会话摘要失败",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()))
		return
	}
	if summary == nil {
		return
	}
	conv.AddSummary(*summary)
	if err := s.store.Save(ctx, conv); err != nil {
		s.log.Warn("摘要落盘失败",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()))
		return
	}
	s.log.Info("会话已滚动摘要",
		slog.String("conversation_id", conv.ID),
		slog.Int("summary_end", summary.End),
		slog.Int("summary_tokens", summary.TokenCount))
}

// trimToTokens 把文本裁剪到不超过 maxTokens,按 rune 对半收缩。
func (s *Service) trimToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	for s.counter.Count(text) > maxTokens {
		runes := []rune(text)
		if len(runes) <= 1 {
			break
		}
		text = strings.TrimSpace(string(runes[:len(runes)/2]))
	}
	return text
}
