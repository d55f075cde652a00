// Package copilot 把会话记忆与编排器装配成完整的问答流水线,
// 同步接口与异步任务共用同一条执行路径。
package copilot

import (
	"context"
	"strings"

	"github.com/Vini334/healthcost-copilot/internal/conversation"
	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/job"
	"github.com/Vini334/healthcost-copilot/internal/orchestrator"
)

// ChatRequest 描述一次同步问答请求。
type ChatRequest struct {
	Query          string `json:"query"`
	ClientID       string `json:"client_id"`
	ContractID     string `json:"contract_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse 返回问答结果与其所属会话。
type ChatResponse struct {
	ConversationID string               `json:"conversation_id"`
	Answer         *orchestrator.Answer `json:"answer"`
}

// Service 驱动一次完整的问答:装配记忆、编排执行、回写会话。
type Service struct {
	conversations *conversation.Service
	orchestrator  *orchestrator.Orchestrator
}

// NewService 创建问答流水线。
func NewService(conversations *conversation.Service, orch *orchestrator.Orchestrator) (*Service, error) {
	if conversations == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "serviço de conversas obrigatório")
	}
	if orch == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "orquestrador obrigatório")
	}
	return &Service{conversations: conversations, orchestrator: orch}, nil
}

// Chat 处理一次问答。记忆在追加当前问题之前装配,
// 当前问题经由编排请求单独传递。
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "pergunta vazia")
	}

	conv, err := s.conversations.GetOrCreate(ctx, req.ConversationID, req.ClientID, req.ContractID)
	if err != nil {
		return nil, err
	}

	mem := s.conversations.AssembleContext(conv)
	if err := s.conversations.AppendUserMessage(ctx, conv, req.Query); err != nil {
		return nil, err
	}

	answer, err := s.orchestrator.Process(ctx, orchestrator.Request{
		Query:          req.Query,
		ClientID:       conv.ClientID,
		ContractID:     conv.ContractID,
		ConversationID: conv.ID,
		History:        mem.Recent,
		Summary:        mem.Summary,
		Entities:       mem.Entities,
	})
	if err != nil {
		return nil, err
	}

	meta := &conversation.ExecutionMeta{
		ExecutionID: answer.ExecutionID,
		Intent:      string(answer.Intent),
		Executors:   kindsToStrings(answer),
		Sources:     answer.Sources,
		TokensUsed:  answer.TokensUsed,
		LatencyMS:   answer.Duration.Milliseconds(),
	}
	if err := s.conversations.AppendAssistantMessage(ctx, conv, answer.Response, meta); err != nil {
		return nil, err
	}

	return &ChatResponse{ConversationID: conv.ID, Answer: answer}, nil
}

// Execute 实现 job.Executor,让异步任务走同一条问答路径。
func (s *Service) Execute(ctx context.Context, j *job.Job) (*job.Result, error) {
	resp, err := s.Chat(ctx, ChatRequest{
		Query:          j.Query,
		ClientID:       j.ClientID,
		ContractID:     j.ContractID,
		ConversationID: j.ConversationID,
	})
	if err != nil {
		return nil, err
	}
	answer := resp.Answer
	return &job.Result{
		Response:   answer.Response,
		Intent:     string(answer.Intent),
		Confidence: answer.Confidence,
		Executors:  kindsToStrings(answer),
		Sources:    answer.Sources,
		TokensUsed: answer.TokensUsed,
		LatencyMS:  answer.Duration.Milliseconds(),
	}, nil
}

func kindsToStrings(answer *orchestrator.Answer) []string {
	if len(answer.Executors) == 0 {
		return nil
	}
	kinds := make([]string, 0, len(answer.Executors))
	for _, kind := range answer.Executors {
		kinds = append(kinds, string(kind))
	}
	return kinds
}

var _ job.Executor = (*Service)(nil)
