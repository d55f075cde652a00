package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Vini334/healthcost-copilot/internal/agent"
	"github.com/Vini334/healthcost-copilot/internal/auth"
	"github.com/Vini334/healthcost-copilot/internal/conversation"
	"github.com/Vini334/healthcost-copilot/internal/copilot"
	"github.com/Vini334/healthcost-copilot/internal/job"
	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/internal/orchestrator"
	"github.com/Vini334/healthcost-copilot/internal/tool"
	"github.com/Vini334/healthcost-copilot/internal/trace"
)

type cannedLLM struct{}

func (cannedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	system := req.Messages[0].Content
	if strings.Contains(system, "analista de custos") {
		return &llm.Response{Content: "Os custos subiram 8% no período.", FinishReason: llm.FinishStop}, nil
	}
	return &llm.Response{Content: "resposta padrão", FinishReason: llm.FinishStop}, nil
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()

	client := cannedLLM{}
	executor := agent.NewExecutor(client, tool.NewRegistry())
	orch := orchestrator.New(client, executor, orchestrator.WithTracker(trace.NewTracker(10)))

	store, err := conversation.NewMemoryStore(t.TempDir())
	if err != nil {
		t.Fatalf("create store failed: %v", err)
	}
	conversations, err := conversation.NewService(store, nil, nil)
	if err != nil {
		t.Fatalf("create conversation service failed: %v", err)
	}
	copilotSvc, err := copilot.NewService(conversations, orch)
	if err != nil {
		t.Fatalf("create copilot service failed: %v", err)
	}

	jobStore := job.NewMemoryStore()
	queue := job.NewMemoryQueue(16)
	t.Cleanup(func() { _ = queue.Close() })
	jobs := job.NewService(jobStore, queue, 3)

	return NewServer(":0", copilotSvc, jobs, conversations, opts...)
}

func TestChatEndpoint(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	body := strings.NewReader(`{"query":"Quanto custou o plano no último trimestre?","client_id":"cliente-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}
	var resp copilot.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConversationID == "" || resp.Answer == nil || resp.Answer.Response == "" {
		t.Fatalf("incomplete chat response: %+v", resp)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/conversations?client_id=cliente-1", nil)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list conversations failed: %d", listRec.Code)
	}
	var convs []*conversation.Conversation
	if err := json.Unmarshal(listRec.Body.Bytes(), &convs); err != nil {
		t.Fatalf("decode conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != resp.ConversationID {
		t.Fatalf("unexpected conversation list: %+v", convs)
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/api/v1/conversations/"+resp.ConversationID, nil)
	deleteRec := httptest.NewRecorder()
	handler.ServeHTTP(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("delete conversation failed: %d", deleteRec.Code)
	}
}

func TestChatRejectsInvalidBody(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("não é json"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestJobLifecycleEndpoints(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	body := strings.NewReader(`{"query":"Analise os custos do contrato","client_id":"cliente-2","contract_id":"contrato-9","conversation_id":"conversa-1"}`)
	submitReq := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body)
	submitRec := httptest.NewRecorder()
	handler.ServeHTTP(submitRec, submitReq)

	if submitRec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: %d body %s", submitRec.Code, submitRec.Body.String())
	}
	var submitted job.Job
	if err := json.Unmarshal(submitRec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if submitted.ID == "" || submitted.Status != job.StatusPending {
		t.Fatalf("unexpected job: %+v", submitted)
	}
	if submitted.ClientID != "cliente-2" || submitted.ContractID != "contrato-9" || submitted.ConversationID != "conversa-1" {
		t.Fatalf("request fields lost on decode: %+v", submitted)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+submitted.ID, nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get job failed: %d", getRec.Code)
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?client_id=cliente-2&status=pending", nil)
	listRec := httptest.NewRecorder()
	handler.ServeHTTP(listRec, listReq)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list jobs failed: %d", listRec.Code)
	}
	var jobs []*job.Job
	if err := json.Unmarshal(listRec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("decode jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != submitted.ID {
		t.Fatalf("unexpected job list: %+v", jobs)
	}

	statsReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/stats", nil)
	statsRec := httptest.NewRecorder()
	handler.ServeHTTP(statsRec, statsReq)
	if statsRec.Code != http.StatusOK {
		t.Fatalf("stats failed: %d", statsRec.Code)
	}
	var stats job.Stats
	if err := json.Unmarshal(statsRec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestJobNotFound(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/inexistente", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuthProtectsEndpoints(t *testing.T) {
	keyStore, err := auth.NewMemoryStore([]auth.Seed{{
		Key:      "chave-portal",
		Name:     "portal",
		ClientID: "cliente-9",
		Scopes:   []string{"chat", "jobs:read", "jobs:write", "conversations"},
	}})
	if err != nil {
		t.Fatalf("create key store failed: %v", err)
	}
	authn, err := auth.NewService(context.Background(), auth.Config{Mode: auth.ModeAPIKey}, keyStore)
	if err != nil {
		t.Fatalf("create auth service failed: %v", err)
	}

	server := newTestServer(t, WithAuth(authn))
	handler := server.Handler()

	anon := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"query":"Quanto custou?"}`))
	anonRec := httptest.NewRecorder()
	handler.ServeHTTP(anonRec, anon)
	if anonRec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", anonRec.Code)
	}

	authed := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"query":"Quanto custou?","client_id":"outro"}`))
	authed.Header.Set("Authorization", "Bearer chave-portal")
	authedRec := httptest.NewRecorder()
	handler.ServeHTTP(authedRec, authed)
	if authedRec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d body %s", authedRec.Code, authedRec.Body.String())
	}

	conv := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	conv.Header.Set("Authorization", "Bearer chave-portal")
	convRec := httptest.NewRecorder()
	handler.ServeHTTP(convRec, conv)
	if convRec.Code != http.StatusOK {
		t.Fatalf("list with subject client failed: %d", convRec.Code)
	}
	var convs []*conversation.Conversation
	if err := json.Unmarshal(convRec.Body.Bytes(), &convs); err != nil {
		t.Fatalf("decode conversations: %v", err)
	}
	// O cliente vinculado à chave substitui o informado no corpo.
	if len(convs) != 1 || convs[0].ClientID != "cliente-9" {
		t.Fatalf("subject client not applied: %+v", convs)
	}
}
