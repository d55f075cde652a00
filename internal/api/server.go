package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/auth"
	"github.com/Vini334/healthcost-copilot/internal/conversation"
	"github.com/Vini334/healthcost-copilot/internal/copilot"
	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
	"github.com/Vini334/healthcost-copilot/internal/job"
	"github.com/Vini334/healthcost-copilot/internal/observability/metrics"
)

// Server 负责暴露 REST 接口,同步问答与异步任务共用同一流水线。
type Server struct {
	addr          string
	copilot       *copilot.Service
	jobs          *job.Service
	conversations *conversation.Service
	authn         *auth.Service
}

// ServerOption 定义服务器的可选配置。
type ServerOption func(*Server)

// WithAuth 启用 API Key 认证中间件。
func WithAuth(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.authn = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, copilotSvc *copilot.Service, jobs *job.Service, conversations *conversation.Service, opts ...ServerOption) *Server {
	s := &Server{
		addr:          addr,
		copilot:       copilotSvc,
		jobs:          jobs,
		conversations: conversations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动 HTTP 服务,直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 装配全部路由,认证中间件按作用域保护各端点。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/v1/chat", s.protect("chat", "chat", s.instrument("chat", s.handleChat)))
	mux.Handle("/api/v1/jobs", s.protectJobs(s.instrument("jobs", s.handleJobs)))
	mux.Handle("/api/v1/jobs/", s.protect("jobs", "jobs:read", s.instrument("jobs", s.handleJobByID)))
	mux.Handle("/api/v1/conversations", s.protect("conversations", "conversations", s.instrument("conversations", s.handleConversations)))
	mux.Handle("/api/v1/conversations/", s.protect("conversations", "conversations", s.instrument("conversations", s.handleConversationByID)))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

func (s *Server) protect(event, scope string, next http.Handler) http.Handler {
	if s.authn == nil {
		return next
	}
	middleware := s.authn.Middleware(auth.MiddlewareConfig{
		AuditEvent:     event,
		RequiredScopes: map[string][]string{"*": {scope}},
	})
	return middleware(next)
}

func (s *Server) protectJobs(next http.Handler) http.Handler {
	if s.authn == nil {
		return next
	}
	middleware := s.authn.Middleware(auth.MiddlewareConfig{
		AuditEvent: "jobs",
		RequiredScopes: map[string][]string{
			http.MethodGet:  {"jobs:read"},
			http.MethodPost: {"jobs:write"},
		},
	})
	return middleware(next)
}

// instrument 记录每个端点的请求量与时延。
func (s *Server) instrument(handler string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(start))
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "método não suportado")
		return
	}
	if s.copilot == nil {
		writeError(w, http.StatusServiceUnavailable, "serviço de chat indisponível")
		return
	}

	var req copilot.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	applySubject(r, &req.ClientID)

	resp, err := s.copilot.Chat(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "método não suportado")
	}
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "serviço de tarefas indisponível")
		return
	}

	var req job.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "corpo da requisição inválido")
		return
	}
	applySubject(r, &req.ClientID)

	submitted, err := s.jobs.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "serviço de tarefas indisponível")
		return
	}

	jobs, err := s.jobs.List(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "método não suportado")
		return
	}
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "serviço de tarefas indisponível")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if id == "stats" {
		stats, err := s.jobs.Stats(r.Context(), listOptionsFromQuery(r)...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "tarefa não encontrada")
		return
	}

	found, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "método não suportado")
		return
	}
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "serviço de conversas indisponível")
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if subject := auth.SubjectFromContext(r.Context()); subject != nil && subject.ClientID != "" {
		clientID = subject.ClientID
	}
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "client_id obrigatório")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	conversations, err := s.conversations.ListByClient(r.Context(), clientID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, "serviço de conversas indisponível")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/conversations/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "conversa não encontrada")
		return
	}

	switch r.Method {
	case http.MethodGet:
		conv, err := s.conversations.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case http.MethodDelete:
		if err := s.conversations.Delete(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "método não suportado")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// applySubject 让认证主体绑定的客户覆盖请求体中的 client_id。
func applySubject(r *http.Request, clientID *string) {
	if subject := auth.SubjectFromContext(r.Context()); subject != nil && subject.ClientID != "" {
		*clientID = subject.ClientID
	}
}

func listOptionsFromQuery(r *http.Request) []job.ListOption {
	query := r.URL.Query()
	var opts []job.ListOption

	if raw := query.Get("status"); raw != "" {
		parts := strings.Split(raw, ",")
		statuses := make([]job.Status, 0, len(parts))
		for _, part := range parts {
			statuses = append(statuses, job.Status(strings.TrimSpace(part)))
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if clientID := query.Get("client_id"); clientID != "" {
		opts = append(opts, job.WithClient(clientID))
	}
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, job.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			opts = append(opts, job.WithOffset(parsed))
		}
	}
	if raw := query.Get("has_result"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			opts = append(opts, job.WithResultPresence(parsed))
		}
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, job.WithQuery(q))
	}
	return opts
}

// writeServiceError 把领域错误翻译为 HTTP 状态码。
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, job.ErrJobConflict):
		status = http.StatusConflict
	default:
		switch xerrors.CodeOf(err) {
		case xerrors.CodeInvalidArgument, job.CodeJobValidation:
			status = http.StatusBadRequest
		case xerrors.CodeNotFound:
			status = http.StatusNotFound
		}
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusRecorder 捕获响应状态码用于指标上报。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "serviço encerrando")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
