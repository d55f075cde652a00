package conversation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Vini334/healthcost-copilot/internal/llm"
	"github.com/Vini334/healthcost-copilot/internal/memory"
)

// summaryLLM devolve sempre o mesmo resumo estruturado.
type summaryLLM struct {
	calls int
	fail  bool
}

func (s *summaryLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	if s.fail {
		return nil, fmt.Errorf("llm indisponível")
	}
	content := `{"summary":"Discussão sobre carências e reajustes do contrato.","entities":{"topicos":["carência","reajuste"]}}`
	return &llm.Response{Content: content, FinishReason: llm.FinishStop}, nil
}

func newTestService(t *testing.T, client llm.Client) (*Service, *MemoryStore) {
	t.Helper()
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counter := memory.NewCounter()
	var summarizer *memory.Summarizer
	if client != nil {
		summarizer = memory.NewSummarizer(client, counter,
			memory.WithThresholds(6, 100000), memory.WithKeepRecent(2))
	}
	service, err := NewService(store, counter, summarizer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return service, store
}

func TestGetOrCreate(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	conv, err := service.GetOrCreate(ctx, "", "cliente-1", "CT-100")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if conv.ID == "" || conv.Status != StatusActive {
		t.Fatalf("conversation not initialized: %+v", conv)
	}

	same, err := service.GetOrCreate(ctx, conv.ID, "cliente-1", "CT-100")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if same.ID != conv.ID {
		t.Fatalf("expected existing conversation, got %s", same.ID)
	}

	// id desconhecido com cliente informado cria uma conversa nova com esse id.
	fresh, err := service.GetOrCreate(ctx, "conv-fixa", "cliente-2", "")
	if err != nil {
		t.Fatalf("create with explicit id failed: %v", err)
	}
	if fresh.ID != "conv-fixa" {
		t.Fatalf("explicit id ignored: %s", fresh.ID)
	}
}

func TestAppendPersistsEveryMessage(t *testing.T) {
	service, store := newTestService(t, nil)
	ctx := context.Background()

	conv, _ := service.GetOrCreate(ctx, "", "cliente-1", "")
	if err := service.AppendUserMessage(ctx, conv, "Qual o reajuste previsto?"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := service.AppendAssistantMessage(ctx, conv, "O reajuste previsto é de 12%.", &ExecutionMeta{Intent: "contract_query"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	persisted, err := store.Load(ctx, conv.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(persisted.Messages) != 2 {
		t.Fatalf("every append must be saved, got %d messages", len(persisted.Messages))
	}
	if persisted.Title == "" {
		t.Fatalf("title must come from the first user message")
	}
	if persisted.Messages[1].Meta == nil || persisted.Messages[1].Meta.Intent != "contract_query" {
		t.Fatalf("assistant metadata lost: %+v", persisted.Messages[1].Meta)
	}
}

func TestAutoSummarizeAfterThreshold(t *testing.T) {
	client := &summaryLLM{}
	service, store := newTestService(t, client)
	ctx := context.Background()

	conv, _ := service.GetOrCreate(ctx, "", "cliente-1", "")
	for i := 0; i < 3; i++ {
		if err := service.AppendUserMessage(ctx, conv, fmt.Sprintf("pergunta %d", i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if err := service.AppendAssistantMessage(ctx, conv, fmt.Sprintf("resposta %d", i), nil); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	// 6 mensagens com limiar 6 e keepRecent 2: resumo cobre [0,4).
	if client.calls != 1 {
		t.Fatalf("expected one summarization call, got %d", client.calls)
	}
	if conv.SummarizedEnd() != 4 {
		t.Fatalf("expected summarized end 4, got %d", conv.SummarizedEnd())
	}

	persisted, _ := store.Load(ctx, conv.ID)
	if len(persisted.Summaries) != 1 {
		t.Fatalf("summary must be persisted, got %d", len(persisted.Summaries))
	}
	if len(persisted.Summaries[0].Entities["topicos"]) != 2 {
		t.Fatalf("entities lost on persist: %+v", persisted.Summaries[0].Entities)
	}
}

func TestSummarizeFailureDoesNotBlockAppend(t *testing.T) {
	client := &summaryLLM{fail: true}
	service, _ := newTestService(t, client)
	ctx := context.Background()

	conv, _ := service.GetOrCreate(ctx, "", "cliente-1", "")
	for i := 0; i < 3; i++ {
		service.AppendUserMessage(ctx, conv, fmt.Sprintf("pergunta %d", i))
		if err := service.AppendAssistantMessage(ctx, conv, fmt.Sprintf("resposta %d", i), nil); err != nil {
			t.Fatalf("summarizer failure must not block the append: %v", err)
		}
	}
	if len(conv.Summaries) != 0 {
		t.Fatalf("failed summarization must leave no summary")
	}
}

func TestAssembleContext(t *testing.T) {
	service, _ := newTestService(t, &summaryLLM{})

	conv := New("cliente-1", "")
	for i := 0; i < 6; i++ {
		conv.Append(Message{Role: "user", Content: fmt.Sprintf("mensagem %d", i)})
	}
	conv.AddSummary(memory.Summary{
		Start:    0,
		End:      4,
		Text:     "Resumo: cliente negociando reajuste do contrato CT-100.",
		Entities: map[string][]string{"contratos": {"CT-100"}},
	})

	assembled := service.AssembleContext(conv)
	if !strings.Contains(assembled.Summary, "CT-100") {
		t.Fatalf("summary text missing: %q", assembled.Summary)
	}
	if len(assembled.Entities["contratos"]) != 1 {
		t.Fatalf("entities missing: %+v", assembled.Entities)
	}
	if len(assembled.Recent) != 2 {
		t.Fatalf("recent must hold the unsummarized tail, got %d", len(assembled.Recent))
	}
	if assembled.Recent[0].Content != "mensagem 4" {
		t.Fatalf("recent window misaligned: %q", assembled.Recent[0].Content)
	}
}

func TestAssembleContextCapsSummaryBudget(t *testing.T) {
	store, _ := NewMemoryStore("")
	counter := memory.NewCounter()
	service, err := NewService(store, counter, nil, WithTokenBudget(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conv := New("cliente-1", "")
	conv.AddSummary(memory.Summary{
		Start: 0,
		End:   2,
		Text:  strings.Repeat("resumo muito longo ", 100),
	})
	conv.Append(Message{Role: "user", Content: "pergunta"})
	conv.Append(Message{Role: "user", Content: "pergunta"})
	conv.Summaries[0].End = 0 // força o resumo sem consumir mensagens

	assembled := service.AssembleContext(conv)
	if assembled.Summary == "" {
		t.Fatalf("summary must be trimmed, not dropped")
	}
	if got := counter.Count(assembled.Summary); got > 30 {
		t.Fatalf("summary exceeds 30%% of the budget: %d tokens", got)
	}
}
