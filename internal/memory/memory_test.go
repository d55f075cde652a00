package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Vini334/healthcost-copilot/internal/llm"
)

func TestCountEstimation(t *testing.T) {
	counter := NewCounter()

	if got := counter.Count(""); got != 0 {
		t.Fatalf("empty text must count 0, got %d", got)
	}
	if got := counter.Count("abc"); got != 1 {
		t.Fatalf("short text must count at least 1, got %d", got)
	}
	// 35 caracteres / 3.5 = 10 tokens.
	if got := counter.Count(strings.Repeat("a", 35)); got != 10 {
		t.Fatalf("expected 10 tokens, got %d", got)
	}
}

func TestCountConversationOverhead(t *testing.T) {
	counter := NewCounter()
	messages := []Message{
		{Role: "user", Content: strings.Repeat("a", 35)},
		{Role: "assistant", Content: strings.Repeat("b", 70)},
	}
	// 10+4 + 20+4 + 3 de overhead da conversa.
	if got := counter.CountConversation(messages); got != 41 {
		t.Fatalf("expected 41 tokens, got %d", got)
	}
}

type fixedEncoder struct{}

func (fixedEncoder) CountTokens(text string) int { return 7 }

func TestCounterWithEncoder(t *testing.T) {
	counter := NewCounter(WithEncoder(fixedEncoder{}))
	if got := counter.Count("qualquer texto"); got != 7 {
		t.Fatalf("encoder must take precedence, got %d", got)
	}
}

func TestTruncateToFitIdempotent(t *testing.T) {
	counter := NewCounter()
	messages := []Message{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "pergunta curta"},
	}

	fitted := counter.TruncateToFit(messages, 1000, 0, 2)
	if len(fitted) != len(messages) {
		t.Fatalf("fitting input must be untouched")
	}
	again := counter.TruncateToFit(fitted, 1000, 0, 2)
	for i := range again {
		if again[i] != fitted[i] {
			t.Fatalf("truncation must be idempotent at position %d", i)
		}
	}
}

func TestTruncateToFitDropsOldestFirst(t *testing.T) {
	counter := NewCounter()
	messages := []Message{{Role: "system", Content: "prompt do sistema"}}
	for i := 0; i < 10; i++ {
		messages = append(messages, Message{Role: "user", Content: fmt.Sprintf("mensagem %d %s", i, strings.Repeat("x", 100))})
	}

	budget := counter.CountConversation(messages) - 50
	fitted := counter.TruncateToFit(messages, budget, 0, 2)

	if fitted[0].Role != "system" {
		t.Fatalf("system message must survive")
	}
	last := fitted[len(fitted)-1]
	if !strings.HasPrefix(last.Content, "mensagem 9") {
		t.Fatalf("most recent message must survive: %q", last.Content)
	}
	if counter.CountConversation(fitted) > budget {
		t.Fatalf("still over budget after truncation")
	}
	// A mensagem mais antiga não-system deve ser a primeira descartada.
	for _, msg := range fitted {
		if strings.HasPrefix(msg.Content, "mensagem 0") {
			t.Fatalf("oldest message should have been dropped")
		}
	}
}

func TestTruncateMarksInsteadOfSilentDrop(t *testing.T) {
	counter := NewCounter()
	messages := []Message{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: strings.Repeat("conteúdo longo ", 200)},
	}

	fitted := counter.TruncateToFit(messages, 100, 0, 1)

	if len(fitted) != 2 {
		t.Fatalf("preserved messages must not disappear, got %d", len(fitted))
	}
	if !Truncated(fitted[1]) {
		t.Fatalf("oversized preserved message must carry the truncation marker: %q", fitted[1].Content)
	}
}

// jsonSummaryLLM responde com um resumo estruturado fixo.
type jsonSummaryLLM struct {
	calls int
	fail  bool
	raw   string
}

func (j *jsonSummaryLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	j.calls++
	if j.fail {
		return nil, fmt.Errorf("llm indisponível")
	}
	content := j.raw
	if content == "" {
		content = `{"summary":"Discussão sobre carências e custos do contrato.","entities":{"prazos":["180 dias"],"topicos":["carência"]}}`
	}
	return &llm.Response{Content: content, FinishReason: llm.FinishStop}, nil
}

func conversationOf(n int) []Message {
	messages := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, Message{Role: role, Content: fmt.Sprintf("mensagem %d", i)})
	}
	return messages
}

func TestShouldSummarizeThresholds(t *testing.T) {
	summarizer := NewSummarizer(&jsonSummaryLLM{}, NewCounter())

	if summarizer.ShouldSummarize(conversationOf(19), 0) {
		t.Fatalf("19 short messages must not trigger")
	}
	if !summarizer.ShouldSummarize(conversationOf(20), 0) {
		t.Fatalf("20 messages must trigger")
	}

	// Poucas mensagens, mas muito longas: dispara pelo limite de tokens.
	long := []Message{
		{Role: "user", Content: strings.Repeat("x", 11000)},
		{Role: "assistant", Content: strings.Repeat("y", 11000)},
	}
	if !summarizer.ShouldSummarize(long, 0) {
		t.Fatalf("token threshold must trigger")
	}

	// Mensagens já cobertas por resumo não contam.
	if summarizer.ShouldSummarize(conversationOf(25), 10) {
		t.Fatalf("only unsummarized messages count")
	}
}

func TestSummarizeWindow(t *testing.T) {
	client := &jsonSummaryLLM{}
	summarizer := NewSummarizer(client, NewCounter())

	summary, err := summarizer.Summarize(context.Background(), conversationOf(20), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Start != 0 || summary.End != 15 {
		t.Fatalf("expected range [0,15), got [%d,%d)", summary.Start, summary.End)
	}
	if summary.Text == "" || summary.TokenCount == 0 {
		t.Fatalf("summary content missing: %+v", summary)
	}
	if len(summary.Entities["prazos"]) != 1 {
		t.Fatalf("entities not parsed: %+v", summary.Entities)
	}
}

func TestSummarizeEmptyWindow(t *testing.T) {
	summarizer := NewSummarizer(&jsonSummaryLLM{}, NewCounter())
	summary, err := summarizer.Summarize(context.Background(), conversationOf(6), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != nil {
		t.Fatalf("window shorter than keepRecent must yield no summary")
	}
}

func TestSummarizeUnparsableFallsBackToPlainText(t *testing.T) {
	client := &jsonSummaryLLM{raw: "resumo em texto livre"}
	summarizer := NewSummarizer(client, NewCounter())

	summary, err := summarizer.Summarize(context.Background(), conversationOf(20), 0)
	if err != nil {
		t.Fatalf("unparsable output must not fail: %v", err)
	}
	if summary.Text != "resumo em texto livre" {
		t.Fatalf("plain-text fallback missing: %q", summary.Text)
	}
}

func TestConsolidateConcatenatesEntities(t *testing.T) {
	client := &jsonSummaryLLM{}
	summarizer := NewSummarizer(client, NewCounter())

	merged, err := summarizer.Consolidate(context.Background(), []Summary{
		{Start: 0, End: 15, Text: "primeira parte", Entities: map[string][]string{"contratos": {"CT-1"}}},
		{Start: 15, End: 30, Text: "segunda parte", Entities: map[string][]string{"contratos": {"CT-2"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged.Start != 0 || merged.End != 30 {
		t.Fatalf("consolidated range wrong: [%d,%d)", merged.Start, merged.End)
	}
	if got := merged.Entities["contratos"]; len(got) != 2 {
		t.Fatalf("entity lists must concatenate: %+v", got)
	}
}
