package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/Vini334/healthcost-copilot/internal/agent"
	"github.com/Vini334/healthcost-copilot/internal/llm"
)

type funcLLM struct {
	fn func(req llm.Request) (*llm.Response, error)
}

func (f *funcLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f.fn(req)
}

func TestClassifyByKeywords(t *testing.T) {
	cases := []struct {
		query  string
		intent Intent
	}{
		{"Qual o prazo de carência para cirurgias?", IntentContractQuery},
		{"Como está a sinistralidade do meu contrato este ano?", IntentCostAndContract},
		{"Quanto custou o plano no último trimestre?", IntentCostAnalysis},
		{"Quero renegociar o plano para economizar", IntentNegotiation},
		{"Bom dia, tudo bem?", IntentGeneral},
	}

	for _, tc := range cases {
		got := classifyByKeywords(tc.query)
		if got.Intent != tc.intent {
			t.Errorf("query %q: expected %q, got %q", tc.query, tc.intent, got.Intent)
		}
	}
}

func TestClassifyConfidenceScaling(t *testing.T) {
	// Três acertos de palavras-chave: 0.5 + 3*0.1.
	got := classifyByKeywords("qual a cobertura e o prazo de reembolso?")
	if got.Intent != IntentContractQuery {
		t.Fatalf("unexpected intent: %q", got.Intent)
	}
	if got.Confidence < 0.79 || got.Confidence > 0.81 {
		t.Fatalf("expected confidence ~0.8, got %v", got.Confidence)
	}

	// Sem acertos: general com confiança baixa.
	general := classifyByKeywords("olá")
	if general.Confidence != generalConfidence {
		t.Fatalf("expected %v, got %v", generalConfidence, general.Confidence)
	}
}

func TestClassifyConfidenceCap(t *testing.T) {
	got := classifyByKeywords("contrato cláusula carência cobertura prazo reembolso vigência")
	if got.Confidence != keywordConfidenceCap {
		t.Fatalf("confidence must cap at %v, got %v", keywordConfidenceCap, got.Confidence)
	}
}

func TestClassifyTieYieldsComposite(t *testing.T) {
	got := classifyByKeywords("o custo previsto no contrato")
	if got.Intent != IntentCostAndContract {
		t.Fatalf("contract+cost tie must yield composite, got %q", got.Intent)
	}
	if got.Confidence != compositeConfidence {
		t.Fatalf("composite confidence must be %v, got %v", compositeConfidence, got.Confidence)
	}
}

func TestClassifyLowConfidenceEscalatesToLLM(t *testing.T) {
	called := false
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		called = true
		return &llm.Response{Content: `{"intent":"cost_analysis","confidence":0.85,"reasoning":"pergunta sobre custos"}`}, nil
	}}

	classifier := NewIntentClassifier(client, 0.6)
	got := classifier.Classify(context.Background(), "me fala sobre aquilo que conversamos")

	if !called {
		t.Fatalf("LLM must be consulted below threshold")
	}
	if got.Intent != IntentCostAnalysis || got.Confidence != 0.85 {
		t.Fatalf("LLM result not adopted: %+v", got)
	}
}

func TestClassifyLLMFailureFallsBackToKeywords(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		return nil, errors.New("unavailable")
	}}
	classifier := NewIntentClassifier(client, 0.6)

	got := classifier.Classify(context.Background(), "qualquer coisa")
	if got.Intent != IntentGeneral {
		t.Fatalf("LLM failure must fall back to keyword result, got %q", got.Intent)
	}
}

func TestClassifyUnparsableLLMFallsBack(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "não sei classificar"}, nil
	}}
	classifier := NewIntentClassifier(client, 0.6)

	got := classifier.Classify(context.Background(), "qualquer coisa")
	if got.Intent != IntentGeneral {
		t.Fatalf("unparsable output must fall back, got %q", got.Intent)
	}
}

func TestClassifyHighConfidenceSkipsLLM(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		t.Fatalf("LLM must not be consulted above threshold")
		return nil, nil
	}}
	classifier := NewIntentClassifier(client, 0.6)

	got := classifier.Classify(context.Background(), "qual a cobertura e o prazo de carência?")
	if got.Intent != IntentContractQuery {
		t.Fatalf("unexpected intent: %q", got.Intent)
	}
}

func TestDecideModes(t *testing.T) {
	direct := Decide(Classification{Intent: IntentCostAnalysis, Confidence: 0.8})
	if direct.Mode != ModeDirect || len(direct.Executors) != 1 {
		t.Fatalf("single executor must run direct: %+v", direct)
	}

	sequential := Decide(Classification{Intent: IntentContractQuery, Confidence: 0.8})
	if sequential.Mode != ModeSequential {
		t.Fatalf("contract query must run sequential: %+v", sequential)
	}
	if sequential.Priority[0] != agent.KindRetrieval || sequential.Priority[1] != agent.KindContractAnalyst {
		t.Fatalf("retrieval must come first: %+v", sequential.Priority)
	}

	mixed := Decide(Classification{Intent: IntentNegotiation, Confidence: 0.7})
	if mixed.Mode != ModeMixed {
		t.Fatalf("negotiation must run mixed: %+v", mixed)
	}
	if len(mixed.GatherSet) != 2 {
		t.Fatalf("gather set must be declared on the decision: %+v", mixed.GatherSet)
	}

	unknown := Decide(Classification{Intent: Intent("???")})
	if len(unknown.Executors) != 2 {
		t.Fatalf("unknown intent must fall back to general executors: %+v", unknown)
	}
}
