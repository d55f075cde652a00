package tool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func echoTool(name string) Definition {
	return Definition{
		Name:        name,
		Description: "devolve o argumento recebido",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Required: true},
			{Name: "top_k", Type: "integer", Default: 5},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestInvokeMissingRequiredArgument(t *testing.T) {
	registry := NewRegistry()
	var invoked atomic.Bool
	def := echoTool("search_keyword")
	def.Handler = func(ctx context.Context, args map[string]any) (any, error) {
		invoked.Store(true)
		return nil, nil
	}
	registry.Register(def)

	result := registry.Invoke(context.Background(), Call{ID: "c1", Name: "search_keyword", Arguments: map[string]any{}})

	if result.Status != StatusError {
		t.Fatalf("expected error status, got %q", result.Status)
	}
	if invoked.Load() {
		t.Fatalf("handler must not run when validation fails")
	}
	if result.CallID != "c1" || result.Name != "search_keyword" {
		t.Fatalf("result identity mismatch: %+v", result)
	}
}

func TestInvokeUnknownArgument(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoTool("search_vector"))

	result := registry.Invoke(context.Background(), Call{
		ID:        "c2",
		Name:      "search_vector",
		Arguments: map[string]any{"query": "carência", "bogus": true},
	})

	if result.Status != StatusError {
		t.Fatalf("expected error status for undeclared argument, got %q", result.Status)
	}
}

func TestInvokeAppliesDefaults(t *testing.T) {
	registry := NewRegistry()
	registry.Register(echoTool("search_hybrid"))

	result := registry.Invoke(context.Background(), Call{
		ID:        "c3",
		Name:      "search_hybrid",
		Arguments: map[string]any{"query": "sinistralidade"},
	})

	if result.Status != StatusSuccess {
		t.Fatalf("unexpected status: %q (%s)", result.Status, result.Error)
	}
	args := result.Payload.(map[string]any)
	if args["top_k"] != 5 {
		t.Fatalf("default not applied: %v", args["top_k"])
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	registry := NewRegistry()
	result := registry.Invoke(context.Background(), Call{ID: "c4", Name: "nope"})
	if result.Status != StatusError {
		t.Fatalf("expected error status for unknown tool, got %q", result.Status)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name: "explosive",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			panic("boom")
		},
	})

	result := registry.Invoke(context.Background(), Call{ID: "c5", Name: "explosive"})

	if result.Status != StatusError {
		t.Fatalf("expected error status after panic, got %q", result.Status)
	}
	if result.Error == "" {
		t.Fatalf("panic message missing from result")
	}
}

func TestInvokeTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(time.Second):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	result := registry.Invoke(context.Background(), Call{ID: "c6", Name: "slow"})

	if result.Status != StatusTimeout {
		t.Fatalf("expected timeout status, got %q (%s)", result.Status, result.Error)
	}
	if result.Latency <= 0 {
		t.Fatalf("latency must be measured")
	}
}

func TestInvokeAllPreservesOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name:       "delayed_echo",
		Parameters: []Parameter{{Name: "value", Type: "string", Required: true}, {Name: "delay_ms", Type: "integer", Required: true}},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(time.Duration(args["delay_ms"].(int)) * time.Millisecond)
			return args["value"], nil
		},
	})

	calls := make([]Call, 5)
	for i := range calls {
		calls[i] = Call{
			ID:   fmt.Sprintf("call-%d", i),
			Name: "delayed_echo",
			Arguments: map[string]any{
				"value":    fmt.Sprintf("v%d", i),
				"delay_ms": (len(calls) - i) * 10,
			},
		}
	}

	results := registry.InvokeAll(context.Background(), calls)

	if len(results) != len(calls) {
		t.Fatalf("expected %d results, got %d", len(calls), len(results))
	}
	for i, result := range results {
		if result.CallID != calls[i].ID {
			t.Fatalf("result %d out of order: %q", i, result.CallID)
		}
		if result.Payload != fmt.Sprintf("v%d", i) {
			t.Fatalf("result %d payload mismatch: %v", i, result.Payload)
		}
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name: "dup",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "first", nil
		},
	})
	registry.Register(Definition{
		Name: "dup",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return "second", nil
		},
	})

	result := registry.Invoke(context.Background(), Call{ID: "c7", Name: "dup"})
	if result.Payload != "second" {
		t.Fatalf("last registration must win, got %v", result.Payload)
	}
	if got := len(registry.Names()); got != 1 {
		t.Fatalf("expected one registered tool, got %d", got)
	}
}

func TestHandlerErrorBecomesResult(t *testing.T) {
	registry := NewRegistry()
	registry.Register(Definition{
		Name: "failing",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("fonte de dados indisponível")
		},
	})

	result := registry.Invoke(context.Background(), Call{ID: "c8", Name: "failing"})
	if result.Status != StatusError || result.Error != "fonte de dados indisponível" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
