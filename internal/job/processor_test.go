package job

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      error
	failTimes int32
}

func (f *fakeExecutor) Execute(ctx context.Context, j *Job) (*Result, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	count := f.processed.Add(1)
	if f.fail != nil && (f.failTimes == 0 || count <= f.failTimes) {
		return nil, f.fail
	}
	return &Result{Response: "ok", Intent: "cost_analysis", TokensUsed: 10}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("condition not reached within %s", timeout)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	for i := 0; i < total; i++ {
		req := SubmitRequest{Query: fmt.Sprintf("consulta %d", i), ClientID: "cliente-1"}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	waitFor(t, 5*time.Second, func() bool {
		return int(executor.processed.Load()) >= total
	})
	cancel()
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	// CodeLLMFailure 是可重试错误:第一次失败后任务应被重新排队。
	executor := &fakeExecutor{
		fail:      xerrors.New(xerrors.CodeLLMFailure, "provedor indisponível"),
		failTimes: 1,
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(2))
	go processor.Start(ctx)

	submitted, err := service.Submit(ctx, SubmitRequest{Query: "consulta", ClientID: "cliente-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusSucceeded {
		t.Fatalf("retried job must succeed, got %+v", final)
	}
	if final.Attempts < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", final.Attempts)
	}
}

func TestProcessorMarksNonRetryableTerminal(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	executor := &fakeExecutor{
		fail: xerrors.New(xerrors.CodeInvalidArgument, "consulta malformada"),
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(1))
	go processor.Start(ctx)

	submitted, err := service.Submit(ctx, SubmitRequest{Query: "consulta", ClientID: "cliente-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusFailed {
		t.Fatalf("non-retryable failure must be terminal, got %+v", final)
	}
	if final.Attempts != 1 {
		t.Fatalf("non-retryable failure must not retry, got %d attempts", final.Attempts)
	}
	if final.ErrorCode != string(xerrors.CodeInvalidArgument) {
		t.Fatalf("error code lost: %q", final.ErrorCode)
	}
}

func TestProcessorDegradesViaRecovery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	executor := &fakeExecutor{
		fail: xerrors.New(xerrors.CodeInvalidArgument, "consulta malformada"),
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue,
		WithWorkerCount(1), WithRecoveryHandler(DegradedRecovery{}))
	go processor.Start(ctx)

	submitted, err := service.Submit(ctx, SubmitRequest{Query: "consulta", ClientID: "cliente-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final, err := service.WaitUntilCompleted(ctx, submitted.ID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusSucceeded {
		t.Fatalf("recovery must degrade into a success, got %+v", final)
	}
	if final.Result == nil || final.Result.Response == "" {
		t.Fatalf("degraded result missing: %+v", final.Result)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	service := NewService(store, queue, 3)

	first, err := service.Submit(ctx, SubmitRequest{ID: "fixo", Query: "consulta", ClientID: "cliente-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(ctx, SubmitRequest{ID: "fixo", Query: "outra consulta", ClientID: "cliente-1"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID || second.Query != first.Query {
		t.Fatalf("resubmit must return the original job: %+v", second)
	}
}

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(8), 3)

	if _, err := service.Submit(context.Background(), SubmitRequest{ClientID: "cliente-1"}); err == nil {
		t.Fatalf("empty query must be rejected")
	}
	if _, err := service.Submit(context.Background(), SubmitRequest{Query: "consulta"}); err == nil {
		t.Fatalf("missing client must be rejected")
	}
}
