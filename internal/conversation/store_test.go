package conversation

import (
	"context"
	"testing"
	"time"

	xerrors "github.com/Vini334/healthcost-copilot/internal/errors"
)

func TestMemoryStoreSaveLoad(t *testing.T) {
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	conv := New("cliente-1", "CT-100")
	conv.Append(Message{Role: "user", Content: "Qual a carência para cirurgias?"})
	if err := store.Save(ctx, conv); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load(ctx, conv.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Title == "" || len(loaded.Messages) != 1 {
		t.Fatalf("loaded conversation incomplete: %+v", loaded)
	}

	// 返回的是副本,修改它不能影响存储内部状态。
	loaded.Messages[0].Content = "alterado"
	again, _ := store.Load(ctx, conv.ID)
	if again.Messages[0].Content != "Qual a carência para cirurgias?" {
		t.Fatalf("store must hand out deep copies")
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	store, _ := NewMemoryStore("")
	_, err := store.Load(context.Background(), "nao-existe")
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not-found code, got %v", err)
	}
}

func TestMemoryStoreListByClient(t *testing.T) {
	store, _ := NewMemoryStore("")
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		conv := New("cliente-1", "")
		conv.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Save(ctx, conv); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	other := New("cliente-2", "")
	store.Save(ctx, other)

	listed, err := store.ListByClient(ctx, "cliente-1", 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("limit not applied, got %d", len(listed))
	}
	if !listed[0].UpdatedAt.After(listed[1].UpdatedAt) {
		t.Fatalf("expected most recent first")
	}
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	store, _ := NewMemoryStore("")
	ctx := context.Background()

	conv := New("cliente-1", "")
	store.Save(ctx, conv)
	if err := store.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("repeated delete must not fail: %v", err)
	}
	if _, err := store.Load(ctx, conv.ID); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("conversation must be gone after delete")
	}
}

func TestMemoryStoreReplaysLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewMemoryStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conv := New("cliente-1", "CT-1")
	conv.Append(Message{Role: "user", Content: "primeira"})
	store.Save(ctx, conv)
	conv.Append(Message{Role: "assistant", Content: "segunda"})
	store.Save(ctx, conv)

	reopened, err := NewMemoryStore(dir)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	loaded, err := reopened.Load(ctx, conv.ID)
	if err != nil {
		t.Fatalf("load after replay failed: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("latest snapshot must win, got %d messages", len(loaded.Messages))
	}
}
