package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/evidence"
	"github.com/Vini334/healthcost-copilot/internal/llm"
)

func TestTrimHistoryKeepsSystemAndRecent(t *testing.T) {
	ac := NewContext("pergunta", "cli-1", "ctr-1", WithMaxHistory(6))
	ac.SetSystemPrompt("prompt a")
	ac.AddMessage(llm.Message{Role: llm.RoleSystem, Content: "prompt b"})

	for i := 0; i < 10; i++ {
		ac.AddMessage(llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	if len(ac.Messages) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(ac.Messages))
	}

	systems := 0
	for _, msg := range ac.Messages {
		if msg.Role == llm.RoleSystem {
			systems++
		}
	}
	if systems != 2 {
		t.Fatalf("system messages must be pinned, got %d", systems)
	}

	// The survivors must be the most recent non-system messages, in order.
	tail := ac.Messages[len(ac.Messages)-4:]
	for i, msg := range tail {
		expected := fmt.Sprintf("m%d", 6+i)
		if msg.Content != expected {
			t.Fatalf("expected %q at position %d, got %q", expected, i, msg.Content)
		}
	}
}

func TestSetSystemPromptReplacesFirst(t *testing.T) {
	ac := NewContext("pergunta", "cli-1", "ctr-1")
	ac.AddMessage(llm.Message{Role: llm.RoleUser, Content: "oi"})
	ac.SetSystemPrompt("v1")
	ac.SetSystemPrompt("v2")

	if ac.Messages[0].Role != llm.RoleSystem || ac.Messages[0].Content != "v2" {
		t.Fatalf("system prompt not replaced in place: %+v", ac.Messages[0])
	}
	if len(ac.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(ac.Messages))
	}
}

func TestCloneIsolation(t *testing.T) {
	ac := NewContext("pergunta", "cli-1", "ctr-1")
	ac.AddMessage(llm.Message{Role: llm.RoleUser, Content: "original"})
	ac.CostData["total"] = 100.0
	ac.AddChunks([]evidence.Chunk{{ID: "c1", DocumentID: "doc-1"}})

	clone := ac.Clone()
	clone.AddMessage(llm.Message{Role: llm.RoleAssistant, Content: "só no clone"})
	clone.CostData["total"] = 200.0
	clone.AddChunks([]evidence.Chunk{{ID: "c2", DocumentID: "doc-2"}})

	if len(ac.Messages) != 1 || len(ac.Chunks) != 1 {
		t.Fatalf("clone mutation leaked into original: %d messages, %d chunks", len(ac.Messages), len(ac.Chunks))
	}
	if ac.CostData["total"] != 100.0 {
		t.Fatalf("cost data leaked: %v", ac.CostData["total"])
	}
	if clone.ExecutionID != ac.ExecutionID {
		t.Fatalf("clone must keep the execution id")
	}
}

func TestMergeFrom(t *testing.T) {
	base := NewContext("pergunta", "cli-1", "ctr-1")
	other := base.Clone()
	other.AddChunks([]evidence.Chunk{{ID: "c1"}})
	other.CostData["claims_ratio"] = 0.85
	other.Analysis["retrieval"] = "achado relevante"

	base.MergeFrom(other)

	if len(base.Chunks) != 1 || base.CostData["claims_ratio"] != 0.85 {
		t.Fatalf("typed outputs not merged: %+v", base)
	}
	if base.Analysis["retrieval"] != "achado relevante" {
		t.Fatalf("analysis not merged")
	}
}

func TestMergeFromSequentialHopsDoNotDuplicateChunks(t *testing.T) {
	// 顺序执行里每个克隆都带着已合并的切片,汇聚时只能吸收增量。
	base := NewContext("pergunta", "cli-1", "ctr-1")

	first := base.Clone()
	first.AddChunks([]evidence.Chunk{{ID: "c1"}, {ID: "c2"}})
	base.MergeFrom(first)

	second := base.Clone()
	second.AddChunks([]evidence.Chunk{{ID: "c3"}})
	base.MergeFrom(second)

	third := base.Clone()
	base.MergeFrom(third)

	if len(base.Chunks) != 3 {
		t.Fatalf("expected 3 distinct chunks, got %d: %+v", len(base.Chunks), base.Chunks)
	}
	seen := map[string]bool{}
	for _, chunk := range base.Chunks {
		if seen[chunk.ID] {
			t.Fatalf("chunk %s duplicated after merge", chunk.ID)
		}
		seen[chunk.ID] = true
	}
}

func TestStoreSharedAndSweep(t *testing.T) {
	store := NewStore(time.Millisecond)
	ac := NewContext("pergunta", "cli-1", "ctr-1")
	store.Put(ac)
	store.SetShared(ac.ExecutionID, "fase", "coleta")

	if value, ok := store.GetShared(ac.ExecutionID, "fase"); !ok || value != "coleta" {
		t.Fatalf("shared value missing: %v %v", value, ok)
	}

	ac.CreatedAt = time.Now().Add(-time.Minute)
	if removed := store.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept context, got %d", removed)
	}
	if _, ok := store.Get(ac.ExecutionID); ok {
		t.Fatalf("context should be gone after sweep")
	}
	if _, ok := store.GetShared(ac.ExecutionID, "fase"); ok {
		t.Fatalf("shared bag should be gone after sweep")
	}
}
