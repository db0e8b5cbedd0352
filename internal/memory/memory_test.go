package memory

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/store"
)

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, content string) (string, error) {
	if len(content) > 20 {
		return content[:20] + "...", nil
	}
	return content, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return New(store.New(db), fakeSummarizer{}, 100, zap.NewNop())
}

func TestStoreNoteThenUnpinLeavesItRecallableButNotInNotes(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	msg, err := s.StorePinned(ctx, "remember the retry budget")
	if err != nil {
		t.Fatalf("store pinned: %v", err)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(msg, "Note saved ("), ")")
	id = id[:strings.Index(id, ")")]

	ctxStr, err := s.GetContext(ctx)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if !strings.Contains(ctxStr, "## Notes to self") {
		t.Fatalf("expected notes section, got %q", ctxStr)
	}

	if err := s.Unpin(ctx, id); err != nil {
		t.Fatalf("unpin: %v", err)
	}

	ctxStr, err = s.GetContext(ctx)
	if err != nil {
		t.Fatalf("get context after unpin: %v", err)
	}
	if strings.Contains(ctxStr, "## Notes to self") {
		t.Fatalf("expected note gone from notes section, got %q", ctxStr)
	}

	recalled, err := s.Recall(ctx, "retry")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if recalled == "" {
		t.Fatal("expected recall to still find the unpinned item")
	}
}

func TestStoreIdeaThenCompleteMovesToPast(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	msg, err := s.StoreIdea(ctx, "parallelize the fix loop", "saw it idle-waiting on CI")
	if err != nil {
		t.Fatalf("store idea: %v", err)
	}
	id := msg[len("Idea saved ("):]
	id = id[:strings.Index(id, ")")]

	ctxStr, _ := s.GetContext(ctx)
	if !strings.Contains(ctxStr, "## Ideas") {
		t.Fatalf("expected ideas section, got %q", ctxStr)
	}

	if err := s.UpdateIdeaStatus(ctx, id, model.IdeaCompleted); err != nil {
		t.Fatalf("update idea status: %v", err)
	}

	ctxStr, _ = s.GetContext(ctx)
	if strings.Contains(ctxStr, "## Ideas") {
		t.Fatalf("expected idea no longer pinned, got %q", ctxStr)
	}
	if !strings.Contains(ctxStr, "## Past") {
		t.Fatalf("expected completed idea to surface in Past, got %q", ctxStr)
	}
}

func TestGetContextEmpty(t *testing.T) {
	s := newTestService(t)
	ctxStr, err := s.GetContext(context.Background())
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if ctxStr != "No memories yet. This is your first run." {
		t.Fatalf("unexpected empty context: %q", ctxStr)
	}
}

func TestContextBudgetTruncatesPast(t *testing.T) {
	s := newTestService(t)
	s.tokenBudget = 100
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		if _, err := s.StorePast(ctx, strings.Repeat("x", 40)); err != nil {
			t.Fatalf("store past %d: %v", i, err)
		}
	}

	ctxStr, err := s.GetContext(ctx)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	lines := strings.Count(ctxStr, "\n- (")
	if lines >= 50 {
		t.Fatalf("expected budget to cut off well under 50 entries, got %d", lines)
	}
}

func TestRecallByIDMiss(t *testing.T) {
	s := newTestService(t)
	got, err := s.RecallByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("recall by id: %v", err)
	}
	if got != `No memory with id "missing".` {
		t.Fatalf("unexpected message: %q", got)
	}
}
