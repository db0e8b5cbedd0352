package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ngoclaw/ngoclaw/gateway/internal/config"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
)

func testStore(t *testing.T) Store {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Type: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return New(db)
}

func TestInsertAndFindGeneratedByIteration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	iter := uuid.NewString()
	for i := 0; i < 3; i++ {
		r := &model.GeneratedRecord{
			ID:          uuid.NewString(),
			Phase:       model.PhaseBuilder,
			ModelID:     "claude-sonnet-4",
			IterationID: iter,
			CreatedAt:   time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := s.InsertGenerated(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	// a record from a different iteration should not leak in
	if err := s.InsertGenerated(ctx, &model.GeneratedRecord{ID: uuid.NewString(), IterationID: "other", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	rows, err := s.FindGeneratedByIteration(ctx, iter)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
}

func TestMemoryByIDNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.FindMemoryByID(context.Background(), "does-not-exist")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestPruneMemoryDeletesOnlyStaleUnpinned(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	cutoff := time.Now().Add(-time.Hour)

	stale := &model.MemoryItem{ID: uuid.NewString(), Content: "old", CreatedAt: cutoff.Add(-time.Minute), UpdatedAt: cutoff.Add(-time.Minute)}
	fresh := &model.MemoryItem{ID: uuid.NewString(), Content: "new", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	stalePinned := &model.MemoryItem{ID: uuid.NewString(), Content: "old pinned", Pinned: true, CreatedAt: cutoff.Add(-time.Minute), UpdatedAt: cutoff.Add(-time.Minute)}
	for _, m := range []*model.MemoryItem{stale, fresh, stalePinned} {
		if err := s.InsertMemory(ctx, m); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := s.PruneMemory(ctx, cutoff)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}

	if _, err := s.FindMemoryByID(ctx, stale.ID); !errs.IsNotFound(err) {
		t.Fatalf("expected stale item gone, got %v", err)
	}
	if _, err := s.FindMemoryByID(ctx, fresh.ID); err != nil {
		t.Fatalf("expected fresh item to survive: %v", err)
	}
	if _, err := s.FindMemoryByID(ctx, stalePinned.ID); err != nil {
		t.Fatalf("expected pinned item to survive despite age: %v", err)
	}
}

func TestDistinctGeneratedPhases(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, phase := range []model.Phase{model.PhasePlanner, model.PhaseBuilder, model.PhaseBuilder} {
		if err := s.InsertGenerated(ctx, &model.GeneratedRecord{
			ID: uuid.NewString(), Phase: phase, IterationID: "iter-1", CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	phases, err := s.DistinctGeneratedPhases(ctx)
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	if len(phases) != 2 {
		t.Fatalf("expected 2 distinct phases, got %v", phases)
	}
}

func TestSearchMemoryIsCaseInsensitive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertMemory(ctx, &model.MemoryItem{
		ID: uuid.NewString(), Content: "Fixed a race in the poller", Summary: "poller race fix",
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := s.SearchMemory(ctx, "POLLER", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 match via LIKE/regex, got %d", len(rows))
	}
}
