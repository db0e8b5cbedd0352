package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
)

// Store is the Record Store contract every other component depends on.
// Every operation may fail with errs.StorageUnavailable.
type Store interface {
	InsertGenerated(ctx context.Context, r *model.GeneratedRecord) error
	FindGeneratedByIteration(ctx context.Context, iterationID string) ([]model.GeneratedRecord, error)
	DistinctGeneratedPhases(ctx context.Context) ([]string, error)

	InsertMemory(ctx context.Context, m *model.MemoryItem) error
	FindMemoryByID(ctx context.Context, id string) (*model.MemoryItem, error)
	UpdateMemory(ctx context.Context, m *model.MemoryItem) error
	SearchMemory(ctx context.Context, query string, limit int) ([]model.MemoryItem, error)
	FindMemory(ctx context.Context, q Query) ([]model.MemoryItem, error)
	PruneMemory(ctx context.Context, before time.Time) (int64, error)

	InsertIterationLog(ctx context.Context, l *model.IterationLog) error
	FindIterationLogs(ctx context.Context, q Query) ([]model.IterationLog, error)
	FindGeneratedRecords(ctx context.Context, q Query) ([]model.GeneratedRecord, error)
}

type gormStore struct {
	db         *gorm.DB
	generated  repository[model.GeneratedRecord]
	memory     repository[model.MemoryItem]
	iteration  repository[model.IterationLog]
}

func New(db *gorm.DB) Store {
	return &gormStore{
		db:        db,
		generated: newRepository[model.GeneratedRecord](db),
		memory:    newRepository[model.MemoryItem](db),
		iteration: newRepository[model.IterationLog](db),
	}
}

func (s *gormStore) InsertGenerated(ctx context.Context, r *model.GeneratedRecord) error {
	return s.generated.Insert(ctx, r)
}

func (s *gormStore) FindGeneratedByIteration(ctx context.Context, iterationID string) ([]model.GeneratedRecord, error) {
	return s.generated.FindMany(ctx, Query{Filter: map[string]interface{}{"iteration_id": iterationID}, Sort: "-created_at"})
}

func (s *gormStore) InsertMemory(ctx context.Context, m *model.MemoryItem) error {
	return s.memory.Insert(ctx, m)
}

func (s *gormStore) FindMemoryByID(ctx context.Context, id string) (*model.MemoryItem, error) {
	return s.memory.FindByID(ctx, id)
}

func (s *gormStore) UpdateMemory(ctx context.Context, m *model.MemoryItem) error {
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return errs.Wrap(errs.StorageUnavailable, "update memory failed", err)
	}
	return nil
}

func (s *gormStore) FindMemory(ctx context.Context, q Query) ([]model.MemoryItem, error) {
	return s.memory.FindMany(ctx, q)
}

// SearchMemory runs a LIKE match over (content, summary) and falls back
// to a case-insensitive regex scan when it yields nothing.
func (s *gormStore) SearchMemory(ctx context.Context, query string, limit int) ([]model.MemoryItem, error) {
	return textSearchOrRegex[model.MemoryItem](ctx, s.db, query, []string{"content", "summary"},
		func(m model.MemoryItem) []string { return []string{m.Content, m.Summary} }, limit)
}

func (s *gormStore) InsertIterationLog(ctx context.Context, l *model.IterationLog) error {
	return s.iteration.Insert(ctx, l)
}

func (s *gormStore) FindIterationLogs(ctx context.Context, q Query) ([]model.IterationLog, error) {
	return s.iteration.FindMany(ctx, q)
}

func (s *gormStore) FindGeneratedRecords(ctx context.Context, q Query) ([]model.GeneratedRecord, error) {
	return s.generated.FindMany(ctx, q)
}

// DistinctGeneratedPhases lists every phase that has ever produced a
// GeneratedRecord, independent of any find-many limit.
func (s *gormStore) DistinctGeneratedPhases(ctx context.Context) ([]string, error) {
	return s.generated.Distinct(ctx, "phase", Query{})
}

// PruneMemory permanently deletes unpinned memory items older than before,
// a storage-hygiene pass distinct from the pinned/ideaStatus lifecycle.
func (s *gormStore) PruneMemory(ctx context.Context, before time.Time) (int64, error) {
	return s.memory.DeleteMany(ctx, Query{Filter: map[string]interface{}{"pinned": false}, Before: &before})
}
