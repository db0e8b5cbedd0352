package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
)

// Query describes a find-many/count/delete-many call: an equality filter,
// an optional "created_at before" cutoff, an optional sort field (prefixed
// "-" for descending), and an optional limit. Projection is handled by the
// typed repository methods that wrap this, not here.
type Query struct {
	Filter map[string]interface{}
	Before *time.Time
	Sort   string
	Limit  int
}

func (q Query) apply(tx *gorm.DB) *gorm.DB {
	for k, v := range q.Filter {
		tx = tx.Where(k+" = ?", v)
	}
	if q.Before != nil {
		tx = tx.Where("created_at < ?", *q.Before)
	}
	if q.Sort != "" {
		col := q.Sort
		desc := strings.HasPrefix(col, "-")
		if desc {
			col = strings.TrimPrefix(col, "-")
			tx = tx.Order(col + " DESC")
		} else {
			tx = tx.Order(col + " ASC")
		}
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	return tx
}

// repository is a thin generic wrapper over one gorm table, grounded on
// internal/infrastructure/persistence/gorm_message_repository.go's
// Save/FindByID/Delete/Count shape but generalized across the three
// collections this agent persists (Generated, Memory, IterationLog) rather
// than copy-pasting one struct per collection.
type repository[T any] struct {
	db *gorm.DB
}

func newRepository[T any](db *gorm.DB) repository[T] {
	return repository[T]{db: db}
}

func (r repository[T]) Insert(ctx context.Context, row *T) error {
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errs.Wrap(errs.StorageUnavailable, "insert failed", err)
	}
	return nil
}

func (r repository[T]) FindByID(ctx context.Context, id string) (*T, error) {
	var row T
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errs.New(errs.NotFound, "no record with id "+id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "find by id failed", err)
	}
	return &row, nil
}

func (r repository[T]) FindMany(ctx context.Context, q Query) ([]T, error) {
	var rows []T
	tx := q.apply(r.db.WithContext(ctx))
	if err := tx.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "find many failed", err)
	}
	return rows, nil
}

func (r repository[T]) Count(ctx context.Context, q Query) (int64, error) {
	var n int64
	tx := q.apply(r.db.WithContext(ctx).Model(new(T)))
	if err := tx.Count(&n).Error; err != nil {
		return 0, errs.Wrap(errs.StorageUnavailable, "count failed", err)
	}
	return n, nil
}

func (r repository[T]) DeleteMany(ctx context.Context, q Query) (int64, error) {
	tx := q.apply(r.db.WithContext(ctx).Model(new(T)))
	res := tx.Delete(new(T))
	if res.Error != nil {
		return 0, errs.Wrap(errs.StorageUnavailable, "delete many failed", res.Error)
	}
	return res.RowsAffected, nil
}

func (r repository[T]) Distinct(ctx context.Context, field string, q Query) ([]string, error) {
	var values []string
	tx := q.apply(r.db.WithContext(ctx).Model(new(T)).Distinct(field))
	if err := tx.Pluck(field, &values).Error; err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "distinct failed", err)
	}
	return values, nil
}

// textSearchOrRegex runs a LIKE substring match over the given columns,
// newest first, on every dialect; no full-text index is queried and results
// carry no relevance score. If it returns zero rows it falls back to a
// case-insensitive regex scan over the same columns in application code.
func textSearchOrRegex[T any](ctx context.Context, db *gorm.DB, query string, columns []string, rowText func(T) []string, limit int) ([]T, error) {
	var rows []T
	tx := db.WithContext(ctx)
	like := "%" + query + "%"
	var clauses []string
	for _, c := range columns {
		clauses = append(clauses, c+" LIKE ?")
	}
	args := make([]interface{}, len(columns))
	for i := range args {
		args[i] = like
	}
	if err := tx.Where(strings.Join(clauses, " OR "), args...).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "text search failed", err)
	}
	if len(rows) > 0 {
		return rows, nil
	}

	// Fallback: regex over all rows, newest first.
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return nil, nil
	}
	var all []T
	if err := db.WithContext(ctx).Order("created_at DESC").Find(&all).Error; err != nil {
		return nil, errs.Wrap(errs.StorageUnavailable, "regex fallback scan failed", err)
	}
	for _, row := range all {
		for _, text := range rowText(row) {
			if re.MatchString(text) {
				rows = append(rows, row)
				break
			}
		}
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}
