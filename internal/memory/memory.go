// Package memory is the Memory Service: stores past outcomes, pinned
// notes, and ideas, and assembles a budgeted memory context string for
// the planner and builder phases.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
	"github.com/ngoclaw/ngoclaw/gateway/internal/store"
)

// Summarizer is the LLM Gateway's memory phase, narrowed to the one method
// the Memory Service needs. Kept as an interface so this package never
// imports internal/llm directly.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

type Service struct {
	store       store.Store
	summarizer  Summarizer
	tokenBudget int
	log         *zap.Logger
}

func New(s store.Store, summarizer Summarizer, tokenBudget int, log *zap.Logger) *Service {
	return &Service{store: s, summarizer: summarizer, tokenBudget: tokenBudget, log: log}
}

// estimateTokens is deliberately cheap — exact tokenization is not a goal.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func (s *Service) summarize(ctx context.Context, content string) (string, error) {
	summary, err := s.summarizer.Summarize(ctx, content)
	if err != nil {
		return "", err
	}
	return summary, nil
}

func (s *Service) StorePast(ctx context.Context, content string) (*model.MemoryItem, error) {
	summary, err := s.summarize(ctx, content)
	if err != nil {
		return nil, err
	}
	item := &model.MemoryItem{
		ID: uuid.NewString(), Content: content, Summary: summary,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertMemory(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) StorePinned(ctx context.Context, content string) (string, error) {
	summary, err := s.summarize(ctx, content)
	if err != nil {
		return "", err
	}
	item := &model.MemoryItem{
		ID: uuid.NewString(), Content: content, Summary: summary, Pinned: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertMemory(ctx, item); err != nil {
		return "", err
	}
	return fmt.Sprintf("Note saved (%s): %s", item.ID, item.Summary), nil
}

func (s *Service) StoreIdea(ctx context.Context, description, ideaContext string) (string, error) {
	summary, err := s.summarize(ctx, description)
	if err != nil {
		return "", err
	}
	item := &model.MemoryItem{
		ID: uuid.NewString(), Content: description, Summary: summary,
		Pinned: true, IdeaStatus: model.IdeaPending, IdeaContext: ideaContext,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertMemory(ctx, item); err != nil {
		return "", err
	}
	return fmt.Sprintf("Idea saved (%s): %s", item.ID, item.Summary), nil
}

func (s *Service) Unpin(ctx context.Context, id string) error {
	item, err := s.store.FindMemoryByID(ctx, id)
	if err != nil {
		return err
	}
	if !item.Pinned {
		return errs.New(errs.NotPinned, "memory "+id+" is not pinned")
	}
	item.Pinned = false
	item.UpdatedAt = time.Now().UTC()
	return s.store.UpdateMemory(ctx, item)
}

func (s *Service) UpdateIdeaStatus(ctx context.Context, id string, status model.IdeaStatus) error {
	item, err := s.store.FindMemoryByID(ctx, id)
	if err != nil {
		return err
	}
	if !item.IsIdea() {
		return errs.New(errs.NotIdea, "memory "+id+" is not an idea")
	}
	item.IdeaStatus = status
	if status == model.IdeaCompleted {
		item.Pinned = false
	}
	item.UpdatedAt = time.Now().UTC()
	return s.store.UpdateMemory(ctx, item)
}

func formatRecall(m model.MemoryItem) string {
	return fmt.Sprintf("**%s** [%s]\n%s", m.ID, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Content)
}

// Recall runs a text search (limit 5), falling back to a case-insensitive
// regex over summary+content when the index yields no hits.
func (s *Service) Recall(ctx context.Context, query string) (string, error) {
	items, err := s.store.SearchMemory(ctx, query, 5)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", nil
	}
	parts := make([]string, len(items))
	for i, m := range items {
		parts[i] = formatRecall(m)
	}
	return strings.Join(parts, "\n---\n"), nil
}

// Prune permanently deletes unpinned memory items older than before. It is
// a storage-hygiene pass, not part of the pinned/ideaStatus lifecycle — a
// deployment runs it once at startup to bound the Past section's growth.
func (s *Service) Prune(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PruneMemory(ctx, before)
}

func (s *Service) RecallByID(ctx context.Context, id string) (string, error) {
	item, err := s.store.FindMemoryByID(ctx, id)
	if errs.IsNotFound(err) {
		return fmt.Sprintf("No memory with id %q.", id), nil
	}
	if err != nil {
		return "", err
	}
	return formatRecall(*item), nil
}

// GetContext assembles the memory context under a soft token budget, in
// three sections: notes always in full, ideas if they fit, past added
// one at a time until the remaining budget would be exceeded.
func (s *Service) GetContext(ctx context.Context) (string, error) {
	pinned, err := s.store.FindMemory(ctx, store.Query{Filter: map[string]interface{}{"pinned": true}, Sort: "-created_at"})
	if err != nil {
		return "", err
	}
	past, err := s.store.FindMemory(ctx, store.Query{Filter: map[string]interface{}{"pinned": false}, Sort: "-created_at"})
	if err != nil {
		return "", err
	}

	var notes, ideas []model.MemoryItem
	for _, m := range pinned {
		if m.IsIdea() {
			ideas = append(ideas, m)
		} else {
			notes = append(notes, m)
		}
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	sort.SliceStable(ideas, func(i, j int) bool { return ideas[i].CreatedAt.After(ideas[j].CreatedAt) })
	sort.SliceStable(past, func(i, j int) bool { return past[i].CreatedAt.After(past[j].CreatedAt) })

	var sections []string
	budget := s.tokenBudget

	if len(notes) > 0 {
		lines := make([]string, len(notes))
		for i, m := range notes {
			lines[i] = fmt.Sprintf("- (%s) %s", m.ID, m.Summary)
		}
		section := "## Notes to self\n" + strings.Join(lines, "\n")
		budget -= estimateTokens(section)
		sections = append(sections, section)
	}

	if len(ideas) > 0 {
		lines := make([]string, len(ideas))
		for i, m := range ideas {
			tag := "[PENDING]"
			if m.IdeaStatus == model.IdeaAttempted {
				tag = "[ATTEMPTED]"
			}
			line := fmt.Sprintf("- %s (%s) %s", tag, m.ID, m.Summary)
			if m.IdeaContext != "" {
				line += " — " + m.IdeaContext
			}
			lines[i] = line
		}
		section := "## Ideas\n" + strings.Join(lines, "\n")
		if estimateTokens(section) <= budget {
			budget -= estimateTokens(section)
			sections = append(sections, section)
		}
	}

	if len(past) > 0 {
		var lines []string
		header := "## Past\n"
		remaining := budget - estimateTokens(header)
		for _, m := range past {
			line := fmt.Sprintf("- (%s) [%s] %s", m.ID, m.CreatedAt.Format("2006-01-02"), m.Summary)
			cost := estimateTokens(line)
			if len(lines) > 0 {
				cost++ // newline joining the next line
			}
			if cost > remaining {
				break
			}
			remaining -= cost
			lines = append(lines, line)
		}
		if len(lines) > 0 {
			sections = append(sections, header+strings.Join(lines, "\n"))
		}
	}

	if len(sections) == 0 {
		return "No memories yet. This is your first run.", nil
	}
	return strings.Join(sections, "\n\n"), nil
}
