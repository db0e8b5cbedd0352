package model

import "time"

// TokenUsage is the per-request token accounting the vendor reports. The
// cache-creation breakdown distinguishes 5-minute and 1-hour ephemeral
// cache writes because they are priced differently.
type TokenUsage struct {
	InputTokens             int `json:"input_tokens"`
	OutputTokens            int `json:"output_tokens"`
	CacheReadInputTokens    int `json:"cache_read_input_tokens"`
	CacheCreation5mTokens   int `json:"cache_creation_5m_tokens"`
	CacheCreation1hTokens   int `json:"cache_creation_1h_tokens"`
}

// CacheCreationInputTokens is the total across both ephemeral buckets.
func (u TokenUsage) CacheCreationInputTokens() int {
	return u.CacheCreation5mTokens + u.CacheCreation1hTokens
}

// Phase labels which LLM Gateway invocation context a GeneratedRecord came
// from.
type Phase string

const (
	PhasePlanner Phase = "planner"
	PhaseBuilder Phase = "builder"
	PhaseFixer   Phase = "fixer"
	PhaseReflect Phase = "reflect"
	PhaseMemory  Phase = "memory"
)

// GeneratedRecord is one row per LLM exchange. Never mutated after
// creation.
type GeneratedRecord struct {
	ID                  string         `json:"id" gorm:"primaryKey"`
	Phase               Phase          `json:"phase" gorm:"index"`
	ModelID             string         `json:"model_id"`
	IterationID         string         `json:"iteration_id" gorm:"index"`
	System              []string       `json:"system" gorm:"serializer:json"`
	Messages            []Message      `json:"messages" gorm:"serializer:json"`
	Response            []ContentBlock `json:"response" gorm:"serializer:json"`
	InputTokens         int            `json:"input_tokens"`
	OutputTokens        int            `json:"output_tokens"`
	CacheWrite5mTokens   int           `json:"cache_write_5m_tokens"`
	CacheWrite1hTokens   int           `json:"cache_write_1h_tokens"`
	CacheReadTokens      int           `json:"cache_read_tokens"`
	Cost                float64        `json:"cost"`
	Batch               bool           `json:"batch"`
	StopReason          string         `json:"stop_reason"`
	CreatedAt           time.Time      `json:"created_at" gorm:"index:idx_generated_created_at,sort:desc"`
}

func (g GeneratedRecord) Usage() TokenUsage {
	return TokenUsage{
		InputTokens:           g.InputTokens,
		OutputTokens:          g.OutputTokens,
		CacheReadInputTokens:  g.CacheReadTokens,
		CacheCreation5mTokens: g.CacheWrite5mTokens,
		CacheCreation1hTokens: g.CacheWrite1hTokens,
	}
}
