package model

import "time"

// IdeaStatus tracks an idea-flavored MemoryItem through its workflow.
type IdeaStatus string

const (
	IdeaNone      IdeaStatus = ""
	IdeaPending   IdeaStatus = "pending"
	IdeaAttempted IdeaStatus = "attempted"
	IdeaCompleted IdeaStatus = "completed"
)

// MemoryItem is a durable note, pinned priority, or idea. Only Pinned and
// IdeaStatus mutate after creation.
type MemoryItem struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	Content     string     `json:"content" gorm:"index:idx_memory_text,class:FULLTEXT;"`
	Summary     string     `json:"summary" gorm:"index:idx_memory_text,class:FULLTEXT;"`
	Pinned      bool       `json:"pinned" gorm:"index:idx_memory_pinned_created"`
	IdeaStatus  IdeaStatus `json:"idea_status,omitempty"`
	IdeaContext string     `json:"idea_context,omitempty"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_memory_pinned_created;index:idx_memory_created_desc,sort:desc"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsIdea reports whether this item carries a workflow status at all.
func (m MemoryItem) IsIdea() bool {
	return m.IdeaStatus != IdeaNone
}

// LogLevel mirrors the four levels IterationLog entries may carry.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogDebug LogLevel = "debug"
)

// LogEntry is one line of an IterationLog.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// PhaseUsage aggregates token usage for one phase across an iteration.
type PhaseUsage struct {
	Phase        Phase   `json:"phase"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Calls        int     `json:"calls"`
}

// IterationLog is written once, at the end of an iteration.
type IterationLog struct {
	ID          string       `json:"id" gorm:"primaryKey"`
	IterationID string       `json:"iteration_id" gorm:"index"`
	Entries     []LogEntry   `json:"entries" gorm:"serializer:json"`
	TokenUsage  []PhaseUsage `json:"token_usage,omitempty" gorm:"serializer:json"`
	Merged      bool         `json:"merged"`
	Outcome     string       `json:"outcome"`
	CreatedAt   time.Time    `json:"created_at" gorm:"index:idx_iterationlog_created_desc,sort:desc"`
}
