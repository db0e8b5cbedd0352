package llm

// wire.go mirrors the Anthropic Messages/Batches API shapes, grounded on
// internal/infrastructure/llm/anthropic/types.go, extended with the
// /v1/messages/batches request/response envelope.

type wireContentBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	Thinking  string                 `json:"thinking,omitempty"`
	Signature string                 `json:"signature,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

type wireMessage struct {
	Role    string             `json:"role"`
	Content []wireContentBlock `json:"content"`
}

type wireSystemBlock struct {
	Type         string          `json:"type"`
	Text         string          `json:"text"`
	CacheControl *wireCacheCtrl  `json:"cache_control,omitempty"`
}

type wireCacheCtrl struct {
	Type string `json:"type"` // "ephemeral"
}

type wireTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type wireThinking struct {
	Type         string `json:"type"` // "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

type wireRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    []wireSystemBlock `json:"system,omitempty"`
	Messages  []wireMessage     `json:"messages"`
	Tools     []wireTool        `json:"tools,omitempty"`
	Thinking  *wireThinking     `json:"thinking,omitempty"`
}

type wireUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreation            *struct {
		Ephemeral5mInputTokens int `json:"ephemeral_5m_input_tokens"`
		Ephemeral1hInputTokens int `json:"ephemeral_1h_input_tokens"`
	} `json:"cache_creation,omitempty"`
}

type wireResponse struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Content    []wireContentBlock `json:"content"`
	Usage      wireUsage          `json:"usage"`
}

// --- Batches API ---

type batchRequestItem struct {
	CustomID string      `json:"custom_id"`
	Params   wireRequest `json:"params"`
}

type createBatchRequest struct {
	Requests []batchRequestItem `json:"requests"`
}

type batchStatus struct {
	ID                string `json:"id"`
	ProcessingStatus  string `json:"processing_status"` // in_progress, ended, canceling
	RequestCounts     struct {
		Processing int `json:"processing"`
		Succeeded  int `json:"succeeded"`
		Errored    int `json:"errored"`
		Canceled   int `json:"canceled"`
		Expired    int `json:"expired"`
	} `json:"request_counts"`
	ResultsURL string `json:"results_url"`
}

type batchResultLine struct {
	CustomID string `json:"custom_id"`
	Result   struct {
		Type    string       `json:"type"` // succeeded, errored, canceled, expired
		Message wireResponse `json:"message"`
		Error   struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}
