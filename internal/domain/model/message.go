// Package model holds the data types shared across every component of the
// iteration pipeline: conversation messages, edit operations, token
// accounting, and the persisted record shapes.
package model

// Role is the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates the closed sum of ContentBlock variants. Every
// consumer must switch exhaustively over this field rather than guess from
// which pointer fields are populated.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockThinking   BlockType = "thinking"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged union over {text, thinking, tool_use,
// tool_result}. Only the fields relevant to Type are populated; the rest
// are zero values.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// thinking — Signature is an opaque vendor marker, stripped before
	// persistence (see llm's stripThinkingSignatures).
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ToolUseID string                 `json:"id,omitempty"`
	ToolName  string                 `json:"name,omitempty"`
	ToolInput map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolResultID string `json:"tool_use_id,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
}

// Message is one turn of a conversation. Content is always a block slice;
// a plain-string turn is represented as a single text block.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

// TextOnly concatenates every text block in the message, ignoring
// tool_use/tool_result/thinking blocks. Used for display and for the
// reflection phase's flattened transcript.
func (m Message) TextOnly() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns every tool_use block in the message, in order.
func (m Message) ToolUses() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}
