package llm

import "github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"

func toWireMessages(msgs []model.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: string(m.Role)}
		for _, b := range m.Content {
			wm.Content = append(wm.Content, toWireBlock(b))
		}
		out = append(out, wm)
	}
	return out
}

func toWireBlock(b model.ContentBlock) wireContentBlock {
	return wireContentBlock{
		Type:      string(b.Type),
		Text:      b.Text,
		Thinking:  b.Thinking,
		Signature: b.Signature,
		ID:        b.ToolUseID,
		Name:      b.ToolName,
		Input:     b.ToolInput,
		ToolUseID: b.ToolResultID,
		Content:   b.Text,
		IsError:   b.IsError,
	}
}

func fromWireBlocks(blocks []wireContentBlock) []model.ContentBlock {
	out := make([]model.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, model.ContentBlock{
			Type:      model.BlockType(b.Type),
			Text:      b.Text,
			Thinking:  b.Thinking,
			Signature: b.Signature,
			ToolUseID: b.ID,
			ToolName:  b.Name,
			ToolInput: b.Input,
		})
	}
	return out
}

func toWireTools(tools []ToolSchema) []wireTool {
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func blockTexts(blocks []PromptBlock) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Text
	}
	return out
}

// stripThinkingSignatures removes the vendor-signed signature field from
// every thinking block before persistence — it is unverifiable after the
// fact and must never reach the Record Store.
func stripThinkingSignatures(blocks []model.ContentBlock) []model.ContentBlock {
	out := make([]model.ContentBlock, len(blocks))
	for i, b := range blocks {
		if b.Type == model.BlockThinking {
			b.Signature = ""
		}
		out[i] = b
	}
	return out
}
