// Package patch is the Patch Session: a stateful multi-turn LLM driver
// bound to one (plan, initial memory context) that holds the
// builder/fixer transcript, caps fix attempts, and exposes
// createPatch/fixPatch. Adapted from the gateway's agent_loop.go ReAct
// shape (Run/runLoop's generate-then-execute-tool-calls cycle), narrowed
// from a general chat loop to one that terminates on either no tool calls
// or an explicit submit_edits call.
package patch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
	"github.com/ngoclaw/ngoclaw/gateway/internal/llm"
	"github.com/ngoclaw/ngoclaw/gateway/internal/tool"
)

const maxDiffCharsInFixPrompt = 8000
const maxCiErrorChars = 4000

// Completer is the narrow slice of the LLM Gateway a Session needs. Kept as
// an interface so this package never needs the Gateway's own
// configuration/store dependencies, only its complete() contract.
type Completer interface {
	Complete(ctx context.Context, req llm.CompleteRequest) (model.Message, error)
}

// DiffProvider is the narrow slice of the Source-Control Adapter the fixer
// phase needs to attach the current workspace diff to its prompt.
type DiffProvider interface {
	GetDiff() (string, error)
}

var builderToolNames = []string{
	"read_file", "grep_search", "file_search", "list_directory", "git_diff",
	"edit_file", "create_file", "delete_file",
	"recall", "recall_by_id", "store_note", "dismiss_note", "store_idea", "update_idea_status",
	"submit_edits",
}

// Session is scoped to exactly one iteration.
type Session struct {
	plan           model.Plan
	gateway        Completer
	registry       *tool.Registry
	diffs          DiffProvider
	iterationID    string
	maxFixAttempts int

	conversation []model.Message
	system       []llm.PromptBlock
	ops          []model.EditOperation
	attempts     int
	log          *zap.Logger
}

// New starts a session bound to plan and the planner-phase memory context
// (carried forward so the builder doesn't have to re-fetch it).
func New(plan model.Plan, memoryContext string, gateway Completer, registry *tool.Registry, diffs DiffProvider, iterationID string, maxFixAttempts int, log *zap.Logger) *Session {
	system := llm.AssembleSystemPrompt(builderSystemPrefix, "", nil, memoryContext)
	return &Session{
		plan:           plan,
		gateway:        gateway,
		registry:       registry,
		diffs:          diffs,
		iterationID:    iterationID,
		maxFixAttempts: maxFixAttempts,
		system:         system,
		log:            log.With(zap.String("component", "patch_session")),
	}
}

const builderSystemPrefix = "You are the builder phase of an autonomous change agent. Use the " +
	"provided tools to make exactly the edits described by the plan, then stop calling tools " +
	"(or call submit_edits) once the change is complete."

const fixerSystemPrefix = "You are the fixer phase of an autonomous change agent. CI failed on the " +
	"patch you just produced. Use the provided tools to correct it, then stop calling tools " +
	"(or call submit_edits) once you believe the fix is complete."

// Exhausted reports whether fixPatch may no longer be called.
func (s *Session) Exhausted() bool {
	return s.attempts >= s.maxFixAttempts
}

// Conversation returns a readonly copy of the full transcript, used by the
// reflection phase.
func (s *Session) Conversation() []model.Message {
	out := make([]model.Message, len(s.conversation))
	copy(out, s.conversation)
	return out
}

// CreatePatch drives the builder dialog to completion and returns the
// accumulated edit operations.
func (s *Session) CreatePatch(ctx context.Context) ([]model.EditOperation, error) {
	userPrompt := fmt.Sprintf("Plan: %s\n\n%s", s.plan.Title, s.plan.Description)
	s.conversation = append(s.conversation, model.TextMessage(model.RoleUser, userPrompt))
	return s.drive(ctx, model.PhaseBuilder)
}

// FixPatch increments the fix-attempt counter and drives a fixer dialog
// seeded with the truncated CI error and the current workspace diff.
func (s *Session) FixPatch(ctx context.Context, ciError string) ([]model.EditOperation, error) {
	if s.Exhausted() {
		return nil, errs.New(errs.ToolUsage, "fix attempts exhausted")
	}
	s.attempts++

	diff, err := s.diffs.GetDiff()
	if err != nil {
		s.log.Warn("failed to fetch diff for fixer prompt", zap.Error(err))
	}

	prompt := fmt.Sprintf("CI failed:\n%s\n\nCurrent diff:\n%s",
		truncate(ciError, maxCiErrorChars), truncate(diff, maxDiffCharsInFixPrompt))
	s.conversation = append(s.conversation, model.TextMessage(model.RoleUser, prompt))

	prevOps := len(s.ops)
	ops, err := s.drive(ctx, model.PhaseFixer)
	if err != nil {
		return nil, err
	}
	return ops[prevOps:], nil
}

// drive runs the generate -> execute-tool-calls -> re-generate cycle until
// the assistant turn carries no tool_use blocks, or an explicit
// submit_edits call closes it out.
func (s *Session) drive(ctx context.Context, phase model.Phase) ([]model.EditOperation, error) {
	system := s.system
	if phase == model.PhaseFixer {
		system = llm.AssembleSystemPrompt(fixerSystemPrefix, "", nil, "")
	}

	tools := toolSchemas(s.registry, builderToolNames)

	for {
		resp, err := s.gateway.Complete(ctx, llm.CompleteRequest{
			Phase:       phase,
			IterationID: s.iterationID,
			System:      system,
			Messages:    s.conversation,
			Tools:       tools,
		})
		if err != nil {
			return nil, err
		}
		s.conversation = append(s.conversation, resp)

		toolUses := resp.ToolUses()
		if len(toolUses) == 0 {
			return s.ops, nil
		}

		submitted := false
		var results []model.ContentBlock
		for _, call := range toolUses {
			if call.ToolName == "submit_edits" {
				submitted = true
				results = append(results, model.ContentBlock{
					Type: model.BlockToolResult, ToolResultID: call.ToolUseID, Text: "edits submitted",
				})
				continue
			}

			result := s.registry.Execute(ctx, call.ToolName, call.ToolInput)
			results = append(results, model.ContentBlock{
				Type: model.BlockToolResult, ToolResultID: call.ToolUseID,
				Text: result.Output, IsError: result.IsError,
			})
			if !result.IsError {
				if op, ok := editOperationFromCall(call); ok {
					s.ops = append(s.ops, op)
				}
			}
		}

		s.conversation = append(s.conversation, model.Message{Role: model.RoleTool, Content: results})

		if submitted {
			return s.ops, nil
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... truncated (%d chars total)", len(s))
}

// editOperationFromCall reconstructs the EditOperation a successful
// edit_file/create_file/delete_file tool call performed, so CreatePatch's
// return value mirrors what was actually applied to the workspace without
// the Session duplicating Workspace.ApplyEdits' own logic.
func editOperationFromCall(call model.ContentBlock) (model.EditOperation, bool) {
	path, _ := call.ToolInput["path"].(string)
	switch call.ToolName {
	case "edit_file":
		oldString, _ := call.ToolInput["old_string"].(string)
		newString, _ := call.ToolInput["new_string"].(string)
		return model.Replace(path, oldString, newString), true
	case "create_file":
		content, _ := call.ToolInput["content"].(string)
		return model.Create(path, content), true
	case "delete_file":
		return model.Delete(path), true
	default:
		return model.EditOperation{}, false
	}
}

func toolSchemas(r *tool.Registry, names []string) []llm.ToolSchema {
	defs := r.Definitions(names...)
	out := make([]llm.ToolSchema, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}
