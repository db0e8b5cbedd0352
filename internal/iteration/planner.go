package iteration

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
	"github.com/ngoclaw/ngoclaw/gateway/internal/llm"
	"github.com/ngoclaw/ngoclaw/gateway/internal/tool"
)

var plannerToolNames = []string{
	"read_file", "grep_search", "file_search", "list_directory", "git_diff",
	"recall", "recall_by_id",
	"query_iteration_history", "query_performance_metrics", "code_quality",
	"submit_plan",
}

const plannerSystemPrefix = "You are the planner phase of an autonomous change agent. Decide one " +
	"concrete, small change to make to this repository, then call submit_plan with a short title " +
	"and a description of the change."

// plannerDynamicContext bundles the per-iteration dynamic blocks
// SPEC_FULL.md 4.C lists, in order, for the planner phase.
type plannerDynamicContext struct {
	coverageSummary   string
	recentCommitLog   string
	memoryContext     string
	possiblyDeadFuncs string
}

// plan drives a planner dialog until the model calls submit_plan, and
// returns the structured Plan plus the full planner transcript (used later
// by reflection).
func plan(ctx context.Context, gw patchGateway, registry *tool.Registry, codebaseSnapshot string, dyn plannerDynamicContext, iterationID string) (model.Plan, []model.Message, error) {
	system := llm.AssembleSystemPrompt(plannerSystemPrefix, codebaseSnapshot,
		llm.PlannerDynamicBlocks(llm.PlannerDynamicContext{
			CoverageSummary:   dyn.coverageSummary,
			RecentCommitLog:   dyn.recentCommitLog,
			MemoryContext:     dyn.memoryContext,
			PossiblyDeadFuncs: dyn.possiblyDeadFuncs,
		}), "")

	tools := toolSchemas(registry, plannerToolNames)
	conversation := []model.Message{model.TextMessage(model.RoleUser, "Decide the next change to make.")}

	for {
		resp, err := gw.Complete(ctx, llm.CompleteRequest{
			Phase:       model.PhasePlanner,
			IterationID: iterationID,
			System:      system,
			Messages:    conversation,
			Tools:       tools,
		})
		if err != nil {
			return model.Plan{}, nil, err
		}
		conversation = append(conversation, resp)

		for _, call := range resp.ToolUses() {
			if call.ToolName == "submit_plan" {
				title, _ := call.ToolInput["title"].(string)
				description, _ := call.ToolInput["description"].(string)
				if title == "" {
					return model.Plan{}, nil, errs.New(errs.ToolUsage, "submit_plan called without a title")
				}
				return model.Plan{Title: title, Description: description}, conversation, nil
			}
		}

		var results []model.ContentBlock
		for _, call := range resp.ToolUses() {
			result := registry.Execute(ctx, call.ToolName, call.ToolInput)
			results = append(results, model.ContentBlock{
				Type: model.BlockToolResult, ToolResultID: call.ToolUseID,
				Text: result.Output, IsError: result.IsError,
			})
		}
		if len(results) == 0 {
			return model.Plan{}, nil, errs.New(errs.ToolUsage, "planner turn ended without calling submit_plan")
		}
		conversation = append(conversation, model.Message{Role: model.RoleTool, Content: results})
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
