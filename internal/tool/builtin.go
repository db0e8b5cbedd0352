package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/memory"
	"github.com/ngoclaw/ngoclaw/gateway/internal/scm"
	"github.com/ngoclaw/ngoclaw/gateway/internal/store"
)

// maxReadBytes caps what read_file and grep_search return to the model,
// mirroring the gateway's truncation convention for large tool output.
const maxReadBytes = 32 * 1024

// RegisterFilesystemTools registers the workspace-rooted read/edit/search
// tools, all scoped to ws.Path so a planner or builder can never escape the
// cloned working copy.
func RegisterFilesystemTools(r *Registry, ws *scm.Workspace) {
	r.Register(Tool{
		Definition: Definition{
			Name:        "read_file",
			Description: "Read a file's contents relative to the workspace root.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			path, err := StringArg(input, "path")
			if err != nil {
				return Err(err.Error())
			}
			full, err := resolveInWorkspace(ws, path)
			if err != nil {
				return Err(err.Error())
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return Errf("read %s: %v", path, err)
			}
			return Ok(truncate(string(data), maxReadBytes))
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "list_directory",
			Description: "List entries of a directory relative to the workspace root.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			path := OptStringArg(input, "path", ".")
			full, err := resolveInWorkspace(ws, path)
			if err != nil {
				return Err(err.Error())
			}
			entries, err := os.ReadDir(full)
			if err != nil {
				return Errf("list %s: %v", path, err)
			}
			var lines []string
			for _, e := range entries {
				if e.IsDir() {
					lines = append(lines, e.Name()+"/")
				} else {
					lines = append(lines, e.Name())
				}
			}
			sort.Strings(lines)
			return Ok(strings.Join(lines, "\n"))
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "file_search",
			Description: "Find files whose workspace-relative path matches a glob pattern, e.g. internal/*/*.go. A * never matches across a path separator.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"pattern": map[string]interface{}{"type": "string"}},
				"required":   []string{"pattern"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			pattern, err := StringArg(input, "pattern")
			if err != nil {
				return Err(err.Error())
			}
			var matches []string
			walkErr := filepath.WalkDir(ws.Path, func(p string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				rel, relErr := filepath.Rel(ws.Path, p)
				if relErr != nil || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
					return nil
				}
				if ok, _ := filepath.Match(pattern, rel); ok {
					matches = append(matches, rel)
				}
				return nil
			})
			if walkErr != nil {
				return Errf("file_search: %v", walkErr)
			}
			if len(matches) == 0 {
				return Ok("no files matched")
			}
			sort.Strings(matches)
			return Ok(strings.Join(matches, "\n"))
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "grep_search",
			Description: "Search file contents under the workspace for a regular expression.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string"},
					"glob":  map[string]interface{}{"type": "string"},
				},
				"required": []string{"query"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			query, err := StringArg(input, "query")
			if err != nil {
				return Err(err.Error())
			}
			glob := OptStringArg(input, "glob", "*")
			re, err := regexp.Compile(query)
			if err != nil {
				return Errf("invalid pattern: %v", err)
			}

			var out strings.Builder
			hits := 0
			walkErr := filepath.WalkDir(ws.Path, func(p string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() || hits >= 200 {
					return nil
				}
				rel, relErr := filepath.Rel(ws.Path, p)
				if relErr != nil || strings.HasPrefix(rel, ".git"+string(filepath.Separator)) {
					return nil
				}
				if ok, _ := filepath.Match(glob, filepath.Base(rel)); !ok {
					return nil
				}
				data, readErr := os.ReadFile(p)
				if readErr != nil {
					return nil
				}
				for i, line := range strings.Split(string(data), "\n") {
					if re.MatchString(line) {
						fmt.Fprintf(&out, "%s:%d: %s\n", rel, i+1, line)
						hits++
					}
				}
				return nil
			})
			if walkErr != nil {
				return Errf("grep_search: %v", walkErr)
			}
			if hits == 0 {
				return Ok("no matches")
			}
			return Ok(truncate(out.String(), maxReadBytes))
		},
	})

	r.Register(editTool("edit_file", model.EditReplace, ws))
	r.Register(editTool("create_file", model.EditCreate, ws))
	r.Register(editTool("delete_file", model.EditDelete, ws))

	r.Register(Tool{
		Definition: Definition{
			Name:        "git_diff",
			Description: "Show the diff between main and the current branch's last commit, truncated for readability. Uncommitted working-copy changes are not included.",
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			diff, err := ws.GetDiff()
			if err != nil {
				return Errf("git_diff: %v", err)
			}
			return Ok(diff)
		},
	})
}

// editTool builds the edit_file/create_file/delete_file handlers, each a
// thin single-operation wrapper over Workspace.ApplyEdits.
func editTool(name string, kind model.EditKind, ws *scm.Workspace) Tool {
	props := map[string]interface{}{"path": map[string]interface{}{"type": "string"}}
	required := []string{"path"}
	switch kind {
	case model.EditReplace:
		props["old_string"] = map[string]interface{}{"type": "string"}
		props["new_string"] = map[string]interface{}{"type": "string"}
		required = append(required, "old_string", "new_string")
	case model.EditCreate:
		props["content"] = map[string]interface{}{"type": "string"}
		required = append(required, "content")
	}

	return Tool{
		Definition: Definition{
			Name:        name,
			Description: editDescription(kind),
			Parameters:  map[string]interface{}{"type": "object", "properties": props, "required": required},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			path, err := StringArg(input, "path")
			if err != nil {
				return Err(err.Error())
			}
			op := model.EditOperation{Kind: kind, Path: path}
			switch kind {
			case model.EditReplace:
				op.OldString = OptStringArg(input, "old_string", "")
				op.NewString = OptStringArg(input, "new_string", "")
			case model.EditCreate:
				op.Content = OptStringArg(input, "content", "")
			}
			if err := ws.ApplyEdits([]model.EditOperation{op}); err != nil {
				return Err(err.Error())
			}
			return Ok(fmt.Sprintf("%s applied to %s", name, path))
		},
	}
}

func editDescription(kind model.EditKind) string {
	switch kind {
	case model.EditReplace:
		return "Replace an exact, uniquely-occurring string in a file."
	case model.EditCreate:
		return "Create a new file with the given content."
	case model.EditDelete:
		return "Delete a file."
	default:
		return ""
	}
}

func resolveInWorkspace(ws *scm.Workspace, rel string) (string, error) {
	full := filepath.Join(ws.Path, rel)
	if !strings.HasPrefix(full, filepath.Clean(ws.Path)+string(filepath.Separator)) && full != filepath.Clean(ws.Path) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return full, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... truncated (%d bytes total)", len(s))
}

// RegisterMemoryTools registers the recall/store/idea tools backed by the
// Memory Service.
func RegisterMemoryTools(r *Registry, svc *memory.Service) {
	r.Register(Tool{
		Definition: Definition{
			Name:        "recall",
			Description: "Search past notes and outcomes by free-text query.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
				"required":   []string{"query"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			query, err := StringArg(input, "query")
			if err != nil {
				return Err(err.Error())
			}
			out, err := svc.Recall(ctx, query)
			if err != nil {
				return Errf("recall: %v", err)
			}
			if out == "" {
				return Ok("no memories matched")
			}
			return Ok(out)
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "recall_by_id",
			Description: "Fetch one memory item by its id.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
				"required":   []string{"id"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			id, err := StringArg(input, "id")
			if err != nil {
				return Err(err.Error())
			}
			out, err := svc.RecallByID(ctx, id)
			if err != nil {
				return Errf("recall_by_id: %v", err)
			}
			return Ok(out)
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "store_note",
			Description: "Pin a durable note to remember across iterations.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"content": map[string]interface{}{"type": "string"}},
				"required":   []string{"content"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			content, err := StringArg(input, "content")
			if err != nil {
				return Err(err.Error())
			}
			out, err := svc.StorePinned(ctx, content)
			if err != nil {
				return Errf("store_note: %v", err)
			}
			return Ok(out)
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "dismiss_note",
			Description: "Unpin a previously stored note so it no longer appears in the notes section.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"id": map[string]interface{}{"type": "string"}},
				"required":   []string{"id"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			id, err := StringArg(input, "id")
			if err != nil {
				return Err(err.Error())
			}
			if err := svc.Unpin(ctx, id); err != nil {
				return Errf("dismiss_note: %v", err)
			}
			return Ok("note " + id + " unpinned")
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "store_idea",
			Description: "Record a follow-up idea for a future iteration to pick up.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"description": map[string]interface{}{"type": "string"},
					"context":     map[string]interface{}{"type": "string"},
				},
				"required": []string{"description"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			description, err := StringArg(input, "description")
			if err != nil {
				return Err(err.Error())
			}
			ideaContext := OptStringArg(input, "context", "")
			out, err := svc.StoreIdea(ctx, description, ideaContext)
			if err != nil {
				return Errf("store_idea: %v", err)
			}
			return Ok(out)
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "update_idea_status",
			Description: "Mark a stored idea as attempted or completed.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"id":     map[string]interface{}{"type": "string"},
					"status": map[string]interface{}{"type": "string", "enum": []string{"attempted", "completed"}},
				},
				"required": []string{"id", "status"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			id, err := StringArg(input, "id")
			if err != nil {
				return Err(err.Error())
			}
			statusStr, err := StringArg(input, "status")
			if err != nil {
				return Err(err.Error())
			}
			status := model.IdeaStatus(statusStr)
			if status != model.IdeaAttempted && status != model.IdeaCompleted {
				return Errf("update_idea_status: invalid status %q", statusStr)
			}
			if err := svc.UpdateIdeaStatus(ctx, id, status); err != nil {
				return Errf("update_idea_status: %v", err)
			}
			return Ok(fmt.Sprintf("idea %s marked %s", id, status))
		},
	})
}

// RegisterIntrospectionTools registers the agent's self-query tools over
// its own run history, backed directly by the Record Store.
func RegisterIntrospectionTools(r *Registry, s store.Store) {
	r.Register(Tool{
		Definition: Definition{
			Name:        "query_iteration_history",
			Description: "List recent iteration outcomes (merged/abandoned) with their summaries.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"limit": map[string]interface{}{"type": "integer"}},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			limit := OptIntArg(input, "limit", 10)
			logs, err := s.FindIterationLogs(ctx, store.Query{Sort: "-created_at", Limit: limit})
			if err != nil {
				return Errf("query_iteration_history: %v", err)
			}
			if len(logs) == 0 {
				return Ok("no prior iterations recorded")
			}
			var lines []string
			for _, l := range logs {
				lines = append(lines, fmt.Sprintf("%s [%s] merged=%v outcome=%s",
					l.IterationID, l.CreatedAt.Format("2006-01-02 15:04:05"), l.Merged, l.Outcome))
			}
			return Ok(strings.Join(lines, "\n"))
		},
	})

	r.Register(Tool{
		Definition: Definition{
			Name:        "query_performance_metrics",
			Description: "Summarize recent LLM spend and token usage by phase.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{"limit": map[string]interface{}{"type": "integer"}},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			limit := OptIntArg(input, "limit", 200)
			records, err := s.FindGeneratedRecords(ctx, store.Query{Sort: "-created_at", Limit: limit})
			if err != nil {
				return Errf("query_performance_metrics: %v", err)
			}
			if len(records) == 0 {
				return Ok("no LLM usage recorded yet")
			}

			totals := map[model.Phase]*model.PhaseUsage{}
			for _, rec := range records {
				t, ok := totals[rec.Phase]
				if !ok {
					t = &model.PhaseUsage{Phase: rec.Phase}
					totals[rec.Phase] = t
				}
				t.InputTokens += rec.InputTokens
				t.OutputTokens += rec.OutputTokens
				t.Cost += rec.Cost
				t.Calls++
			}

			phases := make([]model.Phase, 0, len(totals))
			for p := range totals {
				phases = append(phases, p)
			}
			sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })

			var lines []string
			for _, p := range phases {
				t := totals[p]
				lines = append(lines, fmt.Sprintf("%s: %d calls, %d in / %d out tokens, $%.4f",
					t.Phase, t.Calls, t.InputTokens, t.OutputTokens, t.Cost))
			}
			if all, err := s.DistinctGeneratedPhases(ctx); err == nil && len(all) > 0 {
				lines = append(lines, fmt.Sprintf("phases ever run: %s", strings.Join(all, ", ")))
			}
			return Ok(strings.Join(lines, "\n"))
		},
	})
}

// RegisterQualityTool registers code_quality, which shells out to command
// (e.g. `go build ./...`, `go vet ./...`) inside the workspace under a hard
// timeout — the one concrete survivor of the gateway's process sandbox,
// narrowed to this single validation use rather than an allowlisted
// general-purpose shell.
func RegisterQualityTool(r *Registry, ws *scm.Workspace, command []string, timeout time.Duration) {
	r.Register(Tool{
		Definition: Definition{
			Name:        "code_quality",
			Description: "Run the project's build/vet check against the current working copy and report its output.",
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			if len(command) == 0 {
				return Err("code_quality: no validation command configured")
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, command[0], command[1:]...)
			cmd.Dir = ws.Path
			out, err := cmd.CombinedOutput()
			if runCtx.Err() != nil {
				return Errf("code_quality timed out after %s", timeout)
			}
			if err != nil {
				return Result{Output: truncate(string(out), maxReadBytes), IsError: true}
			}
			if len(out) == 0 {
				return Ok("no issues found")
			}
			return Ok(truncate(string(out), maxReadBytes))
		},
	})
}

// RegisterSubmitEditsTool registers submit_edits, the builder/fixer
// phases' optional terminal tool call: an alternative to simply stopping
// tool calls, for a model that prefers to close out explicitly. The
// Session intercepts this call by name before dispatch (it never reaches
// this handler in practice via Registry.Execute from within drive()), but
// the handler is registered anyway so it appears in the tools list offered
// to the model and degrades gracefully if invoked through any other path.
func RegisterSubmitEditsTool(r *Registry) {
	r.Register(Tool{
		Definition: Definition{
			Name:        "submit_edits",
			Description: "Signal that the patch is complete; no further tool calls are needed this turn.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			return Ok("edits submitted")
		},
	})
}

// RegisterPlanTool registers submit_plan, the planner phase's terminal
// tool call. The planner dialog (package iteration) reads the Plan straight
// out of the tool_use block's input rather than out of this handler's Result — the
// handler only has to acknowledge receipt so the conversation can close.
func RegisterPlanTool(r *Registry) {
	r.Register(Tool{
		Definition: Definition{
			Name:        "submit_plan",
			Description: "Submit the finished plan for this iteration: a short title and a description of the change to make.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":       map[string]interface{}{"type": "string"},
					"description": map[string]interface{}{"type": "string"},
				},
				"required": []string{"title", "description"},
			},
		},
		Handler: func(ctx context.Context, input map[string]interface{}) Result {
			title, err := StringArg(input, "title")
			if err != nil {
				return Err(err.Error())
			}
			return Ok("plan received: " + title)
		},
	})
}
