// Package iteration is the Iteration Controller: the top-level state
// machine that sequences the Record Store, Memory Service, LLM Gateway,
// Source-Control Adapter, CI Bridge, and Patch Session across one
// iteration and repeats until a change merges. The phase sequence (Idle
// -> Snapshot -> Plan -> Build -> Push -> AwaitChecks -> {Fix -> Push ->
// AwaitChecks}* -> {Merge|Abandon} -> Reflect -> Persist -> Idle) is
// modeled after the gateway's domain/service/state_machine.go
// validTransitions map-of-maps pattern, generalized from its chat-turn
// states to this agent's iteration phases.
package iteration

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
	"github.com/ngoclaw/ngoclaw/gateway/internal/llm"
	"github.com/ngoclaw/ngoclaw/gateway/internal/patch"
	"github.com/ngoclaw/ngoclaw/gateway/internal/store"
	"github.com/ngoclaw/ngoclaw/gateway/internal/tool"
)

// Phase is one state of the iteration state machine, used only for the
// OnTransition log-entry hook; the sequencing itself is plain Go control
// flow rather than an explicit transition table, since an iteration's path
// is a straight line with exactly one internal loop (the fix loop),
// unlike the gateway's chat turn, which can branch into compaction/retry
// from several states.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseSnapshot    Phase = "snapshot"
	PhasePlan        Phase = "plan"
	PhaseBuild       Phase = "build"
	PhasePush        Phase = "push"
	PhaseAwaitChecks Phase = "await_checks"
	PhaseFix         Phase = "fix"
	PhaseMerge       Phase = "merge"
	PhaseAbandon     Phase = "abandon"
	PhaseReflect     Phase = "reflect"
	PhasePersist     Phase = "persist"
)

// validTransitions documents the legal phase graph; transition checks
// against it so a bug in the sequencing surfaces immediately rather than
// silently producing a malformed IterationLog.
var validTransitions = map[Phase]map[Phase]bool{
	PhaseIdle:        {PhaseSnapshot: true},
	PhaseSnapshot:    {PhasePlan: true, PhaseReflect: true},
	PhasePlan:        {PhaseBuild: true, PhaseReflect: true},
	PhaseBuild:       {PhasePush: true, PhaseReflect: true},
	PhasePush:        {PhaseAwaitChecks: true, PhaseReflect: true},
	PhaseAwaitChecks: {PhaseFix: true, PhaseMerge: true, PhaseAbandon: true, PhaseReflect: true},
	PhaseFix:         {PhasePush: true, PhaseAbandon: true},
	PhaseMerge:       {PhaseReflect: true},
	PhaseAbandon:     {PhaseReflect: true},
	PhaseReflect:     {PhasePersist: true},
	PhasePersist:     {PhaseIdle: true},
}

// TransitionListener observes phase transitions, mirroring the gateway's
// OnTransition hook. Listeners receive only the (from, to) pair; the
// controller registers none itself and writes IterationLog entries
// separately.
type TransitionListener func(from, to Phase)

// Config bundles the Iteration Controller's tunables.
type Config struct {
	MaxFixAttempts int
	CommitMessage  func(title string) string
}

// Controller sequences one iteration at a time. It is not safe for
// concurrent use — SPEC_FULL.md 5 assumes a single flow of control and a
// single working copy.
type Controller struct {
	ws       workspace
	memory   memoryService
	gateway  patchGateway
	forge    forge
	store    store.Store
	registry *tool.Registry
	quality  CodeQualityAnalyzer
	cfg      Config
	log      *zap.Logger

	listeners []TransitionListener
	phase     Phase
}

func New(ws workspace, mem memoryService, gw patchGateway, f forge, s store.Store, registry *tool.Registry, quality CodeQualityAnalyzer, cfg Config, log *zap.Logger) *Controller {
	if quality == nil {
		quality = noopAnalyzer{}
	}
	if cfg.MaxFixAttempts <= 0 {
		cfg.MaxFixAttempts = 3
	}
	if cfg.CommitMessage == nil {
		cfg.CommitMessage = func(title string) string { return title }
	}
	return &Controller{
		ws: ws, memory: mem, gateway: gw, forge: f, store: s, registry: registry,
		quality: quality, cfg: cfg, log: log.With(zap.String("component", "iteration_controller")),
		phase: PhaseIdle,
	}
}

// OnTransition registers a phase-transition listener.
func (c *Controller) OnTransition(fn TransitionListener) {
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) transition(to Phase) {
	from := c.phase
	if allowed, ok := validTransitions[from]; !ok || !allowed[to] {
		c.log.Warn("unexpected phase transition", zap.String("from", string(from)), zap.String("to", string(to)))
	}
	c.phase = to
	for _, l := range c.listeners {
		l(from, to)
	}
}

// iterationRun accumulates the state one call to Iterate produces: log
// entries, phase usage, and the outcome string, so Persist can write one
// IterationLog at the end regardless of which exit path was taken.
type iterationRun struct {
	id        string
	started   time.Time
	entries   []model.LogEntry
	merged    bool
	outcome   string
	prNumber  int
	branch    string
}

func (r *iterationRun) logf(level model.LogLevel, format string, args ...interface{}) {
	r.entries = append(r.entries, model.LogEntry{
		Timestamp: time.Now().UTC(), Level: level, Message: fmt.Sprintf(format, args...),
	})
}

// Iterate runs exactly one plan -> build -> push -> checks -> (fix loop) ->
// merge-or-abandon -> reflect -> persist cycle and reports whether it
// merged. A false return with a nil error means the outer driver should
// start a fresh iteration; a non-nil error means Cancelled was observed
// and the outer driver should stop.
func (c *Controller) Iterate(ctx context.Context) (bool, error) {
	run := &iterationRun{id: uuid.NewString(), started: time.Now().UTC()}
	defer func() {
		if err := c.ws.ResetWorkspace(context.Background()); err != nil {
			c.log.Error("resetWorkspace failed", zap.Error(err))
		}
	}()

	c.transition(PhaseSnapshot)
	snapshot, err := c.snapshotCodebase(ctx)
	if err != nil {
		c.log.Warn("codebase snapshot failed, continuing without it", zap.Error(err))
	}

	memoryContext, err := c.memory.GetContext(ctx)
	if err != nil {
		return c.abortIteration(ctx, run, err)
	}
	commitLog, err := c.ws.GetRecentLog(20)
	if err != nil {
		c.log.Warn("recent log unavailable", zap.Error(err))
	}
	coverage, err := c.forge.LatestMainCoverage(ctx)
	if err != nil {
		c.log.Warn("coverage summary unavailable", zap.Error(err))
	}
	deadFuncs, err := c.quality.PossiblyDeadFunctions(ctx)
	if err != nil {
		c.log.Warn("dead function scan unavailable", zap.Error(err))
	}

	c.transition(PhasePlan)
	planResult, plannerMessages, err := plan(ctx, c.gateway, c.registry, snapshot, plannerDynamicContext{
		coverageSummary:   coverage,
		recentCommitLog:   strings.Join(commitLog, "\n"),
		memoryContext:     memoryContext,
		possiblyDeadFuncs: deadFuncs,
	}, run.id)
	if err != nil {
		return c.abortIteration(ctx, run, err)
	}
	run.logf(model.LogInfo, "planned %q", planResult.Title)

	c.storePastBestEffort(ctx, fmt.Sprintf("Planned change %q: %s", planResult.Title, planResult.Description))

	session := patch.New(planResult, memoryContext, c.gateway, c.registry, c.ws, run.id, c.cfg.MaxFixAttempts, c.log)

	branch, err := c.ws.CreateBranch(planResult.Title)
	if err != nil {
		return c.abortIteration(ctx, run, err)
	}
	run.branch = branch

	c.transition(PhaseBuild)
	edits, err := session.CreatePatch(ctx)
	if err != nil {
		return c.abortIteration(ctx, run, err)
	}
	if len(edits) == 0 {
		run.outcome = "Builder produced no edits."
		return c.finishWithoutPR(ctx, run, session, plannerMessages)
	}

	c.transition(PhasePush)
	if err := c.ws.CommitAndPush(ctx, c.cfg.CommitMessage(planResult.Title), false); err != nil {
		return c.abortIteration(ctx, run, err)
	}
	sha, err := c.ws.GetHeadSha()
	if err != nil {
		return c.abortIteration(ctx, run, err)
	}
	prNumber, err := c.forge.OpenPR(ctx, branch, planResult.Title, planResult.Description)
	if err != nil {
		return c.abortIteration(ctx, run, err)
	}
	run.prNumber = prNumber

	// Fix loop.
	for {
		c.transition(PhaseAwaitChecks)
		result, err := c.forge.AwaitChecks(ctx, sha)
		if err != nil {
			if errs.IsCancelled(err) {
				return false, err
			}
			return c.abortIterationWithPR(ctx, run, err)
		}

		if result.Passed {
			run.merged = true
			run.outcome = fmt.Sprintf("PR #%d merged successfully.", prNumber)
			break
		}

		c.transition(PhaseFix)
		if session.Exhausted() {
			run.outcome = fmt.Sprintf("CI failed: %s", truncateForOutcome(result.Error))
			break
		}

		run.logf(model.LogWarn, "CI failed, attempting fix: %s", truncateForOutcome(result.Error))
		c.storePastBestEffort(ctx, "CI failed: "+result.Error)

		fixEdits, err := session.FixPatch(ctx, result.Error)
		if err != nil {
			run.outcome = "Builder failed to fix: " + err.Error()
			break
		}
		if len(fixEdits) == 0 {
			run.outcome = "Builder produced no fix edits."
			break
		}

		c.transition(PhasePush)
		if err := c.ws.CommitAndPush(ctx, "fix: "+c.cfg.CommitMessage(planResult.Title), true); err != nil {
			return c.abortIterationWithPR(ctx, run, err)
		}
		sha, err = c.ws.GetHeadSha()
		if err != nil {
			return c.abortIterationWithPR(ctx, run, err)
		}
	}

	if run.merged {
		c.transition(PhaseMerge)
		if err := c.forge.MergePR(ctx, prNumber); err != nil {
			run.logf(model.LogError, "merge failed: %v", err)
		}
		if err := c.forge.DeleteRemoteBranch(ctx, branch); err != nil {
			run.logf(model.LogWarn, "branch delete failed: %v", err)
		}
		c.storePastBestEffort(ctx, fmt.Sprintf("Merged PR #%d successfully.", prNumber))
		if cov, err := c.forge.LatestMainCoverage(ctx); err == nil && cov != "" {
			c.storePastBestEffort(ctx, "Post-merge coverage: "+cov)
		}
	} else {
		c.transition(PhaseAbandon)
		if err := c.forge.ClosePR(ctx, prNumber); err != nil {
			run.logf(model.LogWarn, "close PR failed: %v", err)
		}
		if err := c.forge.DeleteRemoteBranch(ctx, branch); err != nil {
			run.logf(model.LogWarn, "branch delete failed: %v", err)
		}
		c.storePastBestEffort(ctx, fmt.Sprintf("Closed PR #%d — %s", prNumber, run.outcome))
	}

	return c.reflectAndPersist(ctx, run, session, plannerMessages)
}

// finishWithoutPR handles the "Builder produced no edits" exit: no commit,
// no PR, straight to reflection.
func (c *Controller) finishWithoutPR(ctx context.Context, run *iterationRun, session *patch.Session, plannerMessages []model.Message) (bool, error) {
	c.storePastBestEffort(ctx, run.outcome)
	return c.reflectAndPersist(ctx, run, session, plannerMessages)
}

// abortIteration handles an unrecovered error before a PR exists:
// LlmBatchFailed/LlmTimeout/GitOperation/CiTimedOut record an outcome,
// still run reflection best-effort, and return false so the outer loop
// starts fresh; Cancelled propagates immediately.
func (c *Controller) abortIteration(ctx context.Context, run *iterationRun, cause error) (bool, error) {
	if errs.IsCancelled(cause) {
		return false, cause
	}
	run.outcome = "Iteration aborted: " + cause.Error()
	c.storePastBestEffort(ctx, run.outcome)
	return c.reflectAndPersist(ctx, run, nil, nil)
}

// abortIterationWithPR is abortIteration's counterpart once a PR is open:
// it also closes the PR and best-effort deletes the branch before
// reflecting.
func (c *Controller) abortIterationWithPR(ctx context.Context, run *iterationRun, cause error) (bool, error) {
	if errs.IsCancelled(cause) {
		return false, cause
	}
	run.outcome = "Iteration aborted: " + cause.Error()
	if run.prNumber != 0 {
		if err := c.forge.ClosePR(ctx, run.prNumber); err != nil {
			run.logf(model.LogWarn, "close PR failed during abort: %v", err)
		}
		if run.branch != "" {
			if err := c.forge.DeleteRemoteBranch(ctx, run.branch); err != nil {
				run.logf(model.LogWarn, "branch delete failed during abort: %v", err)
			}
		}
	}
	c.storePastBestEffort(ctx, run.outcome)
	return c.reflectAndPersist(ctx, run, nil, nil)
}

const reflectSystemPrefix = "You are the reflection phase of an autonomous change agent. Summarize " +
	"what happened this iteration and what, if anything, future iterations should do differently."

// reflectAndPersist runs the best-effort reflect phase, stores its text as
// a memory item, and writes the final IterationLog.
func (c *Controller) reflectAndPersist(ctx context.Context, run *iterationRun, session *patch.Session, plannerMessages []model.Message) (bool, error) {
	c.transition(PhaseReflect)

	transcript := append([]model.Message{}, plannerMessages...)
	if session != nil {
		transcript = append(transcript, session.Conversation()...)
	}
	transcript = append(transcript, model.TextMessage(model.RoleUser, "Outcome: "+run.outcome))

	reflection, err := c.gateway.Complete(ctx, llm.CompleteRequest{
		Phase:       model.PhaseReflect,
		IterationID: run.id,
		System:      llm.AssembleSystemPrompt(reflectSystemPrefix, "", nil, ""),
		Messages:    transcript,
	})
	if err != nil {
		c.log.Warn("reflection phase failed, continuing best-effort", zap.Error(err))
	} else if text := reflection.TextOnly(); text != "" {
		c.storePastBestEffort(ctx, text)
	}

	c.transition(PhasePersist)
	c.persist(ctx, run)
	return run.merged, nil
}

func (c *Controller) persist(ctx context.Context, run *iterationRun) {
	usage := c.aggregateUsage(ctx, run.id)
	log := &model.IterationLog{
		ID:          uuid.NewString(),
		IterationID: run.id,
		Entries:     run.entries,
		TokenUsage:  usage,
		Merged:      run.merged,
		Outcome:     run.outcome,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.InsertIterationLog(ctx, log); err != nil {
		c.log.Error("failed to persist iteration log", zap.Error(err))
	}
	c.transition(PhaseIdle)
}

func (c *Controller) aggregateUsage(ctx context.Context, iterationID string) []model.PhaseUsage {
	records, err := c.store.FindGeneratedByIteration(ctx, iterationID)
	if err != nil {
		c.log.Warn("failed to aggregate token usage", zap.Error(err))
		return nil
	}
	totals := map[model.Phase]*model.PhaseUsage{}
	for _, r := range records {
		t, ok := totals[r.Phase]
		if !ok {
			t = &model.PhaseUsage{Phase: r.Phase}
			totals[r.Phase] = t
		}
		t.InputTokens += r.InputTokens
		t.OutputTokens += r.OutputTokens
		t.Cost += r.Cost
		t.Calls++
	}
	phases := make([]model.Phase, 0, len(totals))
	for p := range totals {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
	out := make([]model.PhaseUsage, len(phases))
	for i, p := range phases {
		out[i] = *totals[p]
	}
	return out
}

// storePastBestEffort records a past memory item; a StorageUnavailable
// failure here is swallowed per SPEC_FULL.md §7, so a storage outage on
// the crash-reporting path never masks the original iteration outcome.
func (c *Controller) storePastBestEffort(ctx context.Context, content string) {
	if _, err := c.memory.StorePast(ctx, content); err != nil {
		if errs.IsStorageUnavailable(err) {
			c.log.Warn("storage unavailable while recording memory, swallowed", zap.Error(err))
			return
		}
		c.log.Error("failed to store memory", zap.Error(err))
	}
}

const maxOutcomeChars = 2000

func truncateForOutcome(s string) string {
	if len(s) <= maxOutcomeChars {
		return s
	}
	return s[:maxOutcomeChars] + "... (truncated)"
}

// snapshotCodebase builds the large, stable codebase block the system
// prompt's cache marker attaches to: the entries of the workspace root, one
// level deep and not truncated, cheap enough to recompute every iteration
// without itself invalidating the cache (the cache key is content, not
// recency).
func (c *Controller) snapshotCodebase(ctx context.Context) (string, error) {
	result := c.registry.Execute(ctx, "list_directory", map[string]interface{}{"path": "."})
	if result.IsError {
		return "", fmt.Errorf("snapshot: %s", result.Output)
	}
	var b strings.Builder
	b.WriteString("Workspace root entries:\n")
	for _, line := range strings.Split(result.Output, "\n") {
		if line == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(filepath.ToSlash(line))
		b.WriteString("\n")
	}
	return b.String(), nil
}
