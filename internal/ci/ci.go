// Package ci is the CI Bridge: open/merge/close PRs, delete stragglers,
// and await a CI verdict by polling check runs with the staged timeouts
// of the awaitChecks state machine. Built on google/go-github, the same
// client several retrieved reference repos (sevigo-code-warden,
// compozy-compozy, alanmeadows-otto, randalmurphal-orc,
// nugget-thane-ai-agent, p-agent-test-kog-demo) use to drive GitHub
// PRs/checks.
package ci

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v65/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
)

const (
	defaultPollInterval    = 30 * time.Second
	defaultNoChecksTimeout = 2 * time.Minute
	defaultOverallTimeout  = 20 * time.Minute
	maxLogBytes            = 8 * 1024
)

// Timeouts overrides the staged durations awaitChecks polls against. A
// zero field falls back to the package default.
type Timeouts struct {
	PollInterval    time.Duration
	NoChecksTimeout time.Duration
	Overall         time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.PollInterval <= 0 {
		t.PollInterval = defaultPollInterval
	}
	if t.NoChecksTimeout <= 0 {
		t.NoChecksTimeout = defaultNoChecksTimeout
	}
	if t.Overall <= 0 {
		t.Overall = defaultOverallTimeout
	}
	return t
}

// CheckResult is the outcome of awaitChecks.
type CheckResult struct {
	Passed bool
	Error  string
}

// CoverageReader is an external collaborator: a coverage-JSON reader over
// the target repo's latest main-branch artifact. A deployment supplies a
// real one; the bridge works without it.
type CoverageReader interface {
	LatestMainCoverage(ctx context.Context) (string, error)
}

type noopCoverageReader struct{}

func (noopCoverageReader) LatestMainCoverage(context.Context) (string, error) { return "", nil }

// Bridge is the CI Bridge over one owner/repo.
type Bridge struct {
	client       *github.Client
	owner        string
	repo         string
	branchPrefix string
	coverage     CoverageReader
	timeouts     Timeouts
	log          *zap.Logger
}

// New builds a Bridge authenticated with a personal-access or app token.
// timeouts overrides awaitChecks' staged poll/no-checks/overall durations;
// its zero value uses the package defaults.
func New(token, owner, repo, branchPrefix string, timeouts Timeouts, coverage CoverageReader, log *zap.Logger) *Bridge {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	if coverage == nil {
		coverage = noopCoverageReader{}
	}
	return &Bridge{
		client:       github.NewClient(httpClient),
		owner:        owner,
		repo:         repo,
		branchPrefix: branchPrefix,
		coverage:     coverage,
		timeouts:     timeouts.withDefaults(),
		log:          log.With(zap.String("component", "ci_bridge")),
	}
}

// OpenPR opens a PR from branch onto main.
func (b *Bridge) OpenPR(ctx context.Context, branch, title, body string) (int, error) {
	head := branch
	base := "main"
	pr, _, err := b.client.PullRequests.Create(ctx, b.owner, b.repo, &github.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
	})
	if err != nil {
		return 0, errs.Wrap(errs.GitOperation, "open PR", err)
	}
	return pr.GetNumber(), nil
}

// MergePR squash-merges a PR.
func (b *Bridge) MergePR(ctx context.Context, number int) error {
	_, _, err := b.client.PullRequests.Merge(ctx, b.owner, b.repo, number, "", &github.PullRequestOptions{
		MergeMethod: "squash",
	})
	if err != nil {
		return errs.Wrap(errs.GitOperation, fmt.Sprintf("merge PR #%d", number), err)
	}
	return nil
}

// ClosePR closes a PR without merging.
func (b *Bridge) ClosePR(ctx context.Context, number int) error {
	state := "closed"
	_, _, err := b.client.PullRequests.Edit(ctx, b.owner, b.repo, number, &github.PullRequest{State: &state})
	if err != nil {
		return errs.Wrap(errs.GitOperation, fmt.Sprintf("close PR #%d", number), err)
	}
	return nil
}

// DeleteRemoteBranch is best-effort: callers are expected to ignore its
// error once the PR itself has already been merged or closed.
func (b *Bridge) DeleteRemoteBranch(ctx context.Context, name string) error {
	ref := "heads/" + name
	_, err := b.client.Git.DeleteRef(ctx, b.owner, b.repo, ref)
	if err != nil {
		return errs.Wrap(errs.GitOperation, "delete branch "+name, err)
	}
	return nil
}

// StragglerPR identifies an open PR left behind by a prior, interrupted run.
type StragglerPR struct {
	Number int
	Branch string
}

// FindOpenAgentPRs enumerates open PRs whose head ref starts with the
// agent's stable branch prefix, for startup straggler cleanup.
func (b *Bridge) FindOpenAgentPRs(ctx context.Context) ([]StragglerPR, error) {
	opts := &github.PullRequestListOptions{State: "open", ListOptions: github.ListOptions{PerPage: 100}}
	var out []StragglerPR
	for {
		prs, resp, err := b.client.PullRequests.List(ctx, b.owner, b.repo, opts)
		if err != nil {
			return nil, errs.Wrap(errs.GitOperation, "list open PRs", err)
		}
		for _, pr := range prs {
			if ref := pr.GetHead().GetRef(); strings.HasPrefix(ref, b.branchPrefix) {
				out = append(out, StragglerPR{Number: pr.GetNumber(), Branch: ref})
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// LatestMainCoverage delegates to the injected CoverageReader collaborator.
func (b *Bridge) LatestMainCoverage(ctx context.Context) (string, error) {
	return b.coverage.LatestMainCoverage(ctx)
}

// AwaitChecks implements a three-state polling machine — Waiting / NoRuns
// / Completed — against a no-checks grace timeout and an overall timeout.
func (b *Bridge) AwaitChecks(ctx context.Context, sha string) (*CheckResult, error) {
	start := time.Now()
	seenAnyRun := false

	for {
		elapsed := time.Since(start)
		if elapsed > b.timeouts.Overall {
			return nil, errs.New(errs.CiTimedOut, "Timed out")
		}

		runs, _, err := b.client.Checks.ListCheckRunsForRef(ctx, b.owner, b.repo, sha, &github.ListCheckRunsOptions{
			ListOptions: github.ListOptions{PerPage: 100},
		})
		if err != nil {
			return nil, errs.Wrap(errs.GitOperation, "list check runs", err)
		}

		if runs.GetTotal() == 0 {
			if !seenAnyRun && elapsed < b.timeouts.NoChecksTimeout {
				if err := sleepOrCancel(ctx, b.timeouts.PollInterval); err != nil {
					return nil, err
				}
				continue
			}
			return &CheckResult{Passed: true}, nil
		}
		seenAnyRun = true

		allCompleted := true
		var failing []*github.CheckRun
		for _, run := range runs.CheckRuns {
			if run.GetStatus() != "completed" {
				allCompleted = false
				continue
			}
			concl := run.GetConclusion()
			if concl != "success" && concl != "neutral" && concl != "skipped" {
				failing = append(failing, run)
			}
		}

		if !allCompleted {
			if err := sleepOrCancel(ctx, b.timeouts.PollInterval); err != nil {
				return nil, err
			}
			continue
		}

		if len(failing) == 0 {
			return &CheckResult{Passed: true}, nil
		}

		report, err := b.buildFailureReport(ctx, failing)
		if err != nil {
			b.log.Warn("failed to enrich failure report", zap.Error(err))
		}
		return &CheckResult{Passed: false, Error: report}, nil
	}
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "await checks cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// buildFailureReport compiles a compact error report: per failing check,
// name/conclusion/summary/annotations, plus a best-effort fetch of the
// failing job's downloaded logs. When no log is available the fallback
// line names the check run only; the job's step names are not fetched.
func (b *Bridge) buildFailureReport(ctx context.Context, failing []*github.CheckRun) (string, error) {
	var sb strings.Builder
	for _, run := range failing {
		fmt.Fprintf(&sb, "- %s: %s\n", run.GetName(), run.GetConclusion())
		if out := run.GetOutput(); out.Summary != nil && *out.Summary != "" {
			fmt.Fprintf(&sb, "  summary: %s\n", *out.Summary)
		} else if out.Text != nil && *out.Text != "" {
			fmt.Fprintf(&sb, "  output: %s\n", *out.Text)
		}
		annotations, _, err := b.client.Checks.ListCheckRunAnnotations(ctx, b.owner, b.repo, run.GetID(), nil)
		if err == nil {
			for _, a := range annotations {
				fmt.Fprintf(&sb, "  %s:%d %s\n", a.GetPath(), a.GetStartLine(), a.GetMessage())
			}
		}
		if log, err := b.fetchJobLog(ctx, run); err == nil && log != "" {
			fmt.Fprintf(&sb, "  log:\n%s\n", truncateBytes(log, maxLogBytes))
		} else {
			fmt.Fprintf(&sb, "  step: %s (log unavailable)\n", run.GetName())
		}
	}
	return sb.String(), nil
}

// fetchJobLog resolves the check run's owning workflow job and downloads
// its log, when resolvable. Returns ("", nil) rather than an error on any
// non-fatal miss, since this is a best-effort enrichment.
func (b *Bridge) fetchJobLog(ctx context.Context, run *github.CheckRun) (string, error) {
	detailsURL := run.GetDetailsURL()
	jobID, ok := jobIDFromDetailsURL(detailsURL)
	if !ok {
		return "", nil
	}

	url, _, err := b.client.Actions.GetWorkflowJobLogs(ctx, b.owner, b.repo, jobID, 3)
	if err != nil {
		return "", err
	}
	if url == nil {
		return "", nil
	}

	resp, err := http.Get(url.String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusForbidden {
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLogBytes*4))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// jobIDFromDetailsURL extracts the trailing numeric job id from a GitHub
// Actions "details_url" of the form
// https://github.com/{owner}/{repo}/actions/runs/{run}/job/{job}.
func jobIDFromDetailsURL(url string) (int64, bool) {
	idx := strings.LastIndex(url, "/job/")
	if idx == -1 {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscanf(url[idx+len("/job/"):], "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... truncated (%d bytes total)", len(s))
}
