// Package scm is the Source-Control Adapter (SPEC_FULL.md 4.D): an
// explicit Workspace handle over one cloned working copy, built on
// go-git/go-git/v5 instead of the gateway's shell-out git_tool.go, per
// SPEC_FULL.md's redesign note that the working copy must be an explicit
// handle rather than a module-level singleton.
package scm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/errs"
)

// Credential authenticates against the remote forge over HTTPS.
type Credential struct {
	Username string
	Token    string
}

func (c Credential) auth() *http.BasicAuth {
	return &http.BasicAuth{Username: c.Username, Password: c.Token}
}

// Workspace is one cloned working copy rooted at Path. It is instantiated
// once at startup and must be disposed via ResetWorkspace in a deferred
// block on every exit path of the iteration it serves.
type Workspace struct {
	Path         string
	BranchPrefix string
	credential   Credential
	repo         *git.Repository
	log          *zap.Logger
}

// Clone clones owner/repo's default branch into path, or opens it if it
// already exists there from a prior iteration.
func Clone(ctx context.Context, cred Credential, owner, repo, path, branchPrefix string, log *zap.Logger) (*Workspace, error) {
	url := fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)

	r, err := git.PlainOpen(path)
	if err == nil {
		w := &Workspace{Path: path, BranchPrefix: branchPrefix, credential: cred, repo: r, log: log}
		if err := w.fetch(ctx); err != nil {
			return nil, err
		}
		return w, nil
	}

	r, err = git.PlainCloneContext(ctx, path, false, &git.CloneOptions{
		URL:  url,
		Auth: cred.auth(),
	})
	if err != nil {
		return nil, errs.Wrap(errs.WorkspaceSetupFailed, "clone "+url, err)
	}

	return &Workspace{Path: path, BranchPrefix: branchPrefix, credential: cred, repo: r, log: log}, nil
}

func (w *Workspace) fetch(ctx context.Context) error {
	err := w.repo.FetchContext(ctx, &git.FetchOptions{Auth: w.credential.auth(), Force: true})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return errs.Wrap(errs.GitOperation, "fetch", err)
	}
	return nil
}

func (w *Workspace) worktree() (*git.Worktree, error) {
	wt, err := w.repo.Worktree()
	if err != nil {
		return nil, errs.Wrap(errs.GitOperation, "open worktree", err)
	}
	return wt, nil
}

var branchSanitizer = regexp.MustCompile(`[^a-z0-9-/]`)

// branchName normalizes a human title into a branch name: lowercase,
// whitespace to dash, strip invalid chars, truncate to 60, prefix the
// stable agent branch prefix.
func (w *Workspace) branchName(humanTitle string) string {
	s := strings.ToLower(humanTitle)
	s = strings.Join(strings.Fields(s), "-")
	s = branchSanitizer.ReplaceAllString(s, "")
	if len(s) > 60 {
		s = s[:60]
	}
	return w.BranchPrefix + s
}

// CreateBranch checks out a new branch off main, named from humanTitle.
func (w *Workspace) CreateBranch(humanTitle string) (string, error) {
	name := w.branchName(humanTitle)

	wt, err := w.worktree()
	if err != nil {
		return "", err
	}

	headRef, err := w.repo.Head()
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "resolve HEAD", err)
	}

	ref := plumbing.NewBranchReferenceName(name)
	if err := wt.Checkout(&git.CheckoutOptions{
		Hash:   headRef.Hash(),
		Branch: ref,
		Create: true,
	}); err != nil {
		return "", errs.Wrap(errs.GitOperation, "create branch "+name, err)
	}
	return name, nil
}

// ApplyEdits applies every operation in order. All failures are collected;
// if any exist the whole call fails with a concatenated message, but
// partial success is retained on disk per SPEC_FULL.md 4.D.
func (w *Workspace) ApplyEdits(ops []model.EditOperation) error {
	var failures []string
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			failures = append(failures, err.Error())
			continue
		}
		if err := w.applyOne(op); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return errs.New(errs.EditConflict, strings.Join(failures, "; "))
	}
	return nil
}

func (w *Workspace) applyOne(op model.EditOperation) error {
	full := filepath.Join(w.Path, op.Path)
	switch op.Kind {
	case model.EditReplace:
		return w.applyReplace(full, op)
	case model.EditCreate:
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", op.Path, err)
		}
		if err := os.WriteFile(full, []byte(op.Content), 0o644); err != nil {
			return fmt.Errorf("create %s: %w", op.Path, err)
		}
		return nil
	case model.EditDelete:
		if err := os.Remove(full); err != nil {
			return fmt.Errorf("delete %s: %w", op.Path, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown edit kind %q for %s", op.Kind, op.Path)
	}
}

// applyReplace enforces the single-match invariant: oldString must occur
// exactly once in the file, else the operation fails without touching
// disk.
func (w *Workspace) applyReplace(full string, op model.EditOperation) error {
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("replace %s: %w", op.Path, err)
	}
	content := string(data)

	count := strings.Count(content, op.OldString)
	switch {
	case count == 0:
		return fmt.Errorf("replace %s: oldString not found", op.Path)
	case count > 1:
		return fmt.Errorf("replace %s: oldString matches multiple locations", op.Path)
	}

	idx := strings.Index(content, op.OldString)
	updated := content[:idx] + op.NewString + content[idx+len(op.OldString):]
	return os.WriteFile(full, []byte(updated), 0o644)
}

// CommitAndPush stages everything (new files included), commits, and
// pushes the current branch, optionally force-pushing over a prior
// fix-loop commit.
func (w *Workspace) CommitAndPush(ctx context.Context, message string, force bool) error {
	wt, err := w.worktree()
	if err != nil {
		return err
	}
	if _, err := wt.Add("."); err != nil {
		return errs.Wrap(errs.GitOperation, "stage changes", err)
	}

	sig := &object.Signature{Name: "seedgpt-agent", Email: "agent@seedgpt.invalid", When: time.Now()}
	if _, err := wt.Commit(message, &git.CommitOptions{Author: sig}); err != nil {
		return errs.Wrap(errs.GitOperation, "commit", err)
	}

	head, err := w.repo.Head()
	if err != nil {
		return errs.Wrap(errs.GitOperation, "resolve HEAD before push", err)
	}

	refSpec := config.RefSpec(fmt.Sprintf("%s:%s", head.Name(), head.Name()))
	pushOpts := &git.PushOptions{Auth: w.credential.auth(), RefSpecs: []config.RefSpec{refSpec}, Force: force}
	if err := w.repo.PushContext(ctx, pushOpts); err != nil && err != git.NoErrAlreadyUpToDate {
		return errs.Wrap(errs.GitOperation, "push", err)
	}
	return nil
}

// ResetToMain checks the worktree back out onto main without discarding
// history.
func (w *Workspace) ResetToMain(ctx context.Context) error {
	if err := w.fetch(ctx); err != nil {
		return err
	}
	wt, err := w.worktree()
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("main"), Force: true}); err != nil {
		return errs.Wrap(errs.GitOperation, "checkout main", err)
	}
	return nil
}

func (w *Workspace) GetHeadSha() (string, error) {
	head, err := w.repo.Head()
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "resolve HEAD", err)
	}
	return head.Hash().String(), nil
}

// GetRecentLog returns the last n commit subjects, newest first.
func (w *Workspace) GetRecentLog(n int) ([]string, error) {
	head, err := w.repo.Head()
	if err != nil {
		return nil, errs.Wrap(errs.GitOperation, "resolve HEAD", err)
	}
	iter, err := w.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errs.Wrap(errs.GitOperation, "log", err)
	}
	defer iter.Close()

	var lines []string
	for len(lines) < n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		lines = append(lines, fmt.Sprintf("%s %s", c.Hash.String()[:8], strings.SplitN(c.Message, "\n", 2)[0]))
	}
	return lines, nil
}

const maxDiffLines = 500

// GetDiff renders the patch between main and the current HEAD, with
// created/deleted files abbreviated to a single line each and the whole
// body truncated past maxDiffLines.
func (w *Workspace) GetDiff() (string, error) {
	mainRef, err := w.repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "resolve main", err)
	}
	mainCommit, err := w.repo.CommitObject(mainRef.Hash())
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "load main commit", err)
	}
	mainTree, err := mainCommit.Tree()
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "load main tree", err)
	}

	head, err := w.repo.Head()
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "resolve HEAD", err)
	}
	headCommit, err := w.repo.CommitObject(head.Hash())
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "load HEAD commit", err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "load HEAD tree", err)
	}

	changes, err := mainTree.Diff(headTree)
	if err != nil {
		return "", errs.Wrap(errs.GitOperation, "diff trees", err)
	}

	var b strings.Builder
	lines := 0
	for _, c := range changes {
		action, err := c.Action()
		if err != nil {
			continue
		}
		switch action.String() {
		case "Insert":
			fmt.Fprintf(&b, "created: %s\n", c.To.Name)
			lines++
			continue
		case "Delete":
			fmt.Fprintf(&b, "deleted: %s\n", c.From.Name)
			lines++
			continue
		}

		patch, err := c.Patch()
		if err != nil {
			continue
		}
		for _, raw := range strings.Split(patch.String(), "\n") {
			if lines >= maxDiffLines {
				b.WriteString("... diff truncated\n")
				return b.String(), nil
			}
			b.WriteString(raw)
			b.WriteByte('\n')
			lines++
		}
	}
	return b.String(), nil
}

// ResetWorkspace discards all local changes, returns to main, and pulls.
// Always called from a deferred block so a failed iteration never leaves
// the working copy dirty for the next one.
func (w *Workspace) ResetWorkspace(ctx context.Context) error {
	wt, err := w.worktree()
	if err != nil {
		return err
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return errs.Wrap(errs.GitOperation, "hard reset", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return errs.Wrap(errs.GitOperation, "clean", err)
	}
	if err := w.ResetToMain(ctx); err != nil {
		return err
	}
	if err := wt.Pull(&git.PullOptions{Auth: w.credential.auth()}); err != nil && err != git.NoErrAlreadyUpToDate {
		return errs.Wrap(errs.GitOperation, "pull", err)
	}
	return nil
}
