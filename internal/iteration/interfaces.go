package iteration

import (
	"context"

	"github.com/ngoclaw/ngoclaw/gateway/internal/ci"
	"github.com/ngoclaw/ngoclaw/gateway/internal/domain/model"
	"github.com/ngoclaw/ngoclaw/gateway/internal/llm"
)

// patchGateway is the narrow LLM Gateway contract both the planner dialog
// and patch.Session need.
type patchGateway interface {
	Complete(ctx context.Context, req llm.CompleteRequest) (model.Message, error)
}

// forge is the narrow CI Bridge contract the controller drives.
type forge interface {
	OpenPR(ctx context.Context, branch, title, body string) (int, error)
	MergePR(ctx context.Context, number int) error
	ClosePR(ctx context.Context, number int) error
	DeleteRemoteBranch(ctx context.Context, name string) error
	AwaitChecks(ctx context.Context, sha string) (*ci.CheckResult, error)
	LatestMainCoverage(ctx context.Context) (string, error)
}

// workspace is the narrow Source-Control Adapter contract the controller
// drives.
type workspace interface {
	CreateBranch(humanTitle string) (string, error)
	ApplyEdits(ops []model.EditOperation) error
	CommitAndPush(ctx context.Context, message string, force bool) error
	ResetToMain(ctx context.Context) error
	ResetWorkspace(ctx context.Context) error
	GetHeadSha() (string, error)
	GetRecentLog(n int) ([]string, error)
	GetDiff() (string, error)
}

// memoryService is the narrow Memory Service contract the controller
// drives.
type memoryService interface {
	GetContext(ctx context.Context) (string, error)
	StorePast(ctx context.Context, content string) (*model.MemoryItem, error)
}

// CodeQualityAnalyzer is an external collaborator (explicitly out of scope
// per SPEC_FULL.md 4.C/§1): the possibly-dead-function finder that feeds
// the planner's dynamic system-prompt block. A deployment supplies a real
// AST-based one; the controller runs without it.
type CodeQualityAnalyzer interface {
	PossiblyDeadFunctions(ctx context.Context) (string, error)
}

type noopAnalyzer struct{}

func (noopAnalyzer) PossiblyDeadFunctions(context.Context) (string, error) { return "", nil }
