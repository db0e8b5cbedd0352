// Package errs defines the tagged error kinds every component in this
// agent surfaces, per the error handling design in SPEC_FULL.md.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error kinds the iteration controller knows how
// to recover from or must surface.
type Kind string

const (
	ConfigMissing       Kind = "CONFIG_MISSING"
	StorageUnavailable  Kind = "STORAGE_UNAVAILABLE"
	WorkspaceSetupFailed Kind = "WORKSPACE_SETUP_FAILED"
	LlmBatchFailed      Kind = "LLM_BATCH_FAILED"
	LlmTimeout          Kind = "LLM_TIMEOUT"
	EditConflict        Kind = "EDIT_CONFLICT"
	GitOperation        Kind = "GIT_OPERATION"
	RemoteRateLimited   Kind = "REMOTE_RATE_LIMITED"
	CiFailed            Kind = "CI_FAILED"
	CiTimedOut          Kind = "CI_TIMED_OUT"
	ToolUsage           Kind = "TOOL_USAGE"
	Cancelled           Kind = "CANCELLED"
	NotFound            Kind = "NOT_FOUND"
	NotPinned           Kind = "NOT_PINNED"
	NotIdea             Kind = "NOT_IDEA"
)

// AppError is the single error type every component returns. Kind lets
// callers branch on recovery strategy without string-matching messages.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Err: cause}
}

func kindOf(err error) (Kind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind, true
	}
	return "", false
}

func Is(err error, kind Kind) bool {
	k, ok := kindOf(err)
	return ok && k == kind
}

func IsNotFound(err error) bool           { return Is(err, NotFound) }
func IsEditConflict(err error) bool       { return Is(err, EditConflict) }
func IsCancelled(err error) bool          { return Is(err, Cancelled) }
func IsStorageUnavailable(err error) bool { return Is(err, StorageUnavailable) }
func IsCiFailed(err error) bool           { return Is(err, CiFailed) }
func IsCiTimedOut(err error) bool         { return Is(err, CiTimedOut) }
