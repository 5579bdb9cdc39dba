package worktree

import "fmt"

// VCSError is satisfied by every typed error this package can return from
// a push-scope operation, letting the landing worker dispatch on the
// concrete failure via errors.As instead of string matching.
type VCSError interface {
	error
	vcsError()
}

// PatchConflict reports that applying a patch left behind .rej files.
// FailedPaths lists the file paths that failed to apply; RejectPaths maps
// each failed path to the content of its .rej file, when it could be read.
type PatchConflict struct {
	FailedPaths []string
	RejectPaths map[string]string
}

func (e *PatchConflict) Error() string {
	return fmt.Sprintf("patch conflict in %d file(s): %v", len(e.FailedPaths), e.FailedPaths)
}
func (*PatchConflict) vcsError() {}

// PatchApplyError wraps a generic (non-reject) patch application failure.
type PatchApplyError struct{ Cause error }

func (e *PatchApplyError) Error() string { return fmt.Sprintf("applying patch: %v", e.Cause) }
func (e *PatchApplyError) Unwrap() error { return e.Cause }
func (*PatchApplyError) vcsError()       {}

// MalformedPatch reports that a patch could not even be parsed into a
// Record (missing headers, no diff start line, etc).
type MalformedPatch struct{ Cause error }

func (e *MalformedPatch) Error() string { return fmt.Sprintf("malformed patch: %v", e.Cause) }
func (e *MalformedPatch) Unwrap() error { return e.Cause }
func (*MalformedPatch) vcsError()       {}

// UpdateError wraps a failure to clean, pull, or update the working copy.
type UpdateError struct{ Cause error }

func (e *UpdateError) Error() string { return fmt.Sprintf("updating repository: %v", e.Cause) }
func (e *UpdateError) Unwrap() error { return e.Cause }
func (*UpdateError) vcsError()       {}

// AutoformatError reports that the repository's autoformatter failed.
type AutoformatError struct{ Stderr string }

func (e *AutoformatError) Error() string { return fmt.Sprintf("autoformat failed: %s", e.Stderr) }
func (*AutoformatError) vcsError()       {}

// PushError wraps a generic (non-tree-state) push failure.
type PushError struct{ Cause error }

func (e *PushError) Error() string { return fmt.Sprintf("push failed: %v", e.Cause) }
func (e *PushError) Unwrap() error { return e.Cause }
func (*PushError) vcsError()       {}

// TreeClosed reports that the destination tree is closed to landings.
type TreeClosed struct{ Cause error }

func (e *TreeClosed) Error() string { return fmt.Sprintf("tree is closed: %v", e.Cause) }
func (e *TreeClosed) Unwrap() error { return e.Cause }
func (*TreeClosed) vcsError()       {}

// TreeApprovalRequired reports that the destination tree requires
// release-manager approval that this landing job does not carry.
type TreeApprovalRequired struct{ Cause error }

func (e *TreeApprovalRequired) Error() string {
	return fmt.Sprintf("tree requires approval: %v", e.Cause)
}
func (e *TreeApprovalRequired) Unwrap() error { return e.Cause }
func (*TreeApprovalRequired) vcsError()       {}

// LostPushRace reports that another push landed first; the caller should
// retry after re-pulling.
type LostPushRace struct{ Cause error }

func (e *LostPushRace) Error() string { return fmt.Sprintf("lost the push race: %v", e.Cause) }
func (e *LostPushRace) Unwrap() error { return e.Cause }
func (*LostPushRace) vcsError()       {}
