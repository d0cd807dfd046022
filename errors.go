package promptgit

import (
	"errors"
	"fmt"
)

// Sentinel errors for resolution, worktree, loading and rendering.
// All use prefix "promptgit:" for identification. Callers should use errors.Is/errors.As.
var (
	ErrUnresolvableVersion    = errors.New("promptgit: version does not resolve to a commit")
	ErrDirtyWorkingCopy       = errors.New("promptgit: working copy has uncommitted changes")
	ErrWorktreeCreationFailed = errors.New("promptgit: worktree creation failed")
	ErrArtifactNotFound       = errors.New("promptgit: artifact not found")
	ErrPathTraversal          = errors.New("promptgit: artifact path escapes snapshot root")
	ErrParse                  = errors.New("promptgit: artifact file is malformed")
	ErrRender                 = errors.New("promptgit: template rendering failed")
	ErrValidation             = errors.New("promptgit: artifact failed validation")
	ErrMissingVariable        = errors.New("promptgit: required template variable not provided")
	ErrVariableType           = errors.New("promptgit: variable value does not match declared type")
	ErrNotRepository          = errors.New("promptgit: not a git repository")
	ErrInvalidPayload         = errors.New("promptgit: payload must be a non-nil struct with prompt tags")
	ErrArtifactExists         = errors.New("promptgit: artifact or version tag already exists")
	ErrDetachedHead           = errors.New("promptgit: working copy is not on a branch")
	ErrPublishFailed          = errors.New("promptgit: committing the artifact failed")
)

// VersionError wraps a sentinel error with the version string that caused it.
type VersionError struct {
	Version string
	Err     error
}

// Error implements error.
func (e *VersionError) Error() string {
	return fmt.Sprintf("promptgit: version %q: %v", e.Version, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *VersionError) Unwrap() error { return e.Err }

// ArtifactError wraps a sentinel error with the artifact path and version.
// Version is empty when the request targeted the current HEAD.
type ArtifactError struct {
	Path    string
	Version string
	Err     error
}

// Error implements error.
func (e *ArtifactError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("promptgit: artifact %q: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("promptgit: artifact %q at %q: %v", e.Path, e.Version, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *ArtifactError) Unwrap() error { return e.Err }

// VariableError wraps a sentinel error with variable and artifact context.
// Use errors.Is(err, ErrMissingVariable) and errors.As(err, &variableErr) to inspect.
type VariableError struct {
	Variable string
	Artifact string
	Err      error
}

// Error implements error.
func (e *VariableError) Error() string {
	return fmt.Sprintf("promptgit: variable %q in artifact %q: %v", e.Variable, e.Artifact, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *VariableError) Unwrap() error { return e.Err }

// Compile-time checks that the typed errors implement error.
var (
	_ error = (*VersionError)(nil)
	_ error = (*ArtifactError)(nil)
	_ error = (*VariableError)(nil)
)
