package promptgit

import (
	"context"
	"errors"

	platformerrors "github.com/jmgilman/go/errors"
)

// Code maps err to a platform error code. An error that already carries a code keeps it.
func Code(err error) platformerrors.ErrorCode {
	var pe platformerrors.PlatformError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pe):
		return pe.Code()
	case errors.Is(err, ErrArtifactNotFound), errors.Is(err, ErrUnresolvableVersion), errors.Is(err, ErrNotRepository):
		return platformerrors.CodeNotFound
	case errors.Is(err, ErrPathTraversal):
		return platformerrors.CodeForbidden
	case errors.Is(err, ErrParse), errors.Is(err, ErrValidation):
		return platformerrors.CodeSchemaFailed
	case errors.Is(err, ErrRender), errors.Is(err, ErrMissingVariable), errors.Is(err, ErrVariableType),
		errors.Is(err, ErrInvalidPayload):
		return platformerrors.CodeInvalidInput
	case errors.Is(err, ErrDirtyWorkingCopy), errors.Is(err, ErrDetachedHead):
		return platformerrors.CodeConflict
	case errors.Is(err, ErrArtifactExists):
		return platformerrors.CodeAlreadyExists
	case errors.Is(err, ErrPublishFailed):
		return platformerrors.CodePublishFailed
	case errors.Is(err, ErrWorktreeCreationFailed):
		return platformerrors.CodeExecutionFailed
	case errors.Is(err, context.DeadlineExceeded):
		return platformerrors.CodeTimeout
	case errors.Is(err, context.Canceled):
		return platformerrors.CodeUnavailable
	default:
		return platformerrors.CodeInternal
	}
}

// PlatformError wraps err with its Code and the artifact path, version and variable it carries.
// It returns nil for a nil err.
func PlatformError(err error) platformerrors.PlatformError {
	if err == nil {
		return nil
	}
	var pe platformerrors.PlatformError
	if errors.As(err, &pe) {
		return pe
	}
	fields := make(map[string]any)
	var ae *ArtifactError
	if errors.As(err, &ae) {
		fields["path"] = ae.Path
		if ae.Version != "" {
			fields["version"] = ae.Version
		}
	}
	var ve *VersionError
	if errors.As(err, &ve) {
		fields["version"] = ve.Version
	}
	var varErr *VariableError
	if errors.As(err, &varErr) {
		fields["variable"] = varErr.Variable
		fields["artifact"] = varErr.Artifact
	}
	if len(fields) == 0 {
		fields = nil
	}
	return platformerrors.WrapWithContext(err, Code(err), err.Error(), fields)
}
