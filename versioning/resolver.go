// Package versioning resolves version strings to commits and operates on the primary working
// copy: checkout, rollback, listing and diffs between versions.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/repository"
)

// Resolver maps version strings to commits. It has no side effects.
type Resolver struct {
	h *repository.Handle
}

// NewResolver returns a Resolver for h.
func NewResolver(h *repository.Handle) *Resolver {
	return &Resolver{h: h}
}

// Resolve maps version to a commit. Candidates are tried in order:
//
//  1. "" or "HEAD": HEAD of the primary working copy
//  2. a tag (annotated tags are peeled)
//  3. a local branch
//  4. a branch of the origin remote
//  5. a full or abbreviated commit hash, or a relative ref such as HEAD~1, via git rev-parse
//
// Failures are *promptgit.VersionError wrapping promptgit.ErrUnresolvableVersion.
func (r *Resolver) Resolve(ctx context.Context, version string) (promptgit.VersionRef, error) {
	if version == "" || version == "HEAD" {
		head, err := r.h.Head()
		if err != nil {
			return promptgit.VersionRef{}, unresolvable(version, err)
		}
		return promptgit.VersionRef{Hash: head.Hash, Label: "HEAD", Kind: promptgit.RefHead}, nil
	}
	if strings.HasPrefix(version, "-") {
		return promptgit.VersionRef{}, unresolvable(version, errors.New("version must not start with '-'"))
	}

	if plainRefName(version) {
		lookups := []struct {
			name plumbing.ReferenceName
			kind promptgit.RefKind
		}{
			{plumbing.NewTagReferenceName(version), promptgit.RefTag},
			{plumbing.NewBranchReferenceName(version), promptgit.RefBranch},
			{plumbing.NewRemoteReferenceName(repository.RemoteName, version), promptgit.RefRemoteBranch},
		}
		for _, l := range lookups {
			hash, ok, err := r.h.ResolveRef(l.name)
			if err != nil {
				return promptgit.VersionRef{}, unresolvable(version, err)
			}
			if ok {
				return promptgit.VersionRef{Hash: hash, Label: version, Kind: l.kind}, nil
			}
		}
	}

	if !revisionLike(version) {
		return promptgit.VersionRef{}, unresolvable(version, nil)
	}
	out, err := r.h.Git(ctx, "rev-parse", "--verify", "--quiet", "--end-of-options", version+"^{commit}")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return promptgit.VersionRef{}, ctxErr
		}
		return promptgit.VersionRef{}, unresolvable(version, nil)
	}
	return promptgit.VersionRef{Hash: out, Label: version, Kind: promptgit.RefCommit}, nil
}

func unresolvable(version string, cause error) error {
	err := promptgit.ErrUnresolvableVersion
	if cause != nil {
		err = fmt.Errorf("%w: %w", promptgit.ErrUnresolvableVersion, cause)
	}
	return &promptgit.VersionError{Version: version, Err: err}
}

// plainRefName reports whether s can be looked up as a short ref name without touching paths
// outside the refs namespace. It is stricter than git check-ref-format.
func plainRefName(s string) bool {
	if s == "" || strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") ||
		strings.HasSuffix(s, ".") || strings.HasSuffix(s, ".lock") ||
		strings.Contains(s, "..") || strings.Contains(s, "//") || strings.Contains(s, "@{") {
		return false
	}
	for _, c := range s {
		if c < 0x20 || c == 0x7f || strings.ContainsRune(" ~^:?*[\\", c) {
			return false
		}
	}
	for _, part := range strings.Split(s, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	return true
}

// revisionLike reports whether s is a 4 to 40 character hex string or a relative revision.
func revisionLike(s string) bool {
	if strings.ContainsAny(s, "~^") || strings.Contains(s, "@{") {
		return true
	}
	if len(s) < 4 || len(s) > 40 {
		return false
	}
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
