package versioning

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/loader"
	"github.com/skosovsky/promptgit/manifest"
)

// Publication describes one committed authoring change.
type Publication struct {
	Path    string // artifact identity
	File    string // repository-relative file
	Version string // semantic version written to the file; empty for removals
	Tag     string // scoped version tag; empty for removals
	Hash    string // commit created
	Message string
}

// AddArtifact writes content as a new artifact at path, commits it on the current branch and
// tags the commit with the artifact's scoped version tag. The file's version field is kept,
// or set to promptgit.DefaultArtifactVersion when missing.
func (m *Manager) AddArtifact(ctx context.Context, path string, content []byte, message string) (Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.onBranchLocked(); err != nil {
		return Publication{}, err
	}
	_, err := m.loader.Locate(m.h.Path(), path)
	switch {
	case err == nil:
		return Publication{}, &promptgit.ArtifactError{Path: path, Err: promptgit.ErrArtifactExists}
	case !errors.Is(err, promptgit.ErrArtifactNotFound):
		return Publication{}, err
	}

	a, err := manifest.ParseBytes(content)
	if err != nil {
		return Publication{}, &promptgit.ArtifactError{Path: path, Err: err}
	}
	data, err := manifest.SetVersion(content, a.Metadata.Version)
	if err != nil {
		return Publication{}, &promptgit.ArtifactError{Path: path, Err: err}
	}
	id := loader.Identity(path)
	pub := Publication{
		Path:    id,
		File:    loader.NewFile(path),
		Version: a.Metadata.Version,
		Tag:     promptgit.ArtifactTag(id, a.Metadata.Version),
		Message: cmp.Or(message, "Add artifact: "+id),
	}
	if err := m.checkTagFreeLocked(pub); err != nil {
		return Publication{}, err
	}
	if err := m.loader.Write(m.h.Path(), pub.File, data); err != nil {
		return Publication{}, err
	}
	undo := func(ctx context.Context) {
		m.unstage(ctx, pub.File)
		if err := m.loader.Remove(m.h.Path(), pub.File); err != nil {
			m.logger.Warn("failed to remove unpublished artifact", "file", pub.File, "error", err)
		}
	}
	return m.commitLocked(ctx, pub, []string{"add", "--", pub.File}, undo)
}

// UpdateArtifact commits a new revision of the artifact at path with its version bumped by
// bump ("major", "minor" or "patch"; empty means patch) relative to the committed file, and
// tags the commit. A nil content commits the file as it is in the working copy.
func (m *Manager) UpdateArtifact(ctx context.Context, path string, content []byte, bump, message string) (Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.onBranchLocked(); err != nil {
		return Publication{}, err
	}
	file, err := m.loader.Locate(m.h.Path(), path)
	if err != nil {
		return Publication{}, err
	}
	working, err := m.loader.ReadRaw(m.h.Path(), "HEAD", path)
	if err != nil {
		return Publication{}, err
	}
	if content == nil {
		content = []byte(working)
	}

	committed, err := m.h.Git(ctx, "show", "HEAD:"+file)
	if err != nil {
		return Publication{}, &promptgit.ArtifactError{Path: path, Version: "HEAD",
			Err: fmt.Errorf("%w: %w", promptgit.ErrArtifactNotFound, err)}
	}
	prev, err := manifest.ParseBytes([]byte(committed))
	if err != nil {
		return Publication{}, &promptgit.ArtifactError{Path: path, Version: "HEAD", Err: err}
	}
	if _, err := manifest.ParseBytes(content); err != nil {
		return Publication{}, &promptgit.ArtifactError{Path: path, Err: err}
	}
	version, err := promptgit.BumpVersion(prev.Metadata.Version, bump)
	if err != nil {
		return Publication{}, &promptgit.ArtifactError{Path: path, Err: fmt.Errorf("%w: %w", promptgit.ErrValidation, err)}
	}
	data, err := manifest.SetVersion(content, version)
	if err != nil {
		return Publication{}, &promptgit.ArtifactError{Path: path, Err: err}
	}

	id := loader.Identity(path)
	pub := Publication{
		Path:    id,
		File:    file,
		Version: version,
		Tag:     promptgit.ArtifactTag(id, version),
		Message: cmp.Or(message, fmt.Sprintf("Update %s to v%s", id, version)),
	}
	if err := m.checkTagFreeLocked(pub); err != nil {
		return Publication{}, err
	}
	if err := m.loader.Write(m.h.Path(), pub.File, data); err != nil {
		return Publication{}, err
	}
	undo := func(ctx context.Context) {
		m.unstage(ctx, pub.File)
		if err := m.loader.Write(m.h.Path(), pub.File, []byte(working)); err != nil {
			m.logger.Warn("failed to restore artifact", "file", pub.File, "error", err)
		}
	}
	return m.commitLocked(ctx, pub, []string{"add", "--", pub.File}, undo)
}

// RemoveArtifact deletes the artifact at path from the working copy and commits the removal.
// Existing version tags are left in place.
func (m *Manager) RemoveArtifact(ctx context.Context, path, message string) (Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.onBranchLocked(); err != nil {
		return Publication{}, err
	}
	file, err := m.loader.Locate(m.h.Path(), path)
	if err != nil {
		return Publication{}, err
	}
	id := loader.Identity(path)
	pub := Publication{
		Path:    id,
		File:    file,
		Message: cmp.Or(message, "Remove artifact: "+id),
	}
	undo := func(ctx context.Context) {
		if _, err := m.h.Git(ctx, "checkout", "--quiet", "HEAD", "--", pub.File); err != nil {
			m.logger.Warn("failed to restore artifact", "file", pub.File, "error", err)
		}
	}
	return m.commitLocked(ctx, pub, []string{"rm", "--quiet", "--", pub.File}, undo)
}

func (m *Manager) onBranchLocked() error {
	head, err := m.h.Head()
	if err != nil {
		return err
	}
	if head.Branch == "" {
		return &promptgit.VersionError{Version: "HEAD", Err: promptgit.ErrDetachedHead}
	}
	return nil
}

func (m *Manager) checkTagFreeLocked(pub Publication) error {
	_, exists, err := m.h.ResolveRef(plumbing.NewTagReferenceName(pub.Tag))
	if err != nil {
		return err
	}
	if exists {
		return &promptgit.ArtifactError{Path: pub.Path, Version: pub.Tag, Err: promptgit.ErrArtifactExists}
	}
	return nil
}

// commitLocked stages pub.File with stage, commits only that file and tags the commit when
// pub.Tag is set. Other staged changes stay staged. undo runs when nothing was committed.
func (m *Manager) commitLocked(ctx context.Context, pub Publication, stage []string, undo func(context.Context)) (Publication, error) {
	fail := func(step string, err error) (Publication, error) {
		undo(context.WithoutCancel(ctx))
		return Publication{}, &promptgit.ArtifactError{Path: pub.Path,
			Err: fmt.Errorf("%w: %s: %w", promptgit.ErrPublishFailed, step, err)}
	}
	if _, err := m.h.Git(ctx, stage...); err != nil {
		return fail("stage", err)
	}
	if _, err := m.h.Git(ctx, "commit", "--quiet", "--no-verify", "-m", pub.Message, "--only", "--", pub.File); err != nil {
		return fail("commit", err)
	}
	m.invalidate()

	hash, err := m.h.Git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return Publication{}, fmt.Errorf("%w: read commit: %w", promptgit.ErrPublishFailed, err)
	}
	pub.Hash = strings.TrimSpace(hash)
	if pub.Tag != "" {
		if _, err := m.h.Git(ctx, "tag", "--annotate", pub.Tag, "-m", "Version "+pub.Tag, pub.Hash); err != nil {
			return pub, &promptgit.ArtifactError{Path: pub.Path, Version: pub.Tag,
				Err: fmt.Errorf("%w: tag: %w", promptgit.ErrPublishFailed, err)}
		}
	}
	m.logger.Info("published artifact", "path", pub.Path, "version", pub.Version,
		"tag", pub.Tag, "hash", promptgit.ShortHash(pub.Hash))
	return pub, nil
}

func (m *Manager) unstage(ctx context.Context, file string) {
	if _, err := m.h.Git(ctx, "reset", "--quiet", "--", file); err != nil {
		m.logger.Debug("unstage failed", "file", file, "error", err)
	}
}
