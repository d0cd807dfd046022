package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/loader"
	"github.com/skosovsky/promptgit/repository"
	"github.com/skosovsky/promptgit/worktree"
)

// Invalidator drops cached artifacts of a repository after its working copy moved.
type Invalidator interface {
	InvalidateRepo(repo string)
}

// Manager performs version operations on one repository. Operations that move the primary
// working copy are serialized; reads of its state run concurrently with each other.
type Manager struct {
	h        *repository.Handle
	resolver *Resolver
	wt       *worktree.Manager
	loader   *loader.Loader
	inv      Invalidator
	logger   *slog.Logger

	mu sync.RWMutex // primary working copy
}

// Option configures a Manager.
type Option func(*Manager)

// WithInvalidator sets the cache notified after every successful checkout.
func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) {
		m.inv = inv
	}
}

// WithLoader sets the loader used to read artifact text for diffs.
func WithLoader(l *loader.Loader) Option {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithLogger sets the logger. Default is the handle's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns a Manager for h that materializes versions through wt.
func NewManager(h *repository.Handle, wt *worktree.Manager, opts ...Option) *Manager {
	m := &Manager{
		h:        h,
		resolver: NewResolver(h),
		wt:       wt,
		logger:   h.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.loader == nil {
		m.loader = loader.New(loader.WithLogger(m.logger))
	}
	m.logger = m.logger.With("repo", h.ID())
	return m
}

// Resolve maps version to a commit while no checkout is in progress.
func (m *Manager) Resolve(ctx context.Context, version string) (promptgit.VersionRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolver.Resolve(ctx, version)
}

// Checkout moves the primary working copy to version. Branches are checked out by name;
// remote-only branches get a local tracking branch; anything else detaches HEAD at the commit.
// With create, an unresolvable version becomes a new branch at the current HEAD.
// It never discards changes: a dirty working copy yields promptgit.ErrDirtyWorkingCopy.
func (m *Manager) Checkout(ctx context.Context, version string, create bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkoutLocked(ctx, version, create)
}

func (m *Manager) checkoutLocked(ctx context.Context, version string, create bool) error {
	ref, err := m.resolver.Resolve(ctx, version)
	if err != nil {
		if !create || !errors.Is(err, promptgit.ErrUnresolvableVersion) {
			return err
		}
		return m.createBranchLocked(ctx, version)
	}
	if err := m.ensureCleanLocked(ctx, version); err != nil {
		return err
	}

	var args []string
	switch ref.Kind {
	case promptgit.RefBranch:
		args = []string{"checkout", "--quiet", ref.Label, "--"}
	case promptgit.RefRemoteBranch:
		args = []string{"checkout", "--quiet", "-b", ref.Label, "--track", repository.RemoteName + "/" + ref.Label, "--"}
	default:
		args = []string{"checkout", "--quiet", "--detach", ref.Hash, "--"}
	}
	if _, err := m.h.Git(ctx, args...); err != nil {
		return &promptgit.VersionError{Version: version, Err: err}
	}
	m.logger.Info("checked out version", "version", version, "hash", ref.Short(), "kind", ref.Kind.String())
	m.invalidate()
	return nil
}

func (m *Manager) createBranchLocked(ctx context.Context, name string) error {
	if err := m.ensureCleanLocked(ctx, name); err != nil {
		return err
	}
	if _, err := m.h.Git(ctx, "check-ref-format", "--branch", name); err != nil {
		return &promptgit.VersionError{Version: name, Err: fmt.Errorf("invalid branch name: %w", err)}
	}
	if _, err := m.h.Git(ctx, "checkout", "--quiet", "-b", name); err != nil {
		return &promptgit.VersionError{Version: name, Err: err}
	}
	m.logger.Info("created branch", "version", name)
	m.invalidate()
	return nil
}

func (m *Manager) ensureCleanLocked(ctx context.Context, version string) error {
	out, err := m.h.Git(ctx, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return &promptgit.VersionError{Version: version, Err: err}
	}
	if strings.TrimSpace(out) != "" {
		return &promptgit.VersionError{Version: version, Err: promptgit.ErrDirtyWorkingCopy}
	}
	return nil
}

func (m *Manager) invalidate() {
	if m.inv != nil {
		m.inv.InvalidateRepo(m.h.ID())
	}
}

// Pull fast-forwards the primary working copy from origin. A non-empty branch is checked out
// first. Diverged histories are refused rather than merged.
func (m *Manager) Pull(ctx context.Context, branch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if branch != "" {
		if err := m.checkoutLocked(ctx, branch, false); err != nil {
			return err
		}
	}
	head, err := m.h.Head()
	if err != nil {
		return err
	}
	if head.Branch == "" {
		return &promptgit.VersionError{Version: "HEAD", Err: promptgit.ErrDetachedHead}
	}
	if err := m.ensureCleanLocked(ctx, head.Branch); err != nil {
		return err
	}
	if _, err := m.h.Git(ctx, "pull", "--ff-only", "--quiet", repository.RemoteName, head.Branch); err != nil {
		return &promptgit.VersionError{Version: head.Branch, Err: err}
	}
	m.logger.Info("pulled", "branch", head.Branch)
	m.invalidate()
	return nil
}

// Rollback checks out version without creating branches.
func (m *Manager) Rollback(ctx context.Context, version string) error {
	m.logger.Info("rolling back", "version", version)
	return m.Checkout(ctx, version, false)
}

const refFormat = "%(refname)%00%(objectname)%00%(*objectname)%00" +
	"%(committerdate:unix)%00%(*committerdate:unix)%00%(subject)%00%(*subject)"

// ListVersions lists local branches (plus origin branches without a local counterpart) and
// tags in git's order. IsCurrent marks refs at the primary working copy's HEAD commit.
func (m *Manager) ListVersions(ctx context.Context) (branches, tags []promptgit.VersionDescriptor, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	head, err := m.h.Head()
	if err != nil {
		return nil, nil, err
	}
	out, err := m.h.Git(ctx, "for-each-ref", "--format="+refFormat,
		"refs/heads", "refs/tags", "refs/remotes/"+repository.RemoteName)
	if err != nil {
		return nil, nil, fmt.Errorf("list versions: %w", err)
	}

	local := make(map[string]bool)
	var remote []promptgit.VersionDescriptor
	remotePrefix := "refs/remotes/" + repository.RemoteName + "/"
	for line := range strings.SplitSeq(out, "\n") {
		if line == "" {
			continue
		}
		refname, d, ok := parseRefLine(line)
		if !ok {
			m.logger.Debug("skipping malformed ref line", "line", line)
			continue
		}
		d.IsCurrent = d.Hash == head.Hash
		switch {
		case strings.HasPrefix(refname, "refs/heads/"):
			d.Name = strings.TrimPrefix(refname, "refs/heads/")
			d.IsBranch = true
			local[d.Name] = true
			branches = append(branches, d)
		case strings.HasPrefix(refname, "refs/tags/"):
			d.Name = strings.TrimPrefix(refname, "refs/tags/")
			d.IsTag = true
			tags = append(tags, d)
		case strings.HasPrefix(refname, remotePrefix):
			d.Name = strings.TrimPrefix(refname, remotePrefix)
			if d.Name == "HEAD" {
				continue
			}
			d.IsBranch = true
			remote = append(remote, d)
		}
	}
	for _, d := range remote {
		if !local[d.Name] {
			branches = append(branches, d)
		}
	}
	return branches, tags, nil
}

// parseRefLine decodes one for-each-ref line; annotated tags report their target commit.
func parseRefLine(line string) (string, promptgit.VersionDescriptor, bool) {
	f := strings.Split(line, "\x00")
	if len(f) != 7 {
		return "", promptgit.VersionDescriptor{}, false
	}
	hash, date, subject := f[1], f[3], f[5]
	if f[2] != "" {
		hash, date, subject = f[2], f[4], f[6]
	}
	d := promptgit.VersionDescriptor{
		Hash:      hash,
		ShortHash: promptgit.ShortHash(hash),
		Message:   subject,
	}
	if sec, err := strconv.ParseInt(date, 10, 64); err == nil {
		d.CommittedAt = time.Unix(sec, 0)
	}
	return f[0], d, true
}

// CurrentVersion describes the primary working copy's HEAD: its branch, else the first tag
// at the commit, else "HEAD".
func (m *Manager) CurrentVersion(ctx context.Context) (promptgit.VersionDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	head, err := m.h.Head()
	if err != nil {
		return promptgit.VersionDescriptor{}, err
	}
	c, err := m.h.CommitInfo(head.Hash)
	if err != nil {
		return promptgit.VersionDescriptor{}, err
	}
	d := promptgit.VersionDescriptor{
		Name:        "HEAD",
		Hash:        head.Hash,
		ShortHash:   promptgit.ShortHash(head.Hash),
		Message:     c.Message,
		CommittedAt: c.When,
		IsCurrent:   true,
	}
	if head.Branch != "" {
		d.Name, d.IsBranch = head.Branch, true
		return d, nil
	}
	out, err := m.h.Git(ctx, "tag", "--points-at", head.Hash)
	if err != nil {
		return promptgit.VersionDescriptor{}, fmt.Errorf("current version: %w", err)
	}
	if first, _, _ := strings.Cut(out, "\n"); first != "" {
		d.Name, d.IsTag = first, true
	}
	return d, nil
}

// Diff compares the file path resolves to at two versions. Empty versions mean HEAD.
// A file missing at one side is treated as empty.
func (m *Manager) Diff(ctx context.Context, path, from, to string) (promptgit.DiffResult, error) {
	fromRef, err := m.Resolve(ctx, from)
	if err != nil {
		return promptgit.DiffResult{}, err
	}
	toRef, err := m.Resolve(ctx, to)
	if err != nil {
		return promptgit.DiffResult{}, err
	}

	snaps := make([]*worktree.Snapshot, 2)
	defer func() {
		for _, s := range snaps {
			if s != nil {
				s.Release()
			}
		}
	}()
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range []promptgit.VersionRef{fromRef, toRef} {
		g.Go(func() error {
			s, err := m.wt.Acquire(gctx, ref)
			snaps[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return promptgit.DiffResult{}, err
	}

	oldText, err := m.readOrEmpty(snaps[0], path)
	if err != nil {
		return promptgit.DiffResult{}, err
	}
	newText, err := m.readOrEmpty(snaps[1], path)
	if err != nil {
		return promptgit.DiffResult{}, err
	}
	return promptgit.DiffResult{
		Path:  loader.Identity(path),
		From:  fromRef,
		To:    toRef,
		Lines: promptgit.DiffLines(oldText, newText),
	}, nil
}

func (m *Manager) readOrEmpty(s *worktree.Snapshot, path string) (string, error) {
	text, err := m.loader.ReadRaw(s.Path(), s.Ref().String(), path)
	if errors.Is(err, promptgit.ErrArtifactNotFound) {
		return "", nil
	}
	return text, err
}
