package registry

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/cache"
	"github.com/skosovsky/promptgit/loader"
	"github.com/skosovsky/promptgit/repository"
	"github.com/skosovsky/promptgit/versioning"
	"github.com/skosovsky/promptgit/worktree"
)

// DefaultCacheRoot returns <user cache dir>/promptgit, or a directory under os.TempDir
// when the user cache dir is unknown.
func DefaultCacheRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "promptgit")
	}
	return filepath.Join(os.TempDir(), "promptgit")
}

// Registry serves artifacts of one repository. Safe for concurrent use.
type Registry struct {
	h        *repository.Handle
	versions *versioning.Manager
	wt       *worktree.Manager
	cache    *cache.Cache
	loader   *loader.Loader
	logger   *slog.Logger

	cacheRoot      string
	cacheOpts      []cache.Option
	worktreeOpts   []worktree.Option
	renderOpts     []promptgit.RenderOption
	skipValidation bool

	mu     sync.Mutex
	gcStop func()
}

// New builds a Registry over h: resolver, snapshot manager, version manager, cache and loader.
func New(h *repository.Handle, opts ...Option) *Registry {
	r := &Registry{h: h, logger: h.Logger()}
	for _, opt := range opts {
		opt(r)
	}
	if r.cacheRoot == "" {
		r.cacheRoot = DefaultCacheRoot()
	}
	if r.loader == nil {
		r.loader = loader.New(loader.WithLogger(r.logger))
	}
	if r.cache == nil {
		r.cache = cache.New(append([]cache.Option{cache.WithLogger(r.logger)}, r.cacheOpts...)...)
	}
	r.wt = worktree.New(h, r.cacheRoot, append([]worktree.Option{worktree.WithLogger(r.logger)}, r.worktreeOpts...)...)
	r.versions = versioning.NewManager(h, r.wt,
		versioning.WithInvalidator(r.cache),
		versioning.WithLoader(r.loader),
		versioning.WithLogger(r.logger),
	)
	r.logger = r.logger.With("repo", h.ID())
	return r
}

// ID returns the repository identity.
func (r *Registry) ID() string { return r.h.ID() }

// Handle returns the underlying repository.
func (r *Registry) Handle() *repository.Handle { return r.h }

// Cache returns the artifact cache.
func (r *Registry) Cache() *cache.Cache { return r.cache }

func cacheKeyPath(artifactPath string) string {
	return filepath.ToSlash(filepath.Clean(artifactPath))
}

// Get returns the artifact at path as of version ("" means the current HEAD).
// The result is a clone and may be modified.
func (r *Registry) Get(ctx context.Context, path, version string) (*promptgit.Artifact, error) {
	ref, err := r.versions.Resolve(ctx, version)
	if err != nil {
		return nil, err
	}
	key := cache.Key{Repo: r.h.ID(), Hash: ref.Hash, Path: cacheKeyPath(path)}
	a, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*promptgit.Artifact, error) {
		s, err := r.wt.Acquire(ctx, ref)
		if err != nil {
			return nil, err
		}
		defer s.Release()
		return r.loader.Load(s.Path(), ref.String(), path)
	})
	if err != nil {
		return nil, err
	}
	return promptgit.CloneArtifact(a), nil
}

// ListArtifacts yields artifact paths as of version. The snapshot is acquired when iteration
// starts and released when it stops; each iteration resolves the version anew.
// Resolution and snapshot errors are yielded as the only element.
func (r *Registry) ListArtifacts(ctx context.Context, version string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ref, err := r.versions.Resolve(ctx, version)
		if err != nil {
			yield("", err)
			return
		}
		s, err := r.wt.Acquire(ctx, ref)
		if err != nil {
			yield("", err)
			return
		}
		defer s.Release()
		for p, err := range r.loader.List(s.Path()) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield("", ctxErr)
				return
			}
			if !yield(p, err) {
				return
			}
		}
	}
}

// Validate returns the problems of the artifact at path as of version. Resolution, lookup and
// parse failures are reported as problems too; an empty result means the artifact is valid.
func (r *Registry) Validate(ctx context.Context, path, version string) []string {
	a, err := r.Get(ctx, path, version)
	if err != nil {
		return []string{err.Error()}
	}
	return promptgit.Validate(a)
}

// Render loads the artifact, checks it structurally and renders it with vars.
// Structural problems yield promptgit.ErrValidation; rendering errors are returned as
// promptgit.Render produced them.
func (r *Registry) Render(ctx context.Context, path, version string, vars map[string]any, opts ...promptgit.RenderOption) (string, error) {
	a, err := r.Get(ctx, path, version)
	if err != nil {
		return "", err
	}
	if !r.skipValidation {
		if problems := promptgit.Validate(a); len(problems) > 0 {
			return "", &promptgit.ArtifactError{
				Path:    path,
				Version: cmp.Or(version, "HEAD"),
				Err:     fmt.Errorf("%w: %s", promptgit.ErrValidation, strings.Join(problems, "; ")),
			}
		}
	}
	return promptgit.Render(a, vars, append(r.renderOpts[:len(r.renderOpts):len(r.renderOpts)], opts...)...)
}

// Invalidate drops cached artifacts. An empty version drops every version and an empty path
// every artifact. It returns the number of entries removed.
func (r *Registry) Invalidate(ctx context.Context, version, path string) (int, error) {
	var hash string
	if version != "" {
		ref, err := r.versions.Resolve(ctx, version)
		if err != nil {
			return 0, err
		}
		hash = ref.Hash
	}
	if path != "" {
		path = cacheKeyPath(path)
	}
	return r.cache.Invalidate(r.h.ID(), hash, path), nil
}

// Refresh fetches from the remotes. Failures are logged and returned; the registry keeps
// serving what it already has.
func (r *Registry) Refresh(ctx context.Context) error {
	if err := r.h.Fetch(ctx); err != nil {
		r.logger.Warn("refresh failed", "err", err)
		return err
	}
	r.logger.Info("refreshed from remotes")
	return nil
}

// Checkout moves the primary working copy to version. See versioning.Manager.Checkout.
func (r *Registry) Checkout(ctx context.Context, version string, create bool) error {
	return r.versions.Checkout(ctx, version, create)
}

// Rollback checks out version. See versioning.Manager.Rollback.
func (r *Registry) Rollback(ctx context.Context, version string) error {
	return r.versions.Rollback(ctx, version)
}

// Pull fast-forwards the primary working copy from origin, checking out branch first when set.
// See versioning.Manager.Pull.
func (r *Registry) Pull(ctx context.Context, branch string) error {
	return r.versions.Pull(ctx, branch)
}

// AddArtifact commits content as a new artifact and tags it with its scoped version tag.
// See versioning.Manager.AddArtifact.
func (r *Registry) AddArtifact(ctx context.Context, path string, content []byte, message string) (versioning.Publication, error) {
	return r.versions.AddArtifact(ctx, path, content, message)
}

// UpdateArtifact commits a new revision of an artifact with a bumped version and tags it.
// See versioning.Manager.UpdateArtifact.
func (r *Registry) UpdateArtifact(ctx context.Context, path string, content []byte, bump, message string) (versioning.Publication, error) {
	return r.versions.UpdateArtifact(ctx, path, content, bump, message)
}

// RemoveArtifact commits the deletion of an artifact.
func (r *Registry) RemoveArtifact(ctx context.Context, path, message string) (versioning.Publication, error) {
	return r.versions.RemoveArtifact(ctx, path, message)
}

// ListVersions lists branches and tags.
func (r *Registry) ListVersions(ctx context.Context) (branches, tags []promptgit.VersionDescriptor, err error) {
	return r.versions.ListVersions(ctx)
}

// CurrentVersion describes the primary working copy's HEAD.
func (r *Registry) CurrentVersion(ctx context.Context) (promptgit.VersionDescriptor, error) {
	return r.versions.CurrentVersion(ctx)
}

// Diff compares the artifact file at path between two versions.
func (r *Registry) Diff(ctx context.Context, path, from, to string) (promptgit.DiffResult, error) {
	return r.versions.Diff(ctx, path, from, to)
}

// Resolve maps version to a commit.
func (r *Registry) Resolve(ctx context.Context, version string) (promptgit.VersionRef, error) {
	return r.versions.Resolve(ctx, version)
}

// Reclaim removes idle snapshots. See worktree.Manager.Reclaim.
func (r *Registry) Reclaim(ctx context.Context) (int, error) {
	return r.wt.Reclaim(ctx)
}

// RemoveOrphans removes snapshot directories left by earlier processes.
func (r *Registry) RemoveOrphans(ctx context.Context) (int, error) {
	return r.wt.RemoveOrphans(ctx)
}

// Snapshots lists live snapshots.
func (r *Registry) Snapshots() []worktree.Stat {
	return r.wt.Snapshots()
}

// StartGC reclaims idle snapshots and prunes expired cache entries every interval
// until stop is called.
func (r *Registry) StartGC(interval time.Duration) (stop func()) {
	stopWT := r.wt.StartGC(interval)
	stopCache := r.cache.StartJanitor(interval)
	stop = func() {
		stopWT()
		stopCache()
	}
	r.mu.Lock()
	prev := r.gcStop
	r.gcStop = stop
	r.mu.Unlock()
	if prev != nil {
		prev()
	}
	return stop
}

// Close removes idle snapshots and stops the collector. The cache is cleared for this repository.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	stop := r.gcStop
	r.gcStop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	err := r.wt.Close(ctx)
	r.cache.InvalidateRepo(r.h.ID())
	if err != nil {
		r.logger.Warn("closing registry", "err", err)
	}
	return err
}
