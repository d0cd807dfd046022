// Package repository opens and clones the git repositories that hold artifacts.
// A Handle pairs a go-git view of the repository (reference and object lookups)
// with a gitcmd.Runner for operations that need the git binary.
package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/internal/gitcmd"
)

// RemoteName is the only remote whose branches take part in resolution and listing.
const RemoteName = "origin"

// Handle is an opened repository with a primary working copy.
type Handle struct {
	id     string
	path   string
	runner *gitcmd.Runner
	logger *slog.Logger

	mu   sync.Mutex // go-git repositories are not safe for concurrent use
	repo *git.Repository
}

// Option configures Open.
type Option func(*Handle)

// WithID overrides the repository identity used to namespace cache entries and worktrees.
func WithID(id string) Option {
	return func(h *Handle) {
		h.id = id
	}
}

// WithRunner sets the git runner (default gitcmd.New()).
func WithRunner(r *gitcmd.Runner) Option {
	return func(h *Handle) {
		h.runner = r
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handle) {
		h.logger = l
	}
}

// Open opens the non-bare repository whose working copy is at path.
// Missing and bare repositories yield promptgit.ErrNotRepository.
func Open(path string, opts ...Option) (*Handle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	repo, err := openGit(abs)
	if err != nil {
		return nil, err
	}
	h := &Handle{path: abs, repo: repo, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.runner == nil {
		h.runner = gitcmd.New(gitcmd.WithLogger(h.logger))
	}
	if h.id == "" {
		h.id = defaultID(abs)
	}
	return h, nil
}

func openGit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", promptgit.ErrNotRepository, path)
		}
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}
	if _, err := repo.Worktree(); errors.Is(err, git.ErrIsBareRepository) {
		return nil, fmt.Errorf("%w: %s is bare", promptgit.ErrNotRepository, path)
	}
	return repo, nil
}

// defaultID derives the identity from the directory. Clones live at <root>/<name>/repo and use name;
// other paths get their base name plus a short digest of the absolute path.
func defaultID(abs string) string {
	if filepath.Base(abs) == "repo" {
		return filepath.Base(filepath.Dir(abs))
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Base(abs) + "-" + hex.EncodeToString(sum[:4])
}

// ID returns the repository identity.
func (h *Handle) ID() string { return h.id }

// Path returns the absolute path of the primary working copy.
func (h *Handle) Path() string { return h.path }

// Runner returns the git runner bound to this handle.
func (h *Handle) Runner() *gitcmd.Runner { return h.runner }

// Logger returns the handle's logger.
func (h *Handle) Logger() *slog.Logger { return h.logger }

// Git runs git in the primary working copy.
func (h *Handle) Git(ctx context.Context, args ...string) (string, error) {
	return h.runner.Run(ctx, h.path, args...)
}

// Head describes HEAD of the primary working copy.
type Head struct {
	Hash   string
	Branch string // short branch name; empty when detached
}

// Head returns the current HEAD.
func (h *Handle) Head() (Head, error) {
	var out Head
	err := h.withRepo(func(r *git.Repository) error {
		ref, err := r.Head()
		if err != nil {
			return err
		}
		out.Hash = ref.Hash().String()
		if ref.Name().IsBranch() {
			out.Branch = ref.Name().Short()
		}
		return nil
	})
	if err != nil {
		return Head{}, fmt.Errorf("repository %s: head: %w", h.id, err)
	}
	return out, nil
}

// ResolveRef returns the commit hash name points at, peeling annotated tags.
// ok is false when the reference does not exist.
func (h *Handle) ResolveRef(name plumbing.ReferenceName) (hash string, ok bool, err error) {
	err = h.withRepo(func(r *git.Repository) error {
		ref, err := r.Reference(name, true)
		if err != nil {
			return err
		}
		c, err := peel(r, ref.Hash())
		if err != nil {
			return err
		}
		hash, ok = c.String(), true
		return nil
	})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository %s: ref %s: %w", h.id, name, err)
	}
	return hash, ok, nil
}

// Commit describes one commit.
type Commit struct {
	Hash    string
	Message string // first line
	When    time.Time
}

// CommitInfo reads commit metadata for hash.
func (h *Handle) CommitInfo(hash string) (Commit, error) {
	var out Commit
	err := h.withRepo(func(r *git.Repository) error {
		c, err := r.CommitObject(plumbing.NewHash(hash))
		if err != nil {
			return err
		}
		msg, _, _ := strings.Cut(c.Message, "\n")
		out = Commit{Hash: c.Hash.String(), Message: strings.TrimSpace(msg), When: c.Committer.When}
		return nil
	})
	if err != nil {
		return Commit{}, fmt.Errorf("repository %s: commit %s: %w", h.id, promptgit.ShortHash(hash), err)
	}
	return out, nil
}

// Fetch updates remote branches and tags with `git fetch --all --tags --prune`.
func (h *Handle) Fetch(ctx context.Context) error {
	if _, err := h.Git(ctx, "fetch", "--all", "--tags", "--prune", "--quiet"); err != nil {
		return fmt.Errorf("repository %s: fetch: %w", h.id, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reopenLocked()
}

// withRepo runs fn under the handle lock. Objects written by the git binary into new packfiles
// are invisible to an already opened go-git repository, so a missing object reopens it once.
func (h *Handle) withRepo(fn func(r *git.Repository) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := fn(h.repo)
	if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return err
	}
	if rerr := h.reopenLocked(); rerr != nil {
		return err
	}
	return fn(h.repo)
}

func (h *Handle) reopenLocked() error {
	repo, err := openGit(h.path)
	if err != nil {
		return err
	}
	h.repo = repo
	return nil
}

const maxTagDepth = 8

// peel follows tag objects until it reaches a commit.
func peel(r *git.Repository, hash plumbing.Hash) (plumbing.Hash, error) {
	for range maxTagDepth {
		obj, err := r.Storer.EncodedObject(plumbing.AnyObject, hash)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		switch obj.Type() {
		case plumbing.CommitObject:
			return hash, nil
		case plumbing.TagObject:
			tag, err := object.DecodeTag(r.Storer, obj)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			hash = tag.Target
		default:
			return plumbing.ZeroHash, fmt.Errorf("%s is a %s, not a commit", hash, obj.Type())
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("tag chain at %s is deeper than %d", hash, maxTagDepth)
}
