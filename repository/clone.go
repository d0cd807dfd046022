package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Errors returned by Clone and Remove.
var (
	ErrAlreadyExists = errors.New("repository: clone destination already exists")
	ErrInvalidName   = errors.New("repository: invalid repository name")
	ErrNotFound      = errors.New("repository: no clone with that name")
)

// CloneOption configures Clone.
type CloneOption func(*cloneConfig)

type cloneConfig struct {
	name   string
	branch string
	force  bool
	open   []Option
}

// WithName sets the clone name. Default is derived from the URL (see NameFromURL).
func WithName(name string) CloneOption {
	return func(c *cloneConfig) {
		c.name = name
	}
}

// WithBranch checks out branch instead of the remote default after cloning.
func WithBranch(branch string) CloneOption {
	return func(c *cloneConfig) {
		c.branch = branch
	}
}

// WithForce removes an existing clone with the same name before cloning.
func WithForce() CloneOption {
	return func(c *cloneConfig) {
		c.force = true
	}
}

// WithOpenOptions passes options to Open for the cloned repository.
func WithOpenOptions(opts ...Option) CloneOption {
	return func(c *cloneConfig) {
		c.open = append(c.open, opts...)
	}
}

// NameFromURL derives a clone name from a repository URL:
// "https://github.com/user/my-prompts.git" and "git@github.com:user/my-prompts" both give "my-prompts".
func NameFromURL(url string) string {
	s := strings.TrimRight(url, "/")
	s = strings.TrimSuffix(s, ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// Dir returns the clone layout directory <root>/<name>; the working copy is its "repo" child.
func Dir(root, name string) string { return filepath.Join(root, name) }

// Clone clones url into <root>/<name>/repo with all branches and tags, then opens it.
// The handle identity is the clone name. A partial clone is removed on failure.
func Clone(ctx context.Context, url, root string, opts ...CloneOption) (*Handle, error) {
	cfg := cloneConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = NameFromURL(url)
	}
	if !validName(cfg.name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, cfg.name)
	}
	dir := Dir(root, cfg.name)
	dest := filepath.Join(dir, "repo")
	if _, err := os.Stat(dest); err == nil {
		if !cfg.force {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, dest)
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("repository: remove %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}

	cloneOpts := &git.CloneOptions{URL: url, Tags: git.AllTags}
	if cfg.branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(cfg.branch)
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, cloneOpts); err != nil {
		_ = os.RemoveAll(dest)
		return nil, fmt.Errorf("repository: clone %s: %w", url, err)
	}
	h, err := Open(dest, append([]Option{WithID(cfg.name)}, cfg.open...)...)
	if err != nil {
		_ = os.RemoveAll(dest)
		return nil, err
	}
	if err := h.Fetch(ctx); err != nil {
		h.logger.Debug("fetch after clone failed", "repo", h.id, "err", err)
	}
	h.logger.Info("cloned repository", "repo", h.id, "url", url, "path", dest)
	return h, nil
}

// Info describes one clone under a root.
type Info struct {
	Name   string
	Path   string
	Branch string // empty when detached
	Hash   string
}

// List returns the clones under root, sorted by name. Directories that are not clones are skipped.
func List(root string) ([]Info, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: list %s: %w", root, err)
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		h, err := Open(filepath.Join(root, e.Name(), "repo"), WithLogger(slog.New(slog.DiscardHandler)))
		if err != nil {
			continue
		}
		info := Info{Name: h.ID(), Path: h.Path()}
		if head, err := h.Head(); err == nil {
			info.Branch, info.Hash = head.Branch, head.Hash
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes the clone name under root together with its worktrees.
func Remove(root, name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir := Dir(root, name)
	if _, err := os.Stat(filepath.Join(dir, "repo")); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("repository: remove %s: %w", dir, err)
	}
	return nil
}
