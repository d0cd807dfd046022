package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/cache"
	"github.com/skosovsky/promptgit/repository"
)

// Set serves the clones under one cache root, opening a Registry per clone on first use.
// All registries of a Set share one artifact cache. Safe for concurrent use.
type Set struct {
	root       string
	gcInterval time.Duration
	opts       []Option
	logger     *slog.Logger

	mu   sync.Mutex
	regs map[string]*Registry
}

// NewSet returns a Set over the clones under root. Registries it opens get opts plus the
// shared cache, have orphaned snapshots removed and, when gcInterval is positive, run the
// collector until Close.
func NewSet(root string, gcInterval time.Duration, opts ...Option) *Set {
	base := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(base)
	}
	shared := base.cache
	if shared == nil {
		shared = cache.New(append([]cache.Option{cache.WithLogger(base.logger)}, base.cacheOpts...)...)
	}
	return &Set{
		root:       root,
		gcInterval: gcInterval,
		opts:       append(append(opts[:len(opts):len(opts)], WithCacheRoot(root)), WithCache(shared)),
		logger:     base.logger,
		regs:       make(map[string]*Registry),
	}
}

// Repos lists the clones under the root, plus added repositories that live elsewhere.
func (s *Set) Repos() ([]repository.Info, error) {
	infos, err := repository.List(s.root)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		seen[info.Name] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, reg := range s.regs {
		if seen[id] {
			continue
		}
		info := repository.Info{Name: id, Path: reg.Handle().Path()}
		if head, err := reg.Handle().Head(); err == nil {
			info.Branch, info.Hash = head.Branch, head.Hash
		}
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b repository.Info) int { return strings.Compare(a.Name, b.Name) })
	return infos, nil
}

// Registry returns the registry of the clone name, opening it on first use.
// Unknown names yield promptgit.ErrNotRepository.
func (s *Set) Registry(ctx context.Context, name string) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.regs[name]; ok {
		return reg, nil
	}
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: %q", promptgit.ErrNotRepository, name)
	}
	h, err := repository.Open(filepath.Join(repository.Dir(s.root, name), "repo"),
		repository.WithID(name), repository.WithLogger(s.logger))
	if err != nil {
		if errors.Is(err, promptgit.ErrNotRepository) {
			return nil, fmt.Errorf("%w: %s", promptgit.ErrNotRepository, name)
		}
		return nil, err
	}
	return s.openLocked(ctx, h), nil
}

// Add serves the already opened repository h under its ID, which need not be a clone under
// the root. A registry already open under that ID is returned instead.
func (s *Set) Add(ctx context.Context, h *repository.Handle) *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg, ok := s.regs[h.ID()]; ok {
		return reg
	}
	return s.openLocked(ctx, h)
}

func (s *Set) openLocked(ctx context.Context, h *repository.Handle) *Registry {
	reg := New(h, s.opts...)
	if n, err := reg.RemoveOrphans(ctx); err != nil {
		s.logger.Warn("removing orphaned snapshots", "repo", h.ID(), "err", err)
	} else if n > 0 {
		s.logger.Info("removed orphaned snapshots", "repo", h.ID(), "count", n)
	}
	if s.gcInterval > 0 {
		reg.StartGC(s.gcInterval)
	}
	s.regs[h.ID()] = reg
	return reg
}

// Close closes every registry of the Set.
func (s *Set) Close(ctx context.Context) error {
	s.mu.Lock()
	regs := slices.Collect(maps.Values(s.regs))
	s.regs = make(map[string]*Registry)
	s.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		errs = append(errs, reg.Close(ctx))
	}
	return errors.Join(errs...)
}
