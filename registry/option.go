package registry

import (
	"log/slog"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/cache"
	"github.com/skosovsky/promptgit/loader"
	"github.com/skosovsky/promptgit/worktree"
)

// Option configures a Registry (functional options pattern).
type Option func(*Registry)

// WithCacheRoot sets the directory holding <repo-id>/worktrees. Default is DefaultCacheRoot().
func WithCacheRoot(dir string) Option {
	return func(r *Registry) {
		r.cacheRoot = dir
	}
}

// WithCache shares an artifact cache between registries. Entries are namespaced by repository ID.
func WithCache(c *cache.Cache) Option {
	return func(r *Registry) {
		r.cache = c
	}
}

// WithCacheOptions configures the cache the registry creates when WithCache is not given.
func WithCacheOptions(opts ...cache.Option) Option {
	return func(r *Registry) {
		r.cacheOpts = append(r.cacheOpts, opts...)
	}
}

// WithWorktreeOptions configures the snapshot manager (idle threshold, bound).
func WithWorktreeOptions(opts ...worktree.Option) Option {
	return func(r *Registry) {
		r.worktreeOpts = append(r.worktreeOpts, opts...)
	}
}

// WithLoader sets the artifact loader.
func WithLoader(l *loader.Loader) Option {
	return func(r *Registry) {
		r.loader = l
	}
}

// WithLogger sets the logger. Default is the handle's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithRenderOptions sets options applied to every Render call before the per-call ones.
func WithRenderOptions(opts ...promptgit.RenderOption) Option {
	return func(r *Registry) {
		r.renderOpts = append(r.renderOpts, opts...)
	}
}

// WithoutRenderValidation skips structural validation before rendering.
func WithoutRenderValidation() Option {
	return func(r *Registry) {
		r.skipValidation = true
	}
}
