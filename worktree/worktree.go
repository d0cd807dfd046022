// Package worktree materializes commits as detached git worktrees ("snapshots") next to the
// primary working copy. Snapshots are reference counted; idle ones are reclaimed after a grace
// period or when the live count exceeds a bound.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/internal/ctxutil"
	"github.com/skosovsky/promptgit/internal/gitcmd"
	"github.com/skosovsky/promptgit/repository"
)

// Defaults for New.
const (
	DefaultIdleThreshold = 5 * time.Minute
	DefaultMaxSnapshots  = 16
	DefaultCreateTimeout = 2 * time.Minute
)

const removeTimeout = time.Minute

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("promptgit: worktree manager is closed")

type state int

const (
	stateCreating state = iota
	stateLive
	stateRemoving
)

type entry struct {
	hash  string
	dir   string
	ready chan struct{} // closed when creation finished; err is set before
	err   error

	// guarded by Manager.mu
	state      state
	refs       int
	releasedAt time.Time
	removed    chan struct{} // non-nil while removing; closed when done
}

// Snapshot is one caller's hold on a materialized commit. Release it exactly once;
// further calls are no-ops.
type Snapshot struct {
	ref      promptgit.VersionRef
	e        *entry
	m        *Manager
	released atomic.Bool
}

// Path returns the snapshot directory.
func (s *Snapshot) Path() string { return s.e.dir }

// Ref returns the version the snapshot was acquired for.
func (s *Snapshot) Ref() promptgit.VersionRef { return s.ref }

// Release drops this hold. See Manager.Release.
func (s *Snapshot) Release() { s.m.Release(s) }

// Stat describes one snapshot for listings.
type Stat struct {
	Hash string        `json:"hash"`
	Path string        `json:"path"`
	Refs int           `json:"refs"`
	Idle time.Duration `json:"idle"` // zero while held or creating
}

// Manager owns the snapshots of one repository.
type Manager struct {
	h             *repository.Handle
	root          string
	idle          time.Duration
	max           int
	createTimeout time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	wg      sync.WaitGroup // creations and background removals
	gcStop  func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleThreshold sets how long a released snapshot is kept before it becomes reclaimable.
func WithIdleThreshold(d time.Duration) Option {
	return func(m *Manager) {
		m.idle = d
	}
}

// WithMaxSnapshots bounds the number of live snapshots; 0 means unbounded.
// Snapshots with holders are never evicted, so the bound can be exceeded while they are held.
func WithMaxSnapshots(n int) Option {
	return func(m *Manager) {
		m.max = n
	}
}

// WithCreateTimeout bounds one snapshot creation. The bound belongs to the manager, not to
// the caller that triggered the creation; zero or negative means no bound.
func WithCreateTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.createTimeout = d
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New returns a Manager that keeps snapshots under <cacheRoot>/<repo-id>/worktrees.
func New(h *repository.Handle, cacheRoot string, opts ...Option) *Manager {
	m := &Manager{
		h:             h,
		root:          filepath.Join(cacheRoot, h.ID(), "worktrees"),
		idle:          DefaultIdleThreshold,
		max:           DefaultMaxSnapshots,
		createTimeout: DefaultCreateTimeout,
		logger:        h.Logger(),
		now:           time.Now,
		entries:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("repo", h.ID())
	return m
}

// Root returns the directory holding the snapshots.
func (m *Manager) Root() string { return m.root }

// Acquire returns a hold on the snapshot of ref.Hash, creating it when none is live.
// Creation runs on the manager's own timeout (see WithCreateTimeout), never on ctx: a caller
// whose ctx is cancelled or expires stops waiting with ctx.Err() while the snapshot is still
// completed for the other holders.
// Failures are *promptgit.VersionError wrapping promptgit.ErrWorktreeCreationFailed.
func (m *Manager) Acquire(ctx context.Context, ref promptgit.VersionRef) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		e, ok := m.entries[ref.Hash]
		if ok && e.state == stateRemoving {
			removed := e.removed
			m.mu.Unlock()
			select {
			case <-removed:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if !ok {
			e = &entry{
				hash:  ref.Hash,
				dir:   filepath.Join(m.root, ref.Hash),
				ready: make(chan struct{}),
				state: stateCreating,
			}
			m.entries[ref.Hash] = e
			m.wg.Add(1)
			go m.create(ctx, ref, e)
		}
		e.refs++
		m.mu.Unlock()

		select {
		case <-e.ready:
			if e.err != nil {
				return nil, e.err
			}
			return &Snapshot{ref: ref, e: e, m: m}, nil
		case <-ctx.Done():
			m.drop(e)
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) create(ctx context.Context, ref promptgit.VersionRef, e *entry) {
	defer m.wg.Done()
	ctx, cancel := ctxutil.Detach(ctx, m.createTimeout)
	defer cancel()

	start := time.Now()
	err := m.materialize(ctx, e.dir, e.hash)

	m.mu.Lock()
	if err != nil {
		e.err = &promptgit.VersionError{
			Version: ref.String(),
			Err:     fmt.Errorf("%w: %w", promptgit.ErrWorktreeCreationFailed, err),
		}
		if m.entries[e.hash] == e {
			delete(m.entries, e.hash)
		}
	} else {
		e.state = stateLive
		if e.refs == 0 {
			e.releasedAt = m.now()
		}
	}
	m.mu.Unlock()
	close(e.ready)

	if err != nil {
		m.logger.Warn("snapshot creation failed", "hash", e.hash, "err", err)
		return
	}
	m.logger.Debug("snapshot ready", "hash", e.hash, "path", e.dir, "duration", time.Since(start))
}

// materialize makes dir a detached worktree at hash. A directory left by a previous process
// is adopted when it is a worktree already at hash, and replaced otherwise.
func (m *Manager) materialize(ctx context.Context, dir, hash string) error {
	if _, err := os.Stat(dir); err == nil {
		if m.adoptable(ctx, dir, hash) {
			m.logger.Info("adopting existing snapshot", "hash", hash, "path", dir)
			return nil
		}
		m.logger.Info("replacing stale snapshot directory", "hash", hash, "path", dir)
		if err := m.removeDir(ctx, dir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(m.root, 0o750); err != nil {
		return err
	}
	_, err := m.h.Git(ctx, "worktree", "add", "--detach", dir, hash)
	if gitcmd.StderrContains(err, "already registered") {
		if _, perr := m.h.Git(ctx, "worktree", "prune"); perr == nil {
			_, err = m.h.Git(ctx, "worktree", "add", "--detach", dir, hash)
		}
	}
	return err
}

func (m *Manager) adoptable(ctx context.Context, dir, hash string) bool {
	if _, err := os.Lstat(filepath.Join(dir, ".git")); err != nil {
		return false
	}
	head, err := m.h.Runner().Run(ctx, dir, "rev-parse", "HEAD")
	return err == nil && head == hash
}

// removeDir deletes a worktree, falling back to a plain directory removal plus prune.
func (m *Manager) removeDir(ctx context.Context, dir string) error {
	_, err := m.h.Git(ctx, "worktree", "remove", "--force", dir)
	if err == nil {
		return nil
	}
	m.logger.Debug("worktree remove failed, deleting directory", "path", dir, "err", err)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	if _, err := m.h.Git(ctx, "worktree", "prune"); err != nil {
		m.logger.Warn("worktree prune failed", "err", err)
	}
	return nil
}

// Release drops the hold s. It is idempotent per Snapshot. At zero holders the snapshot
// becomes reclaimable after the idle threshold; when the live count exceeds the bound,
// the least recently released idle snapshots are removed in the background.
func (m *Manager) Release(s *Snapshot) {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	m.drop(s.e)
}

func (m *Manager) drop(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	e.releasedAt = m.now()
	if m.closed {
		return
	}
	victims := m.selectLocked(false)
	if len(victims) == 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if _, err := m.removeAll(ctx, victims); err != nil {
			m.logger.Warn("evicting snapshots", "err", err)
		}
	}()
}

// selectLocked marks the snapshots to remove: idle ones past the threshold when expired is
// true, then the least recently released idle ones while the live count exceeds the bound.
func (m *Manager) selectLocked(expired bool) []*entry {
	now := m.now()
	var idle []*entry
	live := 0
	for _, e := range m.entries {
		if e.state == stateRemoving {
			continue
		}
		live++
		if e.state == stateLive && e.refs == 0 {
			idle = append(idle, e)
		}
	}
	slices.SortFunc(idle, func(a, b *entry) int { return a.releasedAt.Compare(b.releasedAt) })

	var victims []*entry
	for _, e := range idle {
		over := m.max > 0 && live-len(victims) > m.max
		if over || (expired && now.Sub(e.releasedAt) >= m.idle) {
			victims = append(victims, e)
		}
	}
	for _, e := range victims {
		e.state = stateRemoving
		e.removed = make(chan struct{})
	}
	return victims
}

func (m *Manager) removeAll(ctx context.Context, victims []*entry) (int, error) {
	var errs []error
	n := 0
	for _, e := range victims {
		err := m.removeDir(ctx, e.dir)
		m.mu.Lock()
		if m.entries[e.hash] == e {
			delete(m.entries, e.hash)
		}
		m.mu.Unlock()
		close(e.removed)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n++
		m.logger.Debug("snapshot removed", "hash", e.hash)
	}
	return n, errors.Join(errs...)
}

// Reclaim removes idle snapshots past the idle threshold, then enough of the remaining idle
// ones to respect the bound. It returns the number removed.
func (m *Manager) Reclaim(ctx context.Context) (int, error) {
	m.mu.Lock()
	victims := m.selectLocked(true)
	m.mu.Unlock()
	if len(victims) == 0 {
		return 0, nil
	}
	n, err := m.removeAll(ctx, victims)
	m.logger.Info("reclaimed snapshots", "removed", n)
	return n, err
}

// RemoveOrphans removes snapshot directories under Root that this manager does not track,
// such as those left by a process that exited without Close. It returns the number removed.
func (m *Manager) RemoveOrphans(ctx context.Context) (int, error) {
	dirs, err := os.ReadDir(m.root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	var victims []*entry
	for _, d := range dirs {
		if _, tracked := m.entries[d.Name()]; tracked {
			continue
		}
		e := &entry{
			hash:    d.Name(),
			dir:     filepath.Join(m.root, d.Name()),
			state:   stateRemoving,
			removed: make(chan struct{}),
		}
		m.entries[e.hash] = e
		victims = append(victims, e)
	}
	m.mu.Unlock()
	if len(victims) == 0 {
		return 0, nil
	}
	n, err := m.removeAll(ctx, victims)
	m.logger.Info("removed orphaned snapshots", "removed", n)
	return n, err
}

// StartGC runs Reclaim every interval until stop is called. Calling StartGC again replaces
// the previous collector.
func (m *Manager) StartGC(interval time.Duration) (stop func()) {
	stop = ctxutil.Ticker(interval, func(ctx context.Context) {
		if _, err := m.Reclaim(ctx); err != nil {
			m.logger.Warn("snapshot gc", "err", err)
		}
	})
	m.mu.Lock()
	prev := m.gcStop
	m.gcStop = stop
	m.mu.Unlock()
	if prev != nil {
		prev()
	}
	return stop
}

// Close stops the collector, waits for in-flight creations and removals, and removes every
// idle snapshot. Acquire fails with ErrClosed afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop := m.gcStop
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
	m.wg.Wait()

	m.mu.Lock()
	var victims []*entry
	for _, e := range m.entries {
		if e.state == stateLive && e.refs == 0 {
			e.state = stateRemoving
			e.removed = make(chan struct{})
			victims = append(victims, e)
		}
	}
	m.mu.Unlock()
	_, err := m.removeAll(ctx, victims)
	return err
}

// Snapshots lists live snapshots ordered by hash.
func (m *Manager) Snapshots() []Stat {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]Stat, 0, len(m.entries))
	for _, e := range m.entries {
		if e.state != stateLive {
			continue
		}
		st := Stat{Hash: e.hash, Path: e.dir, Refs: e.refs}
		if e.refs == 0 {
			st.Idle = now.Sub(e.releasedAt)
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b Stat) int { return strings.Compare(a.Hash, b.Hash) })
	return out
}
