package versioning

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/internal/gittest"
	"github.com/skosovsky/promptgit/repository"
	"github.com/skosovsky/promptgit/worktree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	helloYAML = "name: greeting\ntemplate: Hello\n"
	hiYAML    = "name: greeting\ntemplate: Hi\n"
)

type fixture struct {
	dir    string
	handle *repository.Handle
	v1, v2 string
}

// newFixture builds main with two commits: v1 (tag v1.0, branch feature) and v2
// (annotated tag release).
func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	v1 := gittest.InitRepo(t, dir, map[string]string{"greeting.yaml": helloYAML})
	gittest.Git(t, dir, "tag", "v1.0")
	gittest.Git(t, dir, "branch", "feature")
	v2 := gittest.Commit(t, dir, "say hi", map[string]string{
		"greeting.yaml": hiYAML,
		"farewell.yaml": "name: farewell\ntemplate: Bye\n",
	})
	gittest.Git(t, dir, "tag", "-a", "release", "-m", "release")
	h, err := repository.Open(dir)
	require.NoError(t, err)
	return fixture{dir: dir, handle: h, v1: v1, v2: v2}
}

type recorder struct {
	mu    sync.Mutex
	repos []string
}

func (r *recorder) InvalidateRepo(repo string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repos = append(r.repos, repo)
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.repos...)
}

func newManager(t *testing.T, f fixture, opts ...Option) *Manager {
	t.Helper()
	wt := worktree.New(f.handle, t.TempDir())
	t.Cleanup(func() { assert.NoError(t, wt.Close(context.Background())) })
	return NewManager(f.handle, wt, opts...)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	gittest.Git(t, f.dir, "tag", promptgit.ArtifactTag("assistants/helper", "1.0.0"), f.v1)
	gittest.Git(t, f.dir, "tag", "dup", f.v1)
	gittest.Git(t, f.dir, "branch", "dup", f.v2)
	r := NewResolver(f.handle)

	tests := []struct {
		version string
		hash    string
		kind    promptgit.RefKind
	}{
		{"", f.v2, promptgit.RefHead},
		{"HEAD", f.v2, promptgit.RefHead},
		{"v1.0", f.v1, promptgit.RefTag},
		{"release", f.v2, promptgit.RefTag},
		{"main", f.v2, promptgit.RefBranch},
		{"feature", f.v1, promptgit.RefBranch},
		{"dup", f.v1, promptgit.RefTag},
		{"assistants-helper/v1.0.0", f.v1, promptgit.RefTag},
		{f.v1, f.v1, promptgit.RefCommit},
		{f.v1[:8], f.v1, promptgit.RefCommit},
		{"HEAD~1", f.v1, promptgit.RefCommit},
		{"main^", f.v1, promptgit.RefCommit},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			ref, err := r.Resolve(context.Background(), tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.hash, ref.Hash)
			assert.Equal(t, tt.kind, ref.Kind)
		})
	}
}

func TestResolve_Unresolvable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	r := NewResolver(f.handle)
	for _, v := range []string{"nope", "-rf", "deadbeef", "../../config", "v1.0~9", "assistants/helper"} {
		t.Run(v, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), v)
			require.ErrorIs(t, err, promptgit.ErrUnresolvableVersion)
			var ve *promptgit.VersionError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, v, ve.Version)
		})
	}
}

func TestResolve_RemoteBranch(t *testing.T) {
	t.Parallel()
	upstream := t.TempDir()
	remoteHash := gittest.InitRepo(t, upstream, map[string]string{"greeting.yaml": helloYAML})
	gittest.Git(t, upstream, "branch", "remote-only")

	f := newFixture(t)
	gittest.Git(t, f.dir, "remote", "add", "origin", upstream)
	gittest.Git(t, f.dir, "fetch", "--quiet", "origin")

	ref, err := NewResolver(f.handle).Resolve(context.Background(), "remote-only")
	require.NoError(t, err)
	assert.Equal(t, remoteHash, ref.Hash)
	assert.Equal(t, promptgit.RefRemoteBranch, ref.Kind)

	ref, err = NewResolver(f.handle).Resolve(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, promptgit.RefBranch, ref.Kind, "local branches rank above remote ones")

	rec := &recorder{}
	m := newManager(t, f, WithInvalidator(rec))
	require.NoError(t, m.Checkout(context.Background(), "remote-only", false))
	cur, err := m.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote-only", cur.Name)
	assert.True(t, cur.IsBranch)
	assert.Equal(t, remoteHash, cur.Hash)

	branches, _, err := m.ListVersions(context.Background())
	require.NoError(t, err)
	var names []string
	for _, b := range branches {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"feature", "main", "remote-only"}, names)
}

func TestCheckout_TagDetachesAndInvalidates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := &recorder{}
	m := newManager(t, f, WithInvalidator(rec))
	ctx := context.Background()

	require.NoError(t, m.Checkout(ctx, "v1.0", false))
	assert.Equal(t, []string{f.handle.ID()}, rec.calls())

	cur, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.0", cur.Name)
	assert.True(t, cur.IsTag)
	assert.False(t, cur.IsBranch)
	assert.Equal(t, f.v1, cur.Hash)
	assert.Equal(t, "init", cur.Message)

	data, err := os.ReadFile(filepath.Join(f.dir, "greeting.yaml"))
	require.NoError(t, err)
	assert.Equal(t, helloYAML, string(data))

	require.NoError(t, m.Checkout(ctx, "main", false))
	cur, err = m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "main", cur.Name)
	assert.True(t, cur.IsBranch)
	assert.Len(t, rec.calls(), 2)
}

func TestCheckout_DetachedWithoutTag(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	v3 := gittest.Commit(t, f.dir, "third", map[string]string{"x.yaml": "name: x\ntemplate: x\n"})
	m := newManager(t, f)
	require.NoError(t, m.Checkout(context.Background(), "HEAD~1", false))
	require.NoError(t, m.Checkout(context.Background(), v3[:10], false))

	cur, err := m.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "HEAD", cur.Name)
	assert.False(t, cur.IsBranch)
	assert.False(t, cur.IsTag)
	assert.Equal(t, v3, cur.Hash)
}

func TestCheckout_DirtyRefused(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	rec := &recorder{}
	m := newManager(t, f, WithInvalidator(rec))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "greeting.yaml"), []byte("local edit\n"), 0o600))

	err := m.Checkout(context.Background(), "v1.0", false)
	require.ErrorIs(t, err, promptgit.ErrDirtyWorkingCopy)
	var ve *promptgit.VersionError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "v1.0", ve.Version)
	assert.Empty(t, rec.calls())

	assert.Equal(t, f.v2, gittest.Head(t, f.dir))
	data, err := os.ReadFile(filepath.Join(f.dir, "greeting.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local edit\n", string(data))

	err = m.Rollback(context.Background(), "v1.0")
	require.ErrorIs(t, err, promptgit.ErrDirtyWorkingCopy)
}

func TestCheckout_UntrackedFilesAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "scratch.txt"), []byte("x"), 0o600))
	require.NoError(t, m.Checkout(context.Background(), "feature", false))
	assert.Equal(t, f.v1, gittest.Head(t, f.dir))
}

func TestCheckout_Create(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)
	ctx := context.Background()

	err := m.Checkout(ctx, "experiment", false)
	require.ErrorIs(t, err, promptgit.ErrUnresolvableVersion)

	require.NoError(t, m.Checkout(ctx, "experiment", true))
	cur, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "experiment", cur.Name)
	assert.Equal(t, f.v2, cur.Hash)

	err = m.Checkout(ctx, "bad..name", true)
	require.Error(t, err)
	var ve *promptgit.VersionError
	require.ErrorAs(t, err, &ve)
}

func TestRollback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)
	require.NoError(t, m.Rollback(context.Background(), f.v1))
	assert.Equal(t, f.v1, gittest.Head(t, f.dir))
	data, err := os.ReadFile(filepath.Join(f.dir, "greeting.yaml"))
	require.NoError(t, err)
	assert.Equal(t, helloYAML, string(data))
}

func TestListVersions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)

	branches, tags, err := m.ListVersions(context.Background())
	require.NoError(t, err)

	require.Len(t, branches, 2)
	assert.Equal(t, "feature", branches[0].Name)
	assert.Equal(t, f.v1, branches[0].Hash)
	assert.False(t, branches[0].IsCurrent)
	assert.Equal(t, "main", branches[1].Name)
	assert.True(t, branches[1].IsCurrent)
	assert.True(t, branches[1].IsBranch)
	assert.Equal(t, "say hi", branches[1].Message)
	assert.Equal(t, promptgit.ShortHash(f.v2), branches[1].ShortHash)
	assert.False(t, branches[1].CommittedAt.IsZero())

	require.Len(t, tags, 2)
	assert.Equal(t, "release", tags[0].Name)
	assert.Equal(t, f.v2, tags[0].Hash, "annotated tags report their commit")
	assert.Equal(t, "say hi", tags[0].Message)
	assert.True(t, tags[0].IsCurrent)
	assert.True(t, tags[0].IsTag)
	assert.Equal(t, "v1.0", tags[1].Name)
	assert.False(t, tags[1].IsCurrent)
}

func TestDiff_HelloHi(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)

	d, err := m.Diff(context.Background(), "greeting", "v1.0", "main")
	require.NoError(t, err)
	assert.Equal(t, "greeting", d.Path)
	assert.Equal(t, f.v1, d.From.Hash)
	assert.Equal(t, f.v2, d.To.Hash)
	assert.Equal(t, []promptgit.DiffLine{
		{Kind: promptgit.DiffUnchanged, Content: "name: greeting"},
		{Kind: promptgit.DiffRemoved, Content: "template: Hello"},
		{Kind: promptgit.DiffAdded, Content: "template: Hi"},
	}, d.Lines)
	assert.Len(t, d.Changes(), 2)

	unified, err := d.Unified()
	require.NoError(t, err)
	assert.Contains(t, unified, "-template: Hello")
	assert.Contains(t, unified, "+template: Hi")
}

func TestDiff_SameVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)

	d, err := m.Diff(context.Background(), "greeting", "release", "")
	require.NoError(t, err)
	assert.True(t, d.From.Equal(d.To))
	assert.Empty(t, d.Changes())
	assert.Len(t, d.Lines, 2)
}

func TestDiff_MissingSideIsEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)

	d, err := m.Diff(context.Background(), "farewell", "v1.0", "main")
	require.NoError(t, err)
	require.Len(t, d.Lines, 2)
	for _, l := range d.Lines {
		assert.Equal(t, promptgit.DiffAdded, l.Kind)
	}
}

func TestDiff_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	m := newManager(t, f)

	_, err := m.Diff(context.Background(), "greeting", "nope", "main")
	require.ErrorIs(t, err, promptgit.ErrUnresolvableVersion)

	_, err = m.Diff(context.Background(), "../outside", "v1.0", "main")
	require.ErrorIs(t, err, promptgit.ErrPathTraversal)
}
