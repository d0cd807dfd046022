package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/internal/gittest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOpen_NotRepository(t *testing.T) {
	t.Parallel()
	_, err := Open(t.TempDir())
	require.ErrorIs(t, err, promptgit.ErrNotRepository)
}

func TestOpen_Bare(t *testing.T) {
	t.Parallel()
	gittest.RequireGit(t)
	dir := t.TempDir()
	gittest.Git(t, dir, "init", "--bare", "--quiet")
	_, err := Open(dir)
	require.ErrorIs(t, err, promptgit.ErrNotRepository)
}

func TestOpen_IdentityAndHead(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	hash := gittest.InitRepo(t, dir, map[string]string{"a.yaml": "name: a\ntemplate: x\n"})

	h, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), filepath.Base(h.Path()))
	assert.Contains(t, h.ID(), filepath.Base(dir)+"-")
	assert.Len(t, h.ID(), len(filepath.Base(dir))+1+8)

	again, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, h.ID(), again.ID())

	custom, err := Open(dir, WithID("prompts"))
	require.NoError(t, err)
	assert.Equal(t, "prompts", custom.ID())

	head, err := h.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head.Hash)
	assert.Equal(t, "main", head.Branch)
}

func TestResolveRef(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	first := gittest.InitRepo(t, dir, map[string]string{"a.yaml": "v1"})
	gittest.Git(t, dir, "tag", "light")
	gittest.Git(t, dir, "tag", "-a", "annotated", "-m", "release")
	second := gittest.Commit(t, dir, "second", map[string]string{"a.yaml": "v2"})

	h, err := Open(dir)
	require.NoError(t, err)

	tests := []struct {
		name plumbing.ReferenceName
		hash string
		ok   bool
	}{
		{plumbing.NewTagReferenceName("light"), first, true},
		{plumbing.NewTagReferenceName("annotated"), first, true},
		{plumbing.NewBranchReferenceName("main"), second, true},
		{plumbing.NewBranchReferenceName("nope"), "", false},
	}
	for _, tt := range tests {
		hash, ok, err := h.ResolveRef(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.hash, hash, tt.name)
	}
}

func TestCommitInfo(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	gittest.InitRepo(t, dir, nil)
	hash := gittest.Commit(t, dir, "subject line\n\nbody", map[string]string{"b.yaml": "x"})

	h, err := Open(dir)
	require.NoError(t, err)
	c, err := h.CommitInfo(hash)
	require.NoError(t, err)
	assert.Equal(t, hash, c.Hash)
	assert.Equal(t, "subject line", c.Message)
	assert.False(t, c.When.IsZero())

	_, err = h.CommitInfo("0123456789012345678901234567890123456789")
	require.Error(t, err)
}

func TestCommitInfo_AfterRepack(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	gittest.InitRepo(t, dir, nil)
	h, err := Open(dir)
	require.NoError(t, err)
	_, err = h.Head()
	require.NoError(t, err)

	hash := gittest.Commit(t, dir, "later", map[string]string{"c.yaml": "x"})
	gittest.Git(t, dir, "repack", "-a", "-d", "--quiet")
	gittest.Git(t, dir, "prune-packed")

	c, err := h.CommitInfo(hash)
	require.NoError(t, err)
	assert.Equal(t, "later", c.Message)
}

func TestNameFromURL(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"https://github.com/user/my-prompts.git": "my-prompts",
		"https://github.com/user/my-prompts/":    "my-prompts",
		"git@github.com:user/prompts.git":        "prompts",
		"git@host:prompts":                       "prompts",
		"/srv/git/local":                         "local",
		"file:///srv/git/local.git":              "local",
	}
	for in, want := range tests {
		assert.Equal(t, want, NameFromURL(in), in)
	}
}

func TestClone_ListRemove(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	hash := gittest.InitRepo(t, src, map[string]string{"a.yaml": "x"})
	gittest.Git(t, src, "branch", "feature")
	gittest.Git(t, src, "tag", "v1")
	root := t.TempDir()
	ctx := context.Background()

	h, err := Clone(ctx, "file://"+src, root, WithName("prompts"))
	require.NoError(t, err)
	assert.Equal(t, "prompts", h.ID())
	assert.Equal(t, filepath.Join(root, "prompts", "repo"), h.Path())

	head, err := h.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head.Hash)

	got, ok, err := h.ResolveRef(plumbing.NewRemoteReferenceName(RemoteName, "feature"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, hash, got)
	_, ok, err = h.ResolveRef(plumbing.NewTagReferenceName("v1"))
	require.NoError(t, err)
	assert.True(t, ok)

	reopened, err := Open(h.Path())
	require.NoError(t, err)
	assert.Equal(t, "prompts", reopened.ID())

	_, err = Clone(ctx, "file://"+src, root, WithName("prompts"))
	require.ErrorIs(t, err, ErrAlreadyExists)
	_, err = Clone(ctx, "file://"+src, root, WithName("prompts"), WithForce())
	require.NoError(t, err)

	infos, err := List(root)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "prompts", infos[0].Name)
	assert.Equal(t, hash, infos[0].Hash)

	require.NoError(t, Remove(root, "prompts"))
	require.ErrorIs(t, Remove(root, "prompts"), ErrNotFound)
	require.ErrorIs(t, Remove(root, "../x"), ErrInvalidName)
	_, err = os.Stat(filepath.Join(root, "prompts"))
	assert.True(t, os.IsNotExist(err))
}

func TestClone_FailureCleansUp(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, err := Clone(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing"), root, WithName("broken"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, "broken", "repo"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetch(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	gittest.InitRepo(t, src, map[string]string{"a.yaml": "x"})
	h, err := Clone(context.Background(), "file://"+src, t.TempDir())
	require.NoError(t, err)

	next := gittest.Commit(t, src, "next", map[string]string{"a.yaml": "y"})
	require.NoError(t, h.Fetch(context.Background()))
	got, ok, err := h.ResolveRef(plumbing.NewRemoteReferenceName(RemoteName, "main"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, next, got)
}
