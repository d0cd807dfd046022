package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/promptgit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const root = "/snap"

func memLoader(t *testing.T, files map[string]string) *Loader {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(root, path), []byte(content), 0o644))
	}
	return New(WithFs(fsys))
}

func artifactYAML(name, template string) string {
	return "name: " + name + "\ntemplate: \"" + template + "\"\n"
}

func TestLoad_Candidates(t *testing.T) {
	t.Parallel()
	l := memLoader(t, map[string]string{
		"greeting.yaml":          artifactYAML("yaml", "a"),
		"greeting.yml":           artifactYAML("yml", "b"),
		"only.yml":               artifactYAML("only-yml", "c"),
		"assistants/index.yaml":  artifactYAML("index", "d"),
		"nested/deep/agent.yaml": artifactYAML("deep", "e"),
	})
	tests := []struct {
		path, name, file, identity string
	}{
		{"greeting", "yaml", "greeting.yaml", "greeting"},
		{"greeting.yml", "yml", "greeting.yml", "greeting"},
		{"only", "only-yml", "only.yml", "only"},
		{"assistants", "index", "assistants/index.yaml", "assistants"},
		{"nested/deep/agent", "deep", "nested/deep/agent.yaml", "nested/deep/agent"},
		{"nested/../greeting", "yaml", "greeting.yaml", "greeting"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			a, err := l.Load(root, "v1", tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.name, a.Metadata.Name)
			assert.Equal(t, tt.file, a.File)
			assert.Equal(t, tt.identity, a.Path)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	l := memLoader(t, map[string]string{
		"broken.yaml":     "name: [",
		"notemplate.yaml": "name: x\n",
		"dir/other.yaml":  artifactYAML("o", "x"),
		"../outside.yaml": artifactYAML("outside", "x"),
	})
	tests := []struct {
		name string
		path string
		want error
	}{
		{"parent escape", "../outside", promptgit.ErrPathTraversal},
		{"nested escape", "dir/../../outside", promptgit.ErrPathTraversal},
		{"absolute", "/etc/passwd", promptgit.ErrPathTraversal},
		{"missing", "nope", promptgit.ErrArtifactNotFound},
		{"directory without index", "dir", promptgit.ErrArtifactNotFound},
		{"empty", "", promptgit.ErrArtifactNotFound},
		{"bad yaml", "broken", promptgit.ErrParse},
		{"no template", "notemplate", promptgit.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := l.Load(root, "v2", tt.path)
			require.ErrorIs(t, err, tt.want)
			var ae *promptgit.ArtifactError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.path, ae.Path)
			assert.Equal(t, "v2", ae.Version)
		})
	}
}

func TestReadRaw(t *testing.T) {
	t.Parallel()
	content := artifactYAML("g", "Hello")
	l := memLoader(t, map[string]string{"g.yaml": content})
	got, err := l.ReadRaw(root, "", "g")
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = l.ReadRaw(root, "", "../g")
	require.ErrorIs(t, err, promptgit.ErrPathTraversal)
	_, err = l.ReadRaw(root, "", "missing")
	require.ErrorIs(t, err, promptgit.ErrArtifactNotFound)
}

func TestLoad_SymlinkEscape(t *testing.T) {
	t.Parallel()
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.yaml"), []byte(artifactYAML("s", "x")), 0o600))
	snap := t.TempDir()
	if err := os.Symlink(filepath.Join(outside, "secret.yaml"), filepath.Join(snap, "link.yaml")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(snap, "ok.yaml"), []byte(artifactYAML("ok", "x")), 0o600))

	l := New()
	_, err := l.Load(snap, "", "link")
	require.ErrorIs(t, err, promptgit.ErrPathTraversal)

	a, err := l.Load(snap, "", "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", a.Metadata.Name)
}

func collect(t *testing.T, l *Loader, dir string) []string {
	t.Helper()
	var out []string
	for p, err := range l.List(dir) {
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func TestList(t *testing.T) {
	t.Parallel()
	l := memLoader(t, map[string]string{
		"b.yaml":           "x",
		"a.yaml":           "x",
		"a.yml":            "x",
		"sub/c.yml":        "x",
		"sub/index.yaml":   "x",
		"README.md":        "x",
		".git/config.yaml": "x",
	})
	assert.Equal(t, []string{"a", "b", "sub/c", "sub/index"}, collect(t, l, root))
}

func TestList_EarlyStop(t *testing.T) {
	t.Parallel()
	l := memLoader(t, map[string]string{"a.yaml": "x", "b.yaml": "x", "c.yaml": "x"})
	var got []string
	for p, err := range l.List(root) {
		require.NoError(t, err)
		got = append(got, p)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestList_MissingRoot(t *testing.T) {
	t.Parallel()
	l := New(WithFs(afero.NewMemMapFs()))
	var errs int
	for _, err := range l.List("/missing") {
		require.Error(t, err)
		errs++
	}
	assert.Equal(t, 1, errs)
}

func TestCandidatesAndIdentity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a.yaml", "a.yaml.yaml", "a.yaml.yml", filepath.Join("a.yaml", "index.yaml")}, Candidates("a.yaml"))
	assert.Equal(t, []string{"a.yaml", "a.yml", filepath.Join("a", "index.yaml")}, Candidates("a"))
	assert.Equal(t, "x/y", Identity("./x/y.yml"))
}

func TestLocateAndWrite(t *testing.T) {
	t.Parallel()
	l := memLoader(t, map[string]string{"greeting.yml": artifactYAML("g", "a")})

	file, err := l.Locate(root, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "greeting.yml", file)

	_, err = l.Locate(root, "team/new")
	require.ErrorIs(t, err, promptgit.ErrArtifactNotFound)
	_, err = l.Locate(root, "../escape")
	require.ErrorIs(t, err, promptgit.ErrPathTraversal)

	assert.Equal(t, "team/new.yaml", NewFile("team/new"))
	assert.Equal(t, "team/new.yml", NewFile("team/./new.yml"))

	require.NoError(t, l.Write(root, NewFile("team/new"), []byte(artifactYAML("new", "b"))))
	a, err := l.Load(root, "v1", "team/new")
	require.NoError(t, err)
	assert.Equal(t, "team/new.yaml", a.File)

	err = l.Write(root, "../outside.yaml", []byte("x"))
	require.ErrorIs(t, err, promptgit.ErrPathTraversal)

	require.NoError(t, l.Remove(root, "team/new.yaml"))
	require.NoError(t, l.Remove(root, "team/new.yaml"))
	_, err = l.Locate(root, "team/new")
	require.ErrorIs(t, err, promptgit.ErrArtifactNotFound)
	require.ErrorIs(t, l.Remove(root, "../outside.yaml"), promptgit.ErrPathTraversal)
}
