// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmgilman/go/exec"
	"github.com/stretchr/testify/require"
)

var gitEnv = map[string]string{
	"GIT_AUTHOR_NAME": "test", "GIT_AUTHOR_EMAIL": "test@test",
	"GIT_COMMITTER_NAME": "test", "GIT_COMMITTER_EMAIL": "test@test",
	"GIT_CONFIG_NOSYSTEM": "1", "GIT_TERMINAL_PROMPT": "0", "LC_ALL": "C",
}

// RequireGit skips the test when the git binary is not available.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := osexec.LookPath("git"); err != nil {
		t.Skip("git not in PATH")
	}
}

// Git runs git with args in dir and returns trimmed combined output. It fails the test on error.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	res, err := exec.New(exec.WithInheritEnv(), exec.WithEnv(gitEnv)).
		WithContext(t.Context()).
		WithDir(dir).
		Run(append([]string{"git"}, args...)...)
	var out string
	if res != nil {
		out = res.Combined
	}
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(out)
}

// WriteFiles writes files (relative path -> content) under dir.
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))     // #nosec G301 -- test helper: dir is t.TempDir()
		require.NoError(t, os.WriteFile(full, []byte(content), 0644)) // #nosec G306 -- test helper: fixture content
	}
}

// InitRepo creates a repository in dir on branch main with one commit containing files.
// The repository carries a local committer identity so code under test can commit.
// It returns the commit hash.
func InitRepo(t testing.TB, dir string, files map[string]string) string {
	t.Helper()
	RequireGit(t)
	WriteFiles(t, dir, files)
	Git(t, dir, "init", "--quiet")
	Git(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	Git(t, dir, "config", "user.name", "test")
	Git(t, dir, "config", "user.email", "test@test")
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "--quiet", "--allow-empty", "-m", "init")
	return Head(t, dir)
}

// Commit writes files, commits them with msg and returns the new commit hash.
func Commit(t testing.TB, dir, msg string, files map[string]string) string {
	t.Helper()
	WriteFiles(t, dir, files)
	Git(t, dir, "add", ".")
	Git(t, dir, "commit", "--quiet", "--allow-empty", "-m", msg)
	return Head(t, dir)
}

// Head returns the full hash of HEAD in dir.
func Head(t testing.TB, dir string) string {
	t.Helper()
	return Git(t, dir, "rev-parse", "HEAD")
}
