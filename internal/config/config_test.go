package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skosovsky/promptgit/cache"
	"github.com/skosovsky/promptgit/worktree"
)

// isolate keeps Load away from config files and variables of the machine running the tests.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(ConfigEnv, "")
	t.Chdir(t.TempDir())
}

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Empty(t, c.Repo)
	assert.Equal(t, DefaultRepoDir, c.Target())
	assert.NotEmpty(t, c.CacheRoot)
	assert.True(t, c.CacheEnabled)
	assert.Equal(t, cache.DefaultTTL, c.CacheTTL)
	assert.Equal(t, 300*time.Second, c.EffectiveTTL())
	assert.Equal(t, worktree.DefaultMaxSnapshots, c.MaxSnapshots)
	assert.Equal(t, worktree.DefaultIdleThreshold, c.IdleThreshold)
	assert.Equal(t, worktree.DefaultCreateTimeout, c.SnapshotTimeout)
	assert.Equal(t, cache.DefaultLoadTimeout, c.LoadTimeout)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "text", c.LogFormat)
	assert.True(t, c.ValidateOnRender)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	isolate(t)
	file := writeConfig(t, "promptgit.yaml", `
repo: /srv/prompts
cache_ttl: 30s
cache_max_entries: 100
idle_threshold: 2m
snapshot_timeout: 30s
load_timeout: 45s
log_format: json
listen: ":9000"
`)

	v := New()
	c, err := Load(v, file)
	require.NoError(t, err)
	assert.Equal(t, "/srv/prompts", c.Repo)
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.Equal(t, 100, c.CacheMaxEntries)
	assert.Equal(t, 2*time.Minute, c.IdleThreshold)
	assert.Equal(t, 30*time.Second, c.SnapshotTimeout)
	assert.Equal(t, 45*time.Second, c.LoadTimeout)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, ":9000", c.Listen)

	t.Setenv("PROMPTGIT_CACHE_TTL", "45s")
	t.Setenv("PROMPTGIT_VALIDATE_ON_RENDER", "false")
	c, err = Load(New(), file)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, c.CacheTTL)
	assert.False(t, c.ValidateOnRender)
	assert.Equal(t, "/srv/prompts", c.Repo)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("repo", "", "")
	fs.String("cache-ttl", "", "")
	fs.Bool("verbose", false, "")
	require.NoError(t, fs.Parse([]string{"--repo=/tmp/other", "--cache-ttl=1s", "--verbose"}))
	v = New()
	require.NoError(t, BindFlags(v, fs))
	c, err = Load(v, file)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other", c.Repo)
	assert.Equal(t, time.Second, c.CacheTTL)
	assert.False(t, v.IsSet("verbose"))
}

func TestLoad_ConfigEnv(t *testing.T) {
	isolate(t)
	file := writeConfig(t, "settings.yaml", "repo: from-env-file\n")
	t.Setenv(ConfigEnv, file)

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "from-env-file", c.Repo)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := writeConfig(t, "bad.yaml", "log_level: loud\nlog_format: xml\nmax_snapshots: -1\nload_timeout: -1s\n")
	_, err = Load(New(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load_timeout")
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "log_format")
	assert.Contains(t, err.Error(), "max_snapshots")
}

func TestTarget(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "team", (&Config{DefaultRepo: "team"}).Target())
	assert.Equal(t, "/srv/prompts", (&Config{Repo: "/srv/prompts", DefaultRepo: "team"}).Target())
}

func TestSaveDefaultRepo(t *testing.T) {
	isolate(t)
	home := os.Getenv("HOME")

	v := New()
	_, err := Load(v, "")
	require.NoError(t, err)
	file, err := SaveDefaultRepo(v, "team")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "promptgit", "promptgit.yaml"), file)

	c, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "team", c.DefaultRepo)
	assert.Equal(t, "team", c.Target())

	existing := writeConfig(t, "promptgit.yaml", "log_format: json\n")
	v = New()
	t.Setenv("PROMPTGIT_LOG_LEVEL", "debug")
	_, err = Load(v, existing)
	require.NoError(t, err)
	file, err = SaveDefaultRepo(v, "other")
	require.NoError(t, err)
	assert.Equal(t, existing, file)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Contains(t, string(data), "log_format: json")
	assert.Contains(t, string(data), "default_repo: other")
	assert.NotContains(t, string(data), "log_level")

	c, err = Load(New(), existing)
	require.NoError(t, err)
	assert.Equal(t, "other", c.DefaultRepo)
}

func TestLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := &Config{LogLevel: "warn", LogFormat: "JSON"}
	logger, err := c.Logger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "repo", "prompts")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "prompts", line["repo"])

	_, err = (&Config{LogLevel: "loud"}).Logger(&buf)
	require.Error(t, err)
}

func TestCacheDisabled(t *testing.T) {
	t.Parallel()
	c := &Config{CacheEnabled: false, CacheTTL: time.Minute, ValidateOnRender: true}
	assert.Zero(t, c.EffectiveTTL())
	assert.Len(t, c.RegistryOptions(nil), 4)

	c.ValidateOnRender = false
	assert.Len(t, c.RegistryOptions(nil), 5)
}
