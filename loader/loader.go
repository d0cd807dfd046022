// Package loader reads artifact files from a snapshot directory.
// All reads go through an afero.BasePathFs rooted at the snapshot, after a lexical
// and (on the OS filesystem) symlink-aware check that the path stays inside it.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/skosovsky/promptgit"
	"github.com/skosovsky/promptgit/manifest"
)

// Loader resolves artifact paths to files and parses them.
type Loader struct {
	fs     afero.Fs
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithFs sets the underlying filesystem. Default is afero.NewOsFs().
func WithFs(fsys afero.Fs) Option {
	return func(l *Loader) {
		l.fs = fsys
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New returns a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{fs: afero.NewOsFs(), logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Candidates returns the files tried for artifactPath, in order.
func Candidates(artifactPath string) []string {
	var out []string
	if ext := filepath.Ext(artifactPath); ext == ".yaml" || ext == ".yml" {
		out = append(out, artifactPath)
	}
	return append(out,
		artifactPath+".yaml",
		artifactPath+".yml",
		filepath.Join(artifactPath, "index.yaml"),
	)
}

// Identity returns the canonical artifact path: cleaned, slash-separated, without a yaml extension.
func Identity(artifactPath string) string {
	p := filepath.ToSlash(filepath.Clean(artifactPath))
	return strings.TrimSuffix(strings.TrimSuffix(p, ".yaml"), ".yml")
}

// Load resolves artifactPath under root and parses it. version is only used in errors.
// Failures are *promptgit.ArtifactError wrapping ErrPathTraversal, ErrArtifactNotFound or ErrParse.
func (l *Loader) Load(root, version, artifactPath string) (*promptgit.Artifact, error) {
	data, file, err := l.read(root, artifactPath)
	if err != nil {
		return nil, &promptgit.ArtifactError{Path: artifactPath, Version: version, Err: err}
	}
	a, err := manifest.ParseBytes(data)
	if err != nil {
		return nil, &promptgit.ArtifactError{Path: artifactPath, Version: version, Err: err}
	}
	a.Path = Identity(artifactPath)
	a.File = file
	l.logger.Debug("loaded artifact", "path", a.Path, "file", file, "version", version)
	return a, nil
}

// ReadRaw returns the unparsed text of the file artifactPath resolves to.
func (l *Loader) ReadRaw(root, version, artifactPath string) (string, error) {
	data, _, err := l.read(root, artifactPath)
	if err != nil {
		return "", &promptgit.ArtifactError{Path: artifactPath, Version: version, Err: err}
	}
	return string(data), nil
}

func (l *Loader) read(root, artifactPath string) ([]byte, string, error) {
	rel, err := l.locate(root, artifactPath)
	if err != nil {
		return nil, "", err
	}
	data, err := afero.ReadFile(afero.NewBasePathFs(l.fs, root), rel)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", rel, err)
	}
	return data, filepath.ToSlash(rel), nil
}

func (l *Loader) locate(root, artifactPath string) (string, error) {
	if err := checkLexical(root, artifactPath); err != nil {
		return "", err
	}
	base := afero.NewBasePathFs(l.fs, root)
	for _, rel := range Candidates(filepath.Clean(artifactPath)) {
		info, err := base.Stat(rel)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("stat %s: %w", rel, err)
		}
		if info.IsDir() {
			continue
		}
		if err := l.checkSymlinks(root, rel); err != nil {
			return "", err
		}
		return rel, nil
	}
	return "", promptgit.ErrArtifactNotFound
}

// Locate returns the file, relative to root and slash-separated, that artifactPath resolves to.
// Errors wrap ErrPathTraversal or ErrArtifactNotFound like Load.
func (l *Loader) Locate(root, artifactPath string) (string, error) {
	rel, err := l.locate(root, artifactPath)
	if err != nil {
		return "", &promptgit.ArtifactError{Path: artifactPath, Err: err}
	}
	return filepath.ToSlash(rel), nil
}

// NewFile returns the file a new artifact at artifactPath is written to: the path itself when
// it has a yaml extension, else the path plus ".yaml".
func NewFile(artifactPath string) string {
	p := filepath.ToSlash(filepath.Clean(artifactPath))
	if ext := filepath.Ext(p); ext == ".yaml" || ext == ".yml" {
		return p
	}
	return p + ".yaml"
}

// Write stores data as file under root, creating parent directories. file must stay inside root.
func (l *Loader) Write(root, file string, data []byte) error {
	if err := checkLexical(root, file); err != nil {
		return &promptgit.ArtifactError{Path: file, Err: err}
	}
	base := afero.NewBasePathFs(l.fs, root)
	if err := base.MkdirAll(filepath.Dir(filepath.FromSlash(file)), 0o750); err != nil {
		return fmt.Errorf("loader: %w", err)
	}
	if err := afero.WriteFile(base, filepath.FromSlash(file), data, 0o644); err != nil { // #nosec G306 -- artifact files are committed content
		return fmt.Errorf("loader: write %s: %w", file, err)
	}
	return nil
}

// Remove deletes file under root. A missing file is not an error.
func (l *Loader) Remove(root, file string) error {
	if err := checkLexical(root, file); err != nil {
		return &promptgit.ArtifactError{Path: file, Err: err}
	}
	err := afero.NewBasePathFs(l.fs, root).Remove(filepath.FromSlash(file))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loader: remove %s: %w", file, err)
	}
	return nil
}

func checkLexical(root, artifactPath string) error {
	if artifactPath == "" {
		return promptgit.ErrArtifactNotFound
	}
	if filepath.IsAbs(artifactPath) || strings.HasPrefix(artifactPath, "/") || strings.HasPrefix(artifactPath, `\`) {
		return promptgit.ErrPathTraversal
	}
	if !within(root, filepath.Join(root, artifactPath)) {
		return promptgit.ErrPathTraversal
	}
	return nil
}

// checkSymlinks rejects files whose real location is outside root. Only the OS filesystem has symlinks.
func (l *Loader) checkSymlinks(root, rel string) error {
	if _, ok := l.fs.(*afero.OsFs); !ok {
		return nil
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	realFile, err := filepath.EvalSymlinks(filepath.Join(root, rel))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return promptgit.ErrArtifactNotFound
		}
		return fmt.Errorf("resolve %s: %w", rel, err)
	}
	if !within(realRoot, realFile) {
		return promptgit.ErrPathTraversal
	}
	return nil
}

func within(root, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

var errStop = errors.New("loader: iteration stopped")

// List yields the artifact paths under root in lexical order: relative, slash-separated,
// without extension. A path present as both .yaml and .yml is yielded once. .git is skipped.
// A walk error is yielded once and ends the sequence.
func (l *Loader) List(root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		base := afero.NewBasePathFs(l.fs, root)
		seen := make(map[string]bool)
		err := afero.Walk(base, ".", func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Name() == ".git" {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}
			id := filepath.ToSlash(strings.TrimSuffix(path, ext))
			if seen[id] {
				return nil
			}
			seen[id] = true
			if !yield(id, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			yield("", fmt.Errorf("list %s: %w", root, err))
		}
	}
}
