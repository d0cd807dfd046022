// Package promptgit provides versioned prompt artifacts stored as YAML files in a git repository.
// It defines the artifact record, the closed set of variable types, version references,
// line diffs, and text/template rendering and validation of artifacts.
// The registry package composes these with git worktrees and a version-scoped cache.
package promptgit
