// Package registry serves versioned prompt artifacts from a git repository.
// A Registry resolves each requested version to a commit, reads artifacts from an isolated
// worktree of that commit, and caches parsed artifacts by commit hash, so concurrent readers
// of different versions never see each other's files and a checkout never serves stale entries.
// Use New with an opened repository.Handle; Get returns a cloned artifact.
package registry
