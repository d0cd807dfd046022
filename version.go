package promptgit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RefKind tells how a version string was resolved.
type RefKind int

const (
	RefCommit RefKind = iota
	RefTag
	RefBranch
	RefRemoteBranch
	RefHead
)

// String returns a lowercase name for k.
func (k RefKind) String() string {
	switch k {
	case RefTag:
		return "tag"
	case RefBranch:
		return "branch"
	case RefRemoteBranch:
		return "remote-branch"
	case RefHead:
		return "head"
	default:
		return "commit"
	}
}

// MarshalText encodes k by name.
func (k RefKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// VersionRef is a resolved version: a full commit hash plus the label it was resolved from.
type VersionRef struct {
	Hash  string  `json:"hash"`            // full 40-hex commit hash
	Label string  `json:"label,omitempty"` // branch, tag or the caller's input; may be empty
	Kind  RefKind `json:"kind"`
}

// Equal reports whether r and o name the same commit. Labels are ignored.
func (r VersionRef) Equal(o VersionRef) bool { return r.Hash == o.Hash }

// Short returns the first 8 characters of the hash.
func (r VersionRef) Short() string { return ShortHash(r.Hash) }

// String returns the label, or the short hash when there is none.
func (r VersionRef) String() string {
	if r.Label != "" {
		return r.Label
	}
	return r.Short()
}

// ShortHash abbreviates a commit hash to 8 characters.
func ShortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// VersionDescriptor describes a branch, tag or the current version of a repository.
type VersionDescriptor struct {
	Name        string    `json:"name"`
	Hash        string    `json:"hash"`
	ShortHash   string    `json:"short_hash"`
	Message     string    `json:"message"`
	CommittedAt time.Time `json:"committed_at"`
	IsBranch    bool      `json:"is_branch"`
	IsTag       bool      `json:"is_tag"`
	IsCurrent   bool      `json:"is_current"`
}

// ArtifactTag returns the artifact-scoped tag name for path at semver,
// e.g. ArtifactTag("assistants/helper", "1.2.0") == "assistants-helper/v1.2.0".
// Resolution matches such tags only literally.
func ArtifactTag(path, semver string) string {
	return strings.ReplaceAll(path, "/", "-") + "/v" + strings.TrimPrefix(semver, "v")
}

// BumpVersion increments a major.minor.patch version. kind is "major", "minor" or "patch".
// A version that does not have three parts is treated as "1.0.0".
func BumpVersion(version, kind string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		parts = []string{"1", "0", "0"}
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return "", fmt.Errorf("promptgit: invalid version %q", version)
		}
		n[i] = v
	}
	switch kind {
	case "major":
		n = [3]int{n[0] + 1, 0, 0}
	case "minor":
		n = [3]int{n[0], n[1] + 1, 0}
	case "patch", "":
		n[2]++
	default:
		return "", fmt.Errorf("promptgit: unknown bump kind %q", kind)
	}
	return fmt.Sprintf("%d.%d.%d", n[0], n[1], n[2]), nil
}
