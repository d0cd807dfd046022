package promptgit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hashA = "0123456789abcdef0123456789abcdef01234567"

func TestVersionRef(t *testing.T) {
	t.Parallel()
	a := VersionRef{Hash: hashA, Label: "main", Kind: RefBranch}
	b := VersionRef{Hash: hashA, Label: "v1.0", Kind: RefTag}
	c := VersionRef{Hash: "fedcba9876543210fedcba9876543210fedcba98"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.Equal(t, "01234567", a.Short())
	assert.Equal(t, "main", a.String())
	assert.Equal(t, "fedcba98", c.String())
	assert.Equal(t, "branch", a.Kind.String())
	assert.Equal(t, "commit", c.Kind.String())
	assert.Equal(t, "abc", ShortHash("abc"))
}

func TestArtifactTag(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "assistants-helper/v1.2.0", ArtifactTag("assistants/helper", "1.2.0"))
	assert.Equal(t, "greeting/v2.0.0", ArtifactTag("greeting", "v2.0.0"))
}

func TestBumpVersion(t *testing.T) {
	t.Parallel()
	tests := []struct {
		version, kind, want string
		wantErr             bool
	}{
		{"1.2.3", "patch", "1.2.4", false},
		{"1.2.3", "", "1.2.4", false},
		{"1.2.3", "minor", "1.3.0", false},
		{"1.2.3", "major", "2.0.0", false},
		{"v0.9.9", "minor", "0.10.0", false},
		{"1.0", "patch", "1.0.1", false},
		{"", "major", "2.0.0", false},
		{"1.x.3", "patch", "", true},
		{"1.2.3", "huge", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.version+"/"+tt.kind, func(t *testing.T) {
			t.Parallel()
			got, err := BumpVersion(tt.version, tt.kind)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
