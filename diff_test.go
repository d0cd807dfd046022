package promptgit

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffLines_Replace(t *testing.T) {
	t.Parallel()
	got := DiffLines("Hello {{ .name }}\n", "Hi {{ .name }}\n")
	assert.Equal(t, []DiffLine{
		{Kind: DiffRemoved, Content: "Hello {{ .name }}"},
		{Kind: DiffAdded, Content: "Hi {{ .name }}"},
	}, got)
}

func TestDiffLines_Mixed(t *testing.T) {
	t.Parallel()
	got := DiffLines("a\nb\nc\n", "a\nc\nd\n")
	assert.Equal(t, []DiffLine{
		{Kind: DiffUnchanged, Content: "a"},
		{Kind: DiffRemoved, Content: "b"},
		{Kind: DiffUnchanged, Content: "c"},
		{Kind: DiffAdded, Content: "d"},
	}, got)
}

func TestDiffLines_EmptySides(t *testing.T) {
	t.Parallel()
	assert.Empty(t, DiffLines("", ""))
	assert.Equal(t, []DiffLine{{Kind: DiffAdded, Content: "x"}}, DiffLines("", "x\n"))
	assert.Equal(t, []DiffLine{{Kind: DiffRemoved, Content: "x"}}, DiffLines("x", ""))
}

func TestDiffResult_ChangesAndUnified(t *testing.T) {
	t.Parallel()
	d := DiffResult{
		Path:  "greeting",
		From:  VersionRef{Hash: hashA, Label: "v1"},
		To:    VersionRef{Hash: hashA, Label: "v2"},
		Lines: DiffLines("keep\nHello\n", "keep\nHi\n"),
	}
	assert.Len(t, d.Lines, 3)
	assert.Equal(t, []DiffLine{
		{Kind: DiffRemoved, Content: "Hello"},
		{Kind: DiffAdded, Content: "Hi"},
	}, d.Changes())

	u, err := d.Unified()
	require.NoError(t, err)
	assert.Contains(t, u, "--- greeting@v1")
	assert.Contains(t, u, "+++ greeting@v2")
	assert.Contains(t, u, "-Hello\n")
	assert.Contains(t, u, "+Hi\n")
	assert.Contains(t, u, " keep\n")
}

func TestDiffResult_SameText(t *testing.T) {
	t.Parallel()
	d := DiffResult{Path: "p", Lines: DiffLines("a\nb\n", "a\nb\n")}
	assert.Len(t, d.Lines, 2)
	assert.Empty(t, d.Changes())
}

func TestDiffKind_JSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(DiffLine{Kind: DiffAdded, Content: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"added","content":"x"}`, string(b))
}

func TestCompareMetadata(t *testing.T) {
	t.Parallel()
	a := &Artifact{
		Metadata: Metadata{Name: "n", Version: "1.0.0", Tags: []string{"x", "y"}},
		Variables: map[string]VariableSpec{
			"keep":    {Type: VarString},
			"changed": {Type: VarString},
			"gone":    {Type: VarInt},
		},
	}
	b := &Artifact{
		Metadata: Metadata{Name: "n", Version: "1.1.0", Tags: []string{"y", "x"}, Author: "ann"},
		Variables: map[string]VariableSpec{
			"keep":    {Type: VarString},
			"changed": {Type: VarInt},
			"new":     {Type: VarBool},
		},
	}
	d := CompareMetadata(a, b)
	assert.True(t, d.Changed())
	assert.False(t, d.NameChanged)
	assert.True(t, d.VersionChanged)
	assert.True(t, d.AuthorChanged)
	assert.False(t, d.TagsChanged)
	assert.Equal(t, []string{"new"}, d.VariablesAdded)
	assert.Equal(t, []string{"gone"}, d.VariablesRemoved)
	require.Contains(t, d.VariablesChanged, "changed")
	assert.Equal(t, VarInt, d.VariablesChanged["changed"].New.Type)

	assert.False(t, CompareMetadata(a, a).Changed())
}
