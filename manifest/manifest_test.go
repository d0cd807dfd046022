package manifest

import (
	"path/filepath"
	"testing"

	"github.com/skosovsky/promptgit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseBytes_ValidSimple(t *testing.T) {
	t.Parallel()
	data := []byte(`
name: greeting
template: "Hello, {{ .user_name }}."
variables:
  user_name: string
`)
	a, err := ParseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "greeting", a.Metadata.Name)
	assert.Equal(t, promptgit.DefaultArtifactVersion, a.Metadata.Version)
	assert.Equal(t, "Hello, {{ .user_name }}.", a.Template)
	require.Contains(t, a.Variables, "user_name")
	assert.Equal(t, promptgit.VarString, a.Variables["user_name"].Type)
	assert.True(t, a.Variables["user_name"].Required)
}

func TestParseFile_Full(t *testing.T) {
	t.Parallel()
	path := filepath.Join("testdata", "full.yaml")
	a, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, a.File)
	assert.Equal(t, "support_agent", a.Metadata.Name)
	assert.Equal(t, "1.2.0", a.Metadata.Version)
	assert.Equal(t, "Customer support agent", a.Metadata.Description)
	assert.Equal(t, "platform-team", a.Metadata.Author)
	assert.Equal(t, []string{"support", "chat"}, a.Metadata.Tags)

	bot := a.Variables["bot_name"]
	assert.False(t, bot.Required)
	assert.Equal(t, "SupportBot", bot.Default)

	assert.Equal(t, promptgit.VarList, a.Variables["history"].Type)
	assert.Equal(t, promptgit.VarInt, a.Variables["max_turns"].Type)
	assert.True(t, a.Variables["max_turns"].Required)

	note := a.Variables["note"]
	assert.Equal(t, promptgit.VarString, note.Type)
	assert.Equal(t, "string", note.TypeName)

	assert.Equal(t, "Question from the customer", a.Variables["user_query"].Description)
	assert.Equal(t, []string{"max_turns", "note", "user_query"}, a.RequiredVariables())
}

func TestParseBytes_UnknownTypeKept(t *testing.T) {
	t.Parallel()
	a, err := ParseBytes([]byte("name: x\ntemplate: t\nvariables:\n  n: integer\n"))
	require.NoError(t, err)
	assert.Equal(t, promptgit.VarInvalid, a.Variables["n"].Type)
	assert.Equal(t, "integer", a.Variables["n"].TypeName)
	assert.NotEmpty(t, promptgit.Validate(a))
}

func TestParseBytes_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
	}{
		{"missing template", "name: x\n"},
		{"empty file", ""},
		{"bad yaml", "name: [unclosed\n"},
		{"list document", "- a\n- b\n"},
		{"variable as list", "name: x\ntemplate: t\nvariables:\n  v: [1, 2]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes([]byte(tt.data))
			require.ErrorIs(t, err, promptgit.ErrParse)
		})
	}
}

func TestParseFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, promptgit.ErrParse)
}

func TestSetVersion(t *testing.T) {
	t.Parallel()
	src := []byte("# greeting prompt\nname: greeting\nversion: 1.0.0\ntemplate: \"Hi {{ .name }}\" # short\nvariables:\n  name: string\n")
	out, err := SetVersion(src, "1.0.1")
	require.NoError(t, err)
	assert.Contains(t, string(out), "# greeting prompt")
	assert.Contains(t, string(out), "# short")

	a, err := ParseBytes(out)
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", a.Metadata.Version)
	assert.Equal(t, "Hi {{ .name }}", a.Template)
	assert.Contains(t, a.Variables, "name")

	out, err = SetVersion([]byte("name: x\ntemplate: t\n"), "2.0.0")
	require.NoError(t, err)
	a, err = ParseBytes(out)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", a.Metadata.Version)

	_, err = SetVersion([]byte("- a\n- b\n"), "1.0.0")
	require.ErrorIs(t, err, promptgit.ErrParse)
}

func TestScaffold(t *testing.T) {
	t.Parallel()
	data, err := Scaffold("helper", "Helps", "")
	require.NoError(t, err)
	a, err := ParseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "helper", a.Metadata.Name)
	assert.Equal(t, promptgit.DefaultArtifactVersion, a.Metadata.Version)
	assert.Equal(t, "Helps", a.Metadata.Description)
	assert.Equal(t, "You are helper.\n\n{{ .instructions }}", a.Template)
	require.Contains(t, a.Variables, "instructions")
	assert.False(t, a.Variables["instructions"].Required)
	assert.Equal(t, "", a.Variables["instructions"].Default)

	data, err = Scaffold("plain", "", "Hello")
	require.NoError(t, err)
	a, err = ParseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "Hello", a.Template)
	assert.Empty(t, a.Variables)
}
