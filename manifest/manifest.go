package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/skosovsky/promptgit"

	"gopkg.in/yaml.v3"
)

// fileManifest is the YAML shape of one artifact file.
type fileManifest struct {
	Name        string                  `yaml:"name"`
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description"`
	Author      string                  `yaml:"author"`
	Tags        []string                `yaml:"tags"`
	Template    string                  `yaml:"template"`
	Variables   map[string]variableDecl `yaml:"variables"`
}

// variableDecl accepts either a full mapping or the shorthand `name: type`.
type variableDecl struct {
	Type        string `yaml:"type"`
	Required    *bool  `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *variableDecl) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag != "!!null" {
			d.Type = value.Value
		}
		return nil
	case yaml.MappingNode:
		type plain variableDecl
		return value.Decode((*plain)(d))
	default:
		return fmt.Errorf("line %d: variable must be a type name or a mapping", value.Line)
	}
}

// ParseBytes parses an artifact file. Path and File of the result are left for the caller to set.
// Every failure wraps promptgit.ErrParse.
func ParseBytes(data []byte) (*promptgit.Artifact, error) {
	var m fileManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", promptgit.ErrParse, err)
	}
	return buildArtifact(&m)
}

// ParseFile reads and parses an artifact file from the local filesystem.
func ParseFile(path string) (*promptgit.Artifact, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("manifest: read file: %w", err)
	}
	a, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}
	a.File = path
	return a, nil
}

var errNoTemplate = errors.New("template is required")

func buildArtifact(m *fileManifest) (*promptgit.Artifact, error) {
	if m.Template == "" {
		return nil, fmt.Errorf("%w: %w", promptgit.ErrParse, errNoTemplate)
	}
	version := m.Version
	if version == "" {
		version = promptgit.DefaultArtifactVersion
	}
	a := &promptgit.Artifact{
		Template: m.Template,
		Metadata: promptgit.Metadata{
			Name:        m.Name,
			Version:     version,
			Description: m.Description,
			Author:      m.Author,
			Tags:        m.Tags,
		},
	}
	if len(m.Variables) > 0 {
		a.Variables = make(map[string]promptgit.VariableSpec, len(m.Variables))
	}
	for name, d := range m.Variables {
		typeName := d.Type
		if typeName == "" {
			typeName = promptgit.VarString.String()
		}
		required := true
		if d.Required != nil {
			required = *d.Required
		}
		a.Variables[name] = promptgit.VariableSpec{
			Type:        promptgit.ParseVarType(typeName),
			TypeName:    typeName,
			Required:    required,
			Default:     d.Default,
			Description: d.Description,
		}
	}
	return a, nil
}

// SetVersion returns data with its top-level version field set to version. Other fields,
// their order and comments are kept; the field is appended when missing.
func SetVersion(data []byte, version string) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", promptgit.ErrParse, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: artifact file must be a mapping", promptgit.ErrParse)
	}
	m := doc.Content[0]
	value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: version, Style: yaml.DoubleQuotedStyle}
	found := false
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == "version" {
			m.Content[i+1] = value
			found = true
			break
		}
	}
	if !found {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "version"}
		m.Content = append(m.Content, key, value)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// scaffold is the field order of a new artifact file.
type scaffold struct {
	Name        string                  `yaml:"name"`
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description"`
	Template    string                  `yaml:"template"`
	Variables   map[string]scaffoldDecl `yaml:"variables,omitempty"`
}

type scaffoldDecl struct {
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
	Description string `yaml:"description,omitempty"`
}

// Scaffold returns the text of a new artifact file at version DefaultArtifactVersion.
// An empty template becomes a short system prompt with an optional "instructions" variable.
func Scaffold(name, description, template string) ([]byte, error) {
	sc := scaffold{
		Name:        name,
		Version:     promptgit.DefaultArtifactVersion,
		Description: description,
		Template:    template,
	}
	if template == "" {
		sc.Template = "You are " + name + ".\n\n{{ .instructions }}"
		sc.Variables = map[string]scaffoldDecl{
			"instructions": {Type: "string", Default: "", Description: "Additional instructions"},
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(sc); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}
