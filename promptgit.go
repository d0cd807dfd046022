package promptgit

import (
	"slices"
	"sort"
)

// DefaultArtifactVersion is used when a manifest omits its semantic version.
const DefaultArtifactVersion = "1.0.0"

// Metadata holds descriptive fields of an artifact manifest.
type Metadata struct {
	Name        string
	Version     string // semantic version declared in the manifest, not the git version
	Description string
	Author      string
	Tags        []string
}

// VariableSpec declares one template variable.
type VariableSpec struct {
	Type        VarType
	TypeName    string // type as written in the manifest; kept for diagnostics
	Required    bool
	Default     any
	Description string
}

// Artifact is the parsed form of one artifact file.
// Records returned from a cache are shared; use CloneArtifact before mutating.
type Artifact struct {
	Path      string // repository-relative identity, without extension
	File      string // resolved file, relative to the snapshot root
	Template  string
	Variables map[string]VariableSpec
	Metadata  Metadata
}

// RequiredVariables returns the names of required variables in sorted order.
func (a *Artifact) RequiredVariables() []string {
	var out []string
	for name, v := range a.Variables {
		if v.Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Defaults returns default values of optional variables that declare one.
func (a *Artifact) Defaults() map[string]any {
	out := make(map[string]any)
	for name, v := range a.Variables {
		if !v.Required && v.Default != nil {
			out[name] = v.Default
		}
	}
	return out
}

// CloneArtifact returns a deep copy of a, list and dict defaults included.
// Registries use this so callers cannot mutate cached records.
func CloneArtifact(a *Artifact) *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	if a.Variables != nil {
		out.Variables = make(map[string]VariableSpec, len(a.Variables))
		for name, v := range a.Variables {
			v.Default = cloneValue(v.Default)
			out.Variables[name] = v
		}
	}
	if len(a.Metadata.Tags) > 0 {
		out.Metadata.Tags = slices.Clone(a.Metadata.Tags)
	}
	return &out
}

// cloneValue copies the containers YAML decoding produces; scalars are returned as is.
func cloneValue(v any) any {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}
