package promptgit

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffKind classifies one line of a diff.
type DiffKind int

const (
	DiffUnchanged DiffKind = iota
	DiffAdded
	DiffRemoved
)

// String returns "unchanged", "added" or "removed".
func (k DiffKind) String() string {
	switch k {
	case DiffAdded:
		return "added"
	case DiffRemoved:
		return "removed"
	default:
		return "unchanged"
	}
}

// MarshalText encodes k by name so JSON diffs stay readable.
func (k DiffKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// DiffLine is one line of a line diff, without its trailing newline.
type DiffLine struct {
	Kind    DiffKind `json:"kind"`
	Content string   `json:"content"`
}

// DiffResult is the line diff of one artifact file between two versions.
type DiffResult struct {
	Path  string     `json:"path"`
	From  VersionRef `json:"from"`
	To    VersionRef `json:"to"`
	Lines []DiffLine `json:"lines"`
}

// Changes returns only the added and removed lines.
func (d DiffResult) Changes() []DiffLine {
	var out []DiffLine
	for _, l := range d.Lines {
		if l.Kind != DiffUnchanged {
			out = append(out, l)
		}
	}
	return out
}

// Unified renders d as a unified diff with three lines of context.
// The result is empty when there are no changes.
func (d DiffResult) Unified() (string, error) {
	var a, b []string
	for _, l := range d.Lines {
		line := l.Content + "\n"
		switch l.Kind {
		case DiffUnchanged:
			a = append(a, line)
			b = append(b, line)
		case DiffRemoved:
			a = append(a, line)
		case DiffAdded:
			b = append(b, line)
		}
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: d.Path + "@" + d.From.String(),
		ToFile:   d.Path + "@" + d.To.String(),
		Context:  3,
	})
}

// DiffLines computes a line diff of oldText against newText.
// A replaced block is reported as its removed lines followed by its added lines.
func DiffLines(oldText, newText string) []DiffLine {
	a, b := splitLines(oldText), splitLines(newText)
	var out []DiffLine
	appendLines := func(kind DiffKind, lines []string) {
		for _, l := range lines {
			out = append(out, DiffLine{Kind: kind, Content: l})
		}
	}
	for _, op := range difflib.NewMatcher(a, b).GetOpCodes() {
		switch op.Tag {
		case 'e':
			appendLines(DiffUnchanged, a[op.I1:op.I2])
		case 'd':
			appendLines(DiffRemoved, a[op.I1:op.I2])
		case 'i':
			appendLines(DiffAdded, b[op.J1:op.J2])
		case 'r':
			appendLines(DiffRemoved, a[op.I1:op.I2])
			appendLines(DiffAdded, b[op.J1:op.J2])
		}
	}
	return out
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// VariableChange holds both sides of a variable declared in two artifact versions.
type VariableChange struct {
	Old VariableSpec
	New VariableSpec
}

// MetadataDiff summarizes non-template differences between two artifact versions.
type MetadataDiff struct {
	NameChanged        bool
	VersionChanged     bool
	DescriptionChanged bool
	AuthorChanged      bool
	TagsChanged        bool // compared as sets
	VariablesAdded     []string
	VariablesRemoved   []string
	VariablesChanged   map[string]VariableChange
}

// Changed reports whether any field differs.
func (m MetadataDiff) Changed() bool {
	return m.NameChanged || m.VersionChanged || m.DescriptionChanged || m.AuthorChanged ||
		m.TagsChanged || len(m.VariablesAdded) > 0 || len(m.VariablesRemoved) > 0 || len(m.VariablesChanged) > 0
}

// CompareMetadata compares metadata and variable declarations of a and b.
func CompareMetadata(a, b *Artifact) MetadataDiff {
	if a == nil {
		a = &Artifact{}
	}
	if b == nil {
		b = &Artifact{}
	}
	d := MetadataDiff{
		NameChanged:        a.Metadata.Name != b.Metadata.Name,
		VersionChanged:     a.Metadata.Version != b.Metadata.Version,
		DescriptionChanged: a.Metadata.Description != b.Metadata.Description,
		AuthorChanged:      a.Metadata.Author != b.Metadata.Author,
		TagsChanged:        !sameSet(a.Metadata.Tags, b.Metadata.Tags),
	}
	for name, nv := range b.Variables {
		ov, ok := a.Variables[name]
		if !ok {
			d.VariablesAdded = append(d.VariablesAdded, name)
			continue
		}
		if !reflect.DeepEqual(ov, nv) {
			if d.VariablesChanged == nil {
				d.VariablesChanged = make(map[string]VariableChange)
			}
			d.VariablesChanged[name] = VariableChange{Old: ov, New: nv}
		}
	}
	for name := range a.Variables {
		if _, ok := b.Variables[name]; !ok {
			d.VariablesRemoved = append(d.VariablesRemoved, name)
		}
	}
	sort.Strings(d.VariablesAdded)
	sort.Strings(d.VariablesRemoved)
	return d
}

func sameSet(a, b []string) bool {
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}
