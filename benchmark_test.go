package promptgit

import "testing"

func BenchmarkRender(b *testing.B) {
	a := greeting()
	vars := map[string]any{"name": "Ann"}
	b.ResetTimer()
	for b.Loop() {
		_, _ = Render(a, vars)
	}
}

func BenchmarkVarsFromStruct(b *testing.B) {
	type P struct {
		A string `prompt:"a"`
		B string `prompt:"b"`
		C string `prompt:"c"`
	}
	payload := &P{A: "x", B: "y", C: "z"}
	b.ResetTimer()
	for b.Loop() {
		_, _ = VarsFromStruct(payload)
	}
}

func BenchmarkDiffLines(b *testing.B) {
	oldText := "line one\nline two\nline three\nline four\n"
	newText := "line one\nline 2\nline three\nline four\nline five\n"
	b.ResetTimer()
	for b.Loop() {
		_ = DiffLines(oldText, newText)
	}
}
