package promptgit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/template"
	"unicode/utf8"
)

// TokenCounter estimates token count for a string.
// Callers can plug in an exact tokenizer; default is CharFallbackCounter.
type TokenCounter interface {
	Count(text string) (int, error)
}

// CharFallbackCounter estimates tokens as runes/CharsPerToken.
// Zero value uses 4 chars per token.
type CharFallbackCounter struct {
	CharsPerToken int
}

// Count returns ceil(rune_count / CharsPerToken). If CharsPerToken <= 0, uses 4.
func (c *CharFallbackCounter) Count(text string) (int, error) {
	cpt := c.CharsPerToken
	if cpt <= 0 {
		cpt = 4
	}
	n := utf8.RuneCountInString(text)
	return (n + cpt - 1) / cpt, nil
}

// defaultFuncMap returns the functions available to artifact templates.
func defaultFuncMap(tc TokenCounter) template.FuncMap {
	if tc == nil {
		tc = &CharFallbackCounter{}
	}
	return template.FuncMap{
		"truncate_chars":  truncateChars,
		"truncate_tokens": makeTruncateTokens(tc),
		"join":            joinList,
		"to_json":         toJSON,
		"default":         defaultValue,
		"upper":           strings.ToUpper,
		"lower":           strings.ToLower,
		"trim":            strings.TrimSpace,
	}
}

// truncateChars truncates text to at most maxChars runes.
func truncateChars(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxChars])
}

// makeTruncateTokens returns a function that truncates text to at most maxTokens using tc.
func makeTruncateTokens(tc TokenCounter) func(string, int) (string, error) {
	return func(text string, maxTokens int) (string, error) {
		if maxTokens <= 0 {
			return "", nil
		}
		n, err := tc.Count(text)
		if err != nil {
			return "", err
		}
		if n <= maxTokens {
			return text, nil
		}
		runes := []rune(text)
		lo, hi := 0, len(runes)
		for lo < hi {
			mid := (lo + hi + 1) / 2
			n, _ = tc.Count(string(runes[:mid]))
			if n <= maxTokens {
				lo = mid
			} else {
				hi = mid - 1
			}
		}
		return string(runes[:lo]), nil
	}
}

// joinList joins the elements of any slice with sep, formatting each with %v.
func joinList(sep string, list any) (string, error) {
	if list == nil {
		return "", nil
	}
	if ss, ok := list.([]string); ok {
		return strings.Join(ss, sep), nil
	}
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return "", fmt.Errorf("join: expected list, got %T", list)
	}
	parts := make([]string, rv.Len())
	for i := range rv.Len() {
		parts[i] = fmt.Sprint(rv.Index(i).Interface())
	}
	return strings.Join(parts, sep), nil
}

// toJSON returns the compact JSON encoding of v. Map keys are sorted by encoding/json.
func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("to_json: %w", err)
	}
	return string(b), nil
}

// defaultValue returns v unless it is nil or an empty string, in which case def is returned.
// Argument order follows pipelines: {{ .x | default "none" }}.
func defaultValue(def, v any) any {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok && s == "" {
		return def
	}
	return v
}
