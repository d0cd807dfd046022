package promptgit

import "text/template"

// RenderOption configures Render (functional options pattern).
type RenderOption func(*renderConfig)

type renderConfig struct {
	funcs        template.FuncMap
	tokenCounter TokenCounter
	skipTypes    bool
}

// WithFuncs adds template functions. Entries override the built-in ones of the same name.
func WithFuncs(funcs template.FuncMap) RenderOption {
	return func(c *renderConfig) {
		c.funcs = funcs
	}
}

// WithTokenCounter sets the token counter for truncate_tokens in templates.
func WithTokenCounter(tc TokenCounter) RenderOption {
	return func(c *renderConfig) {
		c.tokenCounter = tc
	}
}

// WithoutTypeCheck disables checking provided values against declared variable types.
func WithoutTypeCheck() RenderOption {
	return func(c *renderConfig) {
		c.skipTypes = true
	}
}
