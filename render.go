package promptgit

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"text/template"
)

// Render executes the artifact template with vars merged over the declared defaults.
// Required variables must be present after the merge; provided values must match their
// declared types. References to undeclared keys fail instead of rendering "<no value>".
// Every failure wraps ErrRender.
func Render(a *Artifact, vars map[string]any, opts ...RenderOption) (string, error) {
	if a == nil {
		return "", fmt.Errorf("%w: nil artifact", ErrRender)
	}
	var cfg renderConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	data := a.Defaults()
	maps.Copy(data, vars)

	var errs []error
	for _, name := range a.RequiredVariables() {
		if _, ok := data[name]; !ok {
			errs = append(errs, &VariableError{Variable: name, Artifact: a.Path, Err: ErrMissingVariable})
		}
	}
	if !cfg.skipTypes {
		names := make([]string, 0, len(vars))
		for name := range vars {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec, ok := a.Variables[name]
			if !ok {
				continue
			}
			if err := spec.Type.Check(vars[name]); err != nil {
				errs = append(errs, &VariableError{Variable: name, Artifact: a.Path, Err: err})
			}
		}
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", ErrRender, errors.Join(errs...))
	}

	funcs := defaultFuncMap(cfg.tokenCounter)
	maps.Copy(funcs, cfg.funcs)
	tpl, err := template.New(a.Path).Funcs(funcs).Option("missingkey=error").Parse(a.Template)
	if err != nil {
		return "", fmt.Errorf("%w: artifact %q: %w", ErrRender, a.Path, err)
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("%w: artifact %q: %w", ErrRender, a.Path, err)
	}
	return sb.String(), nil
}
