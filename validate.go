package promptgit

import (
	"fmt"
	"sort"
	"strings"
)

// Validate checks an artifact for structural problems and returns one description per problem.
// An empty result means the artifact is valid. Unused declared variables are not reported.
func Validate(a *Artifact) []string {
	if a == nil {
		return []string{"artifact is nil"}
	}
	var problems []string
	if a.Metadata.Name == "" {
		problems = append(problems, "artifact metadata must have a 'name' field")
	}

	used, err := TemplateVariables(a.Template)
	if err != nil {
		problems = append(problems, fmt.Sprintf("template syntax error: %v", err))
	} else {
		var undefined []string
		for _, name := range used {
			if _, ok := a.Variables[name]; !ok {
				undefined = append(undefined, name)
			}
		}
		if len(undefined) > 0 {
			problems = append(problems, "template uses undefined variables: "+strings.Join(undefined, ", "))
		}
	}

	names := make([]string, 0, len(a.Variables))
	for name := range a.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := a.Variables[name]
		if v.Required && v.Default != nil {
			problems = append(problems, fmt.Sprintf("variable %q is required but has a default value", name))
		}
		if v.Type == VarInvalid {
			typeName := v.TypeName
			if typeName == "" {
				typeName = v.Type.String()
			}
			problems = append(problems, fmt.Sprintf("variable %q has invalid type %q; valid types: %s",
				name, typeName, strings.Join(ValidVarTypes(), ", ")))
			continue
		}
		if v.Default != nil {
			if err := v.Type.Check(v.Default); err != nil {
				problems = append(problems, fmt.Sprintf("variable %q default: %v", name, err))
			}
		}
	}
	return problems
}
