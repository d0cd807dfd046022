package promptgit

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"text/template"
	"text/template/parse"
)

// isNilNode returns true if node is nil or an interface holding a nil pointer (e.g. *parse.ListNode).
func isNilNode(node parse.Node) bool {
	if node == nil {
		return true
	}
	v := reflect.ValueOf(node)
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// walkParseNodes visits node and its children. rooted reports whether dot is still the
// top-level data at that point; range and with bodies rebind dot.
func walkParseNodes(node parse.Node, rooted bool, visit func(n parse.Node, rooted bool)) {
	if isNilNode(node) {
		return
	}
	visit(node, rooted)
	switch n := node.(type) {
	case *parse.ListNode:
		for _, c := range n.Nodes {
			walkParseNodes(c, rooted, visit)
		}
	case *parse.ActionNode:
		walkParseNodes(n.Pipe, rooted, visit)
	case *parse.PipeNode:
		for _, c := range n.Cmds {
			walkParseNodes(c, rooted, visit)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			walkParseNodes(a, rooted, visit)
		}
	case *parse.ChainNode:
		walkParseNodes(n.Node, rooted, visit)
	case *parse.TemplateNode:
		walkParseNodes(n.Pipe, rooted, visit)
	case *parse.IfNode:
		walkParseNodes(n.Pipe, rooted, visit)
		walkParseNodes(n.List, rooted, visit)
		walkParseNodes(n.ElseList, rooted, visit)
	case *parse.RangeNode:
		walkParseNodes(n.Pipe, rooted, visit)
		walkParseNodes(n.List, false, visit)
		walkParseNodes(n.ElseList, rooted, visit)
	case *parse.WithNode:
		walkParseNodes(n.Pipe, rooted, visit)
		walkParseNodes(n.List, false, visit)
		walkParseNodes(n.ElseList, rooted, visit)
	}
}

// extractVarsFromTree collects top-level variable names from a template parse tree
// (.user_name and $.user_name both yield "user_name").
func extractVarsFromTree(tree *parse.Tree, seen map[string]bool) {
	if tree == nil || tree.Root == nil {
		return
	}
	walkParseNodes(tree.Root, true, func(n parse.Node, rooted bool) {
		switch x := n.(type) {
		case *parse.FieldNode:
			if rooted && len(x.Ident) > 0 {
				seen[x.Ident[0]] = true
			}
		case *parse.VariableNode:
			if len(x.Ident) > 1 && x.Ident[0] == "$" {
				seen[x.Ident[1]] = true
			}
		}
	})
}

// TemplateVariables parses text as an artifact template and returns the sorted names of
// top-level variables it references. Functions are resolved against the built-in set.
func TemplateVariables(text string) ([]string, error) {
	tpl, err := template.New("vars").Funcs(defaultFuncMap(nil)).Parse(text)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, t := range tpl.Templates() {
		extractVarsFromTree(t.Tree, seen)
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

type payloadField struct {
	index int
	tag   string
}

var payloadCache sync.Map // reflect.Type -> []payloadField

// VarsFromStruct converts a struct with `prompt:"name"` field tags into a variable map for Render.
// Fields without a tag or tagged "-" are skipped.
func VarsFromStruct(payload any) (map[string]any, error) {
	if payload == nil {
		return nil, ErrInvalidPayload
	}
	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, ErrInvalidPayload
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %T", ErrInvalidPayload, payload)
	}
	typ := v.Type()
	var fields []payloadField
	if cached, ok := payloadCache.Load(typ); ok {
		fields = cached.([]payloadField)
	} else {
		for i := range typ.NumField() {
			f := typ.Field(i)
			tag := f.Tag.Get("prompt")
			if tag == "" || tag == "-" || !f.IsExported() {
				continue
			}
			fields = append(fields, payloadField{index: i, tag: tag})
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: %s has no prompt tags", ErrInvalidPayload, typ)
		}
		payloadCache.Store(typ, fields)
	}
	vars := make(map[string]any, len(fields))
	for _, fi := range fields {
		vars[fi.tag] = v.Field(fi.index).Interface()
	}
	return vars, nil
}
