package promptgit

import (
	"fmt"

	"github.com/skosovsky/promptgit/internal/cast"
)

// VarType is the declared type of a template variable. The set is closed.
type VarType int

const (
	VarInvalid VarType = iota
	VarString
	VarInt
	VarFloat
	VarBool
	VarList
	VarDict
	VarAny
)

var varTypeNames = [...]string{
	VarInvalid: "invalid",
	VarString:  "string",
	VarInt:     "int",
	VarFloat:   "float",
	VarBool:    "bool",
	VarList:    "list",
	VarDict:    "dict",
	VarAny:     "any",
}

// ValidVarTypes lists the type names accepted in manifests, in declaration order.
func ValidVarTypes() []string {
	return []string{"string", "int", "float", "bool", "list", "dict", "any"}
}

// String returns the manifest spelling of t.
func (t VarType) String() string {
	if t < 0 || int(t) >= len(varTypeNames) {
		return varTypeNames[VarInvalid]
	}
	return varTypeNames[t]
}

// ParseVarType maps a manifest type name to a VarType.
// An empty name means string. Unknown names yield VarInvalid.
func ParseVarType(s string) VarType {
	if s == "" {
		return VarString
	}
	for t := VarString; t <= VarAny; t++ {
		if varTypeNames[t] == s {
			return t
		}
	}
	return VarInvalid
}

// Check reports whether v is a valid value for t.
// Ints accept integral floats since JSON and YAML callers may decode numbers as float64.
func (t VarType) Check(v any) error {
	var ok bool
	switch t {
	case VarAny:
		return nil
	case VarString:
		_, ok = v.(string)
	case VarInt:
		_, ok = cast.ToInt64(v)
	case VarFloat:
		_, ok = cast.ToFloat64(v)
	case VarBool:
		_, ok = v.(bool)
	case VarList:
		ok = cast.IsList(v)
	case VarDict:
		ok = cast.IsMap(v)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrVariableType, t.String())
	}
	if !ok {
		return fmt.Errorf("%w: expected %s, got %T", ErrVariableType, t, v)
	}
	return nil
}
