package filter

import (
	"sort"
	"strings"
)

// FunctionDef is a Filter Encoding function the compiler can render.
type FunctionDef struct {
	Name  string
	NArgs int
	sql   string
}

// functions is the closed set of callable functions, keyed by lower-cased
// filter name. Anything else is rejected at compile time.
var functions = map[string]FunctionDef{}

func init() {
	for _, f := range []FunctionDef{
		{"strToLowerCase", 1, "lower"},
		{"strToUpperCase", 1, "upper"},
		{"strLength", 1, "char_length"},
		{"strTrim", 1, "btrim"},
		{"strConcat", 2, "concat"},
		{"lower", 1, "lower"},
		{"upper", 1, "upper"},
		{"abs", 1, "abs"},
		{"ceil", 1, "ceil"},
		{"floor", 1, "floor"},
		{"round", 1, "round"},
		{"sqrt", 1, "sqrt"},
		{"area", 1, "ST_Area"},
		{"geomLength", 1, "ST_Length"},
	} {
		functions[strings.ToLower(f.Name)] = f
	}
}

func lookupFunction(name string) (FunctionDef, bool) {
	f, ok := functions[strings.ToLower(name)]
	return f, ok
}

// Functions lists the callable functions sorted by name, for
// Filter_Capabilities.
func Functions() []FunctionDef {
	out := make([]FunctionDef, 0, len(functions))
	for _, f := range functions {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
