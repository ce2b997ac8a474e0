package filter

import (
	"fmt"
	"strings"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

// LookupFunc resolves a layer name, prefixed or not.
type LookupFunc func(name string) (model.LayerSchema, bool)

// SplitID separates "layer.identifier" on the last dot.
func SplitID(ref string) (layer, id string, ok bool) {
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 || i == len(ref)-1 {
		return "", "", false
	}
	return ref[:i], ref[i+1:], true
}

// ResolveIDs renders identifier references against target as an OR-joined
// primary key predicate. All references must be of one kind and name the
// target layer.
func ResolveIDs(lookup LookupFunc, target string, refs []IDRef) (string, error) {
	if len(refs) == 0 {
		return "", fmt.Errorf("%w: no identifiers", ErrFeatureID)
	}
	kind := refs[0].Kind
	for _, r := range refs[1:] {
		if r.Kind != kind {
			return "", ErrMixedIDKind
		}
	}

	var schema model.LayerSchema
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		name, id, ok := SplitID(r.Value)
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrFeatureID, r.Value)
		}
		l, found := lookup(name)
		if !found || l.Name != target {
			return "", fmt.Errorf("%w: %s is not %s", ErrFeatureIDLayerMismatch, r.Value, target)
		}
		schema = l
		ids = append(ids, id)
	}
	if schema.PrimaryKey == "" {
		return "", fmt.Errorf("%w: %s", ErrNoIDColumn, target)
	}

	pk := PlainIdent(schema.PrimaryKey)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = pk + " = " + Quote(id)
	}
	return strings.Join(parts, " OR "), nil
}

// ResolveStrings is ResolveIDs over plain FeatureId strings, as used by the
// featureid request parameter.
func ResolveStrings(lookup LookupFunc, target string, refs []string) (string, error) {
	out := make([]IDRef, len(refs))
	for i, r := range refs {
		out[i] = IDRef{Kind: FeatureID, Value: r}
	}
	return ResolveIDs(lookup, target, out)
}
