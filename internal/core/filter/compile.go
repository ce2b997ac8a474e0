package filter

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

// SpatialEngine renders geometry constructors and predicates in the
// backing store's SQL dialect.
type SpatialEngine interface {
	GeomFromText(wkt string, srid int) string
	Transform(expr string, srcSRID, dstSRID int) string
	Predicate(op SpatialOp, column, geom string, distance float64) string
}

var (
	numericLiteral = regexp.MustCompile(`^[-+]?[0-9]*\.?[0-9]+$`)
	ordinalPath    = regexp.MustCompile(`^\*\[\s*(?:position\(\)\s*=\s*)?([0-9]+)\s*\]$`)
)

// Compiler turns filter trees into SQL boolean expressions for one layer.
//
// Bracketing: an operand is wrapped in parentheses when its node has two or
// more element children (comparisons, binary arithmetic, logical groups,
// spatial operators with a property). NOT always brackets its operand and
// the root fragment is never bracketed. Operands that compile to the empty
// string are dropped from AND/OR and are never bracketed.
type Compiler struct {
	Engine SpatialEngine
	// Prefixes are namespace prefixes stripped from property names.
	Prefixes []string
}

// Compile renders a parsed filter document for layer. Identifier filters go
// through ResolveIDs with layer as the target.
func (c Compiler) Compile(layer model.LayerSchema, f *Filter) (string, error) {
	if f == nil {
		return "", nil
	}
	if len(f.IDs) > 0 {
		lookup := func(name string) (model.LayerSchema, bool) {
			if name == layer.Name || name == layer.QualifiedName() {
				return layer, true
			}
			return model.LayerSchema{}, false
		}
		return ResolveIDs(lookup, layer.Name, f.IDs)
	}
	return c.CompileNode(layer, f.Expr)
}

// CompileNode renders one subtree. A nil node yields the empty fragment.
func (c Compiler) CompileNode(layer model.LayerSchema, n Node) (string, error) {
	if n == nil {
		return "", nil
	}
	switch v := n.(type) {
	case *PropertyName:
		col, err := c.column(layer, v.Path)
		if err != nil {
			return "", err
		}
		return Ident(col), nil
	case *Literal:
		return literal(v.Text), nil
	case *Arithmetic:
		return c.binary(layer, v.Left, string(v.Op), v.Right)
	case *Comparison:
		return c.comparison(layer, v)
	case *Logical:
		return c.logical(layer, v)
	case *Function:
		return c.function(layer, v)
	case *Spatial:
		return c.spatial(layer, v)
	default:
		return "", fmt.Errorf("%w: unknown node %T", ErrFilter, n)
	}
}

func (c Compiler) operand(layer model.LayerSchema, n Node) (string, error) {
	s, err := c.CompileNode(layer, n)
	if err != nil || s == "" {
		return s, err
	}
	if arity(n) >= 2 {
		return "(" + s + ")", nil
	}
	return s, nil
}

func (c Compiler) binary(layer model.LayerSchema, left Node, op string, right Node) (string, error) {
	if left == nil || right == nil {
		return "", fmt.Errorf("%w: %s needs two operands", ErrFilter, op)
	}
	l, err := c.operand(layer, left)
	if err != nil {
		return "", err
	}
	r, err := c.operand(layer, right)
	if err != nil {
		return "", err
	}
	return l + " " + op + " " + r, nil
}

func (c Compiler) comparison(layer model.LayerSchema, v *Comparison) (string, error) {
	switch v.Op {
	case OpIsNull:
		if v.Left == nil {
			return "", fmt.Errorf("%w: IS NULL needs an operand", ErrFilter)
		}
		l, err := c.operand(layer, v.Left)
		if err != nil {
			return "", err
		}
		return l + " IS NULL", nil
	case OpBetween:
		if v.Left == nil || v.Right == nil || v.Upper == nil {
			return "", fmt.Errorf("%w: BETWEEN needs three operands", ErrFilter)
		}
		parts := make([]string, 0, 3)
		for _, x := range []Node{v.Left, v.Right, v.Upper} {
			s, err := c.operand(layer, x)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return parts[0] + " BETWEEN " + parts[1] + " AND " + parts[2], nil
	case OpLike:
		if v.Left == nil {
			return "", fmt.Errorf("%w: LIKE needs an operand", ErrFilter)
		}
		lit, ok := v.Right.(*Literal)
		if !ok {
			return "", fmt.Errorf("%w: LIKE pattern must be a literal", ErrFilter)
		}
		l, err := c.operand(layer, v.Left)
		if err != nil {
			return "", err
		}
		op := "LIKE"
		if !v.MatchCase {
			op = "ILIKE"
		}
		return l + " " + op + " " + Quote(likePattern(lit.Text, v.Like)), nil
	default:
		return c.binary(layer, v.Left, string(v.Op), v.Right)
	}
}

func (c Compiler) logical(layer model.LayerSchema, v *Logical) (string, error) {
	if v.Op == OpNot {
		if len(v.Children) == 0 {
			return "", nil
		}
		s, err := c.CompileNode(layer, v.Children[0])
		if err != nil || s == "" {
			return s, err
		}
		return "NOT (" + s + ")", nil
	}
	parts := make([]string, 0, len(v.Children))
	for _, child := range v.Children {
		s, err := c.operand(layer, child)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "+string(v.Op)+" "), nil
}

func (c Compiler) function(layer model.LayerSchema, v *Function) (string, error) {
	def, ok := lookupFunction(v.Name)
	if !ok {
		return "", fmt.Errorf("%w: unknown function %q", ErrFilter, v.Name)
	}
	if len(v.Args) != def.NArgs {
		return "", fmt.Errorf("%w: function %s takes %d arguments, got %d", ErrFilter, def.Name, def.NArgs, len(v.Args))
	}
	args := make([]string, 0, len(v.Args))
	for _, a := range v.Args {
		s, err := c.CompileNode(layer, a)
		if err != nil {
			return "", err
		}
		args = append(args, s)
	}
	return def.sql + "(" + strings.Join(args, ", ") + ")", nil
}

func (c Compiler) spatial(layer model.LayerSchema, v *Spatial) (string, error) {
	if c.Engine == nil {
		return "", fmt.Errorf("%w: no spatial engine", ErrFilter)
	}
	var col string
	if v.Property == nil {
		if len(layer.GeomCols) == 0 {
			return "", fmt.Errorf("%w: layer %s has no geometry column", ErrGeomPropertyName, layer.Name)
		}
		col = layer.GeomCols[0]
	} else {
		var err error
		col, err = c.column(layer, v.Property.Path)
		if err != nil {
			return "", err
		}
		if !layer.IsGeometry(col) {
			return "", fmt.Errorf("%w: %s", ErrGeomPropertyName, v.Property.Path)
		}
	}
	if v.Geometry == nil {
		return "", fmt.Errorf("%w: %s without geometry", ErrFilter, v.Op)
	}
	src := v.SRID
	if src == 0 {
		src = layer.SRID
	}
	geom := c.Engine.Transform(c.Engine.GeomFromText(wkt.MarshalString(v.Geometry), src), src, layer.SRID)
	column, dist := Ident(col), v.Distance
	if v.Op == OpDWithin || v.Op == OpBeyond {
		f, kind, err := distanceUnit(v.Units)
		if err != nil {
			return "", err
		}
		switch {
		case kind == unitMetric && layer.IsDegree:
			// metric distances on geographic layers are measured on the spheroid
			column, geom = column+"::geography", geom+"::geography"
			dist *= f
		case kind == unitMetric:
			dist *= f
		case kind == unitDegree && !layer.IsDegree:
			return "", fmt.Errorf("%w: distance in %s on projected layer %s", ErrFilter, v.Units, layer.Name)
		}
	}
	return c.Engine.Predicate(v.Op, column, geom, dist), nil
}

// column resolves a property path to a column of layer.
func (c Compiler) column(layer model.LayerSchema, path string) (string, error) {
	name := StripPrefix(strings.TrimSpace(path), c.prefixes(layer))
	if m := ordinalPath.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[1])
		col, ok := layer.Ordinal(n)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrPropertyName, path)
		}
		return col, nil
	}
	if !layer.HasColumn(name) {
		return "", fmt.Errorf("%w: %s", ErrPropertyName, path)
	}
	return name, nil
}

func (c Compiler) prefixes(layer model.LayerSchema) []string {
	if layer.Prefix == "" || slices.Contains(c.Prefixes, layer.Prefix) {
		return c.Prefixes
	}
	return append(slices.Clone(c.Prefixes), layer.Prefix)
}

// StripPrefix removes a leading "prefix:" when prefix is known.
func StripPrefix(name string, known []string) string {
	i := strings.IndexByte(name, ':')
	if i <= 0 {
		return name
	}
	if slices.Contains(known, name[:i]) {
		return name[i+1:]
	}
	return name
}

// OrdinalIndex reports the 1-based position in an XPath positional
// property name such as *[2] or *[position()=2].
func OrdinalIndex(name string) (int, bool) {
	m := ordinalPath.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

func literal(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return "''"
	}
	if numericLiteral.MatchString(t) {
		return t
	}
	return Quote(text)
}

// Quote renders s as a SQL string literal, doubling embedded quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Ident renders a quoted SQL identifier.
func Ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

var bareIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PlainIdent leaves lower-case identifiers bare and quotes the rest.
func PlainIdent(name string) string {
	if bareIdent.MatchString(name) {
		return name
	}
	return Ident(name)
}

// likePattern converts a Filter Encoding pattern to SQL LIKE syntax with
// backslash as the escape character.
func likePattern(p string, chars LikeChars) string {
	var b strings.Builder
	rs := []rune(p)
	for i := 0; i < len(rs); i++ {
		r := string(rs[i])
		switch {
		case chars.Escape != "" && r == chars.Escape && i+1 < len(rs):
			i++
			next := rs[i]
			if next == '%' || next == '_' || next == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(next)
		case r == chars.Wild:
			b.WriteByte('%')
		case r == chars.Single:
			b.WriteByte('_')
		case r == "%" || r == "_" || r == "\\":
			b.WriteByte('\\')
			b.WriteString(r)
		default:
			b.WriteString(r)
		}
	}
	return b.String()
}
