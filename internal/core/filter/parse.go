package filter

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// element is a generic XML element; names are matched on their local part
// so ogc:, fes: and unprefixed documents decode alike.
type element struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []element  `xml:",any"`
}

func (e element) attr(local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func (e element) child(local string) (element, bool) {
	for _, c := range e.Children {
		if c.XMLName.Local == local {
			return c, true
		}
	}
	return element{}, false
}

var comparisonOps = map[string]CompareOp{
	"PropertyIsEqualTo":              OpEqual,
	"PropertyIsNotEqualTo":           OpNotEqual,
	"PropertyIsLessThan":             OpLess,
	"PropertyIsGreaterThan":          OpGreater,
	"PropertyIsLessThanOrEqualTo":    OpLessOrEqual,
	"PropertyIsGreaterThanOrEqualTo": OpGreaterOrEqual,
}

var spatialOps = map[string]SpatialOp{
	"Equals":     OpEquals,
	"Disjoint":   OpDisjoint,
	"Touches":    OpTouches,
	"Within":     OpWithin,
	"Overlaps":   OpOverlaps,
	"Crosses":    OpCrosses,
	"Intersects": OpIntersects,
	"Contains":   OpContains,
	"DWithin":    OpDWithin,
	"Beyond":     OpBeyond,
	"BBOX":       OpBBOX,
}

var arithOps = map[string]ArithOp{
	"Add": OpAdd,
	"Sub": OpSub,
	"Mul": OpMul,
	"Div": OpDiv,
}

// Parse decodes a Filter Encoding document.
func Parse(doc string) (*Filter, error) {
	var root element
	if err := xml.Unmarshal([]byte(doc), &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFilter, err)
	}
	if root.XMLName.Local != "Filter" {
		return nil, fmt.Errorf("%w: root element %q", ErrFilter, root.XMLName.Local)
	}
	if len(root.Children) == 0 {
		return &Filter{}, nil
	}

	out := &Filter{}
	for _, c := range root.Children {
		switch c.XMLName.Local {
		case "FeatureId":
			v, _ := c.attr("fid")
			out.IDs = append(out.IDs, IDRef{Kind: FeatureID, Value: strings.TrimSpace(v)})
		case "GmlObjectId":
			v, _ := c.attr("id")
			out.IDs = append(out.IDs, IDRef{Kind: GmlObjectID, Value: strings.TrimSpace(v)})
		default:
			if out.Expr != nil {
				return nil, fmt.Errorf("%w: more than one top level operator", ErrFilter)
			}
			n, err := parseNode(c)
			if err != nil {
				return nil, err
			}
			out.Expr = n
		}
	}
	if out.Expr != nil && len(out.IDs) > 0 {
		return nil, fmt.Errorf("%w: identifiers mixed with operators", ErrFilter)
	}
	return out, nil
}

func parseNode(e element) (Node, error) {
	name := e.XMLName.Local
	if op, ok := comparisonOps[name]; ok {
		return parseBinaryComparison(e, op)
	}
	if op, ok := spatialOps[name]; ok {
		return parseSpatial(e, op)
	}
	if op, ok := arithOps[name]; ok {
		l, r, err := parsePair(e)
		if err != nil {
			return nil, err
		}
		return &Arithmetic{Op: op, Left: l, Right: r}, nil
	}

	switch name {
	case "And", "Or":
		op := OpAnd
		if name == "Or" {
			op = OpOr
		}
		children, err := parseChildren(e)
		if err != nil {
			return nil, err
		}
		return &Logical{Op: op, Children: children}, nil
	case "Not":
		children, err := parseChildren(e)
		if err != nil {
			return nil, err
		}
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: Not takes one operand, got %d", ErrFilter, len(children))
		}
		return &Logical{Op: OpNot, Children: children}, nil
	case "PropertyIsLike":
		return parseLike(e)
	case "PropertyIsNull":
		children, err := parseChildren(e)
		if err != nil {
			return nil, err
		}
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: PropertyIsNull takes one operand", ErrFilter)
		}
		return &Comparison{Op: OpIsNull, Left: children[0]}, nil
	case "PropertyIsBetween":
		return parseBetween(e)
	case "PropertyName", "ValueReference":
		return &PropertyName{Path: strings.TrimSpace(e.Text)}, nil
	case "Literal":
		return &Literal{Text: e.Text}, nil
	case "Function":
		fn, _ := e.attr("name")
		args, err := parseChildren(e)
		if err != nil {
			return nil, err
		}
		return &Function{Name: fn, Args: args}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported element %q", ErrFilter, name)
	}
}

func parseChildren(e element) ([]Node, error) {
	out := make([]Node, 0, len(e.Children))
	for _, c := range e.Children {
		n, err := parseNode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parsePair(e element) (Node, Node, error) {
	children, err := parseChildren(e)
	if err != nil {
		return nil, nil, err
	}
	if len(children) != 2 {
		return nil, nil, fmt.Errorf("%w: %s takes two operands, got %d", ErrFilter, e.XMLName.Local, len(children))
	}
	return children[0], children[1], nil
}

func matchCase(e element) bool {
	v, ok := e.attr("matchCase")
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err != nil || b
}

func parseBinaryComparison(e element, op CompareOp) (Node, error) {
	l, r, err := parsePair(e)
	if err != nil {
		return nil, err
	}
	return &Comparison{Op: op, Left: l, Right: r, MatchCase: matchCase(e)}, nil
}

func parseLike(e element) (Node, error) {
	l, r, err := parsePair(e)
	if err != nil {
		return nil, err
	}
	chars := LikeChars{Wild: "*", Single: "?", Escape: "\\"}
	if v, ok := e.attr("wildCard"); ok {
		chars.Wild = v
	}
	if v, ok := e.attr("singleChar"); ok {
		chars.Single = v
	}
	if v, ok := e.attr("escapeChar"); ok {
		chars.Escape = v
	} else if v, ok := e.attr("escape"); ok {
		chars.Escape = v
	}
	return &Comparison{Op: OpLike, Left: l, Right: r, MatchCase: matchCase(e), Like: chars}, nil
}

func parseBetween(e element) (Node, error) {
	var expr Node
	var lower, upper Node
	for _, c := range e.Children {
		switch c.XMLName.Local {
		case "LowerBoundary", "UpperBoundary":
			kids, err := parseChildren(c)
			if err != nil {
				return nil, err
			}
			if len(kids) != 1 {
				return nil, fmt.Errorf("%w: %s takes one operand", ErrFilter, c.XMLName.Local)
			}
			if c.XMLName.Local == "LowerBoundary" {
				lower = kids[0]
			} else {
				upper = kids[0]
			}
		default:
			n, err := parseNode(c)
			if err != nil {
				return nil, err
			}
			expr = n
		}
	}
	if expr == nil || lower == nil || upper == nil {
		return nil, fmt.Errorf("%w: PropertyIsBetween needs an expression and both boundaries", ErrFilter)
	}
	return &Comparison{Op: OpBetween, Left: expr, Right: lower, Upper: upper}, nil
}

func parseSpatial(e element, op SpatialOp) (Node, error) {
	s := &Spatial{Op: op}
	for _, c := range e.Children {
		switch c.XMLName.Local {
		case "PropertyName", "ValueReference":
			s.Property = &PropertyName{Path: strings.TrimSpace(c.Text)}
		case "Distance":
			d, err := strconv.ParseFloat(strings.TrimSpace(c.Text), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: distance %q", ErrFilter, c.Text)
			}
			s.Distance = d
			s.Units, _ = c.attr("units")
		default:
			g, srsName, err := decodeGeometry(c)
			if err != nil {
				return nil, err
			}
			s.Geometry = g
			s.SRSName = srsName
		}
	}
	if s.Geometry == nil {
		return nil, fmt.Errorf("%w: %s without geometry", ErrFilter, op)
	}
	if s.Property == nil && op != OpBBOX {
		return nil, fmt.Errorf("%w: %s without property name", ErrFilter, op)
	}
	return s, nil
}
