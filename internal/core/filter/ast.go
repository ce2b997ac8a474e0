// Package filter holds the OGC Filter Encoding tree, its XML parser and the
// compiler that turns a tree into a SQL boolean expression.
package filter

import "github.com/paulmach/orb"

// Node is one element of a filter expression tree.
type Node interface {
	isNode()
}

type CompareOp string

const (
	OpEqual          CompareOp = "="
	OpNotEqual       CompareOp = "<>"
	OpLess           CompareOp = "<"
	OpGreater        CompareOp = ">"
	OpLessOrEqual    CompareOp = "<="
	OpGreaterOrEqual CompareOp = ">="
	OpLike           CompareOp = "LIKE"
	OpIsNull         CompareOp = "IS NULL"
	OpBetween        CompareOp = "BETWEEN"
)

type LogicalOp string

const (
	OpAnd LogicalOp = "AND"
	OpOr  LogicalOp = "OR"
	OpNot LogicalOp = "NOT"
)

type ArithOp string

const (
	OpAdd ArithOp = "+"
	OpSub ArithOp = "-"
	OpMul ArithOp = "*"
	OpDiv ArithOp = "/"
)

type SpatialOp string

const (
	OpEquals     SpatialOp = "Equals"
	OpDisjoint   SpatialOp = "Disjoint"
	OpTouches    SpatialOp = "Touches"
	OpWithin     SpatialOp = "Within"
	OpOverlaps   SpatialOp = "Overlaps"
	OpCrosses    SpatialOp = "Crosses"
	OpIntersects SpatialOp = "Intersects"
	OpContains   SpatialOp = "Contains"
	OpDWithin    SpatialOp = "DWithin"
	OpBeyond     SpatialOp = "Beyond"
	OpBBOX       SpatialOp = "BBOX"
)

// Comparison is binary except for IS NULL (Right is nil) and BETWEEN
// (Right is the lower bound, Upper the upper bound).
type Comparison struct {
	Op    CompareOp
	Left  Node
	Right Node
	Upper Node
	// MatchCase is honoured by LIKE only.
	MatchCase bool
	Like      LikeChars
}

// LikeChars are the pattern metacharacters declared on PropertyIsLike.
type LikeChars struct {
	Wild   string
	Single string
	Escape string
}

type Logical struct {
	Op       LogicalOp
	Children []Node
}

type Spatial struct {
	Op SpatialOp
	// Property may be nil for BBOX, meaning the layer's first geometry column.
	Property *PropertyName
	Geometry orb.Geometry
	SRSName  string
	// SRID of Geometry once resolved; 0 means the layer's own SRID.
	SRID     int
	Distance float64
	Units    string
}

type PropertyName struct {
	Path string
}

type Literal struct {
	Text string
}

type Function struct {
	Name string
	Args []Node
}

type Arithmetic struct {
	Op    ArithOp
	Left  Node
	Right Node
}

func (*Comparison) isNode()   {}
func (*Logical) isNode()      {}
func (*Spatial) isNode()      {}
func (*PropertyName) isNode() {}
func (*Literal) isNode()      {}
func (*Function) isNode()     {}
func (*Arithmetic) isNode()   {}

type IDKind int

const (
	FeatureID IDKind = iota
	GmlObjectID
)

func (k IDKind) String() string {
	if k == GmlObjectID {
		return "GmlObjectId"
	}
	return "FeatureId"
}

// IDRef is one layer.identifier reference.
type IDRef struct {
	Kind  IDKind
	Value string
}

// Filter is a parsed filter document: either an expression or a set of
// identifier references.
type Filter struct {
	Expr Node
	IDs  []IDRef
}

// arity counts the element children of n.
func arity(n Node) int {
	switch v := n.(type) {
	case *Comparison:
		c := 0
		for _, x := range []Node{v.Left, v.Right, v.Upper} {
			if x != nil {
				c++
			}
		}
		return c
	case *Logical:
		return len(v.Children)
	case *Arithmetic:
		return 2
	case *Spatial:
		if v.Property == nil {
			return 1
		}
		return 2
	case *Function:
		return len(v.Args)
	default:
		return 0
	}
}

// Walk visits n and its descendants depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch v := n.(type) {
	case *Comparison:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
		Walk(v.Upper, fn)
	case *Logical:
		for _, c := range v.Children {
			Walk(c, fn)
		}
	case *Arithmetic:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case *Function:
		for _, a := range v.Args {
			Walk(a, fn)
		}
	case *Spatial:
		if v.Property != nil {
			fn(v.Property)
		}
	}
}

// SpatialNodes returns every spatial operator in the tree.
func SpatialNodes(n Node) []*Spatial {
	var out []*Spatial
	Walk(n, func(x Node) {
		if s, ok := x.(*Spatial); ok {
			out = append(out, s)
		}
	})
	return out
}
