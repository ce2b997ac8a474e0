// Package wfs validates WFS operation parameters into a typed Request.
package wfs

import (
	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

// Request is one validated operation. Per-layer slices, when set, have one
// entry per element of Layers.
type Request struct {
	Operation model.Operation
	Version   model.Version
	Layers    []model.LayerSchema

	Filters    []*filter.Filter
	FeatureIDs [][]string
	BBox       *model.BBox

	// PropertyNames[i] is nil when layer i returns every property.
	PropertyNames [][]string
	SortBy        []model.SortKey
	// MaxFeatures is the budget shared by all layers; 0 leaves only the
	// per-layer server ceiling.
	MaxFeatures int

	Format     model.Format
	ResultType model.ResultType
	SRS        model.SRS

	// Transaction
	TxOp string

	// GetCapabilities
	Sections      []string
	AcceptFormats string
}

// LayerNames lists the target layer names in order.
func (r *Request) LayerNames() []string {
	out := make([]string, len(r.Layers))
	for i, l := range r.Layers {
		out[i] = l.Name
	}
	return out
}

// Properties reports the projection for layer i; nil means all.
func (r *Request) Properties(i int) []string {
	if i < len(r.PropertyNames) {
		return r.PropertyNames[i]
	}
	return nil
}

// Filter returns the filter for layer i, if any.
func (r *Request) Filter(i int) *filter.Filter {
	if i < len(r.Filters) {
		return r.Filters[i]
	}
	return nil
}

// IDs returns the feature identifiers for layer i, if any.
func (r *Request) IDs(i int) []string {
	if i < len(r.FeatureIDs) {
		return r.FeatureIDs[i]
	}
	return nil
}
