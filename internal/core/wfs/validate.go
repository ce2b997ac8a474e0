package wfs

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/core/srs"
)

// SRSResolver looks up spatial reference metadata.
type SRSResolver interface {
	BySRID(ctx context.Context, srid int) (model.SRS, error)
	Resolve(ctx context.Context, name string) (model.SRS, error)
}

// bboxDefaultSRID is the bbox CRS under WFS 1.1.0 when none is given.
const bboxDefaultSRID = 4326

// Validator checks raw parameters against one registry snapshot. Each
// check fails fast; no partial Request is returned.
type Validator struct {
	snap     *schema.Snapshot
	resolver SRSResolver
	cfg      config.WFSCfg
}

func NewValidator(snap *schema.Snapshot, resolver SRSResolver, cfg config.WFSCfg) *Validator {
	return &Validator{snap: snap, resolver: resolver, cfg: cfg}
}

func (v *Validator) Validate(ctx context.Context, p Params) (*Request, error) {
	service, ok := p.Get("service")
	if !ok {
		return nil, newError(KindMissingParameter, "service", "SERVICE must be set")
	}
	if !strings.EqualFold(service, "WFS") {
		return nil, newError(KindInvalidParameterValue, "service", "bad service %q, should be WFS", service)
	}
	name, ok := p.Get("request")
	if !ok {
		return nil, newError(KindMissingParameter, "request", "REQUEST must be set")
	}

	op := strings.ToLower(name)
	if op == "getcapabilities" {
		return v.getCapabilities(p)
	}
	switch op {
	case "describefeaturetype", "getfeature", "transaction":
	default:
		return nil, newError(KindOperationNotSupported, "request", "REQUEST %q is not supported", name)
	}

	version, err := v.version(p)
	if err != nil {
		return nil, err
	}
	req := &Request{Version: version, ResultType: model.ResultsResult}
	switch op {
	case "describefeaturetype":
		req.Operation = model.OpDescribeFeatureType
		err = v.describeFeatureType(p, req)
	case "getfeature":
		req.Operation = model.OpGetFeature
		err = v.getFeature(ctx, p, req)
	default:
		req.Operation = model.OpTransaction
		err = v.transaction(ctx, p, req)
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (v *Validator) version(p Params) (model.Version, error) {
	s, ok := p.Get("version")
	if !ok {
		s = v.cfg.DefaultVersion
	}
	switch model.Version(s) {
	case model.V100, model.V110:
		return model.Version(s), nil
	case "":
		return model.V110, nil
	}
	return "", newError(KindInvalidParameterValue, "version", "VERSION %q is not valid (use 1.0.0 or 1.1.0)", s)
}

func (v *Validator) getCapabilities(p Params) (*Request, error) {
	req := &Request{Operation: model.OpGetCapabilities, Version: model.V110}
	if s, ok := p.Get("version"); ok {
		n, valid := versionNumber(s)
		if !valid {
			return nil, newError(KindInvalidParameterValue, "version", "VERSION %q is not valid", s)
		}
		if n < 110 {
			req.Version = model.V100
		}
	}
	if s, ok := p.Get("acceptversions"); ok {
		found := false
		for _, a := range splitList(s) {
			if a == string(model.V100) || a == string(model.V110) {
				req.Version = model.Version(a)
				found = true
				break
			}
		}
		if !found {
			return nil, newError(KindVersionNegotiation, "acceptversions", "no supported version in %q (use 1.0.0 or 1.1.0)", s)
		}
	}
	if s, ok := p.Get("updatesequence"); ok && s != "0" {
		return nil, newError(KindInvalidUpdateSequence, "updatesequence", "UPDATESEQUENCE must be omitted or 0")
	}
	if s, ok := p.Get("sections"); ok {
		req.Sections = splitList(s)
	}
	if s, ok := p.Get("acceptformats"); ok {
		if s != "text/xml" && s != "application/xml" {
			return nil, newError(KindInvalidParameterValue, "acceptformats", "unsupported format %q, use text/xml or application/xml", s)
		}
		req.AcceptFormats = s
	}
	return req, nil
}

// versionNumber reads x.y.z as x*100+y*10+z.
func versionNumber(s string) (int, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, false
	}
	n := 0
	for _, part := range parts {
		d, err := strconv.Atoi(part)
		if err != nil || d < 0 || d > 9 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}

func (v *Validator) describeFeatureType(p Params, req *Request) error {
	var err error
	if req.Format, err = v.format(p, req.Operation, req.Version); err != nil {
		return err
	}
	if req.Layers, err = v.typenames(p, req.Operation); err != nil {
		return err
	}
	if req.Layers == nil {
		for _, l := range v.snap.Layers() {
			if l.Storage && l.Retrievable {
				req.Layers = append(req.Layers, l)
			}
		}
	}
	return nil
}

func (v *Validator) getFeature(ctx context.Context, p Params, req *Request) error {
	if err := checkParameters(p); err != nil {
		return err
	}
	if err := v.targets(p, req); err != nil {
		return err
	}

	var err error
	if req.Filters, err = v.filters(ctx, p, req.Layers); err != nil {
		return err
	}
	if req.Format, err = v.format(p, req.Operation, req.Version); err != nil {
		return err
	}
	if req.SRS, err = v.resolveSRS(ctx, p, req); err != nil {
		return err
	}
	if req.BBox, err = v.bbox(ctx, p, req); err != nil {
		return err
	}
	if req.PropertyNames, err = v.propertyNames(p, req.Layers); err != nil {
		return err
	}
	if req.ResultType, err = resultType(p); err != nil {
		return err
	}
	if req.SortBy, err = v.sortBy(p, req.Layers); err != nil {
		return err
	}
	req.MaxFeatures, err = v.maxFeatures(p)
	return err
}

func (v *Validator) transaction(ctx context.Context, p Params, req *Request) error {
	op, ok := p.Get("operation")
	if !ok {
		return newError(KindMissingParameter, "operation", "OPERATION (Delete) must be set")
	}
	if !strings.EqualFold(op, "Delete") {
		return newError(KindInvalidParameterValue, "operation", "only Delete is supported with KVP encoding")
	}
	req.TxOp = "Delete"

	if err := checkParameters(p); err != nil {
		return err
	}
	if !p.Has("filter") && !p.Has("bbox") && !p.Has("featureid") {
		return newError(KindMissingParameter, "filter", "Delete needs FILTER, BBOX or FEATUREID")
	}
	if err := v.targets(p, req); err != nil {
		return err
	}

	var err error
	if req.Filters, err = v.filters(ctx, p, req.Layers); err != nil {
		return err
	}
	if req.Format, err = v.format(Params{}, req.Operation, req.Version); err != nil {
		return err
	}
	if req.SRS, err = v.resolveSRS(ctx, p, req); err != nil {
		return err
	}
	req.BBox, err = v.bbox(ctx, p, req)
	return err
}

// checkParameters runs before any individual parameter is inspected.
func checkParameters(p Params) error {
	n := 0
	for _, k := range []string{"filter", "bbox", "featureid"} {
		if p.Has(k) {
			n++
		}
	}
	if n > 1 {
		return newError(KindExclusiveParameters, "request",
			"FILTER, BBOX and FEATUREID are mutually exclusive, use only one of them")
	}
	if !p.Has("typename") && !p.Has("featureid") {
		return newError(KindMissingParameter, "typename", "TYPENAME or FEATUREID must be set")
	}
	return nil
}

func (v *Validator) targets(p Params, req *Request) error {
	layers, err := v.typenames(p, req.Operation)
	if err != nil {
		return err
	}
	req.Layers, req.FeatureIDs, err = v.featureIDs(p, req.Operation, layers)
	return err
}

func (v *Validator) typenames(p Params, op model.Operation) ([]model.LayerSchema, error) {
	s, ok := p.Get("typename")
	if !ok {
		return nil, nil
	}
	var names []string
	for _, g := range splitGroups(s) {
		names = append(names, g...)
	}
	if len(names) == 0 {
		return nil, newError(KindInvalidParameterValue, "typename", "empty TYPENAME list")
	}
	out := make([]model.LayerSchema, 0, len(names))
	for _, n := range names {
		l, err := v.layer(n, op, "typename")
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (v *Validator) layer(name string, op model.Operation, locator string) (model.LayerSchema, error) {
	l, ok := v.snap.Lookup(name)
	if !ok || !l.Storage {
		return l, newError(KindLayerNotDefined, locator, "unknown layer name %q", name)
	}
	switch op {
	case model.OpGetFeature, model.OpDescribeFeatureType:
		if !l.Retrievable {
			return l, newError(KindLayerNotRetrievable, locator, "layer %q is not retrievable", name)
		}
	case model.OpTransaction:
		if !l.Writable {
			return l, newError(KindLayerNotWritable, locator, "layer %q is not writable", name)
		}
	}
	return l, nil
}

// featureIDs groups the featureid list per layer. With a typename list the
// groups must line up with it; otherwise the layers are derived from the
// identifier prefixes in order of first appearance.
func (v *Validator) featureIDs(p Params, op model.Operation, layers []model.LayerSchema) ([]model.LayerSchema, [][]string, error) {
	s, ok := p.Get("featureid")
	if !ok {
		return layers, nil, nil
	}
	groups := splitGroups(s)

	if layers != nil {
		if len(groups) != len(layers) {
			return nil, nil, newError(KindIncorrectSizeParameter, "featureid",
				"featureid list and typename list must have the same size")
		}
		for i, g := range groups {
			for _, ref := range g {
				name, _, ok := filter.SplitID(ref)
				if !ok {
					return nil, nil, newError(KindInvalidParameterValue, "featureid", "featureid %q must match layer.id", ref)
				}
				l, found := v.snap.Lookup(name)
				if !found || l.Name != layers[i].Name {
					return nil, nil, wrapError(KindInvalidParameterValue, "featureid",
						fmt.Errorf("%w: %s is not %s", filter.ErrFeatureIDLayerMismatch, ref, layers[i].Name))
				}
			}
		}
		return layers, groups, nil
	}

	var (
		out []model.LayerSchema
		ids [][]string
		idx = map[string]int{}
	)
	for _, g := range groups {
		for _, ref := range g {
			name, _, ok := filter.SplitID(ref)
			if !ok {
				return nil, nil, newError(KindInvalidParameterValue, "featureid", "featureid %q must match layer.id", ref)
			}
			l, err := v.layer(name, op, "featureid")
			if err != nil {
				return nil, nil, err
			}
			i, seen := idx[l.Name]
			if !seen {
				i = len(out)
				idx[l.Name] = i
				out = append(out, l)
				ids = append(ids, nil)
			}
			ids[i] = append(ids[i], ref)
		}
	}
	if len(out) == 0 {
		return nil, nil, newError(KindInvalidParameterValue, "featureid", "empty FEATUREID list")
	}
	return out, ids, nil
}

func (v *Validator) filters(ctx context.Context, p Params, layers []model.LayerSchema) ([]*filter.Filter, error) {
	s, ok := p.Get("filter")
	if !ok {
		return nil, nil
	}
	docs := splitFilters(s)
	if len(docs) != len(layers) {
		return nil, newError(KindIncorrectSizeParameter, "filter", "filter list size and typename list size must be similar")
	}
	out := make([]*filter.Filter, len(docs))
	for i, d := range docs {
		if d == "" {
			// an empty group leaves that layer unfiltered
			continue
		}
		f, err := filter.Parse(d)
		if err != nil {
			return nil, wrapError(KindInvalidParameterValue, "filter", err)
		}
		if err := v.bindGeometrySRS(ctx, f); err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

// bindGeometrySRS resolves srsName on geometry literals. URN named degree
// CRS are written lat/long and are flipped to x/y here.
func (v *Validator) bindGeometrySRS(ctx context.Context, f *filter.Filter) error {
	for _, s := range filter.SpatialNodes(f.Expr) {
		if s.SRSName == "" {
			continue
		}
		ref, err := v.resolver.Resolve(ctx, s.SRSName)
		if err != nil {
			return wrapError(KindInvalidParameterValue, "filter", err)
		}
		s.SRID = ref.SRID
		if ref.Form == model.SRSURN && ref.IsDegree {
			s.Geometry = filter.FlipAxis(s.Geometry)
		}
	}
	return nil
}

func (v *Validator) format(p Params, op model.Operation, version model.Version) (model.Format, error) {
	s, ok := p.Get("outputformat")
	if !ok {
		if version == model.V100 {
			return model.FormatGML212, nil
		}
		return model.FormatGML311, nil
	}
	switch strings.ReplaceAll(s, " ", "") {
	case "GML2", "text/xml;subtype=gml/2.1.2":
		return model.FormatGML212, nil
	case "GML3", "text/xml;subtype=gml/3.1.1":
		return model.FormatGML311, nil
	case "JSON", "application/json":
		if op != model.OpDescribeFeatureType {
			return model.FormatGeoJSON, nil
		}
	case "XMLSCHEMA":
		if op == model.OpDescribeFeatureType {
			return model.FormatXMLSchema, nil
		}
	}
	return model.FormatUnknown, newError(KindOutputFormatNotSupported, "outputformat", "outputFormat %q is not supported", s)
}

func (v *Validator) resolveSRS(ctx context.Context, p Params, req *Request) (model.SRS, error) {
	if name, ok := p.Get("srsname"); ok {
		s, err := v.resolver.Resolve(ctx, name)
		if err != nil {
			return model.SRS{}, wrapError(KindInvalidParameterValue, "srsname", err)
		}
		return srs.Axis(s, req.Format, req.Version, true), nil
	}

	srid := req.Layers[0].SRID
	for _, l := range req.Layers[1:] {
		if l.SRID != srid {
			return model.SRS{}, newError(KindInvalidParameterValue, "srsname", "layers in TYPENAME must have the same SRS")
		}
	}
	s, err := v.resolver.BySRID(ctx, srid)
	if err != nil {
		return model.SRS{}, wrapError(KindInvalidParameterValue, "srsname", err)
	}
	return srs.Axis(s, req.Format, req.Version, false), nil
}

// bbox reads xmin,ymin,xmax,ymax[,crs]. Without a CRS the box is in the
// request SRS under 1.0.0 and in EPSG:4326 under 1.1.0. The stored bound
// is always x/y.
func (v *Validator) bbox(ctx context.Context, p Params, req *Request) (*model.BBox, error) {
	s, ok := p.Get("bbox")
	if !ok {
		return nil, nil
	}
	bad := func() error {
		return newError(KindInvalidParameterValue, "bbox", "bad BBOX %q, must be xmin,ymin,xmax,ymax[,crsuri]", s)
	}
	parts := splitList(s)
	if len(parts) != 4 && len(parts) != 5 {
		return nil, bad()
	}
	var c [4]float64
	for i := range c {
		f, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return nil, bad()
		}
		c[i] = f
	}

	var ref model.SRS
	switch {
	case len(parts) == 5:
		r, err := v.resolver.Resolve(ctx, parts[4])
		if err != nil {
			return nil, wrapError(KindInvalidParameterValue, "bbox", err)
		}
		ref = r
		ref.LongForm = r.Form != model.SRSShort
		ref.ReverseAxis = r.Form == model.SRSURN && r.IsDegree
	case req.Version == model.V100:
		ref = req.SRS
	default:
		r, err := v.resolver.BySRID(ctx, bboxDefaultSRID)
		if err != nil {
			return nil, wrapError(KindInvalidParameterValue, "bbox", err)
		}
		ref = r
		ref.ReverseAxis = req.SRS.ReverseAxis
	}
	if ref.ReverseAxis {
		c[0], c[1] = c[1], c[0]
		c[2], c[3] = c[3], c[2]
	}
	if c[0] > c[2] || c[1] > c[3] {
		return nil, bad()
	}
	return &model.BBox{
		Bound: orb.Bound{Min: orb.Point{c[0], c[1]}, Max: orb.Point{c[2], c[3]}},
		SRS:   ref,
	}, nil
}

func (v *Validator) propertyNames(p Params, layers []model.LayerSchema) ([][]string, error) {
	s, ok := p.Get("propertyname")
	if !ok {
		return nil, nil
	}
	groups := splitGroups(s)
	if len(groups) != len(layers) {
		return nil, newError(KindIncorrectSizeParameter, "propertyname",
			"propertyname list size and typename list size must be similar")
	}
	prefixes := v.snap.Prefixes()
	out := make([][]string, len(groups))
	for i, g := range groups {
		var cols []string
		all := false
		for _, raw := range g {
			name := filter.StripPrefix(raw, prefixes)
			if name == "*" {
				all = true
				continue
			}
			if n, ok := filter.OrdinalIndex(name); ok {
				col, found := layers[i].Ordinal(n)
				if !found {
					return nil, newError(KindInvalidParameterValue, "propertyname", "no property at position %d in %s", n, layers[i].Name)
				}
				name = col
			}
			if !layers[i].HasColumn(name) {
				return nil, newError(KindInvalidParameterValue, "propertyname", "property %q not available in %s", raw, layers[i].Name)
			}
			if !slices.Contains(cols, name) {
				cols = append(cols, name)
			}
		}
		if !all {
			out[i] = cols
		}
	}
	return out, nil
}

func resultType(p Params) (model.ResultType, error) {
	s, ok := p.Get("resulttype")
	if !ok {
		return model.ResultsResult, nil
	}
	switch model.ResultType(s) {
	case model.ResultsResult, model.ResultsHits:
		return model.ResultType(s), nil
	}
	return "", newError(KindInvalidParameterValue, "resulttype", "resultType %q is not valid, must be results or hits", s)
}

// sortBy reads "prop [ASC|DESC|A|D],...". Every layer must carry the property.
func (v *Validator) sortBy(p Params, layers []model.LayerSchema) ([]model.SortKey, error) {
	s, ok := p.Get("sortby")
	if !ok {
		return nil, nil
	}
	prefixes := v.snap.Prefixes()
	var out []model.SortKey
	for _, item := range splitList(s) {
		fields := strings.Fields(strings.ReplaceAll(item, "+", " "))
		if len(fields) == 0 || len(fields) > 2 {
			return nil, newError(KindInvalidParameterValue, "sortby", "bad sortBy item %q", item)
		}
		key := model.SortKey{Property: filter.StripPrefix(fields[0], prefixes)}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "D", "DESC":
				key.Desc = true
			case "A", "ASC":
			default:
				return nil, newError(KindInvalidParameterValue, "sortby", "bad sort order %q in %q, must be ASC or DESC", fields[1], item)
			}
		}
		for _, l := range layers {
			if !l.HasColumn(key.Property) {
				return nil, newError(KindInvalidParameterValue, "sortby", "property %q not available in %s", fields[0], l.Name)
			}
		}
		out = append(out, key)
	}
	return out, nil
}

// maxFeatures clamps an explicit budget to the server ceiling. Without one
// the result is 0 and the ceiling applies per layer instead.
func (v *Validator) maxFeatures(p Params) (int, error) {
	n := 0
	if s, ok := p.Get("maxfeatures"); ok {
		var err error
		n, err = strconv.Atoi(s)
		if err != nil || n <= 0 {
			return 0, newError(KindInvalidParameterValue, "maxfeatures", "MaxFeatures %q isn't valid, must be > 0", s)
		}
	}
	if c := v.cfg.MaxFeatures; c > 0 && n > c {
		n = c
	}
	return n, nil
}
