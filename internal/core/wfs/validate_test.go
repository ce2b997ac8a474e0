package wfs

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/schema"
	"github.com/mohammed-shakir/pgwfs/internal/core/srs"
)

type fakeSRS struct{}

func (fakeSRS) BySRID(_ context.Context, srid int) (model.SRS, error) {
	switch srid {
	case 4326:
		return model.SRS{SRID: 4326, AuthName: "EPSG", AuthSRID: 4326, IsDegree: true}, nil
	case 3857:
		return model.SRS{SRID: 3857, AuthName: "EPSG", AuthSRID: 3857}, nil
	}
	return model.SRS{}, srs.ErrUnknownSRS
}

func (f fakeSRS) Resolve(ctx context.Context, name string) (model.SRS, error) {
	n, err := srs.ParseName(name)
	if err != nil {
		return model.SRS{}, err
	}
	s, err := f.BySRID(ctx, n.Code)
	if err != nil {
		return model.SRS{}, err
	}
	s.Form = n.Form
	return s, nil
}

func layer(name string, srid int, cols ...string) model.LayerSchema {
	l := model.LayerSchema{
		Name: name, Prefix: "demo", Storage: true, Retrievable: true,
		PrimaryKey: "id", SRID: srid, IsDegree: srid == 4326,
		GeomCols: []string{"geom"},
	}
	l.Columns = append(l.Columns, model.Column{Name: "id", Type: model.TypeInteger, NotNull: true})
	for _, c := range cols {
		l.Columns = append(l.Columns, model.Column{Name: c, Type: model.TypeText})
	}
	l.Columns = append(l.Columns, model.Column{Name: "geom", Type: model.TypeGeometry})
	return l
}

func snapshot() *schema.Snapshot {
	parcels := layer("parcels", 3857, "owner")
	parcels.Writable = true
	hidden := layer("hidden", 4326)
	hidden.Retrievable = false
	ghost := layer("ghost", 4326)
	ghost.Storage = false
	return schema.NewSnapshot(config.ServiceInfo{}, []model.LayerSchema{
		layer("roads", 4326, "name", "lanes"),
		layer("rivers", 4326, "name", "width"),
		parcels, hidden, ghost,
	})
}

func validator() *Validator {
	return NewValidator(snapshot(), fakeSRS{}, config.WFSCfg{DefaultVersion: "1.1.0"})
}

func params(kv ...string) Params {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return ParseValues(v)
}

func getFeature(kv ...string) Params {
	return params(append([]string{"SERVICE", "WFS", "REQUEST", "GetFeature"}, kv...)...)
}

func mustValidate(t *testing.T, v *Validator, p Params) *Request {
	t.Helper()
	req, err := v.Validate(context.Background(), p)
	if err != nil {
		t.Fatalf("Validate(%v): %v", p, err)
	}
	return req
}

func wantKind(t *testing.T, v *Validator, p Params, k Kind) *Error {
	t.Helper()
	_, err := v.Validate(context.Background(), p)
	if !IsKind(err, k) {
		t.Fatalf("Validate(%v): err=%v want %s", p, err, k)
	}
	return AsError(err)
}

func TestValidate_GetFeatureDefaults(t *testing.T) {
	req := mustValidate(t, validator(), getFeature("typename", "demo:roads"))

	if req.Operation != model.OpGetFeature || req.Version != model.V110 {
		t.Fatalf("op=%s version=%s", req.Operation, req.Version)
	}
	if len(req.Layers) != 1 || req.Layers[0].Name != "roads" {
		t.Fatalf("layers %v", req.LayerNames())
	}
	if req.Format != model.FormatGML311 || req.ResultType != model.ResultsResult {
		t.Fatalf("format=%s result=%s", req.Format, req.ResultType)
	}
	if req.SRS.SRID != 4326 || !req.SRS.LongForm || !req.SRS.ReverseAxis {
		t.Fatalf("srs %+v", req.SRS)
	}
	if req.Properties(0) != nil || req.Filter(0) != nil {
		t.Fatal("unexpected projection or filter")
	}
}

func TestValidate_Version100Defaults(t *testing.T) {
	req := mustValidate(t, validator(), getFeature("version", "1.0.0", "typename", "roads"))
	if req.Format != model.FormatGML212 || req.SRS.LongForm || req.SRS.ReverseAxis {
		t.Fatalf("format=%s srs=%+v", req.Format, req.SRS)
	}
}

func TestValidate_PropertyNameGroups(t *testing.T) {
	v := validator()
	req := mustValidate(t, v, getFeature("typename", "roads,rivers", "propertyname", "(name)(width)"))
	if len(req.PropertyNames) != 2 {
		t.Fatalf("groups %v", req.PropertyNames)
	}
	if p := req.Properties(0); len(p) != 1 || p[0] != "name" {
		t.Fatalf("roads projection %v", p)
	}
	if p := req.Properties(1); len(p) != 1 || p[0] != "width" {
		t.Fatalf("rivers projection %v", p)
	}

	wantKind(t, v, getFeature("typename", "roads,rivers", "propertyname", "(name)"), KindIncorrectSizeParameter)
	wantKind(t, v, getFeature("typename", "roads", "propertyname", "(name)(width)"), KindIncorrectSizeParameter)
	wantKind(t, v, getFeature("typename", "roads", "propertyname", "width"), KindInvalidParameterValue)
}

func TestValidate_PropertyNameForms(t *testing.T) {
	v := validator()
	req := mustValidate(t, v, getFeature("typename", "roads", "propertyname", "demo:name,*[3],name"))
	if p := req.Properties(0); len(p) != 2 || p[0] != "name" || p[1] != "lanes" {
		t.Fatalf("projection %v", p)
	}
	req = mustValidate(t, v, getFeature("typename", "roads", "propertyname", "*"))
	if req.Properties(0) != nil {
		t.Fatalf("wildcard projection %v", req.Properties(0))
	}
	wantKind(t, v, getFeature("typename", "roads", "propertyname", "*[9]"), KindInvalidParameterValue)
}

func TestValidate_ExclusiveParameters(t *testing.T) {
	v := validator()
	// Each value is unusable on its own; the combination is reported first.
	cases := [][]string{
		{"filter", "<nope", "bbox", "x"},
		{"filter", "<nope", "featureid", "nolayer"},
		{"bbox", "1,2", "featureid", "lakes.1"},
		{"filter", "<nope", "bbox", "x", "featureid", "y"},
		{"typename", "nosuch", "bbox", "1,2,3,4", "featureid", "roads.1"},
	}
	for _, kv := range cases {
		wantKind(t, v, getFeature(kv...), KindExclusiveParameters)
	}
}

func TestValidate_MissingAndUnknown(t *testing.T) {
	v := validator()
	wantKind(t, v, getFeature(), KindMissingParameter)
	wantKind(t, v, params("request", "GetFeature", "typename", "roads"), KindMissingParameter)
	wantKind(t, v, params("service", "WMS", "request", "GetFeature", "typename", "roads"), KindInvalidParameterValue)
	wantKind(t, v, params("service", "WFS"), KindMissingParameter)
	wantKind(t, v, params("service", "WFS", "request", "LockFeature"), KindOperationNotSupported)
	wantKind(t, v, getFeature("version", "2.0.0", "typename", "roads"), KindInvalidParameterValue)
}

func TestValidate_LayerChecks(t *testing.T) {
	v := validator()
	wantKind(t, v, getFeature("typename", "lakes"), KindLayerNotDefined)
	wantKind(t, v, getFeature("typename", "ghost"), KindLayerNotDefined)
	wantKind(t, v, getFeature("typename", "other:roads"), KindLayerNotDefined)
	wantKind(t, v, getFeature("typename", "hidden"), KindLayerNotRetrievable)
	wantKind(t, v, getFeature("featureid", "hidden.1"), KindLayerNotRetrievable)
	wantKind(t, v, params("service", "WFS", "request", "Transaction", "operation", "Delete",
		"typename", "roads", "featureid", "roads.1"), KindLayerNotWritable)
}

func TestValidate_FeatureIDWithoutTypename(t *testing.T) {
	req := mustValidate(t, validator(), getFeature("featureid", "roads.1,rivers.2,roads.3"))
	if names := req.LayerNames(); len(names) != 2 || names[0] != "roads" || names[1] != "rivers" {
		t.Fatalf("layers %v", names)
	}
	if ids := req.IDs(0); len(ids) != 2 || ids[0] != "roads.1" || ids[1] != "roads.3" {
		t.Fatalf("roads ids %v", ids)
	}
	if ids := req.IDs(1); len(ids) != 1 || ids[0] != "rivers.2" {
		t.Fatalf("rivers ids %v", ids)
	}
}

func TestValidate_FeatureIDWithTypename(t *testing.T) {
	v := validator()
	req := mustValidate(t, v, getFeature("typename", "roads,rivers", "featureid", "(roads.1,roads.2)(rivers.9)"))
	if len(req.FeatureIDs) != 2 || len(req.IDs(0)) != 2 {
		t.Fatalf("ids %v", req.FeatureIDs)
	}

	_, err := v.Validate(context.Background(), getFeature("typename", "rivers", "featureid", "roads.42"))
	if !IsKind(err, KindInvalidParameterValue) || !errors.Is(err, filter.ErrFeatureIDLayerMismatch) {
		t.Fatalf("err=%v want layer mismatch", err)
	}
	wantKind(t, v, getFeature("typename", "roads,rivers", "featureid", "roads.1"), KindIncorrectSizeParameter)
	wantKind(t, v, getFeature("featureid", "roads"), KindInvalidParameterValue)
	wantKind(t, v, getFeature("featureid", "lakes.1"), KindLayerNotDefined)
}

const nameFilter = `<Filter><PropertyIsEqualTo><PropertyName>name</PropertyName><Literal>Main St (north)</Literal></PropertyIsEqualTo></Filter>`

func TestValidate_FilterGroups(t *testing.T) {
	v := validator()
	req := mustValidate(t, v, getFeature("typename", "roads,rivers", "filter", "("+nameFilter+")("+nameFilter+")"))
	if len(req.Filters) != 2 || req.Filter(1) == nil || req.Filter(1).Expr == nil {
		t.Fatalf("filters %+v", req.Filters)
	}
	lit := req.Filter(0).Expr.(*filter.Comparison).Right.(*filter.Literal)
	if lit.Text != "Main St (north)" {
		t.Fatalf("literal %q", lit.Text)
	}

	wantKind(t, v, getFeature("typename", "roads,rivers", "filter", nameFilter), KindIncorrectSizeParameter)
	e := wantKind(t, v, getFeature("typename", "roads", "filter", "<Filter><Bogus/></Filter>"), KindInvalidParameterValue)
	if e.Locator != "filter" || !errors.Is(e, filter.ErrFilter) {
		t.Fatalf("error %+v", e)
	}
}

func TestValidate_EmptyFilterGroup(t *testing.T) {
	v := validator()
	req := mustValidate(t, v, getFeature("typename", "roads,rivers", "filter", "("+nameFilter+")()"))
	if len(req.Filters) != 2 || req.Filter(0) == nil || req.Filter(1) != nil {
		t.Fatalf("filters %+v", req.Filters)
	}
	req = mustValidate(t, v, getFeature("typename", "roads,rivers", "filter", "()("+nameFilter+")"))
	if req.Filter(0) != nil || req.Filter(1) == nil {
		t.Fatalf("filters %+v", req.Filters)
	}
}

func TestValidate_FilterGeometrySRS(t *testing.T) {
	doc := `<Filter><Intersects><PropertyName>geom</PropertyName>` +
		`<gml:Point xmlns:gml="http://www.opengis.net/gml" srsName="urn:ogc:def:crs:EPSG::4326"><gml:pos>60 10</gml:pos></gml:Point>` +
		`</Intersects></Filter>`
	req := mustValidate(t, validator(), getFeature("typename", "roads", "filter", doc))
	s := req.Filter(0).Expr.(*filter.Spatial)
	if s.SRID != 4326 {
		t.Fatalf("srid %d", s.SRID)
	}
	if p, ok := s.Geometry.(orb.Point); !ok || p[0] != 10 || p[1] != 60 {
		t.Fatalf("geometry %v", s.Geometry)
	}
}

func TestValidate_SRS(t *testing.T) {
	v := validator()
	wantKind(t, v, getFeature("typename", "roads,parcels"), KindInvalidParameterValue)

	req := mustValidate(t, v, getFeature("typename", "roads,parcels", "srsname", "EPSG:3857"))
	if req.SRS.SRID != 3857 || req.SRS.LongForm || req.SRS.ReverseAxis {
		t.Fatalf("srs %+v", req.SRS)
	}
	req = mustValidate(t, v, getFeature("typename", "roads", "srsname", "http://www.opengis.net/gml/srs/epsg.xml#4326"))
	if !req.SRS.LongForm || req.SRS.ReverseAxis {
		t.Fatalf("http form %+v", req.SRS)
	}
	wantKind(t, v, getFeature("typename", "roads", "srsname", "EPSG:999"), KindInvalidParameterValue)
	wantKind(t, v, getFeature("typename", "roads", "srsname", "CRS:84"), KindInvalidParameterValue)
}

func TestValidate_BBox(t *testing.T) {
	v := validator()

	// 1.1.0 without a CRS: EPSG:4326 in the request's lat/long order.
	req := mustValidate(t, v, getFeature("typename", "roads", "bbox", "1,2,3,4"))
	want := orb.Bound{Min: orb.Point{2, 1}, Max: orb.Point{4, 3}}
	if req.BBox == nil || req.BBox.Bound != want || req.BBox.SRS.SRID != 4326 {
		t.Fatalf("bbox %+v", req.BBox)
	}

	req = mustValidate(t, v, getFeature("typename", "roads", "bbox", "1,2,3,4,EPSG:4326"))
	if req.BBox.Bound != (orb.Bound{Min: orb.Point{1, 2}, Max: orb.Point{3, 4}}) {
		t.Fatalf("short crs bbox %+v", req.BBox.Bound)
	}

	req = mustValidate(t, v, getFeature("version", "1.0.0", "typename", "parcels", "bbox", "10,20,30,40"))
	if req.BBox.SRS.SRID != 3857 || req.BBox.Bound.Min != (orb.Point{10, 20}) {
		t.Fatalf("1.0.0 bbox %+v", req.BBox)
	}

	for _, bad := range []string{"1,2,3", "1,2,3,x", "3,4,1,2,EPSG:4326", "1,2,3,4,EPSG:1"} {
		wantKind(t, v, getFeature("typename", "roads", "bbox", bad), KindInvalidParameterValue)
	}
}

func TestValidate_OutputFormat(t *testing.T) {
	v := validator()
	cases := map[string]model.Format{
		"GML2":                        model.FormatGML212,
		"text/xml; subtype=gml/2.1.2": model.FormatGML212,
		"GML3":                        model.FormatGML311,
		"text/xml;subtype=gml/3.1.1":  model.FormatGML311,
		"JSON":                        model.FormatGeoJSON,
		"application/json":            model.FormatGeoJSON,
	}
	for in, want := range cases {
		req := mustValidate(t, v, getFeature("typename", "roads", "outputformat", in))
		if req.Format != want {
			t.Fatalf("%q: got %s want %s", in, req.Format, want)
		}
	}
	req := mustValidate(t, v, getFeature("typename", "roads", "outputformat", "JSON"))
	if req.SRS.ReverseAxis {
		t.Fatal("GeoJSON must not reverse axes")
	}
	wantKind(t, v, getFeature("typename", "roads", "outputformat", "XMLSCHEMA"), KindOutputFormatNotSupported)
	wantKind(t, v, getFeature("typename", "roads", "outputformat", "text/csv"), KindOutputFormatNotSupported)
}

func TestValidate_SortResultMax(t *testing.T) {
	v := NewValidator(snapshot(), fakeSRS{}, config.WFSCfg{DefaultVersion: "1.1.0", MaxFeatures: 100})

	req := mustValidate(t, v, getFeature("typename", "roads,rivers", "sortby", "name D,demo:id ASC",
		"resulttype", "hits", "maxfeatures", "500"))
	if len(req.SortBy) != 2 || !req.SortBy[0].Desc || req.SortBy[1].Property != "id" || req.SortBy[1].Desc {
		t.Fatalf("sort %+v", req.SortBy)
	}
	if req.ResultType != model.ResultsHits {
		t.Fatalf("result type %s", req.ResultType)
	}
	if req.MaxFeatures != 100 {
		t.Fatalf("max features %d want clamp to 100", req.MaxFeatures)
	}

	req = mustValidate(t, v, getFeature("typename", "roads", "maxfeatures", "10"))
	if req.MaxFeatures != 10 {
		t.Fatalf("max features %d", req.MaxFeatures)
	}
	req = mustValidate(t, v, getFeature("typename", "roads"))
	if req.MaxFeatures != 0 {
		t.Fatalf("absent maxfeatures should stay 0, got %d", req.MaxFeatures)
	}

	wantKind(t, v, getFeature("typename", "roads,rivers", "sortby", "lanes"), KindInvalidParameterValue)
	e := wantKind(t, v, getFeature("typename", "roads", "sortby", "name SIDEWAYS"), KindInvalidParameterValue)
	if e.Locator != "sortby" {
		t.Fatalf("locator %q", e.Locator)
	}
	req = mustValidate(t, v, getFeature("typename", "roads", "sortby", "name a"))
	if len(req.SortBy) != 1 || req.SortBy[0].Desc {
		t.Fatalf("sort %+v", req.SortBy)
	}
	wantKind(t, v, getFeature("typename", "roads", "resulttype", "count"), KindInvalidParameterValue)
	for _, bad := range []string{"0", "-3", "ten"} {
		wantKind(t, v, getFeature("typename", "roads", "maxfeatures", bad), KindInvalidParameterValue)
	}
}

func TestValidate_GetCapabilities(t *testing.T) {
	v := validator()
	caps := func(kv ...string) Params {
		return params(append([]string{"service", "WFS", "request", "GetCapabilities"}, kv...)...)
	}
	if req := mustValidate(t, v, caps()); req.Version != model.V110 {
		t.Fatalf("default version %s", req.Version)
	}
	if req := mustValidate(t, v, caps("version", "0.9.0")); req.Version != model.V100 {
		t.Fatalf("low version %s", req.Version)
	}
	if req := mustValidate(t, v, caps("version", "2.0.0")); req.Version != model.V110 {
		t.Fatalf("high version %s", req.Version)
	}
	if req := mustValidate(t, v, caps("acceptversions", "2.0.0,1.0.0")); req.Version != model.V100 {
		t.Fatalf("negotiated %s", req.Version)
	}
	wantKind(t, v, caps("acceptversions", "2.0.0"), KindVersionNegotiation)
	wantKind(t, v, caps("updatesequence", "7"), KindInvalidUpdateSequence)
	wantKind(t, v, caps("acceptformats", "text/html"), KindInvalidParameterValue)
}

func TestValidate_DescribeFeatureType(t *testing.T) {
	v := validator()
	req := mustValidate(t, v, params("service", "WFS", "request", "DescribeFeatureType"))
	if names := req.LayerNames(); len(names) != 3 || names[0] != "roads" || names[2] != "parcels" {
		t.Fatalf("layers %v", names)
	}
	req = mustValidate(t, v, params("service", "WFS", "request", "DescribeFeatureType", "typename", "rivers", "outputformat", "XMLSCHEMA"))
	if req.Format != model.FormatXMLSchema || req.LayerNames()[0] != "rivers" {
		t.Fatalf("req %+v", req)
	}
	wantKind(t, v, params("service", "WFS", "request", "DescribeFeatureType", "outputformat", "JSON"), KindOutputFormatNotSupported)
	wantKind(t, v, params("service", "WFS", "request", "DescribeFeatureType", "typename", "hidden"), KindLayerNotRetrievable)
}

func TestValidate_TransactionDelete(t *testing.T) {
	v := validator()
	tx := func(kv ...string) Params {
		return params(append([]string{"service", "WFS", "request", "Transaction"}, kv...)...)
	}
	req := mustValidate(t, v, tx("operation", "Delete", "featureid", "parcels.4"))
	if req.TxOp != "Delete" || req.LayerNames()[0] != "parcels" || req.IDs(0)[0] != "parcels.4" {
		t.Fatalf("req %+v", req)
	}
	wantKind(t, v, tx("featureid", "parcels.4"), KindMissingParameter)
	wantKind(t, v, tx("operation", "Insert", "featureid", "parcels.4"), KindInvalidParameterValue)
	wantKind(t, v, tx("operation", "Delete", "typename", "parcels"), KindMissingParameter)
	wantKind(t, v, tx("operation", "Delete", "typename", "parcels", "bbox", "1,2,3,4", "featureid", "parcels.1"), KindExclusiveParameters)
}

func TestSplitGroupsAndFilters(t *testing.T) {
	g := splitGroups("(a, b)(c)")
	if len(g) != 2 || len(g[0]) != 2 || g[0][1] != "b" || g[1][0] != "c" {
		t.Fatalf("groups %v", g)
	}
	if g := splitGroups("a,b"); len(g) != 1 || len(g[0]) != 2 {
		t.Fatalf("plain list %v", g)
	}
	f := splitFilters("(<Filter>(x)</Filter>)(<Filter/>)")
	if len(f) != 2 || f[0] != "<Filter>(x)</Filter>" || f[1] != "<Filter/>" {
		t.Fatalf("filters %q", f)
	}
	cases := map[string][]string{
		"(<Filter><A/></Filter>)()":      {"<Filter><A/></Filter>", ""},
		"()(<Filter/>)":                  {"", "<Filter/>"},
		"()()":                           {"", ""},
		"(<Filter><L>a)(b</L></Filter>)": {"<Filter><L>a)(b</L></Filter>"},
	}
	for in, want := range cases {
		if got := splitFilters(in); !slices.Equal(got, want) {
			t.Fatalf("splitFilters(%q)=%q want %q", in, got, want)
		}
	}
}

func TestErrorCodes(t *testing.T) {
	cases := map[Kind]string{
		KindMissingParameter:         "MissingParameterValue",
		KindLayerNotDefined:          "InvalidParameterValue",
		KindExclusiveParameters:      "InvalidParameterValue",
		KindOutputFormatNotSupported: "OptionNotSupported",
		KindNoApplicableCode:         "NoApplicableCode",
	}
	for k, want := range cases {
		e := &Error{Kind: k}
		if e.ExceptionCode() != want {
			t.Fatalf("%s: got %s want %s", k, e.ExceptionCode(), want)
		}
	}
	if Internal(errors.New("boom")).Status() != 500 {
		t.Fatal("internal status")
	}
	if AsError(newError(KindLayerNotDefined, "typename", "x")).Status() != 400 {
		t.Fatal("parameter status")
	}
}

func TestParamsCanonical(t *testing.T) {
	a := params("TypeName", "roads", "BBOX", "1,2,3,4")
	b := params("bbox", "1,2,3,4", "typename", "roads", "empty", " ")
	if a.Canonical() != b.Canonical() {
		t.Fatalf("%q != %q", a.Canonical(), b.Canonical())
	}
}
