package serialize

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/filter"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

// Capabilities is the service description behind GetCapabilities.
type Capabilities struct {
	Service config.ServiceInfo
	// Layers are the published feature types in catalog order.
	Layers []model.LayerSchema
	// WGS84 holds the known EPSG:4326 extent per layer name.
	WGS84 map[string]orb.Bound
}

// worldBound stands in for layers whose extent is unknown.
var worldBound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

func (c Capabilities) extent(layer string) orb.Bound {
	if b, ok := c.WGS84[layer]; ok {
		return b
	}
	return worldBound
}

// WriteCapabilities renders the capabilities document of req.Version,
// limited to req.Sections when the request names any.
func WriteCapabilities(w io.Writer, req *wfs.Request, doc Document, c Capabilities) error {
	if req.Version == model.V100 {
		return writeXML(w, capabilities100(doc, c))
	}
	return writeXML(w, capabilities110(req.Sections, doc, c))
}

func wantSection(sections []string, name string) bool {
	if len(sections) == 0 {
		return true
	}
	for _, s := range sections {
		if strings.EqualFold(s, name) || strings.EqualFold(s, "All") {
			return true
		}
	}
	return false
}

type emptyElem struct {
	XMLName xml.Name
}

func empties(names ...string) []emptyElem {
	out := make([]emptyElem, len(names))
	for i, n := range names {
		out[i] = emptyElem{XMLName: xml.Name{Local: n}}
	}
	return out
}

type functionName struct {
	NArgs int    `xml:"nArgs,attr"`
	Name  string `xml:",chardata"`
}

func functionNames() []functionName {
	fs := filter.Functions()
	out := make([]functionName, len(fs))
	for i, f := range fs {
		out[i] = functionName{NArgs: f.NArgs, Name: f.Name}
	}
	return out
}

var spatialOperators = []string{"Equals", "Disjoint", "Touches", "Within", "Overlaps", "Crosses", "Intersects", "Contains", "DWithin", "Beyond", "BBOX"}

// WFS 1.1.0

type wfsCapabilities110 struct {
	XMLName        xml.Name `xml:"WFS_Capabilities"`
	Version        string   `xml:"version,attr"`
	UpdateSequence string   `xml:"updateSequence,attr"`
	Xmlns          string   `xml:"xmlns,attr"`
	XmlnsXSI       string   `xml:"xmlns:xsi,attr"`
	XmlnsOGC       string   `xml:"xmlns:ogc,attr"`
	XmlnsGML       string   `xml:"xmlns:gml,attr"`
	XmlnsOWS       string   `xml:"xmlns:ows,attr"`
	XmlnsXLink     string   `xml:"xmlns:xlink,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`

	Identification *owsIdentification  `xml:"ows:ServiceIdentification,omitempty"`
	Provider       *owsProvider        `xml:"ows:ServiceProvider,omitempty"`
	Operations     *owsOperations      `xml:"ows:OperationsMetadata,omitempty"`
	FeatureTypes   *featureTypeList110 `xml:"FeatureTypeList,omitempty"`
	Filter         *filterCaps110      `xml:"ogc:Filter_Capabilities,omitempty"`
}

type owsIdentification struct {
	Title              string   `xml:"ows:Title"`
	Abstract           string   `xml:"ows:Abstract,omitempty"`
	Keywords           []string `xml:"ows:Keywords>ows:Keyword,omitempty"`
	ServiceType        string   `xml:"ows:ServiceType"`
	ServiceTypeVersion []string `xml:"ows:ServiceTypeVersion"`
	Fees               string   `xml:"ows:Fees,omitempty"`
	AccessConstraints  string   `xml:"ows:AccessConstraints,omitempty"`
}

type owsProvider struct {
	Name string  `xml:"ows:ProviderName"`
	Site owsLink `xml:"ows:ProviderSite"`
}

type owsLink struct {
	Href string `xml:"xlink:href,attr"`
}

type owsOperations struct {
	Operations  []owsOperation `xml:"ows:Operation"`
	Constraints []owsParameter `xml:"ows:Constraint"`
}

type owsOperation struct {
	Name       string         `xml:"name,attr"`
	Get        owsLink        `xml:"ows:DCP>ows:HTTP>ows:Get"`
	Parameters []owsParameter `xml:"ows:Parameter"`
}

type owsParameter struct {
	Name   string   `xml:"name,attr"`
	Values []string `xml:"ows:Value"`
}

type featureTypeList110 struct {
	Operations []string         `xml:"Operations>Operation"`
	Types      []featureType110 `xml:"FeatureType"`
}

type featureType110 struct {
	Attrs      []xml.Attr `xml:",any,attr"`
	Name       string     `xml:"Name"`
	Title      string     `xml:"Title"`
	Abstract   string     `xml:"Abstract,omitempty"`
	DefaultSRS string     `xml:"DefaultSRS,omitempty"`
	NoSRS      *struct{}  `xml:"NoSRS"`
	Operations []string   `xml:"Operations>Operation"`
	Formats    []string   `xml:"OutputFormats>Format"`
	WGS84      owsBBox    `xml:"ows:WGS84BoundingBox"`
}

type owsBBox struct {
	Lower string `xml:"ows:LowerCorner"`
	Upper string `xml:"ows:UpperCorner"`
}

type filterCaps110 struct {
	GeometryOperands []string       `xml:"ogc:Spatial_Capabilities>ogc:GeometryOperands>ogc:GeometryOperand"`
	SpatialOperators []namedOp      `xml:"ogc:Spatial_Capabilities>ogc:SpatialOperators>ogc:SpatialOperator"`
	Logical          struct{}       `xml:"ogc:Scalar_Capabilities>ogc:LogicalOperators"`
	Comparison       []string       `xml:"ogc:Scalar_Capabilities>ogc:ComparisonOperators>ogc:ComparisonOperator"`
	Arithmetic       []emptyElem    `xml:"ogc:Scalar_Capabilities>ogc:ArithmeticOperators>op"`
	Functions        []functionName `xml:"ogc:Scalar_Capabilities>ogc:ArithmeticOperators>ogc:Functions>ogc:FunctionNames>ogc:FunctionName"`
	IDs              []emptyElem    `xml:"ogc:Id_Capabilities>id"`
}

type namedOp struct {
	Name string `xml:"name,attr"`
}

func capabilities110(sections []string, doc Document, c Capabilities) wfsCapabilities110 {
	out := wfsCapabilities110{
		Version: string(model.V110), UpdateSequence: "0",
		Xmlns: nsWFS, XmlnsXSI: nsXSI, XmlnsOGC: nsOGC, XmlnsGML: nsGML, XmlnsOWS: nsOWS, XmlnsXLink: nsXLink,
		SchemaLocation: nsWFS + " " + schemaWFS110,
	}
	if wantSection(sections, "ServiceIdentification") {
		out.Identification = &owsIdentification{
			Title:              c.Service.Title,
			Abstract:           c.Service.Abstract,
			Keywords:           c.Service.Keywords,
			ServiceType:        "WFS",
			ServiceTypeVersion: []string{string(model.V110), string(model.V100)},
			Fees:               c.Service.Fees,
			AccessConstraints:  c.Service.AccessConstraints,
		}
	}
	if wantSection(sections, "ServiceProvider") {
		out.Provider = &owsProvider{Name: c.Service.Title, Site: owsLink{Href: doc.OnlineResource}}
	}
	if wantSection(sections, "OperationsMetadata") {
		out.Operations = operations110(doc, c)
	}
	if wantSection(sections, "FeatureTypeList") {
		out.FeatureTypes = featureTypes110(doc, c)
	}
	if wantSection(sections, "Filter_Capabilities") {
		out.Filter = &filterCaps110{
			GeometryOperands: []string{"gml:Envelope", "gml:Point", "gml:LineString", "gml:Polygon"},
			Comparison:       []string{"EqualTo", "NotEqualTo", "LessThan", "GreaterThan", "LessThanEqualTo", "GreaterThanEqualTo", "Like", "Between", "NullCheck"},
			Arithmetic:       empties("ogc:SimpleArithmetic"),
			Functions:        functionNames(),
			IDs:              empties("ogc:FID", "ogc:EID"),
		}
		for _, op := range spatialOperators {
			out.Filter.SpatialOperators = append(out.Filter.SpatialOperators, namedOp{Name: op})
		}
	}
	return out
}

func operations110(doc Document, c Capabilities) *owsOperations {
	get := func(req string) owsLink {
		return owsLink{Href: doc.OnlineResource + "?service=WFS&request=" + req}
	}
	formats := []string{model.FormatGML311.ContentType(), model.FormatGML212.ContentType()}
	ops := &owsOperations{
		Operations: []owsOperation{
			{Name: "GetCapabilities", Get: get("GetCapabilities"), Parameters: []owsParameter{
				{Name: "AcceptVersions", Values: []string{string(model.V110), string(model.V100)}},
				{Name: "AcceptFormats", Values: []string{"text/xml"}},
				{Name: "Sections", Values: []string{"ServiceIdentification", "ServiceProvider", "OperationsMetadata", "FeatureTypeList", "Filter_Capabilities"}},
			}},
			{Name: "DescribeFeatureType", Get: get("DescribeFeatureType"), Parameters: []owsParameter{
				{Name: "outputFormat", Values: formats},
			}},
			{Name: "GetFeature", Get: get("GetFeature"), Parameters: []owsParameter{
				{Name: "resultType", Values: []string{string(model.ResultsResult), string(model.ResultsHits)}},
				{Name: "outputFormat", Values: append(formats, model.FormatGeoJSON.ContentType())},
			}},
		},
	}
	if hasWritable(c.Layers) {
		ops.Operations = append(ops.Operations, owsOperation{Name: "Transaction", Get: get("Transaction")})
	}
	if doc.MaxFeatures > 0 {
		ops.Constraints = append(ops.Constraints, owsParameter{Name: "DefaultMaxFeatures", Values: []string{strconv.Itoa(doc.MaxFeatures)}})
	}
	return ops
}

func featureTypes110(doc Document, c Capabilities) *featureTypeList110 {
	list := &featureTypeList110{Operations: []string{"Query"}}
	formats := []string{model.FormatGML311.ContentType(), model.FormatGML212.ContentType(), model.FormatGeoJSON.ContentType()}
	for _, l := range c.Layers {
		if !l.Storage || !l.Retrievable {
			continue
		}
		ft := featureType110{Name: l.QualifiedName(), Title: title(l), Abstract: l.Abstract, Formats: formats}
		if l.Prefix != "" && l.Namespace != "" {
			ft.Attrs = []xml.Attr{attr("xmlns:"+l.Prefix, l.Namespace)}
		}
		if l.SRID > 0 {
			ft.DefaultSRS = model.SRS{SRID: l.SRID, LongForm: true}.Name()
		} else {
			ft.NoSRS = &struct{}{}
		}
		ft.Operations = []string{"Query"}
		if l.Writable {
			ft.Operations = append(ft.Operations, "Delete")
		}
		b := c.extent(l.Name)
		ft.WGS84 = owsBBox{
			Lower: Coord(b.Min[0], doc.DegreePrecision) + " " + Coord(b.Min[1], doc.DegreePrecision),
			Upper: Coord(b.Max[0], doc.DegreePrecision) + " " + Coord(b.Max[1], doc.DegreePrecision),
		}
		list.Types = append(list.Types, ft)
	}
	return list
}

// WFS 1.0.0

type wfsCapabilities100 struct {
	XMLName        xml.Name `xml:"WFS_Capabilities"`
	Version        string   `xml:"version,attr"`
	UpdateSequence string   `xml:"updateSequence,attr"`
	Xmlns          string   `xml:"xmlns,attr"`
	XmlnsXSI       string   `xml:"xmlns:xsi,attr"`
	XmlnsOGC       string   `xml:"xmlns:ogc,attr"`
	SchemaLocation string   `xml:"xsi:schemaLocation,attr"`

	Service      service100         `xml:"Service"`
	Requests     []request100       `xml:"Capability>Request>op"`
	FeatureTypes featureTypeList100 `xml:"FeatureTypeList"`
	Filter       filterCaps100      `xml:"ogc:Filter_Capabilities"`
}

type service100 struct {
	Name              string `xml:"Name"`
	Title             string `xml:"Title"`
	Abstract          string `xml:"Abstract,omitempty"`
	Keywords          string `xml:"Keywords,omitempty"`
	OnlineResource    string `xml:"OnlineResource"`
	Fees              string `xml:"Fees,omitempty"`
	AccessConstraints string `xml:"AccessConstraints,omitempty"`
}

type request100 struct {
	XMLName xml.Name
	Schema  *emptyElem  `xml:"SchemaDescriptionLanguage>XMLSCHEMA"`
	Formats []emptyElem `xml:"ResultFormat>f"`
	DCP     []dcp100    `xml:"DCPType"`
}

type dcp100 struct {
	Get  *onlineResource `xml:"HTTP>Get"`
	Post *onlineResource `xml:"HTTP>Post"`
}

type onlineResource struct {
	URL string `xml:"onlineResource,attr"`
}

type featureTypeList100 struct {
	Operations []emptyElem      `xml:"Operations>op"`
	Types      []featureType100 `xml:"FeatureType"`
}

type featureType100 struct {
	Attrs      []xml.Attr  `xml:",any,attr"`
	Name       string      `xml:"Name"`
	Title      string      `xml:"Title"`
	Abstract   string      `xml:"Abstract,omitempty"`
	SRS        string      `xml:"SRS"`
	Operations []emptyElem `xml:"Operations>op"`
	Box        latLongBox  `xml:"LatLongBoundingBox"`
}

type latLongBox struct {
	MinX string `xml:"minx,attr"`
	MinY string `xml:"miny,attr"`
	MaxX string `xml:"maxx,attr"`
	MaxY string `xml:"maxy,attr"`
}

type filterCaps100 struct {
	Spatial    []emptyElem    `xml:"ogc:Spatial_Capabilities>ogc:Spatial_Operators>op"`
	Logical    struct{}       `xml:"ogc:Scalar_Capabilities>ogc:Logical_Operators"`
	Comparison []emptyElem    `xml:"ogc:Scalar_Capabilities>ogc:Comparison_Operators>op"`
	Arithmetic []emptyElem    `xml:"ogc:Scalar_Capabilities>ogc:Arithmetic_Operators>op"`
	Functions  []functionName `xml:"ogc:Scalar_Capabilities>ogc:Arithmetic_Operators>ogc:Functions>ogc:Function_Names>ogc:Function_Name"`
}

func capabilities100(doc Document, c Capabilities) wfsCapabilities100 {
	dcp := []dcp100{
		{Get: &onlineResource{URL: doc.OnlineResource + "?"}},
		{Post: &onlineResource{URL: doc.OnlineResource}},
	}
	out := wfsCapabilities100{
		Version: string(model.V100), UpdateSequence: "0",
		Xmlns: nsWFS, XmlnsXSI: nsXSI, XmlnsOGC: nsOGC,
		SchemaLocation: nsWFS + " http://schemas.opengis.net/wfs/1.0.0/WFS-capabilities.xsd",
		Service: service100{
			Name:              "WFS",
			Title:             c.Service.Title,
			Abstract:          c.Service.Abstract,
			Keywords:          strings.Join(c.Service.Keywords, ","),
			OnlineResource:    doc.OnlineResource,
			Fees:              c.Service.Fees,
			AccessConstraints: c.Service.AccessConstraints,
		},
		Requests: []request100{
			{XMLName: xml.Name{Local: "GetCapabilities"}, DCP: dcp},
			{XMLName: xml.Name{Local: "DescribeFeatureType"}, Schema: &emptyElem{}, DCP: dcp},
			{XMLName: xml.Name{Local: "GetFeature"}, Formats: empties("GML2", "GML3", "JSON"), DCP: dcp},
		},
		FeatureTypes: featureTypeList100{Operations: empties("Query")},
		Filter: filterCaps100{
			Comparison: empties("ogc:Simple_Comparisons", "ogc:Like", "ogc:Between", "ogc:NullCheck"),
			Arithmetic: empties("ogc:Simple_Arithmetic"),
			Functions:  functionNames(),
		},
	}
	if hasWritable(c.Layers) {
		out.Requests = append(out.Requests, request100{XMLName: xml.Name{Local: "Transaction"}, DCP: dcp})
	}
	for _, op := range spatialOperators {
		if op == "Intersects" {
			op = "Intersect"
		}
		out.Filter.Spatial = append(out.Filter.Spatial, emptyElem{XMLName: xml.Name{Local: "ogc:" + op}})
	}
	for _, l := range c.Layers {
		if !l.Storage || !l.Retrievable {
			continue
		}
		ft := featureType100{Name: l.QualifiedName(), Title: title(l), Abstract: l.Abstract, Operations: empties("Query")}
		if l.Prefix != "" && l.Namespace != "" {
			ft.Attrs = []xml.Attr{attr("xmlns:"+l.Prefix, l.Namespace)}
		}
		if l.SRID > 0 {
			ft.SRS = model.SRS{SRID: l.SRID}.Name()
		}
		if l.Writable {
			ft.Operations = append(ft.Operations, empties("Delete")...)
		}
		b := c.extent(l.Name)
		p := doc.DegreePrecision
		ft.Box = latLongBox{MinX: Coord(b.Min[0], p), MinY: Coord(b.Min[1], p), MaxX: Coord(b.Max[0], p), MaxY: Coord(b.Max[1], p)}
		out.FeatureTypes.Types = append(out.FeatureTypes.Types, ft)
	}
	return out
}

func hasWritable(layers []model.LayerSchema) bool {
	for _, l := range layers {
		if l.Storage && l.Writable {
			return true
		}
	}
	return false
}

func title(l model.LayerSchema) string {
	if l.Title != "" {
		return l.Title
	}
	return l.Name
}
