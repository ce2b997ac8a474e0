// Package serialize writes WFS response documents: feature collections in
// GML 2.1.2, GML 3.1.1 and GeoJSON, hit counts, feature type schemas,
// capabilities and transaction responses.
package serialize

import (
	"strings"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

const (
	nsWFS   = "http://www.opengis.net/wfs"
	nsGML   = "http://www.opengis.net/gml"
	nsOGC   = "http://www.opengis.net/ogc"
	nsOWS   = "http://www.opengis.net/ows"
	nsXSI   = "http://www.w3.org/2001/XMLSchema-instance"
	nsXSD   = "http://www.w3.org/2001/XMLSchema"
	nsXLink = "http://www.w3.org/1999/xlink"

	schemaWFS100 = "http://schemas.opengis.net/wfs/1.0.0/WFS-basic.xsd"
	schemaWFS110 = "http://schemas.opengis.net/wfs/1.1.0/wfs.xsd"
	schemaGML212 = "http://schemas.opengis.net/gml/2.1.2/feature.xsd"
	schemaGML311 = "http://schemas.opengis.net/gml/3.1.1/base/gml.xsd"
)

// Document carries the service settings shared by every writer.
type Document struct {
	OnlineResource  string
	DegreePrecision int
	MeterPrecision  int
	DisplayBBox     bool
	ExposePK        bool
	MaxFeatures     int
}

func NewDocument(cfg config.WFSCfg) Document {
	return Document{
		OnlineResource:  cfg.OnlineResource,
		DegreePrecision: cfg.DegreePrecision,
		MeterPrecision:  cfg.MeterPrecision,
		DisplayBBox:     cfg.DisplayBBox,
		ExposePK:        cfg.ExposePK,
		MaxFeatures:     cfg.MaxFeatures,
	}
}

// Precision is the number of decimals used for coordinates in s.
func (d Document) Precision(s model.SRS) int {
	if s.IsDegree {
		return d.DegreePrecision
	}
	return d.MeterPrecision
}

// namespace is one prefix declaration with the layers published under it.
type namespace struct {
	Prefix string
	URI    string
	Types  []string
}

// namespaces groups layers by prefix in first-seen order.
func namespaces(layers []model.LayerSchema) []namespace {
	var out []namespace
	idx := map[string]int{}
	for _, l := range layers {
		if l.Prefix == "" {
			continue
		}
		i, ok := idx[l.Prefix]
		if !ok {
			i = len(out)
			idx[l.Prefix] = i
			out = append(out, namespace{Prefix: l.Prefix, URI: l.Namespace})
		}
		out[i].Types = append(out[i].Types, l.QualifiedName())
	}
	return out
}

// describeURL is the DescribeFeatureType request for typeNames. Qualified
// type names need no escaping in a query string.
func (d Document) describeURL(v model.Version, typeNames []string) string {
	return d.OnlineResource + "?service=WFS&version=" + string(v) +
		"&request=DescribeFeatureType&typename=" + strings.Join(typeNames, ",")
}

// schemaLocation pairs every layer namespace with its DescribeFeatureType
// URL, followed by the WFS and GML schemas of the request.
func (d Document) schemaLocation(v model.Version, f model.Format, layers []model.LayerSchema) string {
	var parts []string
	for _, ns := range namespaces(layers) {
		if ns.URI == "" {
			continue
		}
		parts = append(parts, ns.URI, d.describeURL(v, ns.Types))
	}
	wfsSchema := schemaWFS110
	if v == model.V100 {
		wfsSchema = schemaWFS100
	}
	gmlSchema := schemaGML311
	if f == model.FormatGML212 {
		gmlSchema = schemaGML212
	}
	parts = append(parts, nsWFS, wfsSchema, nsGML, gmlSchema)
	return strings.Join(parts, " ")
}
