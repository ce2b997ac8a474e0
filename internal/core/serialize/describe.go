package serialize

import (
	"encoding/xml"
	"io"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

type xsdSchema struct {
	XMLName         xml.Name         `xml:"xs:schema"`
	Attrs           []xml.Attr       `xml:",any,attr"`
	Imports         []xsdImport      `xml:"xs:import"`
	Elements        []xsdElement     `xml:"xs:element"`
	Types           []xsdComplexType `xml:"xs:complexType"`
	TargetNamespace string           `xml:"targetNamespace,attr,omitempty"`
	Version         string           `xml:"version,attr,omitempty"`
}

type xsdImport struct {
	Namespace      string `xml:"namespace,attr"`
	SchemaLocation string `xml:"schemaLocation,attr"`
}

type xsdElement struct {
	Name              string `xml:"name,attr"`
	Type              string `xml:"type,attr"`
	SubstitutionGroup string `xml:"substitutionGroup,attr,omitempty"`
	Nillable          string `xml:"nillable,attr,omitempty"`
	MinOccurs         string `xml:"minOccurs,attr,omitempty"`
	MaxOccurs         string `xml:"maxOccurs,attr,omitempty"`
}

type xsdComplexType struct {
	Name      string       `xml:"name,attr"`
	Extension xsdExtension `xml:"xs:complexContent>xs:extension"`
}

type xsdExtension struct {
	Base     string       `xml:"base,attr"`
	Elements []xsdElement `xml:"xs:sequence>xs:element"`
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// WriteSchema answers DescribeFeatureType. Layers sharing one prefix get a
// full schema; layers spread over several prefixes get a schema importing
// one DescribeFeatureType document per namespace.
func WriteSchema(w io.Writer, v model.Version, doc Document, layers []model.LayerSchema) error {
	nss := namespaces(layers)
	if len(nss) > 1 {
		s := xsdSchema{Attrs: []xml.Attr{
			attr("xmlns:xs", nsXSD),
			attr("xmlns", nsXSD),
			attr("elementFormDefault", "qualified"),
		}}
		for _, ns := range nss {
			s.Imports = append(s.Imports, xsdImport{Namespace: ns.URI, SchemaLocation: doc.describeURL(v, ns.Types)})
		}
		return writeXML(w, s)
	}

	gmlSchema, version := schemaGML311, "1.1"
	if v == model.V100 {
		gmlSchema, version = schemaGML212, "1.0"
	}
	s := xsdSchema{Version: version}
	prefix := ""
	if len(nss) == 1 {
		prefix = nss[0].Prefix
		s.TargetNamespace = nss[0].URI
		s.Attrs = append(s.Attrs, attr("xmlns:"+prefix, nss[0].URI))
	}
	s.Attrs = append(s.Attrs,
		attr("xmlns:ogc", nsOGC),
		attr("xmlns:xs", nsXSD),
		attr("xmlns", nsXSD),
		attr("xmlns:gml", nsGML),
		attr("elementFormDefault", "qualified"),
	)
	s.Imports = []xsdImport{{Namespace: nsGML, SchemaLocation: gmlSchema}}

	for _, l := range layers {
		typeName := l.Name + "Type"
		qualified := typeName
		if prefix != "" {
			qualified = prefix + ":" + typeName
		}
		s.Elements = append(s.Elements, xsdElement{Name: l.Name, Type: qualified, SubstitutionGroup: "gml:_Feature"})
		s.Types = append(s.Types, complexType(l, typeName, doc.ExposePK))
	}
	return writeXML(w, s)
}

func complexType(l model.LayerSchema, name string, exposePK bool) xsdComplexType {
	t := xsdComplexType{Name: name, Extension: xsdExtension{Base: "gml:AbstractFeatureType"}}
	for _, c := range l.Columns {
		if l.IsExcluded(c.Name) || (c.Name == l.PrimaryKey && !exposePK) {
			continue
		}
		el := xsdElement{Name: c.Name, Type: XSDType(c), Nillable: "true", MinOccurs: "0", MaxOccurs: "1"}
		if c.NotNull {
			el.Nillable, el.MinOccurs = "false", "1"
		}
		t.Extension.Elements = append(t.Extension.Elements, el)
	}
	return t
}

// XSDType maps a catalog column type onto its XML Schema type.
func XSDType(c model.Column) string {
	if c.Type == model.TypeGeometry {
		return "gml:GeometryPropertyType"
	}
	switch c.PGType {
	case "int2":
		return "short"
	case "int4":
		return "int"
	case "int8":
		return "long"
	case "float4":
		return "float"
	case "float8":
		return "double"
	case "numeric":
		return "decimal"
	case "bool":
		return "boolean"
	case "date":
		return "date"
	case "time", "timetz":
		return "time"
	case "timestamp", "timestamptz":
		return "dateTime"
	default:
		return "string"
	}
}
