// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"
)

type ColumnType string

const (
	TypeGeometry  ColumnType = "geometry"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeText      ColumnType = "text"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

type Column struct {
	Name    string
	Type    ColumnType
	PGType  string // catalog type name, e.g. int4, timestamptz
	NotNull bool
}

// LayerSchema is the catalog view of one published layer. Column names are
// case-sensitive and unique within a layer.
type LayerSchema struct {
	Name        string
	Title       string
	Abstract    string
	Prefix      string
	Namespace   string
	DBSchema    string
	Table       string
	Retrievable bool
	Writable    bool
	Exclude     []string

	// Storage is false when the configured table was not found in the catalog.
	Storage    bool
	Columns    []Column
	PrimaryKey string
	GeomCols   []string
	SRID       int
	IsDegree   bool
}

func (l LayerSchema) Column(name string) (Column, bool) {
	for _, c := range l.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (l LayerSchema) HasColumn(name string) bool {
	_, ok := l.Column(name)
	return ok
}

func (l LayerSchema) IsGeometry(name string) bool {
	return slices.Contains(l.GeomCols, name)
}

func (l LayerSchema) IsNotNull(name string) bool {
	c, ok := l.Column(name)
	return ok && c.NotNull
}

func (l LayerSchema) IsExcluded(name string) bool {
	return slices.Contains(l.Exclude, name)
}

// Ordinal returns the column at 1-based position n.
func (l LayerSchema) Ordinal(n int) (string, bool) {
	if n < 1 || n > len(l.Columns) {
		return "", false
	}
	return l.Columns[n-1].Name, true
}

// QualifiedName is the prefixed feature type name used in documents.
func (l LayerSchema) QualifiedName() string {
	if l.Prefix == "" {
		return l.Name
	}
	return l.Prefix + ":" + l.Name
}

type Version string

const (
	V100 Version = "1.0.0"
	V110 Version = "1.1.0"
)

type Operation string

const (
	OpGetCapabilities     Operation = "GetCapabilities"
	OpDescribeFeatureType Operation = "DescribeFeatureType"
	OpGetFeature          Operation = "GetFeature"
	OpTransaction         Operation = "Transaction"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatGML212
	FormatGML311
	FormatGeoJSON
	FormatXMLSchema
)

func (f Format) String() string {
	switch f {
	case FormatGML212:
		return "GML2"
	case FormatGML311:
		return "GML3"
	case FormatGeoJSON:
		return "JSON"
	case FormatXMLSchema:
		return "XMLSCHEMA"
	default:
		return "unknown"
	}
}

// ContentType is the media type written for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatGML212:
		return "text/xml; subtype=gml/2.1.2"
	case FormatGML311:
		return "text/xml; subtype=gml/3.1.1"
	case FormatGeoJSON:
		return "application/json"
	default:
		return "text/xml"
	}
}

type ResultType string

const (
	ResultsResult ResultType = "results"
	ResultsHits   ResultType = "hits"
)

// SRSForm is the lexical form a CRS was named with.
type SRSForm int

const (
	SRSShort SRSForm = iota // EPSG:4326
	SRSURN                  // urn:ogc:def:crs:EPSG::4326 and friends
	SRSHTTP                 // http://www.opengis.net/gml/srs/epsg.xml#4326
)

type SRS struct {
	SRID     int
	AuthName string
	AuthSRID int
	IsDegree bool
	Form     SRSForm

	// LongForm selects the urn:ogc:def:crs name in output.
	LongForm bool
	// ReverseAxis emits coordinates in lat/long order.
	ReverseAxis bool
}

// Name renders the CRS identifier for documents.
func (s SRS) Name() string {
	auth := s.AuthName
	if auth == "" {
		auth = "EPSG"
	}
	code := s.AuthSRID
	if code == 0 {
		code = s.SRID
	}
	if s.LongForm {
		return fmt.Sprintf("urn:ogc:def:crs:%s::%d", auth, code)
	}
	return fmt.Sprintf("%s:%d", auth, code)
}

// BBox is always held in x/y order regardless of how it was written.
type BBox struct {
	Bound orb.Bound
	SRS   SRS
}

func (b BBox) String() string {
	return fmt.Sprintf("%g,%g,%g,%g,%s",
		b.Bound.Min[0], b.Bound.Min[1], b.Bound.Max[0], b.Bound.Max[1], b.SRS.Name())
}

type SortKey struct {
	Property string
	Desc     bool
}
