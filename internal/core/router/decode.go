package router

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 4 << 20

var errEmptyBody = errors.New("empty request body")

// Decode turns r into request parameters. GET requests and form posts are
// KVP; any other POST body is read as an XML request document.
func Decode(r *http.Request) (wfs.Params, error) {
	if r.Method != http.MethodPost {
		return wfs.ParseValues(r.URL.Query()), nil
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return wfs.ParseValues(r.Form), nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	p, err := DecodeXML(body)
	if err != nil {
		return nil, err
	}
	// KVP in the URL fills what the document left out
	for k, v := range wfs.ParseValues(r.URL.Query()) {
		if !p.Has(k) {
			p.Set(k, v)
		}
	}
	return p, nil
}

type rawFilter struct {
	Inner string `xml:",innerxml"`
}

type sortProperty struct {
	PropertyName string `xml:"PropertyName"`
	SortOrder    string `xml:"SortOrder"`
}

type xmlQuery struct {
	TypeName      string         `xml:"typeName,attr"`
	SRSName       string         `xml:"srsName,attr"`
	PropertyNames []string       `xml:"PropertyName"`
	Filter        *rawFilter     `xml:"Filter"`
	SortBy        []sortProperty `xml:"SortBy>SortProperty"`
}

type xmlRequest struct {
	XMLName       xml.Name
	Service       string     `xml:"service,attr"`
	Version       string     `xml:"version,attr"`
	OutputFormat  string     `xml:"outputFormat,attr"`
	ResultType    string     `xml:"resultType,attr"`
	MaxFeatures   string     `xml:"maxFeatures,attr"`
	Queries       []xmlQuery `xml:"Query"`
	TypeNames     []string   `xml:"TypeName"`
	AcceptVersion []string   `xml:"AcceptVersions>Version"`
	Sections      []string   `xml:"Sections>Section"`
}

// DecodeXML maps a GetFeature, DescribeFeatureType or GetCapabilities
// document onto the KVP parameters it stands for.
func DecodeXML(body []byte) (wfs.Params, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, &wfs.Error{Kind: wfs.KindMissingParameter, Locator: "request", Message: errEmptyBody.Error(), Err: errEmptyBody}
	}
	var doc xmlRequest
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, &wfs.Error{Kind: wfs.KindInvalidParameterValue, Locator: "request",
			Message: "request document is not well formed: " + err.Error(), Err: err}
	}

	p := wfs.Params{}
	p.Set("request", doc.XMLName.Local)
	p.Set("service", doc.Service)
	p.Set("version", doc.Version)
	p.Set("outputformat", doc.OutputFormat)

	switch strings.ToLower(doc.XMLName.Local) {
	case "getcapabilities":
		p.Set("acceptversions", strings.Join(doc.AcceptVersion, ","))
		p.Set("sections", strings.Join(doc.Sections, ","))
	case "describefeaturetype":
		p.Set("typename", strings.Join(trimAll(doc.TypeNames), ","))
	case "getfeature":
		p.Set("resulttype", doc.ResultType)
		p.Set("maxfeatures", doc.MaxFeatures)
		queryParams(p, doc.Queries)
	default:
		return nil, &wfs.Error{Kind: wfs.KindOperationNotSupported, Locator: "request",
			Message: fmt.Sprintf("XML request %q is not supported", doc.XMLName.Local)}
	}
	return p, nil
}

// queryParams flattens the Query elements into typename, srsname,
// propertyname, filter and sortby. Per-query lists use the parenthesized
// KVP form when there is more than one query.
func queryParams(p wfs.Params, queries []xmlQuery) {
	if len(queries) == 0 {
		return
	}
	var (
		types, props, filters []string
		anyProps, anyFilter   bool
		sorts                 []string
	)
	for _, q := range queries {
		types = append(types, strings.TrimSpace(q.TypeName))
		props = append(props, strings.Join(trimAll(q.PropertyNames), ","))
		anyProps = anyProps || len(q.PropertyNames) > 0
		f := ""
		if q.Filter != nil {
			f = "<Filter>" + q.Filter.Inner + "</Filter>"
			anyFilter = true
		}
		filters = append(filters, f)
		for _, s := range q.SortBy {
			item := strings.TrimSpace(s.PropertyName)
			if strings.EqualFold(strings.TrimSpace(s.SortOrder), "DESC") {
				item += " D"
			}
			sorts = append(sorts, item)
		}
	}
	p.Set("typename", strings.Join(types, ","))
	p.Set("srsname", strings.TrimSpace(queries[0].SRSName))
	p.Set("sortby", strings.Join(sorts, ","))
	if anyProps {
		p.Set("propertyname", groups(props))
	}
	if anyFilter {
		p.Set("filter", groups(filters))
	}
}

func groups(items []string) string {
	if len(items) == 1 {
		return items[0]
	}
	var b strings.Builder
	for _, s := range items {
		b.WriteString("(" + s + ")")
	}
	return b.String()
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
