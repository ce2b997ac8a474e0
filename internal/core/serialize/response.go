package serialize

import (
	"bufio"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/wfs"
)

// WriteHits answers resultType=hits with an empty collection carrying the
// number of matching features.
func WriteHits(w io.Writer, req *wfs.Request, doc Document, count int64, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	if req.Format == model.FormatGeoJSON {
		return json.NewEncoder(w).Encode(struct {
			Type             string `json:"type"`
			NumberOfFeatures int64  `json:"numberOfFeatures"`
			TimeStamp        string `json:"timeStamp"`
			Features         []any  `json:"features"`
		}{"FeatureCollection", count, ts, []any{}})
	}
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(xml.Header)
	collectionStart(bw, req, doc)
	writeAttr(bw, "timeStamp", ts)
	writeAttr(bw, "numberOfFeatures", strconv.FormatInt(count, 10))
	_, _ = bw.WriteString("/>\n")
	return bw.Flush()
}

type transactionSummary struct {
	TotalInserted int64 `xml:"wfs:totalInserted"`
	TotalUpdated  int64 `xml:"wfs:totalUpdated"`
	TotalDeleted  int64 `xml:"wfs:totalDeleted"`
}

type transactionResponse110 struct {
	XMLName  xml.Name           `xml:"wfs:TransactionResponse"`
	Version  string             `xml:"version,attr"`
	XmlnsWFS string             `xml:"xmlns:wfs,attr"`
	XmlnsOGC string             `xml:"xmlns:ogc,attr"`
	Summary  transactionSummary `xml:"wfs:TransactionSummary"`
}

type transactionResponse100 struct {
	XMLName  xml.Name `xml:"wfs:WFS_TransactionResponse"`
	Version  string   `xml:"version,attr"`
	XmlnsWFS string   `xml:"xmlns:wfs,attr"`
	XmlnsOGC string   `xml:"xmlns:ogc,attr"`
	Success  struct{} `xml:"wfs:TransactionResult>wfs:Status>wfs:SUCCESS"`
}

// WriteTransaction reports a completed Delete.
func WriteTransaction(w io.Writer, v model.Version, deleted int64) error {
	var doc any
	if v == model.V100 {
		doc = transactionResponse100{Version: string(v), XmlnsWFS: nsWFS, XmlnsOGC: nsOGC}
	} else {
		doc = transactionResponse110{
			Version: string(v), XmlnsWFS: nsWFS, XmlnsOGC: nsOGC,
			Summary: transactionSummary{TotalDeleted: deleted},
		}
	}
	return writeXML(w, doc)
}

type exceptionReport struct {
	XMLName        xml.Name     `xml:"ows:ExceptionReport"`
	XmlnsOWS       string       `xml:"xmlns:ows,attr"`
	XmlnsXSI       string       `xml:"xmlns:xsi,attr"`
	SchemaLocation string       `xml:"xsi:schemaLocation,attr"`
	Version        string       `xml:"version,attr"`
	Language       string       `xml:"language,attr"`
	Exception      owsException `xml:"ows:Exception"`
}

type owsException struct {
	Code    string `xml:"exceptionCode,attr"`
	Locator string `xml:"locator,attr,omitempty"`
	Text    string `xml:"ows:ExceptionText"`
}

// WriteException renders err as an OWS 1.0 ExceptionReport.
func WriteException(w io.Writer, err *wfs.Error) error {
	return writeXML(w, exceptionReport{
		XmlnsOWS:       nsOWS,
		XmlnsXSI:       nsXSI,
		SchemaLocation: nsOWS + " http://schemas.opengis.net/ows/1.0.0/owsExceptionReport.xsd",
		Version:        "1.0.0",
		Language:       "en",
		Exception: owsException{
			Code:    err.ExceptionCode(),
			Locator: err.Locator,
			Text:    err.Message,
		},
	})
}

func writeXML(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode xml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
