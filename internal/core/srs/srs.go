// Package srs parses CRS names and resolves them against spatial_ref_sys.
package srs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
)

var (
	ErrSRSName    = errors.New("srs: unsupported srsName")
	ErrUnknownSRS = errors.New("srs: unknown spatial reference")
)

// Name is a parsed srsName.
type Name struct {
	Auth string
	Code int
	Form model.SRSForm
}

var urnPrefixes = []string{
	"urn:ogc:def:crs:",
	"urn:x-ogc:def:crs:",
}

const (
	httpPrefix       = "http://www.opengis.net/gml/srs/epsg.xml#"
	geographicPrefix = "urn:EPSG:geographicCRS:"
)

// ParseName accepts EPSG:N, urn:ogc:def:crs:EPSG:[version]:N,
// urn:x-ogc:def:crs:EPSG:[version]:N, urn:EPSG:geographicCRS:N and
// http://www.opengis.net/gml/srs/epsg.xml#N.
func ParseName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)

	switch {
	case strings.HasPrefix(lower, strings.ToLower(httpPrefix)):
		return named("EPSG", s[len(httpPrefix):], model.SRSHTTP, s)
	case strings.HasPrefix(lower, strings.ToLower(geographicPrefix)):
		return named("EPSG", s[len(geographicPrefix):], model.SRSURN, s)
	}
	for _, p := range urnPrefixes {
		if !strings.HasPrefix(lower, p) {
			continue
		}
		// authority:[version]:code
		parts := strings.Split(s[len(p):], ":")
		if len(parts) < 2 || len(parts) > 3 || !strings.EqualFold(parts[0], "EPSG") {
			return Name{}, fmt.Errorf("%w: %q", ErrSRSName, s)
		}
		return named("EPSG", parts[len(parts)-1], model.SRSURN, s)
	}
	if auth, code, ok := strings.Cut(s, ":"); ok && strings.EqualFold(auth, "EPSG") {
		return named("EPSG", code, model.SRSShort, s)
	}
	return Name{}, fmt.Errorf("%w: %q", ErrSRSName, s)
}

func named(auth, code string, form model.SRSForm, raw string) (Name, error) {
	if code == "" || strings.Trim(code, "0123456789") != "" {
		return Name{}, fmt.Errorf("%w: %q", ErrSRSName, raw)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return Name{}, fmt.Errorf("%w: %q", ErrSRSName, raw)
	}
	return Name{Auth: auth, Code: n, Form: form}, nil
}

// Axis fixes the output naming and axis order of s. An explicit srsName
// keeps the form it was written in; otherwise GML 3.1.1 and WFS 1.1.0
// default to the long URN form. Lat/long order is used only for degree
// based CRS written in URN form under GML 3.1.1.
func Axis(s model.SRS, f model.Format, v model.Version, explicit bool) model.SRS {
	if explicit {
		s.LongForm = s.Form != model.SRSShort
	} else {
		s.LongForm = f == model.FormatGML311 || v == model.V110
		if s.LongForm {
			s.Form = model.SRSURN
		}
	}
	s.ReverseAxis = f == model.FormatGML311 && s.Form == model.SRSURN && s.IsDegree
	return s
}

type cacheKey struct {
	auth string
	code int
}

// Resolver looks up spatial_ref_sys rows through an LRU cache.
type Resolver struct {
	db     store.DB
	bySRID *lru.Cache[int, model.SRS]
	byAuth *lru.Cache[cacheKey, model.SRS]
}

func NewResolver(db store.DB, size int) *Resolver {
	if size <= 0 {
		size = 256
	}
	a, _ := lru.New[int, model.SRS](size)
	b, _ := lru.New[cacheKey, model.SRS](size)
	return &Resolver{db: db, bySRID: a, byAuth: b}
}

const srsColumns = `SELECT srid, auth_name, auth_srid, proj4text LIKE '%units=m%' AS metric FROM spatial_ref_sys`

// BySRID resolves a store SRID. Non-positive SRIDs are the unknown CRS and
// are treated as degree based.
func (r *Resolver) BySRID(ctx context.Context, srid int) (model.SRS, error) {
	if srid <= 0 {
		return model.SRS{SRID: srid, IsDegree: true}, nil
	}
	if s, ok := r.bySRID.Get(srid); ok {
		return s, nil
	}
	s, err := r.query(ctx, srsColumns+` WHERE srid = $1`, srid)
	if err != nil {
		return model.SRS{}, fmt.Errorf("srid %d: %w", srid, err)
	}
	r.bySRID.Add(srid, s)
	return s, nil
}

// ByAuthority resolves an authority code such as EPSG:4326.
func (r *Resolver) ByAuthority(ctx context.Context, auth string, code int) (model.SRS, error) {
	k := cacheKey{auth: strings.ToUpper(auth), code: code}
	if s, ok := r.byAuth.Get(k); ok {
		return s, nil
	}
	s, err := r.query(ctx, srsColumns+` WHERE upper(auth_name) = $1 AND auth_srid = $2`, k.auth, code)
	if err != nil {
		return model.SRS{}, fmt.Errorf("%s:%d: %w", auth, code, err)
	}
	r.byAuth.Add(k, s)
	return s, nil
}

// Resolve parses and looks up an srsName.
func (r *Resolver) Resolve(ctx context.Context, name string) (model.SRS, error) {
	n, err := ParseName(name)
	if err != nil {
		return model.SRS{}, err
	}
	s, err := r.ByAuthority(ctx, n.Auth, n.Code)
	if err != nil {
		return model.SRS{}, err
	}
	s.Form = n.Form
	return s, nil
}

func (r *Resolver) query(ctx context.Context, sql string, args ...any) (model.SRS, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return model.SRS{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.SRS{}, err
		}
		return model.SRS{}, ErrUnknownSRS
	}
	vals, err := rows.Values()
	if err != nil {
		return model.SRS{}, err
	}
	if len(vals) < 4 {
		return model.SRS{}, fmt.Errorf("spatial_ref_sys: %d columns", len(vals))
	}
	srid, err := store.ToInt64(vals[0])
	if err != nil {
		return model.SRS{}, err
	}
	code, err := store.ToInt64(vals[2])
	if err != nil {
		return model.SRS{}, err
	}
	auth, _ := vals[1].(string)
	metric, _ := vals[3].(bool)
	return model.SRS{
		SRID:     int(srid),
		AuthName: auth,
		AuthSRID: int(code),
		IsDegree: !metric,
	}, nil
}
