package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/store"
)

const (
	sqlTableExists = `SELECT 1 FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'v', 'm', 'p', 'f')`

	sqlColumns = `SELECT a.attname, t.typname, a.attnotnull FROM pg_catalog.pg_attribute a
JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

	sqlPrimaryKey = `SELECT a.attname FROM pg_catalog.pg_constraint k
JOIN pg_catalog.pg_class c ON c.oid = k.conrelid
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.conkey[1]
WHERE k.contype = 'p' AND n.nspname = $1 AND c.relname = $2`

	sqlGeometryColumns = `SELECT f_geometry_column, srid FROM geometry_columns
WHERE f_table_schema = $1 AND f_table_name = $2`
)

// SRSLookup reports unit metadata for an SRID.
type SRSLookup interface {
	BySRID(ctx context.Context, srid int) (model.SRS, error)
}

// Loader introspects the catalog for the configured layers.
type Loader struct {
	db     store.DB
	srs    SRSLookup
	logger *slog.Logger
}

func NewLoader(db store.DB, srs SRSLookup, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{db: db, srs: srs, logger: logger}
}

// Load builds a snapshot. A configured layer without a table is kept with
// Storage=false so requests report it as undefined.
func (l *Loader) Load(ctx context.Context, cat config.Catalog) (*Snapshot, error) {
	layers := make([]model.LayerSchema, 0, len(cat.Layers))
	for _, lc := range cat.Layers {
		ls, err := l.layer(ctx, lc)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", lc.Name, err)
		}
		if !ls.Storage {
			l.logger.Warn("layer table not found", "layer", lc.Name, "schema", lc.Schema, "table", lc.Table)
		}
		layers = append(layers, ls)
	}
	return NewSnapshot(cat.Service, layers), nil
}

func (l *Loader) layer(ctx context.Context, lc config.LayerConfig) (model.LayerSchema, error) {
	ls := model.LayerSchema{
		Name:        lc.Name,
		Title:       lc.Title,
		Abstract:    lc.Abstract,
		Prefix:      lc.Prefix,
		Namespace:   lc.Namespace,
		DBSchema:    lc.Schema,
		Table:       lc.Table,
		Retrievable: lc.IsRetrievable(),
		Writable:    lc.Writable,
		Exclude:     lc.Exclude,
	}

	found, err := l.exists(ctx, lc.Schema, lc.Table)
	if err != nil || !found {
		return ls, err
	}
	ls.Storage = true

	if ls.Columns, err = l.columns(ctx, lc.Schema, lc.Table); err != nil {
		return ls, err
	}
	if ls.PrimaryKey, err = l.primaryKey(ctx, lc.Schema, lc.Table); err != nil {
		return ls, err
	}
	for _, c := range ls.Columns {
		if c.Type == model.TypeGeometry {
			ls.GeomCols = append(ls.GeomCols, c.Name)
		}
	}
	if ls.SRID, err = l.srid(ctx, lc.Schema, lc.Table); err != nil {
		return ls, err
	}
	if lc.SRID != 0 {
		ls.SRID = lc.SRID
	}

	ls.IsDegree = true
	if ls.SRID > 0 && l.srs != nil {
		s, err := l.srs.BySRID(ctx, ls.SRID)
		if err != nil {
			return ls, err
		}
		ls.IsDegree = s.IsDegree
	}
	return ls, nil
}

func (l *Loader) exists(ctx context.Context, schema, table string) (bool, error) {
	rows, err := l.db.Query(ctx, sqlTableExists, schema, table)
	if err != nil {
		return false, fmt.Errorf("table lookup: %w", err)
	}
	defer rows.Close()
	found := rows.Next()
	return found, rows.Err()
}

func (l *Loader) columns(ctx context.Context, schema, table string) ([]model.Column, error) {
	rows, err := l.db.Query(ctx, sqlColumns, schema, table)
	if err != nil {
		return nil, fmt.Errorf("column lookup: %w", err)
	}
	defer rows.Close()
	var out []model.Column
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("column row: %w", err)
		}
		if len(vals) < 3 {
			return nil, fmt.Errorf("column row: %d values", len(vals))
		}
		name, _ := vals[0].(string)
		typ, _ := vals[1].(string)
		notNull, _ := vals[2].(bool)
		out = append(out, model.Column{Name: name, Type: SemanticType(typ), PGType: typ, NotNull: notNull})
	}
	return out, rows.Err()
}

func (l *Loader) primaryKey(ctx context.Context, schema, table string) (string, error) {
	rows, err := l.db.Query(ctx, sqlPrimaryKey, schema, table)
	if err != nil {
		return "", fmt.Errorf("primary key lookup: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return "", rows.Err()
	}
	vals, err := rows.Values()
	if err != nil || len(vals) == 0 {
		return "", err
	}
	pk, _ := vals[0].(string)
	return pk, nil
}

func (l *Loader) srid(ctx context.Context, schema, table string) (int, error) {
	rows, err := l.db.Query(ctx, sqlGeometryColumns, schema, table)
	if err != nil {
		return 0, fmt.Errorf("geometry_columns lookup: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, rows.Err()
	}
	vals, err := rows.Values()
	if err != nil || len(vals) < 2 {
		return 0, err
	}
	n, err := store.ToInt64(vals[1])
	return int(n), err
}

// SemanticType maps a PostgreSQL type name onto the column kinds the
// serializers distinguish.
func SemanticType(pg string) model.ColumnType {
	switch pg {
	case "geometry", "geography":
		return model.TypeGeometry
	case "int2", "int4", "int8", "oid":
		return model.TypeInteger
	case "float4", "float8", "numeric":
		return model.TypeFloat
	case "bool":
		return model.TypeBoolean
	case "timestamp", "timestamptz", "date", "time", "timetz":
		return model.TypeTimestamp
	default:
		return model.TypeText
	}
}
