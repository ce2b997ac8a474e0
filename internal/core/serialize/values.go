package serialize

import (
	"database/sql/driver"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/pgwfs/internal/core/model"
)

var (
	offsetHours   = regexp.MustCompile(`[+-]\d\d$`)
	offsetMinutes = regexp.MustCompile(`(Z|[+-]\d\d:\d\d)$`)
)

// isTimestamp reports the catalog types rendered as xsd date/dateTime.
func isTimestamp(c model.Column) bool {
	switch c.PGType {
	case "timestamptz", "timestamp", "datetime", "date":
		return true
	}
	return false
}

// ISOTimestamp turns a PostgreSQL text timestamp into ISO-8601: the space
// separator becomes T, a bare hour offset gets :00 and a value without any
// offset is taken as UTC.
func ISOTimestamp(s string) string {
	s = strings.Replace(strings.TrimSpace(s), " ", "T", 1)
	switch {
	case offsetMinutes.MatchString(s):
		return s
	case offsetHours.MatchString(s) && strings.Contains(s, "T"):
		return s + ":00"
	default:
		return s + "Z"
	}
}

func formatTime(c model.Column, t time.Time) string {
	switch c.PGType {
	case "date":
		return t.Format("2006-01-02")
	case "timestamptz":
		return t.Format(time.RFC3339Nano)
	default:
		return t.Format("2006-01-02T15:04:05.999999999") + "Z"
	}
}

// Text renders a non-geometry value as it appears in GML. ok is false for
// NULL and empty values, which are not written.
func Text(c model.Column, v any) (string, bool) {
	if dv, isValuer := v.(driver.Valuer); isValuer {
		var err error
		if v, err = dv.Value(); err != nil {
			return "", false
		}
	}
	var s string
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s = x
		switch {
		case c.Type == model.TypeBoolean:
			s = boolText(s)
		case isTimestamp(c) && s != "":
			s = ISOTimestamp(s)
		}
	case []byte:
		s = string(x)
	case bool:
		s = strconv.FormatBool(x)
	case time.Time:
		s = formatTime(c, x)
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		s = strconv.FormatInt(x, 10)
	case int32:
		s = strconv.FormatInt(int64(x), 10)
	case int16:
		s = strconv.FormatInt(int64(x), 10)
	case int:
		s = strconv.Itoa(x)
	default:
		s = fmt.Sprint(x)
	}
	return s, s != ""
}

func boolText(s string) string {
	switch s {
	case "t":
		return "true"
	case "f":
		return "false"
	}
	return s
}

// JSONValue keeps numbers and booleans typed for GeoJSON properties.
func JSONValue(c model.Column, v any) (any, bool) {
	if dv, isValuer := v.(driver.Valuer); isValuer {
		var err error
		if v, err = dv.Value(); err != nil {
			return nil, false
		}
	}
	switch x := v.(type) {
	case nil:
		return nil, false
	case bool, int, int16, int32, int64, float32, float64:
		return x, true
	case string:
		if c.Type == model.TypeBoolean && (x == "t" || x == "f") {
			return x == "t", true
		}
		if c.Type == model.TypeFloat {
			if f, err := strconv.ParseFloat(x, 64); err == nil {
				return f, true
			}
		}
	}
	return Text(c, v)
}

// Coord formats one coordinate with a fixed number of decimals.
func Coord(f float64, precision int) string {
	return strconv.FormatFloat(f, 'f', max(precision, 0), 64)
}
