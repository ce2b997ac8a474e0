package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

type InvalidationCfg struct {
	Enabled bool
	Driver  string
	Topic   string
	Brokers string
	GroupID string
	Publish bool
}

type CacheCfg struct {
	Enabled   bool
	RedisAddr string
	TTL       time.Duration
	TTLOvr    map[string]time.Duration
	OpTimeout time.Duration
	// MaxBytes is the largest response body stored.
	MaxBytes int
}

// WFSCfg carries the server-wide protocol defaults.
type WFSCfg struct {
	DefaultVersion  string
	OnlineResource  string
	DegreePrecision int
	MeterPrecision  int
	MaxFeatures     int
	// MaxGeoBBox limits every query to this EPSG:4326 extent when set.
	MaxGeoBBox     *orb.Bound
	DisplayBBox    bool
	ExposePK       bool
	CheckValidGeom bool
}

type Config struct {
	Addr         string
	LogLevel     string
	PGDSN        string
	PGMaxConns   int
	LayersFile   string
	SRSCacheSize int
	WFS          WFSCfg
	Cache        CacheCfg
	Invalidation InvalidationCfg
}

func FromEnv() Config {
	maxBox, err := ParseBounds(getenv("WFS_MAX_GEOBBOX", ""))
	if err != nil {
		maxBox = nil
	}
	return Config{
		Addr:         getenv("ADDR", ":8090"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		PGDSN:        getenv("PG_DSN", "postgres://localhost:5432/postgres"),
		PGMaxConns:   getint("PG_MAX_CONNS", 8),
		LayersFile:   getenv("LAYERS_FILE", "layers.yaml"),
		SRSCacheSize: getint("SRS_CACHE_SIZE", 256),
		WFS: WFSCfg{
			DefaultVersion:  getenv("WFS_DEFAULT_VERSION", "1.1.0"),
			OnlineResource:  getenv("WFS_ONLINE_RESOURCE", "http://localhost:8090/wfs"),
			DegreePrecision: getint("WFS_DEGREE_PRECISION", 6),
			MeterPrecision:  getint("WFS_METER_PRECISION", 0),
			MaxFeatures:     getint("WFS_MAX_FEATURES", 0),
			MaxGeoBBox:      maxBox,
			DisplayBBox:     getbool("WFS_DISPLAY_BBOX", true),
			ExposePK:        getbool("WFS_EXPOSE_PK", false),
			CheckValidGeom:  getbool("WFS_CHECK_VALID_GEOM", true),
		},
		Cache: CacheCfg{
			Enabled:   getbool("CACHE_ENABLED", false),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("CACHE_TTL_DEFAULT", 60*time.Second),
			TTLOvr:    parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			MaxBytes:  getint("CACHE_MAX_BYTES", 4<<20),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "wfs-changes"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "pgwfs"),
			Publish: getbool("PUBLISH_CHANGES", false),
		},
	}
}

// TTLFor returns the cache TTL for a layer.
func (c CacheCfg) TTLFor(layer string) time.Duration {
	if d, ok := c.TTLOvr[layer]; ok {
		return d
	}
	return c.TTL
}

// ParseBounds reads "xmin,ymin,xmax,ymax"; empty input yields nil.
func ParseBounds(s string) (*orb.Bound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bounds %q: expected 4 values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return nil, fmt.Errorf("bounds %q: min exceeds max", s)
	}
	return &orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "layer=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			out[k] = d
		}
	}
	return out
}
