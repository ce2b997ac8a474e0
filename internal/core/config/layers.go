package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type ServiceInfo struct {
	Title             string   `mapstructure:"title"`
	Abstract          string   `mapstructure:"abstract"`
	Keywords          []string `mapstructure:"keywords"`
	Fees              string   `mapstructure:"fees"`
	AccessConstraints string   `mapstructure:"access_constraints"`
}

type LayerConfig struct {
	Name        string   `mapstructure:"name"`
	Title       string   `mapstructure:"title"`
	Abstract    string   `mapstructure:"abstract"`
	Prefix      string   `mapstructure:"prefix"`
	Namespace   string   `mapstructure:"namespace"`
	Schema      string   `mapstructure:"schema"`
	Table       string   `mapstructure:"table"`
	Retrievable *bool    `mapstructure:"retrievable"`
	Writable    bool     `mapstructure:"writable"`
	Exclude     []string `mapstructure:"exclude"`
	// SRID overrides geometry_columns when non-zero.
	SRID int `mapstructure:"srid"`
}

// IsRetrievable defaults to true when unset.
func (l LayerConfig) IsRetrievable() bool {
	return l.Retrievable == nil || *l.Retrievable
}

// Catalog is the published service and layer list.
type Catalog struct {
	Service ServiceInfo   `mapstructure:"service"`
	Layers  []LayerConfig `mapstructure:"layers"`
}

// LoadCatalog reads the layer catalog file; the format follows the file
// extension (yaml, json, toml).
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Catalog{}, errors.New("layers file is required")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("service.title", "pgwfs")
	if err := v.ReadInConfig(); err != nil {
		return Catalog{}, fmt.Errorf("read layers file %s: %w", path, err)
	}
	var c Catalog
	if err := v.Unmarshal(&c); err != nil {
		return Catalog{}, fmt.Errorf("decode layers file %s: %w", path, err)
	}
	if err := c.normalize(); err != nil {
		return Catalog{}, fmt.Errorf("layers file %s: %w", path, err)
	}
	return c, nil
}

func (c *Catalog) normalize() error {
	seen := make(map[string]bool, len(c.Layers))
	for i := range c.Layers {
		l := &c.Layers[i]
		l.Name = strings.TrimSpace(l.Name)
		if l.Name == "" {
			return fmt.Errorf("layer %d: name is required", i)
		}
		if strings.ContainsAny(l.Name, ":,() ") {
			return fmt.Errorf("layer %q: name contains a reserved character", l.Name)
		}
		if seen[l.Name] {
			return fmt.Errorf("layer %q: duplicate name", l.Name)
		}
		seen[l.Name] = true
		if l.Schema == "" {
			l.Schema = "public"
		}
		if l.Table == "" {
			l.Table = l.Name
		}
		if l.Title == "" {
			l.Title = l.Name
		}
	}
	return nil
}
