// Package schema publishes per-layer catalog metadata. A Snapshot is
// immutable; the Registry swaps snapshots when the catalog changes.
package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mohammed-shakir/pgwfs/internal/core/config"
	"github.com/mohammed-shakir/pgwfs/internal/core/model"
	"github.com/mohammed-shakir/pgwfs/internal/core/observability"
)

type Snapshot struct {
	Service config.ServiceInfo

	layers map[string]model.LayerSchema
	order  []string
}

func NewSnapshot(service config.ServiceInfo, layers []model.LayerSchema) *Snapshot {
	s := &Snapshot{
		Service: service,
		layers:  make(map[string]model.LayerSchema, len(layers)),
		order:   make([]string, 0, len(layers)),
	}
	for _, l := range layers {
		if _, dup := s.layers[l.Name]; !dup {
			s.order = append(s.order, l.Name)
		}
		s.layers[l.Name] = l
	}
	return s
}

// Lookup accepts a bare layer name or prefix:name with the layer's prefix.
func (s *Snapshot) Lookup(name string) (model.LayerSchema, bool) {
	name = strings.TrimSpace(name)
	if l, ok := s.layers[name]; ok {
		return l, true
	}
	prefix, local, ok := strings.Cut(name, ":")
	if !ok {
		return model.LayerSchema{}, false
	}
	l, found := s.layers[local]
	if !found || l.Prefix != prefix {
		return model.LayerSchema{}, false
	}
	return l, true
}

// ResolveOrdinal maps a 1-based column position to its name.
func (s *Snapshot) ResolveOrdinal(layer string, n int) (string, bool) {
	l, ok := s.Lookup(layer)
	if !ok {
		return "", false
	}
	return l.Ordinal(n)
}

// Layers returns every configured layer in catalog order.
func (s *Snapshot) Layers() []model.LayerSchema {
	out := make([]model.LayerSchema, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.layers[n])
	}
	return out
}

// Prefixes lists the distinct namespace prefixes, sorted.
func (s *Snapshot) Prefixes() []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range s.layers {
		if l.Prefix != "" && !seen[l.Prefix] {
			seen[l.Prefix] = true
			out = append(out, l.Prefix)
		}
	}
	sort.Strings(out)
	return out
}

// Namespaces maps prefix to namespace URI.
func (s *Snapshot) Namespaces() map[string]string {
	out := map[string]string{}
	for _, l := range s.layers {
		if l.Prefix != "" && l.Namespace != "" {
			out[l.Prefix] = l.Namespace
		}
	}
	return out
}

// StorageCount counts layers backed by a table.
func (s *Snapshot) StorageCount() int {
	n := 0
	for _, l := range s.layers {
		if l.Storage {
			n++
		}
	}
	return n
}

type LoadFunc func(ctx context.Context) (*Snapshot, error)

type Registry struct {
	cur  atomic.Pointer[Snapshot]
	load LoadFunc
	mu   sync.Mutex
}

// NewRegistry starts from initial; load is used by Reload and may be nil.
func NewRegistry(initial *Snapshot, load LoadFunc) *Registry {
	r := &Registry{load: load}
	if initial == nil {
		initial = NewSnapshot(config.ServiceInfo{}, nil)
	}
	r.cur.Store(initial)
	return r
}

// Snapshot returns the current view; callers keep it for a whole request.
func (r *Registry) Snapshot() *Snapshot {
	return r.cur.Load()
}

// Reload rebuilds the snapshot; the previous one stays active on error.
func (r *Registry) Reload(ctx context.Context) error {
	if r.load == nil {
		return errors.New("schema registry: no loader")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.load(ctx)
	if err != nil {
		observability.ObserveRegistryReload(err, 0)
		return fmt.Errorf("reload schema registry: %w", err)
	}
	r.cur.Store(s)
	observability.ObserveRegistryReload(nil, s.StorageCount())
	return nil
}
