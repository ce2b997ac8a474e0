// Package cache defines the response cache for GetFeature and
// DescribeFeatureType bodies.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	// Set stores val and records key under every layer it was built from.
	Set(ctx context.Context, key string, layers []string, val []byte, ttl time.Duration) error
	// InvalidateLayer drops every response recorded for layer and returns
	// how many were removed.
	InvalidateLayer(ctx context.Context, layer string) (int, error)
}
