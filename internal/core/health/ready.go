package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// pingTimeout bounds the database check of one probe.
const pingTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Readiness reports ready when the database answers and, if a change
// event consumer runs, it holds a partition assignment. The response cache
// is reported but never makes the service unready. cache and rr may be nil.
func Readiness(db, cache Pinger, rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string  `json:"status"`
			Database   string  `json:"database"`
			Cache      string  `json:"cache,omitempty"`
			Consumer   string  `json:"consumer,omitempty"`
			Partitions []int32 `json:"partitions,omitempty"`
		}
		out := resp{Status: "ready", Database: "ok"}

		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			out.Status, out.Database = "not_ready", "unreachable"
		}
		if cache != nil {
			out.Cache = "ok"
			if err := cache.Ping(ctx); err != nil {
				out.Cache = "unreachable"
			}
		}
		if rr != nil {
			ready, parts := rr.Readiness()
			out.Consumer = "assigned"
			out.Partitions = parts
			if !ready {
				out.Status, out.Consumer, out.Partitions = "not_ready", "unassigned", nil
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
