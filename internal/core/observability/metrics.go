// Package observability holds the service's Prometheus metric families.
package observability

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	wfsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_requests_total",
			Help: "WFS operations by outcome.",
		},
		[]string{"operation", "outcome"},
	)

	wfsFeaturesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_features_returned_total",
			Help: "Features serialized per layer.",
		},
		[]string{"layer"},
	)

	sqlDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sql_duration_seconds",
			Help:    "Latency of backing store statements in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"kind", "result"},
	)

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Latency of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Response cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Change events applied by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedKeysTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidated_keys_total",
			Help: "Cached responses dropped by change events.",
		},
	)

	invalidationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invalidation_duration_seconds",
			Help:    "Time to apply one change event.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"op"},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	registryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schema_registry_reloads_total",
			Help: "Schema registry rebuilds by result.",
		},
		[]string{"result"},
	)

	registryLayers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schema_registry_layers",
			Help: "Layers with storage in the current registry snapshot.",
		},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		wfsRequestsTotal, wfsFeaturesTotal, sqlDurationSeconds,
		cacheOpTotal, cacheOpDuration, cacheResults,
		invalidationsTotal, invalidatedKeysTotal, invalidationDuration,
		kafkaConsumerErrors, registryReloads, registryLayers,
	}
}

// Init additionally exposes every family on reg, e.g. the dedicated
// registry of the metrics listener. Build info is left out since that
// registry carries its own app_build_info.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveOperation counts one WFS operation; outcome is ok, client_error
// or server_error.
func ObserveOperation(operation, outcome string) {
	if operation == "" {
		operation = "unknown"
	}
	wfsRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

func AddFeatures(layer string, n int) {
	if n <= 0 {
		return
	}
	wfsFeaturesTotal.WithLabelValues(layer).Add(float64(n))
}

func ObserveSQL(kind string, err error, durationSeconds float64) {
	sqlDurationSeconds.WithLabelValues(kind, result(err)).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	cacheOpTotal.WithLabelValues(op, result(err)).Inc()
	cacheOpDuration.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveInvalidation(op string, keys int, d time.Duration, err error) {
	invalidationsTotal.WithLabelValues(op, result(err)).Inc()
	invalidationDuration.WithLabelValues(op).Observe(d.Seconds())
	if err == nil && keys > 0 {
		invalidatedKeysTotal.Add(float64(keys))
	}
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ObserveRegistryReload(err error, layers int) {
	registryReloads.WithLabelValues(result(err)).Inc()
	if err == nil {
		registryLayers.Set(float64(layers))
	}
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
