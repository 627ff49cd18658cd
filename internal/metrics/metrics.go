// Package metrics provides Prometheus metrics for reviewcore.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	RevisionConflictsTotal *prometheus.CounterVec

	SlugResolutionsTotal   *prometheus.CounterVec
	SlugCacheRequestsTotal *prometheus.CounterVec

	MetadataLookupsTotal *prometheus.CounterVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{}

	m.StoreOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewcore_store_operations_total",
			Help: "Total number of document store operations",
		},
		[]string{"table", "operation", "status"},
	)
	m.StoreOperationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reviewcore_store_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table", "operation"},
	)
	m.RevisionConflictsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewcore_revision_conflicts_total",
			Help: "Saves rejected because the predecessor revision was no longer current",
		},
		[]string{"table"},
	)
	m.SlugResolutionsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewcore_slug_resolutions_total",
			Help: "Slug resolutions by outcome (match, redirect, not_found)",
		},
		[]string{"outcome"},
	)
	m.SlugCacheRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewcore_slug_cache_requests_total",
			Help: "Slug cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
	m.MetadataLookupsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reviewcore_metadata_lookups_total",
			Help: "Metadata adapter lookups by source and status",
		},
		[]string{"source", "status"},
	)
	return m
}

// ObserveStoreOp records the outcome and duration of one store operation.
func (m *Metrics) ObserveStoreOp(table, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(table, operation, status(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(table, operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RevisionConflict(table string) {
	if m == nil {
		return
	}
	m.RevisionConflictsTotal.WithLabelValues(table).Inc()
}

func (m *Metrics) SlugResolution(outcome string) {
	if m == nil {
		return
	}
	m.SlugResolutionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SlugCache(result string) {
	if m == nil {
		return
	}
	m.SlugCacheRequestsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) MetadataLookup(source string, err error) {
	if m == nil {
		return
	}
	m.MetadataLookupsTotal.WithLabelValues(source, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
