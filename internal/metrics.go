package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

var RecordOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gridbase_record_operations_total",
	Help: "The total number of record operations by kind",
}, []string{"operation"})

var SchemaOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gridbase_schema_operations_total",
	Help: "The total number of DDL operations by kind",
}, []string{"operation"})

var OperationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "gridbase_operation_duration_seconds",
	Help:    "The duration of engine operations",
	Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
})

var ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gridbase_validation_failures_total",
	Help: "The total number of requests rejected by validation",
})

var CacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gridbase_registry_cache_hits_total",
	Help: "The number of registry lookups served from cache",
})

var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gridbase_registry_cache_misses_total",
	Help: "The number of registry lookups that fell through to the store",
})

var PendingEvents = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "gridbase_pending_events",
	Help: "The number of change events waiting to publish",
})

var EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gridbase_events_published_total",
	Help: "The total number of change events published",
})

// SystemStats contains the metrics and system stats
type SystemStats struct {
	Metrics struct {
		RecordOperations   float64 `json:"recordOperations"`
		SchemaOperations   float64 `json:"schemaOperations"`
		OperationDuration  float64 `json:"operationDuration"`
		ValidationFailures float64 `json:"validationFailures"`
		CacheHits          float64 `json:"cacheHits"`
		CacheMisses        float64 `json:"cacheMisses"`
		PendingEvents      float64 `json:"pendingEvents"`
		EventsPublished    float64 `json:"eventsPublished"`
	} `json:"metrics"`
	Memory *mem.VirtualMemoryStat `json:"memory"`
	Load   *load.AvgStat          `json:"load"`
}

// collect calls the function for each metric associated with the Collector
func collect(col prometheus.Collector, do func(*dto.Metric)) {
	c := make(chan prometheus.Metric)
	go func(c chan prometheus.Metric) {
		col.Collect(c)
		close(c)
	}(c)
	for x := range c { // eg range across distinct label vector values
		m := dto.Metric{}
		_ = x.Write(&m)
		do(&m)
	}
}

// getMetricValue returns the sum of the Counter metrics associated with the Collector
// e.g. the metric for a non-vector, or the sum of the metrics for vector labels.
// If the metric is a Histogram then number of samples is used.
func getMetricValue(col prometheus.Collector) float64 {
	var total float64
	collect(col, func(m *dto.Metric) {
		if h := m.GetHistogram(); h != nil {
			total += float64(h.GetSampleCount())
		} else if g := m.GetGauge(); g != nil {
			total += g.GetValue()
		} else {
			total += m.GetCounter().GetValue()
		}
	})
	return total
}

// GetSystemStats returns a snapshot of the system stats
func GetSystemStats() (*SystemStats, error) {
	var s SystemStats
	var err error
	s.Metrics.RecordOperations = getMetricValue(RecordOperations)
	s.Metrics.SchemaOperations = getMetricValue(SchemaOperations)
	s.Metrics.OperationDuration = getMetricValue(OperationDuration)
	s.Metrics.ValidationFailures = getMetricValue(ValidationFailures)
	s.Metrics.CacheHits = getMetricValue(CacheHits)
	s.Metrics.CacheMisses = getMetricValue(CacheMisses)
	s.Metrics.PendingEvents = getMetricValue(PendingEvents)
	s.Metrics.EventsPublished = getMetricValue(EventsPublished)
	s.Memory, err = mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	s.Load, err = load.Avg()
	return &s, err
}
