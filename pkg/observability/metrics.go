package observability

import (
	"sync"
	"time"
)

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	RecordCounter(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordTimer(name string, duration time.Duration, labels map[string]string)

	RecordCacheOperation(operation string, success bool, durationSeconds float64)
	RecordDatabaseOperation(operation string, success bool, durationSeconds float64)
	RecordProviderOperation(provider string, operation string, success bool, durationSeconds float64)

	Close() error
}

// metricsClient is an in-process metrics client. Counters are kept in
// memory; the surrounding application layer reads them through Snapshot.
type metricsClient struct {
	mu       sync.RWMutex
	enabled  bool
	counters map[string]float64
	gauges   map[string]float64
}

// MetricsOptions contains configuration options for creating a metrics client
type MetricsOptions struct {
	Enabled bool
}

// NewMetricsClient creates a new metrics client with default options
func NewMetricsClient() MetricsClient {
	return NewMetricsClientWithOptions(MetricsOptions{Enabled: true})
}

// NewMetricsClientWithOptions creates a new metrics client with specific options
func NewMetricsClientWithOptions(options MetricsOptions) MetricsClient {
	return &metricsClient{
		enabled:  options.Enabled,
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

// RecordCounter increments a counter metric by a given value
func (m *metricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.counters[metricKey(name, labels)] += value
	m.mu.Unlock()
}

// RecordGauge sets a gauge metric to a given value
func (m *metricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.gauges[metricKey(name, labels)] = value
	m.mu.Unlock()
}

// RecordTimer records a duration metric
func (m *metricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	m.RecordGauge(name+"_seconds", duration.Seconds(), labels)
}

// RecordCacheOperation records a cache operation metric
func (m *metricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
	m.recordOperation("cache", operation, success, durationSeconds)
}

// RecordDatabaseOperation records a database operation metric
func (m *metricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
	m.recordOperation("database", operation, success, durationSeconds)
}

// RecordProviderOperation records an embedding provider operation metric
func (m *metricsClient) RecordProviderOperation(provider string, operation string, success bool, durationSeconds float64) {
	m.recordOperation("provider_"+provider, operation, success, durationSeconds)
}

func (m *metricsClient) recordOperation(component, operation string, success bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	labels := map[string]string{"operation": operation, "status": status}
	m.RecordCounter(component+"_operations_total", 1.0, labels)
	m.RecordGauge(component+"_operation_duration_seconds", durationSeconds, labels)
}

// Snapshot returns a copy of the current counter values
func (m *metricsClient) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]float64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// Close implements MetricsClient.Close
func (m *metricsClient) Close() error {
	return nil
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	// Fixed label order keeps keys stable across calls.
	key := name
	for _, k := range []string{"operation", "status", "domain", "collection"} {
		if v, ok := labels[k]; ok {
			key += "|" + k + "=" + v
		}
	}
	return key
}

// NoopMetricsClient is a metrics client that does nothing
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a new NoopMetricsClient
func NewNoopMetricsClient() MetricsClient {
	return &NoopMetricsClient{}
}

// RecordCounter implements MetricsClient.RecordCounter
func (m *NoopMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {}

// RecordGauge implements MetricsClient.RecordGauge
func (m *NoopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}

// RecordTimer implements MetricsClient.RecordTimer
func (m *NoopMetricsClient) RecordTimer(name string, duration time.Duration, labels map[string]string) {
}

// RecordCacheOperation implements MetricsClient.RecordCacheOperation
func (m *NoopMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
}

// RecordDatabaseOperation implements MetricsClient.RecordDatabaseOperation
func (m *NoopMetricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
}

// RecordProviderOperation implements MetricsClient.RecordProviderOperation
func (m *NoopMetricsClient) RecordProviderOperation(provider string, operation string, success bool, durationSeconds float64) {
}

// Close implements MetricsClient.Close
func (m *NoopMetricsClient) Close() error { return nil }
