package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounterAccumulates(t *testing.T) {
	m := NewMetricsClient().(*metricsClient)

	m.RecordCounter("requests", 1, nil)
	m.RecordCounter("requests", 2, nil)
	m.RecordCounter("requests", 1, map[string]string{"operation": "get"})

	snap := m.Snapshot()
	assert.Equal(t, 3.0, snap["requests"])
	assert.Equal(t, 1.0, snap["requests|operation=get"])
}

func TestMetricsOperationHelpers(t *testing.T) {
	m := NewMetricsClient().(*metricsClient)

	m.RecordCacheOperation("get", true, 0.001)
	m.RecordCacheOperation("get", false, 0.002)
	m.RecordDatabaseOperation("query", true, 0.01)

	snap := m.Snapshot()
	assert.Equal(t, 1.0, snap["cache_operations_total|operation=get|status=success"])
	assert.Equal(t, 1.0, snap["cache_operations_total|operation=get|status=failure"])
	assert.Equal(t, 1.0, snap["database_operations_total|operation=query|status=success"])
}

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	m := NewMetricsClientWithOptions(MetricsOptions{Enabled: false}).(*metricsClient)

	m.RecordCounter("requests", 1, nil)
	m.RecordTimer("latency", time.Second, nil)

	assert.Empty(t, m.Snapshot())
}

func TestNoopMetricsClient(t *testing.T) {
	m := NewNoopMetricsClient()

	m.RecordCounter("x", 1, nil)
	m.RecordProviderOperation("openai", "embed", true, 0.1)
	require.NoError(t, m.Close())
}
