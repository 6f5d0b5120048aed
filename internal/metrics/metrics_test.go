package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func createTestMetrics() *Metrics {
	return New("test", prometheus.NewRegistry())
}

func TestRecordHTTPRequest(t *testing.T) {
	m := createTestMetrics()

	m.RecordHTTPRequest("POST", "/api/generate", 200, 100*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/generate", 200, 200*time.Millisecond)
	m.RecordHTTPRequest("POST", "/api/generate", 409, time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/generate", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/generate", "409")))
}

func TestGenerationCounters(t *testing.T) {
	m := createTestMetrics()

	m.GenerationStarted()
	m.GenerationStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.GenerationsInFlight))

	m.GenerationFinished()
	m.RecordGeneration("succeeded", time.Second)
	m.RecordRejection("busy")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.GenerationsInFlight))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("busy")))
}

func TestPersistCounters(t *testing.T) {
	m := createTestMetrics()

	m.RecordPersist("stored", 1)
	m.RecordPersist("degraded", 3)
	m.RecordResync(4)
	m.SetBreakerState("openai", 2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PersistTotal.WithLabelValues("stored")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PersistTotal.WithLabelValues("degraded")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.ResyncedTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ProviderBreakerState.WithLabelValues("openai")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		m.RecordGeneration("failed", time.Second)
		m.RecordRejection("rejected")
		m.GenerationStarted()
		m.GenerationFinished()
		m.SetBreakerState("openai", 0)
		m.RecordPersist("stored", 1)
		m.RecordResync(1)
	})
}
