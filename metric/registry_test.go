package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndScrape(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "collarkit",
		Subsystem: "test",
		Name:      "events_total",
		Help:      "Test counter",
	})
	require.NoError(t, r.Register("test", "events", counter))
	counter.Add(3)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "collarkit_test_events_total 3")
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup2_total"})

	require.NoError(t, r.Register("stream", "frames", c1))
	err := r.Register("stream", "frames", c2)
	assert.Error(t, err)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewGauge(prometheus.GaugeOpts{Name: "connected"})
	require.NoError(t, r.Register("stream", "connected", c))

	assert.True(t, r.Unregister("stream", "connected"))
	assert.False(t, r.Unregister("stream", "connected"))

	// Name is free again after unregistration
	assert.NoError(t, r.Register("stream", "connected", c))
}
