package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRequest("get", OutcomeSuccess)
	m.ObserveRequest("get", OutcomeSuccess)
	m.ObserveRequest("set", OutcomeError)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("get", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("set", OutcomeError)))

	m.ObservePollTick("getbulk", OutcomeEmpty)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollTicks.WithLabelValues("getbulk", OutcomeEmpty)))

	m.IncTrapsReceived()
	m.IncTrapErrors("decode")
	m.IncSubscriberDrops()
	m.IncForwarded()
	m.IncForwardErrors()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrapsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrapErrors.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubscriberDrops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwardedRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwardErrors))
}

func TestGauges(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsOpen))

	m.SetTrapSubscribers(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrapSubscribers))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("get", OutcomeSuccess)
		m.ObservePollTick("get", OutcomeError)
		m.IncTrapsReceived()
		m.IncTrapErrors("panic")
		m.SetTrapSubscribers(1)
		m.SessionOpened()
		m.SessionClosed()
		m.IncForwardErrors()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncTrapsReceived()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "snmpgateway_traps_received_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.IncTrapsReceived()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TrapsReceived))
	assert.NotSame(t, a.Registry(), b.Registry())
}
