package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTransition(t *testing.T) {
	m := New()
	m.ObserveTransition("Terjadwal", "Terkonfirmasi")
	m.ObserveTransition("Terjadwal", "Terkonfirmasi")
	m.ObserveTransition("Terkonfirmasi", "Siap Panggil")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("Terjadwal", "Terkonfirmasi")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Terkonfirmasi", "Siap Panggil")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveRejected("InvalidOrder")
	m.ObserveHandover()
	m.ActivityDropped()
	m.LiveEventDropped("ongoing-surgeries")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("InvalidOrder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveDropped.WithLabelValues("ongoing-surgeries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handovers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activityDropped))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("a", "b")
		m.ObserveRejected("x")
		m.ObserveHandover()
		m.ActivityDropped()
		m.LiveEventDropped("surgeries")
		m.ObserveHTTP(http.MethodGet, "/", 200, time.Millisecond)
	})
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/api/v1/surgeries", 200, 20*time.Millisecond)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, m.Handler()(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `orcoord_http_requests_total{method="GET",route="/api/v1/surgeries",status_code="200"} 1`)
	assert.Contains(t, body, "orcoord_http_request_duration_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}
