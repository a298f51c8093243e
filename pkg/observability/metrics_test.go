package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_ObserveLoginAttempt(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveLoginAttempt("password", OutcomeSuccess, 100*time.Millisecond)
	m.ObserveLoginAttempt("password", OutcomeFailure, 200*time.Millisecond)
	m.ObserveLoginAttempt("github", OutcomeRejected, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("password", OutcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("password", OutcomeFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginAttemptsTotal.WithLabelValues("github", OutcomeRejected)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LoginAttemptDuration))
}

func TestMetrics_ObserveKVOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveKVOperation("get", "redis", nil, time.Millisecond)
	m.ObserveKVOperation("set", "redis", errors.New("timeout"), time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.KVOperationsTotal.WithLabelValues("get", "redis", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.KVOperationsTotal.WithLabelValues("set", "redis", "error")))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/login/{step}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login/github", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/login/{step}", "418")))
}
