package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.ObserveRequest(http.MethodPost, "/auth/login", http.StatusOK, 10*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/auth/login", http.StatusUnauthorized, time.Millisecond)
	m.TokenIssued("access")
	m.TokenIssued("access")
	m.TokenIssued("refresh")
	m.AuthRejected("invalid_token")
	m.TouchFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestCounter.WithLabelValues("POST", "/auth/login", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestCounter.WithLabelValues("POST", "/auth/login", "401")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("access")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authRejections.WithLabelValues("invalid_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.touchFailures))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "auth_tokens_issued_total")
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestNewMetrics_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, false).Debug("hidden")
	assert.Zero(t, buf.Len())

	NewLogger(&buf, true).Debug("shown", "user_id", "1")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "1", line["user_id"])
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "auth-service", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
