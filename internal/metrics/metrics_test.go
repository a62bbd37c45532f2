package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func bootstrap(t *testing.T) *Metrics {
	reg := prometheus.NewRegistry()
	m, err := New(reg, reg)
	require.NoError(t, err)
	return m
}

func TestRecordCommand(t *testing.T) {
	m := bootstrap(t)

	m.RecordCommand("auth", "loginWithEmail", nil)
	m.RecordCommand("auth", "loginWithEmail", errors.New("invalid email or password"))
	m.RecordCommand("auth", "loginWithEmail", errors.New("invalid email or password"))

	require.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("auth", "loginWithEmail", OutcomeOK)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("auth", "loginWithEmail", OutcomeError)))
}

func TestObserveRequest(t *testing.T) {
	m := bootstrap(t)

	m.ObserveRequest("/api/channels/add", http.StatusCreated)
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/channels/add", "201")))
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, reg)
	require.NoError(t, err)
	_, err = New(reg, reg)
	require.Error(t, err)
}

func TestHandler(t *testing.T) {
	m, err := NewRegistry()
	require.NoError(t, err)
	m.RecordCommand("channel", "createChannel", nil)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `dabubble_commands_total{command="createChannel",outcome="ok",store="channel"} 1`)
	require.Contains(t, rr.Body.String(), "go_goroutines")
}
