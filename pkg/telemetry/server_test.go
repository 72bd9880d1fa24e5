package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func get(t *testing.T, mux *http.ServeMux, path string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code
}

func TestMux_AlwaysReadyWithoutCheck(t *testing.T) {
	mux := newMux(nil)
	assert.Equal(t, http.StatusOK, get(t, mux, "/healthz"))
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz"))
	assert.Equal(t, http.StatusOK, get(t, mux, "/metrics"))
}

func TestMux_ReadinessFollowsCheck(t *testing.T) {
	ready := false
	mux := newMux(func() bool { return ready })

	// A standby waiting for the leader lock reports not-ready but healthy.
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/readyz"))
	assert.Equal(t, http.StatusOK, get(t, mux, "/healthz"))

	ready = true
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz"))
}
