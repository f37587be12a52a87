package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(t *testing.T, s *Ops, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHealthzAlwaysOK(t *testing.T) {
	s := NewOps(OpsConfig{}, nil, nil)
	rec := probe(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyzReflectsDependencies(t *testing.T) {
	var down bool
	ready := func(context.Context) error {
		if down {
			return errors.New("store unreachable")
		}
		return nil
	}
	s := NewOps(OpsConfig{}, ready, nil)

	rec := probe(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	down = true
	rec = probe(t, s, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())
}

func TestMetricsEndpointServesPrometheus(t *testing.T) {
	s := NewOps(OpsConfig{}, nil, nil)
	rec := probe(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	// The registry always carries the Go runtime collectors.
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
