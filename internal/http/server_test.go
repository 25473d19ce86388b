package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/plannerd/internal/store"
)

type stubStatus struct {
	counts store.Counts
	err    error
}

func (s *stubStatus) Counts(context.Context) (store.Counts, error) {
	return s.counts, s.err
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid options", func(t *testing.T) {
		srv, err := NewServer(Options{Logger: zap.NewNop()})
		require.NoError(t, err)
		assert.NotNil(t, srv)
		assert.NotNil(t, srv.Echo())
	})

	t.Run("applies port and shutdown defaults", func(t *testing.T) {
		srv, err := NewServer(Options{Logger: zap.NewNop()})
		require.NoError(t, err)
		assert.Equal(t, 8484, srv.config.Port)
		assert.Equal(t, 10*time.Second, srv.config.ShutdownTimeout)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})
}

func TestServer_Health(t *testing.T) {
	srv, err := NewServer(Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "plannerd", resp.Service)
}

func TestServer_Status(t *testing.T) {
	srv, err := NewServer(Options{
		Logger:  zap.NewNop(),
		Status:  &stubStatus{counts: store.Counts{Users: 2, Items: 5, Flows: 1, Links: 1}},
		Version: "1.2.3",
		Services: map[string]string{
			"calendar":   "google",
			"classifier": "heuristic",
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "google", resp.Services["calendar"])
	require.NotNil(t, resp.Counts)
	assert.Equal(t, 5, resp.Counts.Items)
}

func TestServer_Status_DegradesOnCountError(t *testing.T) {
	srv, err := NewServer(Options{
		Logger: zap.NewNop(),
		Status: &stubStatus{err: errors.New("database is locked")},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Nil(t, resp.Counts)
}

func TestServer_Status_WithoutSourceOmitsCounts(t *testing.T) {
	srv, err := NewServer(Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "counts")
}
