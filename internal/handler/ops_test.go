package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupdrive/internal/domain"
	"groupdrive/internal/testutil"
)

type stubPinger struct {
	err error
}

func (p stubPinger) PingContext(context.Context) error {
	return p.err
}

func serve(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	h := NewOpsHandler(stubPinger{}, nil, testutil.DiscardLogger()).Router()

	rec := serve(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())

	// без реестра метрики не публикуются
	rec = serve(t, h, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadinessDatabaseDown(t *testing.T) {
	h := NewOpsHandler(stubPinger{err: errors.New("connection refused")}, nil, testutil.DiscardLogger()).Router()

	rec := serve(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "groupdrive_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewOpsHandler(stubPinger{}, reg, testutil.DiscardLogger()).Router()
	rec := serve(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "groupdrive_test_total 1"))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: file a.txt", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: folder b", domain.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: empty name", domain.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: need WRITE", domain.ErrForbidden), http.StatusForbidden},
		{domain.ErrSandboxViolation, http.StatusForbidden},
		{domain.ErrProtectedPath, http.StatusForbidden},
		{domain.Internal("move", errors.New("disk full")), http.StatusInternalServerError},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), "%v", tt.err)
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, domain.Internal("move", errors.New("/data/root/secret: disk full")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("%w: file a.txt", domain.ErrNotFound))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found: file a.txt"}`, rec.Body.String())
}
