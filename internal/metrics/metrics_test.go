package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupdrive/internal/domain"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("%w: a.txt", domain.ErrNotFound), "client"},
		{domain.ErrProtectedPath, "forbidden"},
		{fmt.Errorf("resolve: %w", domain.ErrSandboxViolation), "sandbox_violation"},
		{errors.New("disk on fire"), "internal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Status(tt.err))
	}
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg).(*engineMetrics)

	m.ObserveOperation("delete", time.Now(), nil)
	m.ObserveOperation("delete", time.Now(), domain.ErrForbidden)
	m.ObserveOperation("delete", time.Now(), nil)
	m.ObservePurge(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("delete", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("delete", "forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.purged.WithLabelValues("true")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 3)
}

func TestNoop(t *testing.T) {
	m := NewNoop()
	m.ObserveOperation("list", time.Now(), nil)
	m.ObservePurge(false)
}
