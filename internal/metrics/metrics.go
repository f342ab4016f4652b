// Package metrics exposes engine operation metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"groupdrive/internal/domain"
)

// EngineMetrics счётчики операций движка
type EngineMetrics interface {
	// ObserveOperation учитывает завершённую операцию и её длительность
	ObserveOperation(operation string, started time.Time, err error)
	// ObservePurge учитывает окончательно удалённый элемент корзины
	ObservePurge(archived bool)
}

// NewNoop реализация, которая ничего не записывает
func NewNoop() EngineMetrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Time, error) {}
func (noopMetrics) ObservePurge(bool)                         {}

type engineMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	purged     *prometheus.CounterVec
}

// New регистрирует метрики движка в reg
func New(reg prometheus.Registerer) EngineMetrics {
	return &engineMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupdrive_operations_total",
				Help: "Total number of engine operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "groupdrive_operation_duration_seconds",
				Help: "Duration of engine operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					1,     // 1s
					10,    // 10s
				},
			},
			[]string{"operation"},
		),
		purged: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupdrive_trash_purged_total",
				Help: "Total number of trash entries removed permanently",
			},
			[]string{"archived"},
		),
	}
}

func (m *engineMetrics) ObserveOperation(operation string, started time.Time, err error) {
	m.operations.WithLabelValues(operation, Status(err)).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *engineMetrics) ObservePurge(archived bool) {
	label := "false"
	if archived {
		label = "true"
	}
	m.purged.WithLabelValues(label).Inc()
}

// Status метка статуса операции по категории ошибки
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, domain.ErrSandboxViolation) {
		return "sandbox_violation"
	}
	return domain.KindOf(err).String()
}
