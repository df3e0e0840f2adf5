package paysaga

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors of the saga engine.
type Metrics struct {
	SagasStarted      prometheus.Counter
	SagasFinished     *prometheus.CounterVec
	ActivityAttempts  *prometheus.CounterVec
	ActivityDuration  *prometheus.HistogramVec
	CompensationFails prometheus.Counter
	PendingApprovals  prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SagasStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paysaga",
			Name:      "sagas_started_total",
			Help:      "Total number of payment sagas started",
		}),
		SagasFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paysaga",
			Name:      "sagas_finished_total",
			Help:      "Total number of payment sagas that reached a terminal status",
		}, []string{"status"}),
		ActivityAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paysaga",
			Name:      "activity_attempts_total",
			Help:      "Total number of activity attempts by outcome",
		}, []string{"activity", "outcome"}),
		ActivityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paysaga",
			Name:      "activity_duration_seconds",
			Help:      "Histogram of activity attempt latency",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"activity"}),
		CompensationFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "paysaga",
			Name:      "compensation_failures_total",
			Help:      "Total number of compensations that failed and were skipped",
		}),
		PendingApprovals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "paysaga",
			Name:      "pending_approvals",
			Help:      "Number of sagas waiting in the approval gate",
		}),
	}

	reg.MustRegister(
		m.SagasStarted,
		m.SagasFinished,
		m.ActivityAttempts,
		m.ActivityDuration,
		m.CompensationFails,
		m.PendingApprovals,
	)
	return m
}

// Middleware records every activity attempt.
func (m *Metrics) Middleware() Middleware {
	return func(name ActivityName, next Invoker) Invoker {
		return func(ctx context.Context, input any) (any, error) {
			start := time.Now()
			out, err := next(ctx, input)
			m.ActivityDuration.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
			outcome := "success"
			if err != nil {
				outcome = Classify(err).String()
			}
			m.ActivityAttempts.WithLabelValues(string(name), outcome).Inc()
			return out, err
		}
	}
}

// ObserveFinished records a saga that reached a terminal status.
func (m *Metrics) ObserveFinished(state *WorkflowState, compensationFailures int) {
	m.SagasFinished.WithLabelValues(string(state.Status)).Inc()
	m.CompensationFails.Add(float64(compensationFailures))
}
