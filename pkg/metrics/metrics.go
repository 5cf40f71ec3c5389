// Package metrics holds the Prometheus collectors for the consent workflow.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aaflow"

type Metrics struct {
	notifications *prometheus.CounterVec // by kind and outcome
	stageSteps    *prometheus.CounterVec // by step and outcome
	readyEvents   *prometheus.CounterVec // by source
	batchItems    *prometheus.CounterVec // by outcome
	holdings      prometheus.Counter
	batchDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "notifications_total",
			Help:      "Provider notifications received",
		}, []string{"kind", "outcome"}),
		stageSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataflow",
			Name:      "steps_total",
			Help:      "Data-flow steps executed",
		}, []string{"step", "outcome"}),
		readyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "readiness",
			Name:      "events_total",
			Help:      "Readiness events published",
		}, []string{"source"}),
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "items_total",
			Help:      "Encrypted blocks processed",
		}, []string{"outcome"}),
		holdings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "holdings_total",
			Help:      "Holdings appended to the linked-holdings collection",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Time spent processing one readiness event",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.notifications, m.stageSteps, m.readyEvents, m.batchItems, m.holdings, m.batchDuration,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, err
		}
	}
	return m, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Notification(kind string, err error) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *Metrics) Step(step string, err error) {
	if m == nil {
		return
	}
	m.stageSteps.WithLabelValues(step, outcome(err)).Inc()
}

func (m *Metrics) StepSkipped(step string) {
	if m == nil {
		return
	}
	m.stageSteps.WithLabelValues(step, "skipped").Inc()
}

func (m *Metrics) ReadinessPublished(source string) {
	if m == nil {
		return
	}
	m.readyEvents.WithLabelValues(source).Inc()
}

// Batch records one processed batch.
func (m *Metrics) Batch(seconds float64, succeeded, failed, holdings int) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(seconds)
	m.batchItems.WithLabelValues("ok").Add(float64(succeeded))
	m.batchItems.WithLabelValues("error").Add(float64(failed))
	m.holdings.Add(float64(holdings))
}
