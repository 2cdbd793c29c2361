package observer

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mutagen-io/watchdog/pkg/events"
)

// metrics are the collectors maintained by an observer.
type metrics struct {
	// emitted counts events queued by emitters, by event type.
	emitted *prometheus.CounterVec
	// dispatched counts handler invocations.
	dispatched prometheus.Counter
	// handlerFailures counts handler errors and panics.
	handlerFailures prometheus.Counter
	// resyncs counts full rescans triggered by lost notifications.
	resyncs prometheus.Counter
	// emitters tracks the number of running emitters.
	emitters prometheus.Gauge
	// queued tracks the number of events awaiting dispatch.
	queued prometheus.GaugeFunc
}

// newMetrics creates observer collectors and, if a registerer is provided,
// registers them. The queue length function is sampled at collection time.
func newMetrics(registerer prometheus.Registerer, queueLength func() int) (*metrics, error) {
	result := &metrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "observer",
			Name:      "events_emitted_total",
			Help:      "Total number of events queued by emitters, per event type",
		}, []string{"type"}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "observer",
			Name:      "handler_invocations_total",
			Help:      "Total number of handler invocations",
		}),
		handlerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "observer",
			Name:      "handler_failures_total",
			Help:      "Total number of handler invocations that failed or panicked",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "watchdog",
			Subsystem: "observer",
			Name:      "resyncs_total",
			Help:      "Total number of full rescans triggered by lost notifications",
		}),
		emitters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "observer",
			Name:      "emitters_running",
			Help:      "Current number of running emitters",
		}),
		queued: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "watchdog",
			Subsystem: "observer",
			Name:      "events_queued",
			Help:      "Current number of events awaiting dispatch",
		}, func() float64 {
			return float64(queueLength())
		}),
	}
	if registerer != nil {
		for _, collector := range result.collectors() {
			if err := registerer.Register(collector); err != nil {
				return nil, errors.Wrap(err, "unable to register metrics")
			}
		}
	}
	return result, nil
}

// collectors returns every collector.
func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.emitted, m.dispatched, m.handlerFailures, m.resyncs, m.emitters, m.queued}
}

// unregister removes the collectors from a registerer.
func (m *metrics) unregister(registerer prometheus.Registerer) {
	if registerer == nil {
		return
	}
	for _, collector := range m.collectors() {
		registerer.Unregister(collector)
	}
}

// recordEmitted records a queued event.
func (m *metrics) recordEmitted(event events.Event) {
	m.emitted.WithLabelValues(event.Type.String()).Inc()
}
