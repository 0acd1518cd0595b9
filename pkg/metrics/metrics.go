// Package metrics exports scheduler activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/core-tools/hsu-startup/pkg/startup"
)

const namespace = "hsu_startup"

// Observer implements startup.Observer on its own registry
type Observer struct {
	registry *prometheus.Registry

	actions           *prometheus.CounterVec
	actionErrors      *prometheus.CounterVec
	timersArmed       *prometheus.CounterVec
	timerDelay        *prometheus.HistogramVec
	timersFired       *prometheus.CounterVec
	timersPending     prometheus.Gauge
	loadOrderUnits    prometheus.Gauge
	loadOrderTruncate prometheus.Counter
}

var _ startup.Observer = (*Observer)(nil)

func NewObserver() *Observer {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Observer{
		registry: registry,

		// ─── Actions ───────────────────────────────────────────────────────

		actions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Host actions issued by the scheduler.",
		}, []string{"action"}),
		actionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_errors_total",
			Help:      "Host actions that failed.",
		}, []string{"action"}),

		// ─── Timers ────────────────────────────────────────────────────────

		timersArmed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_armed_total",
			Help:      "Deferred activation timers armed, by startup class.",
		}, []string{"class"}),
		timerDelay: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "timer_delay_seconds",
			Help:      "Delay of armed activation timers.",
			Buckets:   []float64{1, 5, 10, 15, 30, 45, 60, 120, 300},
		}, []string{"class"}),
		timersFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timers_fired_total",
			Help:      "Activation timers that fired, by whether they enabled the unit.",
		}, []string{"enabled"}),
		timersPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timers_pending",
			Help:      "Activation timers armed and not yet fired.",
		}),

		// ─── Load order ────────────────────────────────────────────────────

		loadOrderUnits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_order_units",
			Help:      "Units in the last computed load order.",
		}),
		loadOrderTruncate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_order_cycles_total",
			Help:      "Load order computations stopped by a dependency cycle.",
		}),
	}
}

func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handler serves the observer's registry in the Prometheus text format
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{Registry: o.registry})
}

func (o *Observer) ActionIssued(unitID string, action startup.Action, err error) {
	o.actions.WithLabelValues(string(action)).Inc()
	if err != nil {
		o.actionErrors.WithLabelValues(string(action)).Inc()
	}
}

func (o *Observer) TimerArmed(unitID string, class startup.StartupClass, delay time.Duration) {
	o.timersArmed.WithLabelValues(class.String()).Inc()
	o.timerDelay.WithLabelValues(class.String()).Observe(delay.Seconds())
}

func (o *Observer) TimerFired(unitID string, enabled bool) {
	label := "false"
	if enabled {
		label = "true"
	}
	o.timersFired.WithLabelValues(label).Inc()
}

func (o *Observer) TimersPending(count int) {
	o.timersPending.Set(float64(count))
}

func (o *Observer) LoadOrderComputed(units int, truncated bool) {
	o.loadOrderUnits.Set(float64(units))
	if truncated {
		o.loadOrderTruncate.Inc()
	}
}
