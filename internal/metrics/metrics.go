package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	modulesDiscovered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modvisr",
			Subsystem: "discovery",
			Name:      "modules",
			Help:      "Modules found by the last discovery pass, per origin.",
		}, []string{"origin"},
	)
	discoveryDirErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modvisr",
			Subsystem: "discovery",
			Name:      "directory_errors_total",
			Help:      "Directories that could not be listed for a reason other than not existing.",
		}, []string{"origin"},
	)
	discoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modvisr",
			Subsystem: "discovery",
			Name:      "duration_seconds",
			Help:      "Wall time of a full discovery pass.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	moduleStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modvisr",
			Subsystem: "module",
			Name:      "starts_total",
			Help:      "Number of successful module spawns.",
		}, []string{"name"},
	)
	moduleSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modvisr",
			Subsystem: "module",
			Name:      "spawn_failures_total",
			Help:      "Number of module spawns rejected by the OS.",
		}, []string{"name"},
	)
	moduleStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modvisr",
			Subsystem: "module",
			Name:      "stops_total",
			Help:      "Number of stop requests that signalled a running module.",
		}, []string{"name"},
	)
	moduleExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modvisr",
			Subsystem: "module",
			Name:      "exits_total",
			Help:      "Observed module exits by exit code (-1 when killed by a signal).",
		}, []string{"name", "code"},
	)
	outputDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modvisr",
			Subsystem: "module",
			Name:      "output_lines_dropped_total",
			Help:      "Output lines dropped because the forwarding queue was full.",
		}, []string{"name", "stream"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modvisr",
			Subsystem: "module",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between module states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "modvisr",
			Subsystem: "module",
			Name:      "current_state",
			Help:      "Current state of modules (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		modulesDiscovered, discoveryDirErrors, discoveryDuration,
		moduleStarts, moduleSpawnFailures, moduleStops, moduleExits, outputDropped,
		stateTransitions, currentStates,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func SetDiscovered(origin string, n int) {
	if regOK.Load() {
		modulesDiscovered.WithLabelValues(origin).Set(float64(n))
	}
}

func IncDirError(origin string) {
	if regOK.Load() {
		discoveryDirErrors.WithLabelValues(origin).Inc()
	}
}

func ObserveDiscoveryDuration(seconds float64) {
	if regOK.Load() {
		discoveryDuration.Observe(seconds)
	}
}

func IncStart(name string) {
	if regOK.Load() {
		moduleStarts.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		moduleSpawnFailures.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		moduleStops.WithLabelValues(name).Inc()
	}
}

func IncExit(name string, code int) {
	if regOK.Load() {
		moduleExits.WithLabelValues(name, strconv.Itoa(code)).Inc()
	}
}

func AddOutputDropped(name, stream string, n int) {
	if regOK.Load() && n > 0 {
		outputDropped.WithLabelValues(name, stream).Add(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(name, state).Set(value)
	}
}
