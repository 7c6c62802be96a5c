package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Results recorded for actor commands and RPC calls.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	actorCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodevisor",
			Subsystem: "actor",
			Name:      "commands_total",
			Help:      "Commands handled by the control actor.",
		}, []string{"command", "result"},
	)
	actorCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nodevisor",
			Subsystem: "actor",
			Name:      "command_duration_seconds",
			Help:      "Time the actor spent handling a command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"},
	)
	nodeStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nodevisor",
			Subsystem: "node",
			Name:      "starts_total",
			Help:      "Number of successful node starts.",
		},
	)
	nodeStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodevisor",
			Subsystem: "node",
			Name:      "stops_total",
			Help:      "Number of node stops by mode (graceful or forced).",
		}, []string{"mode"},
	)
	nodeRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nodevisor",
			Subsystem: "node",
			Name:      "running",
			Help:      "1 while the node is running, 0 otherwise.",
		},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nodevisor",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "JSON-RPC calls forwarded to the node.",
		}, []string{"method", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{actorCommands, actorCommandDuration, nodeStarts, nodeStops, nodeRunning, rpcCalls}
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

// HandlerFor serves metrics from a specific gatherer, e.g. a private registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

func ObserveCommand(command string, err error, d time.Duration) {
	if regOK.Load() {
		actorCommands.WithLabelValues(command, result(err)).Inc()
		actorCommandDuration.WithLabelValues(command).Observe(d.Seconds())
	}
}

func IncStart() {
	if regOK.Load() {
		nodeStarts.Inc()
	}
}

func IncStop(mode string) {
	if regOK.Load() {
		nodeStops.WithLabelValues(mode).Inc()
	}
}

func SetRunning(running bool) {
	if regOK.Load() {
		v := 0.0
		if running {
			v = 1
		}
		nodeRunning.Set(v)
	}
}

func IncRPC(method string, err error) {
	if regOK.Load() {
		rpcCalls.WithLabelValues(method, result(err)).Inc()
	}
}
