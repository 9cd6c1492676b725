// Package metrics holds the Prometheus collectors of the bridge and the hub
// server. All methods are safe on a nil receiver.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"go-hub-tunnel/internal/infrastructure/completion"
)

const namespace = "hubtunnel"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
)

// Bridge instruments client side operations and dispatches.
type Bridge struct {
	operations *prometheus.CounterVec
	inFlight   *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
	dispatches *prometheus.CounterVec
}

func NewBridge(reg prometheus.Registerer) *Bridge {
	factory := promauto.With(reg)
	return &Bridge{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "operations_total",
			Help:      "Completed hub connection operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "operations_in_flight",
			Help:      "Hub connection operations awaiting completion.",
		}, []string{"op"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "operation_duration_seconds",
			Help:      "Time from initiating an operation to its completion.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "dispatches_total",
			Help:      "Server to client invocations handled, by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}

// Begin records an operation start and returns the function that records its
// end.
func (b *Bridge) Begin(op string) func(err error) {
	if b == nil {
		return func(error) {}
	}
	start := time.Now()
	b.inFlight.WithLabelValues(op).Inc()
	return func(err error) {
		b.inFlight.WithLabelValues(op).Dec()
		b.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		b.operations.WithLabelValues(op, Outcome(err)).Inc()
	}
}

func (b *Bridge) Dispatched(method string, err error) {
	if b == nil {
		return
	}
	b.dispatches.WithLabelValues(method, Outcome(err)).Inc()
}

// Hub instruments the server side.
type Hub struct {
	connections *prometheus.GaugeVec
	invocations *prometheus.CounterVec
}

func NewHub(reg prometheus.Registerer) *Hub {
	factory := promauto.With(reg)
	return &Hub{
		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Connected clients by connection type.",
		}, []string{"type"}),
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "invocations_total",
			Help:      "Client to server invocations by target and outcome.",
		}, []string{"target", "outcome"}),
	}
}

func (h *Hub) Connected(connType string) {
	if h == nil {
		return
	}
	h.connections.WithLabelValues(connType).Inc()
}

func (h *Hub) Disconnected(connType string) {
	if h == nil {
		return
	}
	h.connections.WithLabelValues(connType).Dec()
}

func (h *Hub) Invoked(target string, err error) {
	if h == nil {
		return
	}
	h.invocations.WithLabelValues(target, Outcome(err)).Inc()
}

func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, completion.ErrCanceled):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

