package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"go-hub-tunnel/internal/infrastructure/completion"
)

func TestBridge_Begin(t *testing.T) {
	b := NewBridge(prometheus.NewRegistry())

	end := b.Begin("invoke")
	assert.Equal(t, 1.0, testutil.ToFloat64(b.inFlight.WithLabelValues("invoke")))
	end(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.inFlight.WithLabelValues("invoke")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.operations.WithLabelValues("invoke", OutcomeOK)))

	b.Begin("start")(&completion.CanceledError{Cause: context.Canceled})
	assert.Equal(t, 1.0, testutil.ToFloat64(b.operations.WithLabelValues("start", OutcomeCanceled)))
}

func TestNilReceivers(t *testing.T) {
	var b *Bridge
	b.Begin("stop")(errors.New("boom"))
	b.Dispatched("Ping", nil)

	var h *Hub
	h.Connected("websocket")
	h.Disconnected("websocket")
	h.Invoked("Echo", nil)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, OutcomeError, Outcome(errors.New("boom")))
	assert.Equal(t, OutcomeCanceled, Outcome(context.DeadlineExceeded))
	assert.Equal(t, OutcomeCanceled, Outcome(&completion.CanceledError{}))
}
