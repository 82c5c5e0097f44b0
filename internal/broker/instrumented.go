package broker

import (
	"context"

	"github.com/tathienbao/repricer/internal/metrics"
	"github.com/tathienbao/repricer/internal/types"
)

// Instrumented records order call latency and errors for the wrapped Broker.
type Instrumented struct {
	Broker
	recorder *metrics.Recorder
}

// NewInstrumented wraps b.
func NewInstrumented(b Broker, recorder *metrics.Recorder) *Instrumented {
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}
	return &Instrumented{Broker: b, recorder: recorder}
}

// SubmitOrder observes submission latency. A refused submission counts as
// an error.
func (i *Instrumented) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	timer := metrics.NewTimer()
	id, err := i.Broker.SubmitOrder(ctx, req)
	timer.ObserveOrder()

	if err != nil || id == "" {
		i.recorder.RecordError("submit_order")
	}
	return id, err
}

func (i *Instrumented) CancelOrder(ctx context.Context, orderID string) error {
	err := i.Broker.CancelOrder(ctx, orderID)
	if err != nil {
		i.recorder.RecordError("cancel_order")
	}
	return err
}

func (i *Instrumented) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	o, err := i.Broker.GetOrder(ctx, orderID)
	if err != nil {
		i.recorder.RecordError("get_order")
	}
	return o, err
}

func (i *Instrumented) GetTick(ctx context.Context, symbol string) (*types.Quote, error) {
	q, err := i.Broker.GetTick(ctx, symbol)
	if err != nil {
		i.recorder.RecordError("get_tick")
	}
	return q, err
}

var _ Broker = (*Instrumented)(nil)
