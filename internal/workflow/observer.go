package workflow

import (
	"context"
	"time"
)

// StateChange describes one completed handler.
type StateChange struct {
	RunID   string
	From    State
	To      State
	Elapsed time.Duration
	At      time.Time
	// Attributes carries what the step produced, such as addresses,
	// transaction hashes and balances, rendered as strings.
	Attributes map[string]string
}

// Observer is notified as a run progresses. Implementations must not block
// for long and cannot fail the run.
type Observer interface {
	RunStarted(ctx context.Context, report Report)
	StateChanged(ctx context.Context, change StateChange)
	RunFinished(ctx context.Context, report Report, err error)
}

type observers []Observer

func (o observers) started(ctx context.Context, report Report) {
	for _, obs := range o {
		obs.RunStarted(ctx, report.Clone())
	}
}

func (o observers) changed(ctx context.Context, change StateChange) {
	for _, obs := range o {
		obs.StateChanged(ctx, change)
	}
}

func (o observers) finished(ctx context.Context, report Report, err error) {
	for _, obs := range o {
		obs.RunFinished(ctx, report.Clone(), err)
	}
}
