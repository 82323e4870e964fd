package journal

import (
	"context"
	"log/slog"

	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/workflow"
	"tokenflow/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Recorder writes workflow progress to a Store and a Publisher. Failures are
// logged and never reach the run.
type Recorder struct {
	store     Store
	publisher Publisher
	log       *slog.Logger
}

// NewRecorder wires a store and a publisher. A nil publisher drops events.
func NewRecorder(store Store, publisher Publisher) *Recorder {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Recorder{store: store, publisher: publisher, log: logger.Named("journal")}
}

// RunStarted implements workflow.Observer.
func (r *Recorder) RunStarted(ctx context.Context, report workflow.Report) {
	at := report.StartedAt.Unix()
	run := &Run{
		ID:        report.RunID,
		Network:   report.Network,
		State:     string(report.State),
		Status:    StatusRunning,
		CreatedAt: at,
	}
	if r.store != nil {
		if err := r.store.Create(ctx, run); err != nil {
			r.storeFailed(report.RunID, "create", err)
		}
	}
	r.publish(ctx, Event{
		Type:    EventRunStarted,
		RunID:   report.RunID,
		Network: report.Network,
		State:   string(report.State),
		Status:  StatusRunning,
		At:      at,
	})
}

// StateChanged implements workflow.Observer.
func (r *Recorder) StateChanged(ctx context.Context, change workflow.StateChange) {
	step := Step{
		From:          string(change.From),
		To:            string(change.To),
		ElapsedMillis: change.Elapsed.Milliseconds(),
		Attributes:    cloneAttributes(change.Attributes),
		At:            change.At.Unix(),
	}
	if r.store != nil {
		if err := r.store.Transition(ctx, change.RunID, step); err != nil {
			r.storeFailed(change.RunID, "transition", err)
		}
	}
	r.publish(ctx, Event{
		Type:       EventStateChanged,
		RunID:      change.RunID,
		From:       step.From,
		State:      step.To,
		Status:     StatusRunning,
		ElapsedMS:  step.ElapsedMillis,
		Attributes: step.Attributes,
		At:         step.At,
	})
}

// RunFinished implements workflow.Observer.
func (r *Recorder) RunFinished(ctx context.Context, report workflow.Report, runErr error) {
	done := Completion{
		Status:     StatusOf(report.State.Outcome()),
		State:      string(report.LastState),
		Attributes: summaryAttributes(report),
	}
	if runErr != nil {
		done.ErrorCode = xerrors.CodeOf(runErr)
		done.LastError = runErr.Error()
	}
	if r.store != nil {
		if err := r.store.Finish(ctx, report.RunID, done); err != nil {
			r.storeFailed(report.RunID, "finish", err)
		}
	}
	r.publish(ctx, Event{
		Type:       EventRunFinished,
		RunID:      report.RunID,
		Network:    report.Network,
		State:      done.State,
		Status:     done.Status,
		Attributes: done.Attributes,
		ErrorCode:  string(done.ErrorCode),
		Error:      done.LastError,
		At:         report.FinishedAt.Unix(),
	})
}

// StatusOf maps a run outcome onto the stored status.
func StatusOf(outcome workflow.Outcome) Status {
	switch outcome {
	case workflow.OutcomeSucceeded:
		return StatusSucceeded
	case workflow.OutcomeAborted:
		return StatusAborted
	case workflow.OutcomeFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}

func summaryAttributes(report workflow.Report) map[string]string {
	attrs := map[string]string{"signer": report.Signer.Hex()}
	if report.Account.ContractAddress != (common.Address{}) {
		attrs["account"] = report.Account.ContractAddress.Hex()
	}
	if report.Token.ContractAddress != (common.Address{}) {
		attrs["token"] = report.Token.ContractAddress.Hex()
	}
	if report.BalanceAfterTransfer != nil {
		attrs["final_balance"] = report.BalanceAfterTransfer.String()
	}
	return attrs
}

func (r *Recorder) publish(ctx context.Context, event Event) {
	if err := r.publisher.Publish(ctx, event); err != nil {
		err = xerrors.Wrap(xerrors.CodePublishFailure, err, "publish run event")
		r.log.Warn("event not published",
			slog.String("run_id", event.RunID),
			slog.String("type", string(event.Type)),
			slog.Any("error", err))
	}
}

func (r *Recorder) storeFailed(runID, op string, err error) {
	err = xerrors.Wrap(xerrors.CodeStorageFailure, err, "journal "+op)
	r.log.Error("run record not written",
		slog.String("run_id", runID),
		slog.Any("error", err))
}

var _ workflow.Observer = (*Recorder)(nil)
