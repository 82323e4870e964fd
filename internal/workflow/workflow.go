package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"tokenflow/internal/account"
	"tokenflow/internal/artifact"
	"tokenflow/internal/config"
	"tokenflow/internal/console"
	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/keys"
	"tokenflow/internal/token"
	"tokenflow/internal/web3"
	"tokenflow/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// observerTimeout bounds the final notification, which still runs after
// the run context is cancelled.
const observerTimeout = 10 * time.Second

// Config holds the tunables of a run.
type Config struct {
	MintAmount     *big.Int
	TransferAmount *big.Int
	// MaxFee caps the fee of every transaction in wei. Nil means no cap.
	MaxFee   *big.Int
	SaltMode string
	// TransferRecipient receives the transfer. The zero address sends it to
	// the token contract itself.
	TransferRecipient common.Address
	RevealPrivateKey  bool
}

// Narrator prints progress for the operator.
type Narrator interface {
	Banner(title string)
	Address(label string, address common.Address)
	Transaction(label string, hash common.Hash)
	Printf(format string, args ...any)
}

// Deps are the collaborators of a run.
type Deps struct {
	Chain           web3.Client
	AccountContract *artifact.Contract
	TokenContract   *artifact.Contract
	// Sponsor signs and pays for both contract deployments.
	Sponsor   *keys.KeyPair
	Gate      console.Gate
	Narrator  Narrator
	Observers []Observer
	// Random feeds key and salt generation. Nil uses crypto/rand.
	Random io.Reader
	Now    func() time.Time
}

// Runner executes runs.
type Runner struct {
	cfg       Config
	deps      Deps
	observers observers
	log       *slog.Logger
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Runner, error) {
	switch {
	case deps.Chain == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain client is required")
	case deps.AccountContract == nil || deps.TokenContract == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "account and token contracts are required")
	case deps.Sponsor == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "a sponsor key is required to pay for deployments")
	case deps.Gate == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "funding gate is required")
	}
	if cfg.MintAmount == nil || cfg.MintAmount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "mint amount must be positive")
	}
	if cfg.TransferAmount == nil || cfg.TransferAmount.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "transfer amount must be positive")
	}
	if cfg.TransferAmount.Cmp(cfg.MintAmount) > 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "transfer amount exceeds mint amount",
			xerrors.WithMetadata("mint", cfg.MintAmount.String()),
			xerrors.WithMetadata("transfer", cfg.TransferAmount.String()))
	}
	if cfg.MaxFee != nil && cfg.MaxFee.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "max fee must be positive")
	}
	switch cfg.SaltMode {
	case "":
		cfg.SaltMode = config.SaltModeRandom
	case config.SaltModeRandom, config.SaltModePublicKey:
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown salt mode %q", cfg.SaltMode))
	}
	if err := deps.AccountContract.RequireMethods("execute"); err != nil {
		return nil, err
	}
	if err := deps.TokenContract.RequireMethods("mint", "transfer", "balanceOf"); err != nil {
		return nil, err
	}
	if deps.Narrator == nil {
		deps.Narrator = console.NewNarrator(io.Discard, "")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{
		cfg:       cfg,
		deps:      deps,
		observers: observers(deps.Observers),
		log:       logger.Named("workflow"),
	}, nil
}

type handler func(ctx context.Context) (State, error)

// run is the mutable state of one Run call.
type run struct {
	*Runner
	log     *slog.Logger
	report  Report
	key     *keys.KeyPair
	account *account.Client
	token   *token.Token
	attrs   map[string]string
}

// Run executes the workflow from init to done. The returned report reflects
// everything reached, also when err is non-nil. Cancelling ctx stops the run
// before the next state with an ABORTED error.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	id := uuid.NewString()
	rn := &run{
		Runner: r,
		log:    r.log.With(slog.String("run_id", id)),
		report: Report{
			RunID:     id,
			Network:   r.deps.Chain.Name(),
			State:     StateInit,
			LastState: StateInit,
			StartedAt: r.deps.Now(),
		},
	}
	handlers := rn.handlers()

	rn.log.Info("run started", slog.String("network", rn.report.Network))
	r.observers.started(detach(ctx), rn.report)

	for !rn.report.State.Terminal() {
		from := rn.report.State
		if err := ctx.Err(); err != nil {
			return rn.finish(ctx, err)
		}
		step, ok := handlers[from]
		if !ok {
			return rn.finish(ctx, xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("no handler for state %s", from)))
		}

		rn.attrs = make(map[string]string)
		began := r.deps.Now()
		to, err := step(ctx)
		if err != nil {
			return rn.finish(ctx, err)
		}
		elapsed := r.deps.Now().Sub(began)

		rn.report.State = to
		rn.report.LastState = to
		rn.log.Info("state reached",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.Duration("elapsed", elapsed))
		r.observers.changed(detach(ctx), StateChange{
			RunID:      id,
			From:       from,
			To:         to,
			Elapsed:    elapsed,
			At:         r.deps.Now(),
			Attributes: rn.attrs,
		})
	}
	return rn.finish(ctx, nil)
}

func (rn *run) handlers() map[State]handler {
	return map[State]handler{
		StateInit:              rn.generateKey,
		StateKeyGenerated:      rn.deployAccount,
		StateAccountDeployed:   rn.awaitAccount,
		StateAccountConfirmed:  rn.awaitFunding,
		StateFundingConfirmed:  rn.bindAccount,
		StateClientBound:       rn.deployToken,
		StateTokenDeployed:     rn.awaitToken,
		StateTokenConfirmed:    rn.mint,
		StateMinted:            rn.awaitMint,
		StateMintConfirmed:     rn.checkBalanceAfterMint,
		StateBalanceChecked1:   rn.transfer,
		StateTransferred:       rn.awaitTransfer,
		StateTransferConfirmed: rn.checkBalanceAfterTransfer,
		StateBalanceChecked2:   rn.summarize,
	}
}

func (rn *run) finish(ctx context.Context, cause error) (Report, error) {
	rn.report.FinishedAt = rn.deps.Now()
	var err error
	if cause != nil {
		rn.report.State, err = rn.terminal(ctx, cause)
		rn.deps.Narrator.Banner(fmt.Sprintf("Run %s after %s", rn.report.State.Outcome(), rn.report.LastState))
		rn.deps.Narrator.Printf("%v", err)
		rn.log.Error("run ended",
			slog.String("state", string(rn.report.State)),
			slog.String("last_state", string(rn.report.LastState)),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
	} else {
		rn.log.Info("run finished",
			slog.Duration("duration", rn.report.FinishedAt.Sub(rn.report.StartedAt)),
			slog.Int("warnings", len(rn.report.Warnings)))
	}
	if deployed := rn.report.Account.ContractAddress; deployed != (common.Address{}) {
		rn.deps.Narrator.Address("Account contract", deployed)
	}
	if deployed := rn.report.Token.ContractAddress; deployed != (common.Address{}) {
		rn.deps.Narrator.Address("Token contract", deployed)
	}

	notifyCtx, cancel := context.WithTimeout(detach(ctx), observerTimeout)
	defer cancel()
	rn.observers.finished(notifyCtx, rn.report, err)
	return rn.report.Clone(), err
}

// terminal classifies cause into failed or aborted and names the last state
// and the contracts already on chain.
func (rn *run) terminal(ctx context.Context, cause error) (State, error) {
	last := rn.report.LastState
	opts := []xerrors.Option{xerrors.WithMetadata("state", string(last))}
	if deployed := rn.report.Account.ContractAddress; deployed != (common.Address{}) {
		opts = append(opts, xerrors.WithMetadata("account", deployed.Hex()))
	}
	if deployed := rn.report.Token.ContractAddress; deployed != (common.Address{}) {
		opts = append(opts, xerrors.WithMetadata("token", deployed.Hex()))
	}

	code := xerrors.CodeOf(cause)
	switch {
	case ctx.Err() != nil || code == xerrors.CodeAborted:
		return StateAborted, xerrors.Wrap(xerrors.CodeAborted, cause, fmt.Sprintf("workflow aborted after %s", last), opts...)
	case code == xerrors.CodeFundingAborted:
		return StateAborted, xerrors.Wrap(code, cause, "", opts...)
	default:
		return StateFailed, xerrors.Wrap(code, cause, fmt.Sprintf("workflow failed after %s", last), opts...)
	}
}

// detach keeps observer writes alive after the run context is cancelled.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
