package workflow

// State is a step of the run that has been reached.
type State string

const (
	StateInit              State = "init"
	StateKeyGenerated      State = "key_generated"
	StateAccountDeployed   State = "account_deployed"
	StateAccountConfirmed  State = "account_confirmed"
	StateFundingConfirmed  State = "funding_confirmed"
	StateClientBound       State = "client_bound"
	StateTokenDeployed     State = "token_deployed"
	StateTokenConfirmed    State = "token_confirmed"
	StateMinted            State = "minted"
	StateMintConfirmed     State = "mint_confirmed"
	StateBalanceChecked1   State = "balance_checked_1"
	StateTransferred       State = "transferred"
	StateTransferConfirmed State = "transfer_confirmed"
	StateBalanceChecked2   State = "balance_checked_2"
	StateDone              State = "done"
	StateFailed            State = "failed"
	StateAborted           State = "aborted"
)

// States lists the non-terminal states followed by done, in run order.
var States = []State{
	StateInit,
	StateKeyGenerated,
	StateAccountDeployed,
	StateAccountConfirmed,
	StateFundingConfirmed,
	StateClientBound,
	StateTokenDeployed,
	StateTokenConfirmed,
	StateMinted,
	StateMintConfirmed,
	StateBalanceChecked1,
	StateTransferred,
	StateTransferConfirmed,
	StateBalanceChecked2,
	StateDone,
}

// Terminal reports whether no handler runs from s.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// Outcome maps a terminal state to its outcome. Non-terminal states have none.
func (s State) Outcome() Outcome {
	switch s {
	case StateDone:
		return OutcomeSucceeded
	case StateFailed:
		return OutcomeFailed
	case StateAborted:
		return OutcomeAborted
	default:
		return ""
	}
}
