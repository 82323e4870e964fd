package workflow

import (
	"math/big"
	"time"

	"tokenflow/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// Transaction kinds recorded in a report.
const (
	TxAccountDeploy = "account_deploy"
	TxTokenDeploy   = "token_deploy"
	TxMint          = "mint"
	TxTransfer      = "transfer"
)

// Transaction is one confirmation the run waited on.
type Transaction struct {
	Kind string
	web3.TransactionResult
}

// Report is everything a run produced. Fields fill in as states are reached.
// State is terminal once Run returns; LastState is the last state the run
// actually reached before it ended.
type Report struct {
	RunID     string
	Network   string
	State     State
	LastState State
	Signer    common.Address
	PublicKey string
	// AccountSalt is the salt the account contract was deployed with.
	AccountSalt  common.Hash
	Account      web3.DeploymentResult
	Token        web3.DeploymentResult
	Recipient    common.Address
	MintTx       common.Hash
	TransferTx   common.Hash
	Transactions []Transaction
	// BalanceAfterMint and BalanceAfterTransfer are nil when the query
	// answered with something that did not decode.
	BalanceAfterMint     *big.Int
	BalanceAfterTransfer *big.Int
	SignerNativeBalance  *big.Int
	Warnings             []string
	StartedAt            time.Time
	FinishedAt           time.Time
}

// Clone returns a copy that shares no slices with r.
func (r Report) Clone() Report {
	out := r
	out.Transactions = append([]Transaction(nil), r.Transactions...)
	out.Warnings = append([]string(nil), r.Warnings...)
	out.BalanceAfterMint = cloneInt(r.BalanceAfterMint)
	out.BalanceAfterTransfer = cloneInt(r.BalanceAfterTransfer)
	out.SignerNativeBalance = cloneInt(r.SignerNativeBalance)
	return out
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
