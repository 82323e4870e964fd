package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxAccepted TxStatus = "accepted"
	TxRejected TxStatus = "rejected"
)

// TransactionResult is what a confirmation wait resolves to.
type TransactionResult struct {
	Hash         common.Hash
	Status       TxStatus
	BlockNumber  uint64
	GasUsed      uint64
	EffectiveFee *big.Int
	// ContractAddress is set for contract creations.
	ContractAddress common.Address
}

// Accepted reports whether the transaction was included successfully.
func (r TransactionResult) Accepted() bool {
	return r.Status == TxAccepted
}

// DeployRequest describes a contract creation. InitCode is the creation
// bytecode with constructor arguments already appended.
type DeployRequest struct {
	Signer   *ecdsa.PrivateKey
	InitCode []byte
	Salt     common.Hash
	MaxFee   *big.Int
}

// DeploymentResult captures the outcome of a contract deployment request.
// Address never changes once returned.
type DeploymentResult struct {
	ContractAddress common.Address
	TxHash          common.Hash
	Salt            common.Hash
	// Deterministic is true when the address was derived through CREATE2.
	Deterministic bool
}

// InvokeRequest describes a state-mutating contract call.
type InvokeRequest struct {
	Signer *ecdsa.PrivateKey
	To     common.Address
	Data   []byte
	Value  *big.Int
	MaxFee *big.Int
}

// Client is the chain surface the workflow needs. Implementations must make
// WaitForTransaction idempotent: waiting on an already accepted transaction
// returns the same result again.
type Client interface {
	Name() string
	ChainID(ctx context.Context) (*big.Int, error)
	DeployContract(ctx context.Context, req DeployRequest) (DeploymentResult, error)
	Invoke(ctx context.Context, req InvokeRequest) (common.Hash, error)
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	WaitForTransaction(ctx context.Context, hash common.Hash) (TransactionResult, error)
	NativeBalance(ctx context.Context, address common.Address) (*big.Int, error)
	ExplorerURL() string
	Close()
}
