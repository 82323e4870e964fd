package web3test

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Chain is an in-memory web3.Client. Contract creations and calls routed
// through an account take effect only once their transaction is waited on,
// which mirrors inclusion on a real chain.
type Chain struct {
	// RequiredFee is the smallest MaxFee a transaction may carry. Nil
	// disables the check.
	RequiredFee *big.Int
	// MalformedBalance makes balanceOf answer with a truncated word.
	MalformedBalance bool
	// OnWait runs before every confirmation wait.
	OnWait func(hash common.Hash)
	// Revert lists trace labels, such as "invoke:transfer", whose
	// transactions are included but fail.
	Revert map[string]bool
	// Explorer is returned by ExplorerURL.
	Explorer string

	accountABI abi.ABI
	tokenABI   abi.ABI
	accountBin []byte
	tokenBin   []byte

	mu        sync.Mutex
	seq       uint64
	block     uint64
	contracts map[common.Address]*contract
	txs       map[common.Hash]*pendingTx
	native    map[common.Address]*big.Int
	trace     []string
	closed    bool
}

type contract struct {
	kind     string
	owner    common.Address
	live     bool
	balances map[common.Address]*big.Int
}

type pendingTx struct {
	label   string
	apply   func() error
	created common.Address
	done    bool
	result  web3.TransactionResult
	err     error
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	account, token := AccountArtifact(), TokenArtifact()
	return &Chain{
		accountABI: account.ABI,
		tokenABI:   token.ABI,
		accountBin: account.Bytecode,
		tokenBin:   token.Bytecode,
		contracts:  make(map[common.Address]*contract),
		txs:        make(map[common.Hash]*pendingTx),
		native:     make(map[common.Address]*big.Int),
	}
}

var _ web3.Client = (*Chain)(nil)

func (c *Chain) Name() string { return "fake" }

func (c *Chain) ExplorerURL() string { return c.Explorer }

func (c *Chain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1337), nil }

func (c *Chain) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Chain) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Trace returns the labels of every chain interaction so far, in order.
func (c *Chain) Trace() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.trace...)
}

// SetNativeBalance sets the wei balance reported for address.
func (c *Chain) SetNativeBalance(address common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.native[address] = new(big.Int).Set(wei)
}

// TokenBalance returns the confirmed balance of holder on token.
func (c *Chain) TokenBalance(token, holder common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ct, ok := c.contracts[token]; ok && ct.balances != nil {
		if b, ok := ct.balances[holder]; ok {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

func (c *Chain) checkFee(maxFee *big.Int) error {
	if c.RequiredFee == nil || maxFee == nil || maxFee.Cmp(c.RequiredFee) >= 0 {
		return nil
	}
	return xerrors.New(xerrors.CodeFeeCeilingTooLow, "",
		xerrors.WithMetadata("max_fee", maxFee.String()),
		xerrors.WithMetadata("required", c.RequiredFee.String()))
}

// submit records a transaction. Callers hold c.mu.
func (c *Chain) submit(label string, apply func() error) common.Hash {
	c.seq++
	c.trace = append(c.trace, label)
	hash := crypto.Keccak256Hash([]byte(label), []byte(strconv.FormatUint(c.seq, 10)))
	c.txs[hash] = &pendingTx{label: label, apply: apply}
	return hash
}

func (c *Chain) DeployContract(_ context.Context, req web3.DeployRequest) (web3.DeploymentResult, error) {
	if req.Signer == nil || len(req.InitCode) == 0 {
		return web3.DeploymentResult{}, xerrors.New(xerrors.CodeInvalidArgument, "signer and init code are required")
	}
	if err := c.checkFee(req.MaxFee); err != nil {
		return web3.DeploymentResult{}, err
	}

	var ct *contract
	switch {
	case bytes.HasPrefix(req.InitCode, c.accountBin):
		args := req.InitCode[len(c.accountBin):]
		if len(args) != common.HashLength {
			return web3.DeploymentResult{}, xerrors.New(xerrors.CodeDeploymentRejected, "account constructor expects one address")
		}
		ct = &contract{kind: "account", owner: common.BytesToAddress(args)}
	case bytes.Equal(req.InitCode, c.tokenBin):
		ct = &contract{kind: "token", balances: make(map[common.Address]*big.Int)}
	default:
		return web3.DeploymentResult{}, xerrors.New(xerrors.CodeDeploymentRejected, "unknown init code")
	}

	address := crypto.CreateAddress2(common.HexToAddress(web3.DeterministicDeployer), req.Salt, crypto.Keccak256(req.InitCode))

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.contracts[address]; exists {
		return web3.DeploymentResult{}, xerrors.New(xerrors.CodeDeploymentRejected,
			"a contract already exists at the salted address")
	}
	c.contracts[address] = ct
	hash := c.submit("deploy:"+ct.kind, func() error {
		ct.live = true
		return nil
	})
	c.txs[hash].created = address
	return web3.DeploymentResult{ContractAddress: address, TxHash: hash, Salt: req.Salt, Deterministic: true}, nil
}

func (c *Chain) Invoke(_ context.Context, req web3.InvokeRequest) (common.Hash, error) {
	if req.Signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "invoke signer is required")
	}
	if err := c.checkFee(req.MaxFee); err != nil {
		return common.Hash{}, err
	}
	sender := crypto.PubkeyToAddress(req.Signer.PublicKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	account, ok := c.contracts[req.To]
	if !ok || !account.live || account.kind != "account" {
		c.trace = append(c.trace, "invoke:unknown-target")
		return common.Hash{}, xerrors.New(xerrors.CodeTransactionRejected, "target is not a confirmed account",
			xerrors.WithMetadata("to", req.To.Hex()))
	}
	if sender != account.owner {
		return common.Hash{}, xerrors.New(xerrors.CodeTransactionRejected, "sender does not own the account")
	}
	target, inner, err := c.decodeExecute(req.Data)
	if err != nil {
		return common.Hash{}, err
	}
	token, ok := c.contracts[target]
	if !ok || !token.live || token.kind != "token" {
		c.trace = append(c.trace, "invoke:unconfirmed-token")
		return common.Hash{}, xerrors.New(xerrors.CodeTransactionRejected, "execute target is not a confirmed token",
			xerrors.WithMetadata("target", target.Hex()))
	}
	method, err := c.tokenABI.MethodById(inner)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionRejected, err, "unknown token method")
	}
	args, err := method.Inputs.Unpack(inner[4:])
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeTransactionRejected, err, "decode token call")
	}
	to := args[0].(common.Address)
	amount := args[1].(*big.Int)
	from := req.To

	var apply func() error
	switch method.Name {
	case "mint":
		apply = func() error {
			token.balances[to] = new(big.Int).Add(balanceOf(token, to), amount)
			return nil
		}
	case "transfer":
		apply = func() error {
			have := balanceOf(token, from)
			if have.Cmp(amount) < 0 {
				return fmt.Errorf("transfer amount %s exceeds balance %s", amount, have)
			}
			token.balances[from] = new(big.Int).Sub(have, amount)
			token.balances[to] = new(big.Int).Add(balanceOf(token, to), amount)
			return nil
		}
	default:
		return common.Hash{}, xerrors.New(xerrors.CodeTransactionRejected, "token method "+method.Name+" is not supported")
	}
	return c.submit("invoke:"+method.Name, apply), nil
}

func (c *Chain) decodeExecute(data []byte) (common.Address, []byte, error) {
	method, err := c.accountABI.MethodById(data)
	if err != nil || method.Name != "execute" {
		return common.Address{}, nil, xerrors.New(xerrors.CodeTransactionRejected, "account call is not execute")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Address{}, nil, xerrors.Wrap(xerrors.CodeTransactionRejected, err, "decode execute")
	}
	inner := args[2].([]byte)
	if len(inner) < 4 {
		return common.Address{}, nil, xerrors.New(xerrors.CodeTransactionRejected, "execute carries no call")
	}
	return args[0].(common.Address), inner, nil
}

func balanceOf(token *contract, holder common.Address) *big.Int {
	if b, ok := token.balances[holder]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ct, ok := c.contracts[to]
	if !ok || !ct.live {
		return nil, nil
	}
	if ct.kind == "account" {
		method, err := c.accountABI.MethodById(data)
		if err != nil || method.Name != "owner" {
			return nil, xerrors.New(xerrors.CodeChainUnavailable, "execution reverted")
		}
		return method.Outputs.Pack(ct.owner)
	}

	method, err := c.tokenABI.MethodById(data)
	if err != nil || method.Name != "balanceOf" {
		return nil, xerrors.New(xerrors.CodeChainUnavailable, "execution reverted")
	}
	c.trace = append(c.trace, "call:balanceOf")
	if c.MalformedBalance {
		return []byte{0x01}, nil
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "execution reverted")
	}
	return method.Outputs.Pack(new(big.Int).Set(balanceOf(ct, args[0].(common.Address))))
}

func (c *Chain) WaitForTransaction(ctx context.Context, hash common.Hash) (web3.TransactionResult, error) {
	if c.OnWait != nil {
		c.OnWait(hash)
	}
	if err := ctx.Err(); err != nil {
		return web3.TransactionResult{Hash: hash, Status: web3.TxPending},
			xerrors.Wrap(xerrors.CodeAborted, err, "confirmation wait cancelled")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, ok := c.txs[hash]
	if !ok {
		return web3.TransactionResult{Hash: hash, Status: web3.TxPending},
			xerrors.New(xerrors.CodeConfirmationTimeout, "", xerrors.WithMetadata("tx_hash", hash.Hex()))
	}
	if tx.done {
		return tx.result, tx.err
	}
	c.trace = append(c.trace, "wait:"+tx.label)
	c.block++
	tx.done = true
	tx.result = web3.TransactionResult{
		Hash:            hash,
		Status:          web3.TxAccepted,
		BlockNumber:     c.block,
		GasUsed:         21000,
		EffectiveFee:    big.NewInt(21000),
		ContractAddress: tx.created,
	}
	var applyErr error
	if c.Revert[tx.label] {
		applyErr = fmt.Errorf("%s reverted", tx.label)
	} else {
		applyErr = tx.apply()
	}
	if applyErr != nil {
		tx.result.Status = web3.TxRejected
		tx.err = xerrors.Wrap(xerrors.CodeTransactionRejected, applyErr, "transaction reverted",
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	}
	return tx.result, tx.err
}

func (c *Chain) NativeBalance(_ context.Context, address common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.native[address]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}
