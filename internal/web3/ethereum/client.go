package ethereum

import (
	"context"
	"crypto/ecdsa"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/web3"
	"tokenflow/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const (
	defaultPollInterval = 2 * time.Second
	// gasHeadroomPercent is added on top of the node's gas estimate.
	gasHeadroomPercent = 20
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name        string
	RPCURL      string
	ExplorerURL string
	// Create2Factory enables salted deployments. Empty means plain CREATE.
	Create2Factory      string
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
}

// Backend is the part of the go-ethereum client API the chain client uses.
// Both *ethclient.Client and simulated.Client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client implements web3.Client for EVM chains.
type Client struct {
	name         string
	explorer     string
	backend      Backend
	closeFn      func()
	commit       func()
	factory      common.Address
	hasFactory   bool
	pollInterval time.Duration
	timeout      time.Duration
	log          *slog.Logger

	mu        sync.Mutex
	chainID   *big.Int
	confirmed map[common.Hash]confirmation
}

type confirmation struct {
	result web3.TransactionResult
	err    error
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "rpc url is not configured")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "dial rpc endpoint")
	}
	eth := ethclient.NewClient(rpcClient)

	c, err := newClient(cfg, eth)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closeFn = eth.Close
	return c, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend. Every submitted
// transaction is mined immediately.
func NewSimulatedClient(cfg Config, sim *simulated.Backend) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "simulated"
	}
	c, err := newClient(cfg, sim.Client())
	if err != nil {
		return nil, err
	}
	c.commit = func() { sim.Commit() }
	return c, nil
}

func newClient(cfg Config, backend Backend) (*Client, error) {
	c := &Client{
		name:         cfg.Name,
		explorer:     strings.TrimRight(cfg.ExplorerURL, "/"),
		backend:      backend,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.ConfirmationTimeout,
		confirmed:    make(map[common.Hash]confirmation),
		log:          logger.Named("chain").With(slog.String("chain", cfg.Name)),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if factory := strings.TrimSpace(cfg.Create2Factory); factory != "" {
		if !common.IsHexAddress(factory) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid create2 factory %q", factory))
		}
		c.factory = common.HexToAddress(factory)
		c.hasFactory = true
	}
	return c, nil
}

// Name returns the configured chain name.
func (c *Client) Name() string { return c.name }

// ExplorerURL returns the block explorer base URL, if any.
func (c *Client) ExplorerURL() string { return c.explorer }

// Close releases the RPC connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeFn != nil {
		c.closeFn()
		c.closeFn = nil
	}
}

// ChainID returns the chain id, fetched once.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "fetch chain id")
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// DeployContract creates a contract. With a CREATE2 factory the address is
// derived from the factory, the salt and the init code hash; otherwise from
// the signer's nonce.
func (c *Client) DeployContract(ctx context.Context, req web3.DeployRequest) (web3.DeploymentResult, error) {
	if req.Signer == nil {
		return web3.DeploymentResult{}, xerrors.New(xerrors.CodeInvalidArgument, "deployment signer is required")
	}
	if len(req.InitCode) == 0 {
		return web3.DeploymentResult{}, xerrors.New(xerrors.CodeInvalidArgument, "init code is empty")
	}

	if !c.hasFactory {
		tx, err := c.send(ctx, req.Signer, nil, req.InitCode, nil, req.MaxFee, xerrors.CodeDeploymentRejected)
		if err != nil {
			return web3.DeploymentResult{}, err
		}
		from := crypto.PubkeyToAddress(req.Signer.PublicKey)
		address := crypto.CreateAddress(from, tx.Nonce())
		c.log.Info("contract creation submitted",
			slog.String("address", address.Hex()),
			slog.String("tx_hash", tx.Hash().Hex()))
		return web3.DeploymentResult{ContractAddress: address, TxHash: tx.Hash(), Salt: req.Salt}, nil
	}

	address := crypto.CreateAddress2(c.factory, req.Salt, crypto.Keccak256(req.InitCode))
	code, err := c.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return web3.DeploymentResult{}, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "check target address")
	}
	if len(code) > 0 {
		return web3.DeploymentResult{}, xerrors.New(xerrors.CodeDeploymentRejected,
			"a contract already exists at the salted address",
			xerrors.WithMetadata("address", address.Hex()),
			xerrors.WithMetadata("salt", req.Salt.Hex()))
	}

	payload := make([]byte, 0, common.HashLength+len(req.InitCode))
	payload = append(payload, req.Salt.Bytes()...)
	payload = append(payload, req.InitCode...)

	factory := c.factory
	tx, err := c.send(ctx, req.Signer, &factory, payload, nil, req.MaxFee, xerrors.CodeDeploymentRejected)
	if err != nil {
		return web3.DeploymentResult{}, err
	}
	c.log.Info("salted contract creation submitted",
		slog.String("address", address.Hex()),
		slog.String("salt", req.Salt.Hex()),
		slog.String("tx_hash", tx.Hash().Hex()))
	return web3.DeploymentResult{ContractAddress: address, TxHash: tx.Hash(), Salt: req.Salt, Deterministic: true}, nil
}

// Invoke signs and submits a state-mutating call.
func (c *Client) Invoke(ctx context.Context, req web3.InvokeRequest) (common.Hash, error) {
	if req.Signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "invoke signer is required")
	}
	if req.To == (common.Address{}) {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, "invoke target is required")
	}
	to := req.To
	tx, err := c.send(ctx, req.Signer, &to, req.Data, req.Value, req.MaxFee, xerrors.CodeTransactionRejected)
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// Call runs a read-only call against the latest block.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "contract call",
			xerrors.WithMetadata("to", to.Hex()))
	}
	return out, nil
}

// NativeBalance returns the balance in wei.
func (c *Client) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	balance, err := c.backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "fetch balance")
	}
	return balance, nil
}

// WaitForTransaction polls for the receipt until it shows up, the
// confirmation timeout elapses or ctx is cancelled. Final results are cached,
// so waiting again on the same hash returns the same answer without RPC.
func (c *Client) WaitForTransaction(ctx context.Context, hash common.Hash) (web3.TransactionResult, error) {
	c.mu.Lock()
	if done, ok := c.confirmed[hash]; ok {
		c.mu.Unlock()
		return done.result, done.err
	}
	c.mu.Unlock()

	waitCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.pollInterval
	policy.MaxInterval = 4 * c.pollInterval
	policy.MaxElapsedTime = 0

	var receipt *coretypes.Receipt
	lookup := func() error {
		r, err := c.backend.TransactionReceipt(waitCtx, hash)
		if err != nil {
			if !stdErrors.Is(err, gethcore.NotFound) {
				c.log.Debug("receipt lookup failed", slog.String("tx_hash", hash.Hex()), slog.Any("error", err))
			}
			return err
		}
		receipt = r
		return nil
	}
	if err := backoff.Retry(lookup, backoff.WithContext(policy, waitCtx)); err != nil {
		return web3.TransactionResult{Hash: hash, Status: web3.TxPending}, c.waitError(ctx, waitCtx, hash, err)
	}

	result := web3.TransactionResult{
		Hash:            hash,
		Status:          web3.TxAccepted,
		GasUsed:         receipt.GasUsed,
		ContractAddress: receipt.ContractAddress,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice != nil {
		result.EffectiveFee = new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
	}

	var resultErr error
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		result.Status = web3.TxRejected
		resultErr = xerrors.New(xerrors.CodeTransactionRejected, "transaction reverted",
			xerrors.WithMetadata("tx_hash", hash.Hex()),
			xerrors.WithMetadata("block", fmt.Sprintf("%d", result.BlockNumber)))
	}

	c.mu.Lock()
	c.confirmed[hash] = confirmation{result: result, err: resultErr}
	c.mu.Unlock()

	logger.Ledger().Info("transaction confirmed",
		slog.String("chain", c.name),
		slog.String("tx_hash", hash.Hex()),
		slog.String("status", string(result.Status)),
		slog.Uint64("block", result.BlockNumber),
		slog.Uint64("gas_used", result.GasUsed))
	return result, resultErr
}

func (c *Client) waitError(parent, waitCtx context.Context, hash common.Hash, err error) error {
	switch {
	case parent.Err() != nil:
		return xerrors.Wrap(xerrors.CodeAborted, parent.Err(), "confirmation wait cancelled",
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	case stdErrors.Is(waitCtx.Err(), context.DeadlineExceeded):
		return xerrors.Wrap(xerrors.CodeConfirmationTimeout, err, "",
			xerrors.WithMetadata("tx_hash", hash.Hex()),
			xerrors.WithMetadata("timeout", c.timeout.String()))
	default:
		return xerrors.Wrap(xerrors.CodeChainUnavailable, err, "fetch receipt",
			xerrors.WithMetadata("tx_hash", hash.Hex()))
	}
}

// send builds, prices, signs and submits a dynamic fee transaction. The fee
// cap is lowered to fit maxFee when possible; a ceiling below what the
// current base fee requires fails with FEE_CEILING_TOO_LOW before anything is
// broadcast.
func (c *Client) send(ctx context.Context, key *ecdsa.PrivateKey, to *common.Address, data []byte, value, maxFee *big.Int, rejectCode xerrors.Code) (*coretypes.Transaction, error) {
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "fetch nonce")
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "fetch latest header")
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainUnavailable, err, "suggest gas tip")
	}
	baseFee := new(big.Int)
	if head.BaseFee != nil {
		baseFee.Set(head.BaseFee)
	}
	floor := new(big.Int).Add(baseFee, tip)
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	estimate, err := c.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:      from,
		To:        to,
		Value:     value,
		Data:      data,
		GasFeeCap: feeCap,
		GasTipCap: tip,
	})
	if err != nil {
		return nil, classifySendError(err, rejectCode, "estimate gas")
	}
	gasLimit := estimate + estimate*gasHeadroomPercent/100

	if maxFee != nil && maxFee.Sign() > 0 {
		limit := new(big.Int).SetUint64(gasLimit)
		required := new(big.Int).Mul(limit, floor)
		if maxFee.Cmp(required) < 0 {
			return nil, xerrors.New(xerrors.CodeFeeCeilingTooLow, "",
				xerrors.WithMetadata("max_fee", maxFee.String()),
				xerrors.WithMetadata("required", required.String()),
				xerrors.WithMetadata("gas_limit", fmt.Sprintf("%d", gasLimit)))
		}
		if ceilingCap := new(big.Int).Div(maxFee, limit); ceilingCap.Cmp(feeCap) < 0 {
			feeCap = ceilingCap
		}
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        to,
		Value:     value,
		Data:      data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sign transaction")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classifySendError(err, rejectCode, "send transaction")
	}
	if c.commit != nil {
		c.commit()
	}

	target := "create"
	if to != nil {
		target = to.Hex()
	}
	logger.Ledger().Info("transaction submitted",
		slog.String("chain", c.name),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.String("from", from.Hex()),
		slog.String("to", target),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
		slog.String("fee_cap", feeCap.String()),
		slog.String("tip_cap", tip.String()))
	return signed, nil
}

var feeCeilingMessages = []string{
	"max fee per gas less than block base fee",
	"fee cap less than block base fee",
	"exceeds the configured cap",
	"transaction underpriced",
	"max fee exceeded",
}

// classifySendError maps node rejections onto the error taxonomy. Fee related
// rejections get their own code; everything else uses rejectCode.
func classifySendError(err error, rejectCode xerrors.Code, op string) error {
	if err == nil {
		return nil
	}
	if coded, ok := xerrors.From(err); ok {
		return coded
	}
	if stdErrors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeAborted, err, op)
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeChainUnavailable, err, op)
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range feeCeilingMessages {
		if strings.Contains(msg, needle) {
			return xerrors.Wrap(xerrors.CodeFeeCeilingTooLow, err, op)
		}
	}
	if strings.Contains(msg, "insufficient funds") {
		return xerrors.Wrap(rejectCode, err, op+": signer is not funded")
	}
	return xerrors.Wrap(rejectCode, err, op)
}

var _ web3.Client = (*Client)(nil)
