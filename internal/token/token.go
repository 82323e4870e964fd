// Package token encodes and decodes calls to the demo ERC20 contract.
package token

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"tokenflow/internal/artifact"
	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	methodMint      = "mint"
	methodTransfer  = "transfer"
	methodBalanceOf = "balanceOf"
)

// Executor relays a call through an account contract.
type Executor interface {
	Execute(ctx context.Context, target common.Address, value *big.Int, data []byte, maxFee *big.Int) (common.Hash, error)
}

// Deploy submits the token contract. It takes no constructor arguments.
func Deploy(ctx context.Context, chain web3.Client, contract *artifact.Contract, sponsor *ecdsa.PrivateKey, salt common.Hash, maxFee *big.Int) (web3.DeploymentResult, error) {
	if err := contract.RequireMethods(methodMint, methodTransfer, methodBalanceOf); err != nil {
		return web3.DeploymentResult{}, err
	}
	initCode, err := contract.InitCode()
	if err != nil {
		return web3.DeploymentResult{}, err
	}
	return chain.DeployContract(ctx, web3.DeployRequest{
		Signer:   sponsor,
		InitCode: initCode,
		Salt:     salt,
		MaxFee:   maxFee,
	})
}

// Token is a deployed ERC20 contract.
type Token struct {
	chain   web3.Client
	abi     abi.ABI
	address common.Address
}

// New binds the token at address.
func New(chain web3.Client, contract *artifact.Contract, address common.Address) (*Token, error) {
	switch {
	case chain == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain client is required")
	case contract == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token contract is required")
	case address == (common.Address{}):
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token address is required")
	}
	if err := contract.RequireMethods(methodMint, methodTransfer, methodBalanceOf); err != nil {
		return nil, err
	}
	return &Token{chain: chain, abi: contract.ABI, address: address}, nil
}

// Address returns the token contract address.
func (t *Token) Address() common.Address { return t.address }

// Mint creates amount new tokens for to, sent through via.
func (t *Token) Mint(ctx context.Context, via Executor, to common.Address, amount, maxFee *big.Int) (common.Hash, error) {
	return t.relay(ctx, via, methodMint, to, amount, maxFee)
}

// Transfer moves amount from the executing account to to.
func (t *Token) Transfer(ctx context.Context, via Executor, to common.Address, amount, maxFee *big.Int) (common.Hash, error) {
	return t.relay(ctx, via, methodTransfer, to, amount, maxFee)
}

func (t *Token) relay(ctx context.Context, via Executor, method string, to common.Address, amount, maxFee *big.Int) (common.Hash, error) {
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, xerrors.New(xerrors.CodeInvalidArgument, method+" amount must be positive")
	}
	data, err := t.abi.Pack(method, to, amount)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode "+method)
	}
	return via.Execute(ctx, t.address, nil, data, maxFee)
}

// BalanceOf reads the token balance of holder at the latest block. An
// answer that does not decode as a single uint256 is MALFORMED_RESPONSE.
func (t *Token) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	data, err := t.abi.Pack(methodBalanceOf, holder)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode balanceOf")
	}
	out, err := t.chain.Call(ctx, t.address, data)
	if err != nil {
		return nil, err
	}
	values, err := t.abi.Unpack(methodBalanceOf, out)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedResponse, err, "decode balance",
			xerrors.WithMetadata("token", t.address.Hex()),
			xerrors.WithMetadata("raw", common.Bytes2Hex(out)))
	}
	if len(values) != 1 {
		return nil, xerrors.New(xerrors.CodeMalformedResponse, "balance has unexpected arity",
			xerrors.WithMetadata("token", t.address.Hex()))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeMalformedResponse, "balance is not an integer",
			xerrors.WithMetadata("token", t.address.Hex()))
	}
	return balance, nil
}
