// Package account binds a key pair to its deployed account contract.
//
// The account contract is a minimal smart wallet: it records an owner at
// construction and forwards execute(target, value, data) calls sent by that
// owner. Every state change the workflow makes after funding goes through it.
package account

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"tokenflow/internal/artifact"
	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/keys"
	"tokenflow/internal/web3"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	methodExecute = "execute"
	methodOwner   = "owner"
)

// Deploy submits the account contract with owner as its constructor argument.
// The sponsor signs and pays for the creation.
func Deploy(ctx context.Context, chain web3.Client, contract *artifact.Contract, sponsor *ecdsa.PrivateKey, owner common.Address, salt common.Hash, maxFee *big.Int) (web3.DeploymentResult, error) {
	if err := contract.RequireMethods(methodExecute); err != nil {
		return web3.DeploymentResult{}, err
	}
	initCode, err := contract.InitCode(owner)
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

// Client sends calls through a deployed account contract.
type Client struct {
	chain   web3.Client
	abi     abi.ABI
	key     *keys.KeyPair
	address common.Address
}

// New binds key to the account at address. It does not touch the chain.
func New(chain web3.Client, contract *artifact.Contract, key *keys.KeyPair, address common.Address) (*Client, error) {
	switch {
	case chain == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain client is required")
	case contract == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "account contract is required")
	case key == nil:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "account key pair is required")
	case address == (common.Address{}):
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "account address is required")
	}
	if err := contract.RequireMethods(methodExecute); err != nil {
		return nil, err
	}
	return &Client{chain: chain, abi: contract.ABI, key: key, address: address}, nil
}

// Address returns the account contract address.
func (c *Client) Address() common.Address { return c.address }

// Signer returns the address of the key that controls the account.
func (c *Client) Signer() common.Address { return c.key.Address() }

// Execute asks the account to call target with data and value. The outer
// transaction is signed by the owner key and bounded by maxFee.
func (c *Client) Execute(ctx context.Context, target common.Address, value *big.Int, data []byte, maxFee *big.Int) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	calldata, err := c.abi.Pack(methodExecute, target, value, data)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode account call",
			xerrors.WithMetadata("target", target.Hex()))
	}
	return c.chain.Invoke(ctx, web3.InvokeRequest{
		Signer: c.key.PrivateKey(),
		To:     c.address,
		Data:   calldata,
		MaxFee: maxFee,
	})
}

// Owner reads the owner recorded by the contract. The ABI must expose owner().
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	if _, ok := c.abi.Methods[methodOwner]; !ok {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "account abi has no owner method")
	}
	calldata, err := c.abi.Pack(methodOwner)
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode owner call")
	}
	out, err := c.chain.Call(ctx, c.address, calldata)
	if err != nil {
		return common.Address{}, err
	}
	values, err := c.abi.Unpack(methodOwner, out)
	if err != nil || len(values) != 1 {
		return common.Address{}, xerrors.Wrap(xerrors.CodeMalformedResponse, err, "decode owner",
			xerrors.WithMetadata("account", c.address.Hex()))
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, xerrors.New(xerrors.CodeMalformedResponse, "owner is not an address")
	}
	return owner, nil
}
