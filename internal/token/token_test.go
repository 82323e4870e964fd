package token

import (
	"context"
	"math/big"
	"testing"

	"tokenflow/internal/account"
	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/keys"
	"tokenflow/internal/web3"
	"tokenflow/internal/web3/web3test"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	chain   *web3test.Chain
	account *account.Client
	token   *Token
}

func confirm(t *testing.T, chain web3.Client, hash common.Hash) {
	t.Helper()
	res, err := chain.WaitForTransaction(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, res.Accepted())
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	chain := web3test.NewChain()
	kp, err := keys.Generate(nil)
	require.NoError(t, err)

	acct, err := account.Deploy(ctx, chain, web3test.AccountArtifact(), kp.PrivateKey(), kp.Address(), common.HexToHash("0xaa"), nil)
	require.NoError(t, err)
	confirm(t, chain, acct.TxHash)

	tok, err := Deploy(ctx, chain, web3test.TokenArtifact(), kp.PrivateKey(), common.HexToHash("0xbb"), nil)
	require.NoError(t, err)
	confirm(t, chain, tok.TxHash)

	client, err := account.New(chain, web3test.AccountArtifact(), kp, acct.ContractAddress)
	require.NoError(t, err)
	token, err := New(chain, web3test.TokenArtifact(), tok.ContractAddress)
	require.NoError(t, err)
	return fixture{chain: chain, account: client, token: token}
}

func TestMintThenTransfer(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	holder := f.account.Address()

	hash, err := f.token.Mint(ctx, f.account, holder, big.NewInt(500), nil)
	require.NoError(t, err)
	confirm(t, f.chain, hash)

	balance, err := f.token.BalanceOf(ctx, holder)
	require.NoError(t, err)
	require.Equal(t, "500", balance.String())

	hash, err = f.token.Transfer(ctx, f.account, f.token.Address(), big.NewInt(20), nil)
	require.NoError(t, err)
	confirm(t, f.chain, hash)

	balance, err = f.token.BalanceOf(ctx, holder)
	require.NoError(t, err)
	require.Equal(t, "480", balance.String())

	received, err := f.token.BalanceOf(ctx, f.token.Address())
	require.NoError(t, err)
	require.Equal(t, "20", received.String())
}

func TestOverdraftIsRejectedOnConfirmation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	hash, err := f.token.Transfer(ctx, f.account, common.HexToAddress("0x3"), big.NewInt(1), nil)
	require.NoError(t, err)

	res, err := f.chain.WaitForTransaction(ctx, hash)
	require.Equal(t, xerrors.CodeTransactionRejected, xerrors.CodeOf(err))
	require.Equal(t, web3.TxRejected, res.Status)
}

func TestAmountsMustBePositive(t *testing.T) {
	f := setup(t)
	_, err := f.token.Mint(context.Background(), f.account, f.account.Address(), big.NewInt(0), nil)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	_, err = f.token.Transfer(context.Background(), f.account, f.account.Address(), nil, nil)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestMalformedBalance(t *testing.T) {
	f := setup(t)
	f.chain.MalformedBalance = true

	_, err := f.token.BalanceOf(context.Background(), f.account.Address())
	require.Equal(t, xerrors.CodeMalformedResponse, xerrors.CodeOf(err))
	require.False(t, xerrors.IsFatal(err))
}

func TestBalanceOfContractlessAddress(t *testing.T) {
	chain := web3test.NewChain()
	tok, err := New(chain, web3test.TokenArtifact(), common.HexToAddress("0x4"))
	require.NoError(t, err)

	_, err = tok.BalanceOf(context.Background(), common.HexToAddress("0x5"))
	require.Equal(t, xerrors.CodeMalformedResponse, xerrors.CodeOf(err))
}

func TestFeeCeilingSurfaces(t *testing.T) {
	f := setup(t)
	f.chain.RequiredFee = big.NewInt(1000)

	_, err := f.token.Mint(context.Background(), f.account, f.account.Address(), big.NewInt(1), big.NewInt(999))
	require.Equal(t, xerrors.CodeFeeCeilingTooLow, xerrors.CodeOf(err))
}
