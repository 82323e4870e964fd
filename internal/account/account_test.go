package account

import (
	"context"
	"math/big"
	"testing"

	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/keys"
	"tokenflow/internal/token"
	"tokenflow/internal/web3/web3test"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func deployAccount(t *testing.T, chain *web3test.Chain, owner *keys.KeyPair) common.Address {
	t.Helper()
	ctx := context.Background()
	sponsor, err := keys.Generate(nil)
	require.NoError(t, err)

	res, err := Deploy(ctx, chain, web3test.AccountArtifact(), sponsor.PrivateKey(), owner.Address(), owner.PublicKeySalt(), nil)
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, res.ContractAddress)

	receipt, err := chain.WaitForTransaction(ctx, res.TxHash)
	require.NoError(t, err)
	require.True(t, receipt.Accepted())
	return res.ContractAddress
}

func TestNewValidatesInput(t *testing.T) {
	chain := web3test.NewChain()
	kp, err := keys.Generate(nil)
	require.NoError(t, err)
	addr := common.HexToAddress("0x1")

	_, err = New(nil, web3test.AccountArtifact(), kp, addr)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	_, err = New(chain, web3test.AccountArtifact(), nil, addr)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	_, err = New(chain, web3test.AccountArtifact(), kp, common.Address{})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	_, err = New(chain, web3test.TokenArtifact(), kp, addr)
	require.ErrorContains(t, err, "execute")

	client, err := New(chain, web3test.AccountArtifact(), kp, addr)
	require.NoError(t, err)
	require.Equal(t, addr, client.Address())
	require.Equal(t, kp.Address(), client.Signer())
	require.Empty(t, chain.Trace(), "binding must not touch the chain")
}

func TestOwnerReadsConstructorArgument(t *testing.T) {
	chain := web3test.NewChain()
	kp, err := keys.Generate(nil)
	require.NoError(t, err)
	addr := deployAccount(t, chain, kp)

	client, err := New(chain, web3test.AccountArtifact(), kp, addr)
	require.NoError(t, err)
	owner, err := client.Owner(context.Background())
	require.NoError(t, err)
	require.Equal(t, kp.Address(), owner)
}

func TestExecuteRelaysTokenCalls(t *testing.T) {
	ctx := context.Background()
	chain := web3test.NewChain()
	kp, err := keys.Generate(nil)
	require.NoError(t, err)
	addr := deployAccount(t, chain, kp)

	res, err := token.Deploy(ctx, chain, web3test.TokenArtifact(), kp.PrivateKey(), common.HexToHash("0x01"), nil)
	require.NoError(t, err)
	_, err = chain.WaitForTransaction(ctx, res.TxHash)
	require.NoError(t, err)

	client, err := New(chain, web3test.AccountArtifact(), kp, addr)
	require.NoError(t, err)

	tokenABI := web3test.TokenArtifact().ABI
	data, err := tokenABI.Pack("mint", addr, big.NewInt(7))
	require.NoError(t, err)
	hash, err := client.Execute(ctx, res.ContractAddress, nil, data, nil)
	require.NoError(t, err)
	_, err = chain.WaitForTransaction(ctx, hash)
	require.NoError(t, err)

	require.Equal(t, "7", chain.TokenBalance(res.ContractAddress, addr).String())
}

func TestExecuteFromForeignKeyIsRejected(t *testing.T) {
	chain := web3test.NewChain()
	owner, err := keys.Generate(nil)
	require.NoError(t, err)
	stranger, err := keys.Generate(nil)
	require.NoError(t, err)
	addr := deployAccount(t, chain, owner)

	client, err := New(chain, web3test.AccountArtifact(), stranger, addr)
	require.NoError(t, err)
	_, err = client.Execute(context.Background(), common.HexToAddress("0x2"), nil, []byte{1, 2, 3, 4}, nil)
	require.Equal(t, xerrors.CodeTransactionRejected, xerrors.CodeOf(err))
}
