package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/web3"
	"tokenflow/internal/web3/web3test"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"
)

const (
	// Creation code whose runtime emits one LOG1 on every call.
	simpleContractBin = "0x6027600c60003960276000f37f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
)

var generousFee = new(big.Int).Mul(big.NewInt(1), big.NewInt(1_000_000_000_000_000_000))

func newSimulated(t *testing.T, cfg Config) (*Client, *ecdsa.PrivateKey, *simulated.Backend) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000))
	sim := simulated.NewBackend(web3test.SimulatedGenesis(funds, crypto.PubkeyToAddress(key.PublicKey)))
	t.Cleanup(func() { _ = sim.Close() })

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.ConfirmationTimeout == 0 {
		cfg.ConfirmationTimeout = 5 * time.Second
	}
	client, err := NewSimulatedClient(cfg, sim)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, key, sim
}

func TestDeployWithCreateAndWaitIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, key, _ := newSimulated(t, Config{})

	deployed, err := client.DeployContract(ctx, web3.DeployRequest{
		Signer:   key,
		InitCode: common.FromHex(simpleContractBin),
		MaxFee:   generousFee,
	})
	require.NoError(t, err)
	require.NotEqual(t, common.Address{}, deployed.ContractAddress)
	require.False(t, deployed.Deterministic)

	first, err := client.WaitForTransaction(ctx, deployed.TxHash)
	require.NoError(t, err)
	require.True(t, first.Accepted())
	require.Equal(t, deployed.ContractAddress, first.ContractAddress)
	require.NotZero(t, first.BlockNumber)

	second, err := client.WaitForTransaction(ctx, deployed.TxHash)
	require.NoError(t, err)
	require.Equal(t, first, second)

	chainID, err := client.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1337), chainID.Int64())
}

func TestDeployThroughCreate2Factory(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, key, sim := newSimulated(t, Config{Create2Factory: web3.DeterministicDeployer})

	initCode := common.FromHex(simpleContractBin)
	salt := common.HexToHash("0x01")
	expected := crypto.CreateAddress2(common.HexToAddress(web3.DeterministicDeployer), salt, crypto.Keccak256(initCode))

	deployed, err := client.DeployContract(ctx, web3.DeployRequest{Signer: key, InitCode: initCode, Salt: salt, MaxFee: generousFee})
	require.NoError(t, err)
	require.True(t, deployed.Deterministic)
	require.Equal(t, expected, deployed.ContractAddress)

	result, err := client.WaitForTransaction(ctx, deployed.TxHash)
	require.NoError(t, err)
	require.True(t, result.Accepted())

	code, err := sim.Client().CodeAt(ctx, expected, nil)
	require.NoError(t, err)
	require.NotEmpty(t, code)

	_, err = client.DeployContract(ctx, web3.DeployRequest{Signer: key, InitCode: initCode, Salt: salt, MaxFee: generousFee})
	require.Error(t, err)
	require.Equal(t, xerrors.CodeDeploymentRejected, xerrors.CodeOf(err))
}

func TestInvokeRespectsFeeCeiling(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, key, _ := newSimulated(t, Config{})
	deployed, err := client.DeployContract(ctx, web3.DeployRequest{Signer: key, InitCode: common.FromHex(simpleContractBin), MaxFee: generousFee})
	require.NoError(t, err)
	_, err = client.WaitForTransaction(ctx, deployed.TxHash)
	require.NoError(t, err)

	_, err = client.Invoke(ctx, web3.InvokeRequest{Signer: key, To: deployed.ContractAddress, MaxFee: big.NewInt(1)})
	require.Error(t, err)
	require.Equal(t, xerrors.CodeFeeCeilingTooLow, xerrors.CodeOf(err))

	hash, err := client.Invoke(ctx, web3.InvokeRequest{Signer: key, To: deployed.ContractAddress, MaxFee: generousFee})
	require.NoError(t, err)
	result, err := client.WaitForTransaction(ctx, hash)
	require.NoError(t, err)
	require.True(t, result.Accepted())
	require.NotNil(t, result.EffectiveFee)
	require.True(t, result.EffectiveFee.Cmp(generousFee) <= 0)

	balance, err := client.NativeBalance(ctx, crypto.PubkeyToAddress(key.PublicKey))
	require.NoError(t, err)
	require.Positive(t, balance.Sign())
}

func TestWaitForUnknownTransactionTimesOut(t *testing.T) {
	t.Parallel()
	client, _, _ := newSimulated(t, Config{ConfirmationTimeout: 150 * time.Millisecond})

	result, err := client.WaitForTransaction(context.Background(), common.HexToHash("0xdead"))
	require.Error(t, err)
	require.Equal(t, xerrors.CodeConfirmationTimeout, xerrors.CodeOf(err))
	require.Equal(t, web3.TxPending, result.Status)
}

func TestWaitCancelledByCaller(t *testing.T) {
	t.Parallel()
	client, _, _ := newSimulated(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := client.WaitForTransaction(ctx, common.HexToHash("0xbeef"))
	require.Equal(t, xerrors.CodeAborted, xerrors.CodeOf(err))
}

func TestClassifySendError(t *testing.T) {
	cases := []struct {
		err  error
		want xerrors.Code
	}{
		{errors.New("max fee per gas less than block base fee: address 0x1"), xerrors.CodeFeeCeilingTooLow},
		{errors.New("tx fee (1.20 ether) exceeds the configured cap (1.00 ether)"), xerrors.CodeFeeCeilingTooLow},
		{errors.New("insufficient funds for gas * price + value"), xerrors.CodeTransactionRejected},
		{errors.New("execution reverted"), xerrors.CodeTransactionRejected},
		{context.Canceled, xerrors.CodeAborted},
		{xerrors.New(xerrors.CodeChainUnavailable, ""), xerrors.CodeChainUnavailable},
	}
	for _, tc := range cases {
		got := classifySendError(tc.err, xerrors.CodeTransactionRejected, "send")
		require.Equal(t, tc.want, xerrors.CodeOf(got), tc.err.Error())
	}
	require.Equal(t, xerrors.CodeDeploymentRejected,
		xerrors.CodeOf(classifySendError(errors.New("boom"), xerrors.CodeDeploymentRejected, "send")))
}

func TestNewClientRequiresURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}
