package workflow

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/keys"
	"tokenflow/internal/token"
	"tokenflow/internal/web3"
	"tokenflow/internal/web3/ethereum"
	"tokenflow/internal/web3/web3test"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"
)

var oneEther = big.NewInt(1_000_000_000_000_000_000)

// sponsorFunding pays the generated signer from the sponsor when the run
// reaches the funding gate. It learns the signer from the key_generated
// state change.
type sponsorFunding struct {
	chain   web3.Client
	sponsor *keys.KeyPair
	amount  *big.Int

	mu     sync.Mutex
	signer common.Address
}

func (f *sponsorFunding) RunStarted(context.Context, Report) {}

func (f *sponsorFunding) StateChanged(_ context.Context, change StateChange) {
	if change.To != StateKeyGenerated {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signer = common.HexToAddress(change.Attributes["signer"])
}

func (f *sponsorFunding) RunFinished(context.Context, Report, error) {}

func (f *sponsorFunding) Wait(ctx context.Context, _ string) error {
	f.mu.Lock()
	signer := f.signer
	f.mu.Unlock()

	hash, err := f.chain.Invoke(ctx, web3.InvokeRequest{
		Signer: f.sponsor.PrivateKey(),
		To:     signer,
		Value:  f.amount,
	})
	if err != nil {
		return err
	}
	_, err = f.chain.WaitForTransaction(ctx, hash)
	return err
}

func newSimulatedChain(t *testing.T, sponsor *keys.KeyPair) *ethereum.Client {
	t.Helper()
	funds := new(big.Int).Mul(big.NewInt(100), oneEther)
	sim := simulated.NewBackend(web3test.SimulatedGenesis(funds, sponsor.Address()))
	t.Cleanup(func() { _ = sim.Close() })

	chain, err := ethereum.NewSimulatedClient(ethereum.Config{
		Create2Factory:      web3.DeterministicDeployer,
		PollInterval:        10 * time.Millisecond,
		ConfirmationTimeout: 5 * time.Second,
	}, sim)
	require.NoError(t, err)
	t.Cleanup(chain.Close)
	return chain
}

func TestRunOnSimulatedChain(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sponsor, err := keys.Generate(nil)
	require.NoError(t, err)
	chain := newSimulatedChain(t, sponsor)
	funding := &sponsorFunding{chain: chain, sponsor: sponsor, amount: oneEther}

	cfg := defaultConfig()
	cfg.MaxFee = new(big.Int).Div(oneEther, big.NewInt(10))
	accountContract := web3test.EVMAccountArtifact()
	tokenContract := web3test.EVMTokenArtifact()
	r, err := New(cfg, Deps{
		Chain:           chain,
		AccountContract: accountContract,
		TokenContract:   tokenContract,
		Sponsor:         sponsor,
		Gate:            funding,
		Observers:       []Observer{funding},
	})
	require.NoError(t, err)

	report, err := r.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, StateDone, report.State)
	require.Equal(t, "500", report.BalanceAfterMint.String())
	require.Equal(t, "480", report.BalanceAfterTransfer.String())
	require.Empty(t, report.Warnings)
	require.Equal(t, oneEther.String(), report.SignerNativeBalance.String())

	require.True(t, report.Account.Deterministic)
	require.True(t, report.Token.Deterministic)
	require.Equal(t, report.Token.ContractAddress, report.Recipient)

	kinds := make([]string, 0, len(report.Transactions))
	for _, tx := range report.Transactions {
		require.True(t, tx.Accepted(), tx.Kind)
		require.NotNil(t, tx.EffectiveFee)
		require.True(t, tx.EffectiveFee.Cmp(cfg.MaxFee) <= 0, tx.Kind)
		kinds = append(kinds, tx.Kind)
	}
	require.Equal(t, []string{TxAccountDeploy, TxTokenDeploy, TxMint, TxTransfer}, kinds)

	calldata, err := accountContract.ABI.Pack("owner")
	require.NoError(t, err)
	out, err := chain.Call(ctx, report.Account.ContractAddress, calldata)
	require.NoError(t, err)
	owner, err := accountContract.ABI.Unpack("owner", out)
	require.NoError(t, err)
	require.Equal(t, report.Signer, owner[0])

	bound, err := token.New(chain, tokenContract, report.Token.ContractAddress)
	require.NoError(t, err)
	received, err := bound.BalanceOf(ctx, report.Recipient)
	require.NoError(t, err)
	require.Equal(t, "20", received.String())
}

func TestRunOnSimulatedChainStopsOnFeeCeiling(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sponsor, err := keys.Generate(nil)
	require.NoError(t, err)
	chain := newSimulatedChain(t, sponsor)

	cfg := defaultConfig()
	cfg.MaxFee = big.NewInt(1)
	r, err := New(cfg, Deps{
		Chain:           chain,
		AccountContract: web3test.EVMAccountArtifact(),
		TokenContract:   web3test.EVMTokenArtifact(),
		Sponsor:         sponsor,
		Gate:            &sponsorFunding{chain: chain, sponsor: sponsor, amount: oneEther},
	})
	require.NoError(t, err)

	report, err := r.Run(ctx)
	require.Equal(t, xerrors.CodeFeeCeilingTooLow, xerrors.CodeOf(err))
	require.Equal(t, StateFailed, report.State)
	require.Equal(t, StateKeyGenerated, report.LastState)
	require.Empty(t, report.Transactions)
}
