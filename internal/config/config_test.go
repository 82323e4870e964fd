package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tokenflow.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	t.Setenv(EnvSponsorKey, "")
	path := writeConfig(t, `{"web3": {"chain_config": "chains.yaml"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	require.Equal(t, filepath.Join(dir, "chains.yaml"), cfg.Web3.ChainConfig)
	require.Equal(t, filepath.Join(dir, "contracts", "out", "SimpleAccount.json"), cfg.Contracts.AccountArtifact)
	require.Equal(t, "500", cfg.Workflow.MintAmount)
	require.Equal(t, "20", cfg.Workflow.TransferAmount)
	require.Equal(t, 5*time.Minute, cfg.Workflow.ConfirmationTimeout())
	require.Equal(t, 2*time.Second, cfg.Workflow.PollInterval())
	require.Equal(t, time.Duration(0), cfg.Workflow.FundingTimeout())
	require.Equal(t, FundingModePrompt, cfg.Workflow.FundingMode)
	require.Equal(t, SaltModeRandom, cfg.Workflow.SaltMode)
	require.Equal(t, "memory", cfg.Journal.Driver)
	require.Equal(t, ":8080", cfg.API.Address)

	fee, err := cfg.Workflow.MaxFeeValue()
	require.NoError(t, err)
	require.Equal(t, "999999995330000", fee.String())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvRPCURL, "http://127.0.0.1:8545")
	t.Setenv("DEMO_SPONSOR", "0xabc")
	path := writeConfig(t, `{"web3": {"rpc_url": "http://ignored", "sponsor_key_env": "DEMO_SPONSOR"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:8545", cfg.Web3.RPCURL)
	require.Equal(t, "0xabc", cfg.Web3.SponsorKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	path := writeConfig(t, `{
		"web3": {"rpc_url": "http://localhost:8545"},
		"workflow": {"mint_amount": "-5", "max_fee": "abc", "funding_mode": "auto", "salt_mode": "zero"}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	require.ErrorContains(t, err, "mint_amount must be positive")
	require.ErrorContains(t, err, "max_fee")
	require.ErrorContains(t, err, `unknown funding_mode "auto"`)
	require.ErrorContains(t, err, `unknown salt_mode "zero"`)
}

func TestLoadWithoutChainFails(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	_, err := Load("")
	require.ErrorContains(t, err, "no chain configured")
}
