package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tokenflow/pkg/logger"
)

// Environment variables that override values from the config file.
const (
	EnvConfigPath = "TOKENFLOW_CONFIG"
	EnvRPCURL     = "TOKENFLOW_RPC_URL"
	EnvSponsorKey = "TOKENFLOW_SPONSOR_KEY"
	EnvAPIToken   = "TOKENFLOW_API_TOKEN"
)

// Funding gate modes.
const (
	FundingModePrompt = "prompt"
	FundingModeSkip   = "skip"
)

// Salt modes for the account deployment.
const (
	SaltModeRandom    = "random"
	SaltModePublicKey = "public_key"
)

// Config is everything tokenflow reads at start-up.
type Config struct {
	Web3      Web3Config      `json:"web3"`
	Contracts ContractsConfig `json:"contracts"`
	Workflow  WorkflowConfig  `json:"workflow"`
	Journal   JournalConfig   `json:"journal"`
	Events    EventsConfig    `json:"events"`
	Metrics   MetricsConfig   `json:"metrics"`
	API       APIConfig       `json:"api"`
	Logging   logger.Config   `json:"logging"`
}

// Web3Config selects the network and the key paying for deployments.
type Web3Config struct {
	ChainConfig   string `json:"chain_config"`
	DefaultChain  string `json:"default_chain"`
	RPCURL        string `json:"rpc_url"`
	SponsorKeyEnv string `json:"sponsor_key_env"`
	// SponsorKey is only ever read from the environment.
	SponsorKey string `json:"-"`
}

// ContractsConfig points at the compiled contract artifacts.
type ContractsConfig struct {
	AccountArtifact string `json:"account_artifact"`
	TokenArtifact   string `json:"token_artifact"`
}

// WorkflowConfig holds the tunables of a run. Amounts are base-10 strings in
// the token's smallest unit; MaxFee is in wei.
type WorkflowConfig struct {
	MintAmount                 string `json:"mint_amount"`
	TransferAmount             string `json:"transfer_amount"`
	TransferRecipient          string `json:"transfer_recipient"`
	MaxFee                     string `json:"max_fee"`
	ConfirmationTimeoutSeconds int    `json:"confirmation_timeout_seconds"`
	PollIntervalMillis         int    `json:"poll_interval_ms"`
	FundingMode                string `json:"funding_mode"`
	FundingTimeoutSeconds      int    `json:"funding_timeout_seconds"`
	SaltMode                   string `json:"salt_mode"`
	RevealPrivateKey           bool   `json:"reveal_private_key"`
}

// JournalConfig selects where run records are stored. The memory driver
// lives and dies with the process that ran the workflow; tokenflow-journal
// only starts on a store shared between processes, which today is mysql.
type JournalConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// EventsConfig selects where step events are published.
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig describes the Redis list receiving step events.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
	MaxLen   int64  `json:"max_len"`
}

// RabbitMQConfig describes the queue receiving step events.
type RabbitMQConfig struct {
	URL     string `json:"url"`
	Queue   string `json:"queue"`
	Durable bool   `json:"durable"`
}

// MetricsConfig enables pushing run metrics to a Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `json:"pushgateway_url"`
	Job            string `json:"job"`
}

// APIConfig configures the journal HTTP API served by tokenflow-journal.
// Its /metrics endpoint exposes the API process itself; per-run metrics
// reach Prometheus through the Pushgateway in MetricsConfig.
type APIConfig struct {
	Address  string `json:"address"`
	TokenEnv string `json:"token_env"`
	// Token is only ever read from the environment. Empty disables auth.
	Token string `json:"-"`
}

// Load parses the JSON config at path, applies defaults and environment
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyDefaults(baseDir)
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in what the file left empty. Relative paths resolve
// against the directory holding the config file.
func (c *Config) applyDefaults(baseDir string) {
	if c.Web3.SponsorKeyEnv == "" {
		c.Web3.SponsorKeyEnv = EnvSponsorKey
	}
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)

	if c.Contracts.AccountArtifact == "" {
		c.Contracts.AccountArtifact = filepath.Join("contracts", "out", "SimpleAccount.json")
	}
	if c.Contracts.TokenArtifact == "" {
		c.Contracts.TokenArtifact = filepath.Join("contracts", "out", "DemoToken.json")
	}
	c.Contracts.AccountArtifact = resolve(baseDir, c.Contracts.AccountArtifact)
	c.Contracts.TokenArtifact = resolve(baseDir, c.Contracts.TokenArtifact)

	w := &c.Workflow
	if w.MintAmount == "" {
		w.MintAmount = "500"
	}
	if w.TransferAmount == "" {
		w.TransferAmount = "20"
	}
	if w.MaxFee == "" {
		w.MaxFee = "999999995330000"
	}
	if w.ConfirmationTimeoutSeconds <= 0 {
		w.ConfirmationTimeoutSeconds = 300
	}
	if w.PollIntervalMillis <= 0 {
		w.PollIntervalMillis = 2000
	}
	if w.FundingMode == "" {
		w.FundingMode = FundingModePrompt
	}
	if w.SaltMode == "" {
		w.SaltMode = SaltModeRandom
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "tokenflow"
	}
	if c.API.Address == "" {
		c.API.Address = ":8080"
	}
	if c.API.TokenEnv == "" {
		c.API.TokenEnv = EnvAPIToken
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvRPCURL)); v != "" {
		c.Web3.RPCURL = v
	}
	c.Web3.SponsorKey = strings.TrimSpace(os.Getenv(c.Web3.SponsorKeyEnv))
	c.API.Token = strings.TrimSpace(os.Getenv(c.API.TokenEnv))
}

// Validate checks the values that would otherwise fail halfway through a run.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Workflow.MintAmountValue(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Workflow.TransferAmountValue(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Workflow.MaxFeeValue(); err != nil {
		errs = append(errs, err)
	}
	switch c.Workflow.FundingMode {
	case FundingModePrompt, FundingModeSkip:
	default:
		errs = append(errs, fmt.Errorf("unknown funding_mode %q", c.Workflow.FundingMode))
	}
	switch c.Workflow.SaltMode {
	case SaltModeRandom, SaltModePublicKey:
	default:
		errs = append(errs, fmt.Errorf("unknown salt_mode %q", c.Workflow.SaltMode))
	}
	if c.Web3.ChainConfig == "" && c.Web3.RPCURL == "" {
		errs = append(errs, fmt.Errorf("no chain configured: set web3.chain_config, web3.rpc_url or %s", EnvRPCURL))
	}
	return errors.Join(errs...)
}

// MintAmountValue parses mint_amount.
func (w WorkflowConfig) MintAmountValue() (*big.Int, error) {
	return parseAmount("mint_amount", w.MintAmount)
}

// TransferAmountValue parses transfer_amount.
func (w WorkflowConfig) TransferAmountValue() (*big.Int, error) {
	return parseAmount("transfer_amount", w.TransferAmount)
}

// MaxFeeValue parses max_fee.
func (w WorkflowConfig) MaxFeeValue() (*big.Int, error) {
	return parseAmount("max_fee", w.MaxFee)
}

// ConfirmationTimeout bounds every wait for a transaction.
func (w WorkflowConfig) ConfirmationTimeout() time.Duration {
	return time.Duration(w.ConfirmationTimeoutSeconds) * time.Second
}

// PollInterval is the initial delay between receipt lookups.
func (w WorkflowConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMillis) * time.Millisecond
}

// FundingTimeout bounds the funding prompt; zero waits until cancelled.
func (w WorkflowConfig) FundingTimeout() time.Duration {
	return time.Duration(w.FundingTimeoutSeconds) * time.Second
}

// ConnMaxLifetime converts the configured seconds.
func (j JournalConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(j.ConnMaxLifetimeSeconds) * time.Second
}

func parseAmount(name, value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a base-10 integer", name, value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive", name)
	}
	if amount.BitLen() > 256 {
		return nil, fmt.Errorf("%s does not fit in uint256", name)
	}
	return amount, nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
