package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tokenflow/internal/artifact"
	"tokenflow/internal/config"
	"tokenflow/internal/console"
	"tokenflow/internal/journal"
	"tokenflow/internal/keys"
	"tokenflow/internal/observability/metrics"
	"tokenflow/internal/web3/provider"
	"tokenflow/internal/workflow"
	"tokenflow/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const pushTimeout = 10 * time.Second

// main runs one token workflow against the configured chain.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("tokenflow: %v", err)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "tokenflow.json")
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			configPath = ""
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("main")

	if cfg.Web3.SponsorKey == "" {
		return fmt.Errorf("no sponsor key: set %s to the private key paying for deployments", cfg.Web3.SponsorKeyEnv)
	}
	sponsor, err := keys.FromHex(cfg.Web3.SponsorKey)
	if err != nil {
		return err
	}

	accountContract, err := artifact.Load(cfg.Contracts.AccountArtifact)
	if err != nil {
		return err
	}
	tokenContract, err := artifact.Load(cfg.Contracts.TokenArtifact)
	if err != nil {
		return err
	}

	registry, err := provider.NewRegistry(cfg.Web3)
	if err != nil {
		return err
	}
	defer registry.Close()

	chain, err := registry.Connect(ctx, cfg.Web3.DefaultChain, provider.Options{
		PollInterval:        cfg.Workflow.PollInterval(),
		ConfirmationTimeout: cfg.Workflow.ConfirmationTimeout(),
	})
	if err != nil {
		return err
	}

	store, err := journal.OpenStore(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, err := journal.OpenPublisher(ctx, cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("close event publisher", slog.Any("error", err))
		}
	}()

	collector := metrics.NewCollector()

	gate, err := console.NewGate(cfg.Workflow.FundingMode, os.Stdin, os.Stdout, cfg.Workflow.FundingTimeout())
	if err != nil {
		return err
	}

	wfCfg, err := workflowConfig(cfg.Workflow)
	if err != nil {
		return err
	}
	runner, err := workflow.New(wfCfg, workflow.Deps{
		Chain:           chain,
		AccountContract: accountContract,
		TokenContract:   tokenContract,
		Sponsor:         sponsor,
		Gate:            gate,
		Narrator:        console.NewNarrator(os.Stdout, chain.ExplorerURL()),
		Observers:       []workflow.Observer{journal.NewRecorder(store, publisher), collector},
	})
	if err != nil {
		return err
	}

	report, runErr := runner.Run(ctx)

	if cfg.Metrics.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		if err := collector.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			log.Warn("metrics not pushed", slog.Any("error", err))
		}
		cancel()
	}

	log.Info("run complete",
		slog.String("run_id", report.RunID),
		slog.String("state", string(report.State)),
		slog.String("last_state", string(report.LastState)))
	return runErr
}

func workflowConfig(w config.WorkflowConfig) (workflow.Config, error) {
	mint, err := w.MintAmountValue()
	if err != nil {
		return workflow.Config{}, err
	}
	transfer, err := w.TransferAmountValue()
	if err != nil {
		return workflow.Config{}, err
	}
	maxFee, err := w.MaxFeeValue()
	if err != nil {
		return workflow.Config{}, err
	}
	cfg := workflow.Config{
		MintAmount:       mint,
		TransferAmount:   transfer,
		MaxFee:           maxFee,
		SaltMode:         w.SaltMode,
		RevealPrivateKey: w.RevealPrivateKey,
	}
	if w.TransferRecipient != "" {
		if !common.IsHexAddress(w.TransferRecipient) {
			return workflow.Config{}, fmt.Errorf("transfer_recipient %q is not an address", w.TransferRecipient)
		}
		cfg.TransferRecipient = common.HexToAddress(w.TransferRecipient)
	}
	return cfg, nil
}
