package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"tokenflow/internal/account"
	"tokenflow/internal/config"
	xerrors "tokenflow/internal/errors"
	"tokenflow/internal/keys"
	"tokenflow/internal/token"
	"tokenflow/internal/web3"
	"tokenflow/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const fundingPrompt = "Press Enter once the signer address holds enough native currency to pay for gas... "

func (rn *run) generateKey(context.Context) (State, error) {
	rn.deps.Narrator.Banner("Generating key pair")
	key, err := keys.Generate(rn.deps.Random)
	if err != nil {
		return "", err
	}
	rn.key = key
	rn.report.Signer = key.Address()
	rn.report.PublicKey = key.PublicKeyHex()

	rn.deps.Narrator.Address("Signer address", key.Address())
	rn.deps.Narrator.Printf("Public key: %s", key.PublicKeyHex())
	if rn.cfg.RevealPrivateKey {
		rn.deps.Narrator.Printf("Private key: %s", key.PrivateKeyHex())
	}
	rn.attrs["signer"] = key.Address().Hex()
	return StateKeyGenerated, nil
}

func (rn *run) accountSalt() (common.Hash, error) {
	if rn.cfg.SaltMode == config.SaltModePublicKey {
		return rn.key.PublicKeySalt(), nil
	}
	return keys.RandomSalt(rn.deps.Random)
}

func (rn *run) deployAccount(ctx context.Context) (State, error) {
	rn.deps.Narrator.Banner("Deploying account contract")
	salt, err := rn.accountSalt()
	if err != nil {
		return "", err
	}
	res, err := account.Deploy(ctx, rn.deps.Chain, rn.deps.AccountContract, rn.deps.Sponsor.PrivateKey(), rn.key.Address(), salt, rn.cfg.MaxFee)
	if err != nil {
		return "", err
	}
	rn.report.AccountSalt = salt
	rn.report.Account = res
	rn.recordDeployment("account", res)
	return StateAccountDeployed, nil
}

func (rn *run) awaitAccount(ctx context.Context) (State, error) {
	if err := rn.await(ctx, TxAccountDeploy, rn.report.Account.TxHash); err != nil {
		return "", err
	}
	return StateAccountConfirmed, nil
}

func (rn *run) awaitFunding(ctx context.Context) (State, error) {
	rn.deps.Narrator.Banner("Waiting for funding")
	rn.deps.Narrator.Address("Fund this address", rn.key.Address())
	if err := rn.deps.Gate.Wait(ctx, fundingPrompt); err != nil {
		return "", err
	}

	balance, err := rn.deps.Chain.NativeBalance(ctx, rn.key.Address())
	switch {
	case err != nil:
		rn.log.Warn("signer balance unavailable", slog.Any("error", err))
	case balance.Sign() == 0:
		rn.report.SignerNativeBalance = balance
		rn.log.Warn("signer holds no native currency, account calls will fail to pay for gas")
	default:
		rn.report.SignerNativeBalance = balance
		rn.log.Info("signer funded", slog.String("wei", balance.String()))
	}
	if balance != nil {
		rn.deps.Narrator.Printf("Signer balance: %s wei", balance)
		rn.attrs["native_balance"] = balance.String()
	}
	return StateFundingConfirmed, nil
}

func (rn *run) bindAccount(context.Context) (State, error) {
	client, err := account.New(rn.deps.Chain, rn.deps.AccountContract, rn.key, rn.report.Account.ContractAddress)
	if err != nil {
		return "", err
	}
	rn.account = client
	rn.attrs["account"] = client.Address().Hex()
	return StateClientBound, nil
}

func (rn *run) deployToken(ctx context.Context) (State, error) {
	rn.deps.Narrator.Banner("Deploying token contract")
	salt, err := keys.RandomSalt(rn.deps.Random)
	if err != nil {
		return "", err
	}
	res, err := token.Deploy(ctx, rn.deps.Chain, rn.deps.TokenContract, rn.deps.Sponsor.PrivateKey(), salt, rn.cfg.MaxFee)
	if err != nil {
		return "", err
	}
	rn.report.Token = res
	rn.recordDeployment("token", res)
	return StateTokenDeployed, nil
}

func (rn *run) awaitToken(ctx context.Context) (State, error) {
	if err := rn.await(ctx, TxTokenDeploy, rn.report.Token.TxHash); err != nil {
		return "", err
	}
	bound, err := token.New(rn.deps.Chain, rn.deps.TokenContract, rn.report.Token.ContractAddress)
	if err != nil {
		return "", err
	}
	rn.token = bound
	rn.report.Recipient = rn.cfg.TransferRecipient
	if rn.report.Recipient == (common.Address{}) {
		rn.report.Recipient = bound.Address()
	}
	return StateTokenConfirmed, nil
}

func (rn *run) mint(ctx context.Context) (State, error) {
	rn.deps.Narrator.Banner(fmt.Sprintf("Minting %s tokens", rn.cfg.MintAmount))
	hash, err := rn.token.Mint(ctx, rn.account, rn.account.Address(), rn.cfg.MintAmount, rn.cfg.MaxFee)
	if err != nil {
		return "", err
	}
	rn.report.MintTx = hash
	rn.recordInvoke(TxMint, hash, rn.account.Address(), rn.cfg.MintAmount)
	return StateMinted, nil
}

func (rn *run) awaitMint(ctx context.Context) (State, error) {
	if err := rn.await(ctx, TxMint, rn.report.MintTx); err != nil {
		return "", err
	}
	return StateMintConfirmed, nil
}

func (rn *run) checkBalanceAfterMint(ctx context.Context) (State, error) {
	balance, err := rn.readBalance(ctx, "Balance after mint")
	if err != nil {
		return "", err
	}
	rn.report.BalanceAfterMint = balance
	return StateBalanceChecked1, nil
}

func (rn *run) transfer(ctx context.Context) (State, error) {
	rn.deps.Narrator.Banner(fmt.Sprintf("Transferring %s tokens", rn.cfg.TransferAmount))
	rn.deps.Narrator.Address("Recipient", rn.report.Recipient)
	hash, err := rn.token.Transfer(ctx, rn.account, rn.report.Recipient, rn.cfg.TransferAmount, rn.cfg.MaxFee)
	if err != nil {
		return "", err
	}
	rn.report.TransferTx = hash
	rn.recordInvoke(TxTransfer, hash, rn.report.Recipient, rn.cfg.TransferAmount)
	return StateTransferred, nil
}

func (rn *run) awaitTransfer(ctx context.Context) (State, error) {
	if err := rn.await(ctx, TxTransfer, rn.report.TransferTx); err != nil {
		return "", err
	}
	return StateTransferConfirmed, nil
}

func (rn *run) checkBalanceAfterTransfer(ctx context.Context) (State, error) {
	balance, err := rn.readBalance(ctx, "Balance after transfer")
	if err != nil {
		return "", err
	}
	rn.report.BalanceAfterTransfer = balance
	return StateBalanceChecked2, nil
}

func (rn *run) summarize(context.Context) (State, error) {
	rn.deps.Narrator.Banner("Done")
	rn.deps.Narrator.Address("Signer", rn.report.Signer)
	rn.deps.Narrator.Printf("Transactions confirmed: %d", len(rn.report.Transactions))
	for _, warning := range rn.report.Warnings {
		rn.deps.Narrator.Printf("Warning: %s", warning)
	}
	return StateDone, nil
}

// await blocks until hash is accepted. A rejected creation is reported as
// DEPLOYMENT_REJECTED.
func (rn *run) await(ctx context.Context, kind string, hash common.Hash) error {
	rn.deps.Narrator.Printf("Waiting for %s confirmation...", kind)
	res, err := rn.deps.Chain.WaitForTransaction(ctx, hash)
	if err == nil && !res.Accepted() {
		err = xerrors.New(xerrors.CodeTransactionRejected, "transaction not accepted",
			xerrors.WithMetadata("status", string(res.Status)))
	}
	if res.Status == web3.TxAccepted || res.Status == web3.TxRejected {
		rn.report.Transactions = append(rn.report.Transactions, Transaction{Kind: kind, TransactionResult: res})
	}
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeTransactionRejected && (kind == TxAccountDeploy || kind == TxTokenDeploy) {
			return xerrors.Wrap(xerrors.CodeDeploymentRejected, err, "",
				xerrors.WithMetadata("tx_hash", hash.Hex()))
		}
		return err
	}

	rn.attrs["tx_hash"] = hash.Hex()
	rn.attrs["block"] = fmt.Sprintf("%d", res.BlockNumber)
	rn.attrs["gas_used"] = fmt.Sprintf("%d", res.GasUsed)
	rn.deps.Narrator.Printf("Confirmed in block %d", res.BlockNumber)
	return nil
}

// readBalance queries the account's token balance. An undecodable answer is
// recorded as a warning and yields a nil balance; anything else fatal ends
// the run.
func (rn *run) readBalance(ctx context.Context, label string) (*big.Int, error) {
	balance, err := rn.token.BalanceOf(ctx, rn.account.Address())
	if err != nil {
		if xerrors.IsFatal(err) {
			return nil, err
		}
		rn.log.Warn("balance unreadable", slog.String("label", label), slog.Any("error", err))
		rn.report.Warnings = append(rn.report.Warnings, fmt.Sprintf("%s: %v", label, err))
		rn.attrs["balance_error"] = string(xerrors.CodeOf(err))
		rn.deps.Narrator.Printf("%s: unavailable", label)
		return nil, nil
	}
	rn.attrs["balance"] = balance.String()
	rn.deps.Narrator.Printf("%s: %s", label, balance)
	return balance, nil
}

func (rn *run) recordDeployment(name string, res web3.DeploymentResult) {
	rn.deps.Narrator.Address("Contract address", res.ContractAddress)
	rn.deps.Narrator.Transaction("Deployment transaction", res.TxHash)
	rn.attrs[name] = res.ContractAddress.Hex()
	rn.attrs["tx_hash"] = res.TxHash.Hex()
	rn.attrs["salt"] = res.Salt.Hex()
	logger.Ledger().Info("contract deployment submitted",
		slog.String("run_id", rn.report.RunID),
		slog.String("contract", name),
		slog.String("address", res.ContractAddress.Hex()),
		slog.String("tx_hash", res.TxHash.Hex()),
		slog.String("salt", res.Salt.Hex()),
		slog.Bool("deterministic", res.Deterministic))
}

func (rn *run) recordInvoke(kind string, hash common.Hash, to common.Address, amount *big.Int) {
	rn.deps.Narrator.Transaction("Transaction", hash)
	rn.attrs["tx_hash"] = hash.Hex()
	rn.attrs["amount"] = amount.String()
	logger.Ledger().Info("token call submitted",
		slog.String("run_id", rn.report.RunID),
		slog.String("kind", kind),
		slog.String("account", rn.account.Address().Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx_hash", hash.Hex()))
}
