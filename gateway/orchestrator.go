package gateway

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/config"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/poll"
	"github.com/kij-exe/ArcRelay/wallets"
)

// TransferState names a step of the transfer state machine. States exist
// for logging and failure reporting; the machine itself is a straight line
// with per-token sub-steps.
type TransferState string

const (
	StateInit                 TransferState = "Init"
	StateBalancesQueried      TransferState = "BalancesQueried"
	StateTokensSelected       TransferState = "TokensSelected"
	StateApproved             TransferState = "Approved"
	StateDeposited            TransferState = "Deposited"
	StateBalanceIndexed       TransferState = "BalanceIndexed"
	StateBurnIntentsSigned    TransferState = "BurnIntentsSigned"
	StateAttestationsReceived TransferState = "AttestationsReceived"
	StateMinted               TransferState = "Minted"
	StateComplete             TransferState = "Complete"
)

// Escrow calls submitted through the wallet service, in ABI signature form.
const (
	approveSignature = "approve(address,uint256)"
	depositSignature = "deposit(address,uint256)"
)

// transferSpecVersion is the burn-intent schema version the escrow
// contract family understands.
const transferSpecVersion = 1

// Orchestrator sequences one cross-chain transfer: aggregate funding
// balances, select draws, deposit them into source escrows, sign and
// attest burn intents, and mint on the destination chain.
type Orchestrator struct {
	networks    map[string]config.Network
	wallets     wallets.Service
	attestation AttestationService
	aggregator  *Aggregator
	chains      map[string]evm.ChainClient

	sourceWallets []string
	feeBps        int64
	stepAttempts  int
	blockBuffer   uint64

	confirmPollAttempts int
	confirmPollInterval time.Duration
	balancePollAttempts int
	balancePollInterval time.Duration

	log logrus.FieldLogger
}

// Config wires an Orchestrator.
type Config struct {
	// Networks is the context table, keyed by context name.
	Networks map[string]config.Network

	Wallets     wallets.Service
	Attestation AttestationService

	// Chains provides chain access per context name: head reads on source
	// chains, relayer-funded mints on destination chains.
	Chains map[string]evm.ChainClient

	// SourceWallets is the default funding set for requests that name none.
	SourceWallets []string

	// FeeBps is the escrow fee in basis points: each deposit carries
	// draw+fee, each burn intent carries draw with maxFee=fee.
	FeeBps int64

	// StepAttempts caps attempts, including the first, of each on-chain
	// escrow step (default 3).
	StepAttempts int

	// MaxBlockHeightBuffer is added to the source chain head to form each
	// burn intent's maxBlockHeight (default 1000000).
	MaxBlockHeightBuffer uint64

	// ConfirmPoll bounds wallet-service transaction confirmation
	// (default 30 attempts 1s apart).
	ConfirmPollAttempts int
	ConfirmPollInterval time.Duration

	// BalancePoll bounds waiting for the attestation service's balance
	// index to reflect a deposit (default 12 attempts 5s apart).
	BalancePollAttempts int
	BalancePollInterval time.Duration

	Logger logrus.FieldLogger
}

// New builds an Orchestrator with defaults applied.
func New(cfg Config) *Orchestrator {
	if cfg.StepAttempts == 0 {
		cfg.StepAttempts = 3
	}
	if cfg.MaxBlockHeightBuffer == 0 {
		cfg.MaxBlockHeightBuffer = 1000000
	}
	if cfg.ConfirmPollAttempts == 0 {
		cfg.ConfirmPollAttempts = 30
	}
	if cfg.ConfirmPollInterval == 0 {
		cfg.ConfirmPollInterval = time.Second
	}
	if cfg.BalancePollAttempts == 0 {
		cfg.BalancePollAttempts = 12
	}
	if cfg.BalancePollInterval == 0 {
		cfg.BalancePollInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Orchestrator{
		networks:            cfg.Networks,
		wallets:             cfg.Wallets,
		attestation:         cfg.Attestation,
		aggregator:          NewAggregator(cfg.Wallets, cfg.Networks),
		chains:              cfg.Chains,
		sourceWallets:       cfg.SourceWallets,
		feeBps:              cfg.FeeBps,
		stepAttempts:        cfg.StepAttempts,
		blockBuffer:         cfg.MaxBlockHeightBuffer,
		confirmPollAttempts: cfg.ConfirmPollAttempts,
		confirmPollInterval: cfg.ConfirmPollInterval,
		balancePollAttempts: cfg.BalancePollAttempts,
		balancePollInterval: cfg.BalancePollInterval,
		log:                 logger.WithField("component", "gateway"),
	}
}

// Transfer moves req.Amount of the settlement token to the destination
// address on req.Chain, funded from wallet balances across the
// environment's networks. It runs the full deposit, burn, attest, mint
// sequence and returns only once every destination mint is on-chain.
func (o *Orchestrator) Transfer(ctx context.Context, req arcrelay.TransferRequest) (*arcrelay.TransferResponse, error) {
	destination, ok := o.networks[req.Chain]
	if !ok {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "unknown destination chain %s", req.Chain)
	}
	if req.DestinationAddress == "" {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "destination address is required")
	}
	if destination.GatewayMinter == "" {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "destination chain %s has no minter configured", req.Chain)
	}
	environment := req.Network
	if environment == "" {
		environment = destination.Environment
	}
	if destination.Environment != environment {
		return nil, arcrelay.NewError(arcrelay.KindValidation,
			"destination chain %s is not a %s chain", req.Chain, environment)
	}
	required, err := arcrelay.ParseAmount(req.Amount, destination.USDC.Decimals)
	if err != nil {
		return nil, err
	}
	if required.Sign() == 0 {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "transfer amount must be positive")
	}
	destChain := o.chains[destination.Name]
	if destChain == nil {
		return nil, fmt.Errorf("no chain client configured for %s", destination.Name)
	}
	walletIDs := req.SourceWallets
	if len(walletIDs) == 0 {
		walletIDs = o.sourceWallets
	}
	if len(walletIDs) == 0 {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "no funding wallets configured")
	}

	transferID := uuid.NewString()
	log := o.log.WithFields(logrus.Fields{
		"transfer":    transferID,
		"destination": destination.Name,
		"amount":      req.Amount,
	})

	state := StateInit
	fail := func(err error) (*arcrelay.TransferResponse, error) {
		log.WithError(err).WithField("state", string(state)).Error("transfer failed")
		return nil, err
	}
	advance := func(next TransferState) {
		state = next
		log.WithField("state", string(next)).Info("transfer state")
	}

	balances, err := o.aggregator.Aggregate(ctx, walletIDs)
	if err != nil {
		return fail(err)
	}
	var candidates []TokenBalance
	for _, balance := range balances {
		if o.networks[balance.Network].Environment == environment {
			candidates = append(candidates, balance)
		}
	}
	advance(StateBalancesQueried)

	// Candidates shrink by the fee factor before selection so a
	// full-balance draw still leaves room for its own deposit fee.
	selected, err := Select(scaleForFee(candidates, o.feeBps), required)
	if err != nil {
		return fail(err)
	}
	advance(StateTokensSelected)

	depositTxs := make([]string, 0, len(selected))
	fees := make([]*big.Int, len(selected))
	for i, sel := range selected {
		source := o.networks[sel.Network]
		if source.GatewayWallet == "" {
			return fail(arcrelay.NewError(arcrelay.KindValidation,
				"source chain %s has no escrow configured", source.Name))
		}
		fees[i] = feeFor(sel.Draw, o.feeBps)
		deposit := new(big.Int).Add(sel.Draw, fees[i])

		pre, err := o.attestation.DepositBalance(ctx, source.USDC.Address, source.Domain, sel.Owner)
		if err != nil {
			return fail(fmt.Errorf("reading deposit balance index: %w", err))
		}

		if _, err := o.executeConfirmed(ctx, log, "approve", wallets.ExecuteRequest{
			WalletID:             sel.WalletID,
			ContractAddress:      source.USDC.Address,
			ABIFunctionSignature: approveSignature,
			ABIParameters:        []interface{}{source.GatewayWallet, deposit.String()},
			RefID:                transferID,
		}); err != nil {
			return fail(err)
		}
		advance(StateApproved)

		tx, err := o.executeConfirmed(ctx, log, "deposit", wallets.ExecuteRequest{
			WalletID:             sel.WalletID,
			ContractAddress:      source.GatewayWallet,
			ABIFunctionSignature: depositSignature,
			ABIParameters:        []interface{}{source.USDC.Address, deposit.String()},
			RefID:                transferID,
		})
		if err != nil {
			return fail(err)
		}
		depositTxs = append(depositTxs, tx.ID)
		advance(StateDeposited)

		if err := o.awaitBalanceIndex(ctx, source, sel.Owner, new(big.Int).Add(pre, deposit)); err != nil {
			return fail(err)
		}
		advance(StateBalanceIndexed)
	}

	signed := make([]SignedBurnIntent, 0, len(selected))
	for i, sel := range selected {
		intent, err := o.signBurnIntent(ctx, sel, fees[i], destination, req.DestinationAddress)
		if err != nil {
			return fail(err)
		}
		signed = append(signed, *intent)
	}
	advance(StateBurnIntentsSigned)

	attestations, err := o.attestation.Attest(ctx, signed)
	if err != nil {
		return fail(err)
	}
	advance(StateAttestationsReceived)

	mintTxs := make([]string, 0, len(attestations))
	for _, attestation := range attestations {
		payload, err := evm.HexToBytes(attestation.Attestation)
		if err != nil {
			return fail(fmt.Errorf("decoding attestation: %w", err))
		}
		signature, err := evm.HexToBytes(attestation.Signature)
		if err != nil {
			return fail(fmt.Errorf("decoding attestation signature: %w", err))
		}

		txHash, err := destChain.WriteContract(ctx, destination.GatewayMinter, evm.GatewayMintABI,
			evm.FunctionGatewayMint, payload, signature)
		if err != nil {
			return fail(fmt.Errorf("submitting mint: %w", err))
		}
		receipt, err := destChain.WaitForReceipt(ctx, txHash)
		if err != nil {
			return fail(fmt.Errorf("waiting for mint %s: %w", txHash, err))
		}
		if receipt.Status != evm.TxStatusSuccess {
			return fail(arcrelay.NewError(arcrelay.KindExecution, "mint transaction %s reverted", txHash))
		}
		mintTxs = append(mintTxs, txHash)
	}
	advance(StateMinted)
	advance(StateComplete)

	return &arcrelay.TransferResponse{
		DepositTransactions:   depositTxs,
		MintTransactions:      mintTxs,
		DestinationBlockchain: destination.Name,
		DestinationAddress:    req.DestinationAddress,
		Amount:                req.Amount,
	}, nil
}

// signBurnIntent builds one burn intent for the draw and has the custodial
// wallet sign it. The salt is fresh on every call, including retried
// transfers, so a resubmission never collides with an earlier intent. The
// signature is verified locally before it ships: the wallet service signs
// opaquely, and a signature that does not recover to the depositor would
// be rejected downstream anyway.
func (o *Orchestrator) signBurnIntent(ctx context.Context, sel SelectedToken, fee *big.Int, destination config.Network, recipient string) (*SignedBurnIntent, error) {
	source := o.networks[sel.Network]
	chain := o.chains[source.Name]
	if chain == nil {
		return nil, fmt.Errorf("no chain client configured for %s", source.Name)
	}
	head, err := chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading %s chain head: %w", source.Name, err)
	}
	salt, err := evm.NewSalt()
	if err != nil {
		return nil, err
	}

	intent := evm.BurnIntent{
		MaxBlockHeight: new(big.Int).SetUint64(head + o.blockBuffer),
		MaxFee:         fee,
		Spec: evm.TransferSpec{
			Version:              transferSpecVersion,
			SourceDomain:         source.Domain,
			DestinationDomain:    destination.Domain,
			SourceContract:       source.GatewayWallet,
			DestinationContract:  destination.GatewayMinter,
			SourceToken:          source.USDC.Address,
			DestinationToken:     destination.USDC.Address,
			SourceDepositor:      sel.Owner,
			DestinationRecipient: recipient,
			SourceSigner:         sel.Owner,
			// DestinationCaller stays zero so any relayer can redeem.
			Value:    sel.Draw,
			Salt:     salt,
			HookData: nil,
		},
	}

	document, err := evm.BurnIntentTypedData(intent)
	if err != nil {
		return nil, err
	}
	signatureHex, err := o.wallets.SignTypedData(ctx, sel.WalletID, document)
	if err != nil {
		return nil, fmt.Errorf("signing burn intent: %w", err)
	}

	signature, err := evm.ParseSignature(signatureHex)
	if err != nil {
		return nil, arcrelay.WrapError(arcrelay.KindSignature, err, "burn intent signature is malformed")
	}
	digest, err := evm.HashBurnIntent(intent)
	if err != nil {
		return nil, err
	}
	signer, err := evm.RecoverSigner(digest, signature)
	if err != nil {
		return nil, arcrelay.WrapError(arcrelay.KindSignature, err, "burn intent signature does not recover")
	}
	if !evm.SameAddress(signer, sel.Owner) {
		return nil, arcrelay.NewError(arcrelay.KindSignature,
			"burn intent signer %s does not match depositor %s", signer, sel.Owner)
	}

	return &SignedBurnIntent{BurnIntent: intent, Signature: signatureHex}, nil
}

// executeConfirmed submits one escrow step through the wallet service and
// polls it to a terminal state. An on-chain failure state earns a fresh
// submission, up to the attempt cap; timeouts and service faults propagate
// immediately without retry.
func (o *Orchestrator) executeConfirmed(ctx context.Context, log logrus.FieldLogger, step string, req wallets.ExecuteRequest) (*wallets.Transaction, error) {
	lastState := ""
	for attempt := 1; attempt <= o.stepAttempts; attempt++ {
		submitted, err := o.wallets.ExecuteContract(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("submitting %s: %w", step, err)
		}

		final, err := poll.Until(ctx, o.confirmPollAttempts, o.confirmPollInterval,
			func(ctx context.Context) (*wallets.Transaction, bool, error) {
				tx, err := o.wallets.GetTransaction(ctx, submitted.ID)
				if err != nil {
					return nil, false, nil
				}
				return tx, wallets.IsTerminalState(tx.State), nil
			})
		if err != nil {
			return nil, fmt.Errorf("confirming %s %s: %w", step, submitted.ID, err)
		}
		if wallets.IsSuccessState(final.State) {
			return final, nil
		}

		lastState = final.State
		log.WithFields(logrus.Fields{
			"step":        step,
			"transaction": submitted.ID,
			"state":       final.State,
			"attempt":     attempt,
		}).Warn("escrow step failed on-chain")
	}
	return nil, arcrelay.NewError(arcrelay.KindExecution,
		"%s failed after %d attempts (last state %s)", step, o.stepAttempts, strings.ToLower(lastState))
}

// awaitBalanceIndex polls the attestation service until its index reports
// at least target for the depositor. Deposit confirmation can outrun the
// cross-chain index; burning before the index catches up would be
// rejected.
func (o *Orchestrator) awaitBalanceIndex(ctx context.Context, source config.Network, depositor string, target *big.Int) error {
	_, err := poll.Until(ctx, o.balancePollAttempts, o.balancePollInterval,
		func(ctx context.Context) (*big.Int, bool, error) {
			indexed, err := o.attestation.DepositBalance(ctx, source.USDC.Address, source.Domain, depositor)
			if err != nil {
				return nil, false, nil
			}
			return indexed, indexed.Cmp(target) >= 0, nil
		})
	if err != nil {
		return fmt.Errorf("balance index for %s on %s did not reach the deposit: %w", depositor, source.Name, err)
	}
	return nil
}

// scaleForFee shrinks candidate balances to amount*10000/(10000+feeBps) so
// a full draw plus its own fee still fits inside the real balance.
func scaleForFee(balances []TokenBalance, feeBps int64) []TokenBalance {
	if feeBps <= 0 {
		return balances
	}
	denominator := big.NewInt(10000 + feeBps)
	scaled := make([]TokenBalance, len(balances))
	for i, balance := range balances {
		amount := new(big.Int).Mul(balance.Amount, big.NewInt(10000))
		amount.Quo(amount, denominator)
		scaled[i] = balance
		scaled[i].Amount = amount
	}
	return scaled
}

// feeFor computes the escrow fee for one draw, rounded up so the deposited
// buffer always covers the service's cut. The scaled selection guarantees
// draw+fee never exceeds the wallet's real balance.
func feeFor(draw *big.Int, feeBps int64) *big.Int {
	if feeBps <= 0 {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(draw, big.NewInt(feeBps))
	fee.Add(fee, big.NewInt(9999))
	return fee.Quo(fee, big.NewInt(10000))
}
