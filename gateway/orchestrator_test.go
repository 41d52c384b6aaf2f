package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/wallets"
)

const (
	// Address 0x96216849c49358B10257cb55b28eA603c874b05E.
	transferSignerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	wrongSignerKey    = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	transferRecipient = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

// fakeTransferService is a scripted wallet service. Submissions land in the
// terminal state popped from outcomes (CONFIRMED when the queue is empty),
// and typed-data signing uses a real key so signatures recover.
type fakeTransferService struct {
	mu         sync.Mutex
	signer     *evm.ClientSigner
	badSigner  *evm.ClientSigner
	wallets    map[string]*wallets.Wallet
	balances   map[string][]wallets.Balance
	executes   []wallets.ExecuteRequest
	outcomes   []string
	results    map[string]string
	signErr    error
	executeErr error
}

func (f *fakeTransferService) CreateWallet(ctx context.Context, blockchain, name string) (*wallets.Wallet, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransferService) GetWallet(ctx context.Context, walletID string) (*wallets.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wallet, ok := f.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", walletID)
	}
	return wallet, nil
}

func (f *fakeTransferService) ListBalances(ctx context.Context, walletID string) ([]wallets.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[walletID], nil
}

func (f *fakeTransferService) ExecuteContract(ctx context.Context, req wallets.ExecuteRequest) (*wallets.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	f.executes = append(f.executes, req)
	id := fmt.Sprintf("tx-%d", len(f.executes))
	state := wallets.StateConfirmed
	if len(f.outcomes) > 0 {
		state = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.results[id] = state
	return &wallets.Transaction{ID: id, State: wallets.StateInitiated}, nil
}

func (f *fakeTransferService) GetTransaction(ctx context.Context, transactionID string) (*wallets.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &wallets.Transaction{ID: transactionID, State: f.results[transactionID]}
	if wallets.IsSuccessState(tx.State) {
		tx.TxHash = "0xabc" + transactionID
	}
	return tx, nil
}

func (f *fakeTransferService) SignTypedData(ctx context.Context, walletID string, typedData *evm.TypedData) (string, error) {
	f.mu.Lock()
	signer := f.signer
	if f.badSigner != nil {
		signer = f.badSigner
	}
	signErr := f.signErr
	f.mu.Unlock()
	if signErr != nil {
		return "", signErr
	}

	digest, err := typedData.Digest()
	if err != nil {
		return "", err
	}
	raw, err := signer.SignDigest(digest)
	if err != nil {
		return "", err
	}
	return evm.BytesToHex(raw), nil
}

func (f *fakeTransferService) executed() []wallets.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wallets.ExecuteRequest(nil), f.executes...)
}

// fakeIndexService scripts the attestation side: the balance index reads
// zero until a key has been queried indexLag+1 times, then reads high
// enough to cover any deposit.
type fakeIndexService struct {
	mu         sync.Mutex
	seen       map[string]int
	indexLag   int
	frozen     bool
	balanceErr error
	attestErr  error
	batches    [][]SignedBurnIntent
}

func (f *fakeIndexService) Attest(ctx context.Context, intents []SignedBurnIntent) ([]Attestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attestErr != nil {
		return nil, f.attestErr
	}
	f.batches = append(f.batches, intents)
	out := make([]Attestation, len(intents))
	for i := range intents {
		out[i] = Attestation{
			Attestation: fmt.Sprintf("0xdead%02x", i+1),
			Signature:   fmt.Sprintf("0xbeef%02x", i+1),
		}
	}
	return out, nil
}

func (f *fakeIndexService) DepositBalance(ctx context.Context, token string, domain uint32, depositor string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	key := fmt.Sprintf("%s/%d/%s", token, domain, depositor)
	f.seen[key]++
	if f.frozen || f.seen[key] <= 1+f.indexLag {
		return big.NewInt(0), nil
	}
	return new(big.Int).Lsh(big.NewInt(1), 62), nil
}

type mintCall struct {
	address   string
	method    string
	payload   []byte
	signature []byte
}

// fakeMintChain records writes and mines every transaction immediately.
type fakeMintChain struct {
	mu       sync.Mutex
	head     uint64
	writes   []mintCall
	writeErr error
	failMint bool
}

func (f *fakeMintChain) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeMintChain) ReadContract(ctx context.Context, address string, abiJSON []byte, method string, args ...interface{}) (interface{}, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMintChain) WriteContract(ctx context.Context, address string, abiJSON []byte, method string, args ...interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return "", f.writeErr
	}
	call := mintCall{address: address, method: method}
	if len(args) == 2 {
		call.payload, _ = args[0].([]byte)
		call.signature, _ = args[1].([]byte)
	}
	f.writes = append(f.writes, call)
	return fmt.Sprintf("0x%08x", len(f.writes)), nil
}

func (f *fakeMintChain) WaitForReceipt(ctx context.Context, txHash string) (*evm.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := evm.TxStatusSuccess
	if f.failMint {
		status = evm.TxStatusFailed
	}
	return &evm.Receipt{Status: status, BlockNumber: f.head + 1, TxHash: txHash}, nil
}

func (f *fakeMintChain) minted() []mintCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mintCall(nil), f.writes...)
}

type transferHarness struct {
	service *fakeTransferService
	index   *fakeIndexService
	base    *fakeMintChain
	fuji    *fakeMintChain
	orch    *Orchestrator
}

// newTransferHarness wires an orchestrator over two testnet networks with
// one funded wallet each: 2.02 USDC on baseSepolia and 0.505 on
// avalancheFuji, which scale to 2.00 and 0.50 spendable at the 1% fee.
func newTransferHarness(t *testing.T, sourceWallets []string) *transferHarness {
	t.Helper()

	signer, err := evm.NewClientSigner(transferSignerKey)
	require.NoError(t, err)

	service := &fakeTransferService{
		signer:  signer,
		results: map[string]string{},
		wallets: map[string]*wallets.Wallet{
			"w-base": {ID: "w-base", Address: signer.Address(), Blockchain: "baseSepolia"},
			"w-fuji": {ID: "w-fuji", Address: signer.Address(), Blockchain: "avalancheFuji"},
		},
		balances: map[string][]wallets.Balance{
			"w-base": {usdcEntry("2.02")},
			"w-fuji": {usdcEntry("0.505")},
		},
	}
	index := &fakeIndexService{seen: map[string]int{}}
	base := &fakeMintChain{head: 500}
	fuji := &fakeMintChain{head: 900}

	networks := aggregatorNetworks()
	for name, network := range networks {
		network.GatewayWallet = testGatewayWallet
		network.GatewayMinter = testGatewayMinter
		networks[name] = network
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	orch := New(Config{
		Networks:    networks,
		Wallets:     service,
		Attestation: index,
		Chains: map[string]evm.ChainClient{
			"baseSepolia":   base,
			"avalancheFuji": fuji,
		},
		SourceWallets:        sourceWallets,
		FeeBps:               100,
		StepAttempts:         3,
		MaxBlockHeightBuffer: 1000,
		ConfirmPollAttempts:  4,
		ConfirmPollInterval:  time.Millisecond,
		BalancePollAttempts:  4,
		BalancePollInterval:  time.Millisecond,
		Logger:               quiet,
	})

	return &transferHarness{service: service, index: index, base: base, fuji: fuji, orch: orch}
}

func TestTransferSingleSource(t *testing.T) {
	h := newTransferHarness(t, nil)

	resp, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"tx-2"}, resp.DepositTransactions)
	assert.Equal(t, []string{"0x00000001"}, resp.MintTransactions)
	assert.Equal(t, "avalancheFuji", resp.DestinationBlockchain)
	assert.Equal(t, transferRecipient, resp.DestinationAddress)
	assert.Equal(t, "1", resp.Amount)

	executes := h.service.executed()
	require.Len(t, executes, 2)

	// A 1 USDC draw carries a 1% fee: 1.01 USDC is approved and deposited.
	approve := executes[0]
	assert.Equal(t, "w-base", approve.WalletID)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", approve.ContractAddress)
	assert.Equal(t, approveSignature, approve.ABIFunctionSignature)
	assert.Equal(t, []interface{}{testGatewayWallet, "1010000"}, approve.ABIParameters)
	assert.NotEmpty(t, approve.RefID)

	deposit := executes[1]
	assert.Equal(t, "w-base", deposit.WalletID)
	assert.Equal(t, testGatewayWallet, deposit.ContractAddress)
	assert.Equal(t, depositSignature, deposit.ABIFunctionSignature)
	assert.Equal(t, []interface{}{"0x036CbD53842c5426634e7929541eC2318f3dCF7e", "1010000"}, deposit.ABIParameters)
	assert.Equal(t, approve.RefID, deposit.RefID)
}

func TestTransferBurnIntentContents(t *testing.T) {
	h := newTransferHarness(t, nil)
	signer, err := evm.NewClientSigner(transferSignerKey)
	require.NoError(t, err)

	_, err = h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.NoError(t, err)

	require.Len(t, h.index.batches, 1)
	batch := h.index.batches[0]
	require.Len(t, batch, 1)

	intent := batch[0].BurnIntent
	assert.Equal(t, int64(1500), intent.MaxBlockHeight.Int64(), "source head 500 plus the 1000 block buffer")
	assert.Equal(t, int64(10000), intent.MaxFee.Int64())
	assert.Equal(t, uint32(1), intent.Spec.Version)
	assert.Equal(t, uint32(6), intent.Spec.SourceDomain)
	assert.Equal(t, uint32(1), intent.Spec.DestinationDomain)
	assert.Equal(t, testGatewayWallet, intent.Spec.SourceContract)
	assert.Equal(t, testGatewayMinter, intent.Spec.DestinationContract)
	assert.Equal(t, "0x036CbD53842c5426634e7929541eC2318f3dCF7e", intent.Spec.SourceToken)
	assert.Equal(t, "0x5425890298aed601595a70AB815c96711a31Bc65", intent.Spec.DestinationToken)
	assert.Equal(t, signer.Address(), intent.Spec.SourceDepositor)
	assert.Equal(t, signer.Address(), intent.Spec.SourceSigner)
	assert.Equal(t, transferRecipient, intent.Spec.DestinationRecipient)
	assert.Equal(t, "", intent.Spec.DestinationCaller)
	assert.Equal(t, int64(1000000), intent.Spec.Value.Int64())
	assert.NotEqual(t, [32]byte{}, intent.Spec.Salt)

	signature, err := evm.ParseSignature(batch[0].Signature)
	require.NoError(t, err)
	digest, err := evm.HashBurnIntent(intent)
	require.NoError(t, err)
	recovered, err := evm.RecoverSigner(digest, signature)
	require.NoError(t, err)
	assert.True(t, evm.SameAddress(recovered, signer.Address()))
}

func TestTransferMintsOnDestination(t *testing.T) {
	h := newTransferHarness(t, nil)

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.NoError(t, err)

	assert.Empty(t, h.base.minted(), "the source chain sees deposits only, through the wallet service")

	minted := h.fuji.minted()
	require.Len(t, minted, 1)
	assert.Equal(t, testGatewayMinter, minted[0].address)
	assert.Equal(t, evm.FunctionGatewayMint, minted[0].method)
	assert.Equal(t, []byte{0xde, 0xad, 0x01}, minted[0].payload)
	assert.Equal(t, []byte{0xbe, 0xef, 0x01}, minted[0].signature)
}

func TestTransferSplitsAcrossSources(t *testing.T) {
	h := newTransferHarness(t, []string{"w-base", "w-fuji"})

	resp, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "2.4",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
	})
	require.NoError(t, err)

	executes := h.service.executed()
	require.Len(t, executes, 4, "approve and deposit per funding source")

	// Base covers 2.00 plus its 0.02 fee, draining the wallet exactly;
	// fuji tops up the remaining 0.40 plus 0.004.
	assert.Equal(t, "w-base", executes[0].WalletID)
	assert.Equal(t, []interface{}{testGatewayWallet, "2020000"}, executes[0].ABIParameters)
	assert.Equal(t, "w-fuji", executes[2].WalletID)
	assert.Equal(t, []interface{}{testGatewayWallet, "404000"}, executes[2].ABIParameters)

	assert.Equal(t, []string{"tx-2", "tx-4"}, resp.DepositTransactions)
	assert.Equal(t, []string{"0x00000001", "0x00000002"}, resp.MintTransactions)

	require.Len(t, h.index.batches, 1, "all burn intents travel in one attestation batch")
	batch := h.index.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, int64(2000000), batch[0].BurnIntent.Spec.Value.Int64())
	assert.Equal(t, int64(20000), batch[0].BurnIntent.MaxFee.Int64())
	assert.Equal(t, int64(1500), batch[0].BurnIntent.MaxBlockHeight.Int64())
	assert.Equal(t, int64(400000), batch[1].BurnIntent.Spec.Value.Int64())
	assert.Equal(t, int64(4000), batch[1].BurnIntent.MaxFee.Int64())
	assert.Equal(t, int64(1900), batch[1].BurnIntent.MaxBlockHeight.Int64(), "fuji head 900 plus the buffer")
	assert.NotEqual(t, batch[0].BurnIntent.Spec.Salt, batch[1].BurnIntent.Spec.Salt)

	assert.Len(t, h.fuji.minted(), 2)
}

func TestTransferInsufficientBalance(t *testing.T) {
	h := newTransferHarness(t, []string{"w-base", "w-fuji"})

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "10",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
	})
	require.Error(t, err)

	var insufficient *arcrelay.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(2500000), insufficient.Available.Int64(), "availability is quoted after the fee haircut")
	assert.Equal(t, int64(7500000), insufficient.Shortfall().Int64())
	assert.Empty(t, h.service.executed(), "nothing moves when funding cannot cover the request")
}

func TestTransferRetriesFailedEscrowStep(t *testing.T) {
	h := newTransferHarness(t, nil)
	h.service.outcomes = []string{wallets.StateFailed}

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.NoError(t, err)

	executes := h.service.executed()
	require.Len(t, executes, 3)
	assert.Equal(t, approveSignature, executes[0].ABIFunctionSignature)
	assert.Equal(t, approveSignature, executes[1].ABIFunctionSignature, "the failed approve is submitted again")
	assert.Equal(t, depositSignature, executes[2].ABIFunctionSignature)
}

func TestTransferGivesUpAfterStepAttempts(t *testing.T) {
	h := newTransferHarness(t, nil)
	h.service.outcomes = []string{wallets.StateFailed, wallets.StateDenied, wallets.StateCancelled}

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.Error(t, err)
	assert.True(t, arcrelay.IsKind(err, arcrelay.KindExecution))
	assert.Contains(t, err.Error(), "approve failed after 3 attempts")
	assert.Contains(t, err.Error(), "cancelled")
	assert.Len(t, h.service.executed(), 3)
	assert.Empty(t, h.index.batches)
}

func TestTransferStuckTransactionTimesOut(t *testing.T) {
	h := newTransferHarness(t, nil)
	h.service.outcomes = []string{wallets.StateSent}

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.Error(t, err)
	assert.True(t, arcrelay.IsKind(err, arcrelay.KindTimeout))
	assert.Contains(t, err.Error(), "confirming approve")
	assert.Len(t, h.service.executed(), 1, "a confirmation timeout is never retried blindly")
}

func TestTransferSubmissionFailure(t *testing.T) {
	h := newTransferHarness(t, nil)
	h.service.executeErr = errors.New("wallet service unavailable")

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submitting approve")
}

func TestTransferWaitsForBalanceIndex(t *testing.T) {
	h := newTransferHarness(t, nil)
	h.index.indexLag = 2

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.NoError(t, err, "a lagging index is polled through, not failed")
}

func TestTransferBalanceIndexNeverCatchesUp(t *testing.T) {
	h := newTransferHarness(t, nil)
	h.index.frozen = true

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.Error(t, err)
	assert.True(t, arcrelay.IsKind(err, arcrelay.KindTimeout))
	assert.Contains(t, err.Error(), "did not reach the deposit")
	assert.Empty(t, h.index.batches, "no burn intent is signed for an unindexed deposit")
}

func TestTransferRejectsForeignSignature(t *testing.T) {
	h := newTransferHarness(t, nil)
	badSigner, err := evm.NewClientSigner(wrongSignerKey)
	require.NoError(t, err)
	h.service.badSigner = badSigner

	_, err = h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.Error(t, err)
	assert.True(t, arcrelay.IsKind(err, arcrelay.KindSignature))
	assert.Contains(t, err.Error(), "does not match depositor")
	assert.Empty(t, h.index.batches, "a foreign signature never reaches the attestation service")
}

func TestTransferMintRevertFails(t *testing.T) {
	h := newTransferHarness(t, nil)
	h.fuji.failMint = true

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
		SourceWallets:      []string{"w-base"},
	})
	require.Error(t, err)
	assert.True(t, arcrelay.IsKind(err, arcrelay.KindExecution))
	assert.Contains(t, err.Error(), "reverted")
}

func TestTransferValidation(t *testing.T) {
	tests := []struct {
		name string
		req  arcrelay.TransferRequest
	}{
		{
			name: "unknown destination chain",
			req:  arcrelay.TransferRequest{Amount: "1", DestinationAddress: transferRecipient, Chain: "solanaDevnet"},
		},
		{
			name: "missing destination address",
			req:  arcrelay.TransferRequest{Amount: "1", Chain: "avalancheFuji"},
		},
		{
			name: "zero amount",
			req:  arcrelay.TransferRequest{Amount: "0", DestinationAddress: transferRecipient, Chain: "avalancheFuji"},
		},
		{
			name: "malformed amount",
			req:  arcrelay.TransferRequest{Amount: "one", DestinationAddress: transferRecipient, Chain: "avalancheFuji"},
		},
		{
			name: "environment mismatch",
			req:  arcrelay.TransferRequest{Amount: "1", DestinationAddress: transferRecipient, Chain: "avalancheFuji", Network: "mainnet"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTransferHarness(t, []string{"w-base"})
			_, err := h.orch.Transfer(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, arcrelay.IsKind(err, arcrelay.KindValidation), "got %v", err)
			assert.Empty(t, h.service.executed())
		})
	}
}

func TestTransferNoFundingWallets(t *testing.T) {
	h := newTransferHarness(t, nil)

	_, err := h.orch.Transfer(context.Background(), arcrelay.TransferRequest{
		Amount:             "1",
		DestinationAddress: transferRecipient,
		Chain:              "avalancheFuji",
	})
	require.Error(t, err)
	assert.True(t, arcrelay.IsKind(err, arcrelay.KindValidation))
	assert.Contains(t, err.Error(), "no funding wallets")
}
