// Package wallets talks to the managed-wallet service: the custodial
// collaborator that holds keys, signs typed data, and submits contract
// calls on behalf of service-controlled wallets.
package wallets

import (
	"context"

	"github.com/kij-exe/ArcRelay/evm"
)

// Transaction states reported by the wallet service. A submitted call moves
// through the queued states before landing in exactly one terminal state.
const (
	StateInitiated = "INITIATED"
	StateQueued    = "QUEUED"
	StateSent      = "SENT"
	StateConfirmed = "CONFIRMED"
	StateComplete  = "COMPLETE"
	StateFailed    = "FAILED"
	StateDenied    = "DENIED"
	StateCancelled = "CANCELLED"
)

// IsSuccessState reports whether the state means the transaction landed
// on-chain successfully.
func IsSuccessState(state string) bool {
	return state == StateConfirmed || state == StateComplete
}

// IsFailureState reports whether the state is terminal without the
// transaction landing.
func IsFailureState(state string) bool {
	return state == StateFailed || state == StateDenied || state == StateCancelled
}

// IsTerminalState reports whether polling can stop.
func IsTerminalState(state string) bool {
	return IsSuccessState(state) || IsFailureState(state)
}

// Wallet is one custodial wallet. A wallet lives on a single blockchain,
// named by the network context key (e.g. "baseSepolia").
type Wallet struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Blockchain string `json:"blockchain"`
	Name       string `json:"name,omitempty"`
	State      string `json:"state,omitempty"`
}

// TokenInfo identifies a token held by a wallet.
type TokenInfo struct {
	Name       string `json:"name"`
	Symbol     string `json:"symbol"`
	Address    string `json:"tokenAddress"`
	Decimals   int    `json:"decimals"`
	Blockchain string `json:"blockchain"`
}

// Balance is one token position. Amount is a decimal string in token units
// (not base units); convert with the token's decimals.
type Balance struct {
	Token  TokenInfo `json:"token"`
	Amount string    `json:"amount"`
}

// ExecuteRequest describes one contract call to submit through a wallet.
type ExecuteRequest struct {
	WalletID        string
	ContractAddress string

	// ABIFunctionSignature is the solidity signature, e.g.
	// "approve(address,uint256)".
	ABIFunctionSignature string

	// ABIParameters are the call arguments in signature order. Numeric
	// values travel as decimal strings, byte values as 0x-hex strings.
	ABIParameters []interface{}

	// RefID is an optional caller reference recorded with the transaction.
	RefID string
}

// Transaction is the service's view of one submitted call.
type Transaction struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	TxHash      string `json:"txHash,omitempty"`
	Blockchain  string `json:"blockchain,omitempty"`
	ErrorReason string `json:"errorReason,omitempty"`
}

// Service is the wallet-service API surface the payment and transfer paths
// depend on.
type Service interface {
	// CreateWallet provisions a wallet on the given blockchain.
	CreateWallet(ctx context.Context, blockchain, name string) (*Wallet, error)

	// GetWallet returns a wallet by id.
	GetWallet(ctx context.Context, walletID string) (*Wallet, error)

	// ListBalances returns the wallet's token positions.
	ListBalances(ctx context.Context, walletID string) ([]Balance, error)

	// ExecuteContract submits a contract call and returns the queued
	// transaction. Submission is idempotent per request, not per payload:
	// every call is a fresh attempt.
	ExecuteContract(ctx context.Context, req ExecuteRequest) (*Transaction, error)

	// GetTransaction returns the current state of a submitted call.
	GetTransaction(ctx context.Context, transactionID string) (*Transaction, error)

	// SignTypedData has the wallet's key sign the typed-data document and
	// returns the 65-byte signature as 0x-hex.
	SignTypedData(ctx context.Context, walletID string, typedData *evm.TypedData) (string, error)
}
