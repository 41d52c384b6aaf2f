package arcrelay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Network is a blockchain network identifier in CAIP-2 format,
// namespace:reference (e.g. "eip155:8453" for Base mainnet).
type Network string

// Parse splits the network into namespace and reference components.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks whether this network matches a pattern. A trailing ":*"
// wildcard matches every reference in the namespace, in either direction.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	if strings.HasSuffix(string(pattern), ":*") {
		prefix := strings.TrimSuffix(string(pattern), "*")
		return strings.HasPrefix(string(n), prefix)
	}
	if strings.HasSuffix(string(n), ":*") {
		prefix := strings.TrimSuffix(string(n), "*")
		return strings.HasPrefix(string(pattern), prefix)
	}
	return false
}

// EIP712Domain pins a signature to one token contract on one chain.
type EIP712Domain struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	ChainID           int64  `json:"chainId"`
	VerifyingContract string `json:"verifyingContract"`
}

// PaymentRequirements is a single accepts entry in a 402 offer. Once issued
// it is immutable; amount and recipient are authoritative for verification.
type PaymentRequirements struct {
	Scheme            string           `json:"scheme"`
	Network           Network          `json:"network"`
	MaxAmountRequired string           `json:"maxAmountRequired"`
	Resource          string           `json:"resource"`
	Description       string           `json:"description,omitempty"`
	MimeType          string           `json:"mimeType,omitempty"`
	OutputSchema      *json.RawMessage `json:"outputSchema,omitempty"`
	PayTo             string           `json:"payTo"`
	MaxTimeoutSeconds int              `json:"maxTimeoutSeconds"`
	Asset             string           `json:"asset"`
	EIP712Domain      EIP712Domain     `json:"eip712Domain"`
	Nonce             string           `json:"nonce"`
}

// PaymentRequired is the 402 response body sent to clients. Every accepts
// entry shares one freshly issued nonce; the payer picks a network and signs
// an authorization carrying that nonce.
type PaymentRequired struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// ExactPayload is the signed transfer authorization carried inside a payment
// header. Signature is the 65-byte blob in hex; V/R/S is the split form.
// Either form satisfies decoding, the blob is preferred when encoding.
type ExactPayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature,omitempty"`
	V           uint8  `json:"v,omitempty"`
	R           string `json:"r,omitempty"`
	S           string `json:"s,omitempty"`
}

// PaymentPayload is the decoded X-Payment header.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     Network      `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

// VerifyRequest asks the facilitator whether a payment would settle.
// Method is optional and defaults to GET; it selects the offer route the
// authorization's nonce was issued for.
type VerifyRequest struct {
	PaymentPayload      *PaymentPayload     `json:"paymentPayload,omitempty"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
	Method              string              `json:"method,omitempty"`
}

// Invoice is an informational record returned alongside a failed
// verification so the client can correct and retry. It carries no nonce;
// fresh nonces are only issued with offers.
type Invoice struct {
	ID       string  `json:"id"`
	Resource string  `json:"resource"`
	Amount   string  `json:"amount"`
	Asset    string  `json:"asset"`
	PayTo    string  `json:"payTo"`
	Network  Network `json:"network"`
	IssuedAt int64   `json:"issuedAt"`
}

// VerifyResponse is the verification result. Semantic failures are reported
// here with Valid=false and a taxonomy label in Error, not as HTTP errors.
type VerifyResponse struct {
	Valid       bool     `json:"valid"`
	Payer       string   `json:"payer,omitempty"`
	Amount      string   `json:"amount,omitempty"`
	Token       string   `json:"token,omitempty"`
	Recipient   string   `json:"recipient,omitempty"`
	ValidBefore int64    `json:"validBefore,omitempty"`
	Error       string   `json:"error,omitempty"`
	Invoice     *Invoice `json:"invoice,omitempty"`
}

// SettleRequest asks the facilitator to finalize a payment on-chain.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
	Method              string              `json:"method,omitempty"`
}

// SettleResponse is the settlement result. State is the executing service's
// terminal transaction state; a timeout reports the last observed state.
type SettleResponse struct {
	Success             bool    `json:"success"`
	TransactionHash     string  `json:"transactionHash,omitempty"`
	CircleTransactionID string  `json:"circleTransactionId,omitempty"`
	State               string  `json:"state,omitempty"`
	Payer               string  `json:"payer,omitempty"`
	Network             Network `json:"network,omitempty"`
	ErrorReason         string  `json:"errorReason,omitempty"`
}

// OfferRequest asks the facilitator to issue a 402 offer for a route.
type OfferRequest struct {
	Method       string           `json:"method,omitempty"`
	Resource     string           `json:"resource"`
	Description  string           `json:"description,omitempty"`
	MimeType     string           `json:"mimeType,omitempty"`
	Amount       string           `json:"amount"`
	OutputSchema *json.RawMessage `json:"outputSchema,omitempty"`
	Networks     []Network        `json:"networks,omitempty"`
}

// SupportedKind is a single supported payment configuration.
type SupportedKind struct {
	X402Version int     `json:"x402Version"`
	Scheme      string  `json:"scheme"`
	Network     Network `json:"network"`
}

// SupportedResponse describes what payment kinds the facilitator supports.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// TransferRequest moves value to one destination wallet, funded from
// balances spread across chains. Amount is a decimal token string
// (e.g. "1.5"), not base units. SourceWallets narrows the funding set;
// empty means all configured wallets.
type TransferRequest struct {
	Amount             string   `json:"amount"`
	DestinationAddress string   `json:"destinationAddress"`
	Chain              string   `json:"chain"`
	Network            string   `json:"network"`
	SourceWallets      []string `json:"sourceWallets,omitempty"`
}

// TransferResponse reports a completed cross-chain transfer.
type TransferResponse struct {
	DepositTransactions   []string `json:"depositTransactions"`
	MintTransactions      []string `json:"mintTransactions"`
	DestinationBlockchain string   `json:"destinationBlockchain"`
	DestinationAddress    string   `json:"destinationAddress"`
	Amount                string   `json:"amount"`
}
