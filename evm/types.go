package evm

import "math/big"

// TypedDataDomain represents the EIP-712 domain separator. Unset fields
// are excluded from the domain struct hash and from the JSON form.
type TypedDataDomain struct {
	Name              string   `json:"name,omitempty"`
	Version           string   `json:"version,omitempty"`
	ChainID           *big.Int `json:"chainId,omitempty"`
	VerifyingContract string   `json:"verifyingContract,omitempty"`
}

// TypedDataField represents a field in EIP-712 typed data.
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypedData is the full signable document in the shape external signing
// services accept: domain, type definitions, primary type, and message.
type TypedData struct {
	Domain      TypedDataDomain             `json:"domain"`
	Types       map[string][]TypedDataField `json:"types"`
	PrimaryType string                      `json:"primaryType"`
	Message     map[string]interface{}      `json:"message"`
}

// Digest hashes the document with HashTypedData.
func (d *TypedData) Digest() ([]byte, error) {
	return HashTypedData(d.Domain, d.Types, d.PrimaryType, d.Message)
}

// Receipt represents the receipt of a mined transaction.
type Receipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// Transaction receipt status values.
const (
	TxStatusFailed  uint64 = 0
	TxStatusSuccess uint64 = 1
)
