package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferAuthorization is an EIP-3009 TransferWithAuthorization message:
// an off-chain-signed intent to move Value from From to To, redeemable once
// on-chain and only inside (ValidAfter, ValidBefore).
type TransferAuthorization struct {
	From        string // Ethereum address (hex)
	To          string // Ethereum address (hex)
	Value       string // Amount in base units as decimal string
	ValidAfter  int64  // Unix seconds
	ValidBefore int64  // Unix seconds
	Nonce       string // 32-byte nonce as hex string
}

// TransferAuthorizationTypes returns the EIP-712 type definitions for the
// flat six-field TransferWithAuthorization schema.
func TransferAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// TransferAuthorizationMessage converts the authorization into the typed-data
// message map, with checksummed addresses and parsed scalar values.
func TransferAuthorizationMessage(auth TransferAuthorization) (map[string]interface{}, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid authorization value: %s", auth.Value)
	}
	nonceBytes, err := HexToBytes(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonceBytes) != 32 {
		return nil, fmt.Errorf("nonce must be 32 bytes, got %d", len(nonceBytes))
	}

	// Ensure addresses are checksummed
	from := common.HexToAddress(auth.From).Hex()
	to := common.HexToAddress(auth.To).Hex()

	return map[string]interface{}{
		"from":        from,
		"to":          to,
		"value":       value,
		"validAfter":  big.NewInt(auth.ValidAfter),
		"validBefore": big.NewInt(auth.ValidBefore),
		"nonce":       nonceBytes,
	}, nil
}

// HashTransferAuthorization hashes a TransferWithAuthorization message for
// the token contract described by the domain.
//
// Args:
//
//	auth: The transfer authorization data
//	domain: The token's EIP-712 domain (name, version, chainId, contract)
//
// Returns:
//
//	32-byte digest suitable for signing or verification
//	error if hashing fails
func HashTransferAuthorization(auth TransferAuthorization, domain TypedDataDomain) ([]byte, error) {
	message, err := TransferAuthorizationMessage(auth)
	if err != nil {
		return nil, err
	}
	return HashTypedData(domain, TransferAuthorizationTypes(), "TransferWithAuthorization", message)
}
