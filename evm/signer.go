package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ClientSigner signs EIP-712 typed data with a local ECDSA private key.
// Payer-side tooling and tests use it; the facilitator itself never holds
// payer keys.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSigner creates a signer from a hex-encoded private key, with or
// without a "0x" prefix.
func NewClientSigner(privateKeyHex string) (*ClientSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData signs EIP-712 typed data, returning a 65-byte r||s||v
// signature with v in {27, 28}.
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}
	return s.SignDigest(digest)
}

// SignDigest signs a 32-byte digest directly.
func (s *ClientSigner) SignDigest(digest []byte) ([]byte, error) {
	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 -> 27/28)
	signature[64] += 27

	return signature, nil
}
