package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the byte length of an r||s||v signature.
const SignatureLength = 65

var secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// ParseSignature decodes and canonicalizes a 65-byte r||s||v signature from
// its hex form. A recovery id of 0/1 is normalized to 27/28; any other v
// outside {27, 28} is rejected, as is a non-canonical (malleable) s. These
// checks run before any recovery attempt.
func ParseSignature(signatureHex string) ([]byte, error) {
	signature, err := HexToBytes(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	return CanonicalizeSignature(signature)
}

// CombineSignature assembles a 65-byte signature from split v, r, s values.
func CombineSignature(v uint8, rHex, sHex string) ([]byte, error) {
	r, err := HexToBytes32(rHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature r: %w", err)
	}
	s, err := HexToBytes32(sHex)
	if err != nil {
		return nil, fmt.Errorf("invalid signature s: %w", err)
	}

	signature := make([]byte, SignatureLength)
	copy(signature[0:32], r[:])
	copy(signature[32:64], s[:])
	signature[64] = v
	return CanonicalizeSignature(signature)
}

// CanonicalizeSignature enforces the shape and malleability rules on an
// r||s||v signature and returns a copy with v in {27, 28}.
func CanonicalizeSignature(signature []byte) ([]byte, error) {
	if len(signature) != SignatureLength {
		return nil, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	out := make([]byte, SignatureLength)
	copy(out, signature)

	switch v := out[64]; {
	case v == 0 || v == 1:
		out[64] = v + 27
	case v == 27 || v == 28:
	default:
		return nil, fmt.Errorf("invalid signature v: %d", v)
	}

	r := new(big.Int).SetBytes(out[0:32])
	s := new(big.Int).SetBytes(out[32:64])
	if r.Sign() == 0 || s.Sign() == 0 {
		return nil, fmt.Errorf("signature r and s must be non-zero")
	}
	if r.Cmp(crypto.S256().Params().N) >= 0 {
		return nil, fmt.Errorf("signature r out of range")
	}
	if s.Cmp(secp256k1HalfN) > 0 {
		return nil, fmt.Errorf("non-canonical signature s")
	}

	return out, nil
}

// RecoverSigner recovers the signing address from a digest and a canonical
// signature. Recovering successfully to an unexpected address is not an
// error here; address comparison is the caller's concern.
func RecoverSigner(digest []byte, signature []byte) (string, error) {
	signature, err := CanonicalizeSignature(signature)
	if err != nil {
		return "", err
	}

	// Recovery wants the 0/1 recovery id form.
	sigCopy := make([]byte, SignatureLength)
	copy(sigCopy, signature)
	sigCopy[64] -= 27

	pubKey, err := crypto.SigToPub(digest, sigCopy)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return common.HexToAddress(a) == common.HexToAddress(b)
}
