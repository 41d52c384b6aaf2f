package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func signedTestDigest(t *testing.T) (digest []byte, signature []byte, address string) {
	t.Helper()

	signer, err := NewClientSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewClientSigner failed: %v", err)
	}
	digest = crypto.Keccak256([]byte("settlement test message"))
	signature, err = signer.SignDigest(digest)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	return digest, signature, signer.Address()
}

func TestRecoverSignerIdentity(t *testing.T) {
	digest, signature, address := signedTestDigest(t)

	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if !SameAddress(recovered, address) {
		t.Errorf("recovered %s, want %s", recovered, address)
	}
}

func TestRecoverSignerRejectsOrMismatchesMutatedSignature(t *testing.T) {
	digest, signature, address := signedTestDigest(t)

	// Any single-bit mutation must either fail recovery or recover a
	// different address.
	for _, position := range []int{0, 5, 31, 32, 40, 63} {
		mutated := make([]byte, len(signature))
		copy(mutated, signature)
		mutated[position] ^= 0x01

		recovered, err := RecoverSigner(digest, mutated)
		if err != nil {
			continue
		}
		if SameAddress(recovered, address) {
			t.Errorf("bit flip at byte %d still recovered the original signer", position)
		}
	}
}

func TestCanonicalizeSignatureNormalizesRecoveryID(t *testing.T) {
	_, signature, _ := signedTestDigest(t)

	raw := make([]byte, len(signature))
	copy(raw, signature)
	raw[64] -= 27 // back to the 0/1 recovery id form

	canonical, err := CanonicalizeSignature(raw)
	if err != nil {
		t.Fatalf("canonicalize failed: %v", err)
	}
	if canonical[64] != signature[64] {
		t.Errorf("v = %d, want %d", canonical[64], signature[64])
	}
}

func TestCanonicalizeSignatureRejectsBadV(t *testing.T) {
	_, signature, _ := signedTestDigest(t)

	for _, v := range []byte{2, 26, 29, 255} {
		bad := make([]byte, len(signature))
		copy(bad, signature)
		bad[64] = v
		if _, err := CanonicalizeSignature(bad); err == nil {
			t.Errorf("v=%d accepted, want rejection", v)
		}
	}
}

func TestCanonicalizeSignatureRejectsMalleableS(t *testing.T) {
	_, signature, _ := signedTestDigest(t)

	// Substitute s with its curve-order complement: the classic
	// malleability twin of a valid signature.
	s := new(big.Int).SetBytes(signature[32:64])
	sPrime := new(big.Int).Sub(crypto.S256().Params().N, s)

	malleable := make([]byte, len(signature))
	copy(malleable, signature)
	sPrime.FillBytes(malleable[32:64])
	if malleable[64] == 27 {
		malleable[64] = 28
	} else {
		malleable[64] = 27
	}

	if _, err := CanonicalizeSignature(malleable); err == nil {
		t.Error("high-s signature accepted, want rejection")
	}
}

func TestCanonicalizeSignatureRejectsBadLength(t *testing.T) {
	for _, length := range []int{0, 64, 66} {
		if _, err := CanonicalizeSignature(make([]byte, length)); err == nil {
			t.Errorf("length %d accepted, want rejection", length)
		}
	}
}

func TestCanonicalizeSignatureRejectsZeroValues(t *testing.T) {
	zero := make([]byte, SignatureLength)
	zero[64] = 27
	if _, err := CanonicalizeSignature(zero); err == nil {
		t.Error("zero r/s accepted, want rejection")
	}
}

func TestCombineSignatureMatchesBlob(t *testing.T) {
	_, signature, _ := signedTestDigest(t)

	combined, err := CombineSignature(
		signature[64],
		BytesToHex(signature[0:32]),
		BytesToHex(signature[32:64]),
	)
	if err != nil {
		t.Fatalf("combine failed: %v", err)
	}

	blob, err := ParseSignature(BytesToHex(signature))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if string(combined) != string(blob) {
		t.Error("split and blob forms disagree")
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0x96216849c49358B10257cb55b28eA603c874b05E", "0x96216849c49358b10257cb55b28ea603c874b05e") {
		t.Error("case-insensitive address compare failed")
	}
	if SameAddress("0x96216849c49358B10257cb55b28eA603c874b05E", "0x1111111111111111111111111111111111111111") {
		t.Error("distinct addresses compared equal")
	}
}
