package evm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToBytes decodes a hex string with or without a "0x" prefix. The empty
// string and "0x" both decode to an empty slice.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return b, nil
}

// BytesToHex encodes bytes as a lowercase 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexToBytes32 decodes a hex string into exactly 32 bytes.
func HexToBytes32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToBytes(s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
