package arcrelay

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestPaymentHeaderRoundTrip(t *testing.T) {
	// Mixed-case addresses must survive the round trip untouched.
	original := &PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "eip155:84532",
		Payload: ExactPayload{
			From:        "0xAbCd000000000000000000000000000000000001",
			To:          "0xefab000000000000000000000000000000000002",
			Value:       "1000000",
			ValidAfter:  1700000000,
			ValidBefore: 1700000600,
			Nonce:       "0x" + strings.Repeat("11", 32),
			Signature:   "0x" + strings.Repeat("22", 65),
		},
	}

	header, err := EncodePaymentHeader(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if *decoded != *original {
		t.Errorf("round trip changed payload:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestPaymentHeaderRoundTripSplitSignature(t *testing.T) {
	original := &PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "eip155:84532",
		Payload: ExactPayload{
			From:        "0xAbCd000000000000000000000000000000000001",
			To:          "0xEFab000000000000000000000000000000000002",
			Value:       "1000000",
			ValidAfter:  1700000000,
			ValidBefore: 1700000600,
			Nonce:       "0x" + strings.Repeat("11", 32),
			V:           27,
			R:           "0x" + strings.Repeat("33", 32),
			S:           "0x" + strings.Repeat("44", 32),
		},
	}

	header, err := EncodePaymentHeader(original)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *decoded != *original {
		t.Errorf("round trip changed payload:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestDecodePaymentHeaderRejectsMalformed(t *testing.T) {
	valid := map[string]interface{}{
		"x402Version": 1,
		"scheme":      "exact",
		"network":     "eip155:84532",
		"payload": map[string]interface{}{
			"from":        "0xAbCd000000000000000000000000000000000001",
			"to":          "0xefab000000000000000000000000000000000002",
			"value":       "1000000",
			"validAfter":  1700000000,
			"validBefore": 1700000600,
			"nonce":       "0x" + strings.Repeat("11", 32),
			"signature":   "0x" + strings.Repeat("22", 65),
		},
	}

	tests := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"not base64", "not~valid~base64!!"},
		{"not JSON", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"missing version", encodeWithout(t, valid, "x402Version", "")},
		{"missing scheme", encodeWithout(t, valid, "scheme", "")},
		{"missing network", encodeWithout(t, valid, "network", "")},
		{"missing payload", encodeWithout(t, valid, "payload", "")},
		{"missing from", encodeWithout(t, valid, "payload", "from")},
		{"missing value", encodeWithout(t, valid, "payload", "value")},
		{"missing nonce", encodeWithout(t, valid, "payload", "nonce")},
		{"missing validBefore", encodeWithout(t, valid, "payload", "validBefore")},
		{"missing signature", encodeWithout(t, valid, "payload", "signature")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePaymentHeader(tt.header); err == nil {
				t.Errorf("expected decode error, got nil")
			} else if KindOf(err) != KindValidation {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDecodePaymentHeaderAcceptsSplitSignature(t *testing.T) {
	raw := `{"x402Version":1,"scheme":"exact","network":"eip155:84532",` +
		`"payload":{"from":"0xA","to":"0xB","value":"1","validAfter":1,"validBefore":2,` +
		`"nonce":"0x11","v":27,"r":"0x33","s":"0x44"}}`
	header := base64.StdEncoding.EncodeToString([]byte(raw))

	payload, err := DecodePaymentHeader(header)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.Payload.V != 27 || payload.Payload.R != "0x33" || payload.Payload.S != "0x44" {
		t.Errorf("split signature not preserved: %+v", payload.Payload)
	}
}

// encodeWithout re-encodes the valid fixture with one field dropped. An
// empty inner name drops a top-level field, otherwise a payload field.
func encodeWithout(t *testing.T, fixture map[string]interface{}, outer, inner string) string {
	t.Helper()

	clone := make(map[string]interface{}, len(fixture))
	for k, v := range fixture {
		clone[k] = v
	}
	if inner == "" {
		delete(clone, outer)
	} else {
		payload := fixture[outer].(map[string]interface{})
		payloadClone := make(map[string]interface{}, len(payload))
		for k, v := range payload {
			payloadClone[k] = v
		}
		delete(payloadClone, inner)
		clone[outer] = payloadClone
	}

	data, err := json.Marshal(clone)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data)
}
