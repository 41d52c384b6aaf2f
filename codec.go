package arcrelay

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
)

// Request headers carrying an encoded payment. Both names are accepted on
// the way in; clients send HeaderPayment.
const (
	HeaderPayment = "X-PAYMENT"
	HeaderToken   = "X-TOKEN"
)

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// EncodePaymentHeader encodes a payment payload into the base64 JSON form
// carried in the X-Payment header. Field values pass through untouched, so
// encode-then-decode is identity-preserving, including address casing.
func EncodePaymentHeader(payload *PaymentPayload) (string, error) {
	if payload == nil {
		return "", NewError(KindValidation, "payment payload is nil")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", WrapError(KindValidation, err, "payment payload is not serializable")
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader validates and decodes a payment header string.
// It checks, in order:
// - base64 format
// - JSON structure
// - required fields and their types
//
// Returns the decoded PaymentPayload, or a validation error with a
// descriptive message.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	if header == "" {
		return nil, NewError(KindValidation, "payment header is empty")
	}
	if !base64Regex.MatchString(header) {
		return nil, NewError(KindValidation, "invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, WrapError(KindValidation, err, "invalid payment header format: base64 decoding failed")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(decoded, &raw); err != nil {
		return nil, WrapError(KindValidation, err, "invalid payment header format: not valid JSON")
	}

	if _, exists := raw["x402Version"]; !exists {
		return nil, NewError(KindValidation, "missing required field: x402Version")
	}
	if version, ok := raw["x402Version"].(float64); !ok {
		return nil, NewError(KindValidation, "invalid field type: x402Version must be a number")
	} else if int(version) < 1 {
		return nil, NewError(KindValidation, "invalid value: x402Version must be at least 1")
	}

	for _, field := range []string{"scheme", "network"} {
		if _, exists := raw[field]; !exists {
			return nil, NewError(KindValidation, "missing required field: %s", field)
		}
		if _, ok := raw[field].(string); !ok {
			return nil, NewError(KindValidation, "invalid field type: %s must be a string", field)
		}
	}

	if _, exists := raw["payload"]; !exists {
		return nil, NewError(KindValidation, "missing required field: payload")
	}
	inner, ok := raw["payload"].(map[string]interface{})
	if !ok {
		return nil, NewError(KindValidation, "invalid field type: payload must be an object")
	}

	for _, field := range []string{"from", "to", "value", "nonce"} {
		if _, exists := inner[field]; !exists {
			return nil, NewError(KindValidation, "missing required field: payload.%s", field)
		}
		if _, ok := inner[field].(string); !ok {
			return nil, NewError(KindValidation, "invalid field type: payload.%s must be a string", field)
		}
	}
	for _, field := range []string{"validAfter", "validBefore"} {
		if _, exists := inner[field]; !exists {
			return nil, NewError(KindValidation, "missing required field: payload.%s", field)
		}
		if _, ok := inner[field].(float64); !ok {
			return nil, NewError(KindValidation, "invalid field type: payload.%s must be a number", field)
		}
	}

	// The signature arrives either as one 65-byte blob or split into v/r/s.
	if _, hasBlob := inner["signature"].(string); !hasBlob {
		_, hasR := inner["r"].(string)
		_, hasS := inner["s"].(string)
		_, hasV := inner["v"].(float64)
		if !hasR || !hasS || !hasV {
			return nil, NewError(KindValidation, "missing required field: payload.signature or payload.{v,r,s}")
		}
	}

	var payload PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, WrapError(KindValidation, err, "failed to parse payment payload")
	}
	return &payload, nil
}
