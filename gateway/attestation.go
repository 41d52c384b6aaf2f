package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/poll"
)

// SignedBurnIntent pairs a burn intent with the depositor's signature over
// its typed-data digest.
type SignedBurnIntent struct {
	BurnIntent evm.BurnIntent
	Signature  string // 65-byte signature, 0x-hex
}

// Attestation authorizes one destination mint. Attestation is the payload
// handed to the minter contract; Signature is the service's signature over
// it. Both are 0x-hex byte strings.
type Attestation struct {
	Attestation string `json:"attestation"`
	Signature   string `json:"signature"`
}

// AttestationService is the cross-chain coordination API: it attests signed
// burn intents once their escrow deposits are indexed, and reports the
// index's view of deposit balances per (domain, depositor).
type AttestationService interface {
	Attest(ctx context.Context, intents []SignedBurnIntent) ([]Attestation, error)
	DepositBalance(ctx context.Context, token string, domain uint32, depositor string) (*big.Int, error)
}

// AttestationClient is the HTTP implementation of AttestationService.
type AttestationClient struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	interval   time.Duration
}

// AttestationClientConfig configures the attestation-service client.
type AttestationClientConfig struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s).
	Timeout time.Duration

	// SubmitAttempts and SubmitInterval bound re-submission of a transfer
	// batch while the service catches up with on-chain deposits (optional,
	// default 12 attempts 5s apart).
	SubmitAttempts int
	SubmitInterval time.Duration
}

// NewAttestationClient creates an attestation-service client.
func NewAttestationClient(config AttestationClientConfig) *AttestationClient {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	attempts := config.SubmitAttempts
	if attempts == 0 {
		attempts = 12
	}
	interval := config.SubmitInterval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &AttestationClient{
		baseURL:    config.BaseURL,
		httpClient: httpClient,
		attempts:   attempts,
		interval:   interval,
	}
}

var _ AttestationService = (*AttestationClient)(nil)

// Attest submits the signed intents as one batch and returns one
// attestation per intent, in order. The service rejects intents whose
// deposits it has not indexed yet, so transient rejections (connection
// faults, 429, 5xx) are polled through within the submit budget rather
// than failed on first sight.
func (c *AttestationClient) Attest(ctx context.Context, intents []SignedBurnIntent) ([]Attestation, error) {
	if len(intents) == 0 {
		return nil, fmt.Errorf("no burn intents to attest")
	}

	body := make([]map[string]interface{}, 0, len(intents))
	for _, intent := range intents {
		message, err := evm.BurnIntentMessage(intent.BurnIntent)
		if err != nil {
			return nil, fmt.Errorf("encoding burn intent: %w", err)
		}
		body = append(body, map[string]interface{}{
			"burnIntent": message,
			"signature":  intent.Signature,
		})
	}

	var lastFailure error
	attestations, err := poll.Until(ctx, c.attempts, c.interval,
		func(ctx context.Context) ([]Attestation, bool, error) {
			var response struct {
				Transfers []Attestation `json:"transfers"`
			}
			retryable, err := c.post(ctx, "/v1/transfer", body, &response)
			if err != nil {
				if retryable {
					lastFailure = err
					return nil, false, nil
				}
				return nil, false, err
			}
			return response.Transfers, true, nil
		})
	if err != nil {
		if lastFailure != nil && arcrelay.IsKind(err, arcrelay.KindTimeout) {
			return nil, arcrelay.WrapError(arcrelay.KindTimeout, lastFailure,
				"attestation service did not accept the transfer batch")
		}
		return nil, err
	}

	if len(attestations) != len(intents) {
		return nil, fmt.Errorf("attestation service returned %d attestations for %d intents",
			len(attestations), len(intents))
	}
	return attestations, nil
}

// DepositBalance returns the index's base-unit deposit balance for the
// depositor on the given protocol domain. A depositor the index has not
// seen yet reports zero. Single attempt; callers that need to wait for the
// index to catch up poll this themselves.
func (c *AttestationClient) DepositBalance(ctx context.Context, token string, domain uint32, depositor string) (*big.Int, error) {
	body := map[string]interface{}{
		"token": token,
		"sources": []map[string]interface{}{
			{"domain": domain, "depositor": depositor},
		},
	}

	var response struct {
		Balances []struct {
			Domain    uint32 `json:"domain"`
			Depositor string `json:"depositor"`
			Balance   string `json:"balance"`
		} `json:"balances"`
	}
	if _, err := c.post(ctx, "/v1/balances", body, &response); err != nil {
		return nil, err
	}

	for _, entry := range response.Balances {
		if entry.Domain != domain || !evm.SameAddress(entry.Depositor, depositor) {
			continue
		}
		balance, ok := new(big.Int).SetString(entry.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("attestation service returned unparseable balance %q", entry.Balance)
		}
		return balance, nil
	}
	return big.NewInt(0), nil
}

// post performs one JSON POST and decodes a 2xx response into out. The
// bool reports whether a failure is transient and worth retrying.
func (c *AttestationClient) post(ctx context.Context, path string, body, out interface{}) (bool, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("attestation service request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, fmt.Errorf("attestation service %s failed (%d): %s", path, resp.StatusCode, string(responseBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("attestation service %s failed (%d): %s", path, resp.StatusCode, string(responseBody))
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return false, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return false, nil
}
