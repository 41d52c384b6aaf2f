// Package client is the HTTP client for the relay API, used by resource
// servers and reverse proxies that front paid routes: offer issuance,
// payment verification, settlement, and cross-chain transfers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/wallets"
)

// Client communicates with one relay instance.
type Client struct {
	url            string
	httpClient     *http.Client
	transferClient *http.Client
}

// Config configures the relay client.
type Config struct {
	// URL is the base URL of the relay service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// TransferTimeout bounds cross-chain transfers, which hold the request
	// open through deposits, attestation, and destination mints (optional,
	// defaults to 10m)
	TransferTimeout time.Duration
}

// supportedRetries is the number of attempts for Supported on 429 rate
// limit responses.
const supportedRetries = 3

// supportedRetryBaseDelay is the base delay for exponential backoff on
// retries.
const supportedRetryBaseDelay = 1 * time.Second

// New creates a relay client.
func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	transferTimeout := config.TransferTimeout
	if transferTimeout == 0 {
		transferTimeout = 10 * time.Minute
	}

	return &Client{
		url:            strings.TrimSuffix(config.URL, "/"),
		httpClient:     httpClient,
		transferClient: &http.Client{Timeout: transferTimeout},
	}
}

// Verify asks the relay whether a payment would settle. Semantic failures
// come back as {valid:false, error, invoice} with a nil Go error.
func (c *Client) Verify(ctx context.Context, req arcrelay.VerifyRequest) (*arcrelay.VerifyResponse, error) {
	var out arcrelay.VerifyResponse
	if err := c.post(ctx, c.httpClient, "/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the relay to execute a payment on-chain and waits for the
// terminal result.
func (c *Client) Settle(ctx context.Context, req arcrelay.SettleRequest) (*arcrelay.SettleResponse, error) {
	var out arcrelay.SettleResponse
	if err := c.post(ctx, c.httpClient, "/settle", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BuildOffer requests a 402 offer body for a route. The fronting proxy
// relays it to the caller verbatim.
func (c *Client) BuildOffer(ctx context.Context, req arcrelay.OfferRequest) (*arcrelay.PaymentRequired, error) {
	var out arcrelay.PaymentRequired
	if err := c.post(ctx, c.httpClient, "/offer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transfer moves value cross-chain to one destination wallet. The request
// stays open until every destination mint lands, so it runs on its own
// longer timeout.
func (c *Client) Transfer(ctx context.Context, req arcrelay.TransferRequest) (*arcrelay.TransferResponse, error) {
	var out arcrelay.TransferResponse
	if err := c.post(ctx, c.transferClient, "/transfer", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWallet provisions a custodial wallet on the given blockchain.
func (c *Client) CreateWallet(ctx context.Context, blockchain, name string) (*wallets.Wallet, error) {
	var out wallets.Wallet
	body := map[string]string{"blockchain": blockchain, "name": name}
	if err := c.post(ctx, c.httpClient, "/wallets", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported returns the payment kinds the relay accepts. Retries up to 3
// times with exponential backoff on 429 rate limit responses.
func (c *Client) Supported(ctx context.Context) (arcrelay.SupportedResponse, error) {
	var lastErr error

	for attempt := range supportedRetries {
		req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/supported", nil)
		if err != nil {
			return arcrelay.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return arcrelay.SupportedResponse{}, fmt.Errorf("supported request failed: %w", err)
		}

		responseBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return arcrelay.SupportedResponse{}, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var supported arcrelay.SupportedResponse
			if err := json.Unmarshal(responseBody, &supported); err != nil {
				return arcrelay.SupportedResponse{}, fmt.Errorf("failed to decode supported response: %w", err)
			}
			return supported, nil
		}

		lastErr = fmt.Errorf("relay supported failed (%d): %s", resp.StatusCode, string(responseBody))

		// Retry on 429 with exponential backoff, except on the last attempt
		if resp.StatusCode == http.StatusTooManyRequests && attempt < supportedRetries-1 {
			delay := supportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return arcrelay.SupportedResponse{}, ctx.Err()
			}
		}

		return arcrelay.SupportedResponse{}, lastErr
	}

	return arcrelay.SupportedResponse{}, lastErr
}

func (c *Client) post(ctx context.Context, httpClient *http.Client, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay %s failed (%d): %s", path, resp.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// SetPaymentHeader encodes the payment and attaches it to the request's
// X-PAYMENT header.
func SetPaymentHeader(req *http.Request, payload *arcrelay.PaymentPayload) error {
	header, err := arcrelay.EncodePaymentHeader(payload)
	if err != nil {
		return err
	}
	req.Header.Set(arcrelay.HeaderPayment, header)
	return nil
}

// SignPayment builds and signs a payment for one accepts entry of a 402
// offer. The window opens a minute in the past to absorb clock skew
// between payer and verifier and closes after the offer's timeout.
func SignPayment(signer *evm.ClientSigner, requirements arcrelay.PaymentRequirements, now time.Time) (*arcrelay.PaymentPayload, error) {
	window := time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	if window == 0 {
		window = 5 * time.Minute
	}

	auth := evm.TransferAuthorization{
		From:        signer.Address(),
		To:          requirements.PayTo,
		Value:       requirements.MaxAmountRequired,
		ValidAfter:  now.Add(-time.Minute).Unix(),
		ValidBefore: now.Add(window).Unix(),
		Nonce:       requirements.Nonce,
	}
	domain := evm.TypedDataDomain{
		Name:              requirements.EIP712Domain.Name,
		Version:           requirements.EIP712Domain.Version,
		ChainID:           big.NewInt(requirements.EIP712Domain.ChainID),
		VerifyingContract: requirements.EIP712Domain.VerifyingContract,
	}

	digest, err := evm.HashTransferAuthorization(auth, domain)
	if err != nil {
		return nil, err
	}
	signature, err := signer.SignDigest(digest)
	if err != nil {
		return nil, err
	}

	return &arcrelay.PaymentPayload{
		X402Version: 1,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload: arcrelay.ExactPayload{
			From:        auth.From,
			To:          auth.To,
			Value:       auth.Value,
			ValidAfter:  auth.ValidAfter,
			ValidBefore: auth.ValidBefore,
			Nonce:       auth.Nonce,
			Signature:   evm.BytesToHex(signature),
		},
	}, nil
}
