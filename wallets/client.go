package wallets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kij-exe/ArcRelay/evm"
)

// Client is the HTTP implementation of Service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientConfig configures the wallet-service client.
type ClientConfig struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token on every request.
	APIKey string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s).
	Timeout time.Duration
}

// NewClient creates a wallet-service client.
func NewClient(config ClientConfig) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    config.BaseURL,
		apiKey:     config.APIKey,
		httpClient: httpClient,
	}
}

var _ Service = (*Client)(nil)

// CreateWallet provisions a wallet on the given blockchain.
func (c *Client) CreateWallet(ctx context.Context, blockchain, name string) (*Wallet, error) {
	body := map[string]interface{}{
		"idempotencyKey": uuid.NewString(),
		"blockchains":    []string{blockchain},
	}
	if name != "" {
		body["name"] = name
	}

	var response struct {
		Wallets []Wallet `json:"wallets"`
	}
	if err := c.do(ctx, "POST", "/wallets", body, &response); err != nil {
		return nil, err
	}
	if len(response.Wallets) == 0 {
		return nil, fmt.Errorf("wallet service returned no wallets")
	}
	return &response.Wallets[0], nil
}

// GetWallet returns a wallet by id.
func (c *Client) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	var response struct {
		Wallet Wallet `json:"wallet"`
	}
	if err := c.do(ctx, "GET", "/wallets/"+walletID, nil, &response); err != nil {
		return nil, err
	}
	return &response.Wallet, nil
}

// ListBalances returns the wallet's token positions.
func (c *Client) ListBalances(ctx context.Context, walletID string) ([]Balance, error) {
	var response struct {
		TokenBalances []Balance `json:"tokenBalances"`
	}
	if err := c.do(ctx, "GET", "/wallets/"+walletID+"/balances", nil, &response); err != nil {
		return nil, err
	}
	return response.TokenBalances, nil
}

// ExecuteContract submits a contract call through the wallet.
func (c *Client) ExecuteContract(ctx context.Context, req ExecuteRequest) (*Transaction, error) {
	body := map[string]interface{}{
		"idempotencyKey":       uuid.NewString(),
		"walletId":             req.WalletID,
		"contractAddress":      req.ContractAddress,
		"abiFunctionSignature": req.ABIFunctionSignature,
		"abiParameters":        req.ABIParameters,
	}
	if req.RefID != "" {
		body["refId"] = req.RefID
	}

	var response Transaction
	if err := c.do(ctx, "POST", "/transactions/contractExecution", body, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetTransaction returns the current state of a submitted call.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	var response struct {
		Transaction Transaction `json:"transaction"`
	}
	if err := c.do(ctx, "GET", "/transactions/"+transactionID, nil, &response); err != nil {
		return nil, err
	}
	return &response.Transaction, nil
}

// SignTypedData has the wallet sign the typed-data document. The document
// travels as a JSON string, the form typed-data signing endpoints accept.
func (c *Client) SignTypedData(ctx context.Context, walletID string, typedData *evm.TypedData) (string, error) {
	data, err := json.Marshal(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}

	body := map[string]interface{}{
		"walletId": walletID,
		"data":     string(data),
	}

	var response struct {
		Signature string `json:"signature"`
	}
	if err := c.do(ctx, "POST", "/sign/typedData", body, &response); err != nil {
		return "", err
	}
	if response.Signature == "" {
		return "", fmt.Errorf("wallet service returned an empty signature")
	}
	return response.Signature, nil
}

// do performs one JSON request against the service and decodes a 2xx
// response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet service request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("wallet service %s %s failed (%d): %s", method, path, resp.StatusCode, string(responseBody))
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
