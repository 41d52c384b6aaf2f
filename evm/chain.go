package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kij-exe/ArcRelay/poll"
)

// ChainClient is the blockchain read/write transport: view reads, signed
// contract calls, and receipt waits. Arguments are passed in their ABI
// types (common.Address, *big.Int, [32]byte and so on).
type ChainClient interface {
	// BlockNumber returns the current head block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// ReadContract calls a view function and returns its first output.
	ReadContract(ctx context.Context, address string, abiJSON []byte, method string, args ...interface{}) (interface{}, error)

	// WriteContract submits a signed contract call and returns the
	// transaction hash without waiting for inclusion.
	WriteContract(ctx context.Context, address string, abiJSON []byte, method string, args ...interface{}) (string, error)

	// WaitForReceipt polls until the transaction is mined.
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
}

// RPCChainClient implements ChainClient over a JSON-RPC endpoint. Writes
// are signed with the configured key and funded by its account, which is
// how relayer-paid destination mints work: the relayer pays gas while the
// minted funds go to whoever the burn intent names.
type RPCChainClient struct {
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	// Receipt polling bounds, attempts x interval.
	ReceiptAttempts int
	ReceiptInterval time.Duration
	// Gas ceiling for writes.
	GasLimit uint64
}

// DialChainClient connects to an RPC endpoint. privateKeyHex may be empty
// for a read-only client; writes then fail.
func DialChainClient(ctx context.Context, rpcURL, privateKeyHex string) (*RPCChainClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc endpoint: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("querying chain id: %w", err)
	}

	c := &RPCChainClient{
		client:          client,
		chainID:         chainID,
		ReceiptAttempts: 30,
		ReceiptInterval: time.Second,
		GasLimit:        300000,
	}

	if privateKeyHex != "" {
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		c.privateKey = privateKey
		c.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}

	return c, nil
}

// Address returns the writing account, or the zero address for a
// read-only client.
func (c *RPCChainClient) Address() string {
	return c.address.Hex()
}

// ChainID returns the connected chain's id.
func (c *RPCChainClient) ChainID() *big.Int {
	return c.chainID
}

// Close releases the underlying RPC connection.
func (c *RPCChainClient) Close() {
	c.client.Close()
}

func (c *RPCChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	number, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("querying block number: %w", err)
	}
	return number, nil
}

func (c *RPCChainClient) ReadContract(
	ctx context.Context,
	address string,
	abiJSON []byte,
	method string,
	args ...interface{},
) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	to := common.HexToAddress(address)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}

	outputs, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	if len(outputs) == 1 {
		return outputs[0], nil
	}
	return outputs, nil
}

func (c *RPCChainClient) WriteContract(
	ctx context.Context,
	address string,
	abiJSON []byte,
	method string,
	args ...interface{},
) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("chain client is read-only: no signing key configured")
	}

	contractABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack method call: %w", err)
	}

	nonce, err := c.client.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(address)
	tx := ethtypes.NewTransaction(nonce, to, big.NewInt(0), c.GasLimit, gasPrice, data)

	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

func (c *RPCChainClient) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	hash := common.HexToHash(txHash)

	receipt, err := poll.Until(ctx, c.ReceiptAttempts, c.ReceiptInterval,
		func(ctx context.Context) (*Receipt, bool, error) {
			r, err := c.client.TransactionReceipt(ctx, hash)
			if err != nil || r == nil {
				// Not mined yet, or a transient RPC fault; keep polling.
				return nil, false, nil
			}
			return &Receipt{
				Status:      r.Status,
				BlockNumber: r.BlockNumber.Uint64(),
				TxHash:      r.TxHash.Hex(),
			}, true, nil
		})
	if err != nil {
		return nil, fmt.Errorf("waiting for transaction %s: %w", txHash, err)
	}
	return receipt, nil
}
