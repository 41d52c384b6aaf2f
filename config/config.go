// Package config loads the service configuration from a TOML file with
// environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full service configuration.
type Config struct {
	Server        Server
	WalletService WalletService
	Facilitator   Facilitator
	Gateway       Gateway

	// Networks is keyed by context name (e.g. "baseSepolia").
	Networks map[string]Network
}

// Server configures the HTTP listener.
type Server struct {
	ListenAddress        string
	VerifyTimeoutSeconds int
	SettleTimeoutSeconds int
	LogLevel             string
}

// WalletService locates the managed-wallet service. APIKey is taken from the
// WALLET_SERVICE_API_KEY environment variable when set.
type WalletService struct {
	BaseURL string
	APIKey  string
}

// Facilitator holds verification and settlement tunables.
type Facilitator struct {
	// OfferTimeoutSeconds bounds how long an issued offer (and its nonce)
	// stays redeemable.
	OfferTimeoutSeconds int

	SettlePollAttempts   int
	SettlePollIntervalMS int

	// NonceStore selects the registry backend: "memory" or "mysql".
	NonceStore string
	MysqlDSN   string
}

// SettlePollInterval returns the settle polling interval as a duration.
func (f Facilitator) SettlePollInterval() time.Duration {
	return time.Duration(f.SettlePollIntervalMS) * time.Millisecond
}

// Gateway holds cross-chain transfer tunables. RelayerPrivateKey is taken
// from the RELAYER_PRIVATE_KEY environment variable only.
type Gateway struct {
	// FeeBps is the per-draw transfer fee in basis points. Deposits carry
	// amount+fee; burn intents carry amount with maxFee set to the fee.
	FeeBps int64

	// SourceWallets is the default funding wallet set for transfers that
	// name none.
	SourceWallets []string

	// TransferRetries caps attempts, including the first, of each on-chain
	// transfer step.
	TransferRetries int

	// MaxBlockHeightBuffer is added to the source chain head to form each
	// burn intent's maxBlockHeight.
	MaxBlockHeightBuffer uint64

	BalancePollAttempts   int
	BalancePollIntervalMS int

	AttestationURL            string
	AttestationPollAttempts   int
	AttestationPollIntervalMS int

	RelayerPrivateKey string
}

// BalancePollInterval returns the balance-index polling interval.
func (g Gateway) BalancePollInterval() time.Duration {
	return time.Duration(g.BalancePollIntervalMS) * time.Millisecond
}

// AttestationPollInterval returns the attestation polling interval.
func (g Gateway) AttestationPollInterval() time.Duration {
	return time.Duration(g.AttestationPollIntervalMS) * time.Millisecond
}

// Network describes one supported chain context.
type Network struct {
	// Name is the context key used in transfer requests (e.g. "baseSepolia").
	Name string

	// Network is the CAIP-2 identifier carried on the wire (e.g. "eip155:84532").
	Network string

	// Environment groups contexts into "testnet" or "mainnet".
	Environment string

	ChainID int64

	// Domain is the transfer-protocol domain id, distinct from the chain id.
	Domain uint32

	RPCURL string

	// PayTo is the receiving address quoted in offers on this network.
	PayTo string

	// SettlementWallet is the wallet-service wallet id that submits
	// settlement transactions on this network.
	SettlementWallet string

	GatewayWallet string
	GatewayMinter string

	USDC Token
}

// Token describes the settlement token on one network.
type Token struct {
	Address  string
	Name     string
	Version  string
	Decimals int

	// Names is the allow-list of human-readable token names treated as this
	// token when aggregating wallet balances.
	Names []string
}

type fileConfig struct {
	Server        Server
	WalletService WalletService
	Facilitator   Facilitator
	Gateway       Gateway
	Networks      []Network
}

// Load reads the TOML file at path, applies defaults and environment
// overrides, and validates the network table.
func Load(path string) (*Config, error) {
	all := &fileConfig{}
	if _, err := toml.DecodeFile(path, all); err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return build(all)
}

func build(all *fileConfig) (*Config, error) {
	cfg := &Config{
		Server:        all.Server,
		WalletService: all.WalletService,
		Facilitator:   all.Facilitator,
		Gateway:       all.Gateway,
		Networks:      make(map[string]Network),
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	for _, n := range all.Networks {
		if n.Name == "" {
			return nil, fmt.Errorf("network entry is missing a name")
		}
		if _, ok := cfg.Networks[n.Name]; ok {
			return nil, fmt.Errorf("duplicate network %s", n.Name)
		}
		if n.ChainID == 0 {
			return nil, fmt.Errorf("network %s is missing a chain id", n.Name)
		}
		// RPCURL may be empty: such a context still verifies and settles
		// through the wallet service, it just cannot run the on-chain
		// replay read or receive mints.
		if n.USDC.Address == "" {
			return nil, fmt.Errorf("network %s is missing a token address", n.Name)
		}
		if n.Network == "" {
			n.Network = fmt.Sprintf("eip155:%d", n.ChainID)
		}
		if n.Environment == "" {
			n.Environment = "testnet"
		}
		if n.USDC.Name == "" {
			n.USDC.Name = "USDC"
		}
		if n.USDC.Version == "" {
			n.USDC.Version = "2"
		}
		if n.USDC.Decimals == 0 {
			n.USDC.Decimals = 6
		}
		if len(n.USDC.Names) == 0 {
			n.USDC.Names = []string{"USDC", "USD Coin"}
		}
		cfg.Networks[n.Name] = n
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":4022"
	}
	if cfg.Server.VerifyTimeoutSeconds == 0 {
		cfg.Server.VerifyTimeoutSeconds = 30
	}
	if cfg.Server.SettleTimeoutSeconds == 0 {
		cfg.Server.SettleTimeoutSeconds = 60
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Facilitator.OfferTimeoutSeconds == 0 {
		cfg.Facilitator.OfferTimeoutSeconds = 300
	}
	if cfg.Facilitator.SettlePollAttempts == 0 {
		cfg.Facilitator.SettlePollAttempts = 30
	}
	if cfg.Facilitator.SettlePollIntervalMS == 0 {
		cfg.Facilitator.SettlePollIntervalMS = 1000
	}
	if cfg.Facilitator.NonceStore == "" {
		cfg.Facilitator.NonceStore = "memory"
	}
	if cfg.Gateway.TransferRetries == 0 {
		cfg.Gateway.TransferRetries = 3
	}
	if cfg.Gateway.MaxBlockHeightBuffer == 0 {
		cfg.Gateway.MaxBlockHeightBuffer = 1000000
	}
	if cfg.Gateway.BalancePollAttempts == 0 {
		cfg.Gateway.BalancePollAttempts = 12
	}
	if cfg.Gateway.BalancePollIntervalMS == 0 {
		cfg.Gateway.BalancePollIntervalMS = 5000
	}
	if cfg.Gateway.AttestationPollAttempts == 0 {
		cfg.Gateway.AttestationPollAttempts = 12
	}
	if cfg.Gateway.AttestationPollIntervalMS == 0 {
		cfg.Gateway.AttestationPollIntervalMS = 5000
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.ListenAddress = ":" + v
	}
	if v := os.Getenv("WALLET_SERVICE_API_KEY"); v != "" {
		cfg.WalletService.APIKey = v
	}
	if v := os.Getenv("RELAYER_PRIVATE_KEY"); v != "" {
		cfg.Gateway.RelayerPrivateKey = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Facilitator.MysqlDSN = v
	}
}

// Network returns the context with the given name.
func (c *Config) Network(name string) (Network, bool) {
	n, ok := c.Networks[name]
	return n, ok
}

// NetworkByID returns the context carrying the given CAIP-2 identifier.
func (c *Config) NetworkByID(network string) (Network, bool) {
	for _, n := range c.Networks {
		if n.Network == network {
			return n, true
		}
	}
	return Network{}, false
}

// NetworksIn returns the contexts in the given environment, sorted by name
// for deterministic iteration.
func (c *Config) NetworksIn(environment string) []Network {
	var out []Network
	for _, n := range c.Networks {
		if n.Environment == environment {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
