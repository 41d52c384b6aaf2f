// Command arcrelayd serves the payment relay: x402 verification and
// settlement, offer issuance, and cross-chain transfers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kij-exe/ArcRelay/config"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/facilitator"
	"github.com/kij-exe/ArcRelay/gateway"
	"github.com/kij-exe/ArcRelay/nonce"
	"github.com/kij-exe/ArcRelay/server"
	"github.com/kij-exe/ArcRelay/wallets"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	// A missing .env is fine; the environment may already carry the keys.
	_ = godotenv.Load()

	log := logrus.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := nonceStore(cfg.Facilitator)
	if err != nil {
		log.WithError(err).Fatal("opening nonce store")
	}

	walletService := wallets.NewClient(wallets.ClientConfig{
		BaseURL: cfg.WalletService.BaseURL,
		APIKey:  cfg.WalletService.APIKey,
	})

	dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	chains := make(map[string]evm.ChainClient, len(cfg.Networks))
	for name, network := range cfg.Networks {
		if network.RPCURL == "" {
			log.WithField("network", name).Warn("no rpc endpoint configured; replay checks and mints disabled")
			continue
		}
		chain, err := evm.DialChainClient(dialCtx, network.RPCURL, cfg.Gateway.RelayerPrivateKey)
		if err != nil {
			log.WithError(err).WithField("network", name).Fatal("dialing chain")
		}
		chains[name] = chain
	}

	fac := facilitator.New(facilitator.Config{
		Networks:            cfg.Networks,
		Registry:            nonce.NewRegistry(store),
		Wallets:             walletService,
		Chains:              chains,
		OfferTimeoutSeconds: cfg.Facilitator.OfferTimeoutSeconds,
		SettlePollAttempts:  cfg.Facilitator.SettlePollAttempts,
		SettlePollInterval:  cfg.Facilitator.SettlePollInterval(),
		Logger:              log,
	})

	orchestrator := gateway.New(gateway.Config{
		Networks: cfg.Networks,
		Wallets:  walletService,
		Attestation: gateway.NewAttestationClient(gateway.AttestationClientConfig{
			BaseURL:        cfg.Gateway.AttestationURL,
			SubmitAttempts: cfg.Gateway.AttestationPollAttempts,
			SubmitInterval: cfg.Gateway.AttestationPollInterval(),
		}),
		Chains:               chains,
		SourceWallets:        cfg.Gateway.SourceWallets,
		FeeBps:               cfg.Gateway.FeeBps,
		StepAttempts:         cfg.Gateway.TransferRetries,
		MaxBlockHeightBuffer: cfg.Gateway.MaxBlockHeightBuffer,
		BalancePollAttempts:  cfg.Gateway.BalancePollAttempts,
		BalancePollInterval:  cfg.Gateway.BalancePollInterval(),
		Logger:               log,
	})

	srv := server.New(server.Config{
		Facilitator:          fac,
		Gateway:              orchestrator,
		Wallets:              walletService,
		VerifyTimeoutSeconds: cfg.Server.VerifyTimeoutSeconds,
		SettleTimeoutSeconds: cfg.Server.SettleTimeoutSeconds,
		Logger:               log,
	})

	if err := srv.Run(cfg.Server.ListenAddress); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

// nonceStore selects the registry backend named by the configuration.
func nonceStore(cfg config.Facilitator) (nonce.Store, error) {
	switch strings.ToLower(cfg.NonceStore) {
	case "", "memory":
		return nonce.NewMemoryStore(), nil
	case "mysql":
		if cfg.MysqlDSN == "" {
			return nil, errors.New("nonce store mysql selected but MYSQL_DSN is not set")
		}
		return nonce.OpenMySQLStore(cfg.MysqlDSN)
	default:
		return nil, fmt.Errorf("unknown nonce store %q", cfg.NonceStore)
	}
}
