// Package gateway moves value across chains: funding balances are
// aggregated from custodial wallets, deposited into per-chain escrows,
// released under signed burn intents once attested, and minted to the
// destination address.
package gateway

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/config"
	"github.com/kij-exe/ArcRelay/wallets"
)

// TokenBalance is one wallet's spendable token position on one network,
// in base units. Balances are fetched per request and never cached.
type TokenBalance struct {
	WalletID string
	Network  string // context name, e.g. "baseSepolia"
	Owner    string // wallet address, the escrow depositor
	Token    string // token contract address on that network
	Amount   *big.Int
	Decimals int
}

// Aggregator flattens wallet-service balances into per-network token
// positions.
type Aggregator struct {
	wallets  wallets.Service
	networks map[string]config.Network
}

// NewAggregator builds an aggregator over the given wallet service and
// network contexts (keyed by context name, matching wallet blockchains).
func NewAggregator(service wallets.Service, networks map[string]config.Network) *Aggregator {
	return &Aggregator{wallets: service, networks: networks}
}

// Aggregate fetches each wallet's balances and keeps the positions whose
// token name is on the wallet's network allow-list, summing duplicate
// listings into one base-unit amount. Matching is by human-readable token
// name rather than contract address: test-network token deployments vary,
// and the allow-list is configuration. Wallets on networks outside the
// configured set contribute nothing.
func (a *Aggregator) Aggregate(ctx context.Context, walletIDs []string) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(walletIDs))

	for _, id := range walletIDs {
		wallet, err := a.wallets.GetWallet(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("looking up wallet %s: %w", id, err)
		}
		nctx, ok := a.networks[wallet.Blockchain]
		if !ok {
			continue
		}

		balances, err := a.wallets.ListBalances(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("listing balances for wallet %s: %w", id, err)
		}

		total := new(big.Int)
		for _, balance := range balances {
			if !nameOnList(balance.Token.Name, nctx.USDC.Names) {
				continue
			}
			decimals := balance.Token.Decimals
			if decimals == 0 {
				decimals = nctx.USDC.Decimals
			}
			base, err := arcrelay.ParseAmount(balance.Amount, decimals)
			if err != nil {
				return nil, fmt.Errorf("parsing balance %q of wallet %s: %w", balance.Amount, id, err)
			}
			total.Add(total, base)
		}
		if total.Sign() <= 0 {
			continue
		}

		out = append(out, TokenBalance{
			WalletID: id,
			Network:  nctx.Name,
			Owner:    wallet.Address,
			Token:    nctx.USDC.Address,
			Amount:   total,
			Decimals: nctx.USDC.Decimals,
		})
	}

	return out, nil
}

func nameOnList(name string, allowed []string) bool {
	for _, candidate := range allowed {
		if strings.EqualFold(name, candidate) {
			return true
		}
	}
	return false
}
