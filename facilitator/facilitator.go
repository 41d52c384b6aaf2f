// Package facilitator verifies signed payment authorizations against issued
// offers and settles them on-chain through the custodial wallet service.
package facilitator

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/config"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/nonce"
	"github.com/kij-exe/ArcRelay/wallets"
)

// Facilitator is the payment verification and settlement core. One instance
// serves every configured network; requests select a context by the CAIP-2
// network identifier they carry.
type Facilitator struct {
	networks map[string]config.Network
	registry *nonce.Registry
	wallets  wallets.Service
	chains   map[string]evm.ChainClient

	offerTTL           time.Duration
	settlePollAttempts int
	settlePollInterval time.Duration

	cache *settleCache
	now   func() time.Time
	log   logrus.FieldLogger
}

// Config wires the facilitator's collaborators.
type Config struct {
	// Networks is the supported context table, keyed by context name.
	Networks map[string]config.Network

	// Registry tracks offer nonces.
	Registry *nonce.Registry

	// Wallets executes settlement transactions.
	Wallets wallets.Service

	// Chains provides a view-read client per context name, used for the
	// on-chain replay check. A context without a client skips that check.
	Chains map[string]evm.ChainClient

	// OfferTimeoutSeconds bounds offer (and nonce) validity. Default 300.
	OfferTimeoutSeconds int

	// Settlement polling bounds, attempts x interval. Defaults 30 x 1s.
	SettlePollAttempts int
	SettlePollInterval time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time

	Logger logrus.FieldLogger
}

// New creates a Facilitator.
func New(cfg Config) *Facilitator {
	offerTTL := time.Duration(cfg.OfferTimeoutSeconds) * time.Second
	if offerTTL == 0 {
		offerTTL = 300 * time.Second
	}
	attempts := cfg.SettlePollAttempts
	if attempts == 0 {
		attempts = 30
	}
	interval := cfg.SettlePollInterval
	if interval == 0 {
		interval = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Facilitator{
		networks:           cfg.Networks,
		registry:           cfg.Registry,
		wallets:            cfg.Wallets,
		chains:             cfg.Chains,
		offerTTL:           offerTTL,
		settlePollAttempts: attempts,
		settlePollInterval: interval,
		cache:              newSettleCache(10 * time.Minute),
		now:                now,
		log:                logger.WithField("component", "facilitator"),
	}
}

// Supported lists the payment kinds this facilitator accepts: the exact
// scheme on every configured network.
func (f *Facilitator) Supported() arcrelay.SupportedResponse {
	kinds := make([]arcrelay.SupportedKind, 0, len(f.networks))
	for _, nctx := range f.networks {
		kinds = append(kinds, arcrelay.SupportedKind{
			X402Version: 1,
			Scheme:      evm.SchemeExact,
			Network:     arcrelay.Network(nctx.Network),
		})
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Network < kinds[j].Network })
	return arcrelay.SupportedResponse{Kinds: kinds}
}

// networkByID resolves the context carrying the given CAIP-2 identifier.
func (f *Facilitator) networkByID(network arcrelay.Network) (config.Network, bool) {
	for _, nctx := range f.networks {
		if nctx.Network == string(network) {
			return nctx, true
		}
	}
	return config.Network{}, false
}

// domainFor returns the signing domain of the context's settlement token.
func (f *Facilitator) domainFor(nctx config.Network) evm.TypedDataDomain {
	return evm.TypedDataDomain{
		Name:              nctx.USDC.Name,
		Version:           nctx.USDC.Version,
		ChainID:           big.NewInt(nctx.ChainID),
		VerifyingContract: nctx.USDC.Address,
	}
}

// reject builds a failed verification: a taxonomy label plus a short
// message, and a fresh informational invoice. The invoice carries no nonce;
// redeemable nonces are only issued with offers.
func (f *Facilitator) reject(requirements arcrelay.PaymentRequirements, payer string, kind arcrelay.Kind, message string) arcrelay.VerifyResponse {
	return arcrelay.VerifyResponse{
		Valid:   false,
		Payer:   payer,
		Error:   fmt.Sprintf("%s: %s", kind, message),
		Invoice: f.invoice(requirements),
	}
}

func (f *Facilitator) invoice(requirements arcrelay.PaymentRequirements) *arcrelay.Invoice {
	return &arcrelay.Invoice{
		ID:       uuid.NewString(),
		Resource: requirements.Resource,
		Amount:   requirements.MaxAmountRequired,
		Asset:    requirements.Asset,
		PayTo:    requirements.PayTo,
		Network:  requirements.Network,
		IssuedAt: f.now().Unix(),
	}
}
