package facilitator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/xeipuuv/gojsonschema"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/config"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/nonce"
)

// BuildOffer issues the 402 offer body for a route: one accepts entry per
// offered network, every entry carrying the same freshly issued nonce. The
// payer settles on whichever network suits them; the shared nonce ties the
// eventual authorization back to this offer.
func (f *Facilitator) BuildOffer(ctx context.Context, req arcrelay.OfferRequest) (*arcrelay.PaymentRequired, error) {
	if req.Resource == "" {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "offer resource is required")
	}
	if amount, ok := new(big.Int).SetString(req.Amount, 10); !ok || amount.Sign() <= 0 {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "offer amount must be a positive base-unit integer")
	}
	if req.OutputSchema != nil {
		if !offerSchemaIsObject(*req.OutputSchema) {
			return nil, arcrelay.NewError(arcrelay.KindValidation, "output schema must be a JSON object")
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(*req.OutputSchema)); err != nil {
			return nil, arcrelay.WrapError(arcrelay.KindValidation, err, "output schema is not a valid JSON Schema")
		}
	}

	contexts := f.offeredNetworks(req.Networks)
	if len(contexts) == 0 {
		return nil, arcrelay.NewError(arcrelay.KindValidation, "no supported network for this offer")
	}

	routeKey := nonce.RouteKey(req.Method, req.Resource)
	n, err := f.registry.Issue(routeKey, f.offerTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing offer nonce: %w", err)
	}

	accepts := make([]arcrelay.PaymentRequirements, 0, len(contexts))
	for _, nctx := range contexts {
		accepts = append(accepts, arcrelay.PaymentRequirements{
			Scheme:            evm.SchemeExact,
			Network:           arcrelay.Network(nctx.Network),
			MaxAmountRequired: req.Amount,
			Resource:          req.Resource,
			Description:       req.Description,
			MimeType:          req.MimeType,
			OutputSchema:      req.OutputSchema,
			PayTo:             nctx.PayTo,
			MaxTimeoutSeconds: int(f.offerTTL / time.Second),
			Asset:             nctx.USDC.Address,
			EIP712Domain: arcrelay.EIP712Domain{
				Name:              nctx.USDC.Name,
				Version:           nctx.USDC.Version,
				ChainID:           nctx.ChainID,
				VerifyingContract: nctx.USDC.Address,
			},
			Nonce: string(n),
		})
	}

	return &arcrelay.PaymentRequired{
		X402Version: 1,
		Error:       "X-PAYMENT header is required",
		Accepts:     accepts,
	}, nil
}

// offeredNetworks returns the contexts an offer may quote, sorted by name.
// An empty filter means every configured network; filters match CAIP-2
// identifiers, wildcards included. Contexts without a receiving address
// cannot be quoted.
func (f *Facilitator) offeredNetworks(filter []arcrelay.Network) []config.Network {
	var out []config.Network
	for _, nctx := range f.networks {
		if nctx.PayTo == "" {
			continue
		}
		if len(filter) > 0 && !matchesAny(arcrelay.Network(nctx.Network), filter) {
			continue
		}
		out = append(out, nctx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matchesAny(network arcrelay.Network, patterns []arcrelay.Network) bool {
	for _, pattern := range patterns {
		if network.Match(pattern) {
			return true
		}
	}
	return false
}

// offerSchemaIsObject reports whether the raw schema is a JSON object, the
// only shape a 402 accepts entry may embed.
func offerSchemaIsObject(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	return json.Unmarshal(raw, &probe) == nil
}
