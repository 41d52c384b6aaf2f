package facilitator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/nonce"
)

// ConsumeMode selects what verification does with the authorization's nonce.
type ConsumeMode int

const (
	// PeekNonce checks the nonce without redeeming it. Stand-alone
	// verification runs in this mode so it stays repeatable.
	PeekNonce ConsumeMode = iota

	// ConsumeNonce atomically redeems the nonce. The settlement path runs
	// in this mode so each offer settles at most once.
	ConsumeNonce
)

// Verify checks a payment authorization against the offer requirements.
// Semantic failures come back as Valid=false with a reason and invoice and
// a nil error; the error return is reserved for infrastructure faults.
//
// The checks run in a fixed order: offer agreement, nonce, signature,
// on-chain replay, time window. The first failure wins.
func (f *Facilitator) Verify(ctx context.Context, req arcrelay.VerifyRequest, mode ConsumeMode) (arcrelay.VerifyResponse, error) {
	requirements := req.PaymentRequirements

	if req.PaymentPayload == nil {
		return f.reject(requirements, "", arcrelay.KindValidation, "missing payment payload"), nil
	}
	payload := *req.PaymentPayload
	auth := payload.Payload
	payer := auth.From

	if payload.Scheme != evm.SchemeExact || requirements.Scheme != evm.SchemeExact {
		return f.reject(requirements, payer, arcrelay.KindValidation, "unsupported scheme"), nil
	}
	if !payload.Network.Match(requirements.Network) {
		return f.reject(requirements, payer, arcrelay.KindOfferMismatch, "payment network does not match the offer"), nil
	}

	nctx, ok := f.networkByID(requirements.Network)
	if !ok {
		return f.reject(requirements, payer, arcrelay.KindValidation, fmt.Sprintf("unsupported network %s", requirements.Network)), nil
	}
	if !evm.SameAddress(requirements.Asset, nctx.USDC.Address) {
		return f.reject(requirements, payer, arcrelay.KindValidation, "unknown asset"), nil
	}
	if !evm.SameAddress(auth.To, requirements.PayTo) {
		return f.reject(requirements, payer, arcrelay.KindOfferMismatch, "authorization recipient does not match the offer"), nil
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok || value.Sign() < 0 {
		return f.reject(requirements, payer, arcrelay.KindValidation, "invalid authorization value"), nil
	}
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok {
		return f.reject(requirements, payer, arcrelay.KindValidation, "invalid offer amount"), nil
	}
	// The offered amount is exact, not a ceiling: over-payment is as wrong
	// as under-payment.
	if value.Cmp(required) != 0 {
		return f.reject(requirements, payer, arcrelay.KindOfferMismatch, "authorization value must equal the offered amount"), nil
	}

	routeKey := nonce.RouteKey(req.Method, requirements.Resource)
	var live bool
	var err error
	if mode == ConsumeNonce {
		live, err = f.registry.Consume(routeKey, nonce.Nonce(auth.Nonce))
	} else {
		live, err = f.registry.Peek(routeKey, nonce.Nonce(auth.Nonce))
	}
	if err != nil {
		return arcrelay.VerifyResponse{}, fmt.Errorf("nonce registry: %w", err)
	}
	if !live {
		return f.reject(requirements, payer, arcrelay.KindOfferMismatch, "no matching offer for this authorization"), nil
	}

	signature, err := signatureFromPayload(auth)
	if err != nil {
		return f.reject(requirements, payer, arcrelay.KindSignature, "missing or malformed signature"), nil
	}
	digest, err := evm.HashTransferAuthorization(evm.TransferAuthorization{
		From:        auth.From,
		To:          auth.To,
		Value:       auth.Value,
		ValidAfter:  auth.ValidAfter,
		ValidBefore: auth.ValidBefore,
		Nonce:       auth.Nonce,
	}, f.domainFor(nctx))
	if err != nil {
		return f.reject(requirements, payer, arcrelay.KindValidation, "unhashable authorization"), nil
	}
	recovered, err := evm.RecoverSigner(digest, signature)
	if err != nil {
		return f.reject(requirements, payer, arcrelay.KindSignature, "signature rejected"), nil
	}
	if !evm.SameAddress(recovered, auth.From) {
		return f.reject(requirements, payer, arcrelay.KindSignature, "signer does not match payer"), nil
	}

	if chain := f.chains[nctx.Name]; chain != nil {
		nonceBytes, err := evm.HexToBytes32(auth.Nonce)
		if err != nil {
			return f.reject(requirements, payer, arcrelay.KindValidation, "invalid authorization nonce"), nil
		}
		used, err := chain.ReadContract(ctx, nctx.USDC.Address, evm.AuthorizationStateABI, evm.FunctionAuthorizationState,
			common.HexToAddress(auth.From), nonceBytes)
		if err != nil {
			return arcrelay.VerifyResponse{}, fmt.Errorf("authorization state read: %w", err)
		}
		if state, ok := used.(bool); ok && state {
			return f.reject(requirements, payer, arcrelay.KindReplay, "authorization already used on-chain"), nil
		}
	}

	now := f.now().Unix()
	if now <= auth.ValidAfter {
		return f.reject(requirements, payer, arcrelay.KindTiming, "authorization not yet valid"), nil
	}
	if now >= auth.ValidBefore {
		return f.reject(requirements, payer, arcrelay.KindTiming, "authorization expired"), nil
	}

	return arcrelay.VerifyResponse{
		Valid:       true,
		Payer:       auth.From,
		Amount:      auth.Value,
		Token:       requirements.Asset,
		Recipient:   requirements.PayTo,
		ValidBefore: auth.ValidBefore,
	}, nil
}

// signatureFromPayload assembles the 65-byte signature from whichever wire
// form the payload carries, preferring the blob.
func signatureFromPayload(payload arcrelay.ExactPayload) ([]byte, error) {
	if payload.Signature != "" {
		return evm.ParseSignature(payload.Signature)
	}
	if payload.R != "" || payload.S != "" {
		return evm.CombineSignature(payload.V, payload.R, payload.S)
	}
	return nil, fmt.Errorf("payload carries no signature")
}
