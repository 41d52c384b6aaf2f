package facilitator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	arcrelay "github.com/kij-exe/ArcRelay"
	"github.com/kij-exe/ArcRelay/evm"
	"github.com/kij-exe/ArcRelay/poll"
	"github.com/kij-exe/ArcRelay/wallets"
)

// transferWithAuthorizationSignature is the settlement call submitted
// through the wallet service, in the split-signature form.
const transferWithAuthorizationSignature = "transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)"

// Settle finalizes a payment: verification in consume mode, custodial
// execution through the wallet service, then polling to a terminal
// transaction state. Retries of an identical payload share one submission
// through the settlement cache instead of double-spending the
// authorization.
func (f *Facilitator) Settle(ctx context.Context, req arcrelay.SettleRequest) (arcrelay.SettleResponse, error) {
	key, err := settlementKey(req.PaymentPayload)
	if err != nil {
		return arcrelay.SettleResponse{}, arcrelay.WrapError(arcrelay.KindValidation, err, "unhashable payment payload")
	}

	for {
		status, cached, done := f.cache.CheckAndMark(key)
		switch status {
		case statusCached:
			return *cached, nil
		case statusInFlight:
			result, err := f.cache.WaitForResult(ctx, key, done)
			if err != nil {
				return arcrelay.SettleResponse{}, err
			}
			if result != nil {
				return *result, nil
			}
			// The in-flight attempt failed without caching; take over.
			continue
		}

		response, err := f.settle(ctx, req)
		if err != nil {
			f.cache.Fail(key, done)
			return arcrelay.SettleResponse{}, err
		}
		f.cache.Complete(key, &response, done)
		return response, nil
	}
}

func (f *Facilitator) settle(ctx context.Context, req arcrelay.SettleRequest) (arcrelay.SettleResponse, error) {
	payload := req.PaymentPayload

	verification, err := f.Verify(ctx, arcrelay.VerifyRequest{
		PaymentPayload:      &payload,
		PaymentRequirements: req.PaymentRequirements,
		Method:              req.Method,
	}, ConsumeNonce)
	if err != nil {
		return arcrelay.SettleResponse{}, err
	}
	if !verification.Valid {
		return arcrelay.SettleResponse{
			Success:     false,
			ErrorReason: verification.Error,
			Payer:       verification.Payer,
			Network:     payload.Network,
		}, nil
	}

	nctx, ok := f.networkByID(req.PaymentRequirements.Network)
	if !ok {
		return arcrelay.SettleResponse{}, fmt.Errorf("network %s vanished after verification", req.PaymentRequirements.Network)
	}
	auth := payload.Payload

	signature, err := signatureFromPayload(auth)
	if err != nil {
		return arcrelay.SettleResponse{}, fmt.Errorf("signature vanished after verification: %w", err)
	}
	canonical, err := evm.CanonicalizeSignature(signature)
	if err != nil {
		return arcrelay.SettleResponse{}, fmt.Errorf("signature vanished after verification: %w", err)
	}

	submitted, err := f.wallets.ExecuteContract(ctx, wallets.ExecuteRequest{
		WalletID:             nctx.SettlementWallet,
		ContractAddress:      nctx.USDC.Address,
		ABIFunctionSignature: transferWithAuthorizationSignature,
		ABIParameters: []interface{}{
			auth.From,
			auth.To,
			auth.Value,
			strconv.FormatInt(auth.ValidAfter, 10),
			strconv.FormatInt(auth.ValidBefore, 10),
			auth.Nonce,
			strconv.Itoa(int(canonical[64])),
			evm.BytesToHex(canonical[0:32]),
			evm.BytesToHex(canonical[32:64]),
		},
	})
	if err != nil {
		f.log.WithError(err).WithField("network", nctx.Name).Error("settlement submission failed")
		return arcrelay.SettleResponse{
			Success:     false,
			ErrorReason: fmt.Sprintf("%s: settlement submission failed", arcrelay.KindExecution),
			Payer:       auth.From,
			Network:     payload.Network,
		}, nil
	}

	f.log.WithFields(logrus.Fields{
		"transaction": submitted.ID,
		"network":     nctx.Name,
		"payer":       auth.From,
	}).Info("settlement submitted")

	final, err := poll.Until(ctx, f.settlePollAttempts, f.settlePollInterval,
		func(ctx context.Context) (*wallets.Transaction, bool, error) {
			tx, err := f.wallets.GetTransaction(ctx, submitted.ID)
			if err != nil {
				// Transient service faults keep polling; persistent ones
				// exhaust the attempt budget.
				return nil, false, nil
			}
			return tx, wallets.IsTerminalState(tx.State), nil
		})
	if err != nil {
		if arcrelay.IsKind(err, arcrelay.KindTimeout) {
			// Not a failure: the transaction may still land. Report the
			// last observed state and let the caller decide.
			state := ""
			if final != nil {
				state = final.State
			}
			return arcrelay.SettleResponse{
				Success:             false,
				CircleTransactionID: submitted.ID,
				State:               state,
				ErrorReason:         fmt.Sprintf("%s: no terminal transaction state", arcrelay.KindTimeout),
				Payer:               auth.From,
				Network:             payload.Network,
			}, nil
		}
		return arcrelay.SettleResponse{}, err
	}

	response := arcrelay.SettleResponse{
		CircleTransactionID: submitted.ID,
		TransactionHash:     final.TxHash,
		State:               final.State,
		Payer:               auth.From,
		Network:             payload.Network,
	}
	if wallets.IsFailureState(final.State) {
		response.ErrorReason = fmt.Sprintf("%s: transaction %s", arcrelay.KindExecution, strings.ToLower(final.State))
		return response, nil
	}
	response.Success = true
	return response, nil
}

// settlementKey derives the idempotency key for a payload. The hash covers
// the signature and nonce, so every distinct payment attempt gets its own
// key.
func settlementKey(payload arcrelay.PaymentPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
