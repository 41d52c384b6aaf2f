package evm

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Burn intents are domain-scoped to the escrow wallet contract family, not
// to one chain: the domain deliberately carries no chainId and no verifying
// contract, so one signed intent is valid for the escrow on whichever chain
// holds the deposit.
const (
	GatewayDomainName    = "GatewayWallet"
	GatewayDomainVersion = "1"
)

// TransferSpec names the source and destination of one cross-chain
// transfer. Address fields hold hex addresses and are encoded as
// left-padded 32-byte values in the typed data, per cross-chain-domain
// convention. Salt makes each TransferSpec unique even when every other
// parameter repeats.
type TransferSpec struct {
	Version              uint32
	SourceDomain         uint32
	DestinationDomain    uint32
	SourceContract       string
	DestinationContract  string
	SourceToken          string
	DestinationToken     string
	SourceDepositor      string
	DestinationRecipient string
	SourceSigner         string
	DestinationCaller    string
	Value                *big.Int
	Salt                 [32]byte
	HookData             []byte
}

// BurnIntent instructs the escrow to release Value from a deposit on the
// source chain for an equivalent mint on the destination chain, valid only
// up to MaxBlockHeight on the source chain and charging at most MaxFee.
type BurnIntent struct {
	MaxBlockHeight *big.Int
	MaxFee         *big.Int
	Spec           TransferSpec
}

// NewSalt generates a fresh random 32-byte salt. A new salt is required per
// signing attempt, including retries, so a resubmission never looks like a
// duplicate to the attestation service.
func NewSalt() ([32]byte, error) {
	var salt [32]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return salt, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// AddressToBytes32 left-pads a 20-byte hex address into a 32-byte value.
func AddressToBytes32(address string) [32]byte {
	var out [32]byte
	copy(out[:], common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32))
	return out
}

// GatewayDomain returns the burn-intent signing domain.
func GatewayDomain() TypedDataDomain {
	return TypedDataDomain{
		Name:    GatewayDomainName,
		Version: GatewayDomainVersion,
	}
}

// BurnIntentTypes returns the EIP-712 type definitions for the nested
// BurnIntent schema.
func BurnIntentTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"BurnIntent": {
			{Name: "maxBlockHeight", Type: "uint256"},
			{Name: "maxFee", Type: "uint256"},
			{Name: "spec", Type: "TransferSpec"},
		},
		"TransferSpec": {
			{Name: "version", Type: "uint32"},
			{Name: "sourceDomain", Type: "uint32"},
			{Name: "destinationDomain", Type: "uint32"},
			{Name: "sourceContract", Type: "bytes32"},
			{Name: "destinationContract", Type: "bytes32"},
			{Name: "sourceToken", Type: "bytes32"},
			{Name: "destinationToken", Type: "bytes32"},
			{Name: "sourceDepositor", Type: "bytes32"},
			{Name: "destinationRecipient", Type: "bytes32"},
			{Name: "sourceSigner", Type: "bytes32"},
			{Name: "destinationCaller", Type: "bytes32"},
			{Name: "value", Type: "uint256"},
			{Name: "salt", Type: "bytes32"},
			{Name: "hookData", Type: "bytes"},
		},
	}
}

// BurnIntentMessage converts the intent into the typed-data message map.
// Values follow the typed-data JSON wire conventions (hex strings for byte
// fields, decimal strings for integers) so the same document hashes locally
// and ships unchanged to an external signing service.
func BurnIntentMessage(intent BurnIntent) (map[string]interface{}, error) {
	if intent.MaxBlockHeight == nil || intent.MaxFee == nil {
		return nil, fmt.Errorf("burn intent missing maxBlockHeight or maxFee")
	}
	if intent.Spec.Value == nil {
		return nil, fmt.Errorf("transfer spec missing value")
	}

	pad := func(address string) string {
		padded := AddressToBytes32(address)
		return BytesToHex(padded[:])
	}

	spec := map[string]interface{}{
		"version":              strconv.FormatUint(uint64(intent.Spec.Version), 10),
		"sourceDomain":         strconv.FormatUint(uint64(intent.Spec.SourceDomain), 10),
		"destinationDomain":    strconv.FormatUint(uint64(intent.Spec.DestinationDomain), 10),
		"sourceContract":       pad(intent.Spec.SourceContract),
		"destinationContract":  pad(intent.Spec.DestinationContract),
		"sourceToken":          pad(intent.Spec.SourceToken),
		"destinationToken":     pad(intent.Spec.DestinationToken),
		"sourceDepositor":      pad(intent.Spec.SourceDepositor),
		"destinationRecipient": pad(intent.Spec.DestinationRecipient),
		"sourceSigner":         pad(intent.Spec.SourceSigner),
		"destinationCaller":    pad(intent.Spec.DestinationCaller),
		"value":                intent.Spec.Value.String(),
		"salt":                 BytesToHex(intent.Spec.Salt[:]),
		"hookData":             BytesToHex(intent.Spec.HookData),
	}

	return map[string]interface{}{
		"maxBlockHeight": intent.MaxBlockHeight.String(),
		"maxFee":         intent.MaxFee.String(),
		"spec":           spec,
	}, nil
}

// BurnIntentTypedData builds the full signable document for the intent, the
// form external signing services accept.
func BurnIntentTypedData(intent BurnIntent) (*TypedData, error) {
	message, err := BurnIntentMessage(intent)
	if err != nil {
		return nil, err
	}
	return &TypedData{
		Domain:      GatewayDomain(),
		Types:       BurnIntentTypes(),
		PrimaryType: "BurnIntent",
		Message:     message,
	}, nil
}

// HashBurnIntent hashes a burn intent for signing or verification.
func HashBurnIntent(intent BurnIntent) ([]byte, error) {
	message, err := BurnIntentMessage(intent)
	if err != nil {
		return nil, err
	}
	return HashTypedData(GatewayDomain(), BurnIntentTypes(), "BurnIntent", message)
}
