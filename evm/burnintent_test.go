package evm

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"
)

func testBurnIntent(t *testing.T) BurnIntent {
	t.Helper()

	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}
	return BurnIntent{
		MaxBlockHeight: big.NewInt(12345678),
		MaxFee:         big.NewInt(2001),
		Spec: TransferSpec{
			Version:              1,
			SourceDomain:         6,
			DestinationDomain:    0,
			SourceContract:       "0x0077777d7EBA4688BDeF3E311b846F25870A19B9",
			DestinationContract:  "0x0022222ABE238Cc2C7Bb1f21003F0a260052475B",
			SourceToken:          "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			DestinationToken:     "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			SourceDepositor:      "0x96216849c49358B10257cb55b28eA603c874b05E",
			DestinationRecipient: "0x1111111111111111111111111111111111111111",
			SourceSigner:         "0x96216849c49358B10257cb55b28eA603c874b05E",
			DestinationCaller:    "0x0000000000000000000000000000000000000000",
			Value:                big.NewInt(1000000),
			Salt:                 salt,
			HookData:             nil,
		},
	}
}

func TestHashBurnIntentDeterministic(t *testing.T) {
	intent := testBurnIntent(t)

	first, err := HashBurnIntent(intent)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if len(first) != 32 {
		t.Fatalf("digest length = %d, want 32", len(first))
	}

	second, err := HashBurnIntent(intent)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("same intent produced different digests")
	}
}

func TestHashBurnIntentSaltChangesDigest(t *testing.T) {
	intent := testBurnIntent(t)
	digestA, err := HashBurnIntent(intent)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}

	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt failed: %v", err)
	}
	intent.Spec.Salt = salt

	digestB, err := HashBurnIntent(intent)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if bytes.Equal(digestA, digestB) {
		t.Error("fresh salt did not change the digest")
	}
}

func TestSignThenRecoverBurnIntent(t *testing.T) {
	signer, err := NewClientSigner(testPrivateKey)
	if err != nil {
		t.Fatalf("NewClientSigner failed: %v", err)
	}

	intent := testBurnIntent(t)
	intent.Spec.SourceSigner = signer.Address()

	typedData, err := BurnIntentTypedData(intent)
	if err != nil {
		t.Fatalf("typed data build failed: %v", err)
	}
	digest, err := typedData.Digest()
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}

	signature, err := signer.SignDigest(digest)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	recovered, err := RecoverSigner(digest, signature)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if !SameAddress(recovered, signer.Address()) {
		t.Errorf("recovered %s, want %s", recovered, signer.Address())
	}

	// The convenience hash must agree with the document digest.
	direct, err := HashBurnIntent(intent)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !bytes.Equal(direct, digest) {
		t.Error("HashBurnIntent disagrees with TypedData.Digest")
	}
}

func TestBurnIntentTypedDataDomainOmitsChainBinding(t *testing.T) {
	typedData, err := BurnIntentTypedData(testBurnIntent(t))
	if err != nil {
		t.Fatalf("typed data build failed: %v", err)
	}

	raw, err := json.Marshal(typedData)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Domain map[string]interface{} `json:"domain"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if _, present := decoded.Domain["chainId"]; present {
		t.Error("burn intent domain must not carry chainId")
	}
	if _, present := decoded.Domain["verifyingContract"]; present {
		t.Error("burn intent domain must not carry verifyingContract")
	}
	if decoded.Domain["name"] != GatewayDomainName || decoded.Domain["version"] != GatewayDomainVersion {
		t.Errorf("unexpected domain: %v", decoded.Domain)
	}
}

func TestBurnIntentTypedDataSurvivesJSONRoundTrip(t *testing.T) {
	intent := testBurnIntent(t)
	typedData, err := BurnIntentTypedData(intent)
	if err != nil {
		t.Fatalf("typed data build failed: %v", err)
	}
	digest, err := typedData.Digest()
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}

	raw, err := json.Marshal(typedData)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded TypedData
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	// An external signer that parses the JSON document must arrive at the
	// digest we computed locally.
	remote, err := decoded.Digest()
	if err != nil {
		t.Fatalf("digest of decoded document failed: %v", err)
	}
	if !bytes.Equal(digest, remote) {
		t.Error("digest changed across JSON round trip")
	}

	spec, ok := decoded.Message["spec"].(map[string]interface{})
	if !ok {
		t.Fatalf("spec did not decode as an object: %T", decoded.Message["spec"])
	}
	salt, ok := spec["salt"].(string)
	if !ok || len(salt) != 66 || salt[:2] != "0x" {
		t.Errorf("salt should be 32-byte hex on the wire, got %v", spec["salt"])
	}
	if spec["value"] != "1000000" {
		t.Errorf("value should be a decimal string on the wire, got %v", spec["value"])
	}
	if spec["hookData"] != "0x" {
		t.Errorf("empty hook data should encode as 0x, got %v", spec["hookData"])
	}
}

func TestAddressToBytes32LeftPads(t *testing.T) {
	padded := AddressToBytes32("0x96216849c49358B10257cb55b28eA603c874b05E")

	for i := 0; i < 12; i++ {
		if padded[i] != 0 {
			t.Fatalf("byte %d = %x, want zero padding", i, padded[i])
		}
	}
	if BytesToHex(padded[12:]) != "0x96216849c49358b10257cb55b28ea603c874b05e" {
		t.Errorf("unexpected address bytes: %s", BytesToHex(padded[12:]))
	}
}
