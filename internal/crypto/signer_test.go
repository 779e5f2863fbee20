package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testPrivKey = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "123456789",
		Maker:         "0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa",
		Signer:        "0xBBbBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbBb",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "7000000000000000000000001",
		MakerAmount:   "20000000",
		TakerAmount:   "50000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: SigTypeGnosisSafe,
	}
}

func TestSignOrderProducesRecoverableSignature(t *testing.T) {
	s, err := NewSigner(testPrivKey, 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	sig, err := s.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") {
		t.Fatalf("expected 0x prefix, got %q", sig)
	}

	raw, err := hex.DecodeString(sig[2:])
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(raw) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(raw))
	}
	if raw[64] != 27 && raw[64] != 28 {
		t.Fatalf("expected v in {27,28}, got %d", raw[64])
	}

	// Recovering the public key from the digest must yield the signer.
	structHash, err := orderStructHash(testOrder())
	if err != nil {
		t.Fatalf("struct hash: %v", err)
	}
	digest := eip712Hash(s.domainSep, structHash)

	recSig := make([]byte, 65)
	copy(recSig, raw)
	recSig[64] -= 27
	pub, err := ethcrypto.SigToPub(digest, recSig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != s.Address() {
		t.Fatal("recovered address does not match signer")
	}
}

func TestSignOrderDeterministicPerPayload(t *testing.T) {
	s, err := NewSigner(testPrivKey, 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	a, err := s.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, err := s.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if a != b {
		t.Fatal("same payload must produce the same signature")
	}

	changed := testOrder()
	changed.MakerAmount = "20000001"
	c, err := s.SignOrder(changed)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if a == c {
		t.Fatal("changed amount must change the signature")
	}
}

func TestSignWalletDigestAdjustsV(t *testing.T) {
	s, err := NewSigner(testPrivKey, 137, "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	digest := ethcrypto.Keccak256([]byte("wallet tx"))
	sig, err := s.SignWalletDigest(digest)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// eth_sign-style wallet approval: v in {31,32}.
	if raw[64] != 31 && raw[64] != 32 {
		t.Fatalf("expected adjusted v in {31,32}, got %d", raw[64])
	}
}

func TestOrderStructHashRejectsBadNumbers(t *testing.T) {
	o := testOrder()
	o.Salt = "not-a-number"
	if _, err := orderStructHash(o); err == nil {
		t.Fatal("expected error for invalid salt")
	}
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	if _, err := NewSigner("zz", 137, "0x0"); err == nil {
		t.Fatal("expected error for invalid key")
	}
}
