// Package crypto provides delegated-signer derivation, EIP-712 order and
// wallet-transaction signing, and master-secret handling.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/cosminimum/polycopy/internal/domain"
)

// Deriver produces per-user delegated signing identities from a single
// 256-bit master secret. Derivation is deterministic: the same user address
// always yields the same key, so no per-user key material is ever stored.
type Deriver struct {
	secret []byte
}

// DelegatedSigner is a derived signing identity for one user.
type DelegatedSigner struct {
	PrivateKeyHex string
	Address       common.Address
}

// NewDeriver validates the hex-encoded master secret and returns a Deriver.
// The secret must decode to exactly 32 bytes.
func NewDeriver(masterSecretHex string) (*Deriver, error) {
	s := strings.TrimPrefix(strings.TrimSpace(masterSecretHex), "0x")
	if s == "" {
		return nil, domain.NewCodedError(domain.CodeConfig, "master secret is not configured")
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, domain.WrapCoded(domain.CodeConfig, err, "master secret is not valid hex")
	}
	if len(raw) != 32 {
		return nil, domain.NewCodedError(domain.CodeConfig, "master secret must be 32 bytes, got %d", len(raw))
	}
	return &Deriver{secret: raw}, nil
}

// Derive returns the delegated signer for the given user primary address.
// The key is HMAC-SHA256(secret, lowercase(address)), re-hashed in the
// unlikely case the digest falls outside the secp256k1 scalar field.
func (d *Deriver) Derive(userAddress string) (*DelegatedSigner, error) {
	addr := domain.NormalizeWallet(userAddress)
	if !common.IsHexAddress(addr) {
		return nil, domain.NewCodedError(domain.CodeConfig, "invalid user address %q", userAddress)
	}

	digest := hmacSHA256(d.secret, []byte(addr))
	for {
		key, err := ethcrypto.ToECDSA(digest)
		if err == nil {
			return &DelegatedSigner{
				PrivateKeyHex: hex.EncodeToString(digest),
				Address:       ethcrypto.PubkeyToAddress(key.PublicKey),
			}, nil
		}
		// Out-of-range scalar: fold the digest once more. Probability ~2^-128.
		digest = hmacSHA256(d.secret, digest)
	}
}

// ValidateDerivation checks a stored signer address against a fresh
// derivation without exposing key material to the caller.
func (d *Deriver) ValidateDerivation(userAddress, claimedAddress string) (bool, error) {
	signer, err := d.Derive(userAddress)
	if err != nil {
		return false, fmt.Errorf("crypto: validate derivation: %w", err)
	}
	return strings.EqualFold(signer.Address.Hex(), strings.TrimSpace(claimedAddress)), nil
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}
