// Package keystore isolates custodial private keys behind a narrow
// seal/open interface. Stored key material is either a plain hex key
// (no secret configured) or a NaCl secretbox sealed under
// KEY_ENCRYPTION_SECRET.
package keystore

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sb1:"

// ErrSealedWithoutSecret is returned when a sealed key is opened by a vault without a secret
var ErrSealedWithoutSecret = errors.New("key is sealed but no encryption secret is configured")

// Vault seals private keys for storage and opens them for signing
type Vault struct {
	secret *[32]byte
}

// NewVault creates a vault. An empty secret stores keys as plain hex.
func NewVault(secretHex string) (*Vault, error) {
	if secretHex == "" {
		return &Vault{}, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(secretHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption secret: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption secret must be 32 bytes, got %d", len(raw))
	}

	var secret [32]byte
	copy(secret[:], raw)
	zero(raw)
	return &Vault{secret: &secret}, nil
}

// Encrypted reports whether keys are sealed at rest
func (v *Vault) Encrypted() bool {
	return v.secret != nil
}

// Seal converts a hex private key into its stored form
func (v *Vault) Seal(privateKeyHex string) (string, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")
	if v.secret == nil {
		return privateKeyHex, nil
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(privateKeyHex), &nonce, v.secret)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open converts a stored key back into an ECDSA key. Callers must pass the
// result to Destroy once the signing call returns.
func (v *Vault) Open(stored string) (*ecdsa.PrivateKey, error) {
	keyHex := stored
	if strings.HasPrefix(stored, sealedPrefix) {
		if v.secret == nil {
			return nil, ErrSealedWithoutSecret
		}
		box, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
		if err != nil {
			return nil, fmt.Errorf("failed to decode sealed key: %w", err)
		}
		if len(box) < 24+secretbox.Overhead {
			return nil, fmt.Errorf("sealed key too short")
		}

		var nonce [24]byte
		copy(nonce[:], box[:24])
		plain, ok := secretbox.Open(nil, box[24:], &nonce, v.secret)
		if !ok {
			return nil, fmt.Errorf("failed to open sealed key")
		}
		keyHex = string(plain)
		defer zero(plain)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		// the error from HexToECDSA never includes key bytes
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// Destroy zeroes the scalar of an opened key
func Destroy(key *ecdsa.PrivateKey) {
	if key == nil || key.D == nil {
		return
	}
	key.D.SetInt64(0)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
