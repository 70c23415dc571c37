// Package swapcrypto implements the signed envelope codec from spec §4.2:
// Ed25519-style signing over 32-byte public keys with 64-byte detached
// signatures, applied to the canonical encoding of an unsigned envelope.
//
// Grounded on pkg/crypto/bls.go: a thin Signer type wrapping a circl scheme
// (KeyGen/Sign/PublicKey) plus a package-level Verify function. The scheme
// here is swapped from BLS (aggregatable, used for quorum certificates) to
// Ed25519 (not aggregatable, used for single-signer envelope authentication)
// because spec §4.2 mandates an Ed25519-style scheme, not BLS.
package swapcrypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/interswap/swapd/pkg/codec"
)

var (
	ErrBadSig       = errors.New("swapcrypto: BadSig")
	ErrMalformedKey = errors.New("swapcrypto: MalformedKey")
)

// Signer holds an Ed25519 keypair and signs canonical envelope bytes.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateSigner creates a new random signer.
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("swapcrypto: generate key: %w", err)
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// SignerFromSeed derives a signer deterministically from a 32-byte seed,
// for tests and reproducible peer identities.
func SignerFromSeed(seed []byte) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrMalformedKey, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv, pub: pub}, nil
}

// PubkeyHex returns the lowercase hex encoding of the 32-byte public key.
func (s *Signer) PubkeyHex() string {
	return hex.EncodeToString(s.pub)
}

// PrivateKey returns the signer's raw private key, for callers outside this
// package that need to sign something other than an envelope (e.g.
// pkg/sidechannel's invite/welcome capabilities).
func (s *Signer) PrivateKey() ed25519.PrivateKey {
	return s.priv
}

// Sign signs the canonical bytes of an unsigned envelope and returns the
// hex-encoded 64-byte signature.
func (s *Signer) Sign(unsigned codec.UnsignedEnvelope) (string, error) {
	b, err := codec.EncodeEnvelope(unsigned)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(s.priv, b)
	return hex.EncodeToString(sig), nil
}

// Verify checks that sigHex is a valid 64-byte Ed25519 signature by
// pubkeyHex over the canonical encoding of unsigned. It returns ErrBadSig
// or ErrMalformedKey on failure, matching spec §4.2's error set.
func Verify(unsigned codec.UnsignedEnvelope, pubkeyHex, sigHex string) error {
	pub, err := DecodePubkey(pubkeyHex)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature must be %d bytes hex", ErrBadSig, ed25519.SignatureSize)
	}

	b, err := codec.EncodeEnvelope(unsigned)
	if err != nil {
		return fmt.Errorf("swapcrypto: canon mismatch: %w", err)
	}
	if !ed25519.Verify(pub, b, sig) {
		return ErrBadSig
	}
	return nil
}

// DecodePubkey parses a lowercase hex 32-byte Ed25519 public key.
func DecodePubkey(pubkeyHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes hex", ErrMalformedKey, ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
