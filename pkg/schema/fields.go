package schema

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/mr-tron/base58"
)

var (
	hex32Re  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	atomicRe = regexp.MustCompile(`^[0-9]+$`)
)

// reqString and the req* helpers below read a raw map entry, returning ErrSchemaInvalid-wrapped errors for
// every way a body can fail validation: missing, wrong type, wrong width,
// wrong enum, wrong range. Grounded on the teacher's transaction verifier,
// which hand-checks each field before trusting it rather than deferring to
// a generic struct-tag validator (no validation library appears anywhere in
// the pack).
func reqString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", ErrSchemaInvalid, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q must be a string", ErrSchemaInvalid, key)
	}
	return s, nil
}

func optString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func reqInt64(m map[string]any, key string) (int64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrSchemaInvalid, key)
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: field %q must be an integer", ErrSchemaInvalid, key)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: field %q must be an integer: %v", ErrSchemaInvalid, key, err)
	}
	return i, nil
}

func reqUint64(m map[string]any, key string) (uint64, error) {
	i, err := reqInt64(m, key)
	if err != nil {
		return 0, err
	}
	if i < 0 {
		return 0, fmt.Errorf("%w: field %q must be non-negative", ErrSchemaInvalid, key)
	}
	return uint64(i), nil
}

func reqUint8(m map[string]any, key string) (uint8, error) {
	i, err := reqInt64(m, key)
	if err != nil {
		return 0, err
	}
	if i < 0 || i > 255 {
		return 0, fmt.Errorf("%w: field %q must be in [0,255]", ErrSchemaInvalid, key)
	}
	return uint8(i), nil
}

func reqHex32(m map[string]any, key string) (string, error) {
	s, err := reqString(m, key)
	if err != nil {
		return "", err
	}
	if !hex32Re.MatchString(s) {
		return "", fmt.Errorf("%w: field %q must be lowercase 64-char hex", ErrSchemaInvalid, key)
	}
	return s, nil
}

func optHex32(m map[string]any, key string) (string, bool, error) {
	s, ok := optString(m, key)
	if !ok {
		return "", false, nil
	}
	if !hex32Re.MatchString(s) {
		return "", false, fmt.Errorf("%w: field %q must be lowercase 64-char hex", ErrSchemaInvalid, key)
	}
	return s, true, nil
}

func reqAtomic(m map[string]any, key string) (string, error) {
	s, err := reqString(m, key)
	if err != nil {
		return "", err
	}
	if !atomicRe.MatchString(s) {
		return "", fmt.Errorf("%w: field %q must match ^[0-9]+$", ErrSchemaInvalid, key)
	}
	return s, nil
}

func reqEnum(m map[string]any, key string, allowed ...string) (string, error) {
	s, err := reqString(m, key)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: field %q=%q not in %v", ErrSchemaInvalid, key, s, allowed)
}

// reqBase58Pubkey validates a Solana-style base58-encoded 32-byte pubkey
// (program ids, mints, token accounts, PDAs).
func reqBase58Pubkey(m map[string]any, key string) (string, error) {
	s, err := reqString(m, key)
	if err != nil {
		return "", err
	}
	raw, decErr := base58.Decode(s)
	if decErr != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: field %q must be a base58-encoded 32-byte pubkey", ErrSchemaInvalid, key)
	}
	return s, nil
}

// reqHexPubkey is used for peer/signing pubkeys, which in this system
// are 32-byte hex (Ed25519), unlike on-chain Solana pubkeys which are
// base58.
func reqHexPubkey(m map[string]any, key string) (string, error) {
	s, err := reqString(m, key)
	if err != nil {
		return "", err
	}
	raw, decErr := hex.DecodeString(s)
	if decErr != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: field %q must be 32-byte lowercase hex", ErrSchemaInvalid, key)
	}
	return s, nil
}
