// Package codec implements the canonical byte encoding and envelope hash
// described in spec §4.1. Two semantically equal unsigned envelopes must
// produce byte-identical encodings and identical hashes regardless of which
// implementation produced them, so every rule here (key order, integer
// form, string form) is fixed rather than left to whatever a generic JSON
// marshaler happens to do.
//
// Grounded on pkg/consensus/types.go's HashOfBlock: a deterministic,
// field-by-field write into a running hasher. That function commits a fixed
// struct; this one generalizes the same idea to an arbitrary sorted-map
// value tree so it can cover every envelope kind's body without a
// hand-written encoder per kind.
package codec

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// UnsignedEnvelope is the wire-format-agnostic representation of an
// unsigned envelope: protocol version, kind, trade id, and a kind-specific
// body. Body values must be built from the types Marshal accepts below —
// in particular, no float64, since spec §4.1 forbids floating point
// anywhere in the body.
type UnsignedEnvelope struct {
	V       int
	Kind    string
	TradeID string
	Body    map[string]any
}

// Marshal renders v as canonical bytes: map keys sorted ascending by
// code point, integers as decimal text with no leading zeros, strings as
// UTF-8 JSON string literals, no insignificant whitespace, and a hard
// rejection of any floating-point value.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		encodeString(buf, t)
		return nil
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(t, 10))
		return nil
	case map[string]any:
		return encodeMap(buf, t)
	case []any:
		return encodeSlice(buf, t)
	case json.Number:
		if strings.ContainsAny(string(t), ".eE") {
			return fmt.Errorf("codec: floating point value not permitted in canonical encoding")
		}
		buf.WriteString(string(t))
		return nil
	case float32, float64:
		return fmt.Errorf("codec: floating point value not permitted in canonical encoding")
	default:
		return fmt.Errorf("codec: unsupported value type %T", v)
	}
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
}

func encodeMap(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeSlice(buf *bytes.Buffer, s []any) error {
	buf.WriteByte('[')
	for i, e := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, e); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// EncodeEnvelope produces the canonical bytes for an unsigned envelope.
func EncodeEnvelope(e UnsignedEnvelope) ([]byte, error) {
	m := map[string]any{
		"v":        e.V,
		"kind":     e.Kind,
		"trade_id": e.TradeID,
		"body":     e.Body,
	}
	return Marshal(m)
}

// Hash returns the hex-encoded 32-byte Keccak256 digest of the envelope's
// canonical encoding. Keccak256 (not sha256) is used so the hasher shares a
// single hashing primitive with the rest of the stack, following the
// teacher's own transaction verifier, which already reaches for
// go-ethereum's crypto.Keccak256 rather than stdlib sha256 when hashing
// signed payloads.
func Hash(e UnsignedEnvelope) (string, error) {
	b, err := EncodeEnvelope(e)
	if err != nil {
		return "", err
	}
	sum := ethcrypto.Keccak256(b)
	return hex.EncodeToString(sum), nil
}

// HashBytes hashes an already-canonicalized byte slice directly, without
// re-encoding from a Go value.
func HashBytes(b []byte) string {
	return hex.EncodeToString(ethcrypto.Keccak256(b))
}
