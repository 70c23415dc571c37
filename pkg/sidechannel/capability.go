package sidechannel

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/interswap/swapd/pkg/codec"
)

var (
	ErrCapabilityBadSig  = errors.New("sidechannel: capability signature invalid")
	ErrCapabilityExpired = errors.New("sidechannel: invite expired")
	ErrWrongChannel      = errors.New("sidechannel: capability issued for a different channel")
	ErrWrongInvitee      = errors.New("sidechannel: invite does not name this invitee")
)

// Invite is the signed capability described in spec §4: it grants a
// specific invitee public key permission to join channel within a TTL
// measured from IssuedUnix.
type Invite struct {
	Channel          string
	InviteePubkeyHex string
	IssuedUnix       int64
	TTLSec           int64
}

// Welcome is a signed record declaring the owner of a channel. It carries
// no invitee restriction; any peer presenting a valid welcome for a
// welcome-gated channel is admitted.
type Welcome struct {
	Channel        string
	OwnerPubkeyHex string
}

func (i Invite) canon() map[string]any {
	return map[string]any{
		"channel":            i.Channel,
		"invitee_pubkey_hex": i.InviteePubkeyHex,
		"issued_unix":        i.IssuedUnix,
		"ttl_sec":            i.TTLSec,
	}
}

func (w Welcome) canon() map[string]any {
	return map[string]any{
		"channel":          w.Channel,
		"owner_pubkey_hex": w.OwnerPubkeyHex,
	}
}

// encodeSignedBlob builds the wire representation an opaque []byte
// capability actually carries: canonical body bytes plus a detached
// signature by the channel owner, using the same canonical encoder the
// envelope protocol uses (which happens to emit valid JSON, so the
// receiving side can decode it with the standard library).
func encodeSignedBlob(body map[string]any, sigHex, pubkeyHex string) ([]byte, error) {
	return codec.Marshal(map[string]any{
		"body":       body,
		"sig_hex":    sigHex,
		"pubkey_hex": pubkeyHex,
	})
}

func decodeSignedBlob(blob []byte) (map[string]any, string, string, error) {
	var decoded map[string]any
	dec := json.NewDecoder(bytes.NewReader(blob))
	dec.UseNumber() // keep integers as json.Number so codec.Marshal re-encodes them byte-for-byte
	if err := dec.Decode(&decoded); err != nil {
		return nil, "", "", fmt.Errorf("sidechannel: malformed capability blob: %w", err)
	}
	body, _ := decoded["body"].(map[string]any)
	sigHex, _ := decoded["sig_hex"].(string)
	pubkeyHex, _ := decoded["pubkey_hex"].(string)
	if body == nil || sigHex == "" || pubkeyHex == "" {
		return nil, "", "", fmt.Errorf("sidechannel: capability blob missing required fields")
	}
	return body, sigHex, pubkeyHex, nil
}

// IssueInvite signs inv with ownerPriv (a 64-byte Ed25519 private key) and
// returns the opaque blob a channel owner hands to an invitee.
func IssueInvite(ownerPriv ed25519.PrivateKey, inv Invite) ([]byte, error) {
	body := inv.canon()
	sig, err := signCanonical(ownerPriv, body)
	if err != nil {
		return nil, err
	}
	pub := ownerPriv.Public().(ed25519.PublicKey)
	return encodeSignedBlob(body, hex.EncodeToString(sig), hex.EncodeToString(pub))
}

// IssueWelcome signs w with ownerPriv.
func IssueWelcome(ownerPriv ed25519.PrivateKey, w Welcome) ([]byte, error) {
	body := w.canon()
	sig, err := signCanonical(ownerPriv, body)
	if err != nil {
		return nil, err
	}
	pub := ownerPriv.Public().(ed25519.PublicKey)
	return encodeSignedBlob(body, hex.EncodeToString(sig), hex.EncodeToString(pub))
}

// VerifyInvite checks blob's signature, that it was issued by
// ownerPubkeyHex, that it names channel and requesterPubkeyHex as invitee,
// and that it has not expired as of nowUnix.
func VerifyInvite(blob []byte, channel, requesterPubkeyHex, ownerPubkeyHex string, nowUnix int64) (Invite, error) {
	body, sigHex, pubkeyHex, err := decodeSignedBlob(blob)
	if err != nil {
		return Invite{}, err
	}
	if pubkeyHex != ownerPubkeyHex {
		return Invite{}, fmt.Errorf("%w: signed by %s, channel owner is %s", ErrCapabilityBadSig, pubkeyHex, ownerPubkeyHex)
	}
	if err := verifyCanonical(pubkeyHex, sigHex, body); err != nil {
		return Invite{}, err
	}
	inv := Invite{
		Channel:          stringField(body, "channel"),
		InviteePubkeyHex: stringField(body, "invitee_pubkey_hex"),
		IssuedUnix:       int64Field(body, "issued_unix"),
		TTLSec:           int64Field(body, "ttl_sec"),
	}
	if inv.Channel != channel {
		return Invite{}, ErrWrongChannel
	}
	if inv.InviteePubkeyHex != requesterPubkeyHex {
		return Invite{}, ErrWrongInvitee
	}
	if nowUnix >= inv.IssuedUnix+inv.TTLSec {
		return Invite{}, ErrCapabilityExpired
	}
	return inv, nil
}

// VerifyWelcome checks blob's signature and that it declares channel, and
// returns the owner public key it names.
func VerifyWelcome(blob []byte, channel string) (Welcome, error) {
	body, sigHex, pubkeyHex, err := decodeSignedBlob(blob)
	if err != nil {
		return Welcome{}, err
	}
	if err := verifyCanonical(pubkeyHex, sigHex, body); err != nil {
		return Welcome{}, err
	}
	w := Welcome{
		Channel:        stringField(body, "channel"),
		OwnerPubkeyHex: stringField(body, "owner_pubkey_hex"),
	}
	if w.Channel != channel {
		return Welcome{}, ErrWrongChannel
	}
	if w.OwnerPubkeyHex != pubkeyHex {
		return Welcome{}, fmt.Errorf("%w: welcome signer %s != declared owner %s", ErrCapabilityBadSig, pubkeyHex, w.OwnerPubkeyHex)
	}
	return w, nil
}

func signCanonical(priv ed25519.PrivateKey, body map[string]any) ([]byte, error) {
	b, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("sidechannel: encode capability body: %w", err)
	}
	return ed25519.Sign(priv, b), nil
}

func verifyCanonical(pubkeyHex, sigHex string, body map[string]any) error {
	pub, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: malformed public key", ErrCapabilityBadSig)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed signature", ErrCapabilityBadSig)
	}
	b, err := codec.Marshal(body)
	if err != nil {
		return fmt.Errorf("sidechannel: encode capability body: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), b, sig) {
		return ErrCapabilityBadSig
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func int64Field(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case float64:
		return int64(v)
	default:
		return 0
	}
}
