// Package envelope implements spec §4.2, the signed envelope codec: wrap an
// unsigned body with a signer public key and detached signature, and verify
// it on the way back in.
//
// Grounded on pkg/app/core/transaction/types.go + verifier.go: a wire struct
// carrying a type tag and a signature field, decoded with encoding/json and
// checked by a dedicated Verify function before any application code sees
// it.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/interswap/swapd/pkg/codec"
	"github.com/interswap/swapd/pkg/swapcrypto"
)

// Kind enumerates the complete set of envelope kinds from spec §6.
type Kind string

const (
	KindRFQ               Kind = "RFQ"
	KindQuote             Kind = "QUOTE"
	KindQuoteAccept       Kind = "QUOTE_ACCEPT"
	KindSwapInvite        Kind = "SWAP_INVITE"
	KindTerms             Kind = "TERMS"
	KindAccept            Kind = "ACCEPT"
	KindLNInvoice         Kind = "LN_INVOICE"
	KindSolEscrowCreated  Kind = "SOL_ESCROW_CREATED"
	KindLNPaid            Kind = "LN_PAID"
	KindSolClaimed        Kind = "SOL_CLAIMED"
	KindStatus            Kind = "STATUS"
	KindCancel            Kind = "CANCEL"
)

// KnownKinds is used by the schema validator to reject UnknownKind.
var KnownKinds = map[Kind]bool{
	KindRFQ: true, KindQuote: true, KindQuoteAccept: true, KindSwapInvite: true,
	KindTerms: true, KindAccept: true, KindLNInvoice: true, KindSolEscrowCreated: true,
	KindLNPaid: true, KindSolClaimed: true, KindStatus: true, KindCancel: true,
}

// Signed is the wire form of a signed envelope: v, kind, trade_id, body,
// signer_pubkey, signature (spec §6).
type Signed struct {
	V            int            `json:"v"`
	Kind         Kind           `json:"kind"`
	TradeID      string         `json:"trade_id"`
	Body         map[string]any `json:"body"`
	SignerPubkey string         `json:"signer_pubkey"`
	Signature    string         `json:"signature"`
}

// Unsigned extracts the part of the envelope that is hashed and signed.
func (s Signed) Unsigned() codec.UnsignedEnvelope {
	return codec.UnsignedEnvelope{V: s.V, Kind: string(s.Kind), TradeID: s.TradeID, Body: s.Body}
}

// Hash returns the envelope hash (spec §4.1) of the unsigned portion.
func (s Signed) Hash() (string, error) {
	return codec.Hash(s.Unsigned())
}

// Sign builds a Signed envelope from an unsigned one using the given
// signer.
func Sign(unsigned codec.UnsignedEnvelope, kind Kind, signer *swapcrypto.Signer) (Signed, error) {
	sig, err := signer.Sign(unsigned)
	if err != nil {
		return Signed{}, fmt.Errorf("envelope: sign: %w", err)
	}
	return Signed{
		V: unsigned.V, Kind: kind, TradeID: unsigned.TradeID, Body: unsigned.Body,
		SignerPubkey: signer.PubkeyHex(), Signature: sig,
	}, nil
}

// Verify checks the envelope's signature over its own canonical encoding.
// It does not check schema validity or trade binding — callers run those
// checks separately (pkg/schema, pkg/trade) so each error kind from spec §7
// is attributable to the layer that detected it.
func Verify(s Signed) error {
	return swapcrypto.Verify(s.Unsigned(), s.SignerPubkey, s.Signature)
}

// DecodeJSON parses the wire JSON form of a signed envelope, preserving
// integer fields as json.Number so pkg/codec's canonical re-encoding is
// byte-identical to what the sender signed.
func DecodeJSON(b []byte) (Signed, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var s Signed
	if err := dec.Decode(&s); err != nil {
		return Signed{}, fmt.Errorf("envelope: decode: %w", err)
	}
	return s, nil
}

// EncodeJSON renders the wire JSON form.
func EncodeJSON(s Signed) ([]byte, error) {
	return json.Marshal(s)
}
