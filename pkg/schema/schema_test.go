package schema

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/interswap/swapd/pkg/envelope"
)

func decodeBody(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return m
}

func TestParse_RFQ_OK(t *testing.T) {
	body := decodeBody(t, `{
		"pair": "BTC_LN/USDT_SOL",
		"direction": "BTC_LN->USDT_SOL",
		"btc_sats": 100000,
		"usdt_amount": "6500000",
		"valid_until_unix": 1780000000
	}`)
	got, err := Parse(envelope.KindRFQ, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rfq, ok := got.(RFQBody)
	if !ok {
		t.Fatalf("got %T, want RFQBody", got)
	}
	if rfq.BTCSats != 100000 || rfq.USDTAmount != "6500000" {
		t.Fatalf("unexpected fields: %+v", rfq)
	}
}

func TestParse_RFQ_BadDirection(t *testing.T) {
	body := decodeBody(t, `{
		"pair": "BTC_LN/USDT_SOL",
		"direction": "SIDEWAYS",
		"btc_sats": 100000,
		"usdt_amount": "6500000",
		"valid_until_unix": 1780000000
	}`)
	_, err := Parse(envelope.KindRFQ, body)
	if err == nil {
		t.Fatal("expected error for invalid direction")
	}
}

func TestParse_RFQ_MissingField(t *testing.T) {
	body := decodeBody(t, `{"pair": "BTC_LN/USDT_SOL"}`)
	_, err := Parse(envelope.KindRFQ, body)
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
}

func TestParse_RFQ_AtomicMustBeDigits(t *testing.T) {
	body := decodeBody(t, `{
		"pair": "BTC_LN/USDT_SOL",
		"direction": "BTC_LN->USDT_SOL",
		"btc_sats": 100000,
		"usdt_amount": "6.5",
		"valid_until_unix": 1780000000
	}`)
	_, err := Parse(envelope.KindRFQ, body)
	if err == nil {
		t.Fatal("expected error for non-atomic usdt_amount")
	}
}

func TestParse_UnknownKind(t *testing.T) {
	_, err := Parse(envelope.Kind("NOT_A_KIND"), map[string]any{})
	if err == nil {
		t.Fatal("expected ErrUnknownKind")
	}
}

func TestParse_Terms_OK(t *testing.T) {
	body := decodeBody(t, `{
		"pair": "BTC_LN/USDT_SOL",
		"direction": "BTC_LN->USDT_SOL",
		"btc_sats": 100000,
		"usdt_amount": "6500000",
		"usdt_decimals": 6,
		"sol_mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"sol_recipient": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"sol_refund": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"sol_refund_after_unix": 1780003600,
		"ln_receiver_peer": "` + strings.Repeat("1", 64) + `",
		"ln_payer_peer": "` + strings.Repeat("2", 64) + `",
		"terms_valid_until_unix": 1780000600
	}`)

	got, err := Parse(envelope.KindTerms, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	terms, ok := got.(TermsBody)
	if !ok {
		t.Fatalf("got %T, want TermsBody", got)
	}
	if terms.USDTDecimals != 6 {
		t.Fatalf("unexpected decimals: %d", terms.USDTDecimals)
	}
}

func TestParse_Terms_BadPubkey(t *testing.T) {
	body := decodeBody(t, `{
		"pair": "BTC_LN/USDT_SOL",
		"direction": "BTC_LN->USDT_SOL",
		"btc_sats": 100000,
		"usdt_amount": "6500000",
		"usdt_decimals": 6,
		"sol_mint": "not-base58!!",
		"sol_recipient": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"sol_refund": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		"sol_refund_after_unix": 1780003600,
		"ln_receiver_peer": "1111111111111111111111111111111111111111111111111111111111111111",
		"ln_payer_peer": "2222222222222222222222222222222222222222222222222222222222222222",
		"terms_valid_until_unix": 1780000600
	}`)
	_, err := Parse(envelope.KindTerms, body)
	if err == nil {
		t.Fatal("expected error for malformed sol_mint")
	}
}

func TestParse_LNPaid_PreimageOptional(t *testing.T) {
	body := decodeBody(t, `{"payment_hash_hex": "`+strings.Repeat("a", 64)+`"}`)
	got, err := Parse(envelope.KindLNPaid, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paid, ok := got.(LNPaidBody)
	if !ok {
		t.Fatalf("got %T, want LNPaidBody", got)
	}
	if paid.PreimageHex != "" {
		t.Fatalf("expected empty preimage, got %q", paid.PreimageHex)
	}
}

func TestParse_Status_OK(t *testing.T) {
	body := decodeBody(t, `{"state": "AWAITING_PAYMENT", "note": "all good"}`)
	got, err := Parse(envelope.KindStatus, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, ok := got.(StatusBody)
	if !ok {
		t.Fatalf("got %T, want StatusBody", got)
	}
	if status.State != "AWAITING_PAYMENT" || status.Note != "all good" {
		t.Fatalf("unexpected fields: %+v", status)
	}
}

func TestParse_Cancel_OK(t *testing.T) {
	body := decodeBody(t, `{"reason": "counterparty timeout"}`)
	got, err := Parse(envelope.KindCancel, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel, ok := got.(CancelBody)
	if !ok {
		t.Fatalf("got %T, want CancelBody", got)
	}
	if cancel.Reason != "counterparty timeout" {
		t.Fatalf("unexpected reason: %q", cancel.Reason)
	}
}
