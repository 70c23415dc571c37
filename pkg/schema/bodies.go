// Package schema implements spec §4.3: per-kind body schemas, parsing the
// canonical wire form into strongly-typed variants (spec DESIGN NOTES,
// "Dynamic typing of message bodies" -> "represent each envelope kind as a
// distinct variant of a tagged union"). All downstream code (pkg/trade,
// pkg/prepay) operates on these typed bodies, never on the raw map.
//
// Grounded on pkg/app/core/transaction/types.go + verifier.go's tagged,
// typed transaction payloads (Order/Cancel structs selected by a Type
// field).
package schema

import (
	"errors"
	"fmt"

	"github.com/interswap/swapd/pkg/envelope"
)

var ErrSchemaInvalid = errors.New("schema: SchemaInvalid")
var ErrUnknownKind = errors.New("schema: UnknownKind")

const (
	PairBTCUSDT = "BTC_LN/USDT_SOL"

	DirBTCToUSDT = "BTC_LN->USDT_SOL"
	DirUSDTToBTC = "USDT_SOL->BTC_LN"
)

type RFQBody struct {
	Pair           string
	Direction      string
	BTCSats        uint64
	USDTAmount     string
	ValidUntilUnix int64
}

type QuoteBody struct {
	RFQBody
	RFQID string
}

type QuoteAcceptBody struct {
	RFQID   string
	QuoteID string
}

type SwapInviteBody struct {
	RFQID       string
	QuoteID     string
	SwapChannel string
	OwnerPubkey string
	Invite      string
	Welcome     string
}

type TermsBody struct {
	Pair                string
	Direction           string
	BTCSats             uint64
	USDTAmount          string
	USDTDecimals        uint8
	SolMint             string
	SolRecipient        string
	SolRefund           string
	SolRefundAfterUnix  int64
	LNReceiverPeer      string
	LNPayerPeer         string
	TermsValidUntilUnix int64
}

type AcceptBody struct {
	TermsHash string
}

type LNInvoiceBody struct {
	Bolt11         string
	PaymentHashHex string
	AmountMsat     string
}

type SolEscrowCreatedBody struct {
	PaymentHashHex  string
	ProgramID       string
	EscrowPDA       string
	VaultATA        string
	Mint            string
	Amount          string
	RefundAfterUnix int64
	Recipient       string
	Refund          string
	TxSig           string
}

type LNPaidBody struct {
	PaymentHashHex string
	PreimageHex    string // optional, empty if not yet revealed
}

type SolClaimedBody struct {
	PaymentHashHex string
	EscrowPDA      string
	TxSig          string
}

type StatusBody struct {
	State string
	Note  string
}

type CancelBody struct {
	Reason string
}

// Parse validates and decodes body for the given kind into the
// corresponding typed variant, returned as `any` for the caller to type
// switch or type-assert.
func Parse(kind envelope.Kind, body map[string]any) (any, error) {
	if !envelope.KnownKinds[kind] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	switch kind {
	case envelope.KindRFQ:
		return parseRFQ(body)
	case envelope.KindQuote:
		return parseQuote(body)
	case envelope.KindQuoteAccept:
		rfqID, err := reqHex32(body, "rfq_id")
		if err != nil {
			return nil, err
		}
		quoteID, err := reqHex32(body, "quote_id")
		if err != nil {
			return nil, err
		}
		return QuoteAcceptBody{RFQID: rfqID, QuoteID: quoteID}, nil
	case envelope.KindSwapInvite:
		return parseSwapInvite(body)
	case envelope.KindTerms:
		return parseTerms(body)
	case envelope.KindAccept:
		h, err := reqHex32(body, "terms_hash")
		if err != nil {
			return nil, err
		}
		return AcceptBody{TermsHash: h}, nil
	case envelope.KindLNInvoice:
		return parseLNInvoice(body)
	case envelope.KindSolEscrowCreated:
		return parseSolEscrowCreated(body)
	case envelope.KindLNPaid:
		return parseLNPaid(body)
	case envelope.KindSolClaimed:
		return parseSolClaimed(body)
	case envelope.KindStatus:
		state, err := reqString(body, "state")
		if err != nil {
			return nil, err
		}
		note, _ := optString(body, "note")
		return StatusBody{State: state, Note: note}, nil
	case envelope.KindCancel:
		reason, err := reqString(body, "reason")
		if err != nil {
			return nil, err
		}
		return CancelBody{Reason: reason}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func parseRFQFields(body map[string]any) (RFQBody, error) {
	pair, err := reqEnum(body, "pair", PairBTCUSDT)
	if err != nil {
		return RFQBody{}, err
	}
	dir, err := reqEnum(body, "direction", DirBTCToUSDT, DirUSDTToBTC)
	if err != nil {
		return RFQBody{}, err
	}
	sats, err := reqUint64(body, "btc_sats")
	if err != nil {
		return RFQBody{}, err
	}
	amt, err := reqAtomic(body, "usdt_amount")
	if err != nil {
		return RFQBody{}, err
	}
	valid, err := reqInt64(body, "valid_until_unix")
	if err != nil {
		return RFQBody{}, err
	}
	return RFQBody{Pair: pair, Direction: dir, BTCSats: sats, USDTAmount: amt, ValidUntilUnix: valid}, nil
}

func parseRFQ(body map[string]any) (RFQBody, error) {
	return parseRFQFields(body)
}

func parseQuote(body map[string]any) (QuoteBody, error) {
	base, err := parseRFQFields(body)
	if err != nil {
		return QuoteBody{}, err
	}
	rfqID, err := reqHex32(body, "rfq_id")
	if err != nil {
		return QuoteBody{}, err
	}
	return QuoteBody{RFQBody: base, RFQID: rfqID}, nil
}

func parseSwapInvite(body map[string]any) (SwapInviteBody, error) {
	rfqID, err := reqHex32(body, "rfq_id")
	if err != nil {
		return SwapInviteBody{}, err
	}
	quoteID, err := reqHex32(body, "quote_id")
	if err != nil {
		return SwapInviteBody{}, err
	}
	channel, err := reqString(body, "swap_channel")
	if err != nil {
		return SwapInviteBody{}, err
	}
	owner, err := reqHexPubkey(body, "owner_pubkey")
	if err != nil {
		return SwapInviteBody{}, err
	}
	invite, err := reqString(body, "invite")
	if err != nil {
		return SwapInviteBody{}, err
	}
	welcome, err := reqString(body, "welcome")
	if err != nil {
		return SwapInviteBody{}, err
	}
	return SwapInviteBody{RFQID: rfqID, QuoteID: quoteID, SwapChannel: channel, OwnerPubkey: owner, Invite: invite, Welcome: welcome}, nil
}

func parseTerms(body map[string]any) (TermsBody, error) {
	pair, err := reqEnum(body, "pair", PairBTCUSDT)
	if err != nil {
		return TermsBody{}, err
	}
	dir, err := reqEnum(body, "direction", DirBTCToUSDT, DirUSDTToBTC)
	if err != nil {
		return TermsBody{}, err
	}
	sats, err := reqUint64(body, "btc_sats")
	if err != nil {
		return TermsBody{}, err
	}
	amt, err := reqAtomic(body, "usdt_amount")
	if err != nil {
		return TermsBody{}, err
	}
	decimals, err := reqUint8(body, "usdt_decimals")
	if err != nil {
		return TermsBody{}, err
	}
	mint, err := reqBase58Pubkey(body, "sol_mint")
	if err != nil {
		return TermsBody{}, err
	}
	recipient, err := reqBase58Pubkey(body, "sol_recipient")
	if err != nil {
		return TermsBody{}, err
	}
	refund, err := reqBase58Pubkey(body, "sol_refund")
	if err != nil {
		return TermsBody{}, err
	}
	refundAfter, err := reqInt64(body, "sol_refund_after_unix")
	if err != nil {
		return TermsBody{}, err
	}
	receiverPeer, err := reqHexPubkey(body, "ln_receiver_peer")
	if err != nil {
		return TermsBody{}, err
	}
	payerPeer, err := reqHexPubkey(body, "ln_payer_peer")
	if err != nil {
		return TermsBody{}, err
	}
	validUntil, err := reqInt64(body, "terms_valid_until_unix")
	if err != nil {
		return TermsBody{}, err
	}
	return TermsBody{
		Pair: pair, Direction: dir, BTCSats: sats, USDTAmount: amt, USDTDecimals: decimals,
		SolMint: mint, SolRecipient: recipient, SolRefund: refund, SolRefundAfterUnix: refundAfter,
		LNReceiverPeer: receiverPeer, LNPayerPeer: payerPeer, TermsValidUntilUnix: validUntil,
	}, nil
}

func parseLNInvoice(body map[string]any) (LNInvoiceBody, error) {
	bolt11, err := reqString(body, "bolt11")
	if err != nil {
		return LNInvoiceBody{}, err
	}
	hash, err := reqHex32(body, "payment_hash_hex")
	if err != nil {
		return LNInvoiceBody{}, err
	}
	amt, err := reqAtomic(body, "amount_msat")
	if err != nil {
		return LNInvoiceBody{}, err
	}
	return LNInvoiceBody{Bolt11: bolt11, PaymentHashHex: hash, AmountMsat: amt}, nil
}

func parseSolEscrowCreated(body map[string]any) (SolEscrowCreatedBody, error) {
	hash, err := reqHex32(body, "payment_hash_hex")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	programID, err := reqBase58Pubkey(body, "program_id")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	pda, err := reqBase58Pubkey(body, "escrow_pda")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	vault, err := reqBase58Pubkey(body, "vault_ata")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	mint, err := reqBase58Pubkey(body, "mint")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	amount, err := reqAtomic(body, "amount")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	refundAfter, err := reqInt64(body, "refund_after_unix")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	recipient, err := reqBase58Pubkey(body, "recipient")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	refund, err := reqBase58Pubkey(body, "refund")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	txSig, err := reqString(body, "tx_sig")
	if err != nil {
		return SolEscrowCreatedBody{}, err
	}
	return SolEscrowCreatedBody{
		PaymentHashHex: hash, ProgramID: programID, EscrowPDA: pda, VaultATA: vault, Mint: mint,
		Amount: amount, RefundAfterUnix: refundAfter, Recipient: recipient, Refund: refund, TxSig: txSig,
	}, nil
}

func parseLNPaid(body map[string]any) (LNPaidBody, error) {
	hash, err := reqHex32(body, "payment_hash_hex")
	if err != nil {
		return LNPaidBody{}, err
	}
	preimage, _, err := optHex32(body, "preimage_hex")
	if err != nil {
		return LNPaidBody{}, err
	}
	return LNPaidBody{PaymentHashHex: hash, PreimageHex: preimage}, nil
}

func parseSolClaimed(body map[string]any) (SolClaimedBody, error) {
	hash, err := reqHex32(body, "payment_hash_hex")
	if err != nil {
		return SolClaimedBody{}, err
	}
	pda, err := reqBase58Pubkey(body, "escrow_pda")
	if err != nil {
		return SolClaimedBody{}, err
	}
	txSig, err := reqString(body, "tx_sig")
	if err != nil {
		return SolClaimedBody{}, err
	}
	return SolClaimedBody{PaymentHashHex: hash, EscrowPDA: pda, TxSig: txSig}, nil
}
