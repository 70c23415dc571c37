// Package trade implements the trade state machine from spec §4.4: a pure
// function from (Trade, SignedEnvelope) to (Trade, error), with a fixed
// legal-transition graph and binding checks between successive envelopes of
// the same trade.
//
// Grounded on pkg/app/core/account/manager.go's pattern of validate-then-
// mutate methods on a single record, generalized here into one pure Apply
// entry point per spec DESIGN NOTES ("State machine as pure function"): all
// I/O is hoisted out, so Apply never touches a store or clock beyond what
// is passed in as an argument.
package trade

import (
	"errors"
	"fmt"

	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/schema"
)

// State is a trade's position in the legal transition graph (spec §4.4).
type State string

const (
	StateInit        State = "INIT"
	StateTerms       State = "TERMS"
	StateAccepted    State = "ACCEPTED"
	StateInvoice     State = "INVOICE"
	StateEscrow      State = "ESCROW"
	StateLNPaid      State = "LN_PAID"
	StateClaimed     State = "CLAIMED"
	StateCancelled   State = "CANCELLED"
	StateRefunded    State = "REFUNDED"
	StateInconsistent State = "INCONSISTENT"
)

// terminal holds the set of states apply no longer accepts transitions
// from, except the universal CANCEL-from-non-terminal rule below.
var terminal = map[State]bool{
	StateClaimed:      true,
	StateCancelled:    true,
	StateRefunded:     true,
	StateInconsistent: true,
}

// Reason enumerates the rejection reasons from spec §4.4 and §7. Apply
// returns one of these, carried in an *Error, on any rejected envelope.
type Reason string

const (
	ReasonBadSig             Reason = "BadSig"
	ReasonSchemaInvalid      Reason = "SchemaInvalid"
	ReasonWrongTradeId       Reason = "WrongTradeId"
	ReasonStaleExpiry        Reason = "StaleExpiry"
	ReasonMismatchedBinding  Reason = "MismatchedBinding"
	ReasonDuplicateTerms     Reason = "DuplicateTerms"
	ReasonUnknownKind        Reason = "UnknownKind"
	ReasonIllegalTransition  Reason = "IllegalTransition"
	ReasonAlreadyApplied     Reason = "AlreadyApplied"
)

// Error wraps a Reason with a human-readable message; errors.Is(err,
// ReasonErr(SomeReason)) works because Error implements Is via reason
// equality.
type Error struct {
	Reason Reason
	Msg    string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

func reject(reason Reason, format string, args ...any) error {
	return &Error{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

// ReasonErr provides a package-level sentinel for each reason so callers can write
// errors.Is(err, trade.ReasonErr(trade.ReasonBadSig)).
func ReasonErr(r Reason) error { return &Error{Reason: r} }

// Trade is the durable, replay-rebuildable state of a single swap
// negotiation. Every field beyond TradeID/State/LastHashByKind is populated
// incrementally as successive envelopes are applied.
type Trade struct {
	TradeID string
	State   State

	Terms        schema.TermsBody
	TermsHash    string
	HasTerms     bool

	PaymentHash  string
	HasInvoice   bool
	Invoice      schema.LNInvoiceBody

	Escrow      schema.SolEscrowCreatedBody
	HasEscrow   bool

	Preimage    string
	HasPreimage bool

	ClaimedEscrowPDA string

	InconsistentReason string

	// LastHashByKind is the hash of the last envelope successfully applied for
	// each kind, used to detect byte-identical replay (idempotent no-op)
	// versus a genuinely new envelope of a kind already seen.
	LastHashByKind map[envelope.Kind]string
}

// CreateInitial returns a new trade at state INIT with no bindings (spec
// §4.4: create_initial(trade_id)).
func CreateInitial(tradeID string) Trade {
	return Trade{
		TradeID:        tradeID,
		State:          StateInit,
		LastHashByKind: make(map[envelope.Kind]string),
	}
}

func cloneLastHash(m map[envelope.Kind]string) map[envelope.Kind]string {
	out := make(map[envelope.Kind]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Apply is the sole mutator of a Trade: pure, synchronous, no I/O. It
// validates the envelope's signature, schema, and trade binding before
// committing any transition (spec §4.4).
func Apply(t Trade, e envelope.Signed, nowUnix int64) (Trade, error) {
	if e.TradeID != t.TradeID {
		return t, reject(ReasonWrongTradeId, "envelope trade_id %q != trade %q", e.TradeID, t.TradeID)
	}

	if err := envelope.Verify(e); err != nil {
		return t, reject(ReasonBadSig, "%v", err)
	}

	hash, err := e.Hash()
	if err != nil {
		return t, reject(ReasonSchemaInvalid, "cannot hash envelope: %v", err)
	}

	if prev, ok := t.LastHashByKind[e.Kind]; ok && prev == hash {
		// Idempotent replay of a byte-identical envelope: no-op success.
		return t, nil
	}

	// A second, non-identical envelope of a kind already consumed for
	// this trade is rejected here rather than falling through to
	// whichever IllegalTransition each apply* function would otherwise
	// report, matching spec §4.4's explicit tie-break (TERMS gets the
	// more specific DuplicateTerms via applyTerms's own HasTerms check;
	// every other kind gets AlreadyApplied).
	if prev, ok := t.LastHashByKind[e.Kind]; ok && e.Kind != envelope.KindTerms {
		return t, reject(ReasonAlreadyApplied, "kind %q already applied for trade %q (hash %s != previously applied %s)", e.Kind, t.TradeID, hash, prev)
	}

	body, err := schema.Parse(e.Kind, e.Body)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownKind) {
			return t, reject(ReasonUnknownKind, "%v", err)
		}
		return t, reject(ReasonSchemaInvalid, "%v", err)
	}

	switch e.Kind {
	case envelope.KindCancel:
		return applyCancel(t, hash)
	case envelope.KindTerms:
		return applyTerms(t, body.(schema.TermsBody), hash, nowUnix)
	case envelope.KindAccept:
		return applyAccept(t, body.(schema.AcceptBody), hash)
	case envelope.KindLNInvoice:
		return applyLNInvoice(t, body.(schema.LNInvoiceBody), hash)
	case envelope.KindSolEscrowCreated:
		return applySolEscrowCreated(t, body.(schema.SolEscrowCreatedBody), hash)
	case envelope.KindLNPaid:
		return applyLNPaid(t, body.(schema.LNPaidBody), hash)
	case envelope.KindSolClaimed:
		return applySolClaimed(t, body.(schema.SolClaimedBody), hash)
	default:
		// RFQ/QUOTE/QUOTE_ACCEPT/SWAP_INVITE/STATUS are pre-trade
		// negotiation or informational kinds that carry no state-machine
		// transition of their own in this core; they are valid envelopes
		// (schema already checked above) but illegal against the trade
		// transition table.
		return t, reject(ReasonIllegalTransition, "kind %q has no transition from state %q", e.Kind, t.State)
	}
}

func applyCancel(t Trade, hash string) (Trade, error) {
	if terminal[t.State] {
		return t, reject(ReasonIllegalTransition, "cannot CANCEL from terminal state %q", t.State)
	}
	next := t
	next.State = StateCancelled
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	next.LastHashByKind[envelope.KindCancel] = hash
	return next, nil
}

func applyTerms(t Trade, body schema.TermsBody, hash string, nowUnix int64) (Trade, error) {
	if t.HasTerms {
		return t, reject(ReasonDuplicateTerms, "trade %q already has terms", t.TradeID)
	}
	if t.State != StateInit {
		return t, reject(ReasonIllegalTransition, "TERMS only legal from INIT, trade is %q", t.State)
	}
	if body.TermsValidUntilUnix <= nowUnix {
		return t, reject(ReasonStaleExpiry, "terms_valid_until_unix %d <= now %d", body.TermsValidUntilUnix, nowUnix)
	}

	next := t
	next.State = StateTerms
	next.Terms = body
	next.TermsHash = hash
	next.HasTerms = true
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	next.LastHashByKind[envelope.KindTerms] = hash
	return next, nil
}

func applyAccept(t Trade, body schema.AcceptBody, hash string) (Trade, error) {
	if t.State != StateTerms {
		return t, reject(ReasonIllegalTransition, "ACCEPT only legal from TERMS, trade is %q", t.State)
	}
	if body.TermsHash != t.TermsHash {
		return t, reject(ReasonMismatchedBinding, "terms_hash %q != trade terms_hash %q", body.TermsHash, t.TermsHash)
	}

	next := t
	next.State = StateAccepted
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	next.LastHashByKind[envelope.KindAccept] = hash
	return next, nil
}

func applyLNInvoice(t Trade, body schema.LNInvoiceBody, hash string) (Trade, error) {
	if t.State != StateAccepted {
		return t, reject(ReasonIllegalTransition, "LN_INVOICE only legal from ACCEPTED, trade is %q", t.State)
	}

	next := t
	next.State = StateInvoice
	next.Invoice = body
	next.HasInvoice = true
	next.PaymentHash = body.PaymentHashHex
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	next.LastHashByKind[envelope.KindLNInvoice] = hash
	return next, nil
}

func applySolEscrowCreated(t Trade, body schema.SolEscrowCreatedBody, hash string) (Trade, error) {
	if t.State != StateInvoice {
		return t, reject(ReasonIllegalTransition, "SOL_ESCROW_CREATED only legal from INVOICE, trade is %q", t.State)
	}
	if body.PaymentHashHex != t.PaymentHash {
		return t, reject(ReasonMismatchedBinding, "escrow payment_hash %q != trade payment_hash %q", body.PaymentHashHex, t.PaymentHash)
	}
	if err := checkEscrowMirrorsTerms(t.Terms, body); err != nil {
		return t, err
	}

	next := t
	next.State = StateEscrow
	next.Escrow = body
	next.HasEscrow = true
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	next.LastHashByKind[envelope.KindSolEscrowCreated] = hash
	return next, nil
}

// checkEscrowMirrorsTerms enforces spec §3's binding invariant: amount,
// mint, recipient, refund, refund_after_unix on SOL_ESCROW_CREATED must
// equal the corresponding TERMS fields exactly.
func checkEscrowMirrorsTerms(terms schema.TermsBody, escrow schema.SolEscrowCreatedBody) error {
	switch {
	case escrow.Amount != terms.USDTAmount:
		return reject(ReasonMismatchedBinding, "escrow amount %q != terms usdt_amount %q", escrow.Amount, terms.USDTAmount)
	case escrow.Mint != terms.SolMint:
		return reject(ReasonMismatchedBinding, "escrow mint %q != terms sol_mint %q", escrow.Mint, terms.SolMint)
	case escrow.Recipient != terms.SolRecipient:
		return reject(ReasonMismatchedBinding, "escrow recipient %q != terms sol_recipient %q", escrow.Recipient, terms.SolRecipient)
	case escrow.Refund != terms.SolRefund:
		return reject(ReasonMismatchedBinding, "escrow refund %q != terms sol_refund %q", escrow.Refund, terms.SolRefund)
	case escrow.RefundAfterUnix != terms.SolRefundAfterUnix:
		return reject(ReasonMismatchedBinding, "escrow refund_after_unix %d != terms sol_refund_after_unix %d", escrow.RefundAfterUnix, terms.SolRefundAfterUnix)
	}
	return nil
}

func applyLNPaid(t Trade, body schema.LNPaidBody, hash string) (Trade, error) {
	if t.State != StateEscrow {
		return t, reject(ReasonIllegalTransition, "LN_PAID only legal from ESCROW, trade is %q", t.State)
	}
	if body.PaymentHashHex != t.PaymentHash {
		return t, reject(ReasonMismatchedBinding, "LN_PAID payment_hash %q != trade payment_hash %q", body.PaymentHashHex, t.PaymentHash)
	}

	next := t
	next.State = StateLNPaid
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	next.LastHashByKind[envelope.KindLNPaid] = hash
	if body.PreimageHex != "" {
		next.Preimage = body.PreimageHex
		next.HasPreimage = true
	}
	return next, nil
}

func applySolClaimed(t Trade, body schema.SolClaimedBody, hash string) (Trade, error) {
	if t.State != StateLNPaid {
		return t, reject(ReasonIllegalTransition, "SOL_CLAIMED only legal from LN_PAID, trade is %q", t.State)
	}
	if body.PaymentHashHex != t.PaymentHash {
		return t, reject(ReasonMismatchedBinding, "SOL_CLAIMED payment_hash %q != trade payment_hash %q", body.PaymentHashHex, t.PaymentHash)
	}
	if t.HasEscrow && body.EscrowPDA != t.Escrow.EscrowPDA {
		return t, reject(ReasonMismatchedBinding, "SOL_CLAIMED escrow_pda %q != trade escrow_pda %q", body.EscrowPDA, t.Escrow.EscrowPDA)
	}

	next := t
	next.State = StateClaimed
	next.ClaimedEscrowPDA = body.EscrowPDA
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	next.LastHashByKind[envelope.KindSolClaimed] = hash
	return next, nil
}

// ObserveRefund applies the out-of-band refund observation described in
// spec §4.4's legal-transition table ("ESCROW (and later, if timeout
// reached) | REFUND observation | REFUNDED"). Unlike other transitions
// this has no signed envelope of its own: it is driven by the orchestration
// layer polling the chain RPC (spec §4.6's Refund instruction), so it takes
// the observation time nowUnix directly rather than an envelope and checks
// it against the recorded escrow's refund_after_unix.
func ObserveRefund(t Trade, nowUnix int64) (Trade, error) {
	if t.State != StateEscrow {
		return t, reject(ReasonIllegalTransition, "refund observation only legal from ESCROW, trade is %q", t.State)
	}
	if !t.HasEscrow {
		return t, reject(ReasonIllegalTransition, "no escrow recorded for trade %q", t.TradeID)
	}
	if nowUnix < t.Escrow.RefundAfterUnix {
		return t, reject(ReasonIllegalTransition, "now %d < refund_after_unix %d", nowUnix, t.Escrow.RefundAfterUnix)
	}

	next := t
	next.State = StateRefunded
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	return next, nil
}

// MarkInconsistent transitions a trade to the fatal INCONSISTENT state
// described in spec §7: a confirmed on-chain observation disagrees with
// the persisted trade record (e.g. a claim preimage whose hash does not
// match the recorded payment_hash). There is no automatic recovery from
// this state.
func MarkInconsistent(t Trade, reason string) Trade {
	next := t
	next.State = StateInconsistent
	next.InconsistentReason = reason
	next.LastHashByKind = cloneLastHash(t.LastHashByKind)
	return next
}
