// Package prepay implements the critical safety gate from spec §4.5: before
// a client broadcasts a Lightning payment, it must independently prove via
// on-chain RPC that the escrow is funded and matches the negotiated terms.
// All six checks must hold; any single failure refuses the payment.
//
// Grounded on Jason-chen-taiwan-arcSignv2's src/chainadapter/provider
// interface pattern (a narrow, context-aware RPC-handle interface
// implemented by both a real client and a mock/simulator for tests).
package prepay

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/lightningnetwork/lnd/zpay32"

	"github.com/interswap/swapd/pkg/escrow"
	"github.com/interswap/swapd/pkg/schema"
)

var (
	ErrPayHashMismatch    = errors.New("prepay: PayHashMismatch")
	ErrEscrowMissing      = errors.New("prepay: EscrowMissing")
	ErrEscrowWrongOwner   = errors.New("prepay: EscrowWrongOwner")
	ErrEscrowAmountMismatch = errors.New("prepay: EscrowAmountMismatch")
	ErrEscrowTimeTooTight = errors.New("prepay: EscrowTimeTooTight")
	ErrVaultUnderfunded   = errors.New("prepay: VaultUnderfunded")
	ErrInvoiceAmountMismatch = errors.New("prepay: InvoiceAmountMismatch")
)

// ChainRPC is the narrow read surface the pre-pay verifier needs from the
// chain (spec §6's "Chain RPC (consumed)"), kept separate from pkg/escrow's
// write path so a real RPC client only needs to implement reads here.
type ChainRPC interface {
	GetAccount(ctx context.Context, pubkey solana.PublicKey) (owner solana.PublicKey, data []byte, err error)
	GetTokenAccount(ctx context.Context, ata solana.PublicKey) (amount uint64, mint solana.PublicKey, err error)
}

// Clock is a minimal Unix-seconds time source. pkg/util.Clock does not
// implement it (it exposes Now, not NowUnix); Verify itself takes the
// current time as its nowUnix argument.
type Clock interface {
	NowUnix() int64
}

// Result carries the data the six checks gathered, for logging/auditing
// once verification succeeds.
type Result struct {
	EscrowPDA solana.PublicKey
	VaultATA  solana.PublicKey
}

// Verify runs all six checks from spec §4.5 against terms, invoice, and
// escrow bodies already bound together by the trade state machine (so
// their cross-field equality has already passed pkg/trade's binding
// checks); this additionally re-derives the PDA and re-fetches live
// on-chain state rather than trusting the SOL_ESCROW_CREATED envelope's
// claims at face value.
func Verify(ctx context.Context, rpc ChainRPC, terms schema.TermsBody, invoice schema.LNInvoiceBody, escrowBody schema.SolEscrowCreatedBody, safetyMarginSec int64, nowUnix int64) (Result, error) {
	// 1. invoice.payment_hash_hex == escrow.payment_hash_hex
	if invoice.PaymentHashHex != escrowBody.PaymentHashHex {
		return Result{}, fmt.Errorf("%w: invoice=%q escrow=%q", ErrPayHashMismatch, invoice.PaymentHashHex, escrowBody.PaymentHashHex)
	}

	paymentHash, err := escrow.ParsePaymentHashHex(escrowBody.PaymentHashHex)
	if err != nil {
		return Result{}, fmt.Errorf("prepay: %w", err)
	}
	programID, err := solana.PublicKeyFromBase58(escrowBody.ProgramID)
	if err != nil {
		return Result{}, fmt.Errorf("prepay: bad program_id: %w", err)
	}

	// 2. PDA derivation must match deterministically.
	wantPDA, _, err := escrow.DerivePDA(programID, paymentHash)
	if err != nil {
		return Result{}, fmt.Errorf("prepay: derive pda: %w", err)
	}
	gotPDA, err := solana.PublicKeyFromBase58(escrowBody.EscrowPDA)
	if err != nil {
		return Result{}, fmt.Errorf("prepay: bad escrow_pda: %w", err)
	}
	if wantPDA != gotPDA {
		return Result{}, fmt.Errorf("prepay: %w: derived %s != claimed %s", ErrEscrowMissing, wantPDA, gotPDA)
	}

	// 3. Fetch the escrow account on-chain and check it parses into a
	// matching FUNDED state.
	owner, data, err := rpc.GetAccount(ctx, gotPDA)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrEscrowMissing, err)
	}
	if owner != programID {
		return Result{}, fmt.Errorf("%w: account owner %s != program_id %s", ErrEscrowWrongOwner, owner, programID)
	}
	acct, err := escrow.DecodeAccount(data)
	if err != nil {
		return Result{}, fmt.Errorf("prepay: decode escrow account: %w", err)
	}
	if err := checkEscrowMatchesTerms(acct, terms, paymentHash); err != nil {
		return Result{}, err
	}

	// 4. Time sanity: now + SAFETY_MARGIN < refund_after_unix.
	if nowUnix+safetyMarginSec >= acct.RefundAfterUnix {
		return Result{}, fmt.Errorf("%w: now=%d margin=%d refund_after_unix=%d", ErrEscrowTimeTooTight, nowUnix, safetyMarginSec, acct.RefundAfterUnix)
	}

	// 5. Vault ATA exists, holds the escrow's mint, and holds >= amount.
	// The vault's owner is not compared with escrow_pda: GetTokenAccount
	// reports only the balance and the mint.
	vaultATA, err := solana.PublicKeyFromBase58(escrowBody.VaultATA)
	if err != nil {
		return Result{}, fmt.Errorf("prepay: bad vault_ata: %w", err)
	}
	vaultAmount, vaultMint, err := rpc.GetTokenAccount(ctx, vaultATA)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrVaultUnderfunded, err)
	}
	if vaultMint != acct.Mint {
		return Result{}, fmt.Errorf("%w: vault mint %s != escrow mint %s", ErrVaultUnderfunded, vaultMint, acct.Mint)
	}
	if vaultAmount < acct.Amount {
		return Result{}, fmt.Errorf("%w: vault holds %d, escrow amount is %d", ErrVaultUnderfunded, vaultAmount, acct.Amount)
	}

	// 6. invoice.amount_msat == terms.btc_sats * 1000.
	wantMsat := new(big.Int).Mul(big.NewInt(int64(terms.BTCSats)), big.NewInt(1000))
	gotMsat, ok := new(big.Int).SetString(invoice.AmountMsat, 10)
	if !ok {
		return Result{}, fmt.Errorf("prepay: invoice amount_msat %q is not a valid integer", invoice.AmountMsat)
	}
	if wantMsat.Cmp(gotMsat) != 0 {
		return Result{}, fmt.Errorf("%w: invoice amount_msat=%s, want %s", ErrInvoiceAmountMismatch, gotMsat, wantMsat)
	}

	return Result{EscrowPDA: gotPDA, VaultATA: vaultATA}, nil
}

func checkEscrowMatchesTerms(acct escrow.Account, terms schema.TermsBody, paymentHash [32]byte) error {
	if acct.Status != escrow.StatusFunded {
		return fmt.Errorf("%w: escrow status is not FUNDED", ErrEscrowMissing)
	}
	amount, ok := new(big.Int).SetString(terms.USDTAmount, 10)
	if !ok {
		return fmt.Errorf("prepay: terms usdt_amount %q is not a valid integer", terms.USDTAmount)
	}
	if new(big.Int).SetUint64(acct.Amount).Cmp(amount) != 0 {
		return fmt.Errorf("%w: escrow amount %d != terms amount %s", ErrEscrowAmountMismatch, acct.Amount, terms.USDTAmount)
	}
	mint, err := solana.PublicKeyFromBase58(terms.SolMint)
	if err != nil {
		return fmt.Errorf("prepay: bad terms sol_mint: %w", err)
	}
	if acct.Mint != mint {
		return fmt.Errorf("%w: escrow mint %s != terms sol_mint %s", ErrEscrowAmountMismatch, acct.Mint, mint)
	}
	recipient, err := solana.PublicKeyFromBase58(terms.SolRecipient)
	if err != nil {
		return fmt.Errorf("prepay: bad terms sol_recipient: %w", err)
	}
	if acct.Recipient != recipient {
		return fmt.Errorf("%w: escrow recipient %s != terms sol_recipient %s", ErrEscrowAmountMismatch, acct.Recipient, recipient)
	}
	refund, err := solana.PublicKeyFromBase58(terms.SolRefund)
	if err != nil {
		return fmt.Errorf("prepay: bad terms sol_refund: %w", err)
	}
	if acct.Refund != refund {
		return fmt.Errorf("%w: escrow refund %s != terms sol_refund %s", ErrEscrowAmountMismatch, acct.Refund, refund)
	}
	if acct.PaymentHash != paymentHash {
		return fmt.Errorf("%w: escrow payment_hash != terms payment_hash", ErrEscrowAmountMismatch)
	}
	if acct.RefundAfterUnix != terms.SolRefundAfterUnix {
		return fmt.Errorf("%w: escrow refund_after_unix %d != terms sol_refund_after_unix %d", ErrEscrowAmountMismatch, acct.RefundAfterUnix, terms.SolRefundAfterUnix)
	}
	return nil
}

// CrossCheckBolt11 decodes a bolt11 invoice and verifies its payment hash
// and amount agree with the LN_INVOICE envelope body, using the same
// zpay32 decoder a real Lightning node would use to parse the invoice it
// is about to pay (spec §9 glossary: "BOLT11").
func CrossCheckBolt11(bolt11 string, net *zpay32.Invoice, invoice schema.LNInvoiceBody) error {
	if net == nil || net.PaymentHash == nil {
		return fmt.Errorf("prepay: decoded bolt11 invoice has no payment hash")
	}
	gotHash := fmt.Sprintf("%x", net.PaymentHash[:])
	if gotHash != invoice.PaymentHashHex {
		return fmt.Errorf("%w: bolt11 payment_hash=%s, envelope says %s", ErrPayHashMismatch, gotHash, invoice.PaymentHashHex)
	}
	if net.MilliSat == nil {
		return fmt.Errorf("prepay: decoded bolt11 invoice has no amount")
	}
	gotMsat := big.NewInt(int64(*net.MilliSat))
	wantMsat, ok := new(big.Int).SetString(invoice.AmountMsat, 10)
	if !ok {
		return fmt.Errorf("prepay: invoice amount_msat %q is not a valid integer", invoice.AmountMsat)
	}
	if gotMsat.Cmp(wantMsat) != 0 {
		return fmt.Errorf("%w: bolt11 amount_msat=%s, envelope says %s", ErrInvoiceAmountMismatch, gotMsat, wantMsat)
	}
	return nil
}
