package prepay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/interswap/swapd/pkg/escrow"
	"github.com/interswap/swapd/pkg/schema"
	"github.com/interswap/swapd/pkg/util"
)

func mustPubkey(t *testing.T, s string) solana.PublicKey {
	t.Helper()
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		t.Fatalf("pubkey %q: %v", s, err)
	}
	return pk
}

func setupFunded(t *testing.T, amount uint64, refundAfter int64) (schema.TermsBody, schema.LNInvoiceBody, schema.SolEscrowCreatedBody, *escrow.Simulator) {
	t.Helper()
	programID := mustPubkey(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	mint := mustPubkey(t, "Es9vMFrzaCERz7ztaeM4XS7KhBSBfjUxXH6FXkyVzr4J")
	payer := mustPubkey(t, "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	recipient := mustPubkey(t, "So11111111111111111111111111111111111111112")
	refund := payer

	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	sim := escrow.NewSimulator(programID, clock)
	sim.Fund(payer, mint, amount)

	preimage := []byte("a-fixed-test-preimage-32-bytes!!")
	paymentHash := escrow.HashPreimage(preimage)
	pda, err := sim.Create(payer, amount, paymentHash, mint, recipient, refund, refundAfter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	vaultATA := escrow.VaultATA(pda)

	terms := schema.TermsBody{
		Pair: schema.PairBTCUSDT, Direction: schema.DirBTCToUSDT,
		BTCSats: 50_000, USDTAmount: "100000000", USDTDecimals: 6,
		SolMint: mint.String(), SolRecipient: recipient.String(), SolRefund: refund.String(),
		SolRefundAfterUnix: refundAfter,
	}
	invoice := schema.LNInvoiceBody{
		Bolt11:         "lnbc-fake",
		PaymentHashHex: escrow.PaymentHashHex(paymentHash),
		AmountMsat:     "50000000",
	}
	escrowBody := schema.SolEscrowCreatedBody{
		PaymentHashHex:  escrow.PaymentHashHex(paymentHash),
		ProgramID:       programID.String(),
		EscrowPDA:       pda.String(),
		VaultATA:        vaultATA.String(),
		Mint:            mint.String(),
		Amount:          "100000000",
		RefundAfterUnix: refundAfter,
		Recipient:       recipient.String(),
		Refund:          refund.String(),
		TxSig:           "sometxsig",
	}
	return terms, invoice, escrowBody, sim
}

// Seed 1 (pre-pay half): all six checks pass on a correctly funded escrow.
func TestVerify_AllChecksPass(t *testing.T) {
	now := int64(1_780_000_000)
	refundAfter := now + 3600
	terms, invoice, escrowBody, sim := setupFunded(t, 100_000_000, refundAfter)

	res, err := Verify(context.Background(), sim, terms, invoice, escrowBody, 600, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.EscrowPDA.String() != escrowBody.EscrowPDA {
		t.Fatalf("result PDA %s != expected %s", res.EscrowPDA, escrowBody.EscrowPDA)
	}
}

// Seed 2: escrow under-funded.
func TestVerify_EscrowUnderfunded(t *testing.T) {
	now := int64(1_780_000_000)
	refundAfter := now + 3600
	terms, invoice, escrowBody, sim := setupFunded(t, 90_000_000, refundAfter)
	escrowBody.Amount = "90000000" // what was actually funded, not terms' 100000000

	_, err := Verify(context.Background(), sim, terms, invoice, escrowBody, 600, now)
	if err == nil {
		t.Fatal("expected EscrowAmountMismatch")
	}
	if !errors.Is(err, ErrEscrowAmountMismatch) {
		t.Fatalf("got %v, want ErrEscrowAmountMismatch", err)
	}
}

func TestVerify_TimeTooTight(t *testing.T) {
	now := int64(1_780_000_000)
	refundAfter := now + 300 // less than the 600s safety margin below
	terms, invoice, escrowBody, sim := setupFunded(t, 100_000_000, refundAfter)

	_, err := Verify(context.Background(), sim, terms, invoice, escrowBody, 600, now)
	if !errors.Is(err, ErrEscrowTimeTooTight) {
		t.Fatalf("got %v, want ErrEscrowTimeTooTight", err)
	}
}

func TestVerify_InvoiceAmountMismatch(t *testing.T) {
	now := int64(1_780_000_000)
	refundAfter := now + 3600
	terms, invoice, escrowBody, sim := setupFunded(t, 100_000_000, refundAfter)
	invoice.AmountMsat = "1" // doesn't match btc_sats * 1000

	_, err := Verify(context.Background(), sim, terms, invoice, escrowBody, 600, now)
	if !errors.Is(err, ErrInvoiceAmountMismatch) {
		t.Fatalf("got %v, want ErrInvoiceAmountMismatch", err)
	}
}

func TestVerify_PayHashMismatch(t *testing.T) {
	now := int64(1_780_000_000)
	refundAfter := now + 3600
	terms, invoice, escrowBody, sim := setupFunded(t, 100_000_000, refundAfter)
	invoice.PaymentHashHex = "0000000000000000000000000000000000000000000000000000000000000000"[:64]

	_, err := Verify(context.Background(), sim, terms, invoice, escrowBody, 600, now)
	if !errors.Is(err, ErrPayHashMismatch) {
		t.Fatalf("got %v, want ErrPayHashMismatch", err)
	}
}
