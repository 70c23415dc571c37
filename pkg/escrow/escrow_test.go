package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

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

// Seed 1 (escrow half): happy path to CLAIMED, client balance credited.
func TestSimulator_CreateThenClaim(t *testing.T) {
	programID := mustPubkey(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	mint := mustPubkey(t, "Es9vMFrzaCERz7ztaeM4XS7KhBSBfjUxXH6FXkyVzr4J")
	payer := mustPubkey(t, "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	recipient := mustPubkey(t, "So11111111111111111111111111111111111111112")
	refund := payer

	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	sim := NewSimulator(programID, clock)
	sim.Fund(payer, mint, 100_000_000)

	preimage := []byte("the-lightning-preimage-32-bytes!")
	if len(preimage) != 32 {
		t.Fatalf("test preimage must be 32 bytes, got %d", len(preimage))
	}
	paymentHash := HashPreimage(preimage)

	pda, err := sim.Create(payer, 100_000_000, paymentHash, mint, recipient, refund, 1_780_003_600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := sim.Create(payer, 100_000_000, paymentHash, mint, recipient, refund, 1_780_003_600); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists on re-create, got %v", err)
	}

	if err := sim.Claim(pda, preimage); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if got := sim.Balance(recipient, mint); got != 100_000_000 {
		t.Fatalf("recipient balance = %d, want 100000000", got)
	}

	_, data, err := sim.GetAccount(context.Background(), pda)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	acct, err := DecodeAccount(data)
	if err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acct.Status != StatusClaimed || acct.Amount != 0 {
		t.Fatalf("acct after claim = %+v, want Status=CLAIMED Amount=0", acct)
	}
}

// Seed 5: wrong preimage claim is rejected, vault balance unchanged.
func TestSimulator_ClaimWrongPreimage(t *testing.T) {
	programID := mustPubkey(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	mint := mustPubkey(t, "Es9vMFrzaCERz7ztaeM4XS7KhBSBfjUxXH6FXkyVzr4J")
	payer := mustPubkey(t, "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	recipient := mustPubkey(t, "So11111111111111111111111111111111111111112")

	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	sim := NewSimulator(programID, clock)
	sim.Fund(payer, mint, 50_000_000)

	preimage := []byte("the-correct-preimage-32-bytes!!!")
	wrongPreimage := []byte("a-totally-different-preimage!!!!")
	paymentHash := HashPreimage(preimage)

	pda, err := sim.Create(payer, 50_000_000, paymentHash, mint, recipient, payer, 1_780_003_600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sim.Claim(pda, wrongPreimage); err != ErrBadPreimage {
		t.Fatalf("expected ErrBadPreimage, got %v", err)
	}
	if got := sim.Balance(recipient, mint); got != 0 {
		t.Fatalf("recipient balance = %d after rejected claim, want 0", got)
	}
}

// Seed 6: refund after timeout.
func TestSimulator_RefundAfterTimeout(t *testing.T) {
	programID := mustPubkey(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	mint := mustPubkey(t, "Es9vMFrzaCERz7ztaeM4XS7KhBSBfjUxXH6FXkyVzr4J")
	payer := mustPubkey(t, "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	recipient := mustPubkey(t, "So11111111111111111111111111111111111111112")

	start := time.Unix(1_780_000_000, 0)
	clock := util.NewFakeClock(start)
	sim := NewSimulator(programID, clock)
	sim.Fund(payer, mint, 75_000_000)

	preimage := []byte("never-revealed-preimage-32-byte")
	paymentHash := HashPreimage(preimage)
	pda, err := sim.Create(payer, 75_000_000, paymentHash, mint, recipient, payer, 1_780_003_600)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := sim.Refund(pda); err != ErrRefundTooEarly {
		t.Fatalf("expected ErrRefundTooEarly, got %v", err)
	}

	clock.Advance(3601 * time.Second)
	if err := sim.Refund(pda); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := sim.Balance(payer, mint); got != 75_000_000 {
		t.Fatalf("payer balance after refund = %d, want 75000000", got)
	}

	if err := sim.Refund(pda); err != ErrNotFunded {
		t.Fatalf("expected ErrNotFunded on double refund, got %v", err)
	}
}

func TestDerivePDA_Deterministic(t *testing.T) {
	programID := mustPubkey(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	paymentHash := HashPreimage([]byte("some-fixed-preimage-32-bytes!!!!"))

	pda1, bump1, err := DerivePDA(programID, paymentHash)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	pda2, bump2, err := DerivePDA(programID, paymentHash)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if pda1 != pda2 || bump1 != bump2 {
		t.Fatalf("DerivePDA not deterministic: (%s,%d) != (%s,%d)", pda1, bump1, pda2, bump2)
	}
}
