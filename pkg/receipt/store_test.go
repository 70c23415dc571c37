package receipt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/interswap/swapd/pkg/codec"
	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/swapcrypto"
	"github.com/interswap/swapd/pkg/trade"
	"github.com/interswap/swapd/pkg/util"
)

func mustSigner(t *testing.T, seedByte byte) *swapcrypto.Signer {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = seedByte
	}
	s, err := swapcrypto.SignerFromSeed(seed)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return s
}

func signCancel(t *testing.T, signer *swapcrypto.Signer, tradeID, reason string) envelope.Signed {
	t.Helper()
	unsigned := codec.UnsignedEnvelope{
		V: 1, Kind: string(envelope.KindCancel), TradeID: tradeID,
		Body: map[string]any{"reason": reason},
	}
	e, err := envelope.Sign(unsigned, envelope.KindCancel, signer)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return e
}

func openTestStore(t *testing.T, clock util.Clock) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenWithClock(filepath.Join(dir, "receipts"), clock)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendThenLoadAll_PreservesOrder(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	s := openTestStore(t, clock)
	signer := mustSigner(t, 1)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := signCancel(t, signer, "trade-A", "reason")
		if err := s.Append(ctx, "trade-A", e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	recs, err := s.LoadAll("trade-A")
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d receipts, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].RecordedUnix <= recs[i-1].RecordedUnix {
			t.Fatalf("receipts not in increasing time order at index %d", i)
		}
	}
}

func TestStore_LoadAll_SeparatesTrades(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	s := openTestStore(t, clock)
	signer := mustSigner(t, 2)
	ctx := context.Background()

	if err := s.Append(ctx, "trade-A", signCancel(t, signer, "trade-A", "r1")); err != nil {
		t.Fatalf("append A: %v", err)
	}
	if err := s.Append(ctx, "trade-B", signCancel(t, signer, "trade-B", "r2")); err != nil {
		t.Fatalf("append B: %v", err)
	}

	a, err := s.LoadAll("trade-A")
	if err != nil || len(a) != 1 {
		t.Fatalf("trade-A receipts = %v, %v", a, err)
	}
	b, err := s.LoadAll("trade-B")
	if err != nil || len(b) != 1 {
		t.Fatalf("trade-B receipts = %v, %v", b, err)
	}
}

func TestStore_TradeIDs(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	s := openTestStore(t, clock)
	signer := mustSigner(t, 3)
	ctx := context.Background()

	_ = s.Append(ctx, "trade-X", signCancel(t, signer, "trade-X", "r"))
	_ = s.Append(ctx, "trade-Y", signCancel(t, signer, "trade-Y", "r"))

	ids, err := s.TradeIDs()
	if err != nil {
		t.Fatalf("trade ids: %v", err)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["trade-X"] || !seen["trade-Y"] {
		t.Fatalf("trade ids %v missing trade-X/trade-Y", ids)
	}
}

func TestStore_Rebuild_ReconstructsTradeState(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	s := openTestStore(t, clock)
	signer := mustSigner(t, 4)
	ctx := context.Background()

	e := signCancel(t, signer, "trade-Z", "customer requested cancellation")
	if err := s.Append(ctx, "trade-Z", e); err != nil {
		t.Fatalf("append: %v", err)
	}

	rebuilt, err := s.Rebuild("trade-Z")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.State != trade.StateCancelled {
		t.Fatalf("rebuilt state = %s, want CANCELLED", rebuilt.State)
	}
}

func TestStore_Rebuild_UnknownTradeIsEmptyInitial(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	s := openTestStore(t, clock)

	rebuilt, err := s.Rebuild("never-seen")
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.State != trade.StateInit {
		t.Fatalf("rebuilt state = %s, want INIT", rebuilt.State)
	}
}
