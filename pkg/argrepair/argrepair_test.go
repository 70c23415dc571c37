package argrepair

import "testing"

// Seed 8, literal cases from spec §8.
func TestCoerceUSDT_Decimal(t *testing.T) {
	got := CoerceUSDT("0.12", Options{})
	if got != "120000" {
		t.Fatalf("CoerceUSDT(0.12) = %q, want 120000", got)
	}
}

func TestCoerceLamports_Decimal(t *testing.T) {
	got := CoerceLamports("0.01", Options{})
	if got != "10000000" {
		t.Fatalf("CoerceLamports(0.01) = %q, want 10000000", got)
	}
}

func TestCoerceUSDT_IntegerPassesThrough(t *testing.T) {
	got := CoerceUSDT("120000", Options{})
	if got != "120000" {
		t.Fatalf("CoerceUSDT(120000) = %q, want 120000", got)
	}
}

func TestCoerceUSDT_UnparseableUnchanged(t *testing.T) {
	got := CoerceUSDT("not-a-number", Options{})
	if got != "not-a-number" {
		t.Fatalf("CoerceUSDT(not-a-number) = %q, want unchanged", got)
	}
}

func TestCoerceAtomic_TooManyFracDigitsUnchanged(t *testing.T) {
	got := CoerceAtomic("0.1234567", USDTDecimals, Options{})
	if got != "0.1234567" {
		t.Fatalf("CoerceAtomic with 7 frac digits over 6 decimals = %q, want unchanged", got)
	}
}

func TestCoerceAtomic_NegativeUnchanged(t *testing.T) {
	got := CoerceAtomic("-0.5", USDTDecimals, Options{})
	if got != "-0.5" {
		t.Fatalf("CoerceAtomic(-0.5) = %q, want unchanged", got)
	}
}

func TestCoerceAtomic_UnderscoreAndCommaStripped(t *testing.T) {
	got := CoerceAtomic("1_000,000", USDTDecimals, Options{})
	if got != "1000000" {
		t.Fatalf("CoerceAtomic(1_000,000) = %q, want 1000000", got)
	}
}

func TestCoerceAtomic_UnitSuffixStrippedWhenEnabled(t *testing.T) {
	got := CoerceAtomic("0.12 usdt", USDTDecimals, Options{StripUnitSuffix: true})
	if got != "120000" {
		t.Fatalf("CoerceAtomic(0.12 usdt, strip=true) = %q, want 120000", got)
	}
}

func TestCoerceAtomic_UnitSuffixRejectedWhenDisabled(t *testing.T) {
	got := CoerceAtomic("0.12 usdt", USDTDecimals, Options{StripUnitSuffix: false})
	if got != "0.12 usdt" {
		t.Fatalf("CoerceAtomic(0.12 usdt, strip=false) = %q, want unchanged", got)
	}
}

func TestCoerceAtomic_WholeNumberDecimalNotation(t *testing.T) {
	got := CoerceAtomic("2.0", USDTDecimals, Options{})
	if got != "2000000" {
		t.Fatalf("CoerceAtomic(2.0) = %q, want 2000000", got)
	}
}

func TestFlattenOffer_MovesTopLevelFields(t *testing.T) {
	body := map[string]any{
		"pair":      "BTC/USDT",
		"direction": "BTC_TO_USDT",
		"btc_sats":  int64(50000),
	}
	out := FlattenOffer(body, RFQOfferFields)

	if _, stillTop := out["pair"]; stillTop {
		t.Fatal("pair should have been moved off the top level")
	}
	offers, ok := out["offers"].([]any)
	if !ok || len(offers) != 1 {
		t.Fatalf("expected a single-element offers[], got %#v", out["offers"])
	}
	first, ok := offers[0].(map[string]any)
	if !ok {
		t.Fatalf("offers[0] is not a map: %#v", offers[0])
	}
	if first["pair"] != "BTC/USDT" || first["direction"] != "BTC_TO_USDT" {
		t.Fatalf("offers[0] missing flattened fields: %#v", first)
	}
}

func TestFlattenOffer_DoesNotOverwriteExistingOfferField(t *testing.T) {
	body := map[string]any{
		"pair": "BTC/USDT",
		"offers": []any{
			map[string]any{"pair": "ETH/USDT"},
		},
	}
	out := FlattenOffer(body, RFQOfferFields)

	offers := out["offers"].([]any)
	first := offers[0].(map[string]any)
	if first["pair"] != "ETH/USDT" {
		t.Fatalf("existing offers[0].pair was overwritten: got %v", first["pair"])
	}
}

func TestFlattenOffer_NoOfferFieldsPresentLeavesBodyAlone(t *testing.T) {
	body := map[string]any{"unrelated": "value"}
	out := FlattenOffer(body, RFQOfferFields)
	if _, has := out["offers"]; has {
		t.Fatal("FlattenOffer should not synthesize offers[] when no offer fields are present")
	}
	if out["unrelated"] != "value" {
		t.Fatal("FlattenOffer mutated an unrelated field")
	}
}
