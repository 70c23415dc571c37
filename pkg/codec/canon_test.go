package codec

import "testing"

func TestMarshal_KeyOrder(t *testing.T) {
	m := map[string]any{"b": int64(1), "a": "x", "c": nil}
	got, err := Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":"x","b":1,"c":null}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshal_RejectsFloat(t *testing.T) {
	if _, err := Marshal(map[string]any{"x": 1.5}); err == nil {
		t.Fatal("expected error for float value")
	}
}

func TestHash_Deterministic(t *testing.T) {
	e := UnsignedEnvelope{
		V: 1, Kind: "RFQ", TradeID: "t1",
		Body: map[string]any{
			"pair":             "BTC_LN/USDT_SOL",
			"direction":        "BTC_LN->USDT_SOL",
			"btc_sats":         int64(50000),
			"usdt_amount":      "100000000",
			"valid_until_unix": int64(1000),
		},
	}
	h1, err := Hash(e)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Hash(e)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 32-byte hex hash, got %d chars", len(h1))
	}

	// Field-order independence: same logical map built in another order.
	e2 := e
	e2.Body = map[string]any{
		"valid_until_unix": int64(1000),
		"usdt_amount":      "100000000",
		"direction":        "BTC_LN->USDT_SOL",
		"btc_sats":         int64(50000),
		"pair":             "BTC_LN/USDT_SOL",
	}
	h3, err := Hash(e2)
	if err != nil {
		t.Fatal(err)
	}
	if h3 != h1 {
		t.Fatalf("hash depends on map iteration order: %s != %s", h3, h1)
	}
}

func TestHash_MutationChangesHash(t *testing.T) {
	base := UnsignedEnvelope{V: 1, Kind: "ACCEPT", TradeID: "t1", Body: map[string]any{"terms_hash": "a"}}
	h1, _ := Hash(base)
	mutated := base
	mutated.Body = map[string]any{"terms_hash": "b"}
	h2, _ := Hash(mutated)
	if h1 == h2 {
		t.Fatal("expected hash to change when body mutates")
	}
}
