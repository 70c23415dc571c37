package lnrpc

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// FakeClient is an in-memory Lightning RPC double used by tests and by
// cmd/swapd when no real lnd backend is configured for local development.
// It never creates hodl invoices: Invoice always returns a regular invoice
// whose preimage it already knows, matching spec §6's explicit prohibition.
type FakeClient struct {
	mu        sync.Mutex
	preimages map[string][]byte // payment_hash_hex -> preimage
	paid      map[string]bool   // bolt11 -> paid
}

// NewFakeClient constructs an empty fake Lightning node.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		preimages: make(map[string][]byte),
		paid:      make(map[string]bool),
	}
}

// Invoice generates a random preimage and a synthetic bolt11 string (not a
// real BOLT11 encoding, just a unique label) carrying amountSat.
func (f *FakeClient) Invoice(ctx context.Context, amountSat int64, label, desc string) (InvoiceResult, error) {
	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return InvoiceResult{}, fmt.Errorf("lnrpc: fake: generate preimage: %w", err)
	}
	hash := sha256.Sum256(preimage)
	hashHex := hex.EncodeToString(hash[:])

	f.mu.Lock()
	f.preimages[hashHex] = preimage
	f.mu.Unlock()

	bolt11 := fmt.Sprintf("lnfake1%s_%d_%s", hashHex[:16], amountSat, label)
	return InvoiceResult{Bolt11: bolt11, PaymentHashHex: hashHex}, nil
}

// Pay looks up the preimage for bolt11's embedded payment hash and reveals
// it, as a successful real payment would.
func (f *FakeClient) Pay(ctx context.Context, bolt11 string) (PayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paid[bolt11] {
		return PayResult{}, fmt.Errorf("lnrpc: fake: bolt11 %q already paid", bolt11)
	}

	hashHex, err := parseFakeHashPrefix(bolt11)
	if err != nil {
		return PayResult{}, err
	}
	for full, preimage := range f.preimages {
		if len(full) >= len(hashHex) && full[:len(hashHex)] == hashHex {
			f.paid[bolt11] = true
			return PayResult{PaymentPreimageHex: hex.EncodeToString(preimage)}, nil
		}
	}
	return PayResult{}, fmt.Errorf("lnrpc: fake: no known invoice matches bolt11 %q", bolt11)
}

func parseFakeHashPrefix(bolt11 string) (string, error) {
	const prefix = "lnfake1"
	if len(bolt11) < len(prefix)+16 {
		return "", fmt.Errorf("lnrpc: fake: malformed fake bolt11 %q", bolt11)
	}
	return bolt11[len(prefix) : len(prefix)+16], nil
}
