// Package lnrpc defines the narrow Lightning RPC boundary from spec §6:
// invoice(amount_sat, label, desc) and pay(bolt11). Hodl invoices are
// explicitly forbidden by the spec, so this boundary never exposes a
// hold/accept step — only the two calls a swap coordinator needs.
//
// Grounded on backend-engineer1-land (a trimmed copy of
// github.com/lightningnetwork/lnd)'s zpay32/invoice.go for the bolt11 shape;
// no teacher analogue exists since the teacher has no Lightning code.
package lnrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
)

var ErrHodlInvoiceForbidden = errors.New("lnrpc: hodl invoices are forbidden")

// InvoiceResult is the response to a call to Invoice (spec §6).
type InvoiceResult struct {
	Bolt11         string
	PaymentHashHex string
}

// PayResult is the response to a successful Pay (spec §6).
type PayResult struct {
	PaymentPreimageHex string
}

// Client is the narrow Lightning RPC surface the core consumes. A real
// implementation wraps lnd's grpc client; tests use an in-memory fake.
type Client interface {
	Invoice(ctx context.Context, amountSat int64, label, desc string) (InvoiceResult, error)
	Pay(ctx context.Context, bolt11 string) (PayResult, error)
}

// DecodeBolt11 parses a bolt11 invoice string using the same decoder a
// real Lightning node uses, for the pre-pay verifier's cross-check (spec
// §4.5) and for CLI inspection tooling.
func DecodeBolt11(bolt11 string, params *chaincfg.Params) (*zpay32.Invoice, error) {
	inv, err := zpay32.Decode(bolt11, params)
	if err != nil {
		return nil, fmt.Errorf("lnrpc: decode bolt11: %w", err)
	}
	return inv, nil
}
