// Package chainrpc is the real Solana RPC-backed implementation of
// pkg/prepay.ChainRPC. pkg/escrow.Simulator plays that role in tests and is
// cmd/swapd's default; cmd/swapd wires this client in for pre-pay reads
// when a chain RPC endpoint is configured. It reads the same account shapes
// escrow.Account and the SPL token account layout define.
//
// Grounded on the gagliardetto/solana-go/rpc client's standard
// GetAccountInfo call (no pack example exercises this dependency directly;
// escrow.Account's Borsh layout and the fixed SPL token account field
// offsets used below come from pkg/escrow/program.go and the public SPL
// token program account spec).
package chainrpc

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// splTokenAccountLen is the fixed on-wire size of an SPL token account:
// mint(32) + owner(32) + amount(8) + delegate_option(4) + delegate(32) +
// state(1) + is_native_option(4) + is_native(8) + delegate_amount(8) +
// close_authority_option(4) + close_authority(32).
const splTokenAccountLen = 165

// Client implements pkg/prepay.ChainRPC against a live Solana RPC endpoint.
type Client struct {
	rpc *rpc.Client
}

// New wraps an RPC endpoint URL (e.g. a devnet or mainnet cluster address).
func New(endpoint string) *Client {
	return &Client{rpc: rpc.New(endpoint)}
}

// GetAccount fetches pubkey's owner program and raw account data.
func (c *Client) GetAccount(ctx context.Context, pubkey solana.PublicKey) (solana.PublicKey, []byte, error) {
	out, err := c.rpc.GetAccountInfo(ctx, pubkey)
	if err != nil {
		return solana.PublicKey{}, nil, fmt.Errorf("chainrpc: get_account_info %s: %w", pubkey, err)
	}
	if out == nil || out.Value == nil {
		return solana.PublicKey{}, nil, fmt.Errorf("chainrpc: account %s not found", pubkey)
	}
	data := out.Value.Data.GetBinary()
	return out.Value.Owner, data, nil
}

// GetTokenAccount fetches an SPL token account's balance and mint by
// decoding the fixed-layout account data directly, rather than relying on
// the jsonParsed account encoding (whose shape varies by RPC provider).
func (c *Client) GetTokenAccount(ctx context.Context, ata solana.PublicKey) (uint64, solana.PublicKey, error) {
	out, err := c.rpc.GetAccountInfo(ctx, ata)
	if err != nil {
		return 0, solana.PublicKey{}, fmt.Errorf("chainrpc: get_token_account %s: %w", ata, err)
	}
	if out == nil || out.Value == nil {
		return 0, solana.PublicKey{}, fmt.Errorf("chainrpc: token account %s not found", ata)
	}
	data := out.Value.Data.GetBinary()
	if len(data) < splTokenAccountLen {
		return 0, solana.PublicKey{}, fmt.Errorf("chainrpc: token account %s data too short: %d bytes", ata, len(data))
	}
	mint := solana.PublicKeyFromBytes(data[0:32])
	amount := binary.LittleEndian.Uint64(data[64:72])
	return amount, mint, nil
}
