// Package escrow implements the on-chain escrow program semantics from spec
// §4.6: Create/Claim/Refund instructions over a PDA-addressed account,
// encoded the way a real Solana program would lay out its state (a fixed
// Borsh-style struct), plus an in-process simulator since no real validator
// is reachable in this environment.
//
// Grounded on internal/services/address/solana.go (Jason-chen-taiwan-arcSignv2)
// for PublicKey/base58 handling idiom, and pkg/storage/pebble_store.go's
// account-ledger mutation style for the simulator's balance bookkeeping.
package escrow

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Status is the lifecycle state of an escrow account (spec §4.6).
type Status uint8

const (
	StatusFunded Status = iota
	StatusClaimed
	StatusRefunded
)

// EscrowSeed is the fixed seed prefix used in PDA derivation: pda =
// derive(program_id, [b"escrow", payment_hash]) (spec §4.6).
var EscrowSeed = []byte("escrow")

var (
	ErrAlreadyExists    = errors.New("escrow: AlreadyExists")
	ErrNotFound         = errors.New("escrow: NotFound")
	ErrWrongOwner       = errors.New("escrow: WrongOwner")
	ErrNotFunded        = errors.New("escrow: NotFunded")
	ErrBadPreimage      = errors.New("escrow: BadPreimage")
	ErrRefundTooEarly   = errors.New("escrow: RefundTooEarly")
	ErrInsufficientVault = errors.New("escrow: InsufficientVault")
)

// Account is the on-chain escrow state account laid out exactly as the
// program would serialize it (Borsh, fixed field order — see spec §4.6).
type Account struct {
	Status          Status
	Amount          uint64
	Mint            solana.PublicKey
	Recipient       solana.PublicKey
	Refund          solana.PublicKey
	PaymentHash     [32]byte
	RefundAfterUnix int64
}

// Encode serializes the account the way the on-chain program would persist
// it, for use as AccountInfo.Data.
func (a Account) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := binary.NewBorshEncoder(&buf)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("escrow: encode account: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeAccount parses raw on-chain account data into an Account.
func DecodeAccount(data []byte) (Account, error) {
	var a Account
	dec := binary.NewBorshDecoder(data)
	if err := dec.Decode(&a); err != nil {
		return Account{}, fmt.Errorf("escrow: decode account: %w", err)
	}
	return a, nil
}

// DerivePDA computes pda = derive(program_id, [b"escrow", payment_hash]),
// the deterministic address spec §4.6 requires a pre-pay verifier to
// re-derive independently before trusting any escrow it observes.
func DerivePDA(programID solana.PublicKey, paymentHash [32]byte) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{EscrowSeed, paymentHash[:]}, programID)
}

// HashPreimage returns sha256(preimage), the payment_hash check the Claim
// instruction performs on-chain (spec §4.6: "succeeds iff hash(preimage) ==
// payment_hash").
func HashPreimage(preimage []byte) [32]byte {
	return sha256.Sum256(preimage)
}

// PaymentHashHex renders a 32-byte payment hash as the lowercase hex used
// on the wire (spec §4.3's hex32 fields).
func PaymentHashHex(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// ParsePaymentHashHex parses a lowercase hex32 string into a 32-byte array.
func ParsePaymentHashHex(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("escrow: payment_hash_hex must be 32-byte hex: %q", s)
	}
	copy(out[:], raw)
	return out, nil
}
