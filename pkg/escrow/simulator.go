package escrow

import (
	"context"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/interswap/swapd/pkg/util"
)

// vaultEntry is the simulator's view of a token account: balance plus which
// mint it holds, mirroring the shape of a real SPL token account closely
// enough for the pre-pay verifier's checks.
type vaultEntry struct {
	owner   solana.PublicKey
	mint    solana.PublicKey
	balance uint64
}

// Simulator is an in-process stand-in for the on-chain escrow program,
// since no real validator is reachable from this environment. It implements
// the same Create/Claim/Refund semantics as spec §4.6 over an in-memory
// ledger, and satisfies prepay.ChainRPC so the pre-pay verifier can be
// exercised against it in tests exactly as it would be against a live RPC
// handle.
type Simulator struct {
	mu        sync.Mutex
	programID solana.PublicKey
	accounts  map[solana.PublicKey]Account
	vaults    map[solana.PublicKey]vaultEntry
	balances  map[solana.PublicKey]map[solana.PublicKey]uint64 // owner -> mint -> balance
	clock     util.Clock
}

// NewSimulator constructs a simulator for a single escrow program id.
func NewSimulator(programID solana.PublicKey, clock util.Clock) *Simulator {
	return &Simulator{
		programID: programID,
		accounts:  make(map[solana.PublicKey]Account),
		vaults:    make(map[solana.PublicKey]vaultEntry),
		balances:  make(map[solana.PublicKey]map[solana.PublicKey]uint64),
		clock:     clock,
	}
}

// Fund credits owner's simulated token balance, standing in for a prior
// deposit/mint so Create has something to move into the vault.
func (s *Simulator) Fund(owner, mint solana.PublicKey, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditLocked(owner, mint, amount)
}

func (s *Simulator) creditLocked(owner, mint solana.PublicKey, amount uint64) {
	if s.balances[owner] == nil {
		s.balances[owner] = make(map[solana.PublicKey]uint64)
	}
	s.balances[owner][mint] += amount
}

func (s *Simulator) debitLocked(owner, mint solana.PublicKey, amount uint64) error {
	have := s.balances[owner][mint]
	if have < amount {
		return fmt.Errorf("escrow: simulator: owner %s has %d of mint %s, need %d", owner, have, mint, amount)
	}
	s.balances[owner][mint] = have - amount
	return nil
}

// Create funds a new escrow: the payer's balance of mint is moved into the
// vault, and the escrow state account is allocated at its PDA with
// status=FUNDED. Fails if the PDA already exists (spec §4.6: "no
// re-funding").
func (s *Simulator) Create(payer solana.PublicKey, amount uint64, paymentHash [32]byte, mint, recipient, refund solana.PublicKey, refundAfterUnix int64) (pda solana.PublicKey, err error) {
	pda, _, err = DerivePDA(s.programID, paymentHash)
	if err != nil {
		return solana.PublicKey{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[pda]; exists {
		return solana.PublicKey{}, ErrAlreadyExists
	}
	if err := s.debitLocked(payer, mint, amount); err != nil {
		return solana.PublicKey{}, err
	}

	vaultATA := vaultATAFor(pda)
	s.vaults[vaultATA] = vaultEntry{owner: pda, mint: mint, balance: amount}
	s.accounts[pda] = Account{
		Status:          StatusFunded,
		Amount:          amount,
		Mint:            mint,
		Recipient:       recipient,
		Refund:          refund,
		PaymentHash:     paymentHash,
		RefundAfterUnix: refundAfterUnix,
	}
	return pda, nil
}

// vaultATAFor derives a stable, deterministic pseudo-ATA address for the
// simulator. A real deployment uses the SPL associated-token-account
// program; the simulator only needs a 1:1 mapping from PDA to vault so
// tests can address it.
func vaultATAFor(pda solana.PublicKey) solana.PublicKey {
	seedPDA, _, _ := solana.FindProgramAddress([][]byte{[]byte("vault"), pda.Bytes()}, pda)
	return seedPDA
}

// VaultATA exposes the deterministic vault address for a given escrow PDA
// so callers (tests, pre-pay verifier fixtures) can address it without
// reaching into the simulator's internals.
func VaultATA(pda solana.PublicKey) solana.PublicKey {
	return vaultATAFor(pda)
}

// Claim succeeds iff hash(preimage) == payment_hash and the escrow is
// FUNDED; it moves the vault balance to recipient and reveals the preimage
// (spec §4.6).
func (s *Simulator) Claim(pda solana.PublicKey, preimage []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[pda]
	if !ok {
		return ErrNotFound
	}
	if acc.Status != StatusFunded {
		return ErrNotFunded
	}
	if HashPreimage(preimage) != acc.PaymentHash {
		return ErrBadPreimage
	}

	vaultATA := vaultATAFor(pda)
	vault := s.vaults[vaultATA]
	s.creditLocked(acc.Recipient, acc.Mint, vault.balance)
	vault.balance = 0
	s.vaults[vaultATA] = vault

	acc.Status = StatusClaimed
	acc.Amount = 0
	s.accounts[pda] = acc
	return nil
}

// Refund succeeds iff status==FUNDED and now >= refund_after_unix; it
// moves the vault balance back to the refund token account. Per the
// Open Question decision in SPEC_FULL.md, refund is permissionless: this
// method takes no caller/authority argument.
func (s *Simulator) Refund(pda solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[pda]
	if !ok {
		return ErrNotFound
	}
	if acc.Status != StatusFunded {
		return ErrNotFunded
	}
	if s.clock.Now().Unix() < acc.RefundAfterUnix {
		return ErrRefundTooEarly
	}

	vaultATA := vaultATAFor(pda)
	vault := s.vaults[vaultATA]
	s.creditLocked(acc.Refund, acc.Mint, vault.balance)
	vault.balance = 0
	s.vaults[vaultATA] = vault

	acc.Status = StatusRefunded
	acc.Amount = 0
	s.accounts[pda] = acc
	return nil
}

// Balance returns owner's simulated balance of mint, for test assertions.
func (s *Simulator) Balance(owner, mint solana.PublicKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[owner][mint]
}

// --- prepay.ChainRPC implementation ---

// GetAccount returns the owner and raw encoded data of the account at
// pubkey, as a live Solana RPC's get_account would (spec §6).
func (s *Simulator) GetAccount(ctx context.Context, pubkey solana.PublicKey) (owner solana.PublicKey, data []byte, err error) {
	s.mu.Lock()
	acc, ok := s.accounts[pubkey]
	s.mu.Unlock()
	if !ok {
		return solana.PublicKey{}, nil, ErrNotFound
	}
	data, err = acc.Encode()
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	return s.programID, data, nil
}

// GetTokenAccount returns the balance and mint of a token account (spec
// §6's get_token_account).
func (s *Simulator) GetTokenAccount(ctx context.Context, ata solana.PublicKey) (amount uint64, mint solana.PublicKey, err error) {
	s.mu.Lock()
	v, ok := s.vaults[ata]
	s.mu.Unlock()
	if !ok {
		return 0, solana.PublicKey{}, ErrNotFound
	}
	return v.balance, v.mint, nil
}

// ProgramID returns the simulator's escrow program id.
func (s *Simulator) ProgramID() solana.PublicKey {
	return s.programID
}
