// Package settlement wires trade state transitions (spec §4.4) to the
// side-effecting subsystems spec §4.5/§4.6 describe but never call on their
// own: prepay verification, the Lightning RPC, and the Solana escrow
// program. pkg/trade.Apply stays a pure function; Driver is the impure
// orchestration layer a running peer registers via
// trade.Manager.SetOnApply so a state transition actually does something
// instead of only being recorded.
//
// Grounded on pkg/app/core/account/manager.go's validate-then-mutate
// methods, generalized the same way pkg/trade itself was: one dispatch
// entry point (OnApply) keyed on state, each branch building and signing
// the next envelope and feeding it straight back through the same
// manager.Submit path a counterparty's envelope would take.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/interswap/swapd/pkg/codec"
	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/escrow"
	"github.com/interswap/swapd/pkg/lnrpc"
	"github.com/interswap/swapd/pkg/prepay"
	"github.com/interswap/swapd/pkg/swapcrypto"
	"github.com/interswap/swapd/pkg/trade"
	"github.com/interswap/swapd/pkg/util"
)

// Role names which side of a swap this peer plays, per spec.md's
// service/client split: the service holds USDT, issues the Lightning
// invoice and funds the escrow; the client holds BTC, pays the invoice
// and then claims the escrow with the preimage that payment reveals.
type Role string

const (
	RoleService Role = "service"
	RoleClient  Role = "client"
)

// EscrowProgram is the on-chain write surface a Driver needs (spec §4.6):
// create, claim, refund. Satisfied by *escrow.Simulator, the only
// implementation in this module that can submit writes — no real
// validator is reachable in this environment (pkg/escrow's own package
// doc), so this is the honest production surface rather than a test
// double standing in for one.
type EscrowProgram interface {
	Create(payer solana.PublicKey, amount uint64, paymentHash [32]byte, mint, recipient, refund solana.PublicKey, refundAfterUnix int64) (solana.PublicKey, error)
	Claim(pda solana.PublicKey, preimage []byte) error
	Refund(pda solana.PublicKey) error
}

// Funder is implemented by escrow programs that can pre-fund a payer's
// simulated balance (only *escrow.Simulator, since nothing in this module
// models a real minting or transfer path). Checked with a type assertion
// at the one call site that needs it.
type Funder interface {
	Fund(owner, mint solana.PublicKey, amount uint64)
}

// Publisher fans a locally-applied envelope out to the trade's
// counterparty. cmd/swapd's sidechannel-backed implementation is the only
// one in this module; tests can supply a stub.
type Publisher interface {
	Publish(ctx context.Context, tradeID string, env envelope.Signed) error
}

// Config parameterizes a Driver.
type Config struct {
	Role            Role
	ProgramID       solana.PublicKey
	VaultATA        solana.PublicKey
	SafetyMarginSec int64
}

// Driver is the impure state-transition handler registered with a
// trade.Manager via SetOnApply.
type Driver struct {
	cfg    Config
	signer *swapcrypto.Signer
	manager *trade.Manager
	ln     lnrpc.Client
	chain  prepay.ChainRPC
	escrow EscrowProgram
	pub    Publisher
	clock  util.Clock
	log    *zap.SugaredLogger
}

// New constructs a Driver. chain and escrow are commonly the same
// *escrow.Simulator value (it satisfies both prepay.ChainRPC for reads and
// EscrowProgram for writes); chain may instead be a *chainrpc.Client
// pointed at a live Solana RPC endpoint, in which case escrow write calls
// remain simulated since no real transaction-submission path exists here.
func New(cfg Config, signer *swapcrypto.Signer, manager *trade.Manager, ln lnrpc.Client, chain prepay.ChainRPC, prog EscrowProgram, pub Publisher, clock util.Clock, log *zap.SugaredLogger) *Driver {
	return &Driver{cfg: cfg, signer: signer, manager: manager, ln: ln, chain: chain, escrow: prog, pub: pub, clock: clock, log: log}
}

// OnApply dispatches on t.State, driving the one side effect this peer's
// Role is responsible for at that point in the transition table (spec
// §4.4's ordering: ACCEPTED -> LN_INVOICE -> INVOICE -> SOL_ESCROW_CREATED
// -> ESCROW -> LN_PAID -> SOL_CLAIMED -> CLAIMED). States this peer's Role
// has no responsibility for, or that have already moved past what OnApply
// would redo, are no-ops.
func (d *Driver) OnApply(t trade.Trade) {
	switch {
	case t.State == trade.StateAccepted && d.cfg.Role == RoleService:
		d.createInvoice(t)
	case t.State == trade.StateInvoice && d.cfg.Role == RoleService:
		d.createEscrow(t)
	case t.State == trade.StateEscrow && d.cfg.Role == RoleClient:
		d.verifyAndPay(t)
	case t.State == trade.StateLNPaid && d.cfg.Role == RoleClient:
		d.claimEscrow(t)
	}
}

func (d *Driver) createInvoice(t trade.Trade) {
	ctx := context.Background()
	inv, err := d.ln.Invoice(ctx, int64(t.Terms.BTCSats), t.TradeID, fmt.Sprintf("swap %s", t.TradeID))
	if err != nil {
		d.warn("ln_invoice_failed", t.TradeID, err)
		return
	}
	amountMsat := new(big.Int).Mul(big.NewInt(int64(t.Terms.BTCSats)), big.NewInt(1000))
	body := map[string]any{
		"bolt11":           inv.Bolt11,
		"payment_hash_hex": inv.PaymentHashHex,
		"amount_msat":      amountMsat.String(),
	}
	d.signSubmitPublish(ctx, t.TradeID, envelope.KindLNInvoice, body)
}

func (d *Driver) createEscrow(t trade.Trade) {
	ctx := context.Background()
	paymentHash, err := escrow.ParsePaymentHashHex(t.Invoice.PaymentHashHex)
	if err != nil {
		d.warn("escrow_bad_payment_hash", t.TradeID, err)
		return
	}
	mint, err := solana.PublicKeyFromBase58(t.Terms.SolMint)
	if err != nil {
		d.warn("escrow_bad_mint", t.TradeID, err)
		return
	}
	recipient, err := solana.PublicKeyFromBase58(t.Terms.SolRecipient)
	if err != nil {
		d.warn("escrow_bad_recipient", t.TradeID, err)
		return
	}
	refund, err := solana.PublicKeyFromBase58(t.Terms.SolRefund)
	if err != nil {
		d.warn("escrow_bad_refund", t.TradeID, err)
		return
	}
	amount, err := strconv.ParseUint(t.Terms.USDTAmount, 10, 64)
	if err != nil {
		d.warn("escrow_bad_amount", t.TradeID, err)
		return
	}
	payer := refund
	if funder, ok := d.escrow.(Funder); ok {
		funder.Fund(payer, mint, amount)
	}
	pda, err := d.escrow.Create(payer, amount, paymentHash, mint, recipient, refund, t.Terms.SolRefundAfterUnix)
	if err != nil {
		d.warn("escrow_create_failed", t.TradeID, err)
		return
	}
	body := map[string]any{
		"payment_hash_hex":  t.Invoice.PaymentHashHex,
		"program_id":        d.cfg.ProgramID.String(),
		"escrow_pda":        pda.String(),
		"vault_ata":         d.cfg.VaultATA.String(),
		"mint":              t.Terms.SolMint,
		"amount":            t.Terms.USDTAmount,
		"refund_after_unix": jsonInt(t.Terms.SolRefundAfterUnix),
		"recipient":         t.Terms.SolRecipient,
		"refund":            t.Terms.SolRefund,
		"tx_sig":            syntheticTxSig(pda[:], "create"),
	}
	d.signSubmitPublish(ctx, t.TradeID, envelope.KindSolEscrowCreated, body)
}

func (d *Driver) verifyAndPay(t trade.Trade) {
	ctx := context.Background()
	now := d.clock.Now().Unix()
	if _, err := prepay.Verify(ctx, d.chain, t.Terms, t.Invoice, t.Escrow, d.cfg.SafetyMarginSec, now); err != nil {
		d.warn("prepay_verify_failed", t.TradeID, err)
		d.manager.Restore(trade.MarkInconsistent(t, err.Error()))
		return
	}
	paid, err := d.ln.Pay(ctx, t.Invoice.Bolt11)
	if err != nil {
		d.warn("ln_pay_failed", t.TradeID, err)
		return
	}
	body := map[string]any{
		"payment_hash_hex": t.PaymentHash,
		"preimage_hex":     paid.PaymentPreimageHex,
	}
	d.signSubmitPublish(ctx, t.TradeID, envelope.KindLNPaid, body)
}

func (d *Driver) claimEscrow(t trade.Trade) {
	ctx := context.Background()
	if !t.HasPreimage {
		d.warn("claim_skipped_no_preimage", t.TradeID, fmt.Errorf("LN_PAID carried no preimage_hex"))
		return
	}
	preimage, err := hex.DecodeString(t.Preimage)
	if err != nil {
		d.warn("claim_bad_preimage", t.TradeID, err)
		return
	}
	pda, err := solana.PublicKeyFromBase58(t.Escrow.EscrowPDA)
	if err != nil {
		d.warn("claim_bad_pda", t.TradeID, err)
		return
	}
	if err := d.escrow.Claim(pda, preimage); err != nil {
		d.warn("escrow_claim_failed", t.TradeID, err)
		return
	}
	body := map[string]any{
		"payment_hash_hex": t.PaymentHash,
		"escrow_pda":       t.Escrow.EscrowPDA,
		"tx_sig":           syntheticTxSig(pda[:], "claim"),
	}
	d.signSubmitPublish(ctx, t.TradeID, envelope.KindSolClaimed, body)
}

// PollRefunds checks every trade id in ids and, for a RoleService peer
// whose escrow funded the trade, reclaims funds via Refund once
// refund_after_unix has passed without a claim (spec §4.4's REFUND
// observation transition, driven here rather than by any signed
// envelope since it is an out-of-band chain observation).
func (d *Driver) PollRefunds(ctx context.Context, ids []string) {
	if d.cfg.Role != RoleService {
		return
	}
	now := d.clock.Now().Unix()
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return
		default:
		}
		t, ok := d.manager.Snapshot(id)
		if !ok || t.State != trade.StateEscrow || !t.HasEscrow {
			continue
		}
		if now < t.Escrow.RefundAfterUnix {
			continue
		}
		pda, err := solana.PublicKeyFromBase58(t.Escrow.EscrowPDA)
		if err != nil {
			continue
		}
		if err := d.escrow.Refund(pda); err != nil {
			d.warn("escrow_refund_failed", id, err)
			continue
		}
		refunded, err := trade.ObserveRefund(t, now)
		if err != nil {
			d.warn("observe_refund_failed", id, err)
			continue
		}
		d.manager.Restore(refunded)
		if d.log != nil {
			d.log.Infow("trade_refunded", "trade_id", id)
		}
	}
}

func (d *Driver) signSubmitPublish(ctx context.Context, tradeID string, kind envelope.Kind, body map[string]any) {
	unsigned := codec.UnsignedEnvelope{V: 1, Kind: string(kind), TradeID: tradeID, Body: body}
	signed, err := envelope.Sign(unsigned, kind, d.signer)
	if err != nil {
		d.warn("settlement_sign_failed", tradeID, err)
		return
	}
	if err := d.manager.Submit(ctx, signed); err != nil {
		d.warn("settlement_submit_failed", tradeID, err)
		return
	}
	if d.pub == nil {
		return
	}
	if err := d.pub.Publish(ctx, tradeID, signed); err != nil {
		d.warn("settlement_publish_failed", tradeID, err)
	}
}

func (d *Driver) warn(event, tradeID string, err error) {
	if d.log != nil {
		d.log.Warnw(event, "trade_id", tradeID, "err", err)
	}
}

// jsonInt renders n as the json.Number schema.reqInt64 requires, so
// locally-built envelope bodies satisfy the same parser a counterparty's
// decoded-from-wire envelope does.
func jsonInt(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}

// syntheticTxSig stands in for a real transaction signature: no on-chain
// write path exists in this environment (pkg/escrow's package doc), so
// this derives a stable, opaque identifier from the PDA and the
// operation instead of fabricating one that looks like base58.
func syntheticTxSig(seed []byte, label string) string {
	h := sha256.Sum256(append(append([]byte{}, seed...), label...))
	return hex.EncodeToString(h[:])
}
