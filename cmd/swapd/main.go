// cmd/swapd is the long-running swap peer process: it holds a receipt
// log, a trade state machine per open trade, a sidechannel transport for
// RFQ/terms/escrow envelopes, and a REST+WebSocket control surface for
// cmd/swapctl and any other local client.
//
// Grounded on cmd/node/main.go's shape: load config, build a logger,
// construct the domain app, wire a p2p transport in, start the API server
// in a goroutine, then block on a signal context. Flags are added on top
// (the teacher reads everything from .env/os.Getenv) using urfave/cli,
// matching lnd's cmd/lncli idiom per the CLI surface decision in
// DESIGN.md.
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/interswap/swapd/params"
	"github.com/interswap/swapd/pkg/api"
	"github.com/interswap/swapd/pkg/chainrpc"
	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/escrow"
	"github.com/interswap/swapd/pkg/lnrpc"
	"github.com/interswap/swapd/pkg/prepay"
	"github.com/interswap/swapd/pkg/receipt"
	"github.com/interswap/swapd/pkg/schema"
	"github.com/interswap/swapd/pkg/settlement"
	"github.com/interswap/swapd/pkg/sidechannel"
	"github.com/interswap/swapd/pkg/swapcrypto"
	"github.com/interswap/swapd/pkg/trade"
	"github.com/interswap/swapd/pkg/util"
)

const (
	exitOK      = 0
	exitBadArgs = 2
	exitRuntime = 3
)

func main() {
	app := cli.NewApp()
	app.Name = "swapd"
	app.Usage = "run a swap peer process"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "store", Usage: "receipt log directory"},
		cli.StringFlag{Name: "log", Usage: "log file path"},
		cli.StringFlag{Name: "log-level", Usage: "log level (debug/info/warn/error)"},
		cli.StringFlag{Name: "listen", Usage: "libp2p listen multiaddr"},
		cli.StringSliceFlag{Name: "bootstrap", Usage: "libp2p bootstrap peer multiaddr (repeatable)"},
		cli.StringFlag{Name: "invite-prefix", Usage: "channel prefix requiring an invite capability"},
		cli.StringFlag{Name: "rendezvous", Usage: "public RFQ rendezvous channel name"},
		cli.StringFlag{Name: "api-addr", Value: ":8080", Usage: "REST/WebSocket listen address"},
		cli.StringFlag{Name: "bridge-token", Usage: "bearer token required on the API surface"},
		cli.StringFlag{Name: "seed", Usage: "hex-encoded 32-byte ed25519 seed for this peer's identity"},
		cli.StringFlag{Name: "role", Usage: "settlement role: service (holds USDT) or client (holds BTC); empty disables settlement"},
		cli.StringFlag{Name: "program-id", Usage: "base58 escrow program id"},
		cli.StringFlag{Name: "vault-ata", Usage: "base58 escrow vault token account"},
		cli.StringFlag{Name: "chain-rpc-endpoint", Usage: "live Solana RPC endpoint for prepay reads; escrow writes stay simulated"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		if ec, ok := err.(exitCodeErr); ok {
			fmt.Fprintln(os.Stderr, ec.err)
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRuntime)
	}
}

type exitCodeErr struct {
	code int
	err  error
}

func (e exitCodeErr) Error() string { return e.err.Error() }

func run(c *cli.Context) error {
	cfg := params.LoadFromEnv("")
	if v := c.String("store"); v != "" {
		cfg.StorePath = v
	}
	if v := c.String("log"); v != "" {
		cfg.LogPath = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("listen"); v != "" {
		cfg.Sidechannel.ListenAddr = v
	}
	if bs := c.StringSlice("bootstrap"); len(bs) > 0 {
		cfg.Sidechannel.Bootstrap = bs
	}
	if v := c.String("invite-prefix"); v != "" {
		cfg.Sidechannel.InvitePrefix = v
	}
	if v := c.String("rendezvous"); v != "" {
		cfg.Sidechannel.RendezvousChannel = v
	}
	if v := c.String("bridge-token"); v != "" {
		cfg.BridgeToken = v
	}
	if v := c.String("role"); v != "" {
		cfg.Settlement.Role = v
	}
	if v := c.String("program-id"); v != "" {
		cfg.Settlement.ProgramID = v
	}
	if v := c.String("vault-ata"); v != "" {
		cfg.Settlement.VaultATA = v
	}
	if v := c.String("chain-rpc-endpoint"); v != "" {
		cfg.Settlement.ChainRPCEndpoint = v
	}

	logger, err := util.NewLoggerWithFile(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		return exitCodeErr{exitBadArgs, fmt.Errorf("swapd: logger: %w", err)}
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	signer, err := loadOrGenerateSigner(c.String("seed"))
	if err != nil {
		return exitCodeErr{exitBadArgs, fmt.Errorf("swapd: identity: %w", err)}
	}
	sugar.Infow("swapd_identity", "pubkey", signer.PubkeyHex())

	store, err := receipt.Open(cfg.StorePath)
	if err != nil {
		return exitCodeErr{exitRuntime, fmt.Errorf("swapd: open receipt store: %w", err)}
	}
	defer store.Close()

	manager := trade.NewManager(store, util.RealClock{}, 64)

	tradeIDs, err := store.TradeIDs()
	if err != nil {
		return exitCodeErr{exitRuntime, fmt.Errorf("swapd: list trades: %w", err)}
	}
	for _, id := range tradeIDs {
		t, err := store.Rebuild(id)
		if err != nil {
			sugar.Warnw("trade_rebuild_failed", "trade_id", id, "err", err)
			continue
		}
		manager.Restore(t)
	}
	sugar.Infow("swapd_restored_trades", "count", len(tradeIDs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, err := sidechannel.NewLibp2pTransport(ctx, sidechannel.Libp2pConfig{
		ListenAddr:    cfg.Sidechannel.ListenAddr,
		Bootstrap:     cfg.Sidechannel.Bootstrap,
		SelfPubkeyHex: signer.PubkeyHex(),
		InvitePrefix:  cfg.Sidechannel.InvitePrefix,
		OwnerOf:       map[string]string{cfg.Sidechannel.RendezvousChannel: signer.PubkeyHex()},
		Logger:        sugar,
	})
	if err != nil {
		return exitCodeErr{exitRuntime, fmt.Errorf("swapd: sidechannel transport: %w", err)}
	}
	defer transport.Close()

	welcome, err := sidechannel.IssueWelcome(signer.PrivateKey(), sidechannel.Welcome{
		Channel:        cfg.Sidechannel.RendezvousChannel,
		OwnerPubkeyHex: signer.PubkeyHex(),
	})
	if err != nil {
		return exitCodeErr{exitRuntime, fmt.Errorf("swapd: issue self welcome: %w", err)}
	}
	if err := transport.Join(ctx, cfg.Sidechannel.RendezvousChannel, nil, welcome); err != nil {
		return exitCodeErr{exitRuntime, fmt.Errorf("swapd: join rendezvous channel: %w", err)}
	}
	sugar.Infow("swapd_joined_rendezvous", "channel", cfg.Sidechannel.RendezvousChannel)

	apiServer := api.NewServer(manager, cfg.BridgeToken, "", sugar)

	pub := &sidechannelPublisher{
		transport:    transport,
		signer:       signer,
		invitePrefix: cfg.Sidechannel.InvitePrefix,
		clock:        util.RealClock{},
	}
	apiServer.SetPublisher(pub)

	driver, err := buildSettlementDriver(cfg, signer, manager, pub, sugar)
	if err != nil {
		return exitCodeErr{exitBadArgs, err}
	}
	if driver != nil {
		manager.SetOnApply(driver.OnApply)
		go pollRefunds(ctx, driver, store, sugar)
	}

	go func() {
		addr := c.String("api-addr")
		if err := apiServer.Start(addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	go ingestSidechannel(ctx, transport, manager, apiServer, sugar)

	sugar.Infow("swapd_started", "api_addr", c.String("api-addr"), "role", cfg.Settlement.Role)
	<-ctx.Done()
	sugar.Info("swapd_shutting_down")
	return nil
}

// buildSettlementDriver constructs the settlement.Driver that turns trade
// state transitions into real side effects (prepay verification,
// Lightning payment, escrow create/claim), or returns nil if cfg.Settlement
// names no role (a peer can always exchange and persist envelopes without
// one; it just never acts on them).
func buildSettlementDriver(cfg params.Config, signer *swapcrypto.Signer, manager *trade.Manager, pub settlement.Publisher, sugar *zap.SugaredLogger) (*settlement.Driver, error) {
	role := settlement.Role(cfg.Settlement.Role)
	if role != settlement.RoleService && role != settlement.RoleClient {
		if cfg.Settlement.Role != "" {
			sugar.Warnw("settlement_disabled_unknown_role", "role", cfg.Settlement.Role)
		}
		return nil, nil
	}

	programID := solana.PublicKey{}
	if cfg.Settlement.ProgramID != "" {
		pid, err := solana.PublicKeyFromBase58(cfg.Settlement.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("swapd: bad program-id: %w", err)
		}
		programID = pid
	}
	vaultATA := solana.PublicKey{}
	if cfg.Settlement.VaultATA != "" {
		ata, err := solana.PublicKeyFromBase58(cfg.Settlement.VaultATA)
		if err != nil {
			return nil, fmt.Errorf("swapd: bad vault-ata: %w", err)
		}
		vaultATA = ata
	}

	// No real on-chain write path is reachable in this environment
	// (pkg/escrow's own package doc), so the simulator is both the write
	// surface (Create/Claim/Refund) and, by default, the read surface
	// prepay.Verify checks against. A live RPC endpoint can replace the
	// reads; writes still land in the simulator either way.
	sim := escrow.NewSimulator(programID, util.RealClock{})
	var chain prepay.ChainRPC = sim
	if cfg.Settlement.ChainRPCEndpoint != "" {
		chain = chainrpc.New(cfg.Settlement.ChainRPCEndpoint)
		sugar.Infow("settlement_chain_reads_live", "endpoint", cfg.Settlement.ChainRPCEndpoint)
	}

	// lnrpc.FakeClient is this package's documented stand-in for a real
	// lnd backend "when no real lnd backend is configured for local
	// development" (pkg/lnrpc/fake.go) — no grpc lnd client exists
	// anywhere in this module to wire in its place.
	ln := lnrpc.NewFakeClient()

	driverCfg := settlement.Config{
		Role:            role,
		ProgramID:       programID,
		VaultATA:        vaultATA,
		SafetyMarginSec: int64(cfg.Prepay.SafetyMargin.Seconds()),
	}
	return settlement.New(driverCfg, signer, manager, ln, chain, sim, pub, util.RealClock{}, sugar), nil
}

// pollRefunds periodically gives driver a chance to reclaim a service
// peer's escrow once its refund timeout has passed unclaimed (spec §4.4's
// REFUND observation, wiring trade.ObserveRefund).
func pollRefunds(ctx context.Context, driver *settlement.Driver, store *receipt.Store, sugar *zap.SugaredLogger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := store.TradeIDs()
			if err != nil {
				sugar.Warnw("refund_poll_list_failed", "err", err)
				continue
			}
			driver.PollRefunds(ctx, ids)
		}
	}
}

// sidechannelPublisher fans a locally-applied envelope out to a trade's
// counterparty over the per-trade "swap:<trade_id>" sidechannel, joining
// that channel on first use if this peer hasn't already (it is the
// trade's initiator and no SWAP_INVITE exchange has registered it yet),
// the same way run() self-issues a welcome to join the rendezvous
// channel.
type sidechannelPublisher struct {
	transport    *sidechannel.Libp2pTransport
	signer       *swapcrypto.Signer
	invitePrefix string
	clock        util.Clock
}

func (p *sidechannelPublisher) Publish(ctx context.Context, tradeID string, env envelope.Signed) error {
	channel := p.invitePrefix + tradeID
	data, err := envelope.EncodeJSON(env)
	if err != nil {
		return fmt.Errorf("publish: encode: %w", err)
	}
	if err := p.transport.Send(ctx, channel, data, nil); err != nil {
		if joinErr := p.ensureJoined(ctx, channel); joinErr != nil {
			return fmt.Errorf("publish: join %s: %w", channel, joinErr)
		}
		if err := p.transport.Send(ctx, channel, data, nil); err != nil {
			return fmt.Errorf("publish: send on %s: %w", channel, err)
		}
	}
	return nil
}

func (p *sidechannelPublisher) ensureJoined(ctx context.Context, channel string) error {
	selfHex := p.signer.PubkeyHex()
	invite, err := sidechannel.IssueInvite(p.signer.PrivateKey(), sidechannel.Invite{
		Channel:          channel,
		InviteePubkeyHex: selfHex,
		IssuedUnix:       p.clock.Now().Unix(),
		TTLSec:           86400,
	})
	if err != nil {
		return fmt.Errorf("issue self invite: %w", err)
	}
	p.transport.RegisterOwner(channel, selfHex)
	return p.transport.Join(ctx, channel, invite, nil)
}

// ingestSidechannel reads envelopes off the transport and submits each to
// the trade manager, broadcasting the resulting state to WebSocket
// subscribers. A malformed or rejected envelope is logged and dropped
// rather than torn down the process: a misbehaving or stale counterparty
// should not be able to kill this peer. SWAP_INVITE envelopes are handled
// separately: they name a per-trade channel to join rather than a trade
// transition to apply (trade.Apply has no transition for this kind).
func ingestSidechannel(ctx context.Context, transport *sidechannel.Libp2pTransport, manager *trade.Manager, apiServer *api.Server, sugar *zap.SugaredLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-transport.Events():
			if !ok {
				return
			}
			env, err := envelope.DecodeJSON(ev.Message)
			if err != nil {
				sugar.Warnw("sidechannel_envelope_decode_failed", "channel", ev.Channel, "err", err)
				continue
			}
			if env.Kind == envelope.KindSwapInvite {
				handleSwapInvite(ctx, transport, env, sugar)
				continue
			}
			if err := manager.Submit(ctx, env); err != nil {
				sugar.Warnw("sidechannel_envelope_rejected", "channel", ev.Channel, "trade_id", env.TradeID, "err", err)
				continue
			}
			apiServer.BroadcastTradeUpdate(env.TradeID)
		}
	}
}

// handleSwapInvite joins the per-trade channel a received SWAP_INVITE
// names, registering the inviter as that channel's capability owner so
// Join's invite verification has something to check against.
func handleSwapInvite(ctx context.Context, transport *sidechannel.Libp2pTransport, env envelope.Signed, sugar *zap.SugaredLogger) {
	parsed, err := schema.Parse(env.Kind, env.Body)
	if err != nil {
		sugar.Warnw("swap_invite_decode_failed", "trade_id", env.TradeID, "err", err)
		return
	}
	invite := parsed.(schema.SwapInviteBody)
	inviteBlob, err := base64.StdEncoding.DecodeString(invite.Invite)
	if err != nil {
		sugar.Warnw("swap_invite_bad_invite_blob", "trade_id", env.TradeID, "err", err)
		return
	}
	transport.RegisterOwner(invite.SwapChannel, invite.OwnerPubkey)
	if err := transport.Join(ctx, invite.SwapChannel, inviteBlob, nil); err != nil {
		sugar.Warnw("swap_invite_join_failed", "trade_id", env.TradeID, "channel", invite.SwapChannel, "err", err)
		return
	}
	sugar.Infow("joined_trade_channel", "trade_id", env.TradeID, "channel", invite.SwapChannel)
}

func loadOrGenerateSigner(hexSeed string) (*swapcrypto.Signer, error) {
	if hexSeed == "" {
		return swapcrypto.GenerateSigner()
	}
	seed, err := decodeHexSeed(hexSeed)
	if err != nil {
		return nil, err
	}
	return swapcrypto.SignerFromSeed(seed)
}

func decodeHexSeed(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return nil, fmt.Errorf("seed must be 64 hex characters (32 bytes)")
	}
	return b, nil
}
