// Package params holds the immutable configuration record threaded through
// the swap peer at construction time. There are no process-wide mutable
// config globals; every component that needs a tunable takes it through its
// constructor.
package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Argrepair controls the numeric-argument normalization behavior of
// pkg/argrepair. StripUnitSuffix resolves the spec's open question: the
// source silently strips a trailing unit suffix ("0.12 usdt" -> "0.12"),
// which can mask user intent, so it defaults to off.
type Argrepair struct {
	StripUnitSuffix bool
}

// Sidechannel controls the pub/sub transport's admission rules.
type Sidechannel struct {
	// InvitePrefix is the topic prefix that requires an invite to join
	// ("swap:" per spec).
	InvitePrefix string
	// RendezvousChannel is the public, welcome-gated-but-not-invite-gated
	// RFQ rendezvous topic.
	RendezvousChannel string
	ListenAddr        string
	Bootstrap         []string
}

// Prepay controls the pre-pay verifier's safety margin.
type Prepay struct {
	// SafetyMargin is the minimum time the client requires between now and
	// refund_after_unix before it is willing to broadcast the Lightning
	// payment (spec §4.5 check 4).
	SafetyMargin time.Duration
}

// Settlement controls the on-chain escrow program and settlement role a
// peer drives trade-state transitions against (spec §4.5/§4.6). Role
// empty disables the settlement driver entirely, leaving the peer able to
// exchange and persist envelopes but not act on them.
type Settlement struct {
	Role             string // "service" (holds USDT) or "client" (holds BTC)
	ProgramID        string // base58 escrow program id
	VaultATA         string // base58 vault token account
	ChainRPCEndpoint string // optional; live Solana RPC endpoint for prepay reads only
}

type Config struct {
	Argrepair   Argrepair
	Sidechannel Sidechannel
	Prepay      Prepay
	Settlement  Settlement
	StorePath   string
	LogPath     string
	LogLevel    string
	BridgeToken string
}

func Default() Config {
	return Config{
		Argrepair: Argrepair{StripUnitSuffix: false},
		Sidechannel: Sidechannel{
			InvitePrefix:      "swap:",
			RendezvousChannel: "0000intercomswapbtcusdt",
		},
		Prepay: Prepay{
			SafetyMargin: 10 * time.Minute,
		},
		StorePath: "data/receipts",
		LogPath:   "data/swapd.log",
		LogLevel:  "info",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables, layered over Default(). Priority: env > .env >
// defaults, matching the teacher's params.LoadFromEnv.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("SWAP_STRIP_UNIT_SUFFIX"); v != "" {
		cfg.Argrepair.StripUnitSuffix = v == "true"
	}
	if v := os.Getenv("SWAP_INVITE_PREFIX"); v != "" {
		cfg.Sidechannel.InvitePrefix = v
	}
	if v := os.Getenv("SWAP_RENDEZVOUS_CHANNEL"); v != "" {
		cfg.Sidechannel.RendezvousChannel = v
	}
	if v := os.Getenv("SWAP_LISTEN"); v != "" {
		cfg.Sidechannel.ListenAddr = v
	}
	if v := os.Getenv("SWAP_SAFETY_MARGIN_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Prepay.SafetyMargin = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("SWAP_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("SWAP_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	if v := os.Getenv("SWAP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SWAP_BRIDGE_TOKEN"); v != "" {
		cfg.BridgeToken = v
	}
	if v := os.Getenv("SWAP_ROLE"); v != "" {
		cfg.Settlement.Role = v
	}
	if v := os.Getenv("SWAP_PROGRAM_ID"); v != "" {
		cfg.Settlement.ProgramID = v
	}
	if v := os.Getenv("SWAP_VAULT_ATA"); v != "" {
		cfg.Settlement.VaultATA = v
	}
	if v := os.Getenv("SWAP_CHAIN_RPC_ENDPOINT"); v != "" {
		cfg.Settlement.ChainRPCEndpoint = v
	}

	return cfg
}
