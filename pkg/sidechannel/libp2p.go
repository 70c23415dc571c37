package sidechannel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
)

// Libp2pTransport is the production Transport: each sidechannel is a
// gossipsub topic, and Join gates topic membership on capability
// verification rather than relying on pubsub itself to keep non-members
// out. A peer that cannot produce a valid invite (or welcome, for a
// non-gated channel) never subscribes to the underlying topic and so never
// receives its gossip.
//
// Grounded on pkg/p2p/libp2pnet.go's NewLibp2pNet/joinTopics/handlePropose
// shape, generalized from two fixed consensus topics to an arbitrary,
// dynamically joined set of channel topics.
type Libp2pTransport struct {
	h             host.Host
	ps            *pubsub.PubSub
	log           *zap.SugaredLogger
	selfPubkeyHex string
	invitePrefix  string
	ownerOf       map[string]string // channel -> owner pubkey hex, for invite verification

	mu      sync.Mutex
	topics  map[string]*pubsub.Topic
	subs    map[string]*pubsub.Subscription
	cancels map[string]context.CancelFunc
	joined  map[string]bool // passed capability check

	events chan Event
	closed bool
}

// Libp2pConfig configures a Libp2pTransport.
type Libp2pConfig struct {
	ListenAddr    string
	Bootstrap     []string
	SelfPubkeyHex string
	InvitePrefix  string
	OwnerOf       map[string]string
	Logger        *zap.SugaredLogger
}

// NewLibp2pTransport starts a libp2p host and gossipsub router and returns a
// Transport bound to it.
func NewLibp2pTransport(ctx context.Context, cfg Libp2pConfig) (*Libp2pTransport, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("sidechannel: listen addr: %w", err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("sidechannel: new host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("sidechannel: new gossipsub: %w", err)
	}

	ownerOf := cfg.OwnerOf
	if ownerOf == nil {
		ownerOf = map[string]string{}
	}

	invitePrefix := cfg.InvitePrefix
	if invitePrefix == "" {
		invitePrefix = "swap:"
	}

	t := &Libp2pTransport{
		h: h, ps: ps, log: cfg.Logger,
		selfPubkeyHex: cfg.SelfPubkeyHex,
		invitePrefix:  invitePrefix,
		ownerOf:       ownerOf,
		topics:        make(map[string]*pubsub.Topic),
		subs:          make(map[string]*pubsub.Subscription),
		cancels:       make(map[string]context.CancelFunc),
		joined:        make(map[string]bool),
		events:        make(chan Event, 256),
	}

	for _, bs := range cfg.Bootstrap {
		if err := t.connect(ctx, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("sidechannel_bootstrap_failed", "addr", bs, "err", err)
		}
	}

	return t, nil
}

func (t *Libp2pTransport) connect(ctx context.Context, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return t.h.Connect(ctx, *info)
}

// Subscribe joins channels that require no capability (the non-gated
// rendezvous channel, typically). It refuses invite-gated channel names
// outright, since it takes no invite/welcome to verify: use Join for
// those, which validates a capability before subscribing.
func (t *Libp2pTransport) Subscribe(ctx context.Context, channels []string) error {
	for _, ch := range channels {
		if strings.HasPrefix(ch, t.invitePrefix) {
			return fmt.Errorf("sidechannel: %s requires Join with a valid invite, not Subscribe", ch)
		}
		if err := t.subscribeTopic(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

// RegisterOwner records the capability-issuing owner of channel after
// construction, for channels this peer learns about at runtime (a newly
// created per-trade channel, or one named by a received SWAP_INVITE)
// rather than at NewLibp2pTransport time via Libp2pConfig.OwnerOf.
func (t *Libp2pTransport) RegisterOwner(channel, ownerPubkeyHex string) {
	t.mu.Lock()
	t.ownerOf[channel] = ownerPubkeyHex
	t.mu.Unlock()
}

// Join validates invite (for InvitePrefix-gated channels) or welcome (for
// everything else), then subscribes to the underlying topic only on
// success.
func (t *Libp2pTransport) Join(ctx context.Context, channel string, invite, welcome []byte) error {
	t.mu.Lock()
	owner := t.ownerOf[channel]
	t.mu.Unlock()
	if strings.HasPrefix(channel, t.invitePrefix) {
		if _, err := VerifyInvite(invite, channel, t.selfPubkeyHex, owner, time.Now().Unix()); err != nil {
			return fmt.Errorf("sidechannel: join %s: %w", channel, err)
		}
	} else {
		if _, err := VerifyWelcome(welcome, channel); err != nil {
			return fmt.Errorf("sidechannel: join %s: %w", channel, err)
		}
	}

	t.mu.Lock()
	t.joined[channel] = true
	t.mu.Unlock()
	return t.subscribeTopic(ctx, channel)
}

func (t *Libp2pTransport) subscribeTopic(ctx context.Context, channel string) error {
	t.mu.Lock()
	if _, ok := t.subs[channel]; ok {
		t.mu.Unlock()
		return nil
	}
	topic, err := t.ps.Join(channel)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("sidechannel: join topic %s: %w", channel, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("sidechannel: subscribe topic %s: %w", channel, err)
	}
	readCtx, cancel := context.WithCancel(ctx)
	t.topics[channel] = topic
	t.subs[channel] = sub
	t.cancels[channel] = cancel
	t.mu.Unlock()

	go t.readLoop(readCtx, channel, sub)
	return nil
}

func (t *Libp2pTransport) readLoop(ctx context.Context, channel string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == t.h.ID() {
			continue // gossipsub echoes our own publishes back
		}
		select {
		case t.events <- Event{Channel: channel, Message: msg.Data}:
		default:
			if t.log != nil {
				t.log.Warnw("sidechannel_event_dropped", "channel", channel)
			}
		}
	}
}

// Send publishes message on channel's topic. The caller must already have
// joined (directly or via Subscribe/Join); invite is accepted for interface
// symmetry with sidechannel.Transport but is not re-verified here since
// topic membership already gated admission at Join time.
func (t *Libp2pTransport) Send(ctx context.Context, channel string, message []byte, invite []byte) error {
	t.mu.Lock()
	topic, ok := t.topics[channel]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("sidechannel: send on %s: not joined", channel)
	}
	return topic.Publish(ctx, message)
}

func (t *Libp2pTransport) Events() <-chan Event { return t.events }

func (t *Libp2pTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for ch, cancel := range t.cancels {
		cancel()
		delete(t.cancels, ch)
	}
	for _, topic := range t.topics {
		_ = topic.Close()
	}
	close(t.events)
	return t.h.Close()
}
