package sidechannel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/interswap/swapd/pkg/util"
)

var (
	ErrNotAdmitted  = errors.New("sidechannel: not admitted to channel")
	ErrUnknownOwner = errors.New("sidechannel: channel has no registered owner")
)

// Bus is an in-process pub/sub hub implementing the same admission rules a
// real libp2p-pubsub deployment enforces (Libp2pTransport, in
// libp2p.go): invite-gated "swap:" channels and a welcome-gated
// rendezvous channel. Every Peer obtained from the same Bus shares message
// delivery, making it suitable for single-process integration tests of the
// confidentiality property (spec §8 seed 7).
type Bus struct {
	mu           sync.Mutex
	invitePrefix string
	owners       map[string]string                 // channel -> owner pubkey hex
	admitted     map[string]map[string]bool         // channel -> peer pubkey hex -> admitted
	peers        map[string]map[string]chan Event   // channel -> peer pubkey hex -> event chan
	clock        util.Clock
}

// NewBus constructs an empty bus. invitePrefix is the channel prefix that
// requires an invite (spec default "swap:").
func NewBus(invitePrefix string, clock util.Clock) *Bus {
	return &Bus{
		invitePrefix: invitePrefix,
		owners:       make(map[string]string),
		admitted:     make(map[string]map[string]bool),
		peers:        make(map[string]map[string]chan Event),
		clock:        clock,
	}
}

// RegisterChannel declares channel's owner, as a SWAP_INVITE envelope's
// owner_pubkey field would when a trade opens a swap:<id> channel.
func (b *Bus) RegisterChannel(channel, ownerPubkeyHex string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owners[channel] = ownerPubkeyHex
}

func (b *Bus) isGated(channel string) bool {
	return strings.HasPrefix(channel, b.invitePrefix)
}

func (b *Bus) admit(channel, peerPubkeyHex string) {
	if b.admitted[channel] == nil {
		b.admitted[channel] = make(map[string]bool)
	}
	b.admitted[channel][peerPubkeyHex] = true
}

func (b *Bus) isAdmitted(channel, peerPubkeyHex string) bool {
	return b.admitted[channel] != nil && b.admitted[channel][peerPubkeyHex]
}

// Peer returns a Transport bound to selfPubkeyHex, sharing this Bus's
// channels with every other peer obtained from it.
func (b *Bus) Peer(selfPubkeyHex string) *Peer {
	return &Peer{
		bus:    b,
		self:   selfPubkeyHex,
		events: make(chan Event, 256),
		subbed: make(map[string]bool),
	}
}

// Peer is a Bus-backed Transport for a single local identity.
type Peer struct {
	bus    *Bus
	self   string
	events chan Event
	mu     sync.Mutex
	subbed map[string]bool
	closed bool
}

func (p *Peer) Subscribe(ctx context.Context, channels []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("sidechannel: peer closed")
	}
	for _, ch := range channels {
		p.subbed[ch] = true
	}
	p.bus.mu.Lock()
	for _, ch := range channels {
		if p.bus.peers[ch] == nil {
			p.bus.peers[ch] = make(map[string]chan Event)
		}
		p.bus.peers[ch][p.self] = p.events
	}
	p.bus.mu.Unlock()
	return nil
}

// Join presents invite and/or welcome for channel. Invite-gated channels
// (prefix invitePrefix) require a valid invite naming this peer; all other
// channels require a valid welcome naming channel, with no invitee
// restriction.
func (p *Peer) Join(ctx context.Context, channel string, invite, welcome []byte) error {
	b := p.bus
	b.mu.Lock()
	owner, hasOwner := b.owners[channel]
	gated := b.isGated(channel)
	b.mu.Unlock()

	if !hasOwner {
		return ErrUnknownOwner
	}

	now := b.clock.Now().Unix()
	if gated {
		if invite == nil {
			return fmt.Errorf("%w: %s requires an invite", ErrNotAdmitted, channel)
		}
		if _, err := VerifyInvite(invite, channel, p.self, owner, now); err != nil {
			return err
		}
	} else {
		if welcome == nil {
			return fmt.Errorf("%w: %s requires a welcome", ErrNotAdmitted, channel)
		}
		if _, err := VerifyWelcome(welcome, channel); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.admit(channel, p.self)
	b.mu.Unlock()
	return nil
}

// Send publishes message on channel. Invite-gated channels require the
// sender to already be admitted (sender-side gating, spec §6): Send does
// not itself check the supplied invite argument beyond requiring prior
// Join, matching admission being a one-time capability check rather than a
// per-message one.
func (p *Peer) Send(ctx context.Context, channel string, message []byte, invite []byte) error {
	b := p.bus
	b.mu.Lock()
	admitted := b.isAdmitted(channel, p.self)
	var targets []chan Event
	if admitted {
		for peerID, ch := range b.peers[channel] {
			if !b.isAdmitted(channel, peerID) {
				continue
			}
			targets = append(targets, ch)
		}
	}
	b.mu.Unlock()

	if !admitted {
		return fmt.Errorf("%w: sender not admitted to %s", ErrNotAdmitted, channel)
	}

	for _, ch := range targets {
		select {
		case ch <- Event{Channel: channel, Message: message}:
		default:
		}
	}
	return nil
}

func (p *Peer) Events() <-chan Event { return p.events }

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.events)
	return nil
}
