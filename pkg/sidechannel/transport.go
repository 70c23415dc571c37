// Package sidechannel defines the pub/sub transport boundary from spec §6:
// subscribe/join/send plus a sidechannel_message event stream, with
// invite-gated admission for "swap:"-prefixed channels and welcome-gated
// (but not invite-gated) admission for the public RFQ rendezvous channel.
// Capability blobs (invite, welcome) are opaque at this boundary's callers
// but are a concrete signed format within this package, since spec §9 says
// the format "belongs to the sidechannel subsystem."
//
// Grounded on pkg/p2p/libp2pnet.go's Libp2pNet: topic join/subscribe,
// per-topic handler goroutines, and a Network-shaped interface generalized
// here from HotStuff's two fixed topics to arbitrary per-trade swap:<id>
// topics plus the rendezvous topic. A real implementation would wrap
// go-libp2p + go-libp2p-pubsub the same way Libp2pNet does; this package
// ships that real implementation (Libp2pTransport) alongside an in-memory
// Bus used by tests and single-process deployments.
package sidechannel

import "context"

// Event is delivered on a Transport's event stream for every message the
// local peer is admitted to receive.
type Event struct {
	Channel string
	Message []byte
}

// Transport is the narrow boundary the trade runner depends on (spec §6):
// subscribe(channels[]), join(channel, {invite?, welcome?}),
// send(channel, message, {invite?}), and an event stream.
type Transport interface {
	// Subscribe registers interest in channels that need no capability.
	// It never itself grants admission to an invite-gated channel:
	// Libp2pTransport rejects any invite-gated channel name outright, and
	// a Bus Peer records the subscription but delivers nothing on it until
	// Join admits the peer. Use Join for those.
	Subscribe(ctx context.Context, channels []string) error

	// Join presents admission capabilities for channel. invite and
	// welcome are opaque blobs to callers outside this package; pass nil
	// for whichever does not apply.
	Join(ctx context.Context, channel string, invite, welcome []byte) error

	// Send publishes message on channel. For invite-gated channels the
	// transport enforces sender-side gating: Send fails unless the local
	// peer already holds (via Join) a valid invite for channel.
	Send(ctx context.Context, channel string, message []byte, invite []byte) error

	// Events returns the channel on which admitted sidechannel_message
	// events arrive.
	Events() <-chan Event

	Close() error
}
