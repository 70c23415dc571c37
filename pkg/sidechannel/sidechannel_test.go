package sidechannel

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"

	"github.com/interswap/swapd/pkg/util"
)

func genKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func pubkeyHex(pub ed25519.PublicKey) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(pub)*2)
	for i, b := range pub {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// Seed 7: an uninvited peer subscribed to swap:t1 receives zero messages.
func TestBus_Confidentiality_UninvitedPeerReceivesNothing(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	bus := NewBus("swap:", clock)

	ownerPub, ownerPriv := genKey(t)
	invitedPub, invitedPriv := genKey(t)
	_, _ = genKey(t) // uninvited's own key not needed for signing

	channel := "swap:t1"
	bus.RegisterChannel(channel, pubkeyHex(ownerPub))

	owner := bus.Peer(pubkeyHex(ownerPub))
	invited := bus.Peer(pubkeyHex(invitedPub))
	uninvitedPub, _ := genKey(t)
	uninvited := bus.Peer(pubkeyHex(uninvitedPub))

	ctx := context.Background()
	if err := owner.Subscribe(ctx, []string{channel}); err != nil {
		t.Fatalf("owner subscribe: %v", err)
	}
	if err := invited.Subscribe(ctx, []string{channel}); err != nil {
		t.Fatalf("invited subscribe: %v", err)
	}
	if err := uninvited.Subscribe(ctx, []string{channel}); err != nil {
		t.Fatalf("uninvited subscribe: %v", err)
	}

	invite, err := IssueInvite(ownerPriv, Invite{
		Channel:          channel,
		InviteePubkeyHex: pubkeyHex(invitedPub),
		IssuedUnix:       1_780_000_000,
		TTLSec:            3600,
	})
	if err != nil {
		t.Fatalf("issue invite: %v", err)
	}
	if err := invited.Join(ctx, channel, invite, nil); err != nil {
		t.Fatalf("invited join: %v", err)
	}

	welcomeBlob, err := IssueWelcome(ownerPriv, Welcome{Channel: channel, OwnerPubkeyHex: pubkeyHex(ownerPub)})
	if err != nil {
		t.Fatalf("issue welcome: %v", err)
	}
	if err := owner.Join(ctx, channel, nil, welcomeBlob); err == nil {
		t.Fatal("expected welcome alone to fail admission on an invite-gated channel")
	}

	// Owner admits itself the same way the invitee did, via its own invite,
	// to be able to send.
	ownerInvite, err := IssueInvite(ownerPriv, Invite{
		Channel: channel, InviteePubkeyHex: pubkeyHex(ownerPub), IssuedUnix: 1_780_000_000, TTLSec: 3600,
	})
	if err != nil {
		t.Fatalf("issue owner invite: %v", err)
	}
	if err := owner.Join(ctx, channel, ownerInvite, nil); err != nil {
		t.Fatalf("owner join: %v", err)
	}

	if err := owner.Send(ctx, channel, []byte("hello trade"), nil); err != nil {
		t.Fatalf("owner send: %v", err)
	}
	if err := uninvited.Send(ctx, channel, []byte("should be rejected"), nil); err == nil {
		t.Fatal("expected uninvited peer's Send to be rejected (sender-side gating)")
	}

	select {
	case ev := <-invited.Events():
		if string(ev.Message) != "hello trade" {
			t.Fatalf("invited got unexpected message %q", ev.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("invited peer never received the message")
	}

	select {
	case ev := <-uninvited.Events():
		t.Fatalf("uninvited peer received a message it should never see: %q", ev.Message)
	case <-time.After(50 * time.Millisecond):
		// expected: nothing delivered
	}
}

func TestBus_InviteWrongInviteeRejected(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	bus := NewBus("swap:", clock)
	ownerPub, ownerPriv := genKey(t)
	_, otherPriv := genKey(t)
	_ = otherPriv
	channel := "swap:t2"
	bus.RegisterChannel(channel, pubkeyHex(ownerPub))

	notInvitedPub, _ := genKey(t)
	peer := bus.Peer(pubkeyHex(notInvitedPub))

	invite, err := IssueInvite(ownerPriv, Invite{
		Channel:          channel,
		InviteePubkeyHex: pubkeyHex(ownerPub), // names someone else
		IssuedUnix:       1_780_000_000,
		TTLSec:            3600,
	})
	if err != nil {
		t.Fatalf("issue invite: %v", err)
	}
	if err := peer.Join(context.Background(), channel, invite, nil); err == nil {
		t.Fatal("expected join with mis-targeted invite to fail")
	}
}

func TestBus_InviteExpired(t *testing.T) {
	start := time.Unix(1_780_000_000, 0)
	clock := util.NewFakeClock(start)
	bus := NewBus("swap:", clock)
	ownerPub, ownerPriv := genKey(t)
	channel := "swap:t3"
	bus.RegisterChannel(channel, pubkeyHex(ownerPub))

	inviteePub, _ := genKey(t)
	peer := bus.Peer(pubkeyHex(inviteePub))

	invite, err := IssueInvite(ownerPriv, Invite{
		Channel:          channel,
		InviteePubkeyHex: pubkeyHex(inviteePub),
		IssuedUnix:       1_780_000_000,
		TTLSec:            60,
	})
	if err != nil {
		t.Fatalf("issue invite: %v", err)
	}

	clock.Advance(61 * time.Second)
	if err := peer.Join(context.Background(), channel, invite, nil); err == nil {
		t.Fatal("expected expired invite to be rejected")
	}
}

func TestBus_RendezvousWelcomeGated_NoInviteeRestriction(t *testing.T) {
	clock := util.NewFakeClock(time.Unix(1_780_000_000, 0))
	bus := NewBus("swap:", clock)
	ownerPub, ownerPriv := genKey(t)
	channel := "0000intercomswapbtcusdt"
	bus.RegisterChannel(channel, pubkeyHex(ownerPub))

	welcome, err := IssueWelcome(ownerPriv, Welcome{Channel: channel, OwnerPubkeyHex: pubkeyHex(ownerPub)})
	if err != nil {
		t.Fatalf("issue welcome: %v", err)
	}

	anyonePub, _ := genKey(t)
	anyone := bus.Peer(pubkeyHex(anyonePub))
	ctx := context.Background()
	if err := anyone.Subscribe(ctx, []string{channel}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// The same welcome blob admits any peer presenting it, unlike an invite.
	if err := anyone.Join(ctx, channel, nil, welcome); err != nil {
		t.Fatalf("join with welcome: %v", err)
	}
	if err := anyone.Send(ctx, channel, []byte("rfq broadcast"), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
}
