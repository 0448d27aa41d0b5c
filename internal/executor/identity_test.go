package executor

import (
	"context"
	"testing"

	"github.com/knirvcorp/syncbase/internal/crypto/pqc"
	"github.com/knirvcorp/syncbase/internal/sync"
	"github.com/knirvcorp/syncbase/internal/wire"
)

func TestSignOutboundAttachesSignatureWhenIdentitySet(t *testing.T) {
	kp, err := pqc.GeneratePQCKeyPair("node-1", "identity")
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	model := newTestModel("1")
	exec := New(model, &fakeSender{}, nil, nil)
	exec.Identity = kp

	signed := exec.signOutbound(sync.EstablishRequest{ChannelID: 1, PeerID: "1", Token: "tok"})
	req, ok := signed.(sync.EstablishRequest)
	if !ok {
		t.Fatalf("expected EstablishRequest, got %T", signed)
	}
	if len(req.Signature) == 0 {
		t.Fatal("expected a non-empty signature")
	}
	if !kp.Verify(establishSigningPayload(req.ChannelID, req.PeerID, req.Token), req.Signature) {
		t.Error("expected signature to verify against the signing identity's own public key")
	}
}

func TestSignOutboundLeavesMessageUnsignedWithoutIdentity(t *testing.T) {
	model := newTestModel("1")
	exec := New(model, &fakeSender{}, nil, nil)

	signed := exec.signOutbound(sync.EstablishRequest{ChannelID: 1, PeerID: "1", Token: "tok"})
	req := signed.(sync.EstablishRequest)
	if req.Signature != nil {
		t.Error("expected no signature without a configured Identity")
	}
}

func TestVerifyInboundAcceptsWithoutPeerKeysResolver(t *testing.T) {
	model := newTestModel("1")
	exec := New(model, &fakeSender{}, nil, nil)

	if !exec.verifyInbound(sync.EstablishRequest{ChannelID: 1, PeerID: "2", Token: "tok"}) {
		t.Error("expected messages to pass through unverified when PeerKeys is nil")
	}
}

func TestVerifyInboundRejectsUnknownPeer(t *testing.T) {
	model := newTestModel("1")
	exec := New(model, &fakeSender{}, nil, nil)
	exec.PeerKeys = func(peerID string) (*pqc.PQCKeyPair, bool) { return nil, false }

	if exec.verifyInbound(sync.EstablishRequest{ChannelID: 1, PeerID: "2", Token: "tok"}) {
		t.Error("expected an unresolvable peer key to fail verification")
	}
}

func TestVerifyInboundRejectsTamperedSignature(t *testing.T) {
	kp, err := pqc.GeneratePQCKeyPair("peer-2", "identity")
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	model := newTestModel("1")
	exec := New(model, &fakeSender{}, nil, nil)
	exec.PeerKeys = func(peerID string) (*pqc.PQCKeyPair, bool) {
		if peerID == "2" {
			return kp, true
		}
		return nil, false
	}

	sig, err := kp.Sign(establishSigningPayload(1, "2", "tok"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	valid := sync.EstablishRequest{ChannelID: 1, PeerID: "2", Token: "tok", Signature: sig}
	if !exec.verifyInbound(valid) {
		t.Error("expected a correctly signed request to verify")
	}

	tampered := valid
	tampered.Token = "forged"
	if exec.verifyInbound(tampered) {
		t.Error("expected a tampered request to fail verification")
	}
}

// TestReceiveDropsUnverifiableEstablishRequest exercises the full
// decode -> verify -> dispatch path: a request whose signature does
// not match the configured PeerKeys resolver must never reach the
// reducer, so the channel stays unestablished.
func TestReceiveDropsUnverifiableEstablishRequest(t *testing.T) {
	b := newTestModel("2")
	chB := b.Channels.Create()
	bExec := New(b, &fakeSender{}, nil, nil)
	bExec.PeerKeys = func(peerID string) (*pqc.PQCKeyPair, bool) { return nil, false }

	cm := wire.ChannelMsg{Type: "channel/establish-request", Fields: map[string]interface{}{
		"channel_id": chB.ID,
		"peer_id":    "1",
		"token":      "tok",
	}}
	data, err := wire.EncodeChannelMsg(cm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	bExec.Receive(context.Background(), chB.ID, data)

	if ch, ok := b.Channels.Get(chB.ID); !ok || ch.State.String() == "established" {
		t.Fatalf("expected the unverifiable request to be dropped before establishing, got %+v", ch)
	}
}
