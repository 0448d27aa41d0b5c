package sync

import (
	"github.com/knirvcorp/syncbase/internal/channel"
	"github.com/knirvcorp/syncbase/internal/clock"
	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/ephemeral"
	"github.com/knirvcorp/syncbase/internal/permission"
)

// PeerState is what the Synchronizer remembers about a remote peer
// independent of any one channel — grounded on the teacher's
// internal/types.PeerInfo, narrowed to the fields the protocol itself
// needs (reachability bookkeeping lives in internal/channel instead).
type PeerState struct {
	PeerID      string
	Permissions map[permission.Permission]bool

	// Subscriptions is the set of document ids this peer has asked us
	// to sync via a sync-request (4.6: "regardless of branch, the
	// recipient adds docId to peers[from].subscriptions") — the
	// interest-gating half of pushDocToChannels' fan-out, applied
	// alongside the permission-gating SyncRules already provides.
	Subscriptions map[string]bool

	// Channels is the set of channel ids currently established to this
	// peer. Populated on establishment, pruned on ChannelRemoved;
	// subscriptions and awareness outlive a channel's removal.
	Channels map[int64]bool
}

// awarenessKey tracks, per (document, channel), the last version that
// channel is known to have — the echo-freedom bookkeeping
// distributed_collection.go approximates with a single SyncState's
// LastSync timestamp, generalized here to one entry per remote so
// pushDocToChannels can export a delta from the version a channel last
// received instead of a full snapshot. It does not decide which
// channels a push skips; echo suppression is keyed on the peer id.
type awarenessKey struct {
	DocID     string
	ChannelID int64
}

// Model is the Synchronizer's entire state. It is owned by a single
// goroutine that calls Update — there is no internal locking because
// there is no concurrent access to guard against.
type Model struct {
	SelfPeerID string
	Channels   *channel.Directory
	Docs       *docregistry.Registry
	Ephemeral  *ephemeral.Store
	Peers      map[string]*PeerState

	// RevealRules gates the directory protocol (which documents a
	// channel's peer is told exist); SyncRules gates both the sync
	// protocol and ephemeral forwarding (which documents a peer may
	// exchange CRDT/presence state for). Both default-allow when
	// empty — permission.CanReveal/CanUpdate are the building blocks
	// for a caller that wants to restrict either one.
	RevealRules *permission.Set
	SyncRules   *permission.Set

	awareness map[awarenessKey]clock.VersionVector
	pending   []Msg

	// NewDoc constructs a fresh CrdtDoc for a newly-ensured document.
	// Injected rather than hardcoded to internal/crdt.New so tests can
	// supply a double.
	NewDoc func() docregistry.CrdtDoc
}

// New builds an empty model. selfPeerID identifies this process in
// every message it originates; newDoc is the document factory (pass
// crdt.New to use the reference engine).
func New(selfPeerID string, newDoc func() docregistry.CrdtDoc) *Model {
	return &Model{
		SelfPeerID:  selfPeerID,
		Channels:    channel.New(),
		Docs:        docregistry.New(),
		Ephemeral:   ephemeral.New(),
		Peers:       make(map[string]*PeerState),
		RevealRules: permission.NewSet(true),
		SyncRules:   permission.NewSet(true),
		awareness:   make(map[awarenessKey]clock.VersionVector),
		NewDoc:      newDoc,
	}
}

// ensurePeer returns peerID's PeerState, creating it (with its
// subscription and channel sets initialized) the first time the
// Synchronizer hears of this peer, and lazily initializing those sets
// on an entry that predates them.
func (m *Model) ensurePeer(peerID string) *PeerState {
	p, ok := m.Peers[peerID]
	if !ok {
		p = &PeerState{PeerID: peerID}
		m.Peers[peerID] = p
	}
	if p.Permissions == nil {
		p.Permissions = map[permission.Permission]bool{}
	}
	if p.Subscriptions == nil {
		p.Subscriptions = make(map[string]bool)
	}
	if p.Channels == nil {
		p.Channels = make(map[int64]bool)
	}
	return p
}

func (m *Model) peerContext(ch *channel.Channel, local bool) permission.Context {
	ctx := permission.Context{PeerID: ch.PeerID, ChannelID: ch.ID, Local: local}
	if p, ok := m.Peers[ch.PeerID]; ok {
		ctx.Permissions = p.Permissions
	}
	return ctx
}

// establishedChannels returns every channel currently Established.
func (m *Model) establishedChannels() []*channel.Channel {
	all := m.Channels.All()
	out := make([]*channel.Channel, 0, len(all))
	for _, ch := range all {
		if ch.State == channel.Established {
			out = append(out, ch)
		}
	}
	return out
}

// PermittedChannels returns every established channel currently
// allowed, under SyncRules, to exchange state for docID — the set the
// executor's ephemeral broadcaster and heartbeat fan out to.
func (m *Model) PermittedChannels(docID string) []*channel.Channel {
	var out []*channel.Channel
	for _, ch := range m.establishedChannels() {
		ctx := m.peerContext(ch, false)
		ctx.DocID = docID
		if m.SyncRules.Allow(ctx) {
			out = append(out, ch)
		}
	}
	return out
}

func (m *Model) knowsVersion(docID string, channelID int64) (clock.VersionVector, bool) {
	v, ok := m.awareness[awarenessKey{DocID: docID, ChannelID: channelID}]
	return v, ok
}

func (m *Model) setKnownVersion(docID string, channelID int64, v clock.VersionVector) {
	m.awareness[awarenessKey{DocID: docID, ChannelID: channelID}] = clock.Clone(v)
}
