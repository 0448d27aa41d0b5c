// Package sync is the Synchronizer: a pure update function over a
// mutable model, `Update(model, msg) -> cmd`, plus the message and
// command taxonomies it operates on. All side effects — sending
// bytes, touching storage, starting timers — are described by the
// returned Cmd and carried out by internal/executor; Update itself
// never performs I/O.
//
// "Pure" here means side-effect-free, not immutable-in-place: Model's
// maps (channels, documents, peers, ephemeral state) are mutated
// directly rather than copied on every message, which is the Go-
// idiomatic reading of the reducer pattern — cloning every map on
// every message would be both un-idiomatic and needlessly expensive.
//
// Grounded on the teacher's internal/collection/distributed_collection.go,
// whose DistributedCollection methods (handleRemoteOperation,
// handleSyncRequest, handleSyncResponse, broadcastOperation,
// requestSync) are generalized here from one collection's direct
// network/storage calls into message handlers that return commands
// instead of performing I/O themselves.
package sync

import (
	"github.com/knirvcorp/syncbase/internal/channel"
	"github.com/knirvcorp/syncbase/internal/clock"
	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/ephemeral"
)

// DefaultMaxHops bounds ephemeral and forwarded-update amplification —
// each hop a message takes between peers decrements it by one, and a
// peer never forwards a message that has reached zero.
const DefaultMaxHops = 2

// Msg is any event the Synchronizer can react to: a message received
// over a channel, or an internal event raised by the local process.
type Msg interface{ isMsg() }

// --- channel protocol messages (travel over the wire as wire.ChannelMsg) ---

type EstablishRequest struct {
	ChannelID int64
	PeerID    string
	Token     string
	// Signature attests PeerID's identity over (ChannelID, PeerID,
	// Token); internal/executor signs it on the way out and verifies
	// it on the way in, so the reducer itself never touches key
	// material — a signature the resolver rejects never reaches
	// Update at all.
	Signature []byte
}

type EstablishResponse struct {
	ChannelID int64
	PeerID    string
	Accepted  bool
	Signature []byte
}

type DirectoryRequest struct {
	ChannelID int64
}

type DirectoryResponse struct {
	ChannelID int64
	DocIDs    []string
}

type SyncRequest struct {
	ChannelID int64
	DocID     string
	Version   clock.VersionVector
}

type SyncResponse struct {
	ChannelID int64
	DocID     string
	Mode      docregistry.ExportMode
	Payload   []byte
	// Version is the exporting peer's document version at the moment
	// Payload was produced — storage-kind channels use it to derive
	// the versionTag half of the persisted update key (6.5); a plain
	// network peer never needs to look at it.
	Version clock.VersionVector
}

type EphemeralMsg struct {
	ChannelID int64
	DocID     string
	Namespace string
	Fields    map[string]ephemeral.Value
	Hops      int
}

// Batch wraps multiple channel messages that the outbound batcher
// coalesced into a single wire send; receiving a Batch just means
// re-dispatching each inner message through Update in order.
type Batch struct {
	ChannelID int64
	Messages  []Msg
}

func (EstablishRequest) isMsg()  {}
func (EstablishResponse) isMsg() {}
func (DirectoryRequest) isMsg()  {}
func (DirectoryResponse) isMsg() {}
func (SyncRequest) isMsg()       {}
func (SyncResponse) isMsg()      {}
func (EphemeralMsg) isMsg()      {}
func (Batch) isMsg()             {}

// --- internal (non-wire) messages ---

// ChannelAdded fires when the channel directory allocates a channel.
type ChannelAdded struct {
	Channel *channel.Channel
}

// ChannelRemoved fires when a channel transitions to Removed.
type ChannelRemoved struct {
	Channel *channel.Channel
}

// EstablishChannel is the local intent to open a channel to a peer —
// the Synchronizer's caller (or a reconnect policy) raises this.
type EstablishChannel struct {
	PeerID string
}

// DocEnsure is the local intent to start tracking and syncing a
// document, raised by pkg/syncbase.Repo.Get.
type DocEnsure struct {
	DocID string
}

// LocalDocChange fires from a document's SubscribeLocalUpdates
// callback — a local Handle.change(fn) commit happened.
type LocalDocChange struct {
	DocID string
}

// DocImported fires after a sync-response (from a peer, or replayed
// from storage by Repo.Get) has been merged into a document, so the
// Synchronizer can fan the update
// out to every other established, permitted channel without echoing
// it back to the sender.
type DocImported struct {
	DocID         string
	FromChannelID int64
	// FromPeerID is the peer the update arrived from, if resolvable —
	// echo-suppression in pushDocToChannels keys on this, not
	// FromChannelID, since one peer may be reachable over more than one
	// established channel (3.2).
	FromPeerID string
}

// DocDelete is the local intent to stop tracking a document.
type DocDelete struct {
	DocID string
}

// Heartbeat drives periodic housekeeping: ephemeral expiry sweep and
// a full presence rebroadcast for every tracked (doc, namespace).
type Heartbeat struct {
	NowMillis int64
}

// LocalPresenceChange fires after a local Handle.presence.set() write,
// triggering a namespace-scoped ephemeral broadcast.
type LocalPresenceChange struct {
	DocID     string
	Namespace string
}

func (ChannelAdded) isMsg()        {}
func (ChannelRemoved) isMsg()      {}
func (EstablishChannel) isMsg()    {}
func (DocEnsure) isMsg()           {}
func (LocalDocChange) isMsg()      {}
func (DocImported) isMsg()         {}
func (DocDelete) isMsg()           {}
func (Heartbeat) isMsg()           {}
func (LocalPresenceChange) isMsg() {}
