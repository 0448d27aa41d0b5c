// Package channel is the Channel Directory: it tracks every logical
// connection to a remote peer through its lifecycle —
// unestablished, established, removed — and hands out the
// monotonically increasing channel ids the wire protocol's frames are
// addressed to.
//
// Grounded on the teacher's internal/network/network_manager.go, whose
// NetworkManager keeps a connections map and a peers map and moves an
// entry from "dialed" to "registered" once its handshake line
// ("KNIRV:<peerID>\n") is read. This package keeps that
// connect-then-register shape but drops the TCP handshake itself —
// establishment here is driven by the Synchronizer's
// establish-request/establish-response protocol, not a raw socket read.
package channel

import (
	"sync"

	"github.com/google/uuid"
)

// State is a channel's position in its lifecycle.
type State int

const (
	Unestablished State = iota
	Established
	Removed
)

func (s State) String() string {
	switch s {
	case Unestablished:
		return "unestablished"
	case Established:
		return "established"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Channel is one tracked connection to a remote peer.
type Channel struct {
	ID      int64
	Token   string // session token minted at creation, carried in the establish handshake
	PeerID  string // populated once the establish handshake resolves the remote identity
	State   State
}

// Directory allocates channel ids and tracks lifecycle state. It is
// owned by the Synchronizer's single update loop and is not safe for
// concurrent mutation from multiple goroutines — the mutex here only
// guards reads made from other goroutines (e.g. a metrics scrape).
type Directory struct {
	mu       sync.Mutex
	channels map[int64]*Channel
	nextID   int64
	onAdded  []func(*Channel)
	onRemove []func(*Channel)
}

func New() *Directory {
	return &Directory{channels: make(map[int64]*Channel)}
}

// Create allocates a new channel in the Unestablished state and fires
// any channelAdded subscribers.
func (d *Directory) Create() *Channel {
	d.mu.Lock()
	d.nextID++
	ch := &Channel{ID: d.nextID, Token: uuid.NewString(), State: Unestablished}
	d.channels[ch.ID] = ch
	subs := append([]func(*Channel){}, d.onAdded...)
	d.mu.Unlock()

	for _, cb := range subs {
		cb(ch)
	}
	return ch
}

// Establish transitions a channel to Established and records the
// remote peer id resolved by the handshake.
func (d *Directory) Establish(id int64, peerID string) (*Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[id]
	if !ok || ch.State == Removed {
		return nil, false
	}
	ch.State = Established
	ch.PeerID = peerID
	return ch, true
}

// Remove transitions a channel to Removed and fires any
// channelRemoved subscribers. Removed channels are retained (not
// deleted from the map) so a stray late frame still resolves to a
// known-dead channel instead of an unknown one.
func (d *Directory) Remove(id int64) (*Channel, bool) {
	d.mu.Lock()
	ch, ok := d.channels[id]
	if !ok || ch.State == Removed {
		d.mu.Unlock()
		return ch, false
	}
	ch.State = Removed
	subs := append([]func(*Channel){}, d.onRemove...)
	d.mu.Unlock()

	for _, cb := range subs {
		cb(ch)
	}
	return ch, true
}

func (d *Directory) Get(id int64) (*Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.channels[id]
	return ch, ok
}

// ByPeer returns the first established channel addressed to peerID,
// if any. Used by the Synchronizer to avoid opening a duplicate
// channel to a peer it is already connected to.
func (d *Directory) ByPeer(peerID string) (*Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.channels {
		if ch.PeerID == peerID && ch.State == Established {
			return ch, true
		}
	}
	return nil, false
}

// All returns every tracked channel, including removed ones.
func (d *Directory) All() []*Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Channel, 0, len(d.channels))
	for _, ch := range d.channels {
		out = append(out, ch)
	}
	return out
}

// OnAdded registers a callback fired synchronously whenever Create
// allocates a new channel.
func (d *Directory) OnAdded(cb func(*Channel)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAdded = append(d.onAdded, cb)
}

// OnRemoved registers a callback fired synchronously whenever a
// channel transitions to Removed.
func (d *Directory) OnRemoved(cb func(*Channel)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onRemove = append(d.onRemove, cb)
}
