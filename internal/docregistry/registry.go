// Package docregistry holds the set of documents a Synchronizer knows
// about. It defines the CrdtDoc interface the sync model depends on —
// the pure reducer in internal/sync depends only on this interface,
// not on internal/crdt's concrete Doc type, so a test double can stand
// in for the reference engine without touching the protocol code.
//
// Grounded on the teacher's internal/database/distributed_database.go,
// whose DistributedDatabase holds a name->*DistributedCollection map;
// here the map is keyed by document id instead of collection name, and
// each entry additionally tracks the local-update unsubscribe func so
// a document can be dropped cleanly.
package docregistry

import (
	"github.com/knirvcorp/syncbase/internal/clock"
	"github.com/knirvcorp/syncbase/internal/crdt"
)

// ExportMode aliases the reference engine's export mode so callers of
// this package never need to import internal/crdt directly.
type ExportMode = crdt.ExportMode

const (
	ExportSnapshot = crdt.ExportSnapshot
	ExportUpdate   = crdt.ExportUpdate
)

// CrdtDoc is the opaque CRDT document surface the Synchronizer relies
// on. internal/crdt.Doc is its reference implementation; a test double
// only needs to match this method set.
type CrdtDoc interface {
	SetPeerID(peerID string)
	Version() clock.VersionVector
	Export(mode ExportMode, from clock.VersionVector) ([]byte, error)
	Import(data []byte) error
	SubscribeLocalUpdates(cb func()) (unsubscribe func())
}

// Entry is one tracked document plus its local-update subscription.
type Entry struct {
	DocID       string
	Doc         CrdtDoc
	unsubscribe func()
}

// Registry is the Synchronizer's per-document bookkeeping. It is not
// safe for concurrent use by multiple goroutines without external
// synchronization — the same constraint the Synchronizer's model
// holds for the rest of its state, since all model mutation happens on
// a single owning goroutine (see internal/sync).
type Registry struct {
	docs map[string]*Entry
}

func New() *Registry {
	return &Registry{docs: make(map[string]*Entry)}
}

// Ensure returns the existing entry for docID, or creates one via
// factory, calls SetPeerID, and installs onLocalUpdate as its
// subscription. factory and onLocalUpdate are ignored when the
// document already exists.
func (r *Registry) Ensure(docID, peerID string, factory func() CrdtDoc, onLocalUpdate func(docID string)) *Entry {
	if e, ok := r.docs[docID]; ok {
		return e
	}
	doc := factory()
	doc.SetPeerID(peerID)
	e := &Entry{DocID: docID, Doc: doc}
	e.unsubscribe = doc.SubscribeLocalUpdates(func() { onLocalUpdate(docID) })
	r.docs[docID] = e
	return e
}

func (r *Registry) Get(docID string) (*Entry, bool) {
	e, ok := r.docs[docID]
	return e, ok
}

// Delete removes a document and tears down its subscription.
func (r *Registry) Delete(docID string) {
	if e, ok := r.docs[docID]; ok {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		delete(r.docs, docID)
	}
}

// IDs returns every tracked document id, in no particular order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Len() int { return len(r.docs) }
