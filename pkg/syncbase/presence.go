package syncbase

import (
	"context"
	"time"

	"github.com/knirvcorp/syncbase/internal/sync"
)

// Presence is a document's ephemeral, never-persisted state: spec
// §6.4's `Handle.presence.set/.get/.subscribe/.self/.peers`.
type Presence struct {
	repo  *Repo
	docID string
}

// Set writes field in namespace as this peer's own (timerless)
// presence value and broadcasts it to every established, permitted
// channel.
func (p *Presence) Set(namespace, field string, value []byte) {
	now := time.Now().UnixMilli()
	p.repo.model.Ephemeral.Set(p.docID, namespace, field, value, now, true, 0)

	key := presenceKey{DocID: p.docID, Namespace: namespace}
	p.repo.mu.Lock()
	bucket, ok := p.repo.selfPresence[key]
	if !ok {
		bucket = make(map[string][]byte)
		p.repo.selfPresence[key] = bucket
	}
	bucket[field] = value
	p.repo.mu.Unlock()

	p.repo.exec.Dispatch(context.Background(), sync.LocalPresenceChange{DocID: p.docID, Namespace: namespace})
}

// Get reads one field's current, non-expired value.
func (p *Presence) Get(namespace, field string) ([]byte, bool) {
	return p.repo.model.Ephemeral.Get(p.docID, namespace, field, time.Now().UnixMilli())
}

// Self returns every field this peer itself has Set in namespace.
func (p *Presence) Self(namespace string) map[string][]byte {
	key := presenceKey{DocID: p.docID, Namespace: namespace}
	p.repo.mu.Lock()
	defer p.repo.mu.Unlock()
	out := make(map[string][]byte, len(p.repo.selfPresence[key]))
	for field, v := range p.repo.selfPresence[key] {
		out[field] = v
	}
	return out
}

// Peers returns every non-expired field in namespace learned from a
// remote peer — the snapshot minus whatever this peer has itself Set.
func (p *Presence) Peers(namespace string) map[string][]byte {
	now := time.Now().UnixMilli()
	snapshot := p.repo.model.Ephemeral.Snapshot(p.docID, namespace, now)

	key := presenceKey{DocID: p.docID, Namespace: namespace}
	p.repo.mu.Lock()
	self := p.repo.selfPresence[key]
	p.repo.mu.Unlock()

	out := make(map[string][]byte, len(snapshot))
	for field, v := range snapshot {
		if _, isSelf := self[field]; isSelf {
			continue
		}
		out[field] = v.Data
	}
	return out
}

// Subscribe registers cb to fire whenever a remote peer's presence
// field in namespace is applied. Returns an unsubscribe func.
func (p *Presence) Subscribe(namespace string, cb func(field string, value []byte)) (unsubscribe func()) {
	key := presenceKey{DocID: p.docID, Namespace: namespace}
	p.repo.mu.Lock()
	idx := len(p.repo.presenceSubs[key])
	p.repo.presenceSubs[key] = append(p.repo.presenceSubs[key], cb)
	p.repo.mu.Unlock()

	return func() {
		p.repo.mu.Lock()
		defer p.repo.mu.Unlock()
		subs := p.repo.presenceSubs[key]
		if idx < len(subs) {
			subs[idx] = nil
		}
	}
}
