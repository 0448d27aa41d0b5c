// Package ephemeral is the presence store: small, short-lived,
// per-document key/value state (cursor positions, online markers,
// "who's typing") that is never persisted and never goes through the
// CRDT merge path. Two variants share one implementation — a peer's
// own entries are timerless (they live as long as the process does,
// refreshed by local writes) while entries learned from remote peers
// expire if a heartbeat doesn't refresh them within DefaultTTL.
//
// There is no direct teacher analogue for presence; the merge rule is
// grounded on the same "keep the greater" shape internal/clock.Merge
// uses for version vectors, applied to wall-clock timestamps instead
// of per-peer counters, and the liveness-by-last-seen idea is the one
// the teacher's network_manager.go uses for DHT peer bookkeeping.
package ephemeral

import (
	"sync"
	"time"
)

// DefaultTTL is how long a remote-origin field survives without a
// refreshing write before it is treated as expired.
const DefaultTTL = 30 * time.Second

// Value is one presence field: arbitrary caller-supplied bytes stamped
// with the wall-clock time it was last written.
type Value struct {
	Data      []byte
	Timestamp int64 // unix millis
}

type entry struct {
	Value
	timerless bool
	ttl       time.Duration
}

func (e *entry) expired(now int64) bool {
	if e.timerless || e.ttl == 0 {
		return false
	}
	return now-e.Timestamp > e.ttl.Milliseconds()
}

type docNamespace struct {
	DocID     string
	Namespace string
}

// Store holds every presence field for every (document, namespace)
// this process has seen, whether self-authored or learned from a peer.
type Store struct {
	mu      sync.Mutex
	entries map[docNamespace]map[string]*entry
}

func New() *Store {
	return &Store{entries: make(map[docNamespace]map[string]*entry)}
}

func (s *Store) bucket(docID, namespace string) map[string]*entry {
	key := docNamespace{docID, namespace}
	b, ok := s.entries[key]
	if !ok {
		b = make(map[string]*entry)
		s.entries[key] = b
	}
	return b
}

// Set writes a field. timerless fields (the local peer's own presence)
// never expire on their own; non-timerless fields expire after ttl
// without a refreshing Set or Touch.
func (s *Store) Set(docID, namespace, field string, data []byte, now int64, timerless bool, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bucket(docID, namespace)[field] = &entry{
		Value:     Value{Data: data, Timestamp: now},
		timerless: timerless,
		ttl:       ttl,
	}
}

// Touch refreshes a field's timestamp without changing its value —
// the heartbeat keep-alive a peer sends for its own timerless entries
// so a forwarding peer's copy of them (which IS subject to expiry)
// doesn't age out.
func (s *Store) Touch(docID, namespace, field string, now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.bucket(docID, namespace)[field]
	if !ok {
		return false
	}
	e.Timestamp = now
	return true
}

// Get returns a field's current value, or false if absent or expired.
func (s *Store) Get(docID, namespace, field string, now int64) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.bucket(docID, namespace)[field]
	if !ok || e.expired(now) {
		return nil, false
	}
	return e.Data, true
}

// Snapshot returns every non-expired field in a namespace, keyed by
// field name, for broadcasting to peers.
func (s *Store) Snapshot(docID, namespace string, now int64) map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Value)
	for field, e := range s.bucket(docID, namespace) {
		if !e.expired(now) {
			out[field] = e.Value
		}
	}
	return out
}

// Apply merges remote-origin fields into the store. Every field
// applied this way is non-timerless with DefaultTTL — expiry policy is
// always the receiver's own, regardless of how the sender held it.
// A field only overwrites the local copy if its timestamp is at least
// as new, matching the last-writer-wins rule the CRDT register merge
// uses.
func (s *Store) Apply(docID, namespace string, incoming map[string]Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.bucket(docID, namespace)
	for field, v := range incoming {
		existing, ok := bucket[field]
		if ok && existing.Timestamp > v.Timestamp {
			continue
		}
		bucket[field] = &entry{Value: v, timerless: false, ttl: DefaultTTL}
	}
}

// Namespaces returns every namespace currently holding at least one
// field for docID — used by the heartbeat's periodic full-presence
// rebroadcast to know which (doc, namespace) pairs to resend.
func (s *Store) Namespaces(docID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for key := range s.entries {
		if key.DocID == docID {
			out = append(out, key.Namespace)
		}
	}
	return out
}

// Sweep removes every expired field across every document and
// namespace, returning how many were evicted. Called periodically by
// the command executor's heartbeat timer.
func (s *Store) Sweep(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, bucket := range s.entries {
		for field, e := range bucket {
			if e.expired(now) {
				delete(bucket, field)
				evicted++
			}
		}
		if len(bucket) == 0 {
			delete(s.entries, key)
		}
	}
	return evicted
}
