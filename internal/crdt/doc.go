// Package crdt is the reference CRDT engine used to exercise and test
// the Synchronizer. The Synchronizer itself never imports this package
// directly — it depends only on the docregistry.CrdtDoc interface
// (internal/docregistry) — this is one concrete implementation of that
// interface, a last-writer-wins field map plus a causal-tree sequence
// CRDT for text fields. Defining "the" CRDT algorithm is explicitly a
// non-goal of the system this engine's caller is part of; this package
// exists only so the Synchronizer's sync protocol has something real
// to import/export/merge in tests.
//
// Conflict resolution is grounded on the teacher's
// resolver.ResolveConflict: ties between concurrent writes are broken
// by wall-clock timestamp, then by peer id.
package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/knirvcorp/syncbase/internal/clock"
)

// ExportMode selects a full snapshot or a delta relative to a frontier.
type ExportMode int

const (
	ExportSnapshot ExportMode = iota
	ExportUpdate
)

// stamp identifies the peer and per-peer sequence number an operation
// was created under; it doubles as a sequence-element identifier.
type stamp struct {
	Peer string `json:"peer"`
	Seq  int64  `json:"seq"`
}

// less orders two stamps for causal-tree sibling ordering: higher
// sequence number sorts first (inserted "more recently" wins the slot
// immediately after a shared parent), peer id breaks ties.
func (s stamp) less(o stamp) bool {
	if s.Seq != o.Seq {
		return s.Seq > o.Seq
	}
	return s.Peer > o.Peer
}

// MarshalText/UnmarshalText encode a stamp as "peer:seq" so it can key
// the JSON object a sequence's Elements map is exported as.
func (s stamp) MarshalText() ([]byte, error) {
	return []byte(s.Peer + ":" + strconv.FormatInt(s.Seq, 10)), nil
}

func (s *stamp) UnmarshalText(b []byte) error {
	i := bytes.LastIndexByte(b, ':')
	seq, err := strconv.ParseInt(string(b[i+1:]), 10, 64)
	if i < 0 || err != nil {
		return fmt.Errorf("crdt: malformed stamp %q", b)
	}
	s.Peer, s.Seq = string(b[:i]), seq
	return nil
}

type register struct {
	Value     json.RawMessage `json:"value"`
	Stamp     stamp           `json:"stamp"`
	Timestamp int64           `json:"timestamp"`
}

type element struct {
	ID      stamp `json:"id"`
	After   stamp `json:"after"`
	Value   rune  `json:"value"`
	Deleted bool  `json:"deleted,omitempty"`
}

type sequence struct {
	Elements map[stamp]*element `json:"elements"`
}

func newSequence() *sequence { return &sequence{Elements: make(map[stamp]*element)} }

// Doc is a multi-field CRDT document: arbitrary named LWW registers
// plus named text sequences, each independently mergeable.
type Doc struct {
	mu        sync.Mutex
	peerID    string
	vector    clock.VersionVector
	registers map[string]*register
	sequences map[string]*sequence
	subs      []func()
}

// New constructs an empty document. Call SetPeerID before any local
// mutation — the teacher's DistributedDatabase/NetworkManager pairing
// establishes the peer id asynchronously during Initialize(), so the
// CRDT doc is likewise constructed before its peer id is known.
func New() *Doc {
	return &Doc{
		vector:    clock.New(),
		registers: make(map[string]*register),
		sequences: make(map[string]*sequence),
	}
}

func (d *Doc) SetPeerID(peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerID = peerID
}

func (d *Doc) Version() clock.VersionVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clock.Clone(d.vector)
}

func (d *Doc) nextStamp() stamp {
	d.vector[d.peerID] = d.vector[d.peerID] + 1
	return stamp{Peer: d.peerID, Seq: d.vector[d.peerID]}
}

func (d *Doc) notify() {
	d.mu.Lock()
	subs := make([]func(), 0, len(d.subs))
	for _, cb := range d.subs {
		if cb != nil {
			subs = append(subs, cb)
		}
	}
	d.mu.Unlock()
	for _, cb := range subs {
		cb()
	}
}

// SubscribeLocalUpdates registers cb to fire synchronously after every
// local mutation (Set/InsertText/DeleteText) — never after Import, so
// that a remote-induced change can never be mistaken for a local edit
// and re-broadcast as an echo.
func (d *Doc) SubscribeLocalUpdates(cb func()) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := len(d.subs)
	d.subs = append(d.subs, cb)
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if idx < len(d.subs) {
			d.subs[idx] = nil
		}
	}
}

// Set writes a named register field with last-writer-wins semantics.
func (d *Doc) Set(field string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("crdt: marshal field %q: %w", field, err)
	}
	d.mu.Lock()
	reg := &register{Value: raw, Stamp: d.nextStamp(), Timestamp: time.Now().UnixMilli()}
	d.registers[field] = reg
	d.mu.Unlock()
	d.notify()
	return nil
}

// Get reads a named register field.
func (d *Doc) Get(field string, out interface{}) (bool, error) {
	d.mu.Lock()
	reg, ok := d.registers[field]
	d.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(reg.Value, out); err != nil {
		return true, err
	}
	return true, nil
}

func (d *Doc) ensureSequence(field string) *sequence {
	seq, ok := d.sequences[field]
	if !ok {
		seq = newSequence()
		d.sequences[field] = seq
	}
	return seq
}

// InsertText inserts s at visible-character position pos in the named
// text field, one causal-tree element per rune.
func (d *Doc) InsertText(field string, pos int, s string) {
	if s == "" {
		return
	}
	d.mu.Lock()
	seq := d.ensureSequence(field)
	for i, r := range []rune(s) {
		visible := visibleOrder(seq)
		target := pos + i
		var after stamp
		switch {
		case target <= 0:
			after = stamp{}
		case target-1 < len(visible):
			after = visible[target-1]
		default:
			after = visible[len(visible)-1]
		}
		id := d.nextStamp()
		seq.Elements[id] = &element{ID: id, After: after, Value: r}
	}
	d.mu.Unlock()
	d.notify()
}

// DeleteText tombstones length visible characters starting at pos.
func (d *Doc) DeleteText(field string, pos, length int) {
	d.mu.Lock()
	seq, ok := d.sequences[field]
	if ok {
		visible := visibleOrder(seq)
		for i := 0; i < length && pos+i < len(visible); i++ {
			seq.Elements[visible[pos+i]].Deleted = true
		}
	}
	d.mu.Unlock()
	d.notify()
}

// Text returns the current visible contents of a text field.
func (d *Doc) Text(field string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq, ok := d.sequences[field]
	if !ok {
		return ""
	}
	visible := visibleOrder(seq)
	out := make([]rune, 0, len(visible))
	for _, id := range visible {
		out = append(out, seq.Elements[id].Value)
	}
	return string(out)
}

// visibleOrder returns the non-deleted elements of seq in causal-tree
// pre-order: children of a parent are visited in descending stamp
// order (the most recently inserted sibling lands immediately after
// the shared parent), each child's own subtree fully before its next
// sibling. This is the standard RGA traversal and gives every replica
// that has merged the same element set the same resulting order,
// regardless of arrival order.
func visibleOrder(seq *sequence) []stamp {
	children := make(map[stamp][]stamp, len(seq.Elements))
	for id, el := range seq.Elements {
		children[el.After] = append(children[el.After], id)
	}
	for parent := range children {
		kids := children[parent]
		sort.Slice(kids, func(i, j int) bool { return kids[i].less(kids[j]) })
		children[parent] = kids
	}

	var all []stamp
	var walk func(parent stamp)
	walk = func(parent stamp) {
		for _, id := range children[parent] {
			all = append(all, id)
			walk(id)
		}
	}
	walk(stamp{})

	visible := make([]stamp, 0, len(all))
	for _, id := range all {
		if !seq.Elements[id].Deleted {
			visible = append(visible, id)
		}
	}
	return visible
}
