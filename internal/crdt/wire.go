package crdt

import (
	"encoding/json"
	"fmt"

	"github.com/knirvcorp/syncbase/internal/clock"
)

// docWire is the on-the-wire shape for both Export modes: a snapshot
// carries every register and element; an update carries only the ones
// newer than the requested frontier. Merge-on-import is identical
// either way, which is what makes Import idempotent and order
// independent regardless of which mode produced the bytes.
type docWire struct {
	Registers map[string]*register `json:"registers"`
	Sequences map[string]*sequence `json:"sequences"`
	Vector    clock.VersionVector  `json:"vector"`
}

// Export serializes the document. In ExportSnapshot mode the full
// state is returned. In ExportUpdate mode only registers and sequence
// elements stamped after the caller's from frontier are included —
// from is typically the requester's own Version().
func (d *Doc) Export(mode ExportMode, from clock.VersionVector) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wire := docWire{
		Registers: make(map[string]*register),
		Sequences: make(map[string]*sequence),
		Vector:    clock.Clone(d.vector),
	}

	includeStamp := func(s stamp) bool {
		if mode == ExportSnapshot || from == nil {
			return true
		}
		return s.Seq > from[s.Peer]
	}

	for field, reg := range d.registers {
		if includeStamp(reg.Stamp) {
			wire.Registers[field] = reg
		}
	}

	for field, seq := range d.sequences {
		filtered := newSequence()
		for id, el := range seq.Elements {
			if includeStamp(id) {
				filtered.Elements[id] = el
			}
		}
		if len(filtered.Elements) > 0 {
			wire.Sequences[field] = filtered
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("crdt: export: %w", err)
	}
	return data, nil
}

// Import merges externally-produced state (from either Export mode)
// into the document. Merge is commutative, associative, and
// idempotent: applying the same bytes twice, or two updates in either
// order, converges to the same state. Import never fires local-update
// subscribers.
func (d *Doc) Import(data []byte) error {
	var wire docWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("crdt: import: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for field, incoming := range wire.Registers {
		existing, ok := d.registers[field]
		if !ok || registerWins(incoming, existing) {
			d.registers[field] = incoming
		}
	}

	for field, incomingSeq := range wire.Sequences {
		seq := d.ensureSequence(field)
		for id, incomingEl := range incomingSeq.Elements {
			if existing, ok := seq.Elements[id]; ok {
				existing.Deleted = existing.Deleted || incomingEl.Deleted
				continue
			}
			seq.Elements[id] = incomingEl
		}
	}

	d.vector = clock.Merge(d.vector, wire.Vector)
	return nil
}

// registerWins reports whether incoming should replace existing,
// mirroring the teacher's ResolveConflict tie-break: the higher
// timestamp wins outright, and equal timestamps fall back to comparing
// peer ids so every replica reaches the same decision.
func registerWins(incoming, existing *register) bool {
	if incoming.Timestamp != existing.Timestamp {
		return incoming.Timestamp > existing.Timestamp
	}
	return incoming.Stamp.Peer >= existing.Stamp.Peer
}
