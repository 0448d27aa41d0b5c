package wire

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/knirvcorp/syncbase/internal/syncerr"
)

// DefaultStaleTimeout is how long a fragment group waits for its
// remaining pieces before Sweep discards it.
const DefaultStaleTimeout = 60 * time.Second

type fragmentGroup struct {
	total    int
	received map[int][]byte
	lastSeen time.Time
}

// Reassembler reconstructs complete payloads from a stream of wire
// frames, which may interleave fragments from multiple groups and
// arrive with fragments out of order.
type Reassembler struct {
	mu           sync.Mutex
	groups       map[uuid.UUID]*fragmentGroup
	discarded    map[uuid.UUID]time.Time // remembers recently-swept groups so a late straggler errors instead of starting a phantom new group
	staleTimeout time.Duration
}

func NewReassembler() *Reassembler {
	return &Reassembler{
		groups:       make(map[uuid.UUID]*fragmentGroup),
		discarded:    make(map[uuid.UUID]time.Time),
		staleTimeout: DefaultStaleTimeout,
	}
}

// Feed processes one incoming wire frame. It returns the complete
// payload and ok=true as soon as every fragment of its group (or the
// frame itself, if unfragmented) has arrived.
func (r *Reassembler) Feed(frameBytes []byte, now time.Time) (payload []byte, ok bool, err error) {
	body, frag, err := parse(frameBytes)
	if err != nil {
		return nil, false, err
	}
	if frag == nil {
		return body, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, wasDiscarded := r.discarded[frag.groupID]; wasDiscarded {
		return nil, false, fmt.Errorf("%w: group %s", syncerr.ErrStaleFragments, frag.groupID)
	}

	g, exists := r.groups[frag.groupID]
	if !exists {
		g = &fragmentGroup{total: frag.total, received: make(map[int][]byte, frag.total)}
		r.groups[frag.groupID] = g
	}
	g.lastSeen = now
	g.received[frag.index] = frag.chunk

	if len(g.received) < g.total {
		return nil, false, nil
	}

	assembled := make([]byte, 0)
	for i := 0; i < g.total; i++ {
		chunk, have := g.received[i]
		if !have {
			// An out-of-range index can make len(received) reach
			// total without every index present; keep waiting.
			return nil, false, nil
		}
		assembled = append(assembled, chunk...)
	}

	delete(r.groups, frag.groupID)
	return assembled, true, nil
}

// Sweep discards fragment groups that haven't received a new piece
// within the stale timeout, returning how many were discarded. A
// fragment arriving later for a discarded group surfaces
// syncerr.ErrStaleFragments from Feed instead of silently starting a
// new, now-unfinishable group.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	discarded := 0
	for id, g := range r.groups {
		if now.Sub(g.lastSeen) > r.staleTimeout {
			delete(r.groups, id)
			r.discarded[id] = now
			discarded++
		}
	}
	for id, at := range r.discarded {
		if now.Sub(at) > 2*r.staleTimeout {
			delete(r.discarded, id)
		}
	}
	return discarded
}
