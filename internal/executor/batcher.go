package executor

import (
	stdsync "sync"

	"github.com/knirvcorp/syncbase/internal/sync"
)

// Batcher is the outbound batcher of spec section 4.9: every
// command-handler call to queue a send appends to a per-channel
// buffer, and Flush drains it once per update pass — zero messages go
// nowhere, exactly one goes out as itself, two or more are wrapped
// into a single channel/batch envelope. Grounded on the teacher's
// NetworkManager broadcast fan-out, generalized from "send
// immediately" to "buffer until the pass settles".
type Batcher struct {
	mu      stdsync.Mutex
	pending map[int64][]sync.Msg
}

func NewBatcher() *Batcher {
	return &Batcher{pending: make(map[int64][]sync.Msg)}
}

// Queue appends msg to channelID's buffer.
func (b *Batcher) Queue(channelID int64, msg sync.Msg) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[channelID] = append(b.pending[channelID], msg)
}

// Flush snapshots and clears the whole buffer before returning, so a
// send callback that synchronously queues another message (a
// synchronous adapter write, say) lands in the next pass instead of
// being silently dropped or appended to a buffer already being sent.
func (b *Batcher) Flush() map[int64]sync.Msg {
	b.mu.Lock()
	snapshot := b.pending
	b.pending = make(map[int64][]sync.Msg)
	b.mu.Unlock()

	out := make(map[int64]sync.Msg, len(snapshot))
	for channelID, msgs := range snapshot {
		switch len(msgs) {
		case 0:
			continue
		case 1:
			out[channelID] = msgs[0]
		default:
			out[channelID] = sync.Batch{ChannelID: channelID, Messages: msgs}
		}
	}
	return out
}
