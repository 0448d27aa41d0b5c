package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/knirvcorp/syncbase/internal/executor"
)

// Router multiplexes a single Executor's outbound sends across
// however many transports a repo has open — one real socket, SSE
// stream, or storage adapter per channel id. Grounded on
// network_manager.go's `connections map[string]*Connection`, keyed
// here by channel id instead of peer id, since one process routinely
// holds channels of more than one transport kind at once.
type Router struct {
	mu      sync.RWMutex
	senders map[int64]executor.Sender
}

// NewRouter builds an empty router. Register a channel's concrete
// Sender as soon as its transport is ready to carry frames.
func NewRouter() *Router {
	return &Router{senders: make(map[int64]executor.Sender)}
}

// Register associates channelID with the Sender that should carry its
// outbound frames. Re-registering a channel id replaces the prior
// Sender, which is how a reconnect picks up where a dropped transport
// left off without a new channel id.
func (r *Router) Register(channelID int64, sender executor.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channelID] = sender
}

// Unregister removes a channel id, e.g. once its transport's AdapterFault
// has been observed and the channel removed from the directory.
func (r *Router) Unregister(channelID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.senders, channelID)
}

// Send implements executor.Sender by forwarding to whichever concrete
// transport is currently registered for channelID.
func (r *Router) Send(ctx context.Context, channelID int64, data []byte) error {
	r.mu.RLock()
	sender, ok := r.senders[channelID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("router: no transport registered for channel %d", channelID)
	}
	return sender.Send(ctx, channelID, data)
}
