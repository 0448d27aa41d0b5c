package executor

import "context"

// Sender transmits an already-CBOR-encoded frame on an established
// (or establishing) channel. Concrete transports — the websocket and
// SSE adapters, or the in-process bridge tests use — implement this;
// the executor never touches a socket directly.
type Sender interface {
	Send(ctx context.Context, channelID int64, frame []byte) error
}
