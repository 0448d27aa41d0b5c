package sync

import "github.com/knirvcorp/syncbase/internal/ephemeral"

// Cmd is a side effect Update asks internal/executor to carry out.
type Cmd interface{ isCmd() }

// None is the zero-effect command; Update returns it when a message
// needs no follow-up action.
type None struct{}

// Many bundles zero or more commands that should all run — the
// executor's cmd/batch.
type Many struct {
	Cmds []Cmd
}

// SendMessage asks the executor to encode and transmit msg on an
// already-established channel.
type SendMessage struct {
	ChannelID int64
	Msg       Msg
}

// SendEstablishmentMessage is SendMessage's counterpart for channels
// that are not yet Established — the establish-request/response
// handshake itself, which must go out even though the channel's
// established-ness is exactly what it's negotiating.
type SendEstablishmentMessage struct {
	ChannelID int64
	Msg       Msg
}

// SubscribeDoc asks the executor to install a document's local-update
// subscription (wired to dispatch LocalDocChange back into Update).
type SubscribeDoc struct {
	DocID string
}

// ImportDocData asks the executor to merge exported CRDT bytes into a
// tracked document, then dispatch DocImported once applied.
type ImportDocData struct {
	DocID         string
	Data          []byte
	FromChannelID int64
	// FromPeerID is the resolved PeerID of FromChannelID at the moment
	// of import, carried through to DocImported so echo-suppression can
	// key on the peer rather than the one channel the update arrived on.
	FromPeerID string
}

// BroadcastEphemeralBatch asks the executor to send every non-expired
// field of a (doc, namespace) to every established, permitted channel.
type BroadcastEphemeralBatch struct {
	DocID     string
	Namespace string
}

// BroadcastEphemeralNamespace is the narrower form raised by a single
// local presence write — only that namespace's current snapshot goes
// out, to the channels permitted to see it.
type BroadcastEphemeralNamespace struct {
	DocID     string
	Namespace string
}

// ApplyEphemeral asks the executor to merge received presence fields
// into the local ephemeral store.
type ApplyEphemeral struct {
	DocID     string
	Namespace string
	Fields    map[string]ephemeral.Value
}

// Dispatch asks the executor to feed another message back into Update
// — used when handling one message determines a second, logically
// distinct message must also be processed (e.g. DocImported after
// ImportDocData completes).
type Dispatch struct {
	Msg Msg
}

// Log asks the executor to emit a structured log line.
type Log struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func (None) isCmd()                        {}
func (Many) isCmd()                        {}
func (SendMessage) isCmd()                 {}
func (SendEstablishmentMessage) isCmd()    {}
func (SubscribeDoc) isCmd()                {}
func (ImportDocData) isCmd()               {}
func (BroadcastEphemeralBatch) isCmd()     {}
func (BroadcastEphemeralNamespace) isCmd() {}
func (ApplyEphemeral) isCmd()              {}
func (Dispatch) isCmd()                    {}
func (Log) isCmd()                         {}
