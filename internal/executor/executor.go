// Package executor is the Command Executor of spec section 4.10: the
// side-effecting interpreter that turns the Synchronizer's Cmd values
// into real I/O (wire sends, CRDT import, ephemeral apply, structured
// logs) and owns the run loop that keeps feeding the reducer until a
// single inbound event and everything it triggers has settled.
//
// Grounded on the teacher's internal/network.NetworkManager message
// dispatch loop (setupMessageHandlers / handleMessage), generalized
// from "react to one network event" to "run internal/sync.Update to
// quiescence, then flush the outbound batcher."
package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/knirvcorp/syncbase/internal/channel"
	"github.com/knirvcorp/syncbase/internal/crypto/pqc"
	"github.com/knirvcorp/syncbase/internal/ephemeral"
	"github.com/knirvcorp/syncbase/internal/logging"
	"github.com/knirvcorp/syncbase/internal/monitoring"
	"github.com/knirvcorp/syncbase/internal/sync"
	"github.com/knirvcorp/syncbase/internal/tracing"
	"github.com/knirvcorp/syncbase/internal/wire"
)

// Executor is the Synchronizer's single owning goroutine made
// concrete: every call to Dispatch or Receive must come from the same
// goroutine, matching Model's own single-goroutine-ownership
// contract.
type Executor struct {
	Model   *sync.Model
	Sender  Sender
	Logger  *zap.Logger
	Metrics *monitoring.Metrics
	batcher *Batcher

	// Identity signs this node's own outgoing establish-request and
	// establish-response messages when set. A nil Identity sends them
	// unsigned, which PeerKeys-enforcing peers will then reject.
	Identity *pqc.PQCKeyPair

	// PeerKeys resolves a peer id to the public key its establish
	// messages must be signed with. A nil PeerKeys accepts every
	// establish message regardless of signature, matching the
	// teacher's original token-only handshake trust model.
	PeerKeys func(peerID string) (*pqc.PQCKeyPair, bool)

	// OnDocImported, when set, fires after importDocData successfully
	// merges remote- or storage-origin bytes into a document —
	// pkg/syncbase's Handle.waitForSync resolves pending waiters from
	// this hook rather than polling document state. fromPeerID is the
	// resolved PeerID of fromChannelID at import time, empty if the
	// channel was already gone.
	OnDocImported func(docID string, fromChannelID int64, fromPeerID string)

	// OnEphemeralApplied, when set, fires after an ApplyEphemeral
	// command merges incoming presence fields into the store —
	// pkg/syncbase's Handle.presence.subscribe is built on this hook,
	// since internal/ephemeral.Store itself has no callback mechanism.
	OnEphemeralApplied func(docID, namespace string, fields map[string]ephemeral.Value)
}

// New builds an Executor. sender may be nil (useful for tests that
// only care about reducer behavior and inspect the batcher's output
// indirectly); logger and metrics may be nil, in which case their
// corresponding side effects are silently skipped.
func New(model *sync.Model, sender Sender, logger *logging.Logger, metrics *monitoring.Metrics) *Executor {
	e := &Executor{
		Model:   model,
		Sender:  sender,
		Metrics: metrics,
		batcher: NewBatcher(),
	}
	if logger != nil {
		e.Logger = logger.Logger
	}
	return e
}

// Dispatch is one full update pass: feed msg through the reducer, run
// every command it returns (including any command that synchronously
// re-enters the reducer), drain whatever a document's local-update
// subscription enqueued along the way and run those to quiescence
// too, then flush the outbound batcher exactly once.
func (e *Executor) Dispatch(ctx context.Context, msg sync.Msg) {
	e.runPass(ctx, msg)
	for {
		pending := e.Model.DrainPending()
		if len(pending) == 0 {
			break
		}
		for _, m := range pending {
			e.runPass(ctx, m)
		}
	}
	e.flush(ctx)
	e.updateGauges()
}

// Receive decodes a frame an adapter handed it (already reassembled
// from fragments, if it arrived fragmented) and dispatches the
// message it carries.
func (e *Executor) Receive(ctx context.Context, channelID int64, data []byte) {
	cm, err := wire.DecodeChannelMsg(data)
	if err != nil {
		e.log(sync.Log{Level: "warn", Message: "decode failed", Fields: map[string]interface{}{"channel_id": channelID, "error": err.Error()}})
		return
	}
	msg, err := decodeMsg(cm)
	if err != nil {
		e.log(sync.Log{Level: "warn", Message: "decode failed", Fields: map[string]interface{}{"channel_id": channelID, "error": err.Error()}})
		return
	}
	if !e.verifyInbound(msg) {
		e.log(sync.Log{Level: "warn", Message: "establish signature rejected", Fields: map[string]interface{}{"channel_id": channelID, "type": cm.Type}})
		return
	}
	if e.Metrics != nil {
		e.Metrics.MessagesReceived.WithLabelValues(cm.Type).Inc()
		e.Metrics.BytesReceived.Add(float64(len(data)))
		if _, ok := msg.(sync.SyncRequest); ok {
			e.Metrics.SyncRequests.Inc()
		}
	}
	e.Dispatch(ctx, msg)
}

// RunHeartbeat dispatches sync.Heartbeat on every tick of interval
// until ctx is cancelled — the global presence keep-alive of spec
// section 4.8, defaulting to 10s per pkg/syncbase.Options.
func (e *Executor) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.Dispatch(ctx, sync.Heartbeat{NowMillis: now.UnixMilli()})
		}
	}
}

func (e *Executor) runPass(ctx context.Context, msg sync.Msg) {
	start := time.Now()
	_, cmd := sync.Update(e.Model, msg)
	if e.Metrics != nil {
		e.Metrics.CommandDispatchLatency.Observe(time.Since(start).Seconds())
	}
	e.execute(ctx, cmd)
}

func (e *Executor) execute(ctx context.Context, cmd sync.Cmd) {
	switch c := cmd.(type) {
	case sync.None:
		// no-op

	case sync.Many:
		for _, inner := range c.Cmds {
			e.execute(ctx, inner)
		}

	case sync.SendMessage:
		e.batcher.Queue(c.ChannelID, c.Msg)

	case sync.SendEstablishmentMessage:
		e.send(ctx, c.ChannelID, c.Msg)

	case sync.SubscribeDoc:
		// The subscription itself is installed inline by Update's
		// DocEnsure handler — docregistry.Registry.Ensure takes the
		// callback at document-creation time, before a command could
		// run. This command exists so the subscription is observable
		// and logged like every other side effect.
		if e.Logger != nil {
			e.Logger.Debug("doc subscription installed", zap.String("doc_id", c.DocID))
		}

	case sync.ImportDocData:
		e.importDocData(ctx, c)

	case sync.BroadcastEphemeralBatch:
		e.broadcastEphemeral(ctx, c.DocID, c.Namespace)

	case sync.BroadcastEphemeralNamespace:
		e.broadcastEphemeral(ctx, c.DocID, c.Namespace)

	case sync.ApplyEphemeral:
		e.Model.Ephemeral.Apply(c.DocID, c.Namespace, c.Fields)
		if e.OnEphemeralApplied != nil {
			e.OnEphemeralApplied(c.DocID, c.Namespace, c.Fields)
		}

	case sync.Dispatch:
		e.runPass(ctx, c.Msg)

	case sync.Log:
		e.log(c)

	default:
		if e.Logger != nil {
			e.Logger.Warn("unhandled command", zap.String("type", fmt.Sprintf("%T", cmd)))
		}
	}
}

func (e *Executor) importDocData(ctx context.Context, c sync.ImportDocData) {
	entry, ok := e.Model.Docs.Get(c.DocID)
	if !ok {
		e.log(sync.Log{Level: "warn", Message: "import for unknown document", Fields: map[string]interface{}{"doc_id": c.DocID}})
		return
	}
	spanCtx, span := tracing.StartSpan(ctx, "crdt.import", attribute.String("doc_id", c.DocID))
	err := entry.Doc.Import(c.Data)
	span.End()
	if err != nil {
		e.log(sync.Log{Level: "error", Message: "import failed", Fields: map[string]interface{}{"doc_id": c.DocID, "error": err.Error()}})
		return
	}
	e.runPass(spanCtx, sync.DocImported{DocID: c.DocID, FromChannelID: c.FromChannelID, FromPeerID: c.FromPeerID})
	if e.OnDocImported != nil {
		e.OnDocImported(c.DocID, c.FromChannelID, c.FromPeerID)
	}
}

// broadcastEphemeral fans out (docID, namespace)'s current snapshot to
// every permitted established channel, refreshing each field's
// timestamp to now first — spec 4.8's encodeAllFresh, which is what
// lets a live sender's heartbeat keep a forwarding peer's copy from
// expiring even though the forwarding peer never touches it directly.
func (e *Executor) broadcastEphemeral(ctx context.Context, docID, namespace string) {
	now := time.Now().UnixMilli()
	snapshot := e.Model.Ephemeral.Snapshot(docID, namespace, now)
	if len(snapshot) == 0 {
		return
	}
	fresh := make(map[string]ephemeral.Value, len(snapshot))
	for field, v := range snapshot {
		e.Model.Ephemeral.Touch(docID, namespace, field, now)
		fresh[field] = ephemeral.Value{Data: v.Data, Timestamp: now}
	}

	for _, ch := range e.Model.PermittedChannels(docID) {
		e.batcher.Queue(ch.ID, sync.EphemeralMsg{
			ChannelID: ch.ID,
			DocID:     docID,
			Namespace: namespace,
			Fields:    fresh,
			Hops:      sync.DefaultMaxHops,
		})
		if e.Metrics != nil {
			e.Metrics.EphemeralBroadcasts.Inc()
		}
	}
}

func (e *Executor) send(ctx context.Context, channelID int64, msg sync.Msg) {
	msg = e.signOutbound(msg)
	cm, err := encodeMsg(msg)
	if err != nil {
		e.log(sync.Log{Level: "error", Message: "encode failed", Fields: map[string]interface{}{"channel_id": channelID, "error": err.Error()}})
		return
	}
	data, err := wire.EncodeChannelMsg(cm)
	if err != nil {
		e.log(sync.Log{Level: "error", Message: "wire encode failed", Fields: map[string]interface{}{"channel_id": channelID, "error": err.Error()}})
		return
	}
	if e.Sender == nil {
		return
	}
	if err := e.Sender.Send(ctx, channelID, data); err != nil {
		e.log(sync.Log{Level: "error", Message: "send failed", Fields: map[string]interface{}{"channel_id": channelID, "error": err.Error()}})
		return
	}
	if e.Metrics != nil {
		e.Metrics.MessagesSent.WithLabelValues(cm.Type).Inc()
		e.Metrics.BytesSent.Add(float64(len(data)))
	}
}

func (e *Executor) flush(ctx context.Context) {
	for channelID, msg := range e.batcher.Flush() {
		e.send(ctx, channelID, msg)
	}
}

func (e *Executor) updateGauges() {
	if e.Metrics == nil {
		return
	}
	established := 0
	peers := make(map[string]struct{})
	for _, ch := range e.Model.Channels.All() {
		if ch.State == channel.Established {
			established++
			peers[ch.PeerID] = struct{}{}
		}
	}
	e.Metrics.EstablishedChannels.Set(float64(established))
	e.Metrics.SubscribedPeers.Set(float64(len(peers)))
}

func (e *Executor) log(c sync.Log) {
	if e.Logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(c.Fields))
	for k, v := range c.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch c.Level {
	case "debug":
		e.Logger.Debug(c.Message, fields...)
	case "warn":
		e.Logger.Warn(c.Message, fields...)
	case "error":
		e.Logger.Error(c.Message, fields...)
	default:
		e.Logger.Info(c.Message, fields...)
	}
}
