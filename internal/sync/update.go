package sync

import (
	"fmt"

	"github.com/knirvcorp/syncbase/internal/channel"
	"github.com/knirvcorp/syncbase/internal/clock"
	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/syncerr"
)

// Update is the Synchronizer's single entry point: every channel
// message and every internal event passes through here, mutates m in
// place, and returns the side effects the executor must carry out.
// Update itself never blocks and never fails; protocol-level rejection
// (a bad peer id, a denied permission) is expressed as an outgoing
// message or a Log command, never a Go error return, because there is
// no caller positioned to handle one — the channel that produced a
// malformed message doesn't stop existing because of it.
func Update(m *Model, msg Msg) (*Model, Cmd) {
	switch t := msg.(type) {

	case ChannelAdded:
		return m, Log{Level: "debug", Message: "channel added", Fields: map[string]interface{}{"channel_id": t.Channel.ID}}

	case ChannelRemoved:
		for key := range m.awareness {
			if key.ChannelID == t.Channel.ID {
				delete(m.awareness, key)
			}
		}
		if peer, ok := m.Peers[t.Channel.PeerID]; ok {
			delete(peer.Channels, t.Channel.ID)
		}
		return m, Log{Level: "debug", Message: "channel removed", Fields: map[string]interface{}{"channel_id": t.Channel.ID}}

	case EstablishChannel:
		ch := m.Channels.Create()
		req := EstablishRequest{ChannelID: ch.ID, PeerID: m.SelfPeerID, Token: ch.Token}
		return m, SendEstablishmentMessage{ChannelID: ch.ID, Msg: req}

	case EstablishRequest:
		return m, handleEstablishRequest(m, t)

	case EstablishResponse:
		return m, handleEstablishResponse(m, t)

	case DirectoryRequest:
		return m, handleDirectoryRequest(m, t)

	case DirectoryResponse:
		return m, handleDirectoryResponse(m, t)

	case SyncRequest:
		return m, handleSyncRequest(m, t)

	case SyncResponse:
		fromPeerID := ""
		if ch, ok := m.Channels.Get(t.ChannelID); ok {
			fromPeerID = ch.PeerID
		}
		return m, ImportDocData{DocID: t.DocID, Data: t.Payload, FromChannelID: t.ChannelID, FromPeerID: fromPeerID}

	case LocalDocChange:
		return m, pushDocToChannels(m, t.DocID, "")

	case DocImported:
		fromPeerID := t.FromPeerID
		if fromPeerID == "" {
			if ch, ok := m.Channels.Get(t.FromChannelID); ok {
				fromPeerID = ch.PeerID
			}
		}
		return m, pushDocToChannels(m, t.DocID, fromPeerID)

	case DocEnsure:
		m.Docs.Ensure(t.DocID, m.SelfPeerID, m.NewDoc, func(docID string) {
			m.Enqueue(LocalDocChange{DocID: docID})
		})
		return m, SubscribeDoc{DocID: t.DocID}

	case DocDelete:
		m.Docs.Delete(t.DocID)
		for key := range m.awareness {
			if key.DocID == t.DocID {
				delete(m.awareness, key)
			}
		}
		return m, None{}

	case EphemeralMsg:
		return m, handleEphemeralMsg(m, t)

	case LocalPresenceChange:
		return m, BroadcastEphemeralNamespace{DocID: t.DocID, Namespace: t.Namespace}

	case Batch:
		var cmds []Cmd
		for _, inner := range t.Messages {
			_, c := Update(m, inner)
			cmds = append(cmds, c)
		}
		return m, wrapMany(cmds)

	case Heartbeat:
		return m, handleHeartbeat(m, t)

	default:
		return m, Log{Level: "warn", Message: "unhandled message type", Fields: map[string]interface{}{"type": fmt.Sprintf("%T", msg)}}
	}
}

// Enqueue records a message raised from outside the normal Update
// call — chiefly a document's local-update subscription firing — for
// the executor's run loop to feed back through Update once the
// current pass finishes. Safe to call only from the Synchronizer's
// single owning goroutine, same as every other Model mutation.
func (m *Model) Enqueue(msg Msg) {
	m.pending = append(m.pending, msg)
}

// DrainPending removes and returns every message Enqueue has
// accumulated since the last drain.
func (m *Model) DrainPending() []Msg {
	pending := m.pending
	m.pending = nil
	return pending
}

func isValidPeerID(s string) bool {
	if s == "" {
		return false
	}
	if len(s) > 1 && s[0] == '0' {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func handleEstablishRequest(m *Model, req EstablishRequest) Cmd {
	if !isValidPeerID(req.PeerID) {
		return Many{Cmds: []Cmd{
			Log{Level: "warn", Message: syncerr.ErrCorruptPeerID.Error(), Fields: map[string]interface{}{"channel_id": req.ChannelID}},
			SendEstablishmentMessage{ChannelID: req.ChannelID, Msg: EstablishResponse{ChannelID: req.ChannelID, PeerID: m.SelfPeerID, Accepted: false}},
		}}
	}

	peer := m.ensurePeer(req.PeerID)
	ch, ok := m.Channels.Establish(req.ChannelID, req.PeerID)
	if !ok {
		return Log{Level: "warn", Message: "establish request for unknown channel", Fields: map[string]interface{}{"channel_id": req.ChannelID}}
	}
	peer.Channels[ch.ID] = true

	cmds := append([]Cmd{
		SendEstablishmentMessage{ChannelID: req.ChannelID, Msg: EstablishResponse{ChannelID: req.ChannelID, PeerID: m.SelfPeerID, Accepted: true}},
	}, locallyEnsuredSyncRequests(m, ch)...)
	return wrapMany(cmds)
}

func handleEstablishResponse(m *Model, resp EstablishResponse) Cmd {
	if !resp.Accepted {
		m.Channels.Remove(resp.ChannelID)
		return Log{Level: "info", Message: "establishment rejected", Fields: map[string]interface{}{"channel_id": resp.ChannelID}}
	}
	if !isValidPeerID(resp.PeerID) {
		m.Channels.Remove(resp.ChannelID)
		return Log{Level: "warn", Message: syncerr.ErrCorruptPeerID.Error(), Fields: map[string]interface{}{"channel_id": resp.ChannelID}}
	}
	peer := m.ensurePeer(resp.PeerID)
	ch, ok := m.Channels.Establish(resp.ChannelID, resp.PeerID)
	if !ok {
		return Log{Level: "warn", Message: "establish response for unknown channel", Fields: map[string]interface{}{"channel_id": resp.ChannelID}}
	}
	peer.Channels[ch.ID] = true

	cmds := append([]Cmd{
		SendMessage{ChannelID: resp.ChannelID, Msg: DirectoryRequest{ChannelID: resp.ChannelID}},
	}, locallyEnsuredSyncRequests(m, ch)...)
	return wrapMany(cmds)
}

// locallyEnsuredSyncRequests implements channel lifecycle step 5: after
// establishment, ask the newly established peer for its state of every
// document canReveal (4.6) permits disclosing to it, so a reconnect
// that finds the remote already holding wanted documents actually
// pulls them instead of waiting on a local edit to push first.
func locallyEnsuredSyncRequests(m *Model, ch *channel.Channel) []Cmd {
	ctx := m.peerContext(ch, false)
	var cmds []Cmd
	for _, docID := range m.Docs.IDs() {
		entry, ok := m.Docs.Get(docID)
		if !ok {
			continue
		}
		ctx.DocID = docID
		if !m.RevealRules.Allow(ctx) {
			continue
		}
		cmds = append(cmds, SendMessage{ChannelID: ch.ID, Msg: SyncRequest{ChannelID: ch.ID, DocID: docID, Version: entry.Doc.Version()}})
	}
	return cmds
}

func handleDirectoryRequest(m *Model, req DirectoryRequest) Cmd {
	ch, ok := m.Channels.Get(req.ChannelID)
	if !ok {
		return None{}
	}
	ctx := m.peerContext(ch, false)
	var docIDs []string
	for _, id := range m.Docs.IDs() {
		ctx.DocID = id
		if m.RevealRules.Allow(ctx) {
			docIDs = append(docIDs, id)
		}
	}
	return SendMessage{ChannelID: req.ChannelID, Msg: DirectoryResponse{ChannelID: req.ChannelID, DocIDs: docIDs}}
}

// handleDirectoryResponse implements document discovery's pull half
// (4.5): for every advertised doc id already locally present — DocEnsure
// creates a registry entry immediately, so "locally present" and
// "locally wanted" coincide in this implementation, there being no
// separate not-yet-created "wanted" state — dispatch a sync-request so
// this side's copy converges with whatever the remote end holds.
func handleDirectoryResponse(m *Model, resp DirectoryResponse) Cmd {
	if _, ok := m.Channels.Get(resp.ChannelID); !ok {
		return None{}
	}
	var cmds []Cmd
	for _, docID := range resp.DocIDs {
		entry, tracked := m.Docs.Get(docID)
		if !tracked {
			continue
		}
		cmds = append(cmds, SendMessage{ChannelID: resp.ChannelID, Msg: SyncRequest{ChannelID: resp.ChannelID, DocID: docID, Version: entry.Doc.Version()}})
	}
	return wrapMany(cmds)
}

func handleSyncRequest(m *Model, req SyncRequest) Cmd {
	ch, ok := m.Channels.Get(req.ChannelID)
	if !ok || !m.SyncRules.Allow(m.peerContext(ch, false)) {
		return None{}
	}
	// Regardless of which branch below fires — or whether the document
	// exists locally at all — the requester is now a subscriber (4.6).
	m.ensurePeer(ch.PeerID).Subscriptions[req.DocID] = true

	entry, ok := m.Docs.Get(req.DocID)
	if !ok {
		return None{}
	}

	switch clock.Compare(entry.Doc.Version(), req.Version) {
	case clock.Equal, clock.Before:
		return None{}
	default:
		mode := docregistry.ExportUpdate
		if req.Version == nil {
			mode = docregistry.ExportSnapshot
		}
		data, err := entry.Doc.Export(mode, req.Version)
		if err != nil {
			mode = docregistry.ExportSnapshot
			data, err = entry.Doc.Export(mode, nil)
			if err != nil {
				return Log{Level: "error", Message: "export failed", Fields: map[string]interface{}{"doc_id": req.DocID, "error": err.Error()}}
			}
		}
		m.setKnownVersion(req.DocID, req.ChannelID, req.Version)
		return SendMessage{ChannelID: req.ChannelID, Msg: SyncResponse{ChannelID: req.ChannelID, DocID: req.DocID, Mode: mode, Payload: data, Version: entry.Doc.Version()}}
	}
}

// pushDocToChannels exports docID's current state to every established
// channel whose peer is both permitted (SyncRules) and subscribed
// (PeerState.Subscriptions) to docID, except any channel belonging to
// skipPeerID ("" to push to all of them) — skipping by peer rather than
// by channel id because a single peer may be reachable over more than
// one established channel (3.2), and echo-freedom (doc-imported{from}
// gets no response queued toward that peer at all) is a per-peer
// guarantee, not a per-channel one. Uses a delta from each channel's
// last known version where available and falls back to a snapshot
// otherwise — this is the one path both a local edit (LocalDocChange)
// and a fan-out of a remote import (DocImported) share, differing only
// in which peer, if any, is excluded to preserve that guarantee.
func pushDocToChannels(m *Model, docID string, skipPeerID string) Cmd {
	entry, ok := m.Docs.Get(docID)
	if !ok {
		return None{}
	}
	currentVersion := entry.Doc.Version()

	var cmds []Cmd
	for _, ch := range m.establishedChannels() {
		if skipPeerID != "" && ch.PeerID == skipPeerID {
			continue
		}
		ctx := m.peerContext(ch, false)
		ctx.DocID = docID
		if !m.SyncRules.Allow(ctx) {
			continue
		}
		peer, ok := m.Peers[ch.PeerID]
		if !ok || !peer.Subscriptions[docID] {
			continue
		}

		from, known := m.knowsVersion(docID, ch.ID)
		mode := docregistry.ExportSnapshot
		var data []byte
		var err error
		if known {
			mode = docregistry.ExportUpdate
			data, err = entry.Doc.Export(mode, from)
			if err != nil {
				mode = docregistry.ExportSnapshot
				data, err = entry.Doc.Export(mode, nil)
			}
		} else {
			data, err = entry.Doc.Export(mode, nil)
		}
		if err != nil {
			cmds = append(cmds, Log{Level: "error", Message: "export failed", Fields: map[string]interface{}{"doc_id": docID, "error": err.Error()}})
			continue
		}

		m.setKnownVersion(docID, ch.ID, currentVersion)
		cmds = append(cmds, SendMessage{ChannelID: ch.ID, Msg: SyncResponse{ChannelID: ch.ID, DocID: docID, Mode: mode, Payload: data, Version: currentVersion}})
	}
	return wrapMany(cmds)
}

func handleEphemeralMsg(m *Model, msg EphemeralMsg) Cmd {
	cmds := []Cmd{ApplyEphemeral{DocID: msg.DocID, Namespace: msg.Namespace, Fields: msg.Fields}}

	if msg.Hops > 0 {
		for _, ch := range m.establishedChannels() {
			if ch.ID == msg.ChannelID {
				continue
			}
			ctx := m.peerContext(ch, false)
			ctx.DocID = msg.DocID
			if !m.SyncRules.Allow(ctx) {
				continue
			}
			cmds = append(cmds, SendMessage{
				ChannelID: ch.ID,
				Msg:       EphemeralMsg{ChannelID: ch.ID, DocID: msg.DocID, Namespace: msg.Namespace, Fields: msg.Fields, Hops: msg.Hops - 1},
			})
		}
	}
	return wrapMany(cmds)
}

func handleHeartbeat(m *Model, hb Heartbeat) Cmd {
	evicted := m.Ephemeral.Sweep(hb.NowMillis)

	var cmds []Cmd
	for _, docID := range m.Docs.IDs() {
		for _, ns := range m.Ephemeral.Namespaces(docID) {
			cmds = append(cmds, BroadcastEphemeralBatch{DocID: docID, Namespace: ns})
		}
	}
	cmds = append(cmds, Log{Level: "debug", Message: "heartbeat", Fields: map[string]interface{}{"evicted": evicted}})
	return wrapMany(cmds)
}

func wrapMany(cmds []Cmd) Cmd {
	switch len(cmds) {
	case 0:
		return None{}
	case 1:
		return cmds[0]
	default:
		return Many{Cmds: cmds}
	}
}
