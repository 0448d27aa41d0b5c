package executor

import (
	"encoding/binary"

	"github.com/knirvcorp/syncbase/internal/sync"
)

// establishSigningPayload is the deterministic byte sequence an
// establish-request/response's Signature attests over, so a verifier
// rejects a response forged for a different channel or peer even if
// it reuses a genuine signature from elsewhere.
func establishSigningPayload(channelID int64, peerID, token string) []byte {
	buf := make([]byte, 8, 8+len(peerID)+len(token))
	binary.BigEndian.PutUint64(buf, uint64(channelID))
	buf = append(buf, peerID...)
	buf = append(buf, token...)
	return buf
}

// signOutbound attaches this executor's Dilithium signature to an
// outgoing establish message, when an Identity key pair is configured.
// Every other message type passes through unchanged — only the
// handshake needs identity attestation, since everything after it
// travels over a channel the handshake already authenticated.
func (e *Executor) signOutbound(msg sync.Msg) sync.Msg {
	if e.Identity == nil {
		return msg
	}
	switch m := msg.(type) {
	case sync.EstablishRequest:
		sig, err := e.Identity.Sign(establishSigningPayload(m.ChannelID, m.PeerID, m.Token))
		if err != nil {
			e.log(sync.Log{Level: "warn", Message: "sign establish-request failed", Fields: map[string]interface{}{"error": err.Error()}})
			return msg
		}
		m.Signature = sig
		return m

	case sync.EstablishResponse:
		sig, err := e.Identity.Sign(establishSigningPayload(m.ChannelID, m.PeerID, ""))
		if err != nil {
			e.log(sync.Log{Level: "warn", Message: "sign establish-response failed", Fields: map[string]interface{}{"error": err.Error()}})
			return msg
		}
		m.Signature = sig
		return m

	default:
		return msg
	}
}

// verifyInbound checks an establish message's signature against the
// claimed peer's known public key, when a PeerKeys resolver is
// configured. Returning false means the message must be dropped
// before it ever reaches the reducer — an unverifiable identity claim
// never becomes channel state.
func (e *Executor) verifyInbound(msg sync.Msg) bool {
	if e.PeerKeys == nil {
		return true
	}
	switch m := msg.(type) {
	case sync.EstablishRequest:
		key, ok := e.PeerKeys(m.PeerID)
		if !ok {
			return false
		}
		return key.Verify(establishSigningPayload(m.ChannelID, m.PeerID, m.Token), m.Signature)

	case sync.EstablishResponse:
		key, ok := e.PeerKeys(m.PeerID)
		if !ok {
			return false
		}
		return key.Verify(establishSigningPayload(m.ChannelID, m.PeerID, ""), m.Signature)

	default:
		return true
	}
}
