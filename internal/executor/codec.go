package executor

import (
	"fmt"

	"github.com/knirvcorp/syncbase/internal/clock"
	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/ephemeral"
	"github.com/knirvcorp/syncbase/internal/sync"
	"github.com/knirvcorp/syncbase/internal/syncerr"
	"github.com/knirvcorp/syncbase/internal/wire"
)

// encodeMsg turns one of internal/sync's wire-level message types into
// the generic envelope internal/wire knows how to put CBOR bytes
// around. Only the message kinds that actually cross a channel are
// handled here — internal-only messages (DocEnsure, Heartbeat, ...)
// never reach this function.
func encodeMsg(msg sync.Msg) (wire.ChannelMsg, error) {
	switch m := msg.(type) {
	case sync.EstablishRequest:
		return wire.ChannelMsg{Type: "channel/establish-request", Fields: map[string]interface{}{
			"channel_id": m.ChannelID,
			"peer_id":    m.PeerID,
			"token":      m.Token,
			"signature":  m.Signature,
		}}, nil

	case sync.EstablishResponse:
		return wire.ChannelMsg{Type: "channel/establish-response", Fields: map[string]interface{}{
			"channel_id": m.ChannelID,
			"peer_id":    m.PeerID,
			"accepted":   m.Accepted,
			"signature":  m.Signature,
		}}, nil

	case sync.DirectoryRequest:
		return wire.ChannelMsg{Type: "channel/directory-request", Fields: map[string]interface{}{
			"channel_id": m.ChannelID,
		}}, nil

	case sync.DirectoryResponse:
		return wire.ChannelMsg{Type: "channel/directory-response", Fields: map[string]interface{}{
			"channel_id": m.ChannelID,
			"doc_ids":    m.DocIDs,
		}}, nil

	case sync.SyncRequest:
		fields := map[string]interface{}{
			"channel_id": m.ChannelID,
			"doc_id":     m.DocID,
		}
		if m.Version != nil {
			fields["version"] = map[string]int64(m.Version)
		}
		return wire.ChannelMsg{Type: "channel/sync-request", Fields: fields}, nil

	case sync.SyncResponse:
		fields := map[string]interface{}{
			"channel_id": m.ChannelID,
			"doc_id":     m.DocID,
			"mode":       int64(m.Mode),
			"payload":    m.Payload,
		}
		if m.Version != nil {
			fields["version"] = map[string]int64(m.Version)
		}
		return wire.ChannelMsg{Type: "channel/sync-response", Fields: fields}, nil

	case sync.EphemeralMsg:
		fields := make(map[string]interface{}, len(m.Fields))
		for name, v := range m.Fields {
			fields[name] = map[string]interface{}{"data": v.Data, "timestamp": v.Timestamp}
		}
		return wire.ChannelMsg{Type: "channel/ephemeral", Fields: map[string]interface{}{
			"channel_id": m.ChannelID,
			"doc_id":     m.DocID,
			"namespace":  m.Namespace,
			"hops":       int64(m.Hops),
			"fields":     fields,
		}}, nil

	case sync.Batch:
		encoded := make([]wire.ChannelMsg, 0, len(m.Messages))
		for _, inner := range m.Messages {
			cm, err := encodeMsg(inner)
			if err != nil {
				return wire.ChannelMsg{}, err
			}
			encoded = append(encoded, cm)
		}
		return wire.ChannelMsg{Type: "channel/batch", Fields: map[string]interface{}{
			"channel_id": m.ChannelID,
			"messages":   encoded,
		}}, nil

	default:
		return wire.ChannelMsg{}, fmt.Errorf("%w: executor cannot encode %T", syncerr.ErrDecode, msg)
	}
}

// decodeMsg reverses encodeMsg. CBOR's generic decode loses the
// concrete Go types encodeMsg wrote with, so every accessor below
// tolerates the handful of shapes a conforming cbor decoder can
// plausibly hand back (map[string]interface{} or map[interface{}]interface{}
// for nested maps, uint64/int64/float64 for integers).
func decodeMsg(cm wire.ChannelMsg) (sync.Msg, error) {
	switch cm.Type {
	case "channel/establish-request":
		return sync.EstablishRequest{
			ChannelID: getInt64(cm.Fields, "channel_id"),
			PeerID:    getString(cm.Fields, "peer_id"),
			Token:     getString(cm.Fields, "token"),
			Signature: getBytes(cm.Fields, "signature"),
		}, nil

	case "channel/establish-response":
		return sync.EstablishResponse{
			ChannelID: getInt64(cm.Fields, "channel_id"),
			PeerID:    getString(cm.Fields, "peer_id"),
			Accepted:  getBool(cm.Fields, "accepted"),
			Signature: getBytes(cm.Fields, "signature"),
		}, nil

	case "channel/directory-request":
		return sync.DirectoryRequest{ChannelID: getInt64(cm.Fields, "channel_id")}, nil

	case "channel/directory-response":
		return sync.DirectoryResponse{
			ChannelID: getInt64(cm.Fields, "channel_id"),
			DocIDs:    getStringSlice(cm.Fields, "doc_ids"),
		}, nil

	case "channel/sync-request":
		var version clock.VersionVector
		if raw, ok := cm.Fields["version"]; ok {
			version = getVersionVector(raw)
		}
		return sync.SyncRequest{
			ChannelID: getInt64(cm.Fields, "channel_id"),
			DocID:     getString(cm.Fields, "doc_id"),
			Version:   version,
		}, nil

	case "channel/sync-response":
		var version clock.VersionVector
		if raw, ok := cm.Fields["version"]; ok {
			version = getVersionVector(raw)
		}
		return sync.SyncResponse{
			ChannelID: getInt64(cm.Fields, "channel_id"),
			DocID:     getString(cm.Fields, "doc_id"),
			Mode:      docregistry.ExportMode(getInt64(cm.Fields, "mode")),
			Payload:   getBytes(cm.Fields, "payload"),
			Version:   version,
		}, nil

	case "channel/ephemeral":
		fields := make(map[string]ephemeral.Value)
		if raw, ok := cm.Fields["fields"]; ok {
			for name, entry := range asStringKeyedMap(raw) {
				entryMap := asStringKeyedMap(entry)
				fields[name] = ephemeral.Value{
					Data:      getBytes(entryMap, "data"),
					Timestamp: getInt64(entryMap, "timestamp"),
				}
			}
		}
		return sync.EphemeralMsg{
			ChannelID: getInt64(cm.Fields, "channel_id"),
			DocID:     getString(cm.Fields, "doc_id"),
			Namespace: getString(cm.Fields, "namespace"),
			Fields:    fields,
			Hops:      int(getInt64(cm.Fields, "hops")),
		}, nil

	case "channel/batch":
		var messages []sync.Msg
		if raw, ok := cm.Fields["messages"]; ok {
			for _, entry := range asSlice(raw) {
				inner, err := decodeChannelMsgValue(entry)
				if err != nil {
					return nil, err
				}
				innerMsg, err := decodeMsg(inner)
				if err != nil {
					return nil, err
				}
				messages = append(messages, innerMsg)
			}
		}
		return sync.Batch{ChannelID: getInt64(cm.Fields, "channel_id"), Messages: messages}, nil

	default:
		return nil, fmt.Errorf("%w: unknown channel message type %q", syncerr.ErrDecode, cm.Type)
	}
}

// decodeChannelMsgValue recovers a wire.ChannelMsg from whatever shape
// the cbor decoder produced for a nested struct value — either the
// concrete type (when the encode/decode round-trip stayed in process,
// as tests do) or a generic map (after a real wire round-trip).
func decodeChannelMsgValue(v interface{}) (wire.ChannelMsg, error) {
	if cm, ok := v.(wire.ChannelMsg); ok {
		return cm, nil
	}
	m := asStringKeyedMap(v)
	fields, _ := m["fields"].(map[string]interface{})
	if fields == nil {
		fields = asStringKeyedMap(m["fields"])
	}
	return wire.ChannelMsg{Type: getString(m, "type"), Fields: fields}, nil
}

func getString(fields map[string]interface{}, key string) string {
	if v, ok := fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getBool(fields map[string]interface{}, key string) bool {
	if v, ok := fields[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func getInt64(fields map[string]interface{}, key string) int64 {
	v, ok := fields[key]
	if !ok {
		return 0
	}
	return asInt64(v)
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func getBytes(fields map[string]interface{}, key string) []byte {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	if b, ok := v.([]byte); ok {
		return b
	}
	return nil
}

func getStringSlice(fields map[string]interface{}, key string) []string {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	if ss, ok := v.([]string); ok {
		return ss
	}
	var out []string
	for _, item := range asSlice(v) {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asSlice(v interface{}) []interface{} {
	if s, ok := v.([]interface{}); ok {
		return s
	}
	if s, ok := v.([]wire.ChannelMsg); ok {
		out := make([]interface{}, len(s))
		for i, cm := range s {
			out[i] = cm
		}
		return out
	}
	return nil
}

// asStringKeyedMap normalizes a decoded nested map to map[string]interface{}
// regardless of whether the decoder produced string or interface{} keys.
func asStringKeyedMap(v interface{}) map[string]interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		return m
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out
	default:
		return map[string]interface{}{}
	}
}

func getVersionVector(v interface{}) clock.VersionVector {
	if vv, ok := v.(clock.VersionVector); ok {
		return vv
	}
	if vv, ok := v.(map[string]int64); ok {
		return clock.VersionVector(vv)
	}
	out := clock.New()
	for k, val := range asStringKeyedMap(v) {
		out[k] = asInt64(val)
	}
	return out
}
