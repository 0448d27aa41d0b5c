package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/wire"
)

// updateKeySegment is the literal second StorageKey component spec.md
// 6.5 names for incremental deltas, as distinct from the first
// component (the doc id) and the third (the version tag).
const updateKeySegment = "update"

// StorageSync is the storage-kind channel spec.md 6.2 describes:
// wired as a channel's Sender like any network transport, but instead
// of putting bytes on a wire it persists every sync-response it's
// asked to send through Storage, using the key layout 6.5 mandates.
// It never itself initiates a send — Repo.Get's bootstrap read is the
// other half, via LoadDoc.
type StorageSync struct {
	storage Storage
}

// NewStorageSync wraps storage as a channel Sender.
func NewStorageSync(storage Storage) *StorageSync {
	return &StorageSync{storage: storage}
}

// Send persists a sync-response's payload under [docId] for a
// snapshot or [docId, "update", versionTag] for a delta; every other
// message type this channel might be asked to carry (directory
// exchange, ephemeral) is accepted and dropped, since storage has no
// use for them.
func (s *StorageSync) Send(ctx context.Context, channelID int64, data []byte) error {
	cm, err := wire.DecodeChannelMsg(data)
	if err != nil {
		return fmt.Errorf("decode storage-channel frame: %w", err)
	}
	if cm.Type != "channel/sync-response" {
		return nil
	}

	docID, _ := cm.Fields["doc_id"].(string)
	if docID == "" {
		return fmt.Errorf("sync-response missing doc_id")
	}
	payload, _ := cm.Fields["payload"].([]byte)
	mode := docregistry.ExportMode(asInt64Field(cm.Fields["mode"]))

	key := StorageKey{docID}
	if mode == docregistry.ExportUpdate {
		tag, err := versionTag(cm.Fields["version"])
		if err != nil {
			return fmt.Errorf("derive version tag: %w", err)
		}
		key = StorageKey{docID, updateKeySegment, tag}
	}
	return s.storage.Save(key, payload)
}

// LoadDoc returns every persisted payload for docID in the order a
// CrdtDoc should Import them: the snapshot first (if one exists),
// then every delta ordered by versionTag lexicographically, exactly
// as spec.md 6.5 requires readers to merge them.
func (s *StorageSync) LoadDoc(docID string) ([][]byte, error) {
	entries, err := s.storage.LoadRange(StorageKey{docID})
	if err != nil {
		return nil, fmt.Errorf("load range for %q: %w", docID, err)
	}

	var snapshot []byte
	var haveSnapshot bool
	type delta struct {
		tag  string
		data []byte
	}
	var deltas []delta

	for _, e := range entries {
		switch {
		case len(e.Key) == 1:
			snapshot = e.Data
			haveSnapshot = true
		case len(e.Key) == 3 && e.Key[1] == updateKeySegment:
			deltas = append(deltas, delta{tag: e.Key[2], data: e.Data})
		}
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].tag < deltas[j].tag })

	out := make([][]byte, 0, len(deltas)+1)
	if haveSnapshot {
		out = append(out, snapshot)
	}
	for _, d := range deltas {
		out = append(out, d.data)
	}
	return out, nil
}

// versionTag reproduces the "URL-safe base64 of the JSON of the `to`
// frontiers" key component spec.md 6.5 describes, from whatever shape
// the generic CBOR decode handed back a version vector in.
func versionTag(raw interface{}) (string, error) {
	vv := map[string]int64{}
	switch v := raw.(type) {
	case map[string]int64:
		vv = v
	case map[string]interface{}:
		for k, val := range v {
			vv[k] = asInt64Field(val)
		}
	case map[interface{}]interface{}:
		for k, val := range v {
			vv[fmt.Sprintf("%v", k)] = asInt64Field(val)
		}
	}
	encoded, err := json.Marshal(vv)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(encoded), nil
}

func asInt64Field(v interface{}) int64 {
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
