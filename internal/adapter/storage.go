package adapter

// StorageKey is the hierarchical key spec.md 6.5 uses for persisted
// documents: `[docId]` for a full snapshot, or `[docId, "update",
// versionTag]` for one incremental delta. Storage adapters never
// interpret the components themselves — prefix matching in LoadRange
// is what lets a reader merge every delta under `[docId, "update"]`.
type StorageKey []string

// Entry is one (key, data) pair returned by LoadRange.
type Entry struct {
	Key  StorageKey
	Data []byte
}

// Storage is the key-range key/value store spec.md 6.2 requires of
// every storage adapter. A document's Repo treats storage as a
// storage-kind channel that receives every local sync-response, so
// persistence runs through the same fan-out code path as network
// propagation. That channel does not answer sync-request; stored
// documents are read back through StorageSync.LoadDoc instead.
type Storage interface {
	Load(key StorageKey) ([]byte, bool, error)
	Save(key StorageKey, data []byte) error
	Remove(key StorageKey) error
	LoadRange(prefix StorageKey) ([]Entry, error)
	RemoveRange(prefix StorageKey) error
}
