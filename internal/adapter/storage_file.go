package adapter

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knirvcorp/syncbase/internal/crypto/pqc"
)

// valueFileName is the leaf file a FileStorage writes at the
// directory corresponding to a key, so a key's directory can both
// hold a value (this file) and be a prefix for longer keys nested
// beneath it (e.g. [docId] holds a snapshot at valueFileName while
// [docId, "update", v1] lives in a subdirectory of the same [docId]
// directory).
const valueFileName = "_value.kv"

// FileStorage is the file-backed Storage adapter, grounded on
// storage.go's FileStorage: same os.MkdirAll/os.WriteFile/os.ReadFile
// shape and the same optional PQC-backed encryption-at-rest path
// (encryptDocument/decryptDocument/isSensitiveField), narrowed from
// full document CRUD plus secondary indexing down to the §6.2
// key-range interface this module actually needs. Encryption here
// protects the two things this module ever persists — document
// snapshots/updates and any storage-local secret such as a signing
// key — rather than storage.go's six application collections.
type FileStorage struct {
	mu            sync.RWMutex
	baseDir       string
	encryptionMgr *pqc.EncryptionManager
	masterKeyID   string
}

// NewFileStorage creates (if needed) baseDir and returns a FileStorage
// rooted there. Encryption is off until SetMasterKey is called.
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStorage{
		baseDir:       baseDir,
		encryptionMgr: pqc.NewEncryptionManager(),
	}, nil
}

// SetMasterKey enables encryption-at-rest using keyPair's Kyber key —
// every Save after this call encrypts its payload, and every Load
// transparently decrypts it. Passing nil disables encryption again for
// values written afterward; values already encrypted under the prior
// key still require it to read back.
func (fs *FileStorage) SetMasterKey(keyPair *pqc.PQCKeyPair) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.encryptionMgr.SetMasterKey(keyPair)
	fs.encryptionMgr.CacheKey(keyPair.ID, keyPair)
	fs.masterKeyID = keyPair.ID
}

func keyDir(baseDir string, key StorageKey) string {
	parts := make([]string, 0, len(key)+1)
	parts = append(parts, baseDir)
	for _, k := range key {
		parts = append(parts, url.PathEscape(k))
	}
	return filepath.Join(parts...)
}

func (fs *FileStorage) Save(key StorageKey, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := keyDir(fs.baseDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}

	out := data
	if fs.encryptionMgr.GetMasterKey() != nil {
		encrypted, err := fs.encryptionMgr.EncryptData(data, fs.masterKeyID)
		if err != nil {
			return fmt.Errorf("encrypt value: %w", err)
		}
		out = []byte(encrypted)
	}

	return os.WriteFile(filepath.Join(dir, valueFileName), out, 0o644)
}

func (fs *FileStorage) Load(key StorageKey) ([]byte, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path := filepath.Join(keyDir(fs.baseDir, key), valueFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if fs.encryptionMgr.GetMasterKey() == nil {
		return raw, true, nil
	}
	plain, err := fs.encryptionMgr.DecryptData(string(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decrypt value: %w", err)
	}
	return plain, true, nil
}

func (fs *FileStorage) Remove(key StorageKey) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path := filepath.Join(keyDir(fs.baseDir, key), valueFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (fs *FileStorage) LoadRange(prefix StorageKey) ([]Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	root := keyDir(fs.baseDir, prefix)
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || d.Name() != valueFileName {
			return nil
		}

		rel, err := filepath.Rel(fs.baseDir, filepath.Dir(path))
		if err != nil {
			return err
		}
		key, err := keyFromRel(rel)
		if err != nil {
			return err
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if fs.encryptionMgr.GetMasterKey() != nil {
			plain, err := fs.encryptionMgr.DecryptData(string(raw))
			if err != nil {
				return fmt.Errorf("decrypt %v: %w", key, err)
			}
			raw = plain
		}
		entries = append(entries, Entry{Key: key, Data: raw})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return entries, nil
}

func (fs *FileStorage) RemoveRange(prefix StorageKey) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	root := keyDir(fs.baseDir, prefix)
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove range: %w", err)
	}
	return nil
}

func keyFromRel(rel string) (StorageKey, error) {
	if rel == "." {
		return StorageKey{}, nil
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	key := make(StorageKey, len(parts))
	for i, p := range parts {
		unescaped, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("unescape key segment %q: %w", p, err)
		}
		key[i] = unescaped
	}
	return key, nil
}
