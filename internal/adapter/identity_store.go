package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/knirvcorp/syncbase/internal/crypto/pqc"
	"github.com/knirvcorp/syncbase/internal/security"
)

// identityFileName is where a node's own PQC key pair — the one it
// signs establish-request/response with and derives its storage
// master key from — lives on disk, passphrase-protected so the
// private key material is never written in the clear.
const identityFileName = "identity.pqc"

// identityEnvelope is the on-disk shape: a PBKDF2 salt plus the
// AES-GCM ciphertext of the key pair's MarshalWithPrivateKeys JSON.
type identityEnvelope struct {
	Salt       []byte `json:"salt"`
	Ciphertext []byte `json:"ciphertext"`
}

// IdentityStore persists a node's PQC key pair under a passphrase,
// using internal/security's PBKDF2+AES-GCM envelope. Every envelope is
// sealed with selfPeerID as its AEAD scope, so an identity file copied
// into another peer's data directory fails to decrypt even under the
// right passphrase — the file is bound to the peer id it was created
// for, not just the passphrase that protects it.
type IdentityStore struct {
	path       string
	selfPeerID string
	cipher     *security.PassphraseCipher
}

// NewIdentityStore roots an IdentityStore at baseDir/identity.pqc,
// scoped to selfPeerID.
func NewIdentityStore(baseDir, selfPeerID string) *IdentityStore {
	return &IdentityStore{
		path:       filepath.Join(baseDir, identityFileName),
		selfPeerID: selfPeerID,
		cipher:     security.NewPassphraseCipher(),
	}
}

// Save encrypts keyPair's full key material (private keys included)
// under passphrase and writes it to disk, replacing any prior
// identity.
func (s *IdentityStore) Save(keyPair *pqc.PQCKeyPair, passphrase string) error {
	plain, err := keyPair.MarshalWithPrivateKeys()
	if err != nil {
		return fmt.Errorf("marshal key pair: %w", err)
	}

	salt, err := s.cipher.GenerateSalt()
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key := s.cipher.DeriveKey(passphrase, salt)

	ciphertext, err := s.cipher.Seal(plain, key, []byte(s.selfPeerID))
	if err != nil {
		return fmt.Errorf("encrypt identity: %w", err)
	}

	envelope, err := json.Marshal(identityEnvelope{Salt: salt, Ciphertext: ciphertext})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	return os.WriteFile(s.path, envelope, 0o600)
}

// Load decrypts the identity file under passphrase and reconstructs
// the key pair. ok is false when no identity file exists yet.
func (s *IdentityStore) Load(passphrase string) (keyPair *pqc.PQCKeyPair, ok bool, err error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var envelope identityEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false, fmt.Errorf("unmarshal envelope: %w", err)
	}

	key := s.cipher.DeriveKey(passphrase, envelope.Salt)
	plain, err := s.cipher.Open(envelope.Ciphertext, key, []byte(s.selfPeerID))
	if err != nil {
		return nil, false, fmt.Errorf("decrypt identity: %w", err)
	}

	kp, err := pqc.LoadPQCKeyPair(plain)
	if err != nil {
		return nil, false, fmt.Errorf("load key pair: %w", err)
	}
	return kp, true, nil
}
