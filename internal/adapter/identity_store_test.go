package adapter

import (
	"testing"

	"github.com/knirvcorp/syncbase/internal/crypto/pqc"
)

func TestIdentityStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewIdentityStore(dir, "node-1")

	kp, err := pqc.GeneratePQCKeyPair("node-1", "identity")
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}

	if err := store.Save(kp, "correct horse battery staple"); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := store.Load("correct horse battery staple")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatal("expected identity to be found")
	}
	if loaded.ID != kp.ID {
		t.Errorf("expected id %q, got %q", kp.ID, loaded.ID)
	}
	if loaded.DilithiumPrivateKey == nil {
		t.Error("expected dilithium private key to survive round trip")
	}
	if loaded.KyberPrivateKey == nil {
		t.Error("expected kyber private key to survive round trip")
	}
}

func TestIdentityStoreLoadMissingReturnsFalse(t *testing.T) {
	store := NewIdentityStore(t.TempDir(), "node-1")
	_, ok, err := store.Load("whatever")
	if err != nil {
		t.Fatalf("expected no error for missing identity, got %v", err)
	}
	if ok {
		t.Error("expected ok=false when no identity file exists")
	}
}

func TestIdentityStoreLoadWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	store := NewIdentityStore(dir, "node-1")

	kp, err := pqc.GeneratePQCKeyPair("node-1", "identity")
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	if err := store.Save(kp, "right passphrase"); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, _, err = store.Load("wrong passphrase")
	if err == nil {
		t.Error("expected error when loading with the wrong passphrase")
	}
}

// TestIdentityStoreRejectsMismatchedPeerID proves an identity file
// copied into a store scoped to a different peer id fails to load
// even under the correct passphrase, since the encryption envelope is
// bound to the peer id it was sealed for.
func TestIdentityStoreRejectsMismatchedPeerID(t *testing.T) {
	dir := t.TempDir()
	store := NewIdentityStore(dir, "node-1")

	kp, err := pqc.GeneratePQCKeyPair("node-1", "identity")
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	if err := store.Save(kp, "correct horse battery staple"); err != nil {
		t.Fatalf("save: %v", err)
	}

	otherStore := NewIdentityStore(dir, "node-2")
	_, _, err = otherStore.Load("correct horse battery staple")
	if err == nil {
		t.Error("expected load under a different peer id to fail even with the right passphrase")
	}
}
