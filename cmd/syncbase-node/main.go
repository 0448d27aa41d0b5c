package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/knirvcorp/syncbase/internal/adapter"
	"github.com/knirvcorp/syncbase/internal/crypto/pqc"
	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/logging"
	"github.com/knirvcorp/syncbase/internal/monitoring"
	"github.com/knirvcorp/syncbase/pkg/syncbase"
)

func main() {
	var (
		dataDir    = flag.String("data-dir", defaultDataDir(), "directory backing this node's document storage")
		peerID     = flag.String("peer", "1", "this node's own peer id")
		docID      = flag.String("doc", "doc1", "document id to open")
		text       = flag.String("text", "", "if set, append this text to the document's \"body\" field before printing it")
		passphrase = flag.String("passphrase", "", "passphrase protecting this node's identity key on disk")
	)
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	logger, err := logging.NewLogger("info", "console")
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer logger.Sync()

	identity, err := loadOrCreateIdentity(*dataDir, *peerID, *passphrase)
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}

	ctx := context.Background()
	repo, err := syncbase.New(ctx, syncbase.Options{
		DataDir:    *dataDir,
		SelfPeerID: *peerID,
		Identity:   identity,
		Logger:     logger,
		Metrics:    monitoring.NewMetrics(),
	})
	if err != nil {
		log.Fatalf("create repo: %v", err)
	}
	defer repo.Shutdown()

	handle, err := repo.Get(*docID)
	if err != nil {
		log.Fatalf("get %q: %v", *docID, err)
	}

	if *text != "" {
		if err := handle.Change(func(doc docregistry.CrdtDoc) {
			appendText(doc, "body", *text)
		}); err != nil {
			log.Fatalf("change %q: %v", *docID, err)
		}
	}

	if err := repo.Flush(); err != nil {
		log.Fatalf("flush: %v", err)
	}

	doc, err := handle.Doc()
	if err != nil {
		log.Fatalf("doc %q: %v", *docID, err)
	}

	fmt.Printf("peer=%s doc=%s version=%v\n", *peerID, *docID, doc.Version())
	if withText, ok := doc.(interface{ Text(string) string }); ok {
		fmt.Printf("body=%q\n", withText.Text("body"))
	}

	handle.Presence().Set("session", "status", []byte("online"))
	fmt.Printf("self presence: %v\n", handle.Presence().Self("session"))
}

// appendText inserts s at the end of field's current text. doc is
// asserted to this unexported interface rather than *crdt.Doc
// directly, since docregistry.CrdtDoc deliberately doesn't expose
// InsertText/Text on its own interface.
func appendText(doc docregistry.CrdtDoc, field, s string) {
	type textDoc interface {
		Text(string) string
		InsertText(field string, pos int, s string)
	}
	td, ok := doc.(textDoc)
	if !ok {
		return
	}
	td.InsertText(field, len([]rune(td.Text(field))), s)
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "syncbase")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "syncbase")
}

// loadOrCreateIdentity loads this node's persisted signing/key-exchange
// identity, generating and saving a fresh one under dataDir on first
// run. A node that never calls OpenChannel against a real transport
// never signs anything, so a missing or freshly-generated identity
// never blocks local-only use.
func loadOrCreateIdentity(dataDir, selfPeerID, passphrase string) (*pqc.PQCKeyPair, error) {
	store := adapter.NewIdentityStore(dataDir, selfPeerID)

	kp, ok, err := store.Load(passphrase)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if ok {
		return kp, nil
	}

	kp, err = pqc.GeneratePQCKeyPair("syncbase-node", "signing")
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	if err := store.Save(kp, passphrase); err != nil {
		return nil, fmt.Errorf("save identity: %w", err)
	}
	return kp, nil
}
