// Package syncbase is the public façade: generalizes the teacher's
// pkg/knirvbase.DB (a document-store wrapper around
// DistributedDatabase) into the Synchronizer's Repo/Handle surface
// (spec §6.4) — construct a Repo, Get a document by id, mutate it
// through Handle.Change, wait for it to reach a peer, read and write
// its ephemeral presence fields.
package syncbase

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/knirvcorp/syncbase/internal/adapter"
	"github.com/knirvcorp/syncbase/internal/channel"
	"github.com/knirvcorp/syncbase/internal/crdt"
	"github.com/knirvcorp/syncbase/internal/crypto/pqc"
	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/ephemeral"
	"github.com/knirvcorp/syncbase/internal/executor"
	"github.com/knirvcorp/syncbase/internal/logging"
	"github.com/knirvcorp/syncbase/internal/monitoring"
	"github.com/knirvcorp/syncbase/internal/permission"
	"github.com/knirvcorp/syncbase/internal/sync"
)

// storagePeerID is the reserved peer identity the storage channel
// establishes under. A caller supplying custom SyncRules that should
// still reach storage must allow this id explicitly (or rely on the
// default-allow empty rule set).
const storagePeerID = "storage"

// DefaultHeartbeatInterval matches the 10s default spec §5 names for
// the global presence keep-alive.
const DefaultHeartbeatInterval = 10 * time.Second

// Options configures a Repo. Generalizes the teacher's knirvbase.Options
// (DataDir plus distributed-network toggles) into the Synchronizer's
// identity/adapter/permission configuration.
type Options struct {
	// DataDir roots the default file-backed storage adapter used when
	// Storage is nil. Required unless Storage is supplied directly.
	DataDir string

	// SelfPeerID identifies this process in every message it
	// originates. Must satisfy the numeric-string PeerId contract
	// establish-request/response validation enforces.
	SelfPeerID string

	// Identity signs this node's own establish-request/response
	// messages when set; nil sends them unsigned.
	Identity *pqc.PQCKeyPair

	// PeerKeys resolves a remote peer id to the public key its
	// establish messages must verify against; nil accepts any
	// establish message regardless of signature.
	PeerKeys func(peerID string) (*pqc.PQCKeyPair, bool)

	// EncryptionIdentity, when set, enables encryption-at-rest on the
	// default file storage adapter via its Kyber key.
	EncryptionIdentity *pqc.PQCKeyPair

	// Storage overrides the default file-backed adapter. Pass
	// adapter.NewMemoryStorage() for tests, or a custom Storage
	// implementation.
	Storage adapter.Storage

	// RevealRules/SyncRules gate the directory and sync protocols;
	// nil default-allows, matching a local-only deployment.
	RevealRules *permission.Set
	SyncRules   *permission.Set

	// NewDoc constructs a fresh CrdtDoc for a newly-ensured document.
	// Defaults to crdt.New.
	NewDoc func() docregistry.CrdtDoc

	// HeartbeatInterval drives the periodic ephemeral-sweep and
	// presence-rebroadcast timer. Defaults to DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Repo owns one Synchronizer: its model, its command executor, the
// router multiplexing outbound sends across whatever transports are
// registered, and the storage-as-a-channel adapter persisting every
// change. Grounded on pkg/knirvbase.DB, generalized from a document
// store wrapping one DistributedDatabase to a sync node wrapping one
// Synchronizer.
type Repo struct {
	mu      stdsync.Mutex
	model   *sync.Model
	exec    *executor.Executor
	router  *adapter.Router
	storage *adapter.StorageSync

	storageChannelID int64

	heartbeatCancel context.CancelFunc

	handles map[string]*Handle

	pendingSender executor.Sender

	syncWaiters   map[string][]*syncWaiter
	presenceSubs  map[presenceKey][]func(field string, value []byte)
	selfPresence  map[presenceKey]map[string][]byte
	shutdownCh    chan struct{}
	shutdownOnce  stdsync.Once
}

type presenceKey struct {
	DocID     string
	Namespace string
}

type syncWaiter struct {
	kind string
	ch   chan struct{}
}

// New constructs a Repo. ctx is used only for the background
// heartbeat goroutine's lifetime — it is not retained beyond New.
func New(ctx context.Context, opts Options) (*Repo, error) {
	if opts.SelfPeerID == "" {
		return nil, fmt.Errorf("syncbase: SelfPeerID is required")
	}
	if ctx == nil {
		return nil, fmt.Errorf("syncbase: context cannot be nil")
	}

	newDoc := opts.NewDoc
	if newDoc == nil {
		newDoc = func() docregistry.CrdtDoc { return crdt.New() }
	}

	storage := opts.Storage
	if storage == nil {
		if opts.DataDir == "" {
			return nil, fmt.Errorf("syncbase: DataDir or Storage is required")
		}
		fs, err := adapter.NewFileStorage(opts.DataDir)
		if err != nil {
			return nil, fmt.Errorf("syncbase: create storage: %w", err)
		}
		if opts.EncryptionIdentity != nil {
			fs.SetMasterKey(opts.EncryptionIdentity)
		}
		storage = fs
	}

	model := sync.New(opts.SelfPeerID, newDoc)
	if opts.RevealRules != nil {
		model.RevealRules = opts.RevealRules
	}
	if opts.SyncRules != nil {
		model.SyncRules = opts.SyncRules
	}

	router := adapter.NewRouter()
	exec := executor.New(model, router, opts.Logger, opts.Metrics)
	exec.Identity = opts.Identity
	exec.PeerKeys = opts.PeerKeys

	r := &Repo{
		model:        model,
		exec:         exec,
		router:       router,
		handles:      make(map[string]*Handle),
		syncWaiters:  make(map[string][]*syncWaiter),
		presenceSubs: make(map[presenceKey][]func(field string, value []byte)),
		selfPresence: make(map[presenceKey]map[string][]byte),
		shutdownCh:   make(chan struct{}),
	}

	model.Channels.OnAdded(func(ch *channel.Channel) {
		r.mu.Lock()
		sender := r.pendingSender
		r.pendingSender = nil
		r.mu.Unlock()
		if sender != nil {
			router.Register(ch.ID, sender)
		}
	})
	model.Channels.OnRemoved(func(ch *channel.Channel) {
		router.Unregister(ch.ID)
	})

	exec.OnDocImported = r.handleDocImported
	exec.OnEphemeralApplied = r.handleEphemeralApplied

	r.storage = adapter.NewStorageSync(storage)
	storageCh := model.Channels.Create()
	model.Channels.Establish(storageCh.ID, storagePeerID)
	router.Register(storageCh.ID, r.storage)
	r.storageChannelID = storageCh.ID

	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	hbCtx, cancel := context.WithCancel(ctx)
	r.heartbeatCancel = cancel
	go exec.RunHeartbeat(hbCtx, interval)

	return r, nil
}

// OpenChannel establishes a new channel addressed to peerID and wires
// sender as its transport, returning the allocated channel id. Call
// this once per outbound transport a caller has dialed or accepted —
// the websocket/SSE adapters under internal/adapter implement
// executor.Sender and are a natural fit here.
func (r *Repo) OpenChannel(ctx context.Context, peerID string, sender executor.Sender) int64 {
	r.mu.Lock()
	r.pendingSender = sender
	r.mu.Unlock()
	r.exec.Dispatch(ctx, sync.EstablishChannel{PeerID: peerID})
	if ch, ok := r.model.Channels.ByPeer(peerID); ok {
		return ch.ID
	}
	return 0
}

// Receive hands an adapter's already-reassembled inbound frame to the
// executor for the given channel id.
func (r *Repo) Receive(ctx context.Context, channelID int64, data []byte) {
	r.exec.Receive(ctx, channelID, data)
}

// Get ensures docID is tracked locally, bootstrapping it from storage
// if this is the first time the process has seen it, and returns a
// Handle. Calling Get twice for the same docID returns the same
// Handle.
func (r *Repo) Get(docID string) (*Handle, error) {
	r.mu.Lock()
	if h, ok := r.handles[docID]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	ctx := context.Background()
	r.exec.Dispatch(ctx, sync.DocEnsure{DocID: docID})
	entry, ok := r.model.Docs.Get(docID)
	if !ok {
		return nil, fmt.Errorf("syncbase: failed to ensure document %q", docID)
	}

	payloads, err := r.storage.LoadDoc(docID)
	if err != nil {
		return nil, fmt.Errorf("syncbase: load %q from storage: %w", docID, err)
	}
	for _, payload := range payloads {
		r.exec.Dispatch(ctx, sync.SyncResponse{ChannelID: r.storageChannelID, DocID: docID, Payload: payload})
	}
	// Subscribe the storage channel to docID, as its own sync-request
	// would, so every later local change and peer import is saved.
	r.exec.Dispatch(ctx, sync.SyncRequest{ChannelID: r.storageChannelID, DocID: docID, Version: entry.Doc.Version()})

	h := &Handle{repo: r, docID: docID}
	r.mu.Lock()
	r.handles[docID] = h
	r.mu.Unlock()
	return h, nil
}

// Flush waits for every outstanding storage save to complete. Every
// Storage implementation in this module performs Save synchronously,
// so there is nothing to await beyond running the executor's outbound
// batcher to completion — kept as an explicit method so a caller that
// switches to an asynchronous Storage implementation has a real place
// to add that wait.
func (r *Repo) Flush() error {
	r.exec.Dispatch(context.Background(), sync.Batch{})
	return nil
}

// Shutdown flushes pending work, stops the heartbeat timer, and
// releases every pending waitForSync call with an error.
func (r *Repo) Shutdown() error {
	var err error
	r.shutdownOnce.Do(func() {
		err = r.Flush()
		if r.heartbeatCancel != nil {
			r.heartbeatCancel()
		}
		close(r.shutdownCh)
	})
	return err
}

func (r *Repo) handleDocImported(docID string, fromChannelID int64, fromPeerID string) {
	kind := "peer"
	if fromPeerID == storagePeerID {
		kind = "storage"
	}
	r.mu.Lock()
	waiters := r.syncWaiters[docID]
	delete(r.syncWaiters, docID)
	r.mu.Unlock()
	for _, w := range waiters {
		if w.kind == "" || w.kind == kind {
			close(w.ch)
		} else {
			r.mu.Lock()
			r.syncWaiters[docID] = append(r.syncWaiters[docID], w)
			r.mu.Unlock()
		}
	}
}

func (r *Repo) handleEphemeralApplied(docID, namespace string, fields map[string]ephemeral.Value) {
	key := presenceKey{DocID: docID, Namespace: namespace}
	r.mu.Lock()
	subs := append([]func(field string, value []byte){}, r.presenceSubs[key]...)
	r.mu.Unlock()
	for field, v := range fields {
		for _, cb := range subs {
			if cb != nil {
				cb(field, v.Data)
			}
		}
	}
}

func (r *Repo) registerSyncWaiter(docID, kind string) chan struct{} {
	ch := make(chan struct{})
	r.mu.Lock()
	r.syncWaiters[docID] = append(r.syncWaiters[docID], &syncWaiter{kind: kind, ch: ch})
	r.mu.Unlock()
	return ch
}

// unregisterSyncWaiter removes a waiter that timed out or was
// cancelled before handleDocImported ever closed it. A waiter that
// handleDocImported already closed and removed is simply absent from
// the slice, so this is a no-op in that case.
func (r *Repo) unregisterSyncWaiter(docID string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiters := r.syncWaiters[docID]
	for i, w := range waiters {
		if w.ch == ch {
			r.syncWaiters[docID] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}
