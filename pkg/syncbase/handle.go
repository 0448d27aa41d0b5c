package syncbase

import (
	"context"
	"fmt"
	"time"

	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/sync"
)

// Handle is a document façade scoped to one docId: spec §6.4's
// `Handle.doc`/`.change`/`.waitForSync`/`.presence`.
type Handle struct {
	repo  *Repo
	docID string
}

// DocID returns the document id this Handle was obtained for.
func (h *Handle) DocID() string { return h.docID }

// Doc returns the underlying CrdtDoc for direct reads. Mutations must
// go through Change so the local-update fan-out runs.
func (h *Handle) Doc() (docregistry.CrdtDoc, error) {
	entry, ok := h.repo.model.Docs.Get(h.docID)
	if !ok {
		return nil, fmt.Errorf("syncbase: document %q is no longer tracked", h.docID)
	}
	return entry.Doc, nil
}

// Change runs fn against the document's mutation surface, then drains
// whatever local-update fan-out the mutation enqueued — the doc's
// SubscribeLocalUpdates callback already queued a LocalDocChange onto
// the model during fn(doc); dispatching a harmless, idempotent
// DocEnsure for the same doc is what makes the executor actually drain
// and act on that queued message (Dispatch's pending-drain loop runs
// after every dispatched message, not only after the one that enqueued
// it).
func (h *Handle) Change(fn func(doc docregistry.CrdtDoc)) error {
	entry, ok := h.repo.model.Docs.Get(h.docID)
	if !ok {
		return fmt.Errorf("syncbase: document %q is no longer tracked", h.docID)
	}
	fn(entry.Doc)
	h.repo.exec.Dispatch(context.Background(), sync.DocEnsure{DocID: h.docID})
	return nil
}

// WaitForSync blocks until the first successful sync-response for
// this document arrives — from a network peer if kind is "peer", from
// storage if kind is "storage", or from either if kind is "". It
// returns an error on timeout, on Repo.shutdown, or if ctx is
// cancelled first.
func (h *Handle) WaitForSync(ctx context.Context, kind string, timeout time.Duration) error {
	ch := h.repo.registerSyncWaiter(h.docID, kind)
	defer h.repo.unregisterSyncWaiter(h.docID, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return fmt.Errorf("syncbase: waitForSync(%q, %q) timed out after %s", h.docID, kind, timeout)
	case <-ctx.Done():
		return ctx.Err()
	case <-h.repo.shutdownCh:
		return fmt.Errorf("syncbase: waitForSync(%q, %q) cancelled by shutdown", h.docID, kind)
	}
}

// Presence returns the presence façade for this document.
func (h *Handle) Presence() *Presence {
	return &Presence{repo: h.repo, docID: h.docID}
}
