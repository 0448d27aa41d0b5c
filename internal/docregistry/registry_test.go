package docregistry

import (
	"testing"

	"github.com/knirvcorp/syncbase/internal/crdt"
)

func TestEnsureCreatesOnce(t *testing.T) {
	r := New()
	calls := 0
	factory := func() CrdtDoc {
		calls++
		return crdt.New()
	}
	updates := 0
	onUpdate := func(docID string) { updates++ }

	e1 := r.Ensure("doc-1", "peer-1", factory, onUpdate)
	e2 := r.Ensure("doc-1", "peer-1", factory, onUpdate)
	if e1 != e2 {
		t.Error("expected the same entry on repeated Ensure")
	}
	if calls != 1 {
		t.Errorf("expected factory called once, got %d", calls)
	}

	e1.Doc.(*crdt.Doc).InsertText("body", 0, "x")
	if updates != 1 {
		t.Errorf("expected local mutation to notify onLocalUpdate once, got %d", updates)
	}
}

func TestGetAndDelete(t *testing.T) {
	r := New()
	r.Ensure("doc-1", "peer-1", func() CrdtDoc { return crdt.New() }, func(string) {})
	if _, ok := r.Get("doc-1"); !ok {
		t.Fatal("expected doc-1 to be present")
	}
	r.Delete("doc-1")
	if _, ok := r.Get("doc-1"); ok {
		t.Fatal("expected doc-1 to be removed")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestIDs(t *testing.T) {
	r := New()
	r.Ensure("doc-1", "peer-1", func() CrdtDoc { return crdt.New() }, func(string) {})
	r.Ensure("doc-2", "peer-1", func() CrdtDoc { return crdt.New() }, func(string) {})
	ids := r.IDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
}
