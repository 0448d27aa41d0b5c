package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/knirvcorp/syncbase/internal/crdt"
	"github.com/knirvcorp/syncbase/internal/docregistry"
	"github.com/knirvcorp/syncbase/internal/executor"
	"github.com/knirvcorp/syncbase/internal/sync"
	"github.com/knirvcorp/syncbase/internal/wire"
)

// withChannelIDParam attaches a chi route context carrying channelID
// the way chi's router would after matching "/send/{channelID}", so
// handleUpstream can be exercised directly without standing up a real
// router.
func withChannelIDParam(r *http.Request, channelID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("channelID", channelID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestSSEStreamIDNamespacesByChannel(t *testing.T) {
	if sseStreamID(1) == sseStreamID(2) {
		t.Error("expected distinct channels to get distinct stream ids")
	}
}

// TestSSEUpstreamDispatchesReassembledFrame exercises the POST
// upstream path directly (the part of the SSE/long-poll transport
// spec.md 6.3 says they share): a single unfragmented wire frame
// posted to /send/{channelID} should reach the owning Executor via
// Receive once reassembly completes.
func TestSSEUpstreamDispatchesReassembledFrame(t *testing.T) {
	b := sync.New("2", func() docregistry.CrdtDoc { return crdt.New() })
	bExec := executor.New(b, nil, nil, nil)
	chB := b.Channels.Create()

	srv := NewSSEServer(nil, func(channelID int64) (*executor.Executor, bool) {
		if channelID == chB.ID {
			return bExec, true
		}
		return nil, false
	})

	cm := wire.ChannelMsg{Type: "channel/establish-request", Fields: map[string]interface{}{
		"channel_id": chB.ID,
		"peer_id":    "1",
		"token":      "tok",
	}}
	data, err := wire.EncodeChannelMsg(cm)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame := wire.Frame(data)

	r := httptest.NewRequest("POST", fmt.Sprintf("/sync/send/%d", chB.ID), bytes.NewReader(frame))
	r = withChannelIDParam(r, fmt.Sprintf("%d", chB.ID))
	w := httptest.NewRecorder()

	srv.handleUpstream(w, r)

	if w.Code != 202 {
		t.Fatalf("expected 202 Accepted, got %d: %s", w.Code, w.Body.String())
	}
	if ch, ok := b.Channels.Get(chB.ID); !ok || ch.State.String() != "established" {
		t.Fatalf("expected the posted establish request to establish the channel, got %+v", ch)
	}
}

// TestSSEUpstreamUnknownChannelReturns404 confirms execFor's negative
// case surfaces as a 404 instead of silently dropping the post.
func TestSSEUpstreamUnknownChannelReturns404(t *testing.T) {
	srv := NewSSEServer(nil, func(channelID int64) (*executor.Executor, bool) {
		return nil, false
	})

	r := httptest.NewRequest("POST", "/sync/send/99", bytes.NewReader([]byte{}))
	r = withChannelIDParam(r, "99")
	w := httptest.NewRecorder()

	srv.handleUpstream(w, r)

	if w.Code != 404 {
		t.Errorf("expected 404 for unknown channel, got %d", w.Code)
	}
}
