package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/r3labs/sse"
	"go.uber.org/zap"

	"github.com/knirvcorp/syncbase/internal/auth"
	"github.com/knirvcorp/syncbase/internal/executor"
	"github.com/knirvcorp/syncbase/internal/wire"
)

// sseStreamID namespaces every channel's events within the shared
// r3labs/sse server so one process can host many peer channels on a
// single /sync/sse mount.
func sseStreamID(channelID int64) string {
	return fmt.Sprintf("channel-%d", channelID)
}

// SSEServer is the downstream-push half of spec.md 6.3's SSE+POST
// transport: frames it is asked to Send go out as base64-encoded SSE
// events (wire frames are binary; SSE payloads are text), and frames
// posted to its upstream HTTP handler are reassembled and dispatched
// the same way every other adapter in this package does it. Grounded
// on network_manager.go's handler-registration/dispatch shape, with
// the long-poll variant sharing parsePostBody per spec.md 6.3.
type SSEServer struct {
	mu      sync.Mutex
	srv     *sse.Server
	logger  *zap.Logger
	reasm   map[int64]*wire.Reassembler
	execFor func(channelID int64) (*executor.Executor, bool)

	// Tokens, when set, requires a valid "Bearer <jwt>" Authorization
	// header on both the downstream stream subscribe and the upstream
	// POST — the SSE/long-poll equivalent of WSServer.Tokens gating the
	// socket upgrade.
	Tokens *auth.TokenManager
}

// NewSSEServer builds a server adapter. execFor resolves which
// Executor owns a given channel id, used by both the POST upstream
// handler (to dispatch reassembled frames) and the SSE downstream
// registration (to install itself as that Executor's Sender).
func NewSSEServer(logger *zap.Logger, execFor func(channelID int64) (*executor.Executor, bool)) *SSEServer {
	srv := sse.New()
	srv.AutoReplay = false
	return &SSEServer{
		srv:     srv,
		logger:  logger,
		reasm:   make(map[int64]*wire.Reassembler),
		execFor: execFor,
	}
}

// RegisterChannel opens this channel's downstream stream and installs
// the server as its Executor's Sender for outbound frames.
func (s *SSEServer) RegisterChannel(channelID int64, exec *executor.Executor) {
	s.mu.Lock()
	s.reasm[channelID] = wire.NewReassembler()
	s.mu.Unlock()
	s.srv.CreateStream(sseStreamID(channelID))
	exec.Sender = &sseSender{server: s, channelID: channelID}
}

type sseSender struct {
	server    *SSEServer
	channelID int64
}

// Send publishes each wire frame, base64-encoded, as one SSE event on
// this channel's stream. Fragmentation still happens at the wire
// layer below the encoding, exactly as it does for the binary
// transports.
func (s *sseSender) Send(ctx context.Context, channelID int64, data []byte) error {
	for _, frame := range wire.Send(data, MaxChunkBytes) {
		event := &sse.Event{
			Event: []byte("frame"),
			Data:  []byte(base64.StdEncoding.EncodeToString(frame)),
		}
		s.server.srv.Publish(sseStreamID(s.channelID), event)
	}
	return nil
}

// Mount attaches the SSE downstream and POST upstream endpoints to r
// at the given base path (e.g. "/sync"), matching spec.md 6.3's
// SSE-downstream-paired-with-HTTP-POST-upstream shape. The long-poll
// variant shares parsePostBody below.
func (s *SSEServer) Mount(r chi.Router, base string) {
	r.Get(base+"/stream/{channelID}", s.handleDownstream)
	r.Post(base+"/send/{channelID}", s.handleUpstream)
}

// handleDownstream adapts our path-parameterized route onto
// r3labs/sse's HTTPHandler, which identifies a stream via its own
// "stream" query parameter — translating {channelID} into that
// parameter keeps the adapter's own routes path-based like every other
// endpoint this node exposes.
func (s *SSEServer) handleDownstream(w http.ResponseWriter, r *http.Request) {
	if s.Tokens != nil {
		if _, err := bearerClaims(r, s.Tokens); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	channelIDStr := chi.URLParam(r, "channelID")
	q := r.URL.Query()
	q.Set("stream", sseStreamID(parseChannelID(channelIDStr)))
	r.URL.RawQuery = q.Encode()
	s.srv.HTTPHandler(w, r)
}

func parseChannelID(s string) int64 {
	var channelID int64
	fmt.Sscanf(s, "%d", &channelID)
	return channelID
}

// handleUpstream is the "parsePostBody" path spec.md 6.3 says the
// long-poll variant shares with SSE's POST upstream: the request body
// is one raw wire frame.
func (s *SSEServer) handleUpstream(w http.ResponseWriter, r *http.Request) {
	if s.Tokens != nil {
		if _, err := bearerClaims(r, s.Tokens); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	channelIDStr := chi.URLParam(r, "channelID")
	if channelIDStr == "" {
		http.Error(w, "bad channel id", http.StatusBadRequest)
		return
	}
	channelID := parseChannelID(channelIDStr)

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	exec, ok := s.execFor(channelID)
	if !ok {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	reasm, ok := s.reasm[channelID]
	if !ok {
		reasm = wire.NewReassembler()
		s.reasm[channelID] = reasm
	}
	s.mu.Unlock()

	payload, complete, err := reasm.Feed(body, time.Now())
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("sse upstream reassembly failed", zap.Int64("channel_id", channelID), zap.Error(err))
		}
		http.Error(w, "reassembly failed", http.StatusBadRequest)
		return
	}
	if complete {
		exec.Receive(r.Context(), channelID, payload)
	}
	w.WriteHeader(http.StatusAccepted)
}

// SSEClient is the peer-side counterpart: it subscribes to a remote
// node's downstream stream and POSTs its own outbound frames upstream
// over plain HTTP.
type SSEClient struct {
	baseURL   string
	channelID int64
	http      *http.Client
	client    *sse.Client
	exec      *executor.Executor
	reasm     *wire.Reassembler
	logger    *zap.Logger
}

// DialSSE connects a client adapter to baseURL (e.g.
// "https://peer.example/sync") for channelID, subscribes to the
// downstream stream in a background goroutine, and installs itself as
// exec's Sender for the upstream POST path.
func DialSSE(baseURL string, channelID int64, exec *executor.Executor, logger *zap.Logger) *SSEClient {
	c := &SSEClient{
		baseURL:   baseURL,
		channelID: channelID,
		http:      &http.Client{Timeout: 30 * time.Second},
		client:    sse.NewClient(fmt.Sprintf("%s/stream/%d", baseURL, channelID)),
		exec:      exec,
		reasm:     wire.NewReassembler(),
		logger:    logger,
	}
	exec.Sender = c
	go c.listen()
	return c
}

func (c *SSEClient) listen() {
	err := c.client.SubscribeRaw(func(msg *sse.Event) {
		frame, decodeErr := base64.StdEncoding.DecodeString(string(msg.Data))
		if decodeErr != nil {
			if c.logger != nil {
				c.logger.Warn("sse downstream decode failed", zap.Error(decodeErr))
			}
			return
		}
		payload, ok, feedErr := c.reasm.Feed(frame, time.Now())
		if feedErr != nil {
			if c.logger != nil {
				c.logger.Warn("sse downstream reassembly failed", zap.Error(feedErr))
			}
			return
		}
		if ok {
			c.exec.Receive(context.Background(), c.channelID, payload)
		}
	})
	if err != nil && c.logger != nil {
		c.logger.Info("sse subscription ended", zap.Error(err))
	}
}

// Send POSTs each wire frame upstream as its raw bytes.
func (c *SSEClient) Send(ctx context.Context, channelID int64, data []byte) error {
	for _, frame := range wire.Send(data, MaxChunkBytes) {
		url := fmt.Sprintf("%s/send/%d", c.baseURL, c.channelID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame))
		if err != nil {
			return fmt.Errorf("sse upstream request: %w", err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("sse upstream post: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("sse upstream post: status %d", resp.StatusCode)
		}
	}
	return nil
}
