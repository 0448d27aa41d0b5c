package executor

import (
	"testing"

	"github.com/knirvcorp/syncbase/internal/sync"
)

func TestFlushSkipsEmptyChannels(t *testing.T) {
	b := NewBatcher()
	out := b.Flush()
	if len(out) != 0 {
		t.Fatalf("expected no channels, got %d", len(out))
	}
}

func TestFlushSendsSingleMessageUnwrapped(t *testing.T) {
	b := NewBatcher()
	b.Queue(1, sync.DirectoryRequest{ChannelID: 1})
	out := b.Flush()
	if _, ok := out[1].(sync.DirectoryRequest); !ok {
		t.Fatalf("expected a bare DirectoryRequest, got %#v", out[1])
	}
}

func TestFlushWrapsMultipleMessagesInBatch(t *testing.T) {
	b := NewBatcher()
	b.Queue(1, sync.DirectoryRequest{ChannelID: 1})
	b.Queue(1, sync.DirectoryRequest{ChannelID: 1})
	out := b.Flush()
	batch, ok := out[1].(sync.Batch)
	if !ok {
		t.Fatalf("expected a Batch, got %#v", out[1])
	}
	if len(batch.Messages) != 2 {
		t.Errorf("expected 2 messages in batch, got %d", len(batch.Messages))
	}
}

func TestFlushClearsBufferBetweenCalls(t *testing.T) {
	b := NewBatcher()
	b.Queue(1, sync.DirectoryRequest{ChannelID: 1})
	b.Flush()
	out := b.Flush()
	if len(out) != 0 {
		t.Fatalf("expected buffer cleared after flush, got %d channels", len(out))
	}
}
