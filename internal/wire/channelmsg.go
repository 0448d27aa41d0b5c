package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/knirvcorp/syncbase/internal/syncerr"
)

// ChannelMsg is the generic envelope every message the Synchronizer's
// protocol defines (establish-request/response, directory-request/
// response, sync-request/response, ephemeral, batch) is carried in.
// Type selects which concrete shape Fields holds; internal/sync owns
// the concrete message structs and only asks this package to get their
// field maps on and off the wire.
type ChannelMsg struct {
	Type   string                 `cbor:"type"`
	Fields map[string]interface{} `cbor:"fields"`
}

// EncodeChannelMsg CBOR-encodes msg for transmission.
func EncodeChannelMsg(msg ChannelMsg) ([]byte, error) {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wire: encode channel message: %w", err)
	}
	return data, nil
}

// DecodeChannelMsg CBOR-decodes a ChannelMsg previously produced by
// EncodeChannelMsg.
func DecodeChannelMsg(data []byte) (ChannelMsg, error) {
	var msg ChannelMsg
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return ChannelMsg{}, fmt.Errorf("%w: %v", syncerr.ErrDecode, err)
	}
	return msg, nil
}
