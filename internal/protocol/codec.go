// Package protocol implements the binary envelope the relay speaks: a varint
// message type tag, for sync messages a varint subtype tag, then the payload
// as the remainder of the frame. Payloads themselves (state vectors, updates,
// awareness blobs) are opaque at this layer.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/matteso1/synapse/pkg/errors"
)

// Top-level message types.
const (
	MessageSync      uint64 = 0
	MessageAwareness uint64 = 1
)

// Sync subtypes.
const (
	SyncStep1  uint64 = 0 // carries the sender's state vector
	SyncStep2  uint64 = 1 // carries a diff answering a step 1
	SyncUpdate uint64 = 2 // carries an incremental update to merge and rebroadcast
)

// Message is one decoded inbound frame. SubType is meaningful only when Type
// is MessageSync.
type Message struct {
	Type    uint64
	SubType uint64
	Payload []byte
}

// Decode parses a frame. Unknown types and subtypes decode successfully —
// dropping them is a dispatch decision, not a parse error — but a frame too
// short to carry its tags fails with ErrBadFrame.
func Decode(frame []byte) (Message, error) {
	r := bytes.NewReader(frame)

	msgType, err := binary.ReadUvarint(r)
	if err != nil {
		return Message{}, errors.ErrBadFrame.WithInternal(fmt.Errorf("message type: %w", err))
	}

	msg := Message{Type: msgType}
	if msgType == MessageSync {
		subType, err := binary.ReadUvarint(r)
		if err != nil {
			return Message{}, errors.ErrBadFrame.WithInternal(fmt.Errorf("sync subtype: %w", err))
		}
		msg.SubType = subType
	}

	msg.Payload = frame[len(frame)-r.Len():]
	return msg, nil
}

// EncodeSync frames a sync message with the given subtype and payload.
func EncodeSync(subType uint64, payload []byte) []byte {
	buf := binary.AppendUvarint(nil, MessageSync)
	buf = binary.AppendUvarint(buf, subType)
	return append(buf, payload...)
}

// EncodeSyncStep1 frames a state vector announcement.
func EncodeSyncStep1(stateVector []byte) []byte {
	return EncodeSync(SyncStep1, stateVector)
}

// EncodeSyncStep2 frames a diff answering a step 1.
func EncodeSyncStep2(diff []byte) []byte {
	return EncodeSync(SyncStep2, diff)
}

// EncodeUpdate frames an incremental document update.
func EncodeUpdate(update []byte) []byte {
	return EncodeSync(SyncUpdate, update)
}

// EncodeAwareness frames an awareness update payload.
func EncodeAwareness(payload []byte) []byte {
	buf := binary.AppendUvarint(nil, MessageAwareness)
	return append(buf, payload...)
}

// KindLabel names a decoded message for logs and metrics.
func KindLabel(msg Message) string {
	switch msg.Type {
	case MessageAwareness:
		return "awareness"
	case MessageSync:
		switch msg.SubType {
		case SyncStep1:
			return "sync_step1"
		case SyncStep2:
			return "sync_step2"
		case SyncUpdate:
			return "update"
		}
	}
	return "unknown"
}
