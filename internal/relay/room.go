// Package relay implements the collaborative-document relay: the room
// registry, per-room replica and presence state, and the WebSocket
// connection handler that drives the sync handshake and fans out updates.
package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matteso1/synapse/internal/awareness"
	"github.com/matteso1/synapse/internal/crdt"
	"github.com/matteso1/synapse/internal/protocol"
	"github.com/matteso1/synapse/pkg/errors"
	"github.com/matteso1/synapse/pkg/metrics"
)

// Subscriber is one attached client from the room's point of view: something
// frames can be queued to. The room never performs transport I/O itself; it
// returns the sends to perform and the caller delivers them.
type Subscriber interface {
	Queue(frame []byte)
}

// Send pairs a frame with the subscriber it should be delivered to.
type Send struct {
	To    Subscriber
	Frame []byte
}

func deliver(sends []Send) {
	for _, s := range sends {
		s.To.Queue(s.Frame)
	}
}

// Room owns one replica, one presence store and the set of attached
// subscribers. One mutex guards all three as a unit: decode, merge and
// broadcast assembly are atomic with respect to other messages on the room.
type Room struct {
	name string

	mu         sync.Mutex
	doc        *crdt.Doc
	awareness  *awareness.Store
	subs       map[Subscriber]map[uint64]struct{}
	emptySince time.Time
	closed     bool

	log *zap.Logger
}

func newRoom(name string, log *zap.Logger) *Room {
	return &Room{
		name:      name,
		doc:       crdt.NewDoc(),
		awareness: awareness.NewStore(),
		subs:      make(map[Subscriber]map[uint64]struct{}),
		log:       log.With(zap.String("room", name)),
	}
}

// Name returns the room's registry key.
func (r *Room) Name() string {
	return r.name
}

// ConnCount reports the number of attached subscribers.
func (r *Room) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Attach registers sub and returns the handshake sends: a SyncStep1 carrying
// the replica's current state vector (zero-length for a fresh document) and,
// when presence records exist, one awareness frame with all of them. It
// fails with ErrRoomClosed when the room lost the race with its eviction
// check; the caller re-resolves through the registry.
func (r *Room) Attach(sub Subscriber) ([]Send, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.ErrRoomClosed
	}

	r.subs[sub] = make(map[uint64]struct{})
	r.emptySince = time.Time{}
	r.log.Debug("subscriber attached", zap.Int("connections", len(r.subs)))

	sends := []Send{{To: sub, Frame: protocol.EncodeSyncStep1(r.doc.StateVector())}}
	if snapshot := r.awareness.EncodeAll(); snapshot != nil {
		sends = append(sends, Send{To: sub, Frame: protocol.EncodeAwareness(snapshot)})
	}
	return sends, nil
}

// Detach removes sub, synthesises awareness removals for every client id it
// was authoritative for, and returns the removal broadcast for the remaining
// subscribers plus whether the room is now empty.
func (r *Room) Detach(sub Subscriber) (sends []Send, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	controlled, ok := r.subs[sub]
	if !ok {
		return nil, len(r.subs) == 0
	}
	delete(r.subs, sub)

	ids := make([]uint64, 0, len(controlled))
	for id := range controlled {
		ids = append(ids, id)
	}
	if payload := r.awareness.Remove(ids); payload != nil {
		frame := protocol.EncodeAwareness(payload)
		for peer := range r.subs {
			sends = append(sends, Send{To: peer, Frame: frame})
		}
	}

	if len(r.subs) == 0 {
		r.emptySince = time.Now()
		empty = true
	}
	r.log.Debug("subscriber detached", zap.Int("connections", len(r.subs)))
	return sends, empty
}

// HandleFrame decodes one inbound frame from sub and applies it: sync step 1
// is answered with a diff, updates are merged and rebroadcast verbatim to
// every other subscriber, awareness updates are merged and rebroadcast to
// all subscribers. Unknown message types are dropped silently. Decode
// failures return an error; the caller logs it and keeps the connection.
// The second result reports whether the frame completed a vector/diff round
// (the sender can be considered synced).
func (r *Room) HandleFrame(sub Subscriber, frame []byte) ([]Send, bool, error) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		metrics.DecodeErrors.Inc()
		return nil, false, err
	}
	metrics.MessagesRelayed.WithLabelValues(protocol.KindLabel(msg)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Type {
	case protocol.MessageSync:
		return r.handleSync(sub, msg, frame)
	case protocol.MessageAwareness:
		sends, err := r.handleAwareness(sub, msg.Payload)
		return sends, false, err
	default:
		// Forward compatibility: unknown top-level types are a no-op.
		return nil, false, nil
	}
}

func (r *Room) handleSync(sub Subscriber, msg protocol.Message, frame []byte) ([]Send, bool, error) {
	switch msg.SubType {
	case protocol.SyncStep1:
		// Pure read: answer with everything the peer is missing.
		diff, err := r.doc.DiffSince(msg.Payload)
		if err != nil {
			metrics.DecodeErrors.Inc()
			return nil, false, errors.ErrBadFrame.WithInternal(err)
		}
		return []Send{{To: sub, Frame: protocol.EncodeSyncStep2(diff)}}, true, nil

	case protocol.SyncStep2, protocol.SyncUpdate:
		if err := r.doc.Merge(msg.Payload); err != nil {
			metrics.DecodeErrors.Inc()
			return nil, false, errors.ErrBadUpdate.WithInternal(err)
		}
		// A step 2 answers one peer's specific request; only committed
		// updates fan out, and never back to their origin.
		if msg.SubType != protocol.SyncUpdate {
			return nil, false, nil
		}
		var sends []Send
		for peer := range r.subs {
			if peer == sub {
				continue
			}
			sends = append(sends, Send{To: peer, Frame: frame})
		}
		return sends, false, nil

	default:
		return nil, false, nil
	}
}

func (r *Room) handleAwareness(sub Subscriber, payload []byte) ([]Send, error) {
	changes, err := r.awareness.Apply(payload)
	if err != nil {
		metrics.DecodeErrors.Inc()
		return nil, err
	}
	if changes.Empty() {
		return nil, nil
	}

	// The sender becomes the authority for every id it updated, so its
	// records are cleaned up when it disconnects.
	if controlled, ok := r.subs[sub]; ok {
		for _, id := range changes.Updated {
			controlled[id] = struct{}{}
		}
		for _, id := range changes.Removed {
			delete(controlled, id)
		}
	}

	frame := protocol.EncodeAwareness(r.awareness.EncodeState(changes.Changed()))
	sends := make([]Send, 0, len(r.subs))
	for peer := range r.subs {
		// Awareness fans out to everyone, origin included; the origin
		// already holds the superseding value, so the echo is harmless.
		sends = append(sends, Send{To: peer, Frame: frame})
	}
	return sends, nil
}

// tryClose marks the room closed if it is still empty, so late attachers
// fall back to the registry. Returns whether the room closed.
func (r *Room) tryClose() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.subs) > 0 {
		return false
	}
	r.closed = true
	return true
}
