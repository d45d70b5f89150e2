// Package awareness tracks ephemeral per-client presence inside one room:
// cursor positions, display names, colors. Records are not replicated and
// carry no history — only a per-client clock that orders updates. The relay
// decodes the update envelope to honour clocks; the state blob inside stays
// opaque.
package awareness

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/matteso1/synapse/pkg/errors"
)

// tombstone is the state payload that encodes removal, matching the JSON
// null the editor clients emit for a departing peer.
var tombstone = []byte("null")

// Record is one client's presence entry.
type Record struct {
	ClientID uint64
	Clock    uint64
	State    []byte
}

// ChangeSet reports what an Apply actually changed, so callers can decide
// what to rebroadcast without the store doing any I/O.
type ChangeSet struct {
	Updated []uint64 // inserted or replaced
	Removed []uint64
}

// Empty reports whether the apply was a no-op.
func (c ChangeSet) Empty() bool {
	return len(c.Updated) == 0 && len(c.Removed) == 0
}

// Changed returns every client id the apply touched.
func (c ChangeSet) Changed() []uint64 {
	out := make([]uint64, 0, len(c.Updated)+len(c.Removed))
	out = append(out, c.Updated...)
	out = append(out, c.Removed...)
	return out
}

// Store holds the presence records for one room. It is not safe for
// concurrent use; the owning room serialises access.
type Store struct {
	records map[uint64]Record
}

// NewStore returns an empty presence store.
func NewStore() *Store {
	return &Store{records: make(map[uint64]Record)}
}

// Len reports the number of live records.
func (s *Store) Len() int {
	return len(s.records)
}

// ClientIDs returns the ids of all live records, ascending.
func (s *Store) ClientIDs() []uint64 {
	ids := make([]uint64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Apply merges an awareness update payload into the store. Removal always
// wins and deletes the record. Otherwise an entry replaces the stored record
// only when its clock is strictly greater; stale and equal clocks are
// silently ignored. The returned ChangeSet lists what actually changed.
func (s *Store) Apply(payload []byte) (ChangeSet, error) {
	entries, err := DecodeUpdate(payload)
	if err != nil {
		return ChangeSet{}, err
	}

	var changes ChangeSet
	for _, entry := range entries {
		if bytes.Equal(entry.State, tombstone) {
			if _, ok := s.records[entry.ClientID]; ok {
				delete(s.records, entry.ClientID)
			}
			// Report the removal even when the record was already gone so
			// late joiners hear about departed peers.
			changes.Removed = append(changes.Removed, entry.ClientID)
			continue
		}

		if current, ok := s.records[entry.ClientID]; ok && entry.Clock <= current.Clock {
			continue
		}
		s.records[entry.ClientID] = entry
		changes.Updated = append(changes.Updated, entry.ClientID)
	}
	return changes, nil
}

// Remove synthesises removals for ids, bumping past each record's stored
// clock, and applies them. Used at connection teardown. The returned payload
// carries the tombstones for broadcast; it is nil when ids is empty.
func (s *Store) Remove(ids []uint64) []byte {
	if len(ids) == 0 {
		return nil
	}

	entries := make([]Record, 0, len(ids))
	for _, id := range ids {
		clock := uint64(1)
		if current, ok := s.records[id]; ok {
			clock = current.Clock + 1
		}
		delete(s.records, id)
		entries = append(entries, Record{ClientID: id, Clock: clock, State: tombstone})
	}
	return EncodeUpdate(entries)
}

// EncodeState re-encodes the current records for ids — or tombstones for ids
// with no record — as an update payload suitable for broadcast.
func (s *Store) EncodeState(ids []uint64) []byte {
	entries := make([]Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := s.records[id]; ok {
			entries = append(entries, record)
			continue
		}
		entries = append(entries, Record{ClientID: id, Clock: 1, State: tombstone})
	}
	return EncodeUpdate(entries)
}

// EncodeAll snapshots every live record, for the handshake of a new
// connection. Returns nil when the store is empty.
func (s *Store) EncodeAll() []byte {
	if len(s.records) == 0 {
		return nil
	}
	return s.EncodeState(s.ClientIDs())
}

// EncodeUpdate serialises presence entries: a varint entry count, then per
// entry varint client id, varint clock, varint length and the state blob.
func EncodeUpdate(entries []Record) []byte {
	buf := binary.AppendUvarint(nil, uint64(len(entries)))
	for _, entry := range entries {
		buf = binary.AppendUvarint(buf, entry.ClientID)
		buf = binary.AppendUvarint(buf, entry.Clock)
		buf = binary.AppendUvarint(buf, uint64(len(entry.State)))
		buf = append(buf, entry.State...)
	}
	return buf
}

// DecodeUpdate parses an awareness update payload.
func DecodeUpdate(payload []byte) ([]Record, error) {
	r := bytes.NewReader(payload)

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.ErrBadFrame.WithInternal(fmt.Errorf("awareness count: %w", err))
	}

	entries := make([]Record, 0, count)
	for i := uint64(0); i < count; i++ {
		clientID, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errors.ErrBadFrame.WithInternal(fmt.Errorf("awareness client: %w", err))
		}
		clock, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errors.ErrBadFrame.WithInternal(fmt.Errorf("awareness clock: %w", err))
		}
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errors.ErrBadFrame.WithInternal(fmt.Errorf("awareness state length: %w", err))
		}
		if size > uint64(r.Len()) {
			return nil, errors.ErrBadFrame.WithInternal(fmt.Errorf("awareness state truncated"))
		}
		state := make([]byte, size)
		if _, err := r.Read(state); err != nil {
			return nil, errors.ErrBadFrame.WithInternal(fmt.Errorf("awareness state: %w", err))
		}
		entries = append(entries, Record{ClientID: clientID, Clock: clock, State: state})
	}
	return entries, nil
}
