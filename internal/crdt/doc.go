// Package crdt provides the reference replica engine backing a relay room.
//
// A Doc is an update-set CRDT: each entry is an opaque payload keyed by the
// originating client id and a per-client sequence number. Merging inserts
// entries it has not seen and ignores the rest, which makes merge
// commutative, associative and idempotent — the properties the relay's
// correctness depends on. The engine is deliberately payload-agnostic; a
// richer text CRDT can replace it behind the relay.Replica interface as long
// as it honours the same StateVector/DiffSince/Merge contract.
package crdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrMalformedUpdate reports update or vector bytes that could not be decoded.
// A failed Merge leaves the document untouched.
var ErrMalformedUpdate = errors.New("crdt: malformed update")

// Entry is a single attributed edit inside an update payload.
type Entry struct {
	Client uint64
	Seq    uint64
	Body   []byte
}

// Doc is one room's replica. It is not safe for concurrent use; the owning
// room serialises access.
type Doc struct {
	entries map[uint64]map[uint64][]byte
	vector  map[uint64]uint64
}

// NewDoc returns an empty document.
func NewDoc() *Doc {
	return &Doc{
		entries: make(map[uint64]map[uint64][]byte),
		vector:  make(map[uint64]uint64),
	}
}

// Len reports the number of entries the document has incorporated.
func (d *Doc) Len() int {
	n := 0
	for _, seqs := range d.entries {
		n += len(seqs)
	}
	return n
}

// StateVector encodes a summary of the causal history this document has
// incorporated: for each known client, the highest sequence observed.
// Clients emit sequences contiguously, so the maximum summarises the set.
// The empty document encodes to zero bytes.
func (d *Doc) StateVector() []byte {
	if len(d.vector) == 0 {
		return []byte{}
	}

	clients := make([]uint64, 0, len(d.vector))
	for client := range d.vector {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })

	buf := binary.AppendUvarint(nil, uint64(len(clients)))
	for _, client := range clients {
		buf = binary.AppendUvarint(buf, client)
		buf = binary.AppendUvarint(buf, d.vector[client])
	}
	return buf
}

// DiffSince returns update bytes carrying every entry the peer summarised by
// vector is missing. It never mutates the document. A nil or empty vector
// yields the full document.
func (d *Doc) DiffSince(vector []byte) ([]byte, error) {
	peer, err := decodeVector(vector)
	if err != nil {
		return nil, err
	}

	var diff []Entry
	for client, seqs := range d.entries {
		seen := peer[client]
		for seq, body := range seqs {
			if seq > seen {
				diff = append(diff, Entry{Client: client, Seq: seq, Body: body})
			}
		}
	}

	return EncodeUpdate(diff), nil
}

// Merge applies update bytes to the document. Entries already present are
// skipped, so merging the same update twice, or interleaving concurrent
// updates in any order, converges on the same document.
func (d *Doc) Merge(update []byte) error {
	entries, err := DecodeUpdate(update)
	if err != nil {
		return err
	}

	for _, e := range entries {
		seqs := d.entries[e.Client]
		if seqs == nil {
			seqs = make(map[uint64][]byte)
			d.entries[e.Client] = seqs
		}
		if _, ok := seqs[e.Seq]; ok {
			continue
		}
		seqs[e.Seq] = e.Body
		if e.Seq > d.vector[e.Client] {
			d.vector[e.Client] = e.Seq
		}
	}
	return nil
}

// Append records a new locally-authored entry for client and returns the
// update bytes that carry it to peers.
func (d *Doc) Append(client uint64, body []byte) []byte {
	next := d.vector[client] + 1
	update := EncodeUpdate([]Entry{{Client: client, Seq: next, Body: body}})
	// Cannot fail: the bytes were just produced by EncodeUpdate.
	_ = d.Merge(update)
	return update
}

// EncodeUpdate serialises entries as update bytes: a varint entry count
// followed by (client, seq, length, body) per entry. Encoding is
// deterministic: entries are ordered by client then sequence.
func EncodeUpdate(entries []Entry) []byte {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Client != sorted[j].Client {
			return sorted[i].Client < sorted[j].Client
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	buf := binary.AppendUvarint(nil, uint64(len(sorted)))
	for _, e := range sorted {
		buf = binary.AppendUvarint(buf, e.Client)
		buf = binary.AppendUvarint(buf, e.Seq)
		buf = binary.AppendUvarint(buf, uint64(len(e.Body)))
		buf = append(buf, e.Body...)
	}
	return buf
}

// DecodeUpdate parses update bytes produced by EncodeUpdate or DiffSince.
func DecodeUpdate(update []byte) ([]Entry, error) {
	r := bytes.NewReader(update)

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: entry count: %v", ErrMalformedUpdate, err)
	}

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		client, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: client id: %v", ErrMalformedUpdate, err)
		}
		seq, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: sequence: %v", ErrMalformedUpdate, err)
		}
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: body length: %v", ErrMalformedUpdate, err)
		}
		if size > uint64(r.Len()) {
			return nil, fmt.Errorf("%w: body truncated", ErrMalformedUpdate)
		}
		body := make([]byte, size)
		if _, err := r.Read(body); err != nil {
			return nil, fmt.Errorf("%w: body: %v", ErrMalformedUpdate, err)
		}
		entries = append(entries, Entry{Client: client, Seq: seq, Body: body})
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrMalformedUpdate)
	}
	return entries, nil
}

func decodeVector(vector []byte) (map[uint64]uint64, error) {
	peer := make(map[uint64]uint64)
	if len(vector) == 0 {
		return peer, nil
	}

	r := bytes.NewReader(vector)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: vector count: %v", ErrMalformedUpdate, err)
	}
	for i := uint64(0); i < count; i++ {
		client, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: vector client: %v", ErrMalformedUpdate, err)
		}
		seq, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: vector sequence: %v", ErrMalformedUpdate, err)
		}
		peer[client] = seq
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: vector trailing bytes", ErrMalformedUpdate)
	}
	return peer, nil
}
