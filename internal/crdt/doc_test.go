package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyDocHasZeroLengthVector(t *testing.T) {
	doc := NewDoc()
	require.Empty(t, doc.StateVector())
	require.Zero(t, doc.Len())
}

func TestMergeIsIdempotent(t *testing.T) {
	doc := NewDoc()
	update := EncodeUpdate([]Entry{{Client: 7, Seq: 1, Body: []byte("ins a")}})

	require.NoError(t, doc.Merge(update))
	once := doc.StateVector()

	require.NoError(t, doc.Merge(update))
	require.Equal(t, once, doc.StateVector())
	require.Equal(t, 1, doc.Len())
}

func TestConvergenceUnderReorderAndDuplication(t *testing.T) {
	u1 := EncodeUpdate([]Entry{{Client: 1, Seq: 1, Body: []byte("a")}})
	u2 := EncodeUpdate([]Entry{{Client: 2, Seq: 1, Body: []byte("b")}})
	u3 := EncodeUpdate([]Entry{{Client: 1, Seq: 2, Body: []byte("c")}})

	left := NewDoc()
	for _, u := range [][]byte{u1, u2, u3} {
		require.NoError(t, left.Merge(u))
	}

	right := NewDoc()
	for _, u := range [][]byte{u3, u3, u1, u2, u1} {
		require.NoError(t, right.Merge(u))
	}

	require.Equal(t, left.StateVector(), right.StateVector())
	require.Equal(t, left.Len(), right.Len())
}

func TestDiffSinceReturnsOnlyMissingEntries(t *testing.T) {
	source := NewDoc()
	source.Append(1, []byte("a"))
	shared := source.StateVector()
	u2 := source.Append(1, []byte("b"))
	u3 := source.Append(2, []byte("x"))

	diff, err := source.DiffSince(shared)
	require.NoError(t, err)

	entries, err := DecodeUpdate(diff)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// The diff alone is exactly what u2 and u3 carried.
	catchUp := NewDoc()
	require.NoError(t, catchUp.Merge(diff))
	require.NoError(t, catchUp.Merge(u2))
	require.NoError(t, catchUp.Merge(u3))
	require.Equal(t, 2, catchUp.Len())
}

func TestDiffSinceFullDocumentForEmptyVector(t *testing.T) {
	source := NewDoc()
	source.Append(1, []byte("a"))
	source.Append(2, []byte("b"))

	diff, err := source.DiffSince([]byte{})
	require.NoError(t, err)

	peer := NewDoc()
	require.NoError(t, peer.Merge(diff))
	require.Equal(t, source.StateVector(), peer.StateVector())
}

func TestMergeRejectsMalformedBytes(t *testing.T) {
	doc := NewDoc()
	doc.Append(1, []byte("keep"))
	before := doc.StateVector()

	for _, bad := range [][]byte{
		{0x02, 0x01},             // promises two entries, truncates
		{0x01, 0x01, 0x01, 0xFF}, // body length past end of buffer
		append(EncodeUpdate([]Entry{{Client: 1, Seq: 2, Body: []byte("x")}}), 0xAA), // trailing bytes
	} {
		err := doc.Merge(bad)
		require.ErrorIs(t, err, ErrMalformedUpdate)
		require.Equal(t, before, doc.StateVector())
	}
}

func TestAppendAssignsContiguousSequences(t *testing.T) {
	doc := NewDoc()
	doc.Append(9, []byte("one"))
	update := doc.Append(9, []byte("two"))

	entries, err := DecodeUpdate(update)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, uint64(2), entries[0].Seq)
}
