package rle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// span is a minimal payload (*span implements Entry[*span]) used to
// exercise the container in isolation from any real CRDT payload.
type span struct {
	start, length int
}

func (s span) Len() int               { return s.length }
func (s span) StartKey() int          { return s.start }
func (s span) CanAppend(o *span) bool { return o.start == s.start+s.length }
func (s *span) Append(o *span)        { s.length += o.length }
func (s *span) Truncate(at int) *span {
	other := &span{start: s.start + at, length: s.length - at}
	s.length = at
	return other
}

func TestListPushMergesAdjacent(t *testing.T) {
	l := NewList[*span]()
	l.Push(&span{start: 0, length: 3})
	l.Push(&span{start: 3, length: 2})
	require.Equal(t, 1, l.Len())
	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, 5, last.length)
}

func TestListPushDoesNotMergeNonAdjacent(t *testing.T) {
	l := NewList[*span]()
	l.Push(&span{start: 0, length: 3})
	l.Push(&span{start: 10, length: 2})
	assert.Equal(t, 2, l.Len())
}

func TestKeyedListGet(t *testing.T) {
	l := NewKeyedList[*span]()
	l.Push(&span{start: 0, length: 5})
	l.Push(&span{start: 10, length: 5})

	e, off, ok := l.Get(3)
	require.True(t, ok)
	assert.Equal(t, 0, e.start)
	assert.Equal(t, 3, off)

	e, off, ok = l.Get(12)
	require.True(t, ok)
	assert.Equal(t, 10, e.start)
	assert.Equal(t, 2, off)

	_, _, ok = l.Get(8)
	assert.False(t, ok)
}

// TestRLEIdempotence is the property from spec §8.6: splitting at every
// internal offset and re-appending the pieces yields an identical
// container.
func TestRLEIdempotence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		l := NewList[*span]()
		pos := 0
		for i := 0; i < n; i++ {
			length := rapid.IntRange(1, 5).Draw(t, "len")
			l.Push(&span{start: pos, length: length})
			pos += length
		}

		total := pos
		if total < 2 {
			return
		}
		at := rapid.IntRange(1, total-1).Draw(t, "at")

		left, right := l.SplitAt(at)
		rejoined := NewList[*span]()
		rejoined.PushAll(left)
		rejoined.PushAll(right)

		require.Equal(t, l.Len(), rejoined.Len())
		for i, e := range l.entries {
			assert.Equal(t, *e, *rejoined.entries[i])
		}
	})
}
