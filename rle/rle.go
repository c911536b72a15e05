// Package rle implements the generic run-length-encoded container described
// in spec §4.1: a sequence of mergeable spans with "append if adjacent, else
// push" semantics, plus a keyed variant for binary-searchable (lv_start,
// payload) runs such as the causal-graph entries and agent-assignment
// entries built on top of it.
package rle

// Entry is the capability set every RLE payload must implement. It is kept
// tiny and monomorphised over rather than expressed as an interface{} +
// type switch, matching the "avoid runtime polymorphism" guidance for span
// kinds: every concrete payload type (*causalgraph.Entry, agentassign's
// forward and reverse entries, indextree's entries) implements Entry[T]
// with T itself, and the container is generic over T.
type Entry[T any] interface {
	// Len returns the number of logical units (always >= 1) this entry
	// covers.
	Len() int
	// CanAppend reports whether other is semantically adjacent to the
	// receiver and can be merged into it.
	CanAppend(other T) bool
	// Append merges other onto the end of the receiver. CanAppend(other)
	// must already be true.
	Append(other T)
	// Truncate splits the receiver at offset `at` (0 < at < Len()); the
	// receiver keeps the left part and the returned value holds the right.
	Truncate(at int) T
}

// List is an ordered sequence of RLE-mergeable entries. No two adjacent
// entries are ever mergeable -- they would already have been merged by
// Push.
type List[T Entry[T]] struct {
	entries []T
}

// NewList returns an empty RLE list.
func NewList[T Entry[T]]() *List[T] {
	return &List[T]{}
}

// Len returns the number of stored entries (not the sum of their Len()).
func (l *List[T]) Len() int { return len(l.entries) }

// Entries exposes the backing slice for read-only iteration. Callers must
// not mutate the returned slice's structure (append/remove); per-entry
// field mutation is fine provided it doesn't break CanAppend invariants.
func (l *List[T]) Entries() []T { return l.entries }

// Last returns the final entry and true, or the zero value and false if the
// list is empty.
func (l *List[T]) Last() (T, bool) {
	var zero T
	if len(l.entries) == 0 {
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// Push appends item to the list, merging it into the last entry if
// possible ("append if adjacent, else push").
func (l *List[T]) Push(item T) {
	if n := len(l.entries); n > 0 {
		last := &l.entries[n-1]
		if (*last).CanAppend(item) {
			(*last).Append(item)
			return
		}
	}
	l.entries = append(l.entries, item)
}

// PushAll pushes every item from other's entries into l, in order.
func (l *List[T]) PushAll(other *List[T]) {
	for _, e := range other.entries {
		l.Push(e)
	}
}

// Set replaces the contents of the list wholesale. Used by decoders and
// tests constructing a list directly; it does not attempt to re-merge
// adjacent entries, so callers must already satisfy the no-adjacent-merge
// invariant (or call Normalize after).
func (l *List[T]) Set(entries []T) {
	l.entries = entries
}

// Normalize rebuilds the list by re-pushing every entry, coalescing any
// adjacent runs that have become mergeable (e.g. after Set or after an
// out-of-band mutation). This is also the basis of the RLE-idempotence
// property (spec §8.6): splitting at every internal offset and re-appending
// the pieces must yield an identical list.
func (l *List[T]) Normalize() {
	old := l.entries
	l.entries = nil
	for _, e := range old {
		l.Push(e)
	}
}

// SplitAt splits the list at linear offset `at` into two lists without
// losing any entries; used by tests to verify RLE idempotence.
func (l *List[T]) SplitAt(at int) (*List[T], *List[T]) {
	left := NewList[T]()
	right := NewList[T]()
	pos := 0
	for _, e := range l.entries {
		elen := e.Len()
		switch {
		case pos+elen <= at:
			left.Push(e)
		case pos >= at:
			right.Push(e)
		default:
			offset := at - pos
			tail := e.Truncate(offset)
			left.Push(e)
			right.Push(tail)
		}
		pos += elen
	}
	return left, right
}

// KeyedEntry is an Entry whose payload additionally knows its own starting
// key (e.g. lv_start, or seq_start), enabling binary search.
type KeyedEntry[T any] interface {
	Entry[T]
	StartKey() int
}

// KeyedList is a List specialised for binary-searchable lookup by key,
// matching spec §4.1's "for keyed containers ... get(lv) via binary
// search, returning (payload, offset_within_payload)".
type KeyedList[T KeyedEntry[T]] struct {
	List[T]
}

// NewKeyedList returns an empty keyed RLE list.
func NewKeyedList[T KeyedEntry[T]]() *KeyedList[T] {
	return &KeyedList[T]{}
}

// Get finds the entry whose key range contains `key`, returning the entry
// and the offset of `key` within it. ok is false if no entry covers key.
func (l *KeyedList[T]) Get(key int) (entry T, offset int, ok bool) {
	entries := l.entries
	// Binary search for the first entry whose StartKey() > key, then step
	// back one: invariant is entries are sorted and non-overlapping.
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].StartKey() > key {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	idx := lo - 1
	var zero T
	if idx < 0 || idx >= len(entries) {
		return zero, 0, false
	}
	e := entries[idx]
	off := key - e.StartKey()
	if off < 0 || off >= e.Len() {
		return zero, 0, false
	}
	return e, off, true
}

// Contains reports whether some entry covers key.
func (l *KeyedList[T]) Contains(key int) bool {
	_, _, ok := l.Get(key)
	return ok
}
