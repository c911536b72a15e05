// Package indextree implements the index tree from spec §4.5: a
// structure keyed by LV range that answers "where does this LV currently
// live" -- either InsertedInto(leaf), pointing at a content-tree leaf, or
// DeletedAt(v), recording which LV a deletion operation removed.
//
// Unlike the content tree, the index tree never needs position-based
// cursors: callers only ever do point lookups by LV or overwrite a range
// (on insert integration and on a content-tree leaf split; the merge
// engine writes no DeletedAt markers). That access pattern is exactly what the shared RLE keyed
// list already provides, so rather than duplicating the content tree's
// multi-leaf B-tree machinery this wraps rle.KeyedList directly -- see
// DESIGN.md.
package indextree

import (
	"sort"

	"github.com/eg-walker/crdt-core/contenttree"
	"github.com/eg-walker/crdt-core/rle"
)

// LV and LVRange mirror the content tree's aliases.
type LV = contenttree.LV
type LVRange = contenttree.LVRange

// MarkerKind distinguishes the two marker shapes from spec §4.5.
type MarkerKind int8

const (
	// InsertedInto means the LV range currently lives in content-tree leaf Leaf.
	InsertedInto MarkerKind = iota
	// DeletedAt means the LV range is a deletion operation that removed the
	// (possibly different) LV range starting at Target.
	DeletedAt
)

// Marker is what the index tree stores for a range of LVs.
type Marker struct {
	Kind   MarkerKind
	Leaf   contenttree.LeafHandle // valid when Kind == InsertedInto
	Target LV                     // valid when Kind == DeletedAt
}

// entry is one RLE run of the index, keyed by lv_start.
type entry struct {
	r LVRange
	m Marker
}

func (e *entry) Len() int      { return e.r.Len() }
func (e *entry) StartKey() int { return int(e.r.Start) }
func (e *entry) CanAppend(o *entry) bool {
	if o.r.Start != e.r.End || e.m.Kind != o.m.Kind {
		return false
	}
	switch e.m.Kind {
	case InsertedInto:
		return e.m.Leaf == o.m.Leaf
	case DeletedAt:
		return o.m.Target == e.m.Target+LV(e.r.Len())
	default:
		return false
	}
}
func (e *entry) Append(o *entry) { e.r.End = o.r.End }

// Truncate implements rle.Entry: the receiver keeps the first `at` LVs and
// the returned entry holds the rest (0 < at < Len()).
func (e *entry) Truncate(at int) *entry {
	left, right := e.split(at)
	*e = *left
	return right
}

func (e *entry) split(at int) (*entry, *entry) {
	if at <= 0 {
		return nil, e
	}
	if at >= e.r.Len() {
		return e, nil
	}
	mid := e.r.Start + LV(at)
	var rightMarker Marker
	switch e.m.Kind {
	case InsertedInto:
		rightMarker = Marker{Kind: InsertedInto, Leaf: e.m.Leaf}
	case DeletedAt:
		rightMarker = Marker{Kind: DeletedAt, Target: e.m.Target + LV(at)}
	}
	left := &entry{r: LVRange{Start: e.r.Start, End: mid}, m: e.m}
	right := &entry{r: LVRange{Start: mid, End: e.r.End}, m: rightMarker}
	return left, right
}

var _ rle.KeyedEntry[*entry] = (*entry)(nil)

// Tree is the index tree.
type Tree struct {
	list rle.KeyedList[*entry]
}

// New returns an empty index tree.
func New() *Tree { return &Tree{} }

// Lookup returns the marker covering lv.
func (t *Tree) Lookup(lv LV) (Marker, bool) {
	e, _, ok := t.list.Get(int(lv))
	if !ok {
		return Marker{}, false
	}
	return e.m, true
}

// SetRange overwrites every LV in r with marker m, splitting or trimming
// whatever entries previously covered part of r. Most calls either append
// a brand-new range past the end of the index (initial assignment on
// insert integration) or replace an existing range's marker exactly
// (content-tree leaf split), but
// SetRange handles the general overlapping case too.
func (t *Tree) SetRange(r LVRange, m Marker) {
	var frags []*entry
	for _, e := range t.list.Entries() {
		switch {
		case e.r.End <= r.Start || e.r.Start >= r.End:
			frags = append(frags, e)
		case e.r.Start < r.Start && e.r.End <= r.End:
			left, _ := e.split(int(r.Start - e.r.Start))
			if left != nil {
				frags = append(frags, left)
			}
		case e.r.Start >= r.Start && e.r.End > r.End:
			_, right := e.split(int(r.End - e.r.Start))
			if right != nil {
				frags = append(frags, right)
			}
		case e.r.Start < r.Start && e.r.End > r.End:
			left, rest := e.split(int(r.Start - e.r.Start))
			_, right := rest.split(int(r.End - rest.r.Start))
			if left != nil {
				frags = append(frags, left)
			}
			if right != nil {
				frags = append(frags, right)
			}
		default:
			// Fully covered by r: discarded.
		}
	}
	frags = append(frags, &entry{r: r, m: m})
	sort.Slice(frags, func(i, j int) bool { return frags[i].r.Start < frags[j].r.Start })

	rebuilt := rle.NewKeyedList[*entry]()
	for _, f := range frags {
		rebuilt.Push(f)
	}
	t.list = *rebuilt
}
