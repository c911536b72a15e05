package contenttree

import "github.com/eg-walker/crdt-core/internal/invariant"

// Tree is the content tree: an ordered sequence of items in document
// order (not LV order -- that's what the index tree is for), split into
// leaves capped at maxLeafItems.
type Tree struct {
	leaves       []leafNode
	leafOrder    []LeafHandle
	maxLeafItems int
	totalVisible int
	totalTotal   int
}

const defaultMaxLeafItems = 32

// New returns an empty content tree.
func New() *Tree { return NewWithCapacity(defaultMaxLeafItems) }

// NewWithCapacity returns an empty content tree whose leaves split once
// they hold more than maxLeafItems items.
func NewWithCapacity(maxLeafItems int) *Tree {
	invariant.Check(maxLeafItems >= 2, "contenttree: maxLeafItems must be at least 2, got %d", maxLeafItems)
	return &Tree{
		leaves:       []leafNode{{next: -1}},
		leafOrder:    []LeafHandle{0},
		maxLeafItems: maxLeafItems,
	}
}

// VisibleLen is the document's current visible length.
func (t *Tree) VisibleLen() int { return t.totalVisible }

// TotalLen is the document's length including tombstones.
func (t *Tree) TotalLen() int { return t.totalTotal }

// FirstLeaf returns the handle of the leftmost leaf (document start).
func (t *Tree) FirstLeaf() LeafHandle { return t.leafOrder[0] }

// NextLeaf returns the leaf immediately following h in document order.
func (t *Tree) NextLeaf(h LeafHandle) (LeafHandle, bool) {
	n := t.leaves[h].next
	if n < 0 {
		return 0, false
	}
	return n, true
}

// Items returns the items held directly by leaf h, in document order.
// Callers must not mutate the returned slice.
func (t *Tree) Items(h LeafHandle) []Item { return t.leaves[h].items }

// ItemAt returns the item a cursor points into.
func (t *Tree) ItemAt(c Cursor) (Item, bool) {
	items := t.leaves[c.Leaf].items
	if c.ItemIdx < 0 || c.ItemIdx >= len(items) {
		return Item{}, false
	}
	return items[c.ItemIdx], true
}

// CursorAtVisible locates the item at visible-text position pos (spec
// §4.4's cursor_at_visible).
func (t *Tree) CursorAtVisible(pos int) Cursor { return t.descend(pos, true) }

// CursorAtTotal locates the item at raw position pos, counting tombstones
// (spec §4.4's cursor_at_total).
func (t *Tree) CursorAtTotal(pos int) Cursor { return t.descend(pos, false) }

func (t *Tree) descend(pos int, visible bool) Cursor {
	cum := 0
	for i, lh := range t.leafOrder {
		items := t.leaves[lh].items
		m := leafMetric(items, visible)
		last := i == len(t.leafOrder)-1
		if pos <= cum+m || last {
			idx, off := leafDescend(items, pos-cum, visible)
			return Cursor{Leaf: lh, ItemIdx: idx, Offset: off}
		}
		cum += m
	}
	return Cursor{Leaf: t.leafOrder[0], ItemIdx: 0, Offset: 0}
}

func leafMetric(items []Item, visible bool) int {
	s := 0
	for _, it := range items {
		if visible {
			s += it.VisibleLen()
		} else {
			s += it.TotalLen()
		}
	}
	return s
}

func leafDescend(items []Item, pos int, visible bool) (idx, offset int) {
	if pos < 0 {
		pos = 0
	}
	cum := 0
	for i, it := range items {
		m := it.VisibleLen()
		if !visible {
			m = it.TotalLen()
		}
		if pos <= cum+m {
			return i, pos - cum
		}
		cum += m
	}
	return len(items), 0
}

// FindInLeaf does a linear scan of leaf h for the item covering lv -- used
// once the index tree has told the caller which leaf a given LV lives in
// (content-tree leaves are ordered by document position, not by LV, so
// this is not a binary search).
func (t *Tree) FindInLeaf(h LeafHandle, lv LV) (itemIdx, offset int, ok bool) {
	for i, it := range t.leaves[h].items {
		if lv >= it.LVStart && lv < it.LVEnd() {
			return i, int(lv - it.LVStart), true
		}
	}
	return 0, 0, false
}

// prevLeaf walks the leaf order backwards from h.
func (t *Tree) prevLeaf(h LeafHandle) (LeafHandle, bool) {
	for i, lh := range t.leafOrder {
		if lh == h {
			if i == 0 {
				return 0, false
			}
			return t.leafOrder[i-1], true
		}
	}
	return 0, false
}

func (t *Tree) leafOrderIndex(h LeafHandle) int {
	for i, lh := range t.leafOrder {
		if lh == h {
			return i
		}
	}
	invariant.Unreachable("contenttree: leaf handle %d not present in leaf order", h)
	return -1
}

// PrevVisibleLV returns the LV of the last Inserted item strictly before
// the cursor (leaf, itemIdx), or Root if there is none -- used to resolve
// origin_left for an insertion landing exactly at offset 0 of an item
// (spec §4.6).
func (t *Tree) PrevVisibleLV(leaf LeafHandle, itemIdx int) LV {
	for {
		items := t.leaves[leaf].items
		for itemIdx > 0 {
			itemIdx--
			if items[itemIdx].State == Inserted {
				return items[itemIdx].LVEnd() - 1
			}
		}
		pl, ok := t.prevLeaf(leaf)
		if !ok {
			return Root
		}
		leaf = pl
		itemIdx = len(t.leaves[leaf].items)
	}
}

// NextVisibleLV returns the LV of the first Inserted item at or after the
// cursor (leaf, itemIdx), or RootEnd if there is none -- the origin_right
// counterpart to PrevVisibleLV.
func (t *Tree) NextVisibleLV(leaf LeafHandle, itemIdx int) LV {
	for {
		items := t.leaves[leaf].items
		for itemIdx < len(items) {
			if items[itemIdx].State == Inserted {
				return items[itemIdx].LVStart
			}
			itemIdx++
		}
		nl, ok := t.NextLeaf(leaf)
		if !ok {
			return RootEnd
		}
		leaf = nl
		itemIdx = 0
	}
}

// Origins resolves the origin_left/origin_right pair for an insertion at
// visible position pos, along with the raw document-order cursor at that
// position (the point from which the spec §4.6 integration scan begins).
func (t *Tree) Origins(pos int) (originLeft, originRight LV, cursor Cursor) {
	cursor = t.CursorAtVisible(pos)
	if cursor.Offset > 0 {
		it, ok := t.ItemAt(cursor)
		invariant.Check(ok && it.State == Inserted, "contenttree: visible cursor landed mid-item on a non-inserted item")
		originLeft = it.LVStart + LV(cursor.Offset) - 1
		if cursor.Offset < it.Len {
			originRight = it.LVStart + LV(cursor.Offset)
		} else {
			originRight = t.NextVisibleLV(cursor.Leaf, cursor.ItemIdx+1)
		}
		return
	}
	originLeft = t.PrevVisibleLV(cursor.Leaf, cursor.ItemIdx)
	originRight = t.NextVisibleLV(cursor.Leaf, cursor.ItemIdx)
	return
}

// InsertAt inserts item at the clean document-order boundary described by
// c (c.Offset must be 0, or the full length of the item at c, which is
// the boundary just after it -- split the occupying item first if
// inserting mid-run). RLE-merges into the preceding or following item when
// possible, otherwise performs a raw slice insert that may split the
// leaf, invoking reindex for every LV range that moves to a new leaf.
// InsertAt returns the leaf that now holds item's LVs: c.Leaf if the item
// was merged into an existing run or the leaf didn't need to split,
// otherwise whichever of the two post-split leaves ended up with it.
func (t *Tree) InsertAt(c Cursor, item Item, reindex ReindexFunc) LeafHandle {
	if items := t.leaves[c.Leaf].items; c.Offset > 0 && c.ItemIdx < len(items) && c.Offset == items[c.ItemIdx].Len {
		c.ItemIdx, c.Offset = c.ItemIdx+1, 0
	}
	invariant.Check(c.Offset == 0, "contenttree: InsertAt requires a clean boundary, got offset %d", c.Offset)
	leaf := &t.leaves[c.Leaf]

	if c.ItemIdx > 0 && canAppendItems(leaf.items[c.ItemIdx-1], item) {
		leaf.items[c.ItemIdx-1].Len += item.Len
		t.bumpMetrics(item.VisibleLen(), item.TotalLen())
		return c.Leaf
	}
	if c.ItemIdx < len(leaf.items) && canAppendItems(item, leaf.items[c.ItemIdx]) {
		next := &leaf.items[c.ItemIdx]
		next.LVStart = item.LVStart
		next.OriginLeft = item.OriginLeft
		next.Len += item.Len
		t.bumpMetrics(item.VisibleLen(), item.TotalLen())
		return c.Leaf
	}

	final := t.insertRaw(c.Leaf, c.ItemIdx, item, reindex)
	t.bumpMetrics(item.VisibleLen(), item.TotalLen())
	return final
}

func (t *Tree) insertRaw(h LeafHandle, idx int, item Item, reindex ReindexFunc) LeafHandle {
	leaf := &t.leaves[h]
	leaf.items = append(leaf.items, Item{})
	copy(leaf.items[idx+1:], leaf.items[idx:])
	leaf.items[idx] = item
	if len(leaf.items) > t.maxLeafItems {
		return t.splitLeaf(h, idx, reindex)
	}
	return h
}

func (t *Tree) splitLeaf(h LeafHandle, insertedIdx int, reindex ReindexFunc) LeafHandle {
	items := t.leaves[h].items
	mid := len(items) / 2
	rightItems := append([]Item(nil), items[mid:]...)
	t.leaves[h].items = items[:mid:mid]
	oldNext := t.leaves[h].next

	newHandle := LeafHandle(len(t.leaves))
	t.leaves = append(t.leaves, leafNode{items: rightItems, next: oldNext})
	t.leaves[h].next = newHandle

	pos := t.leafOrderIndex(h)
	t.leafOrder = append(t.leafOrder, 0)
	copy(t.leafOrder[pos+2:], t.leafOrder[pos+1:])
	t.leafOrder[pos+1] = newHandle

	if reindex != nil {
		for _, it := range rightItems {
			reindex(LVRange{Start: it.LVStart, End: it.LVEnd()}, newHandle)
		}
	}

	if insertedIdx < mid {
		return h
	}
	return newHandle
}

// EnsureBoundaryAt splits the item covering lv (if lv isn't already the
// first LV of some item) so that an item boundary exists exactly at lv.
// It returns the (possibly new, if the split overflowed the leaf) leaf
// and item index of the item now starting at lv.
func (t *Tree) EnsureBoundaryAt(h LeafHandle, lv LV, reindex ReindexFunc) (LeafHandle, int) {
	idx, off, ok := t.FindInLeaf(h, lv)
	invariant.Check(ok, "contenttree: lv %d not found in leaf %d", lv, h)
	if off == 0 {
		return h, idx
	}
	tail := t.leaves[h].items[idx].truncate(off)
	final := t.insertRaw(h, idx+1, tail, reindex)
	newIdx, newOff, ok := t.FindInLeaf(final, lv)
	invariant.Check(ok && newOff == 0, "contenttree: split lost item for lv %d", lv)
	return final, newIdx
}

// MutateAt applies f to the single item at c, adjusting the tree's cached
// metrics by the resulting delta. f must not change LVStart or Len.
func (t *Tree) MutateAt(c Cursor, f func(*Item)) {
	items := t.leaves[c.Leaf].items
	invariant.Check(c.ItemIdx >= 0 && c.ItemIdx < len(items), "contenttree: MutateAt cursor out of range")
	old := items[c.ItemIdx]
	f(&items[c.ItemIdx])
	now := items[c.ItemIdx]
	invariant.Check(now.LVStart == old.LVStart && now.Len == old.Len,
		"contenttree: MutateAt callback must not change LVStart/Len")
	t.bumpMetrics(now.VisibleLen()-old.VisibleLen(), now.TotalLen()-old.TotalLen())
}

func (t *Tree) bumpMetrics(dVisible, dTotal int) {
	t.totalVisible += dVisible
	t.totalTotal += dTotal
}

// Walk visits every item in document order, across all leaves.
func (t *Tree) Walk(f func(Item)) {
	for _, lh := range t.leafOrder {
		for _, it := range t.leaves[lh].items {
			f(it)
		}
	}
}
