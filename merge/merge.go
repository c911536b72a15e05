// Package merge implements the integration algorithm from spec §4.6 (a
// Yjs/Fugue-family CRDT merge with an agent-name tie-break, fixed per
// spec §9 rather than the yjsmod variant) and the advance/retreat
// machinery from spec §4.7, wiring the content tree and index tree
// together.
package merge

import (
	"fmt"

	"github.com/eg-walker/crdt-core/contenttree"
	"github.com/eg-walker/crdt-core/indextree"
	"github.com/eg-walker/crdt-core/internal/invariant"
	"github.com/google/go-cmp/cmp"
)

// LV and LVRange mirror the content tree's aliases.
type LV = contenttree.LV
type LVRange = contenttree.LVRange

// AgentOf resolves the agent that authored lv -- used only to break ties
// between concurrent inserts that share identical origin_left/origin_right.
type AgentOf func(lv LV) string

// Engine couples a content tree and an index tree and carries out the
// merge algorithm over them.
type Engine struct {
	Content *contenttree.Tree
	Index   *indextree.Tree
	AgentOf AgentOf
}

// New wires a fresh engine around the given trees.
func New(content *contenttree.Tree, index *indextree.Tree, agentOf AgentOf) *Engine {
	return &Engine{Content: content, Index: index, AgentOf: agentOf}
}

func (e *Engine) reindex() contenttree.ReindexFunc {
	return func(r LVRange, leaf contenttree.LeafHandle) {
		e.Index.SetRange(r, indextree.Marker{Kind: indextree.InsertedInto, Leaf: leaf})
	}
}

// leafOf returns the leaf currently holding lv, with no assumption about
// item boundaries.
func (e *Engine) leafOf(lv LV) contenttree.LeafHandle {
	m, ok := e.Index.Lookup(lv)
	invariant.Check(ok && m.Kind == indextree.InsertedInto, "merge: lv %d has no content-tree location", lv)
	return m.Leaf
}

// locate returns the authoritative (leaf, itemIdx) for lv, which must
// already sit at a clean item boundary -- always safe to call right after
// EnsureBoundaryAt(lv), since splitLeaf keeps the index tree
// synchronously up to date.
func (e *Engine) locate(lv LV) (contenttree.LeafHandle, int) {
	leaf := e.leafOf(lv)
	idx, off, ok := e.Content.FindInLeaf(leaf, lv)
	invariant.Check(ok && off == 0, "merge: lv %d is not at a clean item boundary in its indexed leaf", lv)
	return leaf, idx
}

// boundaryAt ensures an item boundary exists at lv and returns its
// authoritative location (re-resolved through the index tree, since
// EnsureBoundaryAt's own split may have moved things to a new leaf).
func (e *Engine) boundaryAt(lv LV) (contenttree.LeafHandle, int) {
	e.Content.EnsureBoundaryAt(e.leafOf(lv), lv, e.reindex())
	return e.locate(lv)
}

// afterLV returns the cursor immediately following lv in document order:
// if lv sits mid-item it is split first so the returned cursor is a clean
// boundary.
func (e *Engine) afterLV(lv LV) (contenttree.LeafHandle, int) {
	leaf := e.leafOf(lv)
	idx, _, ok := e.Content.FindInLeaf(leaf, lv)
	invariant.Check(ok, "merge: lv %d not found in its indexed leaf", lv)
	it := e.Content.Items(leaf)[idx]
	if lv == it.LVEnd()-1 {
		return leaf, idx + 1
	}
	return e.boundaryAt(lv + 1)
}

// IntegrateInsert runs the CRDT insertion-integration scan (spec §4.6.2)
// to find where a new item belongs in document order, inserts it, and
// records its location in the index tree. newLV/length/originLeft/
// originRight describe the already-assigned operation; authorAgent is
// used only if the scan finds a true conflict (identical origin_left and
// origin_right as an existing item).
func (e *Engine) IntegrateInsert(newLV LV, length int, originLeft, originRight LV, authorAgent string) {
	leaf, idx := e.scanInsertionPoint(originLeft, originRight, authorAgent)

	item := contenttree.Item{
		LVStart:     newLV,
		Len:         length,
		OriginLeft:  originLeft,
		OriginRight: originRight,
		State:       contenttree.Inserted,
	}
	finalLeaf := e.Content.InsertAt(contenttree.Cursor{Leaf: leaf, ItemIdx: idx}, item, e.reindex())
	e.Index.SetRange(LVRange{Start: newLV, End: newLV + LV(length)},
		indextree.Marker{Kind: indextree.InsertedInto, Leaf: finalLeaf})
}

// scanInsertionPoint implements the core Yjs/Fugue scan: starting right
// after origin_left, walk items in document order, skipping past any
// item that must sort before the new one, and stop at the first item
// that must sort after it (or at origin_right, or end of document).
//
// Full positional comparison between two arbitrary LVs would require an
// O(document) lookup; since the scan only ever needs to classify an
// encountered item's own origin_left against *our* origin_left, it tracks
// the set of LVs already passed during this walk and uses that to tell
// "positioned before our origin_left" (never seen, not equal to ours)
// apart from "positioned within our scan window" (seen). Ties -- an
// existing item sharing both origin_left and origin_right with the new
// one -- are broken by agent name: the CRDT tie-break scenario this
// core targets expects the lower agent name to win the leftmost slot.
// See DESIGN.md for the scope of this simplification relative to a full
// N-way positional comparison.
func (e *Engine) scanInsertionPoint(originLeft, originRight LV, authorAgent string) (contenttree.LeafHandle, int) {
	var leaf contenttree.LeafHandle
	var idx int
	if originLeft == contenttree.Root {
		leaf, idx = e.Content.FirstLeaf(), 0
	} else {
		leaf, idx = e.afterLV(originLeft)
	}

	seen := map[LV]bool{}
	scanning := false

	for {
		items := e.Content.Items(leaf)
		if idx >= len(items) {
			nl, ok := e.Content.NextLeaf(leaf)
			if !ok {
				break
			}
			leaf, idx = nl, 0
			continue
		}
		other := items[idx]
		if originRight != contenttree.RootEnd && other.LVStart == originRight {
			break
		}

		switch {
		case other.OriginLeft == originLeft:
			switch {
			case other.OriginRight == originRight:
				if authorAgent < e.AgentOf(other.LVStart) {
					goto done
				}
				scanning = false
			case originRight == contenttree.RootEnd && other.OriginRight != contenttree.RootEnd:
				// Ours reaches to the end of the document; other's
				// origin_right is a concrete position, which is
				// necessarily strictly left of that -- other is nested
				// inside our conflict window and sorts before us (spec
				// §4.6 step 2(b)).
				scanning = true
			default:
				// Either other.origin_right is RootEnd while ours is a
				// concrete position (other's window is wider, not
				// nested in ours), or both are distinct concrete
				// positions -- neither is strictly left of ours, so
				// stop here and insert before other (spec §4.6 step
				// 2(c): the Fugue rule, not yjsmod's "keep scanning
				// past a RootEnd origin_right").
				goto done
			}
		case seen[other.OriginLeft]:
			if !scanning {
				goto done
			}
		default:
			goto done
		}

		for lv := other.LVStart; lv < other.LVEnd(); lv++ {
			seen[lv] = true
		}
		idx++
	}
done:
	return leaf, idx
}

// IntegrateDelete marks the LVs in r as Deleted, splitting item
// boundaries as needed. Deleting an already-Deleted LV is a no-op --
// concurrent deletes of the same character converge without error (spec
// §4.6 deletion integration, §5 idempotence).
func (e *Engine) IntegrateDelete(r LVRange) {
	e.forEachRun(r, func(leaf contenttree.LeafHandle, idx int) {
		e.Content.MutateAt(contenttree.Cursor{Leaf: leaf, ItemIdx: idx}, func(it *contenttree.Item) {
			it.State = contenttree.Deleted
		})
	})
}

// Advance marks the LVs in r as Inserted (for an insert operation) or
// Deleted (for a delete operation), moving the branch forward to include
// this operation's effect (spec §4.7).
func (e *Engine) Advance(r LVRange, isDelete bool) {
	target := contenttree.Inserted
	if isDelete {
		target = contenttree.Deleted
	}
	e.forEachRun(r, func(leaf contenttree.LeafHandle, idx int) {
		e.Content.MutateAt(contenttree.Cursor{Leaf: leaf, ItemIdx: idx}, func(it *contenttree.Item) {
			it.State = target
		})
	})
}

// Retreat undoes Advance: an insert operation's LVs revert to
// NotYetInserted, a delete operation's LVs revert to Inserted.
func (e *Engine) Retreat(r LVRange, isDelete bool) {
	target := contenttree.NotYetInserted
	if isDelete {
		target = contenttree.Inserted
	}
	e.forEachRun(r, func(leaf contenttree.LeafHandle, idx int) {
		e.Content.MutateAt(contenttree.Cursor{Leaf: leaf, ItemIdx: idx}, func(it *contenttree.Item) {
			it.State = target
		})
	})
}

// tallies is the shape ConsistencyCheck compares: it exists only so
// cmp.Diff has named fields to print in its output.
type tallies struct{ Visible, Total int }

// ConsistencyCheck recomputes the document's visible/total length by an
// independent full walk and compares it against the content tree's own
// cached counters (spec §7's debug-build consistency check). It is never
// on a correctness path -- callers wire it into test harnesses or an
// optional debug build, not production code.
func (e *Engine) ConsistencyCheck() error {
	var walked tallies
	e.Content.Walk(func(it contenttree.Item) {
		walked.Visible += it.VisibleLen()
		walked.Total += it.TotalLen()
	})
	cached := tallies{Visible: e.Content.VisibleLen(), Total: e.Content.TotalLen()}
	if diff := cmp.Diff(walked, cached); diff != "" {
		return fmt.Errorf("merge: content tree metrics diverged from a full walk (-walked +cached):\n%s", diff)
	}
	return nil
}

// forEachRun walks r, splitting item boundaries at r.Start/r.End and at
// every contiguous-run break reported by the index tree, invoking visit
// once per resulting whole item.
func (e *Engine) forEachRun(r LVRange, visit func(leaf contenttree.LeafHandle, idx int)) {
	lv := r.Start
	for lv < r.End {
		leaf, idx := e.boundaryAt(lv)
		it, ok := e.Content.ItemAt(contenttree.Cursor{Leaf: leaf, ItemIdx: idx})
		invariant.Check(ok, "merge: lost item while walking lv %d", lv)
		runEnd := it.LVEnd()
		if runEnd > r.End {
			e.boundaryAt(r.End)
			leaf, idx = e.locate(lv)
		}
		visit(leaf, idx)
		if runEnd > r.End {
			runEnd = r.End
		}
		lv = runEnd
	}
}
