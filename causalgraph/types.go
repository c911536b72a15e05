// Package causalgraph implements the causal-graph store described in spec
// §4.3: an RLE list of {span, parents} entries sorted by span start, plus
// the DAG-walk operations (version_contains, diff, find_dominators) used by
// the merge engine to reason about history.
//
// This package owns only the DAG shape -- LV spans and their direct
// parents. The agent<->(seq) identity mapping lives in package
// agentassign; the two are kept separate (unlike the teacher's merged
// CGEntry, which folds both concerns into one record) so each matches
// exactly one spec component.
package causalgraph

import "github.com/eg-walker/crdt-core/rle"

// LV (local version) is a dense nonnegative integer identity assigned in
// insertion order as operations are appended to the oplog.
type LV int

// Root is the synthetic parent of any entry with no real parents.
const Root LV = -1

// LVRange is a half-open range of local versions [Start, End).
type LVRange struct {
	Start LV
	End   LV
}

// Len returns the number of LVs in the range.
func (r LVRange) Len() int { return int(r.End - r.Start) }

// Entry records that every LV in Span directly depends on Parents (and
// transitively on their ancestors). An entry with empty Parents depends
// only on Root.
type Entry struct {
	Span    LVRange
	Parents []LV
}

// Len implements rle.Entry.
func (e *Entry) Len() int { return e.Span.Len() }

// StartKey implements rle.KeyedEntry, keyed by the span's starting LV.
func (e *Entry) StartKey() int { return int(e.Span.Start) }

// CanAppend implements rle.Entry: a following single-parent entry whose
// only parent is our last LV is the same unbroken run of history.
func (e *Entry) CanAppend(o *Entry) bool {
	return o.Span.Start == e.Span.End &&
		len(o.Parents) == 1 && o.Parents[0] == e.Span.End-1
}

// Append implements rle.Entry.
func (e *Entry) Append(o *Entry) { e.Span.End = o.Span.End }

// Truncate implements rle.Entry: splits the entry at offset `at`, keeping
// the left part in the receiver and returning the right part. The right
// part's sole parent becomes the LV immediately before it, matching how a
// mid-run LV always depends only on its immediate predecessor.
func (e *Entry) Truncate(at int) *Entry {
	mid := e.Span.Start + LV(at)
	other := &Entry{
		Span:    LVRange{Start: mid, End: e.Span.End},
		Parents: []LV{mid - 1},
	}
	e.Span.End = mid
	return other
}

var _ rle.KeyedEntry[*Entry] = (*Entry)(nil)

// Store holds the causal-graph DAG: a run-length-encoded, LV-sorted list of
// entries plus the current frontier (heads).
type Store struct {
	entries rle.KeyedList[*Entry]
	heads   []LV
	nextLV  LV
}

// Relation describes how two LVs relate to each other in the DAG.
type Relation string

const (
	RelationEqual      Relation = "eq"
	RelationAncestor   Relation = "ancestor"
	RelationDescendant Relation = "descendant"
	RelationConcurrent Relation = "concurrent"
)

// VersionSummary is a map from agent name to a list of [start_seq, end_seq)
// ranges, describing the full history of a frontier without needing to
// replay the DAG. Building one requires the agent-assignment index, so
// oplog.Oplog (which owns both the Store and the assignment index)
// constructs these, not Store itself.
type VersionSummary map[string][][2]int
