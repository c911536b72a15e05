package causalgraph

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/eg-walker/crdt-core/internal/invariant"
)

// NewStore returns an empty causal-graph store.
func NewStore() *Store {
	return &Store{}
}

// NextLV returns the next local version that AddEntry will assign.
func (s *Store) NextLV() LV { return s.nextLV }

// Heads returns a copy of the current frontier.
func (s *Store) Heads() []LV {
	out := make([]LV, len(s.heads))
	copy(out, s.heads)
	return out
}

// KnowsLV reports whether lv has been assigned yet.
func (s *Store) KnowsLV(lv LV) bool { return lv >= 0 && lv < s.nextLV }

// EntryContaining returns the entry covering lv, plus lv's offset within
// it, per spec §4.1's keyed get().
func (s *Store) EntryContaining(lv LV) (*Entry, int, bool) {
	if !s.KnowsLV(lv) {
		return nil, 0, false
	}
	return s.entries.Get(int(lv))
}

// ParentsAt returns the direct parents of lv: the entry's recorded parents
// if lv is the first LV in its entry, or {lv-1} otherwise (spec §4.3).
func (s *Store) ParentsAt(lv LV) ([]LV, error) {
	e, off, ok := s.EntryContaining(lv)
	if !ok {
		return nil, fmt.Errorf("causalgraph: unknown lv %d", lv)
	}
	if off == 0 {
		return e.Parents, nil
	}
	return []LV{lv - 1}, nil
}

// AddEntry appends a new span of `length` LVs whose direct parents are
// `parents`, RLE-merging into the previous entry when possible. It returns
// the LVRange assigned to the new span.
//
// Per spec §4.3 this is a programmer-error boundary: forward references or
// unknown parent LVs panic rather than returning an error, since they can
// only arise from a caller bug (an importer validating foreign history
// must check with KnowsLV first).
func (s *Store) AddEntry(length int, parents []LV) LVRange {
	invariant.Check(length > 0, "causalgraph: AddEntry length must be positive, got %d", length)

	start := s.nextLV
	end := start + LV(length)

	sorted := sortedUniqueLVs(parents)
	for _, p := range sorted {
		invariant.Check(p < start, "causalgraph: parent %d is not strictly less than new span start %d", p, start)
	}

	entry := &Entry{Span: LVRange{Start: start, End: end}, Parents: sorted}
	s.entries.Push(entry)
	s.nextLV = end

	newHeads := s.heads[:0:0]
	for _, h := range s.heads {
		if !containsLV(sorted, h) {
			newHeads = append(newHeads, h)
		}
	}
	// Within the new span each LV is the parent of the next, so only the
	// last one has no descendants.
	newHeads = append(newHeads, end-1)
	s.heads = sortedUniqueLVs(newHeads)

	return LVRange{Start: start, End: end}
}

func containsLV(lvs []LV, v LV) bool {
	for _, x := range lvs {
		if x == v {
			return true
		}
	}
	return false
}

func sortedUniqueLVs(lvs []LV) []LV {
	if len(lvs) == 0 {
		return nil
	}
	out := append([]LV(nil), lvs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	j := 0
	for i := 1; i < len(out); i++ {
		if out[i] != out[j] {
			j++
			out[j] = out[i]
		}
	}
	return out[:j+1]
}

// VersionContains answers whether lv is an ancestor of (or equal to) any
// LV in version. Implemented as the priority-queue walk described in spec
// §4.3: pop the largest LV, replace it with its parents, until the target
// is found or every remaining candidate is below it.
func (s *Store) VersionContains(version []LV, lv LV) (bool, error) {
	for _, v := range version {
		if v == lv {
			return true, nil
		}
	}
	h := &lvHeap{}
	visited := map[LV]struct{}{}
	for _, v := range version {
		if v >= 0 {
			heap.Push(h, v)
			visited[v] = struct{}{}
		}
	}
	for h.Len() > 0 {
		if (*h)[0] < lv {
			// Max element is already below the target: nothing left can
			// reach it.
			return false, nil
		}
		v := heap.Pop(h).(LV)
		if v == lv {
			return true, nil
		}
		parents, err := s.ParentsAt(v)
		if err != nil {
			return false, err
		}
		for _, p := range parents {
			if p == lv {
				return true, nil
			}
			if p < 0 {
				continue
			}
			if _, ok := visited[p]; ok {
				continue
			}
			visited[p] = struct{}{}
			heap.Push(h, p)
		}
	}
	return false, nil
}

// Compare determines the relationship between two LVs.
func (s *Store) Compare(a, b LV) (Relation, error) {
	if a == b {
		return RelationEqual, nil
	}
	aAncestor, err := s.VersionContains([]LV{b}, a)
	if err != nil {
		return "", err
	}
	if aAncestor {
		return RelationAncestor, nil
	}
	bAncestor, err := s.VersionContains([]LV{a}, b)
	if err != nil {
		return "", err
	}
	if bAncestor {
		return RelationDescendant, nil
	}
	return RelationConcurrent, nil
}

type color uint8

const (
	colorFrom color = 1 << iota
	colorTo
)

// Diff computes (only_in_from, only_in_to): a two-coloured walk of the DAG
// starting at `from` and `to`, per spec §4.3. At each step the largest
// unvisited LV is popped; if it has been reached by both colours it's a
// common ancestor and neither output gets it (but its parents keep
// propagating the merged colour, so the walk finds the full common
// ancestry); otherwise it is attributed to whichever single colour
// reached it. Both outputs are returned as RLE ranges in increasing LV
// order.
func (s *Store) Diff(from, to []LV) (onlyFrom, onlyTo []LVRange, err error) {
	pending := map[LV]color{}
	h := &lvHeap{}

	push := func(lv LV, c color) {
		if lv < 0 {
			return
		}
		if cur, ok := pending[lv]; ok {
			pending[lv] = cur | c
			return
		}
		pending[lv] = c
		heap.Push(h, lv)
	}
	for _, v := range from {
		push(v, colorFrom)
	}
	for _, v := range to {
		push(v, colorTo)
	}

	var fromLVs, toLVs []LV
	for h.Len() > 0 {
		lv := heap.Pop(h).(LV)
		c := pending[lv]
		delete(pending, lv)

		switch c {
		case colorFrom:
			fromLVs = append(fromLVs, lv)
		case colorTo:
			toLVs = append(toLVs, lv)
		case colorFrom | colorTo:
			// Common ancestor: contributes to neither output, but its
			// parents still need the merged colour to detect shared
			// history further back.
		}

		parents, perr := s.ParentsAt(lv)
		if perr != nil {
			return nil, nil, perr
		}
		for _, p := range parents {
			push(p, c)
		}
	}

	return buildRanges(fromLVs), buildRanges(toLVs), nil
}

func buildRanges(lvs []LV) []LVRange {
	if len(lvs) == 0 {
		return nil
	}
	sort.Slice(lvs, func(i, j int) bool { return lvs[i] < lvs[j] })
	var out []LVRange
	start, end := lvs[0], lvs[0]+1
	for _, v := range lvs[1:] {
		if v == end {
			end = v + 1
			continue
		}
		out = append(out, LVRange{Start: start, End: end})
		start, end = v, v+1
	}
	out = append(out, LVRange{Start: start, End: end})
	return out
}

// FindDominators returns the subset of candidates not dominated by (not an
// ancestor of) any other candidate in the set -- the frontier of the set.
//
// Frontiers in this core are almost always one or two LVs wide (a branch's
// version, or the union of two branches being merged), so this is
// implemented with a straightforward pairwise ancestor check rather than
// generalising Diff's two-colour walk to N colours: O(n^2) in the
// candidate count, each check itself a bounded DAG walk. See DESIGN.md for
// the tradeoff.
func (s *Store) FindDominators(candidates []LV) ([]LV, error) {
	unique := sortedUniqueLVs(candidates)
	if len(unique) <= 1 {
		return unique, nil
	}
	dominators := make([]LV, 0, len(unique))
	for _, v := range unique {
		dominated := false
		for _, other := range unique {
			if v == other {
				continue
			}
			isAncestor, err := s.VersionContains([]LV{other}, v)
			if err != nil {
				return nil, err
			}
			if isAncestor {
				dominated = true
				break
			}
		}
		if !dominated {
			dominators = append(dominators, v)
		}
	}
	return dominators, nil
}

// FindConflicting returns the operations in `versions` that are not
// descendants of `commonAncestors` -- the diff of versions against the
// history already covered by commonAncestors. This supplements the
// distilled spec (grounded in diamond-types' causalgraph "find_conflicting"
// tooling) and is exposed through oplog.Oplog.FindConflicting; nothing in
// this module calls it internally.
func (s *Store) FindConflicting(versions, commonAncestors []LV) ([]LVRange, error) {
	_, onlyVersions, err := s.Diff(commonAncestors, versions)
	if err != nil {
		return nil, err
	}
	return onlyVersions, nil
}
