// Package branch implements the Branch API from spec §4.8/§6: a
// materialised view of the document at some frontier, built by replaying
// an oplog's operations through the merge engine and kept incrementally
// up to date as the oplog grows.
package branch

import (
	"fmt"
	"sort"

	"github.com/eg-walker/crdt-core/causalgraph"
	"github.com/eg-walker/crdt-core/contenttree"
	"github.com/eg-walker/crdt-core/indextree"
	"github.com/eg-walker/crdt-core/internal/crdtlog"
	"github.com/eg-walker/crdt-core/internal/invariant"
	"github.com/eg-walker/crdt-core/merge"
	"github.com/eg-walker/crdt-core/oplog"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// LV and LVRange mirror causalgraph's aliases.
type LV = causalgraph.LV
type LVRange = causalgraph.LVRange

// Branch is a materialised view of a document at some version (frontier).
// It owns its own content tree, index tree and merge engine; none of this
// state is shared with the oplog it was checked out from. version always
// names exactly the set of operations currently advanced into the trees
// (spec §4.7) -- not merely "known about", but toggled to their Inserted/
// Deleted state.
type Branch struct {
	log        hclog.Logger
	content    *contenttree.Tree
	index      *indextree.Tree
	merger     *merge.Engine
	version    []LV
	textStore  textStore
	integrated map[LV]bool // every op-start LV ever integrated, regardless of current advance state
}

// textStore holds the actual inserted bytes for every insert-op LV, kept
// separately from the content tree (which tracks only run lengths and
// liveness, per spec §4.4). LVs are dense non-negative integers assigned
// by the oplog's causal graph, so a flat byte slice indexed directly by
// LV is simpler than a second RLE structure; delete-op LVs never index
// into it since they never become content-tree items.
type textStore struct {
	buf []byte
}

func (s *textStore) record(lvStart LV, text []byte) {
	end := int(lvStart) + len(text)
	if end > len(s.buf) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[lvStart:], text)
}

func (s *textStore) sliceFor(lvStart LV, length int) []byte {
	return s.buf[lvStart : int(lvStart)+length]
}

// NewAgentName returns a fresh, globally-unique agent identifier, suitable
// for use as the first argument to Oplog.AddInsert/AddDelete -- a
// convenience so callers don't have to invent collision-free names
// themselves.
func NewAgentName() string { return uuid.NewString() }

// New returns an empty branch, advanced to the empty version (an empty
// document). Checkout and Merge grow it from there.
func New() *Branch {
	content := contenttree.New()
	index := indextree.New()
	return &Branch{
		log:        crdtlog.New("branch"),
		content:    content,
		index:      index,
		integrated: make(map[LV]bool),
	}
}

// bind wires the merge engine's agent resolver to log, lazily: a fresh
// Branch has no oplog yet, and a branch's agentOf must always resolve
// against whichever oplog it was last operated against.
func (b *Branch) bind(log *oplog.Oplog) {
	b.merger = merge.New(b.content, b.index, func(lv LV) string {
		agent, ok := log.AgentAt(lv)
		invariant.Check(ok, "branch: lv %d has no agent assignment", lv)
		return agent
	})
}

// Checkout builds a branch holding the document as it existed at version
// (spec §4.8): every LV ancestral to version is replayed, each against its
// own authoring parents (via retreat/advance, spec §4.7), in a
// topological order consistent with the causal graph.
func Checkout(log *oplog.Oplog, version []LV) (*Branch, error) {
	b := New()
	if err := b.Merge(log, version); err != nil {
		return nil, fmt.Errorf("branch: Checkout: %w", err)
	}
	return b, nil
}

// Version returns the branch's current frontier.
func (b *Branch) Version() []LV { return append([]LV(nil), b.version...) }

// Content returns the branch's current visible text (spec §4.8's
// extract-visible-text step: an in-order walk of Inserted items).
func (b *Branch) Content() string {
	var out []byte
	b.content.Walk(func(it contenttree.Item) {
		if it.State != contenttree.Inserted {
			return
		}
		out = append(out, b.textStore.sliceFor(it.LVStart, it.Len)...)
	})
	return string(out)
}

// ConsistencyCheck re-walks the branch's content tree and compares the
// tally against its cached metrics (spec §7's debug-build consistency
// check, surfaced here since Branch is what owns a merge engine).
func (b *Branch) ConsistencyCheck() error { return b.merger.ConsistencyCheck() }

// Merge advances the branch to include every operation in newVersion not
// already reflected in it (spec §4.8's branch.merge):
//  1. collect every operation ancestral to newVersion that this branch
//     has never integrated (ancestorOpStarts), in topological order;
//  2. integrate each brand-new op exactly once, having first moved the
//     tree to match that op's own authoring parents (retreating any
//     concurrently-advanced ops, advancing any already-seen ancestors);
//  3. move the tree to the dominators of branch.version ∪ newVersion, so
//     a multi-headed target (two concurrent edits both requested visible
//     at once) ends up with both sides advanced.
func (b *Branch) Merge(log *oplog.Oplog, newVersion []LV) error {
	b.bind(log)
	// integrateOp overwrites b.version, so keep the frontier held on entry.
	prevVersion := b.Version()

	ancestorStarts, err := ancestorOpStarts(log, newVersion, b.integrated)
	if err != nil {
		return fmt.Errorf("branch: Merge: %w", err)
	}
	order, err := topoSortOps(log, ancestorStarts)
	if err != nil {
		return fmt.Errorf("branch: Merge: %w", err)
	}

	for _, opStart := range order {
		if err := b.integrateOp(log, opStart); err != nil {
			return fmt.Errorf("branch: Merge: %w", err)
		}
	}

	union := append(prevVersion, newVersion...)
	target, err := log.FindDominators(union)
	if err != nil {
		return fmt.Errorf("branch: Merge: %w", err)
	}
	if err := b.moveTreeTo(log, target); err != nil {
		return fmt.Errorf("branch: Merge: %w", err)
	}
	b.version = target
	return nil
}

// integrateOp integrates the single, not-yet-ever-applied operation
// starting at opStart: moves the tree to exactly that op's own authoring
// parents (so origin_left/origin_right -- and, for a delete, nothing
// position-dependent -- are resolved against the state its author actually
// saw), then hands it to the merge engine.
func (b *Branch) integrateOp(log *oplog.Oplog, opStart LV) error {
	parents, err := log.ParentsAt(opStart)
	if err != nil {
		return err
	}
	if err := b.moveTreeTo(log, parents); err != nil {
		return err
	}

	view, ok := log.OpAt(opStart)
	invariant.Check(ok, "branch: lv %d has no operation record", opStart)

	switch view.Kind {
	case oplog.Insert:
		originLeft, originRight, _ := b.content.Origins(view.PosAtParents)
		b.merger.IntegrateInsert(view.Range.Start, view.Range.Len(), originLeft, originRight, view.Agent.Agent)
		b.textStore.record(view.Range.Start, view.Text)
	case oplog.Delete:
		targetEnd := view.DeleteTarget + LV(view.Range.Len())
		b.merger.IntegrateDelete(LVRange{Start: view.DeleteTarget, End: targetEnd})
	default:
		invariant.Unreachable("branch: unknown op kind %v", view.Kind)
	}
	b.version = []LV{view.Range.End - 1}
	b.integrated[opStart] = true
	return nil
}

// moveTreeTo retreats every currently-advanced op not ancestral to target
// and advances every op ancestral to target not yet advanced, so the tree
// ends up reflecting exactly target -- all ops touched here have already
// been integrated at least once (they're ancestors of either the current
// tree state or of an op already reached in topological order), so this
// only ever toggles state via Advance/Retreat, never creates new items.
func (b *Branch) moveTreeTo(log *oplog.Oplog, target []LV) error {
	onlyInTree, onlyInTarget, err := log.Diff(b.version, target)
	if err != nil {
		return fmt.Errorf("moveTreeTo: diff: %w", err)
	}
	// A delete op toggles the items it targets, not its own LVs (which are
	// never content-tree items).
	itemsOf := func(v oplog.OpView) LVRange {
		if v.Kind == oplog.Delete {
			return LVRange{Start: v.DeleteTarget, End: v.DeleteTarget + LV(v.Range.Len())}
		}
		return v.Range
	}
	for _, r := range onlyInTree {
		for _, v := range log.OpsIn(r) {
			b.merger.Retreat(itemsOf(v), v.Kind == oplog.Delete)
		}
	}
	for _, r := range onlyInTarget {
		for _, v := range log.OpsIn(r) {
			b.merger.Advance(itemsOf(v), v.Kind == oplog.Delete)
		}
	}
	b.version = target
	return nil
}

// ApplyLocalInsert appends a locally-authored insertion to log at the
// branch's current frontier and immediately advances the branch to
// include it -- the common "type a character" path (spec §6).
func (b *Branch) ApplyLocalInsert(log *oplog.Oplog, agent string, pos int, text []byte) error {
	r := log.AddInsert(agent, b.version, pos, text)
	return b.Merge(log, []LV{r.End - 1})
}

// ApplyLocalDelete appends a locally-authored deletion of the visible
// range [pos, pos+length) to log at the branch's current frontier and
// immediately advances the branch to include it.
func (b *Branch) ApplyLocalDelete(log *oplog.Oplog, agent string, pos, length int) error {
	invariant.Check(length > 0, "branch: ApplyLocalDelete requires a positive length")
	start := b.content.CursorAtVisible(pos)
	it, ok := b.content.ItemAt(start)
	invariant.Check(ok, "branch: ApplyLocalDelete: position %d out of range", pos)
	target := it.LVStart + LV(start.Offset)

	r := log.AddDelete(agent, b.version, LVRange{Start: target, End: target + LV(length)})
	return b.Merge(log, []LV{r.End - 1})
}

// ancestorOpStarts returns the start LV of every operation ancestral to
// (or equal to) target that this branch has never integrated -- i.e.
// every op Merge actually needs to run through the merge engine. Ops
// already integrated at least once don't need revisiting here: they're
// either already advanced, or moveTreeTo's final pass will re-advance
// them directly (a pure state toggle, not a fresh integration).
func ancestorOpStarts(log *oplog.Oplog, target []LV, integrated map[LV]bool) ([]LV, error) {
	var out []LV
	for _, r := range log.OpRanges() {
		if integrated[r.Start] {
			continue
		}
		contains, err := log.VersionContains(target, r.Start)
		if err != nil {
			return nil, err
		}
		if !contains {
			continue
		}
		out = append(out, r.Start)
	}
	return out, nil
}

// topoSortOps topologically sorts a set of operation-start LVs by causal
// parentage (Kahn/DFS over the DAG restricted to parents that are
// themselves op starts in the set).
func topoSortOps(log *oplog.Oplog, starts []LV) ([]LV, error) {
	in := make(map[LV]bool, len(starts))
	for _, lv := range starts {
		in[lv] = true
	}
	sorted := append([]LV(nil), starts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	visited := make(map[LV]bool, len(sorted))
	out := make([]LV, 0, len(sorted))
	var visit func(lv LV) error
	visit = func(lv LV) error {
		if visited[lv] {
			return nil
		}
		visited[lv] = true
		parents, err := log.ParentsAt(lv)
		if err != nil {
			return err
		}
		for _, p := range parents {
			if p < 0 {
				continue
			}
			opStart := opStartFor(log, p)
			if in[opStart] {
				if err := visit(opStart); err != nil {
					return err
				}
			}
		}
		out = append(out, lv)
		return nil
	}
	for _, lv := range sorted {
		if err := visit(lv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// opStartFor returns the start LV of the operation containing lv.
func opStartFor(log *oplog.Oplog, lv LV) LV {
	view, ok := log.OpAt(lv)
	invariant.Check(ok, "branch: lv %d has no operation record", lv)
	return view.Range.Start
}
