// Package oplog implements the public Oplog API from spec §6: an
// append-only store of every edit ever made, organised as a causal DAG
// (causalgraph.Store) with a compact per-agent assignment index
// (agentassign.Index) and the raw per-character operation record.
package oplog

import (
	"fmt"

	"github.com/eg-walker/crdt-core/agentassign"
	"github.com/eg-walker/crdt-core/causalgraph"
	"github.com/eg-walker/crdt-core/internal/crdtlog"
	"github.com/eg-walker/crdt-core/internal/invariant"
	"github.com/hashicorp/go-hclog"
)

// LV and LVRange mirror causalgraph's aliases.
type LV = causalgraph.LV
type LVRange = causalgraph.LVRange

// Kind distinguishes the two operation shapes from spec §3.
type Kind int8

const (
	Insert Kind = iota
	Delete
)

func (k Kind) String() string {
	if k == Delete {
		return "delete"
	}
	return "insert"
}

// opEntry is the oplog's raw per-character (or RLE-span) operation
// record. It's kept as a flat, lv-sorted, append-only slice rather than a
// third generic RLE container: the on-disk encoding of operation bytes
// is explicitly out of scope (spec §1 Non-goals), so there's no pressure
// to RLE-compress it here -- see DESIGN.md.
type opEntry struct {
	kind   Kind
	lv     LVRange
	text   []byte // Insert only: one byte per LV in lv
	target LV     // Delete only: first LV of the range being deleted
	// posAtParents is the visible-text position this insertion was authored
	// at, relative to op.Parents -- needed to recompute origin_left/
	// origin_right when this op is replayed by a branch (spec §4.6).
	posAtParents int
	parents      []LV
}

// OpView is a read-only view of one operation, or a clipped sub-range of
// one, returned by IterFrom.
type OpView struct {
	Range        LVRange
	Kind         Kind
	Agent        agentassign.RawVersion
	Text         []byte
	DeleteTarget LV
	PosAtParents int
	Parents      []LV
}

// Oplog is the append-only operation log.
type Oplog struct {
	log    hclog.Logger
	graph  *causalgraph.Store
	agents *agentassign.Index
	ops    []opEntry
}

// New returns an empty oplog.
func New() *Oplog {
	return &Oplog{
		log:    crdtlog.New("oplog"),
		graph:  causalgraph.NewStore(),
		agents: agentassign.NewIndex(),
	}
}

// AddInsert appends an insertion of text authored by agent, whose causal
// parents are parents and which was authored at visible position
// posAtParents relative to those parents. Returns the LV range assigned
// to the new characters.
func (o *Oplog) AddInsert(agent string, parents []LV, posAtParents int, text []byte) LVRange {
	invariant.Check(len(text) > 0, "oplog: AddInsert requires non-empty text")
	seqStart := o.agents.NextSeq(agent)
	r := o.graph.AddEntry(len(text), parents)
	o.agents.Assign(agent, seqStart, r.Start, len(text))
	o.ops = append(o.ops, opEntry{
		kind:         Insert,
		lv:           r,
		text:         append([]byte(nil), text...),
		posAtParents: posAtParents,
		parents:      append([]LV(nil), parents...),
	})
	o.log.Trace("insert", "agent", agent, "lv", r, "pos", posAtParents, "len", len(text))
	return r
}

// AddDelete appends a deletion of target (an LV range already present in
// the document) authored by agent with the given causal parents. Returns
// the LV range assigned to the deletion operation itself -- distinct from
// target, per spec §6/S3: a delete op consumes its own fresh LVs. These LVs
// never become content-tree items, and the merge engine writes no index-tree
// marker (DeletedAt or otherwise) for them.
func (o *Oplog) AddDelete(agent string, parents []LV, target LVRange) LVRange {
	invariant.Check(target.Len() > 0, "oplog: AddDelete requires a non-empty target range")
	seqStart := o.agents.NextSeq(agent)
	r := o.graph.AddEntry(target.Len(), parents)
	o.agents.Assign(agent, seqStart, r.Start, target.Len())
	o.ops = append(o.ops, opEntry{
		kind:    Delete,
		lv:      r,
		target:  target.Start,
		parents: append([]LV(nil), parents...),
	})
	o.log.Trace("delete", "agent", agent, "lv", r, "target", target)
	return r
}

// LocalVersion returns the oplog's current frontier.
func (o *Oplog) LocalVersion() []LV { return o.graph.Heads() }

// KnowsLV reports whether lv has been assigned (spec §7 decode-rejected-
// input predicate).
func (o *Oplog) KnowsLV(lv LV) bool { return o.graph.KnowsLV(lv) }

// KnowsAgentSeq reports whether (agent, seq) has been assigned an LV.
func (o *Oplog) KnowsAgentSeq(agent string, seq int) bool { return o.agents.KnowsAgentSeq(agent, seq) }

// VersionContains answers whether lv is an ancestor of (or equal to) any
// LV in version.
func (o *Oplog) VersionContains(version []LV, lv LV) (bool, error) {
	return o.graph.VersionContains(version, lv)
}

// Diff returns (only_in_v1, only_in_v2) as RLE ranges, per spec §4.3/§6.
func (o *Oplog) Diff(v1, v2 []LV) (onlyV1, onlyV2 []LVRange, err error) {
	return o.graph.Diff(v1, v2)
}

// Compare reports the ancestor/descendant/concurrent/equal relationship
// between two LVs.
func (o *Oplog) Compare(a, b LV) (causalgraph.Relation, error) { return o.graph.Compare(a, b) }

// FindDominators reduces a set of LVs to its frontier.
func (o *Oplog) FindDominators(candidates []LV) ([]LV, error) {
	return o.graph.FindDominators(candidates)
}

// FindConflicting returns the operations in versions not already covered
// by commonAncestors, as RLE ranges -- supplements the distilled spec,
// grounded in diamond-types' causal-graph tooling (see SPEC_FULL.md).
func (o *Oplog) FindConflicting(versions, commonAncestors []LV) ([]LVRange, error) {
	return o.graph.FindConflicting(versions, commonAncestors)
}

// Summarize returns, for every known agent, the RLE sequence ranges
// assigned so far -- used by replicas to negotiate what history they're
// each missing (spec §6 supplemented operation, grounded in
// diamond-types' summarize/has_content routines; see SPEC_FULL.md).
func (o *Oplog) Summarize() causalgraph.VersionSummary {
	out := make(causalgraph.VersionSummary)
	for _, agent := range o.agents.Agents() {
		out[agent] = o.agents.SeqRuns(agent)
	}
	return out
}

// AgentAt returns the agent that authored lv.
func (o *Oplog) AgentAt(lv LV) (string, bool) {
	rv, ok := o.agents.LocalToAgent(lv)
	if !ok {
		return "", false
	}
	return rv.Agent, true
}

// AgentName is a convenience passthrough: agent identifiers in this core
// are plain strings (spec §3 describes an interned integer encoding,
// which is purely a wire/memory optimisation the encoder may apply).
func (o *Oplog) AgentName(agent string) string { return agent }

// opIndex returns the slice index of the op whose range contains lv, or
// -1. ops is sorted and non-overlapping by construction.
func (o *Oplog) opIndex(lv LV) int {
	lo, hi := 0, len(o.ops)
	for lo < hi {
		mid := (lo + hi) / 2
		if o.ops[mid].lv.Start > lv {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	idx := lo - 1
	if idx < 0 || idx >= len(o.ops) {
		return -1
	}
	if lv < o.ops[idx].lv.Start || lv >= o.ops[idx].lv.End {
		return -1
	}
	return idx
}

func (o *Oplog) viewFor(e opEntry, r LVRange) OpView {
	start := e.lv.Start
	if r.Start > start {
		start = r.Start
	}
	end := e.lv.End
	if r.End < end {
		end = r.End
	}
	offset := int(start - e.lv.Start)
	n := int(end - start)

	rv, ok := o.agents.LocalToAgent(start)
	invariant.Check(ok, "oplog: lv %d has no agent assignment", start)

	view := OpView{Range: LVRange{Start: start, End: end}, Kind: e.kind, Agent: rv, Parents: e.parents}
	switch e.kind {
	case Insert:
		view.Text = e.text[offset : offset+n]
		view.PosAtParents = e.posAtParents + offset
	case Delete:
		view.DeleteTarget = e.target + LV(offset)
	}
	return view
}

// OpsIn returns every operation (or clipped sub-range of one) overlapping
// r, in increasing LV order.
func (o *Oplog) OpsIn(r LVRange) []OpView {
	var out []OpView
	lv := r.Start
	for lv < r.End {
		idx := o.opIndex(lv)
		invariant.Check(idx >= 0, "oplog: lv %d has no operation record", lv)
		e := o.ops[idx]
		v := o.viewFor(e, r)
		out = append(out, v)
		lv = v.Range.End
	}
	return out
}

// OpRanges returns the LV range of every operation in the oplog, in the
// order they were appended -- the unit Branch topologically sorts over
// when replaying history (each op, not each individual LV, since an
// op's causal parents apply uniformly across its whole range).
func (o *Oplog) OpRanges() []LVRange {
	out := make([]LVRange, len(o.ops))
	for i, e := range o.ops {
		out[i] = e.lv
	}
	return out
}

// IterFrom returns every operation (or clipped sub-range of one) not
// already known at version, in increasing LV order -- spec §6's
// iter_from, for replication. Branch does not use it: it replays ops via
// OpRanges/OpAt/OpsIn.
func (o *Oplog) IterFrom(version []LV) ([]OpView, error) {
	_, onlyNew, err := o.graph.Diff(version, o.graph.Heads())
	if err != nil {
		return nil, fmt.Errorf("oplog: IterFrom: %w", err)
	}
	var out []OpView
	for _, r := range onlyNew {
		out = append(out, o.OpsIn(r)...)
	}
	return out, nil
}

// OpAt returns the (possibly clipped-to-itself) view of the operation
// covering lv.
func (o *Oplog) OpAt(lv LV) (OpView, bool) {
	idx := o.opIndex(lv)
	if idx < 0 {
		return OpView{}, false
	}
	e := o.ops[idx]
	return o.viewFor(e, e.lv), true
}

// ParentsAt exposes the causal graph's per-LV parent lookup, used by
// Branch to replay an op against exactly its own authoring parents.
func (o *Oplog) ParentsAt(lv LV) ([]LV, error) { return o.graph.ParentsAt(lv) }
