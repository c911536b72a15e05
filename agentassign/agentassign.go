// Package agentassign implements the agent-assignment index described in
// spec §4.2: a bidirectional mapping between local versions (LV) and
// (agent, sequence) pairs, the globally stable identity of a position.
package agentassign

import (
	"fmt"

	"github.com/eg-walker/crdt-core/causalgraph"
	"github.com/eg-walker/crdt-core/internal/invariant"
	"github.com/eg-walker/crdt-core/rle"
)

// LV is a local version, matching causalgraph.LV.
type LV = causalgraph.LV

// RawVersion is the stable, globally-meaningful identity of a single LV.
type RawVersion struct {
	Agent string
	Seq   int
}

// forwardEntry is one run of the "LV -> (agent, seq)" direction, keyed by
// lv_start. Agents may appear out of order here; this index is in LV order
// by construction (append-only).
type forwardEntry struct {
	lvStart  LV
	agent    string
	seqStart int
	length   int
}

func (e *forwardEntry) Len() int      { return e.length }
func (e *forwardEntry) StartKey() int { return int(e.lvStart) }
func (e *forwardEntry) CanAppend(o *forwardEntry) bool {
	return o.agent == e.agent &&
		o.lvStart == e.lvStart+LV(e.length) &&
		o.seqStart == e.seqStart+e.length
}
func (e *forwardEntry) Append(o *forwardEntry) { e.length += o.length }
func (e *forwardEntry) Truncate(at int) *forwardEntry {
	other := &forwardEntry{
		lvStart:  e.lvStart + LV(at),
		agent:    e.agent,
		seqStart: e.seqStart + at,
		length:   e.length - at,
	}
	e.length = at
	return other
}

// reverseEntry is one run of the "(agent, seq) -> LV" direction for a
// single agent, keyed by seq_start. Always sorted by sequence.
type reverseEntry struct {
	seqStart int
	lvStart  LV
	length   int
}

func (e *reverseEntry) Len() int      { return e.length }
func (e *reverseEntry) StartKey() int { return e.seqStart }
func (e *reverseEntry) CanAppend(o *reverseEntry) bool {
	return o.seqStart == e.seqStart+e.length &&
		o.lvStart == e.lvStart+LV(e.length)
}
func (e *reverseEntry) Append(o *reverseEntry) { e.length += o.length }
func (e *reverseEntry) Truncate(at int) *reverseEntry {
	other := &reverseEntry{
		seqStart: e.seqStart + at,
		lvStart:  e.lvStart + LV(at),
		length:   e.length - at,
	}
	e.length = at
	return other
}

// Index is the bidirectional agent<->LV assignment index.
type Index struct {
	forward rle.KeyedList[*forwardEntry]
	reverse map[string]*rle.KeyedList[*reverseEntry]
}

// NewIndex returns an empty assignment index.
func NewIndex() *Index {
	return &Index{reverse: make(map[string]*rle.KeyedList[*reverseEntry])}
}

// NextSeq returns the next sequence number agent should use (0 if the
// agent is new).
func (idx *Index) NextSeq(agent string) int {
	list, ok := idx.reverse[agent]
	if !ok || list.Len() == 0 {
		return 0
	}
	last, _ := list.Last()
	return last.seqStart + last.length
}

// Assign records that `length` consecutive LVs starting at lvStart were
// authored by agent starting at sequence seqStart. Both the forward and
// reverse RLE indexes get one push each (spec §4.2).
//
// Assign panics if seqStart is not exactly NextSeq(agent): submitting a
// sequence number earlier than already known, or skipping ahead, is a
// programmer error (spec §7).
func (idx *Index) Assign(agent string, seqStart int, lvStart LV, length int) {
	invariant.Check(length > 0, "agentassign: Assign length must be positive, got %d", length)
	next := idx.NextSeq(agent)
	invariant.Check(seqStart == next,
		"agentassign: agent %q sequence %d is not the next expected sequence %d", agent, seqStart, next)

	idx.forward.Push(&forwardEntry{lvStart: lvStart, agent: agent, seqStart: seqStart, length: length})

	list, ok := idx.reverse[agent]
	if !ok {
		list = rle.NewKeyedList[*reverseEntry]()
		idx.reverse[agent] = list
	}
	list.Push(&reverseEntry{seqStart: seqStart, lvStart: lvStart, length: length})
}

// LocalToAgent maps an LV to its (agent, seq) identity.
func (idx *Index) LocalToAgent(lv LV) (RawVersion, bool) {
	e, off, ok := idx.forward.Get(int(lv))
	if !ok {
		return RawVersion{}, false
	}
	return RawVersion{Agent: e.agent, Seq: e.seqStart + off}, true
}

// AgentToLocal maps an (agent, seq) identity back to its LV, or false if
// unknown.
func (idx *Index) AgentToLocal(agent string, seq int) (LV, bool) {
	list, ok := idx.reverse[agent]
	if !ok {
		return 0, false
	}
	e, off, ok := list.Get(seq)
	if !ok {
		return 0, false
	}
	return e.lvStart + LV(off), true
}

// Agents returns the set of agent names with at least one assigned LV, in
// no particular order.
func (idx *Index) Agents() []string {
	out := make([]string, 0, len(idx.reverse))
	for a := range idx.reverse {
		out = append(out, a)
	}
	return out
}

// SeqRuns returns agent's known sequence ranges as half-open [start, end)
// pairs, in increasing order -- the building block for a version summary
// (spec §6's supplemented summarize operation).
func (idx *Index) SeqRuns(agent string) [][2]int {
	list, ok := idx.reverse[agent]
	if !ok {
		return nil
	}
	entries := list.Entries()
	out := make([][2]int, len(entries))
	for i, e := range entries {
		out[i] = [2]int{e.seqStart, e.seqStart + e.length}
	}
	return out
}

// KnowsAgentSeq reports whether (agent, seq) has already been assigned an
// LV -- the decode-rejected-input predicate from spec §7, used by an
// importer to validate foreign history before calling into the core.
func (idx *Index) KnowsAgentSeq(agent string, seq int) bool {
	_, ok := idx.AgentToLocal(agent, seq)
	return ok
}

// RawToLVList converts a slice of RawVersions to LVs, erroring on the
// first unknown one -- used when translating a remote operation's
// raw-version parents into local parents.
func (idx *Index) RawToLVList(raws []RawVersion) ([]LV, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	out := make([]LV, len(raws))
	for i, r := range raws {
		lv, ok := idx.AgentToLocal(r.Agent, r.Seq)
		if !ok {
			return nil, fmt.Errorf("agentassign: unknown raw version %s:%d", r.Agent, r.Seq)
		}
		out[i] = lv
	}
	return out, nil
}

// LVToRawList converts a slice of LVs to RawVersions, erroring on the
// first unknown one.
func (idx *Index) LVToRawList(lvs []LV) ([]RawVersion, error) {
	if len(lvs) == 0 {
		return nil, nil
	}
	out := make([]RawVersion, len(lvs))
	for i, lv := range lvs {
		rv, ok := idx.LocalToAgent(lv)
		if !ok {
			return nil, fmt.Errorf("agentassign: unknown lv %d", lv)
		}
		out[i] = rv
	}
	return out, nil
}
