package merge

import (
	"testing"

	"github.com/eg-walker/crdt-core/contenttree"
	"github.com/eg-walker/crdt-core/indextree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture builds an engine plus a trivial agent map for LV->agent lookup
// (real callers resolve this through agentassign; tests stub it directly).
func fixture(agents map[LV]string) *Engine {
	content := contenttree.New()
	index := indextree.New()
	return New(content, index, func(lv LV) string { return agents[lv] })
}

func content(e *Engine) string {
	var out []byte
	e.Content.Walk(func(it contenttree.Item) {
		if it.State == contenttree.Inserted {
			for lv := it.LVStart; lv < it.LVEnd(); lv++ {
				out = append(out, byte('a')+byte(lv))
			}
		}
	})
	return string(out)
}

func TestIntegrateInsertSequential(t *testing.T) {
	agents := map[LV]string{0: "a", 1: "a", 2: "a"}
	e := fixture(agents)

	e.IntegrateInsert(0, 1, contenttree.Root, contenttree.RootEnd, "a")
	e.IntegrateInsert(1, 1, 0, contenttree.RootEnd, "a")
	e.IntegrateInsert(2, 1, 1, contenttree.RootEnd, "a")

	assert.Equal(t, "abc", content(e))
}

func TestIntegrateInsertConcurrentAtSamePosition(t *testing.T) {
	// Two agents concurrently insert at the start of the document (both
	// origin_left = Root, origin_right = RootEnd): a true conflict,
	// resolved by agent name. "alice" < "bob" so alice's char lands first.
	agents := map[LV]string{0: "bob", 1: "alice"}
	e := fixture(agents)

	e.IntegrateInsert(0, 1, contenttree.Root, contenttree.RootEnd, "bob")
	e.IntegrateInsert(1, 1, contenttree.Root, contenttree.RootEnd, "alice")

	assert.Equal(t, "ba", content(e), "alice's insert must win the leftmost slot over bob's")
}

func TestIntegrateDeleteMarksTombstone(t *testing.T) {
	agents := map[LV]string{0: "a", 1: "a", 2: "a"}
	e := fixture(agents)
	e.IntegrateInsert(0, 1, contenttree.Root, contenttree.RootEnd, "a")
	e.IntegrateInsert(1, 1, 0, contenttree.RootEnd, "a")
	e.IntegrateInsert(2, 1, 1, contenttree.RootEnd, "a")

	e.IntegrateDelete(LVRange{Start: 1, End: 2})
	assert.Equal(t, "ac", content(e))
	assert.Equal(t, 2, e.Content.VisibleLen())
	assert.Equal(t, 3, e.Content.TotalLen())
}

func TestIntegrateDeleteIsIdempotent(t *testing.T) {
	agents := map[LV]string{0: "a"}
	e := fixture(agents)
	e.IntegrateInsert(0, 1, contenttree.Root, contenttree.RootEnd, "a")

	e.IntegrateDelete(LVRange{Start: 0, End: 1})
	e.IntegrateDelete(LVRange{Start: 0, End: 1})
	assert.Equal(t, "", content(e))
}

func TestConsistencyCheckPassesAfterNormalOperation(t *testing.T) {
	agents := map[LV]string{0: "a", 1: "a", 2: "a"}
	e := fixture(agents)
	e.IntegrateInsert(0, 1, contenttree.Root, contenttree.RootEnd, "a")
	e.IntegrateInsert(1, 1, 0, contenttree.RootEnd, "a")
	e.IntegrateDelete(LVRange{Start: 1, End: 2})

	require.NoError(t, e.ConsistencyCheck())
}

// TestFugueNestedConflictTieBreak is spec.md §8 scenario S4 (the
// Fugue-vs-yjsmod Open Question in §9), reproduced at the exact LV/origin
// shape used by diamond-types' own fugue_or_yjsmod.rs conformance test:
// A1 and B1 concurrently insert at the document start; C1 conflicts with
// A1 at the same origin_left but its origin_right reaches to the end of
// the document; D1 conflicts with both A1 and C1 at that same origin_left
// but its own origin_right names a concrete position (B1). Per spec §4.6
// step 2(c), C1's origin_right (RootEnd) is not strictly left of D1's
// (B1), so D1 must sort before C1 -- the Fugue result "adcb", not
// yjsmod's "acdb".
func TestFugueNestedConflictTieBreak(t *testing.T) {
	agents := map[LV]string{0: "A", 1: "B", 2: "C", 3: "B"}
	e := fixture(agents)

	e.IntegrateInsert(0, 1, contenttree.Root, contenttree.RootEnd, "A")      // a
	e.IntegrateInsert(1, 1, contenttree.Root, contenttree.RootEnd, "B")      // b
	e.IntegrateInsert(2, 1, 0, contenttree.RootEnd, "C")                     // c, conflicts with a
	e.IntegrateInsert(3, 1, 0, 1, "B")                                       // d, conflicts with a and c

	assert.Equal(t, "adcb", content(e))
}

func TestAdvanceRetreatRoundTrip(t *testing.T) {
	agents := map[LV]string{0: "a", 1: "a"}
	e := fixture(agents)
	e.IntegrateInsert(0, 1, contenttree.Root, contenttree.RootEnd, "a")
	e.IntegrateInsert(1, 1, 0, contenttree.RootEnd, "a")
	require.Equal(t, "ab", content(e))

	e.Retreat(LVRange{Start: 1, End: 2}, false)
	assert.Equal(t, "a", content(e))

	e.Advance(LVRange{Start: 1, End: 2}, false)
	assert.Equal(t, "ab", content(e))
}
