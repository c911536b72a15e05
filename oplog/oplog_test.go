package oplog

import (
	"testing"

	"github.com/eg-walker/crdt-core/causalgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddInsertAssignsSequentialLVs(t *testing.T) {
	o := New()
	r1 := o.AddInsert("a", nil, 0, []byte("hi"))
	assert.Equal(t, LVRange{Start: 0, End: 2}, r1)

	r2 := o.AddInsert("a", []LV{1}, 2, []byte("!"))
	assert.Equal(t, LVRange{Start: 2, End: 3}, r2)

	assert.Equal(t, []LV{2}, o.LocalVersion())
}

func TestAddDeleteAllocatesFreshLVDistinctFromTarget(t *testing.T) {
	o := New()
	ins := o.AddInsert("a", nil, 0, []byte("abc"))
	del := o.AddDelete("a", []LV{2}, LVRange{Start: 1, End: 2})

	// S3: oplog has 4 LVs total; the delete op's own LV (3) is distinct
	// from the range it targets (1).
	require.Equal(t, LVRange{Start: 3, End: 4}, del)
	assert.True(t, o.KnowsLV(ins.Start))
	assert.True(t, o.KnowsLV(del.Start))

	view, ok := o.OpAt(del.Start)
	require.True(t, ok)
	assert.Equal(t, Delete, view.Kind)
	assert.Equal(t, LV(1), view.DeleteTarget)
}

func TestIterFromReturnsOnlyUnknownOps(t *testing.T) {
	o := New()
	o.AddInsert("a", nil, 0, []byte("ab"))
	known := o.LocalVersion()
	o.AddInsert("a", known, 2, []byte("cd"))

	views, err := o.IterFrom(known)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, []byte("cd"), views[0].Text)
	assert.Equal(t, "a", views[0].Agent.Agent)
	assert.Equal(t, 2, views[0].Agent.Seq)
}

func TestIterFromClipsPartiallyKnownRuns(t *testing.T) {
	o := New()
	o.AddInsert("a", nil, 0, []byte("abcd"))

	views, err := o.IterFrom([]LV{1})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, []byte("cd"), views[0].Text)
	assert.Equal(t, LVRange{Start: 2, End: 4}, views[0].Range)
	assert.Equal(t, 2, views[0].PosAtParents)
}

func TestIterFromFromEmptyVersionReturnsEverything(t *testing.T) {
	o := New()
	o.AddInsert("a", nil, 0, []byte("ab"))
	o.AddDelete("a", o.LocalVersion(), LVRange{Start: 0, End: 1})

	views, err := o.IterFrom(nil)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, Insert, views[0].Kind)
	assert.Equal(t, Delete, views[1].Kind)
}

func TestVersionContainsAndCompare(t *testing.T) {
	o := New()
	r1 := o.AddInsert("a", nil, 0, []byte("a"))
	r2 := o.AddInsert("a", []LV{r1.Start}, 1, []byte("b"))

	contains, err := o.VersionContains([]LV{r2.Start}, r1.Start)
	require.NoError(t, err)
	assert.True(t, contains)

	rel, err := o.Compare(r1.Start, r2.Start)
	require.NoError(t, err)
	assert.Equal(t, causalgraph.RelationAncestor, rel)
}

func TestSummarizeCoversEveryAgentSeqRun(t *testing.T) {
	o := New()
	o.AddInsert("alice", nil, 0, []byte("ab"))
	o.AddInsert("bob", o.LocalVersion(), 2, []byte("c"))
	o.AddInsert("alice", o.LocalVersion(), 3, []byte("d"))

	sum := o.Summarize()
	assert.Equal(t, [][2]int{{0, 2}, {2, 3}}, sum["alice"])
	assert.Equal(t, [][2]int{{0, 1}}, sum["bob"])
}

func TestKnowsAgentSeq(t *testing.T) {
	o := New()
	o.AddInsert("a", nil, 0, []byte("xy"))
	assert.True(t, o.KnowsAgentSeq("a", 0))
	assert.True(t, o.KnowsAgentSeq("a", 1))
	assert.False(t, o.KnowsAgentSeq("a", 2))
	assert.False(t, o.KnowsAgentSeq("b", 0))
}
