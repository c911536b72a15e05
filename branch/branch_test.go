package branch

import (
	"testing"

	"github.com/eg-walker/crdt-core/oplog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutSequentialInserts(t *testing.T) {
	o := oplog.New()
	o.AddInsert("a", nil, 0, []byte("a"))
	o.AddInsert("a", o.LocalVersion(), 1, []byte("b"))
	o.AddInsert("a", o.LocalVersion(), 2, []byte("c"))

	b, err := Checkout(o, o.LocalVersion())
	require.NoError(t, err)
	assert.Equal(t, "abc", b.Content())
}

func TestCheckoutWithDeleteRemovesCharacter(t *testing.T) {
	o := oplog.New()
	o.AddInsert("a", nil, 0, []byte("abc"))
	o.AddDelete("a", o.LocalVersion(), causalgraphRange(1, 2))

	b, err := Checkout(o, o.LocalVersion())
	require.NoError(t, err)
	assert.Equal(t, "ac", b.Content())
}

// causalgraphRange is a tiny helper so the test doesn't need to import
// causalgraph directly just for one struct literal.
func causalgraphRange(start, end int) LVRange {
	return LVRange{Start: LV(start), End: LV(end)}
}

func TestCheckoutConcurrentInsertsAtDocumentStart(t *testing.T) {
	// Two agents concurrently insert at the start of the document (both
	// origin_left = Root, origin_right = RootEnd). Per the Fugue tie-break
	// (spec §9), the lexicographically smaller agent name wins the
	// leftmost slot.
	o := oplog.New()
	o.AddInsert("bob", nil, 0, []byte("b"))
	o.AddInsert("alice", nil, 0, []byte("a"))

	b, err := Checkout(o, o.LocalVersion())
	require.NoError(t, err)
	assert.Equal(t, "ab", b.Content())
}

func TestApplyLocalInsertAndDeleteRoundTrip(t *testing.T) {
	o := oplog.New()
	b := New()

	require.NoError(t, b.ApplyLocalInsert(o, "a", 0, []byte("hello")))
	assert.Equal(t, "hello", b.Content())

	require.NoError(t, b.ApplyLocalDelete(o, "a", 1, 3))
	assert.Equal(t, "ho", b.Content())
}

func TestMergeConcurrentBranchesConverge(t *testing.T) {
	o := oplog.New()
	base := o.AddInsert("a", nil, 0, []byte("ac"))

	// Two concurrent inserts at position 1 (between 'a' and 'c'), from the
	// same parent version.
	rBob := o.AddInsert("bob", []LV{base.End - 1}, 1, []byte("x"))
	rAlice := o.AddInsert("alice", []LV{base.End - 1}, 1, []byte("y"))

	bFromBob, err := Checkout(o, []LV{rBob.End - 1})
	require.NoError(t, err)
	assert.Equal(t, "axc", bFromBob.Content())

	full, err := Checkout(o, []LV{rBob.End - 1, rAlice.End - 1})
	require.NoError(t, err)
	// alice < bob, so alice's insert wins the leftmost of the two
	// concurrent slots.
	assert.Equal(t, "ayxc", full.Content())
}
