package indextree

import (
	"testing"

	"github.com/eg-walker/crdt-core/contenttree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetRangeAppend(t *testing.T) {
	tr := New()
	tr.SetRange(LVRange{Start: 0, End: 5}, Marker{Kind: InsertedInto, Leaf: contenttree.LeafHandle(1)})

	m, ok := tr.Lookup(3)
	require.True(t, ok)
	assert.Equal(t, InsertedInto, m.Kind)
	assert.Equal(t, contenttree.LeafHandle(1), m.Leaf)
}

func TestSetRangeOverwritesMiddle(t *testing.T) {
	tr := New()
	tr.SetRange(LVRange{Start: 0, End: 10}, Marker{Kind: InsertedInto, Leaf: 1})
	tr.SetRange(LVRange{Start: 4, End: 6}, Marker{Kind: InsertedInto, Leaf: 2})

	m, _ := tr.Lookup(3)
	assert.Equal(t, contenttree.LeafHandle(1), m.Leaf)
	m, _ = tr.Lookup(4)
	assert.Equal(t, contenttree.LeafHandle(2), m.Leaf)
	m, _ = tr.Lookup(5)
	assert.Equal(t, contenttree.LeafHandle(2), m.Leaf)
	m, _ = tr.Lookup(6)
	assert.Equal(t, contenttree.LeafHandle(1), m.Leaf)
	m, _ = tr.Lookup(9)
	assert.Equal(t, contenttree.LeafHandle(1), m.Leaf)
}

func TestSetRangeDeletedAt(t *testing.T) {
	tr := New()
	tr.SetRange(LVRange{Start: 0, End: 3}, Marker{Kind: InsertedInto, Leaf: 1})
	tr.SetRange(LVRange{Start: 1, End: 2}, Marker{Kind: DeletedAt, Target: 1})

	m, ok := tr.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, DeletedAt, m.Kind)
	assert.Equal(t, LV(1), m.Target)

	_, ok = tr.Lookup(5)
	assert.False(t, ok)
}
