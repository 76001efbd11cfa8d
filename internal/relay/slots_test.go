//go:build unix

package relay_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-relay/internal/relay"
)

func TestSlotTableInsertRemove(t *testing.T) {
	tbl := relay.NewSlotTable(2)
	assert.Equal(t, 2, tbl.Cap())
	assert.Equal(t, 2, tbl.Free())

	a, _ := newPeer(t)
	b, _ := newPeer(t)
	c, _ := newPeer(t)

	sa, ok := tbl.Insert(a)
	require.True(t, ok)
	sb, ok := tbl.Insert(b)
	require.True(t, ok)
	assert.NotEqual(t, sa, sb)
	assert.Equal(t, 2, tbl.Len())

	_, ok = tbl.Insert(c)
	assert.False(t, ok, "table is full")

	slot, ok := tbl.Lookup(b.Fd())
	require.True(t, ok)
	assert.Equal(t, sb, slot)
	assert.Same(t, b, tbl.Get(sb))

	assert.Same(t, a, tbl.Remove(sa))
	assert.Nil(t, tbl.Remove(sa), "double remove")
	assert.Nil(t, tbl.Get(sa))
	_, ok = tbl.Lookup(a.Fd())
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.Free())

	sc, ok := tbl.Insert(c)
	require.True(t, ok)
	assert.Equal(t, sa, sc, "freed slot is reused")
	assert.Equal(t, tbl.Cap(), tbl.Len()+tbl.Free())
}
