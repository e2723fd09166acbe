package envtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocAssignsNonZeroGenerationAndNotRunnable(t *testing.T) {
	tab := NewTable()
	e, err := tab.Alloc(0)
	require.NoError(t, err)
	assert.NotEqual(t, ID(0), e.ID)
	assert.Equal(t, uint32(1), e.ID.Generation())
	assert.Equal(t, NotRunnable, e.Status)
}

func TestFreeThenReallocBumpsGeneration(t *testing.T) {
	tab := NewTable()
	e, err := tab.Alloc(0)
	require.NoError(t, err)
	idx := e.Index
	firstID := e.ID

	tab.Free(idx)
	assert.Equal(t, Free, tab.Slot(idx).Status)

	e2, err := tab.Alloc(0)
	require.NoError(t, err)
	assert.Equal(t, idx, e2.Index)
	assert.NotEqual(t, firstID, e2.ID)
	assert.Equal(t, firstID.Generation()+1, e2.ID.Generation())
}

func TestTranslateRejectsStaleID(t *testing.T) {
	tab := NewTable()
	e, err := tab.Alloc(0)
	require.NoError(t, err)
	staleID := e.ID
	tab.Free(e.Index)

	_, err = tab.Translate(staleID, e, false)
	assert.Error(t, err)
}

func TestTranslateSelfAliasAndChildPermission(t *testing.T) {
	tab := NewTable()
	parent, err := tab.Alloc(0)
	require.NoError(t, err)

	self, err := tab.Translate(0, parent, true)
	require.NoError(t, err)
	assert.Same(t, parent, self)

	child, err := tab.Alloc(parent.ID)
	require.NoError(t, err)

	got, err := tab.Translate(child.ID, parent, true)
	require.NoError(t, err)
	assert.Same(t, child, got)

	// parent may not address an unrelated third environment under checkPerm.
	unrelated, err := tab.Alloc(0)
	require.NoError(t, err)
	_, err = tab.Translate(unrelated.ID, parent, true)
	assert.Error(t, err)
}

func TestAllocExhaustsTable(t *testing.T) {
	tab := NewTable()
	for i := 0; i < NENV; i++ {
		_, err := tab.Alloc(0)
		require.NoError(t, err)
	}
	_, err := tab.Alloc(0)
	assert.Error(t, err)
}
