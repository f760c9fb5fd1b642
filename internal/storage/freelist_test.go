package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/dberr"
)

// memAccessor is a PageAccessor over plain maps, enough to exercise the
// allocator without a codec or transaction.
type memAccessor struct {
	pages map[uint32][]byte
}

func newMemAccessor(t *testing.T, usable int) *memAccessor {
	t.Helper()
	acc := &memAccessor{pages: make(map[uint32][]byte)}
	require.NoError(t, InitPages(acc, usable))
	return acc
}

func (m *memAccessor) ReadPage(id uint32) ([]byte, error) {
	b, ok := m.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", dberr.ErrInvalidPage, id)
	}
	return bx.Clone(b), nil
}

func (m *memAccessor) WritePage(id uint32, data []byte) error {
	m.pages[id] = bx.Clone(data)
	return nil
}

func TestAllocateGrowsFromFirstUserPage(t *testing.T) {
	acc := newMemAccessor(t, testUsable)

	id, err := Allocate(acc, testUsable)
	require.NoError(t, err)
	require.Equal(t, FirstUserPageID, id)

	id, err = Allocate(acc, testUsable)
	require.NoError(t, err)
	require.Equal(t, FirstUserPageID+1, id)

	m, err := LoadMeta(acc)
	require.NoError(t, err)
	require.Equal(t, FirstUserPageID+2, m.PageCount)
}

func TestAllocateReusesFreedPageBeforeGrowing(t *testing.T) {
	acc := newMemAccessor(t, testUsable)

	a, err := Allocate(acc, testUsable)
	require.NoError(t, err)
	_, err = Allocate(acc, testUsable)
	require.NoError(t, err)

	acc.pages[a] = []byte("dirty leftovers")
	require.NoError(t, Free(acc, a, testUsable))

	again, err := Allocate(acc, testUsable)
	require.NoError(t, err)
	require.Equal(t, a, again)
	require.True(t, bx.IsZero(acc.pages[again]), "reused page is handed out zeroed")

	m, err := LoadMeta(acc)
	require.NoError(t, err)
	require.Equal(t, FirstUserPageID+2, m.PageCount, "file did not grow")
}

func TestFreeRejectsReservedUnallocatedAndDouble(t *testing.T) {
	acc := newMemAccessor(t, testUsable)
	id, err := Allocate(acc, testUsable)
	require.NoError(t, err)

	require.ErrorIs(t, Free(acc, CatalogPageID, testUsable), dberr.ErrInvalidPage)
	require.ErrorIs(t, Free(acc, id+10, testUsable), dberr.ErrInvalidPage)

	require.NoError(t, Free(acc, id, testUsable))
	require.ErrorIs(t, Free(acc, id, testUsable), ErrDoubleFree)
}

func TestFreeListSpillsIntoTrunkPages(t *testing.T) {
	// tiny pages: capacity of page 2 is (64-8)/4 = 14 ids
	const usable = 64
	acc := newMemAccessor(t, usable)
	capacity := freeListCapacity(usable)

	var ids []uint32
	for i := 0; i < capacity+5; i++ {
		id, err := Allocate(acc, usable)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		require.NoError(t, Free(acc, id, usable))
	}

	n, err := FreePageCount(acc)
	require.NoError(t, err)
	require.Equal(t, len(ids), n)

	before, err := LoadMeta(acc)
	require.NoError(t, err)

	seen := make(map[uint32]bool)
	for range ids {
		id, err := Allocate(acc, usable)
		require.NoError(t, err)
		require.False(t, seen[id], "page %d handed out twice", id)
		seen[id] = true
	}
	require.Len(t, seen, len(ids))

	after, err := LoadMeta(acc)
	require.NoError(t, err)
	require.Equal(t, before.PageCount, after.PageCount, "every allocation came from the free list")

	n, err = FreePageCount(acc)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestFreeDetectsPagesDeepInTheChain(t *testing.T) {
	const usable = 64
	acc := newMemAccessor(t, usable)
	capacity := freeListCapacity(usable)

	var ids []uint32
	for i := 0; i < capacity+3; i++ {
		id, err := Allocate(acc, usable)
		require.NoError(t, err)
		acc.pages[id] = append(make([]byte, usable-6), []byte("secret")...)
		ids = append(ids, id)
	}
	for _, id := range ids {
		require.NoError(t, Free(acc, id, usable))
	}

	// ids[0] now sits in the trunk that ids[capacity] became
	require.ErrorIs(t, Free(acc, ids[0], usable), ErrDoubleFree)
	require.ErrorIs(t, Free(acc, ids[capacity], usable), ErrDoubleFree)
	require.True(t, bx.IsZero(acc.pages[ids[capacity+1]]), "freed page is wiped")

	free, err := FreePageIDs(acc)
	require.NoError(t, err)
	require.Len(t, free, len(ids))
	for _, id := range ids {
		require.Contains(t, free, id)
	}
}
