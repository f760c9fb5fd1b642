package btree

import "github.com/tuannm99/sealdb/internal/storage"

// maxEntriesPerPage returns how many fixed-size entries fit a slotted page of
// usable bytes: one slot plus the payload per entry.
func maxEntriesPerPage(usable, entrySize int) int {
	if entrySize <= 0 {
		return 0
	}
	free := usable - storage.HeaderSize
	if free <= 0 {
		return 0
	}
	return free / (storage.SlotSize + entrySize)
}

func maxLeafEntries(usable int) int { return maxEntriesPerPage(usable, LeafEntrySize) }

func maxInternalEntries(usable int) int { return maxEntriesPerPage(usable, InternalEntrySize) }
