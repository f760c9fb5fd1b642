package storage

import (
	"fmt"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/dberr"
)

// PageAccessor is a transactional view of logical (decrypted) pages. Allocation
// and the free list only ever go through it, so their changes commit or roll back
// together with the data that caused them.
type PageAccessor interface {
	ReadPage(pageID uint32) ([]byte, error)
	WritePage(pageID uint32, data []byte) error
}

// PageAllocator is implemented by accessors that keep their own record of
// which pages are free. Allocate and Free hand over to it when present.
type PageAllocator interface {
	Allocate() (uint32, error)
	Free(pageID uint32) error
}

// FreeSet answers free-list membership without walking the trunk chain.
type FreeSet interface {
	IsFree(pageID uint32) bool
}

// Free-list page layout (page 2 and every trunk page):
//
//	next(4) count(4) ids[count]...
const (
	flOffNext  = 0
	flOffCount = 4
	flOffIDs   = 8
)

type freeList struct {
	next uint32
	ids  []uint32
}

func freeListCapacity(usable int) int {
	return (usable - flOffIDs) / 4
}

func decodeFreeList(buf []byte) (*freeList, error) {
	count := int(bx.U32At(buf, flOffCount))
	if count > freeListCapacity(len(buf)) {
		return nil, fmt.Errorf("%w: free list count %d exceeds capacity", dberr.ErrIntegrity, count)
	}
	fl := &freeList{next: bx.U32At(buf, flOffNext), ids: make([]uint32, count)}
	for i := range fl.ids {
		fl.ids[i] = bx.U32At(buf, flOffIDs+4*i)
	}
	return fl, nil
}

func (fl *freeList) encode(usable int) []byte {
	buf := make([]byte, usable)
	bx.PutU32At(buf, flOffNext, fl.next)
	bx.PutU32At(buf, flOffCount, uint32(len(fl.ids)))
	for i, id := range fl.ids {
		bx.PutU32At(buf, flOffIDs+4*i, id)
	}
	return buf
}

func LoadMeta(acc PageAccessor) (Meta, error) {
	buf, err := acc.ReadPage(MetaPageID)
	if err != nil {
		return Meta{}, err
	}
	return DecodeMeta(buf)
}

func SaveMeta(acc PageAccessor, m Meta, usable int) error {
	buf := make([]byte, usable)
	m.EncodeInto(buf)
	return acc.WritePage(MetaPageID, buf)
}

// InitPages writes the reserved pages of a new database through acc.
func InitPages(acc PageAccessor, usable int) error {
	m := Meta{PageCount: FirstUserPageID, CatalogRoot: CatalogPageID}
	if err := SaveMeta(acc, m, usable); err != nil {
		return err
	}
	if err := acc.WritePage(FreeListPageID, (&freeList{}).encode(usable)); err != nil {
		return err
	}
	cat := make([]byte, usable)
	if _, err := NewPage(cat, CatalogPageID); err != nil {
		return err
	}
	return acc.WritePage(CatalogPageID, cat)
}

// Allocate returns a zeroed page: a freed page when one exists, otherwise a new
// page at the end of the file.
func Allocate(acc PageAccessor, usable int) (uint32, error) {
	if a, ok := acc.(PageAllocator); ok {
		return a.Allocate()
	}
	buf, err := acc.ReadPage(FreeListPageID)
	if err != nil {
		return 0, err
	}
	fl, err := decodeFreeList(buf)
	if err != nil {
		return 0, err
	}

	var id uint32
	switch {
	case len(fl.ids) > 0:
		id = fl.ids[len(fl.ids)-1]
		fl.ids = fl.ids[:len(fl.ids)-1]
	case fl.next != 0:
		// Absorb the trunk into page 2 and hand out the trunk page itself.
		id = fl.next
		tbuf, err := acc.ReadPage(id)
		if err != nil {
			return 0, err
		}
		if fl, err = decodeFreeList(tbuf); err != nil {
			return 0, err
		}
	default:
		m, err := LoadMeta(acc)
		if err != nil {
			return 0, err
		}
		id = m.PageCount
		m.PageCount++
		if err := SaveMeta(acc, m, usable); err != nil {
			return 0, err
		}
		return id, acc.WritePage(id, make([]byte, usable))
	}

	if err := acc.WritePage(FreeListPageID, fl.encode(usable)); err != nil {
		return 0, err
	}
	return id, acc.WritePage(id, make([]byte, usable))
}

// Free puts pageID on the free list and wipes it. Reserved pages cannot be
// freed, and neither can a page already on the list.
func Free(acc PageAccessor, pageID uint32, usable int) error {
	if a, ok := acc.(PageAllocator); ok {
		return a.Free(pageID)
	}
	m, err := LoadMeta(acc)
	if err != nil {
		return err
	}
	if pageID < FirstUserPageID || pageID >= m.PageCount {
		return fmt.Errorf("%w: cannot free page %d", dberr.ErrInvalidPage, pageID)
	}
	free, err := isFree(acc, pageID)
	if err != nil {
		return err
	}
	if free {
		return fmt.Errorf("%w: page %d", ErrDoubleFree, pageID)
	}
	buf, err := acc.ReadPage(FreeListPageID)
	if err != nil {
		return err
	}
	fl, err := decodeFreeList(buf)
	if err != nil {
		return err
	}

	if len(fl.ids) < freeListCapacity(usable) {
		fl.ids = append(fl.ids, pageID)
		if err := acc.WritePage(pageID, make([]byte, usable)); err != nil {
			return err
		}
		return acc.WritePage(FreeListPageID, fl.encode(usable))
	}

	// page 2 is full: its content moves into the freed page, which becomes a trunk
	if err := acc.WritePage(pageID, fl.encode(usable)); err != nil {
		return err
	}
	head := &freeList{next: pageID}
	return acc.WritePage(FreeListPageID, head.encode(usable))
}

func isFree(acc PageAccessor, pageID uint32) (bool, error) {
	if fs, ok := acc.(FreeSet); ok {
		return fs.IsFree(pageID), nil
	}
	ids, err := FreePageIDs(acc)
	if err != nil {
		return false, err
	}
	_, ok := ids[pageID]
	return ok, nil
}

// FreePageIDs walks the free list and returns every free page, trunk pages
// included.
func FreePageIDs(acc PageAccessor) (map[uint32]struct{}, error) {
	ids := make(map[uint32]struct{})
	next := FreeListPageID
	seen := make(map[uint32]bool)
	for {
		if seen[next] {
			return nil, fmt.Errorf("%w: free list cycle at page %d", dberr.ErrIntegrity, next)
		}
		seen[next] = true
		buf, err := acc.ReadPage(next)
		if err != nil {
			return nil, err
		}
		fl, err := decodeFreeList(buf)
		if err != nil {
			return nil, err
		}
		for _, id := range fl.ids {
			if _, dup := ids[id]; dup {
				return nil, fmt.Errorf("%w: page %d is on the free list twice", dberr.ErrIntegrity, id)
			}
			ids[id] = struct{}{}
		}
		if next != FreeListPageID {
			ids[next] = struct{}{} // the trunk page itself
		}
		if fl.next == 0 {
			return ids, nil
		}
		next = fl.next
	}
}

// FreePageCount is the number of pages on the free list; used by integrity
// checks and the CLI.
func FreePageCount(acc PageAccessor) (int, error) {
	ids, err := FreePageIDs(acc)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
