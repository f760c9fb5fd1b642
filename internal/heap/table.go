// Package heap stores table rows in chains of slotted pages.
package heap

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/sealdb/internal/record"
	"github.com/tuannm99/sealdb/internal/storage"
)

var ErrRowNotFound = errors.New("heap: row not found")

// Table represents the heap file of one table: a chain of slotted pages that
// starts at Root and follows each page's next pointer. All page access goes
// through acc, normally a transaction.
//
// Last is a hint for the tail of the chain; 0 means Root. Pages are never
// unlinked, so a stale hint only costs a short walk.
type Table struct {
	Name   string
	Schema record.Schema
	Root   uint32
	Last   uint32

	acc    storage.PageAccessor
	usable int
	ovf    *storage.OverflowManager
}

// Create allocates and formats the root page of a new table.
func Create(acc storage.PageAccessor, usable int) (uint32, error) {
	id, err := storage.Allocate(acc, usable)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, usable)
	if _, err := storage.NewPage(buf, id); err != nil {
		return 0, err
	}
	return id, acc.WritePage(id, buf)
}

func NewTable(name string, schema record.Schema, root uint32, acc storage.PageAccessor, usable int, logger *slog.Logger) *Table {
	return &Table{
		Name:   name,
		Schema: schema,
		Root:   root,
		acc:    acc,
		usable: usable,
		ovf:    storage.NewOverflowManager(acc, usable, logger),
	}
}

func (t *Table) load(pageID uint32) (HeapPage, error) {
	buf, err := t.acc.ReadPage(pageID)
	if err != nil {
		return HeapPage{}, err
	}
	p, err := storage.WrapPage(buf)
	if err != nil {
		return HeapPage{}, fmt.Errorf("heap %s: page %d: %w", t.Name, pageID, err)
	}
	if p.Type() != storage.PageTypeHeap {
		return HeapPage{}, fmt.Errorf("heap %s: page %d has type %s: %w", t.Name, pageID, p.Type(), storage.ErrCorruption)
	}
	return NewHeapPage(p, t.Schema, t.ovf, t.usable), nil
}

func (t *Table) store(hp HeapPage) error {
	return t.acc.WritePage(hp.Page.PageID(), hp.Page.Buf)
}

// Insert appends to the last page of the chain, linking a fresh page when it
// is full. Free space on earlier pages is only reused by updates.
func (t *Table) Insert(rowID int64, values []record.Value) (TID, error) {
	start := t.Last
	if start == 0 {
		start = t.Root
	}
	hp, err := t.load(start)
	if err != nil {
		return TID{}, err
	}
	for hp.Page.Next() != 0 {
		if hp, err = t.load(hp.Page.Next()); err != nil {
			return TID{}, err
		}
	}

	slot, err := hp.InsertRow(rowID, values)
	if errors.Is(err, storage.ErrNoSpace) {
		next, err := Create(t.acc, t.usable)
		if err != nil {
			return TID{}, err
		}
		hp.Page.SetNext(next)
		if err := t.store(hp); err != nil {
			return TID{}, err
		}
		if hp, err = t.load(next); err != nil {
			return TID{}, err
		}
		slot, err = hp.InsertRow(rowID, values)
		if err != nil {
			return TID{}, err
		}
	} else if err != nil {
		return TID{}, err
	}

	if err := t.store(hp); err != nil {
		return TID{}, err
	}
	t.Last = hp.Page.PageID()
	return TID{PageID: hp.Page.PageID(), Slot: uint16(slot)}, nil
}

// Get reads a single row by TID.
func (t *Table) Get(id TID) (Row, error) {
	hp, err := t.load(id.PageID)
	if err != nil {
		return Row{}, err
	}
	row, err := hp.ReadRow(int(id.Slot))
	if errors.Is(err, storage.ErrBadSlot) {
		return Row{}, fmt.Errorf("%w: %s", ErrRowNotFound, id)
	}
	return row, err
}

// Update rewrites the row at id and returns its possibly new location. The
// rowid never changes.
func (t *Table) Update(id TID, rowID int64, values []record.Value) (TID, error) {
	hp, err := t.load(id.PageID)
	if err != nil {
		return TID{}, err
	}
	err = hp.UpdateRow(int(id.Slot), rowID, values)
	switch {
	case err == nil:
		return id, t.store(hp)
	case errors.Is(err, storage.ErrNoSpace):
		if err := hp.DeleteRow(int(id.Slot)); err != nil {
			return TID{}, err
		}
		if err := t.store(hp); err != nil {
			return TID{}, err
		}
		return t.Insert(rowID, values)
	default:
		return TID{}, err
	}
}

// Delete marks a single row identified by TID as deleted and releases its
// overflow pages.
func (t *Table) Delete(id TID) error {
	hp, err := t.load(id.PageID)
	if err != nil {
		return err
	}
	if err := hp.DeleteRow(int(id.Slot)); err != nil {
		if errors.Is(err, storage.ErrBadSlot) {
			return fmt.Errorf("%w: %s", ErrRowNotFound, id)
		}
		return err
	}
	return t.store(hp)
}

// ErrStopScan ends a Scan early without reporting an error.
var ErrStopScan = errors.New("heap: stop scan")

// Scan iterates through all visible rows in chain order, skipping deleted
// slots so each logical row is returned exactly once.
func (t *Table) Scan(fn func(id TID, row Row) error) error {
	for pageID := t.Root; pageID != 0; {
		hp, err := t.load(pageID)
		if err != nil {
			return err
		}
		for slot := 0; slot < hp.Page.NumSlots(); slot++ {
			live, err := hp.Page.IsLiveSlot(slot)
			if err != nil {
				return err
			}
			if !live {
				continue
			}
			row, err := hp.ReadRow(slot)
			if err != nil {
				return fmt.Errorf("heap %s: slot %d of page %d: %w", t.Name, slot, pageID, err)
			}
			if err := fn(TID{PageID: pageID, Slot: uint16(slot)}, row); err != nil {
				if errors.Is(err, ErrStopScan) {
					return nil
				}
				return err
			}
		}
		pageID = hp.Page.Next()
	}
	return nil
}

// Pages lists the chain, root first.
func (t *Table) Pages() ([]uint32, error) {
	var ids []uint32
	for pageID := t.Root; pageID != 0; {
		hp, err := t.load(pageID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, pageID)
		pageID = hp.Page.Next()
	}
	return ids, nil
}
