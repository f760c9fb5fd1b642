package storage

import (
	"errors"

	"github.com/tuannm99/sealdb/internal/alias/bx"
)

// Header offsets
const (
	offType   = 0
	offPageID = 2
	offLower  = 6
	offUpper  = 8
	offNext   = 10

	HeaderSize = 16
	SlotSize   = 6 // 3 * uint16: offset, length, flags
)

// Slot flags
const (
	SlotFlagNormal  uint16 = 0
	SlotFlagDeleted uint16 = 1 << 0
)

var (
	ErrTupleTooLarge = errors.New("page: tuple too large for inline")
	ErrNoSpace       = errors.New("page: not enough free space")
	ErrBadSlot       = errors.New("page: invalid slot")
	ErrCorruption    = errors.New("page: corrupt slot or tuple bounds")
	ErrWrongSize     = errors.New("page: buffer size out of range")
)

type Slot struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

// Page is a slotted page over one logical (decrypted) page buffer.
//
// +------------------+ 0
// | header (16)      |  type, pageID, lower, upper, next
// | LinePointers[]   | <-- lower
// +------------------+
// |   Free space     |
// +------------------+ <-- upper
// |  Tuple Data      |
// |  (grows down)    |
// +------------------+ len(Buf)
//
// next chains the pages of one heap table; 0 ends the chain.
type Page struct {
	Buf []byte
}

// NewPage formats buf as an empty heap page.
func NewPage(buf []byte, pageID uint32) (*Page, error) {
	if len(buf) <= HeaderSize+SlotSize || len(buf) > 0xFFFF {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	p.init(pageID)
	return p, nil
}

// WrapPage interprets an existing buffer without touching it.
func WrapPage(buf []byte) (*Page, error) {
	if len(buf) <= HeaderSize+SlotSize || len(buf) > 0xFFFF {
		return nil, ErrWrongSize
	}
	p := &Page{Buf: buf}
	if p.lower() < HeaderSize || int(p.upper()) > len(buf) || p.lower() > p.upper() {
		return nil, ErrCorruption
	}
	return p, nil
}

// ---- low-level header getters/setters ----
func (p *Page) Type() PageType     { return PageType(bx.U16At(p.Buf, offType)) }
func (p *Page) PageID() uint32     { return bx.U32At(p.Buf, offPageID) }
func (p *Page) Next() uint32       { return bx.U32At(p.Buf, offNext) }
func (p *Page) SetNext(id uint32)  { bx.PutU32At(p.Buf, offNext, id) }
func (p *Page) lower() uint16      { return bx.U16At(p.Buf, offLower) }
func (p *Page) setLower(v uint16)  { bx.PutU16At(p.Buf, offLower, v) }
func (p *Page) upper() uint16      { return bx.U16At(p.Buf, offUpper) }
func (p *Page) setUpper(v uint16)  { bx.PutU16At(p.Buf, offUpper, v) }
func (p *Page) setType(t PageType) { bx.PutU16At(p.Buf, offType, uint16(t)) }
func (p *Page) setPageID(v uint32) { bx.PutU32At(p.Buf, offPageID, v) }

// Reset wipes the page and formats it as an empty page of type t.
func (p *Page) Reset(pageID uint32, t PageType) {
	p.init(pageID)
	p.setType(t)
}

func (p *Page) init(pageID uint32) {
	bx.Zero(p.Buf)
	p.setType(PageTypeHeap)
	p.setPageID(pageID)
	p.setLower(HeaderSize)
	p.setUpper(uint16(len(p.Buf)))
}

// ---- public helpers ----
func (p *Page) FreeSpace() int {
	return int(p.upper()) - int(p.lower())
}

func (p *Page) NumSlots() int {
	return int(p.lower()-HeaderSize) / SlotSize
}

// MaxTuple is the largest tuple an empty page of this size can hold.
func MaxTuple(usable int) int {
	return usable - HeaderSize - SlotSize
}

// ---- slots ----
func (p *Page) slotOff(idx int) int {
	return HeaderSize + idx*SlotSize
}

func (p *Page) getSlot(i int) (Slot, error) {
	if i < 0 || i >= p.NumSlots() {
		return Slot{}, ErrBadSlot
	}
	o := p.slotOff(i)
	if o+SlotSize > int(p.lower()) {
		return Slot{}, ErrCorruption
	}
	return Slot{
		Offset: bx.U16At(p.Buf, o),
		Length: bx.U16At(p.Buf, o+2),
		Flags:  bx.U16At(p.Buf, o+4),
	}, nil
}

func (p *Page) putSlot(idx int, s Slot) error {
	if idx < 0 || idx > p.NumSlots() {
		// allow writing next slot only via append
		return ErrBadSlot
	}
	off := p.slotOff(idx)
	if idx == p.NumSlots() && off+SlotSize > int(p.upper()) {
		return ErrNoSpace
	}
	bx.PutU16At(p.Buf, off, s.Offset)
	bx.PutU16At(p.Buf, off+2, s.Length)
	bx.PutU16At(p.Buf, off+4, s.Flags)
	return nil
}

// freeSlot returns the first deleted slot, or -1.
func (p *Page) freeSlot() int {
	for i := 0; i < p.NumSlots(); i++ {
		if s, err := p.getSlot(i); err == nil && s.Flags == SlotFlagDeleted {
			return i
		}
	}
	return -1
}

// IsLiveSlot reports whether slot holds a visible tuple.
func (p *Page) IsLiveSlot(slot int) (bool, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return false, err
	}
	return s.Flags == SlotFlagNormal && s.Length > 0, nil
}

// ---- tuples (payload) ----

// InsertTuple stores tup, reusing a deleted slot entry when there is one, and
// compacting the page first if fragmentation is the only thing in the way.
func (p *Page) InsertTuple(tup []byte) (slot int, err error) {
	if len(tup) == 0 {
		return -1, ErrCorruption
	}
	if len(tup) > MaxTuple(len(p.Buf)) {
		return -1, ErrTupleTooLarge
	}
	reuse := p.freeSlot()
	need := len(tup)
	if reuse < 0 {
		need += SlotSize
	}
	if p.FreeSpace() < need {
		if p.reclaimable()+p.FreeSpace() < need {
			return -1, ErrNoSpace
		}
		p.Compact()
	}
	u := int(p.upper()) - len(tup)
	copy(p.Buf[u:], tup)
	p.setUpper(uint16(u))

	s := Slot{Offset: uint16(u), Length: uint16(len(tup)), Flags: SlotFlagNormal}
	if reuse >= 0 {
		return reuse, p.putSlot(reuse, s)
	}
	i := p.NumSlots()
	if err := p.putSlot(i, s); err != nil {
		return -1, err
	}
	p.setLower(p.lower() + SlotSize)
	return i, nil
}

// AppendTuple stores tup in a new slot at the end of the directory without
// looking for deleted slots to reuse. Pages rebuilt in a fixed order use it.
func (p *Page) AppendTuple(tup []byte) (int, error) {
	if len(tup) == 0 {
		return -1, ErrCorruption
	}
	if p.FreeSpace() < len(tup)+SlotSize {
		return -1, ErrNoSpace
	}
	u := int(p.upper()) - len(tup)
	copy(p.Buf[u:], tup)
	p.setUpper(uint16(u))
	i := p.NumSlots()
	if err := p.putSlot(i, Slot{Offset: uint16(u), Length: uint16(len(tup)), Flags: SlotFlagNormal}); err != nil {
		return -1, err
	}
	p.setLower(p.lower() + SlotSize)
	return i, nil
}

func (p *Page) ReadTuple(slot int) ([]byte, error) {
	s, err := p.getSlot(slot)
	if err != nil {
		return nil, err
	}
	switch s.Flags {
	case SlotFlagNormal:
		start, end := int(s.Offset), int(s.Offset)+int(s.Length)
		if s.Length == 0 || start < int(p.upper()) || end > len(p.Buf) {
			return nil, ErrCorruption
		}
		return p.Buf[start:end], nil
	case SlotFlagDeleted:
		return nil, ErrBadSlot
	default:
		return nil, ErrCorruption
	}
}

// UpdateTuple rewrites slot in place when the tuple shrinks, otherwise moves the
// bytes inside this page and repoints the same slot. ErrNoSpace means the caller
// has to relocate the row to another page.
func (p *Page) UpdateTuple(slot int, newTuple []byte) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags != SlotFlagNormal || s.Length == 0 {
		return ErrBadSlot
	}
	if len(newTuple) == 0 {
		return ErrCorruption
	}

	if len(newTuple) <= int(s.Length) {
		copy(p.Buf[int(s.Offset):], newTuple)
		s.Length = uint16(len(newTuple))
		return p.putSlot(slot, s)
	}

	if p.FreeSpace() < len(newTuple) {
		// the old bytes become reclaimable once this slot moves
		if p.reclaimable()+int(s.Length)+p.FreeSpace() < len(newTuple) {
			return ErrNoSpace
		}
		if err := p.putSlot(slot, Slot{Flags: SlotFlagDeleted}); err != nil {
			return err
		}
		p.Compact()
	}
	u := int(p.upper()) - len(newTuple)
	copy(p.Buf[u:], newTuple)
	p.setUpper(uint16(u))
	return p.putSlot(slot, Slot{Offset: uint16(u), Length: uint16(len(newTuple)), Flags: SlotFlagNormal})
}

func (p *Page) DeleteTuple(slot int) error {
	s, err := p.getSlot(slot)
	if err != nil {
		return err
	}
	if s.Flags == SlotFlagDeleted {
		return ErrBadSlot
	}
	return p.putSlot(slot, Slot{Flags: SlotFlagDeleted})
}

// reclaimable is the number of tuple bytes Compact would recover.
func (p *Page) reclaimable() int {
	live := 0
	for i := 0; i < p.NumSlots(); i++ {
		if s, err := p.getSlot(i); err == nil && s.Flags == SlotFlagNormal {
			live += int(s.Length)
		}
	}
	return len(p.Buf) - int(p.upper()) - live
}

// Compact packs live tuples against the end of the page. Slot indexes do not
// change.
func (p *Page) Compact() {
	type live struct {
		idx  int
		data []byte
	}
	var rows []live
	for i := 0; i < p.NumSlots(); i++ {
		s, err := p.getSlot(i)
		if err != nil || s.Flags != SlotFlagNormal || s.Length == 0 {
			continue
		}
		rows = append(rows, live{idx: i, data: bx.Clone(p.Buf[s.Offset : int(s.Offset)+int(s.Length)])})
	}
	u := len(p.Buf)
	for _, r := range rows {
		u -= len(r.data)
		copy(p.Buf[u:], r.data)
		_ = p.putSlot(r.idx, Slot{Offset: uint16(u), Length: uint16(len(r.data)), Flags: SlotFlagNormal})
	}
	bx.Zero(p.Buf[p.lower():u])
	p.setUpper(uint16(u))
}
