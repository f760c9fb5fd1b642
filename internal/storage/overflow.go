package storage

import (
	"fmt"
	"log/slog"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/dberr"
)

// OverflowRef points to an overflow chain.
// - FirstPageID: the first page of the chain
// - Length:      total logical bytes stored across the chain
type OverflowRef struct {
	FirstPageID uint32
	Length      uint32
}

// Overflow page layout (one logical page):
//
//	[0..3]   uint32 nextPageID   // 0 => end of chain
//	[4..5]   uint16 used         // number of payload bytes used
//	[6..]    payload bytes
//
// Overflow pages come from the same allocator as heap pages, so a chain is
// written, and freed, inside the transaction that owns the row.
const overflowHeaderSize = 6

// OverflowManager stores byte slices too large for a heap page.
type OverflowManager struct {
	acc    PageAccessor
	alloc  func() (uint32, error)
	free   func(uint32) error
	usable int
	log    *slog.Logger
}

// NewOverflowManager builds a manager over acc. A nil logger discards.
func NewOverflowManager(acc PageAccessor, usable int, logger *slog.Logger) *OverflowManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OverflowManager{
		acc:    acc,
		alloc:  func() (uint32, error) { return Allocate(acc, usable) },
		free:   func(id uint32) error { return Free(acc, id, usable) },
		usable: usable,
		log:    logger,
	}
}

func (ovf *OverflowManager) payloadSize() int { return ovf.usable - overflowHeaderSize }

// Write stores data as a linked list of freshly allocated pages.
func (ovf *OverflowManager) Write(data []byte) (OverflowRef, error) {
	if len(data) == 0 {
		return OverflowRef{}, fmt.Errorf("overflow: empty data")
	}

	n := (len(data) + ovf.payloadSize() - 1) / ovf.payloadSize()
	ids := make([]uint32, n)
	for i := range ids {
		id, err := ovf.alloc()
		if err != nil {
			return OverflowRef{}, err
		}
		ids[i] = id
	}

	offset := 0
	for i, id := range ids {
		chunk := min(len(data)-offset, ovf.payloadSize())
		buf := make([]byte, ovf.usable)
		if i+1 < len(ids) {
			bx.PutU32(buf[0:4], ids[i+1])
		}
		bx.PutU16(buf[4:6], uint16(chunk))
		copy(buf[overflowHeaderSize:], data[offset:offset+chunk])
		if err := ovf.acc.WritePage(id, buf); err != nil {
			return OverflowRef{}, err
		}
		offset += chunk
	}

	ovf.log.Debug("overflow chain written", "firstPageID", ids[0], "pages", len(ids), "length", len(data))
	return OverflowRef{FirstPageID: ids[0], Length: uint32(len(data))}, nil
}

// Read loads the full logical byte slice from an overflow chain.
func (ovf *OverflowManager) Read(ref OverflowRef) ([]byte, error) {
	if ref.Length == 0 {
		return nil, fmt.Errorf("overflow: zero-length ref")
	}
	out := make([]byte, 0, ref.Length)
	remaining := int(ref.Length)
	pageID := ref.FirstPageID

	for remaining > 0 {
		buf, err := ovf.acc.ReadPage(pageID)
		if err != nil {
			return nil, err
		}
		next := bx.U32(buf[0:4])
		used := int(bx.U16(buf[4:6]))
		if used > ovf.payloadSize() || used > remaining || used == 0 {
			return nil, fmt.Errorf("%w: overflow page %d used=%d remaining=%d", dberr.ErrIntegrity, pageID, used, remaining)
		}
		out = append(out, buf[overflowHeaderSize:overflowHeaderSize+used]...)
		remaining -= used

		if remaining > 0 {
			if next == 0 {
				return nil, fmt.Errorf("%w: truncated overflow chain, remaining=%d", dberr.ErrIntegrity, remaining)
			}
			pageID = next
		}
	}
	return out, nil
}

// Release returns every page of the chain to the free list.
func (ovf *OverflowManager) Release(ref OverflowRef) error {
	pageID := ref.FirstPageID
	for pages := 0; pageID != 0; pages++ {
		if pages > int(ref.Length)/ovf.payloadSize()+1 {
			return fmt.Errorf("%w: overflow chain longer than its length", dberr.ErrIntegrity)
		}
		buf, err := ovf.acc.ReadPage(pageID)
		if err != nil {
			return err
		}
		next := bx.U32(buf[0:4])
		if err := ovf.free(pageID); err != nil {
			return err
		}
		pageID = next
	}
	return nil
}
