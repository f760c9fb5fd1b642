package storage

import (
	"fmt"
	"io"

	"github.com/tuannm99/sealdb/internal/dberr"
)

// Store maps a PageID to its physical location (id * pageSize) in the database
// file. It moves sealed bytes only; encryption happens above it.
type Store struct {
	f        BlockFile
	pageSize int
}

func NewStore(f BlockFile, pageSize int) *Store {
	return &Store{f: f, pageSize: pageSize}
}

func (s *Store) PageSize() int { return s.pageSize }

func (s *Store) offset(pageID uint32) int64 {
	return int64(pageID) * int64(s.pageSize)
}

// ReadPage reads exactly one physical page. If the file is shorter than the
// requested page the remainder is zero-filled; the codec rejects such a page, so a
// truncated file surfaces as an integrity failure rather than silent zeros.
func (s *Store) ReadPage(pageID uint32) ([]byte, error) {
	dst := make([]byte, s.pageSize)
	n, err := s.f.ReadAt(dst, s.offset(pageID))
	if err != nil && err != io.EOF {
		return nil, dberr.IO(fmt.Sprintf("read page %d", pageID), err)
	}
	for i := n; i < s.pageSize; i++ {
		dst[i] = 0
	}
	return dst, nil
}

func (s *Store) WritePage(pageID uint32, src []byte) error {
	if len(src) != s.pageSize {
		return fmt.Errorf("storage: src must be exactly %d bytes, got %d", s.pageSize, len(src))
	}
	n, err := s.f.WriteAt(src, s.offset(pageID))
	if err != nil {
		return dberr.IO(fmt.Sprintf("write page %d", pageID), err)
	}
	if n != s.pageSize {
		return dberr.IO(fmt.Sprintf("write page %d", pageID), io.ErrShortWrite)
	}
	return nil
}

func (s *Store) Sync() error {
	return dberr.IO("sync database file", s.f.Sync())
}

// CountPages is the number of whole physical pages in the file.
func (s *Store) CountPages() (uint32, error) {
	size, err := s.f.Size()
	if err != nil {
		return 0, dberr.IO("stat database file", err)
	}
	return uint32(size / int64(s.pageSize)), nil
}

func (s *Store) Close() error {
	return s.f.Close()
}
