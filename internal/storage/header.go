package storage

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/tuannm99/sealdb/internal/alias/bx"
	"github.com/tuannm99/sealdb/internal/dberr"
)

const (
	headerMagic   = "SEALDB01"
	formatVersion = 1

	saltLen     = 32
	keyCheckLen = 56
)

// Header offsets inside page 0.
//
//	magic(8) version(2) pageSize(4) argonMem(4) argonIter(4) argonPar(1) rsv(1)
//	salt(32) dbID(16) keyCheck(56)
const (
	hOffMagic     = 0
	hOffVersion   = 8
	hOffPageSize  = 10
	hOffArgonMem  = 14
	hOffArgonIter = 18
	hOffArgonPar  = 22
	hOffSalt      = 24
	hOffDBID      = hOffSalt + saltLen
	hOffKeyCheck  = hOffDBID + 16
	hEnd          = hOffKeyCheck + keyCheckLen
)

// Header is the plaintext content of page 0: everything needed to derive the
// key and verify it before any encrypted page is touched.
type Header struct {
	Version         uint16
	PageSize        int
	ArgonMemory     uint32
	ArgonIterations uint32
	ArgonParallel   uint8
	Salt            []byte
	DatabaseID      uuid.UUID
	KeyCheck        []byte
}

func (h *Header) Encode() ([]byte, error) {
	if len(h.Salt) != saltLen {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrBadHeader, saltLen)
	}
	if len(h.KeyCheck) != keyCheckLen {
		return nil, fmt.Errorf("%w: key check must be %d bytes", ErrBadHeader, keyCheckLen)
	}
	if err := ValidatePageSize(h.PageSize); err != nil {
		return nil, err
	}
	buf := make([]byte, h.PageSize)
	copy(buf[hOffMagic:], headerMagic)
	bx.PutU16At(buf, hOffVersion, formatVersion)
	bx.PutU32At(buf, hOffPageSize, uint32(h.PageSize))
	bx.PutU32At(buf, hOffArgonMem, h.ArgonMemory)
	bx.PutU32At(buf, hOffArgonIter, h.ArgonIterations)
	buf[hOffArgonPar] = h.ArgonParallel
	copy(buf[hOffSalt:], h.Salt)
	copy(buf[hOffDBID:], h.DatabaseID[:])
	copy(buf[hOffKeyCheck:], h.KeyCheck)
	return buf, nil
}

func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < hEnd {
		return nil, fmt.Errorf("%w: short header (%d bytes)", ErrBadHeader, len(buf))
	}
	if string(buf[hOffMagic:hOffMagic+len(headerMagic)]) != headerMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadHeader)
	}
	h := &Header{
		Version:         bx.U16At(buf, hOffVersion),
		PageSize:        int(bx.U32At(buf, hOffPageSize)),
		ArgonMemory:     bx.U32At(buf, hOffArgonMem),
		ArgonIterations: bx.U32At(buf, hOffArgonIter),
		ArgonParallel:   buf[hOffArgonPar],
		Salt:            bx.Clone(buf[hOffSalt:hOffDBID]),
		KeyCheck:        bx.Clone(buf[hOffKeyCheck:hEnd]),
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrBadHeader, h.Version)
	}
	if err := ValidatePageSize(h.PageSize); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	copy(h.DatabaseID[:], buf[hOffDBID:hOffKeyCheck])
	return h, nil
}

// ReadHeader loads the header from the start of f. An empty file yields io.EOF.
func ReadHeader(f BlockFile) (*Header, error) {
	buf := make([]byte, HeaderAreaSize)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil && err != io.EOF {
		return nil, dberr.IO("read header", err)
	}
	return DecodeHeader(buf[:n])
}

func WriteHeader(f BlockFile, h *Header) error {
	buf, err := h.Encode()
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(buf, 0); err != nil {
		return dberr.IO("write header", err)
	}
	return nil
}
