package storage

import (
	"fmt"

	"github.com/tuannm99/sealdb/internal/alias/bx"
)

// Meta page layout (logical page 1):
//
//	magic(4) pageCount(4) schemaVersion(8) flags(4) catalogRoot(4)
const (
	metaMagic uint32 = 0x4154454D // "META"

	mOffMagic         = 0
	mOffPageCount     = 4
	mOffSchemaVersion = 8
	mOffFlags         = 16
	mOffCatalogRoot   = 20
	metaLen           = 24

	MetaFlagForeignKeys uint32 = 1 << 0
)

// Meta is the mutable database state that must commit atomically with data.
type Meta struct {
	PageCount     uint32
	SchemaVersion int64
	Flags         uint32
	CatalogRoot   uint32
}

func (m Meta) ForeignKeys() bool { return m.Flags&MetaFlagForeignKeys != 0 }

func (m *Meta) SetForeignKeys(on bool) {
	if on {
		m.Flags |= MetaFlagForeignKeys
	} else {
		m.Flags &^= MetaFlagForeignKeys
	}
}

func (m Meta) EncodeInto(buf []byte) {
	bx.Zero(buf)
	bx.PutU32At(buf, mOffMagic, metaMagic)
	bx.PutU32At(buf, mOffPageCount, m.PageCount)
	bx.PutU64At(buf, mOffSchemaVersion, uint64(m.SchemaVersion))
	bx.PutU32At(buf, mOffFlags, m.Flags)
	bx.PutU32At(buf, mOffCatalogRoot, m.CatalogRoot)
}

func DecodeMeta(buf []byte) (Meta, error) {
	if len(buf) < metaLen || bx.U32At(buf, mOffMagic) != metaMagic {
		return Meta{}, fmt.Errorf("%w: bad meta page", ErrBadHeader)
	}
	return Meta{
		PageCount:     bx.U32At(buf, mOffPageCount),
		SchemaVersion: int64(bx.U64At(buf, mOffSchemaVersion)),
		Flags:         bx.U32At(buf, mOffFlags),
		CatalogRoot:   bx.U32At(buf, mOffCatalogRoot),
	}, nil
}
