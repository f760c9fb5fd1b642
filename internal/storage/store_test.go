package storage

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStore_ReadWriteFileAndMemory(t *testing.T) {
	disk, err := OpenFile(filepath.Join(t.TempDir(), "db.sealdb"), true)
	require.NoError(t, err)

	for name, f := range map[string]BlockFile{"file": disk, "memory": NewMemFile()} {
		t.Run(name, func(t *testing.T) {
			s := NewStore(f, MinPageSize)
			defer func() { _ = s.Close() }()

			page := bytes.Repeat([]byte{7}, MinPageSize)
			require.NoError(t, s.WritePage(3, page))
			require.NoError(t, s.Sync())

			got, err := s.ReadPage(3)
			require.NoError(t, err)
			require.Equal(t, page, got)

			// beyond EOF is zero-filled
			got, err = s.ReadPage(10)
			require.NoError(t, err)
			require.Equal(t, make([]byte, MinPageSize), got)

			n, err := s.CountPages()
			require.NoError(t, err)
			require.Equal(t, uint32(4), n)

			require.Error(t, s.WritePage(1, []byte("short")))
		})
	}
}

func TestOpenFile_MissingWithoutCreate(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "nope"), false)
	require.Error(t, err)
}

func TestMemFile_Truncate(t *testing.T) {
	m := NewMemFile()
	_, err := m.WriteAt([]byte("hello world"), 0)
	require.NoError(t, err)
	require.NoError(t, m.Truncate(5))

	buf := make([]byte, 10)
	n, err := m.ReadAt(buf, 0)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, "hello", string(buf[:n]))

	require.NoError(t, m.Close())
	_, err = m.ReadAt(buf, 0)
	require.ErrorIs(t, err, ErrFileClosed)
}

func TestHeader_RoundTrip(t *testing.T) {
	f := NewMemFile()
	h := &Header{
		PageSize:        DefaultPageSize,
		ArgonMemory:     8192,
		ArgonIterations: 2,
		ArgonParallel:   1,
		Salt:            bytes.Repeat([]byte{1}, saltLen),
		DatabaseID:      uuid.New(),
		KeyCheck:        bytes.Repeat([]byte{2}, keyCheckLen),
	}
	require.NoError(t, WriteHeader(f, h))

	got, err := ReadHeader(f)
	require.NoError(t, err)
	require.Equal(t, uint16(formatVersion), got.Version)
	require.Equal(t, h.PageSize, got.PageSize)
	require.Equal(t, h.Salt, got.Salt)
	require.Equal(t, h.DatabaseID, got.DatabaseID)
	require.Equal(t, h.KeyCheck, got.KeyCheck)
	require.Equal(t, h.ArgonMemory, got.ArgonMemory)

	size, err := f.Size()
	require.NoError(t, err)
	require.Equal(t, int64(DefaultPageSize), size, "header occupies a whole page")
}

func TestHeader_Errors(t *testing.T) {
	_, err := ReadHeader(NewMemFile())
	require.ErrorIs(t, err, io.EOF)

	junk := NewMemFile()
	_, err = junk.WriteAt(bytes.Repeat([]byte("x"), HeaderAreaSize), 0)
	require.NoError(t, err)
	_, err = ReadHeader(junk)
	require.ErrorIs(t, err, ErrBadHeader)

	require.ErrorIs(t, ValidatePageSize(3000), ErrBadPageSize)
	require.NoError(t, ValidatePageSize(8192))
}

func TestMeta_Flags(t *testing.T) {
	m := Meta{PageCount: 9, SchemaVersion: 3}
	m.SetForeignKeys(true)
	buf := make([]byte, testUsable)
	m.EncodeInto(buf)

	got, err := DecodeMeta(buf)
	require.NoError(t, err)
	require.True(t, got.ForeignKeys())
	require.Equal(t, int64(3), got.SchemaVersion)

	got.SetForeignKeys(false)
	require.False(t, got.ForeignKeys())

	_, err = DecodeMeta(make([]byte, testUsable))
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestOverflow_WriteReadRelease(t *testing.T) {
	acc := newMemAccessor(t, testUsable)
	ovf := NewOverflowManager(acc, testUsable, nil)

	data := bytes.Repeat([]byte("0123456789"), 300) // ~3 pages
	ref, err := ovf.Write(data)
	require.NoError(t, err)
	require.Equal(t, uint32(len(data)), ref.Length)

	got, err := ovf.Read(ref)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.NoError(t, ovf.Release(ref))
	n, err := FreePageCount(acc)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	_, err = ovf.Write(nil)
	require.Error(t, err)
}
