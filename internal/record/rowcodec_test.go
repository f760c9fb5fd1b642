package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// makeTestSchema builds a simple schema used across tests.
func makeTestSchema() Schema {
	return Schema{
		Cols: []Column{
			{Name: "id", Type: ColInteger, PrimaryKey: true},
			{Name: "score", Type: ColReal},
			{Name: "name", Type: ColText, Nullable: true},
			{Name: "blob", Type: ColBlob, Nullable: true},
		},
	}
}

func TestEncodeDecodeRow_RoundTrip(t *testing.T) {
	schema := makeTestSchema()

	values := []Value{Int(-42), Real(3.14159), Text("hello"), Blob([]byte{0x01, 0x02, 0x03})}

	buf, err := EncodeRow(schema, 7, values)
	require.NoError(t, err)

	rowID, row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	require.Equal(t, int64(7), rowID)
	require.Len(t, row, len(values))
	require.Equal(t, int64(-42), row[0].I)
	require.InDelta(t, 3.14159, row[1].F, 1e-9)
	require.Equal(t, "hello", row[2].S)
	require.Equal(t, []byte{0x01, 0x02, 0x03}, row[3].B)

	id, err := RowID(buf)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
}

func TestEncodeDecodeRow_Nullable(t *testing.T) {
	schema := makeTestSchema()

	buf, err := EncodeRow(schema, 1, []Value{Int(1), Real(1.5), Null(), Null()})
	require.NoError(t, err)

	_, row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	require.True(t, row[2].IsNull())
	require.True(t, row[3].IsNull())
}

func TestDecodeRow_BlobDoesNotAliasBuffer(t *testing.T) {
	schema := Schema{Cols: []Column{{Name: "b", Type: ColBlob}}}
	buf, err := EncodeRow(schema, 1, []Value{Blob([]byte("abc"))})
	require.NoError(t, err)

	_, row, err := DecodeRow(schema, buf)
	require.NoError(t, err)
	buf[len(buf)-1] = 'X'
	require.Equal(t, []byte("abc"), row[0].B)
}

func TestEncodeRow_SchemaMismatch(t *testing.T) {
	schema := makeTestSchema()

	t.Run("wrong number of values", func(t *testing.T) {
		_, err := EncodeRow(schema, 1, []Value{Int(1)})
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("non-nullable column is null", func(t *testing.T) {
		_, err := EncodeRow(schema, 1, []Value{Null(), Real(1), Text("ok"), Null()})
		require.ErrorIs(t, err, ErrNullNotAllowed)
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("wrong type for column", func(t *testing.T) {
		_, err := EncodeRow(schema, 1, []Value{Text("nope"), Real(1), Null(), Null()})
		require.ErrorIs(t, err, ErrSchemaMismatch)
	})
}

func TestDecodeRow_BadBuffer(t *testing.T) {
	schema := makeTestSchema()

	buf, err := EncodeRow(schema, 3, []Value{Int(42), Real(2.71828), Text("test"), Blob([]byte{0xAA, 0xBB})})
	require.NoError(t, err)

	t.Run("truncated buffer", func(t *testing.T) {
		_, _, err := DecodeRow(schema, buf[:len(buf)-1])
		require.ErrorIs(t, err, ErrBadBuffer)
	})

	t.Run("too short for rowid", func(t *testing.T) {
		_, _, err := DecodeRow(schema, []byte{0x00})
		require.ErrorIs(t, err, ErrBadBuffer)
		_, err = RowID([]byte{1, 2})
		require.ErrorIs(t, err, ErrBadBuffer)
	})
}
