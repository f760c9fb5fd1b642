package record

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueCompare(t *testing.T) {
	c, ok := Int(1).Compare(Int(2))
	require.True(t, ok)
	require.Equal(t, -1, c)

	c, ok = Int(2).Compare(Real(1.5))
	require.True(t, ok)
	require.Equal(t, 1, c)

	c, ok = Text("b").Compare(Text("a"))
	require.True(t, ok)
	require.Equal(t, 1, c)

	_, ok = Text("1").Compare(Int(1))
	require.False(t, ok)
	_, ok = Null().Compare(Null())
	require.False(t, ok)

	require.True(t, Blob([]byte{1}).Equal(Blob([]byte{1})))
	require.False(t, Null().Equal(Null()))
}

func TestOrder(t *testing.T) {
	vals := []Value{Blob([]byte("b")), Text("a"), Real(1.5), Int(1), Null()}
	for i := 1; i < len(vals); i++ {
		require.Equal(t, 1, Order(vals[i-1], vals[i]))
	}
	require.Zero(t, Order(Null(), Null()))
	require.Zero(t, Order(Int(2), Real(2)))
}

func TestFromAny(t *testing.T) {
	cases := []struct {
		in   any
		want Value
	}{
		{nil, Null()},
		{7, Int(7)},
		{int32(-3), Int(-3)},
		{true, Int(1)},
		{2.5, Real(2.5)},
		{"x", Text("x")},
		{[]byte("y"), Blob([]byte("y"))},
		{Int(9), Int(9)},
	}
	for _, tc := range cases {
		got, err := FromAny(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
		if !tc.want.IsNull() {
			require.Equal(t, tc.want, mustFromAny(t, got.Any()))
		}
	}

	_, err := FromAny(struct{}{})
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func mustFromAny(t *testing.T, x any) Value {
	t.Helper()
	v, err := FromAny(x)
	require.NoError(t, err)
	return v
}

func TestCoerce(t *testing.T) {
	realCol := Column{Name: "r", Type: ColReal, Nullable: true}
	v, err := Coerce(realCol, Int(3))
	require.NoError(t, err)
	require.Equal(t, Real(3), v)

	intCol := Column{Name: "i", Type: ColInteger}
	v, err = Coerce(intCol, Real(4))
	require.NoError(t, err)
	require.Equal(t, Int(4), v)
	_, err = Coerce(intCol, Real(4.5))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = Coerce(intCol, Null())
	require.ErrorIs(t, err, ErrNullNotAllowed)

	pk := Column{Name: "id", Type: ColInteger, Nullable: true, PrimaryKey: true}
	_, err = Coerce(pk, Null())
	require.ErrorIs(t, err, ErrNullNotAllowed)

	v, err = Coerce(Column{Name: "b", Type: ColBlob}, Text("hi"))
	require.NoError(t, err)
	require.Equal(t, Blob([]byte("hi")), v)

	_, err = Coerce(Column{Name: "t", Type: ColText}, Blob(nil))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestSchemaValidate(t *testing.T) {
	require.NoError(t, makeTestSchema().Validate())
	require.Equal(t, 2, makeTestSchema().ColIndex("name"))
	require.Equal(t, -1, makeTestSchema().ColIndex("missing"))

	bad := []Schema{
		{},
		{Cols: []Column{{Name: "a", Type: ColInteger}, {Name: "a", Type: ColText}}},
		{Cols: []Column{{Name: "rowid", Type: ColInteger}}},
		{Cols: []Column{{Name: "a", Type: 99}}},
		{Cols: []Column{{Name: "a", Type: ColInteger, PrimaryKey: true}, {Name: "b", Type: ColInteger, PrimaryKey: true}}},
		{Cols: []Column{{Name: "a", Type: ColInteger, References: &ForeignKey{Table: "t"}}}},
	}
	for _, s := range bad {
		require.ErrorIs(t, s.Validate(), ErrBadSchema)
	}
}
