package taskscope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderActivity struct{}

type pair[K comparable, V any] struct{}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     TypeName
		encoded string
	}{
		{"simple", Simple("Greet"), "Greet"},
		{"open", OpenGeneric("Dict", 2), "Dict`2"},
		{"closed", Generic("Dict", Simple("String"), Generic("List", Simple("Int"))), "Dict[String|List[Int]]"},
		{"nested first", Generic("Pair", Generic("List", Simple("Int")), Simple("String")), "Pair[List[Int]|String]"},
		{"dotted", Simple("orders.Greet"), "orders.Greet"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.encoded, Encode(tc.typ))
			decoded, err := Decode(tc.encoded)
			require.NoError(t, err)
			assert.True(t, tc.typ.Equal(decoded), "decoded %s", decoded)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{"", "Dict[", "Dict[]", "Dict[A|]", "Dict`0", "Dict`x", "Dict[A]]", "[A]", "Dict[List`1]"} {
		t.Run(raw, func(t *testing.T) {
			_, err := Decode(raw)
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrCodeTypeNameMalformed))
			assert.True(t, IsResolutionError(err))
		})
	}
}

func TestTryGetOpenGenericName(t *testing.T) {
	cases := map[string]string{
		"Dict[String|List[Int]]":     "Dict`2",
		"List[Int]":                  "List`1",
		"Cache[Dict[A|B]|List[C]|D]": "Cache`3",
	}
	for closed, open := range cases {
		got, ok := TryGetOpenGenericName(closed)
		require.True(t, ok, closed)
		assert.Equal(t, open, got)
	}

	for _, raw := range []string{"Greet", "Dict`2", "Dict[]", "[Int]", "Dict[Int", "Dict]Int]"} {
		_, ok := TryGetOpenGenericName(raw)
		assert.False(t, ok, raw)
	}
}

func TestCloseGenericDefinition(t *testing.T) {
	def := OpenGeneric("Dict", 2)
	closed, err := def.Close(Simple("String"), Simple("Int"))
	require.NoError(t, err)
	assert.Equal(t, "Dict[String|Int]", closed.String())
	assert.Equal(t, def, closed.Definition())

	_, err = def.Close(Simple("String"))
	assert.True(t, HasCode(err, ErrCodeTypeNameMalformed))

	_, err = Simple("Greet").Close(Simple("Int"))
	assert.True(t, HasCode(err, ErrCodeTypeNameMalformed))

	_, err = def.Close(Simple("String"), OpenGeneric("List", 1))
	assert.True(t, HasCode(err, ErrCodeTypeNameMalformed))
}

func TestNamesAreCaseSensitive(t *testing.T) {
	assert.False(t, Simple("Greet").Equal(Simple("greet")))
	open, ok := TryGetOpenGenericName("cache[Int]")
	require.True(t, ok)
	assert.Equal(t, "cache`1", open)
}

func TestValidateRejectsReservedCharacters(t *testing.T) {
	assert.Error(t, Simple("A|B").Validate())
	assert.Error(t, Simple("  ").Validate())
	assert.Error(t, TypeName{Name: "Dict", Arity: 3, Args: []TypeName{Simple("A")}}.Validate())
	assert.NoError(t, Generic("Dict", Simple("A"), Simple("B")).Validate())
}

func TestTypeNameOf(t *testing.T) {
	name, err := TypeNameOf[*orderActivity]()
	require.NoError(t, err)
	assert.Equal(t, "orderActivity", name.String())

	name, err = TypeNameOf[pair[string, int]]()
	require.NoError(t, err)
	assert.Equal(t, "pair", name.String())

	_, err = TypeNameOf[func()]()
	assert.True(t, HasCode(err, ErrCodeDescriptorInvalid))

	assert.Panics(t, func() { MustTypeNameOf[[]int]() })
	assert.Panics(t, func() { MustDecode("Bad[") })
}
