package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_ObjectKeysSorted(t *testing.T) {
	v := map[string]interface{}{"b": float64(2), "a": float64(1)}
	b, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(b))
}

func TestCanonicalize_NestedObjectOrderIndependent(t *testing.T) {
	a := map[string]interface{}{
		"x": map[string]interface{}{"z": float64(10), "y": float64(5)},
	}
	b := map[string]interface{}{
		"x": map[string]interface{}{"y": float64(5), "z": float64(10)},
	}
	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestCanonicalize_ArrayOrderPreserved(t *testing.T) {
	v := []interface{}{float64(3), float64(1), float64(2)}
	b, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `[3,1,2]`, string(b))
}

func TestCanonicalize_Primitives(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want string
	}{
		{"null", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"empty object", map[string]interface{}{}, "{}"},
		{"empty array", []interface{}{}, "[]"},
		{"string", "hello world", `"hello world"`},
		{"unicode passthrough", "こんにちは", `"こんにちは"`},
		{"control char escape", "a\tb", `"a\tb"`},
		{"quote escape", `say "hi"`, `"say \"hi\""`},
		{"backslash escape", `a\b`, `"a\\b"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b, err := Canonicalize(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, string(b))
		})
	}
}

func TestCanonicalize_NegativeZero(t *testing.T) {
	b, err := Canonicalize(float64(-0.0))
	require.NoError(t, err)
	assert.Equal(t, "0", string(b))
}

func TestCanonicalize_RejectsNonIntegerNumber(t *testing.T) {
	_, err := Canonicalize(float64(1.5))
	require.Error(t, err)
}

func TestCanonicalize_RejectsOutOfRangeInteger(t *testing.T) {
	_, err := Canonicalize(float64(MaxSafeInt) + 2048)
	require.Error(t, err)
}

func TestCanonicalize_AcceptsMaxSafeInt(t *testing.T) {
	b, err := Canonicalize(float64(MaxSafeInt))
	require.NoError(t, err)
	assert.Equal(t, "9007199254740991", string(b))
}

func TestCanonicalize_RejectsUnsupportedType(t *testing.T) {
	_, err := Canonicalize(struct{ X int }{X: 1})
	require.Error(t, err)
}

func TestDecodeStrict_RejectsDuplicateKeys(t *testing.T) {
	_, err := DecodeStrict([]byte(`{"a":1,"a":2}`))
	require.Error(t, err)
}

func TestDecodeStrict_PreservesIntegerNumbers(t *testing.T) {
	v, err := DecodeStrict([]byte(`{"n":42}`))
	require.NoError(t, err)
	b, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"n":42}`, string(b))
}

func TestHash_MatchesSHA256OfCanonicalBytes(t *testing.T) {
	v := map[string]interface{}{"a": float64(1)}
	b, err := Canonicalize(v)
	require.NoError(t, err)
	h, err := Hash(v)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(b), h)
	assert.Len(t, h, 64)
}

func TestCanonicalize_IsDeterministic(t *testing.T) {
	v := map[string]interface{}{
		"trace_id": "4bf92f3577b34da6a3ce929d0e0e4736",
		"grants":   map[string]interface{}{"read": true, "write": true},
		"ts_ms":    float64(1769817600000),
	}
	b1, err := Canonicalize(v)
	require.NoError(t, err)
	b2, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, string(b1), string(b2))
}

func TestCrossCheck_AgreesWithIndependentImplementation(t *testing.T) {
	v := map[string]interface{}{
		"b": float64(2),
		"a": []interface{}{float64(1), float64(2), float64(3)},
		"c": map[string]interface{}{"nested": true, "deep": nil},
	}
	require.NoError(t, CrossCheck(v))
}
