package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeTOON_TabularArray(t *testing.T) {
	in := `{"items":[{"sku":"A1","qty":2,"price":9.99},{"sku":"B2","qty":1,"price":14.5}]}`

	out, ok := EncodeTOON(in)

	require.True(t, ok)
	assert.Equal(t, "items[2]{price,qty,sku}:\n  9.99,2,A1\n  14.5,1,B2", out)
}

func TestEncodeTOON_ScalarArray(t *testing.T) {
	out, ok := EncodeTOON(`{"tags":["alpha","beta","gamma"]}`)

	require.True(t, ok)
	assert.Equal(t, "tags[3]: alpha,beta,gamma", out)
}

func TestEncodeTOON_NestedObject(t *testing.T) {
	out, ok := EncodeTOON(`{"user":{"name":"ada","active":true},"count":3}`)

	require.True(t, ok)
	assert.Equal(t, "count: 3\nuser:\n  active: true\n  name: ada", out)
}

func TestEncodeTOON_MixedArrayFallsBack(t *testing.T) {
	// Elements with different key sets cannot fold into a table.
	out, ok := EncodeTOON(`{"items":[{"a":1},{"b":2}]}`)

	require.True(t, ok)
	assert.Contains(t, out, "items[2]:")
}

func TestEncodeTOON_QuotesAmbiguousStrings(t *testing.T) {
	out, ok := EncodeTOON(`{"v":"true","n":"42","c":"a,b","plain":"hello"}`)

	require.True(t, ok)
	assert.Contains(t, out, `v: "true"`)
	assert.Contains(t, out, `n: "42"`)
	assert.Contains(t, out, `c: "a,b"`)
	assert.Contains(t, out, "plain: hello")
}

func TestEncodeTOON_PreservesNumberLiterals(t *testing.T) {
	out, ok := EncodeTOON(`{"id":12345678901234567890,"rate":0.1000}`)

	require.True(t, ok)
	assert.Contains(t, out, "id: 12345678901234567890")
	assert.Contains(t, out, "rate: 0.1000")
}

func TestEncodeTOON_RejectsNonJSON(t *testing.T) {
	for _, in := range []string{
		"plain text output",
		`"just a string"`,
		"42",
		"",
		`{"a":1} trailing garbage`,
	} {
		_, ok := EncodeTOON(in)
		assert.False(t, ok, "input %q should be rejected", in)
	}
}

func TestEncodeTOON_Deterministic(t *testing.T) {
	in := `{"z":1,"a":{"y":2,"b":3},"m":[{"k":1,"j":2},{"k":3,"j":4}]}`

	first, ok := EncodeTOON(in)
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		again, ok := EncodeTOON(in)
		require.True(t, ok)
		assert.Equal(t, first, again)
	}
}
