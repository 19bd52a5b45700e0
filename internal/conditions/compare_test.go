package conditions

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	data := map[string]any{
		"a.b":    "literal",
		"client": map[string]any{"address": map[string]any{"city": "Wellington"}},
		"null":   nil,
	}

	assert.Equal(t, "literal", Lookup(data, "a.b"))
	assert.Equal(t, "Wellington", Lookup(data, "client.address.city"))
	assert.Nil(t, Lookup(data, "null"))
	assert.Equal(t, Undefined, Lookup(data, "missing"))
	assert.Equal(t, Undefined, Lookup(data, "client.address.city.zip"))
	assert.Equal(t, Undefined, Lookup(nil, "x"))
}

func TestStrictEqual(t *testing.T) {
	now := time.Now()
	tests := []struct {
		a, b any
		want bool
	}{
		{1, 1.0, true},
		{int64(2), json.Number("2"), true},
		{uint8(3), 3.5, false},
		{"a", "a", true},
		{"1", 1, false},
		{true, true, true},
		{true, 1, false},
		{nil, nil, true},
		{nil, Undefined, false},
		{now, now.UTC(), true},
		{map[string]any{}, map[string]any{}, false},
		{math.NaN(), math.NaN(), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, strictEqual(tt.a, tt.b), "%#v == %#v", tt.a, tt.b)
	}
}

func TestCompareOrdered(t *testing.T) {
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c, ok := compareOrdered(2, 1.5)
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	c, ok = compareOrdered("apple", "banana")
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = compareOrdered(earlier, earlier.Add(time.Hour))
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = compareOrdered("2", 1)
	assert.False(t, ok)
	_, ok = compareOrdered(math.NaN(), 1)
	assert.False(t, ok)
	_, ok = compareOrdered(nil, nil)
	assert.False(t, ok)
	_, ok = compareOrdered(Undefined, 1)
	assert.False(t, ok)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", stringify(Undefined))
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "42", stringify(42))
	assert.Equal(t, "2.5", stringify(2.5))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, `["a","b"]`, stringify([]any{"a", "b"}))
	assert.Equal(t, `{"k":1}`, stringify(map[string]any{"k": 1}))
}
