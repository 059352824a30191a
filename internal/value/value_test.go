package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfAndInterfaceRoundTrip(t *testing.T) {
	cases := []interface{}{
		nil,
		true,
		false,
		float64(42),
		"hello",
		[]interface{}{"a", float64(1)},
		map[string]interface{}{"x": float64(1), "y": "z"},
	}
	for _, c := range cases {
		v := Of(c)
		assert.Equal(t, c, v.Interface())
	}
}

func TestValueEqual(t *testing.T) {
	a := Of(map[string]interface{}{"a": float64(1), "b": []interface{}{"x"}})
	b := Of(map[string]interface{}{"b": []interface{}{"x"}, "a": float64(1)})
	assert.True(t, a.Equal(b), "object key order must not affect equality")

	c := Of(map[string]interface{}{"a": float64(2)})
	assert.False(t, a.Equal(c))

	assert.True(t, Of(nil).Equal(Of(nil)))
	assert.False(t, Of(nil).Equal(Of(false)))
}

func TestValueJSONMarshaling(t *testing.T) {
	v := Of(map[string]interface{}{"n": float64(3), "s": "str"})
	raw, err := json.Marshal(v)
	require.NoError(t, err)

	var decoded Value
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, v.Equal(decoded))
}

func TestAsStringAndAsObject(t *testing.T) {
	s, ok := Of("hi").AsString()
	assert.True(t, ok)
	assert.Equal(t, "hi", s)

	_, ok = Of(float64(1)).AsString()
	assert.False(t, ok)

	obj, ok := Of(map[string]interface{}{"k": "v"}).AsObject()
	require.True(t, ok)
	assert.Equal(t, "v", obj["k"].s)
}

func TestSortedKeys(t *testing.T) {
	v := Of(map[string]interface{}{"z": 1, "a": 2, "m": 3})
	assert.Equal(t, []string{"a", "m", "z"}, v.SortedKeys())
	assert.Nil(t, Of("not an object").SortedKeys())
}

func TestOfPassthroughAndStructFallback(t *testing.T) {
	inner := Of("already wrapped")
	assert.Equal(t, inner, Of(inner))

	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	v := Of(point{X: 1, Y: 2})
	assert.Equal(t, map[string]interface{}{"x": float64(1), "y": float64(2)}, v.Interface())
}
