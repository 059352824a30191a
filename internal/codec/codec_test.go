package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsabroker/broker/internal/wire"
)

func TestJSONDecodeEncodeRoundTrip(t *testing.T) {
	raw := []byte(`{"requests":[{"rid":7,"method":"list","path":"/x"}]}`)
	var c JSON

	f, err := c.Decode(raw)
	require.NoError(t, err)
	require.Len(t, f.Requests, 1)
	assert.Equal(t, uint32(7), f.Requests[0].RID)
	assert.Equal(t, "list", f.Requests[0].Method)

	out, err := c.Encode(f)
	require.NoError(t, err)

	f2, err := c.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, f.Requests[0].RID, f2.Requests[0].RID)
}

func TestJSONDecodeMalformedReturnsError(t *testing.T) {
	var c JSON
	_, err := c.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestJSONDecodeAbsentArraysAreNil(t *testing.T) {
	var c JSON
	f, err := c.Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, f.Requests)
	assert.Nil(t, f.Responses)
}

func TestJSONEncodeOmitsAbsentFields(t *testing.T) {
	var c JSON
	out, err := c.Encode(&wire.Frame{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}
