package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsDeepForUpdates(t *testing.T) {
	orig := &Response{
		RID:     1,
		Stream:  StreamOpen,
		Updates: []interface{}{[]interface{}{"a", float64(1)}},
	}
	clone := orig.Clone()
	require.NotNil(t, clone)

	clone.RID = 99
	clone.Updates[0] = []interface{}{"mutated", float64(2)}

	assert.Equal(t, uint32(1), orig.RID)
	assert.Equal(t, []interface{}{"a", float64(1)}, orig.Updates[0])
}

func TestCloneOfNilIsNil(t *testing.T) {
	var r *Response
	assert.Nil(t, r.Clone())
}

func TestCloneWithNilUpdatesStaysNil(t *testing.T) {
	orig := &Response{RID: 1}
	clone := orig.Clone()
	assert.Nil(t, clone.Updates)
}
