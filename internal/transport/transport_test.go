package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsabroker/broker/internal/wire"
)

func TestBlockerDrainsQueuedFramesInOneTick(t *testing.T) {
	s := NewServer(nil, Config{}, nil)

	s.inbox <- Inbound{Frame: &wire.Frame{}}
	s.inbox <- Inbound{Frame: &wire.Frame{}}
	s.inbox <- Inbound{Frame: &wire.Frame{}}

	var handled int
	blocker := s.Blocker(func(Inbound) { handled++ })
	blocker(50 * time.Millisecond)

	assert.Equal(t, 3, handled, "a burst already queued must drain in one blocker call")
}

func TestBlockerReturnsOnTimeoutWhenEmpty(t *testing.T) {
	s := NewServer(nil, Config{}, nil)

	handled := 0
	blocker := s.Blocker(func(Inbound) { handled++ })

	start := time.Now()
	blocker(20 * time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, 0, handled)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	require.Equal(t, 10*time.Second, cfg.WriteWait)
	assert.Equal(t, int64(16*1024*1024), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.InboxSize)
}
