// Package link models one connected DSLink peer: its identity, its role
// flags, and its outbound send function. The peer's rid-keyed stream
// table is kept by the dispatcher.
package link

import (
	"fmt"

	"github.com/dsabroker/broker/internal/wire"
)

// Sender delivers one outbound frame to the peer. Implementations must
// not block the caller beyond handing the frame to the transport's own
// (thread-safe) write path; Send itself always runs on the single
// EventLoop thread, so Link carries no internal locking.
type Sender func(*wire.Frame) error

// Link is a connected peer. Its stream tables are stored by the
// dispatcher package via stream.Table; Link only carries identity, role,
// and the send function so that node, hub, and stream packages can
// depend on it without importing the dispatcher.
type Link struct {
	Handle      string
	IsRequester bool
	IsResponder bool
	send        Sender
	closed      bool
}

func New(handle string, isRequester, isResponder bool, send Sender) *Link {
	return &Link{
		Handle:      handle,
		IsRequester: isRequester,
		IsResponder: isResponder,
		send:        send,
	}
}

// Send delivers a frame to the peer. It is a no-op, returning nil, once
// the link has been marked closed, since teardown can leave cleanup
// tasks still holding a reference that fires before they're unwound.
func (l *Link) Send(f *wire.Frame) error {
	if l.closed {
		return nil
	}
	if l.send == nil {
		return fmt.Errorf("link %s: no sender configured", l.Handle)
	}
	return l.send(f)
}

// MarkClosed flags the link as no longer sendable. Cascading stream
// cleanup is the caller's (dispatcher's) responsibility.
func (l *Link) MarkClosed() {
	l.closed = true
}

func (l *Link) Closed() bool {
	return l.closed
}

func (l *Link) String() string {
	return l.Handle
}
