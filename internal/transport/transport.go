// Package transport implements the broker's default WebSocket transport:
// an http.Handler that upgrades incoming connections, decodes frames off
// a per-connection read goroutine, and posts them to a single inbox
// channel the EventLoop's Blocker drains. This is the one deliberate
// cross-thread handoff the concurrency model allows (spec §5): every
// other package in this module assumes a single thread and carries no
// locking.
//
// Grounded on runtime/providers/internal/streaming/conn.go's ConnConfig
// (dial/write timeouts, max message size, structured Logger interface)
// for the connection-tuning shape, generalized from a single-peer
// provider client into a many-peer broker-side server.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/dsabroker/broker/internal/codec"
	"github.com/dsabroker/broker/internal/eventloop"
	"github.com/dsabroker/broker/internal/link"
	"github.com/dsabroker/broker/internal/wire"
)

// Config tunes the transport's timeouts and limits.
type Config struct {
	WriteWait      time.Duration
	MaxMessageSize int64
	InboxSize      int
}

func (c *Config) defaults() {
	if c.WriteWait == 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 * 1024 * 1024
	}
	if c.InboxSize == 0 {
		c.InboxSize = 256
	}
}

// Inbound is one decoded frame arriving from a peer, queued for the
// EventLoop thread to process.
type Inbound struct {
	Link  *link.Link
	Frame *wire.Frame
}

// Server upgrades incoming HTTP connections to WebSocket DSLinks. Reading
// and decoding happen on a per-connection goroutine; the resulting
// Inbound values are pushed onto inbox, the only structure in this
// package touched from more than one goroutine.
type Server struct {
	upgrader websocket.Upgrader
	codec    codec.Codec
	cfg      Config
	log      *logrus.Entry

	inbox chan Inbound

	// OnConnect/OnDisconnect run on the EventLoop thread (invoked from
	// the Blocker), so they may safely touch Dispatcher state.
	OnConnect    func(l *link.Link)
	OnDisconnect func(l *link.Link)
}

// NewServer constructs a Server using codec c to decode/encode frames.
func NewServer(c codec.Codec, cfg Config, log *logrus.Entry) *Server {
	cfg.defaults()
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if c == nil {
		c = codec.JSON{}
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		codec: c,
		cfg:   cfg,
		log:   log,
		inbox: make(chan Inbound, cfg.InboxSize),
	}
}

// peerConn wraps a *websocket.Conn with a write mutex: gorilla's Conn
// forbids concurrent writers, and here the EventLoop thread (delivering
// Send) and this connection's own teardown path can both attempt one.
type peerConn struct {
	ws    *websocket.Conn
	codec codec.Codec
	cfg   Config
	mu    sync.Mutex
}

func (p *peerConn) send(f *wire.Frame) error {
	raw, err := p.codec.Encode(f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(p.cfg.WriteWait))
	return p.ws.WriteMessage(websocket.TextMessage, raw)
}

func (p *peerConn) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ws.Close()
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection's
// read loop until it errors out or is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("transport: upgrade failed")
		return
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	conn := &peerConn{ws: ws, codec: s.codec, cfg: s.cfg}
	handle := r.URL.Query().Get("dsId")
	if handle == "" {
		handle = r.RemoteAddr
	}
	isRequester := r.URL.Query().Get("isRequester") != "false"
	isResponder := r.URL.Query().Get("isResponder") != "false"

	l := link.New(handle, isRequester, isResponder, conn.send)
	if s.OnConnect != nil {
		s.OnConnect(l)
	}

	defer func() {
		conn.close()
		if s.OnDisconnect != nil {
			s.OnDisconnect(l)
		}
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			s.log.WithError(err).WithField("link", l.String()).Debug("transport: read loop ending")
			return
		}
		frame, err := s.codec.Decode(raw)
		if err != nil {
			s.log.WithError(err).WithField("link", l.String()).Warn("transport: dropping malformed frame")
			continue
		}
		s.inbox <- Inbound{Link: l, Frame: frame}
	}
}

// Blocker adapts the Server's inbox into an eventloop.Blocker: it waits
// up to timeout for the next inbound frame, handing every frame that's
// already queued to handle before returning, so a burst of traffic is
// drained in one tick rather than one tick per message.
func (s *Server) Blocker(handle func(Inbound)) eventloop.Blocker {
	return func(timeout time.Duration) {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case in := <-s.inbox:
			handle(in)
		case <-timer.C:
			return
		}

		for {
			select {
			case in := <-s.inbox:
				handle(in)
			default:
				return
			}
		}
	}
}
