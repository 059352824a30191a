// Package hub implements ListStreamHub: the broker's multiplexer that
// joins one remote list-stream (broker <-> responder) to many local list
// streams (broker <-> requester), caching incremental updates so a newly
// joining requester can be bootstrapped without a round trip to the
// responder.
//
// The shape (an object owning a cache plus a set of interested parties,
// with subscribe bootstrapping from the cache) is grounded on
// controller/api/destination's endpoint_topic.go (Subscribe/Latest) and
// endpoint_stream_dispatcher.go (the dispatcher owning per-subscriber
// views), adapted from a pull-based snapshot topic to the broker's
// push/cache-replay model.
package hub

import (
	"github.com/dsabroker/broker/internal/link"
	"github.com/dsabroker/broker/internal/value"
	"github.com/dsabroker/broker/internal/wire"
)

// Hub is not safe for concurrent use: like the rest of the dispatcher
// core, it is only ever touched from the single thread that owns the
// EventLoop (see internal/eventloop), so no internal locking is needed.

// subscriber is a (requester link, requester rid) pair. Identity within a
// hub is the requester rid; the link reference is not lifetime-owning —
// Dispatcher.OnLinkDisconnected must unsubscribe before the Link is
// discarded.
type subscriber struct {
	link *link.Link
	rid  uint32
}

// entry is one cached child descriptor, retaining the order it was first
// observed so bootstrap replay matches original arrival order.
type entry struct {
	name  string
	value value.Value
}

// Hub is the per-remote-stream multiplexer.
type Hub struct {
	Path      string
	RemoteRID uint32

	responder   *link.Link
	order       []string
	cache       map[string]entry
	subscribers map[uint32]subscriber
}

// New constructs a Hub for a freshly created remote list-stream owned by
// responder.
func New(path string, remoteRID uint32, responder *link.Link) *Hub {
	return &Hub{
		Path:        path,
		RemoteRID:   remoteRID,
		responder:   responder,
		cache:       make(map[string]entry),
		subscribers: make(map[uint32]subscriber),
	}
}

// ResponderLink returns the responder link this hub's remote stream runs
// on, used by the dispatcher to key its hub registry.
func (h *Hub) ResponderLink() *link.Link {
	return h.responder
}

// Subscribe registers requesterLink/requesterRID as interested in this
// hub. If the cache is non-empty, it returns a bootstrap response built
// from the cache's current iteration order; the caller is responsible for
// sending it. Subscribing twice with the same rid replaces the prior
// subscriber entry (idempotent on the subscriber set).
func (h *Hub) Subscribe(requesterLink *link.Link, requesterRID uint32) *wire.Response {
	h.subscribers[requesterRID] = subscriber{link: requesterLink, rid: requesterRID}

	if len(h.order) == 0 {
		return nil
	}

	updates := make([]interface{}, 0, len(h.order))
	for _, name := range h.order {
		e := h.cache[name]
		updates = append(updates, []interface{}{e.name, e.value.Interface()})
	}
	return &wire.Response{
		RID:     requesterRID,
		Stream:  wire.StreamOpen,
		Updates: updates,
	}
}

// Unsubscribe removes requesterRID from the subscriber set. It reports
// whether the hub is now empty, signaling the caller to close the remote
// stream and discard the hub.
func (h *Hub) Unsubscribe(requesterRID uint32) (empty bool) {
	delete(h.subscribers, requesterRID)
	return len(h.subscribers) == 0
}

// UnsubscribeLink removes every subscriber entry bound to requesterLink,
// used when a link disconnects and its rid is not separately known. It
// reports whether the hub is now empty.
func (h *Hub) UnsubscribeLink(requesterLink *link.Link) (empty bool) {
	for rid, s := range h.subscribers {
		if s.link == requesterLink {
			delete(h.subscribers, rid)
		}
	}
	return len(h.subscribers) == 0
}

// SubscriberCount reports the current subscriber set size.
func (h *Hub) SubscriberCount() int {
	return len(h.subscribers)
}

// Targets returns every current subscriber as a fanout Target, for
// callers that need to notify the whole subscriber set out-of-band (for
// example, the responder owning this hub's remote stream disconnecting).
func (h *Hub) Targets() []Target {
	targets := make([]Target, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		targets = append(targets, Target{Link: s.link, RID: s.rid})
	}
	return targets
}

// Apply mutates the cache per the update rules and returns the set of
// (link, rid) fanout targets. Apply itself never mutates the argument
// response, so the caller can copy it and rewrite the rid per subscriber.
//
// Update forms:
//   - two-element array [name, value] with string name: cache[name] = value
//   - object {name, change:"remove"}: delete cache[name]
//   - any other object form: left out of the cache (see design note on
//     the "list value update, almost never used" case), but still
//     forwarded to subscribers unchanged.
func (h *Hub) Apply(resp *wire.Response) []Target {
	for _, raw := range resp.Updates {
		switch u := raw.(type) {
		case []interface{}:
			if len(u) >= 2 {
				if name, ok := u[0].(string); ok {
					h.setCache(name, value.Of(u[1]))
				}
			}
		case map[string]interface{}:
			name, nameOK := u["name"].(string)
			change, _ := u["change"].(string)
			if nameOK && change == "remove" {
				h.deleteCache(name)
			}
			// Any other object form (a "list value update") is accepted
			// but intentionally not reflected in the cache.
		}
	}

	targets := make([]Target, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		targets = append(targets, Target{Link: s.link, RID: s.rid})
	}
	return targets
}

func (h *Hub) setCache(name string, v value.Value) {
	if _, exists := h.cache[name]; !exists {
		h.order = append(h.order, name)
	}
	h.cache[name] = entry{name: name, value: v}
}

func (h *Hub) deleteCache(name string) {
	if _, exists := h.cache[name]; !exists {
		return
	}
	delete(h.cache, name)
	for i, n := range h.order {
		if n == name {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// CacheKeys returns the current cache key set in iteration order, for
// tests and metrics.
func (h *Hub) CacheKeys() []string {
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// CacheLen reports the number of cached entries.
func (h *Hub) CacheLen() int {
	return len(h.cache)
}

// Target is one fanout destination produced by Apply.
type Target struct {
	Link *link.Link
	RID  uint32
}
