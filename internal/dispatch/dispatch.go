// Package dispatch implements the Dispatcher: the broker's single entry
// point for an incoming batch frame. It routes requests to the NodeTree
// or to a downstream responder, and fans responder responses back out to
// every subscriber on the owning hub, rewriting rids per subscriber.
//
// Grounded on original_source/broker/src/msg/msg_handler.c for the
// request/response routing shape (requests iterated for method dispatch,
// responses iterated by rid lookup), and on
// controller/api/destination/endpoint_stream_dispatcher.go for the Go
// idiom of a dispatcher object owning per-link registries and fanning a
// single upstream event out to many downstream views.
package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/dsabroker/broker/internal/hub"
	"github.com/dsabroker/broker/internal/link"
	"github.com/dsabroker/broker/internal/metrics"
	"github.com/dsabroker/broker/internal/node"
	"github.com/dsabroker/broker/internal/protoerr"
	"github.com/dsabroker/broker/internal/stream"
	"github.com/dsabroker/broker/internal/value"
	"github.com/dsabroker/broker/internal/wire"
)

// remoteKey identifies a hub by the responder link that owns the remote
// stream plus the remote rid the broker allocated on it.
type remoteKey struct {
	responder *link.Link
	remoteRID uint32
}

// Dispatcher owns the live stream tables (one per link), the hub registry
// keyed by (responder link, remote rid), and the shared NodeTree. It is
// only ever touched from the EventLoop's single thread, so — like the
// packages it composes — it carries no internal locking.
type Dispatcher struct {
	tree    *node.Tree
	log     *logrus.Entry
	metrics *metrics.Collectors

	streamsByLink map[*link.Link]*stream.Table
	hubs          map[remoteKey]*hub.Hub

	nextRemoteRID uint32
}

// New constructs a Dispatcher over tree, the shared node namespace.
func New(tree *node.Tree, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		tree:          tree,
		log:           log,
		streamsByLink: make(map[*link.Link]*stream.Table),
		hubs:          make(map[remoteKey]*hub.Hub),
	}
}

// SetMetrics attaches collectors so link connect/disconnect and invoke
// error paths update them inline, and Stats/RefreshGaugeMetrics have
// something to publish to. Left unset, a Dispatcher simply skips all
// metrics work — tests construct one with New alone.
func (d *Dispatcher) SetMetrics(collectors *metrics.Collectors) {
	d.metrics = collectors
}

// OnLinkConnected registers a freshly connected link's stream table.
func (d *Dispatcher) OnLinkConnected(l *link.Link) {
	d.streamsByLink[l] = stream.NewTable()
	if d.metrics != nil {
		d.metrics.LinksConnected.Inc()
	}
}

// OnLinkDisconnected cascades teardown: every stream the link owned is
// removed, hubs it subscribed to lose that subscriber (and are discarded
// once empty), and invoke streams it either originated or served are
// closed out.
func (d *Dispatcher) OnLinkDisconnected(l *link.Link) {
	l.MarkClosed()
	if _, tracked := d.streamsByLink[l]; tracked && d.metrics != nil {
		d.metrics.LinksConnected.Dec()
	}

	for key, h := range d.hubs {
		if key.responder != l {
			continue
		}
		for _, t := range h.Targets() {
			if reqTable := d.streamsByLink[t.Link]; reqTable != nil {
				reqTable.Remove(t.RID)
			}
			if !t.Link.Closed() {
				_ = t.Link.Send(&wire.Frame{Responses: []*wire.Response{
					{RID: t.RID, Stream: wire.StreamClosed},
				}})
			}
		}
		delete(d.hubs, key)
	}

	// Invoke streams this link originated live in their responder's
	// table, keyed by the remote rid; drop them there.
	for _, other := range d.streamsByLink {
		for _, rid := range other.Rids() {
			s, _ := other.Get(rid)
			if inv, isInvoke := s.(*stream.InvokeStream); isInvoke && inv.RequesterLink == l {
				other.Remove(rid)
			}
		}
	}

	table, ok := d.streamsByLink[l]
	if !ok {
		return
	}
	for _, rid := range table.Rids() {
		s, _ := table.Remove(rid)
		d.teardownStream(l, s)
	}
	delete(d.streamsByLink, l)
}

func (d *Dispatcher) teardownStream(owner *link.Link, s stream.Stream) {
	switch st := s.(type) {
	case *stream.ListStream:
		key := remoteKey{responder: st.Hub.ResponderLink(), remoteRID: st.Hub.RemoteRID}
		empty := st.Hub.UnsubscribeLink(owner)
		if empty {
			delete(d.hubs, key)
		}
	case *stream.InvokeStream:
		// owner here is always the responder whose table held this
		// entry (see JoinRemoteInvoke/forwardInvokeResponse — an
		// InvokeStream is only ever inserted into the responder's own
		// table, keyed by the broker-allocated remote rid), so losing
		// it means the requester's invocation can never complete.
		if reqTable := d.streamsByLink[st.RequesterLink]; reqTable != nil {
			reqTable.Remove(st.RequesterRID)
		}
		if st.RequesterLink != nil && !st.RequesterLink.Closed() {
			_ = st.RequesterLink.Send(&wire.Frame{Responses: []*wire.Response{
				{RID: st.RequesterRID, Stream: wire.StreamClosed},
			}})
		}
	}
}

// Handle is the Dispatcher's one public entry point: route every request
// and response carried by frame, produced by link.
func (d *Dispatcher) Handle(l *link.Link, frame *wire.Frame) {
	if frame == nil {
		d.log.Warn("dispatch: dropping nil frame")
		return
	}

	if l.IsRequester {
		for _, req := range frame.Requests {
			d.handleRequest(l, req)
		}
	}
	if l.IsResponder {
		for _, resp := range frame.Responses {
			d.handleResponse(l, resp)
		}
	}
}

func (d *Dispatcher) handleRequest(l *link.Link, req *wire.Request) {
	if req == nil || req.Method == "" {
		return
	}
	switch req.Method {
	case wire.MethodList:
		d.handleList(l, req)
	case wire.MethodInvoke:
		d.handleInvoke(l, req)
	default:
		d.log.WithFields(logrus.Fields{"method": req.Method, "link": l.String()}).
			Warn("dispatch: unhandled method")
	}
}

func (d *Dispatcher) handleResponse(l *link.Link, resp *wire.Response) {
	if resp == nil {
		return
	}
	table := d.streamsByLink[l]
	if table == nil {
		return
	}
	// List responses route through the hub registry: JoinRemoteList only
	// records the requester-side ListStream, keyed by the requester's rid.
	if h, ok := d.hubs[remoteKey{responder: l, remoteRID: resp.RID}]; ok {
		d.applyListResponse(l, table, resp, h)
		return
	}
	s, ok := table.Get(resp.RID)
	if !ok {
		return
	}

	switch st := s.(type) {
	case *stream.ListStream:
		d.applyListResponse(l, table, resp, st.Hub)
	case *stream.InvokeStream:
		d.forwardInvokeResponse(l, table, resp, st)
	}
}

func (d *Dispatcher) applyListResponse(responder *link.Link, table *stream.Table, resp *wire.Response, h *hub.Hub) {
	targets := h.Apply(resp)
	for _, t := range targets {
		if t.Link.Closed() {
			continue
		}
		out := resp.Clone()
		out.RID = t.RID
		_ = t.Link.Send(&wire.Frame{Responses: []*wire.Response{out}})
	}

	if resp.Stream == wire.StreamClosed {
		key := remoteKey{responder: responder, remoteRID: resp.RID}
		table.Remove(resp.RID)
		delete(d.hubs, key)
	}
}

func (d *Dispatcher) forwardInvokeResponse(responder *link.Link, table *stream.Table, resp *wire.Response, st *stream.InvokeStream) {
	if st.RequesterLink.Closed() {
		table.Remove(resp.RID)
		return
	}
	out := resp.Clone()
	out.RID = st.RequesterRID
	_ = st.RequesterLink.Send(&wire.Frame{Responses: []*wire.Response{out}})

	if resp.Stream == wire.StreamClosed {
		table.Remove(resp.RID)
		if reqTable := d.streamsByLink[st.RequesterLink]; reqTable != nil {
			reqTable.Remove(st.RequesterRID)
		}
	}
}

// handleList resolves req.Path. A locally served node answers immediately
// from its children; a path with no matching node gets a closed
// notConnected error. This core has no routing table telling the broker
// which link answers which path: joining a responder-served list stream
// goes through JoinRemoteList, called by a routing layer outside this
// core once it has picked the responder.
func (d *Dispatcher) handleList(l *link.Link, req *wire.Request) {
	if n, ok := d.tree.Resolve(req.Path); ok {
		resp := &wire.Response{
			RID:     req.RID,
			Stream:  wire.StreamOpen,
			Updates: n.ListUpdates(),
		}
		_ = l.Send(&wire.Frame{Responses: []*wire.Response{resp}})
		return
	}

	d.log.WithFields(logrus.Fields{"path": req.Path, "rid": req.RID}).
		Debug("dispatch: list on unresolved path, no responder registry wired")
	errResp := closedError(req.RID, protoerr.New(protoerr.NotConnected, "no responder for path"))
	_ = l.Send(&wire.Frame{Responses: []*wire.Response{errResp}})
}

// JoinRemoteList is called by a responder-routing layer above this core
// once it has decided which responder link serves path, allocating (or
// reusing) the hub for (responder, remoteRID) and registering requester
// as a subscriber. It exists as a separate entry point because responder
// selection is out of this core's scope (see spec's "responder that owns
// a path" language, resolved by an external routing table in a full
// broker).
func (d *Dispatcher) JoinRemoteList(responder *link.Link, remoteRID uint32, path string, requester *link.Link, requesterRID uint32) {
	key := remoteKey{responder: responder, remoteRID: remoteRID}
	h, ok := d.hubs[key]
	if !ok {
		h = hub.New(path, remoteRID, responder)
		d.hubs[key] = h
	}

	requesterTable := d.streamsByLink[requester]
	if requesterTable == nil {
		requesterTable = stream.NewTable()
		d.streamsByLink[requester] = requesterTable
	}
	_ = requesterTable.Insert(requesterRID, &stream.ListStream{Path: path, Hub: h})

	if bootstrap := h.Subscribe(requester, requesterRID); bootstrap != nil {
		_ = requester.Send(&wire.Frame{Responses: []*wire.Response{bootstrap}})
	}
}

// JoinRemoteInvoke is called by a responder-routing layer above this
// core once it has decided which responder link serves path: it
// forwards req to responder on a freshly allocated remote rid and
// registers an InvokeStream in the responder's own table so the eventual
// response routes back to requester. Mirrors JoinRemoteList's role for
// the invoke method (see handleList's note on why responder selection
// lives outside this core).
func (d *Dispatcher) JoinRemoteInvoke(responder *link.Link, remoteRID uint32, req *wire.Request, requester *link.Link, requesterRID uint32) {
	responderTable := d.streamsByLink[responder]
	if responderTable == nil {
		responderTable = stream.NewTable()
		d.streamsByLink[responder] = responderTable
	}
	_ = responderTable.Insert(remoteRID, &stream.InvokeStream{
		RemoteRID:     remoteRID,
		RequesterLink: requester,
		RequesterRID:  requesterRID,
		Open:          true,
	})

	fwd := *req
	fwd.RID = remoteRID
	_ = responder.Send(&wire.Frame{Requests: []*wire.Request{&fwd}})
}

// handleInvoke validates $invokable permissions on the resolved node and
// either runs its callback synchronously or, for an unresolved path,
// reports notConnected — forwarding to a downstream responder happens
// via JoinRemoteInvoke once an external routing layer has picked the
// responder (see handleList's note on responder routing).
func (d *Dispatcher) handleInvoke(l *link.Link, req *wire.Request) {
	n, ok := d.tree.Resolve(req.Path)
	if !ok {
		d.countInvokeError(protoerr.NotConnected)
		_ = l.Send(&wire.Frame{Responses: []*wire.Response{
			closedError(req.RID, protoerr.New(protoerr.NotConnected, "no responder for path")),
		}})
		return
	}

	if n.Invokable() == node.InvokeNever {
		d.countInvokeError(protoerr.PermissionDenied)
		_ = l.Send(&wire.Frame{Responses: []*wire.Response{
			closedError(req.RID, protoerr.New(protoerr.PermissionDenied, "path is not invokable")),
		}})
		return
	}

	if n.Invoke == nil {
		d.countInvokeError(protoerr.PermissionDenied)
		_ = l.Send(&wire.Frame{Responses: []*wire.Response{
			closedError(req.RID, protoerr.New(protoerr.PermissionDenied, "path has no invoke handler")),
		}})
		return
	}

	resp, err := n.Invoke(l, n, node.InvokeRequest{RID: req.RID, Params: value.Of(req.Params)})
	if err != nil {
		perr, ok := err.(*protoerr.Error)
		if !ok {
			perr = protoerr.New(protoerr.InvalidParameter, err.Error())
		}
		d.countInvokeError(perr.Kind)
		_ = l.Send(&wire.Frame{Responses: []*wire.Response{closedError(req.RID, perr)}})
		return
	}
	if resp == nil {
		resp = &wire.Response{Stream: wire.StreamClosed}
	}
	resp.RID = req.RID
	_ = l.Send(&wire.Frame{Responses: []*wire.Response{resp}})
}

func (d *Dispatcher) countInvokeError(kind protoerr.Kind) {
	if d.metrics != nil {
		d.metrics.InvokeErrors.WithLabelValues(string(kind)).Inc()
	}
}

// AllocateRemoteRID hands out the next broker-side rid to use when
// forwarding a request to a downstream responder.
func (d *Dispatcher) AllocateRemoteRID() uint32 {
	d.nextRemoteRID++
	return d.nextRemoteRID
}

// Stats is a point-in-time census of the gauge-worthy state this core
// holds: local list streams across every link's table, in-flight invoke
// streams, and cached child-descriptor entries summed across every hub.
type Stats struct {
	ListStreams     int
	InvokeStreams   int
	HubCacheEntries int
}

// Stats walks every live table and hub to compute a fresh snapshot. It
// is a full scan rather than a maintained counter, since the broker's
// hubs and tables already change through enough call sites (teardown,
// unsubscribe, response fanout) that a running tally would drift; the
// scan is cheap relative to the few-second cadence RefreshGaugeMetrics
// is meant to run at.
func (d *Dispatcher) Stats() Stats {
	var s Stats
	for _, table := range d.streamsByLink {
		table.Iter(func(_ uint32, st stream.Stream) {
			switch st.Kind() {
			case stream.ListKind:
				s.ListStreams++
			case stream.InvokeKind:
				s.InvokeStreams++
			}
		})
	}
	for _, h := range d.hubs {
		s.HubCacheEntries += h.CacheLen()
	}
	return s
}

// RefreshGaugeMetrics recomputes Stats and publishes it to the attached
// Collectors' gauges. No-op if SetMetrics was never called. Meant to be
// invoked periodically from a scheduled eventloop task rather than from
// any single mutation site, since these three gauges are a census, not
// an event count.
func (d *Dispatcher) RefreshGaugeMetrics() {
	if d.metrics == nil {
		return
	}
	s := d.Stats()
	d.metrics.ListStreamsOpen.Set(float64(s.ListStreams))
	d.metrics.InvokeStreamsOpen.Set(float64(s.InvokeStreams))
	d.metrics.HubCacheEntries.Set(float64(s.HubCacheEntries))
}

func closedError(rid uint32, err *protoerr.Error) *wire.Response {
	return &wire.Response{
		RID:    rid,
		Stream: wire.StreamClosed,
		Error:  err.Object(),
	}
}
