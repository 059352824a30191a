// Package adminapi exposes a small read-only introspection surface over
// the broker's node tree, routed with httprouter. Grounded on
// cni-plugin/proxyscheduler/server/server.go's router-registration shape
// (httprouter.New(), one handler per verb+path, a shared error-handling
// wrapper), adapted from a mutating proxy-scheduler API to a read-only
// debug API.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/dsabroker/broker/internal/node"
)

// Server serves introspection endpoints over tree. It must only be
// queried from goroutines other than the EventLoop thread — handlers
// here are safe for concurrent use only insofar as they never mutate
// tree, but Tree.Resolve and Node reads are not synchronized against the
// EventLoop's own tree mutations (internal/node carries no locking).
// In production this should run a read-only snapshot or be rate-limited
// to debugging use, noted here rather than solved, since the spec scopes
// concurrency to a single thread and this endpoint is a deliberate,
// best-effort exception for operators.
type Server struct {
	tree   *node.Tree
	log    *logrus.Entry
	router *httprouter.Router
}

// New constructs a Server over tree.
func New(tree *node.Tree, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{tree: tree, log: log, router: httprouter.New()}
	s.router.GET("/nodes/*path", s.getNode)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// nodeView is the JSON shape returned for one node.
type nodeView struct {
	Name     string                 `json:"name"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
	Value    interface{}            `json:"value,omitempty"`
	Children []string               `json:"children,omitempty"`
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	path := params.ByName("path")
	if path == "" {
		path = "/"
	}
	n, ok := s.tree.Resolve(path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	view := nodeView{Name: n.Name, Meta: map[string]interface{}{}, Value: n.Value.Interface()}
	for _, child := range n.Children() {
		view.Children = append(view.Children, child.Name)
	}
	for _, key := range []string{"$invokable", "$writable", "$type"} {
		if v, ok := n.Meta(key); ok {
			view.Meta[key] = v.Interface()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(view); err != nil {
		s.log.WithError(err).Warn("adminapi: encode failed")
	}
}
