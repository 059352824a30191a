// Package node implements the subset of the DSA node tree the dispatcher
// needs: path resolution, $-prefixed metadata, ordered children, and
// invoke callback dispatch. Grounded on the node shape implied by
// original_source/sdk/include/dslink/dslink.h's DSNode and
// original_source/broker/src/upstream/upstream_sys_node.c's use of it
// (children map, meta object, on_invoke callback).
package node

import (
	"fmt"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/dsabroker/broker/internal/link"
	"github.com/dsabroker/broker/internal/value"
	"github.com/dsabroker/broker/internal/wire"
)

// Invokable levels, the closed set $invokable/$writable may take.
const (
	InvokeNever  = "never"
	InvokeConfig = "config"
	InvokeRead   = "read"
	InvokeWrite  = "write"
)

// InvokeRequest is what an invoke callback receives beyond the link and
// node: the request rid and its params object.
type InvokeRequest struct {
	RID    uint32
	Params value.Value
}

// InvokeFunc is the callback shape a node registers for $invokable
// actions. link may be nil when the call does not come from a connected
// requester.
type InvokeFunc func(l *link.Link, n *Node, req InvokeRequest) (*wire.Response, error)

// Node is one entry of the tree: name, parent back-reference, ordered
// children, metadata, value, and an optional invoke callback.
type Node struct {
	Name     string
	Parent   *Node
	Value    value.Value
	children map[string]*Node
	order    []string
	meta     map[string]value.Value
	Invoke   InvokeFunc
}

// New constructs a detached node named name.
func New(name string) *Node {
	return &Node{
		Name:     name,
		children: make(map[string]*Node),
		meta:     make(map[string]value.Value),
	}
}

// SetMeta sets a metadata key (by convention, "$"-prefixed) to v.
func (n *Node) SetMeta(key string, v interface{}) {
	n.meta[key] = value.Of(v)
}

// Meta returns the metadata value for key, if present.
func (n *Node) Meta(key string) (value.Value, bool) {
	v, ok := n.meta[key]
	return v, ok
}

// Invokable reports the node's $invokable permission level, defaulting
// to InvokeNever when absent, matching spec.md's closed enum.
func (n *Node) Invokable() string {
	v, ok := n.Meta("$invokable")
	if !ok {
		return InvokeNever
	}
	s, ok := v.AsString()
	if !ok {
		return InvokeNever
	}
	return s
}

// AddChild attaches child under n, failing if a child with that name
// already exists. Children preserve insertion order for enumeration.
func (n *Node) AddChild(child *Node) error {
	if _, exists := n.children[child.Name]; exists {
		return fmt.Errorf("node %s: child %q already exists", n.Name, child.Name)
	}
	child.Parent = n
	n.children[child.Name] = child
	n.order = append(n.order, child.Name)
	return nil
}

// RemoveChild detaches and returns the named child, or (nil, false).
func (n *Node) RemoveChild(name string) (*Node, bool) {
	child, ok := n.children[name]
	if !ok {
		return nil, false
	}
	delete(n.children, name)
	for i, nm := range n.order {
		if nm == name {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	child.Parent = nil
	return child, true
}

// Child looks up a direct child by name.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[name]
	return c, ok
}

// HasChild reports whether a child named name exists.
func (n *Node) HasChild(name string) bool {
	_, ok := n.children[name]
	return ok
}

// Children returns direct children in insertion order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.children[name])
	}
	return out
}

// ListUpdates renders the node's children as a "list" response's updates
// array: one [name, descriptor] pair per child plus the node's own
// metadata entries, matching the synthetic list response shape
// spec.md's list handler emits for locally served paths.
func (n *Node) ListUpdates() []interface{} {
	updates := make([]interface{}, 0, len(n.order)+len(n.meta))
	for k, v := range n.meta {
		updates = append(updates, []interface{}{k, v.Interface()})
	}
	for _, name := range n.order {
		child := n.children[name]
		updates = append(updates, []interface{}{name, child.descriptor()})
	}
	return updates
}

func (n *Node) descriptor() map[string]interface{} {
	d := map[string]interface{}{}
	for k, v := range n.meta {
		d[k] = v.Interface()
	}
	return d
}

// Tree owns the root node and a short-lived resolution cache so repeated
// list/invoke requests against a hot path skip the walk. The cache is a
// pure accelerator: Node.AddChild/RemoveChild do not touch it, so callers
// that change the tree shape flush it with Invalidate.
type Tree struct {
	root  *Node
	cache *cache.Cache
}

// NewTree constructs a Tree rooted at an empty "/" node.
func NewTree() *Tree {
	root := New("")
	return &Tree{
		root:  root,
		cache: cache.New(2*time.Second, 4*time.Second),
	}
}

func (t *Tree) Root() *Node { return t.root }

// cacheMiss marks a cached negative lookup. It must be a distinct type
// from *Node: caching a miss as a typed-nil *Node would make the type
// assertion in Resolve succeed trivially (a nil *Node stored in an
// interface is still concretely typed *Node), turning every cached miss
// into a "found" nil-pointer result for the remainder of the TTL.
type cacheMiss struct{}

var theCacheMiss = cacheMiss{}

// Resolve walks path ("/a/b/c") from the root, consulting and populating
// the resolution cache along the way.
func (t *Tree) Resolve(path string) (*Node, bool) {
	if path == "" || path == "/" {
		return t.root, true
	}
	if cached, found := t.cache.Get(path); found {
		if _, miss := cached.(cacheMiss); miss {
			return nil, false
		}
		return cached.(*Node), true
	}

	cur := t.root
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		next, ok := cur.Child(part)
		if !ok {
			t.cache.SetDefault(path, theCacheMiss)
			return nil, false
		}
		cur = next
	}
	t.cache.SetDefault(path, cur)
	return cur, true
}

// Invalidate flushes the resolution cache. Called whenever the tree
// shape changes (any AddChild/RemoveChild reachable from the root),
// since a cached miss or hit could otherwise outlive the mutation.
func (t *Tree) Invalidate() {
	t.cache.Flush()
}
