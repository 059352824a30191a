// Package upstream implements UpstreamRegistry: the /sys/upstream
// subtree, its add_connection action, JSON-file persistence, and startup
// reload. Grounded on original_source/broker/src/upstream/
// upstream_sys_node.c, including its permissive "enabled" truth table
// (json_is_false: only a JSON false literal counts as false; anything
// else, including absence, is true) and its writable leaf property
// nodes.
package upstream

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/imdario/mergo"
	"github.com/sirupsen/logrus"

	"github.com/dsabroker/broker/internal/link"
	"github.com/dsabroker/broker/internal/node"
	"github.com/dsabroker/broker/internal/protoerr"
	"github.com/dsabroker/broker/internal/value"
	"github.com/dsabroker/broker/internal/wire"
)

// Config is one declared upstream broker connection.
type Config struct {
	Name       string `json:"name"`
	BrokerName string `json:"brokerName"`
	URL        string `json:"url"`
	Token      string `json:"token"`
	Enabled    bool   `json:"enabled"`
}

// defaults is merged onto a freshly decoded Config so a persisted file
// written before a field existed (forward-compatibility: "no schema
// version field") still resolves to sane values instead of Go zero
// values once new optional fields are added.
var defaults = Config{Enabled: true}

// Registry manages the /sys/upstream subtree: add_connection, per-
// upstream subtrees with a delete action, and the backing JSON files
// under dir.
type Registry struct {
	root *node.Node
	tree *node.Tree
	dir  string
	log  *logrus.Entry
}

// New builds the /sys/upstream subtree under tree's root (creating /sys
// if absent) and returns the Registry. It does not yet load dir; call
// LoadAll for that.
func New(tree *node.Tree, dir string, log *logrus.Entry) (*Registry, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	sys, err := ensureChild(tree.Root(), "sys")
	if err != nil {
		return nil, err
	}
	root, err := ensureChild(sys, "upstream")
	if err != nil {
		return nil, err
	}
	tree.Invalidate()

	r := &Registry{root: root, tree: tree, dir: dir, log: log}

	action := node.New("add_connection")
	action.SetMeta("$invokable", node.InvokeWrite)
	action.SetMeta("$params", []interface{}{
		map[string]interface{}{"name": "name", "type": "string"},
		map[string]interface{}{"name": "url", "type": "string"},
		map[string]interface{}{"name": "brokerName", "type": "string"},
		map[string]interface{}{"name": "token", "type": "string"},
	})
	action.Invoke = r.invokeAddConnection
	if err := root.AddChild(action); err != nil {
		return nil, err
	}
	return r, nil
}

func ensureChild(parent *node.Node, name string) (*node.Node, error) {
	if existing, ok := parent.Child(name); ok {
		return existing, nil
	}
	child := node.New(name)
	if err := parent.AddChild(child); err != nil {
		return nil, err
	}
	return child, nil
}

// LoadAll replays every JSON file under r.dir through the same
// construction logic add_connection uses, without re-persisting — the
// files themselves are the source of truth.
func (r *Registry) LoadAll() error {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("upstream: reading %s: %w", r.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			r.log.WithError(err).WithField("file", path).Warn("upstream: skipping unreadable file")
			continue
		}
		var staged struct {
			Name       string `json:"name"`
			BrokerName string `json:"brokerName"`
			URL        string `json:"url"`
			Token      string `json:"token"`
			Enabled    *bool  `json:"enabled"`
		}
		if err := json.Unmarshal(raw, &staged); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("upstream: skipping malformed file")
			continue
		}
		cfg := Config{Name: staged.Name, BrokerName: staged.BrokerName, URL: staged.URL, Token: staged.Token}
		if err := mergo.Merge(&cfg, defaults); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("upstream: defaulting failed")
			continue
		}
		// Enabled is resolved separately: staged.Enabled is nil only
		// when the persisted file predates the field or omitted it
		// outright, in which case it defaults true per json_is_false.
		if staged.Enabled != nil {
			cfg.Enabled = *staged.Enabled
		} else {
			cfg.Enabled = true
		}
		if _, err := r.construct(cfg, false); err != nil {
			r.log.WithError(err).WithField("file", path).Warn("upstream: skipping reload failure")
		}
	}
	return nil
}

// invokeAddConnection is the add_connection node's InvokeFunc.
func (r *Registry) invokeAddConnection(l *link.Link, n *node.Node, req node.InvokeRequest) (*wire.Response, error) {
	params, _ := req.Params.AsObject()

	name, nameOK := stringField(params, "name")
	brokerName, brokerOK := stringField(params, "brokerName")
	urlStr, urlOK := stringField(params, "url")
	if !nameOK || !brokerOK || !urlOK {
		return nil, protoerr.New(protoerr.InvalidParameter, "name, brokerName, and url are required strings")
	}
	if _, err := url.Parse(urlStr); err != nil {
		return nil, protoerr.New(protoerr.InvalidParameter, "url is not a valid URI")
	}
	if r.root.HasChild(name) {
		return nil, protoerr.New(protoerr.AlreadyExists, fmt.Sprintf("upstream %q already exists", name))
	}

	token, _ := stringField(params, "token")
	cfg := Config{Name: name, BrokerName: brokerName, URL: urlStr, Token: token}
	if enabled, ok := params["enabled"]; ok {
		cfg.Enabled = !enabled.Equal(value.Of(false))
	} else {
		cfg.Enabled = true
	}

	if _, err := r.construct(cfg, true); err != nil {
		return nil, err
	}
	return &wire.Response{Stream: wire.StreamClosed}, nil
}

func stringField(obj map[string]value.Value, key string) (string, bool) {
	v, ok := obj[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// construct builds the leaf-node subtree for cfg under r.root and, if
// persist is true, writes it to disk. This is the single code path
// invoke and LoadAll both funnel through, matching invariant 5 (only
// user-initiated creation is persisted).
func (r *Registry) construct(cfg Config, persist bool) (*node.Node, error) {
	sub := node.New(cfg.Name)
	r.addProperty(sub, "name", cfg.Name, true)
	r.addProperty(sub, "brokerName", cfg.BrokerName, true)
	r.addProperty(sub, "url", cfg.URL, true)
	r.addProperty(sub, "token", cfg.Token, true)
	r.addProperty(sub, "enabled", cfg.Enabled, true)

	del := node.New("delete")
	del.SetMeta("$invokable", node.InvokeWrite)
	del.Invoke = func(l *link.Link, n *node.Node, req node.InvokeRequest) (*wire.Response, error) {
		return r.invokeDelete(cfg.Name)
	}
	if err := sub.AddChild(del); err != nil {
		return nil, err
	}

	if err := r.root.AddChild(sub); err != nil {
		return nil, err
	}
	r.tree.Invalidate()

	if persist {
		if err := r.persist(cfg); err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// addProperty adds a value leaf node. writable leaf property nodes are
// what the original upstream_sys_node.c exposes (though edits to a live
// upstream's brokerName/url/token do not propagate to the connection —
// see SPEC_FULL.md's resolution of that open question).
func (r *Registry) addProperty(parent *node.Node, name string, val interface{}, writable bool) {
	leaf := node.New(name)
	leaf.Value = value.Of(val)
	if writable {
		leaf.SetMeta("$writable", node.InvokeWrite)
	}
	_ = parent.AddChild(leaf)
}

// invokeDelete is the per-upstream delete action's InvokeFunc: detach the
// subtree, remove the persisted file, and reply closed.
func (r *Registry) invokeDelete(name string) (*wire.Response, error) {
	if _, ok := r.root.RemoveChild(name); !ok {
		return nil, protoerr.New(protoerr.InvalidParameter, fmt.Sprintf("no such upstream %q", name))
	}
	r.tree.Invalidate()
	path := r.filePath(name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.log.WithError(err).WithField("file", path).Warn("upstream: delete could not unlink persisted file")
	}
	return &wire.Response{Stream: wire.StreamClosed}, nil
}

func (r *Registry) persist(cfg Config) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("upstream: creating %s: %w", r.dir, err)
	}
	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("upstream: encoding %s: %w", cfg.Name, err)
	}
	path := r.filePath(cfg.Name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("upstream: writing %s: %w", path, err)
	}
	return nil
}

func (r *Registry) filePath(name string) string {
	return filepath.Join(r.dir, url.QueryEscape(name))
}
