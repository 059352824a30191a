package upstream

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dsabroker/broker/internal/node"
	"github.com/dsabroker/broker/internal/value"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	tree := node.NewTree()
	reg, err := New(tree, dir, nil)
	require.NoError(t, err)
	return reg, dir
}

func invokeAdd(t *testing.T, reg *Registry, params map[string]interface{}) (*node.Node, error) {
	t.Helper()
	req := node.InvokeRequest{Params: value.Of(params)}
	action, ok := reg.root.Child("add_connection")
	require.True(t, ok)
	_, err := action.Invoke(nil, action, req)
	if err != nil {
		return nil, err
	}
	n, _ := reg.root.Child(params["name"].(string))
	return n, nil
}

// TestInvokeRoundTrip mirrors spec.md scenario 4: a successful
// add_connection invoke builds the five-property subtree plus a delete
// action, and persists the file.
func TestInvokeRoundTrip(t *testing.T) {
	reg, dir := newTestRegistry(t)

	sub, err := invokeAdd(t, reg, map[string]interface{}{
		"name":       "u1",
		"url":        "http://x",
		"brokerName": "b",
	})
	require.NoError(t, err)
	require.NotNil(t, sub)

	for _, name := range []string{"name", "brokerName", "url", "token", "enabled", "delete"} {
		assert.True(t, sub.HasChild(name), "missing child %q", name)
	}
	enabledChild, _ := sub.Child("enabled")
	assert.Equal(t, true, enabledChild.Value.Interface())

	raw, err := os.ReadFile(filepath.Join(dir, "u1"))
	require.NoError(t, err)
	var onDisk Config
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, "u1", onDisk.Name)
	assert.Equal(t, "b", onDisk.BrokerName)
	assert.Equal(t, "http://x", onDisk.URL)
	assert.True(t, onDisk.Enabled)
}

// TestDuplicateUpstreamRejected mirrors spec.md scenario 5.
func TestDuplicateUpstreamRejected(t *testing.T) {
	reg, dir := newTestRegistry(t)

	_, err := invokeAdd(t, reg, map[string]interface{}{"name": "u1", "url": "http://x", "brokerName": "b"})
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(dir, "u1"))
	require.NoError(t, err)

	_, err = invokeAdd(t, reg, map[string]interface{}{"name": "u1", "url": "http://y", "brokerName": "c"})
	require.Error(t, err)

	after, err := os.ReadFile(filepath.Join(dir, "u1"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "the rejected duplicate must not overwrite the persisted file")
}

func TestInvokeMissingRequiredFieldsRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := invokeAdd(t, reg, map[string]interface{}{"name": "u1"})
	assert.Error(t, err)
	_, ok := reg.root.Child("u1")
	assert.False(t, ok)
}

func TestEnabledDefaultsTrueUnlessExplicitFalse(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sub, err := invokeAdd(t, reg, map[string]interface{}{
		"name": "u1", "url": "http://x", "brokerName": "b", "enabled": false,
	})
	require.NoError(t, err)
	enabledChild, _ := sub.Child("enabled")
	assert.Equal(t, false, enabledChild.Value.Interface())

	sub2, err := invokeAdd(t, reg, map[string]interface{}{
		"name": "u2", "url": "http://x", "brokerName": "b",
	})
	require.NoError(t, err)
	enabledChild2, _ := sub2.Child("enabled")
	assert.Equal(t, true, enabledChild2.Value.Interface())
}

func TestDeleteUnlinksFileAndDetachesSubtree(t *testing.T) {
	reg, dir := newTestRegistry(t)
	_, err := invokeAdd(t, reg, map[string]interface{}{"name": "u1", "url": "http://x", "brokerName": "b"})
	require.NoError(t, err)

	sub, ok := reg.root.Child("u1")
	require.True(t, ok)
	del, ok := sub.Child("delete")
	require.True(t, ok)

	_, err = del.Invoke(nil, del, node.InvokeRequest{})
	require.NoError(t, err)

	_, ok = reg.root.Child("u1")
	assert.False(t, ok)
	_, statErr := os.Stat(filepath.Join(dir, "u1"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestLoadAllReplaysWithoutRepersisting mirrors invariant 5: startup
// reload must not rewrite the files it loads.
func TestLoadAllReplaysWithoutRepersisting(t *testing.T) {
	dir := t.TempDir()
	body, err := json.Marshal(Config{Name: "u1", BrokerName: "b", URL: "http://x", Enabled: true})
	require.NoError(t, err)
	path := filepath.Join(dir, "u1")
	require.NoError(t, os.WriteFile(path, body, 0o644))
	before, err := os.Stat(path)
	require.NoError(t, err)

	tree := node.NewTree()
	reg, err := New(tree, dir, nil)
	require.NoError(t, err)
	require.NoError(t, reg.LoadAll())

	_, ok := reg.root.Child("u1")
	assert.True(t, ok)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "LoadAll must not rewrite the file it replayed")
}

func TestLoadAllSkipsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"), []byte("not json"), 0o644))

	tree := node.NewTree()
	reg, err := New(tree, dir, nil)
	require.NoError(t, err)
	assert.NoError(t, reg.LoadAll())
	assert.Equal(t, 1, len(reg.root.Children()), "only the add_connection action should remain")
}
