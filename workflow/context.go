package workflow

import (
	"maps"
	"strings"
)

// Context is the per-instance data plane: a flat mapping from string key to
// any JSON-shaped value, shared by every task in one workflow instance.
//
// Context is the sole mechanism by which tasks communicate (spec §4.5).
// Operator authors follow three conventions the engine does not enforce:
// namespaced outputs ("{task_id}_something"), shallow untyped merge, and
// dotted reads for nested values. Keys prefixed with "_" are engine-internal
// and are stripped before being copied into a hook-created child instance.
type Context struct {
	data map[string]any
}

// NewContext creates an empty Context, optionally seeded with initial values.
func NewContext(initial map[string]any) Context {
	c := Context{data: make(map[string]any, len(initial))}
	maps.Copy(c.data, initial)
	return c
}

// Clone returns an independent shallow copy of the Context.
func (c Context) Clone() Context {
	return Context{data: maps.Clone(c.data)}
}

// Raw returns the underlying map. Callers must not retain it past the
// Context's lifetime without cloning; the engine treats it as read-only
// except through Merge/Set.
func (c Context) Raw() map[string]any {
	return c.data
}

// Get reads a top-level key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// Set returns a new Context with key written, leaving the receiver untouched.
func (c Context) Set(key string, value any) Context {
	next := c.Clone()
	next.data[key] = value
	return next
}

// GetPath reads a value via dot-notation ("a.b.c" reads nested maps).
// A missing intermediate key, or a non-map intermediate value, yields
// (nil, false) rather than a panic.
func (c Context) GetPath(path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = c.data
	for _, part := range parts {
		m, ok := asStringMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// asStringMap normalizes map[string]any (the common case) and
// map[string]interface{} aliases that arrive from JSON decoding.
func asStringMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// Merge shallow-merges output into the Context, overwriting any existing
// keys with the same name, and returns the resulting Context. This is the
// primitive for a task's output merge (spec invariant:
// "output is merged into the context exactly once, on its completion").
func (c Context) Merge(output map[string]any) Context {
	if len(output) == 0 {
		return c
	}
	next := c.Clone()
	maps.Copy(next.data, output)
	return next
}

// InputKey returns the reserved context key holding external input
// delivered to a suspended task ("{task_id}_input", spec §3(c)).
func InputKey(taskID string) string {
	return taskID + "_input"
}

// StripInternal returns a copy of data with every "_"-prefixed key removed,
// used when seeding a hook-created child instance's initial context
// (spec §3(d): "must not be propagated into child instances").
func StripInternal(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}
