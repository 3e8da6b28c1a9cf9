package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/munistream/engine/workflow"
)

func TestContext_SetIsImmutable(t *testing.T) {
	c1 := workflow.NewContext(nil)
	c2 := c1.Set("a", 1)

	_, existsOn1 := c1.Get("a")
	assert.False(t, existsOn1)

	v, exists := c2.Get("a")
	assert.True(t, exists)
	assert.Equal(t, 1, v)
}

func TestContext_MergeShallow(t *testing.T) {
	c := workflow.NewContext(map[string]any{"x": 1})
	merged := c.Merge(map[string]any{"x": 2, "y": 3})

	v, _ := merged.Get("x")
	assert.Equal(t, 2, v)
	v, _ = merged.Get("y")
	assert.Equal(t, 3, v)
}

func TestContext_GetPathDotted(t *testing.T) {
	c := workflow.NewContext(map[string]any{
		"collect_property_info_data": map[string]any{
			"address": map[string]any{"city": "Springfield"},
		},
	})

	v, ok := c.GetPath("collect_property_info_data.address.city")
	assert.True(t, ok)
	assert.Equal(t, "Springfield", v)

	_, ok = c.GetPath("collect_property_info_data.address.zip")
	assert.False(t, ok)

	_, ok = c.GetPath("missing.path")
	assert.False(t, ok)
}

func TestStripInternal(t *testing.T) {
	out := workflow.StripInternal(map[string]any{
		"_engine_internal": "x",
		"public_key":       "y",
	})

	_, hasInternal := out["_engine_internal"]
	assert.False(t, hasInternal)
	assert.Equal(t, "y", out["public_key"])
}

func TestInputKey(t *testing.T) {
	assert.Equal(t, "collect_input", workflow.InputKey("collect"))
}
