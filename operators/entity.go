package operators

import (
	"context"
	"fmt"
	"strings"

	"github.com/munistream/engine/workflow"
)

// EntityStore is the out-of-scope persistent document store the engine
// consumes only through this narrow interface (spec §1, "the persistent
// document store that holds ... entities" is explicitly out of scope;
// this is the seam an embedding application plugs its own store into).
type EntityStore interface {
	CreateEntity(ctx context.Context, entityType string, data map[string]any) (entityID string, err error)
	UpdateEntity(ctx context.Context, entityType, entityID string, data map[string]any) error
}

// Entity is the Go analogue of entity_operators.py's EntityCreationOperator,
// generalized to also cover updates and stripped of visualization/PDF
// concerns (out of scope per spec §1). It auto-collects every non-internal
// context key as candidate entity data the way the source does, then
// applies DataMapping as explicit overrides, and emits
// ENTITY_CREATED.<type> / ENTITY_UPDATED.<type> on success (spec §6, Event
// type grammar).
type Entity struct {
	EntityType     string
	Store          EntityStore
	DataMapping    map[string]string // entity field -> context dot-path
	StaticData     map[string]any
	Update         bool   // false: create; true: update an existing entity
	EntityIDSource string // context key holding the entity id, required when Update
}

var internalPrefixes = []string{"_", "instance", "workflow", "task_instance"}

func (e *Entity) Execute(ctx context.Context, tc *workflow.TaskContext) workflow.TaskResult {
	data := map[string]any{}
	for k, v := range e.StaticData {
		data[k] = v
	}

	for k, v := range tc.Context.Raw() {
		if hasInternalPrefix(k) {
			continue
		}
		if m, ok := v.(map[string]any); ok {
			for mk, mv := range m {
				data[mk] = mv
			}
			continue
		}
		data[k] = v
	}

	for field, path := range e.DataMapping {
		if v, ok := tc.Context.GetPath(path); ok {
			data[field] = v
		}
	}

	if e.Update {
		return e.update(ctx, tc, data)
	}
	return e.create(ctx, tc, data)
}

func (e *Entity) create(ctx context.Context, tc *workflow.TaskContext, data map[string]any) workflow.TaskResult {
	id, err := e.Store.CreateEntity(ctx, e.EntityType, data)
	if err != nil {
		return workflow.Retry(fmt.Sprintf("create %s entity: %v", e.EntityType, err), nil)
	}
	tc.EmitEvent(workflow.EntityCreatedEvent(e.EntityType), map[string]any{
		"entity_id":   id,
		"entity_type": e.EntityType,
	})
	return workflow.Continue(map[string]any{
		e.EntityType + "_id": id,
	})
}

func (e *Entity) update(ctx context.Context, tc *workflow.TaskContext, data map[string]any) workflow.TaskResult {
	if e.EntityIDSource == "" {
		return workflow.Failed("entity update operator requires entity_id_source")
	}
	raw, ok := tc.Context.GetPath(e.EntityIDSource)
	if !ok {
		return workflow.Failed(fmt.Sprintf("context has no value at %q for entity id", e.EntityIDSource))
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		return workflow.Failed(fmt.Sprintf("value at %q is not a non-empty entity id", e.EntityIDSource))
	}

	if err := e.Store.UpdateEntity(ctx, e.EntityType, id, data); err != nil {
		return workflow.Retry(fmt.Sprintf("update %s entity %s: %v", e.EntityType, id, err), nil)
	}
	tc.EmitEvent(workflow.EntityUpdatedEvent(e.EntityType), map[string]any{
		"entity_id":   id,
		"entity_type": e.EntityType,
	})
	return workflow.Continue(map[string]any{
		e.EntityType + "_id": id,
	})
}

func hasInternalPrefix(key string) bool {
	for _, p := range internalPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

var _ workflow.Operator = (*Entity)(nil)
