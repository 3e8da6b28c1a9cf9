package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/munistream/engine/workflow"
)

// sqliteStore is a durable Store backed by modernc.org/sqlite (pure Go, no
// cgo), grounded on 88lin-divinesense's store/db driver-over-database/sql
// shape but scoped to this engine's two tables. Every SaveInstance commits
// synchronously before returning, satisfying the adapter's durability
// contract (spec §4.8).
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a sqlite-backed Store at dsn.
func NewSQLiteStore(dsn string) (Store, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite write-serialization; avoids SQLITE_BUSY under the executor's concurrent workers

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS instances (
	instance_id         TEXT PRIMARY KEY,
	dag_id              TEXT NOT NULL,
	owner_user_id       TEXT,
	tenant              TEXT,
	status              TEXT NOT NULL,
	context_json        TEXT NOT NULL,
	task_states_json     TEXT NOT NULL,
	parent_instance_id  TEXT,
	triggering_event_json TEXT,
	created_at          TEXT NOT NULL,
	started_at          TEXT,
	completed_at        TEXT
);
CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);

CREATE TABLE IF NOT EXISTS dag_registrations (
	dag_id      TEXT PRIMARY KEY,
	description TEXT
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// instanceRow is the JSON-friendly serialization of workflow.Instance: its
// Context type hides a private map, so Raw() seeds a plain map[string]any.
type instanceRow struct {
	Context    map[string]any                   `json:"context"`
	TaskStates map[string]*workflow.TaskState    `json:"task_states"`
}

func (s *sqliteStore) SaveInstance(ctx context.Context, inst *workflow.Instance) error {
	row := instanceRow{Context: inst.Context.Raw(), TaskStates: inst.TaskStates}
	contextJSON, err := json.Marshal(row.Context)
	if err != nil {
		return fmt.Errorf("store: marshal context: %w", err)
	}
	taskStatesJSON, err := json.Marshal(row.TaskStates)
	if err != nil {
		return fmt.Errorf("store: marshal task_states: %w", err)
	}
	var eventJSON []byte
	if inst.TriggeringEvent != nil {
		eventJSON, err = json.Marshal(inst.TriggeringEvent)
		if err != nil {
			return fmt.Errorf("store: marshal triggering_event: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances (
			instance_id, dag_id, owner_user_id, tenant, status,
			context_json, task_states_json, parent_instance_id, triggering_event_json,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			status = excluded.status,
			context_json = excluded.context_json,
			task_states_json = excluded.task_states_json,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		inst.InstanceID, inst.DAGID, inst.OwnerUserID, inst.Tenant, string(inst.Status),
		string(contextJSON), string(taskStatesJSON), inst.ParentInstanceID, nullableString(eventJSON),
		formatTime(&inst.CreatedAt), formatTime(inst.StartedAt), formatTime(inst.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("store: save instance %s: %w", inst.InstanceID, err)
	}
	return nil
}

func (s *sqliteStore) LoadInstance(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dag_id, owner_user_id, tenant, status, context_json, task_states_json,
		       parent_instance_id, triggering_event_json, created_at, started_at, completed_at
		FROM instances WHERE instance_id = ?
	`, instanceID)

	var (
		dagID, owner, tenant, status, contextJSON, taskStatesJSON string
		parentID, eventJSON, createdAt                            sql.NullString
		startedAt, completedAt                                    sql.NullString
	)
	if err := row.Scan(&dagID, &owner, &tenant, &status, &contextJSON, &taskStatesJSON,
		&parentID, &eventJSON, &createdAt, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, workflow.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("store: load instance %s: %w", instanceID, err)
	}

	var ctxData map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &ctxData); err != nil {
		return nil, fmt.Errorf("store: unmarshal context: %w", err)
	}
	var taskStates map[string]*workflow.TaskState
	if err := json.Unmarshal([]byte(taskStatesJSON), &taskStates); err != nil {
		return nil, fmt.Errorf("store: unmarshal task_states: %w", err)
	}

	inst := &workflow.Instance{
		InstanceID:       instanceID,
		DAGID:            dagID,
		OwnerUserID:      owner,
		Tenant:           tenant,
		Status:           workflow.Status(status),
		Context:          workflow.NewContext(ctxData),
		TaskStates:       taskStates,
		ParentInstanceID: parentID.String,
		CreatedAt:        parseTime(createdAt.String),
		StartedAt:        parseTimePtr(startedAt.String),
		CompletedAt:      parseTimePtr(completedAt.String),
	}
	if eventJSON.Valid && eventJSON.String != "" {
		var ev workflow.Event
		if err := json.Unmarshal([]byte(eventJSON.String), &ev); err == nil {
			inst.TriggeringEvent = &ev
		}
	}
	return inst, nil
}

func (s *sqliteStore) ListByStatus(ctx context.Context, status workflow.Status, page Page) ([]*workflow.Instance, Page, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM instances WHERE status = ?`, string(status)).Scan(&total); err != nil {
		return nil, Page{}, fmt.Errorf("store: count by status: %w", err)
	}

	limit := page.Limit
	if limit <= 0 {
		limit = total
	}
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id FROM instances WHERE status = ? ORDER BY created_at LIMIT ? OFFSET ?`,
		string(status), limit, page.Offset)
	if err != nil {
		return nil, Page{}, fmt.Errorf("store: list by status: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Instance
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, Page{}, fmt.Errorf("store: scan instance_id: %w", err)
		}
		inst, err := s.LoadInstance(ctx, id)
		if err != nil {
			return nil, Page{}, err
		}
		out = append(out, inst)
	}
	return out, Page{Offset: page.Offset, Limit: page.Limit, Total: total}, rows.Err()
}

func (s *sqliteStore) SaveDAGRegistration(ctx context.Context, dagID, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dag_registrations (dag_id, description) VALUES (?, ?)
		ON CONFLICT(dag_id) DO UPDATE SET description = excluded.description
	`, dagID, description)
	if err != nil {
		return fmt.Errorf("store: save dag registration %s: %w", dagID, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
