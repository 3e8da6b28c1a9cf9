package workflow

import (
	"fmt"
	"sort"
	"sync"
)

// WorkflowType discriminates the DAG's purpose for listing/filtering
// (spec §3, DAG attribute "workflow_type").
type WorkflowType string

const (
	WorkflowTypeProcess            WorkflowType = "process"
	WorkflowTypeDocumentProcessing WorkflowType = "document_processing"
	WorkflowTypeAdmin              WorkflowType = "admin"
)

// TaskConfig is a DAG's operator configuration for one task_id: the
// discriminator, operator-specific config, and resolved upstream/downstream
// sets (spec §3, Operator attributes).
type TaskConfig struct {
	TaskID       string
	Type         string
	Operator     Operator
	Config       map[string]any
	UpstreamIDs  []string
	DownstreamIDs []string

	MaxAttempts   int           // 0 falls back to the executor's DefaultMaxAttempts
	TimeoutMinutes int          // 0 disables the per-task timeout
	AutoCompleteOnTimeout bool  // approval-operator "auto-approve on timeout" policy
}

// DAG is an immutable workflow definition: a directed acyclic graph of
// TaskConfigs over task_id edges (spec §3, DAG).
type DAG struct {
	DAGID            string
	Description      string
	Tags             []string
	WorkflowType     WorkflowType
	Tasks            map[string]*TaskConfig
	EmitEvents       bool
	ListensToEvents  bool
	EntityOutputs    []string

	// topoOrder is a valid topological ordering computed at registration,
	// cached for fast sink/root queries.
	topoOrder []string
}

// Sinks returns task ids with no downstream — the tasks whose completion (or
// skip) marks the instance complete (spec §4.2).
func (d *DAG) Sinks() []string {
	var out []string
	for id, t := range d.Tasks {
		if len(t.DownstreamIDs) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Roots returns task ids with no upstream dependency.
func (d *DAG) Roots() []string {
	var out []string
	for id, t := range d.Tasks {
		if len(t.UpstreamIDs) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Bag is the process-wide registry of known DAGs (spec §3, "DAG Bag"). A
// DAG, once registered, is immutable and re-registration of an existing
// dag_id is a fatal configuration error (spec §4.4).
type Bag struct {
	mu   sync.RWMutex
	dags map[string]*DAG
}

// NewBag creates an empty DAG Bag.
func NewBag() *Bag {
	return &Bag{dags: make(map[string]*DAG)}
}

// Register validates acyclicity via topological sort and indexes the DAG by
// dag_id. Returns an error (never panics) on a cyclic graph, a dangling
// edge endpoint, or a duplicate dag_id — the last of these is documented in
// spec.md as "a fatal configuration error", which callers should treat as
// such (e.g. by panicking at process start), but the registry itself always
// returns a plain error so tests can assert on it.
func (b *Bag) Register(d *DAG) error {
	if d.DAGID == "" {
		return fmt.Errorf("dag: dag_id cannot be empty")
	}

	order, err := topoSort(d)
	if err != nil {
		return fmt.Errorf("dag %s: %w", d.DAGID, err)
	}
	d.topoOrder = order

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.dags[d.DAGID]; exists {
		return fmt.Errorf("dag: %s is already registered", d.DAGID)
	}
	b.dags[d.DAGID] = d
	return nil
}

// Get looks up a DAG by id.
func (b *Bag) Get(dagID string) (*DAG, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.dags[dagID]
	return d, ok
}

// List returns all registered DAGs sorted by dag_id, for informational
// listing (spec §4.8, save_dag_registration).
func (b *Bag) List() []*DAG {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*DAG, 0, len(b.dags))
	for _, d := range b.dags {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DAGID < out[j].DAGID })
	return out
}

// topoSort validates the DAG has no cycles and every edge endpoint exists,
// returning a valid topological ordering (Kahn's algorithm).
func topoSort(d *DAG) ([]string, error) {
	if len(d.Tasks) == 0 {
		return nil, fmt.Errorf("dag has no tasks")
	}

	indegree := make(map[string]int, len(d.Tasks))
	for id := range d.Tasks {
		indegree[id] = 0
	}
	for id, t := range d.Tasks {
		for _, down := range t.DownstreamIDs {
			if _, ok := d.Tasks[down]; !ok {
				return nil, fmt.Errorf("edge %s -> %s: %s does not exist", id, down, down)
			}
		}
		for _, up := range t.UpstreamIDs {
			if _, ok := d.Tasks[up]; !ok {
				return nil, fmt.Errorf("edge %s -> %s: %s does not exist", up, id, up)
			}
		}
		indegree[id] = len(t.UpstreamIDs)
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)

		var next []string
		for _, down := range d.Tasks[n].DownstreamIDs {
			indegree[down]--
			if indegree[down] == 0 {
				next = append(next, down)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if len(order) != len(d.Tasks) {
		return nil, fmt.Errorf("dag contains a cycle")
	}
	return order, nil
}

// Builder assembles a DAG without a hidden global "current DAG" pointer
// (spec §9 flags the source's thread-local builder pattern for
// re-architecture): every AddTask/Then/FanOut/FanIn call is against an
// explicit Builder value. Acyclicity and edge endpoints are validated by
// Bag.Register, not by Build().
type Builder struct {
	dag *DAG
}

// NewBuilder starts assembling a DAG identified by dagID.
func NewBuilder(dagID string, workflowType WorkflowType) *Builder {
	return &Builder{dag: &DAG{
		DAGID:        dagID,
		WorkflowType: workflowType,
		Tasks:        make(map[string]*TaskConfig),
	}}
}

// Describe sets the DAG's description and tags.
func (b *Builder) Describe(description string, tags ...string) *Builder {
	b.dag.Description = description
	b.dag.Tags = tags
	return b
}

// EmitsEvents marks the DAG as emitting events on completion/operator action.
func (b *Builder) EmitsEvents(v bool) *Builder {
	b.dag.EmitEvents = v
	return b
}

// ListensToEvents marks the DAG as a hook listener target.
func (b *Builder) ListensToEvents(v bool) *Builder {
	b.dag.ListensToEvents = v
	return b
}

// EntityOutputs labels the entity types an instance of this DAG may produce.
func (b *Builder) EntityOutputs(labels ...string) *Builder {
	b.dag.EntityOutputs = labels
	return b
}

// AddTask registers a task_id's operator configuration. task_id must be
// unique within the DAG.
func (b *Builder) AddTask(cfg TaskConfig) *Builder {
	if cfg.TaskID == "" {
		panic("workflow: task_id cannot be empty")
	}
	if _, exists := b.dag.Tasks[cfg.TaskID]; exists {
		panic(fmt.Sprintf("workflow: task_id %q already exists in dag %q", cfg.TaskID, b.dag.DAGID))
	}
	t := cfg
	b.dag.Tasks[cfg.TaskID] = &t
	return b
}

// Then wires a -> b (single successor), the builder DSL equivalent of the
// source's "a >> b" edge declaration (spec §4.4). Edge declarations must
// occur before Build(). Build does not re-derive upstream/downstream sets:
// callers that populate TaskConfig.UpstreamIDs/DownstreamIDs directly instead
// of using Then/Fan* must keep both sides of every edge consistent.
func (b *Builder) Then(from, to string) *Builder {
	return b.FanOut(from, to)
}

// FanOut wires from -> each of to (the "a >> [b, c]" form).
func (b *Builder) FanOut(from string, to ...string) *Builder {
	ft, ok := b.dag.Tasks[from]
	if !ok {
		panic(fmt.Sprintf("workflow: edge source %q not added yet", from))
	}
	for _, t := range to {
		if _, ok := b.dag.Tasks[t]; !ok {
			panic(fmt.Sprintf("workflow: edge target %q not added yet", t))
		}
		ft.DownstreamIDs = append(ft.DownstreamIDs, t)
		b.dag.Tasks[t].UpstreamIDs = append(b.dag.Tasks[t].UpstreamIDs, from)
	}
	return b
}

// FanIn wires each of from -> to (the "[a, b] >> c" form).
func (b *Builder) FanIn(to string, from ...string) *Builder {
	for _, f := range from {
		b.FanOut(f, to)
	}
	return b
}

// Build finalizes the DAG. It does not register it in a Bag; call
// Bag.Register separately so construction and registration failures are
// distinguishable.
func (b *Builder) Build() *DAG {
	return b.dag
}
