package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/swarmguard/taskgraph/internal/checkpoint"
	"github.com/swarmguard/taskgraph/internal/execshell"
	"github.com/swarmguard/taskgraph/internal/obs"
)

// Checkpointer is the opaque value codec behind a checkpoint path: Probe reports
// whether path holds a checkpoint and loads it if so; Store persists a
// value at path. internal/checkpoint.Store is the production implementation;
// tests may substitute an in-memory fake.
type Checkpointer interface {
	Probe(path string) (value any, ok bool, err error)
	Store(path string, value any) error
}

// Graph is the registry plus run-time coordination state: a mapping from
// id to Task, the builder's captured return expression, a worker registry,
// and the mutex/condvar pair the scheduler waits on.
//
// Ownership rule: every Task's state/result field, the task map, the worker
// registry and the failure slot are mutated only while mu is held. A Task's
// Inputs/Outputs edges are written by Chain, which does not take mu. Task
// bodies run with mu released; they may not touch another task's mutable
// state.
type Graph struct {
	ID uuid.UUID

	mu   sync.Mutex
	cond *sync.Cond

	tasks  map[int]*Task
	nextID int

	workers      map[int]struct{}
	nextWorkerID int

	failure error

	resultExpr any

	ckpt    Checkpointer
	log     *slog.Logger
	metrics obs.Metrics
}

// GraphOption configures a Graph at construction (run_graph's optional log
// parameter, plus test/observability seams).
type GraphOption func(*Graph)

// WithLogger overrides the default package logger with a caller-supplied one
// — this is run_graph(builder, log)'s optional log stream.
func WithLogger(l *slog.Logger) GraphOption {
	return func(g *Graph) { g.log = l }
}

// WithCheckpointer overrides the default bbolt-backed checkpoint codec.
func WithCheckpointer(c Checkpointer) GraphOption {
	return func(g *Graph) { g.ckpt = c }
}

// WithMetrics overrides the default (no-op-backed) instrument set.
func WithMetrics(m obs.Metrics) GraphOption {
	return func(g *Graph) { g.metrics = m }
}

func newGraph(opts ...GraphOption) *Graph {
	g := &Graph{
		ID:      uuid.New(),
		tasks:   make(map[int]*Task),
		workers: make(map[int]struct{}),
		ckpt:    checkpoint.New(),
		log:     slog.Default(),
		metrics: obs.Noop(),
	}
	g.cond = sync.NewCond(&g.mu)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TaskConfig collects a task's optional builder-time attributes.
type TaskConfig struct {
	Name string
	Ckpt string
}

// TaskOption sets one TaskConfig field.
type TaskOption func(*TaskConfig)

// WithName sets a task's display name (defaults to its stringified id).
func WithName(name string) TaskOption {
	return func(c *TaskConfig) { c.Name = name }
}

// WithCkpt sets a task's checkpoint path.
func WithCkpt(path string) TaskOption {
	return func(c *TaskConfig) { c.Ckpt = path }
}

// Builder is the handle a BuilderFunc receives: the registration primitives
// bound to one Graph.
type Builder struct {
	g *Graph
}

// BuilderFunc is the user script evaluated once at graph construction. It
// receives a Builder and returns the "results expression" — a value, Task,
// or nested structure whose Task leaves are substituted by their results
// once the graph finishes running.
type BuilderFunc func(b *Builder) any

// CreateTask registers a new Pending task with body and returns it. It is
// thread-safe: all state is touched under the graph's mutex, and registering
// a task signals the condition variable so a scheduler already running
// (nested creation) reconsiders on its next scan.
func (b *Builder) CreateTask(body Body, opts ...TaskOption) *Task {
	return b.g.createTask(body, opts...)
}

func (g *Graph) createTask(body Body, opts ...TaskOption) *Task {
	cfg := TaskConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextID
	g.nextID++

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("%d", id)
	}

	t := &Task{ID: id, Name: name, Ckpt: cfg.Ckpt, body: body, state: Pending}
	g.tasks[id] = t
	g.cond.Signal()
	return t
}

// CreateCmd registers a convenience task whose body shells out to
// argv, adapting the task to external process invocation via
// internal/execshell. The body accepts 0 or 1 input: more is a UsageError.
func (b *Builder) CreateCmd(argv []string, opts ...TaskOption) *Task {
	body := func(inputs []any) (any, error) {
		if len(inputs) > 1 {
			return nil, &UsageError{Detail: fmt.Sprintf("cmd task %v received %d inputs, want at most 1", argv, len(inputs))}
		}
		var stdin string
		if len(inputs) == 1 {
			stdin = stringify(inputs[0])
		}
		res, err := execshell.Run(context.Background(), argv, stdin)
		if err != nil {
			return nil, err
		}
		if res.ExitCode != 0 {
			return nil, &ExecError{Argv: argv, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return res.Stdout, nil
	}
	return b.g.createTask(body, opts...)
}

// stringify renders a value as the subprocess's stdin.
func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
