package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/swarmguard/taskgraph/internal/obs"
)

// RunGraph evaluates build, analyzes the resulting DAG, executes it to
// completion, and returns the builder's return expression with every Task
// leaf substituted by its final result. It either returns
// that value or terminates with exactly one error; no partial
// results are surfaced on failure.
func RunGraph(build BuilderFunc, opts ...GraphOption) (any, error) {
	g := newGraph(opts...)
	b := &Builder{g: g}
	g.resultExpr = build(b)

	if err := g.analyze(); err != nil {
		return nil, err
	}
	if err := g.run(); err != nil {
		return nil, err
	}
	return g.substitute(g.resultExpr), nil
}

// run is the scheduler's coordinator loop: the calling
// goroutine dispatches every Pending task whose inputs are all Done/Skipped,
// then waits on the condition variable; it returns once no workers remain.
func (g *Graph) run() error {
	g.mu.Lock()

	if len(g.tasks) == 0 {
		g.mu.Unlock()
		return nil
	}

	g.log.Info(fmt.Sprintf("DR: execute graph with %d tasks", len(g.tasks)), "graph_id", g.ID)
	start := time.Now()
	ctx, endSpan := obs.WithSpan(context.Background(), "graph.run")

	for {
		for _, t := range g.readyPending() {
			g.dispatch(ctx, t)
		}
		if len(g.workers) == 0 {
			break
		}
		g.cond.Wait()
		if g.failure != nil {
			break
		}
	}

	// Cooperative drain: let every in-flight worker finish its current body
	// before surfacing the first failure.
	for len(g.workers) > 0 {
		g.cond.Wait()
	}
	failure := g.failure
	g.mu.Unlock()
	endSpan()

	if failure != nil {
		return failure
	}
	g.metrics.RunDuration.Record(context.Background(), float64(time.Since(start).Milliseconds()))
	return nil
}

// readyPending returns, in task-id order, every Pending task whose inputs
// are all Done or Skipped. Must be called with g.mu held.
func (g *Graph) readyPending() []*Task {
	ready := make([]*Task, 0)
	for _, t := range g.tasks {
		if t.state != Pending {
			continue
		}
		if allSettled(t.Inputs) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

func allSettled(inputs []*Task) bool {
	for _, in := range inputs {
		if in.state != Done && in.state != Skipped {
			return false
		}
	}
	return true
}

// dispatch transitions t to Running and spawns a worker goroutine bound to
// it. Must be called with g.mu held; it snapshots t's inputs' results while
// still holding the lock: every input is Done or Skipped by the time a
// task is dispatched, so its result is stable.
func (g *Graph) dispatch(ctx context.Context, t *Task) {
	t.state = Running

	workerID := g.nextWorkerID
	g.nextWorkerID++
	g.workers[workerID] = struct{}{}

	inputs := make([]any, len(t.Inputs))
	for i, in := range t.Inputs {
		inputs[i] = in.result
	}

	g.log.Info(fmt.Sprintf("DR: start %s", t.Name), "graph_id", g.ID, "task", t.Name)
	g.metrics.TasksStarted.Add(ctx, 1)
	g.metrics.ParallelismGauge.Add(ctx, 1)

	go g.runWorker(ctx, workerID, t, inputs)
}

// runWorker invokes t's body with the mutex released, then re-acquires it to
// publish the outcome. On success it writes the result (and
// persists the checkpoint, if any) and transitions to Done; on failure it
// writes to the graph's first-failure slot without transitioning the task,
// per the "first failure wins" propagation policy.
func (g *Graph) runWorker(ctx context.Context, workerID int, t *Task, inputs []any) {
	result, err := invokeBody(t, inputs)

	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.workers, workerID)
	g.metrics.ParallelismGauge.Add(ctx, -1)

	if err != nil {
		if g.failure == nil {
			g.failure = err
		}
		g.metrics.TasksFailed.Add(ctx, 1)
		g.cond.Signal()
		return
	}

	if t.Ckpt != "" {
		if serr := g.ckpt.Store(t.Ckpt, result); serr != nil {
			if g.failure == nil {
				g.failure = wrapCheckpointErr(t.Ckpt, serr)
			}
			g.metrics.TasksFailed.Add(ctx, 1)
			g.cond.Signal()
			return
		}
	}

	t.result = result
	t.state = Done
	g.metrics.TasksDone.Add(ctx, 1)
	g.cond.Signal()
}

// invokeBody runs a task body, converting a recovered panic into a
// BodyError. Any error the body returns normally (including ExecError,
// UsageError, or an arbitrary user error) propagates unchanged — only a
// panic, which is not itself an error value, gets wrapped.
func invokeBody(t *Task, inputs []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = &BodyError{Task: t.Name, Err: rerr}
			} else {
				err = &BodyError{Task: t.Name, Err: fmt.Errorf("%v", r)}
			}
		}
	}()
	return t.body(inputs)
}

// substitute walks the builder's captured return expression and replaces
// every Task leaf with its final result.
func (g *Graph) substitute(expr any) any {
	switch v := expr.(type) {
	case *Task:
		return v.result
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = g.substitute(e)
		}
		if len(out) == 1 {
			return out[0]
		}
		return out
	case []*Task:
		out := make([]any, len(v))
		for i, t := range v {
			out[i] = t.result
		}
		if len(out) == 1 {
			return out[0]
		}
		return out
	default:
		return v
	}
}
