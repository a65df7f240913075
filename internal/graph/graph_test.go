package graph

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmguard/taskgraph/internal/checkpoint"
)

// memCkpt is an in-memory Checkpointer for tests that don't need real files.
type memCkpt struct {
	mu    sync.Mutex
	store map[string]any
}

func newMemCkpt() *memCkpt { return &memCkpt{store: make(map[string]any)} }

func (m *memCkpt) Probe(path string) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[path]
	return v, ok, nil
}

func (m *memCkpt) Store(path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[path] = value
	return nil
}

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Scenario 1: diamond arithmetic.
func TestRunGraphDiamondArithmetic(t *testing.T) {
	result, err := RunGraph(func(b *Builder) any {
		a := b.CreateTask(func(inputs []any) (any, error) { return 42, nil })
		bb := b.CreateTask(func(inputs []any) (any, error) { return inputs[0].(int) / 2, nil })
		c := b.CreateTask(func(inputs []any) (any, error) { return inputs[0].(int) * 2, nil })
		d := b.CreateTask(func(inputs []any) (any, error) { return inputs[0].(int) + inputs[1].(int), nil })
		Chain(a, Bundle(bb, c))
		Chain(Bundle(bb, c), d)
		return d
	}, WithCheckpointer(newMemCkpt()))

	require.NoError(t, err)
	require.Equal(t, 105, result)
}

// Scenario 2: parallel independent tasks.
func TestRunGraphParallelIndependent(t *testing.T) {
	var x, y int
	_, err := RunGraph(func(b *Builder) any {
		b.CreateTask(func(inputs []any) (any, error) { x = 42; return nil, nil })
		b.CreateTask(func(inputs []any) (any, error) { y = 99; return nil, nil })
		return nil
	}, WithCheckpointer(newMemCkpt()))

	require.NoError(t, err)
	require.Equal(t, 42, x)
	require.Equal(t, 99, y)
}

// Scenario 3: failure short-circuit.
func TestRunGraphFailureShortCircuit(t *testing.T) {
	errA := errors.New("A")
	errB := errors.New("B")
	var bRan bool

	_, err := RunGraph(func(b *Builder) any {
		first := b.CreateTask(func(inputs []any) (any, error) { return nil, errA })
		second := b.CreateTask(func(inputs []any) (any, error) { bRan = true; return nil, errB })
		return Chain(first, second)
	}, WithCheckpointer(newMemCkpt()))

	require.Error(t, err)
	require.ErrorIs(t, err, errA)
	require.False(t, bRan)
}

// Scenario 4: subprocess pipeline.
func TestRunGraphSubprocessPipeline(t *testing.T) {
	result, err := RunGraph(func(b *Builder) any {
		first := b.CreateCmd([]string{"echo", "foo"})
		second := b.CreateCmd([]string{"sed", "s/o/x/"})
		return Chain(first, second)
	}, WithCheckpointer(newMemCkpt()))

	require.NoError(t, err)
	require.Equal(t, "fxo\n", result)
}

// Scenario 5: cycle detection.
func TestRunGraphCycle(t *testing.T) {
	var aRan, bRan bool

	_, err := RunGraph(func(b *Builder) any {
		a := b.CreateTask(func(inputs []any) (any, error) { aRan = true; return nil, nil })
		bb := b.CreateTask(func(inputs []any) (any, error) { bRan = true; return nil, nil })
		Chain(a, bb)
		Chain(bb, a)
		return nil
	}, WithCheckpointer(newMemCkpt()))

	require.Error(t, err)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.False(t, aRan)
	require.False(t, bRan)
}

// Scenario 6: checkpoint replay, using the real bbolt-backed codec.
func TestRunGraphCheckpointReplay(t *testing.T) {
	ckptPath := filepath.Join(t.TempDir(), "foo")
	store := checkpoint.New()

	first, err := RunGraph(func(b *Builder) any {
		cmd := b.CreateCmd([]string{"echo", "foo"}, WithCkpt(ckptPath))
		identity := b.CreateTask(func(inputs []any) (any, error) { return inputs[0], nil })
		return Chain(cmd, identity)
	}, WithCheckpointer(store))
	require.NoError(t, err)
	require.Equal(t, "foo\n", first)
	require.FileExists(t, ckptPath)

	second, err := RunGraph(func(b *Builder) any {
		cached := b.CreateTask(func(inputs []any) (any, error) {
			return nil, fmt.Errorf("ShouldntHappen")
		}, WithCkpt(ckptPath))
		appended := b.CreateTask(func(inputs []any) (any, error) {
			return inputs[0].(string) + "bar", nil
		})
		return Chain(cached, appended)
	}, WithCheckpointer(store))
	require.NoError(t, err)
	require.Equal(t, "foo\nbar", second)
}

// Scenario 7: nested run_graph.
func TestRunGraphNested(t *testing.T) {
	result, err := RunGraph(func(b *Builder) any {
		outer := b.CreateTask(func(inputs []any) (any, error) {
			return RunGraph(func(inner *Builder) any {
				return inner.CreateTask(func(inputs []any) (any, error) { return "foo", nil })
			}, WithCheckpointer(newMemCkpt()))
		})
		appended := b.CreateTask(func(inputs []any) (any, error) {
			return inputs[0].(string) + "bar", nil
		})
		return Chain(outer, appended)
	}, WithCheckpointer(newMemCkpt()))

	require.NoError(t, err)
	require.Equal(t, "foobar", result)
}

// Scenario 8: dynamic task addition from within a running task body.
func TestRunGraphDynamicTaskAddition(t *testing.T) {
	var mu sync.Mutex
	sum := 0

	_, err := RunGraph(func(b *Builder) any {
		b.CreateTask(func(inputs []any) (any, error) {
			for i := 1; i <= 10; i++ {
				i := i
				b.CreateTask(func(inputs []any) (any, error) {
					mu.Lock()
					sum += i
					mu.Unlock()
					return nil, nil
				})
			}
			return nil, nil
		})
		return nil
	}, WithCheckpointer(newMemCkpt()))

	require.NoError(t, err)
	require.Equal(t, 55, sum)
}

// Scenario 9: log ordering follows dependency order, not completion order.
func TestRunGraphLogOrdering(t *testing.T) {
	var buf bytes.Buffer
	_, err := RunGraph(func(b *Builder) any {
		hoge := b.CreateTask(func(inputs []any) (any, error) { return nil, nil }, WithName("hoge"))
		fuga := b.CreateTask(func(inputs []any) (any, error) { return nil, nil }, WithName("fuga"))
		return Chain(hoge, fuga)
	}, WithCheckpointer(newMemCkpt()), WithLogger(testLogger(&buf)))

	require.NoError(t, err)
	out := buf.String()
	hogeIdx := strings.Index(out, "DR: start hoge")
	fugaIdx := strings.Index(out, "DR: start fuga")
	require.Greater(t, hogeIdx, -1)
	require.Greater(t, fugaIdx, -1)
	require.Less(t, hogeIdx, fugaIdx)
}

// P7: a builder that registers no tasks returns without error or an
// "execute graph" log line; it still emits the "No task" line.
func TestRunGraphEmptyBuilder(t *testing.T) {
	var buf bytes.Buffer
	result, err := RunGraph(func(b *Builder) any {
		return nil
	}, WithCheckpointer(newMemCkpt()), WithLogger(testLogger(&buf)))

	require.NoError(t, err)
	require.Nil(t, result)
	require.Contains(t, buf.String(), "DR: No task in the graph")
	require.NotContains(t, buf.String(), "execute graph")
}

// P5: a corrupted checkpoint file is treated as fatal, not a cache miss.
func TestRunGraphCorruptedCheckpointIsFatal(t *testing.T) {
	ckptPath := filepath.Join(t.TempDir(), "bad")
	// Write a file that exists but isn't a valid bbolt database.
	require.NoError(t, os.WriteFile(ckptPath, []byte("not a bbolt db"), 0o600))

	_, err := RunGraph(func(b *Builder) any {
		return b.CreateTask(func(inputs []any) (any, error) { return 1, nil }, WithCkpt(ckptPath))
	}, WithCheckpointer(checkpoint.New()))

	require.Error(t, err)
	var ckptErr *CheckpointError
	require.ErrorAs(t, err, &ckptErr)
}
