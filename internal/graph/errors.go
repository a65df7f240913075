package graph

import (
	"errors"
	"fmt"
)

// CycleError reports a directed cycle found by the analyzer, or a non-empty
// registry with no goal task.
type CycleError struct {
	Detail string
}

func (e *CycleError) Error() string { return fmt.Sprintf("cycle detected: %s", e.Detail) }

// UsageError reports builder misuse, e.g. a cmd task fed more than one input.
type UsageError struct {
	Detail string
}

func (e *UsageError) Error() string { return fmt.Sprintf("usage error: %s", e.Detail) }

// ExecError reports a subprocess exiting non-zero.
type ExecError struct {
	Argv     []string
	ExitCode int
	Stderr   string
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("command %v exited %d: %s", e.Argv, e.ExitCode, e.Stderr)
}

// BodyError wraps a panic recovered from within a user task body. Errors a
// body returns normally are propagated as they are, not wrapped.
type BodyError struct {
	Task string
	Err  error
}

func (e *BodyError) Error() string { return fmt.Sprintf("task %s failed: %v", e.Task, e.Err) }

func (e *BodyError) Unwrap() error { return e.Err }

// CheckpointError reports a checkpoint file that exists but cannot be
// decoded. This is treated as fatal rather than as a cache miss.
type CheckpointError struct {
	Path string
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s exists but cannot be decoded: %v", e.Path, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// wrapCheckpointErr normalizes an error from a Checkpointer into this
// package's CheckpointError kind, so callers always see the same exported
// type regardless of which Checkpointer implementation produced it.
func wrapCheckpointErr(path string, err error) error {
	if err == nil {
		return nil
	}
	var already *CheckpointError
	if errors.As(err, &already) {
		return err
	}
	return &CheckpointError{Path: path, Err: err}
}
