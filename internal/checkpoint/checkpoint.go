// Package checkpoint implements an opaque value codec: Store(path, value)
// / Probe(path) round-trips arbitrary task-body results and lets the
// analyzer distinguish "missing" from "loadable".
//
// A single embedded go.etcd.io/bbolt file backs each checkpoint path,
// JSON-encoded, opened and closed around each access so the file is the
// self-contained, atomic unit of state.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/taskgraph/internal/resilience"
)

var bucketName = []byte("result")
var resultKey = []byte("value")

// Store is a bbolt-backed checkpoint codec. The zero value is ready to use.
type Store struct {
	// OpenAttempts bounds the retries around bbolt.Open, which can return a
	// lock-acquisition timeout when two nested run_graph calls race on the
	// same checkpoint path. It never retries task bodies, only this store's
	// own file I/O.
	OpenAttempts int
}

// New returns a Store with the default retry budget.
func New() *Store {
	return &Store{OpenAttempts: 3}
}

// Probe reports whether a checkpoint file exists at path; if it does, it
// loads and returns the stored value. A missing file is not an error
// ("missing"); a present-but-undecodable file returns a *CheckpointError.
func (s *Store) Probe(path string) (value any, ok bool, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("checkpoint: stat %s: %w", path, statErr)
	}

	db, err := s.open(path)
	if err != nil {
		return nil, false, &CheckpointError{Path: path, Err: err}
	}
	defer db.Close()

	var raw []byte
	err = db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("missing bucket %q", bucketName)
		}
		v := b.Get(resultKey)
		if v == nil {
			return fmt.Errorf("missing key %q", resultKey)
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, &CheckpointError{Path: path, Err: err}
	}

	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, &CheckpointError{Path: path, Err: err}
	}
	return value, true, nil
}

// Store persists value at path, creating the file if necessary.
func (s *Store) Store(path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	db, err := s.open(path)
	if err != nil {
		return &CheckpointError{Path: path, Err: err}
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(resultKey, raw)
	})
}

func (s *Store) open(path string) (*bbolt.DB, error) {
	attempts := s.OpenAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return resilience.Retry(context.Background(), attempts, 20*time.Millisecond, func() (*bbolt.DB, error) {
		return bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 200 * time.Millisecond})
	})
}

// CheckpointError reports a checkpoint file that exists but cannot be
// decoded. Mirrors internal/graph's error kind of the same name so callers
// on either side of the package boundary see the same shape; internal/graph
// re-wraps this into its own exported error kind at the point it crosses
// into task-lifecycle code.
type CheckpointError struct {
	Path string
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s exists but cannot be decoded: %v", e.Path, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
