// Package statestore persists the resource set durably between runs.
//
// State is written as YAML with owner-only permissions. A sidecar flock
// guards against two skiff processes mutating the same environment's state
// concurrently; the lock file stays on disk after release, since removing it
// could invalidate a lock another process just acquired.
package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/skiffcloud/skiff/internal/provisioning"
)

// lockRetryInterval is the interval between attempts to acquire the state
// file lock.
const lockRetryInterval = 50 * time.Millisecond

// lockTimeout bounds how long Save/Load wait for a competing process.
const lockTimeout = 10 * time.Second

// FileStore is a file-backed provisioning.Store.
type FileStore struct {
	path string
}

// New creates a store writing to the given path.
func New(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the full resource set to disk, replacing previous contents.
func (s *FileStore) Save(rs *provisioning.ResourceSet) error {
	release, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer release()

	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", s.path, err)
	}
	return nil
}

// Load reads the persisted resource set. A missing file yields an empty
// resource set rather than an error, so a fresh environment needs no
// initialization step.
func (s *FileStore) Load() (*provisioning.ResourceSet, error) {
	release, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &provisioning.ResourceSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", s.path, err)
	}

	var rs provisioning.ResourceSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	return &rs, nil
}

func (s *FileStore) acquireLock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()

	fl := flock.New(s.path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire state lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to acquire state lock %s: lock not acquired", fl.Path())
	}

	return func() {
		// Close releases the lock; best-effort.
		_ = fl.Close()
	}, nil
}

var _ provisioning.Store = (*FileStore)(nil)
