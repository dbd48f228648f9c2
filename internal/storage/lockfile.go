package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/happytimeshere/kirby/pkg/models"
	"gopkg.in/yaml.v3"
)

// DefaultLockFileName is the conventional name of a directory's lock file.
const DefaultLockFileName = ".lock"

// LockFileStore reads and writes the lock file of a single directory.
// Writes are compare-and-swap on the file's version: the caller passes the
// version it read and the write is refused if the file has moved on.
//
// Versions are drawn from the clock rather than counted, so a directory
// never reuses a version even after its lock file was removed and written
// again. A writer holding a snapshot from before the removal always
// conflicts.
type LockFileStore struct {
	dir      string
	fileName string
	stamp    func() int64
}

// NewLockFileStore creates a LockFileStore for the lock file named fileName
// inside dir. An empty fileName selects DefaultLockFileName.
func NewLockFileStore(dir, fileName string) *LockFileStore {
	if fileName == "" {
		fileName = DefaultLockFileName
	}
	return &LockFileStore{
		dir:      dir,
		fileName: fileName,
		stamp:    clockStamp,
	}
}

// Path returns the location of the lock file.
func (s *LockFileStore) Path() string {
	return filepath.Join(s.dir, s.fileName)
}

// Read loads the lock file. A missing file yields an empty file at
// version 0; unreadable or malformed content is returned as an error.
func (s *LockFileStore) Read() (*models.LockFile, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewLockFile(), nil
		}
		return nil, fmt.Errorf("reading lock file %s: %w", s.Path(), err)
	}

	file := models.NewLockFile()
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("parsing lock file %s: %w", s.Path(), err)
	}
	if file.Resources == nil {
		file.Resources = make(map[string]models.ResourceLockState)
	}
	return file, nil
}

// Write replaces the lock file with file, provided the version on disk
// still equals expectedVersion. It returns the new version, which is always
// greater than expectedVersion.
func (s *LockFileStore) Write(file *models.LockFile, expectedVersion int64) (int64, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("writing lock file: creating directory: %w", err)
	}

	unlock, err := lockDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("writing lock file: %w", err)
	}
	defer unlock()

	if err := s.checkVersion(expectedVersion); err != nil {
		return 0, err
	}

	out := models.LockFile{
		Version:   s.nextVersion(expectedVersion),
		Resources: file.Resources,
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return 0, fmt.Errorf("writing lock file: encoding: %w", err)
	}
	if err := atomicWriteFile(s.Path(), data, 0o644); err != nil {
		return 0, fmt.Errorf("writing lock file %s: %w", s.Path(), err)
	}
	return out.Version, nil
}

// Remove deletes the lock file, provided the version on disk still equals
// expectedVersion. Removing a file that does not exist is not an error.
func (s *LockFileStore) Remove(expectedVersion int64) error {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		return nil
	}

	unlock, err := lockDir(s.dir)
	if err != nil {
		return fmt.Errorf("removing lock file: %w", err)
	}
	defer unlock()

	if err := s.checkVersion(expectedVersion); err != nil {
		return err
	}
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file %s: %w", s.Path(), err)
	}
	return nil
}

var lastStamp atomic.Int64

// clockStamp returns the wall clock in nanoseconds, strictly increasing
// within the process even when the clock is coarse or steps back.
func clockStamp() int64 {
	now := time.Now().UnixNano()
	for {
		last := lastStamp.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if lastStamp.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (s *LockFileStore) nextVersion(expected int64) int64 {
	if v := s.stamp(); v > expected {
		return v
	}
	return expected + 1
}

// checkVersion compares the on-disk version with expected. A file that
// cannot be parsed counts as version 0, matching what a reader sees.
func (s *LockFileStore) checkVersion(expected int64) error {
	var current int64
	if file, err := s.Read(); err == nil {
		current = file.Version
	}
	if current != expected {
		return fmt.Errorf("%w: %s read at version %d, now at %d",
			models.ErrVersionConflict, s.Path(), expected, current)
	}
	return nil
}
