// Package multiuser detects when another writer has changed the stored
// connections so the local tree can be reloaded.
package multiuser

import (
	"context"
	"os"
	"sync"
	"time"
)

// Checker reports whether the store changed since it was last marked.
type Checker interface {
	UpdateAvailable(ctx context.Context) (bool, error)
	// Mark records the current stored state as seen. Call it after every
	// load and save.
	Mark(ctx context.Context) error
}

// LastUpdater exposes the SQL backend's tblUpdate timestamp.
type LastUpdater interface {
	LastUpdate(ctx context.Context) (time.Time, error)
}

// SQLChecker compares tblUpdate.LastUpdate against the value seen at the
// last Mark.
type SQLChecker struct {
	source LastUpdater

	mu   sync.Mutex
	seen time.Time
}

func NewSQLChecker(source LastUpdater) *SQLChecker {
	return &SQLChecker{source: source}
}

func (c *SQLChecker) UpdateAvailable(ctx context.Context) (bool, error) {
	t, err := c.source.LastUpdate(ctx)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.After(c.seen), nil
}

func (c *SQLChecker) Mark(ctx context.Context) error {
	t, err := c.source.LastUpdate(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.seen = t
	c.mu.Unlock()
	return nil
}

// FileChecker compares a file's modification time, truncated to seconds,
// against the value seen at the last Mark. A missing file has the zero
// time.
type FileChecker struct {
	path string

	mu   sync.Mutex
	seen time.Time
}

func NewFileChecker(path string) *FileChecker {
	return &FileChecker{path: path}
}

func (c *FileChecker) modTime() (time.Time, error) {
	info, err := os.Stat(c.path)
	if os.IsNotExist(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime().Truncate(time.Second), nil
}

func (c *FileChecker) UpdateAvailable(context.Context) (bool, error) {
	t, err := c.modTime()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return t.After(c.seen), nil
}

func (c *FileChecker) Mark(context.Context) error {
	t, err := c.modTime()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.seen = t
	c.mu.Unlock()
	return nil
}
