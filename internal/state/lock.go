package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// ErrLocked is returned by Acquire when another run holds the lock.
var ErrLocked = errors.New("another run holds the lock")

// Locker guards against overlapping runs. The bot itself assumes a single
// instance; a Locker only enforces what the scheduler should already
// guarantee.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

type NopLock struct{}

func (NopLock) Acquire(context.Context) error { return nil }
func (NopLock) Release(context.Context) error { return nil }

// FileLock is an exclusive lock file. A lock file older than ttl is treated
// as left behind by a crashed run and reclaimed.
type FileLock struct {
	path  string
	owner string
	ttl   time.Duration
	now   func() time.Time
}

func NewFileLock(path, owner string, ttl time.Duration) *FileLock {
	return &FileLock{path: path, owner: owner, ttl: ttl, now: time.Now}
}

func (l *FileLock) Acquire(ctx context.Context) error {
	err := l.create()
	if err == nil || !errors.Is(err, fs.ErrExist) {
		return err
	}

	info, statErr := os.Stat(l.path)
	if statErr != nil {
		return ErrLocked
	}
	if l.ttl <= 0 || l.now().Sub(info.ModTime()) < l.ttl {
		return ErrLocked
	}

	// Stale
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale lock: %w", err)
	}
	if err := l.create(); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrLocked
		}
		return err
	}
	return nil
}

func (l *FileLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %d %s\n", l.owner, os.Getpid(), l.now().UTC().Format(time.RFC3339))
	return err
}

func (l *FileLock) Release(context.Context) error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
