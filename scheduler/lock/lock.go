// Package lock keeps at most one scheduler tick running at a time across the cluster's
// shared filesystem. The lock is a plain file; its modification time decides whether
// a leftover lock from a crashed scheduler can be reclaimed.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// FileName is created under the configured base directory.
	FileName = "lock_process"

	DefaultGrace = 12 * time.Hour
)

// AcquireResult tells the caller how the lock was obtained, or that it was not.
type AcquireResult int

const (
	// Acquired: no lock existed and a new one was created.
	Acquired AcquireResult = iota
	// Reclaimed: a lock older than the grace window was overwritten.
	Reclaimed
	// Busy: another holder's lock is still fresh. Nothing was changed.
	Busy
)

func (r AcquireResult) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case Reclaimed:
		return "reclaimed"
	case Busy:
		return "busy"
	}
	return fmt.Sprintf("AcquireResult(%d)", int(r))
}

// LockToken is a held lock. Release deletes the lock file.
type LockToken struct {
	Path      string
	CreatedAt time.Time
	lock      *Lock
}

func (t *LockToken) Release() error {
	return t.lock.Delete()
}

// Lock is a file-based mutual exclusion primitive with mtime staleness.
type Lock struct {
	path  string
	grace time.Duration
}

// New returns a Lock at path. A non-positive grace uses DefaultGrace.
func New(path string, grace time.Duration) *Lock {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Lock{path: path, grace: grace}
}

// InDir returns the Lock for the standard lock file under dir.
func InDir(dir string, grace time.Duration) *Lock {
	return New(filepath.Join(dir, FileName), grace)
}

func (l *Lock) Path() string { return l.path }

func (l *Lock) Exists() (bool, error) {
	_, err := os.Stat(l.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "checking lock %s", l.path)
}

// Create writes a new lock stamped with now. It fails if the lock already exists.
func (l *Lock) Create(now time.Time) (*LockToken, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating lock %s", l.path)
	}
	return l.stamp(f, now)
}

func (l *Lock) overwrite(now time.Time) (*LockToken, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "overwriting lock %s", l.path)
	}
	return l.stamp(f, now)
}

func (l *Lock) stamp(f *os.File, now time.Time) (*LockToken, error) {
	_, werr := f.WriteString(now.UTC().Format(time.RFC3339) + "\n")
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(l.path)
		if werr == nil {
			werr = cerr
		}
		return nil, errors.Wrapf(werr, "writing lock %s", l.path)
	}
	if err := os.Chtimes(l.path, now, now); err != nil {
		return nil, errors.Wrapf(err, "stamping lock %s", l.path)
	}
	return &LockToken{Path: l.path, CreatedAt: now, lock: l}, nil
}

// Delete removes the lock. Deleting a missing lock is an error: the holder lost it.
func (l *Lock) Delete() error {
	if err := os.Remove(l.path); err != nil {
		return errors.Wrapf(err, "deleting lock %s", l.path)
	}
	return nil
}

// IsStale reports whether the lock's mtime is older than the grace window.
// A missing lock is not stale.
func (l *Lock) IsStale(now time.Time) (bool, error) {
	info, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "checking lock %s", l.path)
	}
	return now.Sub(info.ModTime()) > l.grace, nil
}

// Acquire takes the lock if it is absent or stale. When Busy the returned token is nil.
func (l *Lock) Acquire(now time.Time) (*LockToken, AcquireResult, error) {
	exists, err := l.Exists()
	if err != nil {
		return nil, Busy, err
	}
	if !exists {
		token, err := l.Create(now)
		if err != nil {
			if os.IsExist(errors.Cause(err)) {
				log.Infof("Lock %s was taken concurrently", l.path)
				return nil, Busy, nil
			}
			return nil, Busy, err
		}
		return token, Acquired, nil
	}

	stale, err := l.IsStale(now)
	if err != nil {
		return nil, Busy, err
	}
	if !stale {
		return nil, Busy, nil
	}
	log.Warnf("Reclaiming stale lock %s (older than %s)", l.path, l.grace)
	token, err := l.overwrite(now)
	if err != nil {
		return nil, Busy, err
	}
	return token, Reclaimed, nil
}
