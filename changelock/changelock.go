// Package changelock provides the OS-level exclusive file locks the marker
// and comment commit engines use to serialize concurrent writers against the
// same change (or the same change+revision, for comments). Locks live under
// a repository's info/kenjutu directory, outside of refs/objects, so they
// never become part of the versioned history themselves.
package changelock

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dolthub/fslock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// lockTimeout bounds how long Acquire/AcquireComment will wait for a
// contended lock before giving up. Git-level writers hold these for the
// duration of a single reviewed-file toggle or comment mutation, never
// longer, so a long wait here means a stuck or crashed holder.
const lockTimeout = 30 * time.Second

// Lock is a held exclusive lock. Release must be called exactly once to
// drop it and remove the backing lock file.
type Lock struct {
	path   string
	fl     *fslock.Lock
	logger *zap.Logger
}

// Acquire takes the per-change-id marker commit lock, blocking (up to
// lockTimeout) if another process already holds it.
//
// Lock path: info/kenjutu/lock/{changeID}
func Acquire(gitDir, changeID string, logger *zap.Logger) (*Lock, error) {
	path := MarkerLockPath(gitDir, changeID)
	return acquire(path, logger)
}

// AcquireComment takes the per-(change-id, revision) comment commit lock.
// Comment writes use a separate lock namespace from marker writes so review
// state updates never contend with comment updates.
//
// Lock path: info/kenjutu/comment-lock/{changeID}/{revisionSHA}
func AcquireComment(gitDir, changeID, revisionSHA string, logger *zap.Logger) (*Lock, error) {
	path := CommentLockPath(gitDir, changeID, revisionSHA)
	return acquire(path, logger)
}

// MarkerLockPath returns the marker commit lock file path for changeID.
func MarkerLockPath(gitDir, changeID string) string {
	return filepath.Join(gitDir, "info", "kenjutu", "lock", changeID)
}

// CommentLockPath returns the comment commit lock file path for
// (changeID, revisionSHA).
func CommentLockPath(gitDir, changeID, revisionSHA string) string {
	return filepath.Join(gitDir, "info", "kenjutu", "comment-lock", changeID, revisionSHA)
}

func acquire(path string, logger *zap.Logger) (*Lock, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, errors.Wrap(err, "changelock: create lock dir")
	}

	fl := fslock.New(path)
	if err := fl.LockWithTimeout(lockTimeout); err != nil {
		return nil, errors.Wrapf(err, "changelock: acquire lock at %s", path)
	}

	if logger != nil {
		logger.Info("acquired lock", zap.String("path", path))
	}
	return &Lock{path: path, fl: fl, logger: logger}, nil
}

// Path returns the filesystem path backing this lock.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes its backing file. Failure to remove
// the file is logged, not returned: the lock itself is already released by
// the time removal is attempted, so a stale empty file left behind does not
// affect correctness, only tidiness.
func (l *Lock) Release() error {
	err := l.fl.Unlock()
	if l.logger != nil {
		if err != nil {
			l.logger.Warn("failed to release lock", zap.String("path", l.path), zap.Error(err))
		} else {
			l.logger.Info("released lock", zap.String("path", l.path))
		}
	}
	if err == nil {
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) && l.logger != nil {
			l.logger.Warn("failed to remove lock file", zap.String("path", l.path), zap.Error(rmErr))
		}
	}
	return errors.Wrapf(err, "changelock: release lock at %s", l.path)
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
