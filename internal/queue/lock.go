package queue

import (
	"context"
	"errors"
	"time"
)

// ErrLocked is returned by AcquireLock when another process owns the queue
var ErrLocked = errors.New("queue is locked by another process")

// LockPollInterval is how often WaitLock retries a held lock
const LockPollInterval = 20 * time.Millisecond

// LockPath returns the sidecar lock file for a queue stored at dataPath
func LockPath(dataPath string) string {
	return dataPath + ".lock"
}

// WaitLock retries AcquireLock until the lock is free or ctx is done
func WaitLock(ctx context.Context, path string) (*Lock, error) {
	for {
		l, err := AcquireLock(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(LockPollInterval):
		}
	}
}
