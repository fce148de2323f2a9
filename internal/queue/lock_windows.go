//go:build windows

package queue

import (
	"fmt"
	"os"
	"path/filepath"
)

// Lock is an advisory single-writer lock on a queue
type Lock struct {
	f    *os.File
	path string
}

// AcquireLock creates path exclusively; an existing file means another
// process holds the queue.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock. Safe to call on a nil lock.
func (l *Lock) Release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Close()
	_ = os.Remove(l.path)
	l.f = nil
}
