package mmap

import (
	"fmt"
	"os"
	"sync"
)

// Lock is an open read-write handle holding the advisory exclusive lock of
// a dataset file. Other processes opening the file for writing get ErrLocked
// until Release.
type Lock struct {
	f    *os.File
	once sync.Once
	err  error
}

// LockFile opens path read-write and takes its exclusive lock without
// blocking.
func LockFile(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if err := osLock(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// File returns the locked handle. It must not be closed directly.
func (l *Lock) File() *os.File { return l.f }

// Release drops the lock and closes the handle. Only the first call does
// any work.
func (l *Lock) Release() error {
	l.once.Do(func() {
		uerr := osUnlock(l.f)
		l.err = l.f.Close()
		if uerr != nil {
			l.err = uerr
		}
	})
	return l.err
}
