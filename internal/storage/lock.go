package storage

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"
)

// lockRetry is how often a lock file held by another daemon is retried.
const lockRetry = 10 * time.Millisecond

// fileLock guards one snapshot file. The semaphore orders writers inside
// the daemon; flock on a sidecar file orders daemons sharing a state
// directory.
type fileLock struct {
	path string
	sem  chan struct{}
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path + ".lock", sem: make(chan struct{}, 1)}
}

// acquire blocks until both locks are held or ctx is done.
func (l *fileLock) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		<-l.sem
		return err
	}
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.file = f
			return nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			f.Close()
			<-l.sem
			return err
		}
		select {
		case <-time.After(lockRetry):
		case <-ctx.Done():
			f.Close()
			<-l.sem
			return ctx.Err()
		}
	}
}

// release drops both locks. The sidecar file stays so a daemon blocked on
// it never locks an unlinked inode.
func (l *fileLock) release() {
	if l.file == nil {
		return
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	l.file = nil
	<-l.sem
}
