//go:build unix

package dispatch

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// lockFile takes a non-blocking flock on path. If the file was unlinked and
// recreated between open and flock, the stale inode is dropped and the lock
// retried.
func lockFile(path string) (*os.File, error) {
	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, err
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, errors.New("lock held")
			}
			return nil, err
		}

		var held, onDisk unix.Stat_t
		if err := unix.Fstat(int(f.Fd()), &held); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := unix.Stat(path, &onDisk); err != nil || held.Ino != onDisk.Ino || held.Dev != onDisk.Dev {
			_ = f.Close()
			continue
		}

		_ = f.Truncate(0)
		_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
		return f, nil
	}
	return nil, fmt.Errorf("lock file %s kept changing", path)
}

func (l *ProcessLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	rmErr := os.Remove(l.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return errors.Join(rmErr, err)
}
