package dispatch

import (
	"os"
	"path/filepath"
	"strings"
)

// ProcessLock is an exclusive, cross-process claim on a scheduler name.
// Release removes the lock file so a later run can acquire it again.
type ProcessLock struct {
	path string
	f    *os.File
}

func (l *ProcessLock) Path() string { return l.path }

// LockPath returns the lock file used for scheduler name under dir.
// An empty dir means os.TempDir().
func LockPath(dir, name string) string {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tagtimer-"+name+".lock")
}

// AcquireLock claims path for the scheduler name. It fails with
// *AlreadyRunningError when another holder exists.
func AcquireLock(name, path string) (*ProcessLock, error) {
	f, err := lockFile(path)
	if err != nil {
		return nil, &AlreadyRunningError{Name: name, LockPath: path, Err: err}
	}
	return &ProcessLock{path: path, f: f}, nil
}
