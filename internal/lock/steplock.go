package lock

import (
	"fmt"
	"os"
	"path/filepath"
)

// StepLock is a sentinel file ("lock." + key) marking that some process is
// producing a step's outputs. Unlike FileLock it survives the creating
// process: a lock left behind by a crashed run stays on disk until broken.
type StepLock struct {
	path string
}

func NewStepLock(dir, key string) *StepLock {
	return &StepLock{path: filepath.Join(dir, "lock."+key)}
}

func (l *StepLock) Path() string {
	return l.path
}

// Acquire creates the lock file. It returns false when the file already
// exists, meaning another process holds (or abandoned) the lock.
func (l *StepLock) Acquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("create step lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Sync(); err != nil {
		f.Close()
		return false, fmt.Errorf("sync step lock: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close step lock: %w", err)
	}
	return true, nil
}

// Break removes a foreign lock so the caller can take over the step.
func (l *StepLock) Break() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("break step lock: %w", err)
	}
	return nil
}

// Release removes the lock held by this run. Missing files are not an
// error; a second release is a no-op.
func (l *StepLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release step lock: %w", err)
	}
	return nil
}

func (l *StepLock) Held() bool {
	_, err := os.Stat(l.path)
	return err == nil
}
