// Package lock guards a pipeline's output folder against concurrent runs
// and individual steps against concurrent producers.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FileLock is an exclusive flock-backed lock held for the lifetime of a
// pipeline run. The holder stamps its PID into the file so a refused
// acquisition can name the process that owns the folder.
type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock acquires the lock without blocking. When another process holds
// it, the error carries that holder's stamped PID.
func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open run lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("acquire run lock %s (held by pid %s): %w",
			filepath.Base(fl.path), holderPID(fl.path), err)
	}

	if err := stampHolder(f); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return fmt.Errorf("stamp run lock: %w", err)
	}

	fl.file = f
	return nil
}

// stampHolder rewrites the locked file with the calling process's PID.
func stampHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return err
	}
	return f.Sync()
}

// holderPID reads the PID the current holder stamped. Advisory: the file
// may still be empty between the holder's flock and its stamp.
func holderPID(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	if pid := strings.TrimSpace(string(data)); pid != "" {
		return pid
	}
	return "unknown"
}

// Unlock releases and removes the lock file. A second call is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release run lock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close run lock: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil
	return nil
}
