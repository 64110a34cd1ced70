package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// InstanceLock guards a state directory against two traders mutating the
// same order set. The lock file records the owner pid; a lock whose owner
// is no longer running may be taken over.
type InstanceLock struct {
	path string
	file *os.File
}

func AcquireInstanceLock(root string) (*InstanceLock, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	path := filepath.Join(root, ".instance.lock")

	for attempts := 0; attempts < 3; attempts++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if writeErr := writeLockFile(f); writeErr != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, writeErr
			}
			return &InstanceLock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		stale, reason, staleErr := lockIsStale(path)
		if staleErr != nil {
			return nil, fmt.Errorf("instance lock exists: %s (stale check failed: %v)", path, staleErr)
		}
		if !stale {
			return nil, fmt.Errorf("instance lock exists: %s (%s)", path, reason)
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, removeErr
		}
	}
	return nil, fmt.Errorf("instance lock exists: %s", path)
}

func (l *InstanceLock) Release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}

func writeLockFile(f *os.File) error {
	payload := "pid=" + strconv.Itoa(os.Getpid()) +
		"\nstarted_at=" + time.Now().UTC().Format(time.RFC3339) + "\n"
	if _, err := f.WriteString(payload); err != nil {
		return err
	}
	return f.Sync()
}

func lockIsStale(path string) (bool, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, "lock_disappeared", nil
		}
		return false, "", err
	}
	pid := parseLockPID(data)
	if pid <= 0 {
		return false, "missing_owner_pid", nil
	}
	if processAlive(pid) {
		return false, "owner_process_running", nil
	}
	return true, "owner_process_not_running", nil
}

func parseLockPID(data []byte) int {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			if pid, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return pid
			}
		}
	}
	return 0
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}
