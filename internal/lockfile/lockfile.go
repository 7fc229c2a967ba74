// Package lockfile makes sure only one PiDogd drives the robot at a time.
//
// The servo bus and sound card have no arbitration of their own, so the daemon takes an
// flock on a file in its state directory. The kernel drops the lock when the process exits,
// however it exits.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "pidogd.lock"

// Owner describes the process holding the lock.
type Owner struct {
	PID     int
	Driver  string
	Started time.Time
}

func (o Owner) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	if o.Driver != "" {
		fmt.Fprintf(&b, "driver=%s\n", o.Driver)
	}
	if !o.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", o.Started.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// parseOwner reads the key=value lines written by encode. Unknown keys are ignored.
func parseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				o.PID = pid
			}
		case "driver":
			o.Driver = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.Started = t
			}
		}
	}
	return o
}

// Lock represents an active directory lock
type Lock struct {
	file     *os.File
	path     string
	owner    Owner
	acquired bool
}

// AcquireLock takes the robot lock in stateDir for the given driver.
// If another daemon holds it, the returned *LockError describes that process.
func AcquireLock(stateDir, driver string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	slog.Debug("AcquireLock: attempting", "lock_path", lockPath, "driver", driver)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Do not truncate before holding the lock, or the holder's details are lost.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("AcquireLock: robot is already driven by another PiDogd instance",
			"error", err, "lock_path", lockPath, "holder", holder)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), Driver: driver, Started: time.Now()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: robot lock acquired", "lock_path", lockPath, "pid", owner.PID, "driver", driver)
	return &Lock{file: file, path: lockPath, owner: owner, acquired: true}, nil
}

func writeOwner(file *os.File, o Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(o.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("AcquireLock: failed to sync lock file", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Owner returns what this process recorded in the lock file.
func (l *Lock) Owner() Owner { return l.owner }

// Release releases the lock and removes the lock file.
// This method is safe to call multiple times.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}

	// Remove while still holding the lock so a waiting daemon never sees our stale details.
	if err := os.Remove(l.path); err != nil {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.Release: failed to close lock file", "error", err, "lock_path", l.path)
	}

	l.acquired = false
	l.file = nil
	slog.Info("Lock.Release: robot lock released", "lock_path", l.path)
	return nil
}

// LockError is returned when another process already holds the robot lock.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("Another PiDogd instance is already driving the robot.\n\nLock file: %s", e.LockPath)
	if e.Holder != "" {
		msg += "\nHolder: " + e.Holder
	}
	msg += "\n\nTwo daemons on the same servo bus fight over every joint. Stop the other instance first.\n" +
		"If it is gone and the lock is stale, remove it with:\n" +
		"  rm " + e.LockPath
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the lock file of the current holder for error messages.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	if len(data) == 0 {
		return "lock file exists but contains no process information"
	}
	o := parseOwner(string(data))
	if o.PID == 0 {
		return fmt.Sprintf("unrecognized lock contents: %q", strings.TrimSpace(string(data)))
	}

	state := "running"
	if !isProcessRunning(o.PID) {
		state = "not running - stale lock"
	}
	desc := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.Driver != "" {
		desc += ", driver " + o.Driver
	}
	if !o.Started.IsZero() {
		desc += ", since " + o.Started.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning checks if a process with the given PID is currently running
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
