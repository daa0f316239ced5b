//go:build unix

// Package lockfile guards a state directory so that only one FlowPipe
// process uses its SQLite database at a time.
//
// The lock is an flock(2) on a file inside the directory. The kernel drops it
// when the process exits, so a crash never leaves the directory locked; the
// file's contents only describe the holder for error messages.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"golang.org/x/sys/unix"
)

// FileName is the lock file created in the state directory.
const FileName = "flowpipe.lock"

// ErrLocked is wrapped by every *LockError.
var ErrLocked = errors.New("state directory is locked by another process")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Addr    string
	Running bool
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if h.Running {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", h.PID, state)
	if !h.Started.IsZero() {
		s += ", started " + h.Started.Format(time.RFC3339)
	}
	if h.Addr != "" {
		s += ", serving " + h.Addr
	}
	return s
}

// LockError reports a directory already locked by someone else.
type LockError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another FlowPipe instance holds %s: %s", e.Path, e.Holder)
}

func (e *LockError) Unwrap() []error {
	return []error{ErrLocked, e.Cause}
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock on stateDir, creating the directory when needed.
// addr is recorded for the benefit of whoever hits the lock next.
func Acquire(stateDir, addr string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, FileName)

	// O_TRUNC would wipe the holder's details before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		holder := ReadHolder(path)
		logx.Error().Err(err).Str("lock_path", path).Str("holder", holder.String()).Msg("lockfile.Acquire: state directory in use")
		return nil, &LockError{Path: path, Holder: holder, Cause: err}
	}

	if err := writeHolder(file, addr); err != nil {
		_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	logx.Info().Str("lock_path", path).Int("pid", os.Getpid()).Msg("lockfile.Acquire: state directory locked")
	return &Lock{file: file, path: path}, nil
}

func writeHolder(f *os.File, addr string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\naddr=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339), addr)
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		logx.Warn().Err(err).Msg("lockfile.writeHolder: sync failed")
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Warn().Err(err).Str("lock_path", l.path).Msg("Lock.Release: failed to remove lock file")
	}
	var errs []error
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil
	logx.Info().Str("lock_path", l.path).Msg("Lock.Release: state directory unlocked")
	return errors.Join(errs...)
}

// ReadHolder parses the lock file at path. Missing or garbled files yield a
// zero Holder.
func ReadHolder(path string) Holder {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}
	}
	defer f.Close()
	return parseHolder(f)
}

func parseHolder(r io.Reader) Holder {
	var h Holder
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		case "addr":
			h.Addr = value
		}
	}
	if h.PID > 0 {
		h.Running = processRunning(h.PID)
	}
	return h
}

// processRunning probes pid with signal 0. EPERM still means it exists.
func processRunning(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
