package supervisor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockHeld means another submitd instance owns the worker identity.
var ErrLockHeld = errors.New("lock already held by another process")

// Marker is the exclusive process marker: an advisory file lock held for the
// supervisor's lifetime, whose contents record the pid and last heartbeat.
// Presence plus staleness of this file is the sole signal the health monitor
// reads.
type Marker struct {
	fl *flock.Flock
}

// AcquireMarker takes the exclusive lock or fails fast with ErrLockHeld.
func AcquireMarker(path string) (*Marker, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire marker %s: %w", path, err)
	}
	if !ok {
		pid, _, rerr := ReadMarker(path)
		if rerr == nil {
			return nil, fmt.Errorf("%w: pid %d", ErrLockHeld, pid)
		}
		return nil, ErrLockHeld
	}
	return &Marker{fl: fl}, nil
}

// WriteHeartbeat rewrites the marker contents. Called on every heartbeat
// tick while the lock is held.
func (m *Marker) WriteHeartbeat(pid int, ts time.Time) error {
	body := fmt.Sprintf("pid=%d\nheartbeat=%s\n", pid, ts.UTC().Format(time.RFC3339))
	if err := os.WriteFile(m.fl.Path(), []byte(body), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}

// Release unlocks and removes the marker.
func (m *Marker) Release() error {
	path := m.fl.Path()
	if err := m.fl.Unlock(); err != nil {
		return fmt.Errorf("release marker: %w", err)
	}
	_ = os.Remove(path)
	return nil
}

// ReadMarker parses the pid and heartbeat timestamp out of a marker file.
func ReadMarker(path string) (pid int, heartbeat time.Time, err error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	for _, line := range strings.Split(string(bz), "\n") {
		switch {
		case strings.HasPrefix(line, "pid="):
			pid, err = strconv.Atoi(strings.TrimPrefix(line, "pid="))
			if err != nil {
				return 0, time.Time{}, fmt.Errorf("parse marker pid: %w", err)
			}
		case strings.HasPrefix(line, "heartbeat="):
			heartbeat, err = time.Parse(time.RFC3339, strings.TrimPrefix(line, "heartbeat="))
			if err != nil {
				return 0, time.Time{}, fmt.Errorf("parse marker heartbeat: %w", err)
			}
		}
	}
	if pid == 0 || heartbeat.IsZero() {
		return 0, time.Time{}, fmt.Errorf("marker %s is incomplete", path)
	}
	return pid, heartbeat, nil
}
