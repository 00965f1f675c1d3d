package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeMarkerFile(t *testing.T, path string, pid int, hb time.Time) {
	t.Helper()
	body := fmt.Sprintf("pid=%d\nheartbeat=%s\n", pid, hb.UTC().Format(time.RFC3339))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

type monitorHarness struct {
	monitor    *Monitor
	terminated []int
	restarts   int
}

func newMonitorHarness(t *testing.T, markerPath string, now time.Time, alive bool) *monitorHarness {
	t.Helper()
	h := &monitorHarness{}
	h.monitor = NewMonitor(MonitorOptions{
		MarkerPath: markerPath,
		Timeout:    3 * time.Minute,
		Logger:     zap.NewNop(),
		Restart: func(context.Context) error {
			h.restarts++
			return nil
		},
		Terminate: func(pid int) error {
			h.terminated = append(h.terminated, pid)
			return nil
		},
		Alive: func(int) bool { return alive },
		Clock: func() time.Time { return now },
	})
	return h
}

func TestCheckFreshHeartbeat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submitd.lock")
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	writeMarkerFile(t, path, 4242, now.Add(-time.Minute))

	h := newMonitorHarness(t, path, now, true)
	require.NoError(t, h.monitor.Check(context.Background()))
	assert.Empty(t, h.terminated)
	assert.Zero(t, h.restarts)
}

func TestCheckMissingMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submitd.lock")
	h := newMonitorHarness(t, path, time.Now(), true)

	require.NoError(t, h.monitor.Check(context.Background()))
	assert.Zero(t, h.restarts, "no marker means no instance to heal")
}

func TestCheckStaleHeartbeatHeals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submitd.lock")
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	writeMarkerFile(t, path, 4242, now.Add(-10*time.Minute))

	h := newMonitorHarness(t, path, now, true)
	require.NoError(t, h.monitor.Check(context.Background()))
	assert.Equal(t, []int{4242}, h.terminated)
	assert.Equal(t, 1, h.restarts)
	assert.Equal(t, 1, h.monitor.Restarts())
}

func TestCheckStaleDeadProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submitd.lock")
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	writeMarkerFile(t, path, 4242, now.Add(-10*time.Minute))

	h := newMonitorHarness(t, path, now, false)
	require.NoError(t, h.monitor.Check(context.Background()))
	assert.Empty(t, h.terminated, "a dead process is not signalled")
	assert.Equal(t, 1, h.restarts)
}

func TestCheckRecoversAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "submitd.lock")
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	writeMarkerFile(t, path, 4242, now.Add(-10*time.Minute))

	h := newMonitorHarness(t, path, now, false)
	require.NoError(t, h.monitor.Check(context.Background()))
	require.Equal(t, 1, h.restarts)

	// The restarted supervisor stamps a fresh heartbeat; the next check is quiet.
	writeMarkerFile(t, path, 4243, now)
	require.NoError(t, h.monitor.Check(context.Background()))
	assert.Equal(t, 1, h.restarts)
}
