package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// MonitorOptions configures a health monitor.
type MonitorOptions struct {
	MarkerPath string
	// Timeout is the staleness bound; default three heartbeat intervals.
	Timeout    time.Duration
	CheckEvery time.Duration

	// Restart starts a fresh supervisor instance. Must be safe to call after
	// the stale one has been torn down.
	Restart func(ctx context.Context) error
	Logger  *zap.Logger

	// Terminate and Alive are overridable for tests; defaults signal the pid.
	Terminate func(pid int) error
	Alive     func(pid int) bool
	Clock     func() time.Time
}

// Monitor watches the marker file independently of the supervisor and heals
// a stale instance. It never blocks, and is never blocked by, an in-flight
// cycle.
type Monitor struct {
	opts MonitorOptions
	cron *cron.Cron

	mu       sync.Mutex
	restarts int

	logger *zap.Logger
	now    func() time.Time
}

// NewMonitor builds a health monitor.
func NewMonitor(o MonitorOptions) *Monitor {
	if o.Timeout <= 0 {
		o.Timeout = 180 * time.Second
	}
	if o.CheckEvery <= 0 {
		o.CheckEvery = o.Timeout / 3
	}
	if o.Terminate == nil {
		o.Terminate = func(pid int) error {
			proc, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			return proc.Signal(syscall.SIGTERM)
		}
	}
	if o.Alive == nil {
		o.Alive = func(pid int) bool {
			proc, err := os.FindProcess(pid)
			if err != nil {
				return false
			}
			return proc.Signal(syscall.Signal(0)) == nil
		}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return &Monitor{opts: o, logger: o.Logger, now: o.Clock}
}

// Check inspects the marker once. A missing marker means no instance claims
// the identity, which is not the monitor's problem. A fresh heartbeat means
// no action. A stale one triggers exactly one termination-and-restart.
func (m *Monitor) Check(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pid, heartbeat, err := ReadMarker(m.opts.MarkerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read marker: %w", err)
	}

	age := m.now().Sub(heartbeat)
	if age <= m.opts.Timeout {
		return nil
	}

	// Stale heartbeat with the marker still present: heal.
	if pid != os.Getpid() && m.opts.Alive(pid) {
		m.logger.Warn("terminating stale supervisor process",
			zap.Int("pid", pid),
			zap.Duration("heartbeat_age", age))
		if err := m.opts.Terminate(pid); err != nil {
			return fmt.Errorf("terminate pid %d: %w", pid, err)
		}
	}

	m.restarts++
	// DaemonState transition, deliberately not a submission record.
	m.logger.Warn("stale heartbeat detected, restarting supervisor",
		zap.Int("stale_pid", pid),
		zap.Duration("heartbeat_age", age),
		zap.Duration("timeout", m.opts.Timeout),
		zap.Int("restart_count", m.restarts))
	return m.opts.Restart(ctx)
}

// Restarts returns how many times the monitor has healed the supervisor.
func (m *Monitor) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// Start begins periodic checks on the monitor's own schedule.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)),
	)
	spec := fmt.Sprintf("@every %ds", int(m.opts.CheckEvery.Seconds()))
	if _, err := m.cron.AddFunc(spec, func() {
		if err := m.Check(ctx); err != nil {
			m.logger.Error("health check failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("health monitor started",
		zap.Duration("timeout", m.opts.Timeout),
		zap.Duration("check_every", m.opts.CheckEvery))
	return nil
}

// Stop halts the check schedule.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}
