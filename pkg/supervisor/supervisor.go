package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/emissions-network/submitx/pkg/audit"
	"github.com/emissions-network/submitx/pkg/chain"
	"github.com/emissions-network/submitx/pkg/endpoints"
	"github.com/emissions-network/submitx/pkg/retry"
)

// CycleRunner is the one-attempt submission state machine the supervisor
// schedules.
type CycleRunner interface {
	Run(ctx context.Context) (audit.Record, error)
}

// Options configures a Supervisor.
type Options struct {
	TopicID    uint64
	WorkerAddr string

	Runner CycleRunner
	Pool   *endpoints.Pool
	Chains chain.Factory
	Marker *Marker
	Logger *zap.Logger

	HeartbeatInterval time.Duration
	// PollInterval is the cadence of the edge-trigger window poll; defaults
	// to the chain block time.
	PollInterval time.Duration
	QueryTimeout time.Duration
	// CycleGrace extends the hard wall-clock ceiling of a cycle past the
	// estimated window end.
	CycleGrace       time.Duration
	BlockTimeSeconds int

	StartPaused bool
	Clock       func() time.Time
}

// Supervisor owns the recurring schedule for one worker identity: heartbeat
// emission into the marker, edge-triggered cycle scheduling, and strictly
// sequential cycle execution. One active instance per identity, enforced by
// the marker lock acquired by the caller.
type Supervisor struct {
	opts Options

	cron *cron.Cron
	// seen maps a window key to its end block; a cycle fires only when an
	// unseen (or previously closed) window turns up open.
	seen   *xsync.Map[string, uint64]
	paused atomic.Bool

	cycleMu sync.Mutex

	stateMu sync.Mutex
	state   DaemonState

	observeRetry retry.Config
	logger       *zap.Logger
	now          func() time.Time
}

// New builds a supervisor around an already-acquired marker.
func New(o Options) (*Supervisor, error) {
	if o.Marker == nil {
		return nil, fmt.Errorf("supervisor requires an acquired marker")
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 60 * time.Second
	}
	if o.BlockTimeSeconds <= 0 {
		o.BlockTimeSeconds = 6
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Duration(o.BlockTimeSeconds) * time.Second
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 15 * time.Second
	}
	if o.CycleGrace <= 0 {
		o.CycleGrace = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	s := &Supervisor{
		opts: o,
		seen: xsync.NewMap[string, uint64](),
		observeRetry: retry.Config{
			MaxRetries:    2,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			Multiplier:    2.0,
			JitterEnabled: true,
		},
		logger: o.Logger,
		now:    o.Clock,
	}
	s.paused.Store(o.StartPaused)
	s.state = DaemonState{
		PID:       os.Getpid(),
		StartedAt: s.now(),
		Paused:    o.StartPaused,
	}
	return s, nil
}

// Start emits the first heartbeat and begins the cron schedule. The context
// bounds every scheduled run.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.EmitHeartbeat(); err != nil {
		return err
	}

	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)),
	)
	hbSpec := fmt.Sprintf("@every %ds", int(s.opts.HeartbeatInterval.Seconds()))
	if _, err := s.cron.AddFunc(hbSpec, func() {
		if err := s.EmitHeartbeat(); err != nil {
			s.logger.Error("heartbeat emission failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	// Proactive probe pass alongside the heartbeat; Tick adds a reactive one
	// right before each cycle.
	if _, err := s.cron.AddFunc(hbSpec, func() {
		s.opts.Pool.HealthCheckAll(ctx, s.opts.QueryTimeout)
	}); err != nil {
		return err
	}
	pollSpec := fmt.Sprintf("@every %ds", int(s.opts.PollInterval.Seconds()))
	if _, err := s.cron.AddFunc(pollSpec, func() {
		if err := s.Tick(ctx); err != nil {
			s.logger.Warn("window tick failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("supervisor started",
		zap.Uint64("topic_id", s.opts.TopicID),
		zap.String("worker_addr", s.opts.WorkerAddr),
		zap.Duration("heartbeat_interval", s.opts.HeartbeatInterval),
		zap.Duration("poll_interval", s.opts.PollInterval))
	return nil
}

// EmitHeartbeat stamps the marker file and the in-memory state.
func (s *Supervisor) EmitHeartbeat() error {
	now := s.now()
	s.stateMu.Lock()
	s.state.LastHeartbeatAt = now
	pid := s.state.PID
	s.stateMu.Unlock()
	return s.opts.Marker.WriteHeartbeat(pid, now)
}

// Tick observes the chain and fires one cycle when an unseen window is open.
// It never lets a failing cycle escape: cycle outcomes live in the audit
// log, not in this error.
func (s *Supervisor) Tick(ctx context.Context) error {
	var win chain.SubmissionWindow
	err := retry.WithBackoff(ctx, s.observeRetry, s.logger, "observe window", func() error {
		sel := s.opts.Pool.Select()
		q := s.opts.Chains.NewQuerier(sel.Endpoint.URL)
		qctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
		w, werr := q.ObserveWindow(qctx, s.opts.TopicID, s.opts.WorkerAddr)
		if werr != nil {
			s.opts.Pool.Report(sel.Endpoint.URL, werr)
			return werr
		}
		s.opts.Pool.Report(sel.Endpoint.URL, nil)
		win = w
		return nil
	})
	if err != nil {
		return err
	}

	s.pruneSeen(win.ObservedAtBlock)
	if !win.Open() {
		return nil
	}

	key := fmt.Sprintf("%d:%s:%d", win.TopicID, win.WorkerAddr, win.WindowStartBlock)
	if _, loaded := s.seen.LoadOrStore(key, win.WindowEndBlock); loaded {
		return nil
	}

	if s.paused.Load() {
		s.logger.Info("paused, not scheduling cycle", zap.String("window", key))
		return nil
	}
	s.opts.Pool.HealthCheckAll(ctx, s.opts.QueryTimeout)
	s.runCycle(ctx, win)
	return nil
}

// runCycle executes one strictly-sequential cycle under a hard wall-clock
// ceiling. Cancellation at the ceiling still records: the runner owns that
// guarantee.
func (s *Supervisor) runCycle(ctx context.Context, win chain.SubmissionWindow) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ceiling := s.cycleCeiling(win)
	cctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	rec, err := s.opts.Runner.Run(cctx)

	s.stateMu.Lock()
	s.state.LastCycleAt = s.now()
	if err != nil || rec.Status == audit.StatusFailed {
		s.state.CyclesFailed++
	} else {
		s.state.CyclesCompleted++
	}
	s.stateMu.Unlock()

	if err != nil {
		// Audit write failure: fatal to the cycle, not to the process.
		s.logger.Error("cycle aborted", zap.Error(err))
	}
}

// cycleCeiling estimates the window's remaining wall-clock time plus grace.
func (s *Supervisor) cycleCeiling(win chain.SubmissionWindow) time.Duration {
	blockTime := time.Duration(s.opts.BlockTimeSeconds) * time.Second
	var remaining time.Duration
	if win.WindowEndBlock > win.ObservedAtBlock {
		remaining = time.Duration(win.WindowEndBlock-win.ObservedAtBlock) * blockTime
	}
	return remaining + s.opts.CycleGrace
}

// pruneSeen drops window keys whose end block is behind the chain head.
func (s *Supervisor) pruneSeen(head uint64) {
	s.seen.Range(func(key string, end uint64) bool {
		if end < head {
			s.seen.Delete(key)
		}
		return true
	})
}

// Pause stops scheduling new cycles; window tracking continues.
func (s *Supervisor) Pause() {
	s.paused.Store(true)
	s.stateMu.Lock()
	s.state.Paused = true
	s.stateMu.Unlock()
	s.logger.Info("supervisor paused")
}

// Resume re-enables cycle scheduling.
func (s *Supervisor) Resume() {
	s.paused.Store(false)
	s.stateMu.Lock()
	s.state.Paused = false
	s.stateMu.Unlock()
	s.logger.Info("supervisor resumed")
}

// State returns a snapshot of the daemon state.
func (s *Supervisor) State() DaemonState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Stop halts the schedule and waits for an in-flight cycle to finish its
// record step. The marker stays with its owner; release it after Stop.
func (s *Supervisor) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.cycleMu.Lock()
	s.cycleMu.Unlock() //nolint:staticcheck // barrier: wait for in-flight cycle
	s.logger.Info("supervisor stopped")
}
