package daemon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/emissions-network/submitx/pkg/audit"
	"github.com/emissions-network/submitx/pkg/chain"
	"github.com/emissions-network/submitx/pkg/config"
	"github.com/emissions-network/submitx/pkg/cycle"
	"github.com/emissions-network/submitx/pkg/endpoints"
	"github.com/emissions-network/submitx/pkg/logging"
	"github.com/emissions-network/submitx/pkg/supervisor"
	"github.com/emissions-network/submitx/pkg/utils"
	"github.com/emissions-network/submitx/pkg/window"
)

// App wires the submission daemon: endpoint pool, chain queriers, audit log,
// cycle runner, supervisor, health monitor, and the status/admin HTTP API.
type App struct {
	Cfg    config.Config
	Logger *zap.Logger

	Pool    *endpoints.Pool
	Chains  chain.Factory
	Audit   *audit.Log
	Tracker *window.Tracker
	Runner  *cycle.Runner

	Marker  *supervisor.Marker
	Monitor *supervisor.Monitor
	Server  *http.Server

	superMu sync.Mutex
	super   *supervisor.Supervisor

	creds     cycle.CredentialProvider
	predictor cycle.Predictor
}

// Initialize builds the app. Lock acquisition failures surface as
// supervisor.ErrLockHeld so main can map them to an exit code.
func Initialize(ctx context.Context, cfg config.Config, creds cycle.CredentialProvider, predictor cycle.Predictor) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	pool := endpoints.New(cfg.Endpoints, cfg.EndpointDownAfter, logger)
	chains := chain.NewHTTPFactory(chain.Opts{
		Timeout: cfg.QueryTimeout.Duration,
		Logger:  logger,
	})

	var opts []audit.Option
	if cfg.Redis.Addr != "" {
		mirror, merr := audit.NewMirror(ctx, audit.MirrorOpts{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   utils.EnvInt64("AUDIT_STREAM_MAXLEN", 0),
		}, logger)
		if merr != nil {
			// The mirror is an optional sink; a missing Redis must not keep
			// the worker from submitting.
			logger.Warn("audit mirror unavailable", zap.Error(merr))
		} else {
			opts = append(opts, audit.WithMirror(mirror))
		}
	}
	auditLog, err := audit.Open(cfg.AuditPath, logger, opts...)
	if err != nil {
		return nil, err
	}

	tracker := window.New(cfg.BlockTimeSeconds)
	runner := cycle.New(cycle.Options{
		TopicID:        cfg.TopicID,
		Credentials:    creds,
		Predictor:      predictor,
		Pool:           pool,
		Chains:         chains,
		Tracker:        tracker,
		Audit:          auditLog,
		Logger:         logger,
		MaxRetries:     cfg.MaxRetries,
		ConfirmTimeout: cfg.ConfirmTimeout.Duration,
	})

	marker, err := supervisor.AcquireMarker(cfg.LockPath)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}

	a := &App{
		Cfg:       cfg,
		Logger:    logger,
		Pool:      pool,
		Chains:    chains,
		Audit:     auditLog,
		Tracker:   tracker,
		Runner:    runner,
		Marker:    marker,
		creds:     creds,
		predictor: predictor,
	}

	if err := a.newSupervisor(); err != nil {
		_ = marker.Release()
		_ = auditLog.Close()
		return nil, err
	}

	a.Monitor = supervisor.NewMonitor(supervisor.MonitorOptions{
		MarkerPath: cfg.LockPath,
		Timeout:    cfg.HeartbeatTimeout.Duration,
		CheckEvery: cfg.HeartbeatInterval.Duration,
		Restart:    a.restartSupervisor,
		Logger:     logger,
	})

	a.SetupServer()
	return a, nil
}

// newSupervisor builds (or rebuilds) the supervisor around the held marker.
func (a *App) newSupervisor() error {
	paused := a.Cfg.PauseOnStart
	if prev := a.super; prev != nil {
		paused = prev.State().Paused
	}
	s, err := supervisor.New(supervisor.Options{
		TopicID:           a.Cfg.TopicID,
		WorkerAddr:        a.Cfg.WorkerAddr,
		Runner:            a.Runner,
		Pool:              a.Pool,
		Chains:            a.Chains,
		Marker:            a.Marker,
		Logger:            a.Logger,
		HeartbeatInterval: a.Cfg.HeartbeatInterval.Duration,
		QueryTimeout:      a.Cfg.QueryTimeout.Duration,
		BlockTimeSeconds:  a.Cfg.BlockTimeSeconds,
		StartPaused:       paused,
	})
	if err != nil {
		return err
	}
	a.super = s
	return nil
}

// restartSupervisor is the monitor's healing callback: tear the stale
// instance down and start a replacement on the same marker.
func (a *App) restartSupervisor(ctx context.Context) error {
	a.superMu.Lock()
	defer a.superMu.Unlock()

	if a.super != nil {
		a.super.Stop()
	}
	if err := a.newSupervisor(); err != nil {
		return fmt.Errorf("rebuild supervisor: %w", err)
	}
	return a.super.Start(ctx)
}

// Supervisor returns the currently active supervisor instance.
func (a *App) Supervisor() *supervisor.Supervisor {
	a.superMu.Lock()
	defer a.superMu.Unlock()
	return a.super
}

// HealthCheck runs one proactive probe pass over the endpoint pool.
func (a *App) HealthCheck(ctx context.Context) {
	a.Pool.HealthCheckAll(ctx, a.Cfg.QueryTimeout.Duration)
}

// VerifyRegistration checks the worker is known to the chain and warns if
// not. Registration is managed out of band, so this never blocks startup.
func (a *App) VerifyRegistration(ctx context.Context) {
	sel := a.Pool.Select()
	c := chain.NewHTTPWithOpts(sel.Endpoint.URL, chain.Opts{
		Timeout: a.Cfg.QueryTimeout.Duration,
		Logger:  a.Logger,
	})
	info, err := c.GetWorkerInfo(ctx, a.Cfg.TopicID, a.Cfg.WorkerAddr)
	if err != nil {
		a.Logger.Warn("worker info unavailable", zap.Error(err))
		return
	}
	if !info.Registered {
		a.Logger.Warn("worker is not registered for topic",
			zap.Uint64("topic_id", a.Cfg.TopicID),
			zap.String("worker_addr", a.Cfg.WorkerAddr))
		return
	}
	a.Logger.Info("worker registration verified",
		zap.Uint64("topic_id", a.Cfg.TopicID),
		zap.String("worker_addr", a.Cfg.WorkerAddr),
		zap.Uint64("registered_at_block", info.RegisteredAt))
}

// TickOnce runs an immediate window poll before the cron takes over.
func (a *App) TickOnce(ctx context.Context) {
	if err := a.Supervisor().Tick(ctx); err != nil {
		a.Logger.Warn("initial window tick failed", zap.Error(err))
	}
}

// Start runs the daemon until the context is cancelled, then shuts down in
// order: HTTP server, monitor, supervisor (in-flight record completes),
// marker, audit log.
func (a *App) Start(ctx context.Context) error {
	if err := a.Supervisor().Start(ctx); err != nil {
		return err
	}
	if err := a.Monitor.Start(ctx); err != nil {
		return err
	}
	go func() { _ = a.Server.ListenAndServe() }()

	<-ctx.Done()
	a.Logger.Info("shutting down…")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(sctx)

	a.Monitor.Stop()
	a.Supervisor().Stop()
	if err := a.Marker.Release(); err != nil {
		a.Logger.Warn("marker release failed", zap.Error(err))
	}
	if err := a.Audit.Close(); err != nil {
		a.Logger.Warn("audit close failed", zap.Error(err))
	}
	_ = a.Logger.Sync()
	return nil
}
