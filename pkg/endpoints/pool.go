package endpoints

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/emissions-network/submitx/pkg/utils"
)

// Status is the health state of a single RPC endpoint.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// probePath is a cheap read query every gateway answers.
const probePath = "/v1/query/height"

// Endpoint is one ranked RPC gateway. Lower priority wins.
type Endpoint struct {
	URL                 string    `json:"url"`
	Priority            int       `json:"priority"`
	Status              Status    `json:"status"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	LastFailureAt       time.Time `json:"last_failure_at"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Selection is the result of Select. Degraded is set when every endpoint is
// down and the least-recently-failed one was handed out as a last resort.
type Selection struct {
	Endpoint Endpoint
	Degraded bool
}

// Pool owns the endpoint set. Status transitions happen only through Report
// and health-check results, never through consumers.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint

	downAfter int
	client    *http.Client
	logger    *zap.Logger
	now       func() time.Time
}

// Option customises the pool.
type Option func(*Pool)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithHTTPClient overrides the probe client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pool) { p.client = c }
}

// New builds a pool from an ordered URL list; position defines priority.
func New(urls []string, downAfter int, logger *zap.Logger, opts ...Option) *Pool {
	if downAfter <= 0 {
		downAfter = 3
	}
	p := &Pool{
		downAfter: downAfter,
		client:    &http.Client{Timeout: 5 * time.Second},
		logger:    logger,
		now:       time.Now,
	}
	for i, u := range utils.Dedup(urls) {
		p.endpoints = append(p.endpoints, &Endpoint{
			URL:      u,
			Priority: i + 1,
			Status:   StatusHealthy,
		})
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select returns the highest-priority endpoint that is not down. If all are
// down it returns the least-recently-failed one flagged as a degraded
// selection; it never fails.
func (p *Pool) Select() Selection {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Endpoint
	for _, ep := range p.endpoints {
		if ep.Status == StatusDown {
			continue
		}
		if best == nil || ep.Priority < best.Priority {
			best = ep
		}
	}
	if best != nil {
		return Selection{Endpoint: *best}
	}

	// Last resort: everything is down, pick the one that failed longest ago.
	var stalest *Endpoint
	for _, ep := range p.endpoints {
		if stalest == nil || ep.LastFailureAt.Before(stalest.LastFailureAt) {
			stalest = ep
		}
	}
	p.logger.Warn("all endpoints down, degraded selection",
		zap.String("endpoint", stalest.URL))
	return Selection{Endpoint: *stalest, Degraded: true}
}

// Report records a call outcome for the endpoint. A nil err is a success and
// resets the endpoint to healthy.
func (p *Pool) Report(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report(url, err)
}

func (p *Pool) report(url string, err error) {
	for _, ep := range p.endpoints {
		if ep.URL != url {
			continue
		}
		now := p.now()
		ep.LastCheckedAt = now
		if err == nil {
			if ep.Status != StatusHealthy {
				p.logger.Info("endpoint recovered",
					zap.String("endpoint", ep.URL),
					zap.String("was", string(ep.Status)))
			}
			ep.Status = StatusHealthy
			ep.ConsecutiveFailures = 0
			return
		}
		ep.ConsecutiveFailures++
		ep.LastFailureAt = now
		if ep.ConsecutiveFailures >= p.downAfter {
			ep.Status = StatusDown
		} else {
			ep.Status = StatusDegraded
		}
		p.logger.Warn("endpoint failure",
			zap.String("endpoint", ep.URL),
			zap.String("status", string(ep.Status)),
			zap.Int("consecutive_failures", ep.ConsecutiveFailures),
			zap.Error(err))
		return
	}
}

// HealthCheckAll probes every endpoint concurrently, one worker per endpoint,
// each probe bounded by timeout, and folds the results into the status set.
func (p *Pool) HealthCheckAll(ctx context.Context, timeout time.Duration) {
	p.mu.Lock()
	urls := make([]string, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		urls = append(urls, ep.URL)
	}
	p.mu.Unlock()
	if len(urls) == 0 {
		return
	}

	results := make([]error, len(urls))
	pool := pond.NewPool(len(urls))
	group := pool.NewGroupContext(ctx)
	for i, u := range urls {
		i, u := i, u
		group.Submit(func() {
			results[i] = p.probe(ctx, u, timeout)
		})
	}
	_ = group.Wait()
	pool.StopAndWait()

	p.mu.Lock()
	for i, u := range urls {
		p.report(u, results[i])
	}
	p.mu.Unlock()
}

func (p *Pool) probe(ctx context.Context, url string, timeout time.Duration) error {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, url+probePath, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()
	if resp.StatusCode >= 500 {
		return &ProbeError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// ProbeError reports a server-side probe failure.
type ProbeError struct {
	URL        string
	StatusCode int
}

func (e *ProbeError) Error() string {
	return "probe " + e.URL + ": server error"
}

// Snapshot returns a copy of the current endpoint states for observability.
func (p *Pool) Snapshot() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, *ep)
	}
	return out
}
