package cycle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/emissions-network/submitx/pkg/audit"
	"github.com/emissions-network/submitx/pkg/chain"
	"github.com/emissions-network/submitx/pkg/endpoints"
	"github.com/emissions-network/submitx/pkg/retry"
	"github.com/emissions-network/submitx/pkg/window"
)

// Predictor yields the value to submit for a nonce. It is an external
// collaborator; the cycle treats it as opaque.
type Predictor interface {
	Predict(ctx context.Context, topicID, nonce uint64) (float64, error)
}

// CredentialProvider resolves the worker identity and signs payloads.
type CredentialProvider interface {
	WorkerAddress() string
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// Runner drives one end-to-end submission attempt: eligibility check,
// endpoint selection, submit, confirm, record. Exactly one audit record is
// appended per Run, whatever path the attempt takes.
type Runner struct {
	topicID   uint64
	creds     CredentialProvider
	predictor Predictor
	pool      *endpoints.Pool
	chains    chain.Factory
	tracker   *window.Tracker
	audit     *audit.Log
	logger    *zap.Logger

	maxRetries     int
	confirmTimeout time.Duration
	confirmBackoff retry.Config
	now            func() time.Time
}

// Options bundles the Runner collaborators and tuning knobs.
type Options struct {
	TopicID        uint64
	Credentials    CredentialProvider
	Predictor      Predictor
	Pool           *endpoints.Pool
	Chains         chain.Factory
	Tracker        *window.Tracker
	Audit          *audit.Log
	Logger         *zap.Logger
	MaxRetries     int
	ConfirmTimeout time.Duration
	Clock          func() time.Time
}

// New builds a cycle runner.
func New(o Options) *Runner {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 120 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	backoff := retry.DefaultConfig()
	backoff.InitialDelay = 2 * time.Second
	backoff.MaxDelay = 16 * time.Second
	return &Runner{
		topicID:        o.TopicID,
		creds:          o.Credentials,
		predictor:      o.Predictor,
		pool:           o.Pool,
		chains:         o.Chains,
		tracker:        o.Tracker,
		audit:          o.Audit,
		logger:         o.Logger,
		maxRetries:     o.MaxRetries,
		confirmTimeout: o.ConfirmTimeout,
		confirmBackoff: backoff,
		now:            o.Clock,
	}
}

// Run executes one cycle. The returned error is non-nil only when the audit
// append itself failed; every other outcome is encoded in the record status.
// Cancellation mid-cycle still records before returning.
func (r *Runner) Run(ctx context.Context) (audit.Record, error) {
	start := r.now()
	rec := audit.Record{
		Timestamp:  start,
		TopicID:    r.topicID,
		WorkerAddr: r.creds.WorkerAddress(),
	}

	r.attempt(ctx, &rec)
	rec.LatencyMS = r.now().Sub(start).Milliseconds()

	// The record step must survive cancellation of the cycle itself.
	if err := r.audit.Append(context.WithoutCancel(ctx), rec); err != nil {
		return rec, fmt.Errorf("cycle outcome not recorded: %w", err)
	}
	r.logger.Info("cycle recorded",
		zap.String("status", string(rec.Status)),
		zap.Uint64("nonce", rec.Nonce),
		zap.String("tx_hash", rec.TxHash),
		zap.Int("retries", rec.RetryCount),
		zap.Int64("latency_ms", rec.LatencyMS))
	return rec, nil
}

// attempt walks the state machine and fills rec. It never returns an error:
// terminal failures become a failed status, expected non-errors become the
// matching skipped status.
func (r *Runner) attempt(ctx context.Context, rec *audit.Record) {
	// CHECK_WINDOW
	sel, q, win, nonce, err := r.observe(ctx)
	rec.EndpointUsed = sel.Endpoint.URL
	rec.DegradedSelection = sel.Degraded
	if err != nil {
		r.logger.Warn("window observation failed on every endpoint", zap.Error(err))
		rec.Status = audit.StatusFailed
		return
	}
	if nonce == nil {
		// Nothing unfulfilled: the nonce was already handled on-chain.
		rec.Status = audit.StatusSkippedDuplicate
		return
	}
	rec.Nonce = *nonce

	elig, err := r.tracker.IsEligible(win, *nonce, r.audit)
	if err != nil {
		r.logger.Error("eligibility check failed", zap.Error(err))
		rec.Status = audit.StatusFailed
		return
	}
	if !elig.Eligible {
		switch elig.Reason {
		case window.ReasonWindowClosed:
			rec.Status = audit.StatusSkippedWindowClosed
		default:
			rec.Status = audit.StatusSkippedDuplicate
		}
		r.logger.Info("skipping submission",
			zap.Uint64("nonce", *nonce),
			zap.String("reason", string(elig.Reason)))
		return
	}
	r.logger.Info("window open",
		zap.Uint64("nonce", *nonce),
		zap.Uint64("window_end", win.WindowEndBlock),
		zap.Int64("seconds_remaining", r.tracker.SecondsRemaining(win)))

	value, err := r.predictor.Predict(ctx, r.topicID, *nonce)
	if err != nil {
		r.logger.Error("prediction failed", zap.Error(err))
		rec.Status = audit.StatusFailed
		return
	}
	rec.PredictionValue = value

	req, err := r.signedRequest(ctx, *nonce, value)
	if err != nil {
		r.logger.Error("payload signing failed", zap.Error(err))
		rec.Status = audit.StatusFailed
		return
	}

	// SUBMIT
	txHash, sel, q, retries, err := r.submit(ctx, sel, q, req)
	rec.EndpointUsed = sel.Endpoint.URL
	rec.DegradedSelection = rec.DegradedSelection || sel.Degraded
	rec.RetryCount = retries
	if err != nil {
		r.logger.Error("submission failed", zap.Uint64("nonce", *nonce), zap.Error(err))
		rec.Status = audit.StatusFailed
		return
	}
	rec.TxHash = txHash

	// CONFIRM
	switch r.confirm(ctx, q, sel.Endpoint.URL, txHash) {
	case chain.TxConfirmed:
		rec.Status = audit.StatusConfirmed
	case chain.TxFailed:
		rec.Status = audit.StatusFailed
	default:
		// Unresolved within the confirmation budget: the tx may still land.
		rec.Status = audit.StatusSubmitted
	}
}

// observe fetches the window snapshot and pending nonce, rotating endpoints
// on transient failures.
func (r *Runner) observe(ctx context.Context) (endpoints.Selection, chain.Querier, chain.SubmissionWindow, *uint64, error) {
	worker := r.creds.WorkerAddress()
	var (
		lastSel endpoints.Selection
		lastErr error
	)
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		sel := r.pool.Select()
		lastSel = sel
		q := r.chains.NewQuerier(sel.Endpoint.URL)

		win, err := q.ObserveWindow(ctx, r.topicID, worker)
		if err != nil {
			r.pool.Report(sel.Endpoint.URL, err)
			lastErr = err
			continue
		}
		nonce, err := q.GetUnfulfilledNonce(ctx, r.topicID, worker)
		if err != nil {
			r.pool.Report(sel.Endpoint.URL, err)
			lastErr = err
			continue
		}
		r.pool.Report(sel.Endpoint.URL, nil)
		return sel, q, win, nonce, nil
	}
	return lastSel, nil, chain.SubmissionWindow{}, nil, lastErr
}

// signedRequest builds the canonical payload and signs it.
func (r *Runner) signedRequest(ctx context.Context, nonce uint64, value float64) (chain.SubmitRequest, error) {
	req := chain.SubmitRequest{
		TopicID:         r.topicID,
		WorkerAddr:      r.creds.WorkerAddress(),
		Nonce:           nonce,
		PredictionValue: value,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return chain.SubmitRequest{}, err
	}
	sig, err := r.creds.Sign(ctx, payload)
	if err != nil {
		return chain.SubmitRequest{}, err
	}
	req.Signature = hex.EncodeToString(sig)
	return req, nil
}

// submit sends the payload, failing over to the next-best endpoint on
// transport errors up to maxRetries. An explicit chain rejection is terminal
// and does not rotate: the endpoint itself answered fine.
func (r *Runner) submit(ctx context.Context, sel endpoints.Selection, q chain.Querier, req chain.SubmitRequest) (string, endpoints.Selection, chain.Querier, int, error) {
	retries := 0
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if attempt > 0 {
			retries++
			sel = r.pool.Select()
			q = r.chains.NewQuerier(sel.Endpoint.URL)
		}
		txHash, err := q.SubmitPayload(ctx, req)
		if err == nil {
			r.pool.Report(sel.Endpoint.URL, nil)
			return txHash, sel, q, retries, nil
		}
		if errors.Is(err, chain.ErrTxRejected) {
			r.pool.Report(sel.Endpoint.URL, nil)
			return "", sel, q, retries, err
		}
		r.pool.Report(sel.Endpoint.URL, err)
		lastErr = err
	}
	return "", sel, q, retries, lastErr
}

// confirm polls the transaction status with bounded exponential backoff
// until it resolves or the confirmation budget runs out. Transient query
// errors keep the poll alive; they never fail the confirmation outright.
func (r *Runner) confirm(ctx context.Context, q chain.Querier, endpointURL, txHash string) chain.TxStatus {
	cctx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()

	final := chain.TxPending
	err := retry.Poll(cctx, r.confirmBackoff, r.logger, "confirm", func() (bool, error) {
		st, err := q.GetTxStatus(cctx, txHash)
		if err != nil {
			r.pool.Report(endpointURL, err)
			return false, nil
		}
		r.pool.Report(endpointURL, nil)
		if st == chain.TxConfirmed || st == chain.TxFailed {
			final = st
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		r.logger.Warn("confirmation unresolved",
			zap.String("tx_hash", txHash),
			zap.Error(err))
	}
	return final
}
