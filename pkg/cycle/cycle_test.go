package cycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emissions-network/submitx/pkg/audit"
	"github.com/emissions-network/submitx/pkg/chain"
	"github.com/emissions-network/submitx/pkg/endpoints"
	"github.com/emissions-network/submitx/pkg/window"
)

type fakeCreds struct{}

func (fakeCreds) WorkerAddress() string { return "worker1" }
func (fakeCreds) Sign(_ context.Context, payload []byte) ([]byte, error) {
	return []byte("sig"), nil
}

type fakePredictor struct{ value float64 }

func (p fakePredictor) Predict(context.Context, uint64, uint64) (float64, error) {
	return p.value, nil
}

// fakeChain is a chain.Factory whose queriers share one scripted state.
type fakeChain struct {
	mu sync.Mutex

	window     chain.SubmissionWindow
	nonce      *uint64
	observeErr map[string]error

	txHash    string
	submitErr error
	status    chain.TxStatus

	observeCalls int
	submitCalls  []string
	statusCalls  int
}

func (f *fakeChain) NewQuerier(url string) chain.Querier {
	return &fakeQuerier{url: url, f: f}
}

type fakeQuerier struct {
	url string
	f   *fakeChain
}

func (q *fakeQuerier) GetLatestBlockHeight(context.Context) (uint64, error) {
	return q.f.window.ObservedAtBlock, nil
}

func (q *fakeQuerier) GetSubmissionWindow(context.Context, uint64, string) (uint64, uint64, error) {
	return q.f.window.WindowStartBlock, q.f.window.WindowEndBlock, nil
}

func (q *fakeQuerier) ObserveWindow(_ context.Context, topicID uint64, workerAddr string) (chain.SubmissionWindow, error) {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	q.f.observeCalls++
	if err := q.f.observeErr[q.url]; err != nil {
		return chain.SubmissionWindow{}, err
	}
	win := q.f.window
	win.TopicID = topicID
	win.WorkerAddr = workerAddr
	return win, nil
}

func (q *fakeQuerier) GetUnfulfilledNonce(context.Context, uint64, string) (*uint64, error) {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	return q.f.nonce, nil
}

func (q *fakeQuerier) SubmitPayload(_ context.Context, req chain.SubmitRequest) (string, error) {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	q.f.submitCalls = append(q.f.submitCalls, q.url)
	if q.f.submitErr != nil {
		return "", q.f.submitErr
	}
	return q.f.txHash, nil
}

func (q *fakeQuerier) GetTxStatus(context.Context, string) (chain.TxStatus, error) {
	q.f.mu.Lock()
	defer q.f.mu.Unlock()
	q.f.statusCalls++
	return q.f.status, nil
}

func uintPtr(v uint64) *uint64 { return &v }

func openWindow() chain.SubmissionWindow {
	return chain.SubmissionWindow{WindowStartBlock: 100, WindowEndBlock: 110, ObservedAtBlock: 105}
}

type harness struct {
	runner *Runner
	chains *fakeChain
	log    *audit.Log
}

func newHarness(t *testing.T, chains *fakeChain) *harness {
	t.Helper()
	log, err := audit.Open(filepath.Join(t.TempDir(), "submissions.csv"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	runner := New(Options{
		TopicID:        7,
		Credentials:    fakeCreds{},
		Predictor:      fakePredictor{value: 0.42},
		Pool:           endpoints.New([]string{"http://a", "http://b", "http://c"}, 3, zap.NewNop()),
		Chains:         chains,
		Tracker:        window.New(6),
		Audit:          log,
		Logger:         zap.NewNop(),
		ConfirmTimeout: 50 * time.Millisecond,
	})
	return &harness{runner: runner, chains: chains, log: log}
}

func (h *harness) recordCount(t *testing.T) int {
	t.Helper()
	n := 0
	require.NoError(t, h.log.Query(audit.Filter{}, func(audit.Record) bool {
		n++
		return true
	}))
	return n
}

func TestRunConfirmed(t *testing.T) {
	h := newHarness(t, &fakeChain{
		window: openWindow(),
		nonce:  uintPtr(42),
		txHash: "0xabc",
		status: chain.TxConfirmed,
	})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusConfirmed, rec.Status)
	assert.Equal(t, uint64(42), rec.Nonce)
	assert.Equal(t, "0xabc", rec.TxHash)
	assert.Equal(t, 0.42, rec.PredictionValue)
	assert.Equal(t, "http://a", rec.EndpointUsed)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, 1, h.recordCount(t))
}

func TestRunIdempotentForActiveNonce(t *testing.T) {
	h := newHarness(t, &fakeChain{
		window: openWindow(),
		nonce:  uintPtr(42),
		txHash: "0xabc",
		status: chain.TxConfirmed,
	})

	prior := audit.Record{
		Timestamp:  time.Now().UTC(),
		TopicID:    7,
		WorkerAddr: "worker1",
		Nonce:      42,
		Status:     audit.StatusConfirmed,
	}
	require.NoError(t, h.log.Append(context.Background(), prior))

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSkippedDuplicate, rec.Status)
	assert.Empty(t, h.chains.submitCalls, "a confirmed nonce must not be resubmitted")
	assert.Equal(t, 2, h.recordCount(t))
}

func TestRunSkipsClosedWindow(t *testing.T) {
	win := openWindow()
	win.ObservedAtBlock = 111
	h := newHarness(t, &fakeChain{window: win, nonce: uintPtr(42)})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSkippedWindowClosed, rec.Status)
	assert.Empty(t, h.chains.submitCalls)
	assert.Equal(t, 1, h.recordCount(t))
}

func TestRunNoPendingNonce(t *testing.T) {
	h := newHarness(t, &fakeChain{window: openWindow()})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSkippedDuplicate, rec.Status)
	assert.Empty(t, h.chains.submitCalls)
}

func TestSubmitFailoverExhausted(t *testing.T) {
	h := newHarness(t, &fakeChain{
		window:    openWindow(),
		nonce:     uintPtr(42),
		submitErr: fmt.Errorf("%w: connection reset", chain.ErrQueryUnavailable),
	})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Len(t, h.chains.submitCalls, 3)
	assert.Equal(t, 1, h.recordCount(t))
}

func TestChainRejectionIsTerminal(t *testing.T) {
	h := newHarness(t, &fakeChain{
		window:    openWindow(),
		nonce:     uintPtr(42),
		submitErr: fmt.Errorf("%w: code 5", chain.ErrTxRejected),
	})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, rec.Status)
	assert.Len(t, h.chains.submitCalls, 1, "an explicit rejection must not rotate endpoints")
}

func TestConfirmTimeoutRecordsSubmitted(t *testing.T) {
	h := newHarness(t, &fakeChain{
		window: openWindow(),
		nonce:  uintPtr(42),
		txHash: "0xabc",
		status: chain.TxPending,
	})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusSubmitted, rec.Status)
	assert.Equal(t, "0xabc", rec.TxHash, "the hash is preserved for later reconciliation")
}

func TestOnChainFailureRecorded(t *testing.T) {
	h := newHarness(t, &fakeChain{
		window: openWindow(),
		nonce:  uintPtr(42),
		txHash: "0xabc",
		status: chain.TxFailed,
	})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, rec.Status)
	assert.Equal(t, "0xabc", rec.TxHash)
}

func TestObservationFailureOnEveryEndpoint(t *testing.T) {
	boom := fmt.Errorf("%w: refused", chain.ErrQueryUnavailable)
	h := newHarness(t, &fakeChain{
		window: openWindow(),
		observeErr: map[string]error{
			"http://a": boom, "http://b": boom, "http://c": boom,
		},
	})

	rec, err := h.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.StatusFailed, rec.Status)
	assert.Equal(t, 1, h.recordCount(t), "a failed observation still leaves a record")
}

func TestEveryRunAppendsExactlyOneRecord(t *testing.T) {
	h := newHarness(t, &fakeChain{
		window: openWindow(),
		nonce:  uintPtr(42),
		txHash: "0xabc",
		status: chain.TxConfirmed,
	})

	for i := 0; i < 3; i++ {
		_, err := h.runner.Run(context.Background())
		require.NoError(t, err)
	}
	// First run confirms; the next two are duplicate skips. Three records.
	assert.Equal(t, 3, h.recordCount(t))
	assert.Len(t, h.chains.submitCalls, 1)
}
