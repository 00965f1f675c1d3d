package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/emissions-network/submitx/pkg/utils"
)

// HTTPClient issues typed queries against one emissions gateway. It
// normalizes the two confirmation dialects (Ethereum-style receipt-by-hash,
// Cosmos-style search-by-hash) into TxStatus at the query boundary.
type HTTPClient struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

// Opts is the set of options shared by queriers built from one factory.
type Opts struct {
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewHTTPWithOpts creates a querier for the given base URL.
func NewHTTPWithOpts(baseURL string, o Opts) *HTTPClient {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{base: baseURL, client: client, logger: logger}
}

// post sends one JSON request and returns the raw body. Transport errors,
// 5xx answers, and unreadable bodies all surface as ErrQueryUnavailable so
// the caller can rotate endpoints.
func (c *HTTPClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	var body *bytes.Reader
	if payload != nil {
		b, mErr := json.Marshal(payload)
		if mErr != nil {
			return nil, mErr
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if reqErr != nil {
		return nil, reqErr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryUnavailable, err)
	}
	defer func() { _ = utils.DrainAndClose(resp.Body) }()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: server %d", ErrQueryUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: http %d", ErrQueryUnavailable, resp.StatusCode)
	}

	bz, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryUnavailable, readErr)
	}
	return bz, nil
}

// postJSON decodes the response into out. Malformed data is transient
// (the endpoint is misbehaving), so it maps to ErrQueryUnavailable.
func (c *HTTPClient) postJSON(ctx context.Context, path string, payload, out any) error {
	bz, err := c.post(ctx, path, payload)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(bz, out); err != nil {
			return fmt.Errorf("%w: malformed response: %v", ErrQueryUnavailable, err)
		}
	}
	return nil
}

// GetLatestBlockHeight returns the chain head height.
func (c *HTTPClient) GetLatestBlockHeight(ctx context.Context) (uint64, error) {
	var out struct {
		Height uint64 `json:"height"`
	}
	if err := c.postJSON(ctx, headPath, nil, &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

// GetSubmissionWindow returns the block range the worker may submit in.
func (c *HTTPClient) GetSubmissionWindow(ctx context.Context, topicID uint64, workerAddr string) (uint64, uint64, error) {
	var out struct {
		WindowStartBlock uint64 `json:"window_start_block"`
		WindowEndBlock   uint64 `json:"window_end_block"`
	}
	req := map[string]any{"topic_id": topicID, "worker_addr": workerAddr}
	if err := c.postJSON(ctx, submissionWindowPath, req, &out); err != nil {
		return 0, 0, err
	}
	if out.WindowEndBlock < out.WindowStartBlock {
		return 0, 0, fmt.Errorf("%w: window end %d before start %d",
			ErrQueryUnavailable, out.WindowEndBlock, out.WindowStartBlock)
	}
	return out.WindowStartBlock, out.WindowEndBlock, nil
}

// ObserveWindow composes the window range with the current head height into
// one immutable SubmissionWindow snapshot.
func (c *HTTPClient) ObserveWindow(ctx context.Context, topicID uint64, workerAddr string) (SubmissionWindow, error) {
	start, end, err := c.GetSubmissionWindow(ctx, topicID, workerAddr)
	if err != nil {
		return SubmissionWindow{}, err
	}
	head, err := c.GetLatestBlockHeight(ctx)
	if err != nil {
		return SubmissionWindow{}, err
	}
	return SubmissionWindow{
		TopicID:          topicID,
		WorkerAddr:       workerAddr,
		WindowStartBlock: start,
		WindowEndBlock:   end,
		ObservedAtBlock:  head,
	}, nil
}

// GetWorkerInfo returns the chain's registration view of the worker.
func (c *HTTPClient) GetWorkerInfo(ctx context.Context, topicID uint64, workerAddr string) (WorkerInfo, error) {
	var out WorkerInfo
	req := map[string]any{"topic_id": topicID, "worker_addr": workerAddr}
	if err := c.postJSON(ctx, workerInfoPath, req, &out); err != nil {
		return WorkerInfo{}, err
	}
	return out, nil
}

// GetUnfulfilledNonce returns the pending nonce block height for the worker,
// or nil when nothing is pending.
func (c *HTTPClient) GetUnfulfilledNonce(ctx context.Context, topicID uint64, workerAddr string) (*uint64, error) {
	var out struct {
		BlockHeight *uint64 `json:"block_height"`
	}
	req := map[string]any{"topic_id": topicID, "worker_addr": workerAddr}
	if err := c.postJSON(ctx, unfulfilledNoncePath, req, &out); err != nil {
		return nil, err
	}
	return out.BlockHeight, nil
}

// SubmitPayload sends the signed prediction. A gateway answer carrying a
// non-zero code is an explicit chain rejection, not a transport failure.
func (c *HTTPClient) SubmitPayload(ctx context.Context, req SubmitRequest) (string, error) {
	var out struct {
		TxHash string `json:"tx_hash"`
		Code   int    `json:"code"`
		RawLog string `json:"raw_log"`
	}
	if err := c.postJSON(ctx, submitPayloadPath, req, &out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		return out.TxHash, fmt.Errorf("%w: code %d: %s", ErrTxRejected, out.Code, out.RawLog)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("%w: submission accepted without tx hash", ErrQueryUnavailable)
	}
	return out.TxHash, nil
}
