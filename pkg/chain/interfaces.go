package chain

import "context"

// Querier captures the chain calls used by the submission cycle. Absence of
// an unfulfilled nonce is a normal outcome (nil pointer), not an error.
type Querier interface {
	GetLatestBlockHeight(ctx context.Context) (uint64, error)
	GetSubmissionWindow(ctx context.Context, topicID uint64, workerAddr string) (startBlock, endBlock uint64, err error)
	ObserveWindow(ctx context.Context, topicID uint64, workerAddr string) (SubmissionWindow, error)
	GetUnfulfilledNonce(ctx context.Context, topicID uint64, workerAddr string) (*uint64, error)
	SubmitPayload(ctx context.Context, req SubmitRequest) (txHash string, err error)
	GetTxStatus(ctx context.Context, txHash string) (TxStatus, error)
}

// Factory produces queriers bound to a single endpoint base URL. Failover
// across endpoints belongs to the caller, not the querier.
type Factory interface {
	NewQuerier(baseURL string) Querier
}

type httpFactory struct {
	opts Opts
}

// NewHTTPFactory returns a factory that builds HTTP queriers with shared defaults.
func NewHTTPFactory(opts Opts) Factory {
	return &httpFactory{opts: opts}
}

func (f *httpFactory) NewQuerier(baseURL string) Querier {
	return NewHTTPWithOpts(baseURL, f.opts)
}
