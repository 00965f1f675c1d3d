package chain

// SubmissionWindow is the chain's view of when a worker may submit for a
// topic. It is created by a query and never mutated; the next query
// supersedes it.
type SubmissionWindow struct {
	TopicID          uint64 `json:"topic_id"`
	WorkerAddr       string `json:"worker_addr"`
	WindowStartBlock uint64 `json:"window_start_block"`
	WindowEndBlock   uint64 `json:"window_end_block"`
	ObservedAtBlock  uint64 `json:"observed_at_block"`
}

// Open reports whether the window is still open at the observed height.
func (w SubmissionWindow) Open() bool {
	return w.ObservedAtBlock < w.WindowEndBlock
}

// WorkerInfo is the chain's registration record for a worker on a topic.
type WorkerInfo struct {
	WorkerAddr   string `json:"worker_addr"`
	TopicID      uint64 `json:"topic_id"`
	Registered   bool   `json:"registered"`
	Owner        string `json:"owner"`
	RegisteredAt uint64 `json:"registered_at_block"`
}

// TxStatus is the normalized confirmation state of a submitted transaction.
type TxStatus string

const (
	TxPending       TxStatus = "pending"
	TxConfirmed     TxStatus = "confirmed"
	TxFailed        TxStatus = "failed"
	TxUnvalidatable TxStatus = "unvalidatable"
)

// SubmitRequest is the signed prediction payload sent to the chain.
type SubmitRequest struct {
	TopicID         uint64  `json:"topic_id"`
	WorkerAddr      string  `json:"worker_addr"`
	Nonce           uint64  `json:"nonce"`
	PredictionValue float64 `json:"prediction_value"`
	Signature       string  `json:"signature"`
}
