package window

import (
	"time"

	"github.com/emissions-network/submitx/pkg/chain"
)

// Reason explains an ineligibility verdict.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonWindowClosed Reason = "window_closed"
	ReasonDuplicate    Reason = "duplicate_submission"
)

// Eligibility is the verdict for one prospective submission.
type Eligibility struct {
	Eligible bool
	Reason   Reason
}

// AuditReader is the slice of the audit log the tracker consults. A record
// counts as active when its status is confirmed or submitted; failed and
// skipped records do not block a retry within a still-open window.
type AuditReader interface {
	HasActiveSubmission(topicID uint64, workerAddr string, nonce uint64) (bool, error)
}

// Tracker decides, at the moment of a prospective submission, whether the
// nonce and window combination may be attempted.
type Tracker struct {
	blockTime time.Duration
}

// New builds a tracker. blockTimeSeconds feeds only the remaining-time
// estimate, never a scheduling decision.
func New(blockTimeSeconds int) *Tracker {
	if blockTimeSeconds <= 0 {
		blockTimeSeconds = 6
	}
	return &Tracker{blockTime: time.Duration(blockTimeSeconds) * time.Second}
}

// IsEligible reports whether the window is open and the nonce unattempted.
func (t *Tracker) IsEligible(w chain.SubmissionWindow, nonce uint64, audit AuditReader) (Eligibility, error) {
	if !w.Open() {
		return Eligibility{Eligible: false, Reason: ReasonWindowClosed}, nil
	}
	active, err := audit.HasActiveSubmission(w.TopicID, w.WorkerAddr, nonce)
	if err != nil {
		return Eligibility{}, err
	}
	if active {
		return Eligibility{Eligible: false, Reason: ReasonDuplicate}, nil
	}
	return Eligibility{Eligible: true}, nil
}

// SecondsRemaining estimates the wall-clock time left in the window. For
// observability only.
func (t *Tracker) SecondsRemaining(w chain.SubmissionWindow) int64 {
	if !w.Open() {
		return 0
	}
	blocks := w.WindowEndBlock - w.ObservedAtBlock
	return int64(time.Duration(blocks) * t.blockTime / time.Second)
}
