package chain

import "errors"

// ErrQueryUnavailable marks a transient endpoint problem: unreachable,
// server-side error, or malformed data. Callers rotate endpoints via the
// pool; the client never retries internally.
var ErrQueryUnavailable = errors.New("query unavailable")

// ErrTxRejected marks an explicit chain-side rejection of a submission.
// Terminal for the attempt; no retry within the same nonce and window.
var ErrTxRejected = errors.New("transaction rejected by chain")
