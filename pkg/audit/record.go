package audit

import (
	"fmt"
	"strconv"
	"time"
)

// Status is the terminal outcome of one submission cycle.
type Status string

const (
	StatusSubmitted           Status = "submitted"
	StatusConfirmed           Status = "confirmed"
	StatusFailed              Status = "failed"
	StatusSkippedWindowClosed Status = "skipped_window_closed"
	StatusSkippedDuplicate    Status = "skipped_duplicate"
)

// Record is one append-only audit entry. Exactly one is written per cycle
// invocation, whatever the outcome.
type Record struct {
	Timestamp       time.Time
	TopicID         uint64
	WorkerAddr      string
	Nonce           uint64
	PredictionValue float64
	EndpointUsed    string
	TxHash          string
	Status          Status
	RetryCount      int
	LatencyMS       int64

	// DegradedSelection notes that the endpoint was handed out while every
	// endpoint was down. Persisted as a trailing field; consumers that only
	// know the base field set ignore it.
	DegradedSelection bool
}

// Active reports whether the record blocks a re-attempt of its nonce.
func (r Record) Active() bool {
	return r.Status == StatusConfirmed || r.Status == StatusSubmitted
}

// fields renders the record in the fixed persisted order:
// timestamp, topic_id, worker_addr, nonce_or_block_height, prediction_value,
// endpoint_used, tx_hash, status, retry_count, latency_ms, plus the trailing
// degraded flag.
func (r Record) fields() []string {
	degraded := "0"
	if r.DegradedSelection {
		degraded = "1"
	}
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatUint(r.TopicID, 10),
		r.WorkerAddr,
		strconv.FormatUint(r.Nonce, 10),
		strconv.FormatFloat(r.PredictionValue, 'g', -1, 64),
		r.EndpointUsed,
		r.TxHash,
		string(r.Status),
		strconv.Itoa(r.RetryCount),
		strconv.FormatInt(r.LatencyMS, 10),
		degraded,
	}
}

// parseRecord reads one CSV row, tolerating extra trailing fields.
func parseRecord(row []string) (Record, error) {
	if len(row) < 10 {
		return Record{}, fmt.Errorf("audit row has %d fields, want at least 10", len(row))
	}
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return Record{}, fmt.Errorf("parse timestamp %q: %w", row[0], err)
	}
	topicID, err := strconv.ParseUint(row[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse topic id %q: %w", row[1], err)
	}
	nonce, err := strconv.ParseUint(row[3], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse nonce %q: %w", row[3], err)
	}
	value, err := strconv.ParseFloat(row[4], 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse prediction %q: %w", row[4], err)
	}
	retries, err := strconv.Atoi(row[8])
	if err != nil {
		return Record{}, fmt.Errorf("parse retry count %q: %w", row[8], err)
	}
	latency, err := strconv.ParseInt(row[9], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse latency %q: %w", row[9], err)
	}
	rec := Record{
		Timestamp:       ts,
		TopicID:         topicID,
		WorkerAddr:      row[2],
		Nonce:           nonce,
		PredictionValue: value,
		EndpointUsed:    row[5],
		TxHash:          row[6],
		Status:          Status(row[7]),
		RetryCount:      retries,
		LatencyMS:       latency,
	}
	if len(row) > 10 {
		rec.DegradedSelection = row[10] == "1"
	}
	return rec, nil
}
