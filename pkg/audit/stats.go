package audit

import "time"

// Stats aggregates the audit log for monitoring consumers.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
	ByEndpoint  map[string]int `json:"by_endpoint"`
	SuccessRate float64        `json:"success_rate"`
	LastAttempt time.Time      `json:"last_attempt"`
}

// Stats computes aggregate counts over the matching records. Skipped records
// are excluded from the success-rate denominator: they represent cycles that
// correctly attempted nothing.
func (l *Log) Stats(filter Filter) (Stats, error) {
	st := Stats{
		ByStatus:   map[Status]int{},
		ByEndpoint: map[string]int{},
	}
	attempts := 0
	err := l.Query(filter, func(rec Record) bool {
		st.Total++
		st.ByStatus[rec.Status]++
		if rec.EndpointUsed != "" {
			st.ByEndpoint[rec.EndpointUsed]++
		}
		if rec.Timestamp.After(st.LastAttempt) {
			st.LastAttempt = rec.Timestamp
		}
		switch rec.Status {
		case StatusConfirmed, StatusSubmitted, StatusFailed:
			attempts++
		}
		return true
	})
	if err != nil {
		return Stats{}, err
	}
	if attempts > 0 {
		st.SuccessRate = float64(st.ByStatus[StatusConfirmed]+st.ByStatus[StatusSubmitted]) / float64(attempts)
	}
	return st, nil
}
