package supervisor

import "time"

// DaemonState is the live view of the running supervisor. It is mutated on
// every cycle and heartbeat tick and is not persisted beyond the marker file
// and the audit stream.
type DaemonState struct {
	PID             int       `json:"pid"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	CyclesCompleted uint64    `json:"cycles_completed"`
	CyclesFailed    uint64    `json:"cycles_failed"`
	Paused          bool      `json:"paused"`
}
