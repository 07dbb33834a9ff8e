package models

// Sync status values as they appear on the wire and in the status store.
const (
	SyncIdle    = "idle"
	SyncRunning = "running"
	SyncSuccess = "success"
	SyncError   = "error"
)

// SyncSnapshot is the latest observed state of a named background sync job.
// It is written by the job runner and read by status pollers.
type SyncSnapshot struct {
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Terminal reports whether no further transitions can occur for this job run.
func (s SyncSnapshot) Terminal() bool {
	return s.Status == SyncSuccess || s.Status == SyncError
}

// IdleSnapshot is what a poller sees before any job has been started.
func IdleSnapshot() SyncSnapshot {
	return SyncSnapshot{Status: SyncIdle}
}
