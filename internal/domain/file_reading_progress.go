package domain

import "time"

// Decision reasons reported in ReadProgress
const (
	ReasonNoState             = "no_state"
	ReasonForced              = "forced"
	ReasonShrunk              = "shrunk"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonResumed             = "resumed"
	ReasonFromEnd             = "from_end"
)

// ReadProgress represents the outcome of a single read of a log file
type ReadProgress struct {
	Timestamp     time.Time
	RunID         string
	Identity      FileIdentity
	FileSizeBytes int64  // Size of the file when it was opened
	PriorOffset   int64  // Offset loaded from the cache (0 when absent)
	StartOffset   int64  // Position reading started from
	EndOffset     int64  // Byte after the last complete line read
	LinesEmitted  int64
	BytesEmitted  int64
	Reason        string // Why StartOffset was chosen, one of the Reason* constants
	Saved         bool   // New state was persisted
}

// Restarted reports whether the file was read from the beginning although
// a resume point had been recorded
func (p *ReadProgress) Restarted() bool {
	return p.PriorOffset > 0 && p.StartOffset == 0
}
