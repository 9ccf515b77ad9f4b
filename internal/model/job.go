package model

// DefaultMaxAttempts is the number of deliveries a job gets before it is
// dead-lettered.
const DefaultMaxAttempts = 3

// JobPayload is the body of a queued scan job. The job id equals ScanID.
type JobPayload struct {
	ScanID      string `json:"scanId"`
	URL         string `json:"url"`
	Priority    int    `json:"priority"`
	MaxAttempts int    `json:"maxAttempts"`
}

// Normalize fills zero values with defaults.
func (p JobPayload) Normalize() JobPayload {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}
