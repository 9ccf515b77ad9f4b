package server

import (
	"time"

	"github.com/raysh454/lumen/internal/model"
)

// SubmitScanRequest is the body of POST /scans.
type SubmitScanRequest struct {
	URL      string `json:"url" example:"https://example.com"`
	UserID   string `json:"userId,omitempty" example:"user-42"`
	Priority int    `json:"priority,omitempty" example:"0"`
}

// ScanAccepted is returned when a scan is created or requeued.
type ScanAccepted struct {
	ID        string       `json:"id" example:"6f1c0e1e-4c55-4a5e-9b0b-3d1c2f7a9e10"`
	JobID     string       `json:"jobId" example:"6f1c0e1e-4c55-4a5e-9b0b-3d1c2f7a9e10"`
	URL       string       `json:"url" example:"https://example.com/"`
	Status    model.Status `json:"status" example:"pending"`
	CreatedAt time.Time    `json:"createdAt"`
}

func accepted(sc *model.Scan) ScanAccepted {
	return ScanAccepted{ID: sc.ID, JobID: sc.ID, URL: sc.URL, Status: sc.Status, CreatedAt: sc.CreatedAt}
}

// DrainResponse reports how many waiting jobs were dropped.
type DrainResponse struct {
	Removed int `json:"removed" example:"3"`
}

// ErrorResponse is the uniform error payload. ScanID is set when a scan was
// stored but could not be queued.
type ErrorResponse struct {
	Error  string `json:"error" example:"scan not found"`
	ScanID string `json:"scanId,omitempty"`
}
