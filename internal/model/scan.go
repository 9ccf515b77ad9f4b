package model

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a Scan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// ParseStatus validates a textual status.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// The only edges are pending->processing and processing->{completed,failed}.
// processing->processing is allowed so a redelivered job can restart the scan.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// SeverityCounts holds the number of findings per severity bucket.
type SeverityCounts struct {
	Critical int `json:"critical"`
	Serious  int `json:"serious"`
	Moderate int `json:"moderate"`
	Minor    int `json:"minor"`
}

// Total returns the sum of all buckets.
func (c SeverityCounts) Total() int {
	return c.Critical + c.Serious + c.Moderate + c.Minor
}

// Add increments the bucket for sev.
func (c *SeverityCounts) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		c.Critical++
	case SeveritySerious:
		c.Serious++
	case SeverityModerate:
		c.Moderate++
	case SeverityMinor:
		c.Minor++
	}
}

// Scan is one audit request and its lifecycle record.
type Scan struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id"`

	// URL is the normalized absolute http(s) target.
	URL string `json:"url"`

	UserID string `json:"userId"`
	Status Status `json:"status"`

	// Priority is copied onto the queued job; higher runs first.
	Priority int `json:"priority"`

	// Results is the raw findings payload, set only once completed.
	Results *AuditReport `json:"results,omitempty"`

	// Score is the 0-100 compliance score, set only once completed.
	Score *int `json:"score,omitempty"`

	Counts      SeverityCounts `json:"counts"`
	PassedCount int            `json:"passedCount"`
	TotalRules  int            `json:"totalRules"`

	// ErrorMessage is set only when Status is failed.
	ErrorMessage *string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Validate checks the record-level invariants of a scan.
func (s *Scan) Validate() error {
	var errs []error
	if s.Status.IsTerminal() != (s.CompletedAt != nil) {
		errs = append(errs, fmt.Errorf("completedAt must be set iff status is terminal (status=%s)", s.Status))
	}
	if (s.Status == StatusCompleted) != (s.Results != nil && s.Score != nil) {
		errs = append(errs, fmt.Errorf("results and score must be set iff completed (status=%s)", s.Status))
	}
	if (s.Status == StatusFailed) != (s.ErrorMessage != nil) {
		errs = append(errs, fmt.Errorf("errorMessage must be set iff failed (status=%s)", s.Status))
	}
	if s.Score != nil && (*s.Score < 0 || *s.Score > 100) {
		errs = append(errs, fmt.Errorf("score %d out of range", *s.Score))
	}
	if s.StartedAt != nil && s.StartedAt.Before(s.CreatedAt) {
		errs = append(errs, errors.New("startedAt precedes createdAt"))
	}
	if s.CompletedAt != nil {
		if s.StartedAt == nil {
			errs = append(errs, errors.New("completedAt set without startedAt"))
		} else if s.CompletedAt.Before(*s.StartedAt) {
			errs = append(errs, errors.New("completedAt precedes startedAt"))
		}
	}
	return errors.Join(errs...)
}

// StatusCounts is the per-status aggregate returned by statistics queries.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Set stores n under the bucket for st and adds it to Total.
func (c *StatusCounts) Set(st Status, n int) {
	switch st {
	case StatusPending:
		c.Pending = n
	case StatusProcessing:
		c.Processing = n
	case StatusCompleted:
		c.Completed = n
	case StatusFailed:
		c.Failed = n
	default:
		return
	}
	c.Total += n
}
