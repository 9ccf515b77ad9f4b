package queue

import (
	"time"

	"github.com/raysh454/lumen/internal/model"
)

// State is the storage state of a job row.
type State string

const (
	// StateWaiting covers both ready jobs and delayed retries; a retry is
	// "delayed" while NextRunAt is in the future.
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateDead      State = "dead"
)

// Job is one queued delivery unit. ID always equals Payload.ScanID.
type Job struct {
	ID           string
	Payload      model.JobPayload
	Priority     int
	State        State
	AttemptsMade int
	MaxAttempts  int

	// Seq orders jobs of equal priority first-in first-out.
	Seq int64

	NextRunAt  time.Time
	LeaseUntil time.Time

	// Token identifies the current delivery. Ack, Fail and Extend must present it.
	Token string

	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttemptsRemaining is the number of deliveries left after the current one.
func (j *Job) AttemptsRemaining() int {
	if n := j.MaxAttempts - j.AttemptsMade; n > 0 {
		return n
	}
	return 0
}

func (j *Job) clone() *Job {
	c := *j
	return &c
}

// EnqueueResult tells whether Enqueue stored a new job.
type EnqueueResult int

const (
	Accepted EnqueueResult = iota
	Duplicate
)

func (r EnqueueResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "accepted"
}

// Outcome is the queue's decision after a failed delivery.
type Outcome int

const (
	Retried Outcome = iota
	DeadLettered
)

func (o Outcome) String() string {
	if o == DeadLettered {
		return "dead_lettered"
	}
	return "retried"
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Waiting   int  `json:"waiting"`
	Delayed   int  `json:"delayed"`
	Active    int  `json:"active"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	Paused    bool `json:"paused"`
}

// Counts is what a Backend reports; Queue turns it into Stats.
type Counts struct {
	Ready     int
	Delayed   int
	Active    int
	Completed int
	Dead      int
}
