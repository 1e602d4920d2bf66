package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
	ResultJSON  string
}

// Terminal reports whether the job will not run again.
func (j Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Upload is a file body held until a background ingestion job consumes it.
type Upload struct {
	ID        string
	Filename  string
	Data      []byte
	CreatedAt time.Time
}

// Interaction is one answered query, kept for usage reporting.
type Interaction struct {
	ID            string
	CreatedAt     time.Time
	SessionID     string
	Query         string
	EnhancedQuery string
	Answer        string
	FallbackUsed  bool
	Documents     int
	Duration      time.Duration
	Error         string
}

// InteractionStats aggregates the interaction log.
type InteractionStats struct {
	TotalQueries    int
	FallbackQueries int
}
