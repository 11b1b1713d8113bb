package queue

import (
	"errors"
	"time"
)

// Status of a dismissal queue. Open -> Closed, exactly once, never back.
type Status string

const (
	StatusOpen   Status = "Open"
	StatusClosed Status = "Closed"
)

// Queue is one dismissal cycle, typically one school day. At most one
// queue is Open at any time.
type Queue struct {
	QueueID   string     `json:"queue_id"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	StartedBy string     `json:"started_by"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  string     `json:"closed_by,omitempty"`
}

var (
	// ErrInvalid marks validation failures.
	ErrInvalid = errors.New("queue: invalid argument")
	// ErrNotFound means no queue exists with the given id.
	ErrNotFound = errors.New("queue: not found")
	// ErrAlreadyOpen rejects creating a queue while another is Open.
	ErrAlreadyOpen = errors.New("queue: a queue is already open")
	// ErrNoOpenQueue means a close was requested with nothing open.
	ErrNoOpenQueue = errors.New("queue: no open queue")
)
