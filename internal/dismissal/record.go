package dismissal

import (
	"errors"
	"time"
)

// Status is a student's pickup state within one dismissal queue.
//
// Any status may follow any other; the domain allows manual correction at
// the gate, so set-membership is the only validation applied.
type Status string

const (
	StatusStandby        Status = "Standby"
	StatusInQueue        Status = "InQueue"
	StatusReleased       Status = "Released"
	StatusCollected      Status = "Collected"
	StatusUnknown        Status = "Unknown"
	StatusNoShow         Status = "NoShow"
	StatusEarlyDismissal Status = "EarlyDismissal"
	StatusDirectPickup   Status = "DirectPickup"
	StatusLatePickup     Status = "LatePickup"
	StatusAfterCare      Status = "AfterCare"
)

var statuses = map[Status]struct{}{
	StatusStandby:        {},
	StatusInQueue:        {},
	StatusReleased:       {},
	StatusCollected:      {},
	StatusUnknown:        {},
	StatusNoShow:         {},
	StatusEarlyDismissal: {},
	StatusDirectPickup:   {},
	StatusLatePickup:     {},
	StatusAfterCare:      {},
}

// Valid reports whether s is one of the recognized dismissal statuses.
func (s Status) Valid() bool {
	_, ok := statuses[s]
	return ok
}

// Dismissed reports whether entering s stamps the record's dismissedAt
// time. The stamp is set on entry and never cleared by later writes.
func (s Status) Dismissed() bool {
	switch s {
	case StatusReleased, StatusCollected, StatusNoShow, StatusEarlyDismissal, StatusDirectPickup:
		return true
	}
	return false
}

// Contact identifies the parent or alternate allowed to collect a student.
// Contact-based lookups exist because one parent scan may cover several
// children.
type Contact struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	AltName string `json:"alt_name,omitempty"`
}

// QRScan records the scan that moved a record, set only by the QR check-in
// workflow.
type QRScan struct {
	At       time.Time `json:"at"`
	Building string    `json:"building"`
}

// PickupConfirmation records the gate-side confirmation of a pickup.
type PickupConfirmation struct {
	At          time.Time `json:"at"`
	ConfirmedBy string    `json:"confirmed_by"`
	Issue       string    `json:"issue,omitempty"`
}

// Record is one student's progress through pickup within one queue.
// AddMethod is provenance of how the record entered the queue (queue-seed,
// manual, qr, grade-bulk) and is immutable after creation.
type Record struct {
	ID          string              `json:"id"`
	QueueID     string              `json:"queue_id"`
	StudentID   string              `json:"student_id"`
	StudentName string              `json:"student_name"`
	Grade       string              `json:"grade"`
	Status      Status              `json:"status"`
	AddMethod   string              `json:"add_method"`
	Contact     Contact             `json:"contact"`
	QRScan      *QRScan             `json:"qr_scan,omitempty"`
	Pickup      *PickupConfirmation `json:"pickup_confirmation,omitempty"`
	DismissedAt *time.Time          `json:"dismissed_at,omitempty"`
	StatusSetBy string              `json:"status_set_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

var (
	// ErrInvalid marks validation failures (blank ids, unrecognized statuses).
	ErrInvalid = errors.New("dismissal: invalid argument")
	// ErrNotFound means no record exists for the (queue, student) pair.
	ErrNotFound = errors.New("dismissal: record not found")
	// ErrDuplicate means a record for the (queue, student) pair already exists.
	ErrDuplicate = errors.New("dismissal: record already exists")
	// ErrQueueClosed rejects writes against a queue that is not Open.
	ErrQueueClosed = errors.New("dismissal: queue is not open")
)
