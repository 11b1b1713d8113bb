package attendance

import (
	"errors"
	"time"
)

// ArrivalStatus is a student's arrival state for one school day.
type ArrivalStatus string

const (
	ArrivalOnTime       ArrivalStatus = "OnTime"
	ArrivalOnTimeManual ArrivalStatus = "OnTime-M"
	ArrivalTardy        ArrivalStatus = "Tardy"
	ArrivalTardyManual  ArrivalStatus = "Tardy-M"
	ArrivalExcusedDelay ArrivalStatus = "ExcusedDelay"
	ArrivalNoShow       ArrivalStatus = "NoShow"
	ArrivalUnknown      ArrivalStatus = "Unknown"
)

var arrivalStatuses = map[ArrivalStatus]struct{}{
	ArrivalOnTime:       {},
	ArrivalOnTimeManual: {},
	ArrivalTardy:        {},
	ArrivalTardyManual:  {},
	ArrivalExcusedDelay: {},
	ArrivalNoShow:       {},
	ArrivalUnknown:      {},
}

// Valid reports whether s is one of the recognized arrival statuses.
func (s ArrivalStatus) Valid() bool {
	_, ok := arrivalStatuses[s]
	return ok
}

// Record is a student's arrival status for a specific date. One row per
// (student, date); a new write overwrites, no history is kept.
type Record struct {
	ID        string        `json:"id"`
	StudentID string        `json:"student_id"`
	Date      time.Time     `json:"date"`
	Status    ArrivalStatus `json:"status"`
	UpdatedBy string        `json:"updated_by"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ErrInvalid marks validation failures (blank ids, unrecognized statuses).
var ErrInvalid = errors.New("attendance: invalid argument")

// Day normalizes t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
