package checkin

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/far365/user-role-app-sub001/internal/attendance"
	"github.com/far365/user-role-app-sub001/internal/dismissal"
	"github.com/far365/user-role-app-sub001/internal/qrtoken"
	"github.com/far365/user-role-app-sub001/internal/queue"
)

var scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dismissal_qr_scans_total",
	Help: "QR scans processed, by flow and outcome.",
}, []string{"flow", "outcome"})

// openQueueResolver finds the current Open queue; satisfied by the queue
// coordinator.
type openQueueResolver interface {
	GetOpen(ctx context.Context) (*queue.Queue, error)
}

// dismissalUpdater is the slice of the dismissal service the scans drive.
type dismissalUpdater interface {
	UpdateStatusByStudent(ctx context.Context, queueID, studentID string, status dismissal.Status, actor string) (*dismissal.Record, error)
	UpdateStatusByContact(ctx context.Context, queueID, contactID, contactName string, status dismissal.Status, building, actor string) (int64, error)
}

// attendanceSetter records an arrival status; satisfied by the attendance
// service.
type attendanceSetter interface {
	SetArrivalStatus(ctx context.Context, studentID string, status attendance.ArrivalStatus, updatedBy string) (attendance.Record, error)
}

// Service wires scanned QR codes into attendance and dismissal
// transitions. The student-facing QR is an HMAC-signed token; the
// parent-facing QR is a bare contact identifier. That asymmetry is the
// shipped card format, kept as-is.
type Service struct {
	codec  *qrtoken.Codec
	queues openQueueResolver
	dis    dismissalUpdater
	att    attendanceSetter
}

// NewService creates the check-in workflow service.
func NewService(codec *qrtoken.Codec, queues openQueueResolver, dis dismissalUpdater, att attendanceSetter) *Service {
	return &Service{codec: codec, queues: queues, dis: dis, att: att}
}

// AttendanceScan verifies a student token and records an arrival status.
// No dismissal-queue involvement; a valid scan always drives the
// attendance transition. Status defaults to OnTime.
func (s *Service) AttendanceScan(ctx context.Context, token string, status attendance.ArrivalStatus) (attendance.Record, error) {
	if status == "" {
		status = attendance.ArrivalOnTime
	}
	studentID, err := s.codec.Verify(token)
	if err != nil {
		scansTotal.WithLabelValues("attendance", "invalid_token").Inc()
		return attendance.Record{}, err
	}
	rec, err := s.att.SetArrivalStatus(ctx, studentID, status, "qr-scan")
	if err != nil {
		scansTotal.WithLabelValues("attendance", "error").Inc()
		return attendance.Record{}, err
	}
	scansTotal.WithLabelValues("attendance", "ok").Inc()
	return rec, nil
}

// ParentScan moves every open-queue record matching the scanned contact to
// InQueue, stamping the scan building. Returns the queue id and the number
// of children moved; zero is "no matching student", reported to the caller
// rather than treated as an error.
func (s *Service) ParentScan(ctx context.Context, contactID, contactName, building, actor string) (string, int64, error) {
	open, err := s.queues.GetOpen(ctx)
	if err != nil {
		scansTotal.WithLabelValues("parent", "error").Inc()
		return "", 0, err
	}
	if open == nil {
		scansTotal.WithLabelValues("parent", "no_open_queue").Inc()
		return "", 0, queue.ErrNoOpenQueue
	}
	n, err := s.dis.UpdateStatusByContact(ctx, open.QueueID, contactID, contactName, dismissal.StatusInQueue, building, actor)
	if err != nil {
		scansTotal.WithLabelValues("parent", "error").Inc()
		return "", 0, err
	}
	if n == 0 {
		scansTotal.WithLabelValues("parent", "no_match").Inc()
	} else {
		scansTotal.WithLabelValues("parent", "ok").Inc()
	}
	return open.QueueID, n, nil
}

// StudentScan verifies a student token and marks the student Collected in
// the open queue. Used for self-dismissing or directly confirmed students.
func (s *Service) StudentScan(ctx context.Context, token, actor string) (*dismissal.Record, error) {
	studentID, err := s.codec.Verify(token)
	if err != nil {
		scansTotal.WithLabelValues("student", "invalid_token").Inc()
		return nil, err
	}
	open, err := s.queues.GetOpen(ctx)
	if err != nil {
		scansTotal.WithLabelValues("student", "error").Inc()
		return nil, err
	}
	if open == nil {
		scansTotal.WithLabelValues("student", "no_open_queue").Inc()
		return nil, queue.ErrNoOpenQueue
	}
	if actor == "" {
		actor = fmt.Sprintf("qr:%s", studentID)
	}
	rec, err := s.dis.UpdateStatusByStudent(ctx, open.QueueID, studentID, dismissal.StatusCollected, actor)
	if err != nil {
		scansTotal.WithLabelValues("student", "error").Inc()
		return nil, err
	}
	scansTotal.WithLabelValues("student", "ok").Inc()
	return rec, nil
}
