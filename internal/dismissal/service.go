package dismissal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/far365/user-role-app-sub001/internal/roster"
)

// QueueOpen is the status value a queue must hold to accept new records.
// Matches the queue coordinator's vocabulary; the shared table is the contract.
const QueueOpen = "Open"

// repository is the persistence surface the service needs; *Repository
// satisfies it, tests substitute an in-memory fake.
type repository interface {
	QueueStatus(ctx context.Context, queueID string) (string, error)
	Insert(ctx context.Context, rec Record) error
	BulkInsert(ctx context.Context, queueID string, students []roster.Student, addMethod string, at time.Time) (int64, error)
	UpdateStatusByStudent(ctx context.Context, queueID, studentID string, status Status, actor string, dismissedAt *time.Time, at time.Time) (*Record, error)
	UpdateStatusByContact(ctx context.Context, queueID, contactID, contactName string, status Status, building, actor string, dismissedAt *time.Time, at time.Time) (int64, error)
	UpsertGrade(ctx context.Context, queueID string, students []roster.Student, status Status, addMethod, actor string, dismissedAt *time.Time, at time.Time) (int64, error)
	ConfirmPickup(ctx context.Context, queueID, studentID, confirmedBy, issue string, at time.Time) (*Record, error)
	GetByStudent(ctx context.Context, queueID, studentID string) (*Record, error)
	ListByGrade(ctx context.Context, queueID, grade string) ([]Record, error)
	ListStatuses(ctx context.Context, queueID, grade string) ([]Status, error)
}

type gradeLister interface {
	ListByGrade(ctx context.Context, grade string) ([]roster.Student, error)
}

// Service owns dismissal records and their transition rules.
type Service struct {
	repo   repository
	roster gradeLister
	now    func() time.Time
}

// NewService creates a service backed by a repository and the roster client.
func NewService(repo repository, r gradeLister) *Service {
	return &Service{repo: repo, roster: r, now: time.Now}
}

// stamp returns the dismissedAt value a transition into status carries:
// non-nil for statuses that mean the student left campus, nil otherwise so
// COALESCE leaves any earlier stamp in place.
func (s *Service) stamp(status Status, now time.Time) *time.Time {
	if status.Dismissed() {
		return &now
	}
	return nil
}

// Create adds one student to a queue. The queue must be Open at call time;
// this check-then-act is not guarded against a concurrent close.
func (s *Service) Create(ctx context.Context, queueID, studentID, studentName, grade string, initial Status, contact Contact, addMethod string) (string, error) {
	if queueID == "" || studentID == "" {
		return "", fmt.Errorf("%w: queue id and student id required", ErrInvalid)
	}
	if initial == "" {
		initial = StatusStandby
	}
	if !initial.Valid() {
		return "", fmt.Errorf("%w: unrecognized status %q", ErrInvalid, initial)
	}
	if addMethod == "" {
		addMethod = "manual"
	}
	qs, err := s.repo.QueueStatus(ctx, queueID)
	if err != nil {
		return "", err
	}
	if qs != QueueOpen {
		return "", fmt.Errorf("%w: queue %s is %s", ErrQueueClosed, queueID, qs)
	}
	now := s.now().UTC()
	rec := Record{
		ID:          uuid.NewString(),
		QueueID:     queueID,
		StudentID:   studentID,
		StudentName: studentName,
		Grade:       grade,
		Status:      initial,
		AddMethod:   addMethod,
		Contact:     contact,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// SeedQueue bulk-creates Standby records for every listed student; used by
// the queue coordinator at queue creation. Returns the seeded count.
func (s *Service) SeedQueue(ctx context.Context, queueID string, students []roster.Student) (int64, error) {
	if queueID == "" {
		return 0, fmt.Errorf("%w: queue id required", ErrInvalid)
	}
	return s.repo.BulkInsert(ctx, queueID, students, "queue-seed", s.now().UTC())
}

// UpdateStatusByStudent moves one record to a new status and records the
// actor. ErrNotFound when no record exists for the pair.
func (s *Service) UpdateStatusByStudent(ctx context.Context, queueID, studentID string, status Status, actor string) (*Record, error) {
	if queueID == "" || studentID == "" {
		return nil, fmt.Errorf("%w: queue id and student id required", ErrInvalid)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unrecognized status %q", ErrInvalid, status)
	}
	now := s.now().UTC()
	return s.repo.UpdateStatusByStudent(ctx, queueID, studentID, status, actor, s.stamp(status, now), now)
}

// UpdateStatusByContact moves every record whose contact matches the given
// id or name, stamping the scan building and time. One parent scan may move
// several children; zero matches is a normal outcome reported by the count.
func (s *Service) UpdateStatusByContact(ctx context.Context, queueID, contactID, contactName string, status Status, building, actor string) (int64, error) {
	if queueID == "" {
		return 0, fmt.Errorf("%w: queue id required", ErrInvalid)
	}
	if contactID == "" && contactName == "" {
		return 0, fmt.Errorf("%w: contact id or name required", ErrInvalid)
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unrecognized status %q", ErrInvalid, status)
	}
	now := s.now().UTC()
	return s.repo.UpdateStatusByContact(ctx, queueID, contactID, contactName, status, building, actor, s.stamp(status, now), now)
}

// UpdateStatusForGrade applies one status to a grade's students within a
// queue. Students missing from the queue are added with the given add
// method; existing records keep theirs. Re-applying the same update is
// idempotent. Returns the affected-row count.
func (s *Service) UpdateStatusForGrade(ctx context.Context, queueID, grade string, status Status, addMethod, actor string) (int64, error) {
	if queueID == "" || grade == "" {
		return 0, fmt.Errorf("%w: queue id and grade required", ErrInvalid)
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unrecognized status %q", ErrInvalid, status)
	}
	if addMethod == "" {
		addMethod = "grade-bulk"
	}
	students, err := s.roster.ListByGrade(ctx, grade)
	if err != nil {
		return 0, fmt.Errorf("roster lookup for grade %q: %w", grade, err)
	}
	if len(students) == 0 {
		return 0, nil
	}
	now := s.now().UTC()
	return s.repo.UpsertGrade(ctx, queueID, students, status, addMethod, actor, s.stamp(status, now), now)
}

// ConfirmPickup records who confirmed a pickup at the gate and any issue
// noted during handoff.
func (s *Service) ConfirmPickup(ctx context.Context, queueID, studentID, confirmedBy, issue string) (*Record, error) {
	if queueID == "" || studentID == "" {
		return nil, fmt.Errorf("%w: queue id and student id required", ErrInvalid)
	}
	if confirmedBy == "" {
		return nil, fmt.Errorf("%w: confirmer name required", ErrInvalid)
	}
	return s.repo.ConfirmPickup(ctx, queueID, studentID, confirmedBy, issue, s.now().UTC())
}

// GetByStudent returns one record; ErrNotFound when the pair has none.
func (s *Service) GetByStudent(ctx context.Context, queueID, studentID string) (*Record, error) {
	if queueID == "" || studentID == "" {
		return nil, fmt.Errorf("%w: queue id and student id required", ErrInvalid)
	}
	return s.repo.GetByStudent(ctx, queueID, studentID)
}

// ListByGrade returns a queue's records ordered by student name. An empty
// grade lists the whole queue.
func (s *Service) ListByGrade(ctx context.Context, queueID, grade string) ([]Record, error) {
	if queueID == "" {
		return nil, fmt.Errorf("%w: queue id required", ErrInvalid)
	}
	return s.repo.ListByGrade(ctx, queueID, grade)
}

// CountByStatus tallies a queue's records per status. Grouping happens here
// rather than in the store; the query surface stays row-shaped.
func (s *Service) CountByStatus(ctx context.Context, queueID, grade string) (map[Status]int, error) {
	if queueID == "" {
		return nil, fmt.Errorf("%w: queue id required", ErrInvalid)
	}
	statuses, err := s.repo.ListStatuses(ctx, queueID, grade)
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int, len(statuses))
	for _, st := range statuses {
		counts[st]++
	}
	return counts, nil
}
