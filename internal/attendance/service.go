package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/far365/user-role-app-sub001/internal/roster"
)

// repository is the persistence surface the service needs; *Repository
// satisfies it, tests substitute an in-memory fake.
type repository interface {
	Upsert(ctx context.Context, rec Record) error
	BulkUpsert(ctx context.Context, date time.Time, studentIDs []string, status ArrivalStatus, updatedBy string) (int64, error)
	GetByStudent(ctx context.Context, studentID string, date time.Time) (*Record, error)
}

// gradeLister resolves the students of a grade; satisfied by *roster.Client.
type gradeLister interface {
	ListByGrade(ctx context.Context, grade string) ([]roster.Student, error)
}

// Service tracks per-student, per-day arrival status.
type Service struct {
	repo   repository
	roster gradeLister
	now    func() time.Time
}

// NewService creates a service backed by a repository and the roster client.
func NewService(repo repository, r gradeLister) *Service {
	return &Service{repo: repo, roster: r, now: time.Now}
}

// SetArrivalStatus records a student's arrival status for today.
// Last write wins; there is no history beyond the current day's record.
func (s *Service) SetArrivalStatus(ctx context.Context, studentID string, status ArrivalStatus, updatedBy string) (Record, error) {
	if studentID == "" {
		return Record{}, fmt.Errorf("%w: student id required", ErrInvalid)
	}
	if !status.Valid() {
		return Record{}, fmt.Errorf("%w: unrecognized arrival status %q", ErrInvalid, status)
	}
	now := s.now().UTC()
	rec := Record{
		StudentID: studentID,
		Date:      Day(now),
		Status:    status,
		UpdatedBy: updatedBy,
		UpdatedAt: now,
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("attendance upsert: %w", err)
	}
	return rec, nil
}

// SetArrivalStatusForGrade applies one arrival status to every eligible
// student in a grade for today. Returns the affected-row count; zero rows
// means the grade matched no students (likely a typo'd grade name).
func (s *Service) SetArrivalStatusForGrade(ctx context.Context, grade string, status ArrivalStatus, updatedBy string) (int64, error) {
	if grade == "" {
		return 0, fmt.Errorf("%w: grade required", ErrInvalid)
	}
	if !status.Valid() {
		return 0, fmt.Errorf("%w: unrecognized arrival status %q", ErrInvalid, status)
	}
	students, err := s.roster.ListByGrade(ctx, grade)
	if err != nil {
		return 0, fmt.Errorf("roster lookup for grade %q: %w", grade, err)
	}
	if len(students) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	n, err := s.repo.BulkUpsert(ctx, Day(s.now()), ids, status, updatedBy)
	if err != nil {
		return 0, fmt.Errorf("attendance bulk upsert: %w", err)
	}
	return n, nil
}

// GetByStudent returns today's record for a student, or nil when the
// student has no record yet. Absence is a normal state, not an error.
func (s *Service) GetByStudent(ctx context.Context, studentID string) (*Record, error) {
	if studentID == "" {
		return nil, fmt.Errorf("%w: student id required", ErrInvalid)
	}
	return s.repo.GetByStudent(ctx, studentID, Day(s.now()))
}
