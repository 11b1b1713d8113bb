package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/far365/user-role-app-sub001/internal/roster"
)

// repository is the persistence surface the coordinator needs; *Repository
// satisfies it, tests substitute an in-memory fake.
type repository interface {
	GetOpen(ctx context.Context) (*Queue, error)
	GetByID(ctx context.Context, queueID string) (*Queue, error)
	Insert(ctx context.Context, q Queue) error
	Close(ctx context.Context, closedBy string, at time.Time) (*Queue, error)
	Delete(ctx context.Context, queueID string) error
	List(ctx context.Context) ([]Queue, error)
}

// eligibleLister returns the students to seed into a new queue.
type eligibleLister interface {
	ListEligibleStudents(ctx context.Context) ([]roster.Student, error)
}

// seeder bulk-creates dismissal records for a freshly created queue;
// satisfied by the dismissal service.
type seeder interface {
	SeedQueue(ctx context.Context, queueID string, students []roster.Student) (int64, error)
}

// Service enforces the single-open-queue lifecycle. Create, Close and
// Delete serialize through mu; the schema's partial unique index covers
// multi-instance deployments where the mutex cannot.
type Service struct {
	repo   repository
	roster eligibleLister
	seed   seeder
	mu     sync.Mutex
	now    func() time.Time
}

// NewService creates the coordinator.
func NewService(repo repository, r eligibleLister, seed seeder) *Service {
	return &Service{repo: repo, roster: r, seed: seed, now: time.Now}
}

// GetOpen resolves the current Open queue. (nil, nil) when none is open;
// callers treat that as a normal state, not a failure.
func (s *Service) GetOpen(ctx context.Context) (*Queue, error) {
	return s.repo.GetOpen(ctx)
}

// Create opens a new queue and seeds one Standby dismissal record per
// eligible student. Rejects with ErrAlreadyOpen when a queue is already
// open. Seeding is not atomic with creation; the returned count is the
// only evidence of how much completed.
func (s *Service) Create(ctx context.Context, startedBy string) (*Queue, int64, error) {
	if startedBy == "" {
		return nil, 0, fmt.Errorf("%w: startedBy required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	open, err := s.repo.GetOpen(ctx)
	if err != nil {
		return nil, 0, err
	}
	if open != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrAlreadyOpen, open.QueueID)
	}

	now := s.now().UTC()
	q := Queue{
		QueueID:   newQueueID(now),
		Status:    StatusOpen,
		StartedAt: now,
		StartedBy: startedBy,
	}
	if err := s.repo.Insert(ctx, q); err != nil {
		return nil, 0, err
	}

	students, err := s.roster.ListEligibleStudents(ctx)
	if err != nil {
		// Queue exists but is empty; callers see the zero count and can
		// re-seed students individually.
		log.Printf("queue %s created but roster fetch failed: %v", q.QueueID, err)
		return &q, 0, nil
	}
	seeded, err := s.seed.SeedQueue(ctx, q.QueueID, students)
	if err != nil {
		log.Printf("queue %s created but seeding failed after %d records: %v", q.QueueID, seeded, err)
		return &q, seeded, nil
	}
	return &q, seeded, nil
}

// Close flips the Open queue to Closed. Records are left as-is; they are
// history, not garbage. ErrNoOpenQueue when nothing is open.
func (s *Service) Close(ctx context.Context, closedBy string) (*Queue, error) {
	if closedBy == "" {
		return nil, fmt.Errorf("%w: closedBy required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Close(ctx, closedBy, s.now().UTC())
}

// Delete removes a queue and, through the schema, its dismissal records.
// Permitted regardless of status; administrative use only.
func (s *Service) Delete(ctx context.Context, queueID string) error {
	if queueID == "" {
		return fmt.Errorf("%w: queue id required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Delete(ctx, queueID)
}

// List returns every queue, newest first.
func (s *Service) List(ctx context.Context) ([]Queue, error) {
	return s.repo.List(ctx)
}

// GetByID returns one queue by id.
func (s *Service) GetByID(ctx context.Context, queueID string) (*Queue, error) {
	if queueID == "" {
		return nil, fmt.Errorf("%w: queue id required", ErrInvalid)
	}
	return s.repo.GetByID(ctx, queueID)
}

// newQueueID builds a date-derived id. The uuid suffix keeps same-day
// delete-and-recreate from colliding.
func newQueueID(now time.Time) string {
	return now.Format("20060102") + "-" + uuid.NewString()[:8]
}
