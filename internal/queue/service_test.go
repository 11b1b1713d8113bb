package queue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/far365/user-role-app-sub001/internal/roster"
)

// fakeRepo mirrors the store's row semantics, including the partial unique
// index on Open status.
type fakeRepo struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{queues: make(map[string]*Queue)}
}

func (f *fakeRepo) GetOpen(_ context.Context) (*Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queues {
		if q.Status == StatusOpen {
			out := *q
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) GetByID(_ context.Context, queueID string) (*Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[queueID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *q
	return &out, nil
}

func (f *fakeRepo) Insert(_ context.Context, q Queue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.queues {
		if existing.Status == StatusOpen {
			return ErrAlreadyOpen
		}
	}
	f.queues[q.QueueID] = &q
	return nil
}

func (f *fakeRepo) Close(_ context.Context, closedBy string, at time.Time) (*Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queues {
		if q.Status == StatusOpen {
			q.Status = StatusClosed
			q.ClosedAt = &at
			q.ClosedBy = closedBy
			out := *q
			return &out, nil
		}
	}
	return nil, ErrNoOpenQueue
}

func (f *fakeRepo) Delete(_ context.Context, queueID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[queueID]; !ok {
		return ErrNotFound
	}
	delete(f.queues, queueID)
	return nil
}

func (f *fakeRepo) List(_ context.Context) ([]Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Queue
	for _, q := range f.queues {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

type fakeRoster struct {
	students []roster.Student
}

func (f *fakeRoster) ListEligibleStudents(_ context.Context) ([]roster.Student, error) {
	return f.students, nil
}

type fakeSeeder struct {
	mu     sync.Mutex
	seeded map[string]int64
}

func (f *fakeSeeder) SeedQueue(_ context.Context, queueID string, students []roster.Student) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seeded == nil {
		f.seeded = make(map[string]int64)
	}
	f.seeded[queueID] = int64(len(students))
	return int64(len(students)), nil
}

func newTestService() (*Service, *fakeRepo, *fakeSeeder) {
	repo := newFakeRepo()
	seed := &fakeSeeder{}
	r := &fakeRoster{students: []roster.Student{
		{ID: "S1", Name: "Avery", Grade: "3"},
		{ID: "S2", Name: "Blake", Grade: "3"},
		{ID: "S3", Name: "Cameron", Grade: "4"},
	}}
	return NewService(repo, r, seed), repo, seed
}

func TestCreateSeedsRecords(t *testing.T) {
	svc, _, seed := newTestService()

	q, seeded, err := svc.Create(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, q.Status)
	assert.Equal(t, "admin-1", q.StartedBy)
	assert.EqualValues(t, 3, seeded)
	assert.EqualValues(t, 3, seed.seeded[q.QueueID])
}

func TestCreateRejectsSecondOpen(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "admin-1")
	require.NoError(t, err)

	_, _, err = svc.Create(ctx, "admin-2")
	assert.ErrorIs(t, err, ErrAlreadyOpen)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()

	_, _, err := svc.Create(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSingleOpenUnderConcurrentCreate(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Create(ctx, "racer")
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyOpen)
		}
	}
	assert.Equal(t, 1, ok)

	var open int
	for _, q := range repo.queues {
		if q.Status == StatusOpen {
			open++
		}
	}
	assert.Equal(t, 1, open)
}

func TestQueueLifecycle(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	created, _, err := svc.Create(ctx, "admin-1")
	require.NoError(t, err)

	open, err := svc.GetOpen(ctx)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, created.QueueID, open.QueueID)
	assert.Equal(t, StatusOpen, open.Status)

	closed, err := svc.Close(ctx, "admin-2")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, "admin-2", closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)

	open, err = svc.GetOpen(ctx)
	require.NoError(t, err)
	assert.Nil(t, open)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, StatusClosed, list[0].Status)
}

func TestCloseWithoutOpen(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.Close(context.Background(), "admin-1")
	assert.ErrorIs(t, err, ErrNoOpenQueue)
}

func TestDelete(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	q, _, err := svc.Create(ctx, "admin-1")
	require.NoError(t, err)

	// Delete is allowed while still Open.
	require.NoError(t, svc.Delete(ctx, q.QueueID))
	assert.Empty(t, repo.queues)

	assert.ErrorIs(t, svc.Delete(ctx, q.QueueID), ErrNotFound)
}

func TestQueueIDDateDerived(t *testing.T) {
	svc, _, _ := newTestService()
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 14, 30, 0, 0, time.UTC) }

	q, _, err := svc.Create(context.Background(), "admin-1")
	require.NoError(t, err)
	assert.Regexp(t, `^20260309-[0-9a-f]{8}$`, q.QueueID)
}
