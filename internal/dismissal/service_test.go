package dismissal

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/far365/user-role-app-sub001/internal/roster"
)

// fakeRepo keeps records in memory with the same semantics the SQL repo
// gets from Postgres.
type fakeRepo struct {
	queues  map[string]string // queueID -> status
	records map[string]*Record
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		queues:  map[string]string{"Q1": QueueOpen},
		records: make(map[string]*Record),
	}
}

func pair(queueID, studentID string) string { return queueID + "|" + studentID }

func (f *fakeRepo) QueueStatus(_ context.Context, queueID string) (string, error) {
	st, ok := f.queues[queueID]
	if !ok {
		return "", ErrNotFound
	}
	return st, nil
}

func (f *fakeRepo) Insert(_ context.Context, rec Record) error {
	k := pair(rec.QueueID, rec.StudentID)
	if _, exists := f.records[k]; exists {
		return ErrDuplicate
	}
	f.records[k] = &rec
	return nil
}

func (f *fakeRepo) BulkInsert(_ context.Context, queueID string, students []roster.Student, addMethod string, at time.Time) (int64, error) {
	var n int64
	for _, s := range students {
		k := pair(queueID, s.ID)
		if _, exists := f.records[k]; exists {
			continue
		}
		f.records[k] = &Record{
			QueueID: queueID, StudentID: s.ID, StudentName: s.Name, Grade: s.Grade,
			Status: StatusStandby, AddMethod: addMethod,
			Contact:   Contact{ID: s.ContactID, Name: s.ContactName, AltName: s.ContactAltName},
			CreatedAt: at, UpdatedAt: at,
		}
		n++
	}
	return n, nil
}

func (f *fakeRepo) UpdateStatusByStudent(_ context.Context, queueID, studentID string, status Status, actor string, dismissedAt *time.Time, at time.Time) (*Record, error) {
	rec, ok := f.records[pair(queueID, studentID)]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Status = status
	rec.StatusSetBy = actor
	if dismissedAt != nil {
		rec.DismissedAt = dismissedAt
	}
	rec.UpdatedAt = at
	out := *rec
	return &out, nil
}

func (f *fakeRepo) UpdateStatusByContact(_ context.Context, queueID, contactID, contactName string, status Status, building, actor string, dismissedAt *time.Time, at time.Time) (int64, error) {
	var n int64
	for _, rec := range f.records {
		if rec.QueueID != queueID {
			continue
		}
		match := (contactID != "" && rec.Contact.ID == contactID) ||
			(contactName != "" && (rec.Contact.Name == contactName || rec.Contact.AltName == contactName))
		if !match {
			continue
		}
		rec.Status = status
		rec.StatusSetBy = actor
		rec.QRScan = &QRScan{At: at, Building: building}
		if dismissedAt != nil {
			rec.DismissedAt = dismissedAt
		}
		rec.UpdatedAt = at
		n++
	}
	return n, nil
}

func (f *fakeRepo) UpsertGrade(_ context.Context, queueID string, students []roster.Student, status Status, addMethod, actor string, dismissedAt *time.Time, at time.Time) (int64, error) {
	var n int64
	for _, s := range students {
		k := pair(queueID, s.ID)
		rec, exists := f.records[k]
		if !exists {
			rec = &Record{QueueID: queueID, StudentID: s.ID, StudentName: s.Name, Grade: s.Grade, AddMethod: addMethod, CreatedAt: at}
			f.records[k] = rec
		}
		rec.Status = status
		rec.StatusSetBy = actor
		if dismissedAt != nil {
			rec.DismissedAt = dismissedAt
		}
		rec.UpdatedAt = at
		n++
	}
	return n, nil
}

func (f *fakeRepo) ConfirmPickup(_ context.Context, queueID, studentID, confirmedBy, issue string, at time.Time) (*Record, error) {
	rec, ok := f.records[pair(queueID, studentID)]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Pickup = &PickupConfirmation{At: at, ConfirmedBy: confirmedBy, Issue: issue}
	rec.UpdatedAt = at
	out := *rec
	return &out, nil
}

func (f *fakeRepo) GetByStudent(_ context.Context, queueID, studentID string) (*Record, error) {
	rec, ok := f.records[pair(queueID, studentID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (f *fakeRepo) ListByGrade(_ context.Context, queueID, grade string) ([]Record, error) {
	var out []Record
	for _, rec := range f.records {
		if rec.QueueID == queueID && (grade == "" || rec.Grade == grade) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentName < out[j].StudentName })
	return out, nil
}

func (f *fakeRepo) ListStatuses(_ context.Context, queueID, grade string) ([]Status, error) {
	var out []Status
	for _, rec := range f.records {
		if rec.QueueID == queueID && (grade == "" || rec.Grade == grade) {
			out = append(out, rec.Status)
		}
	}
	return out, nil
}

type fakeRoster struct {
	students []roster.Student
}

func (f *fakeRoster) ListByGrade(_ context.Context, grade string) ([]roster.Student, error) {
	var out []roster.Student
	for _, s := range f.students {
		if s.Grade == grade {
			out = append(out, s)
		}
	}
	return out, nil
}

func testRoster() *fakeRoster {
	return &fakeRoster{students: []roster.Student{
		{ID: "S1", Name: "Avery", Grade: "3", ContactID: "P1", ContactName: "Jordan"},
		{ID: "S2", Name: "Blake", Grade: "3", ContactID: "P1", ContactName: "Jordan"},
		{ID: "S3", Name: "Cameron", Grade: "3", ContactID: "P1", ContactName: "Jordan"},
		{ID: "S4", Name: "Dana", Grade: "4", ContactID: "P2", ContactName: "Casey"},
	}}
}

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	svc := NewService(repo, testRoster())
	return svc, repo
}

func TestCreate(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	id, err := svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusStandby, Contact{ID: "P1", Name: "Jordan"}, "manual")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	rec := repo.records[pair("Q1", "S1")]
	require.NotNil(t, rec)
	assert.Equal(t, StatusStandby, rec.Status)
	assert.Equal(t, "manual", rec.AddMethod)
	assert.Nil(t, rec.DismissedAt)
}

func TestCreateDuplicate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateClosedQueue(t *testing.T) {
	svc, repo := newTestService()
	repo.queues["Q0"] = "Closed"

	_, err := svc.Create(context.Background(), "Q0", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
	assert.ErrorIs(t, err, ErrQueueClosed)

	_, err = svc.Create(context.Background(), "missing", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "", "S1", "", "", StatusStandby, Contact{}, "")
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = svc.Create(ctx, "Q1", "S1", "", "", Status("Teleported"), Contact{}, "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUpdateStatusByStudentStampsDismissedAt(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
	require.NoError(t, err)

	rec, err := svc.UpdateStatusByStudent(ctx, "Q1", "S1", StatusCollected, "gate-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCollected, rec.Status)
	assert.Equal(t, "gate-1", rec.StatusSetBy)
	require.NotNil(t, rec.DismissedAt)
	stamped := *rec.DismissedAt

	// Correcting back to Standby keeps the earlier stamp.
	rec, err = svc.UpdateStatusByStudent(ctx, "Q1", "S1", StatusStandby, "gate-1")
	require.NoError(t, err)
	assert.Equal(t, StatusStandby, rec.Status)
	require.NotNil(t, rec.DismissedAt)
	assert.Equal(t, stamped, *rec.DismissedAt)
}

func TestUpdateStatusByStudentStampRule(t *testing.T) {
	stamping := []Status{StatusReleased, StatusCollected, StatusNoShow, StatusEarlyDismissal, StatusDirectPickup}
	plain := []Status{StatusStandby, StatusInQueue, StatusUnknown, StatusLatePickup, StatusAfterCare}

	for _, st := range stamping {
		svc, _ := newTestService()
		ctx := context.Background()
		_, err := svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
		require.NoError(t, err)

		rec, err := svc.UpdateStatusByStudent(ctx, "Q1", "S1", st, "x")
		require.NoError(t, err)
		assert.NotNil(t, rec.DismissedAt, string(st))
	}
	for _, st := range plain {
		svc, _ := newTestService()
		ctx := context.Background()
		_, err := svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
		require.NoError(t, err)

		rec, err := svc.UpdateStatusByStudent(ctx, "Q1", "S1", st, "x")
		require.NoError(t, err)
		assert.Nil(t, rec.DismissedAt, string(st))
	}
}

func TestUpdateStatusByStudentNotFound(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.UpdateStatusByStudent(context.Background(), "Q1", "S404", StatusCollected, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatusByContact(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// Three siblings share contact P1 in the open queue; S4 has contact P2.
	for _, s := range testRoster().students {
		_, err := svc.Create(ctx, "Q1", s.ID, s.Name, s.Grade, StatusStandby,
			Contact{ID: s.ContactID, Name: s.ContactName}, "queue-seed")
		require.NoError(t, err)
	}

	n, err := svc.UpdateStatusByContact(ctx, "Q1", "P1", "", StatusInQueue, "north-gate", "scanner-2")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	for _, sid := range []string{"S1", "S2", "S3"} {
		rec := repo.records[pair("Q1", sid)]
		assert.Equal(t, StatusInQueue, rec.Status, sid)
		require.NotNil(t, rec.QRScan, sid)
		assert.Equal(t, "north-gate", rec.QRScan.Building, sid)
	}
	// The grade-4 student with a different contact is untouched.
	assert.Equal(t, StatusStandby, repo.records[pair("Q1", "S4")].Status)
}

func TestUpdateStatusByContactNoMatch(t *testing.T) {
	svc, _ := newTestService()

	n, err := svc.UpdateStatusByContact(context.Background(), "Q1", "P404", "", StatusInQueue, "b", "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateStatusByContactValidation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.UpdateStatusByContact(context.Background(), "Q1", "", "", StatusInQueue, "b", "x")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestUpdateStatusForGradeIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	n, err := svc.UpdateStatusForGrade(ctx, "Q1", "3", StatusReleased, "", "office")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	first := make(map[string]Record)
	for k, v := range repo.records {
		first[k] = *v
	}

	n, err = svc.UpdateStatusForGrade(ctx, "Q1", "3", StatusReleased, "", "office")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	for k, v := range repo.records {
		assert.Equal(t, first[k].Status, v.Status, k)
		// dismissedAt keeps the first stamp.
		assert.Equal(t, *first[k].DismissedAt, *v.DismissedAt, k)
	}
}

func TestUpdateStatusForGradeUnknownGrade(t *testing.T) {
	svc, _ := newTestService()

	n, err := svc.UpdateStatusForGrade(context.Background(), "Q1", "12", StatusReleased, "", "office")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConfirmPickup(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusCollected, Contact{}, "manual")
	require.NoError(t, err)

	rec, err := svc.ConfirmPickup(ctx, "Q1", "S1", "Ms. Lee", "no car tag shown")
	require.NoError(t, err)
	require.NotNil(t, rec.Pickup)
	assert.Equal(t, "Ms. Lee", rec.Pickup.ConfirmedBy)
	assert.Equal(t, "no car tag shown", rec.Pickup.Issue)

	_, err = svc.ConfirmPickup(ctx, "Q1", "S1", "", "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestListByGradeOrdered(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, "Q1", "S2", "Blake", "3", StatusStandby, Contact{}, "manual")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "Q1", "S1", "Avery", "3", StatusStandby, Contact{}, "manual")
	require.NoError(t, err)

	recs, err := svc.ListByGrade(ctx, "Q1", "3")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Avery", recs[0].StudentName)
	assert.Equal(t, "Blake", recs[1].StudentName)
}

func TestCountByStatus(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.UpdateStatusForGrade(ctx, "Q1", "3", StatusStandby, "", "seed")
	require.NoError(t, err)
	_, err = svc.UpdateStatusByStudent(ctx, "Q1", "S1", StatusCollected, "gate")
	require.NoError(t, err)

	counts, err := svc.CountByStatus(ctx, "Q1", "3")
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusStandby])
	assert.Equal(t, 1, counts[StatusCollected])
}
