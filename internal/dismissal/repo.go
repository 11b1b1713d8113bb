package dismissal

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/far365/user-role-app-sub001/internal/roster"
)

const recordColumns = `
	id, queue_id, student_id, student_name, grade, status, add_method,
	contact_id, contact_name, contact_alt_name,
	qr_scan_at, qr_scan_building,
	pickup_confirmed_at, pickup_confirmed_by, pickup_issue,
	dismissed_at, status_set_by, created_at, updated_at`

// Repository persists dismissal records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// QueueStatus returns the status of a queue, or ErrNotFound.
// Callers that check-then-act on this are racing concurrent closure; the
// schema's row-level semantics are the only guarantee.
func (r *Repository) QueueStatus(ctx context.Context, queueID string) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT status FROM dismissal_queues WHERE queue_id = $1
	`, queueID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return status, err
}

// Insert writes one record; ErrDuplicate when the (queue, student) pair
// already exists.
func (r *Repository) Insert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dismissal_records
			(id, queue_id, student_id, student_name, grade, status, add_method,
			 contact_id, contact_name, contact_alt_name, status_set_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		ON CONFLICT (queue_id, student_id) DO NOTHING
	`, rec.ID, rec.QueueID, rec.StudentID, rec.StudentName, rec.Grade, rec.Status,
		rec.AddMethod, rec.Contact.ID, rec.Contact.Name, rec.Contact.AltName,
		rec.StatusSetBy, rec.CreatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

// BulkInsert seeds one Standby record per student into a queue in a single
// statement. Students already present in the queue are skipped. Returns the
// number of records actually inserted.
func (r *Repository) BulkInsert(ctx context.Context, queueID string, students []roster.Student, addMethod string, at time.Time) (int64, error) {
	if len(students) == 0 {
		return 0, nil
	}
	n := len(students)
	ids := make([]string, n)
	studentIDs := make([]string, n)
	names := make([]string, n)
	grades := make([]string, n)
	contactIDs := make([]string, n)
	contactNames := make([]string, n)
	contactAlts := make([]string, n)
	for i, s := range students {
		ids[i] = uuid.NewString()
		studentIDs[i] = s.ID
		names[i] = s.Name
		grades[i] = s.Grade
		contactIDs[i] = s.ContactID
		contactNames[i] = s.ContactName
		contactAlts[i] = s.ContactAltName
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dismissal_records
			(id, queue_id, student_id, student_name, grade, status, add_method,
			 contact_id, contact_name, contact_alt_name, created_at, updated_at)
		SELECT t.id, $8, t.sid, t.name, t.grade, $9, $10, t.cid, t.cname, t.calt, $11, $11
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[])
			AS t(id, sid, name, grade, cid, cname, calt)
		ON CONFLICT (queue_id, student_id) DO NOTHING
	`, ids, studentIDs, names, grades, contactIDs, contactNames, contactAlts,
		queueID, StatusStandby, addMethod, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateStatusByStudent moves one record to a new status, stamping
// dismissed_at when the service supplies one. ErrNotFound when the pair
// does not exist.
func (r *Repository) UpdateStatusByStudent(ctx context.Context, queueID, studentID string, status Status, actor string, dismissedAt *time.Time, at time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE dismissal_records
		SET status = $3,
			status_set_by = $4,
			dismissed_at = COALESCE($5, dismissed_at),
			updated_at = $6
		WHERE queue_id = $1 AND student_id = $2
		RETURNING `+recordColumns+`
	`, queueID, studentID, status, actor, dismissedAt, at)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// UpdateStatusByContact moves every record in the queue whose contact
// matches the given id or name, stamping the QR scan. Zero affected rows is
// a valid outcome (no matching student), not an error.
func (r *Repository) UpdateStatusByContact(ctx context.Context, queueID, contactID, contactName string, status Status, building, actor string, dismissedAt *time.Time, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dismissal_records
		SET status = $4,
			status_set_by = $5,
			qr_scan_at = $6,
			qr_scan_building = $7,
			dismissed_at = COALESCE($8, dismissed_at),
			updated_at = $6
		WHERE queue_id = $1
		  AND (($2 <> '' AND contact_id = $2) OR ($3 <> '' AND (contact_name = $3 OR contact_alt_name = $3)))
	`, queueID, contactID, contactName, status, actor, at, building, dismissedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertGrade applies one status to a grade's students within a queue.
// Students not yet in the queue are added with the given add method;
// existing records keep their original add method.
func (r *Repository) UpsertGrade(ctx context.Context, queueID string, students []roster.Student, status Status, addMethod, actor string, dismissedAt *time.Time, at time.Time) (int64, error) {
	if len(students) == 0 {
		return 0, nil
	}
	n := len(students)
	ids := make([]string, n)
	studentIDs := make([]string, n)
	names := make([]string, n)
	grades := make([]string, n)
	for i, s := range students {
		ids[i] = uuid.NewString()
		studentIDs[i] = s.ID
		names[i] = s.Name
		grades[i] = s.Grade
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dismissal_records
			(id, queue_id, student_id, student_name, grade, status, add_method,
			 status_set_by, dismissed_at, created_at, updated_at)
		SELECT t.id, $5, t.sid, t.name, t.grade, $6, $7, $8, $9, $10, $10
		FROM unnest($1::text[], $2::text[], $3::text[], $4::text[]) AS t(id, sid, name, grade)
		ON CONFLICT (queue_id, student_id) DO UPDATE SET
			status = EXCLUDED.status,
			status_set_by = EXCLUDED.status_set_by,
			dismissed_at = COALESCE(EXCLUDED.dismissed_at, dismissal_records.dismissed_at),
			updated_at = EXCLUDED.updated_at
	`, ids, studentIDs, names, grades, queueID, status, addMethod, actor, dismissedAt, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ConfirmPickup records the gate-side confirmation for one record.
func (r *Repository) ConfirmPickup(ctx context.Context, queueID, studentID, confirmedBy, issue string, at time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE dismissal_records
		SET pickup_confirmed_at = $3,
			pickup_confirmed_by = $4,
			pickup_issue = $5,
			updated_at = $3
		WHERE queue_id = $1 AND student_id = $2
		RETURNING `+recordColumns+`
	`, queueID, studentID, at, confirmedBy, issue)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetByStudent returns the record for a (queue, student) pair.
func (r *Repository) GetByStudent(ctx context.Context, queueID, studentID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM dismissal_records
		WHERE queue_id = $1 AND student_id = $2
	`, queueID, studentID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListByGrade returns a queue's records, optionally filtered to one grade,
// ordered by student name.
func (r *Repository) ListByGrade(ctx context.Context, queueID, grade string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM dismissal_records
		WHERE queue_id = $1 AND ($2 = '' OR grade = $2)
		ORDER BY student_name
	`, queueID, grade)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ListStatuses returns just the status column for a queue/grade; grouping
// happens in the service.
func (r *Repository) ListStatuses(ctx context.Context, queueID, grade string) ([]Status, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status
		FROM dismissal_records
		WHERE queue_id = $1 AND ($2 = '' OR grade = $2)
	`, queueID, grade)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Status
	for rows.Next() {
		var s Status
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                    Record
		qrAt, pickupAt, dismAt sql.NullTime
		qrBuilding             sql.NullString
		pickupBy, pickupIssue  sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.QueueID, &rec.StudentID, &rec.StudentName, &rec.Grade,
		&rec.Status, &rec.AddMethod,
		&rec.Contact.ID, &rec.Contact.Name, &rec.Contact.AltName,
		&qrAt, &qrBuilding,
		&pickupAt, &pickupBy, &pickupIssue,
		&dismAt, &rec.StatusSetBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if qrAt.Valid {
		rec.QRScan = &QRScan{At: qrAt.Time, Building: qrBuilding.String}
	}
	if pickupAt.Valid {
		rec.Pickup = &PickupConfirmation{At: pickupAt.Time, ConfirmedBy: pickupBy.String, Issue: pickupIssue.String}
	}
	if dismAt.Valid {
		t := dismAt.Time
		rec.DismissedAt = &t
	}
	return &rec, nil
}
