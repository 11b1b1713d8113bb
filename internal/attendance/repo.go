package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance records in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert writes the arrival status for (student, date), overwriting any
// prior status. Last write wins.
func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, att_date, arrival_status, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, att_date) DO UPDATE SET
			arrival_status = EXCLUDED.arrival_status,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, rec.ID, rec.StudentID, rec.Date, rec.Status, rec.UpdatedBy, rec.UpdatedAt)
	return err
}

// BulkUpsert applies one status to every listed student for the date in a
// single statement. Returns the affected-row count.
func (r *Repository) BulkUpsert(ctx context.Context, date time.Time, studentIDs []string, status ArrivalStatus, updatedBy string) (int64, error) {
	if len(studentIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(studentIDs))
	for i := range studentIDs {
		ids[i] = uuid.NewString()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, student_id, att_date, arrival_status, updated_by, updated_at)
		SELECT r, s, $3, $4, $5, $6
		FROM unnest($1::text[], $2::text[]) AS t(r, s)
		ON CONFLICT (student_id, att_date) DO UPDATE SET
			arrival_status = EXCLUDED.arrival_status,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, ids, studentIDs, date, status, updatedBy, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetByStudent returns the record for (student, date), or nil when none exists.
func (r *Repository) GetByStudent(ctx context.Context, studentID string, date time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, att_date, arrival_status, updated_by, updated_at
		FROM attendance_records
		WHERE student_id = $1 AND att_date = $2
	`, studentID, date)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.StudentID, &rec.Date, &rec.Status, &rec.UpdatedBy, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
