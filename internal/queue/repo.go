package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists dismissal queues in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// GetOpen returns the single Open queue, or nil when none is open.
func (r *Repository) GetOpen(ctx context.Context) (*Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT queue_id, status, started_at, started_by, closed_at, closed_by
		FROM dismissal_queues
		WHERE status = $1
		ORDER BY started_at DESC
		LIMIT 1
	`, StatusOpen)
	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

// GetByID returns one queue, or ErrNotFound.
func (r *Repository) GetByID(ctx context.Context, queueID string) (*Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT queue_id, status, started_at, started_by, closed_at, closed_by
		FROM dismissal_queues
		WHERE queue_id = $1
	`, queueID)
	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

// Insert creates an Open queue. The one_open_queue partial index makes a
// second concurrent Open insert a no-op, reported as ErrAlreadyOpen.
func (r *Repository) Insert(ctx context.Context, q Queue) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dismissal_queues (queue_id, status, started_at, started_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (status) WHERE status = 'Open' DO NOTHING
	`, q.QueueID, q.Status, q.StartedAt, q.StartedBy)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyOpen
	}
	return nil
}

// Close flips the Open queue to Closed in one compare-and-swap statement.
// ErrNoOpenQueue when nothing matched.
func (r *Repository) Close(ctx context.Context, closedBy string, at time.Time) (*Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE dismissal_queues
		SET status = $1, closed_at = $2, closed_by = $3
		WHERE status = $4
		RETURNING queue_id, status, started_at, started_by, closed_at, closed_by
	`, StatusClosed, at, closedBy, StatusOpen)
	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOpenQueue
	}
	return q, err
}

// Delete removes a queue regardless of status; the schema cascades the
// queue's dismissal records. ErrNotFound when no such queue.
func (r *Repository) Delete(ctx context.Context, queueID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM dismissal_queues WHERE queue_id = $1
	`, queueID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all queues, newest first.
func (r *Repository) List(ctx context.Context) ([]Queue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT queue_id, status, started_at, started_by, closed_at, closed_by
		FROM dismissal_queues
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueue(row rowScanner) (*Queue, error) {
	var (
		q        Queue
		closedAt sql.NullTime
		closedBy sql.NullString
	)
	if err := row.Scan(&q.QueueID, &q.Status, &q.StartedAt, &q.StartedBy, &closedAt, &closedBy); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		q.ClosedAt = &t
	}
	q.ClosedBy = closedBy.String
	return &q, nil
}
