package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthqueue/healthqueue/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const uniqueViolation = "23505"

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (r *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const entryCols = `id, patient_id, patient_name, queue_number, priority, status, created_at, updated_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var priority, status string
	if err := row.Scan(&e.ID, &e.PatientID, &e.PatientName, &e.QueueNumber,
		&priority, &status, &e.Timestamp, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Priority = Priority(priority)
	e.Status = Status(status)
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// storeErr maps driver errors onto the queue error taxonomy.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrEntryNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %s", op, ErrConcurrentModification, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func (r *storePG) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO queue_entries (id, patient_id, patient_name, queue_number, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		e.ID, e.PatientID, e.PatientName, e.QueueNumber, string(e.Priority), string(e.Status), e.Timestamp,
	).Scan(&e.Timestamp, &e.UpdatedAt)
	return storeErr("insert queue entry", err)
}

func (r *storePG) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `SELECT `+entryCols+` FROM queue_entries WHERE id = $1`, id))
	if err != nil {
		return nil, storeErr("get queue entry", err)
	}
	return e, nil
}

func (r *storePG) ListActive(ctx context.Context) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM queue_entries
		WHERE status IN ('waiting', 'called', 'serving')
		ORDER BY CASE priority WHEN 'priority' THEN 0 ELSE 1 END, queue_number ASC`)
	if err != nil {
		return nil, storeErr("list active queue", err)
	}
	items, err := scanEntries(rows)
	if err != nil {
		return nil, storeErr("scan active queue", err)
	}
	return items, nil
}

func (r *storePG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entries SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+entryCols, id, string(from), string(to)))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, storeErr("update queue status", err)
	}

	// Nothing matched: either the row is gone or another session moved it.
	var current string
	if err := r.conn(ctx).QueryRow(ctx, `SELECT status FROM queue_entries WHERE id = $1`, id).Scan(&current); err != nil {
		return nil, storeErr("update queue status", err)
	}
	return nil, fmt.Errorf("%w: entry is %s, expected %s", ErrInvalidTransition, current, from)
}

func (r *storePG) UpdatePriority(ctx context.Context, id uuid.UUID, p Priority) (*Entry, error) {
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, `
		UPDATE queue_entries SET priority = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+entryCols, id, string(p)))
	if err != nil {
		return nil, storeErr("update queue priority", err)
	}
	return e, nil
}

// Delete removes an entry and raises the number floor so a deleted top
// number is never handed out again.
func (r *storePG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		WITH removed AS (
			DELETE FROM queue_entries WHERE id = $1 RETURNING queue_number
		)
		UPDATE queue_number_floor
		SET last_number = GREATEST(last_number, (SELECT queue_number FROM removed))
		WHERE id = 1 AND EXISTS (SELECT 1 FROM removed)`, id)
	if err != nil {
		return storeErr("delete queue entry", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete queue entry: %w", ErrEntryNotFound)
	}
	return nil
}

func (r *storePG) MaxQueueNumber(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT GREATEST(
			COALESCE((SELECT MAX(queue_number) FROM queue_entries), 0),
			COALESCE((SELECT last_number FROM queue_number_floor WHERE id = 1), 0))`).Scan(&n)
	return n, storeErr("max queue number", err)
}

func (r *storePG) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'called'),
			COUNT(*) FILTER (WHERE status = 'serving'),
			COUNT(*) FILTER (WHERE status = 'waiting' AND priority = 'priority')
		FROM queue_entries`).Scan(&s.Waiting, &s.Called, &s.Serving, &s.PriorityWaiting)
	return s, storeErr("queue stats", err)
}

func (r *storePG) History(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+entryCols+` FROM queue_entries
		WHERE status = 'completed'
		ORDER BY created_at DESC, queue_number DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, storeErr("queue history", err)
	}
	items, err := scanEntries(rows)
	if err != nil {
		return nil, storeErr("scan queue history", err)
	}
	return items, nil
}

func (r *storePG) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		WITH purged AS (
			DELETE FROM queue_entries
			WHERE status = 'completed' AND updated_at < $1
			RETURNING queue_number
		), raised AS (
			UPDATE queue_number_floor
			SET last_number = GREATEST(last_number, COALESCE((SELECT MAX(queue_number) FROM purged), 0))
			WHERE id = 1
		)
		SELECT COUNT(*) FROM purged`, cutoff).Scan(&n)
	if err != nil {
		return 0, storeErr("purge completed entries", err)
	}
	return n, nil
}
