package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"service-dispatch/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS order_assignments (
	order_id     TEXT PRIMARY KEY,
	courier_id   TEXT NOT NULL,
	assigned_at  TIMESTAMPTZ NOT NULL,
	closed_at    TIMESTAMPTZ,
	close_reason TEXT
);

CREATE TABLE IF NOT EXISTS order_assignment_history (
	id          BIGSERIAL PRIMARY KEY,
	order_id    TEXT NOT NULL,
	courier_id  TEXT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS order_assignment_history_order_idx
	ON order_assignment_history (order_id);
`

// AssignmentJournal persists assignments so operators can audit who
// delivered what. The in-memory router stays the source of truth.
type AssignmentJournal struct {
	db *pgxpool.Pool
}

// NewAssignmentJournal creates a new AssignmentJournal.
func NewAssignmentJournal(db *pgxpool.Pool) *AssignmentJournal {
	return &AssignmentJournal{db: db}
}

// EnsureSchema creates the journal tables if missing.
func (j *AssignmentJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

// Record upserts the current assignment of an order and appends it to the
// order history. A reassigned order is reopened.
func (j *AssignmentJournal) Record(ctx context.Context, a domain.OrderAssignment) error {
	return j.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_assignments (order_id, courier_id, assigned_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (order_id) DO UPDATE
			SET courier_id   = EXCLUDED.courier_id,
			    assigned_at  = EXCLUDED.assigned_at,
			    closed_at    = NULL,
			    close_reason = NULL
		`, a.OrderID, a.CourierID, a.AssignedAt)
		if err != nil {
			return fmt.Errorf("upsert assignment %q: %w", a.OrderID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO order_assignment_history (order_id, courier_id, assigned_at)
			VALUES ($1, $2, $3)
		`, a.OrderID, a.CourierID, a.AssignedAt)
		if err != nil {
			return fmt.Errorf("append assignment history %q: %w", a.OrderID, err)
		}
		return nil
	})
}

// Close stamps the order as closed. Closing an order the journal never saw
// is not an error.
func (j *AssignmentJournal) Close(ctx context.Context, orderID string, reason domain.CloseReason, at time.Time) error {
	_, err := j.db.Exec(ctx, `
		UPDATE order_assignments
		SET closed_at = $2, close_reason = $3
		WHERE order_id = $1 AND closed_at IS NULL
	`, orderID, at, string(reason))
	if err != nil {
		return fmt.Errorf("close assignment %q: %w", orderID, err)
	}
	return nil
}

// JournalEntry is one persisted assignment row.
type JournalEntry struct {
	domain.OrderAssignment
	ClosedAt    *time.Time
	CloseReason string
}

// Get returns the journal row of an order, nil if absent.
func (j *AssignmentJournal) Get(ctx context.Context, orderID string) (*JournalEntry, error) {
	row := j.db.QueryRow(ctx, `
		SELECT order_id, courier_id, assigned_at, closed_at, COALESCE(close_reason, '')
		FROM order_assignments
		WHERE order_id = $1
	`, orderID)

	var e JournalEntry
	if err := row.Scan(&e.OrderID, &e.CourierID, &e.AssignedAt, &e.ClosedAt, &e.CloseReason); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get assignment %q: %w", orderID, err)
	}
	return &e, nil
}

// History returns every courier the order was assigned to, oldest first.
func (j *AssignmentJournal) History(ctx context.Context, orderID string) ([]domain.OrderAssignment, error) {
	rows, err := j.db.Query(ctx, `
		SELECT order_id, courier_id, assigned_at
		FROM order_assignment_history
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query assignment history %q: %w", orderID, err)
	}
	defer rows.Close()

	var out []domain.OrderAssignment
	for rows.Next() {
		var a domain.OrderAssignment
		if err := rows.Scan(&a.OrderID, &a.CourierID, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment history: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (j *AssignmentJournal) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := j.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback tx: %w (original error: %s)", rbErr, err.Error())
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// NopJournal discards every write. Used when the journal is disabled.
type NopJournal struct{}

// Record does nothing.
func (NopJournal) Record(context.Context, domain.OrderAssignment) error { return nil }

// Close does nothing.
func (NopJournal) Close(context.Context, string, domain.CloseReason, time.Time) error { return nil }
