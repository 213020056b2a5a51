package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// RetryQueueRepo persists failed webhook deliveries awaiting redelivery.
type RetryQueueRepo struct{ db *sqlx.DB }

// NewRetryQueueRepo constructs a RetryQueueRepo over db.
func NewRetryQueueRepo(db *sqlx.DB) *RetryQueueRepo { return &RetryQueueRepo{db: db} }

type retryRow struct {
	ID            int64  `db:"id"`
	ConnectionID  int64  `db:"connection_id"`
	OdooOrderID   int64  `db:"odoo_order_id"`
	OdooOrderName string `db:"odoo_order_name"`
	Payload       string `db:"payload"`
	Status        string `db:"status"`
	Attempts      int    `db:"attempts"`
	MaxAttempts   int    `db:"max_attempts"`
	NextRetryAt   string `db:"next_retry_at"`
	LastError     string `db:"last_error"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func (row retryRow) toDomain() domain.RetryItem {
	return domain.RetryItem{
		ID:            row.ID,
		ConnectionID:  row.ConnectionID,
		OdooOrderID:   row.OdooOrderID,
		OdooOrderName: row.OdooOrderName,
		Payload:       row.Payload,
		Status:        domain.RetryStatus(row.Status),
		Attempts:      row.Attempts,
		MaxAttempts:   row.MaxAttempts,
		NextRetryAt:   row.NextRetryAt,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func retryRowsToDomain(rows []retryRow) []domain.RetryItem {
	out := make([]domain.RetryItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}

// Enqueue inserts a pending item and returns it with its id.
func (r *RetryQueueRepo) Enqueue(ctx domain.Context, item domain.RetryItem) (domain.RetryItem, error) {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.Enqueue")
	defer span.End()

	now := domain.Now()
	item.CreatedAt, item.UpdatedAt = now, now
	if item.Status == "" {
		item.Status = domain.RetryPending
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = domain.MaxAttempts
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO retry_queue (connection_id, odoo_order_id, odoo_order_name, payload, status, attempts, max_attempts, next_retry_at, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ConnectionID, item.OdooOrderID, item.OdooOrderName, item.Payload, string(item.Status),
		item.Attempts, item.MaxAttempts, item.NextRetryAt, item.LastError, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return domain.RetryItem{}, fmt.Errorf("op=retry_queue.enqueue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.RetryItem{}, fmt.Errorf("op=retry_queue.enqueue: %w", err)
	}
	item.ID = id
	return item, nil
}

// Get loads one item by id.
func (r *RetryQueueRepo) Get(ctx domain.Context, id int64) (domain.RetryItem, error) {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.Get")
	defer span.End()

	var row retryRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM retry_queue WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RetryItem{}, fmt.Errorf("op=retry_queue.get id=%d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.RetryItem{}, fmt.Errorf("op=retry_queue.get: %w", err)
	}
	return row.toDomain(), nil
}

// GetPending returns pending items due at or before now, soonest first.
func (r *RetryQueueRepo) GetPending(ctx domain.Context, connectionID int64, now string) ([]domain.RetryItem, error) {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.GetPending")
	defer span.End()

	var rows []retryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM retry_queue WHERE connection_id=? AND status='pending' AND next_retry_at<=? ORDER BY next_retry_at`,
		connectionID, now)
	if err != nil {
		return nil, fmt.Errorf("op=retry_queue.get_pending: %w", err)
	}
	return retryRowsToDomain(rows), nil
}

// UpdateStatus sets the item's status. Nil attempts, nextRetryAt and
// lastErr keep the stored values (COALESCE).
func (r *RetryQueueRepo) UpdateStatus(ctx domain.Context, id int64, status domain.RetryStatus, attempts *int, nextRetryAt, lastErr *string) error {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.UpdateStatus")
	defer span.End()

	res, err := r.db.ExecContext(ctx,
		`UPDATE retry_queue SET status=?,
			attempts=COALESCE(?, attempts),
			next_retry_at=COALESCE(?, next_retry_at),
			last_error=COALESCE(?, last_error),
			updated_at=?
		 WHERE id=?`,
		string(status), attempts, nextRetryAt, lastErr, domain.Now(), id)
	if err != nil {
		return fmt.Errorf("op=retry_queue.update_status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=retry_queue.update_status id=%d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByConnection returns every item for one connection, newest first.
func (r *RetryQueueRepo) ListByConnection(ctx domain.Context, connectionID int64) ([]domain.RetryItem, error) {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.ListByConnection")
	defer span.End()

	var rows []retryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM retry_queue WHERE connection_id=? ORDER BY id DESC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("op=retry_queue.list: %w", err)
	}
	return retryRowsToDomain(rows), nil
}

// ListAll returns every item across connections, newest first.
func (r *RetryQueueRepo) ListAll(ctx domain.Context) ([]domain.RetryItem, error) {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.ListAll")
	defer span.End()

	var rows []retryRow
	err := r.db.SelectContext(ctx, &rows, `SELECT * FROM retry_queue ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("op=retry_queue.list_all: %w", err)
	}
	return retryRowsToDomain(rows), nil
}

// CleanupFinished deletes every terminal (sent or discarded) item for the
// connection.
func (r *RetryQueueRepo) CleanupFinished(ctx domain.Context, connectionID int64) error {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.CleanupFinished")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM retry_queue WHERE connection_id=? AND status IN ('sent','discarded')`, connectionID)
	if err != nil {
		return fmt.Errorf("op=retry_queue.cleanup: %w", err)
	}
	return nil
}

// Summary counts items per status. A non-positive connectionID counts
// across all connections.
func (r *RetryQueueRepo) Summary(ctx domain.Context, connectionID int64) (map[domain.RetryStatus]int, error) {
	tracer := otel.Tracer("repo.retry_queue")
	ctx, span := tracer.Start(ctx, "retry_queue.Summary")
	defer span.End()

	type countRow struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	var rows []countRow
	var err error
	if connectionID > 0 {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT status, COUNT(*) AS n FROM retry_queue WHERE connection_id=? GROUP BY status`, connectionID)
	} else {
		err = r.db.SelectContext(ctx, &rows,
			`SELECT status, COUNT(*) AS n FROM retry_queue GROUP BY status`)
	}
	if err != nil {
		return nil, fmt.Errorf("op=retry_queue.summary: %w", err)
	}
	out := make(map[domain.RetryStatus]int, len(rows))
	for _, row := range rows {
		out[domain.RetryStatus(row.Status)] = row.N
	}
	return out, nil
}
