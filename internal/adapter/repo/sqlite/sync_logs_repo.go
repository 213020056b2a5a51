package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// SyncLogRepo persists per-cycle outcome rows.
type SyncLogRepo struct{ db *sqlx.DB }

// NewSyncLogRepo constructs a SyncLogRepo over db.
func NewSyncLogRepo(db *sqlx.DB) *SyncLogRepo { return &SyncLogRepo{db: db} }

type syncLogRow struct {
	ID            int64  `db:"id"`
	ConnectionID  int64  `db:"connection_id"`
	StartedAt     string `db:"started_at"`
	FinishedAt    string `db:"finished_at"`
	OrdersFound   int    `db:"orders_found"`
	OrdersSent    int    `db:"orders_sent"`
	OrdersFailed  int    `db:"orders_failed"`
	OrdersSkipped int    `db:"orders_skipped"`
	ErrorMessage  string `db:"error_message"`
}

func (row syncLogRow) toDomain() domain.SyncLog {
	return domain.SyncLog{
		ID:            row.ID,
		ConnectionID:  row.ConnectionID,
		StartedAt:     row.StartedAt,
		FinishedAt:    row.FinishedAt,
		OrdersFound:   row.OrdersFound,
		OrdersSent:    row.OrdersSent,
		OrdersFailed:  row.OrdersFailed,
		OrdersSkipped: row.OrdersSkipped,
		ErrorMessage:  row.ErrorMessage,
	}
}

// Append inserts one cycle outcome and returns it with its id.
func (r *SyncLogRepo) Append(ctx domain.Context, l domain.SyncLog) (domain.SyncLog, error) {
	tracer := otel.Tracer("repo.sync_logs")
	ctx, span := tracer.Start(ctx, "sync_logs.Append")
	defer span.End()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_logs (connection_id, started_at, finished_at, orders_found, orders_sent, orders_failed, orders_skipped, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ConnectionID, l.StartedAt, l.FinishedAt, l.OrdersFound, l.OrdersSent, l.OrdersFailed, l.OrdersSkipped, l.ErrorMessage)
	if err != nil {
		return domain.SyncLog{}, fmt.Errorf("op=sync_logs.append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.SyncLog{}, fmt.Errorf("op=sync_logs.append: %w", err)
	}
	l.ID = id
	return l, nil
}

// ListByConnection returns up to limit most recent logs for one connection,
// newest first.
func (r *SyncLogRepo) ListByConnection(ctx domain.Context, connectionID int64, limit int) ([]domain.SyncLog, error) {
	tracer := otel.Tracer("repo.sync_logs")
	ctx, span := tracer.Start(ctx, "sync_logs.ListByConnection")
	defer span.End()

	var rows []syncLogRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM sync_logs WHERE connection_id=? ORDER BY id DESC LIMIT ?`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=sync_logs.list: %w", err)
	}
	out := make([]domain.SyncLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListRecent returns up to limit most recent logs across all connections.
func (r *SyncLogRepo) ListRecent(ctx domain.Context, limit int) ([]domain.SyncLog, error) {
	tracer := otel.Tracer("repo.sync_logs")
	ctx, span := tracer.Start(ctx, "sync_logs.ListRecent")
	defer span.End()

	var rows []syncLogRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM sync_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("op=sync_logs.list_recent: %w", err)
	}
	out := make([]domain.SyncLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// TrimToLimit deletes all logs for the connection outside the limit most
// recent by id.
func (r *SyncLogRepo) TrimToLimit(ctx domain.Context, connectionID int64, limit int) error {
	tracer := otel.Tracer("repo.sync_logs")
	ctx, span := tracer.Start(ctx, "sync_logs.TrimToLimit")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_logs WHERE connection_id=? AND id NOT IN
		 (SELECT id FROM sync_logs WHERE connection_id=? ORDER BY id DESC LIMIT ?)`,
		connectionID, connectionID, limit)
	if err != nil {
		return fmt.Errorf("op=sync_logs.trim: %w", err)
	}
	return nil
}
