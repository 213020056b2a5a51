package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// SentOrderRepo persists the bounded idempotency ledger of delivered order
// revisions.
type SentOrderRepo struct{ db *sqlx.DB }

// NewSentOrderRepo constructs a SentOrderRepo over db.
func NewSentOrderRepo(db *sqlx.DB) *SentOrderRepo { return &SentOrderRepo{db: db} }

type sentOrderRow struct {
	ID            int64  `db:"id"`
	ConnectionID  int64  `db:"connection_id"`
	OdooOrderID   int64  `db:"odoo_order_id"`
	OdooOrderName string `db:"odoo_order_name"`
	OdooWriteDate string `db:"odoo_write_date"`
	SentAt        string `db:"sent_at"`
}

// MarkSent records one delivered revision. A duplicate natural key is a
// silent no-op, so marking is idempotent.
func (r *SentOrderRepo) MarkSent(ctx domain.Context, s domain.SentOrder) error {
	tracer := otel.Tracer("repo.sent_orders")
	ctx, span := tracer.Start(ctx, "sent_orders.MarkSent")
	defer span.End()

	if s.SentAt == "" {
		s.SentAt = domain.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_orders (connection_id, odoo_order_id, odoo_order_name, odoo_write_date, sent_at)
		 VALUES (?, ?, ?, ?, ?)`,
		s.ConnectionID, s.OdooOrderID, s.OdooOrderName, s.OdooWriteDate, s.SentAt)
	if err != nil {
		return fmt.Errorf("op=sent_orders.mark_sent: %w", err)
	}
	return nil
}

// IsSent reports whether the exact (order, write_date) revision is in the
// ledger.
func (r *SentOrderRepo) IsSent(ctx domain.Context, connectionID, orderID int64, writeDate string) (bool, error) {
	tracer := otel.Tracer("repo.sent_orders")
	ctx, span := tracer.Start(ctx, "sent_orders.IsSent")
	defer span.End()

	var n int
	err := r.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM sent_orders WHERE connection_id=? AND odoo_order_id=? AND odoo_write_date=?`,
		connectionID, orderID, writeDate)
	if err != nil {
		return false, fmt.Errorf("op=sent_orders.is_sent: %w", err)
	}
	return n > 0, nil
}

// GetSentKeys returns the set of delivered (order, write_date) keys for the
// connection, optionally restricted to the given order ids.
func (r *SentOrderRepo) GetSentKeys(ctx domain.Context, connectionID int64, orderIDs []int64) (map[domain.SentKey]struct{}, error) {
	tracer := otel.Tracer("repo.sent_orders")
	ctx, span := tracer.Start(ctx, "sent_orders.GetSentKeys")
	defer span.End()

	q := `SELECT odoo_order_id, odoo_write_date FROM sent_orders WHERE connection_id=?`
	args := []any{connectionID}
	if len(orderIDs) > 0 {
		var err error
		q, args, err = sqlx.In(
			`SELECT odoo_order_id, odoo_write_date FROM sent_orders WHERE connection_id=? AND odoo_order_id IN (?)`,
			connectionID, orderIDs)
		if err != nil {
			return nil, fmt.Errorf("op=sent_orders.get_sent_keys: %w", err)
		}
	}
	type keyRow struct {
		OdooOrderID   int64  `db:"odoo_order_id"`
		OdooWriteDate string `db:"odoo_write_date"`
	}
	var rows []keyRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("op=sent_orders.get_sent_keys: %w", err)
	}
	out := make(map[domain.SentKey]struct{}, len(rows))
	for _, row := range rows {
		out[domain.SentKey{OrderID: row.OdooOrderID, WriteDate: row.OdooWriteDate}] = struct{}{}
	}
	return out, nil
}

// ListByConnection returns the ledger rows for one connection, most
// recently sent first.
func (r *SentOrderRepo) ListByConnection(ctx domain.Context, connectionID int64) ([]domain.SentOrder, error) {
	tracer := otel.Tracer("repo.sent_orders")
	ctx, span := tracer.Start(ctx, "sent_orders.ListByConnection")
	defer span.End()

	var rows []sentOrderRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM sent_orders WHERE connection_id=? ORDER BY sent_at DESC, id DESC`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("op=sent_orders.list: %w", err)
	}
	out := make([]domain.SentOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SentOrder{
			ID:            row.ID,
			ConnectionID:  row.ConnectionID,
			OdooOrderID:   row.OdooOrderID,
			OdooOrderName: row.OdooOrderName,
			OdooWriteDate: row.OdooWriteDate,
			SentAt:        row.SentAt,
		})
	}
	return out, nil
}

// TrimToLimit keeps only the limit most recently sent rows per connection.
func (r *SentOrderRepo) TrimToLimit(ctx domain.Context, connectionID int64, limit int) error {
	tracer := otel.Tracer("repo.sent_orders")
	ctx, span := tracer.Start(ctx, "sent_orders.TrimToLimit")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sent_orders WHERE connection_id=? AND id NOT IN
		 (SELECT id FROM sent_orders WHERE connection_id=? ORDER BY sent_at DESC, id DESC LIMIT ?)`,
		connectionID, connectionID, limit)
	if err != nil {
		return fmt.Errorf("op=sent_orders.trim: %w", err)
	}
	return nil
}
