// Package sqlite persists connections, sync logs, the retry queue and the
// sent-order ledger in a single SQLite database file.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	odoo_url TEXT NOT NULL,
	odoo_db TEXT NOT NULL,
	odoo_username TEXT NOT NULL,
	odoo_api_key TEXT NOT NULL,
	webhook_url TEXT NOT NULL,
	webhook_secret TEXT NOT NULL DEFAULT '',
	poll_interval_seconds INTEGER NOT NULL DEFAULT 300,
	enabled INTEGER NOT NULL DEFAULT 1,
	circuit_state TEXT NOT NULL DEFAULT 'closed',
	circuit_failure_count INTEGER NOT NULL DEFAULT 0,
	circuit_last_failure_at TEXT NOT NULL DEFAULT '',
	last_sync_at TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	orders_found INTEGER NOT NULL DEFAULT 0,
	orders_sent INTEGER NOT NULL DEFAULT 0,
	orders_failed INTEGER NOT NULL DEFAULT 0,
	orders_skipped INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_logs_connection ON sync_logs(connection_id);

CREATE TABLE IF NOT EXISTS retry_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	odoo_order_id INTEGER NOT NULL,
	odoo_order_name TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 5,
	next_retry_at TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retry_queue_connection_status ON retry_queue(connection_id, status);
CREATE INDEX IF NOT EXISTS idx_retry_queue_pending ON retry_queue(next_retry_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS sent_orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	odoo_order_id INTEGER NOT NULL,
	odoo_order_name TEXT NOT NULL DEFAULT '',
	odoo_write_date TEXT NOT NULL,
	sent_at TEXT NOT NULL,
	UNIQUE(connection_id, odoo_order_id, odoo_write_date)
);
CREATE INDEX IF NOT EXISTS idx_sent_orders_connection ON sent_orders(connection_id);
`

// Store bundles the typed repositories sharing one database handle.
type Store struct {
	DB          *sqlx.DB
	Connections *ConnectionRepo
	SyncLogs    *SyncLogRepo
	RetryQueue  *RetryQueueRepo
	SentOrders  *SentOrderRepo
}

// Open opens (creating if needed) the database at path with WAL journaling
// and foreign keys enforced, bootstraps the schema, and wires the
// repositories. The single open connection serializes all writes.
func Open(path string, cipher domain.Cipher) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("op=sqlite.Open: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("op=sqlite.Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("op=sqlite.Open schema: %w", err)
	}
	return &Store{
		DB:          db,
		Connections: NewConnectionRepo(db, cipher),
		SyncLogs:    NewSyncLogRepo(db),
		RetryQueue:  NewRetryQueueRepo(db),
		SentOrders:  NewSentOrderRepo(db),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.DB.Close() }

// Ping verifies the database is reachable; the ops readiness check uses it.
func (s *Store) Ping(ctx domain.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("op=sqlite.Ping: %w", err)
	}
	return nil
}
