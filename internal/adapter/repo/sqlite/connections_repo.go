package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// ConnectionRepo persists connections. Secret columns cross this boundary
// through the cipher: ciphertext on disk, plaintext in memory.
type ConnectionRepo struct {
	db     *sqlx.DB
	cipher domain.Cipher
}

// NewConnectionRepo constructs a ConnectionRepo over db using cipher for
// the secret columns.
func NewConnectionRepo(db *sqlx.DB, cipher domain.Cipher) *ConnectionRepo {
	return &ConnectionRepo{db: db, cipher: cipher}
}

type connectionRow struct {
	ID                   int64  `db:"id"`
	Name                 string `db:"name"`
	OdooURL              string `db:"odoo_url"`
	OdooDB               string `db:"odoo_db"`
	OdooUsername         string `db:"odoo_username"`
	OdooAPIKey           string `db:"odoo_api_key"`
	WebhookURL           string `db:"webhook_url"`
	WebhookSecret        string `db:"webhook_secret"`
	PollIntervalSeconds  int    `db:"poll_interval_seconds"`
	Enabled              bool   `db:"enabled"`
	CircuitState         string `db:"circuit_state"`
	CircuitFailureCount  int    `db:"circuit_failure_count"`
	CircuitLastFailureAt string `db:"circuit_last_failure_at"`
	LastSyncAt           string `db:"last_sync_at"`
	CreatedAt            string `db:"created_at"`
	UpdatedAt            string `db:"updated_at"`
}

func (r *ConnectionRepo) toRow(c domain.Connection) (connectionRow, error) {
	apiKey, err := r.cipher.Encrypt(c.OdooAPIKey)
	if err != nil {
		return connectionRow{}, fmt.Errorf("op=connections.encrypt: %w", err)
	}
	secret, err := r.cipher.Encrypt(c.WebhookSecret)
	if err != nil {
		return connectionRow{}, fmt.Errorf("op=connections.encrypt: %w", err)
	}
	return connectionRow{
		ID:                   c.ID,
		Name:                 c.Name,
		OdooURL:              c.OdooURL,
		OdooDB:               c.OdooDB,
		OdooUsername:         c.OdooUsername,
		OdooAPIKey:           apiKey,
		WebhookURL:           c.WebhookURL,
		WebhookSecret:        secret,
		PollIntervalSeconds:  c.PollIntervalSeconds,
		Enabled:              c.Enabled,
		CircuitState:         string(c.CircuitState),
		CircuitFailureCount:  c.CircuitFailureCount,
		CircuitLastFailureAt: c.CircuitLastFailureAt,
		LastSyncAt:           c.LastSyncAt,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}, nil
}

func (r *ConnectionRepo) fromRow(row connectionRow) (domain.Connection, error) {
	apiKey, err := r.cipher.Decrypt(row.OdooAPIKey)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("op=connections.decrypt: %w", err)
	}
	secret, err := r.cipher.Decrypt(row.WebhookSecret)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("op=connections.decrypt: %w", err)
	}
	return domain.Connection{
		ID:                   row.ID,
		Name:                 row.Name,
		OdooURL:              row.OdooURL,
		OdooDB:               row.OdooDB,
		OdooUsername:         row.OdooUsername,
		OdooAPIKey:           apiKey,
		WebhookURL:           row.WebhookURL,
		WebhookSecret:        secret,
		PollIntervalSeconds:  row.PollIntervalSeconds,
		Enabled:              row.Enabled,
		CircuitState:         domain.CircuitState(row.CircuitState),
		CircuitFailureCount:  row.CircuitFailureCount,
		CircuitLastFailureAt: row.CircuitLastFailureAt,
		LastSyncAt:           row.LastSyncAt,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}, nil
}

// Create inserts a new connection and returns it with its assigned id.
func (r *ConnectionRepo) Create(ctx domain.Context, c domain.Connection) (domain.Connection, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Create")
	defer span.End()

	now := domain.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	if c.CircuitState == "" {
		c.CircuitState = domain.CircuitClosed
	}
	row, err := r.toRow(c)
	if err != nil {
		return domain.Connection{}, err
	}
	q := `INSERT INTO connections
		(name, odoo_url, odoo_db, odoo_username, odoo_api_key, webhook_url, webhook_secret,
		 poll_interval_seconds, enabled, circuit_state, circuit_failure_count,
		 circuit_last_failure_at, last_sync_at, created_at, updated_at)
		VALUES (:name, :odoo_url, :odoo_db, :odoo_username, :odoo_api_key, :webhook_url, :webhook_secret,
		 :poll_interval_seconds, :enabled, :circuit_state, :circuit_failure_count,
		 :circuit_last_failure_at, :last_sync_at, :created_at, :updated_at)`
	res, err := r.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("op=connections.create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Connection{}, fmt.Errorf("op=connections.create: %w", err)
	}
	c.ID = id
	return c, nil
}

// Update rewrites every mutable column of an existing connection.
func (r *ConnectionRepo) Update(ctx domain.Context, c domain.Connection) error {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Update")
	defer span.End()

	c.UpdatedAt = domain.Now()
	row, err := r.toRow(c)
	if err != nil {
		return err
	}
	q := `UPDATE connections SET
		name=:name, odoo_url=:odoo_url, odoo_db=:odoo_db, odoo_username=:odoo_username,
		odoo_api_key=:odoo_api_key, webhook_url=:webhook_url, webhook_secret=:webhook_secret,
		poll_interval_seconds=:poll_interval_seconds, enabled=:enabled, updated_at=:updated_at
		WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("op=connections.update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=connections.update id=%d: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// Delete removes a connection; sync logs, retry items and sent orders
// cascade.
func (r *ConnectionRepo) Delete(ctx domain.Context, id int64) error {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Delete")
	defer span.End()

	res, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("op=connections.delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("op=connections.delete id=%d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Get loads one connection by id.
func (r *ConnectionRepo) Get(ctx domain.Context, id int64) (domain.Connection, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.Get")
	defer span.End()

	var row connectionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM connections WHERE id=?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Connection{}, fmt.Errorf("op=connections.get id=%d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Connection{}, fmt.Errorf("op=connections.get: %w", err)
	}
	return r.fromRow(row)
}

func (r *ConnectionRepo) list(ctx domain.Context, q string) ([]domain.Connection, error) {
	var rows []connectionRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("op=connections.list: %w", err)
	}
	out := make([]domain.Connection, 0, len(rows))
	for _, row := range rows {
		c, err := r.fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ListAll returns every connection sorted by name.
func (r *ConnectionRepo) ListAll(ctx domain.Context) ([]domain.Connection, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.ListAll")
	defer span.End()
	return r.list(ctx, `SELECT * FROM connections ORDER BY name`)
}

// ListEnabled returns enabled connections sorted by name.
func (r *ConnectionRepo) ListEnabled(ctx domain.Context) ([]domain.Connection, error) {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.ListEnabled")
	defer span.End()
	return r.list(ctx, `SELECT * FROM connections WHERE enabled=1 ORDER BY name`)
}

// UpdateCircuitState persists the breaker state. The last-failure timestamp
// is stamped only when the new state is open; otherwise it is preserved.
func (r *ConnectionRepo) UpdateCircuitState(ctx domain.Context, id int64, state domain.CircuitState, failures int) error {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.UpdateCircuitState")
	defer span.End()

	now := domain.Now()
	var err error
	if state == domain.CircuitOpen {
		_, err = r.db.ExecContext(ctx,
			`UPDATE connections SET circuit_state=?, circuit_failure_count=?, circuit_last_failure_at=?, updated_at=? WHERE id=?`,
			string(state), failures, now, now, id)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE connections SET circuit_state=?, circuit_failure_count=?, updated_at=? WHERE id=?`,
			string(state), failures, now, id)
	}
	if err != nil {
		return fmt.Errorf("op=connections.update_circuit_state: %w", err)
	}
	return nil
}

// UpdateLastSync advances the connection's sync cursor.
func (r *ConnectionRepo) UpdateLastSync(ctx domain.Context, id int64, lastSyncAt string) error {
	tracer := otel.Tracer("repo.connections")
	ctx, span := tracer.Start(ctx, "connections.UpdateLastSync")
	defer span.End()

	_, err := r.db.ExecContext(ctx,
		`UPDATE connections SET last_sync_at=?, updated_at=? WHERE id=?`,
		lastSyncAt, domain.Now(), id)
	if err != nil {
		return fmt.Errorf("op=connections.update_last_sync: %w", err)
	}
	return nil
}
