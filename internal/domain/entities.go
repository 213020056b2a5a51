package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAuth            = errors.New("erp authentication failed")
	ErrRateLimited     = errors.New("erp rate limited")
	ErrRPC             = errors.New("erp rpc error")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrInternal        = errors.New("internal error")
)

// TimeLayout is the canonical timestamp format used across the store and
// the Odoo API. All timestamps are UTC. The layout sorts lexicographically,
// which the sync cursor relies on.
const TimeLayout = "2006-01-02 15:04:05"

// Now returns the current UTC time formatted with TimeLayout.
func Now() string {
	return time.Now().UTC().Format(TimeLayout)
}

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetrySent      RetryStatus = "sent"
	RetryDiscarded RetryStatus = "discarded"
)

// Retention and delivery limits.
const (
	MaxSentOrders       = 30
	MaxSyncLogs         = 100
	MaxAttempts         = 5
	DefaultPollInterval = 60
)

// Connection is one Odoo tenant to poll. OdooAPIKey and WebhookSecret are
// stored encrypted; the store decrypts them on read so in-memory values are
// always plaintext.
type Connection struct {
	ID                   int64
	Name                 string
	OdooURL              string
	OdooDB               string
	OdooUsername         string
	OdooAPIKey           string
	WebhookURL           string
	WebhookSecret        string
	PollIntervalSeconds  int
	Enabled              bool
	CircuitState         CircuitState
	CircuitFailureCount  int
	CircuitLastFailureAt string // empty when never failed
	LastSyncAt           string // write_date cursor; empty means never synced
	CreatedAt            string
	UpdatedAt            string
}

// SyncLog records the outcome of one polling cycle.
type SyncLog struct {
	ID            int64
	ConnectionID  int64
	StartedAt     string
	FinishedAt    string
	OrdersFound   int
	OrdersSent    int
	OrdersFailed  int
	OrdersSkipped int
	ErrorMessage  string // empty on success
}

// RetryItem is a failed webhook delivery parked for later retry. Payload is
// the serialized webhook body frozen at enqueue time, so retries do not
// depend on the order still being readable from Odoo.
type RetryItem struct {
	ID            int64
	ConnectionID  int64
	OdooOrderID   int64
	OdooOrderName string
	Payload       string
	Status        RetryStatus
	Attempts      int
	MaxAttempts   int
	NextRetryAt   string
	LastError     string
	CreatedAt     string
	UpdatedAt     string
}

// SentOrder is one row of the idempotency ledger. The store enforces
// uniqueness over (ConnectionID, OdooOrderID, OdooWriteDate), so a new
// write_date on the same order counts as a new deliverable revision.
type SentOrder struct {
	ID            int64
	ConnectionID  int64
	OdooOrderID   int64
	OdooOrderName string
	OdooWriteDate string
	SentAt        string
}

// SentKey identifies one order revision in the idempotency ledger.
type SentKey struct {
	OrderID   int64
	WriteDate string
}

// Stores (ports)

type ConnectionStore interface {
	Create(ctx Context, c Connection) (Connection, error)
	Update(ctx Context, c Connection) error
	Delete(ctx Context, id int64) error
	Get(ctx Context, id int64) (Connection, error)
	ListAll(ctx Context) ([]Connection, error)
	ListEnabled(ctx Context) ([]Connection, error)
	UpdateCircuitState(ctx Context, id int64, state CircuitState, failures int) error
	UpdateLastSync(ctx Context, id int64, lastSyncAt string) error
}

type SyncLogStore interface {
	Append(ctx Context, l SyncLog) (SyncLog, error)
	ListByConnection(ctx Context, connectionID int64, limit int) ([]SyncLog, error)
	ListRecent(ctx Context, limit int) ([]SyncLog, error)
	TrimToLimit(ctx Context, connectionID int64, limit int) error
}

// RetryQueueStore persists failed deliveries. UpdateStatus treats nil
// attempts, nextRetryAt and lastErr as "keep the stored value".
type RetryQueueStore interface {
	Enqueue(ctx Context, item RetryItem) (RetryItem, error)
	Get(ctx Context, id int64) (RetryItem, error)
	GetPending(ctx Context, connectionID int64, now string) ([]RetryItem, error)
	UpdateStatus(ctx Context, id int64, status RetryStatus, attempts *int, nextRetryAt, lastErr *string) error
	ListByConnection(ctx Context, connectionID int64) ([]RetryItem, error)
	ListAll(ctx Context) ([]RetryItem, error)
	CleanupFinished(ctx Context, connectionID int64) error
	Summary(ctx Context, connectionID int64) (map[RetryStatus]int, error)
}

type SentOrderStore interface {
	MarkSent(ctx Context, s SentOrder) error
	IsSent(ctx Context, connectionID, orderID int64, writeDate string) (bool, error)
	GetSentKeys(ctx Context, connectionID int64, orderIDs []int64) (map[SentKey]struct{}, error)
	ListByConnection(ctx Context, connectionID int64) ([]SentOrder, error)
	TrimToLimit(ctx Context, connectionID int64, limit int) error
}

// Cipher (port)
// Encrypts credential fields at rest. Encrypt("") must round-trip to "".
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// ErpClient (port)

type ErpClient interface {
	// Authenticate resolves and caches the numeric user id. Subsequent calls
	// return the cached value without a round trip.
	Authenticate(ctx Context) (int64, error)
	SearchRead(ctx Context, model string, criteria []any, fields []string, limit int, order string) ([]Record, error)
	Read(ctx Context, model string, ids []int64, fields []string) ([]Record, error)
	ExecuteKw(ctx Context, model, method string, args []any, kwargs map[string]any) (any, error)
}

// Mapper (port)
// Shapes discovered order headers into webhook payloads, batching the
// related-entity lookups once per cycle.
type Mapper interface {
	FetchBatchData(ctx Context, erp ErpClient, orders []Record) (BatchData, error)
	MapOrder(order Record, batch BatchData, dbName string, connectionID int64) WebhookPayload
}

// WebhookSender (port)

type WebhookSender interface {
	Send(ctx Context, webhookURL string, payload any, secret string, connectionID int64) error
}

// CircuitBreaker (port)
// Per-connection failure gate. State observation performs the lazy
// open -> half_open transition once the recovery timeout has elapsed.
type CircuitBreaker interface {
	State() CircuitState
	FailureCount() int
	Allow() bool
	RecordSuccess()
	RecordFailure()
	Reset()
	LoadState(state CircuitState, failures int)
}

// Context is an alias so domain signatures stay decoupled from the std
// context package at call sites. Adapters pass context.Context through.

type Context = context.Context
