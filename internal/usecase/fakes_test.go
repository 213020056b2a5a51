package usecase

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// memStore is an in-memory implementation of all four store ports.
type memStore struct {
	mu sync.Mutex

	conns    map[int64]domain.Connection
	nextConn int64

	logs    []domain.SyncLog
	nextLog int64

	retries   map[int64]domain.RetryItem
	nextRetry int64

	sent []domain.SentOrder
}

func newMemStore() *memStore {
	return &memStore{
		conns:   map[int64]domain.Connection{},
		retries: map[int64]domain.RetryItem{},
	}
}

// ConnectionStore

func (m *memStore) Create(_ domain.Context, c domain.Connection) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextConn++
	c.ID = m.nextConn
	if c.CircuitState == "" {
		c.CircuitState = domain.CircuitClosed
	}
	c.CreatedAt = domain.Now()
	c.UpdatedAt = c.CreatedAt
	m.conns[c.ID] = c
	return c, nil
}

func (m *memStore) Update(_ domain.Context, c domain.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[c.ID]; !ok {
		return domain.ErrNotFound
	}
	c.UpdatedAt = domain.Now()
	m.conns[c.ID] = c
	return nil
}

func (m *memStore) Delete(_ domain.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.conns, id)
	return nil
}

func (m *memStore) Get(_ domain.Context, id int64) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return domain.Connection{}, domain.ErrNotFound
	}
	return c, nil
}

func (m *memStore) ListAll(_ domain.Context) ([]domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) ListEnabled(ctx domain.Context) ([]domain.Connection, error) {
	all, _ := m.ListAll(ctx)
	out := all[:0]
	for _, c := range all {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCircuitState(_ domain.Context, id int64, state domain.CircuitState, failures int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.CircuitState = state
	c.CircuitFailureCount = failures
	if state == domain.CircuitOpen {
		c.CircuitLastFailureAt = domain.Now()
	}
	m.conns[id] = c
	return nil
}

func (m *memStore) UpdateLastSync(_ domain.Context, id int64, lastSyncAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.LastSyncAt = lastSyncAt
	m.conns[id] = c
	return nil
}

// SyncLogStore

func (m *memStore) Append(_ domain.Context, l domain.SyncLog) (domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLog++
	l.ID = m.nextLog
	m.logs = append(m.logs, l)
	return l, nil
}

func (m *memStore) ListByConnection(_ domain.Context, connectionID int64, limit int) ([]domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncLog
	for i := len(m.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.logs[i].ConnectionID == connectionID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *memStore) ListRecent(_ domain.Context, limit int) ([]domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncLog
	for i := len(m.logs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}

func (m *memStore) TrimToLimit(_ domain.Context, _ int64, _ int) error { return nil }

// RetryQueueStore

func (m *memStore) Enqueue(_ domain.Context, item domain.RetryItem) (domain.RetryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRetry++
	item.ID = m.nextRetry
	if item.Status == "" {
		item.Status = domain.RetryPending
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = domain.MaxAttempts
	}
	item.CreatedAt = domain.Now()
	item.UpdatedAt = item.CreatedAt
	m.retries[item.ID] = item
	return item, nil
}

func (m *memStore) retryByID(id int64) (domain.RetryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.retries[id]
	if !ok {
		return domain.RetryItem{}, domain.ErrNotFound
	}
	return item, nil
}

func (m *memStore) GetPending(_ domain.Context, connectionID int64, now string) ([]domain.RetryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RetryItem
	for _, item := range m.retries {
		if item.ConnectionID == connectionID && item.Status == domain.RetryPending && item.NextRetryAt <= now {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt < out[j].NextRetryAt })
	return out, nil
}

func (m *memStore) UpdateStatus(_ domain.Context, id int64, status domain.RetryStatus, attempts *int, nextRetryAt, lastErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.retries[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = status
	if attempts != nil {
		item.Attempts = *attempts
	}
	if nextRetryAt != nil {
		item.NextRetryAt = *nextRetryAt
	}
	if lastErr != nil {
		item.LastError = *lastErr
	}
	item.UpdatedAt = domain.Now()
	m.retries[id] = item
	return nil
}

func (m *memStore) ListByConnectionRetries(connectionID int64) []domain.RetryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RetryItem
	for _, item := range m.retries {
		if item.ConnectionID == connectionID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) CleanupFinished(_ domain.Context, connectionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.retries {
		if item.ConnectionID == connectionID && item.Status != domain.RetryPending {
			delete(m.retries, id)
		}
	}
	return nil
}

func (m *memStore) Summary(_ domain.Context, connectionID int64) (map[domain.RetryStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[domain.RetryStatus]int{}
	for _, item := range m.retries {
		if connectionID <= 0 || item.ConnectionID == connectionID {
			out[item.Status]++
		}
	}
	return out, nil
}

// SentOrderStore

func (m *memStore) MarkSent(_ domain.Context, s domain.SentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sent {
		if existing.ConnectionID == s.ConnectionID && existing.OdooOrderID == s.OdooOrderID && existing.OdooWriteDate == s.OdooWriteDate {
			return nil
		}
	}
	if s.SentAt == "" {
		s.SentAt = domain.Now()
	}
	s.ID = int64(len(m.sent) + 1)
	m.sent = append(m.sent, s)
	return nil
}

func (m *memStore) IsSent(_ domain.Context, connectionID, orderID int64, writeDate string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sent {
		if s.ConnectionID == connectionID && s.OdooOrderID == orderID && s.OdooWriteDate == writeDate {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetSentKeys(_ domain.Context, connectionID int64, orderIDs []int64) (map[domain.SentKey]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filter := map[int64]struct{}{}
	for _, id := range orderIDs {
		filter[id] = struct{}{}
	}
	out := map[domain.SentKey]struct{}{}
	for _, s := range m.sent {
		if s.ConnectionID != connectionID {
			continue
		}
		if len(orderIDs) > 0 {
			if _, ok := filter[s.OdooOrderID]; !ok {
				continue
			}
		}
		out[domain.SentKey{OrderID: s.OdooOrderID, WriteDate: s.OdooWriteDate}] = struct{}{}
	}
	return out, nil
}

func (m *memStore) ListByConnectionSent(connectionID int64) []domain.SentOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SentOrder
	for _, s := range m.sent {
		if s.ConnectionID == connectionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt != out[j].SentAt {
			return out[i].SentAt > out[j].SentAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// retryStoreFacade and sentStoreFacade split memStore's method set where
// the port names collide (Get, ListByConnection, TrimToLimit exist on
// more than one port).
type retryStoreFacade struct{ *memStore }

func (f retryStoreFacade) Get(ctx domain.Context, id int64) (domain.RetryItem, error) {
	return f.memStore.retryByID(id)
}

func (f retryStoreFacade) ListByConnection(_ domain.Context, connectionID int64) ([]domain.RetryItem, error) {
	return f.memStore.ListByConnectionRetries(connectionID), nil
}

func (f retryStoreFacade) ListAll(_ domain.Context) ([]domain.RetryItem, error) {
	return f.memStore.ListByConnectionRetries(0), nil
}

type sentStoreFacade struct{ *memStore }

func (f sentStoreFacade) ListByConnection(_ domain.Context, connectionID int64) ([]domain.SentOrder, error) {
	return f.memStore.ListByConnectionSent(connectionID), nil
}

func (f sentStoreFacade) TrimToLimit(_ domain.Context, _ int64, _ int) error { return nil }

// fakeBreaker records breaker interactions without any timing logic.
type fakeBreaker struct {
	mu        sync.Mutex
	state     domain.CircuitState
	failures  int
	successes int
	allow     bool
}

func newFakeBreaker() *fakeBreaker {
	return &fakeBreaker{state: domain.CircuitClosed, allow: true}
}

func (b *fakeBreaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *fakeBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *fakeBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allow && b.state != domain.CircuitOpen
}

func (b *fakeBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
	b.failures = 0
	b.state = domain.CircuitClosed
}

func (b *fakeBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= domain.MaxAttempts {
		b.state = domain.CircuitOpen
	}
}

func (b *fakeBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.CircuitClosed
	b.failures = 0
	b.allow = true
}

func (b *fakeBreaker) LoadState(state domain.CircuitState, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.failures = failures
}

// fakeErpClient scripts per-call SearchRead results and records calls.
type fakeErpClient struct {
	mu          sync.Mutex
	authErr     error
	searchReads [][]domain.Record
	searchErr   error
	readRecords []domain.Record
	calls       []string
}

func (f *fakeErpClient) Authenticate(domain.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "authenticate")
	if f.authErr != nil {
		return 0, f.authErr
	}
	return 1, nil
}

func (f *fakeErpClient) SearchRead(_ domain.Context, model string, _ []any, _ []string, _ int, _ string) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "search_read:"+model)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.searchReads) == 0 {
		return nil, nil
	}
	out := f.searchReads[0]
	f.searchReads = f.searchReads[1:]
	return out, nil
}

func (f *fakeErpClient) Read(_ domain.Context, model string, ids []int64, _ []string) ([]domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "read:"+model)
	if len(ids) == 0 {
		return nil, nil
	}
	return f.readRecords, nil
}

func (f *fakeErpClient) ExecuteKw(domain.Context, string, string, []any, map[string]any) (any, error) {
	return nil, nil
}

// stubMapper produces minimal payloads straight from the order header.
type stubMapper struct{}

func (stubMapper) FetchBatchData(_ domain.Context, _ domain.ErpClient, _ []domain.Record) (domain.BatchData, error) {
	return domain.BatchData{}, nil
}

func (stubMapper) MapOrder(order domain.Record, _ domain.BatchData, dbName string, connectionID int64) domain.WebhookPayload {
	return domain.WebhookPayload{
		Source:       domain.PayloadSource,
		ConnectionID: connectionID,
		OdooDB:       dbName,
		Order: domain.OrderPayload{
			ID:        order.Int("id"),
			Name:      order.Str("name"),
			WriteDate: order.Str("write_date"),
		},
	}
}

type sentCall struct {
	URL          string
	Payload      any
	Secret       string
	ConnectionID int64
}

// fakeSender fails deliveries whose order name appears in failNames.
type fakeSender struct {
	mu        sync.Mutex
	failNames map[string]bool
	failAll   bool
	sent      []sentCall
}

func (f *fakeSender) Send(_ domain.Context, url string, payload any, secret string, connectionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := ""
	if wp, ok := payload.(domain.WebhookPayload); ok {
		name = wp.Order.Name
	}
	if f.failAll || f.failNames[name] {
		return fmt.Errorf("webhook status 500")
	}
	f.sent = append(f.sent, sentCall{URL: url, Payload: payload, Secret: secret, ConnectionID: connectionID})
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func orderRecord(id int64, name, writeDate string) domain.Record {
	return domain.Record{
		"id":         float64(id),
		"name":       name,
		"state":      "sale",
		"write_date": writeDate,
	}
}
