package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// DefaultShutdownTimeout bounds the wait for poll loops on Stop.
const DefaultShutdownTimeout = 5 * time.Second

// OnSyncComplete is invoked after every cycle with the emitted sync log
// (nil when the breaker short-circuited).
type OnSyncComplete func(connectionID int64, log *domain.SyncLog)

// OnCircuitStateChange is invoked when a connection's breaker changes
// state across a cycle.
type OnCircuitStateChange func(connectionID int64, state domain.CircuitState)

// ErpClientFactory builds an ERP client bound to a connection's
// credentials and the task's reusable HTTP transport.
type ErpClientFactory func(conn domain.Connection, httpClient *http.Client) domain.ErpClient

// BreakerFactory builds one breaker per connection task.
type BreakerFactory func() domain.CircuitBreaker

// connectionTask is the per-connection unit of ownership: one goroutine,
// one HTTP transport, one breaker. Nothing here is shared across
// connections.
type connectionTask struct {
	cancel     func()
	done       chan struct{}
	httpClient *http.Client
	breaker    domain.CircuitBreaker
}

// Scheduler owns one poll loop per enabled connection.
type Scheduler struct {
	Conns   domain.ConnectionStore
	Logs    domain.SyncLogStore
	Retries domain.RetryQueueStore
	Sent    domain.SentOrderStore

	Sender     domain.WebhookSender
	Mapper     domain.Mapper
	NewErp     ErpClientFactory
	NewBreaker BreakerFactory

	Logger *slog.Logger

	// ErpTimeout configures each task's HTTP client.
	ErpTimeout time.Duration
	// ShutdownTimeout bounds Stop's wait for loops to exit.
	ShutdownTimeout time.Duration

	OnSyncComplete       OnSyncComplete
	OnCircuitStateChange OnCircuitStateChange

	mu      sync.Mutex
	tasks   map[int64]*connectionTask
	running bool
	baseCtx domain.Context
}

// Start loads every enabled connection and spawns its poll loop.
func (s *Scheduler) Start(ctx domain.Context) error {
	s.mu.Lock()
	if s.tasks == nil {
		s.tasks = make(map[int64]*connectionTask)
	}
	s.running = true
	s.baseCtx = ctx
	s.mu.Unlock()

	conns, err := s.Conns.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		s.AddConnection(conn)
	}
	s.Logger.Info("scheduler started", slog.Int("connections", len(conns)))
	return nil
}

// Stop cancels every loop and waits up to ShutdownTimeout for them to
// drain before abandoning them. Idle transports are closed either way.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	tasks := make([]*connectionTask, 0, len(s.tasks))
	for id, ct := range s.tasks {
		tasks = append(tasks, ct)
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	for _, ct := range tasks {
		ct.cancel()
	}

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	deadline := time.After(timeout)
	for _, ct := range tasks {
		select {
		case <-ct.done:
		case <-deadline:
			s.Logger.Warn("abandoning poll loop on shutdown timeout")
		}
		ct.httpClient.CloseIdleConnections()
	}
	s.Logger.Info("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ActiveCount returns the number of live poll loops.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CircuitState returns the in-memory breaker state for a connection, or
// "" when it has no task.
func (s *Scheduler) CircuitState(connectionID int64) domain.CircuitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ct, ok := s.tasks[connectionID]; ok {
		return ct.breaker.State()
	}
	return ""
}

// AddConnection spawns a poll loop for conn. Adding a connection that
// already has a task is a no-op.
func (s *Scheduler) AddConnection(conn domain.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if _, exists := s.tasks[conn.ID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	ct := &connectionTask{
		cancel:     cancel,
		done:       make(chan struct{}),
		httpClient: &http.Client{Timeout: s.erpTimeout()},
		breaker:    s.NewBreaker(),
	}
	ct.breaker.LoadState(conn.CircuitState, conn.CircuitFailureCount)
	s.tasks[conn.ID] = ct

	go s.pollLoop(ctx, conn, ct)
}

func (s *Scheduler) erpTimeout() time.Duration {
	if s.ErpTimeout > 0 {
		return s.ErpTimeout
	}
	return 30 * time.Second
}

// RemoveConnection cancels and forgets the connection's loop.
func (s *Scheduler) RemoveConnection(connectionID int64) {
	s.mu.Lock()
	ct, ok := s.tasks[connectionID]
	delete(s.tasks, connectionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	ct.cancel()
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	select {
	case <-ct.done:
	case <-time.After(timeout):
		s.Logger.Warn("abandoning poll loop", slog.Int64("connection_id", connectionID))
	}
	ct.httpClient.CloseIdleConnections()
}

// RestartConnection bounces the loop, picking up edited settings; a
// disabled connection is only removed.
func (s *Scheduler) RestartConnection(conn domain.Connection) {
	s.RemoveConnection(conn.ID)
	if conn.Enabled {
		s.AddConnection(conn)
	}
}

// ResetCircuitBreaker forces the connection's breaker closed, both in
// memory and in the store.
func (s *Scheduler) ResetCircuitBreaker(ctx domain.Context, connectionID int64) error {
	s.mu.Lock()
	ct, ok := s.tasks[connectionID]
	s.mu.Unlock()
	if ok {
		ct.breaker.Reset()
	}
	if err := s.Conns.UpdateCircuitState(ctx, connectionID, domain.CircuitClosed, 0); err != nil {
		return err
	}
	if s.OnCircuitStateChange != nil {
		s.OnCircuitStateChange(connectionID, domain.CircuitClosed)
	}
	return nil
}

func (s *Scheduler) pollLoop(ctx domain.Context, conn domain.Connection, ct *connectionTask) {
	id := conn.ID
	defer func() {
		s.mu.Lock()
		if cur, ok := s.tasks[id]; ok && cur == ct {
			delete(s.tasks, id)
		}
		s.mu.Unlock()
		close(ct.done)
	}()
	logger := s.Logger.With(
		slog.Int64("connection_id", conn.ID),
		slog.String("connection", conn.Name),
	)
	logger.Info("poll loop started",
		slog.Int("interval_seconds", conn.PollIntervalSeconds))

	var erp domain.ErpClient
	for {
		fresh, err := s.Conns.Get(ctx, conn.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			logger.Info("connection removed, stopping loop")
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Error("reloading connection failed", slog.Any("error", err))
		default:
			if !fresh.Enabled {
				logger.Info("connection disabled, stopping loop")
				return
			}
			conn = fresh

			if erp == nil {
				erp = s.NewErp(conn, ct.httpClient)
			}

			prevState := ct.breaker.State()
			worker := &PollWorker{
				Conn:    conn,
				Erp:     erp,
				Sender:  s.Sender,
				Mapper:  s.Mapper,
				Breaker: ct.breaker,
				Conns:   s.Conns,
				Logs:    s.Logs,
				Retries: s.Retries,
				Sent:    s.Sent,
				Logger:  logger,
			}
			syncLog, werr := worker.Execute(ctx)
			if werr != nil {
				if ctx.Err() != nil {
					return
				}
				// The loop outlives any single bad cycle.
				logger.Error("poll cycle error", slog.Any("error", werr))
			}
			if s.OnSyncComplete != nil {
				s.OnSyncComplete(conn.ID, syncLog)
			}
			if newState := ct.breaker.State(); newState != prevState && s.OnCircuitStateChange != nil {
				s.OnCircuitStateChange(conn.ID, newState)
			}
		}

		interval := time.Duration(conn.PollIntervalSeconds) * time.Second
		select {
		case <-ctx.Done():
			logger.Info("poll loop cancelled")
			return
		case <-time.After(interval):
		}
	}
}
