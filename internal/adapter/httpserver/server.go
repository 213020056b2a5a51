package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/odoo-poller/internal/adapter/observability"
	"github.com/fairyhunter13/odoo-poller/internal/config"
	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// SchedulerStatus is the slice of scheduler state the API reports.
type SchedulerStatus interface {
	Running() bool
	ActiveCount() int
	CircuitState(connectionID int64) domain.CircuitState
}

// Server aggregates the ops API dependencies.
type Server struct {
	Cfg     config.Config
	Conns   domain.ConnectionStore
	Logs    domain.SyncLogStore
	Retries domain.RetryQueueStore

	// Ready reports whether the store is reachable.
	Ready func(ctx domain.Context) error
	// Sched is optional; nil hides live scheduler state.
	Sched SchedulerStatus
}

// Router builds the chi router with all middleware and routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID())
	r.Use(Recoverer())
	r.Use(SecurityHeaders)
	r.Use(AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(cors.Handler(cors.Options{
			AllowedOrigins: strings.Split(s.Cfg.CORSAllowOrigins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
		if s.Cfg.RateLimitPerMin > 0 {
			api.Use(httprate.LimitByIP(s.Cfg.RateLimitPerMin, time.Minute))
		}
		api.Get("/status", s.handleStatus)
		api.Get("/connections", s.handleListConnections)
		api.Get("/connections/{id}/logs", s.handleConnectionLogs)
		api.Get("/retries/summary", s.handleRetrySummary)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		if err := s.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "store unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"scheduler": nil}
	if s.Sched != nil {
		body["scheduler"] = map[string]any{
			"running":            s.Sched.Running(),
			"active_connections": s.Sched.ActiveCount(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// connectionView is the redacted wire shape of a connection. Credentials
// never leave the process through this API.
type connectionView struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	OdooURL             string `json:"odoo_url"`
	OdooDB              string `json:"odoo_db"`
	OdooUsername        string `json:"odoo_username"`
	WebhookURL          string `json:"webhook_url"`
	HasWebhookSecret    bool   `json:"has_webhook_secret"`
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	Enabled             bool   `json:"enabled"`
	CircuitState        string `json:"circuit_state"`
	CircuitFailureCount int    `json:"circuit_failure_count"`
	LastSyncAt          string `json:"last_sync_at,omitempty"`
	CreatedAt           string `json:"created_at"`
	UpdatedAt           string `json:"updated_at"`
}

func (s *Server) toView(c domain.Connection) connectionView {
	state := c.CircuitState
	if s.Sched != nil {
		if live := s.Sched.CircuitState(c.ID); live != "" {
			state = live
		}
	}
	return connectionView{
		ID:                  c.ID,
		Name:                c.Name,
		OdooURL:             c.OdooURL,
		OdooDB:              c.OdooDB,
		OdooUsername:        c.OdooUsername,
		WebhookURL:          c.WebhookURL,
		HasWebhookSecret:    c.WebhookSecret != "",
		PollIntervalSeconds: c.PollIntervalSeconds,
		Enabled:             c.Enabled,
		CircuitState:        string(state),
		CircuitFailureCount: c.CircuitFailureCount,
		LastSyncAt:          c.LastSyncAt,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.Conns.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]connectionView, 0, len(conns))
	for _, c := range conns {
		views = append(views, s.toView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": views})
}

type syncLogView struct {
	ID            int64  `json:"id"`
	ConnectionID  int64  `json:"connection_id"`
	StartedAt     string `json:"started_at"`
	FinishedAt    string `json:"finished_at"`
	OrdersFound   int    `json:"orders_found"`
	OrdersSent    int    `json:"orders_sent"`
	OrdersFailed  int    `json:"orders_failed"`
	OrdersSkipped int    `json:"orders_skipped"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func (s *Server) handleConnectionLogs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: connection id must be an integer", domain.ErrInvalidArgument))
		return
	}
	if _, err := s.Conns.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > domain.MaxSyncLogs {
			writeError(w, fmt.Errorf("%w: limit must be 1..%d", domain.ErrInvalidArgument, domain.MaxSyncLogs))
			return
		}
	}

	logs, err := s.Logs.ListByConnection(r.Context(), id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]syncLogView, 0, len(logs))
	for _, l := range logs {
		views = append(views, syncLogView{
			ID:            l.ID,
			ConnectionID:  l.ConnectionID,
			StartedAt:     l.StartedAt,
			FinishedAt:    l.FinishedAt,
			OrdersFound:   l.OrdersFound,
			OrdersSent:    l.OrdersSent,
			OrdersFailed:  l.OrdersFailed,
			OrdersSkipped: l.OrdersSkipped,
			ErrorMessage:  l.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": views})
}

func (s *Server) handleRetrySummary(w http.ResponseWriter, r *http.Request) {
	var connectionID int64
	if raw := r.URL.Query().Get("connection_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, fmt.Errorf("%w: connection_id must be an integer", domain.ErrInvalidArgument))
			return
		}
		connectionID = id
	}

	summary, err := s.Retries.Summary(r.Context(), connectionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":   summary[domain.RetryPending],
		"sent":      summary[domain.RetrySent],
		"discarded": summary[domain.RetryDiscarded],
	})
}
