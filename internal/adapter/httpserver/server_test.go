package httpserver_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/odoo-poller/internal/adapter/httpserver"
	"github.com/fairyhunter13/odoo-poller/internal/config"
	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

type stubConns struct {
	domain.ConnectionStore
	conns []domain.Connection
}

func (s *stubConns) ListAll(domain.Context) ([]domain.Connection, error) { return s.conns, nil }

func (s *stubConns) Get(_ domain.Context, id int64) (domain.Connection, error) {
	for _, c := range s.conns {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.Connection{}, domain.ErrNotFound
}

type stubLogs struct {
	domain.SyncLogStore
	logs      []domain.SyncLog
	gotLimit  int
	gotConnID int64
}

func (s *stubLogs) ListByConnection(_ domain.Context, connectionID int64, limit int) ([]domain.SyncLog, error) {
	s.gotConnID = connectionID
	s.gotLimit = limit
	return s.logs, nil
}

type stubRetries struct {
	domain.RetryQueueStore
	summary map[domain.RetryStatus]int
	gotID   int64
}

func (s *stubRetries) Summary(_ domain.Context, connectionID int64) (map[domain.RetryStatus]int, error) {
	s.gotID = connectionID
	return s.summary, nil
}

type stubSched struct {
	running bool
	active  int
	states  map[int64]domain.CircuitState
}

func (s *stubSched) Running() bool    { return s.running }
func (s *stubSched) ActiveCount() int { return s.active }
func (s *stubSched) CircuitState(id int64) domain.CircuitState {
	return s.states[id]
}

func sampleConn() domain.Connection {
	return domain.Connection{
		ID:                  1,
		Name:                "acme",
		OdooURL:             "https://acme.odoo.test",
		OdooDB:              "acme_prod",
		OdooUsername:        "bot@acme.test",
		OdooAPIKey:          "super-secret-key",
		WebhookURL:          "https://hooks.test/orders",
		WebhookSecret:       "hush",
		PollIntervalSeconds: 60,
		Enabled:             true,
		CircuitState:        domain.CircuitClosed,
		LastSyncAt:          "2025-06-01 10:00:00",
		CreatedAt:           "2025-05-01 00:00:00",
		UpdatedAt:           "2025-05-01 00:00:00",
	}
}

type harness struct {
	conns   *stubConns
	logs    *stubLogs
	retries *stubRetries
	sched   *stubSched
	srv     *httptest.Server
}

func newHarness(t *testing.T, ready func(domain.Context) error) *harness {
	t.Helper()
	h := &harness{
		conns:   &stubConns{conns: []domain.Connection{sampleConn()}},
		logs:    &stubLogs{},
		retries: &stubRetries{summary: map[domain.RetryStatus]int{domain.RetryPending: 2, domain.RetrySent: 1}},
		sched:   &stubSched{running: true, active: 1, states: map[int64]domain.CircuitState{}},
	}
	server := &httpserver.Server{
		Cfg:     config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 0},
		Conns:   h.conns,
		Logs:    h.logs,
		Retries: h.retries,
		Ready:   ready,
		Sched:   h.sched,
	}
	h.srv = httptest.NewServer(server.Router())
	t.Cleanup(h.srv.Close)
	return h
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	var body map[string]string
	resp := getJSON(t, h.srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	ok := newHarness(t, func(domain.Context) error { return nil })
	resp := getJSON(t, ok.srv.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down := newHarness(t, func(domain.Context) error { return errors.New("db locked") })
	var body map[string]string
	resp = getJSON(t, down.srv.URL+"/readyz", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	// The failure detail stays in the logs, not the response.
	assert.NotContains(t, body["reason"], "db locked")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	resp := getJSON(t, h.srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	var body struct {
		Scheduler struct {
			Running bool `json:"running"`
			Active  int  `json:"active_connections"`
		} `json:"scheduler"`
	}
	resp := getJSON(t, h.srv.URL+"/api/v1/status", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Scheduler.Running)
	assert.Equal(t, 1, body.Scheduler.Active)
}

func TestListConnectionsRedactsCredentials(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	resp, err := http.Get(h.srv.URL + "/api/v1/connections")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	out, err := json.Marshal(raw)
	require.NoError(t, err)

	assert.NotContains(t, string(out), "super-secret-key")
	assert.NotContains(t, string(out), "hush")

	conns := raw["connections"].([]any)
	require.Len(t, conns, 1)
	view := conns[0].(map[string]any)
	assert.Equal(t, "acme", view["name"])
	assert.Equal(t, true, view["has_webhook_secret"])
	assert.Equal(t, "closed", view["circuit_state"])
}

func TestListConnectionsPrefersLiveCircuitState(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.sched.states[1] = domain.CircuitOpen

	var body struct {
		Connections []struct {
			CircuitState string `json:"circuit_state"`
		} `json:"connections"`
	}
	getJSON(t, h.srv.URL+"/api/v1/connections", &body)
	require.Len(t, body.Connections, 1)
	assert.Equal(t, "open", body.Connections[0].CircuitState)
}

func TestConnectionLogs(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.logs.logs = []domain.SyncLog{{ID: 9, ConnectionID: 1, OrdersFound: 3, OrdersSent: 3}}

	var body struct {
		Logs []struct {
			ID          int64 `json:"id"`
			OrdersFound int   `json:"orders_found"`
		} `json:"logs"`
	}
	resp := getJSON(t, h.srv.URL+"/api/v1/connections/1/logs?limit=5", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Logs, 1)
	assert.Equal(t, int64(9), body.Logs[0].ID)
	assert.Equal(t, 5, h.logs.gotLimit)
	assert.Equal(t, int64(1), h.logs.gotConnID)
}

func TestConnectionLogsValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	resp := getJSON(t, h.srv.URL+"/api/v1/connections/abc/logs", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getJSON(t, h.srv.URL+"/api/v1/connections/99/logs", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, h.srv.URL+"/api/v1/connections/1/logs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getJSON(t, h.srv.URL+"/api/v1/connections/1/logs?limit=9999", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetrySummary(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	var body map[string]int
	resp := getJSON(t, h.srv.URL+"/api/v1/retries/summary?connection_id=1", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, body["pending"])
	assert.Equal(t, 1, body["sent"])
	assert.Equal(t, 0, body["discarded"])
	assert.Equal(t, int64(1), h.retries.gotID)

	resp = getJSON(t, h.srv.URL+"/api/v1/retries/summary?connection_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
