// Package odoo implements the Odoo JSON-RPC client and the order-to-webhook
// payload mapper.
package odoo

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// DefaultTimeout bounds each RPC round trip.
const DefaultTimeout = 30 * time.Second

// NewHTTPClient returns a traced HTTP client suitable for one connection's
// RPC traffic. The scheduler reuses it across client rebuilds so idle
// keep-alive connections survive.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Client talks JSON-RPC 2.0 to one Odoo instance. It caches the uid from
// authenticate and transparently re-authenticates once when a call fails
// with an auth error.
type Client struct {
	baseURL  string
	db       string
	username string
	apiKey   string
	http     *http.Client

	mu  sync.Mutex
	uid int64
}

// NewClient constructs a Client for one connection's credentials. A nil
// httpClient gets a default traced client.
func NewClient(url, db, username, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		baseURL:  strings.TrimRight(url, "/"),
		db:       db,
		username: username,
		apiKey:   apiKey,
		http:     httpClient,
	}
}

type rpcRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Message string `json:"message"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcError) message() string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

// classify maps an RPC-level error message onto the domain taxonomy. Odoo
// reports expired sessions and rejected credentials through message text,
// not a structured code.
func classify(msg string) error {
	if strings.Contains(msg, "Session") || strings.Contains(msg, "Access Denied") ||
		strings.Contains(strings.ToLower(msg), "authenticate") {
		return domain.ErrAuth
	}
	return domain.ErrRPC
}

func (c *Client) rpc(ctx domain.Context, params rpcParams) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", Method: "call", Params: params})
	if err != nil {
		return nil, fmt.Errorf("op=odoo.rpc marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("op=odoo.rpc: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=odoo.rpc: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("op=odoo.rpc: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("op=odoo.rpc: HTTP %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("op=odoo.rpc decode: %w", err)
	}
	if out.Error != nil {
		msg := out.Error.message()
		return nil, fmt.Errorf("op=odoo.rpc: %w: %s", classify(msg), msg)
	}
	return out.Result, nil
}

// UID returns the cached uid, zero when not yet authenticated.
func (c *Client) UID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

// Authenticate resolves and caches the numeric user id. Odoo answers a
// rejected login with result false rather than an error member.
func (c *Client) Authenticate(ctx domain.Context) (int64, error) {
	c.mu.Lock()
	if c.uid != 0 {
		uid := c.uid
		c.mu.Unlock()
		return uid, nil
	}
	c.mu.Unlock()
	return c.authenticate(ctx)
}

func (c *Client) authenticate(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("erp.odoo")
	ctx, span := tracer.Start(ctx, "odoo.Authenticate")
	defer span.End()

	result, err := c.rpc(ctx, rpcParams{
		Service: "common",
		Method:  "authenticate",
		Args:    []any{c.db, c.username, c.apiKey, map[string]any{}},
	})
	if err != nil {
		return 0, err
	}
	var uid float64
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		return 0, fmt.Errorf("op=odoo.authenticate user=%s db=%s: %w", c.username, c.db, domain.ErrAuth)
	}
	c.mu.Lock()
	c.uid = int64(uid)
	c.mu.Unlock()
	return int64(uid), nil
}

// ExecuteKw performs one object-service call, authenticating first when no
// uid is cached and re-authenticating once on an auth failure.
func (c *Client) ExecuteKw(ctx domain.Context, model, method string, args []any, kwargs map[string]any) (any, error) {
	raw, err := c.executeKwRaw(ctx, model, method, args, kwargs)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("op=odoo.execute_kw decode: %w", err)
	}
	return out, nil
}

func (c *Client) executeKwRaw(ctx domain.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	if _, err := c.Authenticate(ctx); err != nil {
		return nil, err
	}
	raw, err := c.execute(ctx, model, method, args, kwargs)
	if errors.Is(err, domain.ErrAuth) {
		// Session expired: refresh the uid and retry once.
		c.mu.Lock()
		c.uid = 0
		c.mu.Unlock()
		if _, aerr := c.authenticate(ctx); aerr != nil {
			return nil, aerr
		}
		raw, err = c.execute(ctx, model, method, args, kwargs)
	}
	return raw, err
}

func (c *Client) execute(ctx domain.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	tracer := otel.Tracer("erp.odoo")
	ctx, span := tracer.Start(ctx, "odoo."+method)
	defer span.End()

	if kwargs == nil {
		kwargs = map[string]any{}
	}
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	return c.rpc(ctx, rpcParams{
		Service: "object",
		Method:  "execute_kw",
		Args:    []any{c.db, uid, c.apiKey, model, method, args, kwargs},
	})
}

// SearchRead queries model with an Odoo search domain. A zero limit and an
// empty order are omitted from the call.
func (c *Client) SearchRead(ctx domain.Context, model string, criteria []any, fields []string, limit int, order string) ([]domain.Record, error) {
	kwargs := map[string]any{"fields": fields}
	if limit > 0 {
		kwargs["limit"] = limit
	}
	if order != "" {
		kwargs["order"] = order
	}
	raw, err := c.executeKwRaw(ctx, model, "search_read", []any{criteria}, kwargs)
	if err != nil {
		return nil, err
	}
	return decodeRecords(raw)
}

// Read fetches the given ids. Empty ids return nil without a round trip.
func (c *Client) Read(ctx domain.Context, model string, ids []int64, fields []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := c.executeKwRaw(ctx, model, "read", []any{ids}, map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}
	return decodeRecords(raw)
}

func decodeRecords(raw json.RawMessage) ([]domain.Record, error) {
	var records []domain.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("op=odoo.decode_records: %w", err)
	}
	return records, nil
}
