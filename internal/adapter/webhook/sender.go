// Package webhook delivers order payloads to per-connection HTTP endpoints.
package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/odoo-poller/internal/adapter/observability"
	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// DefaultTimeout bounds each webhook POST.
const DefaultTimeout = 30 * time.Second

// maxBodyPrefix caps how much of an error response is kept for diagnostics.
const maxBodyPrefix = 200

// SendError reports a failed delivery. Status is zero for transport
// failures where no HTTP response arrived.
type SendError struct {
	Status int
	Body   string
	Err    error
}

func (e *SendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("webhook send failed: %v", e.Err)
	}
	return fmt.Sprintf("webhook returned HTTP %d: %s", e.Status, e.Body)
}

func (e *SendError) Unwrap() error { return e.Err }

// Sender POSTs JSON payloads with the connection's auth headers.
type Sender struct {
	http *http.Client
}

// NewSender constructs a Sender with the given POST timeout.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Sender{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Send POSTs payload to webhookURL. Any non-2xx response or transport
// failure returns a *SendError; the secret header is set only when the
// connection has one.
func (s *Sender) Send(ctx domain.Context, webhookURL string, payload any, secret string, connectionID int64) error {
	tracer := otel.Tracer("webhook")
	ctx, span := tracer.Start(ctx, "webhook.Send")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=webhook.send marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=webhook.send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Odoo-Connection-Id", strconv.FormatInt(connectionID, 10))
	if secret != "" {
		req.Header.Set("X-Webhook-Secret", secret)
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	observability.WebhookDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return &SendError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		prefix, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyPrefix))
		return &SendError{Status: resp.StatusCode, Body: string(prefix)}
	}
	// Drain so the keep-alive connection is reusable.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
