package usecase

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// ConnectionInput carries the user-supplied fields for creating or
// editing a connection.
type ConnectionInput struct {
	Name                string `yaml:"name" validate:"required,max=100"`
	OdooURL             string `yaml:"odoo_url" validate:"required,url"`
	OdooDB              string `yaml:"odoo_db" validate:"required"`
	OdooUsername        string `yaml:"odoo_username" validate:"required"`
	OdooAPIKey          string `yaml:"odoo_api_key" validate:"required"`
	WebhookURL          string `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookSecret       string `yaml:"webhook_secret"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds" validate:"omitempty,min=10,max=86400"`
	Enabled             *bool  `yaml:"enabled"`
}

// Admin implements the management operations behind the CLI and the ops
// API. It works directly against the stores; the running scheduler is
// notified separately by the caller when loops need restarting.
type Admin struct {
	Conns   domain.ConnectionStore
	Logs    domain.SyncLogStore
	Retries domain.RetryQueueStore
	Sent    domain.SentOrderStore

	Sender domain.WebhookSender
	Mapper domain.Mapper
	NewErp ErpClientFactory

	// DefaultWebhookURL fills WebhookURL when the input leaves it empty.
	DefaultWebhookURL string
	// ErpTimeout bounds ERP calls made by Replay.
	ErpTimeout time.Duration

	validate *validator.Validate
}

func (a *Admin) validator() *validator.Validate {
	if a.validate == nil {
		a.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return a.validate
}

// CreateConnection validates the input, applies defaults and persists a
// new connection.
func (a *Admin) CreateConnection(ctx domain.Context, in ConnectionInput) (domain.Connection, error) {
	if in.WebhookURL == "" {
		in.WebhookURL = a.DefaultWebhookURL
	}
	if err := a.validator().Struct(in); err != nil {
		return domain.Connection{}, fmt.Errorf("op=admin.create: %w: %v", domain.ErrInvalidArgument, err)
	}
	if in.WebhookURL == "" {
		return domain.Connection{}, fmt.Errorf("op=admin.create: %w: webhook URL required (flag or POLLER_DEFAULT_WEBHOOK_URL)", domain.ErrInvalidArgument)
	}

	conn := domain.Connection{
		Name:                in.Name,
		OdooURL:             in.OdooURL,
		OdooDB:              in.OdooDB,
		OdooUsername:        in.OdooUsername,
		OdooAPIKey:          in.OdooAPIKey,
		WebhookURL:          in.WebhookURL,
		WebhookSecret:       in.WebhookSecret,
		PollIntervalSeconds: in.PollIntervalSeconds,
		Enabled:             true,
		CircuitState:        domain.CircuitClosed,
	}
	if conn.PollIntervalSeconds == 0 {
		conn.PollIntervalSeconds = domain.DefaultPollInterval
	}
	if in.Enabled != nil {
		conn.Enabled = *in.Enabled
	}
	return a.Conns.Create(ctx, conn)
}

// EditConnection applies the non-zero fields of in to an existing
// connection and persists it. Credentials left empty keep their stored
// values.
func (a *Admin) EditConnection(ctx domain.Context, id int64, in ConnectionInput) (domain.Connection, error) {
	conn, err := a.Conns.Get(ctx, id)
	if err != nil {
		return domain.Connection{}, err
	}

	if in.Name != "" {
		conn.Name = in.Name
	}
	if in.OdooURL != "" {
		conn.OdooURL = in.OdooURL
	}
	if in.OdooDB != "" {
		conn.OdooDB = in.OdooDB
	}
	if in.OdooUsername != "" {
		conn.OdooUsername = in.OdooUsername
	}
	if in.OdooAPIKey != "" {
		conn.OdooAPIKey = in.OdooAPIKey
	}
	if in.WebhookURL != "" {
		conn.WebhookURL = in.WebhookURL
	}
	if in.WebhookSecret != "" {
		conn.WebhookSecret = in.WebhookSecret
	}
	if in.PollIntervalSeconds != 0 {
		conn.PollIntervalSeconds = in.PollIntervalSeconds
	}
	if in.Enabled != nil {
		conn.Enabled = *in.Enabled
	}

	check := ConnectionInput{
		Name:                conn.Name,
		OdooURL:             conn.OdooURL,
		OdooDB:              conn.OdooDB,
		OdooUsername:        conn.OdooUsername,
		OdooAPIKey:          conn.OdooAPIKey,
		WebhookURL:          conn.WebhookURL,
		PollIntervalSeconds: conn.PollIntervalSeconds,
	}
	if err := a.validator().Struct(check); err != nil {
		return domain.Connection{}, fmt.Errorf("op=admin.edit: %w: %v", domain.ErrInvalidArgument, err)
	}

	if err := a.Conns.Update(ctx, conn); err != nil {
		return domain.Connection{}, err
	}
	return conn, nil
}

// DeleteConnection removes the connection; dependent rows cascade in the
// store.
func (a *Admin) DeleteConnection(ctx domain.Context, id int64) error {
	return a.Conns.Delete(ctx, id)
}

// TestWebhook posts a marker payload to the connection's webhook so an
// operator can verify the receiving end before enabling polling.
func (a *Admin) TestWebhook(ctx domain.Context, id int64) error {
	conn, err := a.Conns.Get(ctx, id)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"source":          "odoo",
		"test":            true,
		"connection_name": conn.Name,
	}
	return a.Sender.Send(ctx, conn.WebhookURL, payload, conn.WebhookSecret, conn.ID)
}

// Replay re-fetches the connection's last limit sent orders from Odoo,
// re-maps and re-sends them. Orders no longer readable upstream are
// skipped. Returns (resent, skipped).
func (a *Admin) Replay(ctx domain.Context, id int64, limit int) (int, int, error) {
	conn, err := a.Conns.Get(ctx, id)
	if err != nil {
		return 0, 0, err
	}

	sent, err := a.Sent.ListByConnection(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	if limit > 0 && len(sent) > limit {
		sent = sent[:limit]
	}
	if len(sent) == 0 {
		return 0, 0, nil
	}

	timeout := a.ErpTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	erp := a.NewErp(conn, &http.Client{Timeout: timeout})
	if _, err := erp.Authenticate(ctx); err != nil {
		return 0, 0, err
	}

	ids := make([]int64, 0, len(sent))
	seen := make(map[int64]struct{}, len(sent))
	for _, s := range sent {
		if _, dup := seen[s.OdooOrderID]; dup {
			continue
		}
		seen[s.OdooOrderID] = struct{}{}
		ids = append(ids, s.OdooOrderID)
	}

	orders, err := erp.Read(ctx, "sale.order", ids, orderFields)
	if err != nil {
		return 0, 0, err
	}
	if len(orders) == 0 {
		return 0, len(ids), nil
	}

	batch, err := a.Mapper.FetchBatchData(ctx, erp, orders)
	if err != nil {
		return 0, 0, err
	}

	resent := 0
	for _, order := range orders {
		payload := a.Mapper.MapOrder(order, batch, conn.OdooDB, conn.ID)
		if err := a.Sender.Send(ctx, conn.WebhookURL, payload, conn.WebhookSecret, conn.ID); err != nil {
			return resent, len(ids) - resent, fmt.Errorf("op=admin.replay: order %s: %w", payload.Order.Name, err)
		}
		resent++
	}
	return resent, len(ids) - resent, nil
}

// ForceRetry marks a parked retry due now so the next sweep picks it up.
func (a *Admin) ForceRetry(ctx domain.Context, retryID int64) error {
	item, err := a.Retries.Get(ctx, retryID)
	if err != nil {
		return err
	}
	if item.Status != domain.RetryPending {
		return fmt.Errorf("op=admin.retry: item %d is %s: %w", retryID, item.Status, domain.ErrConflict)
	}
	now := domain.Now()
	return a.Retries.UpdateStatus(ctx, retryID, domain.RetryPending, nil, &now, nil)
}

// DiscardRetry marks a parked retry as discarded so it is never sent.
func (a *Admin) DiscardRetry(ctx domain.Context, retryID int64) error {
	item, err := a.Retries.Get(ctx, retryID)
	if err != nil {
		return err
	}
	if item.Status != domain.RetryPending {
		return fmt.Errorf("op=admin.discard: item %d is %s: %w", retryID, item.Status, domain.ErrConflict)
	}
	reason := "Discarded by operator"
	return a.Retries.UpdateStatus(ctx, retryID, domain.RetryDiscarded, nil, nil, &reason)
}
