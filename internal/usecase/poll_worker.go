// Package usecase orchestrates the polling engine: the per-cycle worker,
// the per-connection scheduler, and the admin operations behind the CLI.
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

// orderFields is the exact header field set fetched from sale.order.
var orderFields = []string{
	"name", "state", "date_order", "write_date", "partner_id",
	"partner_shipping_id", "amount_untaxed", "amount_tax", "amount_total",
	"currency_id", "note",
}

// confirmedStates restricts polling to confirmed orders.
var confirmedStates = []string{"sale", "done"}

// PollWorker runs one sync cycle for one connection.
type PollWorker struct {
	Conn    domain.Connection
	Erp     domain.ErpClient
	Sender  domain.WebhookSender
	Mapper  domain.Mapper
	Breaker domain.CircuitBreaker

	Conns   domain.ConnectionStore
	Logs    domain.SyncLogStore
	Retries domain.RetryQueueStore
	Sent    domain.SentOrderStore

	Logger *slog.Logger

	// now is a test seam; nil means time.Now.
	now func() time.Time
}

func (w *PollWorker) nowStr() string {
	if w.now != nil {
		return w.now().UTC().Format(domain.TimeLayout)
	}
	return domain.Now()
}

func (w *PollWorker) nowTime() time.Time {
	if w.now != nil {
		return w.now()
	}
	return time.Now()
}

type cycleCounts struct {
	found, sent, failed, skipped int
}

// Execute runs one cycle: gate, authenticate, seed or discover, filter,
// deliver, advance the cursor, sweep retries, persist breaker state, and
// append the sync log. It returns nil when the open breaker short-circuits
// the cycle.
func (w *PollWorker) Execute(ctx domain.Context) (*domain.SyncLog, error) {
	if !w.Breaker.Allow() {
		w.Logger.Info("circuit breaker open, skipping cycle",
			slog.String("connection", w.Conn.Name))
		return nil, nil
	}

	cycleID := ulid.Make().String()
	logger := w.Logger.With(
		slog.String("cycle_id", cycleID),
		slog.Int64("connection_id", w.Conn.ID),
		slog.String("connection", w.Conn.Name),
	)

	startedAt := w.nowStr()
	var counts cycleCounts
	var errMsg string

	err := w.runCycle(ctx, logger, &counts)
	switch {
	case err == nil:
		w.Breaker.RecordSuccess()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Shutdown mid-cycle: leave no partial log or breaker change behind.
		return nil, err
	case errors.Is(err, domain.ErrRateLimited):
		// The upstream is healthy, just throttling; not a breaker failure.
		logger.Warn("erp rate limited", slog.Any("error", err))
		errMsg = err.Error()
	default:
		logger.Error("poll cycle failed", slog.Any("error", err))
		errMsg = err.Error()
		w.Breaker.RecordFailure()
	}

	if perr := w.Conns.UpdateCircuitState(ctx, w.Conn.ID, w.Breaker.State(), w.Breaker.FailureCount()); perr != nil {
		logger.Error("persisting circuit state failed", slog.Any("error", perr))
	}

	entry, lerr := w.Logs.Append(ctx, domain.SyncLog{
		ConnectionID:  w.Conn.ID,
		StartedAt:     startedAt,
		FinishedAt:    w.nowStr(),
		OrdersFound:   counts.found,
		OrdersSent:    counts.sent,
		OrdersFailed:  counts.failed,
		OrdersSkipped: counts.skipped,
		ErrorMessage:  errMsg,
	})
	if lerr != nil {
		return nil, lerr
	}
	return &entry, nil
}

func (w *PollWorker) runCycle(ctx domain.Context, logger *slog.Logger, counts *cycleCounts) error {
	if _, err := w.Erp.Authenticate(ctx); err != nil {
		return err
	}

	if w.Conn.LastSyncAt == "" {
		return w.seed(ctx, logger, counts)
	}

	criteria := []any{
		[]any{"state", "in", confirmedStates},
		[]any{"write_date", ">", w.Conn.LastSyncAt},
	}
	orders, err := w.Erp.SearchRead(ctx, "sale.order", criteria, orderFields, 0, "write_date asc")
	if err != nil {
		return err
	}
	counts.found = len(orders)

	if len(orders) == 0 {
		// Nothing new upstream, but parked retries still get their sweep.
		if err := w.processRetries(ctx, logger); err != nil {
			return err
		}
		return w.finishCycle(ctx)
	}

	orderIDs := make([]int64, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.Int("id"))
	}
	sentKeys, err := w.Sent.GetSentKeys(ctx, w.Conn.ID, orderIDs)
	if err != nil {
		return err
	}
	newOrders := make([]domain.Record, 0, len(orders))
	for _, o := range orders {
		key := domain.SentKey{OrderID: o.Int("id"), WriteDate: o.Str("write_date")}
		if _, already := sentKeys[key]; !already {
			newOrders = append(newOrders, o)
		}
	}
	counts.skipped = counts.found - len(newOrders)

	if len(newOrders) > 0 {
		if err := w.deliver(ctx, logger, newOrders, counts); err != nil {
			return err
		}
	}

	if err := w.processRetries(ctx, logger); err != nil {
		return err
	}
	return w.finishCycle(ctx)
}

// deliver maps and posts each new order in write_date order so the cursor
// advances monotonically. A single order's failure parks it in the retry
// queue and the loop continues.
func (w *PollWorker) deliver(ctx domain.Context, logger *slog.Logger, newOrders []domain.Record, counts *cycleCounts) error {
	batch, err := w.Mapper.FetchBatchData(ctx, w.Erp, newOrders)
	if err != nil {
		return err
	}

	maxWriteDate := w.Conn.LastSyncAt
	for _, order := range newOrders {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload := w.Mapper.MapOrder(order, batch, w.Conn.OdooDB, w.Conn.ID)
		if err := w.Sender.Send(ctx, w.Conn.WebhookURL, payload, w.Conn.WebhookSecret, w.Conn.ID); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			counts.failed++
			logger.Warn("webhook delivery failed, queued for retry",
				slog.String("order", order.Str("name")),
				slog.Any("error", err))
			frozen, merr := json.Marshal(payload)
			if merr != nil {
				return merr
			}
			nextRetry := w.nowTime().UTC().Add(domain.BackoffDelay(0)).Format(domain.TimeLayout)
			if _, qerr := w.Retries.Enqueue(ctx, domain.RetryItem{
				ConnectionID:  w.Conn.ID,
				OdooOrderID:   order.Int("id"),
				OdooOrderName: order.Str("name"),
				Payload:       string(frozen),
				Status:        domain.RetryPending,
				NextRetryAt:   nextRetry,
			}); qerr != nil {
				return qerr
			}
		} else {
			counts.sent++
			if merr := w.Sent.MarkSent(ctx, domain.SentOrder{
				ConnectionID:  w.Conn.ID,
				OdooOrderID:   order.Int("id"),
				OdooOrderName: order.Str("name"),
				OdooWriteDate: order.Str("write_date"),
				SentAt:        w.nowStr(),
			}); merr != nil {
				return merr
			}
		}

		// Failed orders advance the cursor too: they live on in the retry
		// queue, and re-polling them would duplicate retry entries.
		if wd := order.Str("write_date"); wd > maxWriteDate {
			maxWriteDate = wd
		}
	}

	if maxWriteDate != w.Conn.LastSyncAt {
		if err := w.Conns.UpdateLastSync(ctx, w.Conn.ID, maxWriteDate); err != nil {
			return err
		}
		w.Conn.LastSyncAt = maxWriteDate
	}
	return w.Sent.TrimToLimit(ctx, w.Conn.ID, domain.MaxSentOrders)
}

// seed handles the first-ever cycle: record the most recent confirmed
// orders in the ledger without sending webhooks, so enabling a connection
// does not unleash a delivery storm of its whole history.
func (w *PollWorker) seed(ctx domain.Context, logger *slog.Logger, counts *cycleCounts) error {
	logger.Info("first sync, seeding sent-order ledger",
		slog.Int("limit", domain.MaxSentOrders))

	criteria := []any{[]any{"state", "in", confirmedStates}}
	orders, err := w.Erp.SearchRead(ctx, "sale.order", criteria, orderFields, domain.MaxSentOrders, "write_date desc")
	if err != nil {
		return err
	}
	counts.found = len(orders)
	counts.skipped = len(orders)

	var maxWriteDate string
	for _, order := range orders {
		if err := w.Sent.MarkSent(ctx, domain.SentOrder{
			ConnectionID:  w.Conn.ID,
			OdooOrderID:   order.Int("id"),
			OdooOrderName: order.Str("name"),
			OdooWriteDate: order.Str("write_date"),
			SentAt:        w.nowStr(),
		}); err != nil {
			return err
		}
		if wd := order.Str("write_date"); wd > maxWriteDate {
			maxWriteDate = wd
		}
	}

	if maxWriteDate != "" {
		if err := w.Conns.UpdateLastSync(ctx, w.Conn.ID, maxWriteDate); err != nil {
			return err
		}
		w.Conn.LastSyncAt = maxWriteDate
	}
	return nil
}

// processRetries drives every due pending retry once: exhausted items are
// discarded, the rest are re-sent with the frozen payload.
func (w *PollWorker) processRetries(ctx domain.Context, logger *slog.Logger) error {
	pending, err := w.Retries.GetPending(ctx, w.Conn.ID, w.nowStr())
	if err != nil {
		return err
	}
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if item.Attempts >= item.MaxAttempts {
			lastErr := "Max attempts reached"
			if uerr := w.Retries.UpdateStatus(ctx, item.ID, domain.RetryDiscarded, nil, nil, &lastErr); uerr != nil {
				return uerr
			}
			logger.Warn("retry discarded after max attempts",
				slog.String("order", item.OdooOrderName))
			continue
		}

		var payload domain.WebhookPayload
		if err := json.Unmarshal([]byte(item.Payload), &payload); err != nil {
			lastErr := "invalid frozen payload: " + err.Error()
			if uerr := w.Retries.UpdateStatus(ctx, item.ID, domain.RetryDiscarded, nil, nil, &lastErr); uerr != nil {
				return uerr
			}
			continue
		}

		if err := w.Sender.Send(ctx, w.Conn.WebhookURL, payload, w.Conn.WebhookSecret, w.Conn.ID); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			attempts := item.Attempts + 1
			nextRetry := w.nowTime().UTC().Add(domain.BackoffDelay(attempts)).Format(domain.TimeLayout)
			lastErr := err.Error()
			if uerr := w.Retries.UpdateStatus(ctx, item.ID, domain.RetryPending, &attempts, &nextRetry, &lastErr); uerr != nil {
				return uerr
			}
			continue
		}

		if uerr := w.Retries.UpdateStatus(ctx, item.ID, domain.RetrySent, nil, nil, nil); uerr != nil {
			return uerr
		}
		// The ledger learns about the delivery so the next poll skips it.
		if merr := w.Sent.MarkSent(ctx, domain.SentOrder{
			ConnectionID:  w.Conn.ID,
			OdooOrderID:   item.OdooOrderID,
			OdooOrderName: item.OdooOrderName,
			OdooWriteDate: payload.Order.WriteDate,
			SentAt:        w.nowStr(),
		}); merr != nil {
			return merr
		}
	}
	return nil
}

// finishCycle performs the bounded-state housekeeping of a successful
// cycle.
func (w *PollWorker) finishCycle(ctx domain.Context) error {
	if err := w.Logs.TrimToLimit(ctx, w.Conn.ID, domain.MaxSyncLogs); err != nil {
		return err
	}
	return w.Retries.CleanupFinished(ctx, w.Conn.ID)
}
