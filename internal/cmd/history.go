package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/odoo-poller/internal/domain"
)

func newLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs [connection-id]",
		Short: "Show recent sync cycles, optionally for one connection",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			var logs []domain.SyncLog
			var err error
			if len(args) == 1 {
				var id int64
				if id, err = parseID(args[0]); err != nil {
					return err
				}
				if _, err = a.store.Connections.Get(cmd.Context(), id); err != nil {
					return err
				}
				logs, err = a.store.SyncLogs.ListByConnection(cmd.Context(), id, limit)
			} else {
				logs, err = a.store.SyncLogs.ListRecent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(logs))
			for _, l := range logs {
				status := "ok"
				if l.ErrorMessage != "" {
					status = clip(l.ErrorMessage, 50)
				}
				rows = append(rows, []string{
					strconv.FormatInt(l.ID, 10),
					strconv.FormatInt(l.ConnectionID, 10),
					l.StartedAt,
					strconv.Itoa(l.OrdersFound),
					strconv.Itoa(l.OrdersSent),
					strconv.Itoa(l.OrdersFailed),
					strconv.Itoa(l.OrdersSkipped),
					status,
				})
			}
			printTable(cmd.OutOrStdout(),
				[]string{"ID", "Conn", "Started", "Found", "Sent", "Failed", "Skipped", "Status"},
				rows)
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of cycles to show")
	return cmd
}

func newRetriesCmd() *cobra.Command {
	var connectionID int64
	cmd := &cobra.Command{
		Use:   "retries",
		Short: "List retry queue items",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			var items []domain.RetryItem
			var err error
			if connectionID > 0 {
				items, err = a.store.RetryQueue.ListByConnection(cmd.Context(), connectionID)
			} else {
				items, err = a.store.RetryQueue.ListAll(cmd.Context())
			}
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					strconv.FormatInt(item.ID, 10),
					strconv.FormatInt(item.ConnectionID, 10),
					item.OdooOrderName,
					string(item.Status),
					fmt.Sprintf("%d/%d", item.Attempts, item.MaxAttempts),
					item.NextRetryAt,
					clip(item.LastError, 50),
				})
			}
			printTable(cmd.OutOrStdout(),
				[]string{"ID", "Conn", "Order", "Status", "Attempts", "Next Retry", "Last Error"},
				rows)
			return nil
		}),
	}
	cmd.Flags().Int64Var(&connectionID, "connection", 0, "only show one connection's items")
	return cmd
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <retry-id>",
		Short: "Mark a pending retry due now",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.admin.ForceRetry(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Retry %d is due now; the next sweep will send it\n", id)
			return nil
		}),
	}
}

func newDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <retry-id>",
		Short: "Discard a pending retry so it is never sent",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.admin.DiscardRetry(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discarded retry %d\n", id)
			return nil
		}),
	}
}

func newResetCircuitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-circuit <connection-id>",
		Short: "Force a connection's circuit breaker closed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := a.store.Connections.Get(cmd.Context(), id); err != nil {
				return err
			}
			if err := a.store.Connections.UpdateCircuitState(cmd.Context(), id, domain.CircuitClosed, 0); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Circuit breaker for connection %d is closed; a running engine picks it up on restart of the connection\n", id)
			return nil
		}),
	}
}

func newSendCmd() *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "send <connection-id>",
		Short: "Re-send the connection's most recently delivered orders",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			resent, skipped, err := a.admin.Replay(cmd.Context(), id, last)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-sent %d order(s), skipped %d no longer readable\n", resent, skipped)
			return nil
		}),
	}
	cmd.Flags().IntVar(&last, "last", 5, "how many of the most recent orders to re-send")
	return cmd
}
