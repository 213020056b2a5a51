// Package cmd implements the poller CLI: the long-running polling engine
// behind `poller run` plus the management commands operators use to
// administer connections, inspect sync history and drive the retry queue.
package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fairyhunter13/odoo-poller/internal/adapter/erp/odoo"
	"github.com/fairyhunter13/odoo-poller/internal/adapter/observability"
	"github.com/fairyhunter13/odoo-poller/internal/adapter/repo/sqlite"
	"github.com/fairyhunter13/odoo-poller/internal/adapter/secrets"
	"github.com/fairyhunter13/odoo-poller/internal/adapter/webhook"
	"github.com/fairyhunter13/odoo-poller/internal/config"
	"github.com/fairyhunter13/odoo-poller/internal/domain"
	"github.com/fairyhunter13/odoo-poller/internal/usecase"
)

// app bundles the dependencies shared by every management command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *sqlite.Store
	admin  *usecase.Admin
}

// openApp loads configuration and opens the store. Callers must Close.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("POLLER_ENCRYPTION_KEY is not set; run `poller generate-key` to create one")
	}
	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cfg.DBPath, cipher)
	if err != nil {
		return nil, err
	}

	admin := &usecase.Admin{
		Conns:             store.Connections,
		Logs:              store.SyncLogs,
		Retries:           store.RetryQueue,
		Sent:              store.SentOrders,
		Sender:            webhook.NewSender(cfg.WebhookTimeout),
		Mapper:            odoo.NewMapper(),
		NewErp:            newErpClient,
		DefaultWebhookURL: cfg.DefaultWebhookURL,
		ErpTimeout:        cfg.ErpTimeout,
	}
	return &app{cfg: cfg, logger: logger, store: store, admin: admin}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store failed", slog.Any("error", err))
	}
}

func newErpClient(conn domain.Connection, hc *http.Client) domain.ErpClient {
	return odoo.NewClient(conn.OdooURL, conn.OdooDB, conn.OdooUsername, conn.OdooAPIKey, hc)
}

// withApp wraps a command body with app setup and teardown.
func withApp(run func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return run(cmd, args, a)
	}
}

// NewRootCmd assembles the full command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "poller",
		Short:         "Multi-tenant Odoo sales-order polling engine",
		Long:          "poller watches Odoo tenants for confirmed sales orders and delivers each order revision exactly once to a per-tenant webhook.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newEditCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newTestCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newRetriesCmd())
	root.AddCommand(newRetryCmd())
	root.AddCommand(newDiscardCmd())
	root.AddCommand(newResetCircuitCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newGenerateKeyCmd())
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newGenerateKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-key",
		Short: "Generate a new encryption key for POLLER_ENCRYPTION_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

// parseTimestamp converts a stored timestamp for duration math; zero time
// on empty or malformed input.
func parseTimestamp(s string) time.Time {
	t, err := time.Parse(domain.TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
