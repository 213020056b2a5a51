package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/odoo-poller/internal/usecase"
)

func connectionFlags(cmd *cobra.Command, in *usecase.ConnectionInput) {
	cmd.Flags().StringVar(&in.Name, "name", "", "connection name")
	cmd.Flags().StringVar(&in.OdooURL, "odoo-url", "", "Odoo base URL, e.g. https://acme.odoo.com")
	cmd.Flags().StringVar(&in.OdooDB, "odoo-db", "", "Odoo database name")
	cmd.Flags().StringVar(&in.OdooUsername, "odoo-username", "", "Odoo login")
	cmd.Flags().StringVar(&in.OdooAPIKey, "odoo-api-key", "", "Odoo API key")
	cmd.Flags().StringVar(&in.WebhookURL, "webhook-url", "", "webhook endpoint (defaults to POLLER_DEFAULT_WEBHOOK_URL)")
	cmd.Flags().StringVar(&in.WebhookSecret, "webhook-secret", "", "value for the X-Webhook-Secret header")
	cmd.Flags().IntVar(&in.PollIntervalSeconds, "poll-interval", 0, "seconds between polls (default 60)")
}

func newAddCmd() *cobra.Command {
	var in usecase.ConnectionInput
	var file string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a connection (flags, or --file for a YAML batch)",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			if file != "" {
				return addFromFile(cmd, a, file)
			}
			conn, err := a.admin.CreateConnection(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created connection %d (%s)\n", conn.ID, conn.Name)
			return nil
		}),
	}
	connectionFlags(cmd, &in)
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a list of connections")
	return cmd
}

func addFromFile(cmd *cobra.Command, a *app, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var inputs []usecase.ConnectionInput
	if err := yaml.Unmarshal(raw, &inputs); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for i, in := range inputs {
		conn, err := a.admin.CreateConnection(cmd.Context(), in)
		if err != nil {
			return fmt.Errorf("entry %d (%s): %w", i+1, in.Name, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created connection %d (%s)\n", conn.ID, conn.Name)
	}
	return nil
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all connections",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a *app) error {
			conns, err := a.store.Connections.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(conns))
			for _, c := range conns {
				lastSync := c.LastSyncAt
				if lastSync == "" {
					lastSync = "never"
				}
				rows = append(rows, []string{
					strconv.FormatInt(c.ID, 10),
					c.Name,
					clip(c.OdooURL, 40),
					c.OdooDB,
					strconv.Itoa(c.PollIntervalSeconds),
					boolMark(c.Enabled),
					string(c.CircuitState),
					lastSync,
				})
			}
			printTable(cmd.OutOrStdout(),
				[]string{"ID", "Name", "Odoo URL", "DB", "Interval", "Enabled", "Circuit", "Last Sync"},
				rows)
			return nil
		}),
	}
}

func newEditCmd() *cobra.Command {
	var in usecase.ConnectionInput
	var enable, disable bool
	cmd := &cobra.Command{
		Use:   "edit <connection-id>",
		Short: "Edit a connection; omitted flags keep their stored values",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			switch {
			case enable && disable:
				return fmt.Errorf("--enable and --disable are mutually exclusive")
			case enable:
				on := true
				in.Enabled = &on
			case disable:
				off := false
				in.Enabled = &off
			}
			conn, err := a.admin.EditConnection(cmd.Context(), id, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated connection %d (%s)\n", conn.ID, conn.Name)
			return nil
		}),
	}
	connectionFlags(cmd, &in)
	cmd.Flags().BoolVar(&enable, "enable", false, "enable polling")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable polling")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <connection-id>",
		Short: "Delete a connection and all of its history",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("deleting removes the connection's logs, retries and ledger; re-run with --yes to confirm")
			}
			if err := a.admin.DeleteConnection(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted connection %d\n", id)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <connection-id>",
		Short: "Send a test payload to the connection's webhook",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.admin.TestWebhook(cmd.Context(), id); err != nil {
				return fmt.Errorf("webhook test failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Webhook test succeeded")
			return nil
		}),
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q: expected a positive integer", raw)
	}
	return id, nil
}
