// Command poller polls Odoo tenants for confirmed sales orders and
// delivers them to per-tenant webhooks.
package main

import "github.com/fairyhunter13/odoo-poller/internal/cmd"

func main() {
	cmd.Execute()
}
