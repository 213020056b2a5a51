package cmd

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/fairyhunter13/odoo-poller/pkg/textx"
)

// printTable renders a terminal table of the rows to the target.
func printTable(target io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(target)
	table.Header(headers)
	for _, row := range rows {
		_ = table.Append(row)
	}
	_ = table.Render()
}

// boolMark renders an enabled flag the way operators read it fastest.
func boolMark(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// clip shortens long cell values so tables stay readable.
func clip(s string, max int) string {
	return textx.Clip(s, max)
}
