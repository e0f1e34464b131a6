// Package notify reports freshly emitted routes to an operator console.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/kalebmora/ringrouter/internal/domain"
)

// Console renders emitted routes either as a compact one-line summary or
// a full tablewriter table, depending on how it was constructed.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole builds a Console writing to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter builds a Console writing to an arbitrary writer, for
// tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Report prints route in the configured mode.
func (c *Console) Report(_ context.Context, route *domain.Route) error {
	if c.table {
		return c.printTable(route)
	}
	c.printCompact(route)
	return nil
}

func (c *Console) printCompact(route *domain.Route) {
	now := time.Now().Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] ring=%s hops=%d in=%d out=%d gain=%d slot=%d\n",
		now, route.RingID[:min(8, len(route.RingID))], len(route.Steps),
		route.InAmount, route.OutAmount, route.Gain(), route.Slot)
}

func (c *Console) printTable(route *domain.Route) error {
	table := tablewriter.NewWriter(c.out)
	table.Header("Hop", "Pool", "Input Mint", "Output Mint", "In", "Out")
	for i, step := range route.Steps {
		pool, input := step.Edge.UniqueID()
		if err := table.Append(
			fmt.Sprintf("%d", i+1),
			pool.String()[:12],
			input.String()[:12],
			step.Edge.OutputMint.String()[:12],
			fmt.Sprintf("%d", step.InAmount),
			fmt.Sprintf("%d", step.OutAmount),
		); err != nil {
			return fmt.Errorf("notify.printTable: append row: %w", err)
		}
	}
	fmt.Fprintf(c.out, "ring=%s gain=%d slot=%d\n", route.RingID, route.Gain(), route.Slot)
	return table.Render()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
