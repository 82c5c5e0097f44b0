// Package ui renders operator-facing terminal output.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/repricer/internal/persistence"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Console writes tables of journaled cycles.
type Console struct {
	out   io.Writer
	color bool
	width int
}

// NewConsole returns a console on f, with colors when f is a terminal.
func NewConsole(f *os.File) *Console {
	tty := term.IsTerminal(int(f.Fd()))
	width := 0
	if tty {
		width, _ = terminalSize(f)
	}
	return &Console{out: f, color: tty, width: width}
}

// NewPlainConsole returns a console without colors or truncation.
func NewPlainConsole(w io.Writer) *Console {
	return &Console{out: w}
}

// Cycles prints one line per cycle, newest first as given.
func (c *Console) Cycles(cycles []persistence.CycleRecord) {
	if len(cycles) == 0 {
		fmt.Fprintln(c.out, c.paint(ColorDim, "no cycles journaled"))
		return
	}

	header := fmt.Sprintf("%-19s  %-4s  %-17s  %8s  %8s  %8s  %3s  %s",
		"STARTED", "SIDE", "OUTCOME", "PRICE", "REQ", "FILLED", "RPX", "LAST ORDER")
	c.line(c.paint(ColorBold, header))

	for _, cy := range cycles {
		row := fmt.Sprintf("%-19s  %-4s  %s  %8s  %8d  %8d  %3d  %s",
			cy.StartedAt.Local().Format("2006-01-02 15:04:05"),
			cy.Side,
			c.paint(OutcomeColor(cy.Outcome), fmt.Sprintf("%-17s", cy.Outcome)),
			cy.Price.StringFixed(3),
			cy.Requested,
			cy.Filled,
			cy.Reprices,
			cy.LastOrderID,
		)
		if cy.Error != "" {
			row += c.paint(ColorDim, "  "+cy.Error)
		}
		c.line(row)
	}
}

// Stats prints outcome counts per side with a fill rate.
func (c *Console) Stats(stats []persistence.OutcomeCount) {
	if len(stats) == 0 {
		return
	}

	var total, filled int
	c.line(c.paint(ColorBold, fmt.Sprintf("%-4s  %-17s  %6s  %10s", "SIDE", "OUTCOME", "CYCLES", "VOLUME")))
	for _, s := range stats {
		c.line(fmt.Sprintf("%-4s  %s  %6d  %10d",
			s.Side,
			c.paint(OutcomeColor(s.Outcome), fmt.Sprintf("%-17s", s.Outcome)),
			s.Cycles,
			s.Filled,
		))
		total += s.Cycles
		if s.Outcome == "filled" {
			filled += s.Cycles
		}
	}

	rate := decimal.Zero
	if total > 0 {
		rate = decimal.NewFromInt(int64(filled)).Div(decimal.NewFromInt(int64(total))).Mul(decimal.NewFromInt(100))
	}
	c.line(fmt.Sprintf("%d cycles, fill rate %s%%", total, rate.StringFixed(1)))
}

// OutcomeColor returns the color used for a cycle outcome.
func OutcomeColor(outcome string) string {
	switch outcome {
	case "filled":
		return ColorGreen
	case "timed_out", "aborted":
		return ColorYellow
	case "terminated", "submission_failed":
		return ColorRed
	default:
		return ColorCyan
	}
}

func (c *Console) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + ColorReset
}

// line writes s, truncated to the terminal width when known. Colored lines
// are written whole.
func (c *Console) line(s string) {
	if c.width > 0 && len(s) > c.width && !strings.Contains(s, "\033") {
		s = s[:c.width]
	}
	fmt.Fprintln(c.out, s)
}

// terminalSize returns terminal dimensions
func terminalSize(f *os.File) (width, height int) {
	width, height, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80, 24 // Default
	}
	return width, height
}
