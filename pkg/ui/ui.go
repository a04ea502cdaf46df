// Package ui renders the one-line status messages every reconciler stage
// prints, and the trust report table.
package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	AccentStyle  = lipgloss.NewStyle().Foreground(purple)
	SuccessStyle = lipgloss.NewStyle().Foreground(green)
	ErrorStyle   = lipgloss.NewStyle().Foreground(red)
	WarnStyle    = lipgloss.NewStyle().Foreground(yellow)
	MutedStyle   = lipgloss.NewStyle().Foreground(dim)
)

func Accent(s string) string { return AccentStyle.Render(s) }
func Muted(s string) string  { return MutedStyle.Render(s) }

// Printer writes status lines. A nil *Printer discards everything.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Skip reports a stage that found nothing to do.
func (p *Printer) Skip(format string, a ...any) {
	p.line(MutedStyle.Render("●")+" "+Muted("skip"), format, a...)
}

// Change reports a stage that modified the system.
func (p *Printer) Change(format string, a ...any) {
	p.line(SuccessStyle.Render("✓")+" "+SuccessStyle.Render("change"), format, a...)
}

// Info reports progress that is neither a skip nor a change.
func (p *Printer) Info(format string, a ...any) {
	p.line(AccentStyle.Render("●"), format, a...)
}

// Warn reports a non-fatal problem.
func (p *Printer) Warn(format string, a ...any) {
	p.line(WarnStyle.Render("!")+" "+WarnStyle.Render("warn"), format, a...)
}

// Rollback announces that a change is being reverted.
func (p *Printer) Rollback(format string, a ...any) {
	p.line(WarnStyle.Render("↺")+" "+WarnStyle.Render("rollback"), format, a...)
}

// Fail reports a stage error.
func (p *Printer) Fail(format string, a ...any) {
	p.line(ErrorStyle.Render("✗")+" "+ErrorStyle.Render("error"), format, a...)
}

// Print writes preformatted text.
func (p *Printer) Print(s string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.WriteString(p.w, s)
}

func (p *Printer) line(prefix, format string, a ...any) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

// Table renders a styled table with rounded borders.
func Table(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}
