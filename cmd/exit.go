package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aelpxy/vaultkeep/pkg/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// signalContext is cancelled on SIGINT or SIGTERM so deferred cleanup runs
// before the process exits.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(msg string, err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("[error] %s: %v", msg, err)))
	os.Exit(models.ExitFailure)
}

// exitCode maps an error to 1 or 2: only interruptions degrade to a warning.
func exitCode(err error) int {
	switch {
	case err == nil:
		return models.ExitOK
	case errors.Is(err, context.Canceled):
		return models.ExitWarning
	default:
		return models.ExitFailure
	}
}

func step(msg string) {
	fmt.Println(progressStyle.Render("  --> " + msg))
}

func done(msg string) {
	fmt.Println(successStyle.Render("  [done] " + msg))
}

func warnLine(msg string) {
	fmt.Println(warnStyle.Render("  [warn] " + msg))
}

func errLine(msg string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("  [error] "+msg))
}

func detail(label, value string) {
	fmt.Printf("    %s %s\n", dimStyle.Render(label+":"), valueStyle.Render(value))
}

func newTable(rows [][]string, headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).Align(lipgloss.Center)
			}
			return lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		}).
		Headers(headers...).
		Rows(rows...)
}
