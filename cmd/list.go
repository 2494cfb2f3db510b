package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/timecalc"
)

var (
	listSearch string
	listWeek   bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List work sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show total days, hours, earnings, withdrawals and remaining balance",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

func init() {
	listCmd.Flags().StringVar(&listSearch, "search", "", "Only show rows containing this text")
	listCmd.Flags().BoolVar(&listWeek, "week", false, "Show this week's entries")
	summaryCmd.Flags().BoolVar(&listWeek, "week", false, "Summarize this week's entries")
}

func runList(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()

	entries := filterEntries(a.engine.Entries(), listSearch, listWeek, a.cfg.Defaults.Currency, time.Now())
	printList(cmd.OutOrStdout(), entries, a.cfg.Defaults.Currency)
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	a := openApp()
	defer a.close()

	entries := filterEntries(a.engine.Entries(), "", listWeek, a.cfg.Defaults.Currency, time.Now())
	printSummary(cmd.OutOrStdout(), model.Summarize(entries), a.cfg.Defaults.Currency)
	return nil
}

var listHeaders = []string{"ID", "Date", "Start", "End", "Hours", "Rate", "Earnings", "Withdrawn", "Remaining", "Notes"}

// rowCells renders an entry the way the table shows it.
func rowCells(e model.WorkEntry, currency string) []string {
	return []string{
		e.ID,
		e.Date,
		e.StartTime,
		e.EndTime,
		timecalc.FormatHours(e.Hours),
		timecalc.FormatMoney(currency, e.HourlyRate),
		timecalc.FormatMoney(currency, e.TotalEarnings),
		timecalc.FormatMoney(currency, e.WithdrawnAmount),
		timecalc.FormatMoney(currency, e.RemainingAmount),
		e.Notes,
	}
}

// filterEntries keeps entries in the current week (when week is set) whose
// rendered row contains search, case-insensitively.
func filterEntries(entries []model.WorkEntry, search string, week bool, currency string, now time.Time) []model.WorkEntry {
	needle := strings.ToLower(strings.TrimSpace(search))
	var out []model.WorkEntry
	for _, e := range entries {
		if week && !timecalc.InWeek(e.Date, now) {
			continue
		}
		if needle != "" {
			row := strings.ToLower(strings.Join(rowCells(e, currency), " "))
			if !strings.Contains(row, needle) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func printList(w io.Writer, entries []model.WorkEntry, currency string) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No entries found.")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, rowCells(e, currency))
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(listHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col >= 4 && col <= 8 {
				return cellStyle.Align(lipgloss.Right)
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}

func printSummary(w io.Writer, s model.Summary, currency string) {
	fmt.Fprintf(w, "Days:       %d\n", s.Days)
	fmt.Fprintf(w, "Hours:      %s\n", timecalc.FormatHours(s.Hours))
	fmt.Fprintf(w, "Earnings:   %s\n", timecalc.FormatMoney(currency, s.TotalEarnings))
	fmt.Fprintf(w, "Withdrawn:  %s\n", timecalc.FormatMoney(currency, s.TotalWithdrawn))
	fmt.Fprintf(w, "Remaining:  %s\n", timecalc.FormatMoney(currency, s.TotalRemaining))
}
