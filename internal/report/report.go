// Package report renders entry collections for export.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/timecalc"
)

var ErrUnknownFormat = errors.New("unknown export format")

// Formats lists the supported export formats.
var Formats = []string{"csv", "json", "md", "pdf"}

// Options controls report rendering.
type Options struct {
	Title     string
	Currency  string
	Generated time.Time
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "Work Report"
	}
	if o.Currency == "" {
		o.Currency = "€"
	}
	if o.Generated.IsZero() {
		o.Generated = time.Now()
	}
	return o
}

// Write renders entries to w in format.
func Write(w io.Writer, format string, entries []model.WorkEntry, opts Options) error {
	opts = opts.withDefaults()
	switch format {
	case "csv":
		return WriteCSV(w, entries)
	case "json":
		return WriteJSON(w, entries, opts)
	case "md":
		return WriteMarkdown(w, entries, opts)
	case "pdf":
		return WritePDF(w, entries, opts)
	default:
		return fmt.Errorf("%w %q (want one of %s)", ErrUnknownFormat, format, strings.Join(Formats, ", "))
	}
}

// WriteCSV writes one row per entry after a header row.
func WriteCSV(w io.Writer, entries []model.WorkEntry) error {
	var b strings.Builder
	b.WriteString("id,date,start,end,hours,hourly_rate,total_earnings,withdrawn,remaining,notes\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s,%s,%s,%s,%.2f,%.2f,%.2f,%.2f,%.2f,%s\n",
			csvEscape(e.ID),
			csvEscape(e.Date),
			csvEscape(e.StartTime),
			csvEscape(e.EndTime),
			e.Hours,
			e.HourlyRate,
			e.TotalEarnings,
			e.WithdrawnAmount,
			e.RemainingAmount,
			csvEscape(e.Notes),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// csvEscape wraps a field in quotes if it contains a comma, quote, or newline.
func csvEscape(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

type jsonReport struct {
	Title     string            `json:"title"`
	Generated string            `json:"generated"`
	Summary   model.Summary     `json:"summary"`
	Entries   []model.WorkEntry `json:"entries"`
}

// WriteJSON writes the entries with their summary as an indented JSON document.
func WriteJSON(w io.Writer, entries []model.WorkEntry, opts Options) error {
	opts = opts.withDefaults()
	if entries == nil {
		entries = []model.WorkEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{
		Title:     opts.Title,
		Generated: opts.Generated.Format(timecalc.DateLayout),
		Summary:   model.Summarize(entries),
		Entries:   entries,
	})
}

// WriteMarkdown writes a summary list followed by a pipe table.
func WriteMarkdown(w io.Writer, entries []model.WorkEntry, opts Options) error {
	opts = opts.withDefaults()
	sum := model.Summarize(entries)
	money := func(v float64) string { return timecalc.FormatMoney(opts.Currency, v) }

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", opts.Title)
	fmt.Fprintf(&b, "Generated on %s\n\n", opts.Generated.Format(timecalc.DateLayout))
	fmt.Fprintf(&b, "- Days: %d\n", sum.Days)
	fmt.Fprintf(&b, "- Hours: %s\n", timecalc.FormatHours(sum.Hours))
	fmt.Fprintf(&b, "- Earnings: %s\n", money(sum.TotalEarnings))
	fmt.Fprintf(&b, "- Withdrawn: %s\n", money(sum.TotalWithdrawn))
	fmt.Fprintf(&b, "- Remaining: %s\n\n", money(sum.TotalRemaining))

	if len(entries) == 0 {
		b.WriteString("No entries found.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("| Date | Start | End | Hours | Rate | Earnings | Withdrawn | Remaining | Notes |\n")
	b.WriteString("|------|-------|-----|------:|-----:|---------:|----------:|----------:|-------|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			e.Date, e.StartTime, e.EndTime,
			timecalc.FormatHours(e.Hours),
			money(e.HourlyRate),
			money(e.TotalEarnings),
			money(e.WithdrawnAmount),
			money(e.RemainingAmount),
			mdEscape(e.Notes),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
