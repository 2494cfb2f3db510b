package cmd

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/report"
)

var (
	exportFormat string
	exportOutput string
	exportWeek   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export work sessions as csv, json, md or pdf",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "Output format: "+strings.Join(report.Formats, ", "))
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().BoolVar(&exportWeek, "week", false, "Export this week's entries")
}

func runExport(cmd *cobra.Command, args []string) error {
	if !slices.Contains(report.Formats, exportFormat) {
		return fmt.Errorf("%w: %q", report.ErrUnknownFormat, exportFormat)
	}
	if exportOutput == "" && exportFormat == "pdf" {
		return fmt.Errorf("pdf export needs --output")
	}

	a := openApp()
	defer a.close()

	now := time.Now()
	entries := filterEntries(a.engine.Entries(), "", exportWeek, a.cfg.Defaults.Currency, now)
	opts := report.Options{Currency: a.cfg.Defaults.Currency, Generated: now}

	if exportOutput == "" {
		return report.Write(cmd.OutOrStdout(), exportFormat, entries, opts)
	}
	if err := exportFile(exportOutput, exportFormat, entries, opts); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", len(entries), exportOutput)
	return nil
}

// exportFile writes a report to path. A failed write or close removes the
// partial file.
func exportFile(path, format string, entries []model.WorkEntry, opts report.Options) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return report.Write(f, format, entries, opts)
}
