package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/timecalc"
)

type pdfColumn struct {
	title string
	width float64
	align string
}

var pdfColumns = []pdfColumn{
	{"Date", 24, "L"},
	{"Start", 14, "C"},
	{"End", 14, "C"},
	{"Hours", 16, "R"},
	{"Rate", 20, "R"},
	{"Earnings", 24, "R"},
	{"Withdrawn", 24, "R"},
	{"Remaining", 24, "R"},
	{"Notes", 30, "L"},
}

// WritePDF renders an A4 report with a summary block and the entry table.
func WritePDF(w io.Writer, entries []model.WorkEntry, opts Options) error {
	opts = opts.withDefaults()
	sum := model.Summarize(entries)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(opts.Generated)
	pdf.SetTitle(opts.Title, true)
	pdf.AliasNbPages("")
	// Core fonts are cp1252; the translator maps the currency symbol.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	money := func(v float64) string { return tr(timecalc.FormatMoney(opts.Currency, v)) }

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(opts.Title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, "Generated on "+opts.Generated.Format(timecalc.DateLayout), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	for _, row := range [][2]string{
		{"Days", fmt.Sprint(sum.Days)},
		{"Hours", timecalc.FormatHours(sum.Hours)},
		{"Earnings", money(sum.TotalEarnings)},
		{"Withdrawn", money(sum.TotalWithdrawn)},
		{"Remaining", money(sum.TotalRemaining)},
	} {
		pdf.CellFormat(30, 6, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, row[1], "", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	if len(entries) == 0 {
		pdf.CellFormat(0, 8, "No entries found.", "", 1, "L", false, 0, "")
		return pdf.Output(w)
	}

	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, c := range pdfColumns {
			pdf.CellFormat(c.width, 7, c.title, "1", 0, c.align, true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
	}
	header()
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, e := range entries {
		if pdf.GetY()+6 > pageHeight-bottom-15 {
			pdf.AddPage()
			header()
		}
		cells := []string{
			e.Date,
			e.StartTime,
			e.EndTime,
			timecalc.FormatHours(e.Hours),
			money(e.HourlyRate),
			money(e.TotalEarnings),
			money(e.WithdrawnAmount),
			money(e.RemainingAmount),
			tr(truncate(e.Notes, 18)),
		}
		for i, c := range pdfColumns {
			pdf.CellFormat(c.width, 6, cells[i], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	return pdf.Output(w)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
