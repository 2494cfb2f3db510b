package report_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
	"github.com/Tiliavir/work-hours-tracker/internal/report"
)

var generated = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func sample() []model.WorkEntry {
	return []model.WorkEntry{
		{
			ID: "cloud_a1", Date: "2026-03-02", StartTime: "09:00", EndTime: "17:00",
			Hours: 8, HourlyRate: 20, TotalEarnings: 160, WithdrawnAmount: 60, RemainingAmount: 100,
			Notes: "client, onsite",
		},
		{
			ID: "1740000000000", Date: "2026-03-01", StartTime: "09:00", EndTime: "13:30",
			Hours: 4.5, HourlyRate: 20, TotalEarnings: 90, RemainingAmount: 90,
			Notes: "pipe | note",
		},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, sample()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "id,date,start,end,hours") {
		t.Errorf("header = %q", lines[0])
	}
	want := `cloud_a1,2026-03-02,09:00,17:00,8.00,20.00,160.00,60.00,100.00,"client, onsite"`
	if lines[1] != want {
		t.Errorf("row = %q\nwant  %q", lines[1], want)
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf, sample(), report.Options{Generated: generated}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got struct {
		Title     string            `json:"title"`
		Generated string            `json:"generated"`
		Summary   model.Summary     `json:"summary"`
		Entries   []model.WorkEntry `json:"entries"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if got.Title != "Work Report" || got.Generated != "2026-03-02" {
		t.Errorf("title/generated = %q/%q", got.Title, got.Generated)
	}
	if got.Summary.Days != 2 || got.Summary.Hours != 12.5 || got.Summary.TotalRemaining != 190 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if len(got.Entries) != 2 || got.Entries[0].ID != "cloud_a1" {
		t.Errorf("entries = %+v", got.Entries)
	}
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteJSON(&buf, nil, report.Options{Generated: generated}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"entries": []`) {
		t.Errorf("empty report should carry an empty list:\n%s", buf.String())
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteMarkdown(&buf, sample(), report.Options{Generated: generated, Currency: "$"}); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"# Work Report",
		"- Hours: 12.50",
		"- Earnings: $250.00",
		"| 2026-03-02 | 09:00 | 17:00 | 8.00 | $20.00 | $160.00 | $60.00 | $100.00 | client, onsite |",
		`pipe \| note`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WritePDF(&buf, sample(), report.Options{Generated: generated}); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Errorf("output is not a PDF: %q", buf.Bytes()[:min(16, buf.Len())])
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	err := report.Write(&bytes.Buffer{}, "xlsx", sample(), report.Options{})
	if !errors.Is(err, report.ErrUnknownFormat) {
		t.Fatalf("err = %v, want ErrUnknownFormat", err)
	}
}

func TestWriteDispatch(t *testing.T) {
	for _, format := range report.Formats {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := report.Write(&buf, format, sample(), report.Options{Generated: generated}); err != nil {
				t.Fatalf("Write(%s): %v", format, err)
			}
			if buf.Len() == 0 {
				t.Errorf("Write(%s) produced no output", format)
			}
		})
	}
}
