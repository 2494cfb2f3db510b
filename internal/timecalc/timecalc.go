package timecalc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
)

const (
	// DateLayout is the calendar date format stored on entries.
	DateLayout = "2006-01-02"
	// ClockLayout is the wall-clock format stored on entries.
	ClockLayout = "15:04"
)

var (
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidTime    = errors.New("invalid time")
	ErrNegativeAmount = errors.New("amount must not be negative")
)

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// GenerateID creates a unique entry ID based on timestamp and random suffix.
func GenerateID(t time.Time) string {
	const chars = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 5)
	for i := range suffix {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		suffix[i] = chars[n.Int64()]
	}
	return fmt.Sprintf("%s-%s", t.Format("20060102-150405"), string(suffix))
}

// parseClock returns the minutes since midnight for an "HH:MM" string.
func parseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w %q: expected HH:MM", ErrInvalidTime, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// CalculateHours returns the hours between start and end rounded to the nearest
// quarter hour. An end before start is treated as the next calendar day.
func CalculateHours(start, end string) (float64, error) {
	s, err := parseClock(start)
	if err != nil {
		return 0, err
	}
	e, err := parseClock(end)
	if err != nil {
		return 0, err
	}
	if e < s {
		e += 24 * 60
	}
	hours := float64(e-s) / 60
	return math.Round(hours*4) / 4, nil
}

// RoundCents rounds a monetary amount to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Build validates in and returns a fully derived entry with the given id and
// write timestamp.
func Build(in model.EntryInput, id string, ts time.Time) (model.WorkEntry, error) {
	if _, err := time.Parse(DateLayout, in.Date); err != nil {
		return model.WorkEntry{}, fmt.Errorf("%w %q: expected YYYY-MM-DD", ErrInvalidDate, in.Date)
	}
	if in.HourlyRate < 0 || in.WithdrawnAmount < 0 {
		return model.WorkEntry{}, ErrNegativeAmount
	}
	hours, err := CalculateHours(in.StartTime, in.EndTime)
	if err != nil {
		return model.WorkEntry{}, err
	}

	entry := model.WorkEntry{
		ID:              id,
		Date:            in.Date,
		StartTime:       strings.TrimSpace(in.StartTime),
		EndTime:         strings.TrimSpace(in.EndTime),
		Hours:           hours,
		HourlyRate:      in.HourlyRate,
		WithdrawnAmount: in.WithdrawnAmount,
		Notes:           in.Notes,
		Timestamp:       ts,
	}
	Derive(&entry)
	return entry, nil
}

// Derive recomputes the earnings fields of e from its hours, rate and withdrawn amount.
func Derive(e *model.WorkEntry) {
	e.TotalEarnings = RoundCents(e.Hours * e.HourlyRate)
	e.RemainingAmount = RoundCents(e.TotalEarnings - e.WithdrawnAmount)
}

// ParseDate accepts YYYY-MM-DD or a natural-language expression such as
// "today" or "last friday", resolved relative to now.
func ParseDate(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now.Format(DateLayout), nil
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t.Format(DateLayout), nil
	}
	if strings.EqualFold(s, "today") {
		return now.Format(DateLayout), nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil || r == nil {
		return "", fmt.Errorf("%w %q", ErrInvalidDate, s)
	}
	return r.Time.Format(DateLayout), nil
}

// FormatHours formats hours with two decimals, e.g. "7.75".
func FormatHours(h float64) string {
	return fmt.Sprintf("%.2f", h)
}

// FormatMoney formats an amount with two decimals and the currency symbol.
func FormatMoney(currency string, amount float64) string {
	if amount < 0 {
		return fmt.Sprintf("-%s%.2f", currency, -amount)
	}
	return fmt.Sprintf("%s%.2f", currency, amount)
}

// WeekRange returns the Monday and Sunday of the ISO week containing t.
func WeekRange(t time.Time) (time.Time, time.Time) {
	// Go's weekday: Sunday=0, Monday=1, …, Saturday=6
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7 // treat Sunday as 7 (ISO)
	}
	monday := t.AddDate(0, 0, -(wd - 1))
	monday = time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
	sunday := monday.AddDate(0, 0, 6)
	sunday = time.Date(sunday.Year(), sunday.Month(), sunday.Day(), 23, 59, 59, 0, t.Location())
	return monday, sunday
}

// InWeek reports whether the YYYY-MM-DD date falls in the ISO week containing now.
func InWeek(date string, now time.Time) bool {
	d, err := time.ParseInLocation(DateLayout, date, now.Location())
	if err != nil {
		return false
	}
	monday, sunday := WeekRange(now)
	return !d.Before(monday) && !d.After(sunday)
}

// ISOWeekLabel returns a label like "2026-W09".
func ISOWeekLabel(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}
