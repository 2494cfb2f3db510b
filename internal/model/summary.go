package model

// Summary aggregates a collection of entries the way the summary cards show it.
type Summary struct {
	Days           int     `json:"days"`
	Hours          float64 `json:"hours"`
	TotalEarnings  float64 `json:"totalEarnings"`
	TotalWithdrawn float64 `json:"totalWithdrawn"`
	TotalRemaining float64 `json:"totalRemaining"`
}

// Summarize computes totals over entries. Days counts unique dates.
func Summarize(entries []WorkEntry) Summary {
	var s Summary
	days := map[string]struct{}{}
	for _, e := range entries {
		days[e.Date] = struct{}{}
		s.Hours += e.Hours
		s.TotalEarnings += e.TotalEarnings
		s.TotalWithdrawn += e.WithdrawnAmount
	}
	s.Days = len(days)
	s.TotalRemaining = s.TotalEarnings - s.TotalWithdrawn
	return s
}
