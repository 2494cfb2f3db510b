// Package status holds the single transient notification shown to the user
// while entries are saved and synced.
package status

import (
	"sync"
	"time"
)

// Severity classifies a notification.
type Severity string

const (
	Info    Severity = "info"
	Syncing Severity = "syncing"
	Success Severity = "success"
	Warning Severity = "warning"
	Error   Severity = "error"
)

// DefaultClearAfter is how long a notification stays visible.
const DefaultClearAfter = 3 * time.Second

// Status is one notification.
type Status struct {
	Message  string
	Severity Severity
	ShownAt  time.Time
}

// Notifier keeps at most one visible Status. A new Show replaces the current
// one and restarts the auto-clear timer.
type Notifier struct {
	mu      sync.Mutex
	current *Status
	seq     uint64
	timer   *time.Timer
	delay   time.Duration
	sink    func(Status)
}

// NewNotifier returns a Notifier clearing each status after delay. sink, if
// non-nil, is called with every status as it is shown.
func NewNotifier(delay time.Duration, sink func(Status)) *Notifier {
	if delay <= 0 {
		delay = DefaultClearAfter
	}
	return &Notifier{delay: delay, sink: sink}
}

// Show makes message the visible status.
func (n *Notifier) Show(message string, severity Severity) {
	st := Status{Message: message, Severity: severity, ShownAt: time.Now()}

	n.mu.Lock()
	n.seq++
	seq := n.seq
	n.current = &st
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.delay, func() { n.clear(seq) })
	sink := n.sink
	n.mu.Unlock()

	if sink != nil {
		sink(st)
	}
}

func (n *Notifier) clear(seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seq == seq {
		n.current = nil
	}
}

// Current returns the visible status, if any.
func (n *Notifier) Current() (Status, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Status{}, false
	}
	return *n.current, true
}

// Stop clears the status and cancels the pending timer.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.seq++
	n.current = nil
}
