// Package memory keeps notifications in memory for tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-job-postings/internal/notify"
)

// Notifier records events for inspection.
type Notifier struct {
	mu     sync.RWMutex
	events []notify.Event
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// Notify records ev.
func (n *Notifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (n *Notifier) Events() []notify.Event {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]notify.Event, len(n.events))
	copy(out, n.events)
	return out
}
