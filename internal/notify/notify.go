// Package notify announces the outcome of store invocations to downstream
// consumers. Delivery is best effort: a failed notification is logged and
// never fails the invocation that produced it.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event kinds.
const (
	IngestCompleted  = "ingest.completed"
	IngestFailed     = "ingest.failed"
	RebuildCompleted = "rebuild.completed"
	AppliedCleared   = "applied.cleared"
	MonthCleared     = "clear_month.completed"
)

// Event is one published outcome.
type Event struct {
	Kind       string         `json:"kind"`
	RunID      string         `json:"runId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Counts     map[string]int `json:"counts,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }

// Send delivers ev through n and logs any failure.
func Send(ctx context.Context, n Notifier, logger *zap.Logger, ev Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, ev); err != nil && logger != nil {
		logger.Warn("notification failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}
