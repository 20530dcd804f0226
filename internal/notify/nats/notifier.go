// Package nats publishes notifications on a NATS subject.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/realtime-job-postings/internal/notify"
)

// Conn is the subset of *nats.Conn used here.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
}

// Notifier publishes events under subject, suffixed with the event kind.
type Notifier struct {
	conn    Conn
	subject string
}

// New creates a Notifier.
func New(conn Conn, subject string) *Notifier {
	if subject == "" {
		subject = "jobstore.events"
	}
	return &Notifier{conn: conn, subject: subject}
}

// Connect dials url with unlimited reconnects.
func Connect(url string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("realtime-job-postings"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// Notify publishes ev as JSON on <subject>.<kind>.
func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(n.subject + "." + ev.Kind)
	msg.Data = data
	msg.Header.Set("Kind", ev.Kind)
	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
