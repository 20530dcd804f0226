// Package pubsub publishes notifications to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/realtime-job-postings/internal/notify"
)

// Topic is the subset of *pubsub.Topic used here.
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Notifier wraps a Pub/Sub topic.
type Notifier struct {
	topic Topic
}

// New creates a Notifier for topic.
func New(topic Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify marshals ev to JSON and publishes it with the kind as an attribute.
func (n *Notifier) Notify(ctx context.Context, ev notify.Event) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": ev.Kind},
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
