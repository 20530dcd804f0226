package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failing struct{ calls int }

func (f *failing) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("broker down")
}

func TestSendLogsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	n := &failing{}
	Send(context.Background(), n, zap.New(core), Event{Kind: IngestCompleted})

	assert.Equal(t, 1, n.calls)
	entries := logs.FilterMessage("notification failed").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, IngestCompleted, entries[0].ContextMap()["kind"])
	}
}

func TestSendNilNotifier(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { Send(context.Background(), nil, nil, Event{}) })
	assert.NoError(t, Nop{}.Notify(context.Background(), Event{}))
}
