package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

type brokenSource struct{ name string }

func (b brokenSource) Name() string { return b.name }

func (b brokenSource) Fetch(context.Context) ([]posting.RawPosting, error) {
	return nil, errors.New("status 502")
}

func TestPullAllSkipsFailingSources(t *testing.T) {
	t.Parallel()

	sources := []Source{
		Static{Label: "a", Postings: []posting.RawPosting{{Link: "https://x/1"}}},
		brokenSource{name: "b"},
		Static{Label: "c", Postings: []posting.RawPosting{{Link: "https://x/2"}, {Link: "https://x/3"}}},
	}
	items, err := PullAll(context.Background(), sources, nil)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, "https://x/1", items[0].Link)
}

func TestPullAllFailsWhenEverySourceFails(t *testing.T) {
	t.Parallel()

	_, err := PullAll(context.Background(), []Source{brokenSource{name: "a"}, brokenSource{name: "b"}}, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "feed a")
	assert.ErrorContains(t, err, "feed b")
}

func TestPullAllNoSources(t *testing.T) {
	t.Parallel()

	items, err := PullAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}
