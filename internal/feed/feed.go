// Package feed defines the source of raw postings pulled each invocation.
package feed

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// Source yields the postings currently listed by one feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]posting.RawPosting, error)
}

// Static is a Source over a fixed list, used for pushed batches and tests.
type Static struct {
	Label    string
	Postings []posting.RawPosting
}

// Name returns the label.
func (s Static) Name() string { return s.Label }

// Fetch returns a copy of the postings.
func (s Static) Fetch(context.Context) ([]posting.RawPosting, error) {
	return append([]posting.RawPosting(nil), s.Postings...), nil
}

// PullAll fetches every source in order. A failing source is logged and
// skipped; an error is returned only when every source failed.
func PullAll(ctx context.Context, sources []Source, logger *zap.Logger) ([]posting.RawPosting, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		out  []posting.RawPosting
		errs []error
	)
	for _, src := range sources {
		items, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("feed pull failed", zap.String("feed", src.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("feed %s: %w", src.Name(), err))
			continue
		}
		logger.Debug("feed pulled", zap.String("feed", src.Name()), zap.Int("items", len(items)))
		out = append(out, items...)
	}
	if len(sources) > 0 && len(errs) == len(sources) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
