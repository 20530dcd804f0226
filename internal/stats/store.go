package stats

import (
	"context"
	"fmt"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
)

// Load reads month's statistics document, returning nil when absent.
func Load(ctx context.Context, store *objectstore.Adapter, month string) (*MonthlyStatistics, error) {
	s, err := objectstore.GetJSON[MonthlyStatistics](ctx, store, Key(month))
	if err != nil {
		return nil, fmt.Errorf("load stats %s: %w", month, err)
	}
	if s != nil {
		s.Month = month
		s.Finalize()
	}
	return s, nil
}

// Save finalizes s and overwrites its month's document.
func Save(ctx context.Context, store *objectstore.Adapter, s *MonthlyStatistics, cacheControl string) error {
	s.Finalize()
	if cacheControl == "" {
		cacheControl = objectstore.StatsCacheControl
	}
	if err := store.PutJSON(ctx, Key(s.Month), s, cacheControl); err != nil {
		return fmt.Errorf("save stats %s: %w", s.Month, err)
	}
	return nil
}
