package manifest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
)

// Loaded pairs a manifest with the store version it was read at.
// Version 0 means the manifest did not exist.
type Loaded struct {
	Manifest *Manifest
	Version  int64
}

// Manager reads and writes the manifest document.
type Manager struct {
	store  *objectstore.Adapter
	key    string
	clock  posting.Clock
	logger *zap.Logger
}

// NewManager creates a manager for the manifest stored at Key.
func NewManager(store *objectstore.Adapter, clock posting.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, key: Key, clock: clock, logger: logger.Named("manifest")}
}

// Load fetches the manifest, creating a default one (not yet saved) when the
// store has none.
func (m *Manager) Load(ctx context.Context) (*Loaded, error) {
	doc, version, err := objectstore.GetJSONVersioned[Manifest](ctx, m.store, m.key)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if doc == nil {
		m.logger.Info("manifest not found, starting empty")
		return &Loaded{Manifest: New(m.clock.Now())}, nil
	}
	if doc.Months == nil {
		doc.Months = make(map[string]MonthEntry)
	}
	if err := doc.Validate(); err != nil {
		m.logger.Warn("manifest fails validation, recomputing totals", zap.Error(err))
		doc.RecomputeTotals()
	}
	return &Loaded{Manifest: doc, Version: version}, nil
}

// Save writes l.Manifest, conditional on the version it was loaded at when
// the backend supports it. On success l.Version is advanced.
func (m *Manager) Save(ctx context.Context, l *Loaded) error {
	l.Manifest.Version = CurrentVersion
	l.Manifest.UpdatedAt = m.clock.Now().UTC()
	version, err := m.store.PutJSONIfVersion(ctx, m.key, l.Manifest, l.Version)
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	l.Version = version
	m.logger.Debug("manifest saved",
		zap.String("current_month", l.Manifest.CurrentMonth),
		zap.Int("total_records", l.Manifest.TotalRecordsAllTime))
	return nil
}
