package watch

import (
	"context"
	"log/slog"

	"github.com/opsforge/hiera-registry/internal/catalog"
	"github.com/opsforge/hiera-registry/internal/metrics"
	"github.com/opsforge/hiera-registry/internal/store"
)

// Set bundles the four projection watchers of a registry process.
type Set struct {
	watchers []*Watcher
}

// NewSet wires a watcher per projected collection.
func NewSet(stores *store.Stores, models *catalog.Models, keys *catalog.Keys, levels *catalog.Levels, groups *catalog.Groups, logger *slog.Logger, m *metrics.Metrics) *Set {
	return &Set{watchers: []*Watcher{
		New(stores.KeyModels.Collection(), NewModelApplier(models, logger), logger, m),
		New(stores.Keys.Collection(), NewKeyApplier(keys), logger, m),
		New(stores.Levels.Collection(), NewLevelApplier(levels), logger, m),
		New(stores.Groups.Collection(), NewGroupApplier(groups), logger, m),
	}}
}

// Start launches every watcher. They stop when ctx is cancelled.
func (s *Set) Start(ctx context.Context) {
	for _, w := range s.watchers {
		go w.Run(ctx)
	}
}

// Ready reports whether every watcher has applied its initial snapshot.
func (s *Set) Ready() bool {
	for _, w := range s.watchers {
		if !w.Ready() {
			return false
		}
	}
	return true
}
