// Package watch keeps the in-memory projections synchronised with the
// document store. Each watcher loads a full snapshot of its collection,
// marks itself ready, then applies change-feed events idempotently. On any
// feed failure it backs off and restarts with a fresh snapshot.
package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/metrics"
)

// Applier projects snapshot documents and change events into an in-memory
// structure. Reset is called before every snapshot so restarts do not leave
// deleted documents behind.
type Applier interface {
	Reset()
	Apply(event docstore.Event)
}

// Watcher runs the snapshot-then-stream loop for one collection.
type Watcher struct {
	coll    docstore.Collection
	applier Applier
	logger  *slog.Logger
	metrics *metrics.Metrics
	backoff time.Duration
	ready   atomic.Bool
}

// New creates a watcher for a collection.
func New(coll docstore.Collection, applier Applier, logger *slog.Logger, m *metrics.Metrics) *Watcher {
	return &Watcher{
		coll:    coll,
		applier: applier,
		logger:  logger.With("component", "watcher", "collection", coll.Name()),
		metrics: m,
		backoff: time.Second,
	}
}

// Ready reports whether the initial snapshot has been applied.
func (w *Watcher) Ready() bool { return w.ready.Load() }

// Run blocks until ctx is cancelled, restarting the snapshot-stream cycle
// on failure.
func (w *Watcher) Run(ctx context.Context) {
	for {
		err := w.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("watch cycle failed, restarting", "error", err, "backoff", w.backoff)
		w.metrics.WatcherRestarts.WithLabelValues(w.coll.Name()).Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.backoff):
		}
	}
}

// cycle opens the feed before snapshotting so no event between the two is
// lost; events racing the snapshot re-apply what the snapshot already
// holds, which the appliers absorb.
func (w *Watcher) cycle(ctx context.Context) error {
	// The feed lives on a per-cycle context: when the cycle fails after
	// Watch succeeded (e.g. the snapshot query errors), the backend's feed
	// goroutine must be released rather than left behind the dead channel.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := w.coll.Watch(cctx)
	if err != nil {
		return err
	}

	if err := w.snapshot(cctx); err != nil {
		return err
	}
	w.ready.Store(true)
	w.logger.Info("snapshot applied, streaming changes")

	for {
		select {
		case <-cctx.Done():
			return cctx.Err()
		case event, ok := <-events:
			if !ok {
				return docstore.ErrClosed
			}
			w.applier.Apply(event)
			w.metrics.WatcherEvents.WithLabelValues(w.coll.Name(), string(event.Op)).Inc()
		}
	}
}

func (w *Watcher) snapshot(ctx context.Context) error {
	docs, err := w.coll.Find(ctx, docstore.Filter{}, docstore.FindOptions{})
	if err != nil {
		return err
	}
	w.applier.Reset()
	for _, doc := range docs {
		key, _ := doc[docstore.KeyField].(string)
		w.applier.Apply(docstore.Event{
			Op:           docstore.OpInsert,
			DocumentKey:  key,
			FullDocument: doc,
		})
	}
	w.logger.Debug("snapshot loaded", "documents", len(docs))
	return nil
}
