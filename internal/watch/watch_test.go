package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsforge/hiera-registry/internal/catalog"
	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/docstore/memory"
	"github.com/opsforge/hiera-registry/internal/metrics"
	"github.com/opsforge/hiera-registry/internal/store"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestWatcher_SnapshotThenStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds := memory.NewStore()
	stores := store.New(ds)
	if err := stores.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	// Data present before the watcher starts arrives via the snapshot
	if err := stores.Levels.Create(ctx, store.LevelRecord{ID: "common.yaml", Priority: 100}); err != nil {
		t.Fatal(err)
	}

	levels := catalog.NewLevels()
	w := New(stores.Levels.Collection(), NewLevelApplier(levels), discard(), metrics.New())
	go w.Run(ctx)

	waitFor(t, "watcher ready", w.Ready)
	if _, ok := levels.Get("common.yaml"); !ok {
		t.Error("Expected snapshot to project existing level")
	}

	// Subsequent writes arrive via the change feed
	if err := stores.Levels.Create(ctx, store.LevelRecord{ID: "nodes/{fqdn}.yaml", Priority: 10}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "insert projected", func() bool {
		_, ok := levels.Get("nodes/{fqdn}.yaml")
		return ok
	})

	p := 5
	if _, err := stores.Levels.Update(ctx, "common.yaml", store.LevelPatch{Priority: &p}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "update projected", func() bool {
		level, ok := levels.Get("common.yaml")
		return ok && level.Priority == 5
	})

	// Deletes carry only the document key; the applier maps it back
	if err := stores.Levels.Delete(ctx, "nodes/{fqdn}.yaml"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "delete projected", func() bool {
		_, ok := levels.Get("nodes/{fqdn}.yaml")
		return !ok
	})
}

// flakyColl closes its first feed immediately, forcing a restart cycle.
type flakyColl struct {
	docstore.Collection
	feeds atomic.Int32
}

func (c *flakyColl) Watch(ctx context.Context) (<-chan docstore.Event, error) {
	if c.feeds.Add(1) == 1 {
		ch := make(chan docstore.Event)
		close(ch)
		return ch, nil
	}
	return c.Collection.Watch(ctx)
}

func TestWatcher_RestartsAfterFeedClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds := memory.NewStore()
	stores := store.New(ds)
	levels := catalog.NewLevels()

	coll := &flakyColl{Collection: stores.Levels.Collection()}
	w := New(coll, NewLevelApplier(levels), discard(), metrics.New())
	w.backoff = 10 * time.Millisecond
	go w.Run(ctx)

	waitFor(t, "restarted feed", func() bool { return coll.feeds.Load() >= 2 })
	waitFor(t, "watcher ready", w.Ready)

	// The second cycle's feed is live: writes keep flowing
	if err := stores.Levels.Create(ctx, store.LevelRecord{ID: "a", Priority: 1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "projection catch-up", func() bool {
		_, ok := levels.Get("a")
		return ok
	})
}

// snapshotFailColl fails its first snapshot query and records the context
// each feed was opened with.
type snapshotFailColl struct {
	docstore.Collection
	mu       sync.Mutex
	feedCtxs []context.Context
	failed   atomic.Bool
}

func (c *snapshotFailColl) Watch(ctx context.Context) (<-chan docstore.Event, error) {
	c.mu.Lock()
	c.feedCtxs = append(c.feedCtxs, ctx)
	c.mu.Unlock()
	return c.Collection.Watch(ctx)
}

func (c *snapshotFailColl) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	if !c.failed.Swap(true) {
		return nil, errors.New("backend unavailable")
	}
	return c.Collection.Find(ctx, filter, opts)
}

func TestWatcher_FailedCycleTearsDownFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds := memory.NewStore()
	stores := store.New(ds)
	levels := catalog.NewLevels()

	coll := &snapshotFailColl{Collection: stores.Levels.Collection()}
	w := New(coll, NewLevelApplier(levels), discard(), metrics.New())
	w.backoff = 10 * time.Millisecond
	go w.Run(ctx)

	// The first cycle opened a feed, then its snapshot failed; the second
	// cycle succeeds.
	waitFor(t, "watcher ready", w.Ready)

	coll.mu.Lock()
	if len(coll.feedCtxs) < 2 {
		coll.mu.Unlock()
		t.Fatalf("Expected at least 2 feeds, got %d", len(coll.feedCtxs))
	}
	first := coll.feedCtxs[0]
	coll.mu.Unlock()

	// The failed cycle's feed context must be cancelled, or the backend
	// keeps a feed goroutine parked behind a channel nobody reads
	waitFor(t, "first feed torn down", func() bool { return first.Err() != nil })

	// The live cycle's feed still streams
	if err := stores.Levels.Create(ctx, store.LevelRecord{ID: "a", Priority: 1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "projection catch-up", func() bool {
		_, ok := levels.Get("a")
		return ok
	})
}

func TestModelApplier(t *testing.T) {
	models := catalog.NewModels()
	a := NewModelApplier(models, discard())

	a.Apply(docstore.Event{
		Op:          docstore.OpInsert,
		DocumentKey: "doc1",
		FullDocument: docstore.Document{
			"id":    "dynamic:Port",
			"model": map[string]any{"type": "integer"},
		},
	})
	if !models.Has("dynamic:Port") {
		t.Error("Expected model registered")
	}

	// A schema that does not compile stays unregistered
	a.Apply(docstore.Event{
		Op:          docstore.OpInsert,
		DocumentKey: "doc2",
		FullDocument: docstore.Document{
			"id":    "dynamic:Broken",
			"model": map[string]any{"type": 42},
		},
	})
	if models.Has("dynamic:Broken") {
		t.Error("Expected broken model to stay unregistered")
	}

	// Delete by document key
	a.Apply(docstore.Event{Op: docstore.OpDelete, DocumentKey: "doc1"})
	if models.Has("dynamic:Port") {
		t.Error("Expected model dropped on delete")
	}

	// Unknown document keys are ignored
	a.Apply(docstore.Event{Op: docstore.OpDelete, DocumentKey: "unknown"})
}

func TestModelApplier_ResetKeepsBuiltins(t *testing.T) {
	models := catalog.NewModels()
	a := NewModelApplier(models, discard())

	a.Apply(docstore.Event{
		Op:          docstore.OpInsert,
		DocumentKey: "doc1",
		FullDocument: docstore.Document{
			"id":    "dynamic:Port",
			"model": map[string]any{"type": "integer"},
		},
	})

	a.Reset()

	if models.Has("dynamic:Port") {
		t.Error("Expected dynamic model dropped on reset")
	}
	if !models.Has(catalog.ModelSimpleString) {
		t.Error("Expected built-in models to survive reset")
	}
}

func TestKeyApplier_Idempotent(t *testing.T) {
	keys := catalog.NewKeys()
	a := NewKeyApplier(keys)

	ev := docstore.Event{
		Op:          docstore.OpInsert,
		DocumentKey: "doc1",
		FullDocument: docstore.Document{
			"id":           "ntp_servers",
			"key_model_id": "static:SimpleString",
		},
	}
	// Events racing the snapshot re-apply what the snapshot holds
	a.Apply(ev)
	a.Apply(ev)

	if keys.Len() != 1 {
		t.Errorf("Expected 1 key after duplicate apply, got %d", keys.Len())
	}
	key, _ := keys.Get("ntp_servers")
	if key.KeyModelID != "static:SimpleString" {
		t.Errorf("Unexpected projection %+v", key)
	}
}

func TestGroupApplier_ProjectsFiltersOnly(t *testing.T) {
	groups := catalog.NewGroups()
	a := NewGroupApplier(groups)

	a.Apply(docstore.Event{
		Op:          docstore.OpInsert,
		DocumentKey: "doc1",
		FullDocument: docstore.Document{
			"id": "webservers",
			"filters": []any{map[string]any{"part": []any{
				map[string]any{"fact": "role", "values": []any{"web"}},
			}}},
			"nodes": []any{"web01", "web02"},
		},
	})

	all := groups.All()
	if len(all) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(all))
	}
	if len(all[0].Filters) != 1 {
		t.Errorf("Expected filter rules projected, got %+v", all[0])
	}
}

func TestSet_Ready(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds := memory.NewStore()
	stores := store.New(ds)
	if err := stores.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	set := NewSet(stores, catalog.NewModels(), catalog.NewKeys(), catalog.NewLevels(), catalog.NewGroups(), discard(), metrics.New())
	if set.Ready() {
		t.Error("Expected not ready before Start")
	}
	set.Start(ctx)
	waitFor(t, "all watchers ready", set.Ready)
}
