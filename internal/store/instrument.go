package store

import (
	"context"
	"errors"
	"time"

	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/metrics"
)

// Instrument wraps a document store so every collection call is counted and
// timed. The backend label matches the configured storage type.
func Instrument(ds docstore.Store, backend string, m *metrics.Metrics) docstore.Store {
	return &instrumentedStore{inner: ds, backend: backend, metrics: m}
}

type instrumentedStore struct {
	inner   docstore.Store
	backend string
	metrics *metrics.Metrics
}

func (s *instrumentedStore) Collection(name string) docstore.Collection {
	return &instrumentedCollection{
		inner:   s.inner.Collection(name),
		backend: s.backend,
		metrics: s.metrics,
	}
}

func (s *instrumentedStore) Close() error { return s.inner.Close() }

func (s *instrumentedStore) IsHealthy(ctx context.Context) bool { return s.inner.IsHealthy(ctx) }

type instrumentedCollection struct {
	inner   docstore.Collection
	backend string
	metrics *metrics.Metrics
}

func (c *instrumentedCollection) Name() string { return c.inner.Name() }

// record counts the operation. Misses and unique-key collisions are normal
// outcomes, not backend errors.
func (c *instrumentedCollection) record(operation string, start time.Time, err error) {
	if errors.Is(err, docstore.ErrNoDocument) || errors.Is(err, docstore.ErrDuplicateKey) {
		err = nil
	}
	c.metrics.RecordStorageOperation(c.backend, operation, time.Since(start), err)
}

func (c *instrumentedCollection) Insert(ctx context.Context, doc docstore.Document) (string, error) {
	start := time.Now()
	id, err := c.inner.Insert(ctx, doc)
	c.record("insert", start, err)
	return id, err
}

func (c *instrumentedCollection) FindOne(ctx context.Context, filter docstore.Filter) (docstore.Document, error) {
	start := time.Now()
	doc, err := c.inner.FindOne(ctx, filter)
	c.record("find_one", start, err)
	return doc, err
}

func (c *instrumentedCollection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	start := time.Now()
	docs, err := c.inner.Find(ctx, filter, opts)
	c.record("find", start, err)
	return docs, err
}

func (c *instrumentedCollection) FindOneAndUpdate(ctx context.Context, filter docstore.Filter, update docstore.Update, upsert bool) (docstore.Document, error) {
	start := time.Now()
	doc, err := c.inner.FindOneAndUpdate(ctx, filter, update, upsert)
	c.record("find_one_and_update", start, err)
	return doc, err
}

func (c *instrumentedCollection) DeleteOne(ctx context.Context, filter docstore.Filter) error {
	start := time.Now()
	err := c.inner.DeleteOne(ctx, filter)
	c.record("delete_one", start, err)
	return err
}

func (c *instrumentedCollection) DeleteMany(ctx context.Context, filter docstore.Filter) (int, error) {
	start := time.Now()
	n, err := c.inner.DeleteMany(ctx, filter)
	c.record("delete_many", start, err)
	return n, err
}

func (c *instrumentedCollection) UpdateMany(ctx context.Context, filter docstore.Filter, update docstore.Update) (int, error) {
	start := time.Now()
	n, err := c.inner.UpdateMany(ctx, filter, update)
	c.record("update_many", start, err)
	return n, err
}

func (c *instrumentedCollection) CreateIndex(ctx context.Context, spec docstore.IndexSpec) error {
	start := time.Now()
	err := c.inner.CreateIndex(ctx, spec)
	c.record("create_index", start, err)
	return err
}

func (c *instrumentedCollection) Watch(ctx context.Context) (<-chan docstore.Event, error) {
	start := time.Now()
	events, err := c.inner.Watch(ctx)
	c.record("watch", start, err)
	return events, err
}
