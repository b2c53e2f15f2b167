// Package memory provides an in-memory docstore implementation. It is the
// default backend for tests and single-process deployments and supports
// native change feeds.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// Store implements docstore.Store with in-memory collections.
type Store struct {
	mu     sync.Mutex
	colls  map[string]*collection
	closed bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{colls: make(map[string]*collection)}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(name string) docstore.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.colls[name]
	if !ok {
		c = &collection{
			name: name,
			docs: make(map[string]docstore.Document),
			subs: make(map[*subscriber]struct{}),
		}
		s.colls[name] = c
	}
	return c
}

// Close shuts down all change feeds.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.colls {
		c.closeAll()
	}
	return nil
}

// IsHealthy always reports true for the in-memory store.
func (s *Store) IsHealthy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// subscriber is one Watch consumer. A consumer that stops draining its
// channel is dropped so writers never block.
type subscriber struct {
	ch   chan docstore.Event
	dead bool
}

const subscriberBuffer = 256

type uniqueIndex struct {
	fields []string
	keys   map[string]string // canonical field values -> document key
}

type collection struct {
	name string

	mu      sync.RWMutex
	docs    map[string]docstore.Document
	order   []string
	indexes []*uniqueIndex
	subs    map[*subscriber]struct{}
}

func (c *collection) Name() string { return c.name }

func (c *collection) Insert(ctx context.Context, doc docstore.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	stored := docstore.DeepCopy(doc)
	id, _ := stored[docstore.KeyField].(string)
	if id == "" {
		id = uuid.NewString()
		stored[docstore.KeyField] = id
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[id]; exists {
		return "", docstore.ErrDuplicateKey
	}
	if err := c.checkUnique(stored, id); err != nil {
		return "", err
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	c.indexDoc(stored, id)
	c.emit(docstore.Event{Op: docstore.OpInsert, DocumentKey: id, FullDocument: docstore.DeepCopy(stored)})
	return id, nil
}

func (c *collection) FindOne(ctx context.Context, filter docstore.Filter) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		if docstore.Matches(c.docs[id], filter) {
			return docstore.DeepCopy(c.docs[id]), nil
		}
	}
	return nil, docstore.ErrNoDocument
}

func (c *collection) Find(ctx context.Context, filter docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	var results []docstore.Document
	for _, id := range c.order {
		if docstore.Matches(c.docs[id], filter) {
			results = append(results, docstore.DeepCopy(c.docs[id]))
		}
	}
	c.mu.RUnlock()

	docstore.SortDocuments(results, opts.Sort)
	if opts.Skip > 0 {
		if opts.Skip >= len(results) {
			results = nil
		} else {
			results = results[opts.Skip:]
		}
	}
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	for i, doc := range results {
		results[i] = docstore.Project(doc, opts.Projection)
	}
	return results, nil
}

func (c *collection) FindOneAndUpdate(ctx context.Context, filter docstore.Filter, update docstore.Update, upsert bool) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.order {
		if !docstore.Matches(c.docs[id], filter) {
			continue
		}
		updated := docstore.ApplyUpdate(c.docs[id], update)
		updated[docstore.KeyField] = id
		c.unindexDoc(c.docs[id], id)
		if err := c.checkUnique(updated, id); err != nil {
			c.indexDoc(c.docs[id], id)
			return nil, err
		}
		c.docs[id] = updated
		c.indexDoc(updated, id)
		c.emit(docstore.Event{Op: docstore.OpUpdate, DocumentKey: id, FullDocument: docstore.DeepCopy(updated)})
		return docstore.DeepCopy(updated), nil
	}
	if !upsert {
		return nil, docstore.ErrNoDocument
	}

	seed := docstore.Document{}
	for path, v := range filter.Eq {
		if !strings.Contains(path, ".") {
			seed[path] = v
		}
	}
	created := docstore.ApplyUpdate(seed, update)
	id, _ := created[docstore.KeyField].(string)
	if id == "" {
		id = uuid.NewString()
		created[docstore.KeyField] = id
	}
	if _, exists := c.docs[id]; exists {
		return nil, docstore.ErrDuplicateKey
	}
	if err := c.checkUnique(created, id); err != nil {
		return nil, err
	}
	c.docs[id] = created
	c.order = append(c.order, id)
	c.indexDoc(created, id)
	c.emit(docstore.Event{Op: docstore.OpInsert, DocumentKey: id, FullDocument: docstore.DeepCopy(created)})
	return docstore.DeepCopy(created), nil
}

func (c *collection) DeleteOne(ctx context.Context, filter docstore.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range c.order {
		if docstore.Matches(c.docs[id], filter) {
			c.removeLocked(i, id)
			return nil
		}
	}
	return docstore.ErrNoDocument
}

func (c *collection) DeleteMany(ctx context.Context, filter docstore.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for i := 0; i < len(c.order); {
		id := c.order[i]
		if docstore.Matches(c.docs[id], filter) {
			c.removeLocked(i, id)
			removed++
			continue
		}
		i++
	}
	return removed, nil
}

func (c *collection) UpdateMany(ctx context.Context, filter docstore.Filter, update docstore.Update) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	updated := 0
	for _, id := range c.order {
		if !docstore.Matches(c.docs[id], filter) {
			continue
		}
		next := docstore.ApplyUpdate(c.docs[id], update)
		next[docstore.KeyField] = id
		c.unindexDoc(c.docs[id], id)
		if err := c.checkUnique(next, id); err != nil {
			c.indexDoc(c.docs[id], id)
			return updated, err
		}
		c.docs[id] = next
		c.indexDoc(next, id)
		c.emit(docstore.Event{Op: docstore.OpUpdate, DocumentKey: id, FullDocument: docstore.DeepCopy(next)})
		updated++
	}
	return updated, nil
}

func (c *collection) CreateIndex(ctx context.Context, spec docstore.IndexSpec) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !spec.Unique {
		// Non-unique indexes only affect scan performance; the memory
		// backend scans regardless.
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, idx := range c.indexes {
		if equalFields(idx.fields, spec.Fields) {
			return nil
		}
	}
	idx := &uniqueIndex{fields: spec.Fields, keys: make(map[string]string)}
	for _, id := range c.order {
		key := indexKey(c.docs[id], idx.fields)
		if other, exists := idx.keys[key]; exists && other != id {
			return docstore.ErrDuplicateKey
		}
		idx.keys[key] = id
	}
	c.indexes = append(c.indexes, idx)
	return nil
}

func (c *collection) Watch(ctx context.Context) (<-chan docstore.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscriber{ch: make(chan docstore.Event, subscriberBuffer)}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[sub]; ok {
			delete(c.subs, sub)
			close(sub.ch)
		}
	}()
	return sub.ch, nil
}

// removeLocked deletes c.order[i] (== id) and emits the delete event.
func (c *collection) removeLocked(i int, id string) {
	c.unindexDoc(c.docs[id], id)
	delete(c.docs, id)
	c.order = append(c.order[:i], c.order[i+1:]...)
	c.emit(docstore.Event{Op: docstore.OpDelete, DocumentKey: id})
}

func (c *collection) checkUnique(doc docstore.Document, id string) error {
	for _, idx := range c.indexes {
		key := indexKey(doc, idx.fields)
		if other, exists := idx.keys[key]; exists && other != id {
			return docstore.ErrDuplicateKey
		}
	}
	return nil
}

func (c *collection) indexDoc(doc docstore.Document, id string) {
	for _, idx := range c.indexes {
		idx.keys[indexKey(doc, idx.fields)] = id
	}
}

func (c *collection) unindexDoc(doc docstore.Document, id string) {
	for _, idx := range c.indexes {
		key := indexKey(doc, idx.fields)
		if idx.keys[key] == id {
			delete(idx.keys, key)
		}
	}
}

// emit fans an event out to every live subscriber. A subscriber whose buffer
// is full is closed; it is expected to resynchronise from a snapshot.
func (c *collection) emit(ev docstore.Event) {
	for sub := range c.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(c.subs, sub)
			close(sub.ch)
		}
	}
}

func (c *collection) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subs {
		delete(c.subs, sub)
		close(sub.ch)
	}
}

// indexKey builds a canonical string for the indexed field values. JSON
// marshalling sorts object keys, so equal values yield equal keys.
func indexKey(doc docstore.Document, fields []string) string {
	parts := make([]any, 0, len(fields))
	for _, f := range fields {
		v, _ := docstore.Lookup(doc, f)
		parts = append(parts, v)
	}
	raw, _ := json.Marshal(parts)
	return string(raw)
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
