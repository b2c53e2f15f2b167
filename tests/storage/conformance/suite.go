// Package conformance exercises a docstore backend against the behaviour
// the registry relies on: document identity, unique indexes, filtering,
// ordering, partial updates and the change feed. Every backend must pass
// the same suite.
package conformance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// StoreFactory returns a store with the suite's collections empty. The
// suite closes the store when the test finishes.
type StoreFactory func(t *testing.T) docstore.Store

// Collections the suite writes to. Backends under test must allow the
// factory to empty them between runs.
var SuiteCollections = []string{
	"conformance_docs",
	"conformance_indexed",
	"conformance_feed",
}

// RunAll runs the full conformance suite against a backend.
func RunAll(t *testing.T, factory StoreFactory) {
	t.Run("InsertAndFindOne", func(t *testing.T) { testInsertAndFindOne(t, factory) })
	t.Run("DuplicateDocumentKey", func(t *testing.T) { testDuplicateDocumentKey(t, factory) })
	t.Run("UniqueIndex", func(t *testing.T) { testUniqueIndex(t, factory) })
	t.Run("FindSortSkipLimit", func(t *testing.T) { testFindSortSkipLimit(t, factory) })
	t.Run("FilterOperators", func(t *testing.T) { testFilterOperators(t, factory) })
	t.Run("FindOneAndUpdate", func(t *testing.T) { testFindOneAndUpdate(t, factory) })
	t.Run("UpdateMany", func(t *testing.T) { testUpdateMany(t, factory) })
	t.Run("ArrayUpdates", func(t *testing.T) { testArrayUpdates(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("Watch", func(t *testing.T) { testWatch(t, factory) })
	t.Run("Health", func(t *testing.T) { testHealth(t, factory) })
}

func open(t *testing.T, factory StoreFactory) docstore.Store {
	t.Helper()
	ds := factory(t)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func mustInsert(t *testing.T, coll docstore.Collection, docs ...docstore.Document) {
	t.Helper()
	for _, doc := range docs {
		if _, err := coll.Insert(context.Background(), doc); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
}

func testInsertAndFindOne(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	id, err := coll.Insert(ctx, docstore.Document{"_id": "a", "kind": "level", "priority": 10})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id != "a" {
		t.Errorf("Expected id a, got %s", id)
	}

	// Backends assign missing document keys
	id, err = coll.Insert(ctx, docstore.Document{"kind": "level"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if id == "" {
		t.Error("Expected assigned document key")
	}

	doc, err := coll.FindOne(ctx, docstore.Filter{Eq: map[string]any{"_id": "a"}})
	if err != nil {
		t.Fatalf("FindOne failed: %v", err)
	}
	if doc["kind"] != "level" {
		t.Errorf("Expected kind level, got %v", doc["kind"])
	}

	if _, err := coll.FindOne(ctx, docstore.Filter{Eq: map[string]any{"_id": "missing"}}); !errors.Is(err, docstore.ErrNoDocument) {
		t.Errorf("Expected ErrNoDocument, got %v", err)
	}
}

func testDuplicateDocumentKey(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	mustInsert(t, coll, docstore.Document{"_id": "dup"})
	if _, err := coll.Insert(ctx, docstore.Document{"_id": "dup"}); !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func testUniqueIndex(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_indexed")

	err := coll.CreateIndex(ctx, docstore.IndexSpec{
		Name:   "conformance_level_key",
		Fields: []string{"level_id", "key_id"},
		Unique: true,
	})
	if err != nil {
		t.Fatalf("CreateIndex failed: %v", err)
	}
	// Idempotent
	if err := coll.CreateIndex(ctx, docstore.IndexSpec{
		Name:   "conformance_level_key",
		Fields: []string{"level_id", "key_id"},
		Unique: true,
	}); err != nil {
		t.Fatalf("Expected repeated CreateIndex to succeed, got %v", err)
	}

	mustInsert(t, coll, docstore.Document{"level_id": "common", "key_id": "k1"})
	if _, err := coll.Insert(ctx, docstore.Document{"level_id": "common", "key_id": "k1"}); !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey on index collision, got %v", err)
	}
	if _, err := coll.Insert(ctx, docstore.Document{"level_id": "common", "key_id": "k2"}); err != nil {
		t.Errorf("Expected distinct values to insert, got %v", err)
	}
}

func testFindSortSkipLimit(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	mustInsert(t, coll,
		docstore.Document{"_id": "c", "priority": 30},
		docstore.Document{"_id": "a", "priority": 10},
		docstore.Document{"_id": "b", "priority": 20},
	)

	docs, err := coll.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		Sort: []docstore.SortField{{Field: "priority"}},
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 3 || docs[0]["_id"] != "a" || docs[2]["_id"] != "c" {
		t.Errorf("Expected priority ascending, got %v", docs)
	}

	docs, err = coll.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		Sort:  []docstore.SortField{{Field: "priority", Desc: true}},
		Skip:  1,
		Limit: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0]["_id"] != "b" {
		t.Errorf("Expected b, got %v", docs)
	}
}

func testFilterOperators(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	mustInsert(t, coll,
		docstore.Document{"_id": "1", "key_id": "k", "id": "common.yaml", "nodes": []any{"web01"}},
		docstore.Document{"_id": "2", "key_id": "k", "id": "nodes/web01.yaml", "nodes": []any{"web01", "web02"}},
		docstore.Document{"_id": "3", "key_id": "other", "id": "common.yaml"},
	)

	// Eq + In is the lookup fan-out shape
	docs, err := coll.Find(ctx, docstore.Filter{
		Eq: map[string]any{"key_id": "k"},
		In: map[string][]any{"id": {"common.yaml", "nodes/web01.yaml"}},
	}, docstore.FindOptions{Sort: []docstore.SortField{{Field: "_id"}}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}

	// NotIn
	docs, err = coll.Find(ctx, docstore.Filter{
		NotIn: map[string][]any{"_id": {"1", "2"}},
	}, docstore.FindOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0]["_id"] != "3" {
		t.Errorf("Expected only document 3, got %v", docs)
	}

	// All over an array field
	docs, err = coll.Find(ctx, docstore.Filter{
		All: map[string][]any{"nodes": {"web01", "web02"}},
	}, docstore.FindOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0]["_id"] != "2" {
		t.Errorf("Expected only document 2, got %v", docs)
	}
}

func testFindOneAndUpdate(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	// Upsert creates from Eq fields plus the update
	doc, err := coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"key_id": "k1"}},
		docstore.Update{Set: map[string]any{"result": "v1"}},
		true)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if doc["key_id"] != "k1" || doc["result"] != "v1" {
		t.Errorf("Unexpected upserted document %v", doc)
	}

	doc, err = coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"key_id": "k1"}},
		docstore.Update{Set: map[string]any{"result": "v2"}, Unset: []string{"gone"}},
		true)
	if err != nil {
		t.Fatal(err)
	}
	if doc["result"] != "v2" {
		t.Errorf("Expected v2, got %v", doc["result"])
	}

	docs, _ := coll.Find(ctx, docstore.Filter{}, docstore.FindOptions{})
	if len(docs) != 1 {
		t.Errorf("Expected a single document, got %d", len(docs))
	}

	if _, err := coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"key_id": "missing"}},
		docstore.Update{Set: map[string]any{"x": 1}},
		false); !errors.Is(err, docstore.ErrNoDocument) {
		t.Errorf("Expected ErrNoDocument, got %v", err)
	}
}

func testUpdateMany(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	mustInsert(t, coll,
		docstore.Document{"_id": "1", "level_id": "common", "priority": 10},
		docstore.Document{"_id": "2", "level_id": "common", "priority": 10},
		docstore.Document{"_id": "3", "level_id": "nodes", "priority": 20},
	)

	n, err := coll.UpdateMany(ctx,
		docstore.Filter{Eq: map[string]any{"level_id": "common"}},
		docstore.Update{Set: map[string]any{"priority": 5}})
	if err != nil {
		t.Fatalf("UpdateMany failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 updated, got %d", n)
	}

	docs, err := coll.Find(ctx, docstore.Filter{Eq: map[string]any{"priority": 5}}, docstore.FindOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("Expected 2 documents at new priority, got %d", len(docs))
	}
}

func testArrayUpdates(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	mustInsert(t, coll, docstore.Document{"_id": "g", "nodes": []any{"web01"}})

	// AddUnique skips values already present
	doc, err := coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"_id": "g"}},
		docstore.Update{AddUnique: map[string][]any{"nodes": {"web01", "web02"}}},
		false)
	if err != nil {
		t.Fatalf("AddUnique failed: %v", err)
	}
	nodes, _ := doc["nodes"].([]any)
	if len(nodes) != 2 {
		t.Errorf("Expected 2 nodes, got %v", nodes)
	}

	doc, err = coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"_id": "g"}},
		docstore.Update{Pull: map[string][]any{"nodes": {"web01"}}},
		false)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	nodes, _ = doc["nodes"].([]any)
	if len(nodes) != 1 || nodes[0] != "web02" {
		t.Errorf("Expected [web02], got %v", nodes)
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	coll := open(t, factory).Collection("conformance_docs")

	mustInsert(t, coll,
		docstore.Document{"_id": "1", "level_id": "common"},
		docstore.Document{"_id": "2", "level_id": "common"},
		docstore.Document{"_id": "3", "level_id": "nodes"},
	)

	if err := coll.DeleteOne(ctx, docstore.Filter{Eq: map[string]any{"_id": "3"}}); err != nil {
		t.Fatalf("DeleteOne failed: %v", err)
	}
	if err := coll.DeleteOne(ctx, docstore.Filter{Eq: map[string]any{"_id": "3"}}); !errors.Is(err, docstore.ErrNoDocument) {
		t.Errorf("Expected ErrNoDocument, got %v", err)
	}

	n, err := coll.DeleteMany(ctx, docstore.Filter{Eq: map[string]any{"level_id": "common"}})
	if err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted, got %d", n)
	}
}

func testWatch(t *testing.T, factory StoreFactory) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coll := open(t, factory).Collection("conformance_feed")

	events, err := coll.Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	mustInsert(t, coll, docstore.Document{"_id": "w1", "v": 1})
	if _, err := coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"_id": "w1"}},
		docstore.Update{Set: map[string]any{"v": 2}}, false); err != nil {
		t.Fatal(err)
	}
	if err := coll.DeleteOne(ctx, docstore.Filter{Eq: map[string]any{"_id": "w1"}}); err != nil {
		t.Fatal(err)
	}

	expect := func(op docstore.Op) {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("Feed closed while waiting for %s", op)
			}
			if ev.Op != op {
				t.Errorf("Expected op %s, got %s", op, ev.Op)
			}
			if ev.DocumentKey != "w1" {
				t.Errorf("Expected document key w1, got %s", ev.DocumentKey)
			}
			if op == docstore.OpDelete {
				if ev.FullDocument != nil {
					t.Error("Expected nil FullDocument on delete")
				}
			} else if ev.FullDocument == nil {
				t.Errorf("Expected FullDocument on %s", op)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Timed out waiting for %s event", op)
		}
	}
	expect(docstore.OpInsert)
	expect(docstore.OpUpdate)
	expect(docstore.OpDelete)
}

func testHealth(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	ds := factory(t)
	if !ds.IsHealthy(ctx) {
		t.Error("Expected fresh store to be healthy")
	}
	if err := ds.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if ds.IsHealthy(ctx) {
		t.Error("Expected closed store to be unhealthy")
	}
}
