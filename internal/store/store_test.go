package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/docstore/memory"
	"github.com/opsforge/hiera-registry/internal/nodegroup"
)

func newStores(t *testing.T) *Stores {
	t.Helper()
	s := New(memory.NewStore())
	if err := s.EnsureIndexes(context.Background()); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	return s
}

func TestNormalizeFacts(t *testing.T) {
	got := NormalizeFacts(map[string]string{"stage": "prod", "fqdn": "web01", "region": "eu"})
	want := []FactPair{
		{Key: "fqdn", Value: "web01"},
		{Key: "region", Value: "eu"},
		{Key: "stage", Value: "prod"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("NormalizeFacts() = %v, want %v", got, want)
	}
}

func TestKeyModelStore(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)

	rec := KeyModelRecord{
		ID:          "dynamic:ServicePort",
		Description: "service port",
		Schema:      map[string]any{"type": "integer"},
	}
	if err := s.KeyModels.Create(ctx, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.KeyModels.Create(ctx, rec); !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := s.KeyModels.Get(ctx, "dynamic:ServicePort")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description != "service port" || got.Schema["type"] != "integer" {
		t.Errorf("Unexpected record %+v", got)
	}

	list, err := s.KeyModels.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 model, got %d", len(list))
	}

	if err := s.KeyModels.Delete(ctx, "dynamic:ServicePort"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.KeyModels.Get(ctx, "dynamic:ServicePort"); !errors.Is(err, docstore.ErrNoDocument) {
		t.Errorf("Expected ErrNoDocument, got %v", err)
	}
}

func TestKeyStore(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)

	if err := s.Keys.Create(ctx, KeyRecord{ID: "ntp_servers", KeyModelID: "static:SimpleString"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	model := "static:SimpleInt"
	deprecated := true
	got, err := s.Keys.Update(ctx, "ntp_servers", KeyPatch{KeyModelID: &model, Deprecated: &deprecated})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.KeyModelID != "static:SimpleInt" || !got.Deprecated {
		t.Errorf("Unexpected record %+v", got)
	}

	byModel, err := s.Keys.ListByModel(ctx, "static:SimpleInt")
	if err != nil {
		t.Fatal(err)
	}
	if len(byModel) != 1 || byModel[0].ID != "ntp_servers" {
		t.Errorf("Expected ntp_servers by model, got %v", byModel)
	}
	byModel, _ = s.Keys.ListByModel(ctx, "static:SimpleBool")
	if len(byModel) != 0 {
		t.Errorf("Expected no keys for unused model, got %v", byModel)
	}
}

func TestLevelStore(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)

	if err := s.Levels.Create(ctx, LevelRecord{ID: "common.yaml", Priority: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.Levels.Create(ctx, LevelRecord{ID: "nodes/{fqdn}.yaml", Priority: 10}); err != nil {
		t.Fatal(err)
	}

	// Priorities are unique
	err := s.Levels.Create(ctx, LevelRecord{ID: "stage/{stage}.yaml", Priority: 100})
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey on priority collision, got %v", err)
	}

	list, err := s.Levels.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != "nodes/{fqdn}.yaml" {
		t.Errorf("Expected priority ascending order, got %v", list)
	}

	p := 5
	got, err := s.Levels.Update(ctx, "common.yaml", LevelPatch{Priority: &p})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Priority != 5 {
		t.Errorf("Expected priority 5, got %d", got.Priority)
	}
}

func TestLevelDataStore(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)

	rows := []LevelDataRecord{
		{LevelID: "common.yaml", ExpandedID: "common.yaml", KeyID: "ntp_servers", Data: "pool.ntp.org", Priority: 100},
		{LevelID: "nodes/{fqdn}.yaml", ExpandedID: "nodes/web01.yaml", KeyID: "ntp_servers",
			Facts: map[string]string{"fqdn": "web01"}, Data: "ntp.web01", Priority: 10},
		{LevelID: "nodes/{fqdn}.yaml", ExpandedID: "nodes/db01.yaml", KeyID: "ntp_servers",
			Facts: map[string]string{"fqdn": "db01"}, Data: "ntp.db01", Priority: 10},
	}
	for _, r := range rows {
		if err := s.LevelData.Create(ctx, r); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	// Composite identity is unique
	err := s.LevelData.Create(ctx, rows[0])
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	got, err := s.LevelData.Get(ctx, "nodes/{fqdn}.yaml", "nodes/web01.yaml", "ntp_servers")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Data != "ntp.web01" || got.Facts["fqdn"] != "web01" {
		t.Errorf("Unexpected record %+v", got)
	}

	// The lookup fan-out: only the expanded ids for this node, priority order
	results, err := s.LevelData.SearchByKey(ctx, "ntp_servers", []string{"nodes/web01.yaml", "common.yaml"})
	if err != nil {
		t.Fatalf("SearchByKey failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(results))
	}
	if results[0].ExpandedID != "nodes/web01.yaml" || results[1].ExpandedID != "common.yaml" {
		t.Errorf("Expected priority ascending order, got %v", results)
	}

	// Reprioritising a level rewrites the denormalised priority
	n, err := s.LevelData.UpdatePriorityByLevel(ctx, "nodes/{fqdn}.yaml", 200)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows updated, got %d", n)
	}
	results, _ = s.LevelData.SearchByKey(ctx, "ntp_servers", []string{"nodes/web01.yaml", "common.yaml"})
	if results[0].ExpandedID != "common.yaml" {
		t.Errorf("Expected common.yaml first after reprioritise, got %v", results)
	}

	updated, err := s.LevelData.Update(ctx, "common.yaml", "common.yaml", "ntp_servers", "0.pool.ntp.org")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Data != "0.pool.ntp.org" {
		t.Errorf("Expected updated data, got %v", updated.Data)
	}

	if n, _ := s.LevelData.DeleteAllForLevel(ctx, "nodes/{fqdn}.yaml"); n != 2 {
		t.Errorf("Expected 2 rows deleted, got %d", n)
	}
	if n, _ := s.LevelData.DeleteAllForKey(ctx, "ntp_servers"); n != 1 {
		t.Errorf("Expected 1 row deleted, got %d", n)
	}
}

func TestLookupCacheStore_ExactGet(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)

	facts := map[string]string{"fqdn": "web01", "stage": "prod"}
	if err := s.LookupCache.Put(ctx, "ntp_servers", false, facts, "ntp.web01"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Same facts in a different map still hit: the canonical form sorts
	got, err := s.LookupCache.Get(ctx, "ntp_servers", false, map[string]string{"stage": "prod", "fqdn": "web01"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "ntp.web01" {
		t.Errorf("Expected ntp.web01, got %v", got)
	}

	// A superset of the cached facts is a miss: reads are exact
	_, err = s.LookupCache.Get(ctx, "ntp_servers", false, map[string]string{"fqdn": "web01", "stage": "prod", "region": "eu"})
	if !errors.Is(err, docstore.ErrNoDocument) {
		t.Errorf("Expected miss for superset facts, got %v", err)
	}

	// A subset is a miss too
	_, err = s.LookupCache.Get(ctx, "ntp_servers", false, map[string]string{"fqdn": "web01"})
	if !errors.Is(err, docstore.ErrNoDocument) {
		t.Errorf("Expected miss for subset facts, got %v", err)
	}

	// The merge flag is part of the identity
	_, err = s.LookupCache.Get(ctx, "ntp_servers", true, facts)
	if !errors.Is(err, docstore.ErrNoDocument) {
		t.Errorf("Expected miss for different merge flag, got %v", err)
	}
}

func TestLookupCacheStore_SupersetInvalidate(t *testing.T) {
	ctx := context.Background()
	s := newStores(t)

	// Two cached entries for the key, one for another key
	if err := s.LookupCache.Put(ctx, "ntp_servers", false,
		map[string]string{"fqdn": "web01", "stage": "prod"}, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.LookupCache.Put(ctx, "ntp_servers", false,
		map[string]string{"fqdn": "db01", "stage": "prod"}, "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.LookupCache.Put(ctx, "dns_servers", false,
		map[string]string{"fqdn": "web01"}, "c"); err != nil {
		t.Fatal(err)
	}

	// Invalidation matches entries whose facts contain all given pairs:
	// a write to the web01 row drops web01's entry but not db01's
	n, err := s.LookupCache.Invalidate(ctx, "ntp_servers", map[string]string{"fqdn": "web01"})
	if err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 entry invalidated, got %d", n)
	}
	if _, err := s.LookupCache.Get(ctx, "ntp_servers", false,
		map[string]string{"fqdn": "db01", "stage": "prod"}); err != nil {
		t.Errorf("Expected db01 entry to survive, got %v", err)
	}
	if _, err := s.LookupCache.Get(ctx, "dns_servers", false,
		map[string]string{"fqdn": "web01"}); err != nil {
		t.Errorf("Expected other key's entry to survive, got %v", err)
	}

	// Empty facts drop every entry for the key
	n, err = s.LookupCache.Invalidate(ctx, "ntp_servers", nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 remaining entry invalidated, got %d", n)
	}

	if n, _ := s.LookupCache.ClearAll(ctx); n != 1 {
		t.Errorf("Expected ClearAll to drop the last entry, got %d", n)
	}
}

func TestGroupStore_SetMembership(t *testing.T) {
	ctx := context.Background()
	ds := memory.NewStore()
	s := New(ds)
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}

	// Group definitions come from the inventory; seed them directly
	coll := ds.Collection(CollNodeGroups)
	for _, doc := range []docstore.Document{
		{"id": "webservers", "filters": []any{map[string]any{"part": []any{
			map[string]any{"fact": "role", "values": []any{"web"}},
		}}}},
		{"id": "all-nodes", "nodes": []any{"web01"}},
		{"id": "dbservers", "nodes": []any{"web01"}},
	} {
		if _, err := coll.Insert(ctx, doc); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Groups.Get(ctx, "webservers")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Filters) != 1 || got.Filters[0].Part[0].Fact != "role" {
		t.Errorf("Expected decoded filter rules, got %+v", got.Filters)
	}
	if !reflect.DeepEqual(got.Filters[0].Part[0].Values, []string{"web"}) {
		t.Errorf("Expected values [web], got %v", got.Filters[0].Part[0].Values)
	}

	// web01 now belongs to webservers and all-nodes; it must leave dbservers
	if err := s.Groups.SetMembership(ctx, "web01", []string{"webservers", "all-nodes"}); err != nil {
		t.Fatalf("SetMembership failed: %v", err)
	}

	assertNodes := func(groupID string, want []string) {
		t.Helper()
		g, err := s.Groups.Get(ctx, groupID)
		if err != nil {
			t.Fatal(err)
		}
		if len(want) == 0 {
			if len(g.Nodes) != 0 {
				t.Errorf("Group %s nodes = %v, want empty", groupID, g.Nodes)
			}
			return
		}
		if !reflect.DeepEqual(g.Nodes, want) {
			t.Errorf("Group %s nodes = %v, want %v", groupID, g.Nodes, want)
		}
	}
	assertNodes("webservers", []string{"web01"})
	assertNodes("all-nodes", []string{"web01"})
	assertNodes("dbservers", nil)

	// Idempotent
	if err := s.Groups.SetMembership(ctx, "web01", []string{"webservers", "all-nodes"}); err != nil {
		t.Fatal(err)
	}
	assertNodes("webservers", []string{"web01"})

	if err := s.Groups.RemoveNode(ctx, "web01"); err != nil {
		t.Fatalf("RemoveNode failed: %v", err)
	}
	assertNodes("webservers", nil)
	assertNodes("all-nodes", nil)

	list, err := s.Groups.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != "all-nodes" {
		t.Errorf("Expected 3 groups sorted by id, got %v", list)
	}
}

func nodegroupFilterDoc(rule nodegroup.FilterRule) map[string]any {
	parts := make([]any, 0, len(rule.Part))
	for _, p := range rule.Part {
		values := make([]any, 0, len(p.Values))
		for _, v := range p.Values {
			values = append(values, v)
		}
		parts = append(parts, map[string]any{"fact": p.Fact, "values": values})
	}
	return map[string]any{"part": parts}
}

func TestDecodeGroup_Roundtrip(t *testing.T) {
	rule := nodegroup.FilterRule{Part: []nodegroup.FilterPart{
		{Fact: "os.family", Values: []string{"debian", "redhat"}},
	}}
	doc := docstore.Document{
		"id":      "debian-hosts",
		"filters": []any{nodegroupFilterDoc(rule)},
		"nodes":   []any{"web01"},
	}

	rec := DecodeGroup(doc)
	if rec.ID != "debian-hosts" {
		t.Errorf("Expected id debian-hosts, got %s", rec.ID)
	}
	if !reflect.DeepEqual(rec.Filters, []nodegroup.FilterRule{rule}) {
		t.Errorf("Expected filters round-trip, got %+v", rec.Filters)
	}
	if !reflect.DeepEqual(rec.Nodes, []string{"web01"}) {
		t.Errorf("Expected nodes [web01], got %v", rec.Nodes)
	}
}
