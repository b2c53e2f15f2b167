package store

import (
	"context"
	"fmt"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// Stores bundles the typed collection adapters for one document store.
type Stores struct {
	KeyModels   *KeyModelStore
	Keys        *KeyStore
	Levels      *LevelStore
	LevelData   *LevelDataStore
	LookupCache *LookupCacheStore
	Groups      *GroupStore
}

// New wires the adapters onto a document store.
func New(ds docstore.Store) *Stores {
	return &Stores{
		KeyModels:   &KeyModelStore{coll: ds.Collection(CollKeyModels)},
		Keys:        &KeyStore{coll: ds.Collection(CollKeys)},
		Levels:      &LevelStore{coll: ds.Collection(CollLevels)},
		LevelData:   &LevelDataStore{coll: ds.Collection(CollLevelData)},
		LookupCache: &LookupCacheStore{coll: ds.Collection(CollLookupCache)},
		Groups:      &GroupStore{coll: ds.Collection(CollNodeGroups)},
	}
}

// EnsureIndexes declares every index the adapters rely on. Safe to call on
// every startup.
func (s *Stores) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll docstore.Collection
		spec docstore.IndexSpec
	}{
		{s.KeyModels.coll, docstore.IndexSpec{Fields: []string{"id"}, Unique: true}},
		{s.Keys.coll, docstore.IndexSpec{Fields: []string{"id"}, Unique: true}},
		{s.Keys.coll, docstore.IndexSpec{Fields: []string{"key_model_id"}}},
		{s.Levels.coll, docstore.IndexSpec{Fields: []string{"id"}, Unique: true}},
		{s.Levels.coll, docstore.IndexSpec{Fields: []string{"priority"}, Unique: true}},
		{s.LevelData.coll, docstore.IndexSpec{Fields: []string{"key_id", "id", "level_id"}, Unique: true}},
		{s.LevelData.coll, docstore.IndexSpec{Fields: []string{"key_id"}}},
		{s.LookupCache.coll, docstore.IndexSpec{Fields: []string{"key_id", "merge", "facts"}}},
		{s.Groups.coll, docstore.IndexSpec{Fields: []string{"id"}, Unique: true}},
	}
	for _, e := range specs {
		if err := e.coll.CreateIndex(ctx, e.spec); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", e.coll.Name(), err)
		}
	}
	return nil
}
