package store

import (
	"context"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// LevelDataStore persists concrete key values per level. Each row carries
// its level's priority so lookups can sort without a join.
type LevelDataStore struct {
	coll docstore.Collection
}

// Collection exposes the underlying collection for change-stream watchers.
func (s *LevelDataStore) Collection() docstore.Collection { return s.coll }

func levelDataFilter(levelID, expandedID, keyID string) docstore.Filter {
	return docstore.Filter{Eq: map[string]any{
		"level_id": levelID,
		"id":       expandedID,
		"key_id":   keyID,
	}}
}

// Create stores a new row. The unique index on (key_id, id, level_id)
// surfaces collisions as docstore.ErrDuplicateKey.
func (s *LevelDataStore) Create(ctx context.Context, rec LevelDataRecord) error {
	_, err := s.coll.Insert(ctx, docstore.Document{
		"level_id": rec.LevelID,
		"id":       rec.ExpandedID,
		"key_id":   rec.KeyID,
		"facts":    factsToDoc(rec.Facts),
		"data":     rec.Data,
		"priority": rec.Priority,
	})
	return err
}

// Get returns the row for a composite identity, or docstore.ErrNoDocument.
func (s *LevelDataStore) Get(ctx context.Context, levelID, expandedID, keyID string) (LevelDataRecord, error) {
	doc, err := s.coll.FindOne(ctx, levelDataFilter(levelID, expandedID, keyID))
	if err != nil {
		return LevelDataRecord{}, err
	}
	return docToLevelData(doc), nil
}

// Update replaces the data payload of a row and returns the stored row.
func (s *LevelDataStore) Update(ctx context.Context, levelID, expandedID, keyID string, data any) (LevelDataRecord, error) {
	doc, err := s.coll.FindOneAndUpdate(ctx,
		levelDataFilter(levelID, expandedID, keyID),
		docstore.Update{Set: map[string]any{"data": data}}, false)
	if err != nil {
		return LevelDataRecord{}, err
	}
	return docToLevelData(doc), nil
}

// Delete removes the row for a composite identity.
func (s *LevelDataStore) Delete(ctx context.Context, levelID, expandedID, keyID string) error {
	return s.coll.DeleteOne(ctx, levelDataFilter(levelID, expandedID, keyID))
}

// SearchByKey returns the rows for a key whose expanded id is in expandedIn,
// ordered ascending by priority. This is the lookup fan-out query.
func (s *LevelDataStore) SearchByKey(ctx context.Context, keyID string, expandedIn []string) ([]LevelDataRecord, error) {
	in := make([]any, 0, len(expandedIn))
	for _, id := range expandedIn {
		in = append(in, id)
	}
	return s.find(ctx, docstore.Filter{
		Eq: map[string]any{"key_id": keyID},
		In: map[string][]any{"id": in},
	})
}

// ListByKey returns every row stored for a key, ordered ascending by
// priority.
func (s *LevelDataStore) ListByKey(ctx context.Context, keyID string) ([]LevelDataRecord, error) {
	return s.find(ctx, docstore.Filter{Eq: map[string]any{"key_id": keyID}})
}

// ListByLevel returns every row stored under a level.
func (s *LevelDataStore) ListByLevel(ctx context.Context, levelID string) ([]LevelDataRecord, error) {
	return s.find(ctx, docstore.Filter{Eq: map[string]any{"level_id": levelID}})
}

// UpdatePriorityByLevel rewrites the denormalised priority on every row of
// a level after the level's priority changed.
func (s *LevelDataStore) UpdatePriorityByLevel(ctx context.Context, levelID string, priority int) (int, error) {
	return s.coll.UpdateMany(ctx,
		docstore.Filter{Eq: map[string]any{"level_id": levelID}},
		docstore.Update{Set: map[string]any{"priority": priority}})
}

// DeleteAllForLevel removes every row stored under a level.
func (s *LevelDataStore) DeleteAllForLevel(ctx context.Context, levelID string) (int, error) {
	return s.coll.DeleteMany(ctx, docstore.Filter{Eq: map[string]any{"level_id": levelID}})
}

// DeleteAllForKey removes every row stored for a key.
func (s *LevelDataStore) DeleteAllForKey(ctx context.Context, keyID string) (int, error) {
	return s.coll.DeleteMany(ctx, docstore.Filter{Eq: map[string]any{"key_id": keyID}})
}

func (s *LevelDataStore) find(ctx context.Context, filter docstore.Filter) ([]LevelDataRecord, error) {
	docs, err := s.coll.Find(ctx, filter, docstore.FindOptions{
		Sort: []docstore.SortField{{Field: "priority"}, {Field: "id"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]LevelDataRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, docToLevelData(doc))
	}
	return out, nil
}
