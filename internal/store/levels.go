package store

import (
	"context"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// LevelStore persists levels.
type LevelStore struct {
	coll docstore.Collection
}

// Collection exposes the underlying collection for change-stream watchers.
func (s *LevelStore) Collection() docstore.Collection { return s.coll }

// LevelPatch is a partial level update; nil fields are left unchanged.
type LevelPatch struct {
	Priority *int
}

// Create stores a new level. The unique indexes on id and priority surface
// collisions as docstore.ErrDuplicateKey.
func (s *LevelStore) Create(ctx context.Context, rec LevelRecord) error {
	_, err := s.coll.Insert(ctx, docstore.Document{
		"id":       rec.ID,
		"priority": rec.Priority,
	})
	return err
}

// Get returns the level for an id, or docstore.ErrNoDocument.
func (s *LevelStore) Get(ctx context.Context, id string) (LevelRecord, error) {
	doc, err := s.coll.FindOne(ctx, docstore.Filter{Eq: map[string]any{"id": id}})
	if err != nil {
		return LevelRecord{}, err
	}
	return docToLevel(doc), nil
}

// Update applies a patch and returns the stored row.
func (s *LevelStore) Update(ctx context.Context, id string, patch LevelPatch) (LevelRecord, error) {
	set := map[string]any{}
	if patch.Priority != nil {
		set["priority"] = *patch.Priority
	}
	doc, err := s.coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"id": id}},
		docstore.Update{Set: set}, false)
	if err != nil {
		return LevelRecord{}, err
	}
	return docToLevel(doc), nil
}

// Delete removes the level for an id.
func (s *LevelStore) Delete(ctx context.Context, id string) error {
	return s.coll.DeleteOne(ctx, docstore.Filter{Eq: map[string]any{"id": id}})
}

// List returns every level sorted ascending by priority.
func (s *LevelStore) List(ctx context.Context) ([]LevelRecord, error) {
	docs, err := s.coll.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		Sort: []docstore.SortField{{Field: "priority"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]LevelRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, docToLevel(doc))
	}
	return out, nil
}
