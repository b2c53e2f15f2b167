package store

import (
	"context"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// KeyModelStore persists dynamic key models.
type KeyModelStore struct {
	coll docstore.Collection
}

// Collection exposes the underlying collection for change-stream watchers.
func (s *KeyModelStore) Collection() docstore.Collection { return s.coll }

// Create stores a new dynamic model. Returns docstore.ErrDuplicateKey when
// the id exists.
func (s *KeyModelStore) Create(ctx context.Context, rec KeyModelRecord) error {
	doc := docstore.Document{
		"id":    rec.ID,
		"model": rec.Schema,
	}
	if rec.Description != "" {
		doc["description"] = rec.Description
	}
	_, err := s.coll.Insert(ctx, doc)
	return err
}

// Get returns the model for an id, or docstore.ErrNoDocument.
func (s *KeyModelStore) Get(ctx context.Context, id string) (KeyModelRecord, error) {
	doc, err := s.coll.FindOne(ctx, docstore.Filter{Eq: map[string]any{"id": id}})
	if err != nil {
		return KeyModelRecord{}, err
	}
	return docToKeyModel(doc)
}

// Delete removes the model for an id.
func (s *KeyModelStore) Delete(ctx context.Context, id string) error {
	return s.coll.DeleteOne(ctx, docstore.Filter{Eq: map[string]any{"id": id}})
}

// List returns every stored dynamic model sorted by id.
func (s *KeyModelStore) List(ctx context.Context) ([]KeyModelRecord, error) {
	docs, err := s.coll.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		Sort: []docstore.SortField{{Field: "id"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]KeyModelRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := docToKeyModel(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
