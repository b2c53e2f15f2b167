package store

import (
	"context"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// KeyStore persists keys.
type KeyStore struct {
	coll docstore.Collection
}

// Collection exposes the underlying collection for change-stream watchers.
func (s *KeyStore) Collection() docstore.Collection { return s.coll }

// KeyPatch is a partial key update; nil fields are left unchanged.
type KeyPatch struct {
	KeyModelID  *string
	Description *string
	Deprecated  *bool
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, rec KeyRecord) error {
	doc := docstore.Document{
		"id":           rec.ID,
		"key_model_id": rec.KeyModelID,
		"deprecated":   rec.Deprecated,
	}
	if rec.Description != "" {
		doc["description"] = rec.Description
	}
	_, err := s.coll.Insert(ctx, doc)
	return err
}

// Get returns the key for an id, or docstore.ErrNoDocument.
func (s *KeyStore) Get(ctx context.Context, id string) (KeyRecord, error) {
	doc, err := s.coll.FindOne(ctx, docstore.Filter{Eq: map[string]any{"id": id}})
	if err != nil {
		return KeyRecord{}, err
	}
	return docToKey(doc), nil
}

// Update applies a patch and returns the stored row.
func (s *KeyStore) Update(ctx context.Context, id string, patch KeyPatch) (KeyRecord, error) {
	set := map[string]any{}
	if patch.KeyModelID != nil {
		set["key_model_id"] = *patch.KeyModelID
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Deprecated != nil {
		set["deprecated"] = *patch.Deprecated
	}
	doc, err := s.coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{"id": id}},
		docstore.Update{Set: set}, false)
	if err != nil {
		return KeyRecord{}, err
	}
	return docToKey(doc), nil
}

// Delete removes the key for an id.
func (s *KeyStore) Delete(ctx context.Context, id string) error {
	return s.coll.DeleteOne(ctx, docstore.Filter{Eq: map[string]any{"id": id}})
}

// List returns every key sorted by id.
func (s *KeyStore) List(ctx context.Context) ([]KeyRecord, error) {
	return s.find(ctx, docstore.Filter{})
}

// ListByModel returns the keys referencing a key model.
func (s *KeyStore) ListByModel(ctx context.Context, keyModelID string) ([]KeyRecord, error) {
	return s.find(ctx, docstore.Filter{Eq: map[string]any{"key_model_id": keyModelID}})
}

func (s *KeyStore) find(ctx context.Context, filter docstore.Filter) ([]KeyRecord, error) {
	docs, err := s.coll.Find(ctx, filter, docstore.FindOptions{
		Sort: []docstore.SortField{{Field: "id"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]KeyRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, docToKey(doc))
	}
	return out, nil
}
