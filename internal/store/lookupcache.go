package store

import (
	"context"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// LookupCacheStore persists resolved lookup results. Cached entries are
// keyed by (key_id, merge, canonical sorted facts): reads require the exact
// same fact set, while invalidation matches any entry whose facts are a
// superset of the changed row's facts.
type LookupCacheStore struct {
	coll docstore.Collection
}

// Collection exposes the underlying collection.
func (s *LookupCacheStore) Collection() docstore.Collection { return s.coll }

// Get returns the cached result for an exact (key, merge, facts) triple.
// Returns docstore.ErrNoDocument on a miss.
func (s *LookupCacheStore) Get(ctx context.Context, keyID string, merge bool, facts map[string]string) (any, error) {
	doc, err := s.coll.FindOne(ctx, docstore.Filter{Eq: map[string]any{
		"key_id": keyID,
		"merge":  merge,
		"facts":  factPairsToDoc(NormalizeFacts(facts)),
	}})
	if err != nil {
		return nil, err
	}
	return doc["result"], nil
}

// Put stores a resolved result, replacing any entry for the same triple.
func (s *LookupCacheStore) Put(ctx context.Context, keyID string, merge bool, facts map[string]string, result any) error {
	_, err := s.coll.FindOneAndUpdate(ctx,
		docstore.Filter{Eq: map[string]any{
			"key_id": keyID,
			"merge":  merge,
			"facts":  factPairsToDoc(NormalizeFacts(facts)),
		}},
		docstore.Update{Set: map[string]any{"result": result}},
		true)
	return err
}

// Invalidate drops every cached entry for a key whose facts contain all of
// the given pairs. Empty facts drop every entry for the key.
func (s *LookupCacheStore) Invalidate(ctx context.Context, keyID string, facts map[string]string) (int, error) {
	filter := docstore.Filter{Eq: map[string]any{"key_id": keyID}}
	if len(facts) > 0 {
		filter.All = map[string][]any{"facts": factPairsToDoc(NormalizeFacts(facts))}
	}
	return s.coll.DeleteMany(ctx, filter)
}

// ClearAll empties the cache. Used when level topology changes, since any
// cached result may have been computed against the old ordering.
func (s *LookupCacheStore) ClearAll(ctx context.Context) (int, error) {
	return s.coll.DeleteMany(ctx, docstore.Filter{})
}
