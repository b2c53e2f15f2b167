package store

import (
	"context"
	"errors"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// GroupStore reads node groups and maintains their node membership lists.
// Group definitions themselves are owned by an external inventory service;
// this registry only evaluates filters and rewrites membership.
type GroupStore struct {
	coll docstore.Collection
}

// Collection exposes the underlying collection for change-stream watchers.
func (s *GroupStore) Collection() docstore.Collection { return s.coll }

// Get returns the group for an id, or docstore.ErrNoDocument.
func (s *GroupStore) Get(ctx context.Context, id string) (GroupRecord, error) {
	doc, err := s.coll.FindOne(ctx, docstore.Filter{Eq: map[string]any{"id": id}})
	if err != nil {
		return GroupRecord{}, err
	}
	return docToGroup(doc), nil
}

// List returns every group sorted by id.
func (s *GroupStore) List(ctx context.Context) ([]GroupRecord, error) {
	docs, err := s.coll.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		Sort: []docstore.SortField{{Field: "id"}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]GroupRecord, 0, len(docs))
	for _, doc := range docs {
		out = append(out, docToGroup(doc))
	}
	return out, nil
}

// SetMembership rewrites a node's group membership: the node is added to
// every group in memberOf and removed from every other group that still
// lists it. Both sides are idempotent.
func (s *GroupStore) SetMembership(ctx context.Context, node string, memberOf []string) error {
	in := make([]any, 0, len(memberOf))
	for _, id := range memberOf {
		in = append(in, id)
	}

	if len(in) > 0 {
		_, err := s.coll.UpdateMany(ctx,
			docstore.Filter{In: map[string][]any{"id": in}},
			docstore.Update{AddUnique: map[string][]any{"nodes": {node}}})
		if err != nil {
			return err
		}
	}

	_, err := s.coll.UpdateMany(ctx,
		docstore.Filter{
			NotIn: map[string][]any{"id": in},
			All:   map[string][]any{"nodes": {node}},
		},
		docstore.Update{Pull: map[string][]any{"nodes": {node}}})
	if err != nil && !errors.Is(err, docstore.ErrNoDocument) {
		return err
	}
	return nil
}

// RemoveNode drops a node from every group that lists it.
func (s *GroupStore) RemoveNode(ctx context.Context, node string) error {
	_, err := s.coll.UpdateMany(ctx,
		docstore.Filter{All: map[string][]any{"nodes": {node}}},
		docstore.Update{Pull: map[string][]any{"nodes": {node}}})
	return err
}
