// Package docstore defines the document-collection contract the registry
// persists through. Backends provide schemaless JSON documents, unique
// indexes and a change feed; everything above this package is backend
// agnostic.
package docstore

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNoDocument   = errors.New("no matching document")
	ErrClosed       = errors.New("store is closed")
)

// Document is a JSON-shaped document. The document key lives in the "_id"
// field and is always a string.
type Document = map[string]any

// KeyField is the document-key field name.
const KeyField = "_id"

// Op is a change-feed operation type.
type Op string

const (
	OpInsert  Op = "insert"
	OpUpdate  Op = "update"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
)

// Event is a single change-feed entry. FullDocument is nil for deletes.
type Event struct {
	Op           Op
	DocumentKey  string
	FullDocument Document
}

// Filter is a conjunction of per-field conditions. Field names may use
// dotted paths into nested objects. An empty Filter matches every document.
type Filter struct {
	// Eq requires the field to equal the given value.
	Eq map[string]any
	// In requires the field value to be one of the listed values.
	In map[string][]any
	// NotIn requires the field value to be none of the listed values.
	NotIn map[string][]any
	// All requires an array field to contain every listed element.
	All map[string][]any
}

// Update describes a partial modification.
type Update struct {
	// Set assigns fields.
	Set map[string]any
	// Unset removes fields.
	Unset []string
	// AddUnique appends values to an array field, skipping ones already
	// present.
	AddUnique map[string][]any
	// Pull removes matching values from an array field.
	Pull map[string][]any
}

// SortField orders query results by a single field.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions adjusts a Find query.
type FindOptions struct {
	Sort       []SortField
	Skip       int
	Limit      int
	Projection []string // field names to keep; empty keeps everything
}

// IndexSpec declares an index over document fields.
type IndexSpec struct {
	Name   string
	Fields []string
	Unique bool
}

// Collection is one named set of documents.
type Collection interface {
	Name() string

	// Insert stores a new document. A missing "_id" is assigned. Returns
	// ErrDuplicateKey when a unique index (or the document key) collides.
	Insert(ctx context.Context, doc Document) (string, error)

	// FindOne returns the first document matching the filter, or
	// ErrNoDocument.
	FindOne(ctx context.Context, filter Filter) (Document, error)

	// Find returns all documents matching the filter, subject to opts.
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error)

	// FindOneAndUpdate atomically applies the update to the first matching
	// document and returns the post-update document. With upsert, a missing
	// document is created from the filter's Eq fields plus the update.
	FindOneAndUpdate(ctx context.Context, filter Filter, update Update, upsert bool) (Document, error)

	// DeleteOne removes the first matching document, or returns
	// ErrNoDocument.
	DeleteOne(ctx context.Context, filter Filter) error

	// DeleteMany removes every matching document and reports how many.
	DeleteMany(ctx context.Context, filter Filter) (int, error)

	// UpdateMany applies the update to every matching document and reports
	// how many.
	UpdateMany(ctx context.Context, filter Filter, update Update) (int, error)

	// CreateIndex declares an index. Creating an existing index is a no-op.
	CreateIndex(ctx context.Context, spec IndexSpec) error

	// Watch returns a change feed of subsequent mutations. The channel is
	// closed when ctx is cancelled, the store shuts down, or the feed falls
	// too far behind; consumers restart with a fresh snapshot.
	Watch(ctx context.Context) (<-chan Event, error)
}

// Store is a set of named collections.
type Store interface {
	Collection(name string) Collection
	Close() error
	IsHealthy(ctx context.Context) bool
}
