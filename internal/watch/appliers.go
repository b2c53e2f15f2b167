package watch

import (
	"log/slog"

	"github.com/opsforge/hiera-registry/internal/catalog"
	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/nodegroup"
	"github.com/opsforge/hiera-registry/internal/schema"
	"github.com/opsforge/hiera-registry/internal/store"
)

// tracker maps document keys to domain ids so delete events, which carry
// only the document key, can be projected. Appliers are driven by a single
// watcher goroutine; no locking needed here.
type tracker struct {
	idByDocKey map[string]string
}

func newTracker() tracker {
	return tracker{idByDocKey: make(map[string]string)}
}

func (t *tracker) track(docKey, id string) {
	if docKey != "" {
		t.idByDocKey[docKey] = id
	}
}

func (t *tracker) drop(docKey string) (string, bool) {
	id, ok := t.idByDocKey[docKey]
	if ok {
		delete(t.idByDocKey, docKey)
	}
	return id, ok
}

func (t *tracker) reset() {
	t.idByDocKey = make(map[string]string)
}

func (t *tracker) ids() []string {
	out := make([]string, 0, len(t.idByDocKey))
	for _, id := range t.idByDocKey {
		out = append(out, id)
	}
	return out
}

// ModelApplier projects the dynamic key model collection into the model
// registry, compiling each schema document on arrival.
type ModelApplier struct {
	tracker
	models *catalog.Models
	logger *slog.Logger
}

// NewModelApplier creates an applier over the model registry.
func NewModelApplier(models *catalog.Models, logger *slog.Logger) *ModelApplier {
	return &ModelApplier{tracker: newTracker(), models: models, logger: logger}
}

func (a *ModelApplier) Reset() {
	for _, id := range a.ids() {
		if err := a.models.Remove(id); err != nil {
			a.logger.Warn("failed to drop key model on reset", "model", id, "error", err)
		}
	}
	a.reset()
}

func (a *ModelApplier) Apply(event docstore.Event) {
	if event.Op == docstore.OpDelete {
		id, ok := a.drop(event.DocumentKey)
		if !ok {
			return
		}
		if err := a.models.Remove(id); err != nil {
			a.logger.Warn("failed to drop key model", "model", id, "error", err)
		}
		return
	}
	rec, err := store.DecodeKeyModel(event.FullDocument)
	if err != nil {
		a.logger.Error("malformed key model document ignored", "doc_key", event.DocumentKey, "error", err)
		return
	}
	validator, err := schema.Compile(rec.Schema)
	if err != nil {
		// A model that does not compile stays unregistered; keys bound to
		// it fail lookups until the document is fixed.
		a.logger.Error("key model failed to compile", "model", rec.ID, "error", err)
		return
	}
	if err := a.models.Add(rec.ID, rec.Description, validator); err != nil {
		a.logger.Error("key model rejected", "model", rec.ID, "error", err)
		return
	}
	a.track(event.DocumentKey, rec.ID)
}

// KeyApplier projects the keys collection.
type KeyApplier struct {
	tracker
	keys *catalog.Keys
}

// NewKeyApplier creates an applier over the key projection.
func NewKeyApplier(keys *catalog.Keys) *KeyApplier {
	return &KeyApplier{tracker: newTracker(), keys: keys}
}

func (a *KeyApplier) Reset() {
	for _, id := range a.ids() {
		a.keys.Delete(id)
	}
	a.reset()
}

func (a *KeyApplier) Apply(event docstore.Event) {
	if event.Op == docstore.OpDelete {
		if id, ok := a.drop(event.DocumentKey); ok {
			a.keys.Delete(id)
		}
		return
	}
	rec := store.DecodeKey(event.FullDocument)
	if rec.ID == "" {
		return
	}
	a.keys.Set(catalog.Key{
		ID:          rec.ID,
		KeyModelID:  rec.KeyModelID,
		Description: rec.Description,
		Deprecated:  rec.Deprecated,
	})
	a.track(event.DocumentKey, rec.ID)
}

// LevelApplier projects the levels collection.
type LevelApplier struct {
	tracker
	levels *catalog.Levels
}

// NewLevelApplier creates an applier over the level projection.
func NewLevelApplier(levels *catalog.Levels) *LevelApplier {
	return &LevelApplier{tracker: newTracker(), levels: levels}
}

func (a *LevelApplier) Reset() {
	for _, id := range a.ids() {
		a.levels.Delete(id)
	}
	a.reset()
}

func (a *LevelApplier) Apply(event docstore.Event) {
	if event.Op == docstore.OpDelete {
		if id, ok := a.drop(event.DocumentKey); ok {
			a.levels.Delete(id)
		}
		return
	}
	rec := store.DecodeLevel(event.FullDocument)
	if rec.ID == "" {
		return
	}
	a.levels.Set(catalog.Level{ID: rec.ID, Priority: rec.Priority})
	a.track(event.DocumentKey, rec.ID)
}

// GroupApplier projects the node-group collection. Only the filter rules
// are projected; membership lists live in the store alone.
type GroupApplier struct {
	tracker
	groups *catalog.Groups
}

// NewGroupApplier creates an applier over the group projection.
func NewGroupApplier(groups *catalog.Groups) *GroupApplier {
	return &GroupApplier{tracker: newTracker(), groups: groups}
}

func (a *GroupApplier) Reset() {
	for _, id := range a.ids() {
		a.groups.Delete(id)
	}
	a.reset()
}

func (a *GroupApplier) Apply(event docstore.Event) {
	if event.Op == docstore.OpDelete {
		if id, ok := a.drop(event.DocumentKey); ok {
			a.groups.Delete(id)
		}
		return
	}
	rec := store.DecodeGroup(event.FullDocument)
	if rec.ID == "" {
		return
	}
	a.groups.Set(nodegroup.Group{ID: rec.ID, Filters: rec.Filters})
	a.track(event.DocumentKey, rec.ID)
}
