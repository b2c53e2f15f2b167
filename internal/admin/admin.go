// Package admin is the coordination surface for operators: it validates
// inputs, routes to the engine, and tags failures with error kinds. It holds
// no state of its own.
package admin

import (
	"context"
	"log/slog"

	"github.com/opsforge/hiera-registry/internal/engine"
	"github.com/opsforge/hiera-registry/internal/store"
)

// Admin coordinates validated administrative operations over one engine.
type Admin struct {
	engine *engine.Engine
	logger *slog.Logger
}

// New creates an admin surface over an engine.
func New(eng *engine.Engine, logger *slog.Logger) *Admin {
	return &Admin{engine: eng, logger: logger.With("component", "admin")}
}

// Lookup resolves a key for a fact set.
func (a *Admin) Lookup(ctx context.Context, keyID string, facts map[string]string, merge bool) (any, error) {
	if keyID == "" {
		return nil, invalidInput("key id must not be empty")
	}
	value, err := a.engine.Lookup(ctx, keyID, facts, merge)
	return value, wrap(err)
}

// CreateKeyModel registers a dynamic model.
func (a *Admin) CreateKeyModel(ctx context.Context, id, description string, schemaDoc map[string]any) (store.KeyModelRecord, error) {
	if id == "" {
		return store.KeyModelRecord{}, invalidInput("key model id must not be empty")
	}
	if schemaDoc == nil {
		return store.KeyModelRecord{}, invalidInput("key model %s has no schema document", id)
	}
	rec, err := a.engine.CreateKeyModel(ctx, id, description, schemaDoc)
	if err == nil {
		a.logger.Info("key model created", "model", id)
	}
	return rec, wrap(err)
}

// GetKeyModel returns a stored dynamic model.
func (a *Admin) GetKeyModel(ctx context.Context, id string) (store.KeyModelRecord, error) {
	rec, err := a.engine.GetKeyModel(ctx, id)
	return rec, wrap(err)
}

// ListKeyModels returns every model, built-ins first.
func (a *Admin) ListKeyModels(ctx context.Context) ([]store.KeyModelRecord, error) {
	recs, err := a.engine.ListKeyModels(ctx)
	return recs, wrap(err)
}

// DeleteKeyModel removes an unreferenced dynamic model.
func (a *Admin) DeleteKeyModel(ctx context.Context, id string) error {
	err := a.engine.DeleteKeyModel(ctx, id)
	if err == nil {
		a.logger.Info("key model deleted", "model", id)
	}
	return wrap(err)
}

// CreateKey registers a key bound to a model.
func (a *Admin) CreateKey(ctx context.Context, keyID, keyModelID, description string) (store.KeyRecord, error) {
	if keyID == "" {
		return store.KeyRecord{}, invalidInput("key id must not be empty")
	}
	if keyModelID == "" {
		return store.KeyRecord{}, invalidInput("key %s has no key model id", keyID)
	}
	rec, err := a.engine.CreateKey(ctx, keyID, keyModelID, description)
	if err == nil {
		a.logger.Info("key created", "key", keyID, "model", keyModelID)
	}
	return rec, wrap(err)
}

// GetKey returns one key.
func (a *Admin) GetKey(ctx context.Context, keyID string) (store.KeyRecord, error) {
	rec, err := a.engine.GetKey(ctx, keyID)
	return rec, wrap(err)
}

// ListKeys returns every key.
func (a *Admin) ListKeys(ctx context.Context) ([]store.KeyRecord, error) {
	recs, err := a.engine.ListKeys(ctx)
	return recs, wrap(err)
}

// UpdateKey patches a key.
func (a *Admin) UpdateKey(ctx context.Context, keyID string, patch store.KeyPatch) (store.KeyRecord, error) {
	if keyID == "" {
		return store.KeyRecord{}, invalidInput("key id must not be empty")
	}
	rec, err := a.engine.UpdateKey(ctx, keyID, patch)
	if err == nil && patch.KeyModelID != nil {
		a.logger.Info("key model changed", "key", keyID, "model", *patch.KeyModelID)
	}
	return rec, wrap(err)
}

// DeleteKey removes a key and its stored data.
func (a *Admin) DeleteKey(ctx context.Context, keyID string) error {
	err := a.engine.DeleteKey(ctx, keyID)
	if err == nil {
		a.logger.Info("key deleted", "key", keyID)
	}
	return wrap(err)
}

// CreateLevel registers a level.
func (a *Admin) CreateLevel(ctx context.Context, levelID string, priority int) (store.LevelRecord, error) {
	if levelID == "" {
		return store.LevelRecord{}, invalidInput("level id must not be empty")
	}
	rec, err := a.engine.CreateLevel(ctx, levelID, priority)
	if err == nil {
		a.logger.Info("level created", "level", levelID, "priority", priority)
	}
	return rec, wrap(err)
}

// GetLevel returns one level.
func (a *Admin) GetLevel(ctx context.Context, levelID string) (store.LevelRecord, error) {
	rec, err := a.engine.GetLevel(ctx, levelID)
	return rec, wrap(err)
}

// ListLevels returns every level, priority ascending.
func (a *Admin) ListLevels(ctx context.Context) ([]store.LevelRecord, error) {
	recs, err := a.engine.ListLevels(ctx)
	return recs, wrap(err)
}

// UpdateLevel patches a level.
func (a *Admin) UpdateLevel(ctx context.Context, levelID string, patch store.LevelPatch) (store.LevelRecord, error) {
	if levelID == "" {
		return store.LevelRecord{}, invalidInput("level id must not be empty")
	}
	rec, err := a.engine.UpdateLevel(ctx, levelID, patch)
	if err == nil && patch.Priority != nil {
		a.logger.Info("level priority changed", "level", levelID, "priority", *patch.Priority)
	}
	return rec, wrap(err)
}

// DeleteLevel removes a level and its rows.
func (a *Admin) DeleteLevel(ctx context.Context, levelID string) error {
	err := a.engine.DeleteLevel(ctx, levelID)
	if err == nil {
		a.logger.Info("level deleted", "level", levelID)
	}
	return wrap(err)
}

// CreateLevelData stores a value for a key within a level.
func (a *Admin) CreateLevelData(ctx context.Context, levelID, expandedID, keyID string, facts map[string]string, data any) (store.LevelDataRecord, error) {
	if levelID == "" || expandedID == "" || keyID == "" {
		return store.LevelDataRecord{}, invalidInput("level data identity (level, expanded id, key) must be complete")
	}
	rec, err := a.engine.CreateLevelData(ctx, levelID, expandedID, keyID, facts, data)
	return rec, wrap(err)
}

// GetLevelData returns one stored row.
func (a *Admin) GetLevelData(ctx context.Context, levelID, expandedID, keyID string) (store.LevelDataRecord, error) {
	rec, err := a.engine.GetLevelData(ctx, levelID, expandedID, keyID)
	return rec, wrap(err)
}

// ListLevelData returns every row for a key.
func (a *Admin) ListLevelData(ctx context.Context, keyID string) ([]store.LevelDataRecord, error) {
	recs, err := a.engine.ListLevelData(ctx, keyID)
	return recs, wrap(err)
}

// UpdateLevelData replaces a row's data.
func (a *Admin) UpdateLevelData(ctx context.Context, levelID, expandedID, keyID string, data any) (store.LevelDataRecord, error) {
	rec, err := a.engine.UpdateLevelData(ctx, levelID, expandedID, keyID, data)
	return rec, wrap(err)
}

// DeleteLevelData removes a row.
func (a *Admin) DeleteLevelData(ctx context.Context, levelID, expandedID, keyID string) error {
	return wrap(a.engine.DeleteLevelData(ctx, levelID, expandedID, keyID))
}

// UpdateNodeMembership re-evaluates group filters for a node and rewrites
// its memberships. Returns the matched group ids.
func (a *Admin) UpdateNodeMembership(ctx context.Context, node string, facts map[string]any) ([]string, error) {
	if node == "" {
		return nil, invalidInput("node name must not be empty")
	}
	matched, err := a.engine.UpdateNodeMembership(ctx, node, facts)
	return matched, wrap(err)
}

// RemoveNode drops a node from every group.
func (a *Admin) RemoveNode(ctx context.Context, node string) error {
	if node == "" {
		return invalidInput("node name must not be empty")
	}
	return wrap(a.engine.RemoveNode(ctx, node))
}
