// Package engine implements hierarchical key lookup and the validated
// write paths behind the admin surface. Reads fan out over the level
// registry's priority-ordered snapshot; writes validate through the key
// model registry and drive lookup-cache invalidation after commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsforge/hiera-registry/internal/catalog"
	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/leveltmpl"
	"github.com/opsforge/hiera-registry/internal/metrics"
	"github.com/opsforge/hiera-registry/internal/nodegroup"
	"github.com/opsforge/hiera-registry/internal/schema"
	"github.com/opsforge/hiera-registry/internal/store"
)

// Engine answers lookups and performs validated writes. A process may host
// several independent engines; all state lives in the injected
// collaborators.
type Engine struct {
	stores  *store.Stores
	models  *catalog.Models
	keys    *catalog.Keys
	levels  *catalog.Levels
	groups  *catalog.Groups
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates an engine over the given stores and projections.
func New(stores *store.Stores, models *catalog.Models, keys *catalog.Keys, levels *catalog.Levels, groups *catalog.Groups, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		stores:  stores,
		models:  models,
		keys:    keys,
		levels:  levels,
		groups:  groups,
		logger:  logger.With("component", "engine"),
		metrics: m,
	}
}

// Lookup resolves a key for a fact set. With merge false the
// highest-priority match wins; with merge true every match contributes to a
// deep merge in reverse priority order.
func (e *Engine) Lookup(ctx context.Context, keyID string, facts map[string]string, merge bool) (any, error) {
	start := time.Now()
	result, err := e.lookup(ctx, keyID, facts, merge)
	outcome := "hit"
	switch {
	case errors.Is(err, ErrNoDataFound):
		outcome = "no_data"
	case err != nil:
		outcome = "error"
	}
	e.metrics.RecordLookup(merge, outcome, time.Since(start))
	return result, err
}

func (e *Engine) lookup(ctx context.Context, keyID string, facts map[string]string, merge bool) (any, error) {
	key, ok := e.keys.Get(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	model, err := e.models.Get(key.KeyModelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyModelNotFound, key.KeyModelID)
	}

	cached, err := e.stores.LookupCache.Get(ctx, keyID, merge, facts)
	if err == nil {
		e.metrics.CacheHits.WithLabelValues("lookup").Inc()
		return cached, nil
	}
	if !errors.Is(err, docstore.ErrNoDocument) {
		// Cache trouble must not fail the lookup.
		e.logger.Warn("lookup cache read failed", "key", keyID, "error", err)
	}
	e.metrics.CacheMisses.WithLabelValues("lookup").Inc()

	expanded := e.expandLevels(facts)
	if len(expanded) == 0 {
		return nil, fmt.Errorf("%w: key %s, facts %s", ErrNoDataFound, keyID, leveltmpl.String(facts))
	}

	rows, err := e.stores.LevelData.SearchByKey(ctx, keyID, expanded)
	if err != nil {
		return nil, storeErr(err, ErrNoDataFound)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: key %s, facts %s", ErrNoDataFound, keyID, leveltmpl.String(facts))
	}

	var result any
	if merge {
		result, err = e.mergeRows(model.Validator, rows)
	} else {
		result, err = model.Validator.Validate(rows[0].Data)
	}
	if err != nil {
		return nil, invalid(err)
	}

	if err := e.stores.LookupCache.Put(ctx, keyID, merge, facts, result); err != nil {
		e.logger.Warn("lookup cache write failed", "key", keyID, "error", err)
	}
	return result, nil
}

// expandLevels expands every level the facts can satisfy, in priority
// order. Levels with missing placeholders are skipped, not errors.
func (e *Engine) expandLevels(facts map[string]string) []string {
	levels := e.levels.Ordered()
	seen := make(map[string]bool, len(levels))
	expanded := make([]string, 0, len(levels))
	for _, level := range levels {
		if !leveltmpl.CanExpand(level.ID, facts) {
			continue
		}
		id, err := leveltmpl.Expand(level.ID, facts)
		if err != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			expanded = append(expanded, id)
		}
	}
	return expanded
}

// mergeRows validates every contributing row, then folds them lowest
// precedence first so higher-priority values overwrite. The merged result
// is validated again; uniqueItems arrays get deduped there.
func (e *Engine) mergeRows(v schema.Validator, rows []store.LevelDataRecord) (any, error) {
	validated := make([]any, 0, len(rows))
	for _, row := range rows {
		value, err := v.Validate(row.Data)
		if err != nil {
			return nil, fmt.Errorf("level %q id %q: %w", row.LevelID, row.ExpandedID, err)
		}
		validated = append(validated, value)
	}
	merged := validated[len(validated)-1]
	for i := len(validated) - 2; i >= 0; i-- {
		merged = mergeValues(merged, validated[i])
	}
	return v.Validate(merged)
}

// CreateLevelData validates and stores a new row, then invalidates cached
// lookups that could have seen it.
func (e *Engine) CreateLevelData(ctx context.Context, levelID, expandedID, keyID string, facts map[string]string, data any) (store.LevelDataRecord, error) {
	level, ok := e.levels.Get(levelID)
	if !ok {
		return store.LevelDataRecord{}, fmt.Errorf("%w: %s", ErrLevelNotFound, levelID)
	}
	validated, err := e.validateForKey(keyID, data)
	if err != nil {
		return store.LevelDataRecord{}, err
	}

	normalized := leveltmpl.Normalize(levelID, facts)
	if err := leveltmpl.Validate(levelID, expandedID, normalized); err != nil {
		return store.LevelDataRecord{}, invalid(err)
	}

	rec := store.LevelDataRecord{
		LevelID:    levelID,
		ExpandedID: expandedID,
		KeyID:      keyID,
		Facts:      normalized,
		Data:       validated,
		Priority:   level.Priority,
	}
	if err := e.stores.LevelData.Create(ctx, rec); err != nil {
		return store.LevelDataRecord{}, storeErr(err, ErrDataNotFound)
	}
	e.invalidate(ctx, keyID, normalized)
	return rec, nil
}

// UpdateLevelData replaces a row's data payload.
func (e *Engine) UpdateLevelData(ctx context.Context, levelID, expandedID, keyID string, data any) (store.LevelDataRecord, error) {
	validated, err := e.validateForKey(keyID, data)
	if err != nil {
		return store.LevelDataRecord{}, err
	}
	rec, err := e.stores.LevelData.Update(ctx, levelID, expandedID, keyID, validated)
	if err != nil {
		return store.LevelDataRecord{}, storeErr(err, ErrDataNotFound)
	}
	e.invalidate(ctx, keyID, rec.Facts)
	return rec, nil
}

// DeleteLevelData removes a row.
func (e *Engine) DeleteLevelData(ctx context.Context, levelID, expandedID, keyID string) error {
	rec, err := e.stores.LevelData.Get(ctx, levelID, expandedID, keyID)
	if err != nil {
		return storeErr(err, ErrDataNotFound)
	}
	if err := e.stores.LevelData.Delete(ctx, levelID, expandedID, keyID); err != nil {
		return storeErr(err, ErrDataNotFound)
	}
	e.invalidate(ctx, rec.KeyID, rec.Facts)
	return nil
}

// GetLevelData returns one stored row.
func (e *Engine) GetLevelData(ctx context.Context, levelID, expandedID, keyID string) (store.LevelDataRecord, error) {
	rec, err := e.stores.LevelData.Get(ctx, levelID, expandedID, keyID)
	if err != nil {
		return store.LevelDataRecord{}, storeErr(err, ErrDataNotFound)
	}
	return rec, nil
}

// ListLevelData returns every row stored for a key, priority ascending.
func (e *Engine) ListLevelData(ctx context.Context, keyID string) ([]store.LevelDataRecord, error) {
	if _, ok := e.keys.Get(keyID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	rows, err := e.stores.LevelData.ListByKey(ctx, keyID)
	if err != nil {
		return nil, storeErr(err, ErrDataNotFound)
	}
	return rows, nil
}

// CreateLevel registers a new level. Any cached result may depend on level
// topology, so the whole cache is cleared.
func (e *Engine) CreateLevel(ctx context.Context, levelID string, priority int) (store.LevelRecord, error) {
	rec := store.LevelRecord{ID: levelID, Priority: priority}
	if err := e.stores.Levels.Create(ctx, rec); err != nil {
		return store.LevelRecord{}, storeErr(err, ErrLevelNotFound)
	}
	e.clearCache(ctx)
	return rec, nil
}

// UpdateLevel patches a level. A priority change is rewritten onto every
// row stored under the level.
func (e *Engine) UpdateLevel(ctx context.Context, levelID string, patch store.LevelPatch) (store.LevelRecord, error) {
	rec, err := e.stores.Levels.Update(ctx, levelID, patch)
	if err != nil {
		return store.LevelRecord{}, storeErr(err, ErrLevelNotFound)
	}
	if patch.Priority != nil {
		if _, err := e.stores.LevelData.UpdatePriorityByLevel(ctx, levelID, *patch.Priority); err != nil {
			return store.LevelRecord{}, storeErr(err, ErrLevelNotFound)
		}
	}
	e.clearCache(ctx)
	return rec, nil
}

// DeleteLevel removes a level and all rows stored under it.
func (e *Engine) DeleteLevel(ctx context.Context, levelID string) error {
	if err := e.stores.Levels.Delete(ctx, levelID); err != nil {
		return storeErr(err, ErrLevelNotFound)
	}
	if _, err := e.stores.LevelData.DeleteAllForLevel(ctx, levelID); err != nil {
		return storeErr(err, ErrLevelNotFound)
	}
	e.clearCache(ctx)
	return nil
}

// ListLevels returns every level, priority ascending.
func (e *Engine) ListLevels(ctx context.Context) ([]store.LevelRecord, error) {
	levels, err := e.stores.Levels.List(ctx)
	if err != nil {
		return nil, storeErr(err, ErrLevelNotFound)
	}
	return levels, nil
}

// GetLevel returns one level.
func (e *Engine) GetLevel(ctx context.Context, levelID string) (store.LevelRecord, error) {
	rec, err := e.stores.Levels.Get(ctx, levelID)
	if err != nil {
		return store.LevelRecord{}, storeErr(err, ErrLevelNotFound)
	}
	return rec, nil
}

// CreateKey registers a new key bound to an existing model.
func (e *Engine) CreateKey(ctx context.Context, keyID, keyModelID, description string) (store.KeyRecord, error) {
	if !e.models.Has(keyModelID) {
		return store.KeyRecord{}, fmt.Errorf("%w: %s", ErrKeyModelNotFound, keyModelID)
	}
	rec := store.KeyRecord{ID: keyID, KeyModelID: keyModelID, Description: description}
	if err := e.stores.Keys.Create(ctx, rec); err != nil {
		return store.KeyRecord{}, storeErr(err, ErrKeyNotFound)
	}
	return rec, nil
}

// UpdateKey patches a key. A model change is committed only when every
// stored row for the key validates against the new model; otherwise the key
// keeps its current model.
func (e *Engine) UpdateKey(ctx context.Context, keyID string, patch store.KeyPatch) (store.KeyRecord, error) {
	if patch.KeyModelID != nil {
		model, err := e.models.Get(*patch.KeyModelID)
		if err != nil {
			return store.KeyRecord{}, fmt.Errorf("%w: %s", ErrKeyModelNotFound, *patch.KeyModelID)
		}
		rows, err := e.stores.LevelData.ListByKey(ctx, keyID)
		if err != nil {
			return store.KeyRecord{}, storeErr(err, ErrKeyNotFound)
		}
		for _, row := range rows {
			if _, err := model.Validator.Validate(row.Data); err != nil {
				return store.KeyRecord{}, invalid(fmt.Errorf(
					"existing data at level %q id %q fails model %s: %v",
					row.LevelID, row.ExpandedID, model.ID, err))
			}
		}
	}
	rec, err := e.stores.Keys.Update(ctx, keyID, patch)
	if err != nil {
		return store.KeyRecord{}, storeErr(err, ErrKeyNotFound)
	}
	if patch.KeyModelID != nil {
		e.invalidate(ctx, keyID, nil)
	}
	return rec, nil
}

// DeleteKey removes a key, its stored rows and its cached lookups.
func (e *Engine) DeleteKey(ctx context.Context, keyID string) error {
	if err := e.stores.Keys.Delete(ctx, keyID); err != nil {
		return storeErr(err, ErrKeyNotFound)
	}
	if _, err := e.stores.LevelData.DeleteAllForKey(ctx, keyID); err != nil {
		return storeErr(err, ErrKeyNotFound)
	}
	e.invalidate(ctx, keyID, nil)
	return nil
}

// GetKey returns one key.
func (e *Engine) GetKey(ctx context.Context, keyID string) (store.KeyRecord, error) {
	rec, err := e.stores.Keys.Get(ctx, keyID)
	if err != nil {
		return store.KeyRecord{}, storeErr(err, ErrKeyNotFound)
	}
	return rec, nil
}

// ListKeys returns every key.
func (e *Engine) ListKeys(ctx context.Context) ([]store.KeyRecord, error) {
	keys, err := e.stores.Keys.List(ctx)
	if err != nil {
		return nil, storeErr(err, ErrKeyNotFound)
	}
	return keys, nil
}

// CreateKeyModel compiles and stores a dynamic model. The projection picks
// it up through the change stream.
func (e *Engine) CreateKeyModel(ctx context.Context, id, description string, schemaDoc map[string]any) (store.KeyModelRecord, error) {
	if err := catalog.ValidateDynamicID(id); err != nil {
		return store.KeyModelRecord{}, invalid(err)
	}
	if _, err := schema.Compile(schemaDoc); err != nil {
		return store.KeyModelRecord{}, invalid(err)
	}
	rec := store.KeyModelRecord{ID: id, Description: description, Schema: schemaDoc}
	if err := e.stores.KeyModels.Create(ctx, rec); err != nil {
		return store.KeyModelRecord{}, storeErr(err, ErrKeyModelNotFound)
	}
	return rec, nil
}

// DeleteKeyModel removes a dynamic model unless keys still reference it.
func (e *Engine) DeleteKeyModel(ctx context.Context, id string) error {
	if err := catalog.ValidateDynamicID(id); err != nil {
		return invalid(err)
	}
	refs, err := e.stores.Keys.ListByModel(ctx, id)
	if err != nil {
		return storeErr(err, ErrKeyModelNotFound)
	}
	if len(refs) > 0 {
		return fmt.Errorf("%w: %s referenced by %d keys", ErrModelInUse, id, len(refs))
	}
	if err := e.stores.KeyModels.Delete(ctx, id); err != nil {
		return storeErr(err, ErrKeyModelNotFound)
	}
	return nil
}

// GetKeyModel returns one stored dynamic model.
func (e *Engine) GetKeyModel(ctx context.Context, id string) (store.KeyModelRecord, error) {
	rec, err := e.stores.KeyModels.Get(ctx, id)
	if err != nil {
		return store.KeyModelRecord{}, storeErr(err, ErrKeyModelNotFound)
	}
	return rec, nil
}

// ListKeyModels returns every registered model, built-ins included. Static
// models carry no stored schema document.
func (e *Engine) ListKeyModels(ctx context.Context) ([]store.KeyModelRecord, error) {
	stored, err := e.stores.KeyModels.List(ctx)
	if err != nil {
		return nil, storeErr(err, ErrKeyModelNotFound)
	}
	out := make([]store.KeyModelRecord, 0, len(stored)+4)
	for _, m := range e.models.List(catalog.StaticPrefix) {
		out = append(out, store.KeyModelRecord{ID: m.ID, Description: m.Description})
	}
	out = append(out, stored...)
	return out, nil
}

// UpdateNodeMembership re-evaluates group filters for a node's facts and
// rewrites its membership lists.
func (e *Engine) UpdateNodeMembership(ctx context.Context, node string, facts map[string]any) ([]string, error) {
	matched := nodegroup.MatchingGroups(e.groups.All(), facts)
	if err := e.stores.Groups.SetMembership(ctx, node, matched); err != nil {
		return nil, storeErr(err, ErrDataNotFound)
	}
	return matched, nil
}

// RemoveNode drops a node from every group.
func (e *Engine) RemoveNode(ctx context.Context, node string) error {
	if err := e.stores.Groups.RemoveNode(ctx, node); err != nil {
		return storeErr(err, ErrDataNotFound)
	}
	return nil
}

// validateForKey resolves the key's model and validates a payload.
func (e *Engine) validateForKey(keyID string, data any) (any, error) {
	key, ok := e.keys.Get(keyID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	model, err := e.models.Get(key.KeyModelID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyModelNotFound, key.KeyModelID)
	}
	validated, err := model.Validator.Validate(data)
	if err != nil {
		return nil, invalid(err)
	}
	return validated, nil
}

// invalidate drops cached lookups after a committed write. Best effort: a
// skipped invalidation is recovered by the next write or clear.
func (e *Engine) invalidate(ctx context.Context, keyID string, facts map[string]string) {
	n, err := e.stores.LookupCache.Invalidate(ctx, keyID, facts)
	if err != nil {
		e.logger.Warn("cache invalidation failed", "key", keyID, "error", err)
		return
	}
	e.metrics.CacheInvalidations.WithLabelValues("facts").Inc()
	if n > 0 {
		e.logger.Debug("invalidated cached lookups", "key", keyID, "count", n)
	}
}

func (e *Engine) clearCache(ctx context.Context) {
	n, err := e.stores.LookupCache.ClearAll(ctx)
	if err != nil {
		e.logger.Warn("cache clear failed", "error", err)
		return
	}
	e.metrics.CacheInvalidations.WithLabelValues("all").Inc()
	e.logger.Debug("cleared lookup cache", "count", n)
}
