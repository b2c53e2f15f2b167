// Package store provides typed adapters over the document store for the
// registry's collections: key models, keys, levels, level data, the lookup
// cache and node groups. It owns document layout and index creation;
// callers deal in records.
package store

import (
	"fmt"
	"sort"

	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/nodegroup"
)

// Collection names.
const (
	CollKeyModels   = "hiera_key_models"
	CollKeys        = "hiera_keys"
	CollLevels      = "hiera_levels"
	CollLevelData   = "hiera_level_data"
	CollLookupCache = "hiera_lookup_cache"
	CollNodeGroups  = "nodes_groups"
)

// KeyModelRecord is a stored dynamic key model.
type KeyModelRecord struct {
	ID          string         `json:"id"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"model"`
}

// KeyRecord is a stored key.
type KeyRecord struct {
	ID          string `json:"id"`
	KeyModelID  string `json:"key_model_id"`
	Description string `json:"description,omitempty"`
	Deprecated  bool   `json:"deprecated"`
}

// LevelRecord is a stored level.
type LevelRecord struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
}

// LevelDataRecord is one concrete value of a key within a level. Identity
// is the composite (LevelID, ExpandedID, KeyID); Priority is denormalised
// from the level for query-time ordering.
type LevelDataRecord struct {
	LevelID    string            `json:"level_id"`
	ExpandedID string            `json:"id"`
	KeyID      string            `json:"key_id"`
	Facts      map[string]string `json:"facts"`
	Data       any               `json:"data"`
	Priority   int               `json:"priority"`
}

// GroupRecord is a stored node group.
type GroupRecord struct {
	ID      string                 `json:"id"`
	Filters []nodegroup.FilterRule `json:"filters,omitempty"`
	Nodes   []string               `json:"nodes,omitempty"`
	Teams   []string               `json:"teams,omitempty"`
}

// FactPair is one entry of the canonical sorted-facts form used by the
// lookup cache.
type FactPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// NormalizeFacts renders a fact map as the canonical sorted pair list, so
// equal fact maps serialise identically.
func NormalizeFacts(facts map[string]string) []FactPair {
	pairs := make([]FactPair, 0, len(facts))
	for k, v := range facts {
		pairs = append(pairs, FactPair{Key: k, Value: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs
}

func factsToDoc(facts map[string]string) map[string]any {
	out := make(map[string]any, len(facts))
	for k, v := range facts {
		out[k] = v
	}
	return out
}

func docToFacts(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, vv := range m {
		if s, ok := vv.(string); ok {
			out[k] = s
		}
	}
	return out
}

func factPairsToDoc(pairs []FactPair) []any {
	out := make([]any, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, map[string]any{"key": p.Key, "value": p.Value})
	}
	return out
}

func docString(doc docstore.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}

func docBool(doc docstore.Document, field string) bool {
	b, _ := doc[field].(bool)
	return b
}

func docInt(doc docstore.Document, field string) int {
	switch n := doc[field].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func docStrings(doc docstore.Document, field string) []string {
	arr, ok := doc[field].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DecodeLevelData converts a stored document into a record. Used by the
// adapters and by change-stream consumers.
func DecodeLevelData(doc docstore.Document) LevelDataRecord { return docToLevelData(doc) }

// DecodeLevel converts a stored document into a record.
func DecodeLevel(doc docstore.Document) LevelRecord { return docToLevel(doc) }

// DecodeKey converts a stored document into a record.
func DecodeKey(doc docstore.Document) KeyRecord { return docToKey(doc) }

// DecodeKeyModel converts a stored document into a record.
func DecodeKeyModel(doc docstore.Document) (KeyModelRecord, error) { return docToKeyModel(doc) }

// DecodeGroup converts a stored document into a record.
func DecodeGroup(doc docstore.Document) GroupRecord { return docToGroup(doc) }

func docToLevelData(doc docstore.Document) LevelDataRecord {
	return LevelDataRecord{
		LevelID:    docString(doc, "level_id"),
		ExpandedID: docString(doc, "id"),
		KeyID:      docString(doc, "key_id"),
		Facts:      docToFacts(doc["facts"]),
		Data:       doc["data"],
		Priority:   docInt(doc, "priority"),
	}
}

func docToLevel(doc docstore.Document) LevelRecord {
	return LevelRecord{ID: docString(doc, "id"), Priority: docInt(doc, "priority")}
}

func docToKey(doc docstore.Document) KeyRecord {
	return KeyRecord{
		ID:          docString(doc, "id"),
		KeyModelID:  docString(doc, "key_model_id"),
		Description: docString(doc, "description"),
		Deprecated:  docBool(doc, "deprecated"),
	}
}

func docToKeyModel(doc docstore.Document) (KeyModelRecord, error) {
	schemaDoc, ok := doc["model"].(map[string]any)
	if !ok {
		return KeyModelRecord{}, fmt.Errorf("key model %q has no schema document", docString(doc, "id"))
	}
	return KeyModelRecord{
		ID:          docString(doc, "id"),
		Description: docString(doc, "description"),
		Schema:      schemaDoc,
	}, nil
}

func docToGroup(doc docstore.Document) GroupRecord {
	rec := GroupRecord{
		ID:    docString(doc, "id"),
		Nodes: docStrings(doc, "nodes"),
		Teams: docStrings(doc, "teams"),
	}
	filters, ok := doc["filters"].([]any)
	if !ok {
		return rec
	}
	for _, f := range filters {
		fm, ok := f.(map[string]any)
		if !ok {
			continue
		}
		var rule nodegroup.FilterRule
		parts, _ := fm["part"].([]any)
		for _, p := range parts {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			rule.Part = append(rule.Part, nodegroup.FilterPart{
				Fact:   docString(pm, "fact"),
				Values: docStrings(pm, "values"),
			})
		}
		rec.Filters = append(rec.Filters, rule)
	}
	return rec
}
