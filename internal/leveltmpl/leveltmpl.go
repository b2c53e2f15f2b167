// Package leveltmpl parses and expands level identifiers. A level id is a
// free string with zero or more {name} placeholders that are substituted
// from a fact map, e.g. "stage/{stage}.yaml".
package leveltmpl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/opsforge/hiera-registry/internal/cache"
	"github.com/opsforge/hiera-registry/internal/metrics"
)

// ErrMissingFact is returned by Expand when a placeholder has no fact.
var ErrMissingFact = errors.New("missing fact")

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Level ids recur on every lookup fan-out; the parsed placeholder lists are
// memoised. The cache is the one package-level mutable in this repo: the
// parse is deterministic, so a stale or shared entry cannot be wrong, and
// the LRU bound plus TTL cap its footprint.
var templates = cache.NewTemplateCache(4096, time.Hour)

// StartCleanup evicts expired template entries every interval until ctx is
// cancelled, publishing the cache size as a projection gauge.
func StartCleanup(ctx context.Context, interval time.Duration, m *metrics.Metrics) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				templates.CleanupExpired()
				m.ProjectionSize.WithLabelValues("level_templates").Set(float64(templates.Stats().Size))
			}
		}
	}()
}

// Placeholders returns the placeholder names of a level id in order of first
// appearance, without duplicates.
func Placeholders(levelID string) []string {
	if names, ok := templates.Get(levelID); ok {
		return names
	}
	names := parsePlaceholders(levelID)
	templates.Set(levelID, names)
	return names
}

func parsePlaceholders(levelID string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(levelID, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Expand substitutes every placeholder from facts. A level id without
// placeholders expands to itself.
func Expand(levelID string, facts map[string]string) (string, error) {
	var missing string
	expanded := placeholderPattern.ReplaceAllStringFunc(levelID, func(token string) string {
		name := token[1 : len(token)-1]
		value, ok := facts[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return token
		}
		return value
	})
	if missing != "" {
		return "", fmt.Errorf("%w %q for level %q", ErrMissingFact, missing, levelID)
	}
	return expanded, nil
}

// CanExpand reports whether facts carry every placeholder of the level id.
func CanExpand(levelID string, facts map[string]string) bool {
	for _, name := range Placeholders(levelID) {
		if _, ok := facts[name]; !ok {
			return false
		}
	}
	return true
}

// Normalize returns the subset of facts that are placeholders of the level
// id. Stored rows keep exactly the facts that produced their expanded id.
func Normalize(levelID string, facts map[string]string) map[string]string {
	names := Placeholders(levelID)
	out := make(map[string]string, len(names))
	for _, name := range names {
		if value, ok := facts[name]; ok {
			out[name] = value
		}
	}
	return out
}

// Validate checks that an expanded id matches the expansion of the level id
// under the given facts.
func Validate(levelID, expandedID string, facts map[string]string) error {
	expanded, err := Expand(levelID, facts)
	if err != nil {
		return err
	}
	if expanded != expandedID {
		return fmt.Errorf("expanded id %q does not match expansion %q of level %q",
			expandedID, expanded, levelID)
	}
	return nil
}

// String renders a fact map deterministically for log lines.
func String(facts map[string]string) string {
	if len(facts) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(facts))
	for k, v := range facts {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}
