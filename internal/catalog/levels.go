package catalog

import (
	"sort"
	"sync"
)

// Level is the projection of a stored level: a template id and its
// priority. Lower priority numbers win.
type Level struct {
	ID       string
	Priority int
}

// Levels mirrors the levels collection and serves priority-ordered
// snapshots to the lookup path.
type Levels struct {
	mu      sync.RWMutex
	byID    map[string]Level
	ordered []Level
}

// NewLevels creates an empty level projection.
func NewLevels() *Levels {
	return &Levels{byID: make(map[string]Level)}
}

// Set registers or replaces a level and reorders the snapshot.
func (l *Levels) Set(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID[level.ID] = level
	l.reorder()
}

// Delete removes a level and reorders the snapshot.
func (l *Levels) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byID, id)
	l.reorder()
}

// Get returns the level for an id.
func (l *Levels) Get(id string) (Level, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	level, ok := l.byID[id]
	return level, ok
}

// Ordered returns the levels sorted ascending by priority. The returned
// slice is a snapshot; callers may hold it across a whole lookup.
func (l *Levels) Ordered() []Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Level, len(l.ordered))
	copy(out, l.ordered)
	return out
}

func (l *Levels) reorder() {
	ordered := make([]Level, 0, len(l.byID))
	for _, level := range l.byID {
		ordered = append(ordered, level)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	l.ordered = ordered
}
