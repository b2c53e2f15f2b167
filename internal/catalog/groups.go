package catalog

import (
	"sort"
	"sync"

	"github.com/opsforge/hiera-registry/internal/nodegroup"
)

// Groups mirrors the node-groups collection so membership can be
// recomputed without a store round trip per group.
type Groups struct {
	mu   sync.RWMutex
	byID map[string]nodegroup.Group
}

// NewGroups creates an empty group projection.
func NewGroups() *Groups {
	return &Groups{byID: make(map[string]nodegroup.Group)}
}

// Set registers or replaces a group.
func (g *Groups) Set(group nodegroup.Group) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.byID[group.ID] = group
}

// Delete removes a group.
func (g *Groups) Delete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.byID, id)
}

// All returns a snapshot of the groups sorted by id.
func (g *Groups) All() []nodegroup.Group {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]nodegroup.Group, 0, len(g.byID))
	for _, group := range g.byID {
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
