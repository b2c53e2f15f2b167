//go:build concurrency

// Package concurrency stresses the engine's write paths and lookups under
// parallel load. Build with -tags concurrency; the suite runs against the
// in-memory backend and is race-detector friendly.
package concurrency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/hiera-registry/internal/catalog"
	"github.com/opsforge/hiera-registry/internal/docstore/memory"
	"github.com/opsforge/hiera-registry/internal/engine"
	"github.com/opsforge/hiera-registry/internal/metrics"
	"github.com/opsforge/hiera-registry/internal/store"
)

type harness struct {
	eng    *engine.Engine
	stores *store.Stores
	keys   *catalog.Keys
	levels *catalog.Levels
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	stores := store.New(memory.NewStore())
	require.NoError(t, stores.EnsureIndexes(ctx))

	keys := catalog.NewKeys()
	levels := catalog.NewLevels()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(stores, catalog.NewModels(), keys, levels, catalog.NewGroups(), logger, metrics.New())

	_, err := eng.CreateLevel(ctx, "nodes/{fqdn}.yaml", 10)
	require.NoError(t, err)
	levels.Set(catalog.Level{ID: "nodes/{fqdn}.yaml", Priority: 10})
	_, err = eng.CreateLevel(ctx, "common.yaml", 100)
	require.NoError(t, err)
	levels.Set(catalog.Level{ID: "common.yaml", Priority: 100})

	_, err = eng.CreateKey(ctx, "ntp_servers", catalog.ModelSimpleString, "")
	require.NoError(t, err)
	keys.Set(catalog.Key{ID: "ntp_servers", KeyModelID: catalog.ModelSimpleString})

	return &harness{eng: eng, stores: stores, keys: keys, levels: levels}
}

// Concurrent creates of the same composite identity: exactly one wins, the
// rest fail with the duplicate kind.
func TestConcurrentCreateSameIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const writers = 16
	var created atomic.Int32
	var duplicates atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := h.eng.CreateLevelData(ctx, "nodes/{fqdn}.yaml", "nodes/web01.yaml", "ntp_servers",
				map[string]string{"fqdn": "web01"}, fmt.Sprintf("ntp-%d", n))
			switch {
			case err == nil:
				created.Add(1)
			case assert.ErrorIs(t, err, engine.ErrDuplicate):
				duplicates.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load(), "exactly one create must win")
	assert.Equal(t, int32(writers-1), duplicates.Load())

	rows, err := h.eng.ListLevelData(ctx, "ntp_servers")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// Lookups run concurrently with writes and never observe torn state: every
// successful result is one of the values some writer stored.
func TestConcurrentLookupsDuringWrites(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.eng.CreateLevelData(ctx, "common.yaml", "common.yaml", "ntp_servers", nil, "pool.ntp.org")
	require.NoError(t, err)

	const readers = 8
	const updates = 50
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < updates; i++ {
			_, err := h.eng.UpdateLevelData(ctx, "common.yaml", "common.yaml", "ntp_servers",
				fmt.Sprintf("ntp-%d.example.com", i))
			assert.NoError(t, err)
		}
	}()

	valid := func(v any) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		if s == "pool.ntp.org" {
			return true
		}
		var n int
		_, err := fmt.Sscanf(s, "ntp-%d.example.com", &n)
		return err == nil
	}

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < updates; i++ {
				got, err := h.eng.Lookup(ctx, "ntp_servers", map[string]string{"fqdn": "web01"}, false)
				if assert.NoError(t, err) {
					assert.True(t, valid(got), "unexpected lookup value %v", got)
				}
			}
		}()
	}
	wg.Wait()

	// The cache settles on the final value
	got, err := h.eng.Lookup(ctx, "ntp_servers", nil, false)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("ntp-%d.example.com", updates-1), got)
}

// Many nodes resolving distinct fact sets in parallel exercise the cache
// fill path without cross-talk.
func TestConcurrentDistinctLookups(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const nodes = 32
	for i := 0; i < nodes; i++ {
		fqdn := fmt.Sprintf("web%02d", i)
		_, err := h.eng.CreateLevelData(ctx, "nodes/{fqdn}.yaml", "nodes/"+fqdn+".yaml", "ntp_servers",
			map[string]string{"fqdn": fqdn}, "ntp."+fqdn)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < nodes; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			fqdn := fmt.Sprintf("web%02d", n)
			for j := 0; j < 10; j++ {
				got, err := h.eng.Lookup(ctx, "ntp_servers", map[string]string{"fqdn": fqdn}, false)
				if assert.NoError(t, err) {
					assert.Equal(t, "ntp."+fqdn, got)
				}
			}
		}(i)
	}
	wg.Wait()
}
