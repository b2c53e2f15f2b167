package conformance

import (
	"testing"

	"github.com/opsforge/hiera-registry/internal/docstore"
	"github.com/opsforge/hiera-registry/internal/docstore/memory"
)

func TestMemoryConformance(t *testing.T) {
	RunAll(t, func(t *testing.T) docstore.Store {
		return memory.NewStore()
	})
}
