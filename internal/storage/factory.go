// Package storage selects and constructs the document store backend.
package storage

import (
	"fmt"
	"log/slog"

	"github.com/opsforge/hiera-registry/internal/config"
	"github.com/opsforge/hiera-registry/internal/docstore"
)

// Type represents the type of storage backend.
type Type string

const (
	TypeMemory   Type = "memory"
	TypePostgres Type = "postgresql"
)

// Factory is a function type that creates a document store.
type Factory func(cfg *config.Config, logger *slog.Logger) (docstore.Store, error)

// factories holds registered storage factories.
var factories = make(map[Type]Factory)

// Register registers a storage factory.
func Register(storageType Type, factory Factory) {
	factories[storageType] = factory
}

// Create creates a document store for the configured backend type.
func Create(cfg *config.Config, logger *slog.Logger) (docstore.Store, error) {
	factory, ok := factories[Type(cfg.Storage.Type)]
	if !ok {
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
	return factory(cfg, logger)
}

// SupportedTypes returns a list of supported storage types.
func SupportedTypes() []Type {
	types := make([]Type, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	return types
}

// IsSupported returns true if the storage type is supported.
func IsSupported(storageType Type) bool {
	_, ok := factories[storageType]
	return ok
}
