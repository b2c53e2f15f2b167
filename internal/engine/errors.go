package engine

import (
	"errors"
	"fmt"

	"github.com/opsforge/hiera-registry/internal/docstore"
)

// Engine error kinds. Callers classify with errors.Is; the admin surface
// maps them onto HTTP statuses.
var (
	// ErrNoDataFound means a lookup matched no level-data row.
	ErrNoDataFound = errors.New("no data found")
	// ErrKeyNotFound means the key id is not registered.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyModelNotFound means a key references a model the registry does
	// not hold. Transient while projections catch up; callers may retry.
	ErrKeyModelNotFound = errors.New("key model not found")
	// ErrLevelNotFound means the level id is not registered.
	ErrLevelNotFound = errors.New("level not found")
	// ErrDataNotFound means no level-data row has the composite identity.
	ErrDataNotFound = errors.New("level data not found")
	// ErrInvalidData means schema validation or level-id expansion failed.
	ErrInvalidData = errors.New("invalid data")
	// ErrDuplicate means a unique key collided on write.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrModelInUse means a model cannot be deleted while keys reference it.
	ErrModelInUse = errors.New("key model in use")
	// ErrBackendUnavailable means store I/O failed. The engine does not
	// retry; retry policy belongs to the caller.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// storeErr translates docstore sentinels into engine error kinds. notFound
// names the kind a missing document maps to for the failing operation.
func storeErr(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNoDocument):
		return notFound
	case errors.Is(err, docstore.ErrDuplicateKey):
		return ErrDuplicate
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidData, err)
}
