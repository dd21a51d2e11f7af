package storage

import (
	"fmt"
)

// New creates a Store based on the configuration
func New(config Config) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(config), nil
	case StoreTypeSQLite, StoreTypeMySQL, StoreTypePostgres:
		return NewGormStore(config)
	case StoreTypeRedis:
		return NewRedisStore(config)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// MustNew creates a Store or panics on error.
//
// WARNING: This function should ONLY be used during application initialization
// (e.g., in main() or init()). For runtime store creation, use New instead.
func MustNew(config Config) Store {
	store, err := New(config)
	if err != nil {
		panic(fmt.Sprintf("failed to create store: %v", err))
	}
	return store
}
