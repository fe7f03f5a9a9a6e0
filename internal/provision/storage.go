package provision

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"nithronos/poolwizard/internal/kvstore"
)

// StorageConfigKey holds the storage configuration of the last successful run.
const StorageConfigKey = "nos.storageConfig"

type StorageConfig struct {
	DataDisks    []string  `json:"dataDisks"`
	ParityDisk   *string   `json:"parityDisk"`
	CacheDisk    *string   `json:"cacheDisk"`
	PoolMount    string    `json:"poolMount"`
	ConfiguredAt time.Time `json:"configuredAt"`
}

func SaveStorageConfig(ctx context.Context, store kvstore.Store, sc StorageConfig) error {
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return store.Put(ctx, StorageConfigKey, b)
}

// LoadStorageConfig returns nil when no pool has been configured yet.
func LoadStorageConfig(ctx context.Context, store kvstore.Store) (*StorageConfig, error) {
	b, err := store.Get(ctx, StorageConfigKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sc StorageConfig
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
