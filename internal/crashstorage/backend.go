package crashstorage

import (
	"context"
	"errors"
	"fmt"

	"crashproc/internal/config"
)

// Backend bundles the configured store with every processed crash
// destination.
type Backend struct {
	Store Store
	// Destination saves to Store and, when configured, the Postgres index.
	Destination Destination

	closers []func() error
}

// Open builds the backend described by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (*Backend, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Backend {
	case config.BackendFS:
		store, err = NewFSStore(cfg.FS.Root)
	case config.BackendS3:
		store, err = NewS3Store(cfg.S3)
	default:
		err = fmt.Errorf("%w: %q", config.ErrInvalidStorageBackend, cfg.Backend)
	}

	if err != nil {
		return nil, err
	}

	b := &Backend{Store: store, Destination: store}

	if cfg.Postgres.DSN != "" {
		index, err := NewPostgresIndex(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}

		b.Destination = MultiDestination{store, index}
		b.closers = append(b.closers, index.Close)
	}

	return b, nil
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	var errs []error

	for _, c := range b.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
