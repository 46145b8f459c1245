package store

import (
	"context"
	"fmt"

	"github.com/quantai/surveyflow/internal/config"
	"github.com/quantai/surveyflow/internal/db"
)

// New creates the store selected by STORE_TYPE.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreType {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("database unreachable: %w", err)
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.StoreType)
	}
}
