package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"qbank-server/config"
	"qbank-server/examtype"
	"qbank-server/models"
	"qbank-server/store"
	"qbank-server/store/memory"
	"qbank-server/store/mongodb"
	"qbank-server/store/postgres"
)

// Opener dials the store configured for one exam key.
type Opener func(ctx context.Context, key examtype.Key, cfg config.StoreConfig) (store.Store, error)

// NewOpener returns the production Opener. Memory stores are kept per key so a
// reconnect after eviction or reset sees the same data.
func NewOpener(logger *slog.Logger) Opener {
	var (
		mu  sync.Mutex
		mem = make(map[examtype.Key]*memory.Store)
	)
	return func(ctx context.Context, key examtype.Key, cfg config.StoreConfig) (store.Store, error) {
		switch cfg.Driver {
		case "postgres":
			s, err := postgres.Open(ctx, cfg.URI, logger.With("exam", key))
			if err != nil {
				return nil, err
			}
			return s, nil
		case "mongo":
			s, err := mongodb.Open(ctx, cfg.URI, databaseName(key, cfg), logger.With("exam", key))
			if err != nil {
				return nil, err
			}
			return s, nil
		case "memory":
			mu.Lock()
			defer mu.Unlock()
			s, ok := mem[key]
			if !ok {
				s = memory.New()
				mem[key] = s
			}
			s.Reopen()
			return s, nil
		default:
			return nil, &models.ConfigurationError{ExamType: string(key), Reason: fmt.Sprintf("unknown driver %q", cfg.Driver)}
		}
	}
}

func databaseName(key examtype.Key, cfg config.StoreConfig) string {
	if cfg.Database != "" {
		return cfg.Database
	}
	return "qbank_" + string(key)
}
