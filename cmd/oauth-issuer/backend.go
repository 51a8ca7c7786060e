package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/giantswarm/oauth-issuer/instrumentation"
	"github.com/giantswarm/oauth-issuer/storage"
	"github.com/giantswarm/oauth-issuer/storage/memory"
	"github.com/giantswarm/oauth-issuer/storage/postgres"
	"github.com/giantswarm/oauth-issuer/storage/valkey"
)

const (
	storageMemory   = "memory"
	storageValkey   = "valkey"
	storagePostgres = "postgres"

	// purgeInterval is how often expired PostgreSQL rows are removed
	purgeInterval = 5 * time.Minute
)

// backend bundles the storage interfaces served by one store
type backend struct {
	kind    string
	clients storage.ClientStore
	codes   storage.CodeStore
	ledger  storage.RefreshTokenLedger

	// purge removes expired rows for stores without native expiry. May be nil.
	purge func(ctx context.Context) (int64, error)
	close func()
}

// openBackend opens the store selected by the storage key. inst may be nil.
func openBackend(ctx context.Context, v *viper.Viper, logger *slog.Logger, inst *instrumentation.Instrumentation) (*backend, error) {
	kind := strings.ToLower(strings.TrimSpace(v.GetString("storage")))

	switch kind {
	case storageMemory, "":
		store := memory.New()
		store.SetLogger(logger)
		if inst != nil {
			store.SetInstrumentation(inst)
		}
		return &backend{
			kind:    storageMemory,
			clients: store,
			codes:   store,
			ledger:  store,
			close:   store.Stop,
		}, nil

	case storageValkey:
		store, err := valkey.New(valkey.Config{
			Address:   v.GetString("valkey-addr"),
			Password:  v.GetString("valkey-password"),
			DB:        v.GetInt("valkey-db"),
			KeyPrefix: v.GetString("valkey-prefix"),
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			kind:    storageValkey,
			clients: store,
			codes:   store,
			ledger:  store,
			close:   store.Close,
		}, nil

	case storagePostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      v.GetString("postgres-dsn"),
			MaxConns: v.GetInt32("postgres-max-conns"),
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return &backend{
			kind:    storagePostgres,
			clients: store,
			codes:   store,
			ledger:  store,
			purge:   store.PurgeExpired,
			close:   store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q (want memory, valkey or postgres)", kind)
	}
}

// runPurge calls b.purge every interval until ctx is done
func (b *backend) runPurge(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if b.purge == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := b.purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("Failed to purge expired records", "storage", b.kind, "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Debug("Purged expired records", "storage", b.kind, "count", n)
			}
		}
	}
}

// seedClients registers clients given as "client_id=redirect_uri" pairs.
// Existing clients with the same ID are replaced.
func seedClients(ctx context.Context, store storage.ClientStore, entries []string) error {
	for _, entry := range entries {
		id, uri, ok := strings.Cut(strings.TrimSpace(entry), "=")
		id = strings.TrimSpace(id)
		uri = strings.TrimSpace(uri)
		if !ok || id == "" || uri == "" {
			return fmt.Errorf("invalid seed-client %q (want client_id=redirect_uri)", entry)
		}
		if err := validateRedirectURI(uri); err != nil {
			return fmt.Errorf("seed-client %s: %w", id, err)
		}

		now := time.Now()
		if err := store.SaveClient(ctx, &storage.Client{
			ClientID:    id,
			RedirectURI: uri,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return fmt.Errorf("seed-client %s: %w", id, err)
		}
	}
	return nil
}
