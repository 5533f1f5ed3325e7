// Package storage selects the relational backend for the ledger, audit log
// and role store.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jcmexdev/invoice-gateway/internal/invoicing/core/ports"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/storage/postgres"
	"github.com/jcmexdev/invoice-gateway/internal/invoicing/infra/adapters/storage/sqlite"
	"github.com/jcmexdev/invoice-gateway/internal/pkg/config"
)

// Store is everything the service and the admin commands need from the
// database.
type Store interface {
	ports.Ledger
	ports.AuditStore
	ports.RoleStore

	GrantRole(ctx context.Context, userID, role string, at time.Time) error
	RevokeRole(ctx context.Context, userID, role string, at time.Time) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open connects to the configured backend.
func Open(ctx context.Context, cfg config.Database) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("storage: create %s: %w", dir, err)
			}
		}
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := postgres.Open(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
