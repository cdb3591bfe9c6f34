package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tagtimer/pkg/logx"
)

// Store is the persistence API used by the estimator, the world loader and
// the notifier. Name arguments are normalized by the store.
type Store interface {
	GetNation(ctx context.Context, name string) (Nation, error)
	GetRegion(ctx context.Context, name string) (Region, error)
	CountNations(ctx context.Context) (int, error)
	CountRegions(ctx context.Context) (int, error)
	// ListRegions returns regions in update order (by FirstIndex, unknown
	// last). limit <= 0 means all.
	ListRegions(ctx context.Context, limit int) ([]Region, error)
	ReplaceWorld(ctx context.Context, w World) error
	// LastIngest reports when ReplaceWorld last succeeded.
	LastIngest(ctx context.Context) (time.Time, bool, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

const DefaultPath = "./tagtimer.db"

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Path) == "" {
			cfg.Path = DefaultPath
		}
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
