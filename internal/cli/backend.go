package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/config"
	"github.com/leanspace/flowboard/pkg/errors"
	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/persist"
	"github.com/leanspace/flowboard/pkg/persist/mongostore"
	"github.com/leanspace/flowboard/pkg/persist/redisstore"
	"github.com/leanspace/flowboard/pkg/persist/sqlstore"
)

// openBackend connects to the storage backend named in cfg. The memory
// backend starts empty.
func openBackend(ctx context.Context, cfg config.PersistConfig, logger *log.Logger) (persist.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return persist.NewMemory(graph.Graph{}), nil
	case config.BackendSQLite:
		return sqlstore.OpenSQLite(ctx, expandHome(cfg.DSN))
	case config.BackendPostgres:
		return sqlstore.OpenPostgres(ctx, cfg.DSN)
	case config.BackendRedis:
		return redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.DSN,
			Password: cfg.Password,
			Prefix:   cfg.Prefix,
			Logger:   logger,
		})
	case config.BackendMongo:
		return mongostore.Open(ctx, mongostore.Config{
			URI:      cfg.DSN,
			Database: cfg.Database,
			Logger:   logger,
		})
	}
	return nil, errors.New(errors.ErrCodeInvalidConfig, "unknown backend %q", cfg.Backend)
}

// describeBackend returns a short label for log lines. Credentials in DSNs
// are not printed.
func describeBackend(cfg config.PersistConfig) string {
	if cfg.Backend == config.BackendSQLite {
		return cfg.Backend + ":" + expandHome(cfg.DSN)
	}
	return cfg.Backend
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}

// closeBackend closes b and logs a failure instead of returning it, for use
// in defers.
func closeBackend(b persist.Backend, logger *log.Logger) {
	if err := b.Close(); err != nil {
		logger.Warn("close backend", "err", err)
	}
}
