package repository

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
	"github.com/mohammad-safakhou/articleflow/repository/redis_repository"
)

// Repositories bundles the state store the orchestrator uses and the
// optional progress cache.
type Repositories struct {
	State    core.StateStore
	Progress *redis_repository.ProgressRepository
	closeFn  func() error
}

// Close releases the redis client, if any.
func (r Repositories) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}

// New wraps primary with the redis mirror when redis is configured. Without
// redis the primary store is used directly and Progress is nil.
func New(ctx context.Context, cfg config.RedisConfig, primary core.StateStore, logger logrus.FieldLogger) (Repositories, error) {
	if !cfg.Enabled() {
		return Repositories{State: primary}, nil
	}
	c, err := redis_repository.Conn(ctx, cfg)
	if err != nil {
		return Repositories{}, err
	}
	return Repositories{
		State:    redis_repository.NewStateMirror(primary, c, cfg.TTL, logger),
		Progress: redis_repository.NewProgressRepository(c, cfg.TTL),
		closeFn:  c.Close,
	}, nil
}
