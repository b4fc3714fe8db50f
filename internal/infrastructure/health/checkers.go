package health

import (
	"context"

	"github.com/go-redis/redis/v8"

	"github.com/avatarctic/email-verification/internal/core/ports"
	infraDB "github.com/avatarctic/email-verification/internal/infrastructure/db"
)

// pingChecker reports a dependency healthy when its ping succeeds.
type pingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (p *pingChecker) Name() string                    { return p.name }
func (p *pingChecker) Check(ctx context.Context) error { return p.ping(ctx) }

// NewDBHealthChecker creates a health checker for the Postgres session store.
func NewDBHealthChecker(db *infraDB.Database) ports.HealthChecker {
	return &pingChecker{name: "database", ping: db.DB.PingContext}
}

// NewRedisHealthChecker creates a health checker for the Redis session store.
func NewRedisHealthChecker(client *redis.Client) ports.HealthChecker {
	return &pingChecker{name: "redis", ping: func(ctx context.Context) error { return client.Ping(ctx).Err() }}
}

// NewEmailHealthChecker reports the configured email provider. Providers are not
// probed over the network, so the check only fails when no dispatcher is wired.
func NewEmailHealthChecker(provider string, dispatcher ports.EmailDispatcher) ports.HealthChecker {
	return &pingChecker{name: "email:" + provider, ping: func(ctx context.Context) error {
		if dispatcher == nil {
			return errNoDispatcher
		}
		return nil
	}}
}
