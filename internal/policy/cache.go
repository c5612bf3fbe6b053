package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reverb-labs/schedcore/internal/model"
)

// cachedProvider is a read-through Redis cache in front of another provider.
// Policies change rarely and are read on every scheduling request, so a short
// TTL takes the store off the hot path without risking stale work hours for
// long.
type cachedProvider struct {
	next   Provider
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(next Provider, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) Provider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &cachedProvider{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(tenantID string) string {
	return "policy:" + tenantID
}

func (p *cachedProvider) PolicyFor(ctx context.Context, tenantID string) (model.TenantPolicy, error) {
	if raw, err := p.rdb.Get(ctx, cacheKey(tenantID)).Bytes(); err == nil {
		var pol model.TenantPolicy
		if err := json.Unmarshal(raw, &pol); err == nil && pol.Validate() == nil {
			return pol, nil
		}
		// Unreadable cache entries are dropped, not served.
		_ = p.rdb.Del(ctx, cacheKey(tenantID)).Err()
	} else if err != redis.Nil {
		p.logger.Warn("policy cache read failed", "err", err, "tenant_id", tenantID)
	}

	pol, err := p.next.PolicyFor(ctx, tenantID)
	if err != nil {
		return model.TenantPolicy{}, err
	}
	if raw, err := json.Marshal(pol); err == nil {
		if err := p.rdb.Set(ctx, cacheKey(tenantID), raw, p.ttl).Err(); err != nil {
			p.logger.Warn("policy cache write failed", "err", err, "tenant_id", tenantID)
		}
	}
	return pol, nil
}

// Invalidate drops a tenant's cached policy, called after a policy update so
// the next request sees the new schedule immediately.
func (p *cachedProvider) Invalidate(ctx context.Context, tenantID string) error {
	return p.rdb.Del(ctx, cacheKey(tenantID)).Err()
}
