// Package velocity enforces per-tenant batch submission rates.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultWindow is the sliding window for submission counting.
const DefaultWindow = time.Minute

// Limiter counts batch submissions per tenant in cache-backed windows.
// With the Redis cache the count is shared across nodes, so the limit
// holds cluster-wide.
type Limiter struct {
	cache  domain.Cache
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter allowing limit submissions per window.
// A limit of zero or less disables limiting.
func NewLimiter(cache domain.Cache, limit int) *Limiter {
	return &Limiter{
		cache:  cache,
		limit:  limit,
		window: DefaultWindow,
	}
}

// Allow reports whether the tenant may submit another batch now.
// Cache failures fail open: an unreachable counter backend must not
// block the analysis path.
func (l *Limiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	if l == nil || l.limit <= 0 || l.cache == nil {
		return true, nil
	}
	if tenantID == "" {
		return false, fmt.Errorf("tenantID is required")
	}

	count, err := l.cache.IncrementCounter(ctx, tenantID, "submissions", l.window)
	if err != nil {
		slog.Warn("submission counter unavailable", "tenant_id", tenantID, "error", err)
		return true, nil
	}

	return count <= int64(l.limit), nil
}

// Limit returns the configured submissions-per-window limit.
func (l *Limiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.limit
}
