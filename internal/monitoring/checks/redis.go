package checks

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/charlesng35/walletrecovery/internal/monitoring"
)

// Redis probes the redis deployment used by the document store or the rate limit cache.
// A nil client means redis is not part of this deployment and reports up.
func Redis(client redis.UniversalClient) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}
		return monitoring.ResultFromError("redis", client.Ping(ctx).Err(), time.Since(start))
	})
}
