package checks

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/charlesng35/walletrecovery/internal/monitoring"
)

// HeightSource reports the latest final block height.
type HeightSource interface {
	LatestBlockHeight(ctx context.Context) (uint64, error)
}

// Chain verifies the RPC node answers and has produced at least one block.
func Chain(source HeightSource) monitoring.Check {
	return monitoring.NewCheck("chain", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if source == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "chain client not configured"}
		}

		height, err := source.LatestBlockHeight(ctx)
		if err == nil && height == 0 {
			err = errors.New("node reported block height 0")
		}
		if err != nil {
			return monitoring.ResultFromError("chain", err, time.Since(start))
		}
		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  "height " + strconv.FormatUint(height, 10),
			Duration: time.Since(start),
		}
	})
}
