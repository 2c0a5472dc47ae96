package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/walletrecovery/internal/app/maintenance"
	"github.com/charlesng35/walletrecovery/internal/chain/chaintest"
	testutil "github.com/charlesng35/walletrecovery/internal/database/testutil"
	"github.com/charlesng35/walletrecovery/internal/monitoring"
	"github.com/charlesng35/walletrecovery/internal/monitoring/checks"
)

func staticCheck(name string, status monitoring.ProbeStatus) monitoring.Check {
	return monitoring.NewCheck(name, func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: status}
	})
}

func TestHealthManagerEvaluate(t *testing.T) {
	checkedAt := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	manager := monitoring.NewHealthManager(monitoring.WithClock(func() time.Time { return checkedAt }))
	manager.Register(staticCheck("database", monitoring.StatusUp))
	manager.Register(staticCheck("redis", monitoring.StatusDown))

	report := manager.Evaluate(context.Background())
	require.False(t, report.Healthy())
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Equal(t, checkedAt, report.CheckedAt)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "database", report.Checks[0].Component)
	require.Equal(t, "redis", report.Checks[1].Component)
}

func TestHealthManagerOptionalCheckDegrades(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.Register(staticCheck("database", monitoring.StatusUp))
	manager.Register(staticCheck("chain", monitoring.StatusDown).AsOptional())

	report := manager.Evaluate(context.Background())
	require.True(t, report.Healthy())
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Equal(t, monitoring.StatusDown, report.Checks[1].Status)
}

func TestHealthManagerRecoversPanics(t *testing.T) {
	manager := monitoring.NewHealthManager()
	manager.Register(monitoring.NewCheck("boom", func(context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))
	manager.Register(monitoring.Check{Name: ""})

	report := manager.Evaluate(context.Background())
	require.Len(t, report.Checks, 1)
	require.Equal(t, monitoring.StatusDown, report.Checks[0].Status)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
	require.Equal(t, "boom", report.Checks[0].Component)
}

func TestHealthManagerTimesOutSlowProbes(t *testing.T) {
	manager := monitoring.NewHealthManager(monitoring.WithProbeTimeout(10 * time.Millisecond))
	manager.Register(monitoring.NewCheck("slow", func(ctx context.Context) monitoring.ProbeResult {
		<-ctx.Done()
		return monitoring.ResultFromError("slow", ctx.Err(), 0)
	}))

	report := manager.Evaluate(context.Background())
	require.Equal(t, monitoring.StatusDegraded, report.Status)
}

func TestEmptyHealthManagerIsUp(t *testing.T) {
	report := monitoring.NewHealthManager().Evaluate(context.Background())
	require.Equal(t, monitoring.StatusUp, report.Status)
	require.Empty(t, report.Checks)
}

func TestDatabaseCheck(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	result := checks.Database(db).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)

	result = checks.Database(nil).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
}

func TestRedisCheck(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.Equal(t, monitoring.StatusUp, checks.Redis(client).Run(context.Background()).Status)
	require.Equal(t, "redis disabled", checks.Redis(nil).Run(context.Background()).Details)

	server.Close()
	require.Equal(t, monitoring.StatusDown, checks.Redis(client).Run(context.Background()).Status)
}

func TestChainCheck(t *testing.T) {
	fake := chaintest.New(4200)
	result := checks.Chain(fake).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "height 4200", result.Details)

	fake.Height = 0
	require.Equal(t, monitoring.StatusDown, checks.Chain(fake).Run(context.Background()).Status)

	fake.HeightErr = errors.New("rpc unreachable")
	result = checks.Chain(fake).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Equal(t, "rpc unreachable", result.Details)
}

type fakeReporter []maintenance.JobStatus

func (f fakeReporter) Status() []maintenance.JobStatus { return f }

func TestMaintenanceCheck(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	healthy := fakeReporter{{Job: maintenance.JobStaleCodes, LastRunAt: now.Add(-time.Hour), TotalRuns: 3}}
	require.Equal(t, monitoring.StatusUp, checks.Maintenance(healthy, 0, clock).Run(context.Background()).Status)

	failing := fakeReporter{{
		Job:                 maintenance.JobExpiredCache,
		LastRunAt:           now.Add(-time.Minute),
		LastError:           "database is locked",
		TotalRuns:           4,
		ConsecutiveFailures: 2,
	}}
	result := checks.Maintenance(failing, 0, clock).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "database is locked")

	stale := fakeReporter{{Job: maintenance.JobStaleCodes, LastRunAt: now.Add(-7 * time.Hour), TotalRuns: 1}}
	result = checks.Maintenance(stale, 0, clock).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "last run")

	require.Equal(t, monitoring.StatusUp, checks.Maintenance(nil, 0, clock).Run(context.Background()).Status)
}
