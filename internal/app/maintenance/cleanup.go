package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/walletrecovery/pkg/logger"
)

const (
	// DefaultPurgeAfter is how old a pending security code must be before the purge drops it.
	DefaultPurgeAfter = 24 * time.Hour

	defaultCodeSchedule  = "@hourly"
	defaultCacheSchedule = "@every 15m"
)

// Job names reported by Status.
const (
	JobStaleCodes   = "stale_codes"
	JobExpiredCache = "expired_cache"
)

// CodePurger clears security codes that were never verified.
type CodePurger interface {
	ClearStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// CachePurger drops expired cache rows.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// JobStatus describes the most recent run of a job.
type JobStatus struct {
	Job                 string
	LastRunAt           time.Time
	LastError           string
	Removed             int64
	TotalRuns           int
	ConsecutiveFailures int
}

// Cleaner runs periodic purges of stale security codes and expired cache rows.
type Cleaner struct {
	codes CodePurger
	cache CachePurger
	cron  *cron.Cron
	now   func() time.Time
	log   *zap.Logger

	purgeAfter    time.Duration
	codeSchedule  string
	cacheSchedule string

	mu     sync.Mutex
	status map[string]*JobStatus
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for run timestamps.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithPurgeAfter sets the age past which pending codes are cleared.
func WithPurgeAfter(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.purgeAfter = d
		}
	}
}

// WithCodeSchedule overrides the cron specification for the stale code purge.
func WithCodeSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.codeSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for the cache purge.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil purger skips the matching job.
func NewCleaner(codes CodePurger, cachePurger CachePurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		codes:         codes,
		cache:         cachePurger,
		now:           time.Now,
		purgeAfter:    DefaultPurgeAfter,
		codeSchedule:  defaultCodeSchedule,
		cacheSchedule: defaultCacheSchedule,
		status:        make(map[string]*JobStatus),
		log:           logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(cleaner)
	}
	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.codes == nil && c.cache == nil {
		return nil
	}

	if c.codes != nil {
		if _, err := c.cron.AddFunc(c.codeSchedule, func() {
			_ = c.purgeCodes(context.Background())
		}); err != nil {
			return err
		}
	}
	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			_ = c.purgeCache(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	var errs error
	if c.codes != nil {
		errs = multierr.Append(errs, c.purgeCodes(ctx))
	}
	if c.cache != nil {
		errs = multierr.Append(errs, c.purgeCache(ctx))
	}
	return errs
}

// Status returns a snapshot of the last run of every job that has run at least once.
func (c *Cleaner) Status() []JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]JobStatus, 0, len(c.status))
	for _, job := range []string{JobStaleCodes, JobExpiredCache} {
		if status, ok := c.status[job]; ok {
			out = append(out, *status)
		}
	}
	return out
}

func (c *Cleaner) purgeCodes(ctx context.Context) error {
	removed, err := c.codes.ClearStale(ctx, c.purgeAfter)
	c.record(JobStaleCodes, removed, err)
	return err
}

func (c *Cleaner) purgeCache(ctx context.Context) error {
	removed, err := c.cache.PurgeExpired(ctx)
	c.record(JobExpiredCache, removed, err)
	return err
}

func (c *Cleaner) record(job string, removed int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, ok := c.status[job]
	if !ok {
		status = &JobStatus{Job: job}
		c.status[job] = status
	}
	status.LastRunAt = c.now()
	status.TotalRuns++
	status.Removed = removed
	if err != nil {
		status.LastError = err.Error()
		status.ConsecutiveFailures++
		c.log.Warn("maintenance job failed", zap.String("job", job), zap.Error(err))
		return
	}
	status.LastError = ""
	status.ConsecutiveFailures = 0
	if removed > 0 {
		c.log.Info("maintenance job completed", zap.String("job", job), zap.Int64("removed", removed))
	}
}
