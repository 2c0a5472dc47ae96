package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/walletrecovery/internal/api"
	"github.com/charlesng35/walletrecovery/internal/app"
	"github.com/charlesng35/walletrecovery/internal/app/maintenance"
	"github.com/charlesng35/walletrecovery/internal/auth"
	"github.com/charlesng35/walletrecovery/internal/cache"
	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/database"
	"github.com/charlesng35/walletrecovery/internal/middleware"
	"github.com/charlesng35/walletrecovery/internal/monitoring"
	"github.com/charlesng35/walletrecovery/internal/monitoring/checks"
	"github.com/charlesng35/walletrecovery/internal/notifications"
	"github.com/charlesng35/walletrecovery/internal/recovery"
	"github.com/charlesng35/walletrecovery/internal/services"
	"github.com/charlesng35/walletrecovery/pkg/mail"
	"github.com/charlesng35/walletrecovery/pkg/sms"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     redis.UniversalClient
	Store     recovery.Store
	Chain     *chain.Client
	Cleaner   *maintenance.Cleaner
	Health    *monitoring.HealthManager
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises storage, the chain client, services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(ctx, cfg.RedisClientConfig())
		switch {
		case redisErr == nil:
			stack.Redis = client
			log.Info("redis connected", zap.String("addr", cfg.Redis.Address))
		case cfg.Store.Backend == app.BackendRedis:
			return nil, fmt.Errorf("connect redis: %w", redisErr)
		default:
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(redisErr))
		}
	}

	stack.Store, err = openRecoveryStore(cfg, stack)
	if err != nil {
		return nil, err
	}

	dbCache := cache.NewDatabaseStore(stack.DB)
	var cachePurger maintenance.CachePurger
	if stack.Redis != nil {
		stack.RateStore = middleware.NewCacheRateStore(cache.NewRedisStore(stack.Redis, cfg.Store.KeyPrefix))
	} else {
		stack.RateStore = middleware.NewCacheRateStore(dbCache)
		cachePurger = dbCache
	}

	var deriver *chain.KeyDeriver
	if strings.TrimSpace(cfg.Chain.TwoFactorSeed) != "" {
		if deriver, err = chain.NewKeyDeriver(cfg.Chain.TwoFactorSeed); err != nil {
			return nil, err
		}
	}
	creatorKeys, err := chain.NewKeyRing(cfg.Chain.CreatorKeys)
	if err != nil {
		return nil, err
	}
	stack.Chain, err = chain.NewClient(chain.Config{
		RPCURL:           cfg.Chain.RPCURL,
		Timeout:          cfg.Chain.Timeout,
		ConfirmGas:       cfg.Chain.ConfirmGas,
		CreatorAccountID: cfg.Chain.CreatorAccountID,
		Deriver:          deriver,
		CreatorKeys:      creatorKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise chain client: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return nil, err
	}

	codes, err := services.NewSecurityCodeService(stack.Store, services.WithSecurityCodeExpiry(cfg.SecurityCodes.Expiry))
	if err != nil {
		return nil, fmt.Errorf("initialise security code service: %w", err)
	}
	methods, err := services.NewRecoveryMethodService(stack.Store, codes, dispatcher)
	if err != nil {
		return nil, fmt.Errorf("initialise recovery method service: %w", err)
	}

	var twoFactor *services.TwoFactorService
	if cfg.Features.TwoFactor {
		twoFactor, err = services.NewTwoFactorService(stack.Store, codes, stack.Chain, dispatcher, deriver, cfg.Chain.MultisigCodeHashes)
		if err != nil {
			return nil, fmt.Errorf("initialise two factor service: %w", err)
		}
	} else {
		log.Info("two factor routes disabled")
	}

	verifier, err := auth.NewSignatureVerifier(stack.Chain)
	if err != nil {
		return nil, fmt.Errorf("initialise signature verifier: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(codes, cachePurger,
		maintenance.WithPurgeAfter(cfg.SecurityCodes.PurgeAfter),
		maintenance.WithCodeSchedule(cfg.SecurityCodes.PurgeSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Health = monitoring.NewHealthManager()
	stack.Health.Register(checks.Database(stack.DB))
	stack.Health.Register(checks.Redis(stack.Redis))
	stack.Health.Register(checks.Chain(stack.Chain).AsOptional())
	stack.Health.Register(checks.Maintenance(stack.Cleaner, 0, nil))

	stack.Router, err = api.NewRouter(api.Dependencies{
		Verifier:       verifier,
		TwoFactor:      twoFactor,
		Methods:        methods,
		Health:         stack.Health,
		RateStore:      stack.RateStore,
		RateLimit:      api.RateLimit{Requests: cfg.Server.RateLimit.Requests, Window: cfg.Server.RateLimit.Window},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		EnableMetrics:  cfg.Features.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func openRecoveryStore(cfg *app.Config, stack *runtimeStack) (recovery.Store, error) {
	switch cfg.Store.Backend {
	case app.BackendRedis:
		if stack.Redis == nil {
			return nil, fmt.Errorf("store backend %q requires a redis connection", cfg.Store.Backend)
		}
		return recovery.NewRedisStore(stack.Redis, cfg.Store.KeyPrefix)
	case app.BackendSQL, "":
		return recovery.NewGormStore(stack.DB)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

func buildDispatcher(cfg *app.Config) (*notifications.Service, error) {
	mailer, err := mail.NewSMTPMailer(cfg.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	sender, err := sms.NewTwilioSender(cfg.TwilioSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise sms sender: %w", err)
	}
	dispatcher, err := notifications.NewService(mailer, sender, notifications.Options{
		EmailEnabled: cfg.Features.EmailDelivery,
		SMSEnabled:   cfg.Features.SMSDelivery,
		From:         cfg.Email.SMTP.From,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise notifications: %w", err)
	}
	return dispatcher, nil
}

// Shutdown stops background jobs and releases connections. Every failure is reported.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("stop maintenance jobs: %w", ctx.Err()))
		}
		s.Cleaner = nil
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close redis: %w", err))
		}
		s.Redis = nil
	}

	if s.DB != nil {
		if err := closeDatabase(s.DB); err != nil {
			errs = multierr.Append(errs, err)
		}
		s.DB = nil
	}

	if errs != nil && log != nil {
		log.Warn("shutdown finished with errors", zap.Error(errs))
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Prepare(db); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("prepare database: %w", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
