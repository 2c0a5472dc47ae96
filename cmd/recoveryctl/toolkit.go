package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/charlesng35/walletrecovery/internal/app"
	"github.com/charlesng35/walletrecovery/internal/cache"
	"github.com/charlesng35/walletrecovery/internal/chain"
	"github.com/charlesng35/walletrecovery/internal/database"
	"github.com/charlesng35/walletrecovery/internal/recovery"
)

// functionCaller is the slice of the chain client the CLI signs with.
type functionCaller interface {
	SubmitFunctionCall(ctx context.Context, call chain.FunctionCall) (*chain.Outcome, error)
}

// toolkit holds what the commands operate on. Deriver and Chain may be nil when not configured.
type toolkit struct {
	Store   recovery.Store
	Deriver *chain.KeyDeriver
	Chain   functionCaller
	closers []func() error
}

// Close releases every opened connection.
func (t *toolkit) Close() error {
	var errs error
	for i := len(t.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, t.closers[i]())
	}
	t.closers = nil
	return errs
}

type toolkitOpener func(ctx context.Context, configPath string) (*toolkit, error)

func openToolkit(ctx context.Context, configPath string) (_ *toolkit, err error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := app.ConfigureLogging("error", app.LogFileConfig{}); err != nil {
		return nil, err
	}

	tk := &toolkit{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, tk.Close())
		}
	}()

	switch cfg.Store.Backend {
	case app.BackendRedis:
		var client *redis.Client
		client, err = cache.NewRedisClient(ctx, cfg.RedisClientConfig())
		if err != nil {
			return nil, err
		}
		tk.closers = append(tk.closers, client.Close)
		tk.Store, err = recovery.NewRedisStore(client, cfg.Store.KeyPrefix)
	default:
		var db *gorm.DB
		db, err = database.Open(cfg.Database.ConnectionConfig())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		tk.closers = append(tk.closers, func() error {
			sqlDB, dbErr := db.DB()
			if dbErr != nil {
				return dbErr
			}
			return sqlDB.Close()
		})
		if err = database.Prepare(db); err != nil {
			return nil, err
		}
		tk.Store, err = recovery.NewGormStore(db)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Chain.TwoFactorSeed) != "" {
		if tk.Deriver, err = chain.NewKeyDeriver(cfg.Chain.TwoFactorSeed); err != nil {
			return nil, err
		}
	}

	ring, err := chain.NewKeyRing(cfg.Chain.CreatorKeys)
	if err != nil {
		return nil, err
	}
	client, err := chain.NewClient(chain.Config{
		RPCURL:           cfg.Chain.RPCURL,
		Timeout:          cfg.Chain.Timeout,
		ConfirmGas:       cfg.Chain.ConfirmGas,
		CreatorAccountID: cfg.Chain.CreatorAccountID,
		Deriver:          tk.Deriver,
		CreatorKeys:      ring,
	})
	if err != nil {
		return nil, err
	}
	tk.Chain = client
	return tk, nil
}

func loadConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return app.LoadConfig(path)
	case err == nil:
		return app.LoadConfig(filepath.Dir(path))
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config path %q does not exist", path)
	default:
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}
