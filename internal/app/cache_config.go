package app

import (
	"strings"

	"github.com/charlesng35/walletrecovery/internal/cache"
	"github.com/charlesng35/walletrecovery/internal/database"
)

// RedisClientConfig converts the redis section into the cache package representation.
func (c Config) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:   strings.TrimSpace(c.Redis.Address),
		Username:  strings.TrimSpace(c.Redis.Username),
		Password:  c.Redis.Password,
		DB:        c.Redis.DB,
		TLS:       c.Redis.TLS,
		Timeout:   c.Redis.Timeout,
		KeyPrefix: strings.TrimSpace(c.Store.KeyPrefix),
	}
}

// ConnectionConfig resolves the driver specific block into database.Config.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	cfg := database.Config{Driver: c.Driver, Path: c.Path, DSN: c.DSN}

	var auth DBAuthConfig
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		auth = c.Postgres
	case "mysql", "mariadb":
		auth = c.MySQL
	default:
		return cfg
	}
	cfg.Host = auth.Host
	cfg.Port = auth.Port
	cfg.Name = auth.Database
	cfg.User = auth.Username
	cfg.Password = auth.Password
	return cfg
}
