package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	appValidator "github.com/charlesng35/walletrecovery/pkg/validator"
)

// EnvPrefix namespaces environment overrides, e.g. WALLETRECOVERY_SERVER_PORT.
const EnvPrefix = "WALLETRECOVERY"

// Store backends for recovery methods.
const (
	BackendSQL   = "sql"
	BackendRedis = "redis"
)

// Config represents the runtime configuration for the wallet recovery backend.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Store         StoreConfig         `mapstructure:"store"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Chain         ChainConfig         `mapstructure:"chain"`
	SecurityCodes SecurityCodesConfig `mapstructure:"security_codes"`
	Email         EmailConfig         `mapstructure:"email"`
	SMS           SMSConfig           `mapstructure:"sms"`
	Features      FeatureConfig       `mapstructure:"features"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int             `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel       string          `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	ShutdownGrace  time.Duration   `mapstructure:"shutdown_grace"`
}

// RateLimitConfig bounds code-sending routes per account. Zero requests disables the limit.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests" validate:"min=0"`
	Window   time.Duration `mapstructure:"window"`
}

// LogConfig enables the rotating file sink.
type LogConfig struct {
	File LogFileConfig `mapstructure:"file"`
}

// LogFileConfig mirrors the lumberjack rotation knobs.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver" validate:"oneof=sqlite sqlite3 postgres postgresql mysql mariadb"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StoreConfig selects the recovery method backend once at startup.
type StoreConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=sql redis"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisConfig holds Redis connection options. When enabled the rate limit cache lives in redis too.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ChainConfig points at the RPC node and carries the keys the service signs with.
type ChainConfig struct {
	RPCURL             string        `mapstructure:"rpc_url" validate:"required,url"`
	Network            string        `mapstructure:"network"`
	Timeout            time.Duration `mapstructure:"timeout"`
	TwoFactorSeed      string        `mapstructure:"two_factor_seed"`
	MultisigCodeHashes []string      `mapstructure:"multisig_code_hashes"`
	ConfirmGas         uint64        `mapstructure:"confirm_gas"`
	CreatorAccountID   string        `mapstructure:"creator_account_id" validate:"omitempty,accountid"`
	CreatorKeys        []string      `mapstructure:"creator_keys"`
}

// SecurityCodesConfig tunes code expiry and the stale-code purge.
type SecurityCodesConfig struct {
	Expiry        time.Duration `mapstructure:"expiry"`
	PurgeAfter    time.Duration `mapstructure:"purge_after"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from" validate:"omitempty,email"`
	FromName string        `mapstructure:"from_name"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SMSConfig captures the Twilio credentials.
type SMSConfig struct {
	Twilio TwilioConfig `mapstructure:"twilio"`
}

// TwilioConfig holds the messaging account used for SMS codes.
type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

// FeatureConfig holds the typed feature flags.
type FeatureConfig struct {
	TwoFactor     bool `mapstructure:"two_factor"`
	EmailDelivery bool `mapstructure:"email_delivery"`
	SMSDelivery   bool `mapstructure:"sms_delivery"`
	Metrics       bool `mapstructure:"metrics"`
}

// LoadConfig reads config.yaml from ./config and the given paths, applies WALLETRECOVERY_* overrides
// and validates the result. Unknown keys are rejected.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate runs struct rules and the cross-section checks.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	if err := appValidator.ValidateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var errs error
	if c.Store.Backend == BackendRedis && !c.Redis.Enabled {
		errs = multierr.Append(errs, errors.New("store.backend redis requires redis.enabled"))
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.Address) == "" {
		errs = multierr.Append(errs, errors.New("redis.address is required when redis is enabled"))
	}
	if c.Features.TwoFactor {
		if strings.TrimSpace(c.Chain.TwoFactorSeed) == "" {
			errs = multierr.Append(errs, errors.New("chain.two_factor_seed is required when two_factor is enabled"))
		}
		if len(c.Chain.MultisigCodeHashes) == 0 {
			errs = multierr.Append(errs, errors.New("chain.multisig_code_hashes is required when two_factor is enabled"))
		}
	}
	if len(c.Chain.CreatorKeys) > 0 && strings.TrimSpace(c.Chain.CreatorAccountID) == "" {
		errs = multierr.Append(errs, errors.New("chain.creator_account_id is required with creator_keys"))
	}
	if c.SecurityCodes.Expiry <= 0 {
		errs = multierr.Append(errs, errors.New("security_codes.expiry must be positive"))
	}
	if c.SecurityCodes.PurgeAfter > 0 && c.SecurityCodes.PurgeAfter < c.SecurityCodes.Expiry {
		errs = multierr.Append(errs, errors.New("security_codes.purge_after must not be shorter than expiry"))
	}
	if c.Features.EmailDelivery && !c.Email.SMTP.Enabled {
		errs = multierr.Append(errs, errors.New("features.email_delivery requires email.smtp.enabled"))
	}
	if c.Features.SMSDelivery && (c.SMS.Twilio.AccountSID == "" || c.SMS.Twilio.AuthToken == "" || c.SMS.Twilio.From == "") {
		errs = multierr.Append(errs, errors.New("features.sms_delivery requires sms.twilio credentials"))
	}
	if errs != nil {
		return fmt.Errorf("config: %w", errs)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.requests", 10)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.shutdown_grace", "10s")

	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 28)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/walletrecovery.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "")
	v.SetDefault("database.postgres.username", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.mysql.host", "")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.database", "")
	v.SetDefault("database.mysql.username", "")
	v.SetDefault("database.mysql.password", "")

	v.SetDefault("store.backend", BackendSQL)
	v.SetDefault("store.key_prefix", "walletrecovery")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "127.0.0.1:6379")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.timeout", "5s")

	v.SetDefault("chain.rpc_url", "https://rpc.testnet.near.org")
	v.SetDefault("chain.network", "testnet")
	v.SetDefault("chain.timeout", "10s")
	v.SetDefault("chain.two_factor_seed", "")
	v.SetDefault("chain.multisig_code_hashes", []string{})
	v.SetDefault("chain.confirm_gas", uint64(100_000_000_000_000))
	v.SetDefault("chain.creator_account_id", "")
	v.SetDefault("chain.creator_keys", []string{})

	v.SetDefault("security_codes.expiry", "30m")
	v.SetDefault("security_codes.purge_after", "24h")
	v.SetDefault("security_codes.purge_schedule", "@hourly")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.from", "")
	v.SetDefault("email.smtp.from_name", "NEAR Wallet")
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("sms.twilio.account_sid", "")
	v.SetDefault("sms.twilio.auth_token", "")
	v.SetDefault("sms.twilio.from", "")

	v.SetDefault("features.two_factor", false)
	v.SetDefault("features.email_delivery", false)
	v.SetDefault("features.sms_delivery", false)
	v.SetDefault("features.metrics", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.ErrorUnused = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
