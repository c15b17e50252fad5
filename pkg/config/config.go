package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Ledger execution modes.
const (
	LedgerModeLocal = "local"
	LedgerModeRPC   = "rpc"
)

// Ledger persistence backends for local mode.
const (
	LedgerStoreMemory   = "memory"
	LedgerStorePostgres = "postgres"
)

// NetworkPresets maps a network name to its default full-node URL.
var NetworkPresets = map[string]string{
	"devnet":   "https://api.devnet.iota.cafe",
	"testnet":  "https://api.testnet.iota.cafe",
	"mainnet":  "https://api.mainnet.iota.cafe",
	"localnet": "http://127.0.0.1:9000",
}

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Ledger      LedgerConfig
	Auth        AuthConfig
	Session     SessionConfig
	RateLimit   RateLimitConfig
	Registry    RegistryConfig
	Reports     ReportsConfig
	Maintenance MaintenanceConfig
	Metrics     MetricsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LedgerConfig selects where commands are executed and which network/package they target.
type LedgerConfig struct {
	Mode       string
	Store      string
	Network    string
	RPCURL     string
	PackageID  string
	RPCTimeout time.Duration
	ServeRPC   bool
	RPCToken   string
	SeedFile   string
}

// AuthConfig drives wallet sign-in and the role registry.
type AuthConfig struct {
	ChallengeTTL        time.Duration
	AdminAddresses      []string
	GrantOwnerAddresses []string
}

// SessionConfig tunes the per-identity session store.
type SessionConfig struct {
	IdleTTL time.Duration
}

// RateLimitConfig throttles mutation routes per identity.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// RegistryConfig governs caching of the aggregate counters.
type RegistryConfig struct {
	CacheTTL time.Duration
}

// ReportsConfig configures asynchronous report generation.
type ReportsConfig struct {
	Enabled           bool
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	WorkerConcurrency int
	WorkerRetries     int
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// MaintenanceConfig holds the cron specs of background housekeeping.
type MaintenanceConfig struct {
	Enabled         bool
	GrantSchedule   string
	SessionSchedule string
	ExportSchedule  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrRPCTokenRequired is returned when the ledger node endpoint would be served without a token.
var ErrRPCTokenRequired = errors.New("LEDGER_RPC_TOKEN must be set when LEDGER_SERVE_RPC is enabled")

// Validate rejects settings the server must not start with.
func (c *Config) Validate() error {
	if c.Ledger.ServeRPC && strings.TrimSpace(c.Ledger.RPCToken) == "" {
		return ErrRPCTokenRequired
	}
	return nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Ledger = LedgerConfig{
		Mode:       strings.ToLower(v.GetString("LEDGER_MODE")),
		Store:      strings.ToLower(v.GetString("LEDGER_STORE")),
		Network:    strings.ToLower(v.GetString("LEDGER_NETWORK")),
		RPCURL:     v.GetString("LEDGER_RPC_URL"),
		PackageID:  v.GetString("LEDGER_PACKAGE_ID"),
		RPCTimeout: parseDuration(v.GetString("LEDGER_RPC_TIMEOUT"), 10*time.Second),
		ServeRPC:   v.GetBool("LEDGER_SERVE_RPC"),
		RPCToken:   v.GetString("LEDGER_RPC_TOKEN"),
		SeedFile:   v.GetString("SEED_FILE"),
	}

	cfg.Auth = AuthConfig{
		ChallengeTTL:        parseDuration(v.GetString("AUTH_CHALLENGE_TTL"), 5*time.Minute),
		AdminAddresses:      splitAndTrim(v.GetString("ADMIN_ADDRESSES")),
		GrantOwnerAddresses: splitAndTrim(v.GetString("GRANT_OWNER_ADDRESSES")),
	}

	cfg.Session = SessionConfig{
		IdleTTL: parseDuration(v.GetString("SESSION_IDLE_TTL"), 2*time.Hour),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled: v.GetBool("ENABLE_RATE_LIMIT"),
		RPS:     v.GetFloat64("RATE_LIMIT_RPS"),
		Burst:   v.GetInt("RATE_LIMIT_BURST"),
	}

	cfg.Registry = RegistryConfig{
		CacheTTL: parseDuration(v.GetString("REGISTRY_CACHE_TTL"), time.Minute),
	}

	cfg.Reports = ReportsConfig{
		Enabled:           v.GetBool("ENABLE_REPORTS"),
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	cfg.Maintenance = MaintenanceConfig{
		Enabled:         v.GetBool("ENABLE_MAINTENANCE"),
		GrantSchedule:   v.GetString("MAINTENANCE_GRANT_SCHEDULE"),
		SessionSchedule: v.GetString("MAINTENANCE_SESSION_SCHEDULE"),
		ExportSchedule:  v.GetString("MAINTENANCE_EXPORT_SCHEDULE"),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
		Path:    v.GetString("METRICS_PATH"),
	}

	return cfg
}

// NodeURL resolves the ledger node endpoint: an explicit URL wins over the network preset.
func (c LedgerConfig) NodeURL() string {
	if c.RPCURL != "" {
		return c.RPCURL
	}
	if url, ok := NetworkPresets[c.Network]; ok {
		return url
	}
	return NetworkPresets["testnet"]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "scholarflow")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LEDGER_MODE", LedgerModeLocal)
	v.SetDefault("LEDGER_STORE", LedgerStoreMemory)
	v.SetDefault("LEDGER_NETWORK", "testnet")
	v.SetDefault("LEDGER_RPC_URL", "")
	v.SetDefault("LEDGER_PACKAGE_ID", "0x0")
	v.SetDefault("LEDGER_RPC_TIMEOUT", "10s")
	v.SetDefault("LEDGER_SERVE_RPC", false)
	v.SetDefault("LEDGER_RPC_TOKEN", "")
	v.SetDefault("SEED_FILE", "")

	v.SetDefault("AUTH_CHALLENGE_TTL", "5m")
	v.SetDefault("ADMIN_ADDRESSES", "")
	v.SetDefault("GRANT_OWNER_ADDRESSES", "")

	v.SetDefault("SESSION_IDLE_TTL", "2h")

	v.SetDefault("ENABLE_RATE_LIMIT", true)
	v.SetDefault("RATE_LIMIT_RPS", 2)
	v.SetDefault("RATE_LIMIT_BURST", 4)

	v.SetDefault("REGISTRY_CACHE_TTL", "1m")

	v.SetDefault("ENABLE_REPORTS", false)
	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_MAINTENANCE", true)
	v.SetDefault("MAINTENANCE_GRANT_SCHEDULE", "@every 1m")
	v.SetDefault("MAINTENANCE_SESSION_SCHEDULE", "@every 5m")
	v.SetDefault("MAINTENANCE_EXPORT_SCHEDULE", "@hourly")

	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PATH", "/metrics")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
