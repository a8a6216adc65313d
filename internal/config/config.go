package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Price source names
const (
	PriceSourceCoinGecko = "coingecko"
	PriceSourceDatabase  = "database"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	CoinGecko CoinGeckoConfig
	Analytics AnalyticsConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	MigrationsPath string
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled            bool
	Brokers            []string
	NotificationsTopic string
	PriceTopic         string
	GroupID            string
}

// RedisConfig holds Redis configuration. When disabled an in-memory cache is used.
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// CoinGeckoConfig holds CoinGecko API configuration
type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// AnalyticsConfig holds the product policy of the analytics and crossover
// components. Defaults come from struct tags, optionally overridden by a
// YAML file and then by environment variables.
type AnalyticsConfig struct {
	PriceSource      string        `yaml:"price_source" default:"coingecko"`
	ForecastHorizons []int         `yaml:"forecast_horizons" default:"[1,7,14,30]"`
	MinObservations  int           `yaml:"min_observations" default:"15"`
	OptimizerMaxIter int           `yaml:"optimizer_max_iter" default:"600"`
	OptimizerTol     float64       `yaml:"optimizer_tol" default:"1e-8"`
	FitTimeout       time.Duration `yaml:"fit_timeout" default:"10s"`
	MaxConcurrent    int           `yaml:"max_concurrent_fits" default:"4"`
	GarchCacheTTL    time.Duration `yaml:"garch_cache_ttl" default:"5m"`
	PriceCacheTTL    time.Duration `yaml:"price_cache_ttl" default:"5m"`
	DefaultDays      int           `yaml:"default_days" default:"90"`
	Cooldown         time.Duration `yaml:"cooldown" default:"24h"`
	AssetDelay       time.Duration `yaml:"asset_delay" default:"500ms"`
	MinLookbackDays  int           `yaml:"min_lookback_days" default:"30"`
	CheckInterval    time.Duration `yaml:"check_interval" default:"1h"`
	PriceRetention   time.Duration `yaml:"price_retention" default:"8760h"`
	MemoryCacheSize  int           `yaml:"memory_cache_size" default:"10000"`
}

// Load reads configuration from an optional .env file, an optional
// analytics YAML file and environment variables
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil {
		log.Debug().Str("file", envFile).Msg("no env file loaded")
	}

	analytics, err := loadAnalytics(os.Getenv("ANALYTICS_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "crypto_analytics"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "file://db/migrations"),
		},
		Kafka: KafkaConfig{
			Enabled:            getEnvBool("KAFKA_ENABLED", false),
			Brokers:            getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			NotificationsTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "crypto.notifications"),
			PriceTopic:         getEnv("KAFKA_PRICE_TOPIC", "crypto.prices"),
			GroupID:            getEnv("KAFKA_GROUP_ID", "crypto-analytics"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		CoinGecko: CoinGeckoConfig{
			BaseURL: getEnv("COINGECKO_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:  getEnv("COINGECKO_API_KEY", ""),
			Timeout: getEnvDuration("COINGECKO_TIMEOUT", 30*time.Second),
		},
		Analytics: *analytics,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "INFO"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	applyAnalyticsEnv(&cfg.Analytics)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAnalytics(path string) (*AnalyticsConfig, error) {
	a := &AnalyticsConfig{}
	if err := defaults.Set(a); err != nil {
		return nil, fmt.Errorf("failed to apply analytics defaults: %w", err)
	}
	if path == "" {
		return a, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read analytics config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("failed to parse analytics config %s: %w", path, err)
	}
	return a, nil
}

func applyAnalyticsEnv(a *AnalyticsConfig) {
	a.PriceSource = getEnv("PRICE_SOURCE", a.PriceSource)
	a.ForecastHorizons = getEnvInts("GARCH_FORECAST_HORIZONS", a.ForecastHorizons)
	a.MinObservations = getEnvInt("GARCH_MIN_OBSERVATIONS", a.MinObservations)
	a.FitTimeout = getEnvDuration("GARCH_FIT_TIMEOUT", a.FitTimeout)
	a.MaxConcurrent = getEnvInt("GARCH_MAX_CONCURRENT_FITS", a.MaxConcurrent)
	a.GarchCacheTTL = getEnvDuration("GARCH_CACHE_TTL", a.GarchCacheTTL)
	a.PriceCacheTTL = getEnvDuration("PRICE_CACHE_TTL", a.PriceCacheTTL)
	a.Cooldown = getEnvDuration("CROSSOVER_COOLDOWN", a.Cooldown)
	a.AssetDelay = getEnvDuration("CROSSOVER_ASSET_DELAY", a.AssetDelay)
	a.CheckInterval = getEnvDuration("CROSSOVER_CHECK_INTERVAL", a.CheckInterval)
	a.PriceRetention = getEnvDuration("PRICE_RETENTION", a.PriceRetention)
	a.MemoryCacheSize = getEnvInt("MEMORY_CACHE_SIZE", a.MemoryCacheSize)
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var errs []error
	a := c.Analytics

	switch a.PriceSource {
	case PriceSourceCoinGecko, PriceSourceDatabase:
	default:
		errs = append(errs, fmt.Errorf("unknown price source %q", a.PriceSource))
	}
	if len(a.ForecastHorizons) == 0 {
		errs = append(errs, errors.New("at least one forecast horizon is required"))
	}
	for _, h := range a.ForecastHorizons {
		if h <= 0 {
			errs = append(errs, fmt.Errorf("forecast horizon must be positive, got %d", h))
		}
	}
	if a.MinObservations < 3 {
		errs = append(errs, fmt.Errorf("min observations must be at least 3, got %d", a.MinObservations))
	}
	if a.OptimizerMaxIter <= 0 {
		errs = append(errs, fmt.Errorf("optimizer max iterations must be positive, got %d", a.OptimizerMaxIter))
	}
	if a.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent fits must be positive, got %d", a.MaxConcurrent))
	}
	if a.MemoryCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("memory cache size must be positive, got %d", a.MemoryCacheSize))
	}
	if a.Cooldown < 0 || a.AssetDelay < 0 {
		errs = append(errs, errors.New("cooldown and asset delay must not be negative"))
	}
	if a.PriceRetention < 0 {
		errs = append(errs, fmt.Errorf("price retention must not be negative, got %s", a.PriceRetention))
	}
	if a.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("check interval must be positive, got %s", a.CheckInterval))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka is enabled but no brokers are configured"))
	}

	return errors.Join(errs...)
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// Address returns the HTTP listen address
func (s *ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer, using default")
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid boolean, using default")
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid duration, using default")
		return defaultValue
	}
	return d
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvInts(key string, defaultValue []int) []int {
	parts := getEnvList(key, nil)
	if parts == nil {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			log.Warn().Str("key", key).Str("value", p).Msg("invalid integer list, using default")
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
