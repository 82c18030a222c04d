package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"qbank-server/examtype"
)

// Config holds all application configuration
type Config struct {
	ServerPort     string                 `mapstructure:"SERVER_PORT"`
	GinMode        string                 `mapstructure:"GIN_MODE"`
	LogLevel       string                 `mapstructure:"LOG_LEVEL"`
	LogFormat      string                 `mapstructure:"LOG_FORMAT"`
	StoreTimeout   time.Duration          `mapstructure:"STORE_TIMEOUT"`
	HealthInterval time.Duration          `mapstructure:"HEALTH_INTERVAL"`
	CORSOrigins    []string               `mapstructure:"CORS_ORIGINS"`
	Exams          map[string]StoreConfig `mapstructure:"EXAMS"`
	Auth           AuthConfig             `mapstructure:"AUTH"`
	Redis          RedisConfig            `mapstructure:"REDIS"`
	StatsCacheTTL  time.Duration          `mapstructure:"STATS_CACHE_TTL"`
	Ingestion      IngestionConfig        `mapstructure:"INGESTION"`
	Selection      SelectionConfig        `mapstructure:"SELECTION"`

	// AllowMemoryStore lets a release build run on the memory driver.
	AllowMemoryStore bool `mapstructure:"ALLOW_MEMORY_STORE"`
}

// StoreConfig points one exam at its dedicated database.
type StoreConfig struct {
	Driver   string `mapstructure:"DRIVER"` // postgres | mongo | memory
	URI      string `mapstructure:"URI"`
	Database string `mapstructure:"DATABASE"` // mongo only
}

// AuthConfig holds the upstream token issuer settings
type AuthConfig struct {
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`
	Issuer        string `mapstructure:"ISSUER"`
}

// RedisConfig holds the stats cache connection. An empty Addr disables caching.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// IngestionConfig holds batch-file ingestion settings
type IngestionConfig struct {
	BatchDir string `mapstructure:"BATCH_DIR"` // where the extractor drops JSON/YAML batches
}

// SelectionConfig holds the default lock policy of each sampling mode
type SelectionConfig struct {
	RandomLockPolicy     string `mapstructure:"RANDOM_LOCK_POLICY"`
	DifficultyLockPolicy string `mapstructure:"DIFFICULTY_LOCK_POLICY"`
}

var drivers = []string{"memory", "mongo", "postgres"}

// LoadConfig loads configuration from .env, config.yaml and QBANK_* environment variables
// in the working directory.
func LoadConfig() (*Config, error) {
	return Load(".")
}

// Load is LoadConfig rooted at dir.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("SERVER_PORT", ":8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("STORE_TIMEOUT", "10s")
	v.SetDefault("HEALTH_INTERVAL", "30s")
	v.SetDefault("CORS_ORIGINS", []string{"http://localhost:3000"})
	// Both tracks run in memory until a real store is configured. Release mode
	// refuses that unless ALLOW_MEMORY_STORE is set.
	v.SetDefault("EXAMS.JEE.DRIVER", "memory")
	v.SetDefault("EXAMS.JEE.URI", "")
	v.SetDefault("EXAMS.JEE.DATABASE", "")
	v.SetDefault("EXAMS.NEET.DRIVER", "memory")
	v.SetDefault("EXAMS.NEET.URI", "")
	v.SetDefault("EXAMS.NEET.DATABASE", "")
	v.SetDefault("AUTH.JWT_SIGNING_KEY", "change-me-in-production")
	v.SetDefault("AUTH.ISSUER", "auth.qbank.local")
	v.SetDefault("REDIS.ADDR", "")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("STATS_CACHE_TTL", "5m")
	v.SetDefault("INGESTION.BATCH_DIR", "./batches")
	v.SetDefault("SELECTION.RANDOM_LOCK_POLICY", "exclude_locked")
	v.SetDefault("SELECTION.DIFFICULTY_LOCK_POLICY", "any")
	v.SetDefault("ALLOW_MEMORY_STORE", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("config.yaml not found, using environment variables and defaults", "dir", dir)
	}

	// QBANK_SERVER_PORT, QBANK_EXAMS_JEE_URI, QBANK_REDIS_ADDR, ...
	v.SetEnvPrefix("QBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	return &cfg, nil
}

// Stores resolves the EXAMS section into canonical keys and checks every entry.
func (c *Config) Stores() (map[examtype.Key]StoreConfig, error) {
	if len(c.Exams) == 0 {
		return nil, errors.New("no exam stores configured")
	}
	names := make([]string, 0, len(c.Exams))
	for name := range c.Exams {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[examtype.Key]StoreConfig, len(c.Exams))
	for _, name := range names {
		sc := c.Exams[name]
		key, ok := examtype.Normalize(name)
		if !ok {
			return nil, fmt.Errorf("exam %q is not a recognized exam type", name)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("exam %q configured twice (as %q)", key, name)
		}
		sc.Driver = strings.ToLower(strings.TrimSpace(sc.Driver))
		if sc.Driver == "mongodb" {
			sc.Driver = "mongo"
		}
		if !slices.Contains(drivers, sc.Driver) {
			return nil, fmt.Errorf("exam %q: unknown driver %q", key, sc.Driver)
		}
		if sc.Driver == "memory" && c.GinMode == "release" && !c.AllowMemoryStore {
			return nil, fmt.Errorf("exam %q: the memory driver loses every question on restart; configure postgres or mongo, or set ALLOW_MEMORY_STORE", key)
		}
		if sc.Driver != "memory" && sc.URI == "" {
			return nil, fmt.Errorf("exam %q: driver %s needs a URI", key, sc.Driver)
		}
		out[key] = sc
	}
	return out, nil
}
