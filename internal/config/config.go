package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type InstrumentationConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	SamplingRate    float64 `mapstructure:"sampling_rate"`
	SlowThresholdMs int     `mapstructure:"slow_threshold_ms"`
}

type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Filters         FiltersConfig         `mapstructure:"filters"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation"`
	Auth            AuthConfig            `mapstructure:"auth"`
	JWTSecret       string                `mapstructure:"jwt_secret"`

	properties *viper.Viper
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type AuthConfig struct {
	// Enabled requires a bearer token on /api.
	Enabled bool `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
	// Migrate creates missing tables for the loaded entities at startup.
	Migrate bool `mapstructure:"migrate"`
}

// FiltersConfig tunes filter resolution.
type FiltersConfig struct {
	Definitions string `mapstructure:"definitions"` // YAML or JSON file with entities, relations and endpoints
	Policy      string `mapstructure:"policy"`      // exception, empty_result, ignore
	Locale      string `mapstructure:"locale"`      // BCP 47 tag used for case folding
	CacheSize   int    `mapstructure:"cache_size"`
	CacheShards int    `mapstructure:"cache_shards"`
	MaxPerPage  int    `mapstructure:"max_per_page"`
	Patterns    struct {
		Date           string `mapstructure:"date"`
		DateTime       string `mapstructure:"datetime"`
		OffsetDateTime string `mapstructure:"offset_datetime"`
		Instant        string `mapstructure:"instant"`
		Timestamp      string `mapstructure:"timestamp"`
	} `mapstructure:"patterns"`
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

// Properties returns the free-form properties section, the environment of
// ${...} and #{...} literals in filter definitions.
func (c *Config) Properties() *viper.Viper {
	if c.properties == nil {
		return viper.New()
	}
	return c.properties
}

// Load reads app.yaml from the working directory or two levels up.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")
	return load(v)
}

// LoadFile reads the given config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("database.migrate", false)
	v.SetDefault("jwt_secret", "changeme-secret")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("filters.definitions", "filters.yaml")
	v.SetDefault("filters.policy", "empty_result")
	v.SetDefault("filters.locale", "und")
	v.SetDefault("filters.cache_size", 4096)
	v.SetDefault("filters.cache_shards", 16)
	v.SetDefault("filters.max_per_page", 100)
	v.SetDefault("instrumentation.enabled", true)
	v.SetDefault("instrumentation.sampling_rate", 1.0)
	v.SetDefault("instrumentation.slow_threshold_ms", 200)

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.properties = v.Sub("properties")

	return &cfg, nil
}
