package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Location  LocationConfig  `mapstructure:"location"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	ReadTimeout    int    `mapstructure:"read_timeout"`
	WriteTimeout   int    `mapstructure:"write_timeout"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LocationConfig tunes the proximity subsystem.
type LocationConfig struct {
	ObfuscationSalt     string  `mapstructure:"obfuscation_salt"`
	ObfuscationRangeDeg float64 `mapstructure:"obfuscation_range_deg"`
	DefaultTTLSeconds   int64   `mapstructure:"default_ttl_seconds"`
	MaxTTLSeconds       int64   `mapstructure:"max_ttl_seconds"`
	// ScanMode is "indexed" (GEOSEARCH) or "linear" (SCAN + haversine).
	ScanMode string `mapstructure:"scan_mode"`
	// StoreDriver is "external" (valkey + postgres) or "memory".
	StoreDriver string `mapstructure:"store_driver"`
	Source      string `mapstructure:"source"`
	// MemoryProfiles is an optional JSON file of profiles loaded by the
	// memory driver at startup.
	MemoryProfiles string `mapstructure:"memory_profiles"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Scan modes and store drivers.
const (
	ScanModeIndexed     = "indexed"
	ScanModeLinear      = "linear"
	StoreDriverExternal = "external"
	StoreDriverMemory   = "memory"
)

const maxTTLSeconds = 30 * 24 * 60 * 60

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.allowed_origins", "http://localhost:3000, http://localhost:5173")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "nearchat")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "nearchat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "nearchat")
	v.SetDefault("location.obfuscation_salt", "location_salt_")
	v.SetDefault("location.obfuscation_range_deg", 0.005)
	v.SetDefault("location.default_ttl_seconds", 86400)
	v.SetDefault("location.max_ttl_seconds", maxTTLSeconds)
	v.SetDefault("location.scan_mode", ScanModeIndexed)
	v.SetDefault("location.store_driver", StoreDriverExternal)
	v.SetDefault("location.source", "api")
	v.SetDefault("location.memory_profiles", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: NEARCHAT_LOCATION_SCAN_MODE → location.scan_mode
	v.SetEnvPrefix("NEARCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	external := c.Location.StoreDriver != StoreDriverMemory
	if external {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
		if c.Valkey.Addr == "" {
			errs = append(errs, "valkey.addr is required")
		}
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}

	switch c.Location.StoreDriver {
	case StoreDriverExternal, StoreDriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("location.store_driver must be %q or %q, got %q",
			StoreDriverExternal, StoreDriverMemory, c.Location.StoreDriver))
	}
	switch c.Location.ScanMode {
	case ScanModeIndexed, ScanModeLinear:
	default:
		errs = append(errs, fmt.Sprintf("location.scan_mode must be %q or %q, got %q",
			ScanModeIndexed, ScanModeLinear, c.Location.ScanMode))
	}
	if c.Location.ObfuscationSalt == "" {
		errs = append(errs, "location.obfuscation_salt is required")
	}
	if c.Location.ObfuscationRangeDeg <= 0 || c.Location.ObfuscationRangeDeg > 1 {
		errs = append(errs, "location.obfuscation_range_deg must be in (0, 1]")
	}
	if c.Location.MaxTTLSeconds <= 0 || c.Location.MaxTTLSeconds > maxTTLSeconds {
		errs = append(errs, fmt.Sprintf("location.max_ttl_seconds must be 1-%d", maxTTLSeconds))
	}
	if c.Location.DefaultTTLSeconds <= 0 || c.Location.DefaultTTLSeconds > c.Location.MaxTTLSeconds {
		errs = append(errs, "location.default_ttl_seconds must be positive and not exceed location.max_ttl_seconds")
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
