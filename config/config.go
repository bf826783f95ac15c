package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the boardroom service.
type Config struct {
	General GeneralConfig `mapstructure:"general"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Storage StorageConfig `mapstructure:"storage"`
	Dedup   DedupConfig   `mapstructure:"dedup"`
	Clarify ClarifyConfig `mapstructure:"clarify"`
}

// GeneralConfig contains HTTP server and auth settings.
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
	LogLevel  string `mapstructure:"log_level"`
	Debug     bool   `mapstructure:"debug"`
}

// EngineConfig describes the external recommendation/clarification engine.
// EvalTimeout covers the cheap evaluation-class calls; DispatchTimeout covers
// the persona-corpus-heavy recommendation calls and is expected to be long.
type EngineConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	EvalTimeout     time.Duration `mapstructure:"eval_timeout"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
	DefaultTurns    int           `mapstructure:"default_turns"`
	MaxTurns        int           `mapstructure:"max_turns"`
}

func (e EngineConfig) Validate() error {
	if strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("engine.base_url required")
	}
	return nil
}

// Normalize applies defaults for unset engine values.
func (e EngineConfig) Normalize() EngineConfig {
	if e.EvalTimeout <= 0 {
		e.EvalTimeout = 30 * time.Second
	}
	if e.DispatchTimeout <= 0 {
		e.DispatchTimeout = 5 * time.Minute
	}
	if e.DefaultTurns <= 0 {
		e.DefaultTurns = 1
	}
	if e.MaxTurns <= 0 {
		e.MaxTurns = 3
	}
	return e
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured pieces.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings. Redis is only required when
// dedup.backend is "redis".
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// DedupConfig controls the duplicate-dispatch guard.
type DedupConfig struct {
	Backend  string        `mapstructure:"backend"` // local or redis
	Window   time.Duration `mapstructure:"window"`
	Eviction time.Duration `mapstructure:"eviction"`
}

// Normalize applies the documented defaults: 2s reject window, 5s eviction.
func (d DedupConfig) Normalize() DedupConfig {
	if d.Backend == "" {
		d.Backend = "local"
	}
	if d.Window <= 0 {
		d.Window = 2 * time.Second
	}
	if d.Eviction <= 0 {
		d.Eviction = 5 * time.Second
	}
	return d
}

func (d DedupConfig) Validate() error {
	switch d.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("dedup.backend must be local or redis, got %q", d.Backend)
	}
	if d.Eviction < d.Window {
		return fmt.Errorf("dedup.eviction must be >= dedup.window")
	}
	return nil
}

// ClarifyConfig bounds the pre-meeting clarification dialogue.
type ClarifyConfig struct {
	MaxUserTurns int `mapstructure:"max_user_turns"`
}

func (c ClarifyConfig) Normalize() ClarifyConfig {
	if c.MaxUserTurns <= 0 {
		c.MaxUserTurns = 5
	}
	return c
}

// LoadConfig loads config from file and BOARDROOM_* environment variables.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.listen", ":10002")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("dedup.backend", "local")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("BOARDROOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Engine = config.Engine.Normalize()
	config.Dedup = config.Dedup.Normalize()
	config.Clarify = config.Clarify.Normalize()

	if err := config.Engine.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Dedup.Validate(); err != nil {
		panic(err)
	}
	if config.Dedup.Backend == "redis" {
		if err := config.Storage.Redis.Validate(); err != nil {
			panic(err)
		}
	}
	return &config
}
