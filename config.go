package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string          `mapstructure:"listen"`
	MaxClients int             `mapstructure:"max_clients"`
	Log        LogConfig       `mapstructure:"log"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	CORS       CORSConfig      `mapstructure:"cors"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	Debug      DebugConfig     `mapstructure:"debug"`
	Compress   CompressConfig  `mapstructure:"compress"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // json | text
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type CORSConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig exposes the tree dump at /_debug/tree.
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CompressConfig gzips responses for clients that accept it.
type CompressConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig resolves configuration from, in decreasing precedence, command
// line flags, GECKOMEM_* environment variables, the optional --config file,
// and built-in defaults. The second result reports --version.
func LoadConfig(args []string) (*Config, bool, error) {
	flagSet := pflag.NewFlagSet("geckomem", pflag.ContinueOnError)
	configFile := flagSet.String("config", "", "path to a YAML, TOML or JSON config file")
	showVersion := flagSet.Bool("version", false, "show version information")
	flagSet.String("listen", ":9000", "HTTP server address")
	flagSet.Int("max-clients", 1024, "maximum concurrent requests")
	flagSet.String("log-level", "info", "log level (debug, info, warn, error)")
	flagSet.String("log-format", "json", "log format (json, text)")
	flagSet.Float64("rate-limit-rps", 0, "requests per second, 0 disables rate limiting")
	flagSet.Int("rate-limit-burst", 100, "rate limiter burst size")
	flagSet.Bool("cors", true, "add CORS headers to responses")
	flagSet.StringSlice("cors-origins", nil, "allowed CORS origins (default: any)")
	flagSet.Bool("metrics", true, "serve Prometheus metrics at /metrics")
	flagSet.Bool("debug", false, "serve the storage tree dump at /_debug/tree")
	flagSet.Bool("compress", false, "gzip responses when the client accepts it")

	if err := flagSet.Parse(args); err != nil {
		return nil, false, err
	}

	v := viper.New()
	bindings := map[string]string{
		"listen":             "listen",
		"max_clients":        "max-clients",
		"log.level":          "log-level",
		"log.format":         "log-format",
		"rate_limit.rps":     "rate-limit-rps",
		"rate_limit.burst":   "rate-limit-burst",
		"cors.enabled":       "cors",
		"cors.allow_origins": "cors-origins",
		"metrics.enabled":    "metrics",
		"debug.enabled":      "debug",
		"compress.enabled":   "compress",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, false, fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix("GECKOMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, false, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, *showVersion, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("max_clients must not be negative, got %d", c.MaxClients)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative, got %v", c.RateLimit.RPS)
	}
	return nil
}
