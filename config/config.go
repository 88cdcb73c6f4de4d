package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	DefaultAddress          = ":8080"
	DefaultHealthURL        = "/_"
	DefaultTransportTimeout = "30s"
	DefaultShutdownTimeout  = "5s"
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = "30s"
)

type ServerConfig struct {
	Address         string `mapstructure:"address" yaml:"address"`
	Environment     string `mapstructure:"environment" yaml:"environment"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type BalancerConfig struct {
	// HealthURL is handed to every backend transport. It is never probed.
	HealthURL string `mapstructure:"health_url" yaml:"health_url"`
}

type TransportConfig struct {
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}

type CircuitBreakerConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Threshold    int    `mapstructure:"threshold" yaml:"threshold"`
	ResetTimeout string `mapstructure:"reset_timeout" yaml:"reset_timeout"`
}

type BackendConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server" yaml:"server"`
	Logging        LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Balancer       BalancerConfig       `mapstructure:"balancer" yaml:"balancer"`
	Transport      TransportConfig      `mapstructure:"transport" yaml:"transport"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	Backends       []BackendConfig      `mapstructure:"backends" yaml:"backends"`

	// Source is the file the configuration was read from, empty when none
	// was found.
	Source string `mapstructure:"-" yaml:"-"`
}

// Load reads config.yaml from ./config or the working directory. A missing
// file is not an error: defaults and environment variables still apply.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Source = v.ConfigFileUsed()
	return cfg, nil
}

// LoadFile reads the configuration from path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.Source = path
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", DefaultAddress)
	v.SetDefault("server.shutdown_timeout", DefaultShutdownTimeout)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("balancer.health_url", DefaultHealthURL)
	v.SetDefault("transport.timeout", DefaultTransportTimeout)
	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.threshold", DefaultBreakerThreshold)
	v.SetDefault("circuit_breaker.reset_timeout", DefaultBreakerReset)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// TransportTimeout returns transport.timeout. Validate guarantees it parses.
func (c *Config) TransportTimeout() time.Duration {
	return parseDuration(c.Transport.Timeout)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout)
}

func (c *Config) BreakerResetTimeout() time.Duration {
	return parseDuration(c.CircuitBreaker.ResetTimeout)
}

// BackendURLs returns the configured backend URLs in order.
func (c *Config) BackendURLs() []string {
	urls := make([]string, 0, len(c.Backends))
	for _, b := range c.Backends {
		urls = append(urls, b.URL)
	}
	return urls
}

// WriteYAML renders the effective configuration.
func (c *Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ShutdownTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Balancer,
			validation.Required,
			validation.By(func(value interface{}) error {
				bc, ok := value.(BalancerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a BalancerConfig")
				}
				return validation.ValidateStruct(&bc,
					validation.Field(&bc.HealthURL,
						validation.Required,
						validation.By(validatePath),
					),
				)
			}),
		),
		validation.Field(&c.Transport,
			validation.Required,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TransportConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TransportConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Timeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.Threshold,
						validation.When(cb.Enabled, validation.Required, validation.Min(1)),
					),
					validation.Field(&cb.ResetTimeout,
						validation.When(cb.Enabled, validation.Required, validation.By(validateDuration)),
					),
				)
			}),
		),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(validateUniqueBackends),
		),
	)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_nonpositive_duration", "must be greater than zero")
	}

	return nil
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	if backend.URL == "" {
		return validation.NewError("validation_empty_url", "backend URL cannot be empty")
	}

	parsedURL, err := url.Parse(backend.URL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateUniqueBackends(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of BackendConfig")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		if _, dup := seen[b.URL]; dup {
			return validation.NewError("validation_duplicate_backend", "duplicate backend URL "+b.URL)
		}
		seen[b.URL] = struct{}{}
	}

	return nil
}
