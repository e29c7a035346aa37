// Package config loads run settings from defaults, an optional YAML file,
// METAENHANCER_* environment variables and command-line flags, in increasing
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "METAENHANCER"

type Config struct {
	Workers       int           `mapstructure:"workers" validate:"min=1,max=1024"`
	Repeat        bool          `mapstructure:"repeat"`
	Curate        bool          `mapstructure:"curate"`
	Providers     []string      `mapstructure:"providers"`
	Jobs          []string      `mapstructure:"jobs"`
	JobFile       string        `mapstructure:"job-file"`
	Verbosity     string        `mapstructure:"verbosity" validate:"oneof=info warning error"`
	EntityTimeout time.Duration `mapstructure:"entity-timeout" validate:"gte=0s"`
	// Endpoints overrides provider base URLs by endpoint name.
	Endpoints map[string]string `mapstructure:"endpoints" validate:"dive,url"`
	CABundle  string            `mapstructure:"ca-bundle"`

	Log     LogConfig     `mapstructure:"log"`
	Network NetworkConfig `mapstructure:"network"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Report  ReportConfig  `mapstructure:"report"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn warning error"`
	Format     string `mapstructure:"format" validate:"oneof=console json"`
	Output     string `mapstructure:"output" validate:"required"`
	MaxSizeMB  int    `mapstructure:"max-size-mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max-backups" validate:"gte=0"`
}

type NetworkConfig struct {
	RequestTimeout   time.Duration `mapstructure:"request-timeout" validate:"gt=0s"`
	MaxRetries       int           `mapstructure:"max-retries" validate:"gte=0,lte=20"`
	BackoffInitial   time.Duration `mapstructure:"backoff-initial" validate:"gt=0s"`
	BackoffMax       time.Duration `mapstructure:"backoff-max" validate:"gtefield=BackoffInitial"`
	BreakerThreshold int           `mapstructure:"breaker-threshold" validate:"min=1"`
	BreakerCooldown  time.Duration `mapstructure:"breaker-cooldown" validate:"gt=0s"`
	CacheSize        int           `mapstructure:"cache-size" validate:"min=1"`
}

type MonitorConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Interval          time.Duration `mapstructure:"interval" validate:"gt=0s"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0s"`
	FirstCheckTimeout time.Duration `mapstructure:"first-check-timeout" validate:"gt=0s"`
}

type CacheConfig struct {
	// Path of the SQLite response store. Empty disables it.
	Path string        `mapstructure:"path"`
	TTL  time.Duration `mapstructure:"ttl" validate:"gte=0s"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type TraceConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Output is a file path for exported spans; empty means stderr.
	Output string `mapstructure:"output"`
}

type ReportConfig struct {
	// Path of the YAML run report. Empty disables it.
	Path string `mapstructure:"path"`
	// Records includes per-entity records in the report.
	Records bool `mapstructure:"records"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("workers", 10)
	v.SetDefault("repeat", true)
	v.SetDefault("curate", true)
	v.SetDefault("providers", []string{})
	v.SetDefault("jobs", []string{})
	v.SetDefault("job-file", "")
	v.SetDefault("verbosity", "warning")
	v.SetDefault("entity-timeout", "0s")
	v.SetDefault("endpoints", map[string]string{})
	v.SetDefault("ca-bundle", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.max-size-mb", 100)
	v.SetDefault("log.max-backups", 3)

	v.SetDefault("network.request-timeout", "10s")
	v.SetDefault("network.max-retries", 3)
	v.SetDefault("network.backoff-initial", "200ms")
	v.SetDefault("network.backoff-max", "5s")
	v.SetDefault("network.breaker-threshold", 10)
	v.SetDefault("network.breaker-cooldown", "30s")
	v.SetDefault("network.cache-size", 4096)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "10s")
	v.SetDefault("monitor.timeout", "5s")
	v.SetDefault("monitor.first-check-timeout", "30s")

	v.SetDefault("cache.path", "")
	v.SetDefault("cache.ttl", "168h")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.output", "")
	v.SetDefault("report.path", "")
	v.SetDefault("report.records", false)
	return v
}

// BindFlags makes flags override every other source. Flag names are the
// config keys ("network.max-retries").
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

// Load reads the optional config file and returns the validated result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.Providers = splitList(cfg.Providers)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config: invalid settings: %s", strings.Join(msgs, "; "))
}

// splitList accepts both repeated values and comma-separated environment strings.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
