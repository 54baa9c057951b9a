package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// Config holds the configuration for the APM agent. It is a plain value:
// helpers return modified copies and never touch the receiver.
type Config struct {
	ServiceName      string `mapstructure:"service_name"`
	ServiceVersion   string `mapstructure:"service_version"`
	FrameworkName    string `mapstructure:"framework_name"`
	FrameworkVersion string `mapstructure:"framework_version"`

	Enabled    bool   `mapstructure:"enabled"`
	Instrument bool   `mapstructure:"instrument"`
	LogLevel   string `mapstructure:"log_level"`

	CaptureHeaders     bool     `mapstructure:"capture_headers"`
	SanitizeFieldNames []string `mapstructure:"sanitize_field_names"`

	DebugEndpoint     string    `mapstructure:"debug_endpoint"`
	NPlusOneThreshold int       `mapstructure:"n_plus_one_threshold"`
	Profiling         Profiling `mapstructure:"profiling"`
}

// Profiling configures on-demand CPU profiling of slow transactions.
type Profiling struct {
	Enabled          bool          `mapstructure:"enabled"`
	LatencyThreshold time.Duration `mapstructure:"latency_threshold"`
	Duration         time.Duration `mapstructure:"duration"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	Dir              string        `mapstructure:"dir"`
}

// DefaultSanitizeFieldNames are the header and cookie names whose values are redacted.
var DefaultSanitizeFieldNames = []string{
	"password",
	"passwd",
	"pwd",
	"secret",
	"*key",
	"*token*",
	"*session*",
	"*credit*",
	"*card*",
	"authorization",
	"set-cookie",
	"cookie",
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	var cfg Config
	v := viper.New()
	setDefaults(v)
	// Decoding the defaults alone cannot fail.
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Load reads config.yaml from path (if present) and APM_* environment variables.
func Load(path string) (Config, error) {
	var cfg Config

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "unknown-service")
	v.SetDefault("service_version", "")
	v.SetDefault("framework_name", "")
	v.SetDefault("framework_version", "")
	v.SetDefault("enabled", true)
	v.SetDefault("instrument", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("capture_headers", true)
	v.SetDefault("sanitize_field_names", DefaultSanitizeFieldNames)
	v.SetDefault("debug_endpoint", "/debug/apm")
	v.SetDefault("n_plus_one_threshold", 5)
	v.SetDefault("profiling.enabled", true)
	v.SetDefault("profiling.latency_threshold", 500*time.Millisecond)
	v.SetDefault("profiling.duration", 10*time.Second)
	v.SetDefault("profiling.cooldown", time.Minute)
	v.SetDefault("profiling.dir", "")
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	for _, pattern := range c.SanitizeFieldNames {
		if !doublestar.ValidatePattern(strings.ToLower(pattern)) {
			return fmt.Errorf("config: invalid sanitize_field_names pattern %q", pattern)
		}
	}
	if c.NPlusOneThreshold < 0 {
		return fmt.Errorf("config: n_plus_one_threshold must not be negative, got %d", c.NPlusOneThreshold)
	}
	if c.Profiling.LatencyThreshold < 0 || c.Profiling.Duration < 0 || c.Profiling.Cooldown < 0 {
		return errors.New("config: profiling durations must not be negative")
	}
	return nil
}

// WithFrameworkDefaults returns a copy of c with the framework name and
// version filled in where the caller left them empty.
func (c Config) WithFrameworkDefaults(name, version string) Config {
	if c.FrameworkName == "" {
		c.FrameworkName = name
	}
	if c.FrameworkVersion == "" {
		c.FrameworkVersion = version
	}
	c.SanitizeFieldNames = append([]string(nil), c.SanitizeFieldNames...)
	return c
}
