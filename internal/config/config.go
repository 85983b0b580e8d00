// Package config provides Viper-based configuration for wikicat.
//
// Values are layered the usual way: command-line flags override WIKICAT_* environment
// variables (a .env file in the working directory is loaded first), which override
// the optional YAML config file, which overrides the defaults below.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	wikierrors "github.com/olgasafonova/wikicat/internal/errors"
)

// Defaults. Category, output file, batch size, endpoint and delay are the values the
// exporter has always used for the Wiktionary idiom list.
const (
	DefaultCategory   = "Category:Mandarin_idioms"
	DefaultOutputPath = "成语.lst"
	DefaultBatchSize  = 500
	DefaultEndpoint   = "https://en.wiktionary.org/w/api.php"
	DefaultDelay      = 250 * time.Millisecond
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 5
	DefaultLogLevel   = "info"
	DefaultUserAgent  = "wikicat/1.0 (https://github.com/olgasafonova/wikicat)"

	// MaxBatchSize is the highest cmlimit MediaWiki honours for anonymous clients.
	// A larger request is silently capped, so the short-page rule would stop early.
	MaxBatchSize = 500

	EnvPrefix = "WIKICAT"
)

// RetryMode selects what happens when the API answers with a non-200 status.
type RetryMode string

const (
	// RetryBounded retries the identical request with backoff, then fails.
	RetryBounded RetryMode = "bounded"

	// RetryForever reports the error and re-issues the identical request without limit.
	// Kept for compatibility with the historical exporter behaviour.
	RetryForever RetryMode = "forever"
)

// Config represents the complete wikicat configuration
type Config struct {
	Category       string        `mapstructure:"category" validate:"required"`
	OutputPath     string        `mapstructure:"output" validate:"required"`
	BatchSize      int           `mapstructure:"batch_size" validate:"min=1,max=500"`
	Endpoint       string        `mapstructure:"endpoint" validate:"required,url"`
	UserAgent      string        `mapstructure:"user_agent" validate:"required"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Delay          time.Duration `mapstructure:"delay" validate:"gte=0"`
	RetryMode      RetryMode     `mapstructure:"retry_mode" validate:"oneof=bounded forever"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0"`
	LogLevel       string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PushgatewayURL string        `mapstructure:"pushgateway_url" validate:"omitempty,url"`
}

// flagKeys maps config keys to the CLI flag names that can override them.
var flagKeys = map[string]string{
	"category":        "category",
	"output":          "output",
	"batch_size":      "batch-size",
	"endpoint":        "endpoint",
	"user_agent":      "user-agent",
	"timeout":         "timeout",
	"delay":           "delay",
	"retry_mode":      "retry-mode",
	"max_retries":     "max-retries",
	"log_level":       "log-level",
	"pushgateway_url": "pushgateway",
}

// RegisterFlags defines the export flags on fs. Their defaults match Default so help
// output shows the effective values.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("category", "c", d.Category, "category to enumerate (\"Category:\" prefix is added if missing)")
	fs.StringP("output", "o", d.OutputPath, "output file, one title per line (overwritten)")
	fs.IntP("batch-size", "b", d.BatchSize, "members requested per API call (cmlimit)")
	fs.String("endpoint", d.Endpoint, "MediaWiki API endpoint")
	fs.String("user-agent", d.UserAgent, "User-Agent sent to the wiki")
	fs.Duration("timeout", d.Timeout, "timeout for a single API request")
	fs.Duration("delay", d.Delay, "courtesy delay between API requests")
	fs.String("retry-mode", string(d.RetryMode), "on non-200 responses: bounded (backoff, then fail) or forever (legacy)")
	fs.Int("max-retries", d.MaxRetries, "retries per page in bounded mode")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.String("pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
}

// Load reads configuration from the config file, environment and flags.
// cfgFile may be empty, in which case .wikicat.yaml is searched for in the working
// directory and then in Dir. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".wikicat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Category = strings.TrimSpace(cfg.Category)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Dir returns the per-user configuration directory ($XDG_CONFIG_HOME/wikicat).
func Dir() string {
	return filepath.Join(xdg.ConfigHome, "wikicat")
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Category:   DefaultCategory,
		OutputPath: DefaultOutputPath,
		BatchSize:  DefaultBatchSize,
		Endpoint:   DefaultEndpoint,
		UserAgent:  DefaultUserAgent,
		Timeout:    DefaultTimeout,
		Delay:      DefaultDelay,
		RetryMode:  RetryBounded,
		MaxRetries: DefaultMaxRetries,
		LogLevel:   DefaultLogLevel,
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("category", d.Category)
	v.SetDefault("output", d.OutputPath)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("endpoint", d.Endpoint)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("delay", d.Delay)
	v.SetDefault("retry_mode", string(d.RetryMode))
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("pushgateway_url", "")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields under their config key names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the configuration and returns the first violation as a
// *errors.ValidationError.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return fmt.Errorf("validating config: %w", err)
	}

	fe := verrs[0]
	value := fmt.Sprint(fe.Value())
	return wikierrors.NewValidationError(fe.Field(), value, describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be an absolute URL"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}
