// Package config collects every runtime setting into one explicit structure
// constructed at startup and threaded into each component's constructor.
//
// The primary source is the environment; an optional YAML file can override
// defaults before the environment is applied, and command-line flags are
// applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Sentinel errors for configuration loading.
var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrConfigParse    = errors.New("failed to parse config")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Defaults.
const (
	DefaultPort           = 3000
	DefaultFreeMaxChars   = 1500 // ~1 page
	DefaultFreeMaxExports = 3    // per day
	DefaultUpgradeURL     = "/upgrade"
	DefaultOutDir         = "generated"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"

	DefaultLaunchTimeout = 30 * time.Second
	DefaultStageTimeout  = 20 * time.Second
	DefaultSettleDelay   = 50 * time.Millisecond
	DefaultExportTimeout = 60 * time.Second
)

// Config holds all service configuration.
type Config struct {
	// Port is the HTTP listening port.
	Port int `yaml:"port"`

	// PublicBaseURL is the single configured origin used to build
	// download links on both front doors. Empty falls back to
	// http://localhost:<port>.
	PublicBaseURL string `yaml:"publicBaseUrl"`

	// UpgradeURL is the destination for upgrade prompts.
	UpgradeURL string `yaml:"upgradeUrl"`

	// OutDir is the artifact output directory, created on startup.
	OutDir string `yaml:"outDir"`

	// FreeMaxChars caps content length per free export.
	FreeMaxChars int `yaml:"freeMaxChars"`

	// FreeMaxExports caps free exports per client per UTC day.
	FreeMaxExports int `yaml:"freeMaxExports"`

	// BrowserBin is an explicit browser binary path (empty = managed).
	BrowserBin string `yaml:"browserBin"`

	// NoSandbox disables the Chrome sandbox for containers.
	NoSandbox bool `yaml:"noSandbox"`

	// LaunchTimeout bounds one engine startup attempt.
	LaunchTimeout time.Duration `yaml:"launchTimeout"`

	// StageTimeout bounds each render sub-step.
	StageTimeout time.Duration `yaml:"stageTimeout"`

	// SettleDelay is the post-load pause before PDF export.
	SettleDelay time.Duration `yaml:"settleDelay"`

	// ExportTimeout bounds one export end to end, queue wait included.
	ExportTimeout time.Duration `yaml:"exportTimeout"`

	// EnableMetrics exposes Prometheus metrics on /metrics.
	EnableMetrics bool `yaml:"enableMetrics"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`

	// LogFormat is text or json.
	LogFormat string `yaml:"logFormat"`

	// Stripe checkout settings. Billing stays disabled while the secret
	// key is empty.
	StripeSecretKey string `yaml:"stripeSecretKey"`
	PriceProMonthly string `yaml:"priceProMonthly"`
	PriceLifetime   string `yaml:"priceLifetime"`
	PriceDayPass    string `yaml:"priceDayPass"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		UpgradeURL:     DefaultUpgradeURL,
		OutDir:         DefaultOutDir,
		FreeMaxChars:   DefaultFreeMaxChars,
		FreeMaxExports: DefaultFreeMaxExports,
		LaunchTimeout:  DefaultLaunchTimeout,
		StageTimeout:   DefaultStageTimeout,
		SettleDelay:    DefaultSettleDelay,
		ExportTimeout:  DefaultExportTimeout,
		EnableMetrics:  true,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
	}
}

// FromEnv returns the defaults overridden by environment variables.
func FromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads a YAML config file over the defaults, then applies the
// environment on top.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- config path is operator-provided
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.Strict()); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("PUBLIC_BASE_URL", &c.PublicBaseURL)
	envString("UPGRADE_URL", &c.UpgradeURL)
	envString("OUT_DIR", &c.OutDir)
	envInt("FREE_MAX_CHARS", &c.FreeMaxChars)
	envInt("FREE_MAX_EXPORTS", &c.FreeMaxExports)
	envString("ROD_BROWSER_BIN", &c.BrowserBin)
	envBool("NO_SANDBOX", &c.NoSandbox)
	envBool("ENABLE_METRICS", &c.EnableMetrics)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("STRIPE_SECRET_KEY", &c.StripeSecretKey)
	envString("PRICE_PRO_MONTHLY", &c.PriceProMonthly)
	envString("PRICE_LIFETIME", &c.PriceLifetime)
	envString("PRICE_DAYPASS", &c.PriceDayPass)
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// BaseURL returns the configured public origin, falling back to localhost.
func (c Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.FreeMaxChars <= 0 {
		return fmt.Errorf("%w: freeMaxChars must be positive", ErrInvalidConfig)
	}
	if c.FreeMaxExports <= 0 {
		return fmt.Errorf("%w: freeMaxExports must be positive", ErrInvalidConfig)
	}
	if c.OutDir == "" {
		return fmt.Errorf("%w: outDir cannot be empty", ErrInvalidConfig)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
