package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
	_ "time/tzdata"

	"ChartBridge/internal/model"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CHART_DATAFEED_BASE_URL.
const EnvPrefix = "CHART"

// Config holds all application configuration.
type Config struct {
	Datafeed struct {
		BaseURL         string        `yaml:"base_url" envconfig:"BASE_URL"`
		StreamingURL    string        `yaml:"streaming_url" envconfig:"STREAMING_URL"`
		Transport       string        `yaml:"transport" envconfig:"TRANSPORT"`
		MaxLookback     time.Duration `yaml:"max_lookback" envconfig:"MAX_LOOKBACK"`
		RateLimitPerSec float64       `yaml:"rate_limit_per_sec" envconfig:"RATE_LIMIT_PER_SEC"`
		RateBurst       int           `yaml:"rate_burst" envconfig:"RATE_BURST"`
		Timeout         time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	} `yaml:"datafeed" envconfig:"DATAFEED"`
	Streaming struct {
		MaxRetries int           `yaml:"max_retries" envconfig:"MAX_RETRIES"`
		RetryDelay time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY"`
	} `yaml:"streaming" envconfig:"STREAMING"`
	Persistence struct {
		Backend    string        `yaml:"backend" envconfig:"BACKEND"`
		Dir        string        `yaml:"dir" envconfig:"DIR"`
		SQLitePath string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
		Debounce   time.Duration `yaml:"debounce" envconfig:"DEBOUNCE"`
	} `yaml:"persistence" envconfig:"PERSISTENCE"`
	Chart struct {
		Container     string `yaml:"container" envconfig:"CONTAINER"`
		LibraryPath   string `yaml:"library_path" envconfig:"LIBRARY_PATH"`
		Symbol        string `yaml:"symbol" envconfig:"SYMBOL"`
		Channel       string `yaml:"channel" envconfig:"CHANNEL"`
		Resolution    string `yaml:"resolution" envconfig:"RESOLUTION"`
		Timezone      string `yaml:"timezone" envconfig:"TIMEZONE"`
		// PositionsFile feeds trading-event marks; empty disables them.
		PositionsFile string `yaml:"positions_file" envconfig:"POSITIONS_FILE"`
	} `yaml:"chart" envconfig:"CHART"`
	Schedule struct {
		ConfigRefreshCron string `yaml:"config_refresh_cron" envconfig:"CONFIG_REFRESH_CRON"`
		StatusCron        string `yaml:"status_cron" envconfig:"STATUS_CRON"`
	} `yaml:"schedule" envconfig:"SCHEDULE"`
	Proxy string `yaml:"proxy" envconfig:"PROXY"`
}

// Load reads an optional .env file, the YAML file at path, then applies
// environment overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Only variables that are set override the file.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if cfg.Proxy == "" {
		cfg.Proxy = os.Getenv("HTTPS_PROXY")
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Datafeed.BaseURL == "" {
		c.Datafeed.BaseURL = "http://localhost:8090"
	}
	if c.Datafeed.StreamingURL == "" {
		c.Datafeed.StreamingURL = c.Datafeed.BaseURL + "/streaming"
	}
	if c.Datafeed.Transport == "" {
		c.Datafeed.Transport = "http"
	}
	if c.Datafeed.MaxLookback == 0 {
		c.Datafeed.MaxLookback = 365 * 24 * time.Hour
	}
	if c.Datafeed.RateBurst == 0 {
		c.Datafeed.RateBurst = 5
	}
	if c.Datafeed.Timeout == 0 {
		c.Datafeed.Timeout = 30 * time.Second
	}
	if c.Streaming.MaxRetries == 0 {
		c.Streaming.MaxRetries = 3
	}
	if c.Streaming.RetryDelay == 0 {
		c.Streaming.RetryDelay = 3 * time.Second
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "file"
	}
	if c.Persistence.Dir == "" {
		c.Persistence.Dir = "data"
	}
	if c.Persistence.SQLitePath == "" {
		c.Persistence.SQLitePath = "data/chartbridge.db"
	}
	if c.Persistence.Debounce == 0 {
		c.Persistence.Debounce = 500 * time.Millisecond
	}
	if c.Chart.Container == "" {
		c.Chart.Container = "tv_chart_container"
	}
	if c.Chart.LibraryPath == "" {
		c.Chart.LibraryPath = "/static/charting_library/"
	}
	if c.Chart.Symbol == "" {
		c.Chart.Symbol = "Crypto.BTC/USD"
	}
	if c.Chart.Channel == "" {
		c.Chart.Channel = c.Chart.Symbol
	}
	if c.Chart.Resolution == "" {
		c.Chart.Resolution = "1D"
	}
	if c.Chart.Timezone == "" {
		c.Chart.Timezone = "Etc/UTC"
	}
	if c.Schedule.ConfigRefreshCron == "" {
		c.Schedule.ConfigRefreshCron = "0 0 * * * *"
	}
	if c.Schedule.StatusCron == "" {
		c.Schedule.StatusCron = "0 */5 * * * *"
	}
}

// Instrument is the instrument the chart opens with.
func (c *Config) Instrument() model.Instrument {
	return model.Instrument{Symbol: c.Chart.Symbol, Channel: c.Chart.Channel}
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Datafeed.BaseURL); err != nil {
		return fmt.Errorf("datafeed.base_url is invalid: %w", err)
	}
	if _, err := url.ParseRequestURI(c.Datafeed.StreamingURL); err != nil {
		return fmt.Errorf("datafeed.streaming_url is invalid: %w", err)
	}
	switch c.Datafeed.Transport {
	case "http", "websocket":
	default:
		return fmt.Errorf("datafeed.transport must be http or websocket, got %q", c.Datafeed.Transport)
	}
	if c.Datafeed.MaxLookback < time.Second {
		return fmt.Errorf("datafeed.max_lookback must be at least 1s, got %v", c.Datafeed.MaxLookback)
	}
	if c.Datafeed.RateLimitPerSec < 0 {
		return fmt.Errorf("datafeed.rate_limit_per_sec must not be negative")
	}
	if c.Streaming.RetryDelay < 0 {
		return fmt.Errorf("streaming.retry_delay must not be negative")
	}
	switch c.Persistence.Backend {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("persistence.backend must be file, sqlite or memory, got %q", c.Persistence.Backend)
	}
	if err := model.Resolution(c.Chart.Resolution).Validate(); err != nil {
		return fmt.Errorf("chart.resolution: %w", err)
	}
	if _, err := time.LoadLocation(c.Chart.Timezone); err != nil {
		return fmt.Errorf("chart.timezone: %w", err)
	}
	return nil
}
