package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeTestnet Mode = "testnet"
	ModeLive    Mode = "live"
)

type Config struct {
	Mode           Mode                 `yaml:"mode"`
	Symbol         string               `yaml:"symbol"`
	Exchange       ExchangeConfig       `yaml:"exchange"`
	Risk           RiskConfig           `yaml:"risk"`
	Monitor        MonitorConfig        `yaml:"monitor"`
	State          StateConfig          `yaml:"state"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Alerts         AlertsConfig         `yaml:"alerts"`
}

type ExchangeConfig struct {
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	RestBaseURL    string `yaml:"rest_base_url"`
	WSBaseURL      string `yaml:"ws_base_url"`
	RecvWindowMs   int64  `yaml:"recv_window_ms"`
	HTTPTimeoutSec int64  `yaml:"http_timeout_sec"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryDelayMs   int64  `yaml:"retry_delay_ms"`
}

type RiskConfig struct {
	MaxPositionFraction Decimal `yaml:"max_position_fraction"`
	StopPrice           Decimal `yaml:"stop_price"`
	BalanceRefreshSec   int64   `yaml:"balance_refresh_sec"`
}

type MonitorConfig struct {
	PollIntervalSec int64 `yaml:"poll_interval_sec"`
	UseTickerStream bool  `yaml:"use_ticker_stream"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type CircuitBreakerConfig struct {
	Enabled           bool  `yaml:"enabled"`
	MaxPlaceFailures  int   `yaml:"max_place_failures"`
	MaxCancelFailures int   `yaml:"max_cancel_failures"`
	CooldownSec       int64 `yaml:"cooldown_sec"`
}

type AlertsConfig struct {
	CooldownSec int64 `yaml:"cooldown_sec"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSBaseURL = strings.TrimSpace(c.Exchange.WSBaseURL)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeTestnet
	}
	// Keys stay out of the config file; the environment is the usual home.
	if c.Exchange.APIKey == "" {
		c.Exchange.APIKey = strings.TrimSpace(os.Getenv("BYBIT_API_KEY"))
	}
	if c.Exchange.APISecret == "" {
		c.Exchange.APISecret = strings.TrimSpace(os.Getenv("BYBIT_API_SECRET"))
	}
	if c.Exchange.RestBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.RestBaseURL = "https://api-testnet.bybit.com"
		case ModeLive:
			c.Exchange.RestBaseURL = "https://api.bybit.com"
		}
	}
	if c.Exchange.WSBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.WSBaseURL = "wss://stream-testnet.bybit.com/v5/public/spot"
		case ModeLive:
			c.Exchange.WSBaseURL = "wss://stream.bybit.com/v5/public/spot"
		}
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 30
	}
	if c.Exchange.MaxRetries == 0 {
		c.Exchange.MaxRetries = 3
	}
	if c.Exchange.RetryDelayMs == 0 {
		c.Exchange.RetryDelayMs = 1000
	}
	if c.Risk.MaxPositionFraction.Cmp(decimal.Zero) == 0 {
		c.Risk.MaxPositionFraction = Decimal{decimal.RequireFromString("0.1")}
	}
	if c.Risk.BalanceRefreshSec == 0 {
		c.Risk.BalanceRefreshSec = 60
	}
	if c.Monitor.PollIntervalSec == 0 {
		c.Monitor.PollIntervalSec = 1
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.CircuitBreaker.MaxPlaceFailures == 0 {
		c.CircuitBreaker.MaxPlaceFailures = 5
	}
	if c.CircuitBreaker.MaxCancelFailures == 0 {
		c.CircuitBreaker.MaxCancelFailures = 5
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 30
	}
	if c.Alerts.CooldownSec == 0 {
		c.Alerts.CooldownSec = 60
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("mode must be testnet or live")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !isValidSymbol(c.Symbol) {
		return fmt.Errorf("symbol must match [A-Z0-9], length 6..20")
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange api_key/api_secret are required (config or BYBIT_API_KEY/BYBIT_API_SECRET)")
	}
	if c.Exchange.RecvWindowMs < 1 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if c.Exchange.MaxRetries < 1 || c.Exchange.MaxRetries > 10 {
		return fmt.Errorf("exchange max_retries must be between 1 and 10")
	}
	if c.Exchange.RetryDelayMs < 1 || c.Exchange.RetryDelayMs > 60000 {
		return fmt.Errorf("exchange retry_delay_ms must be between 1 and 60000")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_base_url %v", err)
	}
	if c.Risk.MaxPositionFraction.Cmp(decimal.Zero) <= 0 ||
		c.Risk.MaxPositionFraction.Cmp(decimal.NewFromInt(1)) > 0 {
		return fmt.Errorf("risk max_position_fraction must be in (0, 1]")
	}
	if c.Risk.StopPrice.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("risk stop_price must be >= 0")
	}
	if c.Risk.BalanceRefreshSec < 5 || c.Risk.BalanceRefreshSec > 3600 {
		return fmt.Errorf("risk balance_refresh_sec must be between 5 and 3600")
	}
	if c.Monitor.PollIntervalSec < 1 || c.Monitor.PollIntervalSec > 60 {
		return fmt.Errorf("monitor poll_interval_sec must be between 1 and 60")
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxPlaceFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_place_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxCancelFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_cancel_failures must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 3600 {
			return fmt.Errorf("circuit_breaker.cooldown_sec must be between 1 and 3600")
		}
	}
	if c.Alerts.CooldownSec < 1 || c.Alerts.CooldownSec > 3600 {
		return fmt.Errorf("alerts.cooldown_sec must be between 1 and 3600")
	}
	return nil
}

func isValidSymbol(v string) bool {
	if len(v) < 6 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
