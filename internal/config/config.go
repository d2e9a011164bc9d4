// Package config loads and validates configuration for both sentinel
// binaries from a YAML file with SENTINEL_ environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/minsuk-ha/sentinel/internal/models"
	"github.com/minsuk-ha/sentinel/internal/session"
)

// Config is the complete application configuration shared by the watch
// worker and the hub.
type Config struct {
	Watch     WatchConfig     `mapstructure:"watch"`
	Session   SessionConfig   `mapstructure:"session"`
	Levels    LevelsConfig    `mapstructure:"levels"`
	Quotes    QuotesConfig    `mapstructure:"quotes"`
	Brokerage BrokerageConfig `mapstructure:"brokerage"`
	Hub       HubConfig       `mapstructure:"hub"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// InstrumentConfig declares one watched instrument.
type InstrumentConfig struct {
	ID         string   `mapstructure:"id"`
	Category   string   `mapstructure:"category"`
	Symbols    []string `mapstructure:"symbols"` // fallback chain, first success wins
	Sessions   []string `mapstructure:"sessions"`
	Companions []string `mapstructure:"companions"` // instrument IDs feeding the volatility filter
}

// WatchConfig holds polling engine behavior.
type WatchConfig struct {
	PollInterval  time.Duration      `mapstructure:"poll_interval"`
	DedupWindow   time.Duration      `mapstructure:"dedup_window"`
	Freshness     time.Duration      `mapstructure:"freshness"` // quotes older than this are discarded
	ReentryAlerts bool               `mapstructure:"reentry_alerts"`
	GatewayURL    string             `mapstructure:"gateway_url"`
	GatewayKey    string             `mapstructure:"gateway_key"` // empty disables the shared-secret header
	HealthAddr    string             `mapstructure:"health_addr"` // empty disables the health listener
	Instruments   []InstrumentConfig `mapstructure:"instruments"`
}

// SessionConfig holds the session clock boundaries and calendar.
type SessionConfig struct {
	Timezone   string   `mapstructure:"timezone"`
	DayOpen    string   `mapstructure:"day_open"`
	DayClose   string   `mapstructure:"day_close"`
	NightOpen  string   `mapstructure:"night_open"`
	NightClose string   `mapstructure:"night_close"`
	Holidays   []string `mapstructure:"holidays"` // "2006-01-02"
}

// Hours parses the boundary strings into session.Hours.
func (s SessionConfig) Hours() (session.Hours, error) {
	var h session.Hours
	var err error
	if h.DayOpen, err = session.ParseHHMM(s.DayOpen); err != nil {
		return h, fmt.Errorf("session.day_open: %w", err)
	}
	if h.DayClose, err = session.ParseHHMM(s.DayClose); err != nil {
		return h, fmt.Errorf("session.day_close: %w", err)
	}
	if h.NightOpen, err = session.ParseHHMM(s.NightOpen); err != nil {
		return h, fmt.Errorf("session.night_open: %w", err)
	}
	if h.NightClose, err = session.ParseHHMM(s.NightClose); err != nil {
		return h, fmt.Errorf("session.night_close: %w", err)
	}
	return h, nil
}

// LadderConfig is one per-category threshold ladder, in percent.
type LadderConfig struct {
	LV1 float64 `mapstructure:"lv1"`
	LV2 float64 `mapstructure:"lv2"`
	LV3 float64 `mapstructure:"lv3"`
}

// LevelsConfig holds per-category threshold ladders and the companion
// filter cutoff.
type LevelsConfig struct {
	Index           LadderConfig `mapstructure:"index"`
	Volatility      LadderConfig `mapstructure:"volatility"`
	Futures         LadderConfig `mapstructure:"futures"`
	FilterThreshold float64      `mapstructure:"filter_threshold"`
}

// QuotesConfig holds the data-provider client configuration.
type QuotesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// BrokerageConfig holds the brokerage OAuth2 and futures quote settings.
type BrokerageConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	AppKey      string        `mapstructure:"app_key"`
	AppSecret   string        `mapstructure:"app_secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RefreshSkew time.Duration `mapstructure:"refresh_skew"` // refresh this long before expiry
}

// HubConfig holds the ingest gateway and relay settings.
type HubConfig struct {
	Addr            string `mapstructure:"addr"`
	BaseURL         string `mapstructure:"base_url"`
	GatewayKey      string `mapstructure:"gateway_key"`      // x-sentinel-key; empty disables auth
	ConnectorSecret string `mapstructure:"connector_secret"` // HMAC secret for /bridge/ingest
	RelayURL        string `mapstructure:"relay_url"`        // where the gateway forwards, defaults to self
}

// TelegramConfig holds push channel credentials and retry policy.
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	RatePerSec     float64       `mapstructure:"rate_per_sec"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from path and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watch.poll_interval", "30m")
	v.SetDefault("watch.dedup_window", "30m")
	v.SetDefault("watch.freshness", "6h")
	v.SetDefault("watch.reentry_alerts", true)
	v.SetDefault("watch.gateway_url", "http://localhost:8080")
	v.SetDefault("watch.health_addr", "")

	v.SetDefault("session.timezone", "Asia/Seoul")
	v.SetDefault("session.day_open", "09:00")
	v.SetDefault("session.day_close", "15:30")
	v.SetDefault("session.night_open", "18:00")
	v.SetDefault("session.night_close", "05:00")

	v.SetDefault("levels.index", map[string]any{"lv1": 0.8, "lv2": 1.5, "lv3": 2.5})
	v.SetDefault("levels.futures", map[string]any{"lv1": 0.8, "lv2": 1.5, "lv3": 2.5})
	v.SetDefault("levels.volatility", map[string]any{"lv1": 5.0, "lv2": 7.0, "lv3": 10.0})
	v.SetDefault("levels.filter_threshold", 0.6)

	v.SetDefault("quotes.base_url", "https://query2.finance.yahoo.com")
	v.SetDefault("quotes.timeout", "12s")
	v.SetDefault("quotes.max_retries", 3)
	v.SetDefault("quotes.retry_delay_base", "1s")

	v.SetDefault("brokerage.enabled", false)
	v.SetDefault("brokerage.timeout", "30s")
	v.SetDefault("brokerage.refresh_skew", "1h")

	v.SetDefault("hub.addr", ":8080")
	v.SetDefault("hub.base_url", "http://localhost:8080")
	v.SetDefault("hub.relay_url", "")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_attempts", 3)
	v.SetDefault("telegram.retry_delay_base", "500ms")
	v.SetDefault("telegram.rate_per_sec", 1.0)

	v.SetDefault("storage.db_path", "./data/sentinel.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (l LadderConfig) monotonic() bool {
	return l.LV1 > 0 && l.LV1 <= l.LV2 && l.LV2 <= l.LV3
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.Watch.PollInterval < 10*time.Second {
		return fmt.Errorf("watch.poll_interval must be at least 10 seconds")
	}
	if c.Watch.DedupWindow < 0 {
		return fmt.Errorf("watch.dedup_window must not be negative")
	}
	if c.Watch.Freshness < time.Minute {
		return fmt.Errorf("watch.freshness must be at least 1 minute")
	}
	if c.Watch.GatewayURL == "" {
		return fmt.Errorf("watch.gateway_url is required")
	}
	for i, ins := range c.Watch.Instruments {
		inst := models.Instrument{
			ID:       ins.ID,
			Category: models.Category(ins.Category),
			Symbols:  ins.Symbols,
		}
		for _, s := range ins.Sessions {
			inst.Sessions = append(inst.Sessions, models.Session(s))
		}
		if err := inst.Validate(); err != nil {
			return fmt.Errorf("watch.instruments[%d]: %w", i, err)
		}
		if inst.Category == models.CategoryFutures && !c.Brokerage.Enabled {
			return fmt.Errorf("watch.instruments[%d]: futures instrument requires brokerage.enabled", i)
		}
	}

	if _, err := c.Session.Hours(); err != nil {
		return err
	}
	if c.Session.Timezone == "" {
		return fmt.Errorf("session.timezone is required")
	}

	for _, ladder := range []struct {
		name string
		l    LadderConfig
	}{
		{"levels.index", c.Levels.Index},
		{"levels.volatility", c.Levels.Volatility},
		{"levels.futures", c.Levels.Futures},
	} {
		if !ladder.l.monotonic() {
			return fmt.Errorf("%s thresholds must satisfy 0 < lv1 <= lv2 <= lv3", ladder.name)
		}
	}
	if c.Levels.FilterThreshold < 0 {
		return fmt.Errorf("levels.filter_threshold must not be negative")
	}

	if c.Quotes.BaseURL == "" {
		return fmt.Errorf("quotes.base_url is required")
	}
	if c.Quotes.Timeout <= 0 {
		return fmt.Errorf("quotes.timeout must be positive")
	}
	if c.Quotes.MaxRetries < 1 {
		return fmt.Errorf("quotes.max_retries must be at least 1")
	}

	if c.Brokerage.Enabled {
		if c.Brokerage.BaseURL == "" {
			return fmt.Errorf("brokerage.base_url is required when brokerage is enabled")
		}
		if c.Brokerage.AppKey == "" || c.Brokerage.AppSecret == "" {
			return fmt.Errorf("brokerage.app_key and brokerage.app_secret are required when brokerage is enabled")
		}
		if c.Brokerage.RefreshSkew <= 0 {
			return fmt.Errorf("brokerage.refresh_skew must be positive")
		}
	}

	if c.Hub.Addr == "" {
		return fmt.Errorf("hub.addr is required")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxAttempts < 1 {
			return fmt.Errorf("telegram.max_attempts must be at least 1")
		}
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	return nil
}

// Instruments converts the configured instrument list into domain models.
// Call after Validate.
func (c *Config) Instruments() []models.Instrument {
	out := make([]models.Instrument, 0, len(c.Watch.Instruments))
	for _, ins := range c.Watch.Instruments {
		inst := models.Instrument{
			ID:       ins.ID,
			Category: models.Category(ins.Category),
			Symbols:  ins.Symbols,
		}
		for _, s := range ins.Sessions {
			inst.Sessions = append(inst.Sessions, models.Session(s))
		}
		out = append(out, inst)
	}
	return out
}

// Companions returns instrument ID -> companion instrument IDs.
func (c *Config) Companions() map[string][]string {
	out := make(map[string][]string)
	for _, ins := range c.Watch.Instruments {
		if len(ins.Companions) > 0 {
			out[ins.ID] = ins.Companions
		}
	}
	return out
}
