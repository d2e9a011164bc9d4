package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })
	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func validConfig() *Config {
	return &Config{
		Watch: WatchConfig{
			PollInterval: 30 * time.Minute,
			DedupWindow:  30 * time.Minute,
			Freshness:    6 * time.Hour,
			GatewayURL:   "http://localhost:8080",
			Instruments: []InstrumentConfig{
				{ID: "KOSPI", Category: "index", Symbols: []string{"^KS11"}, Sessions: []string{"DAY"}},
			},
		},
		Session: SessionConfig{
			Timezone: "Asia/Seoul", DayOpen: "09:00", DayClose: "15:30",
			NightOpen: "18:00", NightClose: "05:00",
		},
		Levels: LevelsConfig{
			Index:      LadderConfig{LV1: 0.8, LV2: 1.5, LV3: 2.5},
			Volatility: LadderConfig{LV1: 5, LV2: 7, LV3: 10},
			Futures:    LadderConfig{LV1: 0.8, LV2: 1.5, LV3: 2.5},
		},
		Quotes:  QuotesConfig{BaseURL: "https://example.com", Timeout: 12 * time.Second, MaxRetries: 3},
		Hub:     HubConfig{Addr: ":8080"},
		Storage: StorageConfig{DBPath: "./data/test.db"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
watch:
  poll_interval: 15m
  dedup_window: 45m
  instruments:
    - id: "ΔKOSPI"
      category: index
      symbols: ["^KS11", "^KS200"]
      sessions: [DAY]
    - id: VIX
      category: volatility
      symbols: ["^VIX"]
      sessions: [DAY]
      companions: ["ΔKOSPI"]

session:
  holidays:
    - "2025-10-03"

telegram:
  enabled: true
  bot_token: "test_token"
  chat_id: "test_chat_id"

storage:
  db_path: "./data/test.db"

logging:
  level: "info"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Watch.PollInterval != 15*time.Minute {
		t.Errorf("Unexpected poll interval: %v", cfg.Watch.PollInterval)
	}
	if cfg.Watch.DedupWindow != 45*time.Minute {
		t.Errorf("Unexpected dedup window: %v", cfg.Watch.DedupWindow)
	}
	// Defaults fill everything the file omits.
	if cfg.Watch.Freshness != 6*time.Hour {
		t.Errorf("Unexpected freshness default: %v", cfg.Watch.Freshness)
	}
	if !cfg.Watch.ReentryAlerts {
		t.Error("reentry_alerts should default to true")
	}
	if cfg.Session.Timezone != "Asia/Seoul" {
		t.Errorf("Unexpected timezone default: %s", cfg.Session.Timezone)
	}
	if cfg.Levels.Index.LV2 != 1.5 || cfg.Levels.Volatility.LV3 != 10.0 {
		t.Errorf("Unexpected ladder defaults: %+v", cfg.Levels)
	}
	if cfg.Levels.FilterThreshold != 0.6 {
		t.Errorf("Unexpected filter threshold default: %f", cfg.Levels.FilterThreshold)
	}
	if len(cfg.Watch.Instruments) != 2 {
		t.Fatalf("Expected 2 instruments, got %d", len(cfg.Watch.Instruments))
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	instruments := cfg.Instruments()
	if instruments[0].ID != "ΔKOSPI" || len(instruments[0].Symbols) != 2 {
		t.Errorf("Unexpected instrument conversion: %+v", instruments[0])
	}
	companions := cfg.Companions()
	if got := companions["VIX"]; len(got) != 1 || got[0] != "ΔKOSPI" {
		t.Errorf("Unexpected companions: %v", companions)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid baseline",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name: "poll interval too short",
			mutate: func(c *Config) {
				c.Watch.PollInterval = 5 * time.Second
			},
			wantErr: true,
		},
		{
			name: "non-monotonic ladder",
			mutate: func(c *Config) {
				c.Levels.Index = LadderConfig{LV1: 2.0, LV2: 1.5, LV3: 2.5}
			},
			wantErr: true,
		},
		{
			name: "instrument without symbols",
			mutate: func(c *Config) {
				c.Watch.Instruments[0].Symbols = nil
			},
			wantErr: true,
		},
		{
			name: "instrument with unknown category",
			mutate: func(c *Config) {
				c.Watch.Instruments[0].Category = "bond"
			},
			wantErr: true,
		},
		{
			name: "futures instrument without brokerage",
			mutate: func(c *Config) {
				c.Watch.Instruments = append(c.Watch.Instruments, InstrumentConfig{
					ID: "K200F", Category: "futures", Symbols: []string{"101W09"}, Sessions: []string{"NIGHT"},
				})
			},
			wantErr: true,
		},
		{
			name: "brokerage enabled without credentials",
			mutate: func(c *Config) {
				c.Brokerage = BrokerageConfig{Enabled: true, BaseURL: "https://example.com", RefreshSkew: time.Hour}
			},
			wantErr: true,
		},
		{
			name: "bad session boundary",
			mutate: func(c *Config) {
				c.Session.DayOpen = "25:00"
			},
			wantErr: true,
		},
		{
			name: "missing telegram token when enabled",
			mutate: func(c *Config) {
				c.Telegram = TelegramConfig{Enabled: true, ChatID: "chat", MaxAttempts: 3}
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			mutate: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
