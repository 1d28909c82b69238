package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel           = "gpt-4-turbo"
	DefaultMaxAnswerTokens = 1024
	DefaultTemperature     = 0.2
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 18920
	DefaultBufSize         = 100

	// DefaultHistoryWindow is how many prior turns are kept as context
	// before the oldest are dropped.
	DefaultHistoryWindow = 12

	// Budgets are measured in characters; retriever and assembler share
	// the unit.
	DefaultContextBudget  = 24000
	DefaultEvidenceBudget = 12000

	DefaultSyncSchedule       = "0 */15 * * * *"
	DefaultEmbeddingTimeoutMs = 8000
	DefaultEmbeddingBatchSize = 16
)

type Config struct {
	Advisor  AdvisorConfig  `json:"advisor"`
	Provider ProviderConfig `json:"provider"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Sync     SyncConfig     `json:"sync"`
	Sources  SourcesConfig  `json:"sources"`
}

type AdvisorConfig struct {
	DBPath          string          `json:"dbPath,omitempty"`
	Model           string          `json:"model"`
	MaxAnswerTokens int             `json:"maxAnswerTokens"`
	Temperature     float64         `json:"temperature"`
	HistoryWindow   int             `json:"historyWindow"`
	ContextBudget   int             `json:"contextBudget"`
	EvidenceBudget  int             `json:"evidenceBudget"`
	Embedding       EmbeddingConfig `json:"embedding"`
}

type EmbeddingConfig struct {
	Enabled   bool   `json:"enabled"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type SyncConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

// SourcesConfig points at the external collaborators the sync pass
// pulls from. An empty URL disables that source.
type SourcesConfig struct {
	CRMURL      string `json:"crmUrl,omitempty"`
	MailURL     string `json:"mailUrl,omitempty"`
	CalendarURL string `json:"calendarUrl,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Advisor: AdvisorConfig{
			Model:           DefaultModel,
			MaxAnswerTokens: DefaultMaxAnswerTokens,
			Temperature:     DefaultTemperature,
			HistoryWindow:   DefaultHistoryWindow,
			ContextBudget:   DefaultContextBudget,
			EvidenceBudget:  DefaultEvidenceBudget,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Sync: SyncConfig{
			Schedule: DefaultSyncSchedule,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".advisorai")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("ADVISORAI_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("ADVISORAI_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("ADVISORAI_MODEL"); model != "" {
		cfg.Advisor.Model = model
	}
	if dbPath := os.Getenv("ADVISORAI_DB_PATH"); dbPath != "" {
		cfg.Advisor.DBPath = dbPath
	}
	if token := os.Getenv("ADVISORAI_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if v := os.Getenv("ADVISORAI_HISTORY_WINDOW"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Advisor.HistoryWindow = parsed
		}
	}
	if v := os.Getenv("ADVISORAI_CONTEXT_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Advisor.ContextBudget = parsed
		}
	}
	if v := os.Getenv("ADVISORAI_EMBEDDING_ENABLED"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Advisor.Embedding.Enabled = parsed
		}
	}
	if model := os.Getenv("ADVISORAI_EMBEDDING_MODEL"); model != "" {
		cfg.Advisor.Embedding.Model = model
	}
	if v := os.Getenv("ADVISORAI_SYNC_SCHEDULE"); v != "" {
		cfg.Sync.Schedule = v
	}
	if url := os.Getenv("ADVISORAI_CRM_URL"); url != "" {
		cfg.Sources.CRMURL = url
	}
	if url := os.Getenv("ADVISORAI_MAIL_URL"); url != "" {
		cfg.Sources.MailURL = url
	}
	if url := os.Getenv("ADVISORAI_CALENDAR_URL"); url != "" {
		cfg.Sources.CalendarURL = url
	}

	if cfg.Advisor.HistoryWindow <= 0 {
		cfg.Advisor.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Advisor.ContextBudget <= 0 {
		cfg.Advisor.ContextBudget = DefaultContextBudget
	}
	if cfg.Advisor.EvidenceBudget <= 0 {
		cfg.Advisor.EvidenceBudget = DefaultEvidenceBudget
	}
	if cfg.Advisor.EvidenceBudget > cfg.Advisor.ContextBudget {
		cfg.Advisor.EvidenceBudget = cfg.Advisor.ContextBudget
	}
	if cfg.Advisor.MaxAnswerTokens <= 0 {
		cfg.Advisor.MaxAnswerTokens = DefaultMaxAnswerTokens
	}
	if cfg.Sync.Schedule == "" {
		cfg.Sync.Schedule = DefaultSyncSchedule
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
