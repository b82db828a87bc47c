package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv     = "SLEEPERSCOUT_CONFIG"
	dbDriverEnv       = "SLEEPERSCOUT_DB_DRIVER"
	dbDSNEnv          = "SLEEPERSCOUT_DB_DSN"
	logLevelEnv       = "SLEEPERSCOUT_LOG_LEVEL"
	logFormatEnv      = "SLEEPERSCOUT_LOG_FORMAT"
	baseURLEnv        = "SLEEPERSCOUT_BASE_URL"
	telegramTokenEnv  = "SLEEPERSCOUT_TELEGRAM_TOKEN"
	telegramChatIDEnv = "SLEEPERSCOUT_TELEGRAM_CHAT_ID"
	translatorKeyEnv  = "SLEEPERSCOUT_TRANSLATOR_API_KEY"

	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	maxFetchTimeout  = 60 * time.Second
	maxRetryAttempts = 16
)

// Config holds high-level settings required across the application.
type Config struct {
	Database      DatabaseConfig     `yaml:"database"`
	Source        SourceConfig       `yaml:"source"`
	Sweep         SweepConfig        `yaml:"sweep"`
	Admission     AdmissionConfig    `yaml:"admission"`
	Retry         RetryConfig        `yaml:"retry"`
	Tags          TagsConfig         `yaml:"tags"`
	Logging       LoggingConfig      `yaml:"logging"`
	API           APIConfig          `yaml:"api"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// DatabaseConfig selects the SQL driver and its DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// SourceConfig describes the upstream site and how requests are made.
type SourceConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	UserAgent      string        `yaml:"userAgent"`
	AcceptLanguage string        `yaml:"acceptLanguage"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxBytes       int64         `yaml:"maxBytes"`
}

// SweepConfig bounds the jittered delay between consecutive fetches.
type SweepConfig struct {
	MinDelay time.Duration `yaml:"minDelay"`
	MaxDelay time.Duration `yaml:"maxDelay"`
}

// AdmissionConfig splits IDs into two strata at Pivot.
type AdmissionConfig struct {
	Pivot int64            `yaml:"pivot"`
	Old   ThresholdsConfig `yaml:"old"`
	New   ThresholdsConfig `yaml:"new"`
}

// ThresholdsConfig is one stratum's inclusive minimums.
type ThresholdsConfig struct {
	MinFavorites int64 `yaml:"minFavorites"`
	MinEpisodes  int64 `yaml:"minEpisodes"`
}

// RetryConfig controls backoff for structurally invalid pages.
type RetryConfig struct {
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// TagsConfig points at an optional translation dictionary file.
type TagsConfig struct {
	DictionaryPath string           `yaml:"dictionaryPath"`
	Translator     TranslatorConfig `yaml:"translator"`
}

// TranslatorConfig points the offline tag enrichment job at an
// OpenAI-compatible chat completions endpoint.
type TranslatorConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"apiKey"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// Enabled reports whether an API key is configured.
func (t TranslatorConfig) Enabled() bool {
	return t.APIKey != "" && t.Endpoint != "" && t.Model != ""
}

// LoggingConfig sets the slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// APIConfig configures the read-only reporting server.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Load reads YAML configuration (if present) and applies environment overrides.
func Load() Config {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			// Keys the file omits keep their defaults.
			fileCfg := cfg
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = fileCfg
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

// Validate rejects combinations the sweep cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is empty"))
	}
	if c.Source.BaseURL == "" {
		errs = append(errs, errors.New("source.baseUrl is empty"))
	}
	if c.Source.Timeout <= 0 || c.Source.Timeout > maxFetchTimeout {
		errs = append(errs, fmt.Errorf("source.timeout %s must be in (0, %s]", c.Source.Timeout, maxFetchTimeout))
	}
	if c.Source.MaxBytes <= 0 {
		errs = append(errs, errors.New("source.maxBytes must be positive"))
	}
	if c.Sweep.MinDelay < 0 || c.Sweep.MinDelay > c.Sweep.MaxDelay {
		errs = append(errs, fmt.Errorf("sweep delay range [%s, %s] is invalid", c.Sweep.MinDelay, c.Sweep.MaxDelay))
	}
	if c.Admission.Pivot < 0 {
		errs = append(errs, errors.New("admission.pivot must not be negative"))
	}
	for name, th := range map[string]ThresholdsConfig{"old": c.Admission.Old, "new": c.Admission.New} {
		if th.MinFavorites < 0 || th.MinEpisodes < 0 {
			errs = append(errs, fmt.Errorf("admission.%s thresholds must not be negative", name))
		}
	}
	if c.Retry.BaseBackoff <= 0 {
		errs = append(errs, errors.New("retry.baseBackoff must be positive"))
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("retry.maxAttempts must be in [1, %d]", maxRetryAttempts))
	}

	return errors.Join(errs...)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(dbDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(dbDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(logFormatEnv); v != "" {
		c.Logging.Format = v
	}

	if v := os.Getenv(baseURLEnv); v != "" {
		c.Source.BaseURL = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(translatorKeyEnv); v != "" {
		c.Tags.Translator.APIKey = v
	}
}

// Default returns the configuration used when no file or env override applies.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Driver: DriverSQLite, DSN: "sleeperscout.db"},
		Source: SourceConfig{
			BaseURL:        "https://novelpia.com/novel/",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			AcceptLanguage: "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7",
			Timeout:        12 * time.Second,
			MaxBytes:       4 << 20,
		},
		Sweep: SweepConfig{MinDelay: 1500 * time.Millisecond, MaxDelay: 4 * time.Second},
		Admission: AdmissionConfig{
			Pivot: 300000,
			Old:   ThresholdsConfig{MinFavorites: 100, MinEpisodes: 20},
			New:   ThresholdsConfig{MinFavorites: 30, MinEpisodes: 5},
		},
		Retry: RetryConfig{BaseBackoff: 24 * time.Hour, MaxAttempts: 3},
		Tags: TagsConfig{
			DictionaryPath: "tags.yaml",
			Translator: TranslatorConfig{
				Endpoint: "https://api.openai.com/v1/chat/completions",
				Model:    "gpt-4o-mini",
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		API:     APIConfig{Addr: ":8080"},
	}
}
