package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all voznote environment variables.
const EnvPrefix = "VOZNOTE_"

// Config holds all application configuration. Secrets (the bot token and
// API keys) are loaded exclusively from environment variables and never
// appear in the config file.
type Config struct {
	DBPath     string `yaml:"db_path"`
	ScratchDir string `yaml:"scratch_dir"`
	OpsAddr    string `yaml:"ops_addr"`

	Transcriber  string `yaml:"transcriber"` // whispercpp | openai | deepgram
	WhisperBin   string `yaml:"whisper_bin"`
	WhisperModel string `yaml:"whisper_model"`

	SummaryModel string `yaml:"summary_model"` // provider/model

	MaxDurationSeconds  float64 `yaml:"max_duration_seconds"`
	AutoSummarySeconds  float64 `yaml:"auto_summary_seconds"`
	OfferSummarySeconds float64 `yaml:"offer_summary_seconds"`

	RetryTTL          string `yaml:"retry_ttl"`
	FollowupTTL       string `yaml:"followup_ttl"`
	TranscribeTimeout string `yaml:"transcribe_timeout"` // empty or 0 = unbounded

	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	TelegramToken   string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DBPath:                "data/voznote.db",
		ScratchDir:            "data/scratch",
		OpsAddr:               "127.0.0.1:8753",
		Transcriber:           "whispercpp",
		WhisperBin:            "whisper-cli",
		WhisperModel:          "models/ggml-base.bin",
		SummaryModel:          "openai/gpt-4o-mini",
		MaxDurationSeconds:    1800,
		AutoSummarySeconds:    180,
		OfferSummarySeconds:   60,
		RetryTTL:              "5m",
		FollowupTTL:           "30m",
		Workers:               2,
		QueueDepth:            2,
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedRetryTTL returns RetryTTL as a time.Duration, falling back to 5m.
func (c *Config) ParsedRetryTTL() time.Duration {
	return parseDurationOr(c.RetryTTL, 5*time.Minute)
}

// ParsedFollowupTTL returns FollowupTTL as a time.Duration, falling back to 30m.
func (c *Config) ParsedFollowupTTL() time.Duration {
	return parseDurationOr(c.FollowupTTL, 30*time.Minute)
}

// ParsedTranscribeTimeout returns the optional transcription timeout.
// Zero means the call runs unbounded.
func (c *Config) ParsedTranscribeTimeout() time.Duration {
	if c.TranscribeTimeout == "" {
		return 0
	}
	return parseDurationOr(c.TranscribeTimeout, 0)
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "SCRATCH_DIR"); v != "" {
		cfg.ScratchDir = v
	}
	if v := os.Getenv(EnvPrefix + "OPS_ADDR"); v != "" {
		cfg.OpsAddr = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIBER"); v != "" {
		cfg.Transcriber = v
	}
	if v := os.Getenv(EnvPrefix + "WHISPER_BIN"); v != "" {
		cfg.WhisperBin = v
	}
	if v := os.Getenv(EnvPrefix + "WHISPER_MODEL"); v != "" {
		cfg.WhisperModel = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.SummaryModel = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_DURATION_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.MaxDurationSeconds = f
		}
	}
	if v := os.Getenv(EnvPrefix + "RETRY_TTL"); v != "" {
		cfg.RetryTTL = v
	}
	if v := os.Getenv(EnvPrefix + "FOLLOWUP_TTL"); v != "" {
		cfg.FollowupTTL = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIBE_TIMEOUT"); v != "" {
		cfg.TranscribeTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := os.Getenv(EnvPrefix + "QUEUE_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.QueueDepth = n
		}
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.TelegramToken = os.Getenv(EnvPrefix + "TELEGRAM_TOKEN")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.TelegramToken == "" {
		warnings = append(warnings, "Telegram token not configured — the bot cannot connect. Set "+EnvPrefix+"TELEGRAM_TOKEN.")
	}

	switch cfg.Transcriber {
	case "whispercpp":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			warnings = append(warnings, "OpenAI API key not configured — transcription is disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
		}
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured — transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown transcriber %q — using whispercpp.", cfg.Transcriber))
		cfg.Transcriber = "whispercpp"
	}

	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" && cfg.GeminiAPIKey == "" {
		warnings = append(warnings, "No LLM API key configured — summaries are disabled.")
	}

	if _, err := time.ParseDuration(cfg.RetryTTL); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid retry_ttl %q — using default 5m.", cfg.RetryTTL))
	}
	if _, err := time.ParseDuration(cfg.FollowupTTL); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid followup_ttl %q — using default 30m.", cfg.FollowupTTL))
	}

	if cfg.OfferSummarySeconds >= cfg.AutoSummarySeconds {
		warnings = append(warnings, fmt.Sprintf(
			"offer_summary_seconds (%.0f) must be below auto_summary_seconds (%.0f) — using defaults 60/180.",
			cfg.OfferSummarySeconds, cfg.AutoSummarySeconds))
		cfg.OfferSummarySeconds = 60
		cfg.AutoSummarySeconds = 180
	}

	return warnings
}
