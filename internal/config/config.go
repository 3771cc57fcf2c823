package config

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

type Config struct {
	Server       ServerConfig
	Storage      StorageConfig
	Log          LogConfig
	Intelligence IntelligenceConfig
	Notify       NotifyConfig
	Push         PushConfig
	Events       EventsConfig
	Schedule     ScheduleConfig
	Archive      ArchiveConfig
	Telemetry    TelemetryConfig
	Channels     ChannelsConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type IntelligenceConfig struct {
	Backend       string // "ollama" or "openrouter"
	BaseURL       string
	Model         string
	APIKey        string
	Timeout       string
	RatePerMinute int
	Temperature   float64
}

// TimeoutDuration parses Timeout, falling back to 60s when it is empty or invalid.
func (c IntelligenceConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

type NotifyConfig struct {
	MaxPushPerDay int
	QuietStart    int
	QuietEnd      int
	Timezone      string
}

type PushConfig struct {
	RedisAddr  string
	RedisQueue string
}

type EventsConfig struct {
	NATSURL        string
	SubjectPrefix  string
	IngressSubject string
}

type ScheduleConfig struct {
	Enabled    bool
	Digest     string
	Milestones string
	Status     string
	Archive    string
}

type ArchiveConfig struct {
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

type ChannelsConfig struct {
	SlackWebhookURL string
	TelegramToken   string
	WhatsAppToken   string
	WhatsAppPhoneID string
	SMTPAddr        string
	SMTPFrom        string
	SMTPUsername    string
	SMTPPassword    string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Intelligence: IntelligenceConfig{
			Backend:       "ollama",
			BaseURL:       "http://localhost:11434",
			Model:         "mistral-nemo",
			Timeout:       "60s",
			RatePerMinute: 60,
			Temperature:   0.2,
		},
		Notify: NotifyConfig{
			MaxPushPerDay: 3,
			QuietStart:    22,
			QuietEnd:      7,
			Timezone:      "UTC",
		},
		Push: PushConfig{
			RedisQueue: "missiond:push",
		},
		Events: EventsConfig{
			SubjectPrefix: "missiond",
		},
		Schedule: ScheduleConfig{
			Enabled:    true,
			Digest:     "0 8 * * *",
			Milestones: "0 * * * *",
			Status:     "30 7 * * *",
			Archive:    "15 0 * * *",
		},
		Archive: ArchiveConfig{
			S3Prefix: "missiond/audit",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "missiond",
		},
	}
}

// Load reads configuration from the TOML file, environment variables, and
// the secrets file, in increasing order of precedence for non-secret keys.
//
// The file lives at $XDG_CONFIG_HOME/missiond/config.toml unless
// MISSIOND_CONFIG points elsewhere. Secret keys are never read from it:
// they come from MISSIOND_* environment variables or, failing that, from
// $XDG_DATA_HOME/missiond/secrets.json.
func Load() (Config, error) {
	return loadFromPath(ConfigFilePath(), secretsFile{})
}

func loadFromPath(path string, kc keychain) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecretFallback(&cfg, kc)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applySecretFallback(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := kc.Get(secretsService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func validate(cfg Config) error {
	switch cfg.Intelligence.Backend {
	case "ollama":
	case "openrouter":
		if cfg.Intelligence.APIKey == "" {
			return fmt.Errorf("missing required config: intelligence API key for the openrouter backend. " +
				"Set it via environment variable MISSIOND_INTELLIGENCE_API_KEY or the secrets file")
		}
	default:
		return fmt.Errorf("invalid intelligence.backend %q: want ollama or openrouter", cfg.Intelligence.Backend)
	}
	if cfg.Notify.QuietStart < 0 || cfg.Notify.QuietStart > 23 || cfg.Notify.QuietEnd < 0 || cfg.Notify.QuietEnd > 23 {
		return fmt.Errorf("invalid quiet hours %d-%d: hours must be within 0-23", cfg.Notify.QuietStart, cfg.Notify.QuietEnd)
	}
	if cfg.Notify.MaxPushPerDay < 0 {
		return fmt.Errorf("invalid notify.max_push_per_day %d", cfg.Notify.MaxPushPerDay)
	}
	if _, err := time.LoadLocation(cfg.Notify.Timezone); err != nil {
		return fmt.Errorf("invalid notify.timezone %q: %w", cfg.Notify.Timezone, err)
	}
	return nil
}
