package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MISSIOND_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "MISSIOND_SERVER_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MISSIOND_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MISSIOND_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "intelligence.backend", typ: kString, env: "MISSIOND_INTELLIGENCE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Intelligence.Backend },
	},
	{
		key: "intelligence.base_url", typ: kString, env: "MISSIOND_INTELLIGENCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Intelligence.BaseURL },
	},
	{
		key: "intelligence.model", typ: kString, env: "MISSIOND_INTELLIGENCE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Intelligence.Model },
	},
	{
		key: "intelligence.api_key", typ: kString, env: "MISSIOND_INTELLIGENCE_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Intelligence.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Intelligence.APIKey },
	},
	{
		key: "intelligence.timeout", typ: kString, env: "MISSIOND_INTELLIGENCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Intelligence.Timeout },
	},
	{
		key: "intelligence.rate_per_minute", typ: kInt, env: "MISSIOND_INTELLIGENCE_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Intelligence.RatePerMinute },
	},
	{
		key: "intelligence.temperature", typ: kFloat, env: "MISSIOND_INTELLIGENCE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Intelligence.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Intelligence.Temperature },
	},
	{
		key: "notify.max_push_per_day", typ: kInt, env: "MISSIOND_NOTIFY_MAX_PUSH_PER_DAY",
		apply:   func(cfg *Config, v any) { cfg.Notify.MaxPushPerDay = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.MaxPushPerDay },
	},
	{
		key: "notify.quiet_start", typ: kInt, env: "MISSIOND_NOTIFY_QUIET_START",
		apply:   func(cfg *Config, v any) { cfg.Notify.QuietStart = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.QuietStart },
	},
	{
		key: "notify.quiet_end", typ: kInt, env: "MISSIOND_NOTIFY_QUIET_END",
		apply:   func(cfg *Config, v any) { cfg.Notify.QuietEnd = v.(int) },
		extract: func(cfg Config) any { return cfg.Notify.QuietEnd },
	},
	{
		key: "notify.timezone", typ: kString, env: "MISSIOND_NOTIFY_TIMEZONE",
		apply:   func(cfg *Config, v any) { cfg.Notify.Timezone = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Timezone },
	},
	{
		key: "push.redis_addr", typ: kString, env: "MISSIOND_PUSH_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Push.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Push.RedisAddr },
	},
	{
		key: "push.redis_queue", typ: kString, env: "MISSIOND_PUSH_REDIS_QUEUE",
		apply:   func(cfg *Config, v any) { cfg.Push.RedisQueue = v.(string) },
		extract: func(cfg Config) any { return cfg.Push.RedisQueue },
	},
	{
		key: "events.nats_url", typ: kString, env: "MISSIOND_EVENTS_NATS_URL",
		apply:   func(cfg *Config, v any) { cfg.Events.NATSURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.NATSURL },
	},
	{
		key: "events.subject_prefix", typ: kString, env: "MISSIOND_EVENTS_SUBJECT_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Events.SubjectPrefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.SubjectPrefix },
	},
	{
		key: "events.ingress_subject", typ: kString, env: "MISSIOND_EVENTS_INGRESS_SUBJECT",
		apply:   func(cfg *Config, v any) { cfg.Events.IngressSubject = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.IngressSubject },
	},
	{
		key: "schedule.enabled", typ: kBool, env: "MISSIOND_SCHEDULE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Schedule.Enabled },
	},
	{
		key: "schedule.digest", typ: kString, env: "MISSIOND_SCHEDULE_DIGEST",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Digest = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Digest },
	},
	{
		key: "schedule.milestones", typ: kString, env: "MISSIOND_SCHEDULE_MILESTONES",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Milestones = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Milestones },
	},
	{
		key: "schedule.status", typ: kString, env: "MISSIOND_SCHEDULE_STATUS",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Status = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Status },
	},
	{
		key: "schedule.archive", typ: kString, env: "MISSIOND_SCHEDULE_ARCHIVE",
		apply:   func(cfg *Config, v any) { cfg.Schedule.Archive = v.(string) },
		extract: func(cfg Config) any { return cfg.Schedule.Archive },
	},
	{
		key: "archive.s3_bucket", typ: kString, env: "MISSIOND_ARCHIVE_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Archive.S3Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.S3Bucket },
	},
	{
		key: "archive.s3_region", typ: kString, env: "MISSIOND_ARCHIVE_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.Archive.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.S3Region },
	},
	{
		key: "archive.s3_endpoint", typ: kString, env: "MISSIOND_ARCHIVE_S3_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Archive.S3Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.S3Endpoint },
	},
	{
		key: "archive.s3_prefix", typ: kString, env: "MISSIOND_ARCHIVE_S3_PREFIX",
		apply:   func(cfg *Config, v any) { cfg.Archive.S3Prefix = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.S3Prefix },
	},
	{
		key: "telemetry.otlp_endpoint", typ: kString, env: "MISSIOND_TELEMETRY_OTLP_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.OTLPEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.OTLPEndpoint },
	},
	{
		key: "telemetry.service_name", typ: kString, env: "MISSIOND_TELEMETRY_SERVICE_NAME",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.ServiceName = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.ServiceName },
	},
	{
		key: "channels.slack_webhook_url", typ: kString, env: "MISSIOND_CHANNELS_SLACK_WEBHOOK_URL",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Channels.SlackWebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.SlackWebhookURL },
	},
	{
		key: "channels.telegram_token", typ: kString, env: "MISSIOND_CHANNELS_TELEGRAM_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Channels.TelegramToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.TelegramToken },
	},
	{
		key: "channels.whatsapp_token", typ: kString, env: "MISSIOND_CHANNELS_WHATSAPP_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Channels.WhatsAppToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.WhatsAppToken },
	},
	{
		key: "channels.whatsapp_phone_id", typ: kString, env: "MISSIOND_CHANNELS_WHATSAPP_PHONE_ID",
		apply:   func(cfg *Config, v any) { cfg.Channels.WhatsAppPhoneID = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.WhatsAppPhoneID },
	},
	{
		key: "channels.smtp_addr", typ: kString, env: "MISSIOND_CHANNELS_SMTP_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Channels.SMTPAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.SMTPAddr },
	},
	{
		key: "channels.smtp_from", typ: kString, env: "MISSIOND_CHANNELS_SMTP_FROM",
		apply:   func(cfg *Config, v any) { cfg.Channels.SMTPFrom = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.SMTPFrom },
	},
	{
		key: "channels.smtp_username", typ: kString, env: "MISSIOND_CHANNELS_SMTP_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.Channels.SMTPUsername = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.SMTPUsername },
	},
	{
		key: "channels.smtp_password", typ: kString, env: "MISSIOND_CHANNELS_SMTP_PASSWORD",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Channels.SMTPPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Channels.SMTPPassword },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
