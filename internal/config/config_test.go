package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
}

func (m mockKeychain) Get(service, account string) (string, error) {
	if v, ok := m.values[account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	path := writeTempConfig(t, `# empty`)

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Intelligence.Backend != "ollama" {
		t.Errorf("Intelligence.Backend = %q, want %q", cfg.Intelligence.Backend, "ollama")
	}
	if cfg.Intelligence.BaseURL != "http://localhost:11434" {
		t.Errorf("Intelligence.BaseURL = %q, want %q", cfg.Intelligence.BaseURL, "http://localhost:11434")
	}
	if cfg.Notify.MaxPushPerDay != 3 {
		t.Errorf("Notify.MaxPushPerDay = %d, want 3", cfg.Notify.MaxPushPerDay)
	}
	if cfg.Notify.QuietStart != 22 || cfg.Notify.QuietEnd != 7 {
		t.Errorf("quiet hours = %d-%d, want 22-7", cfg.Notify.QuietStart, cfg.Notify.QuietEnd)
	}
	if cfg.Events.SubjectPrefix != "missiond" {
		t.Errorf("Events.SubjectPrefix = %q, want %q", cfg.Events.SubjectPrefix, "missiond")
	}
	if !cfg.Schedule.Enabled {
		t.Error("Schedule.Enabled = false, want true")
	}
	if got := cfg.Intelligence.TimeoutDuration().String(); got != "1m0s" {
		t.Errorf("TimeoutDuration = %s, want 1m0s", got)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	path := writeTempConfig(t, `
[server]
port = 5000
`)

	t.Setenv("MISSIOND_SERVER_PORT", "6000")
	t.Setenv("MISSIOND_NOTIFY_QUIET_START", "not-a-number")

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Notify.QuietStart != 22 {
		t.Errorf("Notify.QuietStart = %d, want default 22 on parse failure", cfg.Notify.QuietStart)
	}
}

// TestMissingRequiredField verifies a clear error when the openrouter key is missing everywhere.
func TestMissingRequiredField(t *testing.T) {
	path := writeTempConfig(t, `
[intelligence]
backend = "openrouter"
`)

	t.Setenv("MISSIOND_INTELLIGENCE_API_KEY", "")

	_, err := loadFromPath(path, mockKeychain{})
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if want := "missing required config"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to contain %q", err.Error(), want)
	}
}

// TestTOMLParsing verifies that fields are correctly read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	content := `
[server]
port = 5000
token = "ignored-secret"

[storage]
data_dir = "/tmp/missiond-test"

[intelligence]
model = "llama3"
rate_per_minute = 12
temperature = 0.7

[notify]
max_push_per_day = 5
quiet_start = 23
quiet_end = 6
timezone = "Europe/Berlin"

[schedule]
enabled = false
digest = "0 9 * * 1-5"

[archive]
s3_bucket = "audit-bucket"
`
	path := writeTempConfig(t, content)

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.Token != "" {
		t.Errorf("Server.Token = %q, secrets must not be read from the file", cfg.Server.Token)
	}
	if cfg.Storage.DataDir != "/tmp/missiond-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Intelligence.Model != "llama3" {
		t.Errorf("Intelligence.Model = %q", cfg.Intelligence.Model)
	}
	if cfg.Intelligence.RatePerMinute != 12 {
		t.Errorf("Intelligence.RatePerMinute = %d", cfg.Intelligence.RatePerMinute)
	}
	if cfg.Intelligence.Temperature != 0.7 {
		t.Errorf("Intelligence.Temperature = %v", cfg.Intelligence.Temperature)
	}
	if cfg.Notify.MaxPushPerDay != 5 || cfg.Notify.QuietStart != 23 || cfg.Notify.QuietEnd != 6 {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if cfg.Notify.Timezone != "Europe/Berlin" {
		t.Errorf("Notify.Timezone = %q", cfg.Notify.Timezone)
	}
	if cfg.Schedule.Enabled {
		t.Error("Schedule.Enabled = true, want false")
	}
	if cfg.Schedule.Digest != "0 9 * * 1-5" {
		t.Errorf("Schedule.Digest = %q", cfg.Schedule.Digest)
	}
	if cfg.Archive.S3Bucket != "audit-bucket" {
		t.Errorf("Archive.S3Bucket = %q", cfg.Archive.S3Bucket)
	}
}

// TestSecretFallback verifies the secrets file is consulted when env has no value.
func TestSecretFallback(t *testing.T) {
	path := writeTempConfig(t, `
[intelligence]
backend = "openrouter"
`)

	t.Setenv("MISSIOND_INTELLIGENCE_API_KEY", "")
	t.Setenv("MISSIOND_SERVER_TOKEN", "env-token")

	kc := mockKeychain{values: map[string]string{
		"intelligence_api_key": "stored-key",
		"server_token":         "stored-token",
	}}
	cfg, err := loadFromPath(path, kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Intelligence.APIKey != "stored-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Intelligence.APIKey, "stored-key")
	}
	if cfg.Server.Token != "env-token" {
		t.Errorf("Token = %q, env must win over the secrets file", cfg.Server.Token)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "[intelligence]\nbackend = \"gpt\"\n"},
		{"quiet hour out of range", "[notify]\nquiet_start = 24\n"},
		{"bad timezone", "[notify]\ntimezone = \"Mars/Olympus\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadFromPath(writeTempConfig(t, tt.content), mockKeychain{}); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missiond", "config.toml")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, "schedule.enabled", "false"); err != nil {
		t.Fatalf("setKey enabled: %v", err)
	}
	if err := setKey(b, "notify.timezone", "America/New_York"); err != nil {
		t.Fatalf("setKey timezone: %v", err)
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "server.token", "x"); err == nil {
		t.Error("expected error when setting a secret")
	}
	if err := setKey(b, "no.such_key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadFromPath(path, mockKeychain{})
	if err != nil {
		t.Fatalf("loadFromPath: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Schedule.Enabled {
		t.Error("Schedule.Enabled = true, want false")
	}
	if cfg.Notify.Timezone != "America/New_York" {
		t.Errorf("Notify.Timezone = %q", cfg.Notify.Timezone)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Server.Token = "s3cret"
	for _, k := range ShowAll(cfg) {
		if k.Key == "server.token" || k.Value == "s3cret" {
			t.Errorf("ShowAll exposed secret %q", k.Key)
		}
		if !strings.HasPrefix(k.EnvVar, "MISSIOND_") {
			t.Errorf("EnvVar %q lacks MISSIOND_ prefix", k.EnvVar)
		}
	}
	if len(ValidKeys())+len(SecretKeys()) != len(specs) {
		t.Error("ValidKeys and SecretKeys do not partition the key table")
	}
}
