package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("AIRBOT_TEST_KEY", "secret123")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "${AIRBOT_TEST_KEY}", "secret123"},
		{"with default, var set", "${AIRBOT_TEST_KEY:-fallback}", "secret123"},
		{"with default, var unset", "${AIRBOT_TEST_UNSET:-fallback}", "fallback"},
		{"unset no default kept", "${AIRBOT_TEST_UNSET}", "${AIRBOT_TEST_UNSET}"},
		{"embedded", "key=${AIRBOT_TEST_KEY};", "key=secret123;"},
		{"no vars", "plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnvVars(tt.input); got != tt.want {
				t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadExpandsEnvAndValidates(t *testing.T) {
	t.Setenv("AIRBOT_TEST_GEMINI_KEY", "g-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"gemini": {"apiKey": "${AIRBOT_TEST_GEMINI_KEY}"},
		"store": {"dbPath": "` + filepath.Join(dir, "airbot.db") + `"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gemini.APIKey != "g-key" {
		t.Errorf("APIKey: got %q", cfg.Gemini.APIKey)
	}
	// Unset fields keep defaults.
	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Errorf("Model default: got %q", cfg.Gemini.Model)
	}
	if cfg.AirQuality.APIHost != "air-quality.p.rapidapi.com" {
		t.Errorf("APIHost default: got %q", cfg.AirQuality.APIHost)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Web.Port = 99999
	cfg.Gemini.Model = ""
	cfg.Location.UseDefault = true
	cfg.Location.Latitude = 123

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"channels.web.port", "gemini.model", "location.latitude"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "gemini.model", "gemini-2.0-pro"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	if cfg.Gemini.Model != "gemini-2.0-pro" {
		t.Errorf("Model: got %q", cfg.Gemini.Model)
	}

	val, err := GetByPath(cfg, "channels.web.port")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if n, ok := val.(float64); !ok || n != 8080 {
		t.Errorf("port: got %v (%T)", val, val)
	}

	if _, err := GetByPath(cfg, "nope.nothing"); err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestSetByPathCoercesTypes(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "channels.web.port", "9090"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	if cfg.Channels.Web.Port != 9090 {
		t.Errorf("Port: got %d", cfg.Channels.Web.Port)
	}
	if err := SetByPath(cfg, "metrics.enabled", "false"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be false")
	}
}

func TestSanitizeMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Gemini.APIKey = "AIzaSyExampleExampleExample"
	cfg.AirQuality.APIKey = "rapidapikey1234567890"
	cfg.Channels.Telegram.Token = "12345:short"

	s := Sanitize(cfg)
	if s.Gemini.APIKey == cfg.Gemini.APIKey || !strings.Contains(s.Gemini.APIKey, "****") {
		t.Errorf("gemini key not masked: %q", s.Gemini.APIKey)
	}
	if s.AirQuality.APIKey == cfg.AirQuality.APIKey {
		t.Errorf("air quality key not masked: %q", s.AirQuality.APIKey)
	}
	// Original must be untouched.
	if cfg.Gemini.APIKey != "AIzaSyExampleExampleExample" {
		t.Error("Sanitize mutated original config")
	}
}

func TestFlexStringList(t *testing.T) {
	var cfg Config
	data := []byte(`{"channels": {"telegram": {"allowFrom": ["123", 456]}}}`)
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatal(err)
	}
	got := cfg.Channels.Telegram.AllowFrom
	if len(got) != 2 || got[0] != "123" || got[1] != "456" {
		t.Errorf("AllowFrom: got %v", got)
	}
}
