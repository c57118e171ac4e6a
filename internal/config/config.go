package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for AirBot. All credentials are injected
// here (directly or via ${VAR} expansion); nothing is embedded in code.
type Config struct {
	General    GeneralConfig    `json:"general"`
	Gemini     GeminiConfig     `json:"gemini"`
	AirQuality AirQualityConfig `json:"airQuality"`
	Location   LocationConfig   `json:"location"`
	Channels   ChannelsConfig   `json:"channels"`
	Store      StoreConfig      `json:"store"`
	Persona    PersonaConfig    `json:"persona"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

// GeminiConfig configures the generative-language API client.
type GeminiConfig struct {
	APIBase        string `json:"apiBase"`
	APIKey         string `json:"apiKey"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// AirQualityConfig configures the air-quality history API client.
type AirQualityConfig struct {
	APIBase         string `json:"apiBase"`
	APIKey          string `json:"apiKey"`
	APIHost         string `json:"apiHost"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
	CacheTTLMinutes int    `json:"cacheTtlMinutes"` // 0 disables the summary cache
}

// LocationConfig optionally supplies default coordinates for sessions that
// never report their own. Disabled by default: a session without coordinates
// is a distinct, user-visible state.
type LocationConfig struct {
	UseDefault bool    `json:"useDefault"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

type ChannelsConfig struct {
	Web      WebConfig      `json:"web"`
	CLI      CLIConfig      `json:"cli"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type PersonaConfig struct {
	Path string `json:"path,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.airbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".airbot"
	}
	return filepath.Join(home, ".airbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Persona.Path = ExpandPath(cfg.Persona.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Gemini.APIBase == "" {
		errs = append(errs, "gemini.apiBase is required")
	}
	if cfg.Gemini.Model == "" {
		errs = append(errs, "gemini.model is required")
	}
	if cfg.Gemini.TimeoutSeconds < 1 {
		errs = append(errs, "gemini.timeoutSeconds must be >= 1")
	}

	if cfg.AirQuality.APIBase == "" {
		errs = append(errs, "airQuality.apiBase is required")
	}
	if cfg.AirQuality.TimeoutSeconds < 1 {
		errs = append(errs, "airQuality.timeoutSeconds must be >= 1")
	}
	if cfg.AirQuality.CacheTTLMinutes < 0 {
		errs = append(errs, "airQuality.cacheTtlMinutes must be >= 0")
	}

	if cfg.Location.UseDefault {
		if cfg.Location.Latitude < -90 || cfg.Location.Latitude > 90 {
			errs = append(errs, "location.latitude must be between -90 and 90")
		}
		if cfg.Location.Longitude < -180 || cfg.Location.Longitude > 180 {
			errs = append(errs, "location.longitude must be between -180 and 180")
		}
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
