package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default advisory token quota per caller per day (0 = unlimited)
const DefaultCallerTokenLimit = 500_000

// Settings represents the main application settings
type Settings struct {
	Providers ProviderSettings `json:"providers"`
	Cache     CacheSettings    `json:"cache"`
	Ledger    LedgerSettings   `json:"ledger"`
	Routing   RoutingSettings  `json:"routing"`
	LogLevel  string           `json:"log_level"`
}

// ProviderSettings configures the backend SDK clients. API keys come from
// environment variables, never from this file.
type ProviderSettings struct {
	Enabled   []string `json:"enabled"`              // subset of: anthropic, openai, gemini, ollama
	MaxTokens int      `json:"max_tokens,omitempty"` // response cap for all chat tiers (0 = model default)
}

// CacheSettings sizes the response and typeahead-prefix caches
type CacheSettings struct {
	Capacity       int `json:"capacity,omitempty"`
	PrefixCapacity int `json:"prefix_capacity,omitempty"`
}

// LedgerSettings configures the usage ledger database
type LedgerSettings struct {
	DBPath             string `json:"db_path,omitempty"`
	DefaultCallerLimit int64  `json:"default_caller_limit,omitempty"`
}

// RoutingSettings optionally points at an external routing table; empty
// means the built-in table compiled into the binary.
type RoutingSettings struct {
	TableFile string         `json:"table_file,omitempty"`
	RPM       map[string]int `json:"rpm,omitempty"` // per-tier RPM overrides
}

// LoadSettings loads application settings from a JSON file
func LoadSettings(configPath string) (*Settings, error) {
	// If config path is empty, search in order of preference
	if configPath == "" {
		configPath = findSettingsFile()
		if configPath == "" {
			return GetDefaultSettings(), nil
		}
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultSettings(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Apply defaults for missing fields
	applyDefaults(&settings)

	return &settings, nil
}

// SaveSettings saves application settings to a JSON file
func SaveSettings(configPath string, settings *Settings) error {
	if configPath == "" {
		configPath = findSettingsFile()
		if configPath == "" {
			configPath = filepath.Join(".candorai", "settings.json")
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// GetDefaultSettings returns default application settings
func GetDefaultSettings() *Settings {
	return &Settings{
		Providers: ProviderSettings{
			Enabled:   []string{"anthropic", "openai", "gemini", "ollama"},
			MaxTokens: 0, // 0 = model-specific defaults
		},
		Cache: CacheSettings{},
		Ledger: LedgerSettings{
			DBPath:             filepath.Join(".candorai", "usage.db"),
			DefaultCallerLimit: DefaultCallerTokenLimit,
		},
		LogLevel: "info",
	}
}

// applyDefaults fills in missing fields with default values
func applyDefaults(settings *Settings) {
	defaults := GetDefaultSettings()

	if len(settings.Providers.Enabled) == 0 {
		settings.Providers.Enabled = defaults.Providers.Enabled
	}
	if settings.Ledger.DBPath == "" {
		settings.Ledger.DBPath = defaults.Ledger.DBPath
	}
	if settings.Ledger.DefaultCallerLimit == 0 {
		settings.Ledger.DefaultCallerLimit = defaults.Ledger.DefaultCallerLimit
	}
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
}

var apiKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// ValidateSettings validates the settings configuration
func ValidateSettings(settings *Settings) error {
	if len(settings.Providers.Enabled) == 0 {
		return fmt.Errorf("at least one provider backend must be enabled")
	}
	for _, backend := range settings.Providers.Enabled {
		switch backend {
		case "anthropic", "openai", "gemini", "ollama":
		default:
			return fmt.Errorf("unsupported provider backend: %s (must be 'anthropic', 'openai', 'gemini', or 'ollama')", backend)
		}
		if env, ok := apiKeyEnv[backend]; ok && os.Getenv(env) == "" {
			return fmt.Errorf("%s API key is required (set %s environment variable)", backend, env)
		}
	}

	for tier, rpm := range settings.Routing.RPM {
		if rpm <= 0 {
			return fmt.Errorf("rpm override for tier %q must be positive", tier)
		}
	}

	if settings.Ledger.DefaultCallerLimit < 0 {
		return fmt.Errorf("default_caller_limit must not be negative")
	}

	switch settings.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", settings.LogLevel)
	}

	return nil
}

// findSettingsFile searches for settings.json in order of preference:
// 1. .candorai/settings.json in current directory
// 2. $HOME/.candorai/settings.json
// Returns empty string if none found
func findSettingsFile() string {
	currentDirPath := filepath.Join(".candorai", "settings.json")
	if _, err := os.Stat(currentDirPath); err == nil {
		return currentDirPath
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		homeDirPath := filepath.Join(homeDir, ".candorai", "settings.json")
		if _, err := os.Stat(homeDirPath); err == nil {
			return homeDirPath
		}
	}

	return ""
}
