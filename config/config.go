package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashgraphonline/holdesk/log"
	"github.com/kelseyhightower/envconfig"
)

const ConfigFileName = "config.json"

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".holdesk"), nil
}

// Config represents the application configuration
type Config struct {
	// AccountID is the Hedera account the agent operates as (shard.realm.num).
	AccountID string `json:"account_id" envconfig:"ACCOUNT_ID"`
	// PrivateKey is the operator private key. Never logged.
	PrivateKey string `json:"private_key" envconfig:"PRIVATE_KEY"`
	// Network selects the Hedera network: "mainnet" or "testnet".
	Network string `json:"network" envconfig:"NETWORK"`
	// OpenAIAPIKey is the OpenAI API key, if OpenAI is the configured provider.
	OpenAIAPIKey string `json:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	// AnthropicAPIKey is the Anthropic API key, if Anthropic is the configured provider.
	AnthropicAPIKey string `json:"anthropic_api_key" envconfig:"ANTHROPIC_API_KEY"`
	// DatabasePath is the SQLite file backing all local caches.
	DatabasePath string `json:"database_path" envconfig:"DATABASE_PATH"`
	// MaxConnections bounds how many MCP server connections may be in flight at once.
	MaxConnections int `json:"max_connections" envconfig:"MAX_CONNECTIONS"`
	// SearchCacheTTLSeconds is the lifetime of a memoized registry search result.
	SearchCacheTTLSeconds int `json:"search_cache_ttl_seconds" envconfig:"SEARCH_CACHE_TTL_SECONDS"`
	// RegistrySyncIntervalSeconds is the scheduling interval between registry syncs.
	RegistrySyncIntervalSeconds int `json:"registry_sync_interval_seconds" envconfig:"REGISTRY_SYNC_INTERVAL_SECONDS"`
	// RemoteRegistryEnabled toggles fetching from remote registries. When off,
	// searches are answered from the local cache and bundled catalog only.
	RemoteRegistryEnabled bool `json:"remote_registry_enabled" envconfig:"REGISTRY_REMOTE"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Network:                     "testnet",
		MaxConnections:              5,
		SearchCacheTTLSeconds:       300,
		RegistrySyncIntervalSeconds: 3600,
		RemoteRegistryEnabled:       true,
	}
}

// LoadConfig loads the configuration from disk, then applies HOLDESK_*
// environment overrides. If the file cannot be read, the default
// configuration is returned.
func LoadConfig() *Config {
	cfg := loadFile()
	if err := envconfig.Process("holdesk", cfg); err != nil {
		log.S().Warnw("failed to apply environment overrides", "error", err)
	}
	if cfg.DatabasePath == "" {
		if dir, err := GetConfigDir(); err == nil {
			cfg.DatabasePath = filepath.Join(dir, "holdesk.db")
		}
	}
	return cfg
}

func loadFile() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.S().Errorw("failed to get config directory", "error", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.S().Warnw("failed to save default config", "error", saveErr)
			}
			return defaultCfg
		}

		log.S().Warnw("failed to read config file", "error", err)
		return DefaultConfig()
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		log.S().Errorw("failed to parse config file", "error", err)
		return DefaultConfig()
	}

	return config
}

// saveConfig saves the configuration to disk
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// SaveConfig exports the saveConfig function for use by other packages
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
