package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Aegis-plus/AIGEN/internal/generation"
)

// HostingConfig configures the image-hosting backend client and the relay
// fallback chain. An empty relay list selects the built-in defaults.
type HostingConfig struct {
	BaseURL        string   `yaml:"baseUrl"`
	FilePrefix     string   `yaml:"filePrefix"`
	PollAttempts   int      `yaml:"pollAttempts"`
	PollIntervalMS int      `yaml:"pollIntervalMs"`
	Relays         []string `yaml:"relays"`
}

// GenerationConfig configures the text-to-image capability endpoint.
type GenerationConfig struct {
	BaseURL        string             `yaml:"baseUrl"`
	APIKey         string             `yaml:"apiKey"`
	TimeoutSeconds int                `yaml:"timeoutSeconds"`
	Models         []generation.Model `yaml:"models"`
}

// StorageConfig configures the durable key-value store and the history
// budget enforced on it.
type StorageConfig struct {
	RedisAddr          string `yaml:"redisAddr"`
	HistoryMaxItems    int    `yaml:"historyMaxItems"`
	HistoryBudgetBytes int    `yaml:"historyBudgetBytes"`
}

// OfflineConfig enables the standalone-mode blob cache.
type OfflineConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Type             string `yaml:"type"`
	ConnectionString string `yaml:"connectionString"`
}

type ServiceConfig struct {
	Port       int              `yaml:"port"`
	Hosting    HostingConfig    `yaml:"hosting"`
	Generation GenerationConfig `yaml:"generation"`
	Storage    StorageConfig    `yaml:"storage"`
	Offline    OfflineConfig    `yaml:"offline"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	applyDefaults(&config)

	// Validate models
	if err := validateModels(config.Generation.Models); err != nil {
		return nil, fmt.Errorf("invalid model configuration: %w", err)
	}
	if config.Generation.BaseURL == "" {
		return nil, fmt.Errorf("generation.baseUrl must be set")
	}

	return &config, nil
}

func applyDefaults(config *ServiceConfig) {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.Hosting.BaseURL == "" {
		config.Hosting.BaseURL = "https://anondrop.net"
	}
	if config.Generation.TimeoutSeconds == 0 {
		config.Generation.TimeoutSeconds = 60
	}
	if config.Storage.RedisAddr == "" {
		config.Storage.RedisAddr = "localhost:6379"
	}
	if config.Storage.HistoryMaxItems == 0 {
		config.Storage.HistoryMaxItems = 200
	}
	if config.Storage.HistoryBudgetBytes == 0 {
		// Roughly the persistent storage budget a browser grants an origin.
		config.Storage.HistoryBudgetBytes = 5 << 20
	}
	if config.Offline.Type == "" {
		config.Offline.Type = "sqlite"
	}
	if config.Offline.ConnectionString == "" {
		config.Offline.ConnectionString = "aigen.db"
	}
}

// validateModels ensures all model configurations have required fields
func validateModels(models []generation.Model) error {
	seenIDs := make(map[string]bool)

	for i, model := range models {
		// Validate id is not empty
		if model.ID == "" {
			return fmt.Errorf("model at index %d has empty id", i)
		}

		// Validate id is unique
		if seenIDs[model.ID] {
			return fmt.Errorf("duplicate model id: %s", model.ID)
		}
		seenIDs[model.ID] = true
	}

	return nil
}
