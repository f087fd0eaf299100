// Package config provides centralized configuration management for the application.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultPageSize is the fixed batch size used for all paginated list
// retrievals against either system.
const DefaultPageSize = 100

// Config holds all configuration parameters for the application.
type Config struct {
	Spira   SpiraConfig
	Redmine RedmineConfig
	Sync    SyncConfig
}

// SpiraConfig holds connection settings for the internal system.
type SpiraConfig struct {
	URL    string
	Login  string
	APIKey string
}

// RedmineConfig holds connection settings for the external tracker.
type RedmineConfig struct {
	URL    string
	APIKey string
}

// SyncConfig holds the reconciliation options recognized by the engine.
type SyncConfig struct {
	// CreateNewItemsInSpira gates creation of new incidents during import.
	// Mapped incidents are still updated when this is false.
	CreateNewItemsInSpira bool

	// CreateNewItemsInRedmine gates the whole export phase.
	CreateNewItemsInRedmine bool

	// AutoMapUsers switches user resolution from the persisted mapping table
	// to live username-equality lookup.
	AutoMapUsers bool

	// TimeOffsetHours shifts the "updated since" filter used during import,
	// compensating for clock skew between the two servers.
	TimeOffsetHours int

	// DatabasePath is the location of the sqlite mapping store.
	DatabasePath string
}

// LoadConfig initializes and loads configuration from an optional config file
// and environment variables. Environment variables win over file values.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map specific environment variables
	v.BindEnv("spira.url", "SPIRA_URL")
	v.BindEnv("spira.login", "SPIRA_LOGIN")
	v.BindEnv("spira.apikey", "SPIRA_API_KEY")
	v.BindEnv("redmine.url", "REDMINE_URL")
	v.BindEnv("redmine.apikey", "REDMINE_API_KEY")

	// Sync option defaults
	v.SetDefault("sync.createNewItemsInSpira", true)
	v.SetDefault("sync.createNewItemsInRedmine", true)
	v.SetDefault("sync.autoMapUsers", false)
	v.SetDefault("sync.timeOffsetHours", 0)
	v.SetDefault("sync.databasePath", "trackbridge.db")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	config := &Config{
		Spira: SpiraConfig{
			URL:    v.GetString("spira.url"),
			Login:  v.GetString("spira.login"),
			APIKey: v.GetString("spira.apikey"),
		},
		Redmine: RedmineConfig{
			URL:    v.GetString("redmine.url"),
			APIKey: v.GetString("redmine.apikey"),
		},
		Sync: SyncConfig{
			CreateNewItemsInSpira:   v.GetBool("sync.createNewItemsInSpira"),
			CreateNewItemsInRedmine: v.GetBool("sync.createNewItemsInRedmine"),
			AutoMapUsers:            v.GetBool("sync.autoMapUsers"),
			TimeOffsetHours:         v.GetInt("sync.timeOffsetHours"),
			DatabasePath:            v.GetString("sync.databasePath"),
		},
	}

	return config, nil
}

// ValidateSpiraConfig validates internal-system connection settings.
func ValidateSpiraConfig(config *Config) error {
	var missingVars []string

	if config.Spira.URL == "" {
		missingVars = append(missingVars, "SPIRA_URL")
	}
	if config.Spira.Login == "" {
		missingVars = append(missingVars, "SPIRA_LOGIN")
	}
	if config.Spira.APIKey == "" {
		missingVars = append(missingVars, "SPIRA_API_KEY")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}

// ValidateRedmineConfig validates external-tracker connection settings.
func ValidateRedmineConfig(config *Config) error {
	var missingVars []string

	if config.Redmine.URL == "" {
		missingVars = append(missingVars, "REDMINE_URL")
	}
	if config.Redmine.APIKey == "" {
		missingVars = append(missingVars, "REDMINE_API_KEY")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}
