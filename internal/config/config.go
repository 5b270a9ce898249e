package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("default")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/sinoscan/")
	viper.AddConfigPath("$HOME/.sinoscan/")

	// Environment variable overrides
	viper.SetEnvPrefix("SINOSCAN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if len(config.Detection.PatternFiles) == 0 {
		return fmt.Errorf("no pattern files configured")
	}

	if len(config.Detection.RuleFiles) == 0 {
		return fmt.Errorf("no false-positive rule files configured")
	}

	if config.Pipeline.WorkerCount <= 0 {
		return fmt.Errorf("invalid worker count: %d", config.Pipeline.WorkerCount)
	}

	if config.Pipeline.CheckpointEvery <= 0 {
		return fmt.Errorf("invalid checkpoint record interval: %d", config.Pipeline.CheckpointEvery)
	}

	if config.Sink.BatchSize <= 0 {
		return fmt.Errorf("invalid sink batch size: %d", config.Sink.BatchSize)
	}

	for id, format := range config.Formats {
		if format.Columns <= 0 {
			return fmt.Errorf("format %s: invalid column count %d", id, format.Columns)
		}
		for field, idx := range format.ColumnMap {
			if idx < 0 || idx >= format.Columns {
				return fmt.Errorf("format %s: column index %d for %s out of range", id, idx, field)
			}
		}
	}

	if config.Status.Enabled && (config.Status.Port <= 0 || config.Status.Port > 65535) {
		return fmt.Errorf("invalid status port: %d", config.Status.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Pattern and rule
// sets are only rebuilt between runs, so the callback records the new config
// for the next run rather than mutating a live pipeline.
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		callback(newConfig)
	})

	return nil
}
