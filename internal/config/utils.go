package config

import (
	"os"
	"strconv"
	"strings"
)

// getEnvWithDefault gets environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer with default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as boolean with default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

// ConfigSummary is a loggable snapshot of the active configuration, useful
// at startup and on the admin surface's health endpoint.
type ConfigSummary struct {
	Environment     string `json:"environment"`
	ServerPort      int    `json:"server_port"`
	MeasurementYear int    `json:"measurement_year"`
	FHIRBaseURL     string `json:"fhir_base_url"`
	BatchSize       int    `json:"batch_size"`
	LogLevel        string `json:"log_level"`
	ConfigFile      string `json:"config_file"`
}

// GetConfigSummary returns a summary of the current configuration.
func GetConfigSummary(config *Config) ConfigSummary {
	return ConfigSummary{
		Environment:     config.Server.Environment,
		ServerPort:      config.Server.Port,
		MeasurementYear: config.Engine.MeasurementYear,
		FHIRBaseURL:     config.FHIR.BaseURL,
		BatchSize:       config.Batch.BatchSize,
		LogLevel:        config.Logging.Level,
		ConfigFile:      GetConfigPath(config.Server.Environment),
	}
}

// MergeConfigs merges configuration from multiple sources (useful for testing).
func MergeConfigs(base, override *Config) *Config {
	result := *base
	if override == nil {
		return &result
	}

	if override.Engine.MeasurementYear != 0 {
		result.Engine.MeasurementYear = override.Engine.MeasurementYear
	}
	if override.Engine.CurrentDate != "" {
		result.Engine.CurrentDate = override.Engine.CurrentDate
	}

	if override.FHIR.BaseURL != "" {
		result.FHIR.BaseURL = override.FHIR.BaseURL
	}

	if override.Batch.BatchSize != 0 {
		result.Batch.BatchSize = override.Batch.BatchSize
	}
	if override.Batch.MaxPatients != 0 {
		result.Batch.MaxPatients = override.Batch.MaxPatients
	}

	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}
	if override.Server.Environment != "" {
		result.Server.Environment = override.Server.Environment
	}

	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Environment != "" {
		result.Logging.Environment = override.Logging.Environment
	}

	return &result
}
