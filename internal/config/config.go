package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the complete application configuration, covering both the
// deterministic computation core's tunables and the surrounding server/
// batch/logging surface.
type Config struct {
	Engine  EngineConfig  `mapstructure:"engine" validate:"required"`
	FHIR    FHIRConfig    `mapstructure:"fhir" validate:"required"`
	Batch   BatchConfig   `mapstructure:"batch" validate:"required"`
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Logging LoggingConfig `mapstructure:"logging" validate:"required"`
}

// EngineConfig parameterizes the PDC Calculator and Fragility Classifier
// (spec §6's configuration surface).
type EngineConfig struct {
	MeasurementYear        int     `mapstructure:"measurement_year" validate:"required,min=2000"`
	CurrentDate            string  `mapstructure:"current_date"` // RFC3339; empty = system clock
	PDCComplianceThreshold float64 `mapstructure:"pdc_compliance_threshold" validate:"min=0,max=1"`
	GapDaysAllowedFraction float64 `mapstructure:"gap_days_allowed_fraction" validate:"min=0,max=1"`
	Q4TighteningFactor     float64 `mapstructure:"q4_tightening_factor" validate:"min=0,max=1"`
	TierBoundaryF1         float64 `mapstructure:"tier_boundary_f1" validate:"min=0"`
	TierBoundaryF2         float64 `mapstructure:"tier_boundary_f2" validate:"min=0"`
	TierBoundaryF3         float64 `mapstructure:"tier_boundary_f3" validate:"min=0"`
	TierBoundaryF4         float64 `mapstructure:"tier_boundary_f4" validate:"min=0"`
	DryRun                 bool    `mapstructure:"dry_run"`
	RxNormTablePath        string  `mapstructure:"rxnorm_table_path"` // empty = built-in starter table

	// PriorityBase is the base priority score per fragility tier (spec §4.2).
	PriorityBaseF1Imminent      int `mapstructure:"priority_base_f1_imminent" validate:"min=0"`
	PriorityBaseF2Fragile       int `mapstructure:"priority_base_f2_fragile" validate:"min=0"`
	PriorityBaseF3Moderate      int `mapstructure:"priority_base_f3_moderate" validate:"min=0"`
	PriorityBaseF4Comfortable   int `mapstructure:"priority_base_f4_comfortable" validate:"min=0"`
	PriorityBaseF5Safe          int `mapstructure:"priority_base_f5_safe" validate:"min=0"`
	PriorityBaseCompliant       int `mapstructure:"priority_base_compliant" validate:"min=0"`
	PriorityBaseT5Unsalvageable int `mapstructure:"priority_base_t5_unsalvageable" validate:"min=0"`

	// PriorityBonus* are the additive priority-score bonuses (spec §4.2).
	PriorityBonusOutOfMeds    int `mapstructure:"priority_bonus_out_of_meds" validate:"min=0"`
	PriorityBonusQ4           int `mapstructure:"priority_bonus_q4" validate:"min=0"`
	PriorityBonusMultiMeasure int `mapstructure:"priority_bonus_multi_measure" validate:"min=0"`
	PriorityBonusNewPatient   int `mapstructure:"priority_bonus_new_patient" validate:"min=0"`
}

// FHIRConfig points the engine's FHIR client at the external server it
// reads dispenses from and writes Observations/Patient extensions to.
type FHIRConfig struct {
	BaseURL              string        `mapstructure:"base_url" validate:"required,url"`
	ExtensionBaseURL      string        `mapstructure:"extension_base_url" validate:"required"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" validate:"required"`
	IndexedSearchCapable  bool          `mapstructure:"indexed_search_capable"`
}

// BatchConfig parameterizes the nightly Batch Driver (spec §4.7).
type BatchConfig struct {
	BatchSize         int           `mapstructure:"batch_size" validate:"min=1"`
	MaxPatients       int           `mapstructure:"max_patients" validate:"min=0"`
	InterBatchDelayMs int           `mapstructure:"inter_batch_delay_ms" validate:"min=0"`
	ProgressEveryN    int           `mapstructure:"progress_every_n" validate:"min=1"`
	MaxPatientRetries int           `mapstructure:"max_patient_retries" validate:"min=0"`
	ScheduleAt        string        `mapstructure:"schedule_at"` // "HH:MM" local time
	AuditDBPath       string        `mapstructure:"audit_db_path" validate:"required"`
	InterBatchDelay   time.Duration `mapstructure:"-"`
}

// ServerConfig holds the admin/ops HTTP surface's configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	Environment  string        `mapstructure:"environment" validate:"required,oneof=development production test"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"required"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" validate:"required"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Environment string `mapstructure:"environment" validate:"required,oneof=development production test"`
	Format      string `mapstructure:"format"` // "json", "console", or "auto"
	FilePath    string `mapstructure:"file_path"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// LoadConfig loads configuration from a YAML file under ./configs (selected
// by environment) plus environment variable overrides, a `.env` file loaded
// first via godotenv so local `go run` invocations don't need exported
// shell variables.
func LoadConfig() (*Config, error) {
	env := getEnvironment()
	loadDotEnv(env)

	v := viper.New()
	v.SetConfigName(env)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, env)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.Batch.InterBatchDelay = time.Duration(config.Batch.InterBatchDelayMs) * time.Millisecond

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults fills in the spec-default tunables so a minimal config file
// still produces a valid Config. fhir.base_url and fhir.extension_base_url
// have no defaults and must come from the config file or the environment.
func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("server.environment", env)
	v.SetDefault("logging.environment", env)
	v.SetDefault("engine.measurement_year", time.Now().Year())

	v.SetDefault("engine.pdc_compliance_threshold", 0.80)
	v.SetDefault("engine.gap_days_allowed_fraction", 0.20)
	v.SetDefault("engine.q4_tightening_factor", 0.80)
	v.SetDefault("engine.tier_boundary_f1", 2)
	v.SetDefault("engine.tier_boundary_f2", 5)
	v.SetDefault("engine.tier_boundary_f3", 10)
	v.SetDefault("engine.tier_boundary_f4", 20)

	v.SetDefault("engine.priority_base_f1_imminent", 100)
	v.SetDefault("engine.priority_base_f2_fragile", 80)
	v.SetDefault("engine.priority_base_f3_moderate", 60)
	v.SetDefault("engine.priority_base_f4_comfortable", 40)
	v.SetDefault("engine.priority_base_f5_safe", 20)
	v.SetDefault("engine.priority_base_compliant", 0)
	v.SetDefault("engine.priority_base_t5_unsalvageable", 0)

	v.SetDefault("engine.priority_bonus_out_of_meds", 30)
	v.SetDefault("engine.priority_bonus_q4", 25)
	v.SetDefault("engine.priority_bonus_multi_measure", 15)
	v.SetDefault("engine.priority_bonus_new_patient", 10)

	v.SetDefault("fhir.request_timeout", 10*time.Second)
	v.SetDefault("fhir.indexed_search_capable", false)

	v.SetDefault("batch.batch_size", 10)
	v.SetDefault("batch.inter_batch_delay_ms", 100)
	v.SetDefault("batch.progress_every_n", 10)
	v.SetDefault("batch.max_patient_retries", 3)
	v.SetDefault("batch.schedule_at", "02:00")
	v.SetDefault("batch.audit_db_path", "pdc_audit.db")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
}

// loadDotEnv loads .env.<environment>, falling back to .env. Missing files
// are not an error: exported shell variables are a legitimate alternative.
func loadDotEnv(env string) {
	candidates := []string{".env." + env, ".env"}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// getEnvironment determines the current environment from GO_ENV, GIN_MODE,
// or APP_ENV, defaulting to development.
func getEnvironment() string {
	if env := os.Getenv("GO_ENV"); env != "" {
		return normalizeEnvironment(env)
	}
	if env := os.Getenv("GIN_MODE"); env != "" {
		return normalizeEnvironment(env)
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		return normalizeEnvironment(env)
	}
	return "development"
}

func normalizeEnvironment(env string) string {
	switch strings.ToLower(env) {
	case "prod", "production", "release":
		return "production"
	case "test", "testing":
		return "test"
	default:
		return "development"
	}
}

// validateConfig validates the configuration using struct tags.
func validateConfig(config *Config) error {
	v := validator.New()
	if err := v.Struct(config); err != nil {
		return fmt.Errorf("validation errors: %w", err)
	}
	return nil
}

// GetConfigPath returns the path to the config file for the given environment.
func GetConfigPath(env string) string {
	configPaths := []string{"./configs", "../configs", "../../configs"}
	for _, path := range configPaths {
		configFile := filepath.Join(path, env+".yaml")
		if _, err := os.Stat(configFile); err == nil {
			return configFile
		}
	}
	return filepath.Join("configs", env+".yaml")
}

// MustLoadConfig loads configuration and panics on error.
func MustLoadConfig() *Config {
	config, err := LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return config
}

// ParseCurrentDate parses EngineConfig.CurrentDate as RFC3339, returning the
// zero time.Time when unset; the Orchestrator runs a zero CurrentDate
// against the system clock.
func (e EngineConfig) ParseCurrentDate() (time.Time, error) {
	if e.CurrentDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, e.CurrentDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid engine.current_date %q: %w", e.CurrentDate, err)
	}
	return t, nil
}
