package logging

import (
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// LogConfig holds the configuration for the logger.
type LogConfig struct {
	Environment string // "production", "development", or "test"
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json", "console", or "auto" (TTY-detected)
	FilePath    string // rotating log file path; empty disables file output
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// InitLogger initializes the global logger instance. This should be called
// once at application startup.
func InitLogger(config LogConfig) error {
	var err error
	once.Do(func() {
		logger, err = createLogger(config)
	})
	return err
}

// GetLogger returns the global logger instance. Returns a no-op logger if
// InitLogger has not been called (for graceful degradation).
func GetLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// MustGetLogger returns the global logger instance. Panics if InitLogger
// has not been called (use for critical paths).
func MustGetLogger() *zap.Logger {
	if logger == nil {
		panic("logger not initialized - call InitLogger first")
	}
	return logger
}

// SetTestLogger sets the global logger for testing purposes. This bypasses
// the sync.Once initialization and should only be used in tests.
func SetTestLogger(testLogger *zap.Logger) {
	logger = testLogger
}

// Sync flushes any buffered log entries. Should be called before
// application shutdown.
func Sync() error {
	if logger != nil {
		return logger.Sync()
	}
	return nil
}

// createLogger builds a zap logger from LogConfig. The core always writes
// to stdout; when FilePath is set, a lumberjack-rotated file sink is
// tee'd alongside it via zapcore.NewTee.
func createLogger(config LogConfig) (*zap.Logger, error) {
	logLevel, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		logLevel = zapcore.InfoLevel
	}

	encoder := buildEncoder(config)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), logLevel),
	}
	if config.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    orDefault(config.MaxSizeMB, 100),
			MaxBackups: orDefault(config.MaxBackups, 5),
			MaxAge:     orDefault(config.MaxAgeDays, 28),
			Compress:   true,
		}
		// File sink is always JSON regardless of the console format, so
		// archived logs stay machine-parseable even in a TTY dev session.
		cores = append(cores, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotator), logLevel))
	}

	zapLogger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))

	if config.Environment == "development" {
		zapLogger = zapLogger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zapLogger, nil
}

func buildEncoder(config LogConfig) zapcore.Encoder {
	format := config.Format
	if format == "" || format == "auto" {
		format = autoFormat(config.Environment)
	}

	switch format {
	case "json":
		return jsonEncoder()
	default:
		return consoleEncoder(config.Environment)
	}
}

// autoFormat picks console output when stdout is attached to a terminal
// (mattn/go-isatty) and JSON otherwise — so `go run` in a dev shell reads
// human-friendly but a redirected/piped/production run stays parseable.
func autoFormat(environment string) string {
	if environment == "production" {
		return "json"
	}
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return "console"
	}
	return "json"
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.CallerKey = "caller"
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func consoleEncoder(environment string) zapcore.Encoder {
	cfg := zap.NewDevelopmentEncoderConfig()
	if environment == "test" {
		cfg.TimeKey = ""
		cfg.CallerKey = ""
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.CallerKey = "caller"
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// LoggerFromEnvironment creates a logger configuration from environment variables.
func LoggerFromEnvironment() LogConfig {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = os.Getenv("GIN_MODE")
	}
	if env == "" {
		env = "development"
	}

	switch env {
	case "release":
		env = "production"
	case "test":
		env = "test"
	default:
		env = "development"
	}

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		if env == "production" {
			level = "info"
		} else {
			level = "debug"
		}
	}

	return LogConfig{
		Environment: env,
		Level:       level,
		Format:      orDefaultStr(os.Getenv("LOG_FORMAT"), "auto"),
		FilePath:    os.Getenv("LOG_FILE_PATH"),
	}
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Helper functions for common logging patterns

func WithUserID(userID string) zap.Field       { return zap.String("user_id", userID) }
func WithRequestID(requestID string) zap.Field { return zap.String("request_id", requestID) }
func WithError(err error) zap.Field            { return zap.Error(err) }
func WithDuration(field string, duration interface{}) zap.Field {
	return zap.Any(field, duration)
}
func WithHTTPStatus(status int) zap.Field { return zap.Int("http_status", status) }
func WithMethod(method string) zap.Field  { return zap.String("method", method) }
func WithPath(path string) zap.Field      { return zap.String("path", path) }
func WithIP(ip string) zap.Field          { return zap.String("client_ip", ip) }
func WithLatency(latency interface{}) zap.Field {
	return zap.Any("latency", latency)
}
func WithComponent(component string) zap.Field { return zap.String("component", component) }
func WithOperation(operation string) zap.Field { return zap.String("operation", operation) }
func WithEntityID(entityType, entityID string) zap.Field {
	return zap.String(entityType+"_id", entityID)
}
func WithPatientRef(patientRef string) zap.Field { return zap.String("patient_ref", patientRef) }
func WithMeasure(measure string) zap.Field       { return zap.String("measure", measure) }
func WithTable(table string) zap.Field           { return zap.String("table", table) }
func WithQuery(query string) zap.Field           { return zap.String("query", query) }
func WithRowsAffected(count int64) zap.Field     { return zap.Int64("rows_affected", count) }

// Component-specific loggers with pre-configured fields

func HandlerLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("handler"))
	}
	return nil
}

func ServiceLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("service"))
	}
	return nil
}

func RepositoryLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("repository"))
	}
	return nil
}

func MiddlewareLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("middleware"))
	}
	return nil
}

func DatabaseLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("database"))
	}
	return nil
}

// PDCLogger is pre-configured for the interval-merge calculator.
func PDCLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("pdc"))
	}
	return nil
}

// FragilityLogger is pre-configured for the tier/priority classifier.
func FragilityLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("fragility"))
	}
	return nil
}

// RefillLogger is pre-configured for the refill/supply projector.
func RefillLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("refill"))
	}
	return nil
}

// FHIRLogger is pre-configured for the FHIR client and observation/patient services.
func FHIRLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("fhir"))
	}
	return nil
}

// OrchestratorLogger is pre-configured for the per-patient pipeline.
func OrchestratorLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("orchestrator"))
	}
	return nil
}

// BatchLogger is pre-configured for the nightly batch driver.
func BatchLogger() *zap.Logger {
	if base := GetLogger(); base != nil {
		return base.With(WithComponent("batch"))
	}
	return nil
}
