// Package config loads the engine's ambient settings from .env (spec §2)
// and its structured session/rate-limit/filter settings from a YAML file
// (spec §6 "config file"), grounded in the teacher's config.go pattern:
// read → validate/normalize, accumulating warnings instead of failing on
// non-critical settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lbj9527/tgrelay/internal/obs/timeutil"
)

// EnvConfig holds process-wide ambient settings (spec §2): credentials
// shared by every gotdclient.Config, logging, and the optional admin
// surface. Unlike the teacher, per-session and per-run settings live in
// YAML/RunRequest instead of this struct (the REDESIGN FLAGS item on
// global mutable domain config).
type EnvConfig struct {
	APIID       int
	APIHash     string
	LogLevel    string
	AppTimezone string
	TestDC      bool

	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	MetricsEnable bool
	MetricsAddr   string

	SessionsConfigFile string
}

const (
	defaultLogLevel          = "info"
	defaultAppTimezone       = "UTC"
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
	defaultMetricsAddr       = "127.0.0.1:9090"
	defaultSessionsFile      = "configs/sessions.yaml"
)

type Config struct {
	Env EnvConfig

	mu       sync.RWMutex
	warnings []string
}

var (
	instance *Config
	loaded   bool
)

// Load reads envPath once into the process-global singleton, per the
// teacher's Load/loadConfig split (loadConfig isolated for testability).
func Load(envPath string) error {
	if loaded {
		return errors.New("config: already loaded")
	}
	cfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	instance = cfg
	loaded = true
	return nil
}

func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}
	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("config: env API_HASH must be set")
	}

	var warnings []string

	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	appTimezone := sanitizeTimezone(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	metricsEnable := parseBoolDefault("METRICS_ENABLE", false, &warnings)
	metricsAddr := sanitizeFile("METRICS_ADDR", os.Getenv("METRICS_ADDR"), defaultMetricsAddr, &warnings)
	sessionsFile := sanitizeFile("SESSIONS_CONFIG_FILE", os.Getenv("SESSIONS_CONFIG_FILE"), defaultSessionsFile, &warnings)

	if _, err := timeutil.ParseLocation(appTimezone); err != nil {
		return nil, fmt.Errorf("config: invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	return &Config{
		Env: EnvConfig{
			APIID:              apiID,
			APIHash:            apiHash,
			LogLevel:           logLevel,
			AppTimezone:        appTimezone,
			TestDC:             testDC,
			LogFile:            logFile,
			LogFileLevel:       logFileLevel,
			LogFileMaxSize:     logFileMaxSize,
			LogFileMaxBackups:  logFileMaxBackups,
			LogFileMaxAge:      logFileMaxAge,
			LogFileCompress:    logFileCompress,
			MetricsEnable:      metricsEnable,
			MetricsAddr:        metricsAddr,
			SessionsConfigFile: sessionsFile,
		},
		warnings: warnings,
	}, nil
}

// Env returns the process-global EnvConfig snapshot.
func Env() EnvConfig { return instance.Env }

// Warnings returns every warning accumulated while loading .env.
func Warnings() []string {
	instance.mu.RLock()
	defer instance.mu.RUnlock()
	out := make([]string, len(instance.warnings))
	copy(out, instance.warnings)
	return out
}

// SessionEntry describes one configured session in the YAML file (spec
// §6 "session enrolment").
type SessionEntry struct {
	Name        string `yaml:"name"`
	Phone       string `yaml:"phone"`
	SessionFile string `yaml:"session_file"`
	Enabled     bool   `yaml:"enabled"`
	ThrottleRPS int    `yaml:"throttle_rps"`
}

// RateLimitOverrides lets the operator tune the default ratelimit.Config
// without recompiling (spec §4.2).
type RateLimitOverrides struct {
	GlobalRPS      float64 `yaml:"global_rps"`
	SessionRPS     float64 `yaml:"session_rps"`
	AbsorbSeconds  int     `yaml:"absorb_seconds"`
}

// FiltersConfig carries the config file's default download filters (spec
// §6 "default filters"): an item is skipped if its kind appears in
// ExcludeKinds, or its declared size exceeds MaxFileSizeMB.
type FiltersConfig struct {
	MaxFileSizeMB int64    `yaml:"max_file_size_mb"`
	ExcludeKinds  []string `yaml:"exclude_kinds"`
}

// SessionsConfig is the root of the YAML config file.
type SessionsConfig struct {
	Sessions      []SessionEntry     `yaml:"sessions"`
	RateLimit     RateLimitOverrides `yaml:"rate_limit"`
	Template      string             `yaml:"template"`
	NamingPattern string             `yaml:"naming_pattern"`
	Filters       FiltersConfig      `yaml:"filters"`
}

// LoadSessionsConfig reads and parses the YAML session/rate-limit config
// file, grounded in foxzi-sendry's use of gopkg.in/yaml.v3 for structured
// configuration.
func LoadSessionsConfig(path string) (*SessionsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read sessions file: %w", err)
	}
	var cfg SessionsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse sessions file: %w", err)
	}
	return &cfg, nil
}

func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("config: env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		*warnings = append(*warnings, fmt.Sprintf("env %s is not set; using default %d", name, defaultVal))
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil || (validator != nil && !validator(v)) {
		*warnings = append(*warnings, fmt.Sprintf("env %s value %q invalid; using default %d", name, value, defaultVal))
		return defaultVal
	}
	return v
}

func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		*warnings = append(*warnings, fmt.Sprintf("env %s value %q is not a valid boolean; using default %v", name, value, defaultVal))
		return defaultVal
	}
	return v
}

func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

func sanitizeLogLevel(level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	case "":
		return defaultVal
	default:
		*warnings = append(*warnings, fmt.Sprintf("env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal))
		return defaultVal
	}
}

func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return v
}

func sanitizeTimezone(value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("timezone %q is invalid; using default %q", v, fallback))
		return fallback
	}
	return v
}
