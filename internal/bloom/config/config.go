package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Port is the network port the HTTP API binds to.
	Port int `koanf:"port" validate:"required,gte=1,lt=65535"`

	// DBPath is the bolt database file that backs the record store.
	DBPath string `koanf:"db_path" validate:"required"`

	// MaxFilters caps how many (table, column) filters may be registered.
	MaxFilters int `koanf:"max_filters" validate:"required,gte=1"`

	// MaxFilterBytes caps the bit-array allocation of a single filter.
	// Zero disables the cap.
	MaxFilterBytes uint64 `koanf:"max_filter_bytes"`

	// MaintenanceInterval is how often the maintenance loop scans for
	// drifted or invalid filters.
	MaintenanceInterval time.Duration `koanf:"maintenance_interval" validate:"required,min_duration"`

	// VerdictCacheSize is the LRU capacity for cached existence verdicts.
	// Zero or negative disables the cache.
	VerdictCacheSize int `koanf:"verdict_cache_size"`

	// DriftRatio triggers a resize once observed inserts exceed the
	// expected count by this factor. Zero selects the built-in default.
	DriftRatio float64 `koanf:"drift_ratio" validate:"gte=0"`

	// GrowthFactor multiplies the expected count on a drift rebuild.
	// Zero selects the built-in default.
	GrowthFactor uint64 `koanf:"growth_factor"`
}

// DEFAULT_APP_CONFIG defines the default application configuration for the
// membership service: environment, logging, HTTP port, record store path,
// registry limits, and the maintenance loop cadence.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:                 "prod",
	LogLevel:            "info",
	Port:                8737,
	DBPath:              "/var/lib/octobloom/records.db",
	MaxFilters:          256,
	MaxFilterBytes:      0,
	MaintenanceInterval: time.Minute,
	VerdictCacheSize:    1000,
	DriftRatio:          0,
	GrowthFactor:        0,
}

// validMinDuration accepts durations of at least one second, so a typo like
// "60" (parsed as nanoseconds) cannot turn the maintenance loop into a busy
// spin.
func validMinDuration(fl validator.FieldLevel) bool {
	d, ok := fl.Field().Interface().(time.Duration)
	if !ok {
		return false
	}
	return d >= time.Second
}

// envLoader loads environment variables with the prefix "OCTOBLOOM_",
// lowercasing keys and stripping the prefix. It can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "OCTOBLOOM_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "OCTOBLOOM_"))
			return key, strings.TrimSpace(value)
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG into the provided Koanf instance
// using the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom "min_duration" validation.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("min_duration", validMinDuration)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
