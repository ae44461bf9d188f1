// Package config provides configuration management for the cohort query
// pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultCacheMaxSize          = 1000
	DefaultUniqueValuesThreshold = 10
	DefaultLLMTimeout            = 60 * time.Second
	DefaultLLMModel              = "gpt-4o-mini"
	DefaultLLMTemperature        = 0.2
	DefaultLLMMaxTokens          = 1024
	DefaultLLMRequestsPerMinute  = 30
	DefaultHistoryLimit          = 20
)

// DefaultPatientIDColumn is the canonical join key for merging source
// tables; DefaultPatientIDAlternatives are accepted spellings found in
// older exports.
const DefaultPatientIDColumn = "Patient ID"

// DefaultPatientIDAlternatives lists fallback join key column names.
func DefaultPatientIDAlternatives() []string {
	return []string{"PacienteID", "Id_paciente", "patient_id", "PatientID"}
}

// Config represents the configuration for the cohort query pipeline.
type Config struct {
	// Data Configuration
	DataPath              string   `json:"data_path" yaml:"data_path"`                             // Directory containing CSV source tables
	PatientIDColumn       string   `json:"patient_id_column" yaml:"patient_id_column"`             // Canonical join key column
	PatientIDAlternatives []string `json:"patient_id_alternatives" yaml:"patient_id_alternatives"` // Accepted join key variants
	UniqueValuesThreshold int      `json:"unique_values_threshold" yaml:"unique_values_threshold"` // Max cardinality for value distributions
	OutputPath            string   `json:"output_path" yaml:"output_path"`                         // Directory for cohort exports

	// Cache Configuration
	CacheMaxSize int    `json:"cache_max_size" yaml:"cache_max_size"` // Maximum cached intentions
	CachePath    string `json:"cache_path" yaml:"cache_path"`         // Persisted cache blob location

	// LLM Configuration
	LLMBaseURL string `json:"llm_base_url" yaml:"llm_base_url"`
	LLMModel   string `json:"llm_model" yaml:"llm_model"`
	// LLMAPIKey comes from the environment only, never from config files.
	LLMAPIKey      string  `json:"-" yaml:"-"`
	LLMTemperature float64 `json:"llm_temperature" yaml:"llm_temperature"`
	LLMMaxTokens   int     `json:"llm_max_tokens" yaml:"llm_max_tokens"`
	// LLMTimeout bounds the LLM round trip, the one unbounded-latency
	// operation in a turn.
	LLMTimeout           time.Duration `json:"llm_timeout" yaml:"llm_timeout"`
	LLMRequestsPerMinute int           `json:"llm_requests_per_minute" yaml:"llm_requests_per_minute"`

	// Session Configuration
	HistoryLimit int `json:"history_limit" yaml:"history_limit"` // Chat messages retained for LLM context

	// Debugging Configuration
	VerboseLogging bool `json:"verbose_logging" yaml:"verbose_logging"`
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		PatientIDColumn:       DefaultPatientIDColumn,
		PatientIDAlternatives: DefaultPatientIDAlternatives(),
		UniqueValuesThreshold: DefaultUniqueValuesThreshold,
		OutputPath:            "output",

		CacheMaxSize: DefaultCacheMaxSize,
		CachePath:    "cache/preparser.bin",

		LLMModel:             DefaultLLMModel,
		LLMTemperature:       DefaultLLMTemperature,
		LLMMaxTokens:         DefaultLLMMaxTokens,
		LLMTimeout:           DefaultLLMTimeout,
		LLMRequestsPerMinute: DefaultLLMRequestsPerMinute,

		HistoryLimit: DefaultHistoryLimit,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("CacheMaxSize must be positive, got %d", c.CacheMaxSize)
	}

	if c.UniqueValuesThreshold <= 0 {
		return fmt.Errorf("UniqueValuesThreshold must be positive, got %d", c.UniqueValuesThreshold)
	}

	if c.PatientIDColumn == "" {
		return fmt.Errorf("PatientIDColumn must not be empty")
	}

	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLMTimeout must be positive, got %s", c.LLMTimeout)
	}

	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLMTemperature must be between 0 and 2, got %f", c.LLMTemperature)
	}

	if c.HistoryLimit < 0 {
		return fmt.Errorf("HistoryLimit must be non-negative, got %d", c.HistoryLimit)
	}

	return nil
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.PatientIDColumn == "" {
		c.PatientIDColumn = defaults.PatientIDColumn
	}
	if len(c.PatientIDAlternatives) == 0 {
		c.PatientIDAlternatives = defaults.PatientIDAlternatives
	}
	if c.UniqueValuesThreshold == 0 {
		c.UniqueValuesThreshold = defaults.UniqueValuesThreshold
	}
	if c.OutputPath == "" {
		c.OutputPath = defaults.OutputPath
	}
	if c.CacheMaxSize == 0 {
		c.CacheMaxSize = defaults.CacheMaxSize
	}
	if c.CachePath == "" {
		c.CachePath = defaults.CachePath
	}
	if c.LLMModel == "" {
		c.LLMModel = defaults.LLMModel
	}
	if c.LLMTemperature == 0 {
		c.LLMTemperature = defaults.LLMTemperature
	}
	if c.LLMMaxTokens == 0 {
		c.LLMMaxTokens = defaults.LLMMaxTokens
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = defaults.LLMTimeout
	}
	if c.LLMRequestsPerMinute == 0 {
		c.LLMRequestsPerMinute = defaults.LLMRequestsPerMinute
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = defaults.HistoryLimit
	}

	return c
}

// LoadFromFile loads configuration from a file (supports JSON and YAML)
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	return config.ApplyEnv().WithDefaults(), nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() Config {
	return NewConfig().ApplyEnv()
}

// ApplyEnv overlays COHORTQL_* environment variables onto the configuration.
// The API key is only ever read from the environment.
func (c Config) ApplyEnv() Config {
	if val := os.Getenv("COHORTQL_DATA_PATH"); val != "" {
		c.DataPath = val
	}

	if val := os.Getenv("COHORTQL_CACHE_MAX_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			c.CacheMaxSize = parsed
		}
	}

	if val := os.Getenv("COHORTQL_CACHE_PATH"); val != "" {
		c.CachePath = val
	}

	if val := os.Getenv("COHORTQL_UNIQUE_VALUES_THRESHOLD"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			c.UniqueValuesThreshold = parsed
		}
	}

	if val := os.Getenv("COHORTQL_LLM_BASE_URL"); val != "" {
		c.LLMBaseURL = val
	}

	if val := os.Getenv("COHORTQL_LLM_MODEL"); val != "" {
		c.LLMModel = val
	}

	if val := os.Getenv("COHORTQL_LLM_API_KEY"); val != "" {
		c.LLMAPIKey = val
	}

	if val := os.Getenv("COHORTQL_LLM_TIMEOUT"); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			c.LLMTimeout = parsed
		}
	}

	if val := os.Getenv("COHORTQL_VERBOSE"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			c.VerboseLogging = parsed
		}
	}

	return c
}
