// Package config loads and validates process-wide configuration (§6):
// project/store identity, the LLM model, per-stage worker URLs and
// concurrency caps, and the retry discipline. Loading follows tarsy's
// config layer: YAML on disk, environment overrides, dario.cat/mergo to
// merge over defaults, and go-playground/validator struct tags.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	validatorpkg "github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cobolgraph/extractor/pkg/pipelineerr"
)

var validate = validatorpkg.New()

// Config is the top-level, process-wide configuration for one pipeline
// invocation or one long-running extractor service instance.
type Config struct {
	// ProjectID identifies the LLM/store tenant (§6).
	ProjectID string `yaml:"project_id" validate:"required"`
	// InstanceID + DatabaseID identify the graph store target (§6).
	InstanceID string `yaml:"instance_id" validate:"required"`
	DatabaseID string `yaml:"database_id" validate:"required"`

	// ModelName is the LLM model used for every stage call (§6).
	ModelName string `yaml:"model_name" validate:"required"`

	// MaxReferenceChars bounds the full-program reference context sent
	// alongside per-structure stage 3/4 calls so oversized programs don't
	// overrun the LLM's context window (carried from original_source's
	// agent4, generalized into a config knob).
	MaxReferenceChars int `yaml:"max_reference_chars" validate:"min=1000"`

	Stages   Stages         `yaml:"stages"`
	Retry    Retry          `yaml:"retry"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`

	// configDir records where this Config was loaded from, for diagnostics.
	configDir string
}

// Stages holds per-stage worker URLs (used when a stage is deployed as an
// independent service, §6) and per-stage concurrency caps (§5).
type Stages struct {
	// IngestWorkerURL, when non-empty, is the base URL of a remote stage 1
	// line-classification worker; empty means run in-process.
	IngestWorkerURL string `yaml:"ingest_worker_url"`
	// StructureWorkerURL is the remote stage 2 worker base URL, if any.
	StructureWorkerURL string `yaml:"structure_worker_url"`
	// EntityWorkerURL is the remote stage 3 worker base URL, if any.
	EntityWorkerURL string `yaml:"entity_worker_url"`
	// FlowWorkerURL is the remote stage 4 worker base URL, if any.
	FlowWorkerURL string `yaml:"flow_worker_url"`

	// IngestConcurrency bounds stage 1 line classification fan-out. Default 20.
	IngestConcurrency int `yaml:"ingest_concurrency" validate:"min=1"`
	// EntityConcurrency bounds stage 3 per-structure fan-out. Default 20-50 → 30.
	EntityConcurrency int `yaml:"entity_concurrency" validate:"min=1"`
	// FlowConcurrency bounds stage 4 per-structure fan-out. Default 20.
	FlowConcurrency int `yaml:"flow_concurrency" validate:"min=1"`

	// CallTimeout is the per-outbound-call timeout (§5: "up to 60s for
	// reasoning calls").
	CallTimeout time.Duration `yaml:"call_timeout" validate:"min=1"`
}

// Retry holds the global retry/backoff discipline (§4.6, §7).
type Retry struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"min=1"`
	Multiplier     float64       `yaml:"multiplier" validate:"min=1"`
}

// DatabaseConfig mirrors pkg/database.Config's shape so the loader can feed
// it straight through without a second parse pass.
type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// HTTPConfig configures the gin-based API surface (§6, SPEC_FULL pkg/api).
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr" validate:"required"`
}

// Stats summarizes configuration (the /health handler does not include it), mirroring the
// shape of tarsy's ConfigStats without its agent/chain/MCP registries (this
// pipeline has no equivalent concept).
type Stats struct {
	ProjectID         string `json:"project_id"`
	ModelName         string `json:"model_name"`
	IngestConcurrency int    `json:"ingest_concurrency"`
	EntityConcurrency int    `json:"entity_concurrency"`
	FlowConcurrency   int    `json:"flow_concurrency"`
}

// Stats returns a snapshot of the configuration.
func (c *Config) Stats() Stats {
	return Stats{
		ProjectID:         c.ProjectID,
		ModelName:         c.ModelName,
		IngestConcurrency: c.Stages.IngestConcurrency,
		EntityConcurrency: c.Stages.EntityConcurrency,
		FlowConcurrency:   c.Stages.FlowConcurrency,
	}
}

// Defaults returns the baseline configuration merged under anything loaded
// from disk/env, following tarsy's defaults.go pattern of a fully-populated
// zero-risk starting point.
func Defaults() Config {
	return Config{
		ModelName:         "gemini-3-pro-preview",
		MaxReferenceChars: 50000,
		Stages: Stages{
			IngestConcurrency: 20,
			EntityConcurrency: 30,
			FlowConcurrency:   20,
			CallTimeout:       60 * time.Second,
		},
		Retry: Retry{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			Multiplier:     2.0,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "extractor",
			Database:        "extractor",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads a YAML config file from configDir/config.yaml (if present),
// merges it over Defaults(), applies environment variable overrides, and
// validates the result. configDir may be empty to use defaults + env only.
func Load(configDir string) (*Config, error) {
	cfg := Defaults()
	cfg.configDir = configDir

	if configDir != "" {
		path := configDir + "/config.yaml"
		if data, err := os.ReadFile(path); err == nil {
			var fromFile Config
			if err := yaml.Unmarshal(data, &fromFile); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
			if err := mergo.Merge(&cfg, fromFile, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("merging %s over defaults: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, translateValidationError(err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXTRACTOR_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if v := os.Getenv("EXTRACTOR_INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := os.Getenv("EXTRACTOR_DATABASE_ID"); v != "" {
		cfg.DatabaseID = v
	}
	if v := os.Getenv("EXTRACTOR_MODEL_NAME"); v != "" {
		cfg.ModelName = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Database = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("HTTP_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
}

func translateValidationError(err error) error {
	if verrs, ok := err.(validatorpkg.ValidationErrors); ok && len(verrs) > 0 {
		first := verrs[0]
		return pipelineerr.NewValidationError(first.Field(), first.Tag())
	}
	return fmt.Errorf("config validation failed: %w", err)
}
