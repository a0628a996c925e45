// Package config provides configuration loading and validation for the relief daemon.
//
// Configuration is split the way the rest of the system expects it:
//
//   - Pipeline: queue capacity, throttle floor, retry bounds. These guard the
//     interpreter, a shared rate-limited resource.
//   - Allocation: thresholds that shape fulfillment decisions.
//   - Interpreter: backend selection and model. The API key is never stored in
//     the config file; it is read from the environment at load time.
//
// Values not present in the YAML file keep their defaults. GetConfig-style
// global state is deliberately avoided: Load returns the config by value and
// callers pass it down.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names for the command interpreter.
const (
	BackendGemini = "gemini"
	BackendRules  = "rules"
)

// Config holds all daemon settings.
type Config struct {
	DBPath     string `yaml:"db_path"`
	ListenAddr string `yaml:"listen_addr"`
	EventDir   string `yaml:"event_dir"`

	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Allocation  AllocationConfig  `yaml:"allocation"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
}

// PipelineConfig bounds the task queue and worker behavior.
type PipelineConfig struct {
	QueueCapacity    int           `yaml:"queue_capacity"`
	ThrottleInterval time.Duration `yaml:"throttle_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffCap       time.Duration `yaml:"backoff_cap"`
	ResultTTL        time.Duration `yaml:"result_ttl"`
}

// AllocationConfig holds thresholds used by the allocation engine.
type AllocationConfig struct {
	// AutoApproveLimit is the largest quantity dispatched without supervisor
	// approval. Larger NORMAL-urgency requests become PENDING.
	AutoApproveLimit int `yaml:"auto_approve_limit"`
	// MatchThreshold is the minimum similarity ratio for a fuzzy item match.
	MatchThreshold float64 `yaml:"match_threshold"`
	// LowStockThreshold drives the low-stock report.
	LowStockThreshold int `yaml:"low_stock_threshold"`
}

// InterpreterConfig selects and parameterizes the command interpreter.
type InterpreterConfig struct {
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"` // from GEMINI_API_KEY, never persisted
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DBPath:     "relief_logistics.db",
		ListenAddr: ":8080",
		EventDir:   "logs",
		Pipeline: PipelineConfig{
			QueueCapacity:    256,
			ThrottleInterval: 6 * time.Second,
			MaxRetries:       10,
			BackoffBase:      2 * time.Second,
			BackoffCap:       60 * time.Second,
			ResultTTL:        10 * time.Minute,
		},
		Allocation: AllocationConfig{
			AutoApproveLimit:  10,
			MatchThreshold:    0.6,
			LowStockThreshold: 20,
		},
		Interpreter: InterpreterConfig{
			Backend: BackendRules,
			Model:   "gemini-2.5-flash",
		},
	}
}

// Load reads the YAML file at path, overlaying it on the defaults. A missing
// file is not an error: defaults plus environment are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.Interpreter.APIKey = os.Getenv("GEMINI_API_KEY")
	if cfg.Interpreter.Backend == BackendGemini && cfg.Interpreter.APIKey == "" {
		// No key: fall back to the deterministic parser instead of failing at
		// the first interpreter call.
		cfg.Interpreter.Backend = BackendRules
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("pipeline.queue_capacity must be positive, got %d", c.Pipeline.QueueCapacity)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must not be negative, got %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.BackoffBase <= 0 || c.Pipeline.BackoffCap < c.Pipeline.BackoffBase {
		return fmt.Errorf("pipeline backoff bounds invalid: base=%v cap=%v", c.Pipeline.BackoffBase, c.Pipeline.BackoffCap)
	}
	if c.Allocation.MatchThreshold <= 0 || c.Allocation.MatchThreshold > 1 {
		return fmt.Errorf("allocation.match_threshold must be in (0,1], got %v", c.Allocation.MatchThreshold)
	}
	if c.Allocation.AutoApproveLimit < 0 {
		return fmt.Errorf("allocation.auto_approve_limit must not be negative, got %d", c.Allocation.AutoApproveLimit)
	}
	switch c.Interpreter.Backend {
	case BackendGemini, BackendRules:
	default:
		return fmt.Errorf("unknown interpreter backend %q", c.Interpreter.Backend)
	}
	return nil
}
