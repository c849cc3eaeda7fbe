// Package config defines the externally adjustable policy surface of the
// scoring engine. Every threshold the pipeline consults lives here and is
// passed in at construction time; there are no process-wide mutable
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration.
type Config struct {
	Scoring  ScoringConfig  `yaml:"scoring"`
	Training TrainingConfig `yaml:"training"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	HTTP     HTTPConfig     `yaml:"http"`
	Output   OutputConfig   `yaml:"output"`
}

// ScoringConfig covers the benchmark, rescaling and attribution policies.
type ScoringConfig struct {
	// MinSampleThreshold is the smallest benchmark group that keeps its own
	// statistics; smaller groups fall back to global averages.
	MinSampleThreshold int `yaml:"min_sample_threshold"`
	// TopKFactors is how many attributed factors each scored deal carries.
	TopKFactors int `yaml:"top_k_factors"`
	// Bucket boundaries: Low = [0, low_max], Medium = (low_max, medium_max],
	// High = (medium_max, 100].
	BucketLowMax    float64 `yaml:"bucket_low_max"`
	BucketMediumMax float64 `yaml:"bucket_medium_max"`
	// Workers bounds per-deal scoring parallelism. 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// TrainingConfig covers model fitting and the retraining policy.
type TrainingConfig struct {
	RetrainInterval time.Duration `yaml:"retrain_interval"`
	LearningRate    float64       `yaml:"learning_rate"`
	Iterations      int           `yaml:"iterations"`
	L2Penalty       float64       `yaml:"l2_penalty"`
	HoldoutEvery    int           `yaml:"holdout_every"`
}

// StorageConfig configures the postgres deal store. Disabled by default; the
// CLI then reads deals from CSV instead.
type StorageConfig struct {
	Enabled      bool          `yaml:"enabled"`
	DSN          string        `yaml:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// CacheConfig configures the redis benchmark-snapshot cache.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// HTTPConfig configures the metrics/health listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// OutputConfig configures where run artifacts land.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Scoring: ScoringConfig{
			MinSampleThreshold: 10,
			TopKFactors:        5,
			BucketLowMax:       33,
			BucketMediumMax:    66,
			Workers:            0,
		},
		Training: TrainingConfig{
			RetrainInterval: 30 * 24 * time.Hour,
			LearningRate:    0.1,
			Iterations:      500,
			L2Penalty:       0.01,
			HoldoutEvery:    5,
		},
		Storage: StorageConfig{
			Enabled:      false,
			QueryTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     time.Hour,
		},
		HTTP: HTTPConfig{
			Addr: ":9753",
		},
		Output: OutputConfig{
			Dir: "out",
		},
	}
}

// Load reads configuration from a YAML file, layering it over defaults. A
// missing file yields the defaults unchanged; a present but invalid file is
// an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if c.Scoring.MinSampleThreshold < 1 {
		return fmt.Errorf("scoring.min_sample_threshold must be >= 1, got %d", c.Scoring.MinSampleThreshold)
	}
	if c.Scoring.TopKFactors < 1 {
		return fmt.Errorf("scoring.top_k_factors must be >= 1, got %d", c.Scoring.TopKFactors)
	}
	if c.Scoring.BucketLowMax <= 0 || c.Scoring.BucketMediumMax >= 100 ||
		c.Scoring.BucketLowMax >= c.Scoring.BucketMediumMax {
		return fmt.Errorf("bucket boundaries must satisfy 0 < low_max < medium_max < 100, got %v/%v",
			c.Scoring.BucketLowMax, c.Scoring.BucketMediumMax)
	}
	if c.Scoring.Workers < 0 {
		return fmt.Errorf("scoring.workers must be >= 0, got %d", c.Scoring.Workers)
	}
	if c.Training.RetrainInterval <= 0 {
		return fmt.Errorf("training.retrain_interval must be positive, got %v", c.Training.RetrainInterval)
	}
	if c.Training.HoldoutEvery < 2 {
		return fmt.Errorf("training.holdout_every must be >= 2, got %d", c.Training.HoldoutEvery)
	}
	if c.Storage.Enabled && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required when storage is enabled")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache is enabled")
	}
	return nil
}
