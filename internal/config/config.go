package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/leakscope/internal/engine"
	"github.com/miradorstack/leakscope/internal/extractors"
	"github.com/miradorstack/leakscope/internal/patterns"
	"github.com/miradorstack/leakscope/internal/tree"
)

// Config captures every setting needed to scan, train and serve.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Logging   LoggingConfig            `yaml:"logging"`
	GitHub    GitHubConfig             `yaml:"github"`
	Cache     CacheConfig              `yaml:"cache"`
	Storage   StorageConfig            `yaml:"storage"`
	Scan      ScanConfig               `yaml:"scan"`
	Detection DetectionConfig          `yaml:"detection"`
	Features  extractors.FeatureConfig `yaml:"features"`
	ML        MLConfig                 `yaml:"ml"`
	Risk      engine.RiskPolicy        `yaml:"risk"`
	Patterns  PatternsConfig           `yaml:"patterns"`
}

// ServerConfig controls the gRPC and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// GitHubConfig configures the hosting API client.
type GitHubConfig struct {
	Token         string        `yaml:"token"`
	BaseURL       string        `yaml:"baseURL"`
	Timeout       time.Duration `yaml:"timeout"`
	RateLimitWait time.Duration `yaml:"rateLimitWait"`
}

// CacheConfig controls caching of commit details. Enabled without an address uses an
// in-process cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	CommitTTL    time.Duration `yaml:"commitTTL"`
}

// StorageConfig points at the SQLite database.
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// ScanConfig bounds repository scans.
type ScanConfig struct {
	Workers    int           `yaml:"workers"`
	MaxCommits int           `yaml:"maxCommits"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DetectionConfig tunes the matcher's false-positive filter and excerpt length.
type DetectionConfig struct {
	MaxMatchLength int      `yaml:"maxMatchLength"`
	Placeholders   []string `yaml:"placeholders"`
	Markers        []string `yaml:"markers"`
	RejectRepeated bool     `yaml:"rejectRepeated"`
}

// Filter returns the configured false-positive filter.
func (d DetectionConfig) Filter() patterns.FalsePositiveFilter {
	return patterns.FalsePositiveFilter{
		Placeholders:   d.Placeholders,
		Markers:        d.Markers,
		RejectRepeated: d.RejectRepeated,
	}
}

// MLConfig controls training and the model artefact.
type MLConfig struct {
	tree.Params `yaml:",inline"`
	ModelPath   string  `yaml:"modelPath"`
	TestRatio   float64 `yaml:"testRatio"`
	Seed        int64   `yaml:"seed"`
}

// PatternsConfig adds pattern definitions on top of the built-in set.
type PatternsConfig struct {
	PackPath string                `yaml:"packPath"`
	Inline   []patterns.Definition `yaml:"inline"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("LEAKSCOPE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Address == "" {
		problems = append(problems, "server.address is required")
	}
	if c.Storage.DSN == "" {
		problems = append(problems, "storage.dsn is required")
	}
	if c.Scan.Workers <= 0 {
		problems = append(problems, "scan.workers must be positive")
	}
	if c.Scan.MaxCommits < 0 {
		problems = append(problems, "scan.maxCommits must not be negative")
	}
	if c.Detection.MaxMatchLength <= 0 {
		problems = append(problems, "detection.maxMatchLength must be positive")
	}
	if c.ML.MaxDepth <= 0 {
		problems = append(problems, "ml.maxDepth must be positive")
	}
	if c.ML.MinSamplesSplit < 2 {
		problems = append(problems, "ml.minSamplesSplit must be at least 2")
	}
	if c.ML.TestRatio < 0 || c.ML.TestRatio >= 1 {
		problems = append(problems, "ml.testRatio must be within [0,1)")
	}
	if c.Cache.Enabled && c.Cache.CommitTTL <= 0 {
		problems = append(problems, "cache.commitTTL must be positive when the cache is enabled")
	}
	if err := c.Risk.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func defaultConfig() Config {
	params := tree.DefaultParams()
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		GitHub: GitHubConfig{
			BaseURL:       "https://github.com",
			Timeout:       30 * time.Second,
			RateLimitWait: 15 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			CommitTTL:    24 * time.Hour,
		},
		Storage: StorageConfig{DSN: "leakscope.db"},
		Scan: ScanConfig{
			Workers:    4,
			MaxCommits: 100,
			Timeout:    30 * time.Minute,
		},
		Detection: DetectionConfig{
			MaxMatchLength: 50,
			Placeholders:   patterns.DefaultPlaceholders(),
			Markers:        patterns.DefaultMarkers(),
			RejectRepeated: true,
		},
		Features: extractors.DefaultFeatureConfig(),
		ML: MLConfig{
			Params:    params,
			ModelPath: "models/leakscope-model.json",
			TestRatio: 0.2,
			Seed:      42,
		},
		Risk:     engine.DefaultRiskPolicy(),
		Patterns: PatternsConfig{},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEAKSCOPE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("LEAKSCOPE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("LEAKSCOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LEAKSCOPE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("LEAKSCOPE_GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	} else if v := os.Getenv("GITHUB_TOKEN"); v != "" && cfg.GitHub.Token == "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("LEAKSCOPE_GITHUB_BASE_URL"); v != "" {
		cfg.GitHub.BaseURL = v
	}
	if d, ok := envDuration("LEAKSCOPE_GITHUB_RATE_LIMIT_WAIT"); ok {
		cfg.GitHub.RateLimitWait = d
	}
	if v := os.Getenv("LEAKSCOPE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("LEAKSCOPE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("LEAKSCOPE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("LEAKSCOPE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if n, ok := envInt("LEAKSCOPE_CACHE_DB"); ok {
		cfg.Cache.DB = n
	}
	if v := os.Getenv("LEAKSCOPE_CACHE_TLS"); isTrue(v) {
		cfg.Cache.TLS = true
	}
	if d, ok := envDuration("LEAKSCOPE_CACHE_COMMIT_TTL"); ok {
		cfg.Cache.CommitTTL = d
	}
	if v := os.Getenv("LEAKSCOPE_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if n, ok := envInt("LEAKSCOPE_SCAN_WORKERS"); ok {
		cfg.Scan.Workers = n
	}
	if n, ok := envInt("LEAKSCOPE_SCAN_MAX_COMMITS"); ok {
		cfg.Scan.MaxCommits = n
	}
	if v := os.Getenv("LEAKSCOPE_MODEL_PATH"); v != "" {
		cfg.ML.ModelPath = v
	}
	if v := os.Getenv("LEAKSCOPE_PATTERNS_PATH"); v != "" {
		cfg.Patterns.PackPath = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
