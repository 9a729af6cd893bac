// Package config loads the repodex configuration from per-environment YAML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the repodex service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Index      IndexConfig      `yaml:"index"`
	JobStore   JobStoreConfig   `yaml:"jobstore"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Credential CredentialConfig `yaml:"credential"`
	Search     SearchConfig     `yaml:"search"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// IndexConfig holds index store connection and FT schema settings.
type IndexConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// JobStoreConfig holds the durable local job state settings.
type JobStoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// IndexingConfig holds pipeline settings.
type IndexingConfig struct {
	Workers           int `yaml:"workers"`          // worker pool size (default: NumCPU)
	ChunkSize         int `yaml:"chunk_size"`       // files per dispatch unit
	FileTimeoutSec    int `yaml:"file_timeout_sec"` // per-file processing budget
	UnitTargetBytes   int `yaml:"unit_target_bytes"`
	UnitOverlapLines  int `yaml:"unit_overlap_lines"`
	MaxFileSizeKB     int `yaml:"max_file_size_kb"`
	EmbedRetries      int `yaml:"embed_retries"`
	EmbedTimeoutSec   int `yaml:"embed_timeout_sec"`
	EmbedMaxBatchSize int `yaml:"embed_max_batch_size"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	BaseURL             string `yaml:"base_url"`
	Model               string `yaml:"model"`
	Dimensions          int    `yaml:"dimensions"`
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`
}

// CredentialConfig holds credential supervisor settings.
type CredentialConfig struct {
	APIKey              string `yaml:"api_key"`      // static source (highest priority)
	EnvVar              string `yaml:"env_var"`      // environment source variable name
	ProfilePath         string `yaml:"profile_path"` // credentials file source
	ProfileName         string `yaml:"profile_name"`
	AWSEnabled          bool   `yaml:"aws_enabled"` // workload identity via AWS default chain
	RefreshThresholdMin int    `yaml:"refresh_threshold_min"`
	FetchTimeoutSec     int    `yaml:"fetch_timeout_sec"`
	BreakerFailures     int    `yaml:"breaker_failures"`
	BreakerCooldownSec  int    `yaml:"breaker_cooldown_sec"`
	TokenTTLMin         int    `yaml:"token_ttl_min"` // assumed validity for sources without expiry metadata
}

// SearchConfig holds hybrid retrieval settings.
type SearchConfig struct {
	KConst        int     `yaml:"k_const"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight"`
	FetchFactor   int     `yaml:"fetch_factor"` // candidate depth multiplier over top_n
	TimeoutSec    int     `yaml:"timeout_sec"`
	MaxTopN       int     `yaml:"max_top_n"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Index.ReadinessTimeout <= 0 {
		c.Index.ReadinessTimeout = 10
	}
	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 32
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 400
	}
	if c.JobStore.Path == "" {
		c.JobStore.Path = "data/jobs"
	}
	if c.Indexing.Workers <= 0 {
		c.Indexing.Workers = runtime.NumCPU()
	}
	if c.Indexing.ChunkSize <= 0 {
		c.Indexing.ChunkSize = 25
	}
	if c.Indexing.FileTimeoutSec <= 0 {
		c.Indexing.FileTimeoutSec = 120
	}
	if c.Indexing.UnitTargetBytes <= 0 {
		c.Indexing.UnitTargetBytes = 2048
	}
	if c.Indexing.UnitOverlapLines < 0 {
		c.Indexing.UnitOverlapLines = 0
	}
	if c.Indexing.MaxFileSizeKB <= 0 {
		c.Indexing.MaxFileSizeKB = 512
	}
	if c.Indexing.EmbedRetries <= 0 {
		c.Indexing.EmbedRetries = 3
	}
	if c.Indexing.EmbedTimeoutSec <= 0 {
		c.Indexing.EmbedTimeoutSec = 30
	}
	if c.Indexing.EmbedMaxBatchSize <= 0 {
		c.Indexing.EmbedMaxBatchSize = 64
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "Qwen3-Embedding-8B"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1024
	}
	if c.Credential.EnvVar == "" {
		c.Credential.EnvVar = "REPODEX_EMBEDDING_TOKEN"
	}
	if c.Credential.RefreshThresholdMin <= 0 {
		c.Credential.RefreshThresholdMin = 30
	}
	if c.Credential.FetchTimeoutSec <= 0 {
		c.Credential.FetchTimeoutSec = 10
	}
	if c.Credential.BreakerFailures <= 0 {
		c.Credential.BreakerFailures = 3
	}
	if c.Credential.BreakerCooldownSec <= 0 {
		c.Credential.BreakerCooldownSec = 60
	}
	if c.Credential.TokenTTLMin <= 0 {
		c.Credential.TokenTTLMin = 12 * 60
	}
	if c.Search.KConst <= 0 {
		c.Search.KConst = 60
	}
	if c.Search.LexicalWeight <= 0 {
		c.Search.LexicalWeight = 1.0
	}
	if c.Search.VectorWeight <= 0 {
		c.Search.VectorWeight = 1.0
	}
	if c.Search.FetchFactor <= 0 {
		c.Search.FetchFactor = 5
	}
	if c.Search.TimeoutSec <= 0 {
		c.Search.TimeoutSec = 10
	}
	if c.Search.MaxTopN <= 0 {
		c.Search.MaxTopN = 100
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Index.Addrs) == 0 {
		return fmt.Errorf("index.addrs is required")
	}
	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url is required")
	}
	if c.Search.FetchFactor < 2 {
		return fmt.Errorf("search.fetch_factor must be at least 2, got %d", c.Search.FetchFactor)
	}
	return nil
}

// FileTimeout returns the per-file processing budget.
func (c *IndexingConfig) FileTimeout() time.Duration {
	return time.Duration(c.FileTimeoutSec) * time.Second
}

// EmbedTimeout returns the per-embedding-call budget.
func (c *IndexingConfig) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutSec) * time.Second
}

// RefreshThreshold returns the proactive refresh threshold.
func (c *CredentialConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdMin) * time.Minute
}

// FetchTimeout returns the bounded credential fetch wait.
func (c *CredentialConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// BreakerCooldown returns the circuit breaker cooldown window.
func (c *CredentialConfig) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSec) * time.Second
}

// TokenTTL returns the assumed validity for tokens without expiry metadata.
func (c *CredentialConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMin) * time.Minute
}

// Timeout returns the overall query budget.
func (c *SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
