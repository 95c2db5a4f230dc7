// Package config provides configuration management for Engram.
// It loads settings from environment variables with the ENGRAM_ prefix
// and provides sensible defaults for all configuration options.
//
// An optional YAML file (ENGRAM_CONFIG_FILE) can override the defaults;
// environment variables take precedence over the file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Engram application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Memory    MemoryConfig    `yaml:"memory"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Server port (default: 6373)
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine       string `yaml:"storage_engine"`        // sqlite or postgres (default: sqlite)
	DataPath            string `yaml:"data_path"`             // Data directory (default: ./data)
	PostgresDSN         string `yaml:"postgres_dsn"`          // Connection string when storage_engine=postgres
	BackupIntervalHours int    `yaml:"backup_interval_hours"` // Sqlite snapshot cadence, 0 disables (default: 0)
	BackupKeep          int    `yaml:"backup_keep"`           // Snapshots retained (default: 10)
}

// LLMConfig contains LLM provider configuration for fact extraction.
type LLMConfig struct {
	Enabled        bool   `yaml:"enabled"`         // Enable the LLM extraction pass (default: false)
	OllamaURL      string `yaml:"ollama_url"`      // Ollama API URL (default: http://localhost:11434)
	OllamaModel    string `yaml:"ollama_model"`    // Extraction model (default: qwen2.5:7b)
	EmbeddingModel string `yaml:"embedding_model"` // Embedding model (default: nomic-embed-text)
}

// EmbeddingConfig controls the embedding client.
type EmbeddingConfig struct {
	Dimension  int     `yaml:"dimension"`  // Vector dimension (default: 768)
	CacheSize  int     `yaml:"cache_size"` // LRU cache entries (default: 1024)
	RatePerSec float64 `yaml:"rate_limit"` // Max embedding calls per second (default: 10)
	MaxChars   int     `yaml:"max_chars"`  // Input truncation before embedding (default: 2000)
}

// ScoreWeights blends lexical overlap, recency and a per-row weight into a
// single relevance score. The row weight is importance for facts and
// confidence for skills.
type ScoreWeights struct {
	Overlap float64 `yaml:"overlap"`
	Recency float64 `yaml:"recency"`
	Weight  float64 `yaml:"weight"`
}

// RetrievalConfig controls hybrid search and result blending.
type RetrievalConfig struct {
	TopK         int          `yaml:"top_k"`         // Per-source candidate depth (default: 30)
	RRFK         float64      `yaml:"rrf_k"`         // Reciprocal-rank fusion constant (default: 60)
	FactWeights  ScoreWeights `yaml:"fact_weights"`  // default 0.65/0.20/0.15
	SkillWeights ScoreWeights `yaml:"skill_weights"` // default 0.60/0.15/0.25
	GraphHops    int          `yaml:"graph_hops"`    // Neighbor expansion depth, 0 disables (default: 1)
}

// MemoryConfig controls ingestion, expiry and context compilation.
type MemoryConfig struct {
	VolatileTTLHours int `yaml:"volatile_ttl_hours"` // Volatile fact lifetime (default: 12)
	MaxPinnedLines   int `yaml:"max_pinned_lines"`   // Compiler cap (default: 5)
	MaxFactLines     int `yaml:"max_fact_lines"`     // Compiler cap (default: 7)
	MaxSkillLines    int `yaml:"max_skill_lines"`    // Compiler cap (default: 3)
	MaxVolatileLines int `yaml:"max_volatile_lines"` // Compiler cap (default: 3)
	MaxTotalChars    int `yaml:"max_total_chars"`    // Hard block budget (default: 1800)
	SummaryCadence   int `yaml:"summary_cadence"`    // Turns between session summaries (default: 8)
	MaxFactsPerTurn  int `yaml:"max_facts_per_turn"` // Ingest cap after sanitization (default: 3)
	MaxSessions      int `yaml:"max_sessions"`       // Bounded per-tenant session states (default: 256)
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	SecurityMode string `yaml:"security_mode"` // development or production (default: development)
	APIToken     string `yaml:"api_token"`     // Bearer token required in production mode
}

// LoadConfig loads configuration from the optional YAML file named by
// ENGRAM_CONFIG_FILE, then overlays environment variables with the
// ENGRAM_ prefix. Environment variables win.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("ENGRAM_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// defaultConfig returns the built-in defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 6373,
			Host: "127.0.0.1",
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
			BackupKeep:    10,
		},
		LLM: LLMConfig{
			Enabled:        false,
			OllamaURL:      "http://localhost:11434",
			OllamaModel:    "qwen2.5:7b",
			EmbeddingModel: "nomic-embed-text",
		},
		Embedding: EmbeddingConfig{
			Dimension:  768,
			CacheSize:  1024,
			RatePerSec: 10,
			MaxChars:   2000,
		},
		Retrieval: RetrievalConfig{
			TopK:         30,
			RRFK:         60.0,
			FactWeights:  ScoreWeights{Overlap: 0.65, Recency: 0.20, Weight: 0.15},
			SkillWeights: ScoreWeights{Overlap: 0.60, Recency: 0.15, Weight: 0.25},
			GraphHops:    1,
		},
		Memory: MemoryConfig{
			VolatileTTLHours: 12,
			MaxPinnedLines:   5,
			MaxFactLines:     7,
			MaxSkillLines:    3,
			MaxVolatileLines: 3,
			MaxTotalChars:    1800,
			SummaryCadence:   8,
			MaxFactsPerTurn:  3,
			MaxSessions:      256,
		},
		Security: SecurityConfig{
			SecurityMode: "development",
		},
	}
}

// applyEnv overlays ENGRAM_ environment variables onto cfg.
func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnvInt("ENGRAM_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("ENGRAM_HOST", cfg.Server.Host)

	cfg.Storage.StorageEngine = getEnv("ENGRAM_STORAGE_ENGINE", cfg.Storage.StorageEngine)
	cfg.Storage.DataPath = getEnv("ENGRAM_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.BackupIntervalHours = getEnvInt("ENGRAM_BACKUP_INTERVAL_HOURS", cfg.Storage.BackupIntervalHours)
	cfg.Storage.BackupKeep = getEnvInt("ENGRAM_BACKUP_KEEP", cfg.Storage.BackupKeep)

	cfg.LLM.Enabled = getEnvBool("ENGRAM_LLM_ENABLED", cfg.LLM.Enabled)
	cfg.LLM.OllamaURL = getEnv("ENGRAM_OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.OllamaModel = getEnv("ENGRAM_OLLAMA_MODEL", cfg.LLM.OllamaModel)
	cfg.LLM.EmbeddingModel = getEnv("ENGRAM_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)

	cfg.Embedding.Dimension = getEnvInt("ENGRAM_EMBEDDING_DIM", cfg.Embedding.Dimension)
	cfg.Embedding.CacheSize = getEnvInt("ENGRAM_EMBEDDING_CACHE_SIZE", cfg.Embedding.CacheSize)
	cfg.Embedding.MaxChars = getEnvInt("ENGRAM_EMBEDDING_MAX_CHARS", cfg.Embedding.MaxChars)

	cfg.Retrieval.TopK = getEnvInt("ENGRAM_RETRIEVAL_TOP_K", cfg.Retrieval.TopK)
	cfg.Retrieval.GraphHops = getEnvInt("ENGRAM_GRAPH_HOPS", cfg.Retrieval.GraphHops)

	cfg.Memory.VolatileTTLHours = getEnvInt("ENGRAM_VOLATILE_TTL_HOURS", cfg.Memory.VolatileTTLHours)
	cfg.Memory.MaxPinnedLines = getEnvInt("ENGRAM_MAX_PINNED_LINES", cfg.Memory.MaxPinnedLines)
	cfg.Memory.MaxFactLines = getEnvInt("ENGRAM_MAX_FACT_LINES", cfg.Memory.MaxFactLines)
	cfg.Memory.MaxSkillLines = getEnvInt("ENGRAM_MAX_SKILL_LINES", cfg.Memory.MaxSkillLines)
	cfg.Memory.MaxVolatileLines = getEnvInt("ENGRAM_MAX_VOLATILE_LINES", cfg.Memory.MaxVolatileLines)
	cfg.Memory.MaxTotalChars = getEnvInt("ENGRAM_MAX_TOTAL_CHARS", cfg.Memory.MaxTotalChars)
	cfg.Memory.SummaryCadence = getEnvInt("ENGRAM_SUMMARY_CADENCE", cfg.Memory.SummaryCadence)
	cfg.Memory.MaxSessions = getEnvInt("ENGRAM_MAX_SESSIONS", cfg.Memory.MaxSessions)

	cfg.Security.SecurityMode = getEnv("ENGRAM_SECURITY_MODE", cfg.Security.SecurityMode)
	cfg.Security.APIToken = getEnv("ENGRAM_API_TOKEN", cfg.Security.APIToken)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
