package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Graph database configuration
	Graph GraphConfig `yaml:"graph"`

	// Consent gate configuration
	Consent ConsentConfig `yaml:"consent"`

	// Analyzer provider configuration
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// Retrieval cache configuration
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Orchestrator tuning
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Audit log configuration
	Audit AuditConfig `yaml:"audit"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	LocalPath   string `yaml:"local_path"`
}

type GraphConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type ConsentConfig struct {
	Endpoint string        `yaml:"endpoint"`
	RedisURL string        `yaml:"redis_url"` // empty = no decision cache
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type AnalyzerConfig struct {
	Provider     string  `yaml:"provider"` // "openai", "gemini"
	OpenAIKey    string  `yaml:"openai_key"`
	OpenAIModel  string  `yaml:"openai_model"`
	GeminiKey    string  `yaml:"gemini_key"`
	GeminiModel  string  `yaml:"gemini_model"`
	UseKeychain  bool    `yaml:"use_keychain"` // prefer keychain over config file
	RatePerSec   float64 `yaml:"rate_per_sec"`
	RateBurst    int     `yaml:"rate_burst"`
	PipelineFile string  `yaml:"pipeline_file"` // YAML stage definitions; empty = built-in defaults
}

type RetrievalConfig struct {
	CachePath string        `yaml:"cache_path"` // bbolt file; empty = no cache
	Timeout   time.Duration `yaml:"timeout"`
}

type OrchestratorConfig struct {
	StageWorkers int           `yaml:"stage_workers"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
	GraphRetries int           `yaml:"graph_retries"`
	GraphBackoff time.Duration `yaml:"graph_backoff"`
}

type AuditConfig struct {
	Directory string `yaml:"directory"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".personaforge", "local.db"),
		},
		Graph: GraphConfig{
			URI:      "bolt://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		Consent: ConsentConfig{
			CacheTTL: 5 * time.Minute,
		},
		Analyzer: AnalyzerConfig{
			Provider:    "openai",
			OpenAIModel: "gpt-4o-mini",
			GeminiModel: "gemini-2.0-flash",
			RatePerSec:  5,
			RateBurst:   10,
		},
		Retrieval: RetrievalConfig{
			CachePath: filepath.Join(homeDir, ".personaforge", "retrieval.db"),
			Timeout:   60 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			StageWorkers: 4,
			StageTimeout: 90 * time.Second,
			GraphRetries: 4,
			GraphBackoff: 500 * time.Millisecond,
		},
		Audit: AuditConfig{
			Directory: filepath.Join(homeDir, ".personaforge"),
		},
	}
}

// Load loads configuration from file, environment, and defaults
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("graph", cfg.Graph)
	v.SetDefault("consent", cfg.Consent)
	v.SetDefault("analyzer", cfg.Analyzer)
	v.SetDefault("retrieval", cfg.Retrieval)
	v.SetDefault("orchestrator", cfg.Orchestrator)
	v.SetDefault("audit", cfg.Audit)

	v.SetEnvPrefix("PERSONAFORGE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".personaforge")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".personaforge"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Missing config file is fine, defaults apply
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".personaforge", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

func applyEnvOverrides(cfg *Config) {
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Type = "postgres"
		cfg.Storage.PostgresDSN = dsn
	}
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Graph.URI = uri
	}
	if user := os.Getenv("NEO4J_USERNAME"); user != "" {
		cfg.Graph.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		cfg.Graph.Password = pass
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Graph.Database = db
	}
	if endpoint := os.Getenv("CONSENT_ENDPOINT"); endpoint != "" {
		cfg.Consent.Endpoint = endpoint
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Consent.RedisURL = redisURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Analyzer.OpenAIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Analyzer.GeminiKey = key
	}
	if provider := os.Getenv("ANALYZER_PROVIDER"); provider != "" {
		cfg.Analyzer.Provider = provider
	}
	if workers := os.Getenv("STAGE_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil && n > 0 {
			cfg.Orchestrator.StageWorkers = n
		}
	}
}
