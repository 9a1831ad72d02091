// Package config loads docsage configuration from file and environment.
// Precedence: explicit file > ./docsage.yaml > $DOCSAGE_HOME/docsage.yaml,
// with DOCSAGE_* environment variables overriding file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Store     StoreConfig     `mapstructure:"store"`
	LogLevel  string          `mapstructure:"log_level"`
	LogJSON   bool            `mapstructure:"log_json"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ChatModel      string        `mapstructure:"chat_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Dimension      int           `mapstructure:"dimension"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type QdrantConfig struct {
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
}

type GitHubConfig struct {
	Token   string        `mapstructure:"token"`
	APIBase string        `mapstructure:"api_base"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ChunkerConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	Overlap      int `mapstructure:"overlap"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
}

type IngestConfig struct {
	EmbedBatchSize    int           `mapstructure:"embed_batch_size"`
	MaxFileBytes      int64         `mapstructure:"max_file_bytes"`
	MaxContentChars   int           `mapstructure:"max_content_chars"`
	MemoryHighPercent float64       `mapstructure:"memory_high_percent"`
	MemoryWarnPercent float64       `mapstructure:"memory_warn_percent"`
	MemoryHighWait    time.Duration `mapstructure:"memory_high_wait"`
	MemoryWarnWait    time.Duration `mapstructure:"memory_warn_wait"`
	FetchRetries      int           `mapstructure:"fetch_retries"`
	LinkedConcurrency int           `mapstructure:"linked_concurrency"`
	WikiMaxDepth      int           `mapstructure:"wiki_max_depth"`
	WikiMaxPages      int           `mapstructure:"wiki_max_pages"`
}

type RetrievalConfig struct {
	TopK               int      `mapstructure:"top_k"`
	TopKRaw            int      `mapstructure:"top_k_raw"`
	RelevanceThreshold float64  `mapstructure:"relevance_threshold"`
	Blocklist          []string `mapstructure:"blocklist"`
}

type RegistryConfig struct {
	CataloguePath  string        `mapstructure:"catalogue_path"`
	Host           string        `mapstructure:"host"`
	TrustedDomains []string      `mapstructure:"trusted_domains"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type MemoryConfig struct {
	MaxMessages          int  `mapstructure:"max_messages"`
	MaxHistoryTokens     int  `mapstructure:"max_history_tokens"`
	SummarizationEnabled bool `mapstructure:"summarization_enabled"`
	SummarizationRetries int  `mapstructure:"summarization_retries"`
}

type StoreConfig struct {
	ConversationDBPath string `mapstructure:"conversation_db_path"`
}

// Load reads configuration, applying defaults and DOCSAGE_* env overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOCSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(abs)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	} else {
		home := os.Getenv("DOCSAGE_HOME")
		if home == "" {
			home = "."
		}
		v.SetConfigName("docsage")
		v.AddConfigPath(".")
		v.AddConfigPath(home)
		// Missing default config is fine, defaults + env carry the day.
		_ = v.ReadInConfig()
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the cross-field constraints that cannot wait until a
// component first trips over them.
func (c *Config) Validate() error {
	if c.OpenAI.Dimension <= 0 {
		return fmt.Errorf("openai.dimension must be positive, got %d", c.OpenAI.Dimension)
	}
	if c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.overlap (%d) must be smaller than chunker.chunk_size (%d)",
			c.Chunker.Overlap, c.Chunker.ChunkSize)
	}
	if c.Retrieval.TopKRaw < c.Retrieval.TopK {
		return fmt.Errorf("retrieval.top_k_raw (%d) must be >= retrieval.top_k (%d)",
			c.Retrieval.TopKRaw, c.Retrieval.TopK)
	}
	if c.Ingest.MemoryWarnPercent >= c.Ingest.MemoryHighPercent {
		return fmt.Errorf("ingest.memory_warn_percent (%.1f) must be below memory_high_percent (%.1f)",
			c.Ingest.MemoryWarnPercent, c.Ingest.MemoryHighPercent)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "300s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.dimension", 1536)
	v.SetDefault("openai.timeout", "60s")

	v.SetDefault("qdrant.url", "localhost:6334")
	v.SetDefault("qdrant.collection", "docsage_chunks")

	v.SetDefault("github.api_base", "https://api.github.com")
	v.SetDefault("github.timeout", "30s")

	v.SetDefault("chunker.chunk_size", 1000)
	v.SetDefault("chunker.overlap", 200)
	v.SetDefault("chunker.min_chunk_size", 100)

	v.SetDefault("ingest.embed_batch_size", 8)
	v.SetDefault("ingest.max_file_bytes", int64(5*1024*1024))
	v.SetDefault("ingest.max_content_chars", 100000)
	v.SetDefault("ingest.memory_high_percent", 90.0)
	v.SetDefault("ingest.memory_warn_percent", 85.0)
	v.SetDefault("ingest.memory_high_wait", "30s")
	v.SetDefault("ingest.memory_warn_wait", "60s")
	v.SetDefault("ingest.fetch_retries", 3)
	v.SetDefault("ingest.linked_concurrency", 4)
	v.SetDefault("ingest.wiki_max_depth", 3)
	v.SetDefault("ingest.wiki_max_pages", 200)

	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.top_k_raw", 10)
	v.SetDefault("retrieval.relevance_threshold", 0.70)
	v.SetDefault("retrieval.blocklist", []string{})

	v.SetDefault("registry.host", "github.com")
	v.SetDefault("registry.trusted_domains", []string{})
	v.SetDefault("registry.probe_timeout", "5s")
	v.SetDefault("registry.cache_ttl", "10m")

	v.SetDefault("memory.max_messages", 20)
	v.SetDefault("memory.max_history_tokens", 6000)
	v.SetDefault("memory.summarization_enabled", true)
	v.SetDefault("memory.summarization_retries", 2)

	v.SetDefault("store.conversation_db_path", "docsage.db")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}
