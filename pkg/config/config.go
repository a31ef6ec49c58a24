package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/liliang-cn/mrag/pkg/domain"
)

type Config struct {
	Ollama     OllamaConfig     `mapstructure:"ollama"`
	VectorDB   VectorDBConfig   `mapstructure:"vector_db"`
	Chunker    ChunkerConfig    `mapstructure:"chunker"`
	Image      ImageConfig      `mapstructure:"image"`
	Multimodal MultimodalConfig `mapstructure:"multimodal"`
	Search     SearchConfig     `mapstructure:"search"`
	LogLevel   string           `mapstructure:"log_level"`
}

type OllamaConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	LLMModel           string `mapstructure:"llm_model"`
	EmbeddingModel     string `mapstructure:"embedding_model"`
	VisionModel        string `mapstructure:"vision_model"`
	MultimodalLLMModel string `mapstructure:"multimodal_llm_model"`
}

type VectorDBConfig struct {
	Type       string `mapstructure:"type"`
	PersistDir string `mapstructure:"persist_dir"`
	QdrantHost string `mapstructure:"qdrant_host"`
	QdrantPort int    `mapstructure:"qdrant_port"`
	QdrantKey  string `mapstructure:"qdrant_api_key"`
}

type ChunkerConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

type ImageConfig struct {
	MaxSizeMB   float64 `mapstructure:"max_size_mb"`
	AutoCaption bool    `mapstructure:"auto_caption"`
}

type MultimodalConfig struct {
	TextWeight  float64 `mapstructure:"text_weight"`
	ImageWeight float64 `mapstructure:"image_weight"`
}

type SearchConfig struct {
	TopK       int `mapstructure:"top_k"`
	MaxHistory int `mapstructure:"max_history"`
}

// Load reads an optional config file, layers environment variables on
// top, and validates the result. The returned Config is immutable by
// convention; use a Manager when a long-running service needs reload.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		v.SetConfigFile(absPath)
	} else {
		if _, err := os.Stat("mrag.toml"); err == nil {
			abs, _ := filepath.Abs("mrag.toml")
			v.SetConfigFile(abs)
		}
	}

	setDefaults(v)
	bindEnvVars(v)

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", domain.ErrConfigInvalid, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", domain.ErrConfigInvalid, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.llm_model", "gpt-oss")
	v.SetDefault("ollama.embedding_model", "nomic-embed-text")
	v.SetDefault("ollama.vision_model", "llava")
	v.SetDefault("ollama.multimodal_llm_model", "gemma3")

	v.SetDefault("vector_db.type", "chroma")
	v.SetDefault("vector_db.persist_dir", "./chroma_db")
	v.SetDefault("vector_db.qdrant_host", "localhost")
	v.SetDefault("vector_db.qdrant_port", 6333)
	v.SetDefault("vector_db.qdrant_api_key", "")

	v.SetDefault("chunker.chunk_size", 1000)
	v.SetDefault("chunker.overlap", 200)

	v.SetDefault("image.max_size_mb", 10.0)
	v.SetDefault("image.auto_caption", true)

	v.SetDefault("multimodal.text_weight", 0.5)
	v.SetDefault("multimodal.image_weight", 0.5)

	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.max_history", 10)

	v.SetDefault("log_level", "INFO")
}

func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		"ollama.base_url":             "OLLAMA_BASE_URL",
		"ollama.llm_model":            "OLLAMA_LLM_MODEL",
		"ollama.embedding_model":      "OLLAMA_EMBEDDING_MODEL",
		"ollama.vision_model":         "OLLAMA_VISION_MODEL",
		"ollama.multimodal_llm_model": "OLLAMA_MULTIMODAL_LLM_MODEL",
		"vector_db.type":              "VECTOR_DB_TYPE",
		"vector_db.persist_dir":       "CHROMA_PERSIST_DIRECTORY",
		"vector_db.qdrant_host":       "QDRANT_HOST",
		"vector_db.qdrant_port":       "QDRANT_PORT",
		"vector_db.qdrant_api_key":    "QDRANT_API_KEY",
		"chunker.chunk_size":          "CHUNK_SIZE",
		"chunker.overlap":             "CHUNK_OVERLAP",
		"image.max_size_mb":           "MAX_IMAGE_SIZE_MB",
		"image.auto_caption":          "IMAGE_CAPTION_AUTO_GENERATE",
		"multimodal.text_weight":      "MULTIMODAL_SEARCH_TEXT_WEIGHT",
		"multimodal.image_weight":     "MULTIMODAL_SEARCH_IMAGE_WEIGHT",
		"search.top_k":                "SEARCH_TOP_K",
		"log_level":                   "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s: %v\n", env, err)
		}
	}
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Ollama.BaseURL, "http://") && !strings.HasPrefix(c.Ollama.BaseURL, "https://") {
		return fmt.Errorf("%w: ollama base URL must start with http:// or https://: %s", domain.ErrConfigInvalid, c.Ollama.BaseURL)
	}

	if c.Ollama.LLMModel == "" || c.Ollama.EmbeddingModel == "" {
		return fmt.Errorf("%w: llm_model and embedding_model cannot be empty", domain.ErrConfigInvalid)
	}

	switch strings.ToLower(c.VectorDB.Type) {
	case "chroma", "sqvect", "sqlite", "qdrant":
	default:
		return fmt.Errorf("%w: unknown vector_db type: %s", domain.ErrConfigInvalid, c.VectorDB.Type)
	}

	if c.VectorDB.QdrantPort <= 0 || c.VectorDB.QdrantPort > 65535 {
		return fmt.Errorf("%w: invalid qdrant port: %d", domain.ErrConfigInvalid, c.VectorDB.QdrantPort)
	}

	if c.Chunker.ChunkSize < 100 || c.Chunker.ChunkSize > 10000 {
		return fmt.Errorf("%w: chunk_size must be in [100, 10000]: %d", domain.ErrConfigInvalid, c.Chunker.ChunkSize)
	}

	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("%w: overlap must be in [0, chunk_size): %d", domain.ErrConfigInvalid, c.Chunker.Overlap)
	}

	if c.Image.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: max_image_size_mb must be positive: %f", domain.ErrConfigInvalid, c.Image.MaxSizeMB)
	}

	if c.Multimodal.TextWeight < 0 || c.Multimodal.TextWeight > 1 {
		return fmt.Errorf("%w: text_weight must be in [0,1]: %f", domain.ErrConfigInvalid, c.Multimodal.TextWeight)
	}

	if c.Multimodal.ImageWeight < 0 || c.Multimodal.ImageWeight > 1 {
		return fmt.Errorf("%w: image_weight must be in [0,1]: %f", domain.ErrConfigInvalid, c.Multimodal.ImageWeight)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive: %d", domain.ErrConfigInvalid, c.Search.TopK)
	}

	validLevels := map[string]bool{"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true}
	if !validLevels[strings.ToUpper(c.LogLevel)] {
		return fmt.Errorf("%w: invalid log level: %s", domain.ErrConfigInvalid, c.LogLevel)
	}

	return nil
}

// QdrantAddr returns the host:port pair for the remote backend.
func (c *Config) QdrantAddr() string {
	return fmt.Sprintf("%s:%d", c.VectorDB.QdrantHost, c.VectorDB.QdrantPort)
}

// Manager holds the current config for long-running services. Readers
// call Current; Reload swaps the pointer atomically so in-flight calls
// keep the config they started with.
type Manager struct {
	current atomic.Pointer[Config]
	path    string
}

func NewManager(cfg *Config, configPath string) *Manager {
	m := &Manager{path: configPath}
	m.current.Store(cfg)
	return m
}

func (m *Manager) Current() *Config {
	return m.current.Load()
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	return cfg, nil
}
