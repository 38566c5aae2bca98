package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// Config represents the complete docchat configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Streaming  StreamingConfig  `yaml:"streaming" json:"streaming"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// PathsConfig locates persistent state.
type PathsConfig struct {
	// DataDir holds the index directory and the history database.
	// Relative paths resolve against the directory passed to Load.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// SearchConfig configures retrieval.
type SearchConfig struct {
	// TopK is the number of chunks joined into the answer context.
	TopK int `yaml:"top_k" json:"top_k"`

	// ExactThreshold is the corpus size at or below which search ranks
	// every chunk exactly instead of querying the HNSW graph.
	ExactThreshold int `yaml:"exact_threshold" json:"exact_threshold"`

	// HNSW graph parameters.
	M        int `yaml:"m" json:"m"`
	EfSearch int `yaml:"ef_search" json:"ef_search"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "ollama", "static", or empty for auto-detection.
	Provider   string        `yaml:"provider" json:"provider"`
	Model      string        `yaml:"model" json:"model"`
	OllamaHost string        `yaml:"ollama_host" json:"ollama_host"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Workers    int           `yaml:"workers" json:"workers"`
	CacheSize  int           `yaml:"cache_size" json:"cache_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	// Provider is "ollama", "openai", or "extractive".
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	// Host is the Ollama endpoint.
	Host string `yaml:"host" json:"host"`
	// BaseURL is the OpenAI-compatible endpoint, including /v1.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey is normally supplied through DOCCHAT_LLM_API_KEY or OPENAI_API_KEY.
	APIKey            string        `yaml:"api_key,omitempty" json:"-"`
	Temperature       float64       `yaml:"temperature" json:"temperature"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
}

// StreamingConfig configures streamed answers.
type StreamingConfig struct {
	// HeartbeatInterval is the cadence of filler events before the first
	// token. Zero disables heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	HeartbeatToken    string        `yaml:"heartbeat_token" json:"heartbeat_token"`
	// IdleTimeout fails a session that produces nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// IngestConfig configures document ingestion.
type IngestConfig struct {
	// ClearHistory wipes the question log whenever a new document replaces the corpus.
	ClearHistory bool  `yaml:"clear_history" json:"clear_history"`
	MaxUploadMB  int64 `yaml:"max_upload_mb" json:"max_upload_mb"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string   `yaml:"addr" json:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	// CleanupOnShutdown deletes the corpus when the server stops.
	CleanupOnShutdown bool          `yaml:"cleanup_on_shutdown" json:"cleanup_on_shutdown"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	LogLevel          string        `yaml:"log_level" json:"log_level"`
}

// LoggingConfig configures the log file.
type LoggingConfig struct {
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			DataDir: defaultDataDir(),
		},
		Chunking: ChunkingConfig{
			ChunkSize:    7500,
			ChunkOverlap: 100,
		},
		Search: SearchConfig{
			TopK:           5,
			ExactThreshold: 2048,
			M:              16,
			EfSearch:       64,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "mxbai-embed-large",
			OllamaHost: "http://localhost:11434",
			BatchSize:  32,
			Workers:    4,
			CacheSize:  1000,
			Timeout:    60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:          "ollama",
			Model:             "llama3.2",
			Host:              "http://localhost:11434",
			BaseURL:           "https://api.openai.com/v1",
			Temperature:       0.2,
			Timeout:           5 * time.Minute,
			RequestsPerSecond: 2,
		},
		Streaming: StreamingConfig{
			HeartbeatInterval: 500 * time.Millisecond,
			HeartbeatToken:    "...",
			IdleTimeout:       2 * time.Minute,
		},
		Ingest: IngestConfig{
			ClearHistory: true,
			MaxUploadMB:  50,
		},
		Server: ServerConfig{
			Addr:              ":8000",
			AllowedOrigins:    []string{"*"},
			CleanupOnShutdown: true,
			ShutdownTimeout:   10 * time.Second,
			LogLevel:          "info",
		},
		Logging: LoggingConfig{
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".docchat", "data")
	}
	return filepath.Join(home, ".docchat", "data")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/docchat/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/docchat/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "docchat", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "docchat", "config.yaml")
	}
	return filepath.Join(home, ".config", "docchat", "config.yaml")
}

// Load loads configuration for the project rooted at dir.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/docchat/config.yaml)
//  3. Project config (.docchat.yaml or .docchat.yml in dir)
//  4. Environment variables (DOCCHAT_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.resolvePaths(dir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromDir loads .docchat.yaml, falling back to .docchat.yml.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".docchat.yaml", ".docchat.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML decodes path over the current values. Keys absent from the
// file keep their existing value, so explicit false and zero survive.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return dcerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

func (c *Config) resolvePaths(dir string) {
	if c.Paths.DataDir != "" && !filepath.IsAbs(c.Paths.DataDir) && dir != "" {
		c.Paths.DataDir = filepath.Join(dir, c.Paths.DataDir)
	}
}

// applyEnvOverrides applies DOCCHAT_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DOCCHAT_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v, ok := envInt("DOCCHAT_CHUNK_SIZE"); ok {
		c.Chunking.ChunkSize = v
	}
	if v, ok := envInt("DOCCHAT_CHUNK_OVERLAP"); ok {
		c.Chunking.ChunkOverlap = v
	}
	if v, ok := envInt("DOCCHAT_TOP_K"); ok && v > 0 {
		c.Search.TopK = v
	}

	if v := os.Getenv("DOCCHAT_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCCHAT_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	// One Ollama daemon usually serves both models.
	if v := os.Getenv("DOCCHAT_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
		c.LLM.Host = v
	}

	if v := os.Getenv("DOCCHAT_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("DOCCHAT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DOCCHAT_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("DOCCHAT_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}

	if v := os.Getenv("DOCCHAT_HEARTBEAT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			c.Streaming.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("DOCCHAT_CLEAR_HISTORY"); v != "" {
		c.Ingest.ClearHistory = parseBool(v)
	}
	if v := os.Getenv("DOCCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("DOCCHAT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// UseOffline switches both model backends to their local implementations.
func (c *Config) UseOffline() {
	c.Embeddings.Provider = "static"
	c.LLM.Provider = "extractive"
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return dcerrors.InvalidConfiguration(fmt.Sprintf("chunk_size must be positive, got %d", c.Chunking.ChunkSize))
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return dcerrors.InvalidConfiguration(fmt.Sprintf(
			"chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize))
	}
	if c.Search.TopK <= 0 {
		return dcerrors.ConfigError(fmt.Sprintf("search.top_k must be positive, got %d", c.Search.TopK), nil)
	}
	if c.Search.ExactThreshold < 0 {
		return dcerrors.ConfigError(fmt.Sprintf("search.exact_threshold must be non-negative, got %d", c.Search.ExactThreshold), nil)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "ollama", "static":
	default:
		return dcerrors.ConfigError(fmt.Sprintf(
			"embeddings.provider must be 'ollama', 'static', or empty (auto-detect), got %s", c.Embeddings.Provider), nil)
	}
	if c.Embeddings.BatchSize <= 0 {
		return dcerrors.ConfigError(fmt.Sprintf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize), nil)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "ollama", "openai", "extractive":
	default:
		return dcerrors.ConfigError(fmt.Sprintf(
			"llm.provider must be 'ollama', 'openai', or 'extractive', got %s", c.LLM.Provider), nil)
	}
	if c.LLM.RequestsPerSecond < 0 {
		return dcerrors.ConfigError("llm.requests_per_second must be non-negative", nil)
	}

	if c.Streaming.HeartbeatInterval < 0 {
		return dcerrors.ConfigError("streaming.heartbeat_interval must be non-negative", nil)
	}
	if c.Ingest.MaxUploadMB <= 0 {
		return dcerrors.ConfigError(fmt.Sprintf("ingest.max_upload_mb must be positive, got %d", c.Ingest.MaxUploadMB), nil)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return dcerrors.ConfigError(fmt.Sprintf(
			"server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel), nil)
	}
	return nil
}

// IndexDir is where corpus versions are stored.
func (c *Config) IndexDir() string {
	return filepath.Join(c.Paths.DataDir, "index")
}

// HistoryPath is the SQLite database holding past questions and answers.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.DataDir, "history.db")
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
