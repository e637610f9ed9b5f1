package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Storage  StorageConfig  `koanf:"storage"`
	AI       AIConfig       `koanf:"ai"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Auth     AuthConfig     `koanf:"auth"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port           string   `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	RequestTimeout int      `koanf:"request_timeout"` // seconds
}

type DatabaseConfig struct {
	URL         string `koanf:"url"`
	SslCertPath string `koanf:"ssl_cert_path"`
	MaxConns    int    `koanf:"max_conns"`
}

// StorageConfig points at an S3-compatible endpoint (Supabase Storage or AWS).
// An empty bucket disables raw upload archiving.
type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type AIConfig struct {
	APIKey      string  `koanf:"api_key"`
	GenModel    string  `koanf:"gen_model"`
	EmbedModel  string  `koanf:"embed_model"`
	EmbedDim    int     `koanf:"embed_dim"`
	Embeddings  bool    `koanf:"embeddings"`
	Temperature float32 `koanf:"temperature"`
}

type IngestConfig struct {
	MaxFileSize    int64   `koanf:"max_file_size"`
	MaxChunkSize   int     `koanf:"max_chunk_size"`
	SearchLimit    int     `koanf:"search_limit"`
	MatchThreshold float64 `koanf:"match_threshold"` // minimum cosine similarity for vector search
	URLProxy       string  `koanf:"url_proxy"`
	URLRatePerSec  int     `koanf:"url_rate_per_sec"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text | json
}

// envKeys maps the flat environment variable names onto config keys.
var envKeys = map[string]string{
	"PORT":                "server.port",
	"ALLOWED_ORIGINS":     "server.allowed_origins",
	"REQUEST_TIMEOUT":     "server.request_timeout",
	"DATABASE_URL":        "database.url",
	"SSL_CERT_PATH":       "database.ssl_cert_path",
	"DB_MAX_CONNS":        "database.max_conns",
	"STORAGE_ENDPOINT":    "storage.endpoint",
	"AWS_REGION":          "storage.region",
	"BUCKET_NAME":         "storage.bucket",
	"AWS_ACCESS_KEY":      "storage.access_key",
	"AWS_SECRET_KEY":      "storage.secret_key",
	"GEMINI_API_KEY":      "ai.api_key",
	"GEN_MODEL":           "ai.gen_model",
	"EMBED_MODEL":         "ai.embed_model",
	"EMBED_DIM":           "ai.embed_dim",
	"EMBEDDINGS_ENABLED":  "ai.embeddings",
	"GEN_TEMPERATURE":     "ai.temperature",
	"KB_MAX_FILE_SIZE":    "ingest.max_file_size",
	"KB_MAX_CHUNK_SIZE":   "ingest.max_chunk_size",
	"KB_SEARCH_LIMIT":     "ingest.search_limit",
	"KB_MATCH_THRESHOLD":  "ingest.match_threshold",
	"KB_URL_PROXY":        "ingest.url_proxy",
	"KB_URL_RATE_PER_SEC": "ingest.url_rate_per_sec",
	"SUPABASE_JWT_SECRET": "auth.jwt_secret",
	"LOG_LEVEL":           "log.level",
	"LOG_FORMAT":          "log.format",
}

// LoadConfig reads .env, optional config.yaml/config.json and the environment,
// in that order of increasing precedence.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	setDefaults(k)
	loadConfigFiles(k)

	if err := k.Load(env.Provider(".", env.Opt{TransformFunc: transformEnv}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":             "8080",
		"server.allowed_origins":  []string{"http://localhost:5173", "http://localhost:8888"},
		"server.request_timeout":  120,
		"database.max_conns":      20,
		"storage.region":          "us-east-2",
		"ai.gen_model":            "gemini-1.5-flash",
		"ai.embed_model":          "text-embedding-004",
		"ai.embed_dim":            768,
		"ai.embeddings":           false,
		"ai.temperature":          0.2,
		"ingest.max_file_size":    int64(50 * 1024 * 1024),
		"ingest.max_chunk_size":   1000,
		"ingest.search_limit":     10,
		"ingest.match_threshold":  0.78,
		"ingest.url_proxy":        "https://api.allorigins.win/get?url=",
		"ingest.url_rate_per_sec": 2,
		"log.level":               "info",
		"log.format":              "text",
	}
	for key, value := range defaults {
		_ = k.Set(key, value)
	}
}

func loadConfigFiles(k *koanf.Koanf) {
	if _, err := os.Stat("config.yaml"); err == nil {
		if err := k.Load(file.Provider("config.yaml"), yaml.Parser()); err != nil {
			log.Printf("WARN: failed to load config.yaml: %v", err)
		}
	}
	if _, err := os.Stat("config.json"); err == nil {
		if err := k.Load(file.Provider("config.json"), json.Parser()); err != nil {
			log.Printf("WARN: failed to load config.json: %v", err)
		}
	}
}

// transformEnv keeps only the variables listed in envKeys. Comma separated
// values become lists for list-typed keys.
func transformEnv(key, value string) (string, any) {
	mapped, ok := envKeys[key]
	if !ok {
		return "", nil
	}
	if mapped == "server.allowed_origins" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return mapped, out
	}
	return mapped, value
}

func (c *Config) validate() error {
	if c.Ingest.MaxChunkSize <= 0 {
		return fmt.Errorf("ingest.max_chunk_size must be positive, got %d", c.Ingest.MaxChunkSize)
	}
	if c.Ingest.MaxFileSize <= 0 {
		return fmt.Errorf("ingest.max_file_size must be positive, got %d", c.Ingest.MaxFileSize)
	}
	if c.Ingest.SearchLimit <= 0 {
		c.Ingest.SearchLimit = 10
	}
	if c.Ingest.MatchThreshold <= 0 || c.Ingest.MatchThreshold > 1 {
		return fmt.Errorf("ingest.match_threshold must be in (0, 1], got %g", c.Ingest.MatchThreshold)
	}
	if c.AI.EmbedDim <= 0 {
		return fmt.Errorf("ai.embed_dim must be positive, got %d", c.AI.EmbedDim)
	}
	if c.Database.SslCertPath != "" {
		if _, err := os.Stat(c.Database.SslCertPath); err != nil {
			return fmt.Errorf("ssl cert not accessible at %q: %w", c.Database.SslCertPath, err)
		}
	}
	return nil
}

// RequireServer checks the settings the HTTP service cannot start without.
func (c *Config) RequireServer() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL not set")
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET not set")
	}
	return nil
}
