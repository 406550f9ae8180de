package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	LLM      LLMConfig
	OCR      OCRConfig
	Cache    CacheConfig
	Render   RenderConfig
	Ledger   LedgerConfig
	Paths    PathsConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// LLMConfig holds vision-model configuration
type LLMConfig struct {
	APIKey            string
	Model             string
	Temperature       float32
	TopP              float32
	TopK              float32
	RequestsPerSecond float64
	MaxImageDimension int
	JPEGQuality       int
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Tesseract           string
	TessdataDir         string
	DefaultLang         string
	EnableTSVConfidence bool
	Concurrency         int64
	Preprocess          string
	HeicConverter       string
}

// CacheConfig selects and tunes the extraction cache
type CacheConfig struct {
	Backend       string
	Dir           string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type RenderConfig struct {
	FontDir string
}

// LedgerConfig holds the remote ledger endpoint used for proof corroboration
type LedgerConfig struct {
	RPCURL            string
	Cluster           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

type PathsConfig struct {
	TemplatesDir string
	ArtifactsDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Textfile string
}

const (
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"

	PreprocessAdaptive = "adaptive"
	PreprocessFixed    = "fixed"
)

// NewViper returns a viper instance with defaults registered and env lookup enabled.
// Keys are the lower-cased env var names, so DB_URL is read as "db_url".
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("db_url", "sqlite://file:formfill.db?cache=shared&_pragma=foreign_keys(1)")
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("db_min_conns", 1)
	v.SetDefault("db_max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db_max_conn_idle_time", 5*time.Minute)
	v.SetDefault("db_dial_timeout", 3*time.Second)
	v.SetDefault("db_statement_timeout", time.Duration(0))

	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-2.5-flash")
	v.SetDefault("gemini_temperature", 0.1)
	v.SetDefault("gemini_top_p", 0.8)
	v.SetDefault("gemini_top_k", 40)
	v.SetDefault("gemini_rps", 1.0)
	v.SetDefault("gemini_max_image_dimension", 2048)
	v.SetDefault("gemini_jpeg_quality", 85)

	v.SetDefault("tesseract_bin", "tesseract")
	v.SetDefault("tessdata_prefix", "")
	v.SetDefault("ocr_default_lang", "nep+eng")
	v.SetDefault("ocr_tsv_confidence", false)
	v.SetDefault("ocr_concurrency", 1)
	v.SetDefault("ocr_preprocess", PreprocessAdaptive)
	v.SetDefault("heic_converter", "magick")

	v.SetDefault("cache_backend", CacheBackendFile)
	v.SetDefault("cache_dir", "./data/.cache")
	v.SetDefault("cache_ttl", 24*time.Hour)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("font_dir", "./fonts")

	v.SetDefault("ledger_rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("ledger_cluster", "devnet")
	v.SetDefault("ledger_timeout", 10*time.Second)
	v.SetDefault("ledger_rps", 2.0)

	v.SetDefault("templates_dir", "./templates")
	v.SetDefault("artifacts_dir", "./data")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("metrics_textfile", "")
	return v
}

// LoadConfig reads configuration from v (env vars, bound flags and defaults).
func LoadConfig(v *viper.Viper) *Config {
	if v == nil {
		v = NewViper()
	}
	return &Config{
		Database: DatabaseConfig{
			DSN:              v.GetString("db_url"),
			MaxConns:         v.GetInt32("db_max_conns"),
			MinConns:         v.GetInt32("db_min_conns"),
			MaxConnLifetime:  v.GetDuration("db_max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("db_max_conn_idle_time"),
			DialTimeout:      v.GetDuration("db_dial_timeout"),
			StatementTimeout: v.GetDuration("db_statement_timeout"),
		},
		LLM: LLMConfig{
			APIKey:            strings.TrimSpace(v.GetString("gemini_api_key")),
			Model:             strings.TrimPrefix(v.GetString("gemini_model"), "models/"),
			Temperature:       float32(v.GetFloat64("gemini_temperature")),
			TopP:              float32(v.GetFloat64("gemini_top_p")),
			TopK:              float32(v.GetFloat64("gemini_top_k")),
			RequestsPerSecond: v.GetFloat64("gemini_rps"),
			MaxImageDimension: v.GetInt("gemini_max_image_dimension"),
			JPEGQuality:       v.GetInt("gemini_jpeg_quality"),
		},
		OCR: OCRConfig{
			Tesseract:           v.GetString("tesseract_bin"),
			TessdataDir:         v.GetString("tessdata_prefix"),
			DefaultLang:         v.GetString("ocr_default_lang"),
			EnableTSVConfidence: v.GetBool("ocr_tsv_confidence"),
			Concurrency:         v.GetInt64("ocr_concurrency"),
			Preprocess:          strings.ToLower(v.GetString("ocr_preprocess")),
			HeicConverter:       v.GetString("heic_converter"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(v.GetString("cache_backend")),
			Dir:           v.GetString("cache_dir"),
			TTL:           v.GetDuration("cache_ttl"),
			RedisAddr:     v.GetString("redis_addr"),
			RedisPassword: v.GetString("redis_password"),
			RedisDB:       v.GetInt("redis_db"),
		},
		Render: RenderConfig{
			FontDir: v.GetString("font_dir"),
		},
		Ledger: LedgerConfig{
			RPCURL:            v.GetString("ledger_rpc_url"),
			Cluster:           v.GetString("ledger_cluster"),
			Timeout:           v.GetDuration("ledger_timeout"),
			RequestsPerSecond: v.GetFloat64("ledger_rps"),
		},
		Paths: PathsConfig{
			TemplatesDir: v.GetString("templates_dir"),
			ArtifactsDir: v.GetString("artifacts_dir"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Metrics: MetricsConfig{
			Textfile: v.GetString("metrics_textfile"),
		},
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrConfig)
	}
	if c.Paths.TemplatesDir == "" || c.Paths.ArtifactsDir == "" {
		return NewAppError(CodeConfig, "TEMPLATES_DIR and ARTIFACTS_DIR are required", ErrConfig)
	}
	switch c.Cache.Backend {
	case CacheBackendFile:
		if c.Cache.Dir == "" {
			return NewAppError(CodeConfig, "CACHE_DIR is required for the file cache", ErrConfig)
		}
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return NewAppError(CodeConfig, "REDIS_ADDR is required for the redis cache", ErrConfig)
		}
	default:
		return NewAppError(CodeConfig, fmt.Sprintf("unknown CACHE_BACKEND %q", c.Cache.Backend), ErrConfig)
	}
	if c.Cache.TTL <= 0 {
		return NewAppError(CodeConfig, "CACHE_TTL must be positive", ErrConfig)
	}
	if c.OCR.Preprocess != PreprocessAdaptive && c.OCR.Preprocess != PreprocessFixed {
		return NewAppError(CodeConfig, fmt.Sprintf("unknown OCR_PREPROCESS %q", c.OCR.Preprocess), ErrConfig)
	}
	if c.OCR.Concurrency < 1 {
		return NewAppError(CodeConfig, "OCR_CONCURRENCY must be >= 1", ErrConfig)
	}
	if c.LLM.JPEGQuality < 1 || c.LLM.JPEGQuality > 100 {
		return NewAppError(CodeConfig, "GEMINI_JPEG_QUALITY must be within 1..100", ErrConfig)
	}
	return nil
}

// HasVisionCredentials reports whether a Gemini API key is configured.
func (c *Config) HasVisionCredentials() bool {
	return c.LLM.APIKey != ""
}
