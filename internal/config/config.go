// Package config handles loading and parsing of application configuration
// from environment variables, layered under an optional config.toml of
// static defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"videorag/internal/models"
)

// FileDefaults is the shape of the optional config.toml layered beneath
// environment variables, mirroring the layered-config idiom of the rest of
// the example corpus.
type FileDefaults struct {
	Pipeline struct {
		MaxVideosDefault int `toml:"max_videos_default"`
		BatchSize        int `toml:"batch_size"`
	} `toml:"pipeline"`
	Retriever struct {
		TopK         int     `toml:"top_k"`
		VectorWeight float64 `toml:"vector_weight"`
		TextWeight   float64 `toml:"text_weight"`
	} `toml:"retriever"`
}

// AppConfig holds all configuration settings shared by cmd/api and
// cmd/worker.
type AppConfig struct {
	// --- Core settings ---
	DatabaseURL         string
	ServerAddr          string
	MigrationsPath      string
	CORSAllowedOrigins  string
	CORSMaxAge          int
	SettingsEncryptionKey string

	// --- External services (black-box collaborators, §1) ---
	OpenAIAPIKey      string
	LLMServiceURL     string
	LLMModel          string
	STTServiceURL     string
	EncoderServiceURL string

	// --- Audio storage ---
	AudioDir string
	TmpDir   string
	S3       models.S3Config

	// --- External tooling (fetcher/transcription, §1 black-box collaborators) ---
	YtDLPPath    string
	FFmpegPath   string
	LanguageHint string

	// --- Pipeline tunables (env / config.toml only; the Settings store is not read back here) ---
	MaxVideosDefault int
	BatchSize        int
	TopK             int
	VectorWeight     float64
	TextWeight       float64

	// --- Worker scheduling ---
	NotifyPollInterval   time.Duration
	JanitorInterval      time.Duration
	TaskRetention        time.Duration
	MetricsExportInterval time.Duration
	PipelineCron       string // optional robfig/cron expression for periodic re-ingest
	ReingestChannelURL string // channel re-ingested on PipelineCron's schedule, if set

	// --- Timeouts ---
	HTTPClientTimeout    time.Duration
	ShutdownTimeout      time.Duration
	EmbedWaitInterval    time.Duration
	EmbedWaitTimeout     time.Duration
	MetadataFetchTimeout time.Duration
	DownloadTimeout      time.Duration
}

// Load reads environment variables, layers an optional config.toml beneath
// them, and validates a small set of critical variables.
func Load() (*AppConfig, error) {
	defaults := loadFileDefaults(getEnv("CONFIG_TOML_PATH", "config.toml"))

	s3KeyID := getEnv("S3_ACCESS_KEY", "")
	if s3KeyID == "" {
		s3KeyID = getEnv("S3_ACCESS_KEY_ID", "")
	}
	s3Secret := getEnv("S3_SECRET_KEY", "")
	if s3Secret == "" {
		s3Secret = getEnv("S3_SECRET_ACCESS_KEY", "")
	}

	cfg := &AppConfig{
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		ServerAddr:            getEnv("SERVER_ADDR", ":8080"),
		MigrationsPath:        getEnv("MIGRATIONS_PATH", "migrations"),
		CORSAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		CORSMaxAge:            getEnvAsInt("CORS_MAX_AGE", 300),
		SettingsEncryptionKey: getEnv("SETTINGS_ENCRYPTION_KEY", ""),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		LLMServiceURL:     getEnv("LLM_SERVICE_URL", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),
		STTServiceURL:     getEnv("STT_SERVICE_URL", ""),
		EncoderServiceURL: getEnv("ENCODER_SERVICE_URL", ""),

		AudioDir: getEnv("AUDIO_DIR", "./data/audio"),
		TmpDir:   getEnv("TMP_DIR", "./data/tmp"),
		S3: models.S3Config{
			Endpoint: getEnv("S3_ENDPOINT", ""),
			Region:   getEnv("S3_REGION", ""),
			KeyID:    s3KeyID,
			AppKey:   s3Secret,
			Bucket:   getEnv("S3_BUCKET_NAME", ""),
		},

		YtDLPPath:    getEnv("YTDLP_PATH", "yt-dlp"),
		FFmpegPath:   getEnv("FFMPEG_PATH", "ffmpeg"),
		LanguageHint: getEnv("TRANSCRIBE_LANGUAGE", "es"),

		MaxVideosDefault: getEnvAsIntOr(defaults.Pipeline.MaxVideosDefault, "MAX_VIDEOS_DEFAULT", 50),
		BatchSize:        getEnvAsIntOr(defaults.Pipeline.BatchSize, "EMBED_BATCH_SIZE", 32),
		TopK:             getEnvAsIntOr(defaults.Retriever.TopK, "RETRIEVER_TOP_K", 8),
		VectorWeight:     getEnvAsFloatOr(defaults.Retriever.VectorWeight, "RETRIEVER_VECTOR_WEIGHT", 0.7),
		TextWeight:       getEnvAsFloatOr(defaults.Retriever.TextWeight, "RETRIEVER_TEXT_WEIGHT", 0.3),

		NotifyPollInterval:    getEnvAsDuration("NOTIFY_POLL_INTERVAL", 5*time.Second),
		JanitorInterval:       getEnvAsDuration("JANITOR_INTERVAL", 1*time.Hour),
		TaskRetention:         getEnvAsDuration("TASK_RETENTION", 30*24*time.Hour),
		MetricsExportInterval: getEnvAsDuration("METRICS_EXPORT_INTERVAL", time.Minute),
		PipelineCron:       getEnv("PIPELINE_CRON", ""),
		ReingestChannelURL: getEnv("REINGEST_CHANNEL_URL", ""),

		HTTPClientTimeout:    getEnvAsDuration("HTTP_CLIENT_TIMEOUT", 2*time.Minute),
		ShutdownTimeout:      getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		EmbedWaitInterval:    getEnvAsDuration("EMBED_WAIT_INTERVAL", 200*time.Millisecond),
		EmbedWaitTimeout:     getEnvAsDuration("EMBED_WAIT_TIMEOUT", 30*time.Second),
		MetadataFetchTimeout: getEnvAsDuration("METADATA_FETCH_TIMEOUT", 60*time.Second),
		DownloadTimeout:      getEnvAsDuration("DOWNLOAD_TIMEOUT", 600*time.Second),
	}

	if err := validateCriticalConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFileDefaults reads an optional config.toml. A missing file is not an
// error: the zero-value defaults simply fall through to the env-var
// defaults below.
func loadFileDefaults(path string) FileDefaults {
	var d FileDefaults
	if _, err := os.Stat(path); err != nil {
		return d
	}
	if _, err := toml.DecodeFile(path, &d); err != nil {
		return d
	}
	return d
}

func validateCriticalConfig(cfg *AppConfig) error {
	criticalVars := map[string]string{
		"DATABASE_URL":      cfg.DatabaseURL,
		"STT_SERVICE_URL":   cfg.STTServiceURL,
		"ENCODER_SERVICE_URL": cfg.EncoderServiceURL,
	}
	var missing []string
	for name, value := range criticalVars {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing critical environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// --- Helper functions for robust environment variable loading ---

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsIntOr prefers the env var, then a file default (if non-zero), then
// the hard-coded fallback.
func getEnvAsIntOr(fileDefault int, key string, fallback int) int {
	if valueStr := getEnv(key, ""); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	if fileDefault != 0 {
		return fileDefault
	}
	return fallback
}

func getEnvAsFloatOr(fileDefault float64, key string, fallback float64) float64 {
	if valueStr := getEnv(key, ""); valueStr != "" {
		if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
			return value
		}
	}
	if fileDefault != 0 {
		return fileDefault
	}
	return fallback
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
