package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// DefaultDownloadBaseURL is the public file host the artifacts are published on.
const DefaultDownloadBaseURL = "https://drive.google.com/uc"

type Config struct {
	Port int

	ModelPath       string
	MetadataPath    string
	ModelFileID     string
	ModelURL        string
	ModelSHA256     string
	ModelMinSize    int64
	LogoFileID      string
	LogoURL         string
	LogoPath        string
	DownloadBaseURL string
	FetchTimeout    time.Duration // zero means no timeout
	OnnxRuntimeLib  string
	MaxUploadSize   int64
	LogLevel        string
	LogFormat       string
}

// Load reads the configuration from the environment. A .env file in the
// working directory (or the one named by ENV_FILE) is applied first; values
// already present in the environment win.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read env file %s", envFile)
	}

	port, err := getEnvAsInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	minSize, err := getEnvAsSize("MODEL_MIN_SIZE", "1MB")
	if err != nil {
		return nil, err
	}
	maxUpload, err := getEnvAsSize("MAX_UPLOAD_SIZE", "10MB")
	if err != nil {
		return nil, err
	}
	timeout, err := getEnvAsDuration("FETCH_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:            port,
		ModelPath:       getEnv("MODEL_PATH", filepath.Join("models", "lesion_classifier.onnx")),
		MetadataPath:    getEnv("MODEL_METADATA_PATH", filepath.Join("models", "model_metadata.json")),
		ModelFileID:     getEnv("MODEL_FILE_ID", ""),
		ModelURL:        getEnv("MODEL_URL", ""),
		ModelSHA256:     getEnv("MODEL_SHA256", ""),
		ModelMinSize:    minSize,
		LogoFileID:      getEnv("LOGO_FILE_ID", ""),
		LogoURL:         getEnv("LOGO_URL", ""),
		LogoPath:        getEnv("LOGO_PATH", filepath.Join("static", "logo.png")),
		DownloadBaseURL: getEnv("DOWNLOAD_BASE_URL", DefaultDownloadBaseURL),
		FetchTimeout:    timeout,
		OnnxRuntimeLib:  getEnv("ONNXRUNTIME_LIB", ""),
		MaxUploadSize:   maxUpload,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.Errorf("PORT out of range: %d", cfg.Port)
	}
	return cfg, nil
}

// FetchModel reports whether the model has to be downloaded before loading.
func (c *Config) FetchModel() bool {
	return c.ModelFileID != "" || c.ModelURL != ""
}

// FetchLogo reports whether a logo is published remotely.
func (c *Config) FetchLogo() bool {
	return c.LogoFileID != "" || c.LogoURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return intValue, nil
}

// getEnvAsSize accepts human readable sizes such as "512KB" or "10MB".
func getEnvAsSize(key, defaultValue string) (int64, error) {
	value := getEnv(key, defaultValue)
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if size < 0 {
		return 0, errors.Errorf("invalid %s: negative size %q", key, value)
	}
	return size, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" || value == "0" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	if d < 0 {
		return 0, errors.Errorf("invalid %s: negative duration %q", key, value)
	}
	return d, nil
}
