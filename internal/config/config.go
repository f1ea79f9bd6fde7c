// Package config loads genie settings from .env files and the environment.
// CLI flags override what is loaded here.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// DefaultModel is used when neither flag nor environment names a model.
const DefaultModel = "gpt-4o"

// Config holds all settings the CLI needs.
type Config struct {
	// Model is the default model (GENIE_MODEL, then MODEL_NAME)
	Model string

	// Temperature for every call (GENIE_TEMPERATURE)
	Temperature float64

	// MaxTokens caps completion length, 0 = provider default (GENIE_MAX_TOKENS)
	MaxTokens int

	// Timeout bounds one inference attempt (GENIE_TIMEOUT)
	Timeout time.Duration

	// RetryAttempts and RetryMaxElapsed bound transient retries
	// (GENIE_RETRY_ATTEMPTS, GENIE_RETRY_MAX_ELAPSED)
	RetryAttempts   int
	RetryMaxElapsed time.Duration

	// PrepromptsPath overrides templates by file name (GENIE_PREPROMPTS_PATH)
	PrepromptsPath string

	// Provider forces a vendor instead of guessing from Model (GENIE_PROVIDER)
	Provider string

	// AzureEndpoint routes OpenAI models through Azure (AZURE_OPENAI_ENDPOINT)
	AzureEndpoint string

	// DockerImage runs entrypoints under --docker (GENIE_DOCKER_IMAGE)
	DockerImage string

	// RunTimeout bounds an entrypoint run (GENIE_RUN_TIMEOUT)
	RunTimeout time.Duration

	// LogLevel is the structured log threshold (GENIE_LOG_LEVEL)
	LogLevel string
}

// Load reads configuration from environment variables. Call LoadDotEnv
// first to pick up .env files.
func Load() (*Config, error) {
	cfg := &Config{
		Model:           getEnv("GENIE_MODEL", getEnv("MODEL_NAME", DefaultModel)),
		Temperature:     getEnvFloat("GENIE_TEMPERATURE", 0.1),
		MaxTokens:       getEnvInt("GENIE_MAX_TOKENS", 0),
		Timeout:         getEnvDuration("GENIE_TIMEOUT", 5*time.Minute),
		RetryAttempts:   getEnvInt("GENIE_RETRY_ATTEMPTS", 7),
		RetryMaxElapsed: getEnvDuration("GENIE_RETRY_MAX_ELAPSED", 45*time.Second),
		PrepromptsPath:  getEnv("GENIE_PREPROMPTS_PATH", ""),
		Provider:        getEnv("GENIE_PROVIDER", ""),
		AzureEndpoint:   getEnv("AZURE_OPENAI_ENDPOINT", ""),
		DockerImage:     getEnv("GENIE_DOCKER_IMAGE", "python:3.12-slim"),
		RunTimeout:      getEnvDuration("GENIE_RUN_TIMEOUT", 10*time.Minute),
		LogLevel:        getEnv("GENIE_LOG_LEVEL", "warn"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and formats. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model cannot be empty"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %.2f out of range [0, 2]", c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("GENIE_MAX_TOKENS must be >= 0"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("GENIE_TIMEOUT must be >= 0"))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, errors.New("GENIE_RETRY_ATTEMPTS must be >= 1"))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, errors.New("GENIE_RUN_TIMEOUT must be > 0"))
	}
	if c.AzureEndpoint != "" {
		u, err := url.Parse(c.AzureEndpoint)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			errs = append(errs, fmt.Errorf("azure endpoint %q is not an http(s) URL", c.AzureEndpoint))
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads <projectDir>/.env and then ~/.genie/.env. Variables
// already set in the environment win. It returns the files that were read.
func LoadDotEnv(projectDir string) ([]string, error) {
	candidates := []string{GetPaths().EnvFile}
	if projectDir != "" {
		candidates = append([]string{filepath.Join(projectDir, ".env")}, candidates...)
	}

	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return loaded, fmt.Errorf("load %s: %w", f, err)
		}
		loaded = append(loaded, f)
	}
	return loaded, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// NoColor reports whether colored output is disabled (NO_COLOR).
func NoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set || getEnvBool("GENIE_NO_COLOR", false)
}

// Paths holds standard genie directory paths.
type Paths struct {
	// Home is the genie home directory (~/.genie)
	Home string

	// EnvFile is the user-level .env file (~/.genie/.env)
	EnvFile string

	// Preprompts holds user-level template overrides (~/.genie/preprompts)
	Preprompts string

	// TiktokenCache stores downloaded BPE files (~/.genie/tiktoken)
	TiktokenCache string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		genieHome := getEnv("GENIE_HOME", filepath.Join(home, ".genie"))

		paths = &Paths{
			Home:          genieHome,
			EnvFile:       filepath.Join(genieHome, ".env"),
			Preprompts:    filepath.Join(genieHome, "preprompts"),
			TiktokenCache: filepath.Join(genieHome, "tiktoken"),
		}
	})
	return paths
}

// ResetPaths drops the cached paths (for testing).
func ResetPaths() {
	pathsOnce = sync.Once{}
	paths = nil
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ConfigureTiktokenCache points tiktoken-go at ~/.genie/tiktoken unless
// TIKTOKEN_CACHE_DIR is already set, so encodings are downloaded once.
func ConfigureTiktokenCache() error {
	if os.Getenv("TIKTOKEN_CACHE_DIR") != "" {
		return nil
	}
	dir := GetPaths().TiktokenCache
	if err := EnsureDir(dir); err != nil {
		return fmt.Errorf("create tiktoken cache: %w", err)
	}
	return os.Setenv("TIKTOKEN_CACHE_DIR", dir)
}
