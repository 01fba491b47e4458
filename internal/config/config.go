/**
 * Configuration for the medscan pipeline
 *
 * Loads configuration from environment variables. Defaults reproduce the fixed
 * paths and thresholds of the batch pipeline.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds pipeline configuration
type Config struct {
	Paths      PathsConfig
	Preprocess PreprocessConfig
	OCR        OCRConfig
	NER        NERConfig
	Queue      QueueConfig

	// PostgreSQL result store (optional for local runs)
	DatabaseURL string

	// Number of images processed concurrently by a local run
	Workers int

	LogLevel string
}

// PathsConfig holds input and output locations
type PathsConfig struct {
	InputDir          string
	NormalOutputDir   string
	AdvancedOutputDir string
	OCRResultsFile    string
	EntitiesFile      string
}

// PreprocessConfig holds image preprocessing parameters
type PreprocessConfig struct {
	ApplyDeskew bool

	// Normal pipeline
	MedianKernel    int
	BinaryThreshold float64

	// Advanced pipeline
	AdaptiveBlockSize int
	AdaptiveC         float64
	DenoiseH          float64
	DenoiseTemplate   int
	DenoiseSearch     int
	DeskewMinAngle    float64

	Skew SkewConfig
}

// SkewConfig holds edge and line detection parameters for skew estimation
type SkewConfig struct {
	CannyLow       float64
	CannyHigh      float64
	HoughThreshold int
	MinLineLength  float64
	MaxLineGap     float64
}

// OCRConfig holds Tesseract configuration
type OCRConfig struct {
	Language       string
	PageSegMode    int
	TessdataPrefix string
}

// NERConfig holds entity classifier configuration
type NERConfig struct {
	URL         string
	Model       string
	LexiconPath string
	Timeout     time.Duration
}

// QueueConfig holds asynq and Redis configuration
type QueueConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	ProcessingTimeout int // milliseconds
	MaxRetry          int
}

// DefaultSkewConfig returns the edge and line detection constants
func DefaultSkewConfig() SkewConfig {
	return SkewConfig{
		CannyLow:       150,
		CannyHigh:      200,
		HoughThreshold: 100,
		MinLineLength:  100,
		MaxLineGap:     5,
	}
}

// DefaultPreprocessConfig returns the preprocessing defaults
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		ApplyDeskew:       true,
		MedianKernel:      3,
		BinaryThreshold:   0.5,
		AdaptiveBlockSize: 11,
		AdaptiveC:         2,
		DenoiseH:          10,
		DenoiseTemplate:   7,
		DenoiseSearch:     21,
		DeskewMinAngle:    1.0,
		Skew:              DefaultSkewConfig(),
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	pre := DefaultPreprocessConfig()
	pre.ApplyDeskew = getEnvAsBoolOrDefault("APPLY_DESKEW", pre.ApplyDeskew)
	pre.MedianKernel = getEnvAsIntOrDefault("MEDIAN_KSIZE", pre.MedianKernel)
	pre.BinaryThreshold = getEnvAsFloatOrDefault("BINARY_THRESHOLD", pre.BinaryThreshold)
	pre.AdaptiveBlockSize = getEnvAsIntOrDefault("ADAPTIVE_BLOCK_SIZE", pre.AdaptiveBlockSize)
	pre.AdaptiveC = getEnvAsFloatOrDefault("ADAPTIVE_C", pre.AdaptiveC)
	pre.DenoiseH = getEnvAsFloatOrDefault("DENOISE_H", pre.DenoiseH)
	pre.DenoiseTemplate = getEnvAsIntOrDefault("DENOISE_TEMPLATE", pre.DenoiseTemplate)
	pre.DenoiseSearch = getEnvAsIntOrDefault("DENOISE_SEARCH", pre.DenoiseSearch)
	pre.DeskewMinAngle = getEnvAsFloatOrDefault("DESKEW_MIN_ANGLE", pre.DeskewMinAngle)

	cfg := &Config{
		Paths: PathsConfig{
			InputDir:          getEnvOrDefault("INPUT_DIR", "data"),
			NormalOutputDir:   getEnvOrDefault("NORMAL_OUTPUT_DIR", "normal_preprocessed_data"),
			AdvancedOutputDir: getEnvOrDefault("ADVANCED_OUTPUT_DIR", "advanced_preprocessed_data"),
			OCRResultsFile:    getEnvOrDefault("OCR_RESULTS_FILE", "ocr_results.txt"),
			EntitiesFile:      getEnvOrDefault("ENTITIES_FILE", "classified_entities.txt"),
		},
		Preprocess: pre,
		OCR: OCRConfig{
			Language:       getEnvOrDefault("TESSERACT_LANG", "eng"),
			PageSegMode:    getEnvAsIntOrDefault("TESSERACT_PSM", 6),
			TessdataPrefix: getEnvOrDefault("TESSDATA_PREFIX", ""),
		},
		NER: NERConfig{
			URL:         getEnvOrDefault("NER_URL", ""),
			Model:       getEnvOrDefault("NER_MODEL", "en_ner_bc5cdr_md"),
			LexiconPath: getEnvOrDefault("NER_LEXICON", ""),
			Timeout:     getEnvAsDurationOrDefault("NER_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			RedisURL:          getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
			QueueName:         getEnvOrDefault("QUEUE_NAME", "medscan:images"),
			Concurrency:       getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
			ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
			MaxRetry:          getEnvAsIntOrDefault("MAX_RETRY", 3),
		},
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		Workers:     getEnvAsIntOrDefault("WORKERS", 1),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Paths.InputDir == "" {
		return fmt.Errorf("INPUT_DIR is required")
	}

	if c.Paths.NormalOutputDir == "" || c.Paths.AdvancedOutputDir == "" {
		return fmt.Errorf("NORMAL_OUTPUT_DIR and ADVANCED_OUTPUT_DIR are required")
	}

	if c.Paths.NormalOutputDir == c.Paths.AdvancedOutputDir {
		return fmt.Errorf("normal and advanced output directories must differ, both are %q", c.Paths.NormalOutputDir)
	}

	p := c.Preprocess
	if p.MedianKernel < 3 || p.MedianKernel%2 == 0 {
		return fmt.Errorf("MEDIAN_KSIZE must be odd and at least 3, got %d", p.MedianKernel)
	}

	if p.BinaryThreshold <= 0 || p.BinaryThreshold >= 1 {
		return fmt.Errorf("BINARY_THRESHOLD must be between 0 and 1, got %v", p.BinaryThreshold)
	}

	if p.AdaptiveBlockSize < 3 || p.AdaptiveBlockSize%2 == 0 {
		return fmt.Errorf("ADAPTIVE_BLOCK_SIZE must be odd and at least 3, got %d", p.AdaptiveBlockSize)
	}

	if p.DenoiseTemplate%2 == 0 || p.DenoiseSearch%2 == 0 {
		return fmt.Errorf("DENOISE_TEMPLATE and DENOISE_SEARCH must be odd, got %d and %d", p.DenoiseTemplate, p.DenoiseSearch)
	}

	if p.DeskewMinAngle < 0 {
		return fmt.Errorf("DESKEW_MIN_ANGLE must not be negative, got %v", p.DeskewMinAngle)
	}

	if c.OCR.PageSegMode < 0 || c.OCR.PageSegMode > 13 {
		return fmt.Errorf("TESSERACT_PSM must be between 0 and 13, got %d", c.OCR.PageSegMode)
	}

	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("WORKERS must be between 1 and 64, got %d", c.Workers)
	}

	if c.Queue.Concurrency < 1 || c.Queue.Concurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.Queue.Concurrency)
	}

	return nil
}

// RequireDatabase fails unless a PostgreSQL URL is configured
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
