package qdrant

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config describes one Qdrant collection holding named vectors: one text
// vector per text channel (transcript, visual, summary) and one image-space
// vector (clip_image). Text channels share TextDim; clip_image uses ImageDim.
type Config struct {
	URL        string
	Collection string
	TextDim    int
	ImageDim   int
}

type ConfigErrorCode string

const (
	ConfigErrorMissingURL        ConfigErrorCode = "missing_url"
	ConfigErrorInvalidURL        ConfigErrorCode = "invalid_url"
	ConfigErrorMissingCollection ConfigErrorCode = "missing_collection"
	ConfigErrorInvalidTextDim    ConfigErrorCode = "invalid_text_dim"
	ConfigErrorInvalidImageDim   ConfigErrorCode = "invalid_image_dim"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid qdrant config"
	}
	switch e.Code {
	case ConfigErrorMissingURL:
		return "QDRANT_URL is required"
	case ConfigErrorInvalidURL:
		return fmt.Sprintf(
			"invalid QDRANT_URL=%q; expected absolute URL like http://qdrant:6333",
			e.Value,
		)
	case ConfigErrorMissingCollection:
		return "QDRANT_COLLECTION is required"
	case ConfigErrorInvalidTextDim:
		return fmt.Sprintf(
			"invalid QDRANT_TEXT_DIM=%q; expected positive integer",
			e.Value,
		)
	case ConfigErrorInvalidImageDim:
		return fmt.Sprintf(
			"invalid QDRANT_IMAGE_DIM=%q; expected positive integer",
			e.Value,
		)
	default:
		return "invalid qdrant config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	textDim, err := parseDim("QDRANT_TEXT_DIM", 1536, ConfigErrorInvalidTextDim)
	if err != nil {
		return Config{}, err
	}
	imageDim, err := parseDim("QDRANT_IMAGE_DIM", 512, ConfigErrorInvalidImageDim)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		URL:        strings.TrimSpace(os.Getenv("QDRANT_URL")),
		Collection: strings.TrimSpace(os.Getenv("QDRANT_COLLECTION")),
		TextDim:    textDim,
		ImageDim:   imageDim,
	}
	if cfg.Collection == "" {
		cfg.Collection = "heimdex_scenes"
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDim(envKey string, fallback int, code ConfigErrorCode) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, &ConfigError{Code: code, Value: raw, Cause: err}
	}
	return parsed, nil
}

func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return &ConfigError{Code: ConfigErrorMissingURL}
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return &ConfigError{
			Code:  ConfigErrorInvalidURL,
			Value: cfg.URL,
			Cause: err,
		}
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return &ConfigError{Code: ConfigErrorMissingCollection}
	}
	if cfg.TextDim <= 0 {
		return &ConfigError{
			Code:  ConfigErrorInvalidTextDim,
			Value: strconv.Itoa(cfg.TextDim),
		}
	}
	if cfg.ImageDim <= 0 {
		return &ConfigError{
			Code:  ConfigErrorInvalidImageDim,
			Value: strconv.Itoa(cfg.ImageDim),
		}
	}
	return nil
}
