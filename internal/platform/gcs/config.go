package gcs

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

type Mode string

const (
	ModeGCS      Mode = "gcs"
	ModeEmulator Mode = "gcs_emulator"
)

// Config describes the single video bucket. Object keys already carry the
// tenant prefix, so one bucket serves every tenant.
type Config struct {
	Mode                  Mode
	Bucket                string
	CDNDomain             string
	EmulatorHost          string
	PublicBaseURL         string
	CompatibilityFallback bool
}

func (cfg Config) IsEmulatorMode() bool {
	return cfg.Mode == ModeEmulator
}

func (cfg Config) ModeSource() string {
	if cfg.CompatibilityFallback {
		return "compatibility_fallback"
	}
	return "explicit_or_default"
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
	ConfigErrorInvalidPublicBase   ConfigErrorCode = "invalid_public_base_url"
)

type ConfigError struct {
	Code         ConfigErrorCode
	Mode         string
	EmulatorHost string
	Value        string
	Cause        error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid object storage config"
	}
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf(
			"invalid OBJECT_STORAGE_MODE=%q (allowed: %q, %q)",
			e.Mode,
			ModeGCS,
			ModeEmulator,
		)
	case ConfigErrorMissingBucket:
		return "VIDEO_GCS_BUCKET_NAME is required"
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf(
			"OBJECT_STORAGE_MODE=%q requires STORAGE_EMULATOR_HOST to be set",
			ModeEmulator,
		)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf(
			"invalid STORAGE_EMULATOR_HOST=%q; expected absolute URL like http://fake-gcs:4443",
			e.EmulatorHost,
		)
	case ConfigErrorInvalidPublicBase:
		return fmt.Sprintf(
			"invalid OBJECT_STORAGE_PUBLIC_BASE_URL=%q; expected absolute URL like http://localhost:4443",
			e.Value,
		)
	default:
		return "invalid object storage config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func ResolveConfigFromEnv() (Config, error) {
	cfg := Config{
		Bucket:        strings.TrimSpace(os.Getenv("VIDEO_GCS_BUCKET_NAME")),
		CDNDomain:     strings.TrimSpace(os.Getenv("VIDEO_CDN_DOMAIN")),
		EmulatorHost:  strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")),
		PublicBaseURL: strings.TrimSpace(os.Getenv("OBJECT_STORAGE_PUBLIC_BASE_URL")),
	}

	rawMode := strings.TrimSpace(os.Getenv("OBJECT_STORAGE_MODE"))
	mode := Mode(strings.ToLower(rawMode))
	switch mode {
	case "":
		if cfg.EmulatorHost != "" {
			cfg.Mode = ModeEmulator
			cfg.CompatibilityFallback = true
		} else {
			cfg.Mode = ModeGCS
		}
	case ModeGCS:
		cfg.Mode = ModeGCS
	case ModeEmulator:
		cfg.Mode = ModeEmulator
	default:
		return cfg, &ConfigError{
			Code: ConfigErrorInvalidMode,
			Mode: rawMode,
		}
	}

	if err := ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	switch cfg.Mode {
	case ModeGCS, ModeEmulator:
	default:
		return &ConfigError{
			Code: ConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return &ConfigError{Code: ConfigErrorMissingBucket}
	}
	if cfg.PublicBaseURL != "" {
		u, err := url.Parse(cfg.PublicBaseURL)
		if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
			return &ConfigError{
				Code:  ConfigErrorInvalidPublicBase,
				Value: cfg.PublicBaseURL,
				Cause: err,
			}
		}
	}
	if !cfg.IsEmulatorMode() {
		return nil
	}

	if cfg.EmulatorHost == "" {
		return &ConfigError{
			Code: ConfigErrorMissingEmulatorHost,
			Mode: string(cfg.Mode),
		}
	}
	u, err := url.Parse(cfg.EmulatorHost)
	if err != nil || strings.TrimSpace(u.Scheme) == "" || strings.TrimSpace(u.Host) == "" {
		return &ConfigError{
			Code:         ConfigErrorInvalidEmulatorHost,
			Mode:         string(cfg.Mode),
			EmulatorHost: cfg.EmulatorHost,
			Cause:        err,
		}
	}
	return nil
}
