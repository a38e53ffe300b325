package app

import (
	"fmt"
	"time"

	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/utils"
)

// Config is the process-level env configuration: ports, auth, broker
// address. Retrieval and ingestion knobs live in the tuning file
// (internal/config), not here.
type Config struct {
	GinMode        string
	Port           string
	JWTSecretKey   string
	AccessTokenTTL time.Duration
	RedisAddr      string
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		GinMode:        utils.GetEnv("GIN_MODE", "debug", log),
		Port:           utils.GetEnv("PORT", "8080", log),
		JWTSecretKey:   utils.GetEnv("JWT_SECRET_KEY", "", log),
		AccessTokenTTL: utils.GetEnvAsDuration("ACCESS_TOKEN_TTL", time.Hour, log),
		RedisAddr:      utils.GetEnv("REDIS_ADDR", "", log),
	}
	if cfg.JWTSecretKey == "" {
		return Config{}, fmt.Errorf("JWT_SECRET_KEY is required")
	}
	return cfg, nil
}
