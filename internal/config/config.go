package config

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime settings read from the environment (and an optional .env file).
type Config struct {
	Env      string `env:"ENV,default=dev"`
	HTTPAddr string `env:"HTTP_ADDR,default=:8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	DatabaseDSN   string `env:"DATABASE_DSN,default=host=localhost user=user password=password dbname=sparkchat port=5432 sslmode=disable"`
	RedisAddr     string `env:"REDIS_ADDR,default=localhost:6380"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	JWTSecret        string `env:"JWT_SECRET,required"`
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`

	UploadDir       string   `env:"UPLOAD_DIR,default=./data/uploads"`
	PublicBaseURL   string   `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS"`
	LocalizationDir string   `env:"LOCALIZATION_DIR,default=internal/localization"`
}

// IsDev reports whether the service runs in the development environment.
func (c Config) IsDev() bool {
	return c.Env == "dev"
}

// Origins lists the browser origins allowed to open a websocket. It falls back
// to the public base URL when ALLOWED_ORIGINS is unset.
func (c Config) Origins() []string {
	if len(c.AllowedOrigins) > 0 {
		return c.AllowedOrigins
	}
	return []string{c.PublicBaseURL}
}

// Load reads .env (if present) and then the process environment.
func Load(ctx context.Context) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("no .env file loaded")
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	return cfg, nil
}
