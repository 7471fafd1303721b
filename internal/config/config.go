package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string        `env:"APP_ENV" envDefault:"dev"`
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":8080"`
	PostgresDSN   string        `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string        `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	Workers       int           `env:"WORKERS" envDefault:"4"`
	RetryDelay    time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	MoveInterval  time.Duration `env:"MOVE_INTERVAL" envDefault:"1s"`
	MigrationsDir string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}
