package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	// Empty host disables the cross-instance chat bus.
	RedisHost string `env:"REDIS_HOST" envDefault:""`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379" validate:"min=1000,max=65535"`

	MeshEnabled        bool     `env:"MESH_ENABLED"         envDefault:"true"`
	MeshBootstrapPeers []string `env:"MESH_BOOTSTRAP_PEERS" envDefault:"" envSeparator:","`

	RoomIdleGrace     time.Duration `env:"ROOM_IDLE_GRACE"     envDefault:"5m"  validate:"min=1s"`
	RoomSweepInterval time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"10m" validate:"min=1s"`

	StaticDir string `env:"STATIC_DIR" envDefault:"public"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
