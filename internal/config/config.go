// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config holds the settings of the battle server. Values come from the environment;
// commands import github.com/joho/godotenv/autoload so a local .env file is honoured.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	JWTSecret   string `env:"JWT_SECRET"`
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	HistorianQueue string `env:"HISTORIAN_QUEUE_NAME" envDefault:"battle_actions"`

	// TurnTimeout ends a turn automatically when it has not been passed in time. Zero disables it.
	TurnTimeout         time.Duration `env:"TURN_TIMEOUT" envDefault:"0s"`
	ForfeitOnDisconnect bool          `env:"FORFEIT_ON_DISCONNECT" envDefault:"false"`
	TypeChartPath       string        `env:"TYPE_CHART_PATH"`

	// OutboundBuffer bounds the per-connection queue of pending server events.
	OutboundBuffer int    `env:"WS_OUTBOUND_BUFFER" envDefault:"32"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
}

// HistorianConfig holds the settings of the action history consumer.
type HistorianConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	HistorianQueue string `env:"HISTORIAN_QUEUE_NAME" envDefault:"battle_actions"`

	BatchSize         int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushInterval     time.Duration `env:"HISTORIAN_FLUSH_INTERVAL" envDefault:"500ms"`
	InactivityTimeout time.Duration `env:"HISTORIAN_INACTIVITY_TIMEOUT" envDefault:"10m"`
	SweepInterval     time.Duration `env:"HISTORIAN_SWEEP_INTERVAL" envDefault:"1m"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the server configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must be set"))
	}
	if c.TurnTimeout < 0 {
		errs = append(errs, fmt.Errorf("TURN_TIMEOUT must not be negative, got %s", c.TurnTimeout))
	}
	if c.OutboundBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_OUTBOUND_BUFFER must be positive, got %d", c.OutboundBuffer))
	}
	return errors.Join(errs...)
}

// LoadHistorian parses the historian configuration from the environment.
func LoadHistorian() (HistorianConfig, error) {
	var cfg HistorianConfig
	if err := env.Parse(&cfg); err != nil {
		return HistorianConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return HistorianConfig{}, errors.New("DATABASE_URL must be set")
	}
	if cfg.BatchSize <= 0 {
		return HistorianConfig{}, fmt.Errorf("HISTORIAN_BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.FlushInterval <= 0 || cfg.SweepInterval <= 0 {
		return HistorianConfig{}, errors.New("historian intervals must be positive")
	}
	return cfg, nil
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("unknown LOG_LEVEL %q, using info", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
