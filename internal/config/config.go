package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Advisor struct {
		HistoryCapacity  int           `env:"ADVISOR_HISTORY_CAPACITY" envDefault:"1000"`
		HybridWeight     float64       `env:"ADVISOR_HYBRID_WEIGHT" envDefault:"0.5"`
		TrialBudget      int           `env:"ADVISOR_TRIAL_BUDGET" envDefault:"100"`
		WarmupTrials     int           `env:"ADVISOR_WARMUP_TRIALS" envDefault:"15"`
		DefaultNData     int           `env:"ADVISOR_DEFAULT_N_DATA" envDefault:"50"`
		MinSnapshots     int           `env:"ADVISOR_MIN_SNAPSHOTS" envDefault:"5"`
		RandomSeed       int64         `env:"ADVISOR_RANDOM_SEED" envDefault:"0"`
		PlantFile        string        `env:"ADVISOR_PLANT_FILE"`
		ScheduleInterval time.Duration `env:"ADVISOR_SCHEDULE_INTERVAL" envDefault:"0s"`
		Segment          string        `env:"ADVISOR_SEGMENT" envDefault:"Clinkerization"`
		ResultLogSize    int           `env:"ADVISOR_RESULT_LOG_SIZE" envDefault:"50"`
		Kernel           string        `env:"ADVISOR_KERNEL" envDefault:"matern52"`
		ExplorationXi    float64       `env:"ADVISOR_EI_XI" envDefault:"0.01"`
		GPNoise          float64       `env:"ADVISOR_GP_NOISE" envDefault:"0.0001"`
	}
	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}
	Metrics struct {
		Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
		Path    string `env:"METRICS_PATH" envDefault:"/metrics"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		} else {
			cfg.Logging.Level = "info"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the advisor cannot run with.
func (c *Config) Validate() error {
	a := c.Advisor
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return fmt.Errorf("HTTP_PORT out of range: %d", c.HTTP.Port)
	case a.HistoryCapacity <= 0:
		return fmt.Errorf("ADVISOR_HISTORY_CAPACITY must be positive, got %d", a.HistoryCapacity)
	case a.HybridWeight < 0 || a.HybridWeight > 1:
		return fmt.Errorf("ADVISOR_HYBRID_WEIGHT must be in [0,1], got %g", a.HybridWeight)
	case a.WarmupTrials < 1:
		return fmt.Errorf("ADVISOR_WARMUP_TRIALS must be at least 1, got %d", a.WarmupTrials)
	case a.TrialBudget <= a.WarmupTrials:
		return fmt.Errorf("ADVISOR_TRIAL_BUDGET (%d) must exceed ADVISOR_WARMUP_TRIALS (%d)", a.TrialBudget, a.WarmupTrials)
	case a.DefaultNData <= 0:
		return fmt.Errorf("ADVISOR_DEFAULT_N_DATA must be positive, got %d", a.DefaultNData)
	case a.MinSnapshots < 1:
		return fmt.Errorf("ADVISOR_MIN_SNAPSHOTS must be at least 1, got %d", a.MinSnapshots)
	case a.ScheduleInterval < 0:
		return fmt.Errorf("ADVISOR_SCHEDULE_INTERVAL must not be negative, got %s", a.ScheduleInterval)
	case a.ResultLogSize < 1:
		return fmt.Errorf("ADVISOR_RESULT_LOG_SIZE must be at least 1, got %d", a.ResultLogSize)
	case a.Kernel != "matern52" && a.Kernel != "rbf":
		return fmt.Errorf("ADVISOR_KERNEL must be matern52 or rbf, got %q", a.Kernel)
	case a.ExplorationXi < 0:
		return fmt.Errorf("ADVISOR_EI_XI must not be negative, got %g", a.ExplorationXi)
	case !(a.GPNoise > 0):
		return fmt.Errorf("ADVISOR_GP_NOISE must be positive, got %g", a.GPNoise)
	}
	return nil
}
