package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries everything the discovery daemon needs. Environment
// variables provide the defaults; command-line flags override them.
type Config struct {
	EsURL   string `env:"ES_URL"`
	EsIndex string `env:"ES_INDEX" envDefault:"jaeger-span-*"`
	EsCA    string `env:"ES_CA"`
	EsCert  string `env:"ES_CERT"`
	EsKey   string `env:"ES_KEY"`

	GraphURL string `env:"RG_URL"`

	StateDir string `env:"STATE_DIR"`

	PollPeriod      time.Duration `env:"POLL_PERIOD" envDefault:"60s"`
	SkewWindow      time.Duration `env:"SKEW_WINDOW" envDefault:"5m"`
	StalenessWindow time.Duration `env:"STALENESS_WINDOW" envDefault:"168h"`
	Lookback        time.Duration `env:"LOOKBACK" envDefault:"168h"`

	PageSize           int  `env:"PAGE_SIZE" envDefault:"1000"`
	InsecureSkipVerify bool `env:"INSECURE_SKIP_VERIFY"`
}

func Load() (Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate reports fatal configuration errors. Called once at startup.
func (c Config) Validate() error {
	if c.EsURL == "" {
		return fmt.Errorf("no trace store url configured (--es-url / ES_URL)")
	}
	if c.GraphURL == "" {
		return fmt.Errorf("no relation graph url configured (--rg-url / RG_URL)")
	}
	if c.StateDir == "" {
		return fmt.Errorf("no state directory configured (--state / STATE_DIR)")
	}
	if c.PollPeriod <= 0 {
		return fmt.Errorf("poll period must be positive, got %s", c.PollPeriod)
	}
	if c.SkewWindow <= 0 {
		return fmt.Errorf("skew window must be positive, got %s", c.SkewWindow)
	}
	if c.StalenessWindow <= 0 {
		return fmt.Errorf("staleness window must be positive, got %s", c.StalenessWindow)
	}
	if c.Lookback <= 0 {
		return fmt.Errorf("lookback window must be positive, got %s", c.Lookback)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	return nil
}
