// Package config loads controller configuration from command-line flags
// and environment variables, flags taking precedence. Environment
// variables use the KUBESCALER_ prefix with underscores, e.g.
// KUBESCALER_MAX_BACKUPS_TO_RETAIN. The bare MAX_BACKUPS_TO_RETAIN
// variable is honored too, for compatibility with earlier deployments.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultMaxBackupsToRetain = 5
	DefaultReconcileInterval  = time.Minute
	DefaultMetricsBindAddress = ":8080"
)

// Config holds the tunables fixed at process start.
type Config struct {
	// MaxBackupsToRetain bounds snapshots kept per resource. Zero or
	// negative disables retention pruning.
	MaxBackupsToRetain int

	// ReconcileInterval is the pause between reconciliation sweeps.
	// Schedules match a single minute, so intervals above 60s can miss
	// firing windows.
	ReconcileInterval time.Duration

	// MetricsBindAddress is where /metrics and /healthz are served.
	MetricsBindAddress string
}

// RegisterFlags declares the configuration flags on the given flag set.
// Call before Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("max-backups-to-retain", DefaultMaxBackupsToRetain,
		"Maximum snapshots kept per resource; 0 or negative disables pruning.")
	fs.Duration("reconcile-interval", DefaultReconcileInterval,
		"Pause between reconciliation sweeps.")
	fs.String("metrics-bind-address", DefaultMetricsBindAddress,
		"Address to serve Prometheus metrics and health probes on.")
}

// Load resolves the configuration from the (already parsed) flag set and
// the environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	v.SetEnvPrefix("KUBESCALER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("max-backups-to-retain",
		"KUBESCALER_MAX_BACKUPS_TO_RETAIN", "MAX_BACKUPS_TO_RETAIN"); err != nil {
		return nil, fmt.Errorf("binding environment: %w", err)
	}

	cfg := &Config{
		MaxBackupsToRetain: v.GetInt("max-backups-to-retain"),
		ReconcileInterval:  v.GetDuration("reconcile-interval"),
		MetricsBindAddress: v.GetString("metrics-bind-address"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile-interval must be positive, got %s", c.ReconcileInterval)
	}
	if c.MetricsBindAddress == "" {
		return fmt.Errorf("metrics-bind-address must not be empty")
	}
	return nil
}
