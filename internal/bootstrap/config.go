package bootstrap

import (
	"fmt"
	"log"
	"time"

	"github.com/koskedk/dwh-identity/internal/config"
)

// validateAllConfiguration validates all configuration settings
func validateAllConfiguration(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logConfigurationWarnings(cfg)
	return nil
}

// logConfigurationWarnings flags development defaults that are unsafe for a
// shared deployment but still allowed outside production
func logConfigurationWarnings(cfg *config.Config) {
	if cfg.IsProduction {
		return
	}
	if cfg.SigningKeyFile == "" {
		log.Println("Warning: SIGNING_KEY_FILE not set, tokens are signed with an ephemeral key")
	}
	if cfg.KeyRotationInterval > 0 && cfg.KeyRotationInterval < cfg.KeyRetireWindow {
		log.Printf(
			"Warning: KEY_ROTATION_INTERVAL (%v) is shorter than KEY_RETIRE_WINDOW (%v)",
			cfg.KeyRotationInterval, cfg.KeyRetireWindow,
		)
	}
}

// shutdownTimeout bounds each shutdown job
func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg == nil || cfg.ServerShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return cfg.ServerShutdownTimeout
}
