package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// applyEnv overwrites every field whose env tag names a set variable.
// Slices take a comma-separated list.
func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}
	return nil
}
