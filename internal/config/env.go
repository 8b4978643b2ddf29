package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds settings that may be supplied through the environment.
// Non-empty values win over the TOML file.
type envOverrides struct {
	HomeAssistantURL   string `env:"HASS_URL"`
	HomeAssistantToken string `env:"HASS_TOKEN"`
	ConfigDir          string `env:"SCENEPLUS_CONFIG_DIR"`
	APIToken           string `env:"SCENEPLUS_API_TOKEN"`
	LogLevel           string `env:"SCENEPLUS_LOG_LEVEL"`
}

func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setIfPresent(&c.HomeAssistant.URL, overrides.HomeAssistantURL)
	setIfPresent(&c.HomeAssistant.Token, overrides.HomeAssistantToken)
	setIfPresent(&c.Paths.ConfigDir, overrides.ConfigDir)
	setIfPresent(&c.Paths.APIToken, overrides.APIToken)
	setIfPresent(&c.Logging.Level, overrides.LogLevel)
	return nil
}

func setIfPresent(dst *string, value string) {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		*dst = trimmed
	}
}
