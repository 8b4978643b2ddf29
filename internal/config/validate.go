package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateHomeAssistant(); err != nil {
		return err
	}
	if err := c.validateScenes(); err != nil {
		return err
	}
	if err := c.validateJournal(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.ScenesFile != filepath.Base(c.Paths.ScenesFile) {
		return fmt.Errorf("paths.scenes_file must be a file name inside paths.config_dir, got %q", c.Paths.ScenesFile)
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateHomeAssistant() error {
	if c.HomeAssistant.URL == "" {
		return nil
	}
	parsed, err := url.Parse(c.HomeAssistant.URL)
	if err != nil {
		return fmt.Errorf("home_assistant.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("home_assistant.url must use http or https, got %q", c.HomeAssistant.URL)
	}
	return nil
}

func (c *Config) validateScenes() error {
	for _, name := range c.Scenes.ExcludeAttributes {
		if strings.ContainsAny(name, " \t\n") {
			return fmt.Errorf("scenes.exclude_attributes: invalid attribute name %q", name)
		}
	}
	return nil
}

func (c *Config) validateJournal() error {
	if c.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
