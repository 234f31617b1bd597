package config

import "fmt"

// LoggingConfig controls the per-category log files under <data_dir>/logs.
// Nothing is written unless DebugMode is set.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug | info | warn | error
	Format     string          `yaml:"format"`     // text | json
	DebugMode  bool            `yaml:"debug_mode"` // master switch for file logging
	Categories map[string]bool `yaml:"categories"` // e.g. {capture: false}
}

// IsCategoryEnabled reports whether category writes a log file. In debug
// mode a category is on unless listed as false.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	on, listed := c.Categories[category]
	return !listed || on
}

// JSONFormat reports whether log files use the JSON encoder.
func (c *LoggingConfig) JSONFormat() bool {
	return c.Format == "json"
}

func (c *LoggingConfig) validate() error {
	switch c.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Level)
	}
	switch c.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Format)
	}
	return nil
}
