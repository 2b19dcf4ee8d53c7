// internal/config/validation.go - Configuration validation
package config

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/valpere/rastertiles/pkg/grid"
)

// Validate validates the configuration structure and values
func Validate(config *Config) error {
	if err := validateTileset(&config.Tileset); err != nil {
		return fmt.Errorf("tileset configuration invalid: %w", err)
	}

	if err := validateRender(&config.Render); err != nil {
		return fmt.Errorf("render configuration invalid: %w", err)
	}

	if err := validateScheduler(&config.Scheduler); err != nil {
		return fmt.Errorf("scheduler configuration invalid: %w", err)
	}

	if err := validateSource(&config.Source); err != nil {
		return fmt.Errorf("source configuration invalid: %w", err)
	}

	if err := validateTarget(&config.Target); err != nil {
		return fmt.Errorf("target configuration invalid: %w", err)
	}

	if err := validateOutput(&config.Output); err != nil {
		return fmt.Errorf("output configuration invalid: %w", err)
	}

	if err := validateLogging(&config.Logging); err != nil {
		return fmt.Errorf("logging configuration invalid: %w", err)
	}

	return nil
}

// validateTileset validates pyramid shape parameters
func validateTileset(config *TilesetConfig) error {
	if config.Levels <= 0 {
		return fmt.Errorf("levels must be positive")
	}

	if config.Levels > 24 {
		return fmt.Errorf("levels must not exceed 24")
	}

	if config.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive")
	}

	if config.TileSize > 8192 {
		return fmt.Errorf("tile_size must not exceed 8192")
	}

	return nil
}

// validateRender validates rendering parameters
func validateRender(config *RenderConfig) error {
	if err := ValidateThreshold(config.LevelChangeThreshold); err != nil {
		return err
	}

	if config.Brightness < 0 {
		return fmt.Errorf("brightness must be non-negative")
	}

	if config.Contrast < 0 {
		return fmt.Errorf("contrast must be non-negative")
	}

	if config.ValueMax < config.ValueMin {
		return fmt.Errorf("value_max must not be below value_min")
	}

	return nil
}

// ValidateThreshold checks a level change threshold
func ValidateThreshold(threshold float64) error {
	if !(threshold > 0) {
		return fmt.Errorf("level_change_threshold must be positive, got %g", threshold)
	}
	return nil
}

// validateScheduler validates worker pool parameters
func validateScheduler(config *SchedulerConfig) error {
	if config.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}

	if config.Workers > 1000 {
		return fmt.Errorf("workers must not exceed 1000")
	}

	if config.JobTimeout < 0 {
		return fmt.Errorf("job_timeout must be non-negative")
	}

	return nil
}

// validateSource validates the data source parameters for the selected type
func validateSource(config *SourceConfig) error {
	switch strings.ToLower(config.Type) {
	case "memory":
		return validateSynthetic(&config.Synthetic)
	case "file":
		if config.Path == "" {
			return fmt.Errorf("path is required for file sources")
		}
	case "s3":
		if config.Path == "" {
			return fmt.Errorf("path is required as the s3 working directory")
		}
		if config.S3.Endpoint == "" {
			return fmt.Errorf("s3.endpoint is required")
		}
		if config.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required")
		}
	default:
		return fmt.Errorf("invalid source type: %s, must be one of %v", config.Type, []string{"memory", "file", "s3"})
	}

	return nil
}

// validateSynthetic validates the generated raster description
func validateSynthetic(config *SyntheticConfig) error {
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("synthetic raster size must be positive")
	}

	if _, err := grid.LookupCRS(config.CRS); err != nil {
		return err
	}

	return validateEnvelope(config.Envelope)
}

// validateTarget validates the display grid
func validateTarget(config *TargetConfig) error {
	if _, err := grid.LookupCRS(config.CRS); err != nil {
		return err
	}

	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("target size must be positive")
	}

	return validateEnvelope(config.Envelope)
}

func validateEnvelope(b orb.Bound) error {
	if !(b.Max[0] > b.Min[0]) || !(b.Max[1] > b.Min[1]) {
		return fmt.Errorf("envelope %v is empty", b)
	}
	return nil
}

// validateOutput validates output configuration parameters
func validateOutput(config *OutputConfig) error {
	validFormats := []string{"png", "geojson", "json"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid format: %s, must be one of %v", config.Format, validFormats)
	}

	return nil
}

// validateLogging validates logging configuration parameters
func validateLogging(config *LoggingConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, config.Level) {
		return fmt.Errorf("invalid log level: %s, must be one of %v", config.Level, validLevels)
	}

	validFormats := []string{"text", "json"}
	if !contains(validFormats, config.Format) {
		return fmt.Errorf("invalid log format: %s, must be one of %v", config.Format, validFormats)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	if !contains(validOutputs, config.Output) {
		return fmt.Errorf("invalid log output: %s, must be one of %v", config.Output, validOutputs)
	}

	if strings.EqualFold(config.Output, "file") && config.File == "" {
		return fmt.Errorf("file is required when logging to a file")
	}

	return nil
}

// contains checks if a string slice contains a specific string (case-insensitive)
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
