// Package config provides configuration loading and management for voxelseg.
// It loads YAML files, applies VOXELSEG_* environment overrides and
// provides default values.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"voxelseg/internal/models"
	"voxelseg/pkg/strategy"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Editing defaults applied to new operations
	Engine struct {
		// DefaultPipeline is the strategy used when a stroke names none
		DefaultPipeline string `yaml:"defaultPipeline" env:"VOXELSEG_PIPELINE"`

		// LockedSegments are locked when a session starts
		LockedSegments []uint16 `yaml:"lockedSegments" env:"VOXELSEG_LOCKED_SEGMENTS" envSeparator:","`

		// PreviewSegmentIndex, when non-zero, is used to draw strokes in progress
		PreviewSegmentIndex uint16 `yaml:"previewSegmentIndex" env:"VOXELSEG_PREVIEW_SEGMENT"`
	} `yaml:"engine"`

	// Brush geometry
	Brush struct {
		// Radius is the brush radius in voxels
		Radius float64 `yaml:"radius" env:"VOXELSEG_BRUSH_RADIUS"`

		// Shape is "sphere" or "circle"
		Shape string `yaml:"shape" env:"VOXELSEG_BRUSH_SHAPE"`
	} `yaml:"brush"`

	// Threshold parameters for threshold pipelines
	Threshold struct {
		Lower              float64 `yaml:"lower" env:"VOXELSEG_THRESHOLD_LOWER"`
		Upper              float64 `yaml:"upper" env:"VOXELSEG_THRESHOLD_UPPER"`
		Dynamic            bool    `yaml:"dynamic" env:"VOXELSEG_THRESHOLD_DYNAMIC"`
		Deviations         float64 `yaml:"deviations" env:"VOXELSEG_THRESHOLD_DEVIATIONS"`
		NeighborhoodRadius int     `yaml:"neighborhoodRadius" env:"VOXELSEG_THRESHOLD_RADIUS"`
	} `yaml:"threshold"`

	// Island removal parameters
	Island struct {
		MinSize int `yaml:"minSize" env:"VOXELSEG_ISLAND_MIN_SIZE"`
	} `yaml:"island"`

	// Slice interpolation parameters
	Interpolation struct {
		MaxGap int `yaml:"maxGap" env:"VOXELSEG_INTERPOLATION_MAX_GAP"`
	} `yaml:"interpolation"`

	// Logging output
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level" env:"VOXELSEG_LOG_LEVEL"`

		// JSON switches from text to JSON output
		JSON bool `yaml:"json" env:"VOXELSEG_LOG_JSON"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Engine.DefaultPipeline = string(strategy.PipelineFill)

	cfg.Brush.Radius = 3
	cfg.Brush.Shape = "circle"

	cfg.Threshold.Lower = 0
	cfg.Threshold.Upper = 1
	cfg.Threshold.Deviations = 2
	cfg.Threshold.NeighborhoodRadius = 2

	cfg.Island.MinSize = 10
	cfg.Interpolation.MaxGap = 3

	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields whose VOXELSEG_* variable is set.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if _, err := strategy.ParsePipeline(c.Engine.DefaultPipeline); err != nil {
		return fmt.Errorf("engine.defaultPipeline: %w", err)
	}
	switch c.Brush.Shape {
	case "sphere", "circle":
	default:
		return fmt.Errorf("brush.shape: %q must be sphere or circle", c.Brush.Shape)
	}
	if c.Brush.Radius < 0 {
		return fmt.Errorf("brush.radius: must not be negative")
	}
	if !c.Threshold.Dynamic && c.Threshold.Lower > c.Threshold.Upper {
		return fmt.Errorf("threshold: lower %g exceeds upper %g", c.Threshold.Lower, c.Threshold.Upper)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// Pipeline returns the default pipeline.
func (c *Config) Pipeline() strategy.Pipeline {
	p, err := strategy.ParsePipeline(c.Engine.DefaultPipeline)
	if err != nil {
		return strategy.PipelineFill
	}
	return p
}

// Locked returns the segments to lock at session start.
func (c *Config) Locked() []models.SegmentIndex {
	out := make([]models.SegmentIndex, len(c.Engine.LockedSegments))
	for i, s := range c.Engine.LockedSegments {
		out[i] = models.SegmentIndex(s)
	}
	return out
}

// PreviewSegment returns the preview segment index, or nil when unset.
func (c *Config) PreviewSegment() *models.SegmentIndex {
	if c.Engine.PreviewSegmentIndex == 0 {
		return nil
	}
	s := models.SegmentIndex(c.Engine.PreviewSegmentIndex)
	return &s
}

// ThresholdConfig converts the threshold section for the strategy steps.
func (c *Config) ThresholdConfig() strategy.ThresholdConfig {
	return strategy.ThresholdConfig{
		Lower:              c.Threshold.Lower,
		Upper:              c.Threshold.Upper,
		Dynamic:            c.Threshold.Dynamic,
		Deviations:         c.Threshold.Deviations,
		NeighborhoodRadius: c.Threshold.NeighborhoodRadius,
	}
}

// IslandConfig converts the island section.
func (c *Config) IslandConfig() strategy.IslandConfig {
	return strategy.IslandConfig{MinSize: c.Island.MinSize}
}

// InterpolationConfig converts the interpolation section.
func (c *Config) InterpolationConfig() strategy.InterpolationConfig {
	return strategy.InterpolationConfig{MaxGap: c.Interpolation.MaxGap}
}

// NewLogger builds a structured logger writing to w.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging.level: unknown level %q", s)
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
