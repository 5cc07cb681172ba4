package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/alignment.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/align/params endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Detection params
	NozzleThreshold *int     `json:"nozzle_threshold,omitempty"`
	BeamThreshold   *int     `json:"beam_threshold,omitempty"`
	MinNozzleArea   *int     `json:"min_nozzle_area,omitempty"`
	MinBeamArea     *int     `json:"min_beam_area,omitempty"`
	ToleranceUm     *float64 `json:"tolerance_um,omitempty"`
	UnitsPerPixel   *float64 `json:"units_per_pixel,omitempty"`

	// Control loop params
	KpX *float64 `json:"kp_x,omitempty"`
	KiX *float64 `json:"ki_x,omitempty"`
	KdX *float64 `json:"kd_x,omitempty"`
	KpY *float64 `json:"kp_y,omitempty"`
	KiY *float64 `json:"ki_y,omitempty"`
	KdY *float64 `json:"kd_y,omitempty"`

	// Supervision params
	MaxConsecutiveMisses *int    `json:"max_consecutive_misses,omitempty"`
	FrameTimeout         *string `json:"frame_timeout,omitempty"` // duration string like "33ms"
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/align/monitor/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.NozzleThreshold != nil {
		if *c.NozzleThreshold < 0 || *c.NozzleThreshold > 255 {
			return fmt.Errorf("nozzle_threshold must be between 0 and 255, got %d", *c.NozzleThreshold)
		}
	}
	if c.BeamThreshold != nil {
		if *c.BeamThreshold < 0 || *c.BeamThreshold > 255 {
			return fmt.Errorf("beam_threshold must be between 0 and 255, got %d", *c.BeamThreshold)
		}
	}
	if c.MinNozzleArea != nil && *c.MinNozzleArea < 1 {
		return fmt.Errorf("min_nozzle_area must be positive, got %d", *c.MinNozzleArea)
	}
	if c.MinBeamArea != nil && *c.MinBeamArea < 1 {
		return fmt.Errorf("min_beam_area must be positive, got %d", *c.MinBeamArea)
	}
	if c.ToleranceUm != nil && *c.ToleranceUm <= 0 {
		return fmt.Errorf("tolerance_um must be positive, got %f", *c.ToleranceUm)
	}
	if c.UnitsPerPixel != nil && *c.UnitsPerPixel <= 0 {
		return fmt.Errorf("units_per_pixel must be positive, got %f", *c.UnitsPerPixel)
	}
	if c.MaxConsecutiveMisses != nil && *c.MaxConsecutiveMisses < 1 {
		return fmt.Errorf("max_consecutive_misses must be positive, got %d", *c.MaxConsecutiveMisses)
	}

	// Validate FrameTimeout can be parsed if set
	if c.FrameTimeout != nil && *c.FrameTimeout != "" {
		d, err := time.ParseDuration(*c.FrameTimeout)
		if err != nil {
			return fmt.Errorf("invalid frame_timeout '%s': %w", *c.FrameTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("frame_timeout must be positive, got %s", d)
		}
	}

	return nil
}

// GetFrameTimeout parses and returns the FrameTimeout as a time.Duration.
func (c *TuningConfig) GetFrameTimeout() time.Duration {
	if c.FrameTimeout == nil || *c.FrameTimeout == "" {
		return 33 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.FrameTimeout)
	if err != nil {
		return 33 * time.Millisecond // default on parse error
	}
	return d
}

// GetNozzleThreshold returns the nozzle_threshold value or the default.
func (c *TuningConfig) GetNozzleThreshold() int {
	if c.NozzleThreshold == nil {
		return 80
	}
	return *c.NozzleThreshold
}

// GetBeamThreshold returns the beam_threshold value or the default.
func (c *TuningConfig) GetBeamThreshold() int {
	if c.BeamThreshold == nil {
		return 200
	}
	return *c.BeamThreshold
}

// GetMinNozzleArea returns the min_nozzle_area value or the default.
func (c *TuningConfig) GetMinNozzleArea() int {
	if c.MinNozzleArea == nil {
		return 50
	}
	return *c.MinNozzleArea
}

// GetMinBeamArea returns the min_beam_area value or the default.
func (c *TuningConfig) GetMinBeamArea() int {
	if c.MinBeamArea == nil {
		return 9
	}
	return *c.MinBeamArea
}

// GetToleranceUm returns the tolerance_um value or the default.
func (c *TuningConfig) GetToleranceUm() float64 {
	if c.ToleranceUm == nil {
		return 2.0
	}
	return *c.ToleranceUm
}

// GetUnitsPerPixel returns the units_per_pixel value or the default.
func (c *TuningConfig) GetUnitsPerPixel() float64 {
	if c.UnitsPerPixel == nil {
		return 1.0
	}
	return *c.UnitsPerPixel
}

// GetKpX returns the kp_x value or the default.
func (c *TuningConfig) GetKpX() float64 {
	if c.KpX == nil {
		return 0.5
	}
	return *c.KpX
}

// GetKiX returns the ki_x value or the default.
func (c *TuningConfig) GetKiX() float64 {
	if c.KiX == nil {
		return 0.05
	}
	return *c.KiX
}

// GetKdX returns the kd_x value or the default.
func (c *TuningConfig) GetKdX() float64 {
	if c.KdX == nil {
		return 0.02
	}
	return *c.KdX
}

// GetKpY returns the kp_y value or the default.
func (c *TuningConfig) GetKpY() float64 {
	if c.KpY == nil {
		return 0.5
	}
	return *c.KpY
}

// GetKiY returns the ki_y value or the default.
func (c *TuningConfig) GetKiY() float64 {
	if c.KiY == nil {
		return 0.05
	}
	return *c.KiY
}

// GetKdY returns the kd_y value or the default.
func (c *TuningConfig) GetKdY() float64 {
	if c.KdY == nil {
		return 0.02
	}
	return *c.KdY
}

// GetMaxConsecutiveMisses returns the max_consecutive_misses value or the default.
func (c *TuningConfig) GetMaxConsecutiveMisses() int {
	if c.MaxConsecutiveMisses == nil {
		return 5
	}
	return *c.MaxConsecutiveMisses
}
