package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`
	WindowTitle  string `yaml:"window_title"`

	GridSize [3]uint32 `yaml:"grid_size"`

	SphereCount    int     `yaml:"sphere_count"`
	SphereDiameter uint32  `yaml:"sphere_diameter"`
	SphereSpeed    float64 `yaml:"sphere_speed"`

	// Optional MagicaVoxel model stamped into the stage at startup.
	VoxFile string `yaml:"vox_file"`

	Debug bool `yaml:"debug"`
}

func defaultConfig() Config {
	return Config{
		WindowWidth:    1280,
		WindowHeight:   720,
		WindowTitle:    "voxviewer",
		GridSize:       [3]uint32{64, 64, 32},
		SphereCount:    3,
		SphereDiameter: 12,
		SphereSpeed:    18.0,
	}
}

// LoadConfig returns the defaults, overlaid with the YAML file at path if
// path is non-empty.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		return fmt.Errorf("window size %dx%d must be positive", c.WindowWidth, c.WindowHeight)
	}
	for axis, dim := range c.GridSize {
		if dim == 0 {
			return fmt.Errorf("grid size axis %d must be positive", axis)
		}
	}
	if c.SphereCount < 0 {
		return fmt.Errorf("sphere count %d must not be negative", c.SphereCount)
	}
	if c.SphereCount > 0 && c.SphereDiameter == 0 {
		return fmt.Errorf("sphere diameter must be positive when spheres are enabled")
	}
	return nil
}
