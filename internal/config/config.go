// Package config loads the optional YAML tuning file of the daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/camera"
	"gopkg.in/yaml.v3"
)

// File is the tuning file. Fields left out keep their defaults.
type File struct {
	Behavior  behavior.Tuning `yaml:"behavior"`
	Camera    Camera          `yaml:"camera"`
	Schedules []Schedule      `yaml:"schedules"`
}

// Camera configures frame capture.
type Camera struct {
	Disabled     bool             `yaml:"disabled"`
	Width        int              `yaml:"width"`
	Height       int              `yaml:"height"`
	FPS          int              `yaml:"fps"`
	Liveness     time.Duration    `yaml:"liveness"`
	Still        *camera.Command  `yaml:"still,omitempty"` // tried before any stream
	StillTimeout time.Duration    `yaml:"still_timeout"`
	Candidates   []camera.Command `yaml:"candidates"` // empty means the built-in list
	BlobStride   int              `yaml:"blob_stride"`
}

// Schedule starts a behavior on a cron expression.
type Schedule struct {
	Cron     string `yaml:"cron"`
	Behavior string `yaml:"behavior"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Behavior: behavior.DefaultTuning(),
		Camera: Camera{
			Width:        640,
			Height:       480,
			FPS:          15,
			Liveness:     camera.DefaultLiveness,
			StillTimeout: 5 * time.Second,
			BlobStride:   4,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at runtime.
func Validate(cfg File) error {
	var errs []error
	c := cfg.Camera
	if c.Width <= 0 || c.Height <= 0 || c.FPS <= 0 {
		errs = append(errs, fmt.Errorf("camera width, height and fps must be positive (got %dx%d@%d)", c.Width, c.Height, c.FPS))
	}
	if c.Still != nil && strings.TrimSpace(c.Still.Name) == "" {
		errs = append(errs, errors.New("camera still command needs a name"))
	}
	for i, cmd := range c.Candidates {
		if strings.TrimSpace(cmd.Name) == "" {
			errs = append(errs, fmt.Errorf("camera candidate %d needs a name", i))
		}
	}
	t := cfg.Behavior
	if t.LiftThreshold >= t.DropThreshold {
		errs = append(errs, fmt.Errorf("behavior lift_threshold (%v) must be below drop_threshold (%v)", t.LiftThreshold, t.DropThreshold))
	}
	if t.PitchMin >= t.PitchMax {
		errs = append(errs, fmt.Errorf("behavior pitch_min (%v) must be below pitch_max (%v)", t.PitchMin, t.PitchMax))
	}
	if t.Tick <= 0 {
		errs = append(errs, errors.New("behavior tick must be positive"))
	}
	for i, s := range cfg.Schedules {
		if strings.TrimSpace(s.Cron) == "" || strings.TrimSpace(s.Behavior) == "" {
			errs = append(errs, fmt.Errorf("schedule %d needs both cron and behavior", i))
		}
	}
	return errors.Join(errs...)
}

// StreamCandidates returns the configured stream commands, or the built-in list.
func (c Camera) StreamCandidates() []camera.Command {
	if len(c.Candidates) > 0 {
		return c.Candidates
	}
	return camera.DefaultCandidates(c.Width, c.Height, c.FPS)
}

// SourceOptions translates the camera section into camera.Source options.
func (c Camera) SourceOptions() []camera.Option {
	if c.Disabled {
		return []camera.Option{camera.WithDisabled()}
	}
	opts := []camera.Option{
		camera.WithLiveness(c.Liveness),
		camera.WithCandidates(c.StreamCandidates()...),
	}
	if c.Still != nil {
		opts = append(opts, camera.WithStill(camera.OpenCommandStill(*c.Still, c.StillTimeout)))
	}
	return opts
}
