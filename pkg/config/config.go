// Package config loads meshdiff settings from a TOML file layered over
// built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/chazu/meshdiff/pkg/backend"
	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/derive"
)

// Config is the full settings tree.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Palette PaletteConfig `toml:"palette"`
	Match   MatchConfig   `toml:"match"`
	Align   AlignConfig   `toml:"align"`
	Measure MeasureConfig `toml:"measure"`
	Watch   WatchConfig   `toml:"watch"`
	Script  ScriptConfig  `toml:"script"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// PaletteConfig holds colors as "#rrggbb" strings.
type PaletteConfig struct {
	BaseA            string  `toml:"base_a"`
	BaseB            string  `toml:"base_b"`
	Match            string  `toml:"match"`
	NonMatchA        string  `toml:"non_match_a"`
	NonMatchB        string  `toml:"non_match_b"`
	MatchOnly        string  `toml:"match_only"`
	BaseOpacity      float64 `toml:"base_opacity"`
	OverlayOpacity   float64 `toml:"overlay_opacity"`
	MatchOnlyOpacity float64 `toml:"match_only_opacity"`
}

type MatchConfig struct {
	DefaultThreshold float64 `toml:"default_threshold"`
}

type AlignConfig struct {
	MaxIterations             int     `toml:"max_iterations"`
	MaxSamples                int     `toml:"max_samples"`
	Tolerance                 float64 `toml:"tolerance"`
	MaxCorrespondenceDistance float64 `toml:"max_correspondence_distance"`
}

type MeasureConfig struct {
	SampleLimit int `toml:"sample_limit"`
}

type WatchConfig struct {
	DebounceMS int `toml:"debounce_ms"`
}

type ScriptConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Default returns the built-in settings.
func Default() *Config {
	p := derive.DefaultPalette()
	opts := backend.DefaultOptions()
	return &Config{
		Log: LogConfig{Level: "info"},
		Palette: PaletteConfig{
			BaseA:            p.BaseA.Hex(),
			BaseB:            p.BaseB.Hex(),
			Match:            p.Match.Hex(),
			NonMatchA:        p.NonMatchA.Hex(),
			NonMatchB:        p.NonMatchB.Hex(),
			MatchOnly:        p.MatchOnly.Hex(),
			BaseOpacity:      compare.DefaultOpacity,
			OverlayOpacity:   float64(p.OverlayOpacity),
			MatchOnlyOpacity: float64(p.MatchOnlyOpacity),
		},
		Match: MatchConfig{DefaultThreshold: 0.1},
		Align: AlignConfig{
			MaxIterations:             opts.MaxIterations,
			MaxSamples:                opts.MaxSamples,
			Tolerance:                 opts.Tolerance,
			MaxCorrespondenceDistance: opts.MaxCorrespondence,
		},
		Measure: MeasureConfig{SampleLimit: opts.SampleLimit},
		Watch:   WatchConfig{DebounceMS: 500},
		Script:  ScriptConfig{TimeoutSeconds: 120},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if _, err := c.ToPalette(); err != nil {
		return err
	}
	if o := c.Palette.BaseOpacity; o < 0 || o > 1 {
		return fmt.Errorf("palette.base_opacity %v outside [0,1]", o)
	}
	if t := c.Match.DefaultThreshold; !(t > 0) || math.IsInf(t, 0) {
		return fmt.Errorf("match.default_threshold %v must be positive", t)
	}
	if c.Align.MaxIterations <= 0 {
		return fmt.Errorf("align.max_iterations must be positive")
	}
	if c.Align.MaxSamples < 0 || c.Align.Tolerance < 0 || c.Align.MaxCorrespondenceDistance < 0 {
		return fmt.Errorf("align settings must not be negative")
	}
	if c.Measure.SampleLimit < 0 {
		return fmt.Errorf("measure.sample_limit must not be negative")
	}
	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative")
	}
	if c.Script.TimeoutSeconds <= 0 {
		return fmt.Errorf("script.timeout_seconds must be positive")
	}
	return nil
}

// ToPalette converts the palette section for the derive package.
func (c *Config) ToPalette() (derive.Palette, error) {
	var p derive.Palette
	colors := []struct {
		key string
		hex string
		dst *derive.Color
	}{
		{"base_a", c.Palette.BaseA, &p.BaseA},
		{"base_b", c.Palette.BaseB, &p.BaseB},
		{"match", c.Palette.Match, &p.Match},
		{"non_match_a", c.Palette.NonMatchA, &p.NonMatchA},
		{"non_match_b", c.Palette.NonMatchB, &p.NonMatchB},
		{"match_only", c.Palette.MatchOnly, &p.MatchOnly},
	}
	for _, col := range colors {
		v, err := derive.ParseHex(col.hex)
		if err != nil {
			return derive.Palette{}, fmt.Errorf("palette.%s: %w", col.key, err)
		}
		*col.dst = v
	}
	p.OverlayOpacity = float32(c.Palette.OverlayOpacity)
	p.MatchOnlyOpacity = float32(c.Palette.MatchOnlyOpacity)
	if err := p.Validate(); err != nil {
		return derive.Palette{}, fmt.Errorf("palette: %w", err)
	}
	return p, nil
}

// BackendOptions converts the align and measure sections for the native backend.
func (c *Config) BackendOptions() backend.Options {
	return backend.Options{
		MaxIterations:     c.Align.MaxIterations,
		MaxSamples:        c.Align.MaxSamples,
		Tolerance:         c.Align.Tolerance,
		MaxCorrespondence: c.Align.MaxCorrespondenceDistance,
		SampleLimit:       c.Measure.SampleLimit,
	}
}

// Debounce is the watch debounce as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// ScriptTimeout is the script run limit as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Script.TimeoutSeconds) * time.Second
}
