package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rfoxkendo/mikumarimaker/internal/orderer"
	"github.com/rfoxkendo/mikumarimaker/internal/pipeline"
	"github.com/rfoxkendo/mikumarimaker/internal/timebase"
)

// DefaultConfigPath is the path to the canonical converter defaults file.
const DefaultConfigPath = "config/defenestrator.defaults.json"

// Built-in defaults used when a field is absent.
const (
	DefaultCoincidenceWindow = 1000
	DefaultFrameDuration     = "524.288µs"
)

// Config is the converter configuration. Every field is optional; the Get*
// methods supply defaults for fields left out of the file.
type Config struct {
	CoincidenceWindowTicks *uint64 `json:"coincidence_window_ticks,omitempty"`
	// CoincidenceWindow is the window as a duration string like "1µs",
	// converted with the timebase. It excludes coincidence_window_ticks.
	CoincidenceWindow *string `json:"coincidence_window,omitempty"`
	SourceID               *uint32 `json:"source_id,omitempty"`
	PreserveSourceID       *bool   `json:"preserve_source_id,omitempty"`

	// Orderer params
	Channels      *int    `json:"channels,omitempty"`
	MergeStrategy *string `json:"merge_strategy,omitempty"` // "kway" or "sort"
	SkipBadFrames *bool   `json:"skip_bad_frames,omitempty"`

	// Timebase params
	TickDurationNs *float64 `json:"tick_duration_ns,omitempty"`
	FrameDuration  *string  `json:"frame_duration,omitempty"` // duration string like "524.288µs"

	// Raw capture params
	UDPPort *uint16 `json:"udp_port,omitempty"`

	// RunLog is the session catalogue database; empty disables it.
	RunLog *string `json:"run_log,omitempty"`
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Channels != nil {
		if *c.Channels < 1 || *c.Channels > 32768 {
			return fmt.Errorf("channels must be between 1 and 32768, got %d", *c.Channels)
		}
	}

	if c.MergeStrategy != nil {
		switch orderer.Strategy(*c.MergeStrategy) {
		case orderer.KWay, orderer.Sort:
		default:
			return fmt.Errorf("merge_strategy must be %q or %q, got %q", orderer.KWay, orderer.Sort, *c.MergeStrategy)
		}
	}

	if c.CoincidenceWindow != nil {
		if c.CoincidenceWindowTicks != nil {
			return fmt.Errorf("coincidence_window and coincidence_window_ticks are mutually exclusive")
		}
		d, err := time.ParseDuration(*c.CoincidenceWindow)
		if err != nil {
			return fmt.Errorf("invalid coincidence_window '%s': %w", *c.CoincidenceWindow, err)
		}
		if d < 0 {
			return fmt.Errorf("coincidence_window must not be negative, got %v", d)
		}
	}

	if c.FrameDuration != nil && *c.FrameDuration != "" {
		if _, err := time.ParseDuration(*c.FrameDuration); err != nil {
			return fmt.Errorf("invalid frame_duration '%s': %w", *c.FrameDuration, err)
		}
	}

	if _, err := c.Timebase(); err != nil {
		return err
	}
	return nil
}

// GetCoincidenceWindowTicks returns the coincidence_window_ticks value or the default.
func (c *Config) GetCoincidenceWindowTicks() uint64 {
	if c.CoincidenceWindowTicks == nil {
		return DefaultCoincidenceWindow
	}
	return *c.CoincidenceWindowTicks
}

// GetSourceID returns the source_id value or the default.
func (c *Config) GetSourceID() uint32 {
	if c.SourceID == nil {
		return 0
	}
	return *c.SourceID
}

// GetPreserveSourceID returns the preserve_source_id value or the default.
func (c *Config) GetPreserveSourceID() bool {
	if c.PreserveSourceID == nil {
		return false
	}
	return *c.PreserveSourceID
}

// GetChannels returns the channels value or the default.
func (c *Config) GetChannels() int {
	if c.Channels == nil {
		return orderer.DefaultChannels
	}
	return *c.Channels
}

// GetMergeStrategy returns the merge_strategy value or the default.
func (c *Config) GetMergeStrategy() orderer.Strategy {
	if c.MergeStrategy == nil || *c.MergeStrategy == "" {
		return orderer.KWay
	}
	return orderer.Strategy(*c.MergeStrategy)
}

// GetSkipBadFrames returns the skip_bad_frames value or the default.
func (c *Config) GetSkipBadFrames() bool {
	if c.SkipBadFrames == nil {
		return false
	}
	return *c.SkipBadFrames
}

// GetTickDurationNs returns the tick_duration_ns value or the default.
func (c *Config) GetTickDurationNs() float64 {
	if c.TickDurationNs == nil {
		return timebase.DefaultTickNs
	}
	return *c.TickDurationNs
}

// GetFrameDuration parses and returns the FrameDuration as a time.Duration.
func (c *Config) GetFrameDuration() time.Duration {
	if c.FrameDuration == nil || *c.FrameDuration == "" {
		return timebase.DefaultFrame
	}
	d, err := time.ParseDuration(*c.FrameDuration)
	if err != nil {
		return timebase.DefaultFrame // default on parse error
	}
	return d
}

// GetUDPPort returns the udp_port value or the default (0, any port).
func (c *Config) GetUDPPort() uint16 {
	if c.UDPPort == nil {
		return 0
	}
	return *c.UDPPort
}

// GetRunLog returns the run_log value or the default (disabled).
func (c *Config) GetRunLog() string {
	if c.RunLog == nil {
		return ""
	}
	return *c.RunLog
}

// WindowTicks returns the coincidence window in ticks of tb, from
// coincidence_window when given and coincidence_window_ticks otherwise.
func (c *Config) WindowTicks(tb timebase.Timebase) uint64 {
	if c.CoincidenceWindow == nil {
		return c.GetCoincidenceWindowTicks()
	}
	d, err := time.ParseDuration(*c.CoincidenceWindow)
	if err != nil {
		return c.GetCoincidenceWindowTicks()
	}
	return tb.Ticks(d)
}

// Timebase builds the timebase described by the tick and frame durations.
func (c *Config) Timebase() (timebase.Timebase, error) {
	return timebase.New(c.GetTickDurationNs(), c.GetFrameDuration())
}

// Pipeline returns the converter settings.
func (c *Config) Pipeline() (pipeline.Config, error) {
	tb, err := c.Timebase()
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		CoincidenceWindow: c.WindowTicks(tb),
		SourceID:          c.GetSourceID(),
		Channels:          c.GetChannels(),
		Strategy:          c.GetMergeStrategy(),
		Timebase:          tb,
		PreserveSourceID:  c.GetPreserveSourceID(),
		SkipBadFrames:     c.GetSkipBadFrames(),
	}, nil
}
