package droidcamsrc

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/moralrecordings/gst-droid/internal/quirks"
)

// Defaults applied by Validate
const (
	DefaultSysconfDir          = "/etc"
	DefaultLatencyFrames       = 7
	DefaultFrameIntervalMS     = 33
	DefaultMaxDeliveryFailures = 5
)

// Config holds the element settings that can come from a file
type Config struct {
	CameraDevice string `yaml:"camera_device"` // primary, secondary
	Mode         string `yaml:"mode"`          // image, video
	QuirksFile   string `yaml:"quirks_file"`
	WatchQuirks  bool   `yaml:"watch_quirks"`

	// Latency answer: one frame interval minimum, LatencyFrames intervals maximum
	LatencyFrames          int `yaml:"latency_frames"`
	DefaultFrameIntervalMS int `yaml:"default_frame_interval_ms"`

	// Consecutive failed pushes before a pad gives up. -1 never gives up.
	MaxDeliveryFailures int `yaml:"max_delivery_failures"`

	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads and validates a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("droidcamsrc: failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("droidcamsrc: failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("droidcamsrc: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks cfg and fills in defaults
func Validate(cfg *Config) error {
	if cfg.CameraDevice == "" {
		cfg.CameraDevice = CameraDevicePrimary.String()
	}
	if _, err := ParseCameraDevice(cfg.CameraDevice); err != nil {
		return err
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeImage.String()
	}
	if _, err := ParseMode(cfg.Mode); err != nil {
		return err
	}

	if cfg.QuirksFile == "" {
		cfg.QuirksFile = quirks.DefaultPath(DefaultSysconfDir)
	}

	if cfg.LatencyFrames < 0 {
		return fmt.Errorf("latency_frames must be positive, got %d", cfg.LatencyFrames)
	}
	if cfg.LatencyFrames == 0 {
		cfg.LatencyFrames = DefaultLatencyFrames
	}

	if cfg.DefaultFrameIntervalMS < 0 {
		return fmt.Errorf("default_frame_interval_ms must be positive, got %d", cfg.DefaultFrameIntervalMS)
	}
	if cfg.DefaultFrameIntervalMS == 0 {
		cfg.DefaultFrameIntervalMS = DefaultFrameIntervalMS
	}

	switch {
	case cfg.MaxDeliveryFailures == 0:
		cfg.MaxDeliveryFailures = DefaultMaxDeliveryFailures
	case cfg.MaxDeliveryFailures < -1:
		return fmt.Errorf("max_delivery_failures must be -1 or positive, got %d", cfg.MaxDeliveryFailures)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return nil
}

func (c *Config) frameInterval() time.Duration {
	return time.Duration(c.DefaultFrameIntervalMS) * time.Millisecond
}

func (c *Config) maxDeliveryFailures() int {
	if c.MaxDeliveryFailures < 0 {
		return 0
	}
	return c.MaxDeliveryFailures
}
