// Package config provides configuration management for the Heimdex editor core.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".heimdex-editor"

	// Environment variable names
	EnvPort     = "HEIMDEX_EDITOR_PORT"
	EnvLogLevel = "HEIMDEX_EDITOR_LOG_LEVEL"
	EnvDataDir  = "HEIMDEX_EDITOR_DATA_DIR"
	EnvHeadless = "HEIMDEX_EDITOR_HEADLESS"

	// External tool environment variable names
	EnvFFmpegPath     = "HEIMDEX_EDITOR_FFMPEG"
	EnvFFprobePath    = "HEIMDEX_EDITOR_FFPROBE"
	EnvEncoderTimeout = "HEIMDEX_EDITOR_ENCODER_TIMEOUT_S"
	EnvProbeTimeout   = "HEIMDEX_EDITOR_PROBE_TIMEOUT_S"

	// Output canvas
	EnvCanvasWidth  = "HEIMDEX_EDITOR_CANVAS_WIDTH"
	EnvCanvasHeight = "HEIMDEX_EDITOR_CANVAS_HEIGHT"
	EnvFrameRate    = "HEIMDEX_EDITOR_FPS"

	// Timeline limits
	EnvMinClipMs       = "HEIMDEX_EDITOR_MIN_CLIP_MS"
	EnvImageDurationMs = "HEIMDEX_EDITOR_IMAGE_DURATION_MS"

	// Publishing
	EnvS3Bucket = "HEIMDEX_EDITOR_S3_BUCKET"
	EnvS3Region = "HEIMDEX_EDITOR_S3_REGION"
	EnvS3Prefix = "HEIMDEX_EDITOR_S3_PREFIX"

	// Database filename
	DBFilename = "editor.db"

	// Encoder defaults
	DefaultFFmpegPath            = "ffmpeg"
	DefaultFFprobePath           = "ffprobe"
	DefaultEncoderTimeoutSeconds = 900 // 15 minutes per ffmpeg invocation
	DefaultProbeTimeoutSeconds   = 20

	// Canvas defaults
	DefaultCanvasWidth  = 1920
	DefaultCanvasHeight = 1080
	DefaultFrameRate    = 30.0

	// Timeline defaults
	DefaultMinClipMs          = 100
	DefaultImageDurationMs    = 5000
	DefaultMaxImageDurationMs = 60 * 60 * 1000
	DefaultMinTimelineMs      = 60 * 1000

	// Sync defaults
	DefaultCoarseThresholdMs = 50
	DefaultDriftThresholdMs  = 20
	DefaultVideoDriftMs      = 150
	DefaultSyncIntervalMs    = 100
	DefaultTickIntervalMs    = 16
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	ExportDir() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	EncoderTimeout() time.Duration
	ProbeTimeout() time.Duration
	CanvasWidth() int
	CanvasHeight() int
	FrameRate() float64
	MinClipMs() int64
	ImageDurationMs() int64
	MaxImageDurationMs() int64
	MinTimelineMs() int64
	CoarseThresholdMs() int64
	DriftThresholdMs() int64
	VideoDriftMs() int64
	SyncInterval() time.Duration
	TickInterval() time.Duration
	S3Bucket() string
	S3Region() string
	S3Prefix() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	ffmpegPath     string
	ffprobePath    string
	encoderTimeout int
	probeTimeout   int

	canvasWidth  int
	canvasHeight int
	frameRate    float64

	minClipMs       int64
	imageDurationMs int64

	s3Bucket string
	s3Region string
	s3Prefix string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		ffmpegPath:      DefaultFFmpegPath,
		ffprobePath:     DefaultFFprobePath,
		encoderTimeout:  DefaultEncoderTimeoutSeconds,
		probeTimeout:    DefaultProbeTimeoutSeconds,
		canvasWidth:     DefaultCanvasWidth,
		canvasHeight:    DefaultCanvasHeight,
		frameRate:       DefaultFrameRate,
		minClipMs:       DefaultMinClipMs,
		imageDurationMs: DefaultImageDurationMs,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if p := os.Getenv(EnvFFmpegPath); p != "" {
		cfg.ffmpegPath = p
	}
	if p := os.Getenv(EnvFFprobePath); p != "" {
		cfg.ffprobePath = p
	}

	var err error
	if cfg.encoderTimeout, err = positiveInt(EnvEncoderTimeout, cfg.encoderTimeout); err != nil {
		return nil, err
	}
	if cfg.probeTimeout, err = positiveInt(EnvProbeTimeout, cfg.probeTimeout); err != nil {
		return nil, err
	}
	if cfg.canvasWidth, err = positiveInt(EnvCanvasWidth, cfg.canvasWidth); err != nil {
		return nil, err
	}
	if cfg.canvasHeight, err = positiveInt(EnvCanvasHeight, cfg.canvasHeight); err != nil {
		return nil, err
	}

	if f := os.Getenv(EnvFrameRate); f != "" {
		fps, err := strconv.ParseFloat(f, 64)
		if err != nil || fps <= 0 {
			return nil, fmt.Errorf("invalid %s: must be a positive number", EnvFrameRate)
		}
		cfg.frameRate = fps
	}

	minClip, err := positiveInt(EnvMinClipMs, int(cfg.minClipMs))
	if err != nil {
		return nil, err
	}
	cfg.minClipMs = int64(minClip)

	imageMs, err := positiveInt(EnvImageDurationMs, int(cfg.imageDurationMs))
	if err != nil {
		return nil, err
	}
	cfg.imageDurationMs = int64(imageMs)

	cfg.s3Bucket = os.Getenv(EnvS3Bucket)
	cfg.s3Region = os.Getenv(EnvS3Region)
	cfg.s3Prefix = os.Getenv(EnvS3Prefix)

	return cfg, nil
}

func positiveInt(env string, fallback int) (int, error) {
	v := os.Getenv(env)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", env, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", env)
	}
	return n, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CacheDir returns the cache directory path (thumbnails, export scratch space)
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

// ExportDir returns the default directory for finished exports
func (c *EnvConfig) ExportDir() string {
	return filepath.Join(c.dataDir, "exports")
}

func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) EncoderTimeout() time.Duration {
	return time.Duration(c.encoderTimeout) * time.Second
}

func (c *EnvConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.probeTimeout) * time.Second
}

func (c *EnvConfig) CanvasWidth() int {
	return c.canvasWidth
}

func (c *EnvConfig) CanvasHeight() int {
	return c.canvasHeight
}

func (c *EnvConfig) FrameRate() float64 {
	return c.frameRate
}

func (c *EnvConfig) MinClipMs() int64 {
	return c.minClipMs
}

func (c *EnvConfig) ImageDurationMs() int64 {
	return c.imageDurationMs
}

func (c *EnvConfig) MaxImageDurationMs() int64 {
	return DefaultMaxImageDurationMs
}

func (c *EnvConfig) MinTimelineMs() int64 {
	return DefaultMinTimelineMs
}

func (c *EnvConfig) CoarseThresholdMs() int64 {
	return DefaultCoarseThresholdMs
}

func (c *EnvConfig) DriftThresholdMs() int64 {
	return DefaultDriftThresholdMs
}

func (c *EnvConfig) VideoDriftMs() int64 {
	return DefaultVideoDriftMs
}

func (c *EnvConfig) SyncInterval() time.Duration {
	return time.Duration(DefaultSyncIntervalMs) * time.Millisecond
}

func (c *EnvConfig) TickInterval() time.Duration {
	return time.Duration(DefaultTickIntervalMs) * time.Millisecond
}

// S3Bucket returns the bucket finished exports are published to; empty disables publishing
func (c *EnvConfig) S3Bucket() string {
	return c.s3Bucket
}

func (c *EnvConfig) S3Region() string {
	return c.s3Region
}

func (c *EnvConfig) S3Prefix() string {
	return c.s3Prefix
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
