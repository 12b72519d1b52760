// Package config provides configuration management for the window annotator.
// Values come from an optional TOML file, then environment variables, then
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultPort          = 8000
	DefaultLogLevel      = "info"
	DefaultDataDir       = "data"
	DefaultWindowSeconds = 300
	DefaultFFmpeg        = "ffmpeg"
	DefaultFFprobe       = "ffprobe"
	DefaultS3Prefix      = "snapshots/"

	DefaultProbeTimeout     = 60       // seconds
	DefaultTranscodeTimeout = 2 * 3600 // seconds
	DefaultCapabilityTTL    = 5 * 60   // seconds

	// Environment variable names
	EnvConfigFile    = "ANNOTATOR_CONFIG"
	EnvPort          = "ANNOTATOR_PORT"
	EnvLegacyPort    = "PORT"
	EnvLogLevel      = "ANNOTATOR_LOG_LEVEL"
	EnvLogFile       = "ANNOTATOR_LOG_FILE"
	EnvDataDir       = "ANNOTATOR_DATA_DIR"
	EnvWebDir        = "ANNOTATOR_WEB_DIR"
	EnvTimezone      = "ANNOTATOR_TIMEZONE"
	EnvWindowSeconds = "ANNOTATOR_WINDOW_SECONDS"
	EnvAuthToken     = "ANNOTATOR_AUTH_TOKEN"
	EnvFFmpeg        = "ANNOTATOR_FFMPEG"
	EnvFFprobe       = "ANNOTATOR_FFPROBE"
	EnvNATSURL       = "ANNOTATOR_NATS_URL"
	EnvS3Bucket      = "ANNOTATOR_S3_BUCKET"
	EnvS3Region      = "ANNOTATOR_S3_REGION"
	EnvS3Endpoint    = "ANNOTATOR_S3_ENDPOINT"
	EnvS3Prefix      = "ANNOTATOR_S3_PREFIX"
	EnvWatchDir      = "ANNOTATOR_WATCH_DIR"
	EnvWatchVideoID  = "ANNOTATOR_WATCH_VIDEO_ID"

	DBFilename = "annotator.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	LogFile() string
	DataDir() string
	DBPath() string
	TranscodeDir() string
	UploadDir() string
	WebDir() string
	Location() *time.Location
	WindowSeconds() int64
	AuthToken() string
	FFmpegPath() string
	FFprobePath() string
	ProbeTimeout() time.Duration
	TranscodeTimeout() time.Duration
	CapabilityTTL() time.Duration
	NATSURL() string
	S3Bucket() string
	S3Region() string
	S3Endpoint() string
	S3Prefix() string
	WatchDir() string
	WatchVideoID() string
}

// FileConfig is the TOML layout. Zero values mean "not set".
type FileConfig struct {
	Port          int    `toml:"port"`
	LogLevel      string `toml:"log_level"`
	LogFile       string `toml:"log_file"`
	DataDir       string `toml:"data_dir"`
	WebDir        string `toml:"web_dir"`
	Timezone      string `toml:"timezone"`
	WindowSeconds int64  `toml:"window_seconds"`
	AuthToken     string `toml:"auth_token"`

	Media struct {
		FFmpeg                  string `toml:"ffmpeg"`
		FFprobe                 string `toml:"ffprobe"`
		ProbeTimeoutSeconds     int    `toml:"probe_timeout_seconds"`
		TranscodeTimeoutSeconds int    `toml:"transcode_timeout_seconds"`
	} `toml:"media"`

	NATS struct {
		URL string `toml:"url"`
	} `toml:"nats"`

	S3 struct {
		Bucket   string `toml:"bucket"`
		Region   string `toml:"region"`
		Endpoint string `toml:"endpoint"`
		Prefix   string `toml:"prefix"`
	} `toml:"s3"`

	Watch struct {
		Dir     string `toml:"dir"`
		VideoID string `toml:"video_id"`
	} `toml:"watch"`
}

// EnvConfig holds the resolved configuration.
type EnvConfig struct {
	port          int
	logLevel      string
	logFile       string
	dataDir       string
	webDir        string
	location      *time.Location
	windowSeconds int64
	authToken     string

	ffmpeg           string
	ffprobe          string
	probeTimeout     time.Duration
	transcodeTimeout time.Duration

	natsURL    string
	s3Bucket   string
	s3Region   string
	s3Endpoint string
	s3Prefix   string

	watchDir     string
	watchVideoID string
}

// New creates an EnvConfig from defaults, the optional TOML file named by
// ANNOTATOR_CONFIG, and environment overrides, in that order.
func New() (*EnvConfig, error) {
	var fc FileConfig
	if path := os.Getenv(EnvConfigFile); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		fc = loaded
	}
	return FromFile(fc)
}

// LoadFile decodes a TOML config file.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return fc, nil
}

// FromFile applies fc over the defaults and then environment overrides.
func FromFile(fc FileConfig) (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:             DefaultPort,
		logLevel:         DefaultLogLevel,
		dataDir:          DefaultDataDir,
		location:         time.Local,
		windowSeconds:    DefaultWindowSeconds,
		ffmpeg:           DefaultFFmpeg,
		ffprobe:          DefaultFFprobe,
		probeTimeout:     DefaultProbeTimeout * time.Second,
		transcodeTimeout: DefaultTranscodeTimeout * time.Second,
		s3Prefix:         DefaultS3Prefix,
	}

	if fc.Port != 0 {
		cfg.port = fc.Port
	}
	setString(&cfg.logLevel, fc.LogLevel)
	setString(&cfg.logFile, fc.LogFile)
	setString(&cfg.dataDir, fc.DataDir)
	setString(&cfg.webDir, fc.WebDir)
	setString(&cfg.authToken, fc.AuthToken)
	setString(&cfg.ffmpeg, fc.Media.FFmpeg)
	setString(&cfg.ffprobe, fc.Media.FFprobe)
	setString(&cfg.natsURL, fc.NATS.URL)
	setString(&cfg.s3Bucket, fc.S3.Bucket)
	setString(&cfg.s3Region, fc.S3.Region)
	setString(&cfg.s3Endpoint, fc.S3.Endpoint)
	setString(&cfg.s3Prefix, fc.S3.Prefix)
	setString(&cfg.watchDir, fc.Watch.Dir)
	setString(&cfg.watchVideoID, fc.Watch.VideoID)
	if fc.WindowSeconds != 0 {
		cfg.windowSeconds = fc.WindowSeconds
	}
	if fc.Media.ProbeTimeoutSeconds > 0 {
		cfg.probeTimeout = time.Duration(fc.Media.ProbeTimeoutSeconds) * time.Second
	}
	if fc.Media.TranscodeTimeoutSeconds > 0 {
		cfg.transcodeTimeout = time.Duration(fc.Media.TranscodeTimeoutSeconds) * time.Second
	}
	timezone := fc.Timezone

	// PORT is honoured for compatibility; ANNOTATOR_PORT wins.
	for _, name := range []string{EnvLegacyPort, EnvPort} {
		p := os.Getenv(name)
		if p == "" {
			continue
		}
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		cfg.port = port
	}
	if cfg.port < 1 || cfg.port > 65535 {
		return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", cfg.port)
	}

	setString(&cfg.logLevel, os.Getenv(EnvLogLevel))
	setString(&cfg.logFile, os.Getenv(EnvLogFile))
	setString(&cfg.dataDir, os.Getenv(EnvDataDir))
	setString(&cfg.webDir, os.Getenv(EnvWebDir))
	setString(&cfg.authToken, os.Getenv(EnvAuthToken))
	setString(&cfg.ffmpeg, os.Getenv(EnvFFmpeg))
	setString(&cfg.ffprobe, os.Getenv(EnvFFprobe))
	setString(&cfg.natsURL, os.Getenv(EnvNATSURL))
	setString(&cfg.s3Bucket, os.Getenv(EnvS3Bucket))
	setString(&cfg.s3Region, os.Getenv(EnvS3Region))
	setString(&cfg.s3Endpoint, os.Getenv(EnvS3Endpoint))
	setString(&cfg.s3Prefix, os.Getenv(EnvS3Prefix))
	setString(&cfg.watchDir, os.Getenv(EnvWatchDir))
	setString(&cfg.watchVideoID, os.Getenv(EnvWatchVideoID))
	setString(&timezone, os.Getenv(EnvTimezone))

	if ws := os.Getenv(EnvWindowSeconds); ws != "" {
		n, err := strconv.ParseInt(ws, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvWindowSeconds, err)
		}
		cfg.windowSeconds = n
	}
	if cfg.windowSeconds <= 0 {
		return nil, fmt.Errorf("invalid window seconds %d: must be positive", cfg.windowSeconds)
	}

	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		cfg.location = loc
	}

	if cfg.watchDir != "" && strings.TrimSpace(cfg.watchVideoID) == "" {
		return nil, fmt.Errorf("%s requires %s", EnvWatchDir, EnvWatchVideoID)
	}

	return cfg, nil
}

func (c *EnvConfig) Port() int { return c.port }

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string { return c.logLevel }

// LogFile returns the rotating log file path, empty for stdout only.
func (c *EnvConfig) LogFile() string { return c.logFile }

func (c *EnvConfig) DataDir() string { return c.dataDir }

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string { return filepath.Join(c.dataDir, DBFilename) }

// TranscodeDir holds transcoded outputs served under /transcoded/.
func (c *EnvConfig) TranscodeDir() string { return filepath.Join(c.dataDir, "transcoded") }

// UploadDir holds temporary uploaded inputs.
func (c *EnvConfig) UploadDir() string { return filepath.Join(c.dataDir, "uploads") }

// WebDir returns the static web app directory, empty when disabled.
func (c *EnvConfig) WebDir() string { return c.webDir }

// Location is used to interpret filename clocks and render export times.
func (c *EnvConfig) Location() *time.Location { return c.location }

func (c *EnvConfig) WindowSeconds() int64 { return c.windowSeconds }

// AuthToken returns the bearer token; empty disables auth.
func (c *EnvConfig) AuthToken() string { return c.authToken }

func (c *EnvConfig) FFmpegPath() string  { return c.ffmpeg }
func (c *EnvConfig) FFprobePath() string { return c.ffprobe }

func (c *EnvConfig) ProbeTimeout() time.Duration     { return c.probeTimeout }
func (c *EnvConfig) TranscodeTimeout() time.Duration { return c.transcodeTimeout }

func (c *EnvConfig) CapabilityTTL() time.Duration {
	return time.Duration(DefaultCapabilityTTL) * time.Second
}

func (c *EnvConfig) NATSURL() string    { return c.natsURL }
func (c *EnvConfig) S3Bucket() string   { return c.s3Bucket }
func (c *EnvConfig) S3Region() string   { return c.s3Region }
func (c *EnvConfig) S3Endpoint() string { return c.s3Endpoint }
func (c *EnvConfig) S3Prefix() string   { return c.s3Prefix }

// WatchDir is scanned for new media; empty disables the watcher.
func (c *EnvConfig) WatchDir() string     { return c.watchDir }
func (c *EnvConfig) WatchVideoID() string { return c.watchVideoID }

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
