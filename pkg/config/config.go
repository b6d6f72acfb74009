package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration
type Config struct {
	Display   DisplayConfig   `yaml:"display" json:"display"`
	Recording RecordingConfig `yaml:"recording" json:"recording"`
	Process   ProcessConfig   `yaml:"process" json:"process"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// DisplayConfig holds virtual display configuration
type DisplayConfig struct {
	FirstNumber        int           `yaml:"firstNumber" json:"firstNumber"`
	Max                int           `yaml:"max" json:"max"`
	BasePort           int           `yaml:"basePort" json:"basePort"`
	Width              int           `yaml:"width" json:"width"`
	Height             int           `yaml:"height" json:"height"`
	Depth              int           `yaml:"depth" json:"depth"`
	SettleDelay        time.Duration `yaml:"settleDelay" json:"settleDelay"`
	ReadyTimeout       time.Duration `yaml:"readyTimeout" json:"readyTimeout"`
	FramebufferBinary  string        `yaml:"framebufferBinary" json:"framebufferBinary"`
	ScreenServerBinary string        `yaml:"screenServerBinary" json:"screenServerBinary"`
	WindowManager      string        `yaml:"windowManager" json:"windowManager"`
}

// RecordingConfig holds screen recording configuration
type RecordingConfig struct {
	Root          string        `yaml:"root" json:"root"`
	FPS           int           `yaml:"fps" json:"fps"`
	CRF           int           `yaml:"crf" json:"crf"`
	MaxDuration   time.Duration `yaml:"maxDuration" json:"maxDuration"`
	EncoderBinary string        `yaml:"encoderBinary" json:"encoderBinary"`
}

// ProcessConfig holds supervised-process shutdown configuration
type ProcessConfig struct {
	StopGracePeriod  time.Duration `yaml:"stopGracePeriod" json:"stopGracePeriod"`
	StopPollInterval time.Duration `yaml:"stopPollInterval" json:"stopPollInterval"`
}

// StorageConfig holds object store configuration
type StorageConfig struct {
	Endpoint          string        `yaml:"endpoint" json:"endpoint"`
	AccessKey         string        `yaml:"accessKey" json:"accessKey"`
	SecretKey         string        `yaml:"secretKey" json:"secretKey"`
	Bucket            string        `yaml:"bucket" json:"bucket"`
	Region            string        `yaml:"region" json:"region"`
	UseSSL            bool          `yaml:"useSSL" json:"useSSL"`
	PresignTTL        time.Duration `yaml:"presignTTL" json:"presignTTL"`
	DeleteAfterUpload bool          `yaml:"deleteAfterUpload" json:"deleteAfterUpload"`
	Retention         time.Duration `yaml:"retention" json:"retention"`
	SweepInterval     time.Duration `yaml:"sweepInterval" json:"sweepInterval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// DefaultConfig Default configuration values
var DefaultConfig = Config{
	Display: DisplayConfig{
		FirstNumber:        1,
		Max:                32,
		BasePort:           5900,
		Width:              1024,
		Height:             768,
		Depth:              24,
		SettleDelay:        300 * time.Millisecond,
		ReadyTimeout:       5 * time.Second,
		FramebufferBinary:  "Xvfb",
		ScreenServerBinary: "x11vnc",
		WindowManager:      "fluxbox",
	},
	Recording: RecordingConfig{
		Root:          "/var/lib/screenroom/recordings",
		FPS:           15,
		CRF:           28,
		MaxDuration:   30 * time.Minute,
		EncoderBinary: "ffmpeg",
	},
	Process: ProcessConfig{
		StopGracePeriod:  5 * time.Second,
		StopPollInterval: 100 * time.Millisecond,
	},
	Storage: StorageConfig{
		Endpoint:          "",
		Bucket:            "screenroom-recordings",
		Region:            "us-east-1",
		UseSSL:            true,
		PresignTTL:        1 * time.Hour,
		DeleteAfterUpload: true,
		Retention:         0,
		SweepInterval:     1 * time.Hour,
	},
	Logging: LoggingConfig{
		Level:  "INFO",
		Format: "text",
		Output: "stdout",
	},
}

// LoadConfig loads configuration from multiple sources in order of precedence:
// 1. Environment variables (highest precedence)
// 2. Configuration file
// 3. Default values (lowest precedence)
func LoadConfig() (*Config, string, error) {
	config := DefaultConfig

	path, err := loadFromFile(&config)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config file: %w", err)
	}

	loadFromEnv(&config)

	if e := config.Validate(); e != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, path, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(config *Config) (string, error) {
	configPaths := []string{
		os.Getenv("SCREENROOM_CONFIG_PATH"), // Custom path from environment
		"./config.yaml",                     // Current directory
		"./config/config.yaml",              // Config subdirectory
		"/etc/screenroom/config.yaml",       // System-wide
		"/opt/screenroom/config.yaml",       // Installation directory
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
		}

		return path, nil
	}

	return "built-in defaults (no config file found)", nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) {
	// Display config
	setInt(&config.Display.FirstNumber, "SCREENROOM_DISPLAY_FIRST_NUMBER")
	setInt(&config.Display.Max, "SCREENROOM_DISPLAY_MAX")
	setInt(&config.Display.BasePort, "SCREENROOM_DISPLAY_BASE_PORT")
	setInt(&config.Display.Width, "SCREENROOM_DISPLAY_WIDTH")
	setInt(&config.Display.Height, "SCREENROOM_DISPLAY_HEIGHT")
	setInt(&config.Display.Depth, "SCREENROOM_DISPLAY_DEPTH")
	setDuration(&config.Display.SettleDelay, "SCREENROOM_DISPLAY_SETTLE_DELAY")
	setDuration(&config.Display.ReadyTimeout, "SCREENROOM_DISPLAY_READY_TIMEOUT")
	setString(&config.Display.FramebufferBinary, "SCREENROOM_FRAMEBUFFER_BINARY")
	setString(&config.Display.ScreenServerBinary, "SCREENROOM_SCREEN_SERVER_BINARY")
	setString(&config.Display.WindowManager, "SCREENROOM_WINDOW_MANAGER")

	// Recording config
	setString(&config.Recording.Root, "SCREENROOM_RECORDING_ROOT")
	setInt(&config.Recording.FPS, "SCREENROOM_RECORDING_FPS")
	setInt(&config.Recording.CRF, "SCREENROOM_RECORDING_CRF")
	setDuration(&config.Recording.MaxDuration, "SCREENROOM_RECORDING_MAX_DURATION")
	setString(&config.Recording.EncoderBinary, "SCREENROOM_ENCODER_BINARY")

	// Process config
	setDuration(&config.Process.StopGracePeriod, "SCREENROOM_STOP_GRACE_PERIOD")
	setDuration(&config.Process.StopPollInterval, "SCREENROOM_STOP_POLL_INTERVAL")

	// Storage config
	setString(&config.Storage.Endpoint, "SCREENROOM_STORAGE_ENDPOINT")
	setString(&config.Storage.AccessKey, "SCREENROOM_STORAGE_ACCESS_KEY")
	setString(&config.Storage.SecretKey, "SCREENROOM_STORAGE_SECRET_KEY")
	setString(&config.Storage.Bucket, "SCREENROOM_STORAGE_BUCKET")
	setString(&config.Storage.Region, "SCREENROOM_STORAGE_REGION")
	setBool(&config.Storage.UseSSL, "SCREENROOM_STORAGE_USE_SSL")
	setDuration(&config.Storage.PresignTTL, "SCREENROOM_STORAGE_PRESIGN_TTL")
	setBool(&config.Storage.DeleteAfterUpload, "SCREENROOM_STORAGE_DELETE_AFTER_UPLOAD")
	setDuration(&config.Storage.Retention, "SCREENROOM_STORAGE_RETENTION")
	setDuration(&config.Storage.SweepInterval, "SCREENROOM_STORAGE_SWEEP_INTERVAL")

	// Logging config
	setString(&config.Logging.Level, "LOG_LEVEL")
	setString(&config.Logging.Format, "LOG_FORMAT")
	setString(&config.Logging.Output, "LOG_OUTPUT")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val == "true" || val == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Display.FirstNumber < 1 {
		return fmt.Errorf("invalid first display number: %d", c.Display.FirstNumber)
	}

	if c.Display.Max < 1 {
		return fmt.Errorf("invalid max concurrent displays: %d", c.Display.Max)
	}

	if c.Display.BasePort < 1 || c.Display.BasePort+c.Display.FirstNumber+c.Display.Max > 65535 {
		return fmt.Errorf("invalid display base port: %d (pool of %d would exceed the port range)",
			c.Display.BasePort, c.Display.Max)
	}

	if c.Display.Width < 1 || c.Display.Height < 1 {
		return fmt.Errorf("invalid screen geometry: %dx%d", c.Display.Width, c.Display.Height)
	}

	if c.Recording.FPS < 1 {
		return fmt.Errorf("invalid recording fps: %d", c.Recording.FPS)
	}

	if c.Recording.CRF < 0 || c.Recording.CRF > 51 {
		return fmt.Errorf("invalid recording crf: %d (x264 accepts 0-51)", c.Recording.CRF)
	}

	if !filepath.IsAbs(c.Recording.Root) {
		return fmt.Errorf("recordings root must be an absolute path: %s", c.Recording.Root)
	}

	if c.Recording.MaxDuration <= 0 {
		return fmt.Errorf("invalid recording max duration: %s", c.Recording.MaxDuration)
	}

	if c.Process.StopGracePeriod <= 0 {
		return fmt.Errorf("invalid stop grace period: %s", c.Process.StopGracePeriod)
	}

	if c.Process.StopPollInterval <= 0 {
		return fmt.Errorf("invalid stop poll interval: %s", c.Process.StopPollInterval)
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket name required")
	}

	if c.Storage.PresignTTL <= 0 {
		return fmt.Errorf("invalid presign TTL: %s", c.Storage.PresignTTL)
	}

	validLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true,
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// ScreenGeometry returns the WIDTHxHEIGHTxDEPTH argument for the framebuffer
func (c *Config) ScreenGeometry() string {
	return fmt.Sprintf("%dx%dx%d", c.Display.Width, c.Display.Height, c.Display.Depth)
}

// FrameSize returns the WIDTHxHEIGHT argument for the encoder
func (c *Config) FrameSize() string {
	return fmt.Sprintf("%dx%d", c.Display.Width, c.Display.Height)
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) SaveToFile(path string) error {
	data, err := c.ToYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFromFile loads a specific configuration file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// GenerateDefaultConfig creates a default configuration file
func GenerateDefaultConfig(path string) error {
	config := DefaultConfig
	return config.SaveToFile(path)
}
