package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for the well monitor agent.
// A loaded Config is immutable; hot updates install a fresh snapshot
// through a Store so consumers never observe partially-updated fields.
type Config struct {
	Logging        LoggingConfig        `toml:"logging"`
	Camera         CameraConfig         `toml:"camera"`
	OCR            OCRConfig            `toml:"ocr"`
	Classification ClassificationConfig `toml:"classification"`
	Safety         SafetyConfig         `toml:"safety"`
	Relay          RelayConfig          `toml:"relay"`
	Storage        StorageConfig        `toml:"storage"`
	Telemetry      TelemetryConfig      `toml:"telemetry"`
	Monitor        MonitorConfig        `toml:"monitor"`
	Server         ServerConfig         `toml:"server"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// CameraConfig configures the external capture step. The agent does not
// drive the camera itself; it invokes a capture command and consumes the
// JPEG bytes it produces.
type CameraConfig struct {
	SourceType     string   `toml:"source_type"` // "exec" or "file"
	CaptureCommand string   `toml:"capture_command"`
	CaptureArgs    []string `toml:"capture_args"`
	ImagePath      string   `toml:"image_path"` // for the "file" source
	TimeoutSeconds int      `toml:"timeout_seconds"`
	DebugImagePath string   `toml:"debug_image_path"` // empty disables dumps
}

// OCRConfig configures text extraction and the backend priority order.
type OCRConfig struct {
	// Backends are tried in order; the next one is consulted only when
	// the previous fails outright, never on a low-confidence result.
	Backends          []string         `toml:"backends"`
	TimeoutSeconds    int              `toml:"timeout_seconds"`
	RetryMaxAttempts  int              `toml:"retry_max_attempts"`
	RetryBackoffMs    int              `toml:"retry_backoff_ms"`
	MinimumConfidence float64          `toml:"minimum_confidence"`
	Preprocessing     PreprocessConfig `toml:"preprocessing"`
	Tesseract         TesseractConfig  `toml:"tesseract"`
	OpenAI            OpenAIConfig     `toml:"openai"`
	DocumentAI        DocumentAIConfig `toml:"documentai"`
}

// PreprocessConfig toggles the ordered preprocessing steps applied to a
// capture before it reaches a backend.
type PreprocessConfig struct {
	Grayscale      bool    `toml:"grayscale"`
	Contrast       bool    `toml:"contrast"`
	ContrastFactor float64 `toml:"contrast_factor"`
	NoiseReduction bool    `toml:"noise_reduction"`
	Scale          bool    `toml:"scale"`
	ScaleFactor    float64 `toml:"scale_factor"`
	Threshold      bool    `toml:"threshold"`
	ThresholdLevel uint8   `toml:"threshold_level"`
}

// TesseractConfig configures the offline OCR engine.
type TesseractConfig struct {
	BinaryPath string `toml:"binary_path"`
	Language   string `toml:"language"`
	PSM        int    `toml:"psm"`
}

// OpenAIConfig configures the cloud vision extraction backend.
type OpenAIConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// DocumentAIConfig configures the Google Document AI backend.
type DocumentAIConfig struct {
	ProjectID       string `toml:"project_id"`
	Location        string `toml:"location"`
	ProcessorID     string `toml:"processor_id"`
	CredentialsFile string `toml:"credentials_file"`
}

// ClassificationConfig holds the thresholds and keyword sets used to turn
// extracted text into a pump reading.
type ClassificationConfig struct {
	OffCurrentThreshold  float64  `toml:"off_current_threshold"`
	IdleCurrentThreshold float64  `toml:"idle_current_threshold"`
	NormalCurrentMin     float64  `toml:"normal_current_min"`
	NormalCurrentMax     float64  `toml:"normal_current_max"`
	MaxValidCurrent      float64  `toml:"max_valid_current"`
	DryKeywords          []string `toml:"dry_keywords"`
	RapidCycleKeywords   []string `toml:"rapid_cycle_keywords"`
	CaseSensitive        bool     `toml:"case_sensitive"`
}

// SafetyConfig holds the debounce counts and hard actuation limits.
type SafetyConfig struct {
	DryCountThreshold           int  `toml:"dry_count_threshold"`
	RapidCycleCountThreshold    int  `toml:"rapid_cycle_count_threshold"`
	CooldownMinutes             int  `toml:"cooldown_minutes"`
	EnableAutoActions           bool `toml:"enable_auto_actions"`
	EnableDryConditionCycling   bool `toml:"enable_dry_condition_cycling"`
	MinimumCycleIntervalMinutes int  `toml:"minimum_cycle_interval_minutes"`
	MaxDailyCycles              int  `toml:"max_daily_cycles"`
	PowerCycleDelaySeconds      int  `toml:"power_cycle_delay_seconds"`
	ActuatorTimeoutSeconds      int  `toml:"actuator_timeout_seconds"`
	ReplayWindowMinutes         int  `toml:"replay_window_minutes"`
}

// RelayConfig configures the relay actuator gateway.
type RelayConfig struct {
	Driver    string `toml:"driver"` // "gpio" or "noop"
	GPIOPath  string `toml:"gpio_path"`
	ActiveLow bool   `toml:"active_low"`
}

// StorageConfig configures the local durable store.
type StorageConfig struct {
	Path                 string `toml:"path"`
	RetentionDays        int    `toml:"retention_days"`
	CleanupIntervalHours int    `toml:"cleanup_interval_hours"`
}

// TelemetryConfig configures cloud reconciliation.
type TelemetryConfig struct {
	Endpoint        string `toml:"endpoint"`
	DeviceID        string `toml:"device_id"`
	IntervalSeconds int    `toml:"interval_seconds"`
	BatchSize       int    `toml:"batch_size"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxRetries      int    `toml:"max_retries"`
}

// MonitorConfig configures the monitoring cadence.
type MonitorConfig struct {
	IntervalSeconds     int `toml:"interval_seconds"`
	CycleTimeoutSeconds int `toml:"cycle_timeout_seconds"`
}

// ServerConfig configures the embedded status API.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	MaxConns           int      `toml:"max_conns"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// Default returns a Config populated with safe built-in defaults. Every
// key a config file may omit has a usable value here.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Camera: CameraConfig{
			SourceType:     "exec",
			CaptureCommand: "libcamera-still",
			CaptureArgs:    []string{"-o", "-", "--immediate", "--nopreview"},
			TimeoutSeconds: 20,
		},
		OCR: OCRConfig{
			Backends:          []string{"tesseract", "openai"},
			TimeoutSeconds:    30,
			RetryMaxAttempts:  3,
			RetryBackoffMs:    500,
			MinimumConfidence: 0.7,
			Preprocessing: PreprocessConfig{
				Grayscale:      true,
				Contrast:       true,
				ContrastFactor: 1.5,
				NoiseReduction: false,
				Scale:          false,
				ScaleFactor:    2.0,
				Threshold:      false,
				ThresholdLevel: 128,
			},
			Tesseract: TesseractConfig{
				BinaryPath: "tesseract",
				Language:   "eng",
				PSM:        7,
			},
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
			DocumentAI: DocumentAIConfig{
				Location: "us",
			},
		},
		Classification: ClassificationConfig{
			OffCurrentThreshold:  0.1,
			IdleCurrentThreshold: 0.5,
			NormalCurrentMin:     3.0,
			NormalCurrentMax:     8.0,
			MaxValidCurrent:      25.0,
			DryKeywords:          []string{"dry"},
			RapidCycleKeywords:   []string{"rcyc", "rapid"},
			CaseSensitive:        false,
		},
		Safety: SafetyConfig{
			DryCountThreshold:           3,
			RapidCycleCountThreshold:    3,
			CooldownMinutes:             60,
			EnableAutoActions:           false,
			EnableDryConditionCycling:   false,
			MinimumCycleIntervalMinutes: 30,
			MaxDailyCycles:              4,
			PowerCycleDelaySeconds:      10,
			ActuatorTimeoutSeconds:      15,
			ReplayWindowMinutes:         60,
		},
		Relay: RelayConfig{
			Driver:   "noop",
			GPIOPath: "/sys/class/gpio/gpio18/value",
		},
		Storage: StorageConfig{
			Path:                 "wellmonitor.db",
			RetentionDays:        30,
			CleanupIntervalHours: 24,
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "",
			DeviceID:        "well-pump-01",
			IntervalSeconds: 300,
			BatchSize:       100,
			TimeoutSeconds:  30,
			MaxRetries:      3,
		},
		Monitor: MonitorConfig{
			IntervalSeconds:     60,
			CycleTimeoutSeconds: 55,
		},
		Server: ServerConfig{
			Enabled:  true,
			Host:     "0.0.0.0",
			Port:     8080,
			MaxConns: 16,
		},
	}
}

// Load reads a TOML config file over the defaults. Keys the file does not
// set keep their default; keys the file sets that we do not recognize are
// ignored rather than rejected, so newer twin payloads do not brick older
// agents.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot
// guarantee once a file has been merged in.
func (c *Config) Validate() error {
	if c.Monitor.IntervalSeconds <= 0 {
		return fmt.Errorf("monitor.interval_seconds must be positive, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Classification.MaxValidCurrent <= 0 {
		return fmt.Errorf("classification.max_valid_current must be positive, got %f", c.Classification.MaxValidCurrent)
	}
	if c.OCR.MinimumConfidence < 0 || c.OCR.MinimumConfidence > 1 {
		return fmt.Errorf("ocr.minimum_confidence must be in [0,1], got %f", c.OCR.MinimumConfidence)
	}
	if c.Safety.MaxDailyCycles < 0 {
		return fmt.Errorf("safety.max_daily_cycles must not be negative, got %d", c.Safety.MaxDailyCycles)
	}
	if len(c.OCR.Backends) == 0 {
		return fmt.Errorf("ocr.backends must name at least one backend")
	}
	return nil
}

// MonitorInterval returns the monitoring cadence as a duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// Store holds the current configuration snapshot. Consumers call Get on
// every use and therefore always see a complete, consistent Config.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with the given snapshot.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Update installs a new snapshot atomically.
func (s *Store) Update(cfg *Config) {
	s.current.Store(cfg)
}
