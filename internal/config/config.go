// Package config manages configuration for the capture station.
//
// Settings come from built-in defaults, then an INI or YAML file, then a
// .env file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables.
const (
	EnvConfigPath = "CAPTURE_STATION_CONFIG"
	EnvDotEnvPath = "CAPTURE_STATION_ENV_FILE"
	EnvLogFile    = "CAPTURE_STATION_LOG_FILE"
	EnvMatcherURL = "CAPTURE_STATION_MATCHER_URL"
	EnvUserID     = "CAPTURE_STATION_USER_ID"
)

// =============================================================================
// Configuration struct
// =============================================================================

// Config holds all runtime configuration values.
type Config struct {
	// Logging
	LogLevel       string
	LogFile        string
	LogMaxBytes    int
	LogBackupCount int
	LogToStdout    bool

	// Ambient light
	LightSource       string // "auto", "iio", "frame" or "none"
	LightPollMS       int
	DarkThresholdLux  float64
	FrameFullScaleLux float64
	IIORoot           string

	// Flash + haptics
	SettleDelayMS int
	HapticPulseMS int
	BacklightRoot string
	LEDRoot       string
	VibratorPath  string

	// Camera
	DevDir            string
	BackDevice        string
	FrontDevice       string
	InitialFacing     string
	CaptureWidth      int
	CaptureHeight     int
	CaptureFPS        int
	CaptureFormat     string // "mjpeg" or "yuyv"; passed to FFmpeg as -input_format
	KillDeviceHolders bool
	PatternOnly       bool
	SpoolDir          string

	// Post-processing
	MaxWidth        int
	JPEGQuality     int
	MaxPayloadBytes int

	// Matching service
	MatcherURL        string
	UserID            string
	RequestTimeoutSec float64

	// UI
	PreviewFPS          int
	MinPreviewFPS       int
	DynamicPreview      bool
	PerfSource          string // "host" (gopsutil) or "proc" (/proc and thermal zones)
	PerfCheckIntervalMS int
	CPULoadThreshold    float64
	CPUTempThresholdC   float64
	Fullscreen          bool
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       "INFO",
		LogFile:        "./logs/capture_station.log",
		LogMaxBytes:    5 * 1024 * 1024, // 5 MB
		LogBackupCount: 3,
		LogToStdout:    true,

		LightSource:       "auto",
		LightPollMS:       500,
		DarkThresholdLux:  15,
		FrameFullScaleLux: 400,
		IIORoot:           "/sys/bus/iio/devices",

		SettleDelayMS: 300,
		HapticPulseMS: 100,
		BacklightRoot: "/sys/class/backlight",
		LEDRoot:       "/sys/class/leds",
		VibratorPath:  "/sys/class/timed_output/vibrator/enable",

		DevDir:            "/dev",
		InitialFacing:     "back",
		CaptureWidth:      1280,
		CaptureHeight:     720,
		CaptureFPS:        15,
		CaptureFormat:     "mjpeg",
		KillDeviceHolders: true,
		SpoolDir:          filepath.Join(os.TempDir(), "capture-station"),

		MaxWidth:        1080,
		JPEGQuality:     50,
		MaxPayloadBytes: 8 << 20,

		MatcherURL:        "http://127.0.0.1:8088",
		RequestTimeoutSec: 30,

		PreviewFPS:          15,
		MinPreviewFPS:       5,
		DynamicPreview:      true,
		PerfSource:          "host",
		PerfCheckIntervalMS: 2000,
		CPULoadThreshold:    3.0,
		CPUTempThresholdC:   75.0,
	}
}

// =============================================================================
// INI parser (minimal)
// =============================================================================

// iniData stores parsed sections and their key-value pairs. YAML files are
// flattened into the same shape.
type iniData map[string]map[string]string

// parseINI reads sections ([name]), key = value lines and # or ; comments.
// Values may be wrapped in double quotes.
func parseINI(data []byte) iniData {
	result := make(iniData)
	section := ""

	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if _, ok := result[section]; !ok {
				result[section] = make(map[string]string)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok || section == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		result[section][strings.TrimSpace(key)] = value
	}

	return result
}

// parseYAML accepts a two-level mapping (section -> key -> scalar).
func parseYAML(data []byte) (iniData, error) {
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	result := make(iniData, len(raw))
	for section, values := range raw {
		sec := make(map[string]string, len(values))
		for k, v := range values {
			if v == nil {
				continue
			}
			sec[k] = fmt.Sprint(v)
		}
		result[strings.ToLower(section)] = sec
	}
	return result, nil
}

func (d iniData) get(section, key string) (string, bool) {
	if sec, ok := d[section]; ok {
		if val, ok := sec[key]; ok {
			return val, true
		}
	}
	return "", false
}

// =============================================================================
// Type parsing helpers
// =============================================================================

// asBool parses a string as boolean. Truthy: "1","true","yes","on".
// Falsy: "0","false","no","off". Returns fallback on empty/unrecognised.
func asBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// asInt parses a string as int with optional min/max clamping.
// Pass nil for unbounded. Returns fallback on parse error.
func asInt(value string, fallback int, minVal, maxVal *int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	return parsed
}

// asFloat parses a string as float64 with optional min/max clamping.
func asFloat(value string, fallback float64, minVal, maxVal *float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	if minVal != nil && parsed < *minVal {
		parsed = *minVal
	}
	if maxVal != nil && parsed > *maxVal {
		parsed = *maxVal
	}
	return parsed
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

// =============================================================================
// Load + Apply
// =============================================================================

// ConfigPath returns the config file path to use, respecting env vars.
func ConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return "./capture.ini"
}

func dotEnvPath() string {
	if p := os.Getenv(EnvDotEnvPath); p != "" {
		return p
	}
	return ".env"
}

// Load reads the config file at path (or the default/env path) and
// returns a fully populated Config. A missing file is not an error. Files
// ending in .yaml or .yml are read as YAML, anything else as INI.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(dotEnvPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: failed to load %s: %w", dotEnvPath(), err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	default:
		var values iniData
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if values, err = parseYAML(data); err != nil {
				return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		default:
			values = parseINI(data)
		}
		apply(cfg, values)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv(EnvMatcherURL); v != "" {
		cfg.MatcherURL = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		cfg.UserID = v
	}
}

// apply maps section values onto cfg, clamping numbers to sane ranges.
func apply(cfg *Config, ini iniData) {
	// [logging]
	if v, ok := ini.get("logging", "level"); ok {
		cfg.LogLevel = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := ini.get("logging", "file"); ok {
		cfg.LogFile = v
	}
	if v, ok := ini.get("logging", "max_bytes"); ok {
		cfg.LogMaxBytes = asInt(v, cfg.LogMaxBytes, intPtr(1024), nil)
	}
	if v, ok := ini.get("logging", "backup_count"); ok {
		cfg.LogBackupCount = asInt(v, cfg.LogBackupCount, intPtr(1), nil)
	}
	if v, ok := ini.get("logging", "stdout"); ok {
		cfg.LogToStdout = asBool(v, cfg.LogToStdout)
	}

	// [light]
	if v, ok := ini.get("light", "source"); ok {
		switch v = strings.ToLower(strings.TrimSpace(v)); v {
		case "auto", "iio", "frame", "none":
			cfg.LightSource = v
		}
	}
	if v, ok := ini.get("light", "poll_interval_ms"); ok {
		cfg.LightPollMS = asInt(v, cfg.LightPollMS, intPtr(50), intPtr(10000))
	}
	if v, ok := ini.get("light", "dark_threshold_lux"); ok {
		cfg.DarkThresholdLux = asFloat(v, cfg.DarkThresholdLux, floatPtr(0.1), floatPtr(10000))
	}
	if v, ok := ini.get("light", "frame_full_scale_lux"); ok {
		cfg.FrameFullScaleLux = asFloat(v, cfg.FrameFullScaleLux, floatPtr(1), nil)
	}
	if v, ok := ini.get("light", "iio_root"); ok {
		cfg.IIORoot = v
	}

	// [flash]
	if v, ok := ini.get("flash", "settle_delay_ms"); ok {
		cfg.SettleDelayMS = asInt(v, cfg.SettleDelayMS, intPtr(0), intPtr(5000))
	}
	if v, ok := ini.get("flash", "haptic_pulse_ms"); ok {
		cfg.HapticPulseMS = asInt(v, cfg.HapticPulseMS, intPtr(1), intPtr(1000))
	}
	if v, ok := ini.get("flash", "backlight_root"); ok {
		cfg.BacklightRoot = v
	}
	if v, ok := ini.get("flash", "led_root"); ok {
		cfg.LEDRoot = v
	}
	if v, ok := ini.get("flash", "vibrator"); ok {
		cfg.VibratorPath = v
	}

	// [camera]
	if v, ok := ini.get("camera", "dev_dir"); ok {
		cfg.DevDir = v
	}
	if v, ok := ini.get("camera", "back_device"); ok {
		cfg.BackDevice = v
	}
	if v, ok := ini.get("camera", "front_device"); ok {
		cfg.FrontDevice = v
	}
	if v, ok := ini.get("camera", "facing"); ok {
		cfg.InitialFacing = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := ini.get("camera", "width"); ok {
		cfg.CaptureWidth = asInt(v, cfg.CaptureWidth, intPtr(160), intPtr(4096))
	}
	if v, ok := ini.get("camera", "height"); ok {
		cfg.CaptureHeight = asInt(v, cfg.CaptureHeight, intPtr(120), intPtr(3072))
	}
	if v, ok := ini.get("camera", "fps"); ok {
		cfg.CaptureFPS = asInt(v, cfg.CaptureFPS, intPtr(1), intPtr(60))
	}
	if v, ok := ini.get("camera", "format"); ok {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "mjpeg" || v == "yuyv" {
			cfg.CaptureFormat = v
		}
	}
	if v, ok := ini.get("camera", "kill_device_holders"); ok {
		cfg.KillDeviceHolders = asBool(v, cfg.KillDeviceHolders)
	}
	if v, ok := ini.get("camera", "pattern_only"); ok {
		cfg.PatternOnly = asBool(v, cfg.PatternOnly)
	}
	if v, ok := ini.get("camera", "spool_dir"); ok {
		cfg.SpoolDir = v
	}

	// [process]
	if v, ok := ini.get("process", "max_width"); ok {
		cfg.MaxWidth = asInt(v, cfg.MaxWidth, intPtr(64), intPtr(8192))
	}
	if v, ok := ini.get("process", "jpeg_quality"); ok {
		cfg.JPEGQuality = asInt(v, cfg.JPEGQuality, intPtr(1), intPtr(100))
	}
	if v, ok := ini.get("process", "max_payload_bytes"); ok {
		cfg.MaxPayloadBytes = asInt(v, cfg.MaxPayloadBytes, intPtr(16*1024), nil)
	}

	// [matcher]
	if v, ok := ini.get("matcher", "url"); ok {
		cfg.MatcherURL = strings.TrimSpace(v)
	}
	if v, ok := ini.get("matcher", "user_id"); ok {
		cfg.UserID = strings.TrimSpace(v)
	}
	if v, ok := ini.get("matcher", "timeout_sec"); ok {
		cfg.RequestTimeoutSec = asFloat(v, cfg.RequestTimeoutSec, floatPtr(1), floatPtr(300))
	}

	// [ui]
	if v, ok := ini.get("ui", "preview_fps"); ok {
		cfg.PreviewFPS = asInt(v, cfg.PreviewFPS, intPtr(1), intPtr(60))
	}
	if v, ok := ini.get("ui", "min_preview_fps"); ok {
		cfg.MinPreviewFPS = asInt(v, cfg.MinPreviewFPS, intPtr(1), intPtr(60))
	}
	if v, ok := ini.get("ui", "dynamic_preview"); ok {
		cfg.DynamicPreview = asBool(v, cfg.DynamicPreview)
	}
	if v, ok := ini.get("ui", "perf_source"); ok {
		if v = strings.ToLower(strings.TrimSpace(v)); v == "host" || v == "proc" {
			cfg.PerfSource = v
		}
	}
	if v, ok := ini.get("ui", "perf_check_interval_ms"); ok {
		cfg.PerfCheckIntervalMS = asInt(v, cfg.PerfCheckIntervalMS, intPtr(250), nil)
	}
	if v, ok := ini.get("ui", "cpu_load_threshold"); ok {
		cfg.CPULoadThreshold = asFloat(v, cfg.CPULoadThreshold, floatPtr(0.1), floatPtr(20.0))
	}
	if v, ok := ini.get("ui", "cpu_temp_threshold_c"); ok {
		cfg.CPUTempThresholdC = asFloat(v, cfg.CPUTempThresholdC, floatPtr(30.0), floatPtr(100.0))
	}
	if v, ok := ini.get("ui", "fullscreen"); ok {
		cfg.Fullscreen = asBool(v, cfg.Fullscreen)
	}
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks whether the Config values are reasonable and returns
// warnings. Returns ok=false if any setting is critically problematic.
func (c *Config) Validate() (ok bool, warnings []string) {
	ok = true

	if c.MatcherURL == "" {
		ok = false
		warnings = append(warnings, "No matcher URL configured; photos cannot be submitted")
	} else if !strings.HasPrefix(c.MatcherURL, "http://") && !strings.HasPrefix(c.MatcherURL, "https://") {
		ok = false
		warnings = append(warnings, fmt.Sprintf("Matcher URL %q is not http(s)", c.MatcherURL))
	}

	if c.UserID == "" {
		warnings = append(warnings, "No user id configured; uploads will be rejected by the server")
	}

	switch c.InitialFacing {
	case "back", "rear", "front", "selfie", "":
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown camera facing %q, using back", c.InitialFacing))
	}

	if c.PreviewFPS > c.CaptureFPS {
		warnings = append(warnings, fmt.Sprintf("PreviewFPS (%d) > CaptureFPS (%d)", c.PreviewFPS, c.CaptureFPS))
	}
	if c.MinPreviewFPS > c.PreviewFPS {
		warnings = append(warnings, fmt.Sprintf("MinPreviewFPS (%d) > PreviewFPS (%d)", c.MinPreviewFPS, c.PreviewFPS))
	}

	if c.CaptureWidth < c.MaxWidth {
		warnings = append(warnings, fmt.Sprintf("Capture width %d is below the %d px upload width", c.CaptureWidth, c.MaxWidth))
	}

	if c.LightPollMS > 2000 {
		warnings = append(warnings, "Light polling slower than 2 s makes the flash decision lag")
	}

	if c.PatternOnly {
		warnings = append(warnings, "Camera is in test-pattern mode; no hardware will be used")
	}

	return ok, warnings
}
