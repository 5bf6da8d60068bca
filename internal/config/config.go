package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds the bridge's runtime settings, loaded from environment
// variables (spec section 6). Call LoadEnvFile(".env") before Load() to
// source a .env file first.
type Config struct {
	// DVR connection
	Host      string
	CmdPort   int
	MediaPort int
	Username  string
	Password  string

	// Control plane
	WebPort int

	// Recorder
	RecordEnabled     bool
	RecordChannels    []int
	RecordSegmentMin  int
	RecordStreamType  int
	RecordDir         string
	RecordRetentionHr int
	RecordSchedule    string
	RecordMinDiskMB   int64

	// Upload (supplemented, section 6)
	UploadEnabled bool
	UploadURL     string
	UploadWorkers int

	// Journal (supplemented, section 6)
	JournalPath string

	// Metrics (supplemented, section 6)
	MetricsEnabled bool

	// Discovery (supplemented, section 6)
	DiscoveryFallbackSubnets []string

	RTSPBaseURL    string
	RTSPServerPath string
	FFmpegPath     string
	FeederPath     string
}

// Load reads Config from the environment (spec section 6: `DVR_*` family).
func Load() *Config {
	c := &Config{
		Host:              os.Getenv("DVR_HOST"),
		CmdPort:           getEnvInt("DVR_CMD_PORT", 5050),
		MediaPort:         getEnvInt("DVR_MEDIA_PORT", 6050),
		Username:          getEnv("DVR_USERNAME", "admin"),
		Password:          os.Getenv("DVR_PASSWORD"),
		WebPort:           getEnvInt("DVR_WEB_PORT", 8080),
		RecordEnabled:     getEnvBool("DVR_RECORD_ENABLED", false),
		RecordChannels:    getEnvIntList("DVR_RECORD_CHANNELS"),
		RecordSegmentMin:  getEnvInt("DVR_RECORD_SEGMENT_MIN", 15),
		RecordStreamType:  getEnvInt("DVR_RECORD_STREAM_TYPE", 0),
		RecordDir:         getEnv("DVR_RECORD_DIR", "./recordings"),
		RecordRetentionHr: getEnvInt("DVR_RECORD_RETENTION_HR", 72),
		RecordSchedule:    os.Getenv("DVR_RECORD_SCHEDULE"),
		RecordMinDiskMB:   getEnvInt64("DVR_RECORD_MIN_DISK_MB", 1024),

		UploadEnabled: getEnvBool("DVR_UPLOAD_ENABLED", false),
		UploadURL:     os.Getenv("DVR_UPLOAD_URL"),
		UploadWorkers: getEnvInt("DVR_UPLOAD_WORKERS", 1),

		MetricsEnabled: getEnvBool("DVR_METRICS_ENABLED", true),

		DiscoveryFallbackSubnets: getEnvList("DVR_DISCOVERY_FALLBACK_SUBNETS"),

		RTSPBaseURL:    getEnv("DVR_RTSP_BASE_URL", "rtsp://127.0.0.1:8554"),
		RTSPServerPath: getEnv("DVR_RTSP_SERVER_PATH", "rtsp-simple-server"),
		FFmpegPath:     getEnv("DVR_FFMPEG_PATH", "ffmpeg"),
		FeederPath:     getEnv("DVR_FEEDER_PATH", "feeder"),
	}
	c.JournalPath = getEnv("DVR_JOURNAL_PATH", c.RecordDir+"/events.db")
	if c.CmdPort <= 0 {
		c.CmdPort = 5050
	}
	if c.MediaPort <= 0 {
		c.MediaPort = 6050
	}
	if c.WebPort <= 0 {
		c.WebPort = 8080
	}
	if c.RecordSegmentMin <= 0 {
		c.RecordSegmentMin = 15
	}
	if c.RecordRetentionHr <= 0 {
		c.RecordRetentionHr = 72
	}
	if c.UploadWorkers <= 0 {
		c.UploadWorkers = 1
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

// getEnvList splits a comma-separated env var, trimming whitespace and
// dropping empty entries.
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvIntList parses a comma-separated list of channel numbers.
func getEnvIntList(key string) []int {
	var out []int
	for _, s := range getEnvList(key) {
		n, err := strconv.Atoi(s)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

// RecordStreamTypeValue clamps the configured recording stream type to
// {0,1}, the only values the wire protocol defines (spec section 4.1).
func (c *Config) RecordStreamTypeValue() int {
	if c.RecordStreamType != 0 && c.RecordStreamType != 1 {
		return 0
	}
	return c.RecordStreamType
}
