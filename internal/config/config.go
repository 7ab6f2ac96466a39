package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Listing    ListingConfig    `yaml:"listing"`
	Lineup     LineupConfig     `yaml:"lineup"`
	Matching   MatchingConfig   `yaml:"matching"`
	Progress   ProgressConfig   `yaml:"progress"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// ListingConfig describes the remote paginated artist/event listing.
type ListingConfig struct {
	BaseURL     string        `yaml:"base_url"`
	ArtistsPath string        `yaml:"artists_path"`
	EventsPath  string        `yaml:"events_path"`
	TypeFilter  string        `yaml:"type_filter"`
	FromDate    string        `yaml:"from_date"`
	ToDate      string        `yaml:"to_date"`
	PageDelay   time.Duration `yaml:"page_delay"`
	MaxPages    int           `yaml:"max_pages"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LineupConfig controls event detail page fetching and parsing.
type LineupConfig struct {
	// ProfileSegment is the path segment preceding /<slug>/<id>/ in artist profile URLs.
	ProfileSegment string        `yaml:"profile_segment"`
	PageDelay      time.Duration `yaml:"page_delay"`
	UserAgent      string        `yaml:"user_agent"`
	Timeout        time.Duration `yaml:"timeout"`
}

// MatchingConfig holds the confidence thresholds used when persisting links.
type MatchingConfig struct {
	MinConfidence  float64 `yaml:"min_confidence"`
	HighConfidence float64 `yaml:"high_confidence"`
}

// ProgressConfig controls batch session progress retention.
type ProgressConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ScheduleConfig holds background scheduler intervals. Zero disables a scheduler.
type ScheduleConfig struct {
	SyncInterval     time.Duration `yaml:"sync_interval"`
	OptimizeInterval time.Duration `yaml:"optimize_interval"`
}

// EnrichmentConfig holds settings for the artist enrichment collaborator.
type EnrichmentConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DeezerBaseURL string `yaml:"deezer_base_url"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path: "/data/lineup.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Listing: ListingConfig{
			ArtistsPath: "/api/artists",
			EventsPath:  "/api/events",
			PageDelay:   500 * time.Millisecond,
			Timeout:     15 * time.Second,
		},
		Lineup: LineupConfig{
			ProfileSegment: "artists",
			PageDelay:      time.Second,
			UserAgent:      "lineup/1.0 (+festival program sync)",
			Timeout:        15 * time.Second,
		},
		Matching: MatchingConfig{
			MinConfidence:  0.60,
			HighConfidence: 0.90,
		},
		Progress: ProgressConfig{
			Retention:     5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Schedule: ScheduleConfig{
			OptimizeInterval: 24 * time.Hour,
		},
		Enrichment: EnrichmentConfig{
			Enabled:       true,
			DeezerBaseURL: "https://api.deezer.com",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadLogging re-reads only the logging section of the config file, applying
// the same env overrides. Used by the config watcher for hot reload.
func LoadLogging(path string) (LoggingConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return LoggingConfig{}, err
	}
	return cfg.Logging, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator-controlled env
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("LU_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("LU_BASE_PATH"); v != "" {
		c.Server.BasePath = v
	}
	if v := os.Getenv("LU_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("LU_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LU_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("LU_LISTING_BASE_URL"); v != "" {
		c.Listing.BaseURL = v
	}
	if v := os.Getenv("LU_LISTING_FROM_DATE"); v != "" {
		c.Listing.FromDate = v
	}
	if v := os.Getenv("LU_LISTING_TO_DATE"); v != "" {
		c.Listing.ToDate = v
	}
	if v := os.Getenv("LU_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Schedule.SyncInterval = d
		}
	}
	if v := os.Getenv("LU_ENRICHMENT_ENABLED"); v != "" {
		c.Enrichment.Enabled = v == "true" || v == "1"
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")

	if c.Listing.BaseURL != "" {
		u, err := url.Parse(c.Listing.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("listing base_url must be an absolute http(s) URL: %q", c.Listing.BaseURL)
		}
		c.Listing.BaseURL = strings.TrimRight(c.Listing.BaseURL, "/")
	}
	if c.Listing.PageDelay < 0 || c.Lineup.PageDelay < 0 {
		return fmt.Errorf("page delays must not be negative")
	}
	c.Lineup.ProfileSegment = strings.Trim(c.Lineup.ProfileSegment, "/")
	if c.Lineup.ProfileSegment == "" {
		return fmt.Errorf("lineup profile_segment is required")
	}

	m := c.Matching
	if m.MinConfidence < 0 || m.MinConfidence > 1 || m.HighConfidence < 0 || m.HighConfidence > 1 {
		return fmt.Errorf("confidence thresholds must be within [0,1]")
	}
	if m.MinConfidence >= m.HighConfidence {
		return fmt.Errorf("min_confidence (%.2f) must be below high_confidence (%.2f)", m.MinConfidence, m.HighConfidence)
	}

	if c.Progress.Retention <= 0 {
		return fmt.Errorf("progress retention must be positive")
	}
	if c.Progress.SweepInterval <= 0 {
		c.Progress.SweepInterval = time.Minute
	}
	return nil
}
