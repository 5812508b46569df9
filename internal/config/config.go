package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no -config flag is given.
const DefaultPath = "/etc/dockycal/config.yaml"

var (
	ErrEmptyPath = errors.New("config path is empty")
	ErrNilConfig = errors.New("config is nil")
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// LogConfig controls the level and the optional rotating log file.
type LogConfig struct {
	// Level is one of "debug", "info", "error".
	Level string `yaml:"level" json:"level"`
	// File, when set, receives a copy of every log line.
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// StoreConfig selects where events are persisted.
type StoreConfig struct {
	// Driver is "file" (JSON document file) or "sqlite".
	Driver string `yaml:"driver" json:"driver"`
	// Path is a directory for "file" and a database file for "sqlite".
	Path       string `yaml:"path" json:"path"`
	Collection string `yaml:"collection" json:"collection"`
}

// GoogleConfig describes the linked Google account and how to talk to its
// calendar.
type GoogleConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Email and Providers describe the signed-in identity. The calendar is
	// only reachable when Providers contains "google.com".
	Email     string   `yaml:"email,omitempty" json:"email,omitempty"`
	Providers []string `yaml:"providers" json:"providers"`

	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"-"`
	RefreshToken string `yaml:"refresh_token,omitempty" json:"-"`

	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
	// TimeZone is sent with events created in the provider calendar.
	TimeZone string `yaml:"timezone" json:"timezone"`
	// TokenCache is the file holding the last access token.
	TokenCache string `yaml:"token_cache" json:"token_cache"`

	// SyncCron schedules the periodic import. Empty disables it.
	SyncCron       string `yaml:"sync_cron" json:"sync_cron"`
	SyncPastDays   int    `yaml:"sync_past_days" json:"sync_past_days"`
	SyncFutureDays int    `yaml:"sync_future_days" json:"sync_future_days"`

	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for display and day boundaries.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RollingDays is N for the rolling view.
	RollingDays int `yaml:"rolling_days" json:"rolling_days"`

	Log    LogConfig    `yaml:"log" json:"log"`
	Store  StoreConfig  `yaml:"store" json:"store"`
	Google GoogleConfig `yaml:"google" json:"google"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Europe/Paris",
		RollingDays: 30,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Store: StoreConfig{
			Driver:     "file",
			Path:       "/var/lib/dockycal",
			Collection: "dockycalendar",
		},
		Google: GoogleConfig{
			Providers:         []string{},
			CalendarID:        "primary",
			TimeZone:          "Europe/Paris",
			TokenCache:        "/var/lib/dockycal/token.yaml",
			SyncCron:          "*/15 * * * *",
			SyncPastDays:      30,
			SyncFutureDays:    90,
			RequestsPerSecond: 5,
		},
	}
}

// Normalize fills in missing values and repairs invalid ones so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if _, err := time.LoadLocation(c.Timezone); c.Timezone == "" || err != nil {
		c.Timezone = def.Timezone
	}
	if c.RollingDays <= 0 {
		c.RollingDays = def.RollingDays
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		c.Log.Level = def.Log.Level
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if c.Log.MaxBackups < 0 {
		c.Log.MaxBackups = 0
	}
	if c.Log.MaxAgeDays < 0 {
		c.Log.MaxAgeDays = 0
	}

	switch c.Store.Driver {
	case "file", "sqlite":
	default:
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if strings.TrimSpace(c.Store.Collection) == "" {
		c.Store.Collection = def.Store.Collection
	}

	g := &c.Google
	if g.Providers == nil {
		g.Providers = []string{}
	}
	if g.CalendarID == "" {
		g.CalendarID = def.Google.CalendarID
	}
	if _, err := time.LoadLocation(g.TimeZone); g.TimeZone == "" || err != nil {
		g.TimeZone = def.Google.TimeZone
	}
	if g.TokenCache == "" {
		g.TokenCache = filepath.Join(c.Store.Path, "token.yaml")
	}
	if g.SyncCron != "" {
		if _, err := cron.ParseStandard(g.SyncCron); err != nil {
			g.SyncCron = def.Google.SyncCron
		}
	}
	if g.SyncPastDays < 0 {
		g.SyncPastDays = 0
	}
	if g.SyncFutureDays <= 0 {
		g.SyncFutureDays = def.Google.SyncFutureDays
	}
	if g.RequestsPerSecond <= 0 {
		g.RequestsPerSecond = def.Google.RequestsPerSecond
	}

	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Location returns the display timezone. Normalize guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load reads configuration from path on the OS filesystem.
func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS reads configuration from path on fsys.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func LoadFS(fsys afero.Fs, path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := SaveFS(fsys, path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// SaveFS writes cfg to path atomically via a temp file + rename, with 0600
// permissions on the result.
func SaveFS(fsys afero.Fs, path string, cfg *Config) error {
	if path == "" {
		return ErrEmptyPath
	}
	if cfg == nil {
		return ErrNilConfig
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(fsys, dir, ".dockycal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer fsys.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := fsys.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return fsys.Rename(tmpName, path)
}
