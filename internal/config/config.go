package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for medtrack
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Tracker       TrackerConfig       `mapstructure:"tracker"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Log           LogConfig           `mapstructure:"log"`

	v *viper.Viper
}

// ServerConfig holds the health/metrics HTTP listener settings
type ServerConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Address      string   `mapstructure:"address"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // sqlite, badger (one process at a time), memory
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// TrackerConfig holds dose-tracking thresholds
type TrackerConfig struct {
	MissedThresholdMinutes int `mapstructure:"missed_threshold_minutes"`
	SweepIntervalMinutes   int `mapstructure:"sweep_interval_minutes"`
	UpcomingWindowHours    int `mapstructure:"upcoming_window_hours"`
	AdherenceDays          int `mapstructure:"adherence_days"`
	HistoryLimit           int `mapstructure:"history_limit"`
	ScanLimit              int `mapstructure:"scan_limit"`
}

// MissedThreshold returns the missed-dose threshold as a duration
func (t TrackerConfig) MissedThreshold() time.Duration {
	return time.Duration(t.MissedThresholdMinutes) * time.Minute
}

// SweepInterval returns the sweep interval as a duration
func (t TrackerConfig) SweepInterval() time.Duration {
	return time.Duration(t.SweepIntervalMinutes) * time.Minute
}

// UpcomingWindow returns the default upcoming-dose window
func (t TrackerConfig) UpcomingWindow() time.Duration {
	return time.Duration(t.UpcomingWindowHours) * time.Hour
}

// NotificationsConfig holds reminder delivery settings
type NotificationsConfig struct {
	PermissionGranted bool           `mapstructure:"permission_granted"`
	Location          string         `mapstructure:"location"`
	RatePerMinute     int            `mapstructure:"rate_per_minute"`
	Telegram          TelegramConfig `mapstructure:"telegram"`
	Discord           DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig holds Telegram delivery settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// DiscordConfig holds Discord delivery settings
type DiscordConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Token     string `mapstructure:"token"`
	ChannelID string `mapstructure:"channel_id"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	if err := LoadEnvFiles(dataDir); err != nil {
		return nil, err
	}

	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "medtrack.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "medtrack.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (MEDTRACK_STORAGE_BACKEND, MEDTRACK_TRACKER_MISSED_THRESHOLD_MINUTES, etc.)
	v.SetEnvPrefix("MEDTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	loadEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration without touching disk or env
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{v: v}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.address", "127.0.0.1")
	v.SetDefault("server.port", 9464)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"http://localhost"})

	v.SetDefault("storage.backend", "sqlite")

	v.SetDefault("tracker.missed_threshold_minutes", 30)
	v.SetDefault("tracker.sweep_interval_minutes", 5)
	v.SetDefault("tracker.upcoming_window_hours", 2)
	v.SetDefault("tracker.adherence_days", 7)
	v.SetDefault("tracker.history_limit", 1000)
	v.SetDefault("tracker.scan_limit", 50)

	v.SetDefault("notifications.permission_granted", true)
	v.SetDefault("notifications.location", "Local")
	v.SetDefault("notifications.rate_per_minute", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "medtrack")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "medtrack")
}

// loadEnvOverrides loads specific env vars that Viper doesn't bind without a config key
func loadEnvOverrides(cfg *Config) {
	cfg.Storage.DataDir = GetEnvDefault("MEDTRACK_STORAGE_DATA_DIR", cfg.Storage.DataDir)

	if token := ResolveEnvWithAliases("MEDTRACK_NOTIFICATIONS_TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Notifications.Telegram.BotToken = token
	}
	if chat := os.Getenv("MEDTRACK_NOTIFICATIONS_TELEGRAM_CHAT_ID"); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			cfg.Notifications.Telegram.ChatID = id
		}
	}
	if token := ResolveEnvWithAliases("MEDTRACK_NOTIFICATIONS_DISCORD_TOKEN"); token != "" {
		cfg.Notifications.Discord.Token = token
	}

	if port := os.Getenv("MEDTRACK_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "sqlite", "badger", "memory":
	default:
		return fmt.Errorf("storage.backend must be one of sqlite, badger, memory (got %q)", cfg.Storage.Backend)
	}

	if err := cfg.Tracker.validate(); err != nil {
		return err
	}

	if n := cfg.Notifications.Telegram; n.Enabled {
		if err := requireSecret("telegram", "notifications.telegram.bot_token", n.BotToken); err != nil {
			return err
		}
	}
	if n := cfg.Notifications.Discord; n.Enabled {
		if err := requireSecret("discord", "notifications.discord.token", n.Token); err != nil {
			return err
		}
		if n.ChannelID == "" {
			return fmt.Errorf("notifications.discord.channel_id is required when discord is enabled")
		}
	}

	return nil
}

func (t TrackerConfig) validate() error {
	if t.MissedThresholdMinutes <= 0 {
		return fmt.Errorf("tracker.missed_threshold_minutes must be positive")
	}
	if t.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("tracker.sweep_interval_minutes must be positive")
	}
	if t.UpcomingWindowHours <= 0 {
		return fmt.Errorf("tracker.upcoming_window_hours must be positive")
	}
	if t.AdherenceDays <= 0 {
		return fmt.Errorf("tracker.adherence_days must be positive")
	}
	if t.HistoryLimit <= 0 || t.ScanLimit <= 0 {
		return fmt.Errorf("tracker.history_limit and tracker.scan_limit must be positive")
	}
	return nil
}

// Location resolves the notification time zone
func (c *Config) Location() *time.Location {
	if c.Notifications.Location == "" || c.Notifications.Location == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Notifications.Location)
	if err != nil {
		return time.Local
	}
	return loc
}

// WatchTracker reloads the tracker section whenever the config file changes
// and hands valid values to onChange. Invalid edits are reported and ignored.
func (c *Config) WatchTracker(onChange func(TrackerConfig), onError func(error)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}

	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var next TrackerConfig
		if err := c.v.UnmarshalKey("tracker", &next); err != nil {
			onError(fmt.Errorf("failed to reload tracker config from %s: %w", e.Name, err))
			return
		}
		if err := next.validate(); err != nil {
			onError(err)
			return
		}
		onChange(next)
	})
	c.v.WatchConfig()
}

// Get returns the effective value of a dotted key such as
// "tracker.missed_threshold_minutes"
func (c *Config) Get(key string) any {
	if c.v == nil || !c.v.IsSet(key) {
		return nil
	}
	return c.v.Get(key)
}

// Settings returns every effective setting as a nested map
func (c *Config) Settings() map[string]any {
	if c.v == nil {
		return map[string]any{}
	}
	return c.v.AllSettings()
}

// File returns the config file in use, or "" when running on defaults
func (c *Config) File() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}
