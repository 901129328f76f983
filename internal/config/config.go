package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvConfigPath = "CONFIG_PATH"

	minPollInterval = 100 * time.Millisecond
	maxPollInterval = time.Second
)

type (
	// Config keeps runtime settings for the alarm daemon.
	Config struct {
		App       `yaml:"app"`
		Log       `yaml:"logger"`
		Database  `yaml:"database"`
		Telegram  `yaml:"telegram"`
		Scheduler `yaml:"scheduler"`
		Alarm     `yaml:"alarm"`
		Timer     `yaml:"timer"`
	}

	App struct {
		Env  string `yaml:"env"  env:"APP_ENV"  env-default:"local"`
		Name string `yaml:"name" env-default:"alarm-clock"`
	}

	Log struct {
		Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	}

	Database struct {
		URL string `yaml:"url" env:"DATABASE_URL" env-default:"alarm_clock.db"`
	}

	Telegram struct {
		Token  string `yaml:"token"   env:"TELEGRAM_TOKEN"`
		ChatID int64  `yaml:"chat_id" env:"TELEGRAM_CHAT_ID" env-default:"0"`
	}

	Scheduler struct {
		Timezone     string `yaml:"timezone"      env:"TZ_NAME"              env-default:"Local"`
		ExactAllowed bool   `yaml:"exact_allowed" env:"EXACT_ALARMS_ALLOWED" env-default:"true"`
		RestoreAt    string `yaml:"restore_at"    env:"RESTORE_AT"           env-default:"03:00"`
	}

	Alarm struct {
		SnoozeMinutes   int           `yaml:"snooze_minutes"    env:"SNOOZE_MINUTES"    env-default:"10"`
		MaxSnoozeCount  int           `yaml:"max_snooze_count"  env:"MAX_SNOOZE_COUNT"  env-default:"3"`
		WakeLockTimeout time.Duration `yaml:"wake_lock_timeout" env:"WAKE_LOCK_TIMEOUT" env-default:"10m"`
	}

	Timer struct {
		PollInterval    time.Duration `yaml:"poll_interval"    env:"TIMER_POLL_INTERVAL"    env-default:"500ms"`
		Retention       time.Duration `yaml:"retention"        env:"TIMER_RETENTION"        env-default:"24h"`
		CleanupInterval time.Duration `yaml:"cleanup_interval" env:"TIMER_CLEANUP_INTERVAL" env-default:"1h"`
	}
)

// Load reads the YAML file at path (when non-empty, falling back to CONFIG_PATH) and
// overlays environment variables. Without a file only env and defaults are used.
func Load(path string) (Config, error) {
	var cfg Config

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}

	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Usage describes every supported environment variable.
func Usage() string {
	header := "alarm-clock environment:"
	text, err := cleanenv.GetDescription(&Config{}, &header)
	if err != nil {
		return header
	}
	return text
}

func (c *Config) normalize() error {
	if c.Database.URL == "" {
		c.Database.URL = "alarm_clock.db"
	}
	if c.Alarm.SnoozeMinutes <= 0 {
		return fmt.Errorf("snooze_minutes must be positive")
	}
	if c.Alarm.MaxSnoozeCount < 0 {
		return fmt.Errorf("max_snooze_count must not be negative")
	}
	if c.Alarm.WakeLockTimeout <= 0 {
		c.Alarm.WakeLockTimeout = 10 * time.Minute
	}
	switch {
	case c.Timer.PollInterval < minPollInterval:
		c.Timer.PollInterval = minPollInterval
	case c.Timer.PollInterval > maxPollInterval:
		c.Timer.PollInterval = maxPollInterval
	}
	if c.Timer.CleanupInterval <= 0 {
		c.Timer.CleanupInterval = time.Hour
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Scheduler.Timezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// SnoozeDelay is the snooze window.
func (c *Config) SnoozeDelay() time.Duration {
	return time.Duration(c.Alarm.SnoozeMinutes) * time.Minute
}

// RequireTelegram validates settings needed by the bot front-end.
func (c *Config) RequireTelegram() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	return nil
}
