package config

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration loaded from the environment
// and an optional YAML file.
type Config struct {
	DataDir string

	TelegramToken  string
	TelegramChatID string
	TelegramAPIURL string
	SendDelay      time.Duration
	MessageBudget  int

	DigestPeriod   time.Duration
	DigestHour     int
	DigestTZOffset int

	SourceURL      string
	Neighborhoods  []string
	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	ChromeBin      string
	Headless       bool

	ArchiveEnabled   bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MetricsFile string
	SnapshotCSV bool
	Schedule    string

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"data_dir":               "./data",
	"telegram_api_url":       "https://api.telegram.org",
	"send_delay_ms":          1000,
	"message_budget":         2000,
	"digest_period_hours":    24,
	"digest_hour":            9,
	"digest_tz_offset_hours": 3,
	"source_url":             "https://www.yad2.co.il/realestate/rent?city=5000&rooms=3-4&price=0-13000&property=1&parking=1&shelter=1",
	"neighborhoods":          "הצפון החדש - צפון,הצפון החדש - כיכר המדינה,הצפון הישן - צפון",
	"max_concurrency":        1,
	"rate_limit_ms":          3000,
	"max_retries":            3,
	"headless":               true,
	"archive_enabled":        false,
	"postgres_host":          "localhost",
	"postgres_port":          "5432",
	"postgres_user":          "watcher",
	"postgres_password":      "watcher",
	"postgres_db":            "listings",
	"postgres_sslmode":       "disable",
	"snapshot_csv":           true,
	"schedule":               "@every 30m",
	"log_level":              "info",
	"log_format":             "json",
}

// Load reads the .env file, then an optional YAML config file at path
// (empty path looks for ./config.yaml), then environment variables, and
// returns a populated Config. Environment always wins.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	cfg := &Config{
		DataDir: v.GetString("data_dir"),

		TelegramToken:  v.GetString("telegram_bot_token"),
		TelegramChatID: v.GetString("telegram_chat_id"),
		TelegramAPIURL: v.GetString("telegram_api_url"),
		SendDelay:      time.Duration(v.GetInt("send_delay_ms")) * time.Millisecond,
		MessageBudget:  v.GetInt("message_budget"),

		DigestPeriod:   time.Duration(v.GetInt("digest_period_hours")) * time.Hour,
		DigestHour:     v.GetInt("digest_hour"),
		DigestTZOffset: v.GetInt("digest_tz_offset_hours"),

		SourceURL:      v.GetString("source_url"),
		Neighborhoods:  splitList(v.GetString("neighborhoods")),
		MaxConcurrency: v.GetInt("max_concurrency"),
		RateLimitMs:    v.GetInt("rate_limit_ms"),
		MaxRetries:     v.GetInt("max_retries"),
		ChromeBin:      v.GetString("chrome_bin"),
		Headless:       v.GetBool("headless"),

		ArchiveEnabled:   v.GetBool("archive_enabled"),
		PostgresHost:     v.GetString("postgres_host"),
		PostgresPort:     v.GetString("postgres_port"),
		PostgresUser:     v.GetString("postgres_user"),
		PostgresPassword: v.GetString("postgres_password"),
		PostgresDB:       v.GetString("postgres_db"),
		PostgresSSLMode:  v.GetString("postgres_sslmode"),

		MetricsFile: v.GetString("metrics_file"),
		SnapshotCSV: v.GetBool("snapshot_csv"),
		Schedule:    v.GetString("schedule"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.MessageBudget <= 0 {
		return fmt.Errorf("config: MESSAGE_BUDGET must be positive, got %d", c.MessageBudget)
	}
	if c.DigestHour < 0 || c.DigestHour > 23 {
		return fmt.Errorf("config: DIGEST_HOUR must be within 0-23, got %d", c.DigestHour)
	}
	if c.DigestTZOffset < -12 || c.DigestTZOffset > 14 {
		return fmt.Errorf("config: DIGEST_TZ_OFFSET_HOURS out of range: %d", c.DigestTZOffset)
	}
	if c.DigestPeriod <= 0 {
		return fmt.Errorf("config: DIGEST_PERIOD_HOURS must be positive")
	}
	return nil
}

// RequireTelegram reports an error when the messaging credentials are missing.
func (c *Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("config: TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChatID == "" {
		return errors.New("config: TELEGRAM_CHAT_ID is required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// Path returns name resolved inside the data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}

// Location is the fixed-offset zone used for the digest day boundary.
func (c *Config) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", c.DigestTZOffset), c.DigestTZOffset*3600)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
