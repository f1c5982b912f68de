package config

import (
	"errors"
	"fmt"
	"os"

	"nobat/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Clinic     ClinicConfig     `yaml:"clinic"`
	Redis      RedisConfig      `yaml:"redis"`
	Booking    BookingConfig    `yaml:"booking"`
	Bot        BotConfig        `yaml:"bot"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`

	Groups []models.ServiceGroup `yaml:"groups"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

// ClinicConfig points at the scheduling server that owns all availability,
// pricing and discount truth. The endpoints mirror the data attributes the
// booking page exposes.
type ClinicConfig struct {
	ServicesURL     string          `yaml:"services_url"`
	SlotsURL        string          `yaml:"slots_url"`
	DiscountURL     string          `yaml:"discount_url"`
	BookingURL      string          `yaml:"booking_url"`
	CSRFToken       string          `yaml:"csrf_token"`
	TimeoutSeconds  int             `yaml:"timeout_seconds"`
	CacheTTLSeconds int             `yaml:"cache_ttl_seconds"`
	RateLimit       ClinicRateLimit `yaml:"rate_limit"`
}

type ClinicRateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RedisConfig struct {
	Address           string `yaml:"address"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	PoolSize          int    `yaml:"pool_size"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
}

// BookingConfig carries the page-supplied knobs of the widget: loyalty
// points cap and earning rate, the reservation-hold duration and the
// popular-slot marketing predicate.
type BookingConfig struct {
	Timezone    string        `yaml:"timezone"`
	PointsCap   int64         `yaml:"points_cap"`
	PointsRate  float64       `yaml:"points_rate"`
	HoldMinutes int           `yaml:"hold_minutes"`
	Popular     PopularConfig `yaml:"popular"`
}

// PopularConfig describes when a slot gets the "popular" tag: its hour is in
// [start_hour, end_hour) or its Jalali weekday (Saturday = 0) is listed. The
// exact band and days changed between site revisions, so they are config,
// not code.
type PopularConfig struct {
	StartHour int   `yaml:"start_hour"`
	EndHour   int   `yaml:"end_hour"`
	Weekdays  []int `yaml:"weekdays"`
}

type BotConfig struct {
	RateLimitMessages int     `yaml:"rate_limit_messages"`
	RateLimitWindow   int     `yaml:"rate_limit_window"`
	Blacklist         []int64 `yaml:"blacklist"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment variables referenced from the YAML must
	// already be set when it is absent.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "nobat"
	}
	if c.Clinic.TimeoutSeconds <= 0 {
		c.Clinic.TimeoutSeconds = 10
	}
	if c.Clinic.RateLimit.RPS <= 0 {
		c.Clinic.RateLimit.RPS = 5
	}
	if c.Clinic.RateLimit.Burst <= 0 {
		c.Clinic.RateLimit.Burst = 10
	}
	if c.Redis.SessionTTLMinutes <= 0 {
		c.Redis.SessionTTLMinutes = 60
	}
	if c.Booking.Timezone == "" {
		c.Booking.Timezone = "Asia/Tehran"
	}
	if c.Booking.HoldMinutes <= 0 {
		c.Booking.HoldMinutes = 5
	}
	if c.Booking.Popular.StartHour == 0 && c.Booking.Popular.EndHour == 0 {
		c.Booking.Popular.StartHour = 10
		c.Booking.Popular.EndHour = 14
	}
	if c.Booking.Popular.Weekdays == nil {
		// Saturday-indexed: 4 = Wednesday, 5 = Thursday.
		c.Booking.Popular.Weekdays = []int{4, 5}
	}
	if c.Bot.RateLimitMessages <= 0 {
		c.Bot.RateLimitMessages = 20
	}
	if c.Bot.RateLimitWindow <= 0 {
		c.Bot.RateLimitWindow = 60
	}
}

func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("telegram bot token is required")
	}

	if c.Clinic.ServicesURL == "" || c.Clinic.SlotsURL == "" {
		return errors.New("clinic services_url and slots_url are required")
	}

	if c.Booking.PointsCap < 0 {
		return errors.New("booking points_cap must not be negative")
	}

	if p := c.Booking.Popular; p.EndHour < p.StartHour {
		return fmt.Errorf("popular hour band %d-%d is inverted", p.StartHour, p.EndHour)
	}

	return ValidateGroups(c.Groups)
}

// ValidateGroups rejects zero and duplicate group ids.
func ValidateGroups(groups []models.ServiceGroup) error {
	seen := make(map[int64]bool)
	for _, g := range groups {
		if g.ID == 0 {
			return fmt.Errorf("group %q has invalid ID 0", g.Name)
		}
		if seen[g.ID] {
			return fmt.Errorf("duplicate group ID %d", g.ID)
		}
		seen[g.ID] = true
	}
	return nil
}
