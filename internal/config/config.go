package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string `mapstructure:"PORT"`
	Env             string `mapstructure:"ENV"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir   string `mapstructure:"MIGRATIONS_DIR"`
	RedisURL        string `mapstructure:"REDIS_URL"`
	AMQPURL         string `mapstructure:"AMQP_URL"`
	ADTQueue        string `mapstructure:"ADT_QUEUE"`
	DefaultFacility string `mapstructure:"DEFAULT_FACILITY"`
	FacilityList    string `mapstructure:"FACILITIES"`

	// Assignment engine tuning.
	AssignClaimRetries int `mapstructure:"ASSIGN_CLAIM_RETRIES"`

	// Census snapshot schedule: hour of day (0-23) for the daily roll-up.
	SnapshotHour int `mapstructure:"SNAPSHOT_HOUR"`

	// Forecaster tuning.
	ForecastHorizonDays    int     `mapstructure:"FORECAST_HORIZON_DAYS"`
	ForecastBandBase       float64 `mapstructure:"FORECAST_BAND_BASE"`
	ForecastBandSlope      float64 `mapstructure:"FORECAST_BAND_SLOPE"`
	ForecastMaxInputAge    int     `mapstructure:"FORECAST_MAX_INPUT_AGE_HOURS"`
	ForecastDOWAdjustments string  `mapstructure:"FORECAST_DOW_ADJUSTMENTS"`

	CacheTTLSeconds int `mapstructure:"CACHE_TTL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("ADT_QUEUE", "adt.outbound")
	v.SetDefault("DEFAULT_FACILITY", "default")
	v.SetDefault("ASSIGN_CLAIM_RETRIES", 3)
	v.SetDefault("SNAPSHOT_HOUR", 0)
	v.SetDefault("FORECAST_HORIZON_DAYS", 7)
	v.SetDefault("FORECAST_BAND_BASE", 1.0)
	v.SetDefault("FORECAST_BAND_SLOPE", 0.5)
	v.SetDefault("FORECAST_MAX_INPUT_AGE_HOURS", 36)
	v.SetDefault("FORECAST_DOW_ADJUSTMENTS", "0,0,0,0,0,0,0")
	v.SetDefault("CACHE_TTL_SECONDS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("MIGRATIONS_DIR")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AMQP_URL")
	v.BindEnv("ADT_QUEUE")
	v.BindEnv("DEFAULT_FACILITY")
	v.BindEnv("FACILITIES")
	v.BindEnv("ASSIGN_CLAIM_RETRIES")
	v.BindEnv("SNAPSHOT_HOUR")
	v.BindEnv("FORECAST_HORIZON_DAYS")
	v.BindEnv("FORECAST_BAND_BASE")
	v.BindEnv("FORECAST_BAND_SLOPE")
	v.BindEnv("FORECAST_MAX_INPUT_AGE_HOURS")
	v.BindEnv("FORECAST_DOW_ADJUSTMENTS")
	v.BindEnv("CACHE_TTL_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.AssignClaimRetries < 1 {
		return fmt.Errorf("ASSIGN_CLAIM_RETRIES must be at least 1, got %d", c.AssignClaimRetries)
	}
	if c.SnapshotHour < 0 || c.SnapshotHour > 23 {
		return fmt.Errorf("SNAPSHOT_HOUR must be 0-23, got %d", c.SnapshotHour)
	}
	if c.ForecastHorizonDays < 1 {
		return fmt.Errorf("FORECAST_HORIZON_DAYS must be at least 1, got %d", c.ForecastHorizonDays)
	}
	if c.ForecastBandSlope < 0 {
		return fmt.Errorf("FORECAST_BAND_SLOPE must be non-negative, got %f", c.ForecastBandSlope)
	}
	if _, err := c.DOWAdjustments(); err != nil {
		return err
	}
	return nil
}

// Facilities returns the facilities the scheduler cycles over. Unset, it is
// just the default facility.
func (c *Config) Facilities() []string {
	if strings.TrimSpace(c.FacilityList) == "" {
		return []string{c.DefaultFacility}
	}
	var out []string
	for _, f := range strings.Split(c.FacilityList, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// DOWAdjustments parses the seasonal day-of-week adjustments. The value is
// seven comma-separated floats, Sunday first, matching time.Weekday ordering.
func (c *Config) DOWAdjustments() ([7]float64, error) {
	var out [7]float64
	parts := strings.Split(c.ForecastDOWAdjustments, ",")
	if len(parts) != 7 {
		return out, fmt.Errorf("FORECAST_DOW_ADJUSTMENTS must have 7 values, got %d", len(parts))
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return out, fmt.Errorf("FORECAST_DOW_ADJUSTMENTS[%d]: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}
