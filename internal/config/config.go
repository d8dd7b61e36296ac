// Package config provides YAML-based configuration loading for Marketyard.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config is the top-level Marketyard configuration, loaded from marketyard.yaml.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Market    MarketConfig    `yaml:"market"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Log       LogConfig       `yaml:"log"`
	Growers   []GrowerConfig  `yaml:"growers"`
	Products  []ProductConfig `yaml:"products"`
}

// DatabaseConfig selects and addresses the backing store. When DSN is set it
// is used verbatim; otherwise one is built from the remaining fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"MARKETYARD_DB_DRIVER"`
	DSN      string `yaml:"dsn" env:"MARKETYARD_DB_DSN"`
	Host     string `yaml:"host" env:"MARKETYARD_DB_HOST"`
	Port     int    `yaml:"port" env:"MARKETYARD_DB_PORT"`
	Name     string `yaml:"name" env:"MARKETYARD_DB_NAME"`
	User     string `yaml:"user" env:"MARKETYARD_DB_USER"`
	Password string `yaml:"password" env:"MARKETYARD_DB_PASSWORD"`
	LogSQL   bool   `yaml:"log_sql"`
}

// MarketConfig holds the recurring session template.
type MarketConfig struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Location       string   `yaml:"location"`
	Timezone       string   `yaml:"timezone" env:"MARKETYARD_TIMEZONE"`
	RecurringDay   *int     `yaml:"recurring_day"` // 0=Sunday … 6=Saturday
	AutoCreateTime string   `yaml:"auto_create_time"`
	StartTime      string   `yaml:"start_time"`
	EndTime        string   `yaml:"end_time"`
	CommissionRate *float64 `yaml:"commission_rate"` // percent
}

// TriggerConfig controls the recurring trigger run by `mkt serve`.
type TriggerConfig struct {
	Cron             string `yaml:"cron" env:"MARKETYARD_TRIGGER_CRON"`
	ActivateSessions *bool  `yaml:"activate_sessions"`
}

// DashboardConfig holds HTTP server settings.
type DashboardConfig struct {
	Port int `yaml:"port" env:"MARKETYARD_DASHBOARD_PORT"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"MARKETYARD_LOG_LEVEL"`
	Format string `yaml:"format" env:"MARKETYARD_LOG_FORMAT"` // console or json
}

// GrowerConfig seeds a grower profile.
type GrowerConfig struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	CommissionRate *float64 `yaml:"commission_rate"`
}

// ProductConfig seeds a catalog product.
type ProductConfig struct {
	ID       string  `yaml:"id"`
	GrowerID string  `yaml:"grower_id"`
	Name     string  `yaml:"name"`
	Stock    int     `yaml:"stock"`
	Price    float64 `yaml:"price"`
}

// cronParser accepts standard 5-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config is loaded first when present; variables
// already set in the environment win.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config, applying environment
// overrides before defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: load %s: %w", path, err)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Name == "" {
			c.Database.Name = "marketyard.db"
		}
	case DriverMySQL:
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "marketyard"
		}
	case DriverPostgres:
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.User == "" {
			c.Database.User = "postgres"
		}
		if c.Database.Name == "" {
			c.Database.Name = "marketyard"
		}
	}

	m := &c.Market
	if m.Name == "" {
		m.Name = "Market"
	}
	if m.Timezone == "" {
		m.Timezone = "UTC"
	}
	if m.AutoCreateTime == "" {
		m.AutoCreateTime = "06:00"
	}
	if m.StartTime == "" {
		m.StartTime = "08:00"
	}
	if m.EndTime == "" {
		m.EndTime = "13:00"
	}
	if m.CommissionRate == nil {
		rate := 10.0
		m.CommissionRate = &rate
	}

	if c.Trigger.Cron == "" {
		if t, err := time.Parse("15:04", m.AutoCreateTime); err == nil {
			c.Trigger.Cron = fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
		}
	}
	if c.Trigger.ActivateSessions == nil {
		on := true
		c.Trigger.ActivateSessions = &on
	}

	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of sqlite, mysql, postgres", c.Database.Driver))
	}

	m := c.Market
	if m.RecurringDay == nil {
		errs = append(errs, "market.recurring_day is required")
	} else if *m.RecurringDay < 0 || *m.RecurringDay > 6 {
		errs = append(errs, fmt.Sprintf("market.recurring_day %d must be between 0 (Sunday) and 6 (Saturday)", *m.RecurringDay))
	}
	if _, err := time.LoadLocation(m.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("market.timezone %q is unknown", m.Timezone))
	}
	if _, err := time.Parse("15:04", m.AutoCreateTime); err != nil {
		errs = append(errs, fmt.Sprintf("market.auto_create_time %q must be HH:MM", m.AutoCreateTime))
	}
	start, startErr := time.Parse("15:04", m.StartTime)
	if startErr != nil {
		errs = append(errs, fmt.Sprintf("market.start_time %q must be HH:MM", m.StartTime))
	}
	end, endErr := time.Parse("15:04", m.EndTime)
	if endErr != nil {
		errs = append(errs, fmt.Sprintf("market.end_time %q must be HH:MM", m.EndTime))
	}
	if startErr == nil && endErr == nil && !end.After(start) {
		errs = append(errs, "market.end_time must be after market.start_time")
	}
	if r := *m.CommissionRate; r < 0 || r > 100 {
		errs = append(errs, fmt.Sprintf("market.commission_rate %v must be between 0 and 100", r))
	}

	if _, err := cronParser.Parse(c.Trigger.Cron); err != nil {
		errs = append(errs, fmt.Sprintf("trigger.cron %q is invalid: %v", c.Trigger.Cron, err))
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not one of console, json", c.Log.Format))
	}

	growers := make(map[string]bool, len(c.Growers))
	for i, g := range c.Growers {
		if g.ID == "" {
			errs = append(errs, fmt.Sprintf("growers[%d].id is required", i))
		}
		growers[g.ID] = true
		if g.CommissionRate != nil && (*g.CommissionRate < 0 || *g.CommissionRate > 100) {
			errs = append(errs, fmt.Sprintf("growers[%d].commission_rate must be between 0 and 100", i))
		}
	}
	for i, p := range c.Products {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("products[%d].id is required", i))
		}
		if p.GrowerID == "" {
			errs = append(errs, fmt.Sprintf("products[%d].grower_id is required", i))
		} else if !growers[p.GrowerID] {
			errs = append(errs, fmt.Sprintf("products[%d].grower_id %q is not a configured grower", i, p.GrowerID))
		}
		if p.Stock < 0 {
			errs = append(errs, fmt.Sprintf("products[%d].stock must not be negative", i))
		}
		if p.Price < 0 {
			errs = append(errs, fmt.Sprintf("products[%d].price must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
